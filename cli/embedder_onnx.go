//go:build onnx

package cli

import (
	"log/slog"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/memory"
	"github.com/becomeliminal/nim-assistant/memory/embedder/onnx"
)

func newONNXEmbedder(cfg *config.Config, logger *slog.Logger) (memory.Embedder, func(), error) {
	e, err := onnx.New(onnx.Config{
		ModelPath:     cfg.ONNXModelPath,
		TokenizerPath: cfg.ONNXTokenizerPath,
		LibraryPath:   cfg.ONNXLibraryPath,
		Logger:        logger,
	})
	if err != nil {
		return nil, nil, err
	}
	return e, func() {
		if err := e.Close(); err != nil {
			logger.Warn("failed to close onnx embedder", "error", err)
		}
	}, nil
}
