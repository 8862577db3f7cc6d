//go:build !onnx

package cli

import (
	"log/slog"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/memory"
)

func newONNXEmbedder(*config.Config, *slog.Logger) (memory.Embedder, func(), error) {
	return nil, nil, goerr.Wrap(core.ErrConfiguration, "onnx embedder requires a build with -tags onnx")
}
