// Package remote embeds text through an HTTP embedding service using the
// embedding functions shipped with chromem-go.
package remote

import (
	"context"
	"sync/atomic"

	"github.com/m-mizutani/goerr/v2"
	chromem "github.com/philippgille/chromem-go"

	"github.com/becomeliminal/nim-assistant/core"
)

// Kind selects the wire protocol of the embedding service.
type Kind string

const (
	// OpenAI speaks POST {BaseURL}/embeddings (OpenAI, LM Studio, LocalAI).
	OpenAI Kind = "openai"

	// Ollama speaks POST {BaseURL}/embeddings with Ollama's request shape.
	Ollama Kind = "ollama"
)

// Config configures a remote embedder.
type Config struct {
	Kind    Kind
	BaseURL string
	APIKey  string
	Model   string
}

// Embedder calls a remote embedding service.
type Embedder struct {
	embed      chromem.EmbeddingFunc
	dimensions atomic.Int64
}

// New creates a remote embedder.
func New(cfg Config) (*Embedder, error) {
	if cfg.Model == "" {
		return nil, goerr.Wrap(core.ErrConfiguration, "embedding model is required")
	}

	var fn chromem.EmbeddingFunc
	switch cfg.Kind {
	case OpenAI:
		if cfg.BaseURL == "" {
			return nil, goerr.Wrap(core.ErrConfiguration, "embedding base URL is required",
				goerr.V(core.KindKey, string(cfg.Kind)))
		}
		fn = chromem.NewEmbeddingFuncOpenAICompat(cfg.BaseURL, cfg.APIKey, cfg.Model, nil)
	case Ollama:
		fn = chromem.NewEmbeddingFuncOllama(cfg.Model, cfg.BaseURL)
	default:
		return nil, goerr.Wrap(core.ErrConfiguration, "unknown embedding service",
			goerr.V(core.KindKey, string(cfg.Kind)))
	}

	return &Embedder{embed: fn}, nil
}

// Embed converts text to an embedding vector.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	vec, err := e.embed(ctx, text)
	if err != nil {
		return nil, goerr.Wrap(core.ErrTransientProvider, "embedding request failed",
			goerr.V("cause", err.Error()))
	}
	e.dimensions.CompareAndSwap(0, int64(len(vec)))
	return vec, nil
}

// Dimensions returns the vector size observed on the first successful call,
// or 0 before that.
func (e *Embedder) Dimensions() int {
	return int(e.dimensions.Load())
}
