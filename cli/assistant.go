package cli

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/engine"
	"github.com/becomeliminal/nim-assistant/llm"
	"github.com/becomeliminal/nim-assistant/memory"
	"github.com/becomeliminal/nim-assistant/memory/embedder"
	"github.com/becomeliminal/nim-assistant/memory/embedder/mock"
	"github.com/becomeliminal/nim-assistant/memory/embedder/remote"
	"github.com/becomeliminal/nim-assistant/memory/store/sqlite"
	"github.com/becomeliminal/nim-assistant/providers"
	"github.com/becomeliminal/nim-assistant/sandbox"
)

const (
	embeddingCacheSize = 10000
	embeddingQueue     = 16
	cleanerCacheSize   = 1024
)

// assistant owns every component of a running assistant. Components are
// released in reverse order of construction.
type assistant struct {
	engine *engine.Engine
	store  *memory.Store
	logger *slog.Logger

	closers []func()
}

func (a *assistant) onClose(fn func()) {
	a.closers = append(a.closers, fn)
}

// Close releases everything. The memory store is persisted first.
func (a *assistant) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

// newEmbedder builds the embedder selected by cfg. The returned func releases
// it.
func newEmbedder(cfg *config.Config, logger *slog.Logger) (memory.Embedder, func(), error) {
	switch cfg.Embedder {
	case config.EmbedderMock:
		return mock.New(), func() {}, nil
	case config.EmbedderOpenAI, config.EmbedderOllama:
		e, err := remote.New(remote.Config{
			Kind:    remote.Kind(cfg.Embedder),
			BaseURL: cfg.EmbeddingURL,
			APIKey:  cfg.Secrets.EmbeddingAPIKey,
			Model:   cfg.EmbeddingModel,
		})
		if err != nil {
			return nil, nil, err
		}
		return e, func() {}, nil
	case config.EmbedderONNX:
		return newONNXEmbedder(cfg, logger)
	}
	return nil, nil, goerr.Wrap(core.ErrConfiguration, "unknown embedder", goerr.V(core.KindKey, cfg.Embedder))
}

// profile maps the configuration to an LLM profile.
func profile(cfg *config.Config) llm.Profile {
	if cfg.LLMProvider == config.ProviderHosted {
		return llm.HostedProfile{
			APIKey:      cfg.Secrets.AnthropicAPIKey,
			BaseURL:     cfg.HostedBaseURL,
			Model:       cfg.HostedModel,
			Temperature: cfg.Temperature,
			MaxTokens:   cfg.HostedMaxTokens,
		}
	}
	return llm.LocalProfile{
		Endpoint:    cfg.CompletionsURL,
		Model:       cfg.Model,
		Temperature: cfg.Temperature,
		MaxTokens:   cfg.MaxTokens,
		ToolCalling: cfg.ToolCalling,
	}
}

// openMemory opens the persistent memory store.
func openMemory(ctx context.Context, a *assistant, cfg *config.Config) error {
	base, closeBase, err := newEmbedder(cfg, a.logger)
	if err != nil {
		return err
	}
	a.onClose(closeBase)

	cached, err := embedder.NewCached(base, embeddingCacheSize)
	if err != nil {
		return err
	}
	a.onClose(cached.Close)

	worker := embedder.NewWorker(cached, embeddingQueue)
	a.onClose(worker.Close)

	persister, err := sqlite.New(ctx, cfg.MemoryDB)
	if err != nil {
		return err
	}

	store := memory.NewStore(worker, persister, memory.Config{
		Capacity:    cfg.MaxVectors,
		AutoPersist: cfg.AutoSave,
		BatchSize:   cfg.BatchSize,
		SearchLimit: engine.DefaultMemoryResults,
	}, memory.WithLogger(a.logger))

	a.onClose(func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()
		if err := store.Close(closeCtx); err != nil {
			a.logger.Error("failed to close memory", "error", err)
		}
	})
	if err := store.Open(ctx); err != nil {
		return err
	}
	a.store = store
	return nil
}

// newAssistant wires the assistant described by cfg. prompter may be nil,
// which disables "input" needs.
func newAssistant(ctx context.Context, cfg *config.Config, logger *slog.Logger, prompter engine.Prompter) (_ *assistant, err error) {
	a := &assistant{logger: logger}
	defer func() {
		if err != nil {
			a.Close()
		}
	}()

	if err := openMemory(ctx, a, cfg); err != nil {
		return nil, err
	}

	sb, err := sandbox.New()
	if err != nil {
		return nil, err
	}
	a.onClose(sb.Close)

	client, err := llm.New(profile(cfg),
		llm.WithLogger(logger),
		llm.WithRetry(cfg.RetryAttempts, cfg.RetryDelayDuration()),
		llm.WithTimeout(cfg.TimeoutDuration()),
	)
	if err != nil {
		return nil, err
	}
	a.onClose(func() {
		if err := client.Close(); err != nil {
			logger.Warn("failed to close llm client", "error", err)
		}
	})

	cleaner, err := providers.NewCleaner(cleanerCacheSize)
	if err != nil {
		return nil, err
	}
	a.onClose(cleaner.Close)

	hc := &http.Client{Timeout: providers.DefaultTimeout}
	feeds := &providers.Feeds{URLs: cfg.NewsFeeds, Client: hc, Cleaner: cleaner, Logger: logger}

	opts := []engine.Option{
		engine.WithLogger(logger),
		engine.WithFetcher(engine.NeedWeather, &providers.Weather{
			APIKey: cfg.Secrets.WeatherAPIKey, Client: hc, Logger: logger,
		}),
		engine.WithFetcher(engine.NeedWiki, &providers.Wiki{
			Cleaner: cleaner, Client: hc, Logger: logger,
		}),
		engine.WithFetcher(engine.NeedNews, &providers.News{
			APIKey: cfg.Secrets.NewsAPIKey, Feeds: feeds, Client: hc, Logger: logger,
		}),
		engine.WithMaxDepth(cfg.MaxNeedDepth),
		engine.WithCommandTimeout(cfg.CommandTimeoutDuration()),
		engine.WithNetworkIdentity(providers.PublicIP(ctx, hc, "", logger)),
		engine.WithPython(cfg.AllowPython),
		engine.WithTurnRecording(cfg.RecordTurns),
	}
	if prompter != nil {
		opts = append(opts, engine.WithPrompter(prompter))
	}

	a.engine = engine.New(client, a.store, sb, opts...)
	a.onClose(a.engine.Close)

	logger.Info("assistant ready",
		"provider", cfg.LLMProvider,
		"embedder", cfg.Embedder,
		"memories", a.store.Len(),
		"tools", len(a.engine.Tools()),
	)
	return a, nil
}
