package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/core"
)

func clearEnv(t *testing.T) {
	for _, k := range []string{config.EnvWeatherAPIKey, config.EnvNewsAPIKey, config.EnvAnthropicKey, config.EnvLLMProvider, config.EnvEmbeddingKey} {
		t.Setenv(k, "")
	}
}

func TestLoad_MissingFileUsesDefaults(t *testing.T) {
	clearEnv(t)
	cfg, err := config.Load(filepath.Join(t.TempDir(), "nope.yaml"))
	gt.NoError(t, err).Required()
	gt.Value(t, *cfg).Equal(*config.Default())
	gt.NoError(t, cfg.Validate())
}

func TestLoad_ListLayout(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(path, []byte(`config:
  - llm_model: qwen2.5-7b
  - temperature: 0.2
  - max_vectors: 50
  - auto_save: false
  - news_feeds:
      - https://example.com/feed.xml
secrets:
  - weather_api_key: w-key
  - news_api_key: your_api_key
  - embedding_api_key: e-key
`), 0o600)).Required()

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Model).Equal("qwen2.5-7b")
	gt.Value(t, cfg.Temperature).Equal(0.2)
	gt.Value(t, cfg.MaxVectors).Equal(50)
	gt.Bool(t, cfg.AutoSave).False()
	gt.Value(t, cfg.NewsFeeds).Equal([]string{"https://example.com/feed.xml"})
	gt.Value(t, cfg.Secrets.WeatherAPIKey).Equal("w-key")
	gt.Value(t, cfg.Secrets.NewsAPIKey).Equal("")
	gt.Value(t, cfg.Secrets.EmbeddingAPIKey).Equal("e-key")

	// untouched keys keep their defaults
	gt.Value(t, cfg.BatchSize).Equal(100)
	gt.Value(t, cfg.CompletionsURL).Equal("http://localhost:1234/v1/chat/completions")
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(path, []byte("secrets:\n  - weather_api_key: from-file\n"), 0o600)).Required()

	t.Setenv(config.EnvWeatherAPIKey, "from-env")
	t.Setenv(config.EnvAnthropicKey, "sk-ant")
	t.Setenv(config.EnvLLMProvider, "Hosted")
	t.Setenv(config.EnvEmbeddingKey, "emb-key")

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Secrets.EmbeddingAPIKey).Equal("emb-key")
	gt.Value(t, cfg.Secrets.WeatherAPIKey).Equal("from-env")
	gt.Value(t, cfg.Secrets.AnthropicAPIKey).Equal("sk-ant")
	gt.Value(t, cfg.LLMProvider).Equal(config.ProviderHosted)
}

func TestLoad_EnvFile(t *testing.T) {
	clearEnv(t)
	os.Unsetenv(config.EnvNewsAPIKey)
	t.Cleanup(func() { os.Unsetenv(config.EnvNewsAPIKey) })

	envPath := filepath.Join(t.TempDir(), ".env")
	gt.NoError(t, os.WriteFile(envPath, []byte(config.EnvNewsAPIKey+"=dotenv-key\n"), 0o600)).Required()
	gt.NoError(t, config.LoadEnvFile(envPath)).Required()

	cfg, err := config.Load(filepath.Join(t.TempDir(), "missing.yaml"))
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Secrets.NewsAPIKey).Equal("dotenv-key")

	gt.NoError(t, config.LoadEnvFile(filepath.Join(t.TempDir(), "absent.env")))
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(path, []byte("config:\n  - max_vectors: lots\n"), 0o600)).Required()

	_, err := config.Load(path)
	gt.Error(t, err).Is(core.ErrConfiguration)
}

func TestValidate(t *testing.T) {
	for _, tc := range []struct {
		name   string
		mutate func(*config.Config)
	}{
		{"capacity", func(c *config.Config) { c.MaxVectors = 0 }},
		{"batch size", func(c *config.Config) { c.BatchSize = 0 }},
		{"depth", func(c *config.Config) { c.MaxNeedDepth = 0 }},
		{"provider", func(c *config.Config) { c.LLMProvider = "cloud" }},
		{"embedder", func(c *config.Config) { c.Embedder = "bert" }},
		{"completions url", func(c *config.Config) { c.CompletionsURL = "localhost:1234" }},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cfg := config.Default()
			tc.mutate(cfg)
			gt.Error(t, cfg.Validate()).Is(core.ErrConfiguration)
		})
	}
}

func TestWriteTemplate_RoundTrip(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "conf", "config.yaml")

	base := config.Default()
	base.Model = "custom-model"
	gt.NoError(t, base.WriteTemplate(path)).Required()

	data, err := os.ReadFile(path)
	gt.NoError(t, err).Required()
	gt.String(t, string(data)).Contains("- llm_model: custom-model")
	gt.String(t, string(data)).Contains("- weather_api_key: your_api_key")

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Model).Equal("custom-model")
	gt.Value(t, cfg.NewsFeeds).Equal(base.NewsFeeds)
	gt.Value(t, cfg.Secrets.WeatherAPIKey).Equal("")
}
