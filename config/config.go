// Package config loads assistant settings from config.yaml, .env and the
// environment.
package config

import (
	"bytes"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/m-mizutani/goerr/v2"
	"gopkg.in/yaml.v3"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/providers"
)

// Provider and embedder names.
const (
	ProviderLocal  = "local"
	ProviderHosted = "hosted"

	EmbedderMock   = "mock"
	EmbedderOpenAI = "openai"
	EmbedderOllama = "ollama"
	EmbedderONNX   = "onnx"
)

// Environment overrides.
const (
	EnvWeatherAPIKey = "NIM_WEATHER_API_KEY"
	EnvNewsAPIKey    = "NIM_NEWS_API_KEY"
	EnvAnthropicKey  = "ANTHROPIC_API_KEY"
	EnvLLMProvider   = "NIM_LLM_PROVIDER"
	EnvEmbeddingKey  = "NIM_EMBEDDING_API_KEY"
)

// placeholderSecret is written by the template and treated as unset.
const placeholderSecret = "your_api_key"

// Config holds the "config" section of config.yaml. Durations are whole
// seconds.
type Config struct {
	LLMProvider    string  `yaml:"llm_provider"`
	CompletionsURL string  `yaml:"lm_studio_completions_url"`
	Model          string  `yaml:"llm_model"`
	Temperature    float64 `yaml:"temperature"`
	MaxTokens      int     `yaml:"max_tokens"`
	Timeout        int     `yaml:"timeout"`
	RetryAttempts  int     `yaml:"retry_attempts"`
	RetryDelay     int     `yaml:"retry_delay"`
	ToolCalling    bool    `yaml:"tool_calling"`

	HostedModel     string `yaml:"hosted_model"`
	HostedBaseURL   string `yaml:"hosted_base_url"`
	HostedMaxTokens int64  `yaml:"hosted_max_tokens"`

	BatchSize  int    `yaml:"batch_size"`
	MaxVectors int    `yaml:"max_vectors"`
	AutoSave   bool   `yaml:"auto_save"`
	MemoryDB   string `yaml:"memory_db"`

	Embedder          string `yaml:"embedder"`
	EmbeddingURL      string `yaml:"embedding_url"`
	EmbeddingModel    string `yaml:"embedding_model"`
	ONNXModelPath     string `yaml:"onnx_model_path"`
	ONNXTokenizerPath string `yaml:"onnx_tokenizer_path"`
	ONNXLibraryPath   string `yaml:"onnx_library_path"`

	CommandTimeout int      `yaml:"command_timeout"`
	AllowPython    bool     `yaml:"allow_python"`
	MaxNeedDepth   int      `yaml:"max_need_depth"`
	RecordTurns    bool     `yaml:"record_turns"`
	NewsFeeds      []string `yaml:"news_feeds"`

	Secrets Secrets `yaml:"-"`
}

// Secrets holds the "secrets" section of config.yaml.
type Secrets struct {
	WeatherAPIKey   string `yaml:"weather_api_key"`
	NewsAPIKey      string `yaml:"news_api_key"`
	AnthropicAPIKey string `yaml:"anthropic_api_key"`

	// EmbeddingAPIKey is sent to OpenAI-compatible embedding services.
	EmbeddingAPIKey string `yaml:"embedding_api_key"`

	// AuthToken, when set, is required as a bearer token by the chat server.
	AuthToken string `yaml:"auth_token"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		LLMProvider:     ProviderLocal,
		CompletionsURL:  "http://localhost:1234/v1/chat/completions",
		Model:           "llama-3.2-3b-instruct",
		Temperature:     0.7,
		MaxTokens:       -1,
		Timeout:         30,
		RetryAttempts:   3,
		RetryDelay:      1,
		HostedModel:     "claude-sonnet-4-20250514",
		HostedMaxTokens: 1024,
		BatchSize:       100,
		MaxVectors:      1000,
		AutoSave:        true,
		MemoryDB:        "memory.db",
		Embedder:        EmbedderMock,
		CommandTimeout:  5,
		MaxNeedDepth:    3,
		RecordTurns:     true,
		NewsFeeds:       append([]string(nil), providers.DefaultFeeds...),
	}
}

// file is the on-disk layout: lists of single-key maps.
type file struct {
	Config  []map[string]any `yaml:"config"`
	Secrets []map[string]any `yaml:"secrets"`
}

// Load reads path over the defaults and then applies environment overrides.
// A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
	case err != nil:
		return nil, goerr.Wrap(core.ErrConfiguration, "failed to read config",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	default:
		if err := cfg.decode(data); err != nil {
			return nil, goerr.Wrap(err, "failed to parse config", goerr.V("path", path))
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	var f file
	if err := yaml.Unmarshal(data, &f); err != nil {
		return goerr.Wrap(core.ErrConfiguration, "invalid yaml", goerr.V("cause", err.Error()))
	}
	if err := overlay(f.Config, c); err != nil {
		return err
	}
	return overlay(f.Secrets, &c.Secrets)
}

// overlay flattens items into one mapping and decodes it into dst, leaving
// fields that are not mentioned untouched.
func overlay(items []map[string]any, dst any) error {
	if len(items) == 0 {
		return nil
	}
	merged := map[string]any{}
	for _, item := range items {
		for k, v := range item {
			merged[k] = v
		}
	}

	raw, err := yaml.Marshal(merged)
	if err != nil {
		return goerr.Wrap(core.ErrConfiguration, "failed to flatten config", goerr.V("cause", err.Error()))
	}
	if err := yaml.Unmarshal(raw, dst); err != nil {
		return goerr.Wrap(core.ErrConfiguration, "invalid config value", goerr.V("cause", err.Error()))
	}
	return nil
}

// LoadEnvFile loads KEY=VALUE pairs into the process environment without
// overriding variables that are already set. A missing file is ignored.
func LoadEnvFile(path string) error {
	if path == "" {
		return nil
	}
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return goerr.Wrap(core.ErrConfiguration, "failed to load env file",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	return nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvWeatherAPIKey); v != "" {
		c.Secrets.WeatherAPIKey = v
	}
	if v := os.Getenv(EnvNewsAPIKey); v != "" {
		c.Secrets.NewsAPIKey = v
	}
	if v := os.Getenv(EnvAnthropicKey); v != "" {
		c.Secrets.AnthropicAPIKey = v
	}
	if v := os.Getenv(EnvEmbeddingKey); v != "" {
		c.Secrets.EmbeddingAPIKey = v
	}
	if v := os.Getenv(EnvLLMProvider); v != "" {
		c.LLMProvider = strings.ToLower(strings.TrimSpace(v))
	}

	for _, s := range []*string{&c.Secrets.WeatherAPIKey, &c.Secrets.NewsAPIKey, &c.Secrets.AnthropicAPIKey, &c.Secrets.EmbeddingAPIKey, &c.Secrets.AuthToken} {
		if *s == placeholderSecret {
			*s = ""
		}
	}
}

// Validate rejects settings the assistant cannot run with.
func (c *Config) Validate() error {
	switch {
	case c.MaxVectors < 1:
		return invalid("max_vectors", c.MaxVectors, "must be at least 1")
	case c.BatchSize < 1:
		return invalid("batch_size", c.BatchSize, "must be at least 1")
	case c.MaxNeedDepth < 1:
		return invalid("max_need_depth", c.MaxNeedDepth, "must be at least 1")
	case c.Timeout < 1:
		return invalid("timeout", c.Timeout, "must be at least 1")
	case c.CommandTimeout < 1:
		return invalid("command_timeout", c.CommandTimeout, "must be at least 1")
	case c.RetryAttempts < 1:
		return invalid("retry_attempts", c.RetryAttempts, "must be at least 1")
	}

	switch c.LLMProvider {
	case ProviderLocal:
		if !strings.HasPrefix(c.CompletionsURL, "http://") && !strings.HasPrefix(c.CompletionsURL, "https://") {
			return invalid("lm_studio_completions_url", c.CompletionsURL, "must be an http(s) URL")
		}
	case ProviderHosted:
	default:
		return invalid("llm_provider", c.LLMProvider, "must be local or hosted")
	}

	switch c.Embedder {
	case EmbedderMock, EmbedderOpenAI, EmbedderOllama, EmbedderONNX:
	default:
		return invalid("embedder", c.Embedder, "must be mock, openai, ollama or onnx")
	}
	return nil
}

func invalid(key string, value any, reason string) error {
	return goerr.Wrap(core.ErrConfiguration, "invalid "+key+": "+reason,
		goerr.V("key", key), goerr.V("value", value))
}

// Warn logs settings that degrade features without preventing startup.
func (c *Config) Warn(logger *slog.Logger) {
	if c.Secrets.WeatherAPIKey == "" {
		logger.Warn("missing api key, weather lookups are disabled", "key", "weather_api_key")
	}
	if c.Secrets.NewsAPIKey == "" {
		logger.Warn("missing api key, news falls back to rss feeds", "key", "news_api_key")
	}
	if c.LLMProvider == ProviderHosted && c.Secrets.AnthropicAPIKey == "" {
		logger.Warn("hosted provider selected without an api key", "env", EnvAnthropicKey)
	}
}

// TimeoutDuration is the per-attempt completion timeout.
func (c *Config) TimeoutDuration() time.Duration {
	return time.Duration(c.Timeout) * time.Second
}

// RetryDelayDuration is the pause between completion attempts.
func (c *Config) RetryDelayDuration() time.Duration {
	return time.Duration(c.RetryDelay) * time.Second
}

// CommandTimeoutDuration bounds each command run.
func (c *Config) CommandTimeoutDuration() time.Duration {
	return time.Duration(c.CommandTimeout) * time.Second
}

// WriteTemplate writes the configuration in config.yaml layout, with secrets
// replaced by placeholders.
func (c *Config) WriteTemplate(path string) error {
	configItems, err := items(c)
	if err != nil {
		return err
	}

	secrets := Secrets{
		WeatherAPIKey:   placeholderSecret,
		NewsAPIKey:      placeholderSecret,
		AnthropicAPIKey: placeholderSecret,
	}
	secretItems, err := items(secrets)
	if err != nil {
		return err
	}

	doc := &yaml.Node{Kind: yaml.MappingNode, Content: []*yaml.Node{
		{Kind: yaml.ScalarNode, Value: "config"}, configItems,
		{Kind: yaml.ScalarNode, Value: "secrets"}, secretItems,
	}}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(doc); err != nil {
		return goerr.Wrap(core.ErrConfiguration, "failed to encode template", goerr.V("cause", err.Error()))
	}
	if err := enc.Close(); err != nil {
		return goerr.Wrap(core.ErrConfiguration, "failed to encode template", goerr.V("cause", err.Error()))
	}

	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return goerr.Wrap(core.ErrConfiguration, "failed to create config directory",
				goerr.V("path", dir), goerr.V("cause", err.Error()))
		}
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o600); err != nil {
		return goerr.Wrap(core.ErrConfiguration, "failed to write template",
			goerr.V("path", path), goerr.V("cause", err.Error()))
	}
	return nil
}

// items encodes v as a sequence of single-key mappings in field order.
func items(v any) (*yaml.Node, error) {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		return nil, goerr.Wrap(core.ErrConfiguration, "failed to encode config", goerr.V("cause", err.Error()))
	}
	m := &n
	if m.Kind == yaml.DocumentNode && len(m.Content) > 0 {
		m = m.Content[0]
	}

	seq := &yaml.Node{Kind: yaml.SequenceNode}
	for i := 0; i+1 < len(m.Content); i += 2 {
		seq.Content = append(seq.Content, &yaml.Node{
			Kind:    yaml.MappingNode,
			Content: []*yaml.Node{m.Content[i], m.Content[i+1]},
		})
	}
	return seq, nil
}
