package cli

import (
	"bytes"
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/config"
	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/llm"
	"github.com/becomeliminal/nim-assistant/logging"
	"github.com/becomeliminal/nim-assistant/memory"
	"github.com/becomeliminal/nim-assistant/memory/store/sqlite"
)

type scriptedInput struct {
	lines []string
}

func (s *scriptedInput) ReadLine() (string, error) {
	if len(s.lines) == 0 {
		return "", io.EOF
	}
	line := s.lines[0]
	s.lines = s.lines[1:]
	return line, nil
}

type echo struct {
	calls []string
}

func (e *echo) Respond(_ context.Context, text string) (string, error) {
	e.calls = append(e.calls, text)
	return "echo " + text, nil
}

func TestChatLoop(t *testing.T) {
	t.Run("stops at quit", func(t *testing.T) {
		r := &echo{}
		var out bytes.Buffer
		in := &scriptedInput{lines: []string{"hello", "   ", "QUIT", "never sent"}}

		gt.NoError(t, chatLoop(context.Background(), r, in, &out, logging.Discard()))
		gt.Value(t, r.calls).Equal([]string{"hello"})
		gt.String(t, out.String()).Contains("Nim: echo hello")
	})

	t.Run("stops at EOF", func(t *testing.T) {
		r := &echo{}
		in := &scriptedInput{lines: []string{"one", "two"}}

		gt.NoError(t, chatLoop(context.Background(), r, in, io.Discard, logging.Discard()))
		gt.Value(t, r.calls).Equal([]string{"one", "two"})
	})
}

func runApp(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := newApp(&globals{}, "test")
	app.Writer = &out
	err := app.Run(context.Background(), append([]string{"nim-assistant", "--env-file", "", "--log-level", "error"}, args...))
	return out.String(), err
}

func TestConfigInit(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")

	out, err := runApp(t, "--config", path, "config", "init")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("wrote " + path)

	cfg, err := config.Load(path)
	gt.NoError(t, err).Required()
	gt.Value(t, cfg.Model).Equal(config.Default().Model)

	_, err = runApp(t, "--config", path, "config", "init")
	gt.Error(t, err).Is(core.ErrConfiguration)

	_, err = runApp(t, "--config", path, "config", "init", "--force")
	gt.NoError(t, err)
}

func TestMemoryCommands(t *testing.T) {
	dir := t.TempDir()
	dbPath := filepath.Join(dir, "memory.db")
	cfgPath := filepath.Join(dir, "config.yaml")
	gt.NoError(t, os.WriteFile(cfgPath, []byte("config:\n  - memory_db: "+dbPath+"\n"), 0o600)).Required()

	ctx := context.Background()
	db, err := sqlite.New(ctx, dbPath)
	gt.NoError(t, err).Required()
	now := time.Now()
	gt.NoError(t, db.Save(ctx, []memory.Record{
		{ID: 1, Text: "first", Embedding: []float32{1, 0}, CreatedAt: now},
		{ID: 2, Text: "second", Embedding: []float32{0, 1}, CreatedAt: now.Add(time.Second)},
	}, 10)).Required()
	gt.NoError(t, db.Close()).Required()

	out, err := runApp(t, "--config", cfgPath, "memory", "stats")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("stored:    2")
	gt.String(t, out).Contains("capacity:  1000")

	out, err = runApp(t, "--config", cfgPath, "memory", "clear")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("removed 2 memories")

	out, err = runApp(t, "--config", cfgPath, "memory", "stats")
	gt.NoError(t, err).Required()
	gt.String(t, out).Contains("stored:    0")
}

func TestInvalidConfigIsRejected(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")
	gt.NoError(t, os.WriteFile(cfgPath, []byte("config:\n  - max_vectors: 0\n"), 0o600)).Required()

	_, err := runApp(t, "--config", cfgPath, "memory", "stats")
	gt.Error(t, err).Is(core.ErrConfiguration)
}

func TestProfile(t *testing.T) {
	cfg := config.Default()
	local, ok := profile(cfg).(llm.LocalProfile)
	gt.Bool(t, ok).True()
	gt.Value(t, local.Endpoint).Equal(cfg.CompletionsURL)
	gt.Value(t, local.MaxTokens).Equal(-1)

	cfg.LLMProvider = config.ProviderHosted
	cfg.Secrets.AnthropicAPIKey = "sk-test"
	hosted, ok := profile(cfg).(llm.HostedProfile)
	gt.Bool(t, ok).True()
	gt.Value(t, hosted.APIKey).Equal("sk-test")
	gt.Value(t, hosted.Model).Equal(cfg.HostedModel)
	gt.Value(t, hosted.MaxTokens).Equal(int64(1024))
}

func TestNewEmbedder(t *testing.T) {
	cfg := config.Default()
	e, release, err := newEmbedder(cfg, logging.Discard())
	gt.NoError(t, err).Required()
	defer release()
	gt.Value(t, e.Dimensions()).Equal(384)

	cfg.Embedder = config.EmbedderOpenAI
	_, _, err = newEmbedder(cfg, logging.Discard())
	gt.Error(t, err).Is(core.ErrConfiguration)
}

func TestNewEmbedder_RemoteSendsAPIKey(t *testing.T) {
	var auth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data":[{"embedding":[1,0]}]}`))
	}))
	defer srv.Close()

	cfg := config.Default()
	cfg.Embedder = config.EmbedderOpenAI
	cfg.EmbeddingURL = srv.URL
	cfg.EmbeddingModel = "text-embedding-3-small"
	cfg.Secrets.EmbeddingAPIKey = "emb-key"

	e, release, err := newEmbedder(cfg, logging.Discard())
	gt.NoError(t, err).Required()
	defer release()

	_, err = e.Embed(context.Background(), "hello")
	gt.NoError(t, err).Required()
	gt.Value(t, auth).Equal("Bearer emb-key")
}

func TestCheckExposure(t *testing.T) {
	testCases := map[string]struct {
		addr  string
		token string
		ok    bool
	}{
		"ipv4 loopback":         {addr: "127.0.0.1:8080", ok: true},
		"ipv6 loopback":         {addr: "[::1]:8080", ok: true},
		"localhost":             {addr: "localhost:8080", ok: true},
		"all interfaces":        {addr: ":8080"},
		"unspecified ipv4":      {addr: "0.0.0.0:8080"},
		"lan address":           {addr: "192.168.1.10:8080"},
		"malformed":             {addr: "8080"},
		"all interfaces + auth": {addr: ":8080", token: "secret", ok: true},
	}
	for name, tc := range testCases {
		t.Run(name, func(t *testing.T) {
			err := checkExposure(tc.addr, tc.token)
			if tc.ok {
				gt.NoError(t, err)
			} else {
				gt.Error(t, err).Is(core.ErrConfiguration)
			}
		})
	}
}

func TestServeRefusesOpenAddressWithoutToken(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "config.yaml")

	_, err := runApp(t, "--config", cfgPath, "serve", "--addr", ":0")
	gt.Error(t, err).Is(core.ErrConfiguration)
}
