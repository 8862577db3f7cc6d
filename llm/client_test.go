package llm_test

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/llm"
	"github.com/becomeliminal/nim-assistant/tools"
)

const okCompletion = `{"choices":[{"message":{"role":"assistant","content":"{\"response\":\"hi\"}"}}]}`

type captured struct {
	Model       string           `json:"model"`
	Messages    []map[string]any `json:"messages"`
	Temperature float64          `json:"temperature"`
	Tools       []map[string]any `json:"tools"`
	ToolChoice  string           `json:"tool_choice"`
}

// localServer answers every request with the given handler and records the
// last body it received.
func localServer(t *testing.T, handler func(w http.ResponseWriter, n int32)) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var calls atomic.Int32
	var body atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		data, _ := io.ReadAll(r.Body)
		body.Store(data)
		handler(w, calls.Add(1))
	}))
	t.Cleanup(srv.Close)
	return srv, &calls, &body
}

func fixedClock() time.Time {
	return time.Date(2025, 3, 4, 5, 6, 7, 0, time.UTC)
}

func TestQuery_LocalMessageOrder(t *testing.T) {
	srv, _, body := localServer(t, func(w http.ResponseWriter, _ int32) {
		io.WriteString(w, okCompletion)
	})

	c, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "local-model", Temperature: 0.7, MaxTokens: -1},
		llm.WithClock(fixedClock), llm.WithSystemPrompt("SYSTEM"))
	gt.NoError(t, err).Required()
	defer c.Close()

	comp, err := c.Query(context.Background(), llm.Request{
		Prompt:          "what's the weather?",
		Memories:        []string{"I live in Oslo", "I like rain"},
		NetworkIdentity: "203.0.113.7",
		Answer:          "first answer",
		FollowUp:        "fetched data",
	})
	gt.NoError(t, err).Required()
	gt.Value(t, comp.Text).Equal(`{"response":"hi"}`)

	var req captured
	gt.NoError(t, json.Unmarshal(body.Load().([]byte), &req)).Required()
	gt.Value(t, req.Model).Equal("local-model")
	gt.Array(t, req.Messages).Length(5).Required()

	roles := make([]any, len(req.Messages))
	for i, m := range req.Messages {
		roles[i] = m["role"]
	}
	gt.Value(t, roles).Equal([]any{"system", "user", "user", "assistant", "user"})
	gt.Value(t, req.Messages[0]["content"]).Equal("SYSTEM")
	gt.Value(t, req.Messages[1]["content"]).Equal(
		"My IP address is 203.0.113.7 and the current time is 2025-03-04 05:06:07.\n" +
			"<memories>\n<memory>I live in Oslo</memory><memory>I like rain</memory>\n</memories>")
	gt.Value(t, req.Messages[2]["content"]).Equal("what's the weather?")
	gt.Value(t, req.Messages[3]["content"]).Equal("first answer")
	gt.Value(t, req.Messages[4]["content"]).Equal("fetched data")
}

func TestQuery_LocalMaxTokens(t *testing.T) {
	srv, _, body := localServer(t, func(w http.ResponseWriter, _ int32) {
		io.WriteString(w, okCompletion)
	})

	for _, tc := range []struct {
		name      string
		maxTokens int
		present   bool
	}{
		{"omitted when -1", -1, false},
		{"omitted when zero", 0, false},
		{"sent when positive", 256, true},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m", MaxTokens: tc.maxTokens})
			gt.NoError(t, err).Required()
			defer c.Close()

			_, err = c.Query(context.Background(), llm.Request{Prompt: "hi"})
			gt.NoError(t, err).Required()

			var raw map[string]any
			gt.NoError(t, json.Unmarshal(body.Load().([]byte), &raw)).Required()
			_, has := raw["max_tokens"]
			gt.Value(t, has).Equal(tc.present)
		})
	}
}

func TestQuery_LocalToolsOnlyWhenEnabled(t *testing.T) {
	srv, _, body := localServer(t, func(w http.ResponseWriter, _ int32) {
		io.WriteString(w, okCompletion)
	})
	req := llm.Request{Prompt: "hi", Tools: tools.Definitions(false)}

	off, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m"})
	gt.NoError(t, err).Required()
	defer off.Close()
	_, err = off.Query(context.Background(), req)
	gt.NoError(t, err).Required()

	var got captured
	gt.NoError(t, json.Unmarshal(body.Load().([]byte), &got)).Required()
	gt.Array(t, got.Tools).Length(0)

	on, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m", ToolCalling: true})
	gt.NoError(t, err).Required()
	defer on.Close()
	_, err = on.Query(context.Background(), req)
	gt.NoError(t, err).Required()

	got = captured{}
	gt.NoError(t, json.Unmarshal(body.Load().([]byte), &got)).Required()
	gt.Array(t, got.Tools).Length(len(req.Tools))
	gt.Value(t, got.ToolChoice).Equal("auto")
	gt.Value(t, got.Tools[0]["type"]).Equal("function")
}

func TestQuery_LocalToolCalls(t *testing.T) {
	srv, _, _ := localServer(t, func(w http.ResponseWriter, _ int32) {
		io.WriteString(w, `{"choices":[{"message":{"content":"","tool_calls":[
			{"id":"call_1","type":"function","function":{"name":"get_weather","arguments":"{\"city\":\"Paris\"}"}},
			{"type":"function","function":{"name":"get_news","arguments":""}}]}}]}`)
	})

	c, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m", ToolCalling: true})
	gt.NoError(t, err).Required()
	defer c.Close()

	comp, err := c.Query(context.Background(), llm.Request{Prompt: "weather"})
	gt.NoError(t, err).Required()
	gt.Bool(t, comp.HasToolCalls()).True()
	gt.Array(t, comp.ToolCalls).Length(2).Required()

	gt.Value(t, comp.ToolCalls[0].ID).Equal("call_1")
	gt.Value(t, comp.ToolCalls[0].Name).Equal(core.ToolGetWeather)
	gt.Value(t, string(comp.ToolCalls[0].Arguments)).Equal(`{"city":"Paris"}`)
	gt.String(t, comp.ToolCalls[1].ID).NotEqual("")
	gt.Value(t, string(comp.ToolCalls[1].Arguments)).Equal("{}")
}

func TestQuery_RetriesTransientStatus(t *testing.T) {
	srv, calls, _ := localServer(t, func(w http.ResponseWriter, n int32) {
		if n < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		io.WriteString(w, okCompletion)
	})

	c, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m"}, llm.WithRetry(3, time.Millisecond))
	gt.NoError(t, err).Required()
	defer c.Close()

	_, err = c.Query(context.Background(), llm.Request{Prompt: "hi"})
	gt.NoError(t, err)
	gt.Value(t, calls.Load()).Equal(int32(3))
}

func TestQuery_ExhaustsRetries(t *testing.T) {
	srv, calls, _ := localServer(t, func(w http.ResponseWriter, _ int32) {
		w.WriteHeader(http.StatusTooManyRequests)
	})

	c, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m"}, llm.WithRetry(3, time.Millisecond))
	gt.NoError(t, err).Required()
	defer c.Close()

	_, err = c.Query(context.Background(), llm.Request{Prompt: "hi"})
	gt.Error(t, err).Is(core.ErrTransientProvider)
	gt.Value(t, calls.Load()).Equal(int32(3))
}

func TestQuery_RejectedIsNotRetried(t *testing.T) {
	srv, calls, _ := localServer(t, func(w http.ResponseWriter, _ int32) {
		w.WriteHeader(http.StatusBadRequest)
		io.WriteString(w, `{"error":"bad"}`)
	})

	c, err := llm.New(llm.LocalProfile{Endpoint: srv.URL, Model: "m"}, llm.WithRetry(3, time.Millisecond))
	gt.NoError(t, err).Required()
	defer c.Close()

	_, err = c.Query(context.Background(), llm.Request{Prompt: "hi"})
	gt.Error(t, err).Is(llm.ErrRejected)
	gt.Value(t, calls.Load()).Equal(int32(1))
}

func TestQuery_ConfigurationErrorIsNotRetried(t *testing.T) {
	// a retry would wait for an hour and hit the context deadline instead
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	for _, p := range []llm.Profile{
		llm.LocalProfile{Model: "m"},
		llm.HostedProfile{Model: "claude"},
	} {
		c, err := llm.New(p, llm.WithRetry(3, time.Hour))
		gt.NoError(t, err).Required()

		_, err = c.Query(ctx, llm.Request{Prompt: "hi"})
		gt.Error(t, err).Is(core.ErrConfiguration)
		c.Close()
	}
}

func TestNew_RejectsMissingProfile(t *testing.T) {
	_, err := llm.New(nil)
	gt.Error(t, err).Is(core.ErrConfiguration)

	_, err = llm.New(&llm.LocalProfile{Endpoint: "http://x", Model: "m"})
	gt.Error(t, err).Is(core.ErrConfiguration)
}

func TestClose_Idempotent(t *testing.T) {
	c, err := llm.New(llm.LocalProfile{Endpoint: "http://127.0.0.1:1", Model: "m"})
	gt.NoError(t, err).Required()
	gt.NoError(t, c.Close())
	gt.NoError(t, c.Close())

	_, err = c.Query(context.Background(), llm.Request{Prompt: "hi"})
	gt.Error(t, err).Is(llm.ErrClosed)
}
