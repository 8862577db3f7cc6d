package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/tools"
)

// Wire types of the OpenAI-compatible chat completions API.

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
	MaxTokens   *int          `json:"max_tokens,omitempty"`
	Tools       []chatTool    `json:"tools,omitempty"`
	ToolChoice  string        `json:"tool_choice,omitempty"`
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatTool struct {
	Type     string       `json:"type"`
	Function chatFunction `json:"function"`
}

type chatFunction struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type chatResponse struct {
	Choices []struct {
		Message struct {
			Content   string `json:"content"`
			ToolCalls []struct {
				ID       string `json:"id"`
				Function struct {
					Name      string `json:"name"`
					Arguments string `json:"arguments"`
				} `json:"function"`
			} `json:"tool_calls"`
		} `json:"message"`
	} `json:"choices"`
}

type localSession struct {
	profile LocalProfile
	client  *http.Client
	owned   bool
}

func newLocalSession(p LocalProfile, client *http.Client) *localSession {
	if client != nil {
		return &localSession{profile: p, client: client}
	}
	transport := http.DefaultTransport.(*http.Transport).Clone()
	return &localSession{
		profile: p,
		client:  &http.Client{Transport: transport},
		owned:   true,
	}
}

func (s *localSession) complete(ctx context.Context, msgs []Message, defs []tools.Definition) (*Completion, error) {
	req := chatRequest{
		Model:       s.profile.Model,
		Temperature: s.profile.Temperature,
	}
	if s.profile.MaxTokens > 0 {
		n := s.profile.MaxTokens
		req.MaxTokens = &n
	}
	for _, m := range msgs {
		req.Messages = append(req.Messages, chatMessage{Role: string(m.Role), Content: m.Content})
	}
	if s.profile.ToolCalling && len(defs) > 0 {
		for _, d := range defs {
			req.Tools = append(req.Tools, chatTool{
				Type: "function",
				Function: chatFunction{
					Name:        d.Name,
					Description: d.Description,
					Parameters:  d.Schema,
				},
			})
		}
		req.ToolChoice = "auto"
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, goerr.Wrap(err, "failed to encode chat request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, s.profile.Endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, goerr.Wrap(core.ErrConfiguration, "invalid completions endpoint",
			goerr.V(core.EndpointKey, s.profile.Endpoint), goerr.V("cause", err.Error()))
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(httpReq)
	if err != nil {
		return nil, goerr.Wrap(errRetryable, "chat completions request failed",
			goerr.V(core.EndpointKey, s.profile.Endpoint), goerr.V("cause", err.Error()))
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, goerr.Wrap(errRetryable, "failed to read chat completions response",
			goerr.V("cause", err.Error()))
	}
	if err := statusError(resp.StatusCode, data); err != nil {
		return nil, err
	}

	var parsed chatResponse
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, goerr.Wrap(core.ErrTransientProvider, "malformed chat completions response",
			goerr.V("cause", err.Error()))
	}
	if len(parsed.Choices) == 0 {
		return nil, goerr.Wrap(core.ErrTransientProvider, "chat completions response has no choices")
	}

	msg := parsed.Choices[0].Message
	out := &Completion{Text: msg.Content}
	for _, tc := range msg.ToolCalls {
		id := tc.ID
		if id == "" {
			id = uuid.NewString()
		}
		args := tc.Function.Arguments
		if args == "" {
			args = "{}"
		}
		out.ToolCalls = append(out.ToolCalls, core.ToolCall{
			ID:        id,
			Name:      tc.Function.Name,
			Arguments: json.RawMessage(args),
		})
	}
	return out, nil
}

func (s *localSession) close() {
	if s.owned {
		s.client.CloseIdleConnections()
	}
}

// statusError classifies a non-2xx HTTP status. 408, 429 and 5xx are
// retryable; any other 4xx is a rejection.
func statusError(code int, body []byte) error {
	if code >= 200 && code < 300 {
		return nil
	}
	snippet := string(body)
	if len(snippet) > 200 {
		snippet = snippet[:200]
	}
	if retryableStatus(code) {
		return goerr.Wrap(errRetryable, "provider returned retryable status",
			goerr.V(core.StatusKey, code), goerr.V("body", snippet))
	}
	return goerr.Wrap(ErrRejected, "provider rejected request",
		goerr.V(core.StatusKey, code), goerr.V("body", snippet))
}

func retryableStatus(code int) bool {
	return code == http.StatusRequestTimeout ||
		code == http.StatusTooManyRequests ||
		code >= 500
}
