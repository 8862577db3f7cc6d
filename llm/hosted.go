package llm

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/tools"
)

type hostedSession struct {
	profile HostedProfile
	client  anthropic.Client
}

func newHostedSession(p HostedProfile, httpClient *http.Client) *hostedSession {
	opts := []option.RequestOption{
		option.WithAPIKey(p.APIKey),
		// retries are owned by Client
		option.WithMaxRetries(0),
	}
	if p.BaseURL != "" {
		opts = append(opts, option.WithBaseURL(p.BaseURL))
	}
	if httpClient != nil {
		opts = append(opts, option.WithHTTPClient(httpClient))
	}
	return &hostedSession{profile: p, client: anthropic.NewClient(opts...)}
}

func (s *hostedSession) complete(ctx context.Context, msgs []Message, defs []tools.Definition) (*Completion, error) {
	params := anthropic.MessageNewParams{
		Model:       anthropic.Model(s.profile.Model),
		MaxTokens:   s.profile.maxTokens(),
		Temperature: anthropic.Float(s.profile.Temperature),
	}
	for _, m := range msgs {
		switch m.Role {
		case RoleSystem:
			params.System = append(params.System, anthropic.TextBlockParam{Text: m.Content})
		case RoleAssistant:
			params.Messages = append(params.Messages, anthropic.NewAssistantMessage(anthropic.NewTextBlock(m.Content)))
		default:
			params.Messages = append(params.Messages, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
		}
	}
	for _, d := range defs {
		params.Tools = append(params.Tools, anthropic.ToolUnionParam{OfTool: &anthropic.ToolParam{
			Name:        d.Name,
			Description: anthropic.String(d.Description),
			InputSchema: anthropic.ToolInputSchemaParam{
				Properties: d.Schema["properties"],
				Required:   tools.Required(d.Schema),
			},
		}})
	}

	resp, err := s.client.Messages.New(ctx, params)
	if err != nil {
		return nil, classifyHostedError(err)
	}

	out := &Completion{}
	for _, block := range resp.Content {
		switch block.Type {
		case "text":
			out.Text += block.Text
		case "tool_use":
			args := json.RawMessage(block.Input)
			if len(args) == 0 {
				args = json.RawMessage("{}")
			}
			out.ToolCalls = append(out.ToolCalls, core.ToolCall{
				ID:        block.ID,
				Name:      block.Name,
				Arguments: args,
			})
		}
	}
	return out, nil
}

func (s *hostedSession) close() {}

func classifyHostedError(err error) error {
	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		if retryableStatus(apiErr.StatusCode) {
			return goerr.Wrap(errRetryable, "messages API returned retryable status",
				goerr.V(core.StatusKey, apiErr.StatusCode), goerr.V("cause", err.Error()))
		}
		return goerr.Wrap(ErrRejected, "messages API rejected request",
			goerr.V(core.StatusKey, apiErr.StatusCode), goerr.V("cause", err.Error()))
	}
	return goerr.Wrap(errRetryable, "messages API request failed", goerr.V("cause", err.Error()))
}
