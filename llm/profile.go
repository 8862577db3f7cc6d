package llm

import (
	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
)

// Profile selects a completion provider. The set of profiles is closed:
// LocalProfile and HostedProfile are the only implementations.
type Profile interface {
	// Kind returns "local" or "hosted".
	Kind() string

	validate() error
}

const (
	KindLocal  = "local"
	KindHosted = "hosted"
)

// DefaultHostedMaxTokens is used when HostedProfile.MaxTokens is unset.
const DefaultHostedMaxTokens int64 = 1024

// LocalProfile talks to an OpenAI-compatible chat completions endpoint
// without credentials, such as LM Studio.
type LocalProfile struct {
	// Endpoint is the full chat completions URL.
	Endpoint string
	Model    string

	Temperature float64

	// MaxTokens is sent only when positive; -1 leaves the limit to the
	// server.
	MaxTokens int

	// ToolCalling offers tool definitions to the model. When false the
	// model is expected to answer with the JSON envelope only.
	ToolCalling bool
}

func (LocalProfile) Kind() string { return KindLocal }

func (p LocalProfile) validate() error {
	if p.Endpoint == "" {
		return goerr.Wrap(core.ErrConfiguration, "local completions endpoint is required")
	}
	if p.Model == "" {
		return goerr.Wrap(core.ErrConfiguration, "local model is required")
	}
	return nil
}

// HostedProfile talks to the Anthropic Messages API.
type HostedProfile struct {
	APIKey string

	// BaseURL overrides the API base URL. Empty uses the SDK default.
	BaseURL string
	Model   string

	Temperature float64

	// MaxTokens is always sent. Zero means DefaultHostedMaxTokens.
	MaxTokens int64
}

func (HostedProfile) Kind() string { return KindHosted }

func (p HostedProfile) validate() error {
	if p.APIKey == "" {
		return goerr.Wrap(core.ErrConfiguration, "hosted API key is required")
	}
	if p.Model == "" {
		return goerr.Wrap(core.ErrConfiguration, "hosted model is required")
	}
	return nil
}

func (p HostedProfile) maxTokens() int64 {
	if p.MaxTokens <= 0 {
		return DefaultHostedMaxTokens
	}
	return p.MaxTokens
}
