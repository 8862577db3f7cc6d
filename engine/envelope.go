package engine

import (
	"encoding/json"
	"strings"

	"github.com/m-mizutani/goerr/v2"

	"github.com/becomeliminal/nim-assistant/core"
)

// Envelope is the JSON object the model answers with when it does not call
// tools.
type Envelope struct {
	Response string `json:"response"`
	Need     string `json:"need"`
	Commands string `json:"commands"`
}

// Need kinds.
const (
	NeedWeather = "weather_forecast"
	NeedWiki    = "wiki"
	NeedNews    = "news"
	NeedInput   = "input"
)

// User-visible texts for terminal interpreter states.
const (
	InvalidResponseText = "Error: Invalid response format"
	InvalidNeedText     = "Error: Invalid need format"
	InvalidCommandText  = "Error: Invalid command format"
	DepthExceededText   = "Error: Maximum need depth exceeded"
	TimedOutText        = "Command execution timed out"
	PythonDisabledText  = "Python execution is disabled"
	CommandExecutedText = "Command executed"
	InvalidMemoryText   = "Error: memory text must be a non-empty string"
)

// FallbackText is returned when the first completion cannot be obtained.
const FallbackText = "AI did not respond or returned an invalid response."

// ParseEnvelope decodes cleaned model output. The top level must be a JSON
// object.
func ParseEnvelope(text string) (Envelope, error) {
	if !strings.HasPrefix(strings.TrimSpace(text), "{") {
		return Envelope{}, goerr.Wrap(core.ErrFormat, "completion is not a JSON object",
			goerr.V(core.PayloadKey, text))
	}
	var env Envelope
	if err := json.Unmarshal([]byte(text), &env); err != nil {
		return Envelope{}, goerr.Wrap(core.ErrFormat, "completion is not a JSON envelope",
			goerr.V("cause", err.Error()))
	}
	return env, nil
}

// Directive is a parsed "<kind>:<argument>" field of an Envelope.
type Directive struct {
	Kind     string
	Argument string
}

// ParseDirective splits s at its first colon, so the argument may itself
// contain colons.
func ParseDirective(s string) (Directive, error) {
	kind, arg, ok := strings.Cut(s, ":")
	if !ok {
		return Directive{}, goerr.Wrap(core.ErrFormat, "directive has no ':' separator",
			goerr.V(core.PayloadKey, s))
	}
	return Directive{Kind: strings.TrimSpace(kind), Argument: strings.TrimSpace(arg)}, nil
}

// CleanOutput normalizes raw model text before decoding: non-ASCII is
// dropped, reasoning before </think> is discarded, a ```json fence is
// unwrapped and newlines are removed.
func CleanOutput(s string) string {
	s = strings.Map(func(r rune) rune {
		if r > 127 {
			return -1
		}
		return r
	}, s)

	if _, after, ok := strings.Cut(s, "</think>"); ok {
		s = after
	}
	if _, after, ok := strings.Cut(s, "```json"); ok {
		s = after
		if inner, _, ok := strings.Cut(s, "```"); ok {
			s = inner
		}
	}

	s = strings.ReplaceAll(s, "\r", "")
	s = strings.ReplaceAll(s, "\n", "")
	return strings.TrimSpace(s)
}

func joinLines(parts ...string) string {
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != "" {
			out = append(out, p)
		}
	}
	return strings.Join(out, "\n")
}
