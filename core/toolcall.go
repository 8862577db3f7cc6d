package core

import "encoding/json"

// Tool names understood by the orchestrator.
const (
	ToolGetWeather      = "get_weather"
	ToolSearchWikipedia = "search_wikipedia"
	ToolGetNews         = "get_news"
	ToolExecuteCommand  = "execute_command"
	ToolOpenBrowser     = "open_browser"
	ToolAddMemory       = "add_memory"
	ToolPythonCode      = "python_code"
)

// ToolCall is a single structured tool invocation returned by a completion
// provider.
type ToolCall struct {
	ID        string          `json:"id,omitempty"`
	Name      string          `json:"name"`
	Arguments json.RawMessage `json:"arguments"`
}

// CommandKind identifies how a command payload is executed.
type CommandKind string

const (
	CommandShell       CommandKind = "cmd"
	CommandPowerShell  CommandKind = "ps"
	CommandOpenBrowser CommandKind = "open_browser"
)

// CommandRequest is a side effect requested by the model. It must pass the
// sandbox before anything runs and lives only for one orchestration step.
type CommandRequest struct {
	Kind    CommandKind
	Payload string
}
