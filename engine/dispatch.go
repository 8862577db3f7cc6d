package engine

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/llm"
)

// fetcherKinds maps data tools to the need kind whose fetcher serves them.
var fetcherKinds = map[string]string{
	core.ToolGetWeather:      NeedWeather,
	core.ToolSearchWikipedia: NeedWiki,
	core.ToolGetNews:         NeedNews,
}

// dispatchTools runs every tool call in comp and joins the results.
func (e *Engine) dispatchTools(ctx context.Context, t *turn, comp *llm.Completion, depth int) string {
	parts := []string{strings.TrimSpace(comp.Text)}

	for _, call := range comp.ToolCalls {
		result := e.handleTool(ctx, t, call)
		t.logger.Debug("tool handled", "tool", call.Name, "id", call.ID, "result_len", len(result))

		if result != "" && e.dynamic[call.Name] {
			result = e.synthesize(ctx, t, call.Name, result, depth)
		}
		parts = append(parts, result)
	}
	return joinLines(parts...)
}

// synthesize feeds a dynamic tool result back to the model.
func (e *Engine) synthesize(ctx context.Context, t *turn, name, result string, depth int) string {
	if depth >= e.maxDepth {
		t.logger.Warn("tool synthesis depth exceeded", "tool", name, "depth", depth)
		return DepthExceededText
	}
	return e.secondPass(ctx, t, "Called "+name, result, depth, result)
}

func invalidArguments(name string) string {
	return "Error: Invalid arguments for " + name
}

// decodeArgs unmarshals call arguments into v.
func decodeArgs(call core.ToolCall, v any) bool {
	args := call.Arguments
	if len(args) == 0 {
		args = json.RawMessage("{}")
	}
	return json.Unmarshal(args, v) == nil
}

// handleTool executes one tool call and returns its result text.
func (e *Engine) handleTool(ctx context.Context, t *turn, call core.ToolCall) string {
	switch call.Name {
	case core.ToolGetWeather:
		var in core.WeatherInput
		if !decodeArgs(call, &in) || strings.TrimSpace(in.City) == "" {
			return invalidArguments(call.Name)
		}
		return e.fetchTool(ctx, t, call.Name, in.City)

	case core.ToolSearchWikipedia, core.ToolGetNews:
		var in core.SearchInput
		if !decodeArgs(call, &in) || strings.TrimSpace(in.Query) == "" {
			return invalidArguments(call.Name)
		}
		return e.fetchTool(ctx, t, call.Name, in.Query)

	case core.ToolExecuteCommand:
		var in core.CommandInput
		if !decodeArgs(call, &in) || in.CommandType == "" || strings.TrimSpace(in.Command) == "" {
			return invalidArguments(call.Name)
		}
		req := core.CommandRequest{Kind: core.CommandKind(in.CommandType), Payload: strings.TrimSpace(in.Command)}
		if diag := e.runCommand(ctx, t, req); diag != "" {
			return diag
		}
		return CommandExecutedText

	case core.ToolOpenBrowser:
		var in core.BrowserInput
		if !decodeArgs(call, &in) || strings.TrimSpace(in.URL) == "" {
			return invalidArguments(call.Name)
		}
		url := strings.TrimSpace(in.URL)
		if diag := e.openBrowser(t, url); diag != "" {
			return diag
		}
		return "Opened " + url

	case core.ToolAddMemory:
		var in core.MemoryInput
		if !decodeArgs(call, &in) {
			return invalidArguments(call.Name)
		}
		return e.addMemory(ctx, t, in.Text)

	case core.ToolPythonCode:
		var in core.PythonInput
		if !decodeArgs(call, &in) || strings.TrimSpace(in.Code) == "" {
			return invalidArguments(call.Name)
		}
		return e.runPython(ctx, t, in.Code)
	}

	t.logger.Warn("unknown tool", core.ToolKey, call.Name)
	return "Unknown tool: " + call.Name
}

func (e *Engine) fetchTool(ctx context.Context, t *turn, name, query string) string {
	f, ok := e.fetchers[fetcherKinds[name]]
	if !ok {
		t.logger.Warn("no fetcher for tool", core.ToolKey, name)
		return ""
	}
	data, err := f.Fetch(ctx, query)
	if err != nil {
		t.logger.Error("tool fetch failed", "error", err, core.ToolKey, name, core.QueryKey, query)
		return ""
	}
	return data
}

func (e *Engine) addMemory(ctx context.Context, t *turn, text string) string {
	if e.store == nil {
		t.logger.Warn("add_memory without a memory store")
		return InvalidMemoryText
	}
	rec, err := e.store.Add(ctx, text)
	if err != nil {
		t.logger.Warn("failed to add memory", "error", err)
		if errors.Is(err, core.ErrValidation) {
			return InvalidMemoryText
		}
		return "Error: failed to add memory"
	}
	return "Added to memory: " + rec.Text
}

func (e *Engine) runPython(ctx context.Context, t *turn, code string) string {
	if !e.python {
		return PythonDisabledText
	}
	res := e.run(ctx, pythonLine(code))
	switch {
	case res.timedOut:
		return TimedOutText
	case res.failure != "":
		return "Command failed: " + res.failure
	}
	t.logger.Info("python executed", "stdout_len", len(res.stdout))
	return strings.TrimSpace(res.stdout)
}
