// Package tools describes the tools offered to completion providers.
package tools

import (
	"github.com/becomeliminal/nim-assistant/core"
)

// Definition is a provider-neutral tool description.
type Definition struct {
	Name        string
	Description string
	Schema      map[string]any
}

// DefaultDynamic lists the tools whose results are fed back to the model for
// a synthesis pass instead of being returned verbatim.
var DefaultDynamic = []string{
	core.ToolGetWeather,
	core.ToolSearchWikipedia,
	core.ToolGetNews,
	core.ToolAddMemory,
}

// Definitions returns every tool the assistant understands. python_code is
// listed only when includePython is set.
func Definitions(includePython bool) []Definition {
	defs := []Definition{
		{
			Name:        core.ToolGetWeather,
			Description: "Get the weather forecast for today and tomorrow in a city.",
			Schema:      MustGenerateSchema[core.WeatherInput](),
		},
		{
			Name:        core.ToolSearchWikipedia,
			Description: "Search Wikipedia and return the top matching article snippets.",
			Schema:      MustGenerateSchema[core.SearchInput](),
		},
		{
			Name:        core.ToolGetNews,
			Description: "Get recent news articles about a topic.",
			Schema:      MustGenerateSchema[core.SearchInput](),
		},
		{
			Name: core.ToolExecuteCommand,
			Description: "Execute a read-only system command. command_type is 'cmd' for the shell " +
				"or 'ps' for PowerShell. Only allow-listed commands run.",
			Schema: MustGenerateSchema[core.CommandInput](),
		},
		{
			Name:        core.ToolOpenBrowser,
			Description: "Open a URL on a trusted domain in the user's browser.",
			Schema:      MustGenerateSchema[core.BrowserInput](),
		},
		{
			Name:        core.ToolAddMemory,
			Description: "Remember a fact about the user or the conversation for later turns.",
			Schema:      MustGenerateSchema[core.MemoryInput](),
		},
	}
	if includePython {
		defs = append(defs, Definition{
			Name:        core.ToolPythonCode,
			Description: "Run a short Python snippet and return its standard output.",
			Schema:      MustGenerateSchema[core.PythonInput](),
		})
	}
	return defs
}

// Names returns the names of defs in order.
func Names(defs []Definition) []string {
	out := make([]string, len(defs))
	for i, d := range defs {
		out[i] = d.Name
	}
	return out
}
