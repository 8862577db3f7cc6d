package tools_test

import (
	"testing"

	"github.com/m-mizutani/gt"

	"github.com/becomeliminal/nim-assistant/core"
	"github.com/becomeliminal/nim-assistant/tools"
)

func TestGenerateSchema_CommandInput(t *testing.T) {
	schema, err := tools.GenerateSchema[core.CommandInput]()
	gt.NoError(t, err).Required()

	gt.Value(t, schema["type"]).Equal("object")
	props, ok := schema["properties"].(map[string]any)
	gt.Bool(t, ok).True()
	gt.Value(t, len(props)).Equal(2)

	commandType, ok := props["command_type"].(map[string]any)
	gt.Bool(t, ok).True()
	gt.Value(t, commandType["type"]).Equal("string")
	gt.Value(t, commandType["enum"]).Equal([]any{"cmd", "ps"})

	req := tools.Required(schema)
	gt.Array(t, req).Has("command_type")
	gt.Array(t, req).Has("command")
}

func TestDefinitions(t *testing.T) {
	defs := tools.Definitions(false)
	gt.Value(t, tools.Names(defs)).Equal([]string{
		core.ToolGetWeather,
		core.ToolSearchWikipedia,
		core.ToolGetNews,
		core.ToolExecuteCommand,
		core.ToolOpenBrowser,
		core.ToolAddMemory,
	})

	withPython := tools.Definitions(true)
	gt.Array(t, withPython).Length(len(defs) + 1)
	gt.Value(t, withPython[len(withPython)-1].Name).Equal(core.ToolPythonCode)

	for _, d := range withPython {
		gt.String(t, d.Description).NotEqual("")
		gt.Value(t, d.Schema["type"]).Equal("object")
	}
}

func TestObjectSchema_NoRequired(t *testing.T) {
	schema := tools.ObjectSchema(map[string]any{})
	_, has := schema["required"]
	gt.Bool(t, has).False()
	gt.Value(t, len(tools.Required(schema))).Equal(0)
}
