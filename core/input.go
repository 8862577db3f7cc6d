package core

// Tool argument shapes. Schemas for providers are generated from these
// structs, so the json and jsonschema tags are the wire contract.

// WeatherInput is the argument of get_weather.
type WeatherInput struct {
	City string `json:"city" jsonschema_description:"The city to get weather for"`
}

// SearchInput is the argument of search_wikipedia and get_news.
type SearchInput struct {
	Query string `json:"query" jsonschema_description:"The search query"`
}

// CommandInput is the argument of execute_command.
type CommandInput struct {
	CommandType string `json:"command_type" jsonschema:"enum=cmd,enum=ps" jsonschema_description:"Type of command (cmd or ps)"`
	Command     string `json:"command" jsonschema_description:"The command to execute"`
}

// BrowserInput is the argument of open_browser.
type BrowserInput struct {
	URL string `json:"url" jsonschema_description:"The URL to open"`
}

// MemoryInput is the argument of add_memory.
type MemoryInput struct {
	Text string `json:"text" jsonschema_description:"The text to add to memory"`
}

// PythonInput is the argument of python_code.
type PythonInput struct {
	Code string `json:"code" jsonschema_description:"Python source to run"`
}
