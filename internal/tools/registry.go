package tools

import (
	"github.com/HexSleeves/buzz/internal/config"
	"github.com/HexSleeves/buzz/internal/llm"
	"github.com/sahilm/fuzzy"
)

// registry lists every tool in the order it is offered to the model.
var registry = []llm.ToolDef{
	{
		Name: string(CurrentTime),
		Description: "Get the current date and time. Useful for time-sensitive queries, " +
			"scheduling, or when users ask about 'today', 'now', etc.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"timezone": map[string]interface{}{
					"type":        "string",
					"description": "Timezone (e.g., 'America/New_York'). Defaults to UTC.",
				},
			},
		},
	},
	{
		Name: string(Calculate),
		Description: "Perform mathematical calculations. Supports basic arithmetic, " +
			"percentages, and simple expressions. Use this when users ask for " +
			"calculations, conversions, or math operations.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"expression": map[string]interface{}{
					"type":        "string",
					"description": "Mathematical expression to evaluate (e.g., '10 * 5 + 3')",
				},
			},
			"required": []string{"expression"},
		},
	},
	{
		Name: string(ListChats),
		Description: "Retrieve a list of the user's previous chat conversations. " +
			"Useful when users ask about their history, past conversations, " +
			"or want to reference previous discussions.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of chats to return (default: 10)",
				},
			},
		},
	},
	{
		Name: string(SearchHistory),
		Description: "Search through the user's chat history for specific keywords or topics. " +
			"Returns relevant messages from past conversations.",
		InputSchema: map[string]interface{}{
			"type": "object",
			"properties": map[string]interface{}{
				"query": map[string]interface{}{
					"type":        "string",
					"description": "Search query to find in chat history",
				},
				"limit": map[string]interface{}{
					"type":        "number",
					"description": "Maximum number of results (default: 5)",
				},
			},
			"required": []string{"query"},
		},
	},
}

// Definitions returns every tool definition in registry order.
func Definitions() []llm.ToolDef {
	out := make([]llm.ToolDef, len(registry))
	copy(out, registry)
	return out
}

// Names returns the registered tool names in registry order.
func Names() []string {
	names := make([]string, len(registry))
	for i, td := range registry {
		names[i] = td.Name
	}
	return names
}

// ListEnabled filters the registry by cfg. Disabled tools yield an empty
// list whatever the allow-list says; an allow-list keeps registry order, and
// an empty one enables nothing.
func ListEnabled(cfg config.ToolsConfig) []llm.ToolDef {
	if !cfg.Enabled {
		return nil
	}
	if cfg.Allowed == nil {
		return Definitions()
	}
	allowed := make(map[string]bool, len(cfg.Allowed))
	for _, name := range cfg.Allowed {
		allowed[name] = true
	}
	var out []llm.ToolDef
	for _, td := range registry {
		if allowed[td.Name] {
			out = append(out, td)
		}
	}
	return out
}

// UnknownName is an allow-list entry that matches no tool.
type UnknownName struct {
	Name       string
	Suggestion string // closest registered name, if any
}

// CheckAllowed reports allow-list entries that name no registered tool,
// with a fuzzy suggestion for each.
func CheckAllowed(allowed []string) []UnknownName {
	names := Names()
	known := make(map[string]bool, len(names))
	for _, n := range names {
		known[n] = true
	}

	var unknown []UnknownName
	for _, a := range allowed {
		if known[a] {
			continue
		}
		u := UnknownName{Name: a}
		if matches := fuzzy.Find(a, names); len(matches) > 0 {
			u.Suggestion = matches[0].Str
		}
		unknown = append(unknown, u)
	}
	return unknown
}
