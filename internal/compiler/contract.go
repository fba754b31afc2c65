package compiler

import "encoding/json"

// SchemaName identifies the document schema for structured output.
const SchemaName = "nudger_compiler_v1"

func nullable(t map[string]any) map[string]any {
	return map[string]any{"anyOf": []any{t, map[string]any{"type": "null"}}}
}

func str() map[string]any { return map[string]any{"type": "string"} }

// Schema returns the JSON Schema of Document. Every object is closed and
// every property is required, as strict structured output demands.
func Schema() map[string]any {
	task := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"title":              map[string]any{"type": "string", "minLength": 1, "maxLength": 255},
			"priority":           map[string]any{"type": "integer", "minimum": -10, "maximum": 10},
			"nudge_window_start": str(),
			"nudge_window_end":   nullable(str()),
			"nudge_text":         str(),
			"memory_context":     nullable(str()),
			"category":           nullable(str()),
			"parent_ref":         nullable(str()),
		},
		"required": []string{"title", "priority", "nudge_window_start", "nudge_window_end", "nudge_text", "memory_context", "category", "parent_ref"},
	}
	link := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"child_index": map[string]any{"type": "integer", "minimum": 0},
			"parent_ref":  map[string]any{"type": "string", "minLength": 1},
		},
		"required": []string{"child_index", "parent_ref"},
	}
	selector := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"by":    map[string]any{"type": "string", "enum": []string{"id", "latest", "title"}},
			"value": str(),
		},
		"required": []string{"by", "value"},
	}
	snoozeMinutes := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties":           map[string]any{"minutes": map[string]any{"type": "integer", "minimum": 1}},
		"required":             []string{"minutes"},
	}
	snoozeWindow := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"new_window_start": str(),
			"new_window_end":   nullable(str()),
		},
		"required": []string{"new_window_start", "new_window_end"},
	}
	configItem := map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"key":   map[string]any{"type": "string", "minLength": 1},
			"value": str(),
		},
		"required": []string{"key", "value"},
	}

	return map[string]any{
		"type":                 "object",
		"additionalProperties": false,
		"properties": map[string]any{
			"version": map[string]any{"type": "integer", "enum": []int{Version}},
			"intent": map[string]any{
				"type": "string",
				"enum": []Intent{IntentCreate, IntentSnooze, IntentComplete, IntentList, IntentConfig, IntentClarify},
			},
			"tasks":            map[string]any{"type": "array", "items": task},
			"links":            map[string]any{"type": "array", "items": link},
			"task_selector":    nullable(selector),
			"snooze":           map[string]any{"anyOf": []any{snoozeMinutes, snoozeWindow, map[string]any{"type": "null"}}},
			"config":           map[string]any{"type": "array", "items": configItem},
			"clarify_question": nullable(str()),
		},
		"required": []string{"version", "intent", "tasks", "links", "task_selector", "snooze", "config", "clarify_question"},
	}
}

// SchemaJSON returns Schema encoded as indented JSON.
func SchemaJSON() string {
	data, _ := json.MarshalIndent(Schema(), "", "  ")
	return string(data)
}
