package compiler

import (
	"context"
	"encoding/json"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/starford/nudger/internal/settings"
)

// CommandType is the user command a compile request serves.
type CommandType string

// Command types.
const (
	CommandNudge  CommandType = "nudge"
	CommandSnooze CommandType = "snooze"
	CommandConfig CommandType = "config"
)

// Request is the input to a compile.
type Request struct {
	Command  CommandType
	Text     string
	Settings settings.Snapshot
	Now      time.Time
}

// Compiler turns a request into a validated document.
type Compiler interface {
	Compile(ctx context.Context, req Request) (*Document, error)
}

// Func adapts a function to Compiler.
type Func func(ctx context.Context, req Request) (*Document, error)

// Compile calls f.
func (f Func) Compile(ctx context.Context, req Request) (*Document, error) {
	return f(ctx, req)
}

var rulesByCommand = map[CommandType][]string{
	CommandNudge: {
		"intent must be create; when the request is unclear use intent=clarify and set clarify_question.",
		"task windows are ISO-8601 timestamps with an offset.",
		"tasks[].nudge_text contains the {{id}} token and a done/snooze hint.",
		"tasks[].title never contains {{id}}.",
		"never exceed settings.max_subtasks subtasks.",
		"links[].child_index is an index into tasks[].",
		"produce a single top-level task unless the user explicitly asks for several (also, another task, separately).",
		"a prerequisite or dependency of the main action is a subtask, not another top-level task.",
		"category is a short lower-kebab-case domain label such as chores, home-maintenance, health, finance, admin, learning; null when unclear.",
		"make windows as wide as the user's bounds allow; never collapse a vague period into a short slot.",
		"'today' means priority 10 and a window ending at quiet_hours_start of the same local day.",
		"'this month' means from tomorrow 00:00 local to the last day of the month 23:59:59 local.",
		"'next week' without a day means Monday 00:00 through Friday 23:59:59 of next week, local time.",
		"use short windows only when the user states a short constraint.",
	},
	CommandSnooze: {
		"intent must be snooze; when the request is unclear use intent=clarify and set clarify_question.",
		"snooze is either {minutes} or {new_window_start, new_window_end}.",
		"prefer minutes for relative delays such as '2h' or 'tomorrow morning'.",
		"use new_window_start/new_window_end with an offset for explicit dates or ranges.",
		"leave tasks[] empty.",
	},
	CommandConfig: {
		"intent must be config; when the request is unclear use intent=clarify and set clarify_question.",
		"config[] holds explicit key/value updates; values are short strings.",
		"leave tasks[] and links[] empty and snooze null.",
	},
}

// Instructions renders the system prompt for req.
func Instructions(req Request) string {
	loc := req.Settings.Location()
	now := req.Now
	if now.IsZero() {
		now = time.Now()
	}
	snap, _ := json.Marshal(req.Settings)

	var b strings.Builder
	b.WriteString("You compile reminder commands into a JSON document.\n")
	b.WriteString("Return JSON only, no markdown, matching the schema exactly.\n")
	b.WriteString("Command type: " + string(req.Command) + "\n")
	b.WriteString("Local timezone: " + req.Settings.Timezone() + "\n")
	b.WriteString("Local time: " + now.In(loc).Format(time.RFC3339) + "\n")
	b.WriteString("Settings: " + string(snap) + "\n")
	b.WriteString("Rules:\n")
	rules := slices.Concat(rulesByCommand[req.Command], []string{"never include secrets."})
	for i, r := range rules {
		b.WriteString(strconv.Itoa(i+1) + ") " + r + "\n")
	}
	return b.String()
}
