package mcpserver

import "github.com/starford/nudger/internal/compiler"

// SchemaURI is the resource URI of the compiler document schema.
const SchemaURI = "nudger://compiler-schema"

// CompilerContract describes the compiler document that create_tasks
// accepts, followed by its JSON schema.
func CompilerContract() string {
	return contractIntro + "\n## JSON Schema\n\n```json\n" + compiler.SchemaJSON() + "\n```\n"
}

const contractIntro = `# Nudger Compiler Document

A compiler document describes one user command as structured data. Every
field is always present; unused fields are null or empty arrays.

## Fields

- version: always 1.
- intent: one of create, snooze, complete, list, config, clarify.
- tasks[]: proposed tasks in order. title is 1..255 characters and never
  contains {{id}}. priority is an integer in -10..10. nudge_window_start is an
  ISO-8601 timestamp with an offset (empty means now); nudge_window_end is a
  timestamp or null for an open-ended window. nudge_text should contain the
  {{id}} token, which is replaced by the real task id.
- parent_ref on a task declares a local name other tasks can attach to.
- links[]: {child_index, parent_ref} makes tasks[child_index] a subtask of
  the task that declared parent_ref. Subtasks never have subtasks.
- snooze: either {minutes} (at least 1) or {new_window_start, new_window_end}.
- config[]: {key, value} pairs; unknown keys are ignored.
- clarify_question: set with intent=clarify when the request is ambiguous.

## Limits

At most max_subtasks + 1 tasks are created per document; extra tasks are
dropped.
`
