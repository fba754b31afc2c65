// Package compiler converts free-form command text into a validated task
// document using a language model, and defines that document's contract.
package compiler

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/taskgraph"
	"github.com/starford/nudger/internal/taskservice"
	"github.com/starford/nudger/internal/timewindow"
)

// Version is the only document version accepted.
const Version = 1

// Intent is what the compiler decided the user wants.
type Intent string

// Intents.
const (
	IntentCreate   Intent = "create"
	IntentSnooze   Intent = "snooze"
	IntentComplete Intent = "complete"
	IntentList     Intent = "list"
	IntentConfig   Intent = "config"
	IntentClarify  Intent = "clarify"
)

// Document is the compiler output.
type Document struct {
	Version         int           `json:"version"`
	Intent          Intent        `json:"intent"`
	Tasks           []Task        `json:"tasks"`
	Links           []Link        `json:"links"`
	TaskSelector    *TaskSelector `json:"task_selector"`
	Snooze          *Snooze       `json:"snooze"`
	Config          []ConfigItem  `json:"config"`
	ClarifyQuestion *string       `json:"clarify_question"`
}

// Task is one proposed task.
type Task struct {
	Title            string  `json:"title"`
	Priority         int     `json:"priority"`
	NudgeWindowStart string  `json:"nudge_window_start"`
	NudgeWindowEnd   *string `json:"nudge_window_end"`
	NudgeText        string  `json:"nudge_text"`
	MemoryContext    *string `json:"memory_context,omitempty"`
	Category         *string `json:"category"`
	ParentRef        *string `json:"parent_ref"`
}

// Link places the task at ChildIndex under the task bound to ParentRef.
type Link struct {
	ChildIndex int    `json:"child_index"`
	ParentRef  string `json:"parent_ref"`
}

// TaskSelector identifies an existing task.
type TaskSelector struct {
	By    string `json:"by"`
	Value string `json:"value"`
}

// Snooze is either {minutes} or {new_window_start, new_window_end}.
type Snooze struct {
	Minutes        *int    `json:"minutes,omitempty"`
	NewWindowStart *string `json:"new_window_start,omitempty"`
	NewWindowEnd   *string `json:"new_window_end,omitempty"`
}

// ConfigItem is one requested setting change.
type ConfigItem struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// Decode parses data strictly and validates it. Any failure is an *Error.
func Decode(data []byte) (*Document, error) {
	dec := json.NewDecoder(bytes.NewReader(bytes.TrimSpace(data)))
	dec.DisallowUnknownFields()

	var d Document
	if err := dec.Decode(&d); err != nil {
		return nil, &Error{Reason: "model response was not valid JSON", Err: err}
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, &Error{Reason: "trailing data after document"}
	}
	if err := d.Validate(); err != nil {
		return nil, &Error{Reason: "model output failed schema validation", Err: err}
	}
	return &d, nil
}

// Validate checks the document shape.
func (d Document) Validate() error {
	return validation.ValidateStruct(&d,
		validation.Field(&d.Version, validation.Required, validation.In(Version)),
		validation.Field(&d.Intent, validation.Required,
			validation.In(IntentCreate, IntentSnooze, IntentComplete, IntentList, IntentConfig, IntentClarify)),
		validation.Field(&d.Tasks),
		validation.Field(&d.Links),
		validation.Field(&d.TaskSelector),
		validation.Field(&d.Snooze),
		validation.Field(&d.Config),
	)
}

// Validate checks a proposed task.
func (t Task) Validate() error {
	return validation.ValidateStruct(&t,
		validation.Field(&t.Title, validation.Required, validation.RuneLength(1, 255)),
		validation.Field(&t.Priority, validation.Min(-10), validation.Max(10)),
		validation.Field(&t.NudgeWindowStart, validation.By(timestamp)),
		validation.Field(&t.NudgeWindowEnd, validation.By(timestamp)),
	)
}

// Validate checks a link.
func (l Link) Validate() error {
	return validation.ValidateStruct(&l,
		validation.Field(&l.ChildIndex, validation.Min(0)),
		validation.Field(&l.ParentRef, validation.Required),
	)
}

// Validate checks a selector.
func (s TaskSelector) Validate() error {
	return validation.ValidateStruct(&s,
		validation.Field(&s.By, validation.Required, validation.In("id", "latest", "title")),
	)
}

// Validate checks that exactly one snooze mode is present.
func (s Snooze) Validate() error {
	if s.Minutes != nil {
		if s.NewWindowStart != nil || s.NewWindowEnd != nil {
			return errors.New("snooze: minutes cannot be combined with a window")
		}
		if *s.Minutes < 1 {
			return errors.New("snooze: minutes must be at least 1")
		}
		return nil
	}
	if s.NewWindowStart == nil {
		return errors.New("snooze: minutes or new_window_start is required")
	}
	return validation.ValidateStruct(&s,
		validation.Field(&s.NewWindowStart, validation.Required, validation.By(timestamp)),
		validation.Field(&s.NewWindowEnd, validation.By(timestamp)),
	)
}

// Validate checks a config item.
func (c ConfigItem) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Key, validation.Required),
	)
}

// timestamp accepts an empty value or a parseable timestamp.
func timestamp(value any) error {
	var s string
	switch v := value.(type) {
	case string:
		s = v
	case *string:
		if v == nil {
			return nil
		}
		s = *v
	default:
		return fmt.Errorf("unexpected type %T", value)
	}
	if strings.TrimSpace(s) == "" {
		return nil
	}
	if _, err := timewindow.Parse(strings.TrimSpace(s)); err != nil {
		return errors.New("must be an ISO-8601 timestamp")
	}
	return nil
}

func parseOptional(s *string) *time.Time {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	t, err := timewindow.Parse(strings.TrimSpace(*s))
	if err != nil {
		return nil
	}
	return &t
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

// Batch converts the proposed tasks and links for the graph builder. A
// missing window start is left zero so the builder uses the build time.
func (d *Document) Batch() taskgraph.Batch {
	b := taskgraph.Batch{Tasks: make([]taskgraph.Proposal, 0, len(d.Tasks))}
	for _, t := range d.Tasks {
		p := taskgraph.Proposal{
			Title:         t.Title,
			Priority:      t.Priority,
			WindowEnd:     parseOptional(t.NudgeWindowEnd),
			ReminderText:  t.NudgeText,
			MemoryContext: deref(t.MemoryContext),
			Category:      deref(t.Category),
			ParentRef:     deref(t.ParentRef),
		}
		if start := parseOptional(&t.NudgeWindowStart); start != nil {
			p.WindowStart = *start
		}
		b.Tasks = append(b.Tasks, p)
	}
	for _, l := range d.Links {
		b.Links = append(b.Links, taskgraph.Link{ChildIndex: l.ChildIndex, ParentRef: l.ParentRef})
	}
	return b
}

// SnoozeRequest extracts the snooze from the document, falling back to the
// window of the first task. It reports false when neither is present.
func (d *Document) SnoozeRequest() (taskservice.SnoozeRequest, bool) {
	if s := d.Snooze; s != nil {
		if s.Minutes != nil {
			return taskservice.SnoozeRequest{Minutes: *s.Minutes}, true
		}
		return taskservice.SnoozeRequest{Start: parseOptional(s.NewWindowStart), End: parseOptional(s.NewWindowEnd)}, true
	}
	if len(d.Tasks) > 0 {
		t := d.Tasks[0]
		req := taskservice.SnoozeRequest{Start: parseOptional(&t.NudgeWindowStart), End: parseOptional(t.NudgeWindowEnd)}
		if req.Start == nil && req.End == nil {
			return taskservice.SnoozeRequest{}, false
		}
		return req, true
	}
	return taskservice.SnoozeRequest{}, false
}

// ConfigUpdates returns the requested setting changes in order.
func (d *Document) ConfigUpdates() []settings.Update {
	out := make([]settings.Update, 0, len(d.Config))
	for _, c := range d.Config {
		out = append(out, settings.Update{Key: strings.TrimSpace(c.Key), Value: c.Value})
	}
	return out
}

// Clarification returns the clarify question or fallback.
func (d *Document) Clarification(fallback string) string {
	if q := strings.TrimSpace(deref(d.ClarifyQuestion)); q != "" {
		return q
	}
	return fallback
}
