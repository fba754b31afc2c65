package compiler

import (
	"errors"
	"strings"
	"testing"
	"time"
)

const validCreate = `{
  "version": 1,
  "intent": "create",
  "tasks": [
    {"title": "Fix sink", "priority": 3, "nudge_window_start": "2026-03-01T10:00:00-03:00",
     "nudge_window_end": "2026-03-01T12:00:00-03:00", "nudge_text": "Nudge [{{id}}]: sink",
     "memory_context": null, "category": "home-maintenance", "parent_ref": "sink"},
    {"title": "Buy silicone", "priority": 0, "nudge_window_start": "",
     "nudge_window_end": null, "nudge_text": "", "category": null, "parent_ref": null}
  ],
  "links": [{"child_index": 1, "parent_ref": "sink"}],
  "task_selector": null,
  "snooze": null,
  "config": [],
  "clarify_question": null
}`

func TestDecodeValid(t *testing.T) {
	d, err := Decode([]byte(validCreate))
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if d.Intent != IntentCreate || len(d.Tasks) != 2 || len(d.Links) != 1 {
		t.Fatalf("unexpected document: %+v", d)
	}

	b := d.Batch()
	wantStart := time.Date(2026, 3, 1, 13, 0, 0, 0, time.UTC)
	if !b.Tasks[0].WindowStart.Equal(wantStart) || b.Tasks[0].WindowEnd == nil {
		t.Errorf("window = %v..%v", b.Tasks[0].WindowStart, b.Tasks[0].WindowEnd)
	}
	if !b.Tasks[1].WindowStart.IsZero() || b.Tasks[1].WindowEnd != nil {
		t.Errorf("missing start should stay zero, got %v", b.Tasks[1].WindowStart)
	}
	if b.Tasks[0].ParentRef != "sink" || b.Tasks[0].Category != "home-maintenance" || b.Links[0].ChildIndex != 1 {
		t.Errorf("batch = %+v", b)
	}
}

func TestDecodeRejects(t *testing.T) {
	tests := map[string]string{
		"not json":        `nope`,
		"unknown field":   `{"version":1,"intent":"list","extra":true}`,
		"nested unknown":  `{"version":1,"intent":"config","config":[{"key":"a","value":"b","x":1}]}`,
		"bad version":     `{"version":2,"intent":"list"}`,
		"bad intent":      `{"version":1,"intent":"delete"}`,
		"empty title":     `{"version":1,"intent":"create","tasks":[{"title":"","priority":0,"nudge_window_start":"","nudge_window_end":null,"nudge_text":"","category":null,"parent_ref":null}]}`,
		"priority range":  `{"version":1,"intent":"create","tasks":[{"title":"x","priority":11,"nudge_window_start":"","nudge_window_end":null,"nudge_text":"","category":null,"parent_ref":null}]}`,
		"bad timestamp":   `{"version":1,"intent":"create","tasks":[{"title":"x","priority":0,"nudge_window_start":"tomorrow","nudge_window_end":null,"nudge_text":"","category":null,"parent_ref":null}]}`,
		"negative index":  `{"version":1,"intent":"create","links":[{"child_index":-1,"parent_ref":"a"}]}`,
		"empty ref":       `{"version":1,"intent":"create","links":[{"child_index":0,"parent_ref":""}]}`,
		"snooze both":     `{"version":1,"intent":"snooze","snooze":{"minutes":5,"new_window_start":"2026-03-01T10:00:00Z"}}`,
		"snooze zero":     `{"version":1,"intent":"snooze","snooze":{"minutes":0}}`,
		"snooze empty":    `{"version":1,"intent":"snooze","snooze":{}}`,
		"bad selector":    `{"version":1,"intent":"complete","task_selector":{"by":"color","value":"red"}}`,
		"empty cfg key":   `{"version":1,"intent":"config","config":[{"key":"","value":"1"}]}`,
		"trailing object": `{"version":1,"intent":"list"} {"version":1}`,
	}
	for name, in := range tests {
		t.Run(name, func(t *testing.T) {
			_, err := Decode([]byte(in))
			var cerr *Error
			if !errors.As(err, &cerr) {
				t.Fatalf("err = %v, want *Error", err)
			}
		})
	}
}

func TestSnoozeRequest(t *testing.T) {
	d, err := Decode([]byte(`{"version":1,"intent":"snooze","snooze":{"minutes":120}}`))
	if err != nil {
		t.Fatal(err)
	}
	req, ok := d.SnoozeRequest()
	if !ok || req.Minutes != 120 {
		t.Errorf("req = %+v, %v", req, ok)
	}

	d, err = Decode([]byte(`{"version":1,"intent":"snooze","snooze":{"new_window_start":"2026-03-02T08:00:00Z","new_window_end":null}}`))
	if err != nil {
		t.Fatal(err)
	}
	req, ok = d.SnoozeRequest()
	if !ok || req.Start == nil || req.End != nil || req.Relative() {
		t.Errorf("req = %+v, %v", req, ok)
	}

	d, err = Decode([]byte(`{"version":1,"intent":"snooze","tasks":[{"title":"x","priority":0,"nudge_window_start":"2026-03-02T08:00:00Z","nudge_window_end":"2026-03-02T09:00:00Z","nudge_text":"","category":null,"parent_ref":null}]}`))
	if err != nil {
		t.Fatal(err)
	}
	req, ok = d.SnoozeRequest()
	if !ok || req.Start == nil || req.End == nil {
		t.Errorf("fallback req = %+v, %v", req, ok)
	}

	d, err = Decode([]byte(`{"version":1,"intent":"snooze"}`))
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := d.SnoozeRequest(); ok {
		t.Error("document without snooze or tasks should not yield a request")
	}
}

func TestClarification(t *testing.T) {
	d, _ := Decode([]byte(`{"version":1,"intent":"clarify","clarify_question":"  When?  "}`))
	if got := d.Clarification("fallback"); got != "When?" {
		t.Errorf("got %q", got)
	}
	d, _ = Decode([]byte(`{"version":1,"intent":"clarify"}`))
	if got := d.Clarification("fallback"); got != "fallback" {
		t.Errorf("got %q", got)
	}
}

func TestSchemaIsClosed(t *testing.T) {
	s := SchemaJSON()
	for _, want := range []string{`"additionalProperties": false`, `"clarify_question"`, `"minimum": -10`} {
		if !strings.Contains(s, want) {
			t.Errorf("schema missing %s", want)
		}
	}
}
