package command

import (
	"context"
	"errors"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/starford/nudger/internal/compiler"
	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/store"
	"github.com/starford/nudger/internal/taskservice"
	"github.com/starford/nudger/internal/testutil"
)

type recordingReplier struct {
	mu      sync.Mutex
	replies map[string][]string
}

func (r *recordingReplier) Reply(_ context.Context, channelID, text string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.replies == nil {
		r.replies = map[string][]string{}
	}
	r.replies[channelID] = append(r.replies[channelID], text)
	return nil
}

type fixture struct {
	db      *store.DB
	handler *Handler
	replier *recordingReplier
	lastReq compiler.Request
	output  string
	err     error
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{db: testutil.TestDB(t), replier: &recordingReplier{}}
	st := settings.NewService(f.db, nil)
	if _, err := st.Apply(context.Background(), []settings.Update{{Key: settings.KeyTimezone, Value: "UTC"}}); err != nil {
		t.Fatal(err)
	}
	comp := compiler.Func(func(_ context.Context, req compiler.Request) (*compiler.Document, error) {
		f.lastReq = req
		if f.err != nil {
			return nil, f.err
		}
		return compiler.Decode([]byte(f.output))
	})
	f.handler = NewHandler(taskservice.NewService(f.db), st, comp, f.replier, nil)
	return f
}

func (f *fixture) send(t *testing.T, text string) string {
	t.Helper()
	reply, ok := f.handler.Handle(context.Background(), models.Message{SenderID: "u1", ChannelID: "c1", MessageID: "m1", Text: text})
	if !ok {
		t.Fatalf("%q was not handled as a command", text)
	}
	return reply
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func TestHandleIgnoresNonCommands(t *testing.T) {
	f := newFixture(t)
	if _, ok := f.handler.Handle(context.Background(), models.Message{SenderID: "u1", ChannelID: "c1", Text: "good morning"}); ok {
		t.Fatal("plain chatter should be ignored")
	}
	if len(f.replier.replies) != 0 {
		t.Errorf("unexpected replies: %v", f.replier.replies)
	}
}

func TestHelpIsDeliveredToChannel(t *testing.T) {
	f := newFixture(t)
	f.send(t, "help")
	if got := f.replier.replies["c1"]; len(got) != 1 || got[0] != HelpText {
		t.Errorf("replies = %v", got)
	}
}

func TestList(t *testing.T) {
	f := newFixture(t)
	if got := f.send(t, "list"); got != "No pending top-level tasks." {
		t.Errorf("empty list = %q", got)
	}

	start := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	end := start.Add(2 * time.Hour)
	low := testutil.InsertTask(t, f.db, store.NewTask{Title: "low", WindowStart: start, Origin: models.Origin{UserID: "u1"}})
	high := testutil.InsertTask(t, f.db, store.NewTask{Title: "high", Priority: 5, WindowStart: start, WindowEnd: &end, Origin: models.Origin{UserID: "u1"}})
	testutil.InsertTask(t, f.db, store.NewTask{Title: "someone else", WindowStart: start, Origin: models.Origin{UserID: "u2"}})
	testutil.InsertTask(t, f.db, store.NewTask{Title: "child", ParentID: &high, WindowStart: start, Origin: models.Origin{UserID: "u1"}})

	want := "[" + itoa(high) + "] high | 2026-03-01 10:00 -> 2026-03-01 12:00\n" +
		"[" + itoa(low) + "] low | 2026-03-01 10:00 -> open"
	if got := f.send(t, "list"); got != want {
		t.Errorf("list =\n%s\nwant\n%s", got, want)
	}
}

func TestDone(t *testing.T) {
	f := newFixture(t)
	origin := models.Origin{UserID: "u1"}
	root := testutil.InsertTask(t, f.db, store.NewTask{Title: "root", Origin: origin})
	child := testutil.InsertTask(t, f.db, store.NewTask{Title: "child", ParentID: &root, Origin: origin})
	testutil.InsertTask(t, f.db, store.NewTask{Title: "grandchild", ParentID: &child, Origin: origin})
	foreign := testutil.InsertTask(t, f.db, store.NewTask{Title: "foreign", Origin: models.Origin{UserID: "u2"}})

	id := itoa(root)
	if got := f.send(t, "done: "+id); got != "Done ["+id+"] (+2 subtasks). Good job!" {
		t.Errorf("first done = %q", got)
	}
	if got := f.send(t, "done: "+id); got != "Task ["+id+"] is already done." {
		t.Errorf("second done = %q", got)
	}
	if got := f.send(t, "done: "+itoa(foreign)); got != "Task "+itoa(foreign)+" not found." {
		t.Errorf("foreign done = %q", got)
	}
	if got := f.send(t, "done: 0"); got != "Use: done: <taskId>" {
		t.Errorf("usage = %q", got)
	}
}

func TestDoneRootAlreadyDone(t *testing.T) {
	f := newFixture(t)
	origin := models.Origin{UserID: "u1"}
	root := testutil.InsertTask(t, f.db, store.NewTask{Title: "root", Origin: origin})
	testutil.InsertTask(t, f.db, store.NewTask{Title: "child", ParentID: &root, Origin: origin})
	if _, err := f.db.MarkDone(context.Background(), []int64{root}, "u1"); err != nil {
		t.Fatal(err)
	}

	id := itoa(root)
	if got := f.send(t, "done: "+id); got != "Task ["+id+"] was already done; marked 1 subtask(s) done." {
		t.Errorf("done = %q", got)
	}
}

func TestExplain(t *testing.T) {
	f := newFixture(t)
	origin := models.Origin{UserID: "u1"}
	bare := testutil.InsertTask(t, f.db, store.NewTask{Title: "bare", Category: "chores", Origin: origin})
	long := "note: " + strings.Repeat("z", explainClip)
	noted := testutil.InsertTask(t, f.db, store.NewTask{Title: "noted", MemoryContext: long, Origin: origin})

	id := itoa(bare)
	want := "Explain [" + id + "]: no extra notes saved. Task looks self-explanatory.\nCategory: chores"
	if got := f.send(t, "explain: "+id); got != want {
		t.Errorf("bare = %q", got)
	}

	got := f.send(t, "explain: "+itoa(noted))
	if !strings.HasPrefix(got, "Explain ["+itoa(noted)+"] noted\nnote: ") || !strings.HasSuffix(got, "z...") {
		t.Errorf("noted = %q", got)
	}
	if n := strings.Count(got, "z"); n != explainClip-len("note: ") {
		t.Errorf("kept %d note chars, want %d", n, explainClip-len("note: "))
	}

	if got := f.send(t, "explain: 999"); got != "Task 999 not found." {
		t.Errorf("missing = %q", got)
	}
}

const twoTasks = `{"version":1,"intent":"create","tasks":[
 {"title":"Fix sink","priority":2,"nudge_window_start":"2026-03-01T10:00:00Z","nudge_window_end":null,"nudge_text":"","category":"Home Maintenance","parent_ref":null},
 {"title":"Buy silicone","priority":0,"nudge_window_start":"2026-03-01T10:00:00Z","nudge_window_end":null,"nudge_text":"","category":null,"parent_ref":null}
],"links":[],"task_selector":null,"snooze":null,"config":[],"clarify_question":null}`

func TestNudgeCoercesToSingleTopLevel(t *testing.T) {
	f := newFixture(t)
	f.output = twoTasks

	got := f.send(t, "nudge: fix sink next week, need silicone first")
	for _, want := range []string{
		"Created 1 task(s) + 1 subtask(s):",
		"] Fix sink {home-maintenance}",
		"] Buy silicone",
		"Nudge window (UTC):",
		"2026-03-01 10:00 -> open",
		ReplyCoercionHint,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("reply missing %q:\n%s", want, got)
		}
	}
	if f.lastReq.Command != compiler.CommandNudge || f.lastReq.Text != "fix sink next week, need silicone first" {
		t.Errorf("compile request = %+v", f.lastReq)
	}

	tasks, err := f.db.ListPendingTopLevel(context.Background(), "u1", 0)
	if err != nil || len(tasks) != 1 {
		t.Fatalf("top-level = %v, %v", tasks, err)
	}
	if tasks[0].Origin.ChannelID != "c1" || tasks[0].Origin.MessageID != "m1" {
		t.Errorf("origin = %+v", tasks[0].Origin)
	}
}

func TestNudgeWithCueKeepsSeparateTasks(t *testing.T) {
	f := newFixture(t)
	f.output = twoTasks

	got := f.send(t, "nudge: fix sink, also buy silicone")
	if !strings.HasPrefix(got, "Created 2 task(s):") || strings.Contains(got, "Hint:") {
		t.Errorf("reply = %s", got)
	}
}

func TestNudgeCompilerOutcomes(t *testing.T) {
	tests := []struct {
		name   string
		output string
		err    error
		want   string
	}{
		{"clarify", `{"version":1,"intent":"clarify","clarify_question":"Which sink?"}`, nil, "Which sink?"},
		{"clarify fallback", `{"version":1,"intent":"clarify"}`, nil, "Can you clarify that nudge?"},
		{"wrong intent", `{"version":1,"intent":"list"}`, nil, "I expected a create intent. Please rephrase your nudge."},
		{"no tasks", `{"version":1,"intent":"create","tasks":[]}`, nil, "I could not build tasks. Rephrase with clearer time/context."},
		{"invalid output", `{"version":1,"intent":"create","bogus":1}`, nil, ReplyParseFailed},
		{"transport", "", errors.New("dial tcp: refused"), ReplyCompilerFailed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.output, f.err = tt.output, tt.err
			if got := f.send(t, "nudge: something"); got != tt.want {
				t.Errorf("reply = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestSnooze(t *testing.T) {
	f := newFixture(t)
	id := testutil.InsertTask(t, f.db, store.NewTask{Title: "call mom", Origin: models.Origin{UserID: "u1"}})
	f.output = `{"version":1,"intent":"snooze","snooze":{"minutes":90}}`

	got := f.send(t, "snooze: "+itoa(id)+" 90m")
	if !strings.HasPrefix(got, "Snoozed ["+itoa(id)+"] -> ") || !strings.HasSuffix(got, " to open") {
		t.Errorf("reply = %q", got)
	}
	if f.lastReq.Command != compiler.CommandSnooze || !strings.Contains(f.lastReq.Text, `"task_id":`+itoa(id)) || !strings.Contains(f.lastReq.Text, `"user_request":"90m"`) {
		t.Errorf("compile request = %+v", f.lastReq)
	}

	task, err := f.db.GetTask(context.Background(), id, "u1")
	if err != nil {
		t.Fatal(err)
	}
	if task.SnoozeCount != 1 || !task.WindowStart.After(time.Now().Add(80*time.Minute)) {
		t.Errorf("task after snooze = %+v", task)
	}
}

func TestSnoozeRejections(t *testing.T) {
	f := newFixture(t)
	id := testutil.InsertTask(t, f.db, store.NewTask{Title: "x", Origin: models.Origin{UserID: "u1"}})
	done := testutil.InsertTask(t, f.db, store.NewTask{Title: "y", Origin: models.Origin{UserID: "u1"}})
	if _, err := f.db.MarkDone(context.Background(), []int64{done}, "u1"); err != nil {
		t.Fatal(err)
	}

	if got := f.send(t, "snooze: "+itoa(done)+" 2h"); got != "Task "+itoa(done)+" not found or not pending." {
		t.Errorf("done task = %q", got)
	}

	f.output = `{"version":1,"intent":"create"}`
	if got := f.send(t, "snooze: "+itoa(id)+" 2h"); got != "I expected a snooze intent. Try `snooze: <id> 2h`." {
		t.Errorf("wrong intent = %q", got)
	}

	f.output = `{"version":1,"intent":"snooze"}`
	if got := f.send(t, "snooze: "+itoa(id)+" 2h"); got != "I could not parse that snooze. Try `snooze: <id> 2h`." {
		t.Errorf("no payload = %q", got)
	}
}

func TestConfig(t *testing.T) {
	f := newFixture(t)
	f.output = `{"version":1,"intent":"config","config":[{"key":"max_subtasks","value":"5"},{"key":"favorite_color","value":"blue"}]}`

	if got := f.send(t, "config: allow five subtasks"); got != "Config updated: max_subtasks=5" {
		t.Errorf("reply = %q", got)
	}
	stored, err := f.db.AllSettings(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if stored["max_subtasks"] != "5" {
		t.Errorf("stored = %v", stored)
	}
	if _, ok := stored["favorite_color"]; ok {
		t.Error("unknown key was stored")
	}

	f.output = `{"version":1,"intent":"config","config":[{"key":"favorite_color","value":"blue"}]}`
	if got := f.send(t, "config: color blue"); got != "No valid config keys found." {
		t.Errorf("reply = %q", got)
	}
}
