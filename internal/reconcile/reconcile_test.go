package reconcile_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/reconcile"
	"github.com/starford/nudger/internal/store"
	"github.com/starford/nudger/internal/taskservice"
	"github.com/starford/nudger/internal/testutil"
	"github.com/starford/nudger/internal/trello"
)

type fakeTracker struct {
	mu        sync.Mutex
	cards     []trello.Card
	created   []trello.NewCard
	failAfter int
	listErr   error
}

func (f *fakeTracker) ListBoardCards(context.Context) ([]trello.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.listErr != nil {
		return nil, f.listErr
	}
	return append([]trello.Card(nil), f.cards...), nil
}

func (f *fakeTracker) CreateCard(_ context.Context, nc trello.NewCard) (*trello.Card, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.failAfter > 0 && len(f.created) >= f.failAfter {
		return nil, errors.New("trello down")
	}
	f.created = append(f.created, nc)
	c := trello.Card{ID: fmt.Sprintf("card-%d", len(f.created)), IDList: "todo", Name: nc.Name, ShortURL: "https://trello.test/c"}
	f.cards = append(f.cards, c)
	return &c, nil
}

func (f *fakeTracker) DoneListID() string { return "done" }

func (f *fakeTracker) move(id, list string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for i := range f.cards {
		if f.cards[i].ID == id {
			f.cards[i].IDList = list
		}
	}
}

func newReconciler(t *testing.T, tr reconcile.Tracker) (*reconcile.Reconciler, *store.DB) {
	t.Helper()
	db := testutil.TestDB(t)
	return reconcile.New(db, tr, taskservice.NewService(db), nil), db
}

func TestSkippedWithoutTracker(t *testing.T) {
	r, _ := newReconciler(t, nil)
	pull, err := r.Pull(context.Background())
	if err != nil || !pull.Skipped {
		t.Errorf("Pull = %+v, %v", pull, err)
	}
	push, err := r.Push(context.Background())
	if err != nil || !push.Skipped {
		t.Errorf("Push = %+v, %v", push, err)
	}
}

func TestPushIsIdempotent(t *testing.T) {
	tr := &fakeTracker{}
	r, db := newReconciler(t, tr)
	ctx := context.Background()
	a := testutil.InsertTask(t, db, store.NewTask{Title: "a"})
	testutil.InsertTask(t, db, store.NewTask{Title: "b"})
	testutil.InsertTask(t, db, store.NewTask{Title: "sub", ParentID: &a})

	first, err := r.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	second, err := r.Push(ctx)
	if err != nil {
		t.Fatalf("Push: %v", err)
	}
	if first.Created != 2 || second.Created != 0 {
		t.Errorf("created %d then %d, want 2 then 0", first.Created, second.Created)
	}
	if len(tr.created) != 2 {
		t.Errorf("tracker saw %d cards, want 2", len(tr.created))
	}
	if !strings.HasPrefix(tr.created[0].Name, fmt.Sprintf("[%d] ", a)) {
		t.Errorf("card name = %q", tr.created[0].Name)
	}
}

func TestConcurrentPushCreatesOneCardPerTask(t *testing.T) {
	tr := &fakeTracker{}
	r, db := newReconciler(t, tr)
	for range 3 {
		testutil.InsertTask(t, db, store.NewTask{Title: "x"})
	}

	var wg sync.WaitGroup
	for range 4 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := r.Push(context.Background()); err != nil {
				t.Errorf("Push: %v", err)
			}
		}()
	}
	wg.Wait()

	if len(tr.created) != 3 {
		t.Errorf("tracker saw %d cards, want 3", len(tr.created))
	}
}

func TestPushFailureAbandonsPassAndReleasesClaim(t *testing.T) {
	tr := &fakeTracker{failAfter: 1}
	r, db := newReconciler(t, tr)
	ctx := context.Background()
	testutil.InsertTask(t, db, store.NewTask{Title: "a"})
	b := testutil.InsertTask(t, db, store.NewTask{Title: "b"})
	testutil.InsertTask(t, db, store.NewTask{Title: "c"})

	res, err := r.Push(ctx)
	if err == nil {
		t.Fatal("expected error")
	}
	if res.Created != 1 {
		t.Errorf("created = %d, want 1", res.Created)
	}
	n, err := db.LinkCount(ctx, b, reconcile.Provider)
	if err != nil {
		t.Fatal(err)
	}
	if n != 0 {
		t.Errorf("failed task kept %d link rows", n)
	}

	tr.failAfter = 0
	res, err = r.Push(ctx)
	if err != nil || res.Created != 2 {
		t.Errorf("retry Push = %+v, %v", res, err)
	}
}

func TestPullMarksDoneFromTracker(t *testing.T) {
	tr := &fakeTracker{}
	r, db := newReconciler(t, tr)
	ctx := context.Background()
	a := testutil.InsertTask(t, db, store.NewTask{Title: "a"})
	testutil.InsertTask(t, db, store.NewTask{Title: "a-sub", ParentID: &a})
	b := testutil.InsertTask(t, db, store.NewTask{Title: "b"})
	testutil.InsertTask(t, db, store.NewTask{Title: "c"})

	if _, err := r.Push(ctx); err != nil {
		t.Fatal(err)
	}
	tr.move("card-1", "done")
	tr.mu.Lock()
	tr.cards[1].Closed = true
	tr.cards = tr.cards[:2] // card-3 vanished remotely
	tr.mu.Unlock()

	res, err := r.Pull(ctx)
	if err != nil {
		t.Fatalf("Pull: %v", err)
	}
	if res.Checked != 3 || res.DoneUpdated != 2 || res.Missing != 1 {
		t.Errorf("Pull = %+v, want checked 3, done 2, missing 1", res)
	}
	for _, id := range []int64{a, b} {
		got, _ := db.GetTask(ctx, id, "")
		if got.Status != models.StatusDone {
			t.Errorf("task %d status = %s", id, got.Status)
		}
	}
	pending, _ := db.ListPendingSubtasks(ctx, []int64{a})
	if len(pending) != 0 {
		t.Error("subtask should be done through the cascade")
	}

	links, err := db.ListOpenLinks(ctx, reconcile.Provider)
	if err != nil {
		t.Fatal(err)
	}
	if len(links) != 1 || links[0].LastSyncedAt == nil {
		t.Errorf("open links = %+v", links)
	}
}

func TestPullTrackerErrorAbandonsPass(t *testing.T) {
	tr := &fakeTracker{}
	r, db := newReconciler(t, tr)
	testutil.InsertTask(t, db, store.NewTask{Title: "a"})
	if _, err := r.Push(context.Background()); err != nil {
		t.Fatal(err)
	}
	tr.listErr = errors.New("503")
	if _, err := r.Pull(context.Background()); err == nil {
		t.Error("expected error")
	}
}

func TestCardFor(t *testing.T) {
	card := reconcile.CardFor(models.Task{ID: 7, Title: "Fix sink", Status: models.StatusPending, Priority: 2, ReminderText: "go", MemoryContext: "buy silicone"})
	if card.Name != "[7] Fix sink" || card.Due != nil {
		t.Errorf("card = %+v", card)
	}
	for _, want := range []string{"Nudger Task ID: 7", "Window End (UTC): open-ended", "Nudge Text:\ngo", "Context:\nbuy silicone"} {
		if !strings.Contains(card.Desc, want) {
			t.Errorf("desc missing %q:\n%s", want, card.Desc)
		}
	}
}
