package sse

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"
)

var alice = Topic{Scope: ScopeRecipient, ID: "alice"}

func TestSubscribeUnsubscribe(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients")
	}
	ch := b.Subscribe(alice)
	if b.ClientCount() != 1 || b.TopicCount(alice) != 1 {
		t.Fatalf("expected 1 client")
	}
	if b.TopicCount(Topic{Scope: ScopeChannel, ID: "alice"}) != 0 {
		t.Fatalf("channel scope must not match recipient scope")
	}
	b.Unsubscribe(ch)
	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after unsub")
	}
}

func TestSendDirectDeliversOnlyToRecipient(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	mine := b.Subscribe(alice)
	defer b.Unsubscribe(mine)
	other := b.Subscribe(Topic{Scope: ScopeRecipient, ID: "bob"})
	defer b.Unsubscribe(other)

	if err := b.SendDirect(context.Background(), "alice", "Nudge [1]: water plants"); err != nil {
		t.Fatalf("SendDirect: %v", err)
	}

	select {
	case msg := <-mine:
		s := string(msg)
		if !strings.Contains(s, "event: nudge") || !strings.Contains(s, `"text":"Nudge [1]: water plants"`) {
			t.Errorf("unexpected frame %q", s)
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for message")
	}
	select {
	case msg := <-other:
		t.Errorf("bob received %q", msg)
	default:
	}
}

func TestSendDirectWithoutSubscriberFails(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	err := b.SendDirect(context.Background(), "nobody", "hi")
	if !errors.Is(err, ErrNoSubscriber) {
		t.Fatalf("err = %v, want ErrNoSubscriber", err)
	}
	if err := b.Reply(context.Background(), "c1", "hi"); err != nil {
		t.Errorf("Reply without listener should be dropped quietly: %v", err)
	}
}

func TestSSEHandler(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	req := httptest.NewRequest(http.MethodGet, "/api/events?channel=c1", nil)
	req = req.WithContext(ctx)
	w := httptest.NewRecorder()

	done := make(chan struct{})
	go func() {
		b.ServeHTTP(w, req)
		close(done)
	}()

	// Give handler time to subscribe.
	time.Sleep(50 * time.Millisecond)
	if b.TopicCount(Topic{Scope: ScopeChannel, ID: "c1"}) != 1 {
		t.Fatalf("expected 1 channel client from handler")
	}

	if err := b.Reply(context.Background(), "c1", "Done [3] (+0 subtasks). Good job!"); err != nil {
		t.Fatal(err)
	}
	time.Sleep(50 * time.Millisecond)

	cancel()
	<-done

	body := w.Body.String()
	if !strings.Contains(body, "event: reply") || !strings.Contains(body, "Good job!") {
		t.Errorf("handler output missing event: %q", body)
	}

	time.Sleep(50 * time.Millisecond)
	if b.ClientCount() != 0 {
		t.Errorf("client not cleaned up after disconnect")
	}
}

func TestSSEHandlerRequiresTopic(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()

	w := httptest.NewRecorder()
	b.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/events", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
}

func TestPublishDropsOnFullBuffer(t *testing.T) {
	b := NewBroker(time.Second)
	defer b.Close()
	ch := b.Subscribe(alice)
	defer b.Unsubscribe(ch)

	// Capacity is 64; the rest are dropped without blocking.
	delivered := 0
	for i := 0; i < 70; i++ {
		n, err := b.Publish(context.Background(), alice, Event{Type: "test", Data: i})
		if err != nil {
			t.Fatal(err)
		}
		delivered += n
	}
	if delivered != 64 {
		t.Errorf("delivered = %d, want 64", delivered)
	}
}

func TestCloseClosesSubscribersAndStopsOperations(t *testing.T) {
	b := NewBroker(time.Second)
	ch := b.Subscribe(alice)
	if b.ClientCount() != 1 {
		t.Fatalf("expected 1 client")
	}

	b.Close()

	select {
	case _, ok := <-ch:
		if ok {
			t.Fatal("expected subscriber channel to be closed")
		}
	case <-time.After(time.Second):
		t.Fatal("timeout waiting for channel close")
	}

	if b.ClientCount() != 0 {
		t.Fatalf("expected 0 clients after close")
	}
	if err := b.SendDirect(context.Background(), "alice", "x"); !errors.Is(err, ErrNoSubscriber) {
		t.Errorf("SendDirect after close = %v", err)
	}
}

func TestLineNotifier(t *testing.T) {
	var buf strings.Builder
	n := NewLineNotifier(&buf)
	n.now = func() time.Time { return time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC) }

	if err := n.SendDirect(context.Background(), "u1", "Nudge [4]: stretch"); err != nil {
		t.Fatal(err)
	}
	want := `{"to":"u1","text":"Nudge [4]: stretch","sent_at":"2026-03-01T09:00:00Z"}` + "\n"
	if buf.String() != want {
		t.Errorf("line = %q, want %q", buf.String(), want)
	}
}
