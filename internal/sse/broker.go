// Package sse implements the outbound message transport as Server-Sent Event
// streams. Clients subscribe to a recipient (direct reminders) or a channel
// (command replies).
package sse

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"
)

// ErrNoSubscriber is returned when a direct message has nobody to receive it.
var ErrNoSubscriber = errors.New("sse: no subscriber for recipient")

// Event types.
const (
	EventNudge = "nudge"
	EventReply = "reply"
)

// Scope selects which stream family a topic belongs to.
type Scope string

// Scopes.
const (
	ScopeRecipient Scope = "recipient"
	ScopeChannel   Scope = "channel"
)

// Topic addresses one stream.
type Topic struct {
	Scope Scope
	ID    string
}

// Event is a single SSE event.
type Event struct {
	Type string `json:"type"`
	Data any    `json:"data"`
}

// Message is the payload of nudge and reply events.
type Message struct {
	To     string    `json:"to"`
	Text   string    `json:"text"`
	SentAt time.Time `json:"sent_at"`
}

type publishReq struct {
	topic Topic
	event Event
	resp  chan int
}

type subscription struct {
	topic Topic
	ch    chan []byte
}

// Broker fans events out to subscribed streams.
//
// Concurrency model: a single internal event loop (goroutine) owns the
// subscriber table. Public methods talk to it through channels.
type Broker struct {
	keepAlive time.Duration

	subscribeCh   chan subscription
	unsubscribeCh chan chan []byte
	publishCh     chan publishReq
	countReqCh    chan countReq

	stopCh  chan struct{}
	stopped chan struct{}
	closed  atomic.Bool
}

type countReq struct {
	topic *Topic
	resp  chan int
}

// NewBroker creates a broker. Streams receive a comment line every keepAlive.
func NewBroker(keepAlive time.Duration) *Broker {
	if keepAlive <= 0 {
		keepAlive = 30 * time.Second
	}

	b := &Broker{
		keepAlive:     keepAlive,
		subscribeCh:   make(chan subscription),
		unsubscribeCh: make(chan chan []byte),
		publishCh:     make(chan publishReq, 256),
		countReqCh:    make(chan countReq),
		stopCh:        make(chan struct{}),
		stopped:       make(chan struct{}),
	}

	go b.run()
	return b
}

func (b *Broker) run() {
	defer close(b.stopped)

	clients := make(map[chan []byte]Topic)

	deliver := func(req publishReq) int {
		payload, err := json.Marshal(req.event.Data)
		if err != nil {
			return 0
		}
		raw := []byte(fmt.Sprintf("event: %s\ndata: %s\n\n", req.event.Type, payload))

		n := 0
		for ch, topic := range clients {
			if topic != req.topic {
				continue
			}
			select {
			case ch <- raw:
				n++
			default:
				// Client buffer full; skip to avoid blocking broker loop.
			}
		}
		return n
	}

	for {
		select {
		case <-b.stopCh:
			for ch := range clients {
				close(ch)
			}
			return

		case sub := <-b.subscribeCh:
			clients[sub.ch] = sub.topic

		case ch := <-b.unsubscribeCh:
			if _, ok := clients[ch]; ok {
				delete(clients, ch)
				close(ch)
			}

		case req := <-b.publishCh:
			n := deliver(req)
			if req.resp != nil {
				req.resp <- n
			}

		case req := <-b.countReqCh:
			n := 0
			for _, topic := range clients {
				if req.topic == nil || *req.topic == topic {
					n++
				}
			}
			req.resp <- n
		}
	}
}

// Close gracefully stops broker loop and closes all client channels.
func (b *Broker) Close() {
	if b.closed.CompareAndSwap(false, true) {
		close(b.stopCh)
	}
	<-b.stopped
}

// Subscribe adds a client for topic and returns its channel.
func (b *Broker) Subscribe(topic Topic) chan []byte {
	ch := make(chan []byte, 64)
	if b.closed.Load() {
		close(ch)
		return ch
	}

	select {
	case b.subscribeCh <- subscription{topic: topic, ch: ch}:
	case <-b.stopped:
		close(ch)
	}

	return ch
}

// Unsubscribe removes a client and closes its channel.
func (b *Broker) Unsubscribe(ch chan []byte) {
	if b.closed.Load() {
		return
	}
	select {
	case b.unsubscribeCh <- ch:
	case <-b.stopped:
	}
}

// ClientCount returns the number of connected clients.
func (b *Broker) ClientCount() int {
	return b.count(nil)
}

// TopicCount returns the number of clients subscribed to topic.
func (b *Broker) TopicCount(topic Topic) int {
	return b.count(&topic)
}

func (b *Broker) count(topic *Topic) int {
	if b.closed.Load() {
		return 0
	}

	resp := make(chan int, 1)
	select {
	case b.countReqCh <- countReq{topic: topic, resp: resp}:
	case <-b.stopped:
		return 0
	}

	select {
	case n := <-resp:
		return n
	case <-b.stopped:
		return 0
	}
}

// Publish sends an event to every client of topic and returns how many
// clients accepted it.
func (b *Broker) Publish(ctx context.Context, topic Topic, event Event) (int, error) {
	if b.closed.Load() {
		return 0, nil
	}
	req := publishReq{topic: topic, event: event, resp: make(chan int, 1)}
	select {
	case b.publishCh <- req:
	case <-b.stopped:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}

	select {
	case n := <-req.resp:
		return n, nil
	case <-b.stopped:
		return 0, nil
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// SendDirect delivers a reminder to recipient. It fails when no stream for
// the recipient accepted the message, so the caller can retry later.
func (b *Broker) SendDirect(ctx context.Context, recipient, text string) error {
	n, err := b.Publish(ctx, Topic{Scope: ScopeRecipient, ID: recipient}, Event{
		Type: EventNudge,
		Data: Message{To: recipient, Text: text, SentAt: time.Now().UTC()},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("%w %q", ErrNoSubscriber, recipient)
	}
	return nil
}

// Reply posts text to channelID. Replies with no listener are dropped.
func (b *Broker) Reply(ctx context.Context, channelID, text string) error {
	_, err := b.Publish(ctx, Topic{Scope: ScopeChannel, ID: channelID}, Event{
		Type: EventReply,
		Data: Message{To: channelID, Text: text, SentAt: time.Now().UTC()},
	})
	return err
}

// ServeHTTP is the SSE endpoint handler (GET /api/events?recipient=... or
// ?channel=...).
func (b *Broker) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	topic, ok := topicFromQuery(r)
	if !ok {
		http.Error(w, "recipient or channel is required", http.StatusBadRequest)
		return
	}

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ch := b.Subscribe(topic)
	defer b.Unsubscribe(ch)

	ticker := time.NewTicker(b.keepAlive)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_, _ = w.Write([]byte(": ping\n\n"))
			flusher.Flush()
		case msg, ok := <-ch:
			if !ok {
				return
			}
			_, _ = w.Write(msg)
			flusher.Flush()
		}
	}
}

func topicFromQuery(r *http.Request) (Topic, bool) {
	q := r.URL.Query()
	if id := q.Get("recipient"); id != "" {
		return Topic{Scope: ScopeRecipient, ID: id}, true
	}
	if id := q.Get("channel"); id != "" {
		return Topic{Scope: ScopeChannel, ID: id}, true
	}
	return Topic{}, false
}
