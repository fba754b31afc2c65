package sse

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"
)

// LineNotifier writes direct messages as JSON lines, one Message per line.
// It serves one-shot runs where no stream is attached.
type LineNotifier struct {
	mu  sync.Mutex
	enc *json.Encoder
	now func() time.Time
}

// NewLineNotifier creates a LineNotifier writing to w.
func NewLineNotifier(w io.Writer) *LineNotifier {
	return &LineNotifier{enc: json.NewEncoder(w), now: time.Now}
}

// SendDirect writes one line addressed to recipient.
func (n *LineNotifier) SendDirect(ctx context.Context, recipient, text string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enc.Encode(Message{To: recipient, Text: text, SentAt: n.now().UTC()})
}
