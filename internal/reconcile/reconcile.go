// Package reconcile synchronizes task state with an external card tracker.
package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/store"
	"github.com/starford/nudger/internal/taskservice"
	"github.com/starford/nudger/internal/trello"
)

// Provider is the link-table provider name for the Trello tracker.
const Provider = "trello"

// DefaultClaimTTL is how long an uncompleted push claim blocks other workers.
const DefaultClaimTTL = 10 * time.Minute

const skipReason = "tracker not configured"

// Tracker is the card-tracker boundary.
type Tracker interface {
	ListBoardCards(ctx context.Context) ([]trello.Card, error)
	CreateCard(ctx context.Context, nc trello.NewCard) (*trello.Card, error)
	DoneListID() string
}

// Completer runs the done cascade.
type Completer interface {
	Complete(ctx context.Context, id int64, userID string) (taskservice.DoneResult, error)
}

// PullResult summarizes a pull pass.
type PullResult struct {
	Skipped     bool   `json:"skipped"`
	Reason      string `json:"reason,omitempty"`
	Checked     int    `json:"checked"`
	DoneUpdated int    `json:"done_updated"`
	Missing     int    `json:"missing"`
}

// PushResult summarizes a push pass.
type PushResult struct {
	Skipped   bool   `json:"skipped"`
	Reason    string `json:"reason,omitempty"`
	Created   int    `json:"created"`
	Contended int    `json:"contended"`
}

// Reconciler runs pull and push passes. A nil tracker makes both passes
// report skipped.
type Reconciler struct {
	links    store.LinkStore
	tracker  Tracker
	done     Completer
	logger   *slog.Logger
	claimTTL time.Duration
}

// New creates a Reconciler.
func New(links store.LinkStore, tracker Tracker, done Completer, logger *slog.Logger) *Reconciler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Reconciler{links: links, tracker: tracker, done: done, logger: logger, claimTTL: DefaultClaimTTL}
}

// WithClaimTTL overrides how long a push claim blocks other workers.
// Non-positive values keep the current timeout.
func (r *Reconciler) WithClaimTTL(d time.Duration) *Reconciler {
	if d > 0 {
		r.claimTTL = d
	}
	return r
}

// Configured reports whether a tracker is attached.
func (r *Reconciler) Configured() bool {
	return r.tracker != nil
}

type linkPayload struct {
	ID       string  `json:"id"`
	IDList   string  `json:"idList"`
	ShortURL *string `json:"shortUrl"`
}

// Pull fetches the board once and marks locally pending tasks done when
// their card was archived or moved to the done list.
func (r *Reconciler) Pull(ctx context.Context) (PullResult, error) {
	if !r.Configured() {
		return PullResult{Skipped: true, Reason: skipReason}, nil
	}

	links, err := r.links.ListOpenLinks(ctx, Provider)
	if err != nil {
		return PullResult{}, err
	}
	var res PullResult
	if len(links) == 0 {
		return res, nil
	}

	cards, err := r.tracker.ListBoardCards(ctx)
	if err != nil {
		return res, fmt.Errorf("reconcile: list cards: %w", err)
	}
	byID := make(map[string]trello.Card, len(cards))
	for _, c := range cards {
		byID[c.ID] = c
	}

	doneList := r.tracker.DoneListID()
	for _, l := range links {
		res.Checked++
		payload := l.PayloadJSON

		card, ok := byID[l.ExternalID]
		if !ok {
			res.Missing++
		} else {
			if card.Closed || (doneList != "" && card.IDList == doneList) {
				dr, err := r.done.Complete(ctx, l.TaskID, "")
				if err != nil {
					r.logger.Warn("reconcile: complete failed", slog.Int64("task_id", l.TaskID), slog.String("error", err.Error()))
				} else if dr.UpdatedCount > 0 {
					res.DoneUpdated++
				}
			}
			payload = refreshPayload(l.PayloadJSON, card)
		}

		if err := r.links.TouchLink(ctx, l.ID, payload); err != nil {
			r.logger.Warn("reconcile: touch link failed", slog.Int64("task_id", l.TaskID), slog.String("error", err.Error()))
		}
	}
	return res, nil
}

// Push creates one card for every top-level task without a link. A task is
// claimed in the link table before its card is created, so concurrent or
// repeated passes never create a second card for it.
func (r *Reconciler) Push(ctx context.Context) (PushResult, error) {
	if !r.Configured() {
		return PushResult{Skipped: true, Reason: skipReason}, nil
	}

	tasks, err := r.links.ListUnlinked(ctx, Provider)
	if err != nil {
		return PushResult{}, err
	}

	var res PushResult
	for _, t := range tasks {
		ok, err := r.links.ClaimLink(ctx, t.ID, Provider, r.claimTTL)
		if err != nil {
			return res, err
		}
		if !ok {
			res.Contended++
			continue
		}

		card, err := r.tracker.CreateCard(ctx, CardFor(t))
		if err != nil {
			if rerr := r.links.ReleaseLink(ctx, t.ID, Provider); rerr != nil {
				r.logger.Warn("reconcile: release claim failed", slog.Int64("task_id", t.ID), slog.String("error", rerr.Error()))
			}
			return res, fmt.Errorf("reconcile: create card for task %d: %w", t.ID, err)
		}

		if err := r.links.CompleteLink(ctx, t.ID, Provider, card.ID, encodePayload(*card)); err != nil {
			return res, err
		}
		res.Created++
		r.logger.Debug("reconcile: pushed", slog.Int64("task_id", t.ID), slog.String("card_id", card.ID))
	}
	return res, nil
}

// CardFor renders the card a task is pushed as.
func CardFor(t models.Task) trello.NewCard {
	start := t.WindowStart.UTC().Format(time.RFC3339)
	end := "open-ended"
	if t.WindowEnd != nil {
		end = t.WindowEnd.UTC().Format(time.RFC3339)
	}
	lines := []string{
		fmt.Sprintf("Nudger Task ID: %d", t.ID),
		"Status: " + string(t.Status),
		fmt.Sprintf("Priority: %d", t.Priority),
		"Window Start (UTC): " + start,
		"Window End (UTC): " + end,
		"",
		"Nudge Text:",
		t.ReminderText,
	}
	if t.MemoryContext != "" {
		lines = append(lines, "", "Context:", t.MemoryContext)
	}
	return trello.NewCard{
		Name: fmt.Sprintf("[%d] %s", t.ID, t.Title),
		Desc: strings.Join(lines, "\n"),
		Due:  t.WindowEnd,
	}
}

func encodePayload(c trello.Card) string {
	p := linkPayload{ID: c.ID, IDList: c.IDList}
	if c.ShortURL != "" {
		p.ShortURL = &c.ShortURL
	}
	data, _ := json.Marshal(p)
	return string(data)
}

// refreshPayload keeps the stored short URL, which board listings omit.
func refreshPayload(prev string, c trello.Card) string {
	var old linkPayload
	_ = json.Unmarshal([]byte(prev), &old)
	if c.ShortURL == "" && old.ShortURL != nil {
		c.ShortURL = *old.ShortURL
	}
	return encodePayload(c)
}
