// Package scheduler decides which tasks are due for a reminder and runs the
// per-tick pull, send and push cycle.
package scheduler

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/starford/nudger/internal/apperr"
	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/timewindow"
)

// Candidate is a top-level task selected for a reminder, with the recipient
// it routes to and its pending subtasks.
type Candidate struct {
	Task      models.Task   `json:"task"`
	Recipient string        `json:"recipient"`
	Subtasks  []models.Task `json:"subtasks"`
}

// Source is the read surface the engine needs.
type Source interface {
	ListPendingTopLevel(ctx context.Context, userID string, limit int) ([]models.Task, error)
	ListPendingSubtasks(ctx context.Context, parentIDs []int64) ([]models.Task, error)
}

// Eligible filters pending top-level tasks whose window contains now and
// whose last reminder is at least repeat old, ordered by priority descending
// then id ascending.
func Eligible(tasks []models.Task, now time.Time, repeat time.Duration) []models.Task {
	repeat = max(repeat, time.Minute)
	var out []models.Task
	for _, t := range tasks {
		if t.Status != models.StatusPending || !t.TopLevel() {
			continue
		}
		if !timewindow.Contains(now, t.WindowStart, t.WindowEnd) {
			continue
		}
		if t.LastNudgedAt != nil && now.Sub(*t.LastNudgedAt) < repeat {
			continue
		}
		out = append(out, t)
	}
	sortTasks(out)
	return out
}

func sortTasks(tasks []models.Task) {
	slices.SortStableFunc(tasks, func(a, b models.Task) int {
		if c := cmp.Compare(b.Priority, a.Priority); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
}

// RecipientResolver routes a task to the user it was created by, or to Owner
// when the task carries no origin.
type RecipientResolver struct {
	Owner string
}

// Resolve returns the recipient for t.
func (r RecipientResolver) Resolve(t models.Task) (string, bool) {
	if t.Origin.UserID != "" {
		return t.Origin.UserID, true
	}
	if r.Owner != "" {
		return r.Owner, true
	}
	return "", false
}

// OriginCounter counts pending top-level tasks lacking an origin user.
type OriginCounter interface {
	CountWithoutOrigin(ctx context.Context) (int, error)
}

// Check fails when some pending task could not be routed to anyone.
func (r RecipientResolver) Check(ctx context.Context, c OriginCounter) error {
	if r.Owner != "" {
		return nil
	}
	n, err := c.CountWithoutOrigin(ctx)
	if err != nil {
		return err
	}
	if n > 0 {
		return fmt.Errorf("scheduler: %d pending task(s) have no origin user and transport.owner_id is not set: %w", n, apperr.ErrNotConfigured)
	}
	return nil
}

// Select applies the nudge mode to an ordered eligible list. In single mode
// only the first task per recipient is kept. Tasks that cannot be routed are
// returned separately.
func Select(eligible []models.Task, mode string, r RecipientResolver) (selected []Candidate, unroutable []models.Task) {
	seen := make(map[string]bool)
	for _, t := range eligible {
		rcpt, ok := r.Resolve(t)
		if !ok {
			unroutable = append(unroutable, t)
			continue
		}
		if mode != settings.ModeAll {
			if seen[rcpt] {
				continue
			}
			seen[rcpt] = true
		}
		selected = append(selected, Candidate{Task: t, Recipient: rcpt})
	}
	return selected, unroutable
}

// Engine computes due reminders from the store.
type Engine struct {
	src      Source
	resolver RecipientResolver
}

// NewEngine creates an Engine.
func NewEngine(src Source, resolver RecipientResolver) *Engine {
	return &Engine{src: src, resolver: resolver}
}

// Resolver returns the engine's recipient resolver.
func (e *Engine) Resolver() RecipientResolver {
	return e.resolver
}

// FindDue returns the candidates due at now under snap, each with its
// pending subtasks attached, plus any eligible tasks with no recipient.
func (e *Engine) FindDue(ctx context.Context, snap settings.Snapshot, now time.Time) ([]Candidate, []models.Task, error) {
	pending, err := e.src.ListPendingTopLevel(ctx, "", 0)
	if err != nil {
		return nil, nil, err
	}
	eligible := Eligible(pending, now, snap.RepeatInterval())
	if len(eligible) == 0 {
		return nil, nil, nil
	}

	selected, unroutable := Select(eligible, snap.NudgeMode(), e.resolver)
	if len(selected) == 0 {
		return nil, unroutable, nil
	}

	ids := make([]int64, len(selected))
	for i, c := range selected {
		ids[i] = c.Task.ID
	}
	subs, err := e.src.ListPendingSubtasks(ctx, ids)
	if err != nil {
		return nil, nil, err
	}
	byParent := make(map[int64][]models.Task)
	for _, s := range subs {
		byParent[*s.ParentID] = append(byParent[*s.ParentID], s)
	}
	for i := range selected {
		sub := byParent[selected[i].Task.ID]
		sortTasks(sub)
		selected[i].Subtasks = sub
	}
	return selected, unroutable, nil
}

// ReminderText renders the outbound message for c.
func ReminderText(c Candidate) string {
	t := c.Task
	header := strings.TrimSpace(t.ReminderText)
	if header == "" {
		id := strconv.FormatInt(t.ID, 10)
		header = "Nudge [" + id + "]: " + t.Title + ". Reply: done: " + id + " | snooze: " + id + " 2h"
	}
	if len(c.Subtasks) == 0 {
		return header
	}
	var b strings.Builder
	b.WriteString(header)
	b.WriteString("\nSubtasks:")
	for _, s := range c.Subtasks {
		fmt.Fprintf(&b, "\n- [%d] %s", s.ID, s.Title)
	}
	return b.String()
}
