// Package taskservice implements the per-command task operations: creation,
// listing, snooze and the done cascade.
package taskservice

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/starford/nudger/internal/apperr"
	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/store"
	"github.com/starford/nudger/internal/taskgraph"
	"github.com/starford/nudger/internal/timewindow"
)

// DefaultListLimit bounds list responses.
const DefaultListLimit = 30

// DoneResult is the outcome of a done cascade.
type DoneResult struct {
	Found        bool    `json:"found"`
	AlreadyDone  bool    `json:"already_done"`
	RootWasDone  bool    `json:"root_was_done"`
	UpdatedCount int64   `json:"updated_count"`
	IDs          []int64 `json:"ids"`
}

// SnoozeRequest selects one of two modes. A non-zero Minutes shifts the
// window relative to now; otherwise Start/End replace it outright.
type SnoozeRequest struct {
	Minutes int
	Start   *time.Time
	End     *time.Time
}

// Relative reports whether the request is a relative delay.
func (r SnoozeRequest) Relative() bool {
	return r.Minutes != 0
}

// SnoozeResult is the outcome of a snooze. Updated is false when the task
// was not pending.
type SnoozeResult struct {
	Task    models.Task `json:"task"`
	Updated bool        `json:"updated"`
}

// Service coordinates task store operations.
type Service struct {
	store   store.TaskStore
	builder *taskgraph.Builder
	now     func() time.Time
}

// NewService creates a new task service.
func NewService(st store.TaskStore) *Service {
	return &Service{store: st, builder: taskgraph.NewBuilder(st), now: time.Now}
}

// Create persists a compiled batch as a task tree.
func (s *Service) Create(ctx context.Context, batch taskgraph.Batch, origin models.Origin, maxSubtasks int) ([]models.Task, error) {
	return s.builder.Build(ctx, batch, origin, maxSubtasks)
}

// ListPending returns pending top-level tasks of userID.
func (s *Service) ListPending(ctx context.Context, userID string, limit int) ([]models.Task, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	tasks, err := s.store.ListPendingTopLevel(ctx, userID, limit)
	if err != nil {
		return nil, err
	}
	return nonNilSlice(tasks), nil
}

// Get returns a task owned by userID.
func (s *Service) Get(ctx context.Context, id int64, userID string) (*models.Task, error) {
	return s.store.GetTask(ctx, id, userID)
}

// GetPending returns a task owned by userID only if it is still pending.
func (s *Service) GetPending(ctx context.Context, id int64, userID string) (*models.Task, error) {
	t, err := s.store.GetTask(ctx, id, userID)
	if err != nil {
		return nil, err
	}
	if t.Status != models.StatusPending {
		return nil, apperr.ErrNotFound
	}
	return t, nil
}

// Complete marks id and all of its descendants done in one update.
func (s *Service) Complete(ctx context.Context, id int64, userID string) (DoneResult, error) {
	root, err := s.store.GetTask(ctx, id, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return DoneResult{IDs: []int64{}}, nil
	}
	if err != nil {
		return DoneResult{}, err
	}

	ids, err := s.descendants(ctx, root.ID, userID)
	if err != nil {
		return DoneResult{}, err
	}
	statuses, err := s.store.StatusByID(ctx, ids, userID)
	if err != nil {
		return DoneResult{}, err
	}

	res := DoneResult{Found: true, IDs: ids, RootWasDone: statuses[root.ID] == models.StatusDone}
	var open []int64
	for _, cid := range ids {
		if st, ok := statuses[cid]; ok && st != models.StatusDone {
			open = append(open, cid)
		}
	}
	if len(open) == 0 {
		res.AlreadyDone = true
		res.RootWasDone = true
		return res, nil
	}

	n, err := s.store.MarkDone(ctx, open, userID)
	if err != nil {
		return DoneResult{}, err
	}
	res.UpdatedCount = n
	return res, nil
}

// descendants returns root followed by every transitive child, breadth first.
func (s *Service) descendants(ctx context.Context, root int64, userID string) ([]int64, error) {
	ids := []int64{root}
	seen := map[int64]bool{root: true}
	queue := []int64{root}
	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		children, err := s.store.ChildIDs(ctx, cur, userID)
		if err != nil {
			return nil, err
		}
		for _, c := range children {
			if seen[c] {
				continue
			}
			seen[c] = true
			ids = append(ids, c)
			queue = append(queue, c)
		}
	}
	return ids, nil
}

// Snooze moves the window of a pending task owned by userID.
func (s *Service) Snooze(ctx context.Context, id int64, userID string, req SnoozeRequest) (SnoozeResult, error) {
	t, err := s.store.GetTask(ctx, id, userID)
	if err != nil {
		return SnoozeResult{}, err
	}
	if t.Status != models.StatusPending {
		return SnoozeResult{Task: *t}, nil
	}

	start, end, err := nextWindow(*t, req, s.now().UTC())
	if err != nil {
		return SnoozeResult{}, err
	}
	ok, err := s.store.SnoozeWindow(ctx, t.ID, start, end)
	if err != nil {
		return SnoozeResult{}, err
	}
	if !ok {
		return SnoozeResult{Task: *t}, nil
	}

	t.WindowStart, t.WindowEnd = start, end
	t.SnoozeCount++
	return SnoozeResult{Task: *t, Updated: true}, nil
}

func nextWindow(t models.Task, req SnoozeRequest, now time.Time) (time.Time, *time.Time, error) {
	if req.Relative() {
		delay := time.Duration(max(1, req.Minutes)) * time.Minute
		end := t.WindowEnd
		if end != nil {
			rounded := t.WindowStart.Add(end.Sub(t.WindowStart).Round(time.Minute))
			end = &rounded
		}
		start, newEnd := timewindow.Shift(t.WindowStart, end, now.Add(delay))
		return start, newEnd, nil
	}
	if req.Start == nil && req.End == nil {
		return time.Time{}, nil, fmt.Errorf("taskservice: empty snooze request: %w", apperr.ErrInvalidInput)
	}
	start := t.WindowStart
	if req.Start != nil {
		start = req.Start.UTC()
	}
	var end *time.Time
	if req.End != nil {
		e := req.End.UTC()
		end = &e
	}
	return start, end, nil
}

func nonNilSlice[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
