// Package taskgraph turns a flat batch of proposed tasks and links into a
// persisted parent/child task tree.
package taskgraph

import (
	"context"
	"regexp"
	"time"

	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/store"
)

// AutoParentRef is the reference bound to the first task when a batch is
// coerced under a single top-level task.
const AutoParentRef = "local_parent_auto_1"

var multiTaskCueRe = regexp.MustCompile(`(?i)\b(also|another task|another one|separately|separate task|in addition|additionally|plus)\b`)

// Proposal is one task proposed by the compiler. A zero WindowStart means
// "now" at build time.
type Proposal struct {
	Title         string
	Priority      int
	WindowStart   time.Time
	WindowEnd     *time.Time
	ReminderText  string
	MemoryContext string
	Category      string
	ParentRef     string
}

// Link declares that the proposal at ChildIndex belongs under the task bound
// to ParentRef.
type Link struct {
	ChildIndex int
	ParentRef  string
}

// Batch is the unit handed to Build.
type Batch struct {
	Tasks []Proposal
	Links []Link
}

// Transactor runs fn atomically against the task store.
type Transactor interface {
	InTx(ctx context.Context, fn func(w store.TaskWriter) error) error
}

// Builder persists batches as task trees.
type Builder struct {
	tx  Transactor
	now func() time.Time
}

// NewBuilder creates a Builder writing through tx.
func NewBuilder(tx Transactor) *Builder {
	return &Builder{tx: tx, now: time.Now}
}

type nodeState int

const (
	stateUnresolved nodeState = iota
	stateReady
	stateCreated
)

type node struct {
	state    nodeState
	linkRef  string
	isChild  bool
	parentID *int64
}

// Build truncates b to maxSubtasks+1 tasks, resolves parent references and
// persists every remaining proposal in one transaction. The returned tasks
// are in input order. On error nothing is persisted.
func (b *Builder) Build(ctx context.Context, batch Batch, origin models.Origin, maxSubtasks int) ([]models.Task, error) {
	batch = Truncate(batch, maxSubtasks)
	n := len(batch.Tasks)
	if n == 0 {
		return nil, nil
	}

	nodes := make([]node, n)
	for _, l := range batch.Links {
		if l.ChildIndex < 0 || l.ChildIndex >= n || l.ParentRef == "" {
			continue
		}
		// Last link for a child wins.
		nodes[l.ChildIndex].linkRef = l.ParentRef
		nodes[l.ChildIndex].isChild = true
	}

	now := b.now().UTC()
	out := make([]models.Task, n)

	err := b.tx.InTx(ctx, func(w store.TaskWriter) error {
		bound := make(map[string]int64)

		create := func(i int) error {
			p := batch.Tasks[i]
			t, err := b.createOne(ctx, w, p, nodes[i].parentID, origin, now)
			if err != nil {
				return err
			}
			out[i] = t
			nodes[i].state = stateCreated
			// Only tasks that are not themselves children bind a reference,
			// so every parent is top-level.
			if !nodes[i].isChild && p.ParentRef != "" {
				if _, ok := bound[p.ParentRef]; !ok {
					bound[p.ParentRef] = t.ID
				}
			}
			return nil
		}

		for i := range nodes {
			nd := &nodes[i]
			if nd.isChild {
				id, ok := bound[nd.linkRef]
				if !ok {
					continue
				}
				nd.parentID = &id
			}
			nd.state = stateReady
			if err := create(i); err != nil {
				return err
			}
		}

		for i := range nodes {
			nd := &nodes[i]
			if nd.state != stateUnresolved {
				continue
			}
			if id, ok := bound[nd.linkRef]; ok {
				nd.parentID = &id
			}
			nd.state = stateReady
			if err := create(i); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// createOne inserts p with provisional content and then finalizes its
// title and reminder against the assigned id.
func (b *Builder) createOne(ctx context.Context, w store.TaskWriter, p Proposal, parentID *int64, origin models.Origin, now time.Time) (models.Task, error) {
	start := p.WindowStart
	if start.IsZero() {
		start = now
	}
	nt := store.NewTask{
		ParentID:      parentID,
		Title:         ProvisionalTitle(p.Title),
		Priority:      p.Priority,
		WindowStart:   start.UTC(),
		WindowEnd:     utcPtr(p.WindowEnd),
		ReminderText:  p.ReminderText,
		MemoryContext: NormalizeMemory(p.MemoryContext),
		Category:      NormalizeCategory(p.Category),
		Origin:        origin,
		CreatedAt:     now,
	}
	id, err := w.InsertTask(ctx, nt)
	if err != nil {
		return models.Task{}, err
	}

	title := RenderTitle(p.Title, id)
	reminder := RenderReminder(p.ReminderText, id, title)
	if err := w.FinalizeTask(ctx, id, title, reminder); err != nil {
		return models.Task{}, err
	}

	return models.Task{
		ID:            id,
		ParentID:      parentID,
		Title:         title,
		Status:        models.StatusPending,
		Priority:      nt.Priority,
		WindowStart:   nt.WindowStart,
		WindowEnd:     nt.WindowEnd,
		ReminderText:  reminder,
		MemoryContext: nt.MemoryContext,
		Category:      nt.Category,
		Origin:        origin,
		CreatedAt:     now,
		UpdatedAt:     now,
	}, nil
}

// Truncate keeps at most maxSubtasks+1 proposals and drops links that point
// at removed indices. Negative maxSubtasks is treated as zero.
func Truncate(b Batch, maxSubtasks int) Batch {
	maxSubtasks = max(0, maxSubtasks)
	if len(b.Tasks)-1 <= maxSubtasks {
		return b
	}
	limit := maxSubtasks + 1
	out := Batch{Tasks: b.Tasks[:limit:limit]}
	for _, l := range b.Links {
		if l.ChildIndex < limit {
			out.Links = append(out.Links, l)
		}
	}
	return out
}

// HasMultiTaskCue reports whether text explicitly asks for separate tasks.
func HasMultiTaskCue(text string) bool {
	return multiTaskCueRe.MatchString(text)
}

// CoerceSingleTopLevel collapses a batch proposing more than one top-level
// task under its first task unless text carries an explicit multi-task cue.
// It reports whether the batch was rewritten.
func CoerceSingleTopLevel(b Batch, text string) (Batch, bool) {
	if topLevelCount(b) <= 1 || HasMultiTaskCue(text) {
		return b, false
	}
	tasks := append([]Proposal(nil), b.Tasks...)
	ref := tasks[0].ParentRef
	if ref == "" {
		ref = AutoParentRef
	}
	tasks[0].ParentRef = ref

	links := make([]Link, 0, len(tasks)-1)
	for i := 1; i < len(tasks); i++ {
		links = append(links, Link{ChildIndex: i, ParentRef: ref})
	}
	return Batch{Tasks: tasks, Links: links}, true
}

// topLevelCount counts proposals no link names as a child.
func topLevelCount(b Batch) int {
	children := make(map[int]struct{}, len(b.Links))
	for _, l := range b.Links {
		if l.ChildIndex >= 0 && l.ChildIndex < len(b.Tasks) {
			children[l.ChildIndex] = struct{}{}
		}
	}
	return len(b.Tasks) - len(children)
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}
