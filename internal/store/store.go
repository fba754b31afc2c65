package store

import (
	"context"
	"time"

	"github.com/starford/nudger/internal/models"
)

// TaskStore is the task read/write surface used by the engines.
// Consumers should depend on the narrow interfaces they need rather than
// the concrete *DB type.
type TaskStore interface {
	InTx(ctx context.Context, fn func(w TaskWriter) error) error
	GetTask(ctx context.Context, id int64, userID string) (*models.Task, error)
	GetTasks(ctx context.Context, ids []int64) ([]models.Task, error)
	ListPendingTopLevel(ctx context.Context, userID string, limit int) ([]models.Task, error)
	ListPendingSubtasks(ctx context.Context, parentIDs []int64) ([]models.Task, error)
	ChildIDs(ctx context.Context, parentID int64, userID string) ([]int64, error)
	StatusByID(ctx context.Context, ids []int64, userID string) (map[int64]models.TaskStatus, error)
	MarkDone(ctx context.Context, ids []int64, userID string) (int64, error)
	SnoozeWindow(ctx context.Context, id int64, start time.Time, end *time.Time) (bool, error)
	MarkNudged(ctx context.Context, id int64, at time.Time) error
	CountWithoutOrigin(ctx context.Context) (int, error)
}

// LinkStore is the link-table surface used by the reconciler.
type LinkStore interface {
	ListUnlinked(ctx context.Context, provider string) ([]models.Task, error)
	ClaimLink(ctx context.Context, taskID int64, provider string, staleAfter time.Duration) (bool, error)
	CompleteLink(ctx context.Context, taskID int64, provider, externalID, payload string) error
	ReleaseLink(ctx context.Context, taskID int64, provider string) error
	ListOpenLinks(ctx context.Context, provider string) ([]models.ExternalLink, error)
	TouchLink(ctx context.Context, linkID int64, payload string) error
	MarkDone(ctx context.Context, ids []int64, userID string) (int64, error)
}

// SettingsStore persists key/value settings.
type SettingsStore interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	UpsertSetting(ctx context.Context, key, value string) error
}

// Verify *DB satisfies the store interfaces at compile time.
var (
	_ TaskStore     = (*DB)(nil)
	_ LinkStore     = (*DB)(nil)
	_ SettingsStore = (*DB)(nil)
)
