package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/starford/nudger/internal/apperr"
	"github.com/starford/nudger/internal/models"
)

const taskColumns = `id, parent_task_id, title, status, priority, nudge_window_start, nudge_window_end,
	nudge_text, memory_context, category, source_user_id, source_channel_id, source_message_id,
	last_nudged_at, nudge_count, snooze_count, created_at, updated_at`

// NewTask carries the provisional content of a task about to be inserted.
type NewTask struct {
	ParentID      *int64
	Title         string
	Priority      int
	WindowStart   time.Time
	WindowEnd     *time.Time
	ReminderText  string
	MemoryContext string
	Category      string
	Origin        models.Origin
	CreatedAt     time.Time
}

// TaskWriter is the write surface available inside a transaction.
type TaskWriter interface {
	InsertTask(ctx context.Context, t NewTask) (int64, error)
	FinalizeTask(ctx context.Context, id int64, title, reminder string) error
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type txWriter struct {
	tx execer
}

// InTx runs fn inside a single transaction. Nothing fn wrote is visible
// unless fn returns nil and the commit succeeds.
func (db *DB) InTx(ctx context.Context, fn func(w TaskWriter) error) error {
	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin tx: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	if err := fn(&txWriter{tx: tx}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

func (w *txWriter) InsertTask(ctx context.Context, t NewTask) (int64, error) {
	created := t.CreatedAt.UTC()
	res, err := w.tx.ExecContext(ctx, `
		INSERT INTO tasks (parent_task_id, title, status, priority, nudge_window_start, nudge_window_end,
			nudge_text, memory_context, category, source_user_id, source_channel_id, source_message_id,
			created_at, updated_at)
		VALUES (?, ?, 'pending', ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`, nullInt(t.ParentID), t.Title, t.Priority, t.WindowStart.UTC(), nullTime(t.WindowEnd),
		t.ReminderText, nullString(t.MemoryContext), nullString(t.Category),
		nullString(t.Origin.UserID), nullString(t.Origin.ChannelID), nullString(t.Origin.MessageID),
		created, created)
	if err != nil {
		return 0, fmt.Errorf("store: insert task: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("store: insert task id: %w", err)
	}
	return id, nil
}

func (w *txWriter) FinalizeTask(ctx context.Context, id int64, title, reminder string) error {
	_, err := w.tx.ExecContext(ctx, `UPDATE tasks SET title = ?, nudge_text = ? WHERE id = ?`, title, reminder, id)
	if err != nil {
		return fmt.Errorf("store: finalize task %d: %w", id, err)
	}
	return nil
}

// GetTask returns the task with id. A non-empty userID restricts the lookup
// to tasks created by that user.
func (db *DB) GetTask(ctx context.Context, id int64, userID string) (*models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id = ?`
	args := []any{id}
	q, args = scopeUser(q, args, userID)

	t, err := scanTask(db.conn.QueryRowContext(ctx, q, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, apperr.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: get task %d: %w", id, err)
	}
	return t, nil
}

// GetTasks returns the tasks with the given ids ordered by id.
func (db *DB) GetTasks(ctx context.Context, ids []int64) ([]models.Task, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE id IN (` + placeholders(len(ids)) + `) ORDER BY id ASC`
	return db.queryTasks(ctx, q, int64Args(ids)...)
}

// ListPendingTopLevel returns pending tasks without a parent ordered by
// priority descending then id ascending. limit <= 0 means no limit.
func (db *DB) ListPendingTopLevel(ctx context.Context, userID string, limit int) ([]models.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE status = 'pending' AND parent_task_id IS NULL`
	var args []any
	q, args = scopeUser(q, args, userID)
	q += ` ORDER BY priority DESC, id ASC`
	if limit > 0 {
		q += ` LIMIT ?`
		args = append(args, limit)
	}
	return db.queryTasks(ctx, q, args...)
}

// ListPendingSubtasks returns pending children of the given parents ordered
// by priority descending then id ascending.
func (db *DB) ListPendingSubtasks(ctx context.Context, parentIDs []int64) ([]models.Task, error) {
	if len(parentIDs) == 0 {
		return nil, nil
	}
	q := `SELECT ` + taskColumns + ` FROM tasks
		WHERE status = 'pending' AND parent_task_id IN (` + placeholders(len(parentIDs)) + `)
		ORDER BY priority DESC, id ASC`
	return db.queryTasks(ctx, q, int64Args(parentIDs)...)
}

// ChildIDs returns the ids of the direct children of parentID.
func (db *DB) ChildIDs(ctx context.Context, parentID int64, userID string) ([]int64, error) {
	q := `SELECT id FROM tasks WHERE parent_task_id = ?`
	args := []any{parentID}
	q, args = scopeUser(q, args, userID)
	q += ` ORDER BY id ASC`

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: child ids: %w", err)
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		out = append(out, id)
	}
	return out, rows.Err()
}

// StatusByID returns the status of each requested task that exists.
func (db *DB) StatusByID(ctx context.Context, ids []int64, userID string) (map[int64]models.TaskStatus, error) {
	out := make(map[int64]models.TaskStatus, len(ids))
	if len(ids) == 0 {
		return out, nil
	}
	q := `SELECT id, status FROM tasks WHERE id IN (` + placeholders(len(ids)) + `)`
	q, args := scopeUser(q, int64Args(ids), userID)

	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: status by id: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var status string
		if err := rows.Scan(&id, &status); err != nil {
			return nil, err
		}
		out[id] = models.TaskStatus(status)
	}
	return out, rows.Err()
}

// MarkDone sets status done on every listed task that is not already done
// in a single statement and returns the number of rows changed.
func (db *DB) MarkDone(ctx context.Context, ids []int64, userID string) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	q := `UPDATE tasks SET status = 'done', updated_at = ? WHERE status != 'done' AND id IN (` + placeholders(len(ids)) + `)`
	args := append([]any{time.Now().UTC()}, int64Args(ids)...)
	q, args = scopeUser(q, args, userID)

	res, err := db.conn.ExecContext(ctx, q, args...)
	if err != nil {
		return 0, fmt.Errorf("store: mark done: %w", err)
	}
	return res.RowsAffected()
}

// SnoozeWindow replaces the window of a pending task and increments its
// snooze count. It reports false when the task is no longer pending.
func (db *DB) SnoozeWindow(ctx context.Context, id int64, start time.Time, end *time.Time) (bool, error) {
	res, err := db.conn.ExecContext(ctx, `
		UPDATE tasks
		SET nudge_window_start = ?, nudge_window_end = ?, snooze_count = snooze_count + 1, updated_at = ?
		WHERE id = ? AND status = 'pending'
	`, start.UTC(), nullTime(end), time.Now().UTC(), id)
	if err != nil {
		return false, fmt.Errorf("store: snooze task %d: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// MarkNudged records a delivered reminder.
func (db *DB) MarkNudged(ctx context.Context, id int64, at time.Time) error {
	_, err := db.conn.ExecContext(ctx, `
		UPDATE tasks SET nudge_count = nudge_count + 1, last_nudged_at = ?, updated_at = ? WHERE id = ?
	`, at.UTC(), time.Now().UTC(), id)
	if err != nil {
		return fmt.Errorf("store: mark nudged %d: %w", id, err)
	}
	return nil
}

// CountWithoutOrigin counts pending top-level tasks that carry no origin user.
func (db *DB) CountWithoutOrigin(ctx context.Context) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT count(*) FROM tasks
		WHERE status = 'pending' AND parent_task_id IS NULL AND (source_user_id IS NULL OR source_user_id = '')
	`).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: count without origin: %w", err)
	}
	return n, nil
}

func (db *DB) queryTasks(ctx context.Context, q string, args ...any) ([]models.Task, error) {
	rows, err := db.conn.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query tasks: %w", err)
	}
	defer rows.Close()

	var out []models.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanTask(row scanner) (*models.Task, error) {
	var (
		t                                    models.Task
		parent                               sql.NullInt64
		status                               string
		end, lastNudged                      sql.NullTime
		memory, category, user, chann, msgID sql.NullString
	)
	err := row.Scan(&t.ID, &parent, &t.Title, &status, &t.Priority, &t.WindowStart, &end,
		&t.ReminderText, &memory, &category, &user, &chann, &msgID,
		&lastNudged, &t.NudgeCount, &t.SnoozeCount, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	t.Status = models.TaskStatus(status)
	if parent.Valid {
		p := parent.Int64
		t.ParentID = &p
	}
	t.WindowStart = t.WindowStart.UTC()
	t.WindowEnd = timePtr(end)
	t.LastNudgedAt = timePtr(lastNudged)
	t.MemoryContext = memory.String
	t.Category = category.String
	t.Origin = models.Origin{UserID: user.String, ChannelID: chann.String, MessageID: msgID.String}
	return &t, nil
}

func scopeUser(q string, args []any, userID string) (string, []any) {
	if userID == "" {
		return q, args
	}
	return q + ` AND source_user_id = ?`, append(args, userID)
}

func prefixed(alias string) string {
	cols := strings.Split(taskColumns, ",")
	for i, c := range cols {
		cols[i] = alias + strings.TrimSpace(c)
	}
	return strings.Join(cols, ", ")
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func int64Args(ids []int64) []any {
	out := make([]any, len(ids))
	for i, id := range ids {
		out[i] = id
	}
	return out
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func nullTime(v *time.Time) sql.NullTime {
	if v == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: v.UTC(), Valid: true}
}

func nullString(s string) sql.NullString {
	if s == "" {
		return sql.NullString{}
	}
	return sql.NullString{String: s, Valid: true}
}

func timePtr(v sql.NullTime) *time.Time {
	if !v.Valid {
		return nil
	}
	t := v.Time.UTC()
	return &t
}
