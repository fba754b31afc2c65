package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/starford/nudger/internal/models"
)

// ListUnlinked returns non-archived top-level tasks that have no completed link
// for provider, ordered by id.
func (db *DB) ListUnlinked(ctx context.Context, provider string) ([]models.Task, error) {
	q := `SELECT ` + prefixed("t.") + ` FROM tasks t
		WHERE t.status != 'archived' AND t.parent_task_id IS NULL
		AND NOT EXISTS (
			SELECT 1 FROM task_integrations i
			WHERE i.task_id = t.id AND i.provider = ? AND i.external_id IS NOT NULL
		)
		ORDER BY t.id ASC`
	return db.queryTasks(ctx, q, provider)
}

// ClaimLink reserves the (task, provider) link slot before a card is created.
// It reports false when another worker holds a live claim or the link is
// already complete. Claims older than staleAfter are taken over.
func (db *DB) ClaimLink(ctx context.Context, taskID int64, provider string, staleAfter time.Duration) (bool, error) {
	now := time.Now().UTC()
	res, err := db.conn.ExecContext(ctx, `
		INSERT INTO task_integrations (task_id, provider, claimed_at, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(task_id, provider) DO NOTHING
	`, taskID, provider, now.Unix(), now, now)
	if err != nil {
		return false, fmt.Errorf("store: claim link: %w", err)
	}
	if n, _ := res.RowsAffected(); n > 0 {
		return true, nil
	}

	res, err = db.conn.ExecContext(ctx, `
		UPDATE task_integrations SET claimed_at = ?, updated_at = ?
		WHERE task_id = ? AND provider = ? AND external_id IS NULL
		AND (claimed_at IS NULL OR claimed_at < ?)
	`, now.Unix(), now, taskID, provider, now.Add(-staleAfter).Unix())
	if err != nil {
		return false, fmt.Errorf("store: reclaim link: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

// CompleteLink stores the external id and payload snapshot on a claimed link.
func (db *DB) CompleteLink(ctx context.Context, taskID int64, provider, externalID, payload string) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE task_integrations
		SET external_id = ?, external_payload_json = ?, last_synced_at = ?, claimed_at = NULL, updated_at = ?
		WHERE task_id = ? AND provider = ?
	`, externalID, payload, now, now, taskID, provider)
	if err != nil {
		return fmt.Errorf("store: complete link: %w", err)
	}
	return nil
}

// ReleaseLink drops an uncompleted claim so the next pass can retry.
func (db *DB) ReleaseLink(ctx context.Context, taskID int64, provider string) error {
	_, err := db.conn.ExecContext(ctx, `
		DELETE FROM task_integrations WHERE task_id = ? AND provider = ? AND external_id IS NULL
	`, taskID, provider)
	if err != nil {
		return fmt.Errorf("store: release link: %w", err)
	}
	return nil
}

// ListOpenLinks returns completed links for provider whose task is
// top-level and still pending.
func (db *DB) ListOpenLinks(ctx context.Context, provider string) ([]models.ExternalLink, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT i.id, i.task_id, i.provider, i.external_id, COALESCE(i.external_payload_json, ''), i.last_synced_at
		FROM task_integrations i JOIN tasks t ON t.id = i.task_id
		WHERE i.provider = ? AND i.external_id IS NOT NULL AND t.status = 'pending' AND t.parent_task_id IS NULL
		ORDER BY i.id ASC
	`, provider)
	if err != nil {
		return nil, fmt.Errorf("store: list open links: %w", err)
	}
	defer rows.Close()

	var out []models.ExternalLink
	for rows.Next() {
		var (
			l      models.ExternalLink
			synced sql.NullTime
		)
		if err := rows.Scan(&l.ID, &l.TaskID, &l.Provider, &l.ExternalID, &l.PayloadJSON, &synced); err != nil {
			return nil, err
		}
		l.LastSyncedAt = timePtr(synced)
		out = append(out, l)
	}
	return out, rows.Err()
}

// TouchLink records a pull observation on a link.
func (db *DB) TouchLink(ctx context.Context, linkID int64, payload string) error {
	now := time.Now().UTC()
	_, err := db.conn.ExecContext(ctx, `
		UPDATE task_integrations SET external_payload_json = ?, last_synced_at = ?, updated_at = ? WHERE id = ?
	`, payload, now, now, linkID)
	if err != nil {
		return fmt.Errorf("store: touch link: %w", err)
	}
	return nil
}

// LinkCount returns how many links exist for a task and provider.
func (db *DB) LinkCount(ctx context.Context, taskID int64, provider string) (int, error) {
	var n int
	err := db.conn.QueryRowContext(ctx, `
		SELECT count(*) FROM task_integrations WHERE task_id = ? AND provider = ?
	`, taskID, provider).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("store: link count: %w", err)
	}
	return n, nil
}
