// Package testutil provides shared test helpers for setting up task stores.
package testutil

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/starford/nudger/internal/store"
)

// TestDB creates a temporary SQLite database that is automatically cleaned up.
func TestDB(t *testing.T) *store.DB {
	t.Helper()
	dbFile, err := os.CreateTemp("", "nudger-test-*.db")
	if err != nil {
		t.Fatal(err)
	}
	dbFile.Close()
	t.Cleanup(func() {
		os.Remove(dbFile.Name())
		os.Remove(dbFile.Name() + "-wal")
		os.Remove(dbFile.Name() + "-shm")
	})

	db, err := store.Open(dbFile.Name())
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// InsertTask stores t in its own transaction and returns the new id.
// Zero WindowStart and CreatedAt default to an hour ago and now.
func InsertTask(t *testing.T, db *store.DB, nt store.NewTask) int64 {
	t.Helper()
	if nt.WindowStart.IsZero() {
		nt.WindowStart = time.Now().Add(-time.Hour)
	}
	if nt.CreatedAt.IsZero() {
		nt.CreatedAt = time.Now()
	}
	if nt.Title == "" {
		nt.Title = "task"
	}
	var id int64
	err := db.InTx(context.Background(), func(w store.TaskWriter) error {
		var err error
		id, err = w.InsertTask(context.Background(), nt)
		return err
	})
	if err != nil {
		t.Fatalf("InsertTask: %v", err)
	}
	return id
}

// Ptr returns a pointer to v.
func Ptr[T any](v T) *T { return &v }
