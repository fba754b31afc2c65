// Package inbox implements a spool-directory transport: each JSON file
// dropped into the directory is one inbound message.
package inbox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/google/uuid"

	"github.com/starford/nudger/internal/models"
)

const (
	messageExt    = ".json"
	rejectedExt   = ".rejected"
	settleTimeout = 200 * time.Millisecond
)

// Handler receives decoded messages.
type Handler interface {
	Handle(ctx context.Context, msg models.Message) (string, bool)
}

// Watch processes message files already in dir, then watches it until ctx is
// cancelled. Handled files are removed; undecodable ones are renamed with a
// .rejected suffix.
//
// Files are processed after a short settle delay so that writers which
// create then write are read once, complete.
func Watch(ctx context.Context, dir string, h Handler, logger *slog.Logger) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("inbox: create dir: %w", err)
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer w.Close()

	if err := w.Add(dir); err != nil {
		return fmt.Errorf("inbox: watch %s: %w", dir, err)
	}
	logger.Info("inbox: started", slog.String("dir", dir))

	Drain(ctx, dir, h, logger)

	pending := map[string]struct{}{}
	var settleTimer *time.Timer
	var settleCh <-chan time.Time

	schedule := func(path string) {
		pending[path] = struct{}{}
		if settleTimer == nil {
			settleTimer = time.NewTimer(settleTimeout)
			settleCh = settleTimer.C
		} else {
			settleTimer.Reset(settleTimeout)
		}
	}

	for {
		select {
		case <-ctx.Done():
			if settleTimer != nil {
				settleTimer.Stop()
			}
			logger.Info("inbox: stopped")
			return nil

		case <-settleCh:
			paths := make([]string, 0, len(pending))
			for p := range pending {
				paths = append(paths, p)
			}
			clear(pending)
			sort.Strings(paths)
			for _, p := range paths {
				processFile(ctx, p, h, logger)
			}

		case ev, ok := <-w.Events:
			if !ok {
				return nil
			}
			if !strings.HasSuffix(ev.Name, messageExt) {
				continue
			}
			if ev.Op&(fsnotify.Create|fsnotify.Write) != 0 {
				schedule(ev.Name)
			}

		case watchErr, ok := <-w.Errors:
			if !ok {
				return nil
			}
			logger.Error("inbox: watcher error", slog.String("error", watchErr.Error()))
		}
	}
}

// Drain processes every message file currently in dir, oldest name first.
func Drain(ctx context.Context, dir string, h Handler, logger *slog.Logger) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		logger.Warn("inbox: read dir failed", slog.String("dir", dir), slog.String("error", err.Error()))
		return
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), messageExt) {
			continue
		}
		processFile(ctx, filepath.Join(dir, e.Name()), h, logger)
	}
}

func processFile(ctx context.Context, path string, h Handler, logger *slog.Logger) {
	data, err := os.ReadFile(path)
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			logger.Warn("inbox: read failed", slog.String("path", path), slog.String("error", err.Error()))
		}
		return
	}

	msg, err := Decode(data)
	if err != nil {
		logger.Warn("inbox: rejected message", slog.String("path", path), slog.String("error", err.Error()))
		if renameErr := os.Rename(path, path+rejectedExt); renameErr != nil {
			logger.Warn("inbox: reject rename failed", slog.String("path", path), slog.String("error", renameErr.Error()))
		}
		return
	}

	// Remove first so a crash mid-handle never replays a command.
	if err := os.Remove(path); err != nil {
		logger.Warn("inbox: remove failed", slog.String("path", path), slog.String("error", err.Error()))
		return
	}

	_, handled := h.Handle(ctx, msg)
	logger.Debug("inbox: message", slog.String("message_id", msg.MessageID), slog.Bool("command", handled))
}

// Decode parses one message file. A missing message id is filled with a
// random UUID and a missing timestamp with the current time.
func Decode(data []byte) (models.Message, error) {
	var msg models.Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return models.Message{}, fmt.Errorf("inbox: decode: %w", err)
	}
	msg.SenderID = strings.TrimSpace(msg.SenderID)
	if msg.SenderID == "" {
		return models.Message{}, errors.New("inbox: sender_id is required")
	}
	if msg.ChannelID == "" {
		msg.ChannelID = msg.SenderID
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	return msg, nil
}
