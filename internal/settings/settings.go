// Package settings exposes the flat key/value runtime settings with their
// fixed defaults.
package settings

import (
	"context"
	"log/slog"
	"strconv"
	"strings"
	"time"
)

// Recognized keys.
const (
	KeyMaxSubtasks          = "max_subtasks"
	KeyDefaultWindowMinutes = "default_nudge_window_minutes"
	KeyRepeatMinutes        = "default_repeat_minutes"
	KeyNudgeMode            = "nudge_mode"
	KeyQuietStart           = "quiet_hours_start"
	KeyQuietEnd             = "quiet_hours_end"
	KeyTimezone             = "timezone"
)

// Nudge modes.
const (
	ModeSingle = "single"
	ModeAll    = "all"
)

// Defaults returns a fresh copy of the default settings. The key set doubles
// as the allow-list for updates.
func Defaults() map[string]string {
	return map[string]string{
		KeyMaxSubtasks:          "3",
		KeyDefaultWindowMinutes: "120",
		KeyRepeatMinutes:        "60",
		KeyNudgeMode:            ModeSingle,
		KeyQuietStart:           "23:00",
		KeyQuietEnd:             "07:00",
		KeyTimezone:             "America/Sao_Paulo",
	}
}

// Allowed reports whether key may be set by a config update.
func Allowed(key string) bool {
	_, ok := Defaults()[key]
	return ok
}

// Store is the persistence the settings service needs.
type Store interface {
	AllSettings(ctx context.Context) (map[string]string, error)
	UpsertSetting(ctx context.Context, key, value string) error
}

// Snapshot is a read-only view of settings at one point in time.
type Snapshot map[string]string

// Service loads and updates settings.
type Service struct {
	store  Store
	logger *slog.Logger
}

// NewService creates a settings service.
func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger}
}

// Load returns defaults overlaid with stored values.
func (s *Service) Load(ctx context.Context) (Snapshot, error) {
	stored, err := s.store.AllSettings(ctx)
	if err != nil {
		return nil, err
	}
	out := Snapshot(Defaults())
	for k, v := range stored {
		out[k] = v
	}
	if _, err := time.LoadLocation(out.Timezone()); err != nil {
		s.logger.Warn("settings: unknown timezone, using UTC", slog.String("timezone", out.Timezone()))
		out[KeyTimezone] = "UTC"
	}
	return out, nil
}

// Update is a single requested key/value change.
type Update struct {
	Key   string
	Value string
}

// Apply stores every allow-listed update and returns the ones applied, in
// request order. Unknown keys are dropped silently.
func (s *Service) Apply(ctx context.Context, updates []Update) ([]Update, error) {
	var applied []Update
	for _, u := range updates {
		if !Allowed(u.Key) {
			continue
		}
		if err := s.store.UpsertSetting(ctx, u.Key, u.Value); err != nil {
			return applied, err
		}
		applied = append(applied, u)
	}
	return applied, nil
}

// Int parses key as an integer, truncating fractions, or returns fallback.
func (s Snapshot) Int(key string, fallback int) int {
	raw := strings.TrimSpace(s[key])
	if n, err := strconv.Atoi(raw); err == nil {
		return n
	}
	if f, err := strconv.ParseFloat(raw, 64); err == nil {
		return int(f)
	}
	return fallback
}

// MaxSubtasks returns the subtask budget, never negative.
func (s Snapshot) MaxSubtasks() int {
	return max(0, s.Int(KeyMaxSubtasks, 3))
}

// RepeatInterval returns the minimum gap between reminders for one task,
// at least one minute.
func (s Snapshot) RepeatInterval() time.Duration {
	return time.Duration(max(1, s.Int(KeyRepeatMinutes, 60))) * time.Minute
}

// NudgeMode returns ModeAll or ModeSingle; anything else reads as single.
func (s Snapshot) NudgeMode() string {
	if strings.EqualFold(strings.TrimSpace(s[KeyNudgeMode]), ModeAll) {
		return ModeAll
	}
	return ModeSingle
}

// Timezone returns the configured timezone name.
func (s Snapshot) Timezone() string {
	if tz := strings.TrimSpace(s[KeyTimezone]); tz != "" {
		return tz
	}
	return Defaults()[KeyTimezone]
}

// Location resolves the configured timezone, falling back to UTC. Snapshots
// from Load always carry a resolvable timezone.
func (s Snapshot) Location() *time.Location {
	loc, err := time.LoadLocation(s.Timezone())
	if err != nil {
		return time.UTC
	}
	return loc
}

// QuietHours returns the configured quiet-hour bounds.
func (s Snapshot) QuietHours() (start, end string) {
	return s[KeyQuietStart], s[KeyQuietEnd]
}
