package settings_test

import (
	"bytes"
	"context"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/testutil"
)

func TestLoadOverlaysDefaults(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()
	if err := db.UpsertSetting(ctx, settings.KeyNudgeMode, "all"); err != nil {
		t.Fatal(err)
	}

	snap, err := settings.NewService(db, nil).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.NudgeMode() != settings.ModeAll {
		t.Errorf("NudgeMode = %q", snap.NudgeMode())
	}
	if snap.MaxSubtasks() != 3 {
		t.Errorf("MaxSubtasks = %d", snap.MaxSubtasks())
	}
	if snap.RepeatInterval() != time.Hour {
		t.Errorf("RepeatInterval = %v", snap.RepeatInterval())
	}
	if start, end := snap.QuietHours(); start != "23:00" || end != "07:00" {
		t.Errorf("QuietHours = %s-%s", start, end)
	}
}

func TestLoadResolvesUnknownTimezoneOnce(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()
	if err := db.UpsertSetting(ctx, settings.KeyTimezone, "Not/AZone"); err != nil {
		t.Fatal(err)
	}

	var buf bytes.Buffer
	logger := slog.New(slog.NewTextHandler(&buf, nil))
	snap, err := settings.NewService(db, logger).Load(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if snap.Timezone() != "UTC" || snap.Location() != time.UTC {
		t.Errorf("timezone = %q", snap.Timezone())
	}
	snap.Location()
	if n := strings.Count(buf.String(), "unknown timezone"); n != 1 {
		t.Errorf("warned %d times, want 1: %s", n, buf.String())
	}
}

func TestApplyDropsUnknownKeys(t *testing.T) {
	db := testutil.TestDB(t)
	ctx := context.Background()
	svc := settings.NewService(db, nil)

	applied, err := svc.Apply(ctx, []settings.Update{
		{Key: "default_repeat_minutes", Value: "45"},
		{Key: "bogus", Value: "1"},
		{Key: "quiet_hours_start", Value: "22:30"},
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(applied) != 2 || applied[0].Key != "default_repeat_minutes" || applied[1].Key != "quiet_hours_start" {
		t.Errorf("applied = %+v", applied)
	}
	stored, err := db.AllSettings(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if _, ok := stored["bogus"]; ok {
		t.Error("unknown key was stored")
	}
}

func TestSnapshotParsing(t *testing.T) {
	snap := settings.Snapshot{
		settings.KeyRepeatMinutes: "0",
		settings.KeyMaxSubtasks:   "-2",
		settings.KeyNudgeMode:     " ALL ",
		settings.KeyTimezone:      "Not/AZone",
	}
	if snap.RepeatInterval() != time.Minute {
		t.Errorf("RepeatInterval = %v, want 1m floor", snap.RepeatInterval())
	}
	if snap.MaxSubtasks() != 0 {
		t.Errorf("MaxSubtasks = %d, want 0", snap.MaxSubtasks())
	}
	if snap.NudgeMode() != settings.ModeAll {
		t.Errorf("NudgeMode = %q", snap.NudgeMode())
	}
	if snap.Location() != time.UTC {
		t.Error("unknown timezone should fall back to UTC")
	}
	if got := (settings.Snapshot{"x": "12.9"}).Int("x", 0); got != 12 {
		t.Errorf("Int = %d, want 12", got)
	}
	if got := (settings.Snapshot{"x": "abc"}).Int("x", 7); got != 7 {
		t.Errorf("Int fallback = %d", got)
	}
}
