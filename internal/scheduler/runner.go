package scheduler

import (
	"context"
	"log/slog"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/starford/nudger/internal/reconcile"
	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/timewindow"
)

// Notifier delivers a direct message to a recipient.
type Notifier interface {
	SendDirect(ctx context.Context, recipient, text string) error
}

// Bookkeeper records a delivered reminder.
type Bookkeeper interface {
	MarkNudged(ctx context.Context, id int64, at time.Time) error
}

// SettingsLoader returns the current settings snapshot.
type SettingsLoader interface {
	Load(ctx context.Context) (settings.Snapshot, error)
}

// Syncer runs the tracker passes.
type Syncer interface {
	Pull(ctx context.Context) (reconcile.PullResult, error)
	Push(ctx context.Context) (reconcile.PushResult, error)
}

// Report summarizes one tick.
type Report struct {
	Overlapped bool                 `json:"overlapped,omitempty"`
	Pull       reconcile.PullResult `json:"pull"`
	PullError  string               `json:"pull_error,omitempty"`
	Quiet      bool                 `json:"quiet"`
	Candidates int                  `json:"candidates"`
	Sent       int                  `json:"sent"`
	Failed     int                  `json:"failed"`
	Unroutable int                  `json:"unroutable"`
	Push       reconcile.PushResult `json:"push"`
	PushError  string               `json:"push_error,omitempty"`
}

// Deps are the collaborators of a Runner.
type Deps struct {
	Engine      *Engine
	Settings    SettingsLoader
	Notifier    Notifier
	Bookkeeper  Bookkeeper
	Syncer      Syncer
	Logger      *slog.Logger
	Concurrency int
}

// Runner executes scheduling ticks.
type Runner struct {
	d       Deps
	now     func() time.Time
	running atomic.Bool
}

// NewRunner creates a Runner.
func NewRunner(d Deps) *Runner {
	if d.Logger == nil {
		d.Logger = slog.Default()
	}
	if d.Concurrency < 1 {
		d.Concurrency = 1
	}
	return &Runner{d: d, now: time.Now}
}

// Tick runs pull, then the quiet-hours gate and reminder sends, then push.
// Tracker failures are logged and recorded in the report; store failures
// abort the tick. A tick requested while another is running returns at
// once with Overlapped set.
func (r *Runner) Tick(ctx context.Context) (Report, error) {
	log := r.d.Logger
	var rep Report
	if !r.running.CompareAndSwap(false, true) {
		rep.Overlapped = true
		log.Warn("tick: previous tick still running, skipping")
		return rep, nil
	}
	defer r.running.Store(false)

	snap, err := r.d.Settings.Load(ctx)
	if err != nil {
		return rep, err
	}
	now := r.now().UTC()

	rep.Pull, err = r.d.Syncer.Pull(ctx)
	switch {
	case err != nil:
		rep.PullError = err.Error()
		log.Error("tick: pull failed", slog.String("error", err.Error()))
	case rep.Pull.Skipped:
		log.Info("tick: pull skipped", slog.String("reason", rep.Pull.Reason))
	default:
		log.Info("tick: pull complete",
			slog.Int("checked", rep.Pull.Checked),
			slog.Int("done_updated", rep.Pull.DoneUpdated),
			slog.Int("missing", rep.Pull.Missing))
	}

	qs, qe := snap.QuietHours()
	if timewindow.InQuietHours(now, snap.Location(), qs, qe) {
		rep.Quiet = true
		log.Info("tick: quiet hours, skipping sends")
	} else if err := r.send(ctx, snap, now, &rep); err != nil {
		return rep, err
	}

	rep.Push, err = r.d.Syncer.Push(ctx)
	switch {
	case err != nil:
		rep.PushError = err.Error()
		log.Error("tick: push failed", slog.String("error", err.Error()))
	case rep.Push.Skipped:
		log.Info("tick: push skipped", slog.String("reason", rep.Push.Reason))
	default:
		log.Info("tick: push complete", slog.Int("created", rep.Push.Created))
	}
	return rep, nil
}

func (r *Runner) send(ctx context.Context, snap settings.Snapshot, now time.Time, rep *Report) error {
	log := r.d.Logger
	due, unroutable, err := r.d.Engine.FindDue(ctx, snap, now)
	if err != nil {
		return err
	}
	for _, t := range unroutable {
		log.Warn("tick: no recipient for task", slog.Int64("task_id", t.ID))
	}
	rep.Unroutable = len(unroutable)
	rep.Candidates = len(due)
	if len(due) == 0 {
		log.Info("tick: no due tasks")
		return nil
	}

	// Sends to one recipient stay ordered; recipients proceed in parallel.
	var order []string
	byRecipient := make(map[string][]Candidate)
	for _, c := range due {
		if _, ok := byRecipient[c.Recipient]; !ok {
			order = append(order, c.Recipient)
		}
		byRecipient[c.Recipient] = append(byRecipient[c.Recipient], c)
	}

	var sent, failed atomic.Int64
	var g errgroup.Group
	g.SetLimit(r.d.Concurrency)
	for _, rcpt := range order {
		batch := byRecipient[rcpt]
		g.Go(func() error {
			for _, c := range batch {
				if err := r.d.Notifier.SendDirect(ctx, c.Recipient, ReminderText(c)); err != nil {
					failed.Add(1)
					log.Error("tick: send failed",
						slog.Int64("task_id", c.Task.ID),
						slog.String("recipient", c.Recipient),
						slog.String("error", err.Error()))
					continue
				}
				sent.Add(1)
				if err := r.d.Bookkeeper.MarkNudged(ctx, c.Task.ID, now); err != nil {
					log.Error("tick: mark nudged failed", slog.Int64("task_id", c.Task.ID), slog.String("error", err.Error()))
				}
			}
			return nil
		})
	}
	_ = g.Wait()

	rep.Sent = int(sent.Load())
	rep.Failed = int(failed.Load())
	log.Info("tick: sends complete",
		slog.String("mode", snap.NudgeMode()),
		slog.Int("candidates", rep.Candidates),
		slog.Int("sent", rep.Sent),
		slog.Int("failed", rep.Failed))
	return nil
}

// Loop runs Tick every interval until ctx is done. The first tick runs
// immediately. Ticks never overlap.
func (r *Runner) Loop(ctx context.Context, interval time.Duration) error {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		if _, err := r.Tick(ctx); err != nil {
			r.d.Logger.Error("tick failed", slog.String("error", err.Error()))
		}
		select {
		case <-ctx.Done():
			return nil
		case <-t.C:
		}
	}
}
