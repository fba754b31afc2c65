package command

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/starford/nudger/internal/apperr"
	"github.com/starford/nudger/internal/compiler"
	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/taskgraph"
	"github.com/starford/nudger/internal/taskservice"
	"github.com/starford/nudger/internal/timewindow"
)

const explainClip = 1700

// HelpText is the reply to "help".
const HelpText = `Commands:
help
list
nudge: fix bathroom door this evening
nudge: fix sink next week. need to buy silicone first
nudge: fix sink, also schedule dentist
snooze: 12 2h
done: 12
explain: 12
config: repeat every 45m and quiet hours 22:30-07:00
config: nudge mode single`

// Reply texts shared with callers and tests.
const (
	ReplyParseFailed    = "I could not parse that request. Please rephrase."
	ReplyCompilerFailed = "Compiler failed. Try again shortly."
	ReplyInternal       = "Something went wrong. Try again shortly."
	ReplyCoercionHint   = `Hint: use "also" if you want separate top-level tasks.`
)

// Tasks is the task service surface the handler drives.
type Tasks interface {
	Create(ctx context.Context, batch taskgraph.Batch, origin models.Origin, maxSubtasks int) ([]models.Task, error)
	ListPending(ctx context.Context, userID string, limit int) ([]models.Task, error)
	Get(ctx context.Context, id int64, userID string) (*models.Task, error)
	GetPending(ctx context.Context, id int64, userID string) (*models.Task, error)
	Complete(ctx context.Context, id int64, userID string) (taskservice.DoneResult, error)
	Snooze(ctx context.Context, id int64, userID string, req taskservice.SnoozeRequest) (taskservice.SnoozeResult, error)
}

// Settings loads and updates runtime settings.
type Settings interface {
	Load(ctx context.Context) (settings.Snapshot, error)
	Apply(ctx context.Context, updates []settings.Update) ([]settings.Update, error)
}

// Replier posts a reply into the channel a message arrived on.
type Replier interface {
	Reply(ctx context.Context, channelID, text string) error
}

// Handler executes parsed commands for one sender at a time.
type Handler struct {
	tasks    Tasks
	settings Settings
	compiler compiler.Compiler
	replier  Replier
	logger   *slog.Logger
	now      func() time.Time
}

// NewHandler creates a command handler. replier may be nil when replies are
// returned to the caller only.
func NewHandler(tasks Tasks, st Settings, c compiler.Compiler, replier Replier, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{tasks: tasks, settings: st, compiler: c, replier: replier, logger: logger, now: time.Now}
}

// Handle parses msg, executes it and delivers the reply. It returns the reply
// text, or false when the message is not a command.
func (h *Handler) Handle(ctx context.Context, msg models.Message) (string, bool) {
	cmd, ok := Parse(msg.Text)
	if !ok {
		return "", false
	}

	reply, err := h.Execute(ctx, cmd, msg)
	if err != nil {
		h.logger.Error("command failed",
			slog.String("command", string(cmd.Kind)),
			slog.String("sender_id", msg.SenderID),
			slog.String("error", err.Error()),
		)
		reply = ReplyInternal
	}

	if h.replier != nil {
		if err := h.replier.Reply(ctx, msg.ChannelID, reply); err != nil {
			h.logger.Error("reply failed",
				slog.String("channel_id", msg.ChannelID),
				slog.String("error", err.Error()),
			)
		}
	}
	return reply, true
}

// Execute runs cmd on behalf of msg's sender and returns the reply text.
// Errors are storage failures; compiler failures become replies.
func (h *Handler) Execute(ctx context.Context, cmd Command, msg models.Message) (string, error) {
	switch cmd.Kind {
	case KindHelp:
		return HelpText, nil
	case KindList:
		return h.list(ctx, msg.SenderID)
	case KindDone:
		return h.done(ctx, cmd.TaskID, msg.SenderID)
	case KindExplain:
		return h.explain(ctx, cmd.TaskID, msg.SenderID)
	case KindNudge:
		return h.nudge(ctx, cmd.Text, msg)
	case KindSnooze:
		return h.snooze(ctx, cmd.TaskID, cmd.Text, msg.SenderID)
	case KindConfig:
		return h.config(ctx, cmd.Text)
	default:
		return "", fmt.Errorf("command: unknown kind %q: %w", cmd.Kind, apperr.ErrInvalidInput)
	}
}

func (h *Handler) list(ctx context.Context, userID string) (string, error) {
	snap, err := h.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	tasks, err := h.tasks.ListPending(ctx, userID, taskservice.DefaultListLimit)
	if err != nil {
		return "", err
	}
	if len(tasks) == 0 {
		return "No pending top-level tasks.", nil
	}

	loc := snap.Location()
	lines := make([]string, 0, len(tasks))
	for _, t := range tasks {
		lines = append(lines, fmt.Sprintf("[%d] %s | %s -> %s", t.ID, t.Title, timewindow.Format(&t.WindowStart, loc), timewindow.Format(t.WindowEnd, loc)))
	}
	return strings.Join(lines, "\n"), nil
}

func (h *Handler) done(ctx context.Context, id int64, userID string) (string, error) {
	if id <= 0 {
		return "Use: done: <taskId>", nil
	}
	res, err := h.tasks.Complete(ctx, id, userID)
	if err != nil {
		return "", err
	}
	switch {
	case !res.Found:
		return fmt.Sprintf("Task %d not found.", id), nil
	case res.AlreadyDone:
		return fmt.Sprintf("Task [%d] is already done.", id), nil
	case res.RootWasDone:
		return fmt.Sprintf("Task [%d] was already done; marked %d subtask(s) done.", id, res.UpdatedCount), nil
	default:
		return fmt.Sprintf("Done [%d] (+%d subtasks). Good job!", id, max(0, res.UpdatedCount-1)), nil
	}
}

func (h *Handler) explain(ctx context.Context, id int64, userID string) (string, error) {
	if id <= 0 {
		return "Use: explain: <taskId>", nil
	}
	t, err := h.tasks.Get(ctx, id, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Sprintf("Task %d not found.", id), nil
	}
	if err != nil {
		return "", err
	}

	notes := strings.TrimSpace(t.MemoryContext)
	if notes == "" || taskgraph.LooksLikeSlug(notes) {
		reply := fmt.Sprintf("Explain [%d]: no extra notes saved. Task looks self-explanatory.", id)
		if t.Category != "" {
			reply += "\nCategory: " + t.Category
		}
		return reply, nil
	}

	if utf8.RuneCountInString(notes) > explainClip {
		notes = string([]rune(notes)[:explainClip]) + "..."
	}
	var b strings.Builder
	fmt.Fprintf(&b, "Explain [%d] %s\n", id, t.Title)
	if t.Category != "" {
		b.WriteString("Category: " + t.Category + "\n")
	}
	b.WriteString(notes)
	return b.String(), nil
}

func (h *Handler) nudge(ctx context.Context, text string, msg models.Message) (string, error) {
	snap, err := h.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	doc, reply := h.compile(ctx, compiler.CommandNudge, text, snap)
	if doc == nil {
		return reply, nil
	}

	switch {
	case doc.Intent == compiler.IntentClarify:
		return doc.Clarification("Can you clarify that nudge?"), nil
	case doc.Intent != compiler.IntentCreate:
		return "I expected a create intent. Please rephrase your nudge.", nil
	case len(doc.Tasks) == 0:
		return "I could not build tasks. Rephrase with clearer time/context.", nil
	}

	batch, coerced := taskgraph.CoerceSingleTopLevel(doc.Batch(), text)
	created, err := h.tasks.Create(ctx, batch, msg.Origin(), snap.MaxSubtasks())
	if err != nil {
		return "", err
	}
	return summarizeCreated(created, coerced, snap), nil
}

func summarizeCreated(created []models.Task, coerced bool, snap settings.Snapshot) string {
	loc := snap.Location()
	var lines, windows []string
	top := 0
	for _, t := range created {
		line := fmt.Sprintf("[%d] %s", t.ID, t.Title)
		if t.Category != "" {
			line += " {" + t.Category + "}"
		}
		lines = append(lines, line)
		if t.TopLevel() {
			top++
			windows = append(windows, fmt.Sprintf("[%d] %s -> %s", t.ID, timewindow.Format(&t.WindowStart, loc), timewindow.Format(t.WindowEnd, loc)))
		}
	}

	var b strings.Builder
	if sub := len(created) - top; sub > 0 {
		fmt.Fprintf(&b, "Created %d task(s) + %d subtask(s):", top, sub)
	} else {
		fmt.Fprintf(&b, "Created %d task(s):", len(created))
	}
	b.WriteString("\n" + strings.Join(lines, "\n"))
	if len(windows) > 0 {
		fmt.Fprintf(&b, "\nNudge window (%s):\n%s", snap.Timezone(), strings.Join(windows, "\n"))
	}
	if coerced {
		b.WriteString("\n" + ReplyCoercionHint)
	}
	return b.String()
}

type snoozeContext struct {
	TaskID             int64      `json:"task_id"`
	TaskTitle          string     `json:"task_title"`
	CurrentWindowStart time.Time  `json:"current_window_start"`
	CurrentWindowEnd   *time.Time `json:"current_window_end"`
	UserRequest        string     `json:"user_request"`
}

func (h *Handler) snooze(ctx context.Context, id int64, text, userID string) (string, error) {
	if id <= 0 {
		return "Use: snooze: <taskId> <when>", nil
	}
	t, err := h.tasks.GetPending(ctx, id, userID)
	if errors.Is(err, apperr.ErrNotFound) {
		return fmt.Sprintf("Task %d not found or not pending.", id), nil
	}
	if err != nil {
		return "", err
	}

	snap, err := h.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	payload, err := json.Marshal(snoozeContext{
		TaskID:             t.ID,
		TaskTitle:          t.Title,
		CurrentWindowStart: t.WindowStart,
		CurrentWindowEnd:   t.WindowEnd,
		UserRequest:        text,
	})
	if err != nil {
		return "", fmt.Errorf("command: encode snooze context: %w", err)
	}
	doc, reply := h.compile(ctx, compiler.CommandSnooze, string(payload), snap)
	if doc == nil {
		return reply, nil
	}

	switch doc.Intent {
	case compiler.IntentClarify:
		return doc.Clarification("Clarify snooze timing."), nil
	case compiler.IntentSnooze:
	default:
		return "I expected a snooze intent. Try `snooze: <id> 2h`.", nil
	}

	req, ok := doc.SnoozeRequest()
	if !ok {
		return "I could not parse that snooze. Try `snooze: <id> 2h`.", nil
	}
	res, err := h.tasks.Snooze(ctx, id, userID, req)
	if errors.Is(err, apperr.ErrNotFound) || errors.Is(err, apperr.ErrInvalidInput) || (err == nil && !res.Updated) {
		return fmt.Sprintf("Task %d could not be snoozed.", id), nil
	}
	if err != nil {
		return "", err
	}

	loc := snap.Location()
	return fmt.Sprintf("Snoozed [%d] -> %s to %s", id, timewindow.Format(&res.Task.WindowStart, loc), timewindow.Format(res.Task.WindowEnd, loc)), nil
}

func (h *Handler) config(ctx context.Context, text string) (string, error) {
	snap, err := h.settings.Load(ctx)
	if err != nil {
		return "", err
	}
	doc, reply := h.compile(ctx, compiler.CommandConfig, text, snap)
	if doc == nil {
		return reply, nil
	}

	switch doc.Intent {
	case compiler.IntentClarify:
		return doc.Clarification("Clarify config update."), nil
	case compiler.IntentConfig:
	default:
		return "I expected config changes. Please rephrase.", nil
	}

	applied, err := h.settings.Apply(ctx, doc.ConfigUpdates())
	if err != nil {
		return "", err
	}
	if len(applied) == 0 {
		return "No valid config keys found.", nil
	}
	pairs := make([]string, 0, len(applied))
	for _, u := range applied {
		pairs = append(pairs, u.Key+"="+u.Value)
	}
	return "Config updated: " + strings.Join(pairs, ", "), nil
}

// compile runs the compiler. On failure it returns a nil document and the
// reply to send instead.
func (h *Handler) compile(ctx context.Context, kind compiler.CommandType, text string, snap settings.Snapshot) (*compiler.Document, string) {
	doc, err := h.compiler.Compile(ctx, compiler.Request{Command: kind, Text: text, Settings: snap, Now: h.now()})
	if err == nil {
		return doc, ""
	}

	var cerr *compiler.Error
	if errors.As(err, &cerr) {
		h.logger.Warn("compiler output rejected",
			slog.String("command", string(kind)),
			slog.String("reason", cerr.Reason),
		)
		return nil, ReplyParseFailed
	}
	h.logger.Error("compiler failed",
		slog.String("command", string(kind)),
		slog.String("error", err.Error()),
		slog.Int("text_len", len(text)),
	)
	return nil, ReplyCompilerFailed
}
