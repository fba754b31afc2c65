// Package models defines the domain types for nudger.
package models

import "time"

// TaskStatus is the lifecycle state of a task.
type TaskStatus string

// Task statuses. Archived is reserved and never produced by the core.
const (
	StatusPending  TaskStatus = "pending"
	StatusDone     TaskStatus = "done"
	StatusArchived TaskStatus = "archived"
)

// Task is a reminder-bearing unit of work. Tasks with a ParentID are subtasks
// and are shown alongside their parent's reminder, never reminded on their own.
type Task struct {
	ID            int64      `json:"id"`
	ParentID      *int64     `json:"parent_id,omitempty"`
	Title         string     `json:"title"`
	Status        TaskStatus `json:"status"`
	Priority      int        `json:"priority"`
	WindowStart   time.Time  `json:"window_start"`
	WindowEnd     *time.Time `json:"window_end,omitempty"`
	ReminderText  string     `json:"reminder_text"`
	MemoryContext string     `json:"memory_context,omitempty"`
	Category      string     `json:"category,omitempty"`
	Origin        Origin     `json:"origin"`
	LastNudgedAt  *time.Time `json:"last_nudged_at,omitempty"`
	NudgeCount    int        `json:"nudge_count"`
	SnoozeCount   int        `json:"snooze_count"`
	CreatedAt     time.Time  `json:"created_at"`
	UpdatedAt     time.Time  `json:"updated_at"`
}

// TopLevel reports whether the task has no parent.
func (t Task) TopLevel() bool {
	return t.ParentID == nil
}

// Origin identifies the transport message a task was created from. Every
// user-facing query is scoped by UserID.
type Origin struct {
	UserID    string `json:"user_id,omitempty"`
	ChannelID string `json:"channel_id,omitempty"`
	MessageID string `json:"message_id,omitempty"`
}

// ExternalLink ties a task to a card in an external tracker. At most one link
// exists per (task, provider) and per (provider, external id).
type ExternalLink struct {
	ID           int64      `json:"id"`
	TaskID       int64      `json:"task_id"`
	Provider     string     `json:"provider"`
	ExternalID   string     `json:"external_id"`
	PayloadJSON  string     `json:"payload_json,omitempty"`
	LastSyncedAt *time.Time `json:"last_synced_at,omitempty"`
}

// Message is an inbound transport message.
type Message struct {
	SenderID  string    `json:"sender_id"`
	ChannelID string    `json:"channel_id"`
	MessageID string    `json:"message_id"`
	Text      string    `json:"text"`
	Timestamp time.Time `json:"timestamp"`
}

// Origin returns the provenance a task created from m should carry.
func (m Message) Origin() Origin {
	return Origin{UserID: m.SenderID, ChannelID: m.ChannelID, MessageID: m.MessageID}
}
