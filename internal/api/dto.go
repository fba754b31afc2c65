package api

import (
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/google/uuid"

	"github.com/starford/nudger/internal/models"
)

// MessageRequest is an inbound transport message.
type MessageRequest struct {
	SenderID  string `json:"sender_id" example:"u-42" validate:"required"`
	ChannelID string `json:"channel_id,omitempty" example:"dm-u-42"`
	MessageID string `json:"message_id,omitempty" example:"6f1c..."`
	Text      string `json:"text" example:"nudge: fix sink next week" validate:"required"`
}

// Validate checks the required fields.
func (m MessageRequest) Validate() error {
	return validation.ValidateStruct(&m,
		validation.Field(&m.SenderID, validation.Required, validation.Length(1, 128)),
		validation.Field(&m.ChannelID, validation.Length(0, 128)),
		validation.Field(&m.Text, validation.Required, validation.Length(1, 4000)),
	)
}

// Message converts the request, defaulting the channel to the sender and
// assigning a message id when the transport sent none.
func (m MessageRequest) Message(now time.Time) models.Message {
	msg := models.Message{
		SenderID:  strings.TrimSpace(m.SenderID),
		ChannelID: strings.TrimSpace(m.ChannelID),
		MessageID: strings.TrimSpace(m.MessageID),
		Text:      m.Text,
		Timestamp: now.UTC(),
	}
	if msg.ChannelID == "" {
		msg.ChannelID = msg.SenderID
	}
	if msg.MessageID == "" {
		msg.MessageID = uuid.NewString()
	}
	return msg
}

// MessageResponse carries the replies produced for a message. Replies is
// empty when the message was not a command.
type MessageResponse struct {
	MessageID string   `json:"message_id" validate:"required"`
	Replies   []string `json:"replies" validate:"required"`
}

// TaskListResponse wraps a task listing.
type TaskListResponse struct {
	Tasks []models.Task `json:"tasks" validate:"required"`
}
