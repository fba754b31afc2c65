package api

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/scheduler"
)

// MessageHandler executes an inbound transport message and returns its reply.
type MessageHandler interface {
	Handle(ctx context.Context, msg models.Message) (string, bool)
}

// TaskReader reads tasks scoped to one user.
type TaskReader interface {
	ListPending(ctx context.Context, userID string, limit int) ([]models.Task, error)
	Get(ctx context.Context, id int64, userID string) (*models.Task, error)
}

// Ticker runs one scheduling pass.
type Ticker interface {
	Tick(ctx context.Context) (scheduler.Report, error)
}

// Deps are the collaborators the API routes need. Ticker and Events are
// optional.
type Deps struct {
	Messages    MessageHandler
	Tasks       TaskReader
	Ticker      Ticker
	Events      http.Handler
	AuthEnabled bool
	Token       string
}

// NewRouter creates a chi router with all API routes mounted.
// Events, if non-nil, is mounted at GET /events inside the auth group.
func NewRouter(d Deps) chi.Router {
	h := NewHandler(d.Messages, d.Tasks, d.Ticker)

	r := chi.NewRouter()
	r.Use(AuthMiddleware(d.AuthEnabled, d.Token))

	// Inbound transport.
	r.Post("/messages", h.PostMessage)

	// Tasks.
	r.Get("/tasks", h.ListTasks)
	r.Get("/tasks/{id}", h.GetTask)

	// Manual scheduling pass.
	if d.Ticker != nil {
		r.Post("/tick", h.Tick)
	}

	// SSE endpoint (protected by same auth middleware).
	if d.Events != nil {
		r.Get("/events", d.Events.ServeHTTP)
	}

	return r
}
