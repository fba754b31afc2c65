package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/starford/nudger/internal/apperr"
	"github.com/starford/nudger/internal/taskservice"
)

// Handler holds API route handlers.
type Handler struct {
	messages MessageHandler
	tasks    TaskReader
	ticker   Ticker
}

// NewHandler creates a new Handler.
func NewHandler(messages MessageHandler, tasks TaskReader, ticker Ticker) *Handler {
	return &Handler{messages: messages, tasks: tasks, ticker: ticker}
}

func userParam(r *http.Request) string {
	return strings.TrimSpace(r.URL.Query().Get("user"))
}

// PostMessage handles POST /api/messages.
//
//	@Summary		Deliver an inbound chat message
//	@Tags			messages
//	@Accept			json
//	@Produce		json
//	@Param			body	body		MessageRequest	true	"Message"
//	@Success		200		{object}	MessageResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/messages [post]
func (h *Handler) PostMessage(w http.ResponseWriter, r *http.Request) {
	var req MessageRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid JSON body"))
		return
	}
	if err := req.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody(err.Error()))
		return
	}

	msg := req.Message(time.Now())
	resp := MessageResponse{MessageID: msg.MessageID, Replies: []string{}}
	if reply, ok := h.messages.Handle(r.Context(), msg); ok {
		resp.Replies = append(resp.Replies, reply)
	}
	writeJSON(w, http.StatusOK, resp)
}

// ListTasks handles GET /api/tasks.
//
//	@Summary		List pending top-level tasks of a user
//	@Tags			tasks
//	@Produce		json
//	@Param			user	query		string	true	"Owning user id"
//	@Param			limit	query		int		false	"Max results"
//	@Success		200		{object}	TaskListResponse
//	@Failure		400		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks [get]
func (h *Handler) ListTasks(w http.ResponseWriter, r *http.Request) {
	user := userParam(r)
	if user == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'user' is required"))
		return
	}
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	if limit <= 0 || limit > taskservice.DefaultListLimit {
		limit = taskservice.DefaultListLimit
	}

	tasks, err := h.tasks.ListPending(r.Context(), user, limit)
	if err != nil {
		slog.Error("list tasks failed", slog.String("user", user), slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, TaskListResponse{Tasks: tasks})
}

// GetTask handles GET /api/tasks/{id}.
//
//	@Summary		Get one task of a user
//	@Tags			tasks
//	@Produce		json
//	@Param			id		path		int		true	"Task id"
//	@Param			user	query		string	true	"Owning user id"
//	@Success		200		{object}	models.Task
//	@Failure		404		{object}	errResponse
//	@Security		BearerAuth
//	@Router			/tasks/{id} [get]
func (h *Handler) GetTask(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil || id <= 0 {
		writeJSON(w, http.StatusBadRequest, errorBody("invalid task id"))
		return
	}
	user := userParam(r)
	if user == "" {
		writeJSON(w, http.StatusBadRequest, errorBody("query parameter 'user' is required"))
		return
	}

	task, err := h.tasks.Get(r.Context(), id, user)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, errorBody("not found"))
		} else {
			slog.Error("get task failed", slog.Int64("task_id", id), slog.String("error", err.Error()))
			writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		}
		return
	}
	writeJSON(w, http.StatusOK, task)
}

// Tick handles POST /api/tick.
//
//	@Summary		Run one scheduling pass now
//	@Tags			scheduler
//	@Produce		json
//	@Success		200	{object}	scheduler.Report
//	@Security		BearerAuth
//	@Router			/tick [post]
func (h *Handler) Tick(w http.ResponseWriter, r *http.Request) {
	// A started tick runs to completion even if the client goes away.
	rep, err := h.ticker.Tick(context.WithoutCancel(r.Context()))
	if err != nil {
		slog.Error("tick failed", slog.String("error", err.Error()))
		writeJSON(w, http.StatusInternalServerError, errorBody("internal error"))
		return
	}
	writeJSON(w, http.StatusOK, rep)
}
