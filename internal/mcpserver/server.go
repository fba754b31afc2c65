// Package mcpserver provides an MCP (Model Context Protocol) server
// that exposes nudger task tools for LLM integration via stdio transport.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/starford/nudger/internal/apperr"
	"github.com/starford/nudger/internal/compiler"
	"github.com/starford/nudger/internal/models"
	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/taskgraph"
	"github.com/starford/nudger/internal/taskservice"
)

// Tasks is the task service surface exposed as tools.
type Tasks interface {
	Create(ctx context.Context, batch taskgraph.Batch, origin models.Origin, maxSubtasks int) ([]models.Task, error)
	ListPending(ctx context.Context, userID string, limit int) ([]models.Task, error)
	Get(ctx context.Context, id int64, userID string) (*models.Task, error)
	Complete(ctx context.Context, id int64, userID string) (taskservice.DoneResult, error)
	Snooze(ctx context.Context, id int64, userID string, req taskservice.SnoozeRequest) (taskservice.SnoozeResult, error)
}

// SettingsLoader returns the current settings snapshot.
type SettingsLoader interface {
	Load(ctx context.Context) (settings.Snapshot, error)
}

// Server wraps the MCP server with nudger tools.
type Server struct {
	mcp      *server.MCPServer
	tasks    Tasks
	settings SettingsLoader
}

// New creates a new MCP server with all nudger tools registered.
func New(tasks Tasks, st SettingsLoader) *Server {
	s := &Server{tasks: tasks, settings: st}

	s.mcp = server.NewMCPServer(
		"Nudger",
		"1.0.0",
		server.WithToolCapabilities(false),
		server.WithResourceCapabilities(false, false),
	)

	s.mcp.AddTool(mcp.NewTool("list_tasks",
		mcp.WithDescription("List pending top-level tasks of a user, highest priority first."),
		mcp.WithString("user", mcp.Required(), mcp.Description("Owning user id")),
	), s.listTasks)

	s.mcp.AddTool(mcp.NewTool("explain_task",
		mcp.WithDescription("Return a task with its saved context notes."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("user", mcp.Required(), mcp.Description("Owning user id")),
	), s.explainTask)

	s.mcp.AddTool(mcp.NewTool("complete_task",
		mcp.WithDescription("Mark a task and all of its subtasks done."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithString("user", mcp.Required(), mcp.Description("Owning user id")),
	), s.completeTask)

	s.mcp.AddTool(mcp.NewTool("snooze_task",
		mcp.WithDescription("Delay a pending task by a number of minutes, keeping its window length."),
		mcp.WithNumber("id", mcp.Required(), mcp.Description("Task id")),
		mcp.WithNumber("minutes", mcp.Required(), mcp.Description("Delay in minutes (at least 1)")),
		mcp.WithString("user", mcp.Required(), mcp.Description("Owning user id")),
	), s.snoozeTask)

	s.mcp.AddTool(mcp.NewTool("create_tasks",
		mcp.WithDescription("Create tasks from a compiler document with intent=create. "+
			"Read the contract first via the get_compiler_contract tool or the "+SchemaURI+" resource."),
		mcp.WithString("user", mcp.Required(), mcp.Description("Owning user id")),
		mcp.WithString("document", mcp.Required(), mcp.Description("Compiler document as a JSON string")),
	), s.createTasks)

	s.mcp.AddTool(mcp.NewTool("get_compiler_contract",
		mcp.WithDescription("Returns the compiler document contract and JSON schema."),
	), s.getCompilerContract)

	// Resource: compiler schema.
	s.mcp.AddResource(
		mcp.NewResource(SchemaURI, "Compiler Document Schema",
			mcp.WithResourceDescription("JSON schema of the structured document used to create and update tasks."),
			mcp.WithMIMEType("application/json"),
		),
		s.readSchemaResource,
	)

	return s
}

// ServeStdio starts the MCP server on stdin/stdout.
func (s *Server) ServeStdio() error {
	return server.ServeStdio(s.mcp)
}

// MCPServer returns the underlying server for testing.
func (s *Server) MCPServer() *server.MCPServer {
	return s.mcp
}

func jsonResult(v any) *mcp.CallToolResult {
	out, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return mcp.NewToolResultError(err.Error())
	}
	return mcp.NewToolResultText(string(out))
}

// requireInt reads a positive integer argument. Numbers arrive as float64
// from JSON clients; numeric strings are accepted too.
func requireInt(req mcp.CallToolRequest, name string) (int64, error) {
	var n int64
	switch v := req.GetArguments()[name].(type) {
	case float64:
		if v != math.Trunc(v) {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		n = int64(v)
	case int:
		n = int64(v)
	case int64:
		n = v
	case string:
		parsed, err := strconv.ParseInt(strings.TrimSpace(v), 10, 64)
		if err != nil {
			return 0, fmt.Errorf("%s must be an integer", name)
		}
		n = parsed
	case nil:
		return 0, fmt.Errorf("required argument %q not found", name)
	default:
		return 0, fmt.Errorf("%s must be an integer", name)
	}
	if n <= 0 {
		return 0, fmt.Errorf("%s must be positive", name)
	}
	return n, nil
}

func (s *Server) listTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	tasks, err := s.tasks.ListPending(ctx, user, taskservice.DefaultListLimit)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(tasks), nil
}

func (s *Server) explainTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireInt(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	t, err := s.tasks.Get(ctx, id, user)
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("task %d not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(t), nil
}

func (s *Server) completeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireInt(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.tasks.Complete(ctx, id, user)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Found {
		return mcp.NewToolResultError(fmt.Sprintf("task %d not found", id)), nil
	}
	return jsonResult(res), nil
}

func (s *Server) snoozeTask(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := requireInt(req, "id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	minutes, err := requireInt(req, "minutes")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	res, err := s.tasks.Snooze(ctx, id, user, taskservice.SnoozeRequest{Minutes: int(minutes)})
	if errors.Is(err, apperr.ErrNotFound) {
		return mcp.NewToolResultError(fmt.Sprintf("task %d not found", id)), nil
	}
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if !res.Updated {
		return mcp.NewToolResultError(fmt.Sprintf("task %d is not pending", id)), nil
	}
	return jsonResult(res.Task), nil
}

func (s *Server) createTasks(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	user, err := req.RequireString("user")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	raw, err := req.RequireString("document")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	doc, err := compiler.Decode([]byte(raw))
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	if doc.Intent != compiler.IntentCreate || len(doc.Tasks) == 0 {
		return mcp.NewToolResultError("document must have intent=create and at least one task"), nil
	}
	snap, err := s.settings.Load(ctx)
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	created, err := s.tasks.Create(ctx, doc.Batch(), models.Origin{UserID: user}, snap.MaxSubtasks())
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	return jsonResult(created), nil
}

func (s *Server) getCompilerContract(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return mcp.NewToolResultText(CompilerContract()), nil
}

func (s *Server) readSchemaResource(ctx context.Context, req mcp.ReadResourceRequest) ([]mcp.ResourceContents, error) {
	return []mcp.ResourceContents{
		mcp.TextResourceContents{
			URI:      SchemaURI,
			MIMEType: "application/json",
			Text:     compiler.SchemaJSON(),
		},
	}, nil
}
