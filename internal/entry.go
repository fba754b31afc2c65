// Package internal provides the main application initialization and runtime logic.
package internal

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"golang.org/x/sync/errgroup"

	"github.com/starford/nudger/internal/api"
	"github.com/starford/nudger/internal/command"
	"github.com/starford/nudger/internal/compiler"
	"github.com/starford/nudger/internal/inbox"
	"github.com/starford/nudger/internal/mcpserver"
	"github.com/starford/nudger/internal/reconcile"
	"github.com/starford/nudger/internal/scheduler"
	"github.com/starford/nudger/internal/settings"
	"github.com/starford/nudger/internal/sse"
	"github.com/starford/nudger/internal/store"
	"github.com/starford/nudger/internal/taskservice"
	"github.com/starford/nudger/internal/trello"
)

// core holds the collaborators shared by every run mode.
type core struct {
	cfg      *Config
	logger   *slog.Logger
	db       *store.DB
	tasks    *taskservice.Service
	settings *settings.Service
	resolver scheduler.RecipientResolver
}

func newApplication(opts []Option) (*application, error) {
	app := &application{}
	for _, opt := range opts {
		opt(app)
	}
	if app.config == nil {
		return nil, fmt.Errorf("config is required")
	}
	return app, nil
}

func newLogger(cfg *Config, w io.Writer) *slog.Logger {
	logger := slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))
	slog.SetDefault(logger)
	return logger
}

func openCore(cfg *Config, logger *slog.Logger) (*core, error) {
	logger.Info("Configuration loaded",
		slog.String("http_address", cfg.App.HTTP.Address()),
		slog.String("sqlite_path", cfg.SQLite.Path),
		slog.String("log_level", cfg.App.LogLevel.String()),
		slog.Bool("trello", cfg.Trello.Client().Configured()))

	db, err := store.Open(cfg.SQLite.Path)
	if err != nil {
		return nil, fmt.Errorf("init store: %w", err)
	}
	return &core{
		cfg:      cfg,
		logger:   logger,
		db:       db,
		tasks:    taskservice.NewService(db),
		settings: settings.NewService(db, logger),
		resolver: scheduler.RecipientResolver{Owner: cfg.Transport.OwnerID},
	}, nil
}

// runner assembles the scheduler with notifier n.
func (c *core) runner(n scheduler.Notifier) *scheduler.Runner {
	var tracker reconcile.Tracker
	if tc := c.cfg.Trello.Client(); tc.Configured() {
		tracker = trello.NewClient(tc, nil)
	}
	syncer := reconcile.New(c.db, tracker, c.tasks, c.logger).WithClaimTTL(c.cfg.Scheduler.ClaimTTL)

	return scheduler.NewRunner(scheduler.Deps{
		Engine:      scheduler.NewEngine(c.db, c.resolver),
		Settings:    c.settings,
		Notifier:    n,
		Bookkeeper:  c.db,
		Syncer:      syncer,
		Logger:      c.logger,
		Concurrency: c.cfg.Scheduler.SendConcurrency,
	})
}

func (app *application) compilerFor(cfg *Config) compiler.Compiler {
	if app.compiler != nil {
		return app.compiler
	}
	return compiler.NewOpenAI(cfg.Compiler.OpenAI(), nil)
}

// Run starts the long-running service: HTTP API, reminder streams, the
// scheduler loop and, when configured, the inbox watcher.
func Run(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}
	cfg := app.config

	// Initialize structured JSON logger.
	logger := newLogger(cfg, os.Stdout)

	c, err := openCore(cfg, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	if err := c.resolver.Check(ctx, c.db); err != nil {
		return err
	}
	if cfg.Compiler.APIKey == "" && app.compiler == nil {
		logger.Warn("compiler api key is empty; nudge, snooze and config commands will fail")
	}

	// SSE broker doubles as the outbound transport.
	broker := sse.NewBroker(cfg.Transport.KeepAlive)
	defer broker.Close()

	handler := command.NewHandler(c.tasks, c.settings, app.compilerFor(cfg), broker, logger)
	runner := c.runner(broker)

	apiRouter := api.NewRouter(api.Deps{
		Messages:    handler,
		Tasks:       c.tasks,
		Ticker:      runner,
		Events:      broker,
		AuthEnabled: cfg.Auth.AuthEnabled(),
		Token:       cfg.Auth.Token,
	})

	// Build chi router.
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)

	// Health check endpoints (unauthenticated).
	r.Get("/health/live", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})
	r.Get("/health/ready", func(w http.ResponseWriter, req *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := c.db.Ping(req.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			_, _ = w.Write([]byte(`{"status":"unavailable"}`))
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	// Mount API routes under /api.
	r.Mount("/api", apiRouter)

	httpServer := &http.Server{
		Addr:              cfg.App.HTTP.Address(),
		Handler:           r,
		ReadHeaderTimeout: 10 * time.Second,
	}

	logger.Info("Server starting...", slog.String("http_address", cfg.App.HTTP.Address()))

	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gCtx := errgroup.WithContext(runCtx)

	// Scheduler loop.
	g.Go(func() error {
		logger.Info("Starting scheduler", slog.Duration("interval", cfg.Scheduler.TickInterval))
		return runner.Loop(gCtx, cfg.Scheduler.TickInterval)
	})

	// Inbox spool watcher.
	if dir := cfg.Transport.InboxDir; dir != "" {
		g.Go(func() error {
			return inbox.Watch(gCtx, dir, handler, logger)
		})
	}

	// Start HTTP server.
	g.Go(func() error {
		logger.Info("Starting HTTP server", slog.String("address", cfg.App.HTTP.Address()))
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server error: %w", err)
		}
		return nil
	})

	// Handle shutdown signals.
	g.Go(func() error {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		defer signal.Stop(quit)

		select {
		case sig := <-quit:
			logger.Info("Received shutdown signal", slog.String("signal", sig.String()))
		case <-gCtx.Done():
			logger.Info("Context cancelled, initiating shutdown")
		}

		logger.Info("Shutting down server...")
		cancel()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			logger.Error("HTTP server shutdown error", slog.String("error", err.Error()))
		}

		return nil
	})

	if err := g.Wait(); err != nil {
		logger.Error("Application error", slog.String("error", err.Error()))
		return err
	}

	logger.Info("Server stopped successfully")
	return nil
}

// RunTick runs a single scheduling tick, writing reminders as JSON lines to
// the configured output, and returns. Logs go to stderr.
func RunTick(ctx context.Context, opts ...Option) (scheduler.Report, error) {
	app, err := newApplication(opts)
	if err != nil {
		return scheduler.Report{}, err
	}
	out := app.output
	if out == nil {
		out = os.Stdout
	}

	logger := newLogger(app.config, os.Stderr)
	c, err := openCore(app.config, logger)
	if err != nil {
		return scheduler.Report{}, err
	}
	defer c.db.Close()

	if err := c.resolver.Check(ctx, c.db); err != nil {
		return scheduler.Report{}, err
	}

	rep, err := c.runner(sse.NewLineNotifier(out)).Tick(ctx)
	if err != nil {
		return rep, fmt.Errorf("tick: %w", err)
	}
	logger.Info("tick complete",
		slog.Int("candidates", rep.Candidates),
		slog.Int("sent", rep.Sent),
		slog.Int("failed", rep.Failed),
		slog.Bool("quiet", rep.Quiet))
	return rep, nil
}

// RunMCP serves the task tools over MCP stdio until stdin closes. Logs go
// to stderr so stdout stays reserved for the protocol.
func RunMCP(ctx context.Context, opts ...Option) error {
	app, err := newApplication(opts)
	if err != nil {
		return err
	}

	logger := newLogger(app.config, os.Stderr)
	c, err := openCore(app.config, logger)
	if err != nil {
		return err
	}
	defer c.db.Close()

	logger.Info("MCP server starting on stdio")
	return mcpserver.New(c.tasks, c.settings).ServeStdio()
}
