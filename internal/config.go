package internal

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"

	"github.com/starford/nudger/internal/compiler"
	"github.com/starford/nudger/internal/trello"
)

// Auth modes.
const (
	AuthModeDisabled = "disabled"
	AuthModeToken    = "token"
)

// Config represents the application configuration.
type Config struct {
	App       ApplicationConfig `yaml:"app"`
	SQLite    SQLiteConfig      `yaml:"sqlite"`
	Auth      AuthConfig        `yaml:"auth"`
	Scheduler SchedulerConfig   `yaml:"scheduler"`
	Transport TransportConfig   `yaml:"transport"`
	Compiler  CompilerConfig    `yaml:"compiler"`
	Trello    TrelloConfig      `yaml:"trello"`
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if err := c.App.Validate(); err != nil {
		return err
	}
	if err := c.SQLite.Validate(); err != nil {
		return err
	}
	if err := c.Auth.Validate(); err != nil {
		return err
	}
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("scheduler: %w", err)
	}
	if err := c.Compiler.Validate(); err != nil {
		return fmt.Errorf("compiler: %w", err)
	}
	return c.Trello.Validate()
}

// ApplicationConfig holds application-level configuration.
type ApplicationConfig struct {
	LogLevel slog.Level `yaml:"log_level"`
	HTTP     HTTPConfig `yaml:"http"`
}

// Validate validates the application configuration.
func (c *ApplicationConfig) Validate() error {
	return c.HTTP.Validate()
}

// HTTPConfig holds HTTP server configuration.
type HTTPConfig struct {
	Port int `yaml:"port"`
}

// Address returns HTTP server address.
func (c *HTTPConfig) Address() string {
	return fmt.Sprintf(":%d", c.Port)
}

// Validate validates the HTTP configuration.
func (c *HTTPConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Port, validation.Required, validation.Min(1), validation.Max(65535)),
	)
}

// SQLiteConfig holds SQLite database configuration.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// Validate validates the SQLite configuration.
func (c *SQLiteConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Path, validation.Required),
	)
}

// AuthConfig holds authentication configuration.
//
// Mode controls how authentication is enforced:
//   - "disabled" (default): no authentication required, suitable for local dev.
//   - "token": Bearer token authentication; Token must be non-empty.
type AuthConfig struct {
	Mode  string `yaml:"mode"`
	Token string `yaml:"token"`
}

// Validate validates the auth configuration.
func (c *AuthConfig) Validate() error {
	if c.Mode == "" {
		c.Mode = AuthModeDisabled
	}
	if err := validation.ValidateStruct(c,
		validation.Field(&c.Mode, validation.Required, validation.In(AuthModeDisabled, AuthModeToken)),
	); err != nil {
		return err
	}
	if c.Mode == AuthModeToken && c.Token == "" {
		return fmt.Errorf("auth: mode is %q but token is empty", AuthModeToken)
	}
	return nil
}

// AuthEnabled returns true when authentication is active.
func (c *AuthConfig) AuthEnabled() bool {
	return c.Mode == AuthModeToken
}

// SchedulerConfig controls the built-in tick loop.
type SchedulerConfig struct {
	TickInterval    time.Duration `yaml:"tick_interval"`
	SendConcurrency int           `yaml:"send_concurrency"`
	ClaimTTL        time.Duration `yaml:"claim_ttl"`
}

// Validate validates the scheduler configuration.
func (c *SchedulerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.TickInterval, validation.Required, validation.Min(time.Minute)),
		validation.Field(&c.SendConcurrency, validation.Required, validation.Min(1), validation.Max(64)),
		validation.Field(&c.ClaimTTL, validation.Min(time.Duration(0))),
	)
}

// TransportConfig configures message delivery.
//
// OwnerID is the recipient for tasks that carry no origin user. InboxDir,
// when set, is watched for inbound message files.
type TransportConfig struct {
	OwnerID   string        `yaml:"owner_id"`
	InboxDir  string        `yaml:"inbox_dir"`
	KeepAlive time.Duration `yaml:"keep_alive"`
}

// CompilerConfig configures the structured-output model.
type CompilerConfig struct {
	APIKey  string        `yaml:"api_key"`
	Model   string        `yaml:"model"`
	BaseURL string        `yaml:"base_url"`
	Timeout time.Duration `yaml:"timeout"`
}

// Validate validates the compiler configuration.
func (c *CompilerConfig) Validate() error {
	return validation.ValidateStruct(c,
		validation.Field(&c.Model, validation.Required),
		validation.Field(&c.Timeout, validation.Min(time.Second)),
	)
}

// OpenAI returns the compiler client configuration.
func (c *CompilerConfig) OpenAI() compiler.OpenAIConfig {
	return compiler.OpenAIConfig{APIKey: c.APIKey, Model: c.Model, BaseURL: c.BaseURL, Timeout: c.Timeout}
}

// TrelloConfig holds the optional tracker integration. Sync runs only when
// every identifier is set.
type TrelloConfig struct {
	APIKey     string        `yaml:"api_key"`
	Token      string        `yaml:"token"`
	BoardID    string        `yaml:"board_id"`
	TodoListID string        `yaml:"todo_list_id"`
	DoneListID string        `yaml:"done_list_id"`
	BaseURL    string        `yaml:"base_url"`
	Timeout    time.Duration `yaml:"timeout"`
}

// Validate rejects a partially configured integration.
func (c *TrelloConfig) Validate() error {
	cc := c.Client()
	set := cc.APIKey != "" || cc.Token != "" || cc.BoardID != "" || cc.TodoListID != "" || cc.DoneListID != ""
	if set && !cc.Configured() {
		return errors.New("trello: api_key, token, board_id, todo_list_id and done_list_id must all be set")
	}
	return nil
}

// Client returns the Trello client configuration.
func (c *TrelloConfig) Client() trello.Config {
	return trello.Config{
		APIKey:     c.APIKey,
		Token:      c.Token,
		BoardID:    c.BoardID,
		TodoListID: c.TodoListID,
		DoneListID: c.DoneListID,
		BaseURL:    c.BaseURL,
		Timeout:    c.Timeout,
	}
}

// NewDefaultConfig returns a new Config with sensible default values.
func NewDefaultConfig() *Config {
	return &Config{
		App: ApplicationConfig{
			LogLevel: slog.LevelInfo,
			HTTP: HTTPConfig{
				Port: 8080,
			},
		},
		SQLite: SQLiteConfig{
			Path: "./nudger.db",
		},
		Auth: AuthConfig{
			Mode: AuthModeDisabled,
		},
		Scheduler: SchedulerConfig{
			TickInterval:    5 * time.Minute,
			SendConcurrency: 4,
			ClaimTTL:        10 * time.Minute,
		},
		Transport: TransportConfig{
			KeepAlive: 30 * time.Second,
		},
		Compiler: CompilerConfig{
			Model:   compiler.DefaultModel,
			Timeout: 60 * time.Second,
		},
		Trello: TrelloConfig{
			BaseURL: trello.DefaultBaseURL,
			Timeout: 15 * time.Second,
		},
	}
}
