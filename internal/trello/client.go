// Package trello is a minimal client for the Trello REST API covering the
// board listing and card creation the reconciler needs.
package trello

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// DefaultBaseURL is the public Trello API root.
const DefaultBaseURL = "https://api.trello.com/1"

// Config holds credentials and board wiring.
type Config struct {
	APIKey     string
	Token      string
	BoardID    string
	TodoListID string
	DoneListID string
	BaseURL    string
	Timeout    time.Duration
}

// Configured reports whether every identifier needed for sync is set.
func (c Config) Configured() bool {
	return c.APIKey != "" && c.Token != "" && c.BoardID != "" && c.TodoListID != "" && c.DoneListID != ""
}

// Card is a board card as returned by the API.
type Card struct {
	ID               string `json:"id"`
	IDList           string `json:"idList"`
	Closed           bool   `json:"closed"`
	Name             string `json:"name"`
	ShortURL         string `json:"shortUrl,omitempty"`
	DateLastActivity string `json:"dateLastActivity,omitempty"`
}

// NewCard is the payload of a card creation.
type NewCard struct {
	Name string
	Desc string
	Due  *time.Time
}

// Client talks to the Trello API.
type Client struct {
	cfg  Config
	http *http.Client
	base string
}

// NewClient creates a client. A zero Timeout defaults to 15 seconds.
func NewClient(cfg Config, httpClient *http.Client) *Client {
	if httpClient == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = 15 * time.Second
		}
		httpClient = &http.Client{Timeout: timeout}
	}
	base := strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/")
	if base == "" {
		base = DefaultBaseURL
	}
	return &Client{cfg: cfg, http: httpClient, base: base}
}

// DoneListID returns the id of the list that marks a card complete.
func (c *Client) DoneListID() string {
	return c.cfg.DoneListID
}

// ListBoardCards returns every card on the configured board.
func (c *Client) ListBoardCards(ctx context.Context) ([]Card, error) {
	q := url.Values{}
	q.Set("fields", "id,idList,closed,name,dateLastActivity")
	var cards []Card
	path := "/boards/" + url.PathEscape(c.cfg.BoardID) + "/cards"
	if err := c.do(ctx, http.MethodGet, path, q, nil, &cards); err != nil {
		return nil, err
	}
	return cards, nil
}

// CreateCard creates a card in the configured to-do list.
func (c *Client) CreateCard(ctx context.Context, nc NewCard) (*Card, error) {
	body := map[string]string{
		"idList": c.cfg.TodoListID,
		"name":   nc.Name,
		"desc":   nc.Desc,
	}
	if nc.Due != nil {
		body["due"] = nc.Due.UTC().Format(time.RFC3339)
	}
	var card Card
	if err := c.do(ctx, http.MethodPost, "/cards", nil, body, &card); err != nil {
		return nil, err
	}
	return &card, nil
}

func (c *Client) do(ctx context.Context, method, path string, q url.Values, body, out any) error {
	if q == nil {
		q = url.Values{}
	}
	q.Set("key", c.cfg.APIKey)
	q.Set("token", c.cfg.Token)

	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("trello: encode %s %s: %w", method, path, err)
		}
		rdr = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path+"?"+q.Encode(), rdr)
	if err != nil {
		return fmt.Errorf("trello: build %s %s: %w", method, path, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("trello: %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		snippet, _ := io.ReadAll(io.LimitReader(resp.Body, 200))
		return &APIError{Method: method, Path: path, Status: resp.StatusCode, Body: string(snippet)}
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("trello: decode %s %s: %w", method, path, err)
	}
	return nil
}

// APIError is returned for any non-2xx response.
type APIError struct {
	Method string
	Path   string
	Status int
	Body   string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("trello: %s %s failed: %d %s", e.Method, e.Path, e.Status, e.Body)
}
