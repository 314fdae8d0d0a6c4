package desklinesdk

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

// Client is a minimal Deskline HTTP API client.
type Client struct {
	BaseURL     string
	APIKey      string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		Timeout: 10 * time.Second,
	}
}

// Request represents the API request model.
type Request struct {
	ID              string  `json:"id"`
	RequesterID     string  `json:"requester_id"`
	CategoryID      string  `json:"category_id"`
	Text            string  `json:"text"`
	Status          string  `json:"status"`
	FulfillerID     *string `json:"fulfiller_id,omitempty"`
	AnswerText      *string `json:"answer_text,omitempty"`
	ReviewerComment *string `json:"reviewer_comment,omitempty"`
	CreatedAt       string  `json:"created_at"`
	UpdatedAt       string  `json:"updated_at"`
}

// Category represents a request category.
type Category struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	Tag  string `json:"tag"`
}

// Action is an inline control returned on outcome messages.
type Action struct {
	Name       string `json:"name"`
	Label      string `json:"label"`
	RequestID  string `json:"request_id,omitempty"`
	CategoryID string `json:"category_id,omitempty"`
}

// Message is one notification sent while handling an interaction.
type Message struct {
	Channel string   `json:"channel"`
	ActorID string   `json:"actor_id,omitempty"`
	Text    string   `json:"text"`
	Actions []Action `json:"actions,omitempty"`
}

// Outcome reports how an interaction was absorbed.
type Outcome struct {
	Result   string    `json:"result"`
	Reason   string    `json:"reason,omitempty"`
	Messages []Message `json:"messages,omitempty"`
}

// Event represents a log entry.
type Event struct {
	ID         int64  `json:"id"`
	TS         string `json:"ts"`
	Type       string `json:"type"`
	EntityKind string `json:"entity_kind"`
	EntityID   string `json:"entity_id,omitempty"`
	ActorID    string `json:"actor_id"`
	Payload    string `json:"payload_json"`
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// SendMessage submits free text as the authenticated actor.
func (c *Client) SendMessage(ctx context.Context, text string) (Outcome, error) {
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "v0/messages", map[string]any{"text": text}, &resp)
	return resp, err
}

// SendAction submits a tapped action as the authenticated actor.
func (c *Client) SendAction(ctx context.Context, action, requestID, categoryID, comment string) (Outcome, error) {
	body := map[string]any{"action": action}
	if requestID != "" {
		body["request_id"] = requestID
	}
	if categoryID != "" {
		body["category_id"] = categoryID
	}
	if comment != "" {
		body["comment"] = comment
	}
	var resp Outcome
	err := c.do(ctx, http.MethodPost, "v0/actions", body, &resp)
	return resp, err
}

// GetRequest fetches one request.
func (c *Client) GetRequest(ctx context.Context, id string) (Request, error) {
	var resp Request
	err := c.do(ctx, http.MethodGet, "v0/requests/"+url.PathEscape(id), nil, &resp)
	return resp, err
}

// ListRequests lists requests, optionally filtered by status.
func (c *Client) ListRequests(ctx context.Context, status string, limit int) ([]Request, error) {
	endpoint := "v0/requests"
	params := url.Values{}
	if status != "" {
		params.Set("status", status)
	}
	if limit > 0 {
		params.Set("limit", fmt.Sprint(limit))
	}
	if len(params) > 0 {
		endpoint += "?" + params.Encode()
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// OpenPool lists approved requests oldest first.
func (c *Client) OpenPool(ctx context.Context, limit int) ([]Request, error) {
	endpoint := "v0/pool"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Request
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// Categories lists the desk's categories.
func (c *Client) Categories(ctx context.Context) ([]Category, error) {
	var resp []Category
	err := c.do(ctx, http.MethodGet, "v0/categories", nil, &resp)
	return resp, err
}

// Events returns recent events.
func (c *Client) Events(ctx context.Context, limit int) ([]Event, error) {
	endpoint := "v0/events"
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp []Event
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	url := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, url, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	switch {
	case c.BearerToken != "":
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	case c.APIKey != "":
		req.Header.Set("X-Api-Key", c.APIKey)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		return &APIError{StatusCode: resp.StatusCode, Body: string(b)}
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func (c *Client) base() string {
	return strings.TrimRight(c.BaseURL, "/")
}
