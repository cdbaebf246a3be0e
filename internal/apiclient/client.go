// Package apiclient is the HTTP client the CLI uses to talk to the server.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/brk3/habitd/internal/server"
	"github.com/brk3/habitd/pkg/habit"
	"github.com/brk3/habitd/pkg/versioninfo"
)

type Client struct {
	BaseURL string
	Token   string
	HTTP    *http.Client
}

func New(base, token string) *Client {
	return &Client{
		BaseURL: base,
		Token:   token,
		HTTP:    http.DefaultClient,
	}
}

// APIError is a non-2xx response from the server.
type APIError struct {
	StatusCode int
	Message    string
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("server returned %d %s", e.StatusCode, http.StatusText(e.StatusCode))
	}
	return fmt.Sprintf("server returned %d: %s", e.StatusCode, e.Message)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var rd io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return err
		}
		rd = bytes.NewReader(buf)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, rd)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.Token != "" {
		req.Header.Set("Authorization", "Bearer "+c.Token)
	}

	res, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer res.Body.Close()

	if res.StatusCode < 200 || res.StatusCode > 299 {
		var e server.ErrorResponse
		_ = json.NewDecoder(res.Body).Decode(&e)
		return &APIError{StatusCode: res.StatusCode, Message: e.Error}
	}
	if out == nil || res.StatusCode == http.StatusNoContent {
		return nil
	}
	return json.NewDecoder(res.Body).Decode(out)
}

func habitPath(id string, rest ...string) string {
	p := "/habits/" + url.PathEscape(id)
	for _, r := range rest {
		p += "/" + r
	}
	return p
}

func (c *Client) Version(ctx context.Context) (*versioninfo.VersionInfo, error) {
	var out versioninfo.VersionInfo
	if err := c.do(ctx, http.MethodGet, "/version", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

func (c *Client) ListHabits(ctx context.Context) ([]habit.Habit, error) {
	var response server.HabitListResponse
	if err := c.do(ctx, http.MethodGet, "/habits", nil, &response); err != nil {
		return nil, fmt.Errorf("list habits: %w", err)
	}
	return response.Habits, nil
}

func (c *Client) GetHabit(ctx context.Context, id string) (*server.HabitGetResponse, error) {
	var out server.HabitGetResponse
	if err := c.do(ctx, http.MethodGet, habitPath(id), nil, &out); err != nil {
		return nil, fmt.Errorf("get habit %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) CreateHabit(ctx context.Context, h habit.Habit) (*server.HabitMutationResponse, error) {
	var out server.HabitMutationResponse
	if err := c.do(ctx, http.MethodPost, "/habits", h, &out); err != nil {
		return nil, fmt.Errorf("create habit: %w", err)
	}
	return &out, nil
}

func (c *Client) UpdateHabit(ctx context.Context, h habit.Habit) (*server.HabitMutationResponse, error) {
	var out server.HabitMutationResponse
	if err := c.do(ctx, http.MethodPut, habitPath(h.ID), h, &out); err != nil {
		return nil, fmt.Errorf("update habit %s: %w", h.ID, err)
	}
	return &out, nil
}

func (c *Client) DeleteHabit(ctx context.Context, id string) error {
	if err := c.do(ctx, http.MethodDelete, habitPath(id), nil, nil); err != nil {
		return fmt.Errorf("delete habit %s: %w", id, err)
	}
	return nil
}

func (c *Client) GetHabitSummary(ctx context.Context, id string) (*habit.HabitSummary, error) {
	var out server.HabitSummaryResponse
	if err := c.do(ctx, http.MethodGet, habitPath(id, "summary"), nil, &out); err != nil {
		return nil, fmt.Errorf("summary %s: %w", id, err)
	}
	return &out.HabitSummary, nil
}

// MarkDay records whether the habit was done on date, given as YYYY-MM-DD
// or "today".
func (c *Client) MarkDay(ctx context.Context, id, date string, executed bool) (*habit.HabitDay, error) {
	var out habit.HabitDay
	body := server.MarkRequest{Executed: &executed}
	if err := c.do(ctx, http.MethodPut, habitPath(id, "days", url.PathEscape(date)), body, &out); err != nil {
		return nil, fmt.Errorf("mark %s on %s: %w", id, date, err)
	}
	return &out, nil
}

func (c *Client) Notifications(ctx context.Context, id string) ([]habit.Notification, error) {
	var out server.NotificationsResponse
	if err := c.do(ctx, http.MethodGet, habitPath(id, "notifications"), nil, &out); err != nil {
		return nil, fmt.Errorf("notifications %s: %w", id, err)
	}
	return out.Notifications, nil
}

func (c *Client) Reconcile(ctx context.Context, id string) (*server.ReconcileResponse, error) {
	var out server.ReconcileResponse
	if err := c.do(ctx, http.MethodPost, habitPath(id, "reconcile"), nil, &out); err != nil {
		return nil, fmt.Errorf("reconcile %s: %w", id, err)
	}
	return &out, nil
}

func (c *Client) Rollover(ctx context.Context) (*server.RolloverResponse, error) {
	var out server.RolloverResponse
	if err := c.do(ctx, http.MethodPost, "/rollover", nil, &out); err != nil {
		return nil, fmt.Errorf("rollover: %w", err)
	}
	return &out, nil
}

func (c *Client) Authorize(ctx context.Context) (bool, error) {
	var out server.AuthorizeResponse
	if err := c.do(ctx, http.MethodPost, "/authorize", nil, &out); err != nil {
		return false, fmt.Errorf("authorize: %w", err)
	}
	return out.Authorized, nil
}
