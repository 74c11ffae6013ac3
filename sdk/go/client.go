package tasklinesdk

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

// Client is a minimal Taskline HTTP API client.
type Client struct {
	BaseURL     string
	BearerToken string
	ActorID     string
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

// Task represents the API task model.
type Task struct {
	ID          int64  `json:"id"`
	Description string `json:"description"`
	Status      string `json:"status"`
	CreatedBy   string `json:"created_by"`
	CreatedAt   string `json:"created_at"`
}

// Comment represents a task comment.
type Comment struct {
	ID        int64  `json:"id"`
	TaskID    int64  `json:"task_id"`
	Author    string `json:"author"`
	Text      string `json:"text"`
	CreatedAt string `json:"created_at"`
}

// TaskCard is a task with its comment thread.
type TaskCard struct {
	Task         Task      `json:"task"`
	Comments     []Comment `json:"comments"`
	CommentCount int       `json:"comment_count"`
}

// User represents a registered identity.
type User struct {
	Identity  string `json:"identity"`
	Role      string `json:"role"`
	Root      bool   `json:"root"`
	CreatedAt string `json:"created_at"`
}

// TaskPage is one window of a task listing.
type TaskPage struct {
	Items      []Task `json:"items"`
	Number     int    `json:"number"`
	TotalPages int    `json:"total_pages"`
	TotalItems int    `json:"total_items"`
	Size       int    `json:"size"`
	HasPrev    bool   `json:"has_prev"`
	HasNext    bool   `json:"has_next"`
}

// ListTasksOptions narrows and pages a task listing.
type ListTasksOptions struct {
	Status string
	Author string
	From   string
	To     string
	Period string
	Page   int
}

// APIError wraps non-2xx responses.
type APIError struct {
	StatusCode int
	Body       string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

// CreateTask creates a task.
func (c *Client) CreateTask(ctx context.Context, description string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPost, "v0/tasks", map[string]any{"description": description}, &resp)
	return resp, err
}

// ListTasks returns a filtered page of tasks.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) (TaskPage, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Author != "" {
		q.Set("author", opts.Author)
	}
	if opts.From != "" {
		q.Set("from", opts.From)
	}
	if opts.To != "" {
		q.Set("to", opts.To)
	}
	if opts.Period != "" {
		q.Set("period", opts.Period)
	}
	if opts.Page > 0 {
		q.Set("page", fmt.Sprintf("%d", opts.Page))
	}
	endpoint := "v0/tasks"
	if len(q) > 0 {
		endpoint += "?" + q.Encode()
	}
	var resp TaskPage
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp, err
}

// GetTask fetches a task with its comments.
func (c *Client) GetTask(ctx context.Context, id int64) (TaskCard, error) {
	var resp TaskCard
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%d", id), nil, &resp)
	return resp, err
}

// SetTaskStatus moves a task along the lifecycle.
func (c *Client) SetTaskStatus(ctx context.Context, id int64, status string) (Task, error) {
	var resp Task
	err := c.do(ctx, http.MethodPatch, fmt.Sprintf("v0/tasks/%d/status", id), map[string]any{"status": status}, &resp)
	return resp, err
}

// DeleteTask removes a task and its comments.
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("v0/tasks/%d", id), nil, nil)
}

// AddComment appends a comment to a task.
func (c *Client) AddComment(ctx context.Context, taskID int64, text string) (Comment, error) {
	var resp Comment
	err := c.do(ctx, http.MethodPost, fmt.Sprintf("v0/tasks/%d/comments", taskID), map[string]any{"text": text}, &resp)
	return resp, err
}

// ListComments returns a task's comments in ascending creation order.
func (c *Client) ListComments(ctx context.Context, taskID int64) ([]Comment, error) {
	var resp []Comment
	err := c.do(ctx, http.MethodGet, fmt.Sprintf("v0/tasks/%d/comments", taskID), nil, &resp)
	return resp, err
}

// ListUsers returns all registered users (admin only).
func (c *Client) ListUsers(ctx context.Context) ([]User, error) {
	var resp []User
	err := c.do(ctx, http.MethodGet, "v0/users", nil, &resp)
	return resp, err
}

// SetUserRole changes a user's role (admin only).
func (c *Client) SetUserRole(ctx context.Context, identity, role string) (User, error) {
	var resp User
	endpoint := fmt.Sprintf("v0/users/%s/role", url.PathEscape(identity))
	err := c.do(ctx, http.MethodPatch, endpoint, map[string]any{"role": role}, &resp)
	return resp, err
}

// DeleteUser removes a user (admin only). With reassign, the user's
// tasks move to the root admin instead of blocking the delete.
func (c *Client) DeleteUser(ctx context.Context, identity string, reassign bool) error {
	endpoint := fmt.Sprintf("v0/users/%s", url.PathEscape(identity))
	if reassign {
		endpoint += "?reassign=true"
	}
	return c.do(ctx, http.MethodDelete, endpoint, nil, nil)
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
	case c.ActorID != "":
		req.Header.Set("X-Actor-Id", c.ActorID)
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
