// Package client provides a Go SDK for the Task Pro HTTP API.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// Client calls the Task Pro HTTP API. It is safe for concurrent use.
type Client struct {
	BaseURL    string       // e.g. "http://localhost:8080"
	User       string       // demo user handle sent as X-User (e.g. "paddy")
	APIToken   string       // optional; Bearer token for the ingest endpoints
	HTTPClient *http.Client // optional; nil uses http.DefaultClient
}

// New returns a client for the given base URL acting as the given demo user
// handle (sent as the X-User header).
func New(baseURL, user string) *Client {
	return &Client{BaseURL: baseURL, User: user}
}

func (c *Client) client() *http.Client {
	if c.HTTPClient != nil {
		return c.HTTPClient
	}
	return http.DefaultClient
}

func (c *Client) do(ctx context.Context, method, path string, body any) (*http.Response, error) {
	var bodyReader io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return nil, err
		}
		bodyReader = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bodyReader)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.User != "" {
		req.Header.Set("X-User", c.User)
	}
	if c.APIToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIToken)
	}
	return c.client().Do(req)
}

func (c *Client) doJSON(ctx context.Context, method, path string, body any, out any) error {
	resp, err := c.do(ctx, method, path, body)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errBody struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errBody)
		if errBody.Error != "" {
			return fmt.Errorf("api %s %s: %s", method, path, errBody.Error)
		}
		return fmt.Errorf("api %s %s: status %d", method, path, resp.StatusCode)
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	return nil
}

// Health returns the /healthz response (ok: true).
func (c *Client) Health(ctx context.Context) (ok bool, err error) {
	var out struct {
		OK bool `json:"ok"`
	}
	err = c.doJSON(ctx, http.MethodGet, "/healthz", nil, &out)
	return out.OK, err
}

// Me returns the user resolved from the X-User header.
func (c *Client) Me(ctx context.Context) (*models.User, error) {
	var out models.User
	err := c.doJSON(ctx, http.MethodGet, "/api/me", nil, &out)
	return &out, err
}

// ListTasksOptions filters and orders ListTasks. Zero values are omitted.
type ListTasksOptions struct {
	Status       string
	Scope        string // "my" restricts admins to their own tasks
	Sort         string // due_at | updated_at | completed_at
	Order        string // asc | desc
	UpdatedAfter string // RFC 3339
}

// ListTasks returns tasks visible to the acting user.
func (c *Client) ListTasks(ctx context.Context, opts ListTasksOptions) ([]models.Task, error) {
	q := url.Values{}
	if opts.Status != "" {
		q.Set("status", opts.Status)
	}
	if opts.Scope != "" {
		q.Set("scope", opts.Scope)
	}
	if opts.Sort != "" {
		q.Set("sort", opts.Sort)
	}
	if opts.Order != "" {
		q.Set("order", opts.Order)
	}
	if opts.UpdatedAfter != "" {
		q.Set("updated_after", opts.UpdatedAfter)
	}
	path := "/api/tasks"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []models.Task
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// CreateTask creates a task (admin only).
func (c *Client) CreateTask(ctx context.Context, in models.TaskCreate) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/tasks", in, &out)
	return &out, err
}

// GetTask returns one task by id.
func (c *Client) GetTask(ctx context.Context, id int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodGet, taskPath(id), nil, &out)
	return &out, err
}

// EditTask applies a partial edit. Non-admins may only touch the
// assignee-editable fields.
func (c *Client) EditTask(ctx context.Context, id int64, patch models.TaskPatch) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPatch, taskPath(id), patch, &out)
	return &out, err
}

// AssignTask assigns or reassigns a task (admin only).
func (c *Client) AssignTask(ctx context.Context, id, assigneeUserID int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(id)+"/assign",
		models.AssignRequest{AssigneeUserID: assigneeUserID}, &out)
	return &out, err
}

// ChangeStatus applies a status action: accept, reject (reason required), or
// complete.
func (c *Client) ChangeStatus(ctx context.Context, id int64, action string, reason *string) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(id)+"/status",
		models.StatusRequest{Action: action, Reason: reason}, &out)
	return &out, err
}

// DeleteTask soft-deletes a task (admin only).
func (c *Client) DeleteTask(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, taskPath(id), nil, nil)
}

// RestoreTask restores a soft-deleted task within the restore window (admin
// only).
func (c *Client) RestoreTask(ctx context.Context, id int64) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, taskPath(id)+"/restore", nil, &out)
	return &out, err
}

// TaskEvents returns a task's audit trail, newest first.
func (c *Client) TaskEvents(ctx context.Context, id int64) ([]models.TaskEvent, error) {
	var out []models.TaskEvent
	err := c.doJSON(ctx, http.MethodGet, taskPath(id)+"/events", nil, &out)
	return out, err
}

// ListComments returns a task's comments.
func (c *Client) ListComments(ctx context.Context, id int64) ([]models.Comment, error) {
	var out []models.Comment
	err := c.doJSON(ctx, http.MethodGet, taskPath(id)+"/comments", nil, &out)
	return out, err
}

// AddComment adds a comment to a task.
func (c *Client) AddComment(ctx context.Context, id int64, text string) (*models.Comment, error) {
	var out models.Comment
	err := c.doJSON(ctx, http.MethodPost, taskPath(id)+"/comments",
		models.CommentCreate{Text: text}, &out)
	return &out, err
}

// ListStudents returns all students.
func (c *Client) ListStudents(ctx context.Context) ([]models.Student, error) {
	var out []models.Student
	err := c.doJSON(ctx, http.MethodGet, "/api/students", nil, &out)
	return out, err
}

// CreateStudent creates a student (admin only).
func (c *Client) CreateStudent(ctx context.Context, in models.StudentCreate) (*models.Student, error) {
	var out models.Student
	err := c.doJSON(ctx, http.MethodPost, "/api/students", in, &out)
	return &out, err
}

// StudentHistory returns a student's merged absence/visit history for the
// last N days (0 uses the server default).
func (c *Client) StudentHistory(ctx context.Context, studentID int64, days int) ([]models.HistoryItem, error) {
	path := "/api/students/" + strconv.FormatInt(studentID, 10) + "/history"
	if days > 0 {
		path += "?days=" + strconv.Itoa(days)
	}
	var out []models.HistoryItem
	err := c.doJSON(ctx, http.MethodGet, path, nil, &out)
	return out, err
}

// ReportAbsence reports a student absence.
func (c *Client) ReportAbsence(ctx context.Context, in models.AbsenceCreate) (*models.Absence, error) {
	var out models.Absence
	err := c.doJSON(ctx, http.MethodPost, "/api/absences", in, &out)
	return &out, err
}

// ListUsers returns all users.
func (c *Client) ListUsers(ctx context.Context) ([]models.User, error) {
	var out []models.User
	err := c.doJSON(ctx, http.MethodGet, "/api/users", nil, &out)
	return out, err
}

// CreateUser creates a regular user (admin only).
func (c *Client) CreateUser(ctx context.Context, in models.UserCreate) (*models.User, error) {
	var out models.User
	err := c.doJSON(ctx, http.MethodPost, "/api/users", in, &out)
	return &out, err
}

// DeleteUser deletes a user (admin only).
func (c *Client) DeleteUser(ctx context.Context, id int64) error {
	return c.doJSON(ctx, http.MethodDelete, "/api/users/"+strconv.FormatInt(id, 10), nil, nil)
}

// IngestTask creates a task through the token-authenticated ingest endpoint.
// The client's APIToken is sent as a Bearer token; no X-User is required.
func (c *Client) IngestTask(ctx context.Context, in models.TaskCreate) (*models.Task, error) {
	var out models.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/ingest/task", in, &out)
	return &out, err
}

// IngestTasks creates a batch of tasks through the ingest endpoint.
func (c *Client) IngestTasks(ctx context.Context, in []models.TaskCreate) ([]models.Task, error) {
	var out []models.Task
	err := c.doJSON(ctx, http.MethodPost, "/api/ingest/tasks", in, &out)
	return out, err
}

func taskPath(id int64) string {
	return "/api/tasks/" + strconv.FormatInt(id, 10)
}
