package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strconv"
	"strings"
	"testing"

	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

func newTestApp(t *testing.T) (*App, *httptest.Server) {
	t.Helper()
	st, err := store.Open(filepath.Join(t.TempDir(), "home"))
	if err != nil {
		t.Fatalf("store.Open: %v", err)
	}
	t.Cleanup(func() { _ = st.Close() })

	ctx := context.Background()
	for _, u := range []*store.User{
		{ID: 1, Name: "Paddy MacGrath", Role: models.RoleAdmin},
		{ID: 2, Name: "Ulf", Role: models.RoleUser},
		{ID: 3, Name: "Una", Role: models.RoleUser},
	} {
		if err := st.UpsertUser(ctx, u); err != nil {
			t.Fatalf("UpsertUser: %v", err)
		}
	}
	if _, err := st.CreateStudent(ctx, &store.Student{Name: "Oliver Smith"}); err != nil {
		t.Fatalf("CreateStudent: %v", err)
	}

	cfg := &config.Config{
		RestoreWindowHours: 24,
		RequireAPIToken:    true,
		APITokens:          []string{"secret-token"},
		CORSOrigins:        []string{"*"},
		UserFixtures:       config.DefaultUserFixtures(),
	}
	app, err := NewApp(ServerOptions{
		Config: cfg,
		Store:  st,
		Log:    slog.New(slog.NewTextHandler(io.Discard, nil)),
	})
	if err != nil {
		t.Fatalf("NewApp: %v", err)
	}
	srv := httptest.NewServer(app.Handler())
	t.Cleanup(srv.Close)
	return app, srv
}

func doReq(t *testing.T, srv *httptest.Server, method, path, xUser string, body any, out any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			t.Fatalf("marshal body: %v", err)
		}
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("NewRequest: %v", err)
	}
	if xUser != "" {
		req.Header.Set("X-User", xUser)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	t.Cleanup(func() { _ = resp.Body.Close() })
	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return resp
}

func createTask(t *testing.T, srv *httptest.Server) models.Task {
	t.Helper()
	var task models.Task
	resp := doReq(t, srv, http.MethodPost, "/api/tasks", "paddy",
		models.TaskCreate{StudentID: 1, Title: "Home visit: Oliver Smith"}, &task)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("create task status = %d", resp.StatusCode)
	}
	return task
}

func TestHealthAndAuth(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)

	var health map[string]any
	resp := doReq(t, srv, http.MethodGet, "/healthz", "", nil, &health)
	if resp.StatusCode != http.StatusOK || health["ok"] != true {
		t.Fatalf("healthz: %d %v", resp.StatusCode, health)
	}

	resp = doReq(t, srv, http.MethodGet, "/api/me", "", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("missing X-User status = %d", resp.StatusCode)
	}
	resp = doReq(t, srv, http.MethodGet, "/api/me", "nobody", nil, nil)
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("unknown X-User status = %d", resp.StatusCode)
	}

	var me models.User
	resp = doReq(t, srv, http.MethodGet, "/api/me", "paddy", nil, &me)
	if resp.StatusCode != http.StatusOK || me.Name != "Paddy MacGrath" || me.Role != models.RoleAdmin {
		t.Fatalf("me: %d %+v", resp.StatusCode, me)
	}
}

func TestTaskLifecycleOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)

	// Non-admin creation is rejected.
	resp := doReq(t, srv, http.MethodPost, "/api/tasks", "ulf",
		models.TaskCreate{StudentID: 1, Title: "x"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin create status = %d", resp.StatusCode)
	}

	task := createTask(t, srv)
	if task.Status != models.StatusNew {
		t.Fatalf("created status = %s", task.Status)
	}

	// Assign to Ulf.
	var assigned models.Task
	resp = doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/assign", "paddy",
		models.AssignRequest{AssigneeUserID: 2}, &assigned)
	if resp.StatusCode != http.StatusOK || assigned.Status != models.StatusAssigned {
		t.Fatalf("assign: %d %+v", resp.StatusCode, assigned)
	}

	// Outsider cannot view; assignee can.
	resp = doReq(t, srv, http.MethodGet, taskPath(task.ID), "una", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("outsider get status = %d", resp.StatusCode)
	}
	resp = doReq(t, srv, http.MethodGet, taskPath(task.ID), "ulf", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("assignee get status = %d", resp.StatusCode)
	}

	// Assignee edits a whitelisted field via the reason alias.
	var edited models.Task
	reason := "parent asked to postpone"
	resp = doReq(t, srv, http.MethodPatch, taskPath(task.ID), "ulf",
		models.TaskPatch{Reason: &reason}, &edited)
	if resp.StatusCode != http.StatusOK || edited.Body == nil || *edited.Body != reason {
		t.Fatalf("edit via reason alias: %d %+v", resp.StatusCode, edited)
	}

	// A patch naming a protected field is rejected wholesale.
	other := int64(3)
	title := "renamed"
	var apiErr map[string]string
	resp = doReq(t, srv, http.MethodPatch, taskPath(task.ID), "ulf",
		models.TaskPatch{Title: &title, AssigneeUserID: &other}, &apiErr)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("protected field patch status = %d", resp.StatusCode)
	}
	if !strings.Contains(apiErr["error"], "assignee_user_id") {
		t.Fatalf("error should name the field: %v", apiErr)
	}

	// Reject without reason fails, with reason lands in body.
	resp = doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/status", "ulf",
		models.StatusRequest{Action: models.ActionReject}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("reject without reason status = %d", resp.StatusCode)
	}
	why := "family moved away"
	var rejected models.Task
	resp = doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/status", "ulf",
		models.StatusRequest{Action: models.ActionReject, Reason: &why}, &rejected)
	if resp.StatusCode != http.StatusOK || rejected.Status != models.StatusRejected || *rejected.Body != why {
		t.Fatalf("reject: %d %+v", resp.StatusCode, rejected)
	}

	// Complete.
	doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/assign", "paddy", models.AssignRequest{AssigneeUserID: 2}, nil)
	var done models.Task
	resp = doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/status", "ulf",
		models.StatusRequest{Action: models.ActionComplete}, &done)
	if resp.StatusCode != http.StatusOK || done.Status != models.StatusDone || done.CompletedAt == nil {
		t.Fatalf("complete: %d %+v", resp.StatusCode, done)
	}

	// Audit trail is newest first and visible to the assignee.
	var events []models.TaskEvent
	resp = doReq(t, srv, http.MethodGet, taskPath(task.ID)+"/events", "ulf", nil, &events)
	if resp.StatusCode != http.StatusOK || len(events) < 5 {
		t.Fatalf("events: %d %d", resp.StatusCode, len(events))
	}
	if events[0].Type != models.EventComplete {
		t.Fatalf("first event = %s, want Complete", events[0].Type)
	}
}

func TestDeleteAndRestoreOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)
	task := createTask(t, srv)

	resp := doReq(t, srv, http.MethodDelete, taskPath(task.ID), "ulf", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin delete status = %d", resp.StatusCode)
	}
	resp = doReq(t, srv, http.MethodDelete, taskPath(task.ID), "paddy", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("delete status = %d", resp.StatusCode)
	}
	resp = doReq(t, srv, http.MethodGet, taskPath(task.ID), "paddy", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("deleted task get status = %d", resp.StatusCode)
	}

	var restored models.Task
	resp = doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/restore", "paddy", nil, &restored)
	if resp.StatusCode != http.StatusOK || restored.DeletedAt != nil {
		t.Fatalf("restore: %d %+v", resp.StatusCode, restored)
	}
	resp = doReq(t, srv, http.MethodGet, taskPath(task.ID), "paddy", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("restored task get status = %d", resp.StatusCode)
	}
}

func TestListScopingOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)

	a := createTask(t, srv)
	doReq(t, srv, http.MethodPost, taskPath(a.ID)+"/assign", "paddy", models.AssignRequest{AssigneeUserID: 2}, nil)
	createTask(t, srv)

	var all []models.Task
	doReq(t, srv, http.MethodGet, "/api/tasks", "paddy", nil, &all)
	if len(all) != 2 {
		t.Fatalf("admin list = %d", len(all))
	}

	var mine []models.Task
	doReq(t, srv, http.MethodGet, "/api/tasks", "ulf", nil, &mine)
	if len(mine) != 1 || mine[0].ID != a.ID {
		t.Fatalf("user list: %+v", mine)
	}

	resp := doReq(t, srv, http.MethodGet, "/api/tasks?status=bogus", "paddy", nil, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("bad status filter = %d", resp.StatusCode)
	}
}

func TestCommentsOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)
	task := createTask(t, srv)

	var c models.Comment
	resp := doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/comments", "paddy",
		models.CommentCreate{Text: "  remember photo ID  "}, &c)
	if resp.StatusCode != http.StatusOK || c.Text != "remember photo ID" || c.Author != "Paddy MacGrath" {
		t.Fatalf("comment: %d %+v", resp.StatusCode, c)
	}

	var list []models.Comment
	resp = doReq(t, srv, http.MethodGet, taskPath(task.ID)+"/comments", "paddy", nil, &list)
	if resp.StatusCode != http.StatusOK || len(list) != 1 {
		t.Fatalf("comments list: %d %d", resp.StatusCode, len(list))
	}

	resp = doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/comments", "paddy",
		models.CommentCreate{Text: "   "}, nil)
	if resp.StatusCode != http.StatusBadRequest {
		t.Fatalf("blank comment status = %d", resp.StatusCode)
	}
}

func TestStudentsAndHistoryOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)

	resp := doReq(t, srv, http.MethodPost, "/api/students", "ulf",
		models.StudentCreate{Name: "Amelia Johnson"}, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin student create status = %d", resp.StatusCode)
	}
	var s models.Student
	resp = doReq(t, srv, http.MethodPost, "/api/students", "paddy",
		models.StudentCreate{Name: "Amelia Johnson"}, &s)
	if resp.StatusCode != http.StatusOK || s.ID == 0 {
		t.Fatalf("student create: %d %+v", resp.StatusCode, s)
	}

	// Report an absence and complete a visit; history merges both.
	resp = doReq(t, srv, http.MethodPost, "/api/absences", "ulf",
		map[string]any{"student_id": s.ID, "date": "2025-03-01T00:00:00Z", "reason_code": "Syk"}, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("absence create status = %d", resp.StatusCode)
	}

	var task models.Task
	doReq(t, srv, http.MethodPost, "/api/tasks", "paddy",
		models.TaskCreate{StudentID: s.ID, Title: "Home visit: Amelia Johnson"}, &task)
	doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/assign", "paddy", models.AssignRequest{AssigneeUserID: 2}, nil)
	doReq(t, srv, http.MethodPost, taskPath(task.ID)+"/status", "ulf",
		models.StatusRequest{Action: models.ActionComplete}, nil)

	var history []models.HistoryItem
	resp = doReq(t, srv, http.MethodGet, "/api/students/"+itoa(s.ID)+"/history?days=3650", "paddy", nil, &history)
	if resp.StatusCode != http.StatusOK || len(history) != 2 {
		t.Fatalf("history: %d %+v", resp.StatusCode, history)
	}
	if history[0].Kind != "visit" || history[1].Kind != "absence" {
		t.Fatalf("history order: %+v", history)
	}
}

func TestIngestTokenOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)

	payload := models.TaskCreate{StudentID: 1, Title: "Ingested visit"}
	b, _ := json.Marshal(payload)

	req, _ := http.NewRequest(http.MethodPost, srv.URL+"/api/ingest/task", bytes.NewReader(b))
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	_ = resp.Body.Close()
	if resp.StatusCode != http.StatusUnauthorized {
		t.Fatalf("ingest without token status = %d", resp.StatusCode)
	}

	req, _ = http.NewRequest(http.MethodPost, srv.URL+"/api/ingest/task", bytes.NewReader(b))
	req.Header.Set("Authorization", "Bearer secret-token")
	resp, err = http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("ingest status = %d", resp.StatusCode)
	}
	var task models.Task
	if err := json.NewDecoder(resp.Body).Decode(&task); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if task.Status != models.StatusNew || task.CreatedBy == nil || *task.CreatedBy != 1 {
		t.Fatalf("ingested task: %+v", task)
	}
}

func TestUsersOverHTTP(t *testing.T) {
	t.Parallel()
	_, srv := newTestApp(t)

	var users []models.User
	resp := doReq(t, srv, http.MethodGet, "/api/users", "ulf", nil, &users)
	if resp.StatusCode != http.StatusOK || len(users) != 3 {
		t.Fatalf("users list: %d %d", resp.StatusCode, len(users))
	}

	var created models.User
	resp = doReq(t, srv, http.MethodPost, "/api/users", "paddy",
		models.UserCreate{Name: "Liam"}, &created)
	if resp.StatusCode != http.StatusOK || created.Role != models.RoleUser {
		t.Fatalf("user create: %d %+v", resp.StatusCode, created)
	}

	resp = doReq(t, srv, http.MethodDelete, "/api/users/"+itoa(created.ID), "ulf", nil, nil)
	if resp.StatusCode != http.StatusForbidden {
		t.Fatalf("non-admin user delete status = %d", resp.StatusCode)
	}
	resp = doReq(t, srv, http.MethodDelete, "/api/users/"+itoa(created.ID), "paddy", nil, nil)
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("user delete status = %d", resp.StatusCode)
	}
	resp = doReq(t, srv, http.MethodDelete, "/api/users/"+itoa(created.ID), "paddy", nil, nil)
	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("missing user delete status = %d", resp.StatusCode)
	}
}

func taskPath(id int64) string { return "/api/tasks/" + itoa(id) }

func itoa(n int64) string {
	return strconv.FormatInt(n, 10)
}
