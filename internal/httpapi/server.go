// Package httpapi serves the Task Pro REST API: task lifecycle operations,
// students and absences, comments, demo header auth, token ingest, and an
// SSE stream of task updates.
package httpapi

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/lifecycle"
	"github.com/vladponakov/simple-task-pro-v2/internal/notify"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/internal/store/postgres"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

// limitBody wraps r.Body with http.MaxBytesReader so handlers cannot read more than maxBytes.
func limitBody(w http.ResponseWriter, r *http.Request, maxBytes int64) {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)
}

// bodyLimitMiddleware limits request body size for POST, PUT, PATCH to prevent OOM.
func bodyLimitMiddleware(maxBytes int64, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost || r.Method == http.MethodPut || r.Method == http.MethodPatch {
			limitBody(w, r, maxBytes)
		}
		next.ServeHTTP(w, r)
	})
}

// corsMiddleware sets CORS headers for the configured origins (UI on a
// different origin in dev).
func corsMiddleware(origins []string, next http.Handler) http.Handler {
	any := false
	allowed := make(map[string]bool, len(origins))
	for _, o := range origins {
		if o == "*" {
			any = true
		}
		allowed[o] = true
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		switch {
		case any:
			w.Header().Set("Access-Control-Allow-Origin", "*")
		case origin != "" && allowed[origin]:
			w.Header().Set("Access-Control-Allow-Origin", origin)
			w.Header().Add("Vary", "Origin")
		}
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-User, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// ServerOptions configures the HTTP app (home dir, listen addr, config, metrics).
type ServerOptions struct {
	Home           string
	Addr           string       // overrides Config.Addr when set
	Config         *config.Config
	Store          store.Store  // optional; opened from Config when nil
	Log            *slog.Logger
	MetricsHandler http.Handler // if set, used for /metrics (e.g. OTel Prometheus handler)
	UseOtelHTTP    bool         // if true, wrap handler with otelhttp for request metrics
}

// App holds the HTTP server, SSE hub, store, and lifecycle engine.
type App struct {
	Server *http.Server
	Hub    *SSEHub
	Store  store.Store
	Engine *lifecycle.Engine
	Config *config.Config
	Log    *slog.Logger
}

// NewApp creates the HTTP app (server, hub, store, engine) and registers all routes.
func NewApp(opts ServerOptions) (*App, error) {
	cfg := opts.Config
	if cfg == nil {
		cfg = config.Load()
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}

	st := opts.Store
	if st == nil {
		var err error
		if cfg.DBDriver == "postgres" {
			st, err = postgres.Open(cfg.DBURL)
		} else {
			st, err = store.Open(opts.Home)
		}
		if err != nil {
			return nil, err
		}
	}

	var notifier notify.Notifier
	if cfg.WebhookURL != "" {
		notifier = notify.NewWebhook(cfg.WebhookURL)
	}

	a := &App{
		Hub:    NewSSEHub(),
		Store:  st,
		Engine: lifecycle.New(st, notifier, cfg, log),
		Config: cfg,
		Log:    log,
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"ok": true})
	})
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, map[string]any{"status": "ok"})
	})
	if opts.MetricsHandler != nil {
		mux.Handle("/metrics", opts.MetricsHandler)
	} else {
		mux.HandleFunc("/metrics", a.handlePlainMetrics)
	}
	mux.HandleFunc("/stream", a.Hub.Handler())

	mux.HandleFunc("/api/me", a.handleMe)
	mux.HandleFunc("/api/tasks", a.handleTasks)
	mux.HandleFunc("/api/tasks/", a.handleTaskSubtree)
	mux.HandleFunc("/api/students", a.handleStudents)
	mux.HandleFunc("/api/students/", a.handleStudentSubtree)
	mux.HandleFunc("/api/absences", a.handleAbsences)
	mux.HandleFunc("/api/users", a.handleUsers)
	mux.HandleFunc("/api/users/", a.handleUserByID)
	mux.HandleFunc("/api/ingest/task", a.handleIngestOne)
	mux.HandleFunc("/api/ingest/tasks", a.handleIngestBatch)

	var handler http.Handler = mux
	handler = bodyLimitMiddleware(models.DefaultMaxRequestBodyBytes, handler)
	handler = corsMiddleware(cfg.CORSOrigins, handler)
	handler = requestLogMiddleware(log, handler)
	if opts.UseOtelHTTP {
		handler = otelhttp.NewHandler(handler, "taskpro")
	}

	addr := opts.Addr
	if addr == "" {
		addr = cfg.Addr
	}
	a.Server = &http.Server{
		Addr:              addr,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       60 * time.Second,
	}
	a.Server.RegisterOnShutdown(func() {
		_ = st.Close()
	})
	return a, nil
}

// Handler returns the fully wrapped request handler (for tests).
func (a *App) Handler() http.Handler { return a.Server.Handler }

// --- Auth ---

// currentUser resolves the demo X-User header to a stored user. The header
// carries a fixture handle (e.g. "paddy"), mapped to a fixed user id, then
// loaded so the role is always the stored one.
func (a *App) currentUser(r *http.Request) (*store.User, bool) {
	key := strings.ToLower(strings.TrimSpace(r.Header.Get("X-User")))
	uid, ok := a.Config.UserFixtures[key]
	if !ok {
		return nil, false
	}
	u, err := a.Store.GetUser(r.Context(), uid)
	if err != nil || u == nil {
		return nil, false
	}
	return u, true
}

func (a *App) requireUser(w http.ResponseWriter, r *http.Request) (*store.User, lifecycle.Actor, bool) {
	u, ok := a.currentUser(r)
	if !ok {
		writeJSONError(w, http.StatusUnauthorized, "unauthorized")
		return nil, lifecycle.Actor{}, false
	}
	return u, lifecycle.Actor{ID: u.ID, Role: u.Role}, true
}

func (a *App) requireAdmin(w http.ResponseWriter, r *http.Request) (*store.User, lifecycle.Actor, bool) {
	u, actor, ok := a.requireUser(w, r)
	if !ok {
		return nil, lifecycle.Actor{}, false
	}
	if !actor.IsAdmin() {
		writeJSONError(w, http.StatusForbidden, "forbidden")
		return nil, lifecycle.Actor{}, false
	}
	return u, actor, true
}

// requireIngestToken validates the Bearer token for server-to-server ingest.
// With RequireAPIToken off (dev) any caller passes.
func (a *App) requireIngestToken(w http.ResponseWriter, r *http.Request) bool {
	if !a.Config.RequireAPIToken {
		return true
	}
	auth := r.Header.Get("Authorization")
	if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
		token := strings.TrimSpace(auth[len("bearer "):])
		if a.Config.ValidToken(token) {
			return true
		}
	}
	writeJSONError(w, http.StatusUnauthorized, "invalid or missing API token")
	return false
}

// ingestActor is the admin identity used for token-authenticated ingest.
func (a *App) ingestActor(w http.ResponseWriter, r *http.Request) (lifecycle.Actor, bool) {
	u, err := a.Store.GetUser(r.Context(), 1)
	if err != nil || u == nil {
		writeJSONError(w, http.StatusInternalServerError, "admin user not provisioned")
		return lifecycle.Actor{}, false
	}
	return lifecycle.Actor{ID: u.ID, Role: u.Role}, true
}

// --- Handlers ---

func (a *App) handleMe(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	u, _, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	writeJSON(w, userOut(u))
}

func (a *App) handleTasks(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		_, actor, ok := a.requireUser(w, r)
		if !ok {
			return
		}
		q := r.URL.Query()
		opts := lifecycle.ListOptions{
			Status: q.Get("status"),
			Scope:  q.Get("scope"),
			Sort:   strings.ToLower(q.Get("sort")),
			Order:  strings.ToLower(q.Get("order")),
		}
		if v := q.Get("updated_after"); v != "" {
			ts, err := time.Parse(time.RFC3339, v)
			if err != nil {
				writeJSONError(w, http.StatusBadRequest, "updated_after must be RFC 3339")
				return
			}
			opts.UpdatedAfter = &ts
		}
		tasks, err := a.Engine.List(r.Context(), actor, opts)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		out := make([]models.Task, 0, len(tasks))
		for i := range tasks {
			out = append(out, taskOut(&tasks[i]))
		}
		writeJSON(w, out)
	case http.MethodPost:
		_, actor, ok := a.requireUser(w, r)
		if !ok {
			return
		}
		var body models.TaskCreate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		task, err := a.Engine.Create(r.Context(), actor, createInput(body, ""))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		a.Hub.PublishTaskUpdate(task.ID, task.Status)
		writeJSON(w, taskOut(task))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleTaskSubtree routes /api/tasks/{id} and its assign, status, restore,
// events, and comments children.
func (a *App) handleTaskSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/tasks/")
	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid task id")
		return
	}
	if len(parts) >= 2 && parts[1] != "" {
		switch parts[1] {
		case "assign":
			a.handleAssign(w, r, id)
		case "status":
			a.handleStatus(w, r, id)
		case "restore":
			a.handleRestore(w, r, id)
		case "events":
			a.handleEvents(w, r, id)
		case "comments":
			a.handleComments(w, r, id)
		default:
			writeJSONError(w, http.StatusNotFound, "not found")
		}
		return
	}

	_, actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	switch r.Method {
	case http.MethodGet:
		task, err := a.Engine.Get(r.Context(), actor, id)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		writeJSON(w, taskOut(task))
	case http.MethodPatch:
		var patch models.TaskPatch
		if err := json.NewDecoder(r.Body).Decode(&patch); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		task, err := a.Engine.Edit(r.Context(), actor, id, &patch)
		if err != nil {
			writeEngineError(w, err)
			return
		}
		a.Hub.PublishTaskUpdate(task.ID, task.Status)
		writeJSON(w, taskOut(task))
	case http.MethodDelete:
		if err := a.Engine.Delete(r.Context(), actor, id); err != nil {
			writeEngineError(w, err)
			return
		}
		a.Hub.PublishJSON(map[string]any{"type": "task_update", "task_id": id, "deleted": true})
		writeJSON(w, map[string]any{"ok": true})
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleAssign(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var body models.AssignRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.AssigneeUserID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "assignee_user_id required")
		return
	}
	task, err := a.Engine.Assign(r.Context(), actor, id, body.AssigneeUserID)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	a.Hub.PublishTaskUpdate(task.ID, task.Status)
	writeJSON(w, taskOut(task))
}

func (a *App) handleStatus(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	var body models.StatusRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	task, err := a.Engine.ChangeStatus(r.Context(), actor, id, body.Action, body.Reason)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	a.Hub.PublishTaskUpdate(task.ID, task.Status)
	writeJSON(w, taskOut(task))
}

func (a *App) handleRestore(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	task, err := a.Engine.Restore(r.Context(), actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	a.Hub.PublishTaskUpdate(task.ID, task.Status)
	writeJSON(w, taskOut(task))
}

func (a *App) handleEvents(w http.ResponseWriter, r *http.Request, id int64) {
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	_, actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	events, err := a.Engine.Events(r.Context(), actor, id)
	if err != nil {
		writeEngineError(w, err)
		return
	}
	out := make([]models.TaskEvent, 0, len(events))
	for i := range events {
		out = append(out, eventOut(&events[i]))
	}
	writeJSON(w, out)
}

func (a *App) handleComments(w http.ResponseWriter, r *http.Request, id int64) {
	u, actor, ok := a.requireUser(w, r)
	if !ok {
		return
	}
	// Comments hang off the task; view access is the same as for the task.
	if _, err := a.Engine.Get(r.Context(), actor, id); err != nil {
		writeEngineError(w, err)
		return
	}
	switch r.Method {
	case http.MethodGet:
		comments, err := a.Store.ListComments(r.Context(), id)
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.Comment, 0, len(comments))
		for _, c := range comments {
			out = append(out, commentOut(&c))
		}
		writeJSON(w, out)
	case http.MethodPost:
		var body models.CommentCreate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		text := strings.TrimSpace(body.Text)
		if text == "" {
			writeJSONError(w, http.StatusBadRequest, "text required")
			return
		}
		c, err := a.Store.CreateComment(r.Context(), &store.Comment{TaskID: id, Author: u.Name, Text: text})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, commentOut(c))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleStudents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, _, ok := a.requireUser(w, r); !ok {
			return
		}
		students, err := a.Store.ListStudents(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.Student, 0, len(students))
		for _, s := range students {
			out = append(out, studentOut(&s))
		}
		writeJSON(w, out)
	case http.MethodPost:
		if _, _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		var body models.StudentCreate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, "name required")
			return
		}
		s, err := a.Store.CreateStudent(r.Context(), &store.Student{
			Name:         body.Name,
			StudentClass: body.StudentClass,
			Address:      body.Address,
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, studentOut(s))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

// handleStudentSubtree currently serves /api/students/{id}/history.
func (a *App) handleStudentSubtree(w http.ResponseWriter, r *http.Request) {
	rest := strings.TrimPrefix(r.URL.Path, "/api/students/")
	parts := strings.Split(rest, "/")
	id, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid student id")
		return
	}
	if len(parts) < 2 || parts[1] != "history" {
		writeJSONError(w, http.StatusNotFound, "not found")
		return
	}
	if r.Method != http.MethodGet {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, _, ok := a.requireUser(w, r); !ok {
		return
	}

	days := models.DefaultHistoryDays
	if v := r.URL.Query().Get("days"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			days = n
		}
	}
	since := time.Now().UTC().AddDate(0, 0, -days)

	absences, err := a.Store.ListAbsencesSince(r.Context(), id, since)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	visits, err := a.Store.ListCompletedVisits(r.Context(), id)
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}

	items := make([]models.HistoryItem, 0, len(absences)+len(visits))
	for _, ab := range absences {
		items = append(items, models.HistoryItem{
			Kind:       "absence",
			Date:       ab.Date,
			ReasonCode: ab.ReasonCode,
			Note:       ab.Note,
			ReportedBy: ab.ReportedBy,
		})
	}
	for i := range visits {
		t := visits[i]
		date := time.Now().UTC()
		switch {
		case t.CompletedAt != nil:
			date = *t.CompletedAt
		case t.DueAt != nil:
			date = *t.DueAt
		}
		title := t.Title
		items = append(items, models.HistoryItem{Kind: "visit", Date: date, Title: &title})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].Date.After(items[j].Date) })
	writeJSON(w, items)
}

func (a *App) handleAbsences(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, _, ok := a.requireUser(w, r); !ok {
		return
	}
	var body models.AbsenceCreate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	if body.StudentID <= 0 {
		writeJSONError(w, http.StatusBadRequest, "student_id required")
		return
	}
	ab, err := a.Store.CreateAbsence(r.Context(), &store.Absence{
		StudentID:  body.StudentID,
		Date:       body.Date,
		ReasonCode: body.ReasonCode,
		Note:       body.Note,
		ReportedBy: body.ReportedBy,
	})
	if err != nil {
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, absenceOut(ab))
}

func (a *App) handleUsers(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		if _, _, ok := a.requireUser(w, r); !ok {
			return
		}
		users, err := a.Store.ListUsers(r.Context())
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		out := make([]models.User, 0, len(users))
		for _, u := range users {
			out = append(out, *userOut(&u))
		}
		writeJSON(w, out)
	case http.MethodPost:
		if _, _, ok := a.requireAdmin(w, r); !ok {
			return
		}
		var body models.UserCreate
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeJSONError(w, http.StatusBadRequest, "invalid json")
			return
		}
		if strings.TrimSpace(body.Name) == "" {
			writeJSONError(w, http.StatusBadRequest, "name required")
			return
		}
		// Created users always get the User role; admins come from fixtures.
		u, err := a.Store.CreateUser(r.Context(), &store.User{
			Email: body.Email,
			Name:  body.Name,
			Role:  models.RoleUser,
		})
		if err != nil {
			writeJSONError(w, http.StatusInternalServerError, err.Error())
			return
		}
		writeJSON(w, userOut(u))
	default:
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
	}
}

func (a *App) handleUserByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if _, _, ok := a.requireAdmin(w, r); !ok {
		return
	}
	id, err := strconv.ParseInt(strings.TrimPrefix(r.URL.Path, "/api/users/"), 10, 64)
	if err != nil || id <= 0 {
		writeJSONError(w, http.StatusBadRequest, "invalid user id")
		return
	}
	if err := a.Store.DeleteUser(r.Context(), id); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			writeJSONError(w, http.StatusNotFound, "user not found")
			return
		}
		writeJSONError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeJSON(w, map[string]any{"ok": true})
}

func (a *App) handleIngestOne(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.requireIngestToken(w, r) {
		return
	}
	actor, ok := a.ingestActor(w, r)
	if !ok {
		return
	}
	var body models.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	task, err := a.Engine.Create(r.Context(), actor, createInput(body, "api-token"))
	if err != nil {
		writeEngineError(w, err)
		return
	}
	a.Hub.PublishTaskUpdate(task.ID, task.Status)
	writeJSON(w, taskOut(task))
}

func (a *App) handleIngestBatch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSONError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	if !a.requireIngestToken(w, r) {
		return
	}
	actor, ok := a.ingestActor(w, r)
	if !ok {
		return
	}
	var body []models.TaskCreate
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeJSONError(w, http.StatusBadRequest, "invalid json")
		return
	}
	out := make([]models.Task, 0, len(body))
	for _, item := range body {
		task, err := a.Engine.Create(r.Context(), actor, createInput(item, "api-token"))
		if err != nil {
			writeEngineError(w, err)
			return
		}
		a.Hub.PublishTaskUpdate(task.ID, task.Status)
		out = append(out, taskOut(task))
	}
	writeJSON(w, out)
}

// handlePlainMetrics is the fallback when no OTel handler is wired.
func (a *App) handlePlainMetrics(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	counts, err := a.Store.CountTasksByStatus(r.Context())
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = fmt.Fprintf(w, "# TYPE taskpro_tasks_total gauge\n")
	for _, s := range []models.Status{models.StatusNew, models.StatusAssigned, models.StatusAccepted, models.StatusRejected, models.StatusDone} {
		_, _ = fmt.Fprintf(w, "taskpro_tasks_total{status=%q} %d\n", s, counts[string(s)])
	}
}

// --- Helpers ---

func createInput(body models.TaskCreate, source string) lifecycle.CreateInput {
	return lifecycle.CreateInput{
		StudentID:   body.StudentID,
		Title:       body.Title,
		Address:     body.Address,
		Body:        body.Body,
		DueAt:       body.DueAt,
		Checklist:   body.Checklist,
		ExternalRef: body.ExternalRef,
		Source:      source,
	}
}

func taskOut(t *store.Task) models.Task {
	return models.Task{
		ID:             t.ID,
		StudentID:      t.StudentID,
		Title:          t.Title,
		Address:        t.Address,
		Body:           t.Body,
		DueAt:          t.DueAt,
		AssigneeUserID: t.AssigneeUserID,
		Status:         t.Status,
		Checklist:      t.Checklist,
		ExternalRef:    t.ExternalRef,
		CreatedBy:      t.CreatedBy,
		CreatedAt:      t.CreatedAt,
		UpdatedAt:      t.UpdatedAt,
		CompletedAt:    t.CompletedAt,
		DeletedAt:      t.DeletedAt,
	}
}

func eventOut(e *store.TaskEvent) models.TaskEvent {
	return models.TaskEvent{
		ID:          e.ID,
		TaskID:      e.TaskID,
		Type:        e.Type,
		Metadata:    e.Metadata,
		ActorUserID: e.ActorUserID,
		CreatedAt:   e.CreatedAt,
	}
}

func userOut(u *store.User) *models.User {
	return &models.User{ID: u.ID, Email: u.Email, Name: u.Name, Role: u.Role, CreatedAt: u.CreatedAt}
}

func studentOut(s *store.Student) models.Student {
	return models.Student{ID: s.ID, Name: s.Name, StudentClass: s.StudentClass, Address: s.Address, CreatedAt: s.CreatedAt}
}

func commentOut(c *store.Comment) models.Comment {
	return models.Comment{ID: c.ID, TaskID: c.TaskID, Author: c.Author, Text: c.Text, CreatedAt: c.CreatedAt}
}

func absenceOut(ab *store.Absence) models.Absence {
	return models.Absence{ID: ab.ID, StudentID: ab.StudentID, Date: ab.Date, ReasonCode: ab.ReasonCode, Note: ab.Note, ReportedBy: ab.ReportedBy, CreatedAt: ab.CreatedAt}
}

// responseRecorder captures status code for logging and forwards Flusher if supported.
type responseRecorder struct {
	http.ResponseWriter
	status int
}

func (r *responseRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func (r *responseRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func requestLogMiddleware(log *slog.Logger, next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
		start := time.Now()
		rec := &responseRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, req)
		log.Info("request",
			"method", req.Method,
			"path", req.URL.Path,
			"status", rec.status,
			"duration_ms", time.Since(start).Milliseconds())
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(false)
	_ = enc.Encode(v)
}

// writeJSONError sends a JSON body {"error": "message"} with the given status code.
func writeJSONError(w http.ResponseWriter, code int, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(map[string]any{"error": message})
}

// writeEngineError maps a lifecycle failure kind to a stable HTTP status.
func writeEngineError(w http.ResponseWriter, err error) {
	switch lifecycle.KindOf(err) {
	case lifecycle.KindNotFound:
		writeJSONError(w, http.StatusNotFound, err.Error())
	case lifecycle.KindForbidden:
		writeJSONError(w, http.StatusForbidden, err.Error())
	case lifecycle.KindInvalidArgument:
		writeJSONError(w, http.StatusBadRequest, err.Error())
	case lifecycle.KindFailedPrecondition:
		writeJSONError(w, http.StatusConflict, err.Error())
	default:
		writeJSONError(w, http.StatusInternalServerError, err.Error())
	}
}
