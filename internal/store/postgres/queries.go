package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

const taskColumns = `id, student_id, title, address, body, due_at, assignee_user_id, status, checklist, external_ref, created_by, created_at, updated_at, completed_at, deleted_at`

func unixPtr(t *time.Time) *int64 {
	if t == nil {
		return nil
	}
	v := t.UTC().Unix()
	return &v
}

func timeFromUnixPtr(v *int64) *time.Time {
	if v == nil {
		return nil
	}
	t := time.Unix(*v, 0).UTC()
	return &t
}

func marshalChecklist(items []models.ChecklistItem) (string, error) {
	if items == nil {
		items = []models.ChecklistItem{}
	}
	b, err := json.Marshal(items)
	if err != nil {
		return "", fmt.Errorf("encode checklist: %w", err)
	}
	return string(b), nil
}

type rowScanner interface{ Scan(...any) error }

// scanTask scans one row in taskColumns order.
func scanTask(row rowScanner) (*store.Task, error) {
	var (
		t         store.Task
		address   *string
		body      *string
		dueAt     *int64
		assignee  *int64
		status    string
		checklist string
		extRef    *string
		createdBy *int64
		createdAt int64
		updatedAt int64
		completed *int64
		deleted   *int64
	)
	err := row.Scan(&t.ID, &t.StudentID, &t.Title, &address, &body, &dueAt, &assignee,
		&status, &checklist, &extRef, &createdBy, &createdAt, &updatedAt, &completed, &deleted)
	if err != nil {
		return nil, err
	}
	t.Address = address
	t.Body = body
	t.DueAt = timeFromUnixPtr(dueAt)
	t.AssigneeUserID = assignee
	t.Status = models.Status(status)
	t.ExternalRef = extRef
	t.CreatedBy = createdBy
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	t.CompletedAt = timeFromUnixPtr(completed)
	t.DeletedAt = timeFromUnixPtr(deleted)
	if checklist != "" {
		if err := json.Unmarshal([]byte(checklist), &t.Checklist); err != nil {
			return nil, fmt.Errorf("decode checklist for task %d: %w", t.ID, err)
		}
	}
	if t.Checklist == nil {
		t.Checklist = []models.ChecklistItem{}
	}
	return &t, nil
}

// --- tasks ------------------------------------------------------------------

func (s *Store) GetTask(ctx context.Context, id int64, includeDeleted bool) (*store.Task, error) {
	t, err := scanTask(s.Pool.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if t.DeletedAt != nil && !includeDeleted {
		return nil, nil
	}
	return t, nil
}

func sortColumn(f store.TaskFilter) string {
	switch f.Sort {
	case store.SortUpdatedAt, store.SortCompletedAt:
		return f.Sort
	}
	return store.SortDueAt
}

func (s *Store) ListTasks(ctx context.Context, f store.TaskFilter) ([]store.Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE deleted_at IS NULL`
	var args []any
	if f.Status != nil {
		args = append(args, *f.Status)
		q += fmt.Sprintf(` AND status = $%d`, len(args))
	}
	if f.UserID != nil {
		args = append(args, *f.UserID)
		q += fmt.Sprintf(` AND (assignee_user_id = $%d OR created_by = $%d)`, len(args), len(args))
	}
	if f.UpdatedAfter != nil {
		args = append(args, f.UpdatedAfter.UTC().Unix())
		q += fmt.Sprintf(` AND updated_at >= $%d`, len(args))
	}
	col := sortColumn(f)
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	// NULL due dates sort last in either direction.
	q += fmt.Sprintf(` ORDER BY %s IS NULL, %s %s, id ASC`, col, col, dir)

	rows, err := s.Pool.Query(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *Store) CreateTask(ctx context.Context, t *store.Task, ev *store.TaskEvent) (*store.Task, error) {
	checklist, err := marshalChecklist(t.Checklist)
	if err != nil {
		return nil, err
	}
	now := time.Now().UTC()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}
	if t.UpdatedAt.IsZero() {
		t.UpdatedAt = t.CreatedAt
	}

	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	err = tx.QueryRow(ctx, `
INSERT INTO tasks(student_id, title, address, body, due_at, assignee_user_id, status, checklist, external_ref, created_by, created_at, updated_at, completed_at, deleted_at)
VALUES($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14)
RETURNING id`,
		t.StudentID, t.Title, t.Address, t.Body, unixPtr(t.DueAt),
		t.AssigneeUserID, string(t.Status), checklist, t.ExternalRef,
		t.CreatedBy, t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
		unixPtr(t.CompletedAt), unixPtr(t.DeletedAt)).Scan(&t.ID)
	if err != nil {
		return nil, err
	}
	if ev != nil {
		ev.TaskID = t.ID
		if err := insertEventTx(ctx, tx, ev); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) InsertTask(ctx context.Context, t *store.Task) (*store.Task, error) {
	return s.CreateTask(ctx, t, nil)
}

func (s *Store) MutateTask(ctx context.Context, id int64, fn store.MutateFunc) (*store.Task, error) {
	tx, err := s.Pool.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	t, err := scanTask(tx.QueryRow(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = $1 FOR UPDATE`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, err
	}

	ev, err := fn(t)
	if err != nil {
		return nil, err
	}
	if ev == nil {
		// Validation passed but nothing changed; commit nothing.
		return t, nil
	}

	checklist, err := marshalChecklist(t.Checklist)
	if err != nil {
		return nil, err
	}
	_, err = tx.Exec(ctx, `
UPDATE tasks SET student_id=$1, title=$2, address=$3, body=$4, due_at=$5, assignee_user_id=$6, status=$7, checklist=$8, external_ref=$9, updated_at=$10, completed_at=$11, deleted_at=$12
WHERE id=$13`,
		t.StudentID, t.Title, t.Address, t.Body, unixPtr(t.DueAt),
		t.AssigneeUserID, string(t.Status), checklist, t.ExternalRef,
		t.UpdatedAt.Unix(), unixPtr(t.CompletedAt), unixPtr(t.DeletedAt), t.ID)
	if err != nil {
		return nil, err
	}
	ev.TaskID = t.ID
	if err := insertEventTx(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *Store) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.Pool.Query(ctx, `SELECT status, COUNT(*) FROM tasks WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var status string
		var n int64
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		out[status] = n
	}
	return out, rows.Err()
}

// --- task events ------------------------------------------------------------

func insertEventTx(ctx context.Context, tx pgx.Tx, ev *store.TaskEvent) error {
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now().UTC()
	}
	meta := ev.Metadata
	if meta == nil {
		meta = map[string]any{}
	}
	b, err := json.Marshal(meta)
	if err != nil {
		return fmt.Errorf("encode event metadata: %w", err)
	}
	_, err = tx.Exec(ctx, `INSERT INTO task_events(task_id, type, metadata, actor_user_id, created_at) VALUES($1, $2, $3, $4, $5)`,
		ev.TaskID, string(ev.Type), string(b), ev.ActorUserID, ev.CreatedAt.Unix())
	return err
}

func (s *Store) ListTaskEvents(ctx context.Context, taskID int64, newestFirst bool) ([]store.TaskEvent, error) {
	q := `SELECT id, task_id, type, metadata, actor_user_id, created_at FROM task_events WHERE task_id = $1 ORDER BY created_at ASC, id ASC`
	if newestFirst {
		q = `SELECT id, task_id, type, metadata, actor_user_id, created_at FROM task_events WHERE task_id = $1 ORDER BY created_at DESC, id DESC`
	}
	rows, err := s.Pool.Query(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.TaskEvent
	for rows.Next() {
		var (
			ev        store.TaskEvent
			typ       string
			meta      string
			createdAt int64
		)
		if err := rows.Scan(&ev.ID, &ev.TaskID, &typ, &meta, &ev.ActorUserID, &createdAt); err != nil {
			return nil, err
		}
		ev.Type = models.EventType(typ)
		ev.CreatedAt = time.Unix(createdAt, 0).UTC()
		if meta != "" {
			if err := json.Unmarshal([]byte(meta), &ev.Metadata); err != nil {
				return nil, fmt.Errorf("decode metadata for event %d: %w", ev.ID, err)
			}
		}
		if ev.Metadata == nil {
			ev.Metadata = map[string]any{}
		}
		out = append(out, ev)
	}
	return out, rows.Err()
}

// --- users ------------------------------------------------------------------

func scanUser(row rowScanner) (*store.User, error) {
	var (
		u         store.User
		email     *string
		role      string
		createdAt int64
	)
	if err := row.Scan(&u.ID, &email, &u.Name, &role, &createdAt); err != nil {
		return nil, err
	}
	u.Email = email
	u.Role = models.Role(role)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

func (s *Store) GetUser(ctx context.Context, id int64) (*store.User, error) {
	u, err := scanUser(s.Pool.QueryRow(ctx, `SELECT id, email, name, role, created_at FROM users WHERE id = $1`, id))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *Store) ListUsers(ctx context.Context) ([]store.User, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, email, name, role, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *Store) CreateUser(ctx context.Context, u *store.User) (*store.User, error) {
	if u.Name == "" {
		return nil, errors.New("user name required")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	err := s.Pool.QueryRow(ctx, `INSERT INTO users(email, name, role, created_at) VALUES($1, $2, $3, $4) RETURNING id`,
		u.Email, u.Name, string(u.Role), u.CreatedAt.Unix()).Scan(&u.ID)
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *Store) UpsertUser(ctx context.Context, u *store.User) error {
	if u.ID <= 0 {
		return errors.New("upsert requires a fixed user id")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.Pool.Exec(ctx, `
INSERT INTO users(id, email, name, role, created_at) VALUES($1, $2, $3, $4, $5)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, name=excluded.name, role=excluded.role`,
		u.ID, u.Email, u.Name, string(u.Role), u.CreatedAt.Unix())
	return err
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	tag, err := s.Pool.Exec(ctx, `DELETE FROM users WHERE id = $1`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

// --- students ---------------------------------------------------------------

func scanStudent(row rowScanner) (*store.Student, error) {
	var (
		st        store.Student
		class     *string
		address   *string
		createdAt int64
	)
	if err := row.Scan(&st.ID, &st.Name, &class, &address, &createdAt); err != nil {
		return nil, err
	}
	st.StudentClass = class
	st.Address = address
	st.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &st, nil
}

func (s *Store) CreateStudent(ctx context.Context, st *store.Student) (*store.Student, error) {
	if st.Name == "" {
		return nil, errors.New("student name required")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	err := s.Pool.QueryRow(ctx, `INSERT INTO students(name, student_class, address, created_at) VALUES($1, $2, $3, $4) RETURNING id`,
		st.Name, st.StudentClass, st.Address, st.CreatedAt.Unix()).Scan(&st.ID)
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *Store) ListStudents(ctx context.Context) ([]store.Student, error) {
	rows, err := s.Pool.Query(ctx, `SELECT id, name, student_class, address, created_at FROM students ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *Store) GetStudentByName(ctx context.Context, name string) (*store.Student, error) {
	st, err := scanStudent(s.Pool.QueryRow(ctx,
		`SELECT id, name, student_class, address, created_at FROM students WHERE name = $1 ORDER BY id ASC LIMIT 1`, name))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}

// --- absences ---------------------------------------------------------------

func (s *Store) CreateAbsence(ctx context.Context, a *store.Absence) (*store.Absence, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	err := s.Pool.QueryRow(ctx, `INSERT INTO absences(student_id, date, reason_code, note, reported_by, created_at) VALUES($1, $2, $3, $4, $5, $6) RETURNING id`,
		a.StudentID, a.Date.UTC().Unix(), a.ReasonCode, a.Note, a.ReportedBy, a.CreatedAt.Unix()).Scan(&a.ID)
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *Store) ListAbsencesSince(ctx context.Context, studentID int64, since time.Time) ([]store.Absence, error) {
	rows, err := s.Pool.Query(ctx, `
SELECT id, student_id, date, reason_code, note, reported_by, created_at
FROM absences WHERE student_id = $1 AND date >= $2 ORDER BY date DESC, id DESC`,
		studentID, since.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Absence
	for rows.Next() {
		var (
			a         store.Absence
			date      int64
			reason    *string
			note      *string
			reporter  *string
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.StudentID, &date, &reason, &note, &reporter, &createdAt); err != nil {
			return nil, err
		}
		a.Date = time.Unix(date, 0).UTC()
		a.ReasonCode = reason
		a.Note = note
		a.ReportedBy = reporter
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) ListCompletedVisits(ctx context.Context, studentID int64) ([]store.Task, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE student_id = $1 AND status = $2 AND deleted_at IS NULL ORDER BY completed_at DESC, id DESC`,
		studentID, string(models.StatusDone))
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

// --- comments ---------------------------------------------------------------

func (s *Store) CreateComment(ctx context.Context, c *store.Comment) (*store.Comment, error) {
	if c.Text == "" {
		return nil, errors.New("comment text required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	err := s.Pool.QueryRow(ctx, `INSERT INTO task_comments(task_id, author, text, created_at) VALUES($1, $2, $3, $4) RETURNING id`,
		c.TaskID, c.Author, c.Text, c.CreatedAt.Unix()).Scan(&c.ID)
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *Store) ListComments(ctx context.Context, taskID int64) ([]store.Comment, error) {
	rows, err := s.Pool.Query(ctx,
		`SELECT id, task_id, author, text, created_at FROM task_comments WHERE task_id = $1 ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []store.Comment
	for rows.Next() {
		var (
			c         store.Comment
			author    *string
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &author, &c.Text, &createdAt); err != nil {
			return nil, err
		}
		if author != nil {
			c.Author = *author
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
