package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// --- scan helpers -----------------------------------------------------------

func unixOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC().Unix()
}

func timePtrFromNull(v sql.NullInt64) *time.Time {
	if !v.Valid {
		return nil
	}
	t := time.Unix(v.Int64, 0).UTC()
	return &t
}

func strPtrFromNull(v sql.NullString) *string {
	if !v.Valid {
		return nil
	}
	s := v.String
	return &s
}

func intPtrFromNull(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	n := v.Int64
	return &n
}

func strOrNil(s *string) any {
	if s == nil {
		return nil
	}
	return *s
}

func intOrNil(n *int64) any {
	if n == nil {
		return nil
	}
	return *n
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

// scanTask scans one row in taskColumns order.
func scanTask(row interface{ Scan(...any) error }) (*Task, error) {
	var (
		t         Task
		address   sql.NullString
		body      sql.NullString
		dueAt     sql.NullInt64
		assignee  sql.NullInt64
		status    string
		checklist string
		extRef    sql.NullString
		createdBy sql.NullInt64
		createdAt int64
		updatedAt int64
		completed sql.NullInt64
		deleted   sql.NullInt64
	)
	err := row.Scan(&t.ID, &t.StudentID, &t.Title, &address, &body, &dueAt, &assignee,
		&status, &checklist, &extRef, &createdBy, &createdAt, &updatedAt, &completed, &deleted)
	if err != nil {
		return nil, err
	}
	t.Address = strPtrFromNull(address)
	t.Body = strPtrFromNull(body)
	t.DueAt = timePtrFromNull(dueAt)
	t.AssigneeUserID = intPtrFromNull(assignee)
	t.Status = models.Status(status)
	t.ExternalRef = strPtrFromNull(extRef)
	t.CreatedBy = intPtrFromNull(createdBy)
	t.CreatedAt = time.Unix(createdAt, 0).UTC()
	t.UpdatedAt = time.Unix(updatedAt, 0).UTC()
	t.CompletedAt = timePtrFromNull(completed)
	t.DeletedAt = timePtrFromNull(deleted)
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

func (s *sqliteStore) GetTask(ctx context.Context, id int64, includeDeleted bool) (*Task, error) {
	t, err := scanTask(s.stmtGetTask.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	if t.DeletedAt != nil && !includeDeleted {
		return nil, nil
	}
	return t, nil
}

func sortColumn(f TaskFilter) string {
	switch f.Sort {
	case SortUpdatedAt, SortCompletedAt:
		return f.Sort
	}
	return SortDueAt
}

func (s *sqliteStore) ListTasks(ctx context.Context, f TaskFilter) ([]Task, error) {
	q := `SELECT ` + taskColumns + ` FROM tasks WHERE deleted_at IS NULL`
	var args []any
	if f.Status != nil {
		q += ` AND status = ?`
		args = append(args, *f.Status)
	}
	if f.UserID != nil {
		q += ` AND (assignee_user_id = ? OR created_by = ?)`
		args = append(args, *f.UserID, *f.UserID)
	}
	if f.UpdatedAfter != nil {
		q += ` AND updated_at >= ?`
		args = append(args, f.UpdatedAfter.UTC().Unix())
	}
	col := sortColumn(f)
	dir := "ASC"
	if f.Descending {
		dir = "DESC"
	}
	// NULL due dates sort last in either direction.
	q += fmt.Sprintf(` ORDER BY %s IS NULL, %s %s, id ASC`, col, col, dir)

	rows, err := s.DB.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *t)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateTask(ctx context.Context, t *Task, ev *TaskEvent) (*Task, error) {
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

	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx, `
INSERT INTO tasks(student_id, title, address, body, due_at, assignee_user_id, status, checklist, external_ref, created_by, created_at, updated_at, completed_at, deleted_at)
VALUES(?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		t.StudentID, t.Title, strOrNil(t.Address), strOrNil(t.Body), unixOrNil(t.DueAt),
		intOrNil(t.AssigneeUserID), string(t.Status), checklist, strOrNil(t.ExternalRef),
		intOrNil(t.CreatedBy), t.CreatedAt.Unix(), t.UpdatedAt.Unix(),
		unixOrNil(t.CompletedAt), unixOrNil(t.DeletedAt))
	if err != nil {
		return nil, err
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, err
	}
	t.ID = id
	if ev != nil {
		ev.TaskID = id
		if err := insertEventTx(ctx, tx, ev); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqliteStore) InsertTask(ctx context.Context, t *Task) (*Task, error) {
	return s.CreateTask(ctx, t, nil)
}

func (s *sqliteStore) MutateTask(ctx context.Context, id int64, fn MutateFunc) (*Task, error) {
	tx, err := s.DB.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback() }()

	t, err := scanTask(tx.QueryRowContext(ctx, `SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
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
	_, err = tx.ExecContext(ctx, `
UPDATE tasks SET student_id=?, title=?, address=?, body=?, due_at=?, assignee_user_id=?, status=?, checklist=?, external_ref=?, updated_at=?, completed_at=?, deleted_at=?
WHERE id=?`,
		t.StudentID, t.Title, strOrNil(t.Address), strOrNil(t.Body), unixOrNil(t.DueAt),
		intOrNil(t.AssigneeUserID), string(t.Status), checklist, strOrNil(t.ExternalRef),
		t.UpdatedAt.Unix(), unixOrNil(t.CompletedAt), unixOrNil(t.DeletedAt), t.ID)
	if err != nil {
		return nil, err
	}
	ev.TaskID = t.ID
	if err := insertEventTx(ctx, tx, ev); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return t, nil
}

func (s *sqliteStore) CountTasksByStatus(ctx context.Context) (map[string]int64, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT status, COUNT(*) FROM tasks WHERE deleted_at IS NULL GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

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

func insertEventTx(ctx context.Context, tx *sql.Tx, ev *TaskEvent) error {
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
	_, err = tx.ExecContext(ctx, `INSERT INTO task_events(task_id, type, metadata, actor_user_id, created_at) VALUES(?, ?, ?, ?, ?)`,
		ev.TaskID, string(ev.Type), string(b), ev.ActorUserID, ev.CreatedAt.Unix())
	return err
}

func (s *sqliteStore) ListTaskEvents(ctx context.Context, taskID int64, newestFirst bool) ([]TaskEvent, error) {
	q := `SELECT id, task_id, type, metadata, actor_user_id, created_at FROM task_events WHERE task_id = ? ORDER BY created_at ASC, id ASC`
	if newestFirst {
		q = `SELECT id, task_id, type, metadata, actor_user_id, created_at FROM task_events WHERE task_id = ? ORDER BY created_at DESC, id DESC`
	}
	rows, err := s.DB.QueryContext(ctx, q, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []TaskEvent
	for rows.Next() {
		var (
			ev        TaskEvent
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

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var (
		u         User
		email     sql.NullString
		role      string
		createdAt int64
	)
	if err := row.Scan(&u.ID, &email, &u.Name, &role, &createdAt); err != nil {
		return nil, err
	}
	u.Email = strPtrFromNull(email)
	u.Role = models.Role(role)
	u.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &u, nil
}

func (s *sqliteStore) GetUser(ctx context.Context, id int64) (*User, error) {
	u, err := scanUser(s.stmtGetUser.QueryRowContext(ctx, id))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return u, nil
}

func (s *sqliteStore) ListUsers(ctx context.Context) ([]User, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, email, name, role, created_at FROM users ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *u)
	}
	return out, rows.Err()
}

func (s *sqliteStore) CreateUser(ctx context.Context, u *User) (*User, error) {
	if u.Name == "" {
		return nil, errors.New("user name required")
	}
	if u.Role == "" {
		u.Role = models.RoleUser
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO users(email, name, role, created_at) VALUES(?, ?, ?, ?)`,
		strOrNil(u.Email), u.Name, string(u.Role), u.CreatedAt.Unix())
	if err != nil {
		return nil, err
	}
	u.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return u, nil
}

func (s *sqliteStore) UpsertUser(ctx context.Context, u *User) error {
	if u.ID <= 0 {
		return errors.New("upsert requires a fixed user id")
	}
	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now().UTC()
	}
	_, err := s.DB.ExecContext(ctx, `
INSERT INTO users(id, email, name, role, created_at) VALUES(?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET email=excluded.email, name=excluded.name, role=excluded.role`,
		u.ID, strOrNil(u.Email), u.Name, string(u.Role), u.CreatedAt.Unix())
	return err
}

func (s *sqliteStore) DeleteUser(ctx context.Context, id int64) error {
	res, err := s.DB.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

// --- students ---------------------------------------------------------------

func scanStudent(row interface{ Scan(...any) error }) (*Student, error) {
	var (
		st        Student
		class     sql.NullString
		address   sql.NullString
		createdAt int64
	)
	if err := row.Scan(&st.ID, &st.Name, &class, &address, &createdAt); err != nil {
		return nil, err
	}
	st.StudentClass = strPtrFromNull(class)
	st.Address = strPtrFromNull(address)
	st.CreatedAt = time.Unix(createdAt, 0).UTC()
	return &st, nil
}

func (s *sqliteStore) CreateStudent(ctx context.Context, st *Student) (*Student, error) {
	if st.Name == "" {
		return nil, errors.New("student name required")
	}
	if st.CreatedAt.IsZero() {
		st.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO students(name, student_class, address, created_at) VALUES(?, ?, ?, ?)`,
		st.Name, strOrNil(st.StudentClass), strOrNil(st.Address), st.CreatedAt.Unix())
	if err != nil {
		return nil, err
	}
	st.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) ListStudents(ctx context.Context) ([]Student, error) {
	rows, err := s.DB.QueryContext(ctx, `SELECT id, name, student_class, address, created_at FROM students ORDER BY id ASC`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Student
	for rows.Next() {
		st, err := scanStudent(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *st)
	}
	return out, rows.Err()
}

func (s *sqliteStore) GetStudentByName(ctx context.Context, name string) (*Student, error) {
	st, err := scanStudent(s.DB.QueryRowContext(ctx,
		`SELECT id, name, student_class, address, created_at FROM students WHERE name = ? ORDER BY id ASC LIMIT 1`, name))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, err
	}
	return st, nil
}

// --- absences ---------------------------------------------------------------

func (s *sqliteStore) CreateAbsence(ctx context.Context, a *Absence) (*Absence, error) {
	if a.CreatedAt.IsZero() {
		a.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO absences(student_id, date, reason_code, note, reported_by, created_at) VALUES(?, ?, ?, ?, ?, ?)`,
		a.StudentID, a.Date.UTC().Unix(), strOrNil(a.ReasonCode), strOrNil(a.Note), strOrNil(a.ReportedBy), a.CreatedAt.Unix())
	if err != nil {
		return nil, err
	}
	a.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return a, nil
}

func (s *sqliteStore) ListAbsencesSince(ctx context.Context, studentID int64, since time.Time) ([]Absence, error) {
	rows, err := s.DB.QueryContext(ctx, `
SELECT id, student_id, date, reason_code, note, reported_by, created_at
FROM absences WHERE student_id = ? AND date >= ? ORDER BY date DESC, id DESC`,
		studentID, since.UTC().Unix())
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Absence
	for rows.Next() {
		var (
			a         Absence
			date      int64
			reason    sql.NullString
			note      sql.NullString
			reporter  sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&a.ID, &a.StudentID, &date, &reason, &note, &reporter, &createdAt); err != nil {
			return nil, err
		}
		a.Date = time.Unix(date, 0).UTC()
		a.ReasonCode = strPtrFromNull(reason)
		a.Note = strPtrFromNull(note)
		a.ReportedBy = strPtrFromNull(reporter)
		a.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *sqliteStore) ListCompletedVisits(ctx context.Context, studentID int64) ([]Task, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE student_id = ? AND status = ? AND deleted_at IS NULL ORDER BY completed_at DESC, id DESC`,
		studentID, string(models.StatusDone))
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Task
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

func (s *sqliteStore) CreateComment(ctx context.Context, c *Comment) (*Comment, error) {
	if c.Text == "" {
		return nil, errors.New("comment text required")
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	res, err := s.DB.ExecContext(ctx, `INSERT INTO task_comments(task_id, author, text, created_at) VALUES(?, ?, ?, ?)`,
		c.TaskID, c.Author, c.Text, c.CreatedAt.Unix())
	if err != nil {
		return nil, err
	}
	c.ID, err = res.LastInsertId()
	if err != nil {
		return nil, err
	}
	return c, nil
}

func (s *sqliteStore) ListComments(ctx context.Context, taskID int64) ([]Comment, error) {
	rows, err := s.DB.QueryContext(ctx,
		`SELECT id, task_id, author, text, created_at FROM task_comments WHERE task_id = ? ORDER BY created_at ASC, id ASC`, taskID)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []Comment
	for rows.Next() {
		var (
			c         Comment
			author    sql.NullString
			createdAt int64
		)
		if err := rows.Scan(&c.ID, &c.TaskID, &author, &c.Text, &createdAt); err != nil {
			return nil, err
		}
		if author.Valid {
			c.Author = author.String
		}
		c.CreatedAt = time.Unix(createdAt, 0).UTC()
		out = append(out, c)
	}
	return out, rows.Err()
}
