package store

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by lookups and mutations when the target row does
// not exist.
var ErrNotFound = errors.New("not found")

// MutateFunc validates and mutates a freshly loaded task row inside a store
// transaction. Returning an error rolls the transaction back; returning a nil
// event commits nothing (no-op). A non-nil event is appended atomically with
// the task update.
type MutateFunc func(t *Task) (*TaskEvent, error)

// Store is the persistence interface for tasks, task events, users, students,
// absences, and comments.
// Implementations: the SQLite store (Open) and *postgres.Store.
type Store interface {
	// Tasks
	// GetTask returns (nil, nil) when the task does not exist or, unless
	// includeDeleted is set, when it is soft-deleted.
	GetTask(ctx context.Context, id int64, includeDeleted bool) (*Task, error)
	ListTasks(ctx context.Context, f TaskFilter) ([]Task, error)
	// CreateTask inserts the task row and its creation event in one
	// transaction and returns the stored row.
	CreateTask(ctx context.Context, t *Task, ev *TaskEvent) (*Task, error)
	// MutateTask loads the task row (soft-deleted included) inside a
	// transaction, applies fn, then commits the updated row together with
	// the returned event. Returns ErrNotFound when the row is absent.
	MutateTask(ctx context.Context, id int64, fn MutateFunc) (*Task, error)
	// InsertTask writes a raw task row without an audit event (seeding only).
	InsertTask(ctx context.Context, t *Task) (*Task, error)
	CountTasksByStatus(ctx context.Context) (map[string]int64, error)

	// Task events (write-once; appended only via CreateTask/MutateTask)
	ListTaskEvents(ctx context.Context, taskID int64, newestFirst bool) ([]TaskEvent, error)

	// Users
	GetUser(ctx context.Context, id int64) (*User, error)
	ListUsers(ctx context.Context) ([]User, error)
	CreateUser(ctx context.Context, u *User) (*User, error)
	// UpsertUser writes a user with a fixed id (demo fixtures).
	UpsertUser(ctx context.Context, u *User) error
	DeleteUser(ctx context.Context, id int64) error

	// Students
	CreateStudent(ctx context.Context, s *Student) (*Student, error)
	ListStudents(ctx context.Context) ([]Student, error)
	GetStudentByName(ctx context.Context, name string) (*Student, error)

	// Absences
	CreateAbsence(ctx context.Context, a *Absence) (*Absence, error)
	ListAbsencesSince(ctx context.Context, studentID int64, since time.Time) ([]Absence, error)
	// ListCompletedVisits returns a student's Done tasks for history merges.
	ListCompletedVisits(ctx context.Context, studentID int64) ([]Task, error)

	// Comments
	CreateComment(ctx context.Context, c *Comment) (*Comment, error)
	ListComments(ctx context.Context, taskID int64) ([]Comment, error)

	// Lifecycle
	Close() error
}

// Task list sort columns. Anything else falls back to SortDueAt.
const (
	SortDueAt       = "due_at"
	SortUpdatedAt   = "updated_at"
	SortCompletedAt = "completed_at"
)

// TaskFilter selects and orders active tasks. Soft-deleted rows are always
// excluded.
type TaskFilter struct {
	Status       *string
	UserID       *int64 // restrict to tasks assigned to or created by this user
	UpdatedAfter *time.Time
	Sort         string // due_at (default) | updated_at | completed_at
	Descending   bool
}
