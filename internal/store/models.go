// Package store defines the persistence interface and shared row types for
// tasks, task events, users, students, absences, and comments.
package store

import (
	"time"

	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// User is an actor identity with a role (Admin or User).
type User struct {
	ID        int64
	Email     *string
	Name      string
	Role      models.Role
	CreatedAt time.Time
}

// Student is a tracked student record.
type Student struct {
	ID           int64
	Name         string
	StudentClass *string
	Address      *string
	CreatedAt    time.Time
}

// Task is a unit of assigned field work. Status, CompletedAt, DeletedAt, and
// UpdatedAt are owned by the lifecycle engine; a non-nil DeletedAt marks the
// row soft-deleted.
type Task struct {
	ID             int64
	StudentID      int64
	Title          string
	Address        *string
	Body           *string
	DueAt          *time.Time
	AssigneeUserID *int64
	Status         models.Status
	Checklist      []models.ChecklistItem
	ExternalRef    *string
	CreatedBy      *int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
	CompletedAt    *time.Time
	DeletedAt      *time.Time
}

// TaskEvent is one immutable audit record. Rows are created once and never
// updated or deleted; metadata must already be JSON-safe when it reaches the
// store.
type TaskEvent struct {
	ID          int64
	TaskID      int64
	Type        models.EventType
	Metadata    map[string]any
	ActorUserID int64
	CreatedAt   time.Time
}

// Comment is a free-text note on a task.
type Comment struct {
	ID        int64
	TaskID    int64
	Author    string
	Text      string
	CreatedAt time.Time
}

// Absence is a reported student absence.
type Absence struct {
	ID         int64
	StudentID  int64
	Date       time.Time
	ReasonCode *string
	Note       *string
	ReportedBy *string
	CreatedAt  time.Time
}
