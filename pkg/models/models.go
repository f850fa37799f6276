// Package models provides shared types for the Task Pro HTTP API and external tools.
// These types mirror the API JSON and are stable for use by pkg/client and other consumers.
package models

import "time"

// ChecklistItem is one entry of a task checklist.
type ChecklistItem struct {
	Text string `json:"text"`
	Done bool   `json:"done"`
}

// User is an actor identity (Admin or User).
type User struct {
	ID        int64     `json:"id"`
	Email     *string   `json:"email,omitempty"`
	Name      string    `json:"name"`
	Role      Role      `json:"role"`
	CreatedAt time.Time `json:"created_at,omitempty"`
}

// Student is a tracked student record.
type Student struct {
	ID           int64     `json:"id"`
	Name         string    `json:"name"`
	StudentClass *string   `json:"student_class,omitempty"`
	Address      *string   `json:"address,omitempty"`
	CreatedAt    time.Time `json:"created_at,omitempty"`
}

// Task is a unit of assigned field work (home visit or call).
type Task struct {
	ID             int64           `json:"id"`
	StudentID      int64           `json:"student_id"`
	Title          string          `json:"title"`
	Address        *string         `json:"address,omitempty"`
	Body           *string         `json:"body,omitempty"`
	DueAt          *time.Time      `json:"due_at,omitempty"`
	AssigneeUserID *int64          `json:"assignee_user_id,omitempty"`
	Status         Status          `json:"status"`
	Checklist      []ChecklistItem `json:"checklist"`
	ExternalRef    *string         `json:"external_ref,omitempty"`
	CreatedBy      *int64          `json:"created_by,omitempty"`
	CreatedAt      time.Time       `json:"created_at,omitempty"`
	UpdatedAt      time.Time       `json:"updated_at,omitempty"`
	CompletedAt    *time.Time      `json:"completed_at,omitempty"`
	DeletedAt      *time.Time      `json:"deleted_at,omitempty"`
}

// TaskEvent is one immutable audit record for a task.
type TaskEvent struct {
	ID          int64          `json:"id"`
	TaskID      int64          `json:"task_id"`
	Type        EventType      `json:"type"`
	Metadata    map[string]any `json:"metadata"`
	ActorUserID int64          `json:"actor_user_id"`
	CreatedAt   time.Time      `json:"created_at"`
}

// Comment is a free-text note on a task.
type Comment struct {
	ID        int64     `json:"id"`
	TaskID    int64     `json:"task_id"`
	Author    string    `json:"author,omitempty"`
	Text      string    `json:"text"`
	CreatedAt time.Time `json:"created_at"`
}

// Absence is a reported student absence.
type Absence struct {
	ID         int64     `json:"id"`
	StudentID  int64     `json:"student_id"`
	Date       time.Time `json:"date"`
	ReasonCode *string   `json:"reason_code,omitempty"`
	Note       *string   `json:"note,omitempty"`
	ReportedBy *string   `json:"reported_by,omitempty"`
	CreatedAt  time.Time `json:"created_at,omitempty"`
}

// HistoryItem is one entry of a student's merged absence/visit history.
type HistoryItem struct {
	Kind       string    `json:"kind"` // "absence" or "visit"
	Date       time.Time `json:"date"`
	Title      *string   `json:"title,omitempty"`
	ReasonCode *string   `json:"reason_code,omitempty"`
	Note       *string   `json:"note,omitempty"`
	ReportedBy *string   `json:"reported_by,omitempty"`
}

// TaskCreate is the request body for creating a task.
type TaskCreate struct {
	StudentID   int64           `json:"student_id"`
	Title       string          `json:"title"`
	Address     *string         `json:"address,omitempty"`
	Body        *string         `json:"body,omitempty"`
	DueAt       *time.Time      `json:"due_at,omitempty"`
	Checklist   []ChecklistItem `json:"checklist,omitempty"`
	ExternalRef *string         `json:"external_ref,omitempty"`
}

// TaskPatch is a partial task edit. A nil field means "leave unchanged";
// Fields reports which ones are set so the edit pipeline can authorize them
// by name.
type TaskPatch struct {
	Title          *string          `json:"title,omitempty"`
	Address        *string          `json:"address,omitempty"`
	Reason         *string          `json:"reason,omitempty"` // compatibility alias for body
	Body           *string          `json:"body,omitempty"`
	DueAt          *time.Time       `json:"due_at,omitempty"`
	AssigneeUserID *int64           `json:"assignee_user_id,omitempty"`
	Checklist      *[]ChecklistItem `json:"checklist,omitempty"`
	ExternalRef    *string          `json:"external_ref,omitempty"`
}

// Normalize rewrites the legacy reason alias into body. The rewrite happens
// before any field authorization so both names count as the same field.
func (p *TaskPatch) Normalize() {
	if p.Reason != nil && p.Body == nil {
		p.Body = p.Reason
	}
}

// Fields returns the JSON names of the set fields, in a fixed order.
func (p *TaskPatch) Fields() []string {
	var out []string
	if p.Title != nil {
		out = append(out, "title")
	}
	if p.Address != nil {
		out = append(out, "address")
	}
	if p.Reason != nil {
		out = append(out, "reason")
	}
	if p.Body != nil {
		out = append(out, "body")
	}
	if p.DueAt != nil {
		out = append(out, "due_at")
	}
	if p.AssigneeUserID != nil {
		out = append(out, "assignee_user_id")
	}
	if p.Checklist != nil {
		out = append(out, "checklist")
	}
	if p.ExternalRef != nil {
		out = append(out, "external_ref")
	}
	return out
}

// AssignRequest is the request body for assigning a task.
type AssignRequest struct {
	AssigneeUserID int64 `json:"assignee_user_id"`
}

// StatusRequest is the request body for a status change.
type StatusRequest struct {
	Action string  `json:"action"` // accept | reject | complete
	Reason *string `json:"reason,omitempty"`
}

// CommentCreate is the request body for adding a comment.
type CommentCreate struct {
	Text string `json:"text"`
}

// AbsenceCreate is the request body for reporting an absence.
type AbsenceCreate struct {
	StudentID  int64     `json:"student_id"`
	Date       time.Time `json:"date"`
	ReasonCode *string   `json:"reason_code,omitempty"`
	Note       *string   `json:"note,omitempty"`
	ReportedBy *string   `json:"reported_by,omitempty"`
}

// StudentCreate is the request body for creating a student.
type StudentCreate struct {
	Name         string  `json:"name"`
	StudentClass *string `json:"student_class,omitempty"`
	Address      *string `json:"address,omitempty"`
}

// UserCreate is the request body for creating a user.
type UserCreate struct {
	Email *string `json:"email,omitempty"`
	Name  string  `json:"name"`
}
