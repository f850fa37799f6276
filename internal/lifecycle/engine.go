// Package lifecycle implements the task lifecycle state machine: status
// transitions, role-scoped edits, assignment, soft-delete with a bounded
// restore window, and the append-only audit trail behind every mutation.
package lifecycle

import (
	"context"
	"errors"
	"log/slog"
	"strings"
	"time"

	"github.com/vladponakov/simple-task-pro-v2/internal/config"
	"github.com/vladponakov/simple-task-pro-v2/internal/notify"
	"github.com/vladponakov/simple-task-pro-v2/internal/otel"
	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// Engine orchestrates task mutations. Every operation runs as one store
// transaction: load the fresh row, validate against it, mutate, commit the
// row together with its audit event. Nothing is written when validation
// fails.
type Engine struct {
	store    store.Store
	notifier notify.Notifier // optional; completion pushes are best-effort
	access   accessPolicy
	recovery recoveryPolicy
	log      *slog.Logger
	now      func() time.Time
}

// New builds an engine over st. notifier may be nil to disable completion
// pushes.
func New(st store.Store, notifier notify.Notifier, cfg *config.Config, log *slog.Logger) *Engine {
	if log == nil {
		log = slog.Default()
	}
	return &Engine{
		store:    st,
		notifier: notifier,
		recovery: recoveryPolicy{window: cfg.RestoreWindow()},
		log:      log,
		now:      func() time.Time { return time.Now().UTC().Truncate(time.Second) },
	}
}

// CreateInput is the payload for Create.
type CreateInput struct {
	StudentID   int64
	Title       string
	Address     *string
	Body        *string
	DueAt       *time.Time
	Checklist   []models.ChecklistItem
	ExternalRef *string
	// Source annotates the creation event (e.g. "api-token" for ingest).
	Source string
}

// Create inserts a new task in status New with no assignee. Admin only.
// Creation is recorded as the first Edit event for audit uniformity.
func (e *Engine) Create(ctx context.Context, actor Actor, in CreateInput) (*store.Task, error) {
	if err := e.access.requireAdmin(actor); err != nil {
		return nil, err
	}
	if in.StudentID <= 0 {
		return nil, invalidf("student_id required")
	}
	if strings.TrimSpace(in.Title) == "" {
		return nil, invalidf("title required")
	}

	now := e.now()
	t := &store.Task{
		StudentID:   in.StudentID,
		Title:       in.Title,
		Address:     in.Address,
		Body:        in.Body,
		DueAt:       in.DueAt,
		Checklist:   in.Checklist,
		ExternalRef: in.ExternalRef,
		Status:      models.StatusNew,
		CreatedBy:   &actor.ID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	meta := map[string]any{"create": true}
	if in.Source != "" {
		meta["source"] = in.Source
	}
	created, err := e.store.CreateTask(ctx, t, newEvent(models.EventEdit, actor, now, meta))
	if err != nil {
		return nil, err
	}
	otel.RecordTaskOp(ctx, "create", string(created.Status))
	return created, nil
}

// ListOptions filters and orders List results.
type ListOptions struct {
	Status       string // one of the task statuses, or empty
	Scope        string // "my" restricts admins to their own tasks
	Sort         string // due_at (default) | updated_at | completed_at
	Order        string // asc (default) | desc
	UpdatedAfter *time.Time
}

// List returns active tasks visible to the actor. Non-admins only ever see
// tasks they are assigned to or created; admins see everything unless they
// ask for scope=my.
func (e *Engine) List(ctx context.Context, actor Actor, opts ListOptions) ([]store.Task, error) {
	f := store.TaskFilter{
		Sort:         opts.Sort,
		Descending:   strings.EqualFold(opts.Order, "desc"),
		UpdatedAfter: opts.UpdatedAfter,
	}
	if opts.Status != "" {
		if !models.Status(opts.Status).Valid() {
			return nil, invalidf("unknown status %q", opts.Status)
		}
		f.Status = &opts.Status
	}
	if !actor.IsAdmin() || opts.Scope == models.ScopeMy {
		f.UserID = &actor.ID
	}
	return e.store.ListTasks(ctx, f)
}

// Get returns one active task, enforcing view access.
func (e *Engine) Get(ctx context.Context, actor Actor, id int64) (*store.Task, error) {
	t, err := e.store.GetTask(ctx, id, false)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFoundf("task not found")
	}
	if !e.access.canView(actor, t) {
		return nil, forbiddenf("forbidden")
	}
	return t, nil
}

// Edit applies a partial update. The reason alias is folded into body before
// the field whitelist check; a non-admin patch carrying any field outside the
// whitelist is rejected wholesale and nothing is written.
func (e *Engine) Edit(ctx context.Context, actor Actor, id int64, patch *models.TaskPatch) (*store.Task, error) {
	patch.Normalize()
	fields := patch.Fields()

	t, err := e.store.MutateTask(ctx, id, func(t *store.Task) (*store.TaskEvent, error) {
		if t.DeletedAt != nil {
			return nil, notFoundf("task not found")
		}
		if err := e.access.checkEdit(actor, t, fields); err != nil {
			return nil, err
		}

		changed := map[string]any{}
		if patch.Title != nil {
			t.Title = *patch.Title
			changed["title"] = *patch.Title
		}
		if patch.Address != nil {
			t.Address = patch.Address
			changed["address"] = *patch.Address
		}
		if patch.Body != nil {
			t.Body = patch.Body
			changed["body"] = *patch.Body
		}
		if patch.DueAt != nil {
			t.DueAt = patch.DueAt
			changed["due_at"] = *patch.DueAt
		}
		if patch.AssigneeUserID != nil {
			t.AssigneeUserID = patch.AssigneeUserID
			changed["assignee_user_id"] = *patch.AssigneeUserID
		}
		if patch.Checklist != nil {
			t.Checklist = *patch.Checklist
			changed["checklist"] = *patch.Checklist
		}
		if patch.ExternalRef != nil {
			t.ExternalRef = patch.ExternalRef
			changed["external_ref"] = *patch.ExternalRef
		}

		now := e.now()
		t.UpdatedAt = now
		return newEvent(models.EventEdit, actor, now, map[string]any{"changed": changed}), nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	otel.RecordTaskOp(ctx, "edit", string(t.Status))
	return t, nil
}

// Assign sets the assignee. Admin only. A task in New or Rejected moves to
// Assigned; the event is Assign for a first or same-user assignment and
// Reassign otherwise.
func (e *Engine) Assign(ctx context.Context, actor Actor, id, assigneeID int64) (*store.Task, error) {
	if err := e.access.requireAdmin(actor); err != nil {
		return nil, err
	}
	t, err := e.store.MutateTask(ctx, id, func(t *store.Task) (*store.TaskEvent, error) {
		if t.DeletedAt != nil {
			return nil, notFoundf("task not found")
		}
		prev := t.AssigneeUserID
		t.AssigneeUserID = &assigneeID
		switch t.Status {
		case models.StatusNew, models.StatusRejected:
			t.Status = models.StatusAssigned
		}

		typ := models.EventAssign
		if prev != nil && *prev != assigneeID {
			typ = models.EventReassign
		}
		now := e.now()
		t.UpdatedAt = now
		return newEvent(typ, actor, now, map[string]any{"from": prev, "to": assigneeID}), nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	otel.RecordTaskOp(ctx, "assign", string(t.Status))
	return t, nil
}

// ChangeStatus executes a status action (accept, reject, complete) for the
// current assignee or an admin. Reject requires a reason, which is trimmed
// into the task body. Complete stamps completed_at and triggers the
// best-effort completion push.
func (e *Engine) ChangeStatus(ctx context.Context, actor Actor, id int64, action string, reason *string) (*store.Task, error) {
	t, err := e.store.MutateTask(ctx, id, func(t *store.Task) (*store.TaskEvent, error) {
		if t.DeletedAt != nil {
			return nil, notFoundf("task not found")
		}
		if err := e.access.checkStatusChange(actor, t); err != nil {
			return nil, err
		}

		now := e.now()
		t.UpdatedAt = now
		switch action {
		case models.ActionAccept:
			t.Status = models.StatusAccepted
			return newEvent(models.EventAccept, actor, now, map[string]any{"at": now}), nil
		case models.ActionReject:
			trimmed := ""
			if reason != nil {
				trimmed = strings.TrimSpace(*reason)
			}
			if trimmed == "" {
				return nil, invalidf("reason required for reject")
			}
			t.Status = models.StatusRejected
			t.Body = &trimmed
			return newEvent(models.EventReject, actor, now, map[string]any{"reason": trimmed, "at": now}), nil
		case models.ActionComplete:
			t.Status = models.StatusDone
			t.CompletedAt = &now
			return newEvent(models.EventComplete, actor, now, map[string]any{"at": now}), nil
		default:
			return nil, invalidf("invalid action %q", action)
		}
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	otel.RecordTaskOp(ctx, action, string(t.Status))
	if action == models.ActionComplete {
		e.pushCompletion(ctx, t)
	}
	return t, nil
}

// Delete soft-deletes a task. Admin only. Deleting an already-deleted task is
// a no-op: deleted_at keeps its first value and no second event is emitted.
func (e *Engine) Delete(ctx context.Context, actor Actor, id int64) error {
	if err := e.access.requireAdmin(actor); err != nil {
		return err
	}
	_, err := e.store.MutateTask(ctx, id, func(t *store.Task) (*store.TaskEvent, error) {
		if t.DeletedAt != nil {
			return nil, nil
		}
		now := e.now()
		t.DeletedAt = &now
		t.UpdatedAt = now
		return newEvent(models.EventDelete, actor, now, map[string]any{"deleted_at": now}), nil
	})
	if err != nil {
		return mapStoreErr(err)
	}
	otel.RecordTaskOp(ctx, "delete", "")
	return nil
}

// Restore clears deleted_at when the recovery window has not expired. Admin
// only. Restoring a task that is not deleted is a no-op, mirroring Delete.
func (e *Engine) Restore(ctx context.Context, actor Actor, id int64) (*store.Task, error) {
	if err := e.access.requireAdmin(actor); err != nil {
		return nil, err
	}
	t, err := e.store.MutateTask(ctx, id, func(t *store.Task) (*store.TaskEvent, error) {
		if t.DeletedAt == nil {
			return nil, nil
		}
		now := e.now()
		if !e.recovery.allow(*t.DeletedAt, now) {
			return nil, preconditionf("restore window expired")
		}
		t.DeletedAt = nil
		t.UpdatedAt = now
		return newEvent(models.EventRestore, actor, now, map[string]any{"restored_at": now}), nil
	})
	if err != nil {
		return nil, mapStoreErr(err)
	}
	otel.RecordTaskOp(ctx, "restore", string(t.Status))
	return t, nil
}

// Events returns the task's audit trail, newest first. The task may be
// soft-deleted; the trail stays readable for admins and the task's own
// people.
func (e *Engine) Events(ctx context.Context, actor Actor, id int64) ([]store.TaskEvent, error) {
	t, err := e.store.GetTask(ctx, id, true)
	if err != nil {
		return nil, err
	}
	if t == nil {
		return nil, notFoundf("task not found")
	}
	if !e.access.canView(actor, t) {
		return nil, forbiddenf("forbidden")
	}
	return e.store.ListTaskEvents(ctx, id, true)
}

// pushCompletion notifies the external target about a completed task. The
// mutation is already committed; a failed push is logged and absorbed, never
// surfaced or rolled back.
func (e *Engine) pushCompletion(ctx context.Context, t *store.Task) {
	if e.notifier == nil {
		return
	}
	err := e.notifier.Notify(ctx, notify.Completion{
		TaskID:      t.ID,
		Status:      t.Status,
		UpdatedAt:   t.UpdatedAt,
		ExternalRef: t.ExternalRef,
	})
	if err != nil {
		otel.RecordNotifyFailure(ctx)
		e.log.Warn("completion push failed", "task_id", t.ID, "err", err)
	}
}

func mapStoreErr(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return notFoundf("task not found")
	}
	return err
}
