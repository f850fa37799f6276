package lifecycle

import (
	"sort"
	"strings"

	"github.com/vladponakov/simple-task-pro-v2/internal/store"
	"github.com/vladponakov/simple-task-pro-v2/pkg/models"
)

// Actor is the authenticated identity performing an operation. The transport
// layer resolves it before the engine is called; the engine trusts it.
type Actor struct {
	ID   int64
	Role models.Role
}

// IsAdmin reports whether the actor holds the Admin role.
func (a Actor) IsAdmin() bool { return a.Role == models.RoleAdmin }

// editableByAssignee is the field whitelist for non-admin edits. The reason
// alias is rewritten into body before this check, so both names count as the
// same field.
var editableByAssignee = map[string]bool{
	"checklist": true,
	"address":   true,
	"reason":    true,
	"due_at":    true,
	"title":     true,
	"body":      true,
}

// accessPolicy decides, given actor role and task ownership, which fields and
// actions are permitted. Admins are unrestricted; everyone else needs a
// relationship to the task.
type accessPolicy struct{}

func isAssignee(t *store.Task, a Actor) bool {
	return t.AssigneeUserID != nil && *t.AssigneeUserID == a.ID
}

func isCreator(t *store.Task, a Actor) bool {
	return t.CreatedBy != nil && *t.CreatedBy == a.ID
}

// canView allows admins, the current assignee, and the creator.
func (accessPolicy) canView(a Actor, t *store.Task) bool {
	return a.IsAdmin() || isAssignee(t, a) || isCreator(t, a)
}

// checkEdit authorizes an edit of the named fields. Non-admins must be the
// assignee or the creator, and every field must be on the whitelist; a single
// disallowed field rejects the whole patch.
func (accessPolicy) checkEdit(a Actor, t *store.Task, fields []string) error {
	if a.IsAdmin() {
		return nil
	}
	if !isAssignee(t, a) && !isCreator(t, a) {
		return forbiddenf("forbidden")
	}
	var disallowed []string
	for _, f := range fields {
		if !editableByAssignee[f] {
			disallowed = append(disallowed, f)
		}
	}
	if len(disallowed) > 0 {
		sort.Strings(disallowed)
		return forbiddenf("fields not allowed for user: %s", strings.Join(disallowed, ", "))
	}
	return nil
}

// checkStatusChange authorizes a status action: admin or current assignee
// only. Being the creator does not suffice.
func (accessPolicy) checkStatusChange(a Actor, t *store.Task) error {
	if a.IsAdmin() || isAssignee(t, a) {
		return nil
	}
	return forbiddenf("forbidden")
}

// requireAdmin gates assign, delete, restore, and create.
func (accessPolicy) requireAdmin(a Actor) error {
	if a.IsAdmin() {
		return nil
	}
	return forbiddenf("forbidden")
}
