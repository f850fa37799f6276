package models

// Status is the closed set of task lifecycle states.
type Status string

const (
	StatusNew      Status = "New"
	StatusAssigned Status = "Assigned"
	StatusAccepted Status = "Accepted"
	StatusRejected Status = "Rejected"
	StatusDone     Status = "Done"
)

// Valid reports whether s is one of the known task statuses.
func (s Status) Valid() bool {
	switch s {
	case StatusNew, StatusAssigned, StatusAccepted, StatusRejected, StatusDone:
		return true
	}
	return false
}

func (s Status) String() string { return string(s) }

// Role is an actor role.
type Role string

const (
	RoleAdmin Role = "Admin"
	RoleUser  Role = "User"
)

func (r Role) String() string { return string(r) }

// EventType identifies the kind of mutation recorded in a task event.
type EventType string

const (
	EventEdit     EventType = "Edit"
	EventAssign   EventType = "Assign"
	EventReassign EventType = "Reassign"
	EventDelete   EventType = "Delete"
	EventRestore  EventType = "Restore"
	EventAccept   EventType = "Accept"
	EventReject   EventType = "Reject"
	EventComplete EventType = "Complete"
)

func (t EventType) String() string { return string(t) }

// Status change actions accepted by the status endpoint.
const (
	ActionAccept   = "accept"
	ActionReject   = "reject"
	ActionComplete = "complete"
)

// List scopes.
const (
	ScopeAll = "all"
	ScopeMy  = "my"
)

// Default limits and timeouts.
const (
	DefaultMaxRequestBodyBytes = 1 << 20 // 1 MiB
	DefaultRestoreWindowHours  = 24
	DefaultNotifyTimeoutSecs   = 5
	DefaultSSEChannelBuffer    = 256
	DefaultHistoryDays         = 90
)
