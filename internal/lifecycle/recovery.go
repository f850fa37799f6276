package lifecycle

import "time"

// recoveryPolicy gates restoration of a soft-deleted task by elapsed time.
// The window is process-wide configuration, not per-task.
type recoveryPolicy struct {
	window time.Duration
}

// allow reports whether a task deleted at deletedAt may still be restored at
// now. The boundary is inclusive: a restore exactly at the window edge
// succeeds.
func (p recoveryPolicy) allow(deletedAt, now time.Time) bool {
	return now.Sub(deletedAt) <= p.window
}
