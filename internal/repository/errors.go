package repository

import "errors"

// Common repository errors
var (
	// ErrTaskNotFound is returned when a task does not exist or belongs
	// to a different owner. The two cases are deliberately not
	// distinguishable to callers.
	ErrTaskNotFound = errors.New("task not found")

	// ErrDuplicateParent is returned when a task with the same
	// parent_task_id already exists. The unique index on parent_task_id
	// makes this the hard guarantee behind recurrence idempotency.
	ErrDuplicateParent = errors.New("task with this parent already exists")
)
