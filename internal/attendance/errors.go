package attendance

import "errors"

var (
	// ErrTaskNotFound is returned when no task row carries the requested task ID.
	ErrTaskNotFound = errors.New("task not found")

	// ErrTaskClosed is returned when a submission targets a closed task.
	ErrTaskClosed = errors.New("task is closed")

	// ErrGroupNotFound is returned when a requested group does not exist.
	ErrGroupNotFound = errors.New("group not found")

	// ErrNoTargetGroups is returned when a publish request resolves to no
	// existing groups.
	ErrNoTargetGroups = errors.New("no existing groups to publish to")

	// ErrInvalidInput is returned for requests that fail validation before
	// touching storage.
	ErrInvalidInput = errors.New("invalid input")
)
