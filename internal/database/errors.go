package database

import "errors"

var (
	// ErrNotFound is returned when a requested row does not exist.
	ErrNotFound = errors.New("not found")

	// ErrDuplicateRecord is returned when an attendance record already
	// exists for a (task, member) pair.
	ErrDuplicateRecord = errors.New("attendance record already exists")

	// ErrAllocationExhausted is returned when short ID allocation keeps
	// colliding after the maximum number of attempts.
	ErrAllocationExhausted = errors.New("id allocation exhausted retries")
)
