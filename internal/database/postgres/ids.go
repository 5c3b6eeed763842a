package postgres

import (
	"context"
	"errors"
	"strings"

	"github.com/lib/pq"

	"github.com/rollcall-io/rollcall/internal/database"
)

const maxIDAttempts = 5

const uniqueViolation = pq.ErrorCode("23505")

// allocateID generates short IDs and calls insert until one sticks.
// A primary key collision triggers a retry with a new ID; after
// maxIDAttempts collisions it gives up with ErrAllocationExhausted.
// Any other insert error is returned as-is.
func allocateID(ctx context.Context, insert func(ctx context.Context, id string) error) (string, error) {
	for attempt := 0; attempt < maxIDAttempts; attempt++ {
		id := database.NewShortID()
		err := insert(ctx, id)
		if err == nil {
			return id, nil
		}
		if isPrimaryKeyViolation(err) {
			continue
		}
		return "", err
	}
	return "", database.ErrAllocationExhausted
}

// isPrimaryKeyViolation reports whether err is a unique violation on a
// table's primary key, as opposed to a secondary unique constraint.
func isPrimaryKeyViolation(err error) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && strings.HasSuffix(pqErr.Constraint, "_pkey")
}

// isUniqueViolation reports whether err is a unique violation on the named
// constraint.
func isUniqueViolation(err error, constraint string) bool {
	var pqErr *pq.Error
	if !errors.As(err, &pqErr) {
		return false
	}
	return pqErr.Code == uniqueViolation && pqErr.Constraint == constraint
}
