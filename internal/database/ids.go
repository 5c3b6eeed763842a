package database

import (
	"strings"

	"github.com/google/uuid"
)

// ShortIDLength is the length of every entity identifier in the system.
const ShortIDLength = 12

// NewShortID returns a fresh 12-character lowercase hex identifier, the
// first 12 hex digits of a random UUID.
func NewShortID() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")[:ShortIDLength]
}
