package storage

import (
	"errors"
	"regexp"
	"strings"

	"github.com/google/uuid"
)

// ErrInvalidIdentifier is returned when a scan id does not match the
// internally generated token format and so must not reach SQL text.
var ErrInvalidIdentifier = errors.New("invalid scan identifier")

// Scan ids double as queue table names, so they are restricted to this shape.
var scanIDPattern = regexp.MustCompile(`^v_[0-9a-f]{32}$`)

// NewScanID generates a scan identifier: "v_" followed by 32 hex characters
func NewScanID() string {
	return "v_" + strings.ReplaceAll(uuid.NewString(), "-", "")
}

// ValidScanID reports whether id has the generated token format
func ValidScanID(id string) bool {
	return scanIDPattern.MatchString(id)
}

// queueTable returns the quoted queue table name for scanID
func queueTable(scanID string) (string, error) {
	if !ValidScanID(scanID) {
		return "", ErrInvalidIdentifier
	}
	return `"` + scanID + `"`, nil
}
