package journal

import (
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors, grounded on the teacher's
// internal/storage/sqlite/errors.go sentinel-plus-wrapper convention.
var (
	// ErrConstraintViolation is returned when a record's uniqueness key
	// (path, timestamp) already exists. The timestamp column holds
	// observation_time, or sequence_time when duplicate detection is
	// disabled and for gene-mapping records.
	ErrConstraintViolation = errors.New("constraint violation")

	// ErrNotFound is what wrapDBError maps sql.ErrNoRows to. Load does
	// not return it: replaying a path with no records yields an empty
	// stream and a nil error.
	ErrNotFound = errors.New("not found")
)

// wrapDBError wraps a database error with operation context, converting
// sql.ErrNoRows to ErrNotFound the way the teacher's wrapDBError does.
func wrapDBError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w", op, err)
}

func isConstraintViolation(err error) bool {
	if err == nil {
		return false
	}
	// ncruces/go-sqlite3 and the other common pure-Go/cgo SQLite drivers
	// all report unique-key violations by substring in Error(), there is
	// no portable sentinel across drivers for this.
	msg := err.Error()
	for _, sub := range []string{"UNIQUE constraint failed", "constraint failed: UNIQUE", "SQLITE_CONSTRAINT"} {
		if strings.Contains(msg, sub) {
			return true
		}
	}
	return false
}
