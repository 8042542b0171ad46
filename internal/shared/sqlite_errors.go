// Package shared provides helpers used by more than one package.
//
//nolint:revive // "shared" is an intentional package name for cross-cutting helpers.
package shared

import (
	"errors"
	"strings"
)

// Primary SQLite result codes. Extended codes keep these in the low byte.
const (
	sqliteBusy   = 5
	sqliteLocked = 6
)

// coder matches driver errors that expose the SQLite result code.
type coder interface {
	Code() int
}

// IsSQLiteConflictError reports whether err means another connection holds
// the database or a table lock, so the statement can be retried.
func IsSQLiteConflictError(err error) bool {
	if err == nil {
		return false
	}
	var c coder
	if errors.As(err, &c) {
		switch c.Code() & 0xff {
		case sqliteBusy, sqliteLocked:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked")
}
