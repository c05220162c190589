package db

import (
	"fmt"
	"strings"
)

// StoreTransientError marks contention-class store failures worth retrying.
type StoreTransientError struct {
	Err error
}

func (e *StoreTransientError) Error() string { return fmt.Sprintf("transient store error: %v", e.Err) }
func (e *StoreTransientError) Unwrap() error { return e.Err }

// StoreFatalError marks store failures that abort the ingestion.
type StoreFatalError struct {
	Err error
}

func (e *StoreFatalError) Error() string { return fmt.Sprintf("fatal store error: %v", e.Err) }
func (e *StoreFatalError) Unwrap() error { return e.Err }

// IsTransient reports whether err looks like SQLite lock contention. The
// modernc driver surfaces SQLITE_BUSY/SQLITE_LOCKED as message text.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") ||
		strings.Contains(msg, "database table is locked") ||
		strings.Contains(msg, "SQLITE_BUSY") ||
		strings.Contains(msg, "SQLITE_LOCKED")
}

// IsScanConflict reports whether err is the scan primary key rejecting a
// second insert for the same reporting period.
func IsScanConflict(err error) bool {
	if err == nil {
		return false
	}
	return strings.Contains(err.Error(), "UNIQUE constraint failed: scan.scan_id")
}

// Classify wraps a store error as transient or fatal.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if IsTransient(err) {
		return &StoreTransientError{Err: err}
	}
	return &StoreFatalError{Err: err}
}
