package storage

import (
	"context"
	"errors"
	"strings"
)

// TransientClassifier decides whether an error is worth retrying.
type TransientClassifier interface {
	IsTransient(err error) bool
}

// ClassifierFunc adapts a function to TransientClassifier.
type ClassifierFunc func(err error) bool

// IsTransient calls f(err).
func (f ClassifierFunc) IsTransient(err error) bool { return f(err) }

// transientMarkers are substrings of driver errors caused by lock contention,
// I/O hiccups or dropped connections.
var transientMarkers = []string{
	"database is locked",
	"database table is locked",
	"sqlite_busy",
	"disk i/o error",
	"could not serialize access",
	"deadlock detected",
	"connection refused",
	"connection reset",
	"broken pipe",
	"bad connection",
	"timeout",
}

// DefaultClassifier recognises SQLite busy/locked and I/O errors, Postgres
// serialization and connection failures, and context deadlines.
// Validation errors are never transient.
type DefaultClassifier struct{}

// IsTransient implements TransientClassifier.
func (DefaultClassifier) IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrInvalidInput) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	msg := strings.ToLower(err.Error())
	for _, m := range transientMarkers {
		if strings.Contains(msg, m) {
			return true
		}
	}
	return false
}
