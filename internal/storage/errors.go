package storage

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrNotFound indicates that the requested record was not found.
	// Read paths return nil/false instead; mutations on a missing id wrap it.
	ErrNotFound = errors.New("record not found")

	// ErrInvalidInput indicates that the input parameters are invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrInvalidArgument is returned when an argument is outside its accepted
	// range, before any query executes (e.g. 1 or 6 concepts).
	ErrInvalidArgument = fmt.Errorf("%w: argument out of range", ErrInvalidInput)

	// ErrVectorUnavailable reports that the vector side of the store is not
	// usable. Callers fall back to keyword search.
	ErrVectorUnavailable = errors.New("vector search unavailable")
)

// DimensionMismatchError is returned when an embedding's length differs from
// the store's configured dimension. No row is written when it is returned.
type DimensionMismatchError struct {
	Expected int
	Actual   int
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("embedding dimension mismatch: expected %d, got %d", e.Expected, e.Actual)
}

// Is lets errors.Is(err, ErrInvalidInput) match dimension mismatches.
func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrInvalidInput
}

// CheckDimension returns a *DimensionMismatchError when len(vec) != expected.
func CheckDimension(vec []float64, expected int) error {
	if len(vec) != expected {
		return &DimensionMismatchError{Expected: expected, Actual: len(vec)}
	}
	return nil
}

// SchemaMigrationError reports a failed migration batch. The batch was rolled
// back; the schema is still at From.
type SchemaMigrationError struct {
	From  int
	To    int
	Cause error
}

func (e *SchemaMigrationError) Error() string {
	return fmt.Sprintf("migrations: failed to migrate from v%d to v%d: %v", e.From, e.To, e.Cause)
}

func (e *SchemaMigrationError) Unwrap() error { return e.Cause }

// IntegrityViolationError carries the findings of an integrity scan that
// found orphaned or missing vectors.
type IntegrityViolationError struct {
	OrphanedVectors []int64
	MissingVectors  []int64
}

func (e *IntegrityViolationError) Error() string {
	return fmt.Sprintf("integrity violation: %d orphaned vectors, %d missing vectors",
		len(e.OrphanedVectors), len(e.MissingVectors))
}

// BatchDeleteError is returned by an atomic batch delete that rolled back.
type BatchDeleteError struct {
	FailedIDs []int64
	Cause     error
}

func (e *BatchDeleteError) Error() string {
	ids := make([]string, len(e.FailedIDs))
	for i, id := range e.FailedIDs {
		ids[i] = fmt.Sprint(id)
	}
	return fmt.Sprintf("batch delete rolled back (failed ids: %s): %v", strings.Join(ids, ","), e.Cause)
}

func (e *BatchDeleteError) Unwrap() error { return e.Cause }

// StoreError wraps an underlying storage failure with the operation and the
// offending record so that a retry layer can decide what to do.
type StoreError struct {
	Op   string
	ID   int64
	Path string
	Err  error
}

func (e *StoreError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	if e.ID != 0 {
		fmt.Fprintf(&b, " id=%d", e.ID)
	}
	if e.Path != "" {
		fmt.Fprintf(&b, " path=%s", e.Path)
	}
	b.WriteString(": ")
	b.WriteString(e.Err.Error())
	return b.String()
}

func (e *StoreError) Unwrap() error { return e.Err }

// IsAlreadyExists reports whether err is a "duplicate column" or
// "already exists" failure, which idempotent DDL treats as success.
func IsAlreadyExists(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "duplicate column") || strings.Contains(msg, "already exists")
}
