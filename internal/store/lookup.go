package store

import (
	"errors"

	"go.uber.org/zap"
)

// ErrorReporter receives storage errors that the lookup surface swallows.
type ErrorReporter interface {
	ReportStorageError(operation string, err error)
}

// ZapReporter logs swallowed storage errors.
type ZapReporter struct {
	logger *zap.Logger
}

// NewZapReporter constructs a reporter; a nil logger discards reports.
func NewZapReporter(logger *zap.Logger) *ZapReporter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ZapReporter{logger: logger}
}

// ReportStorageError logs the error with its operation name.
func (reporter *ZapReporter) ReportStorageError(operation string, err error) {
	reporter.logger.Error("storage lookup failed",
		zap.String("code", "store.lookup_failed"),
		zap.String("operation", operation),
		zap.Error(err))
}

// Lookup collapses a lookup result to (value, found). Errors other than
// ErrNotFound are reported before being treated as absence.
func Lookup[T any](reporter ErrorReporter, operation string, value T, err error) (T, bool) {
	if err == nil {
		return value, true
	}
	var zero T
	if !errors.Is(err, ErrNotFound) && reporter != nil {
		reporter.ReportStorageError(operation, err)
	}
	return zero, false
}

// Exists collapses an existence check to a boolean, reporting failures.
func Exists(reporter ErrorReporter, operation string, found bool, err error) bool {
	if err != nil {
		if reporter != nil {
			reporter.ReportStorageError(operation, err)
		}
		return false
	}
	return found
}

// List returns values, or an empty slice after reporting a failed listing.
func List[T any](reporter ErrorReporter, operation string, values []T, err error) []T {
	if err != nil {
		if reporter != nil {
			reporter.ReportStorageError(operation, err)
		}
		return []T{}
	}
	if values == nil {
		return []T{}
	}
	return values
}
