package apperrors

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound = errors.New("not found")
	ErrConflict = errors.New("conflict")
)

// Kind classifies a discovery failure. Callers branch on Kind, never on message text.
type Kind string

const (
	// KindValidation is a malformed request (missing customer or question). Fatal, not retried.
	KindValidation Kind = "validation"
	// KindClassificationDegraded means the classifier failed and a fallback intent was used.
	KindClassificationDegraded Kind = "classification_degraded"
	// KindStepFailure means a pipeline step after classification failed. Fatal for the request.
	KindStepFailure Kind = "step_failure"
	// KindUnreachableJoin means the planner could not connect a required table.
	KindUnreachableJoin Kind = "unreachable_join"
	// KindMappingMiss means no terminology candidate cleared the confidence threshold.
	KindMappingMiss Kind = "mapping_miss"
	// KindTimeout means a deadline owned by the pipeline expired.
	KindTimeout Kind = "timeout"
	// KindCanceled means the caller canceled the request.
	KindCanceled Kind = "canceled"
)

// Error is a discovery error carrying a Kind discriminant.
type Error struct {
	Kind    Kind
	Op      string // Step or operation that failed (e.g., "semantic_search")
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := string(e.Kind)
	if e.Op != "" {
		msg += " [" + e.Op + "]"
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause for errors.Is/As.
func (e *Error) Unwrap() error {
	return e.Cause
}

// New creates a discovery error without a cause.
func New(kind Kind, op, message string) *Error {
	return &Error{Kind: kind, Op: op, Message: message}
}

// Wrap creates a discovery error around a cause.
func Wrap(kind Kind, op string, cause error) *Error {
	return &Error{Kind: kind, Op: op, Cause: cause}
}

// Validationf creates a validation error with a formatted message.
func Validationf(format string, args ...any) *Error {
	return &Error{Kind: KindValidation, Message: fmt.Sprintf(format, args...)}
}

// KindOf returns the Kind of the outermost *Error in the chain, or "" if none.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return ""
}

// IsKind reports whether any *Error in the chain has the given kind.
func IsKind(err error, kind Kind) bool {
	for err != nil {
		var appErr *Error
		if !errors.As(err, &appErr) {
			return false
		}
		if appErr.Kind == kind {
			return true
		}
		err = appErr.Cause
	}
	return false
}
