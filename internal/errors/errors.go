// Package errors provides coded application errors shared by every layer of
// the service. Repositories wrap store failures, services raise domain codes,
// and the handler layer maps codes to transport statuses.
package errors

import (
	stderrors "errors"
	"fmt"
)

// ErrCode classifies an application error.
type ErrCode string

const (
	ErrCodeInternal              ErrCode = "internal"
	ErrCodeNotFound              ErrCode = "not_found"
	ErrCodeInvalidInput          ErrCode = "invalid_input"
	ErrCodeConflict              ErrCode = "conflict"
	ErrCodeUnauthenticated       ErrCode = "unauthenticated"
	ErrCodeAccessDenied          ErrCode = "access_denied"
	ErrCodeApprovalPending       ErrCode = "approval_pending"
	ErrCodeWorkflowConfiguration ErrCode = "workflow_configuration"
	ErrCodeTransientStore        ErrCode = "transient_store"
)

// Error is a coded error with an optional cause.
type Error struct {
	Code    ErrCode
	Message string
	Field   string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.Err }

// New creates a coded error.
func New(code ErrCode, message string) error {
	return &Error{Code: code, Message: message}
}

// Wrap attaches a code and message to an underlying error.
// Wrapping nil returns nil.
func Wrap(err error, code ErrCode, message string) error {
	if err == nil {
		return nil
	}
	return &Error{Code: code, Message: message, Err: err}
}

// NotFound reports a missing resource of the given kind.
func NotFound(kind, id string) error {
	return &Error{Code: ErrCodeNotFound, Message: fmt.Sprintf("%s %q not found", kind, id)}
}

// InvalidInput reports a validation failure on a named field.
func InvalidInput(field, message string) error {
	return &Error{Code: ErrCodeInvalidInput, Message: message, Field: field}
}

// Conflict reports a state transition that lost a race or is no longer valid.
func Conflict(message string) error {
	return &Error{Code: ErrCodeConflict, Message: message}
}

// AuthenticationRequired is returned when the caller has no valid session.
func AuthenticationRequired() error {
	return &Error{Code: ErrCodeUnauthenticated, Message: "authentication required"}
}

// AccessDenied is returned when an authenticated caller is not authorized.
func AccessDenied(message string) error {
	return &Error{Code: ErrCodeAccessDenied, Message: message}
}

// ApprovalPending is returned when a mutation targets an entity that still
// has unresolved approval requests.
func ApprovalPending(entityType, entityID string) error {
	return &Error{
		Code:    ErrCodeApprovalPending,
		Message: fmt.Sprintf("%s %s is awaiting approval", entityType, entityID),
	}
}

// WorkflowConfiguration reports an approval rule that cannot be resolved to an approver.
func WorkflowConfiguration(message string) error {
	return &Error{Code: ErrCodeWorkflowConfiguration, Message: message}
}

// Store wraps a persistence failure.
func Store(err error, message string) error {
	return Wrap(err, ErrCodeTransientStore, message)
}

// CodeOf returns the code of the first coded error in err's chain,
// or ErrCodeInternal when there is none.
func CodeOf(err error) ErrCode {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// HasCode reports whether err carries the given code.
func HasCode(err error, code ErrCode) bool {
	return err != nil && CodeOf(err) == code
}

// Is is errors.Is from the standard library.
func Is(err, target error) bool { return stderrors.Is(err, target) }

// As is errors.As from the standard library.
func As(err error, target any) bool { return stderrors.As(err, target) }
