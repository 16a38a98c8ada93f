package resource

import (
	"errors"
	"fmt"
)

// Error codes shared by the graph builder and the convergence engine.
const (
	// ErrCodeDuplicateIdentity is raised when the same kind[title] is
	// declared twice. Fatal at graph-build time.
	ErrCodeDuplicateIdentity = "DUPLICATE_IDENTITY"

	// ErrCodeUnresolvedReference is raised when a declaration references
	// an identity that was never declared. Fatal at graph-build time.
	ErrCodeUnresolvedReference = "UNRESOLVED_REFERENCE"

	// ErrCodeCycleDetected is raised when the edge set contains a cycle.
	// Fatal at graph-build time.
	ErrCodeCycleDetected = "CYCLE_DETECTED"

	// ErrCodeProbeFailed is raised when reading a resource's actual
	// state fails. Fatal to the resource's subtree only.
	ErrCodeProbeFailed = "PROBE_FAILED"

	// ErrCodeApplyFailed is raised when transitioning a resource to its
	// desired state fails. Fatal to the resource's subtree only.
	ErrCodeApplyFailed = "APPLY_FAILED"

	// ErrCodeValidation is raised for malformed declarations.
	ErrCodeValidation = "VALIDATION_ERROR"

	// ErrCodePolicyDenied is raised when a policy gate rejects a run.
	ErrCodePolicyDenied = "POLICY_DENIED"

	// ErrCodeInternal is raised for engine bugs and invariant breaches.
	ErrCodeInternal = "INTERNAL_ERROR"
)

// Error is a classified convergence error with resource context.
type Error struct {
	// Code identifies the error kind for programmatic handling.
	Code string `json:"code"`

	// Message is the human-readable error message.
	Message string `json:"message"`

	// Ref is the resource the error relates to, if any.
	Ref Ref `json:"ref,omitempty"`

	// Op is the operation being performed when the error occurred.
	Op string `json:"op,omitempty"`

	// Err is the underlying error.
	Err error `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	msg := fmt.Sprintf("[%s] %s", e.Code, e.Message)
	if !e.Ref.IsZero() {
		msg += fmt.Sprintf(" (resource=%s", e.Ref)
		if e.Op != "" {
			msg += fmt.Sprintf(", op=%s", e.Op)
		}
		msg += ")"
	}
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

// Unwrap returns the underlying error for error chain inspection.
func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches errors by code.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// NewError creates a classified error.
func NewError(code, message string, err error) *Error {
	return &Error{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// WithRef adds resource context to an error.
func (e *Error) WithRef(ref Ref) *Error {
	e.Ref = ref
	return e
}

// WithOp adds operation context to an error.
func (e *Error) WithOp(op string) *Error {
	e.Op = op
	return e
}

// IsCode reports whether err carries the given classification code.
func IsCode(err error, code string) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Code == code
	}
	return false
}

// CodeOf returns the classification code carried by err, or
// ErrCodeInternal when err is not classified.
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ErrCodeInternal
}

// IsBuildError reports whether err is fatal at graph-build time.
func IsBuildError(err error) bool {
	return IsCode(err, ErrCodeDuplicateIdentity) ||
		IsCode(err, ErrCodeUnresolvedReference) ||
		IsCode(err, ErrCodeCycleDetected)
}
