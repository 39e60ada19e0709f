// Package orcherr defines the error taxonomy shared by every core component.
package orcherr

import (
	"errors"
	"fmt"
)

// Kind classifies an error the way callers need to branch on it, independent
// of the message text.
type Kind string

const (
	KindValidation           Kind = "validation_error"
	KindNotFound             Kind = "not_found"
	KindIllegalTransition    Kind = "illegal_transition"
	KindConcurrencyReject    Kind = "concurrency_rejected"
	KindImageNotAllowed      Kind = "image_not_allowed"
	KindNoGPUAvailable       Kind = "no_gpu_available"
	KindNoHostAvailable      Kind = "no_host_available"
	KindTransientRuntime     Kind = "transient_runtime_error"
	KindGuardrailViolation   Kind = "guardrail_violation"
	KindTimeout              Kind = "timeout"
	KindPlanGenerationFailed Kind = "plan_generation_failed"
)

// Error is a taxonomy-tagged error. Kind lets callers branch with errors.As
// instead of string matching; the wrapped cause is preserved for logging.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is lets errors.Is(err, orcherr.New(kind, "")) match on Kind alone.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

// Sentinels for errors.Is comparisons where no message/cause is needed.
var (
	ErrValidation           = New(KindValidation, "")
	ErrNotFound             = New(KindNotFound, "")
	ErrIllegalTransition    = New(KindIllegalTransition, "")
	ErrConcurrencyReject    = New(KindConcurrencyReject, "")
	ErrImageNotAllowed      = New(KindImageNotAllowed, "")
	ErrNoGPUAvailable       = New(KindNoGPUAvailable, "")
	ErrNoHostAvailable      = New(KindNoHostAvailable, "")
	ErrTransientRuntime     = New(KindTransientRuntime, "")
	ErrGuardrailViolation   = New(KindGuardrailViolation, "")
	ErrTimeout              = New(KindTimeout, "")
	ErrPlanGenerationFailed = New(KindPlanGenerationFailed, "")
)

// KindOf extracts the Kind of err if it is (or wraps) an *Error.
func KindOf(err error) (Kind, bool) {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind, true
	}
	return "", false
}
