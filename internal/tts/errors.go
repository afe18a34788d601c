package tts

import (
	"context"
	"errors"
	"fmt"
)

// Common errors. Engines wrap these so that KindOf can classify failures.
var (
	// ErrSessionConflict indicates the engine rejected an overlapping call.
	ErrSessionConflict = errors.New("inference session busy")

	// ErrContextLost indicates the engine lost its execution context.
	ErrContextLost = errors.New("execution context lost")

	// ErrMalformedInput indicates the engine rejected the text as malformed or too large.
	ErrMalformedInput = errors.New("input rejected by engine")

	// ErrBackendUnavailable indicates no backend could be initialized.
	ErrBackendUnavailable = errors.New("no inference backend available")

	// ErrTimeout indicates a generate call exceeded its deadline.
	ErrTimeout = errors.New("generation timed out")

	// ErrConsumer indicates the audio sink failed to consume a unit.
	ErrConsumer = errors.New("audio sink failed")

	// ErrStopped indicates the session was stopped by the user.
	ErrStopped = errors.New("generation stopped")

	// ErrEmptyText indicates there is nothing to speak.
	ErrEmptyText = errors.New("text is empty")

	// ErrNotInitialized indicates Generate was called before Initialize.
	ErrNotInitialized = errors.New("engine not initialized")
)

// Kind classifies a failure for the retry ladder.
type Kind int

const (
	// KindTransient failures are retried on the same backend, then demoted.
	KindTransient Kind = iota
	// KindMalformedInput failures are retried with smaller pieces of text.
	KindMalformedInput
	// KindTimeout failures are retried like transient ones, then skipped.
	KindTimeout
	// KindBackendUnavailable is fatal when it happens during initialization.
	KindBackendUnavailable
	// KindConsumer ends the job.
	KindConsumer
)

func (k Kind) String() string {
	switch k {
	case KindTransient:
		return "transient"
	case KindMalformedInput:
		return "malformed_input"
	case KindTimeout:
		return "timeout"
	case KindBackendUnavailable:
		return "backend_unavailable"
	case KindConsumer:
		return "consumer"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Error is a classified error with additional context.
type Error struct {
	Kind    Kind
	Code    string
	Message string
	Cause   error
	Context map[string]interface{}
}

// NewError creates a classified error.
func NewError(kind Kind, code, message string, cause error) *Error {
	return &Error{
		Kind:    kind,
		Code:    code,
		Message: message,
		Cause:   cause,
		Context: make(map[string]interface{}),
	}
}

// Error implements the error interface.
func (e *Error) Error() string {
	code := e.Code
	if code == "" {
		code = e.Kind.String()
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", code, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", code, e.Message)
}

// Unwrap returns the underlying error.
func (e *Error) Unwrap() error {
	return e.Cause
}

// WithContext adds context to the error.
func (e *Error) WithContext(key string, value interface{}) *Error {
	if e.Context == nil {
		e.Context = make(map[string]interface{})
	}
	e.Context[key] = value
	return e
}

// IsFatal returns true if the error should end the job.
func (e *Error) IsFatal() bool {
	return e.Kind == KindBackendUnavailable || e.Kind == KindConsumer
}

// IsRetryable returns true if the same text may succeed on another attempt.
func (e *Error) IsRetryable() bool {
	return e.Kind == KindTransient || e.Kind == KindTimeout
}

// KindOf classifies err. Unknown errors are treated as transient.
func KindOf(err error) Kind {
	var te *Error
	if errors.As(err, &te) {
		return te.Kind
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded), errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrMalformedInput):
		return KindMalformedInput
	case errors.Is(err, ErrBackendUnavailable):
		return KindBackendUnavailable
	case errors.Is(err, ErrConsumer):
		return KindConsumer
	default:
		return KindTransient
	}
}

// Malformed wraps cause as a malformed input error.
func Malformed(message string, cause error) *Error {
	return NewError(KindMalformedInput, "MALFORMED_INPUT", message, errors.Join(ErrMalformedInput, cause))
}

// Transient wraps cause as a transient engine error.
func Transient(message string, cause error) *Error {
	return NewError(KindTransient, "ENGINE_FAILURE", message, cause)
}
