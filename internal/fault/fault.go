// Package fault classifies the errors that can end a provisioning run and
// carries the payload recorded for a failed stage.
package fault

import (
	"errors"
	"fmt"
)

// Error classes reported to the invoker. Every error that aborts a run wraps
// exactly one of these.
var (
	// ErrConfiguration is a pre-flight error; no remote call has been made.
	ErrConfiguration = errors.New("configuration error")

	// ErrSubmission means a submit call returned no usable handle.
	ErrSubmission = errors.New("submission error")

	// ErrTerminalFailure means a poll resolved to a known failure status.
	ErrTerminalFailure = errors.New("terminal failure")

	// ErrDeadlineExceeded means a stage ran out of its allotted time.
	ErrDeadlineExceeded = errors.New("deadline exceeded")

	// ErrMatchNotFound means no custom image entry matched the image being versioned.
	ErrMatchNotFound = errors.New("custom image not found")
)

// Kind names used in the user-visible failure message.
const (
	KindConfiguration    = "ConfigurationError"
	KindSubmission       = "SubmissionError"
	KindTerminalFailure  = "TerminalFailureError"
	KindDeadlineExceeded = "DeadlineExceededError"
	KindMatchNotFound    = "MatchNotFoundError"
	KindInternal         = "InternalError"
)

// Kind returns the class name of err, or KindInternal if err wraps none of
// the known classes.
func Kind(err error) string {
	switch {
	case errors.Is(err, ErrConfiguration):
		return KindConfiguration
	case errors.Is(err, ErrSubmission):
		return KindSubmission
	case errors.Is(err, ErrTerminalFailure):
		return KindTerminalFailure
	case errors.Is(err, ErrDeadlineExceeded):
		return KindDeadlineExceeded
	case errors.Is(err, ErrMatchNotFound):
		return KindMatchNotFound
	default:
		return KindInternal
	}
}

// Message formats err as "<Kind> <description>".
func Message(err error) string {
	if err == nil {
		return ""
	}
	return fmt.Sprintf("%s %s", Kind(err), err.Error())
}

// Configf returns a configuration error with a formatted description.
func Configf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}

// payloadError attaches a stage failure payload to an error.
type payloadError struct {
	err     error
	payload any
}

func (e *payloadError) Error() string { return e.err.Error() }
func (e *payloadError) Unwrap() error { return e.err }

// WithPayload returns err annotated with the payload that should be recorded
// for the failed stage. A nil err stays nil.
func WithPayload(err error, payload any) error {
	if err == nil {
		return nil
	}
	return &payloadError{err: err, payload: payload}
}

// Payload returns the outermost payload attached to err by WithPayload.
func Payload(err error) (any, bool) {
	var pe *payloadError
	if errors.As(err, &pe) {
		return pe.payload, true
	}
	return nil, false
}
