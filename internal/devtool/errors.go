package devtool

import (
	"errors"
	"fmt"
	"strings"
)

// Devtool errors.
var (
	// ErrContextDetached is returned when a context became unusable between
	// discovery and use. Callers may re-enumerate and retry.
	ErrContextDetached = errors.New("execution context detached")

	// ErrSessionClosed is returned when the debug connection is gone.
	ErrSessionClosed = errors.New("debug session closed")
)

// EvalError is a script error thrown inside the evaluated context. It is
// never retried; the original message is surfaced to the caller.
type EvalError struct {
	Message string
}

// Error implements the error interface.
func (e *EvalError) Error() string {
	return fmt.Sprintf("evaluation threw: %s", e.Message)
}

// Protocol error messages that indicate the target context detached rather
// than the script failing.
var detachmentErrorPatterns = []string{
	"cannot find context with specified id",
	"context was destroyed",
	"execution context was destroyed",
	"inspected target navigated or closed",
	"target closed",
	"session with given id not found",
	"no session with given id",
	"detached",
}

// IsDetachment reports whether an error is a detachment-class failure: the
// context vanished out from under the call, as opposed to the script failing.
func IsDetachment(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrContextDetached) {
		return true
	}
	var evalErr *EvalError
	if errors.As(err, &evalErr) {
		return false
	}

	msg := strings.ToLower(err.Error())
	for _, pattern := range detachmentErrorPatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// IsEvalThrow reports whether an error is a sandbox-side script throw.
func IsEvalThrow(err error) bool {
	var evalErr *EvalError
	return errors.As(err, &evalErr)
}

// classifyProtocolError wraps a protocol-level error response, tagging
// detachment-class messages so callers can match with errors.Is.
func classifyProtocolError(method, message string) error {
	lower := strings.ToLower(message)
	for _, pattern := range detachmentErrorPatterns {
		if strings.Contains(lower, pattern) {
			return fmt.Errorf("%w: %s: %s", ErrContextDetached, method, message)
		}
	}
	return fmt.Errorf("%s: %s", method, message)
}
