package devtool

import (
	"errors"
	"fmt"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
)

// genDetachmentMessage generates protocol messages that mean the target
// context vanished.
func genDetachmentMessage() gopter.Gen {
	return gen.OneConstOf(
		"Cannot find context with specified id",
		"Execution context was destroyed.",
		"Inspected target navigated or closed",
		"Target closed",
		"Session with given id not found.",
		"No session with given id: abc123",
		"WebSocket connection detached",
	)
}

// genScriptFailureMessage generates messages that mean the script itself
// failed and must not be retried.
func genScriptFailureMessage() gopter.Gen {
	return gen.OneConstOf(
		"ReferenceError: foo is not defined",
		"TypeError: cannot read property 'id' of undefined",
		"SyntaxError: unexpected token",
		"Evaluation exceeded stack budget",
		"Object reference chain is too long",
	)
}

func TestDetachmentClassification(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("detachment messages classify as detachment", prop.ForAll(
		func(msg string) bool {
			err := classifyProtocolError("Runtime.evaluate", msg)
			return errors.Is(err, ErrContextDetached) && IsDetachment(err)
		},
		genDetachmentMessage(),
	))

	properties.Property("script failure messages never classify as detachment", prop.ForAll(
		func(msg string) bool {
			err := classifyProtocolError("Runtime.evaluate", msg)
			return !errors.Is(err, ErrContextDetached) && !IsDetachment(err)
		},
		genScriptFailureMessage(),
	))

	properties.Property("eval throws are never detachment, whatever the message", prop.ForAll(
		func(msg string) bool {
			err := &EvalError{Message: msg}
			return !IsDetachment(err) && IsEvalThrow(err)
		},
		gen.AnyString(),
	))

	properties.TestingRun(t)
}

func TestIsDetachmentWrappedErrors(t *testing.T) {
	wrapped := fmt.Errorf("probing worker: %w", ErrContextDetached)
	if !IsDetachment(wrapped) {
		t.Fatal("wrapped detachment errors must classify as detachment")
	}
	if IsDetachment(nil) {
		t.Fatal("nil is not a detachment")
	}
	if IsDetachment(errors.New("disk full")) {
		t.Fatal("unrelated errors are not detachments")
	}
}
