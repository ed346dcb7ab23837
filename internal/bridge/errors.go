// Package bridge runs caller-supplied code inside the host process's plugin
// sandbox, despite the sandbox not being reachable through ordinary context
// enumeration.
package bridge

import "errors"

// Bridge errors. The messages state the user-visible precondition plainly
// rather than exposing protocol detail.
var (
	// ErrNoExecutionContext is returned when no worker exposes the sandbox
	// marker after a full enumeration.
	ErrNoExecutionContext = errors.New("no sandbox execution context found: make sure the host application is running with the plugin loaded")

	// ErrNoPluginUI is returned when no frame exposes the companion UI
	// entry point after a full enumeration.
	ErrNoPluginUI = errors.New("plugin UI not found: make sure the plugin's companion window is open")

	// ErrEvaluationTimeout is returned when a call exceeds its deadline.
	// Cancellation is best-effort: the sandbox-side operation may still be
	// running.
	ErrEvaluationTimeout = errors.New("evaluation timed out")
)
