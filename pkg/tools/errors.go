package tools

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnknownTool is returned by Decode and Dispatch for names outside the
// catalogue. The turn treats it as "no tool call".
var ErrUnknownTool = errors.New("tools: unknown tool")

// ValidationError reports an action_input that does not fit the tool's schema.
type ValidationError struct {
	Tool   string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid arguments for %s: %s", e.Tool, e.Reason)
}

// ExecutionError wraps a failure while running a tool.
type ExecutionError struct {
	Tool string
	Err  error
}

func (e *ExecutionError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Tool, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}
