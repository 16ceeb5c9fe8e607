package agent

import "fmt"

// UpstreamError wraps a failed model call. It ends the turn with the apology.
type UpstreamError struct {
	Err error
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("model call failed: %v", e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}
