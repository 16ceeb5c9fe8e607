package sandbox

import (
	"fmt"
	"strconv"
	"time"
)

// TimeoutError reports a run that was killed at its deadline.
type TimeoutError struct {
	Timeout time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("Code execution exceeded %s seconds.", strconv.FormatFloat(e.Timeout.Seconds(), 'f', -1, 64))
}

// RuntimeError carries the script exception, or the worker's stderr tail when
// the worker itself failed.
type RuntimeError struct {
	Trace string
}

func (e *RuntimeError) Error() string {
	if e.Trace == "" {
		return "code execution failed"
	}
	return e.Trace
}
