// Package sandbox runs model-generated JavaScript in a short-lived worker
// process. The worker is the current executable started with WorkerEnv set;
// binaries that use Executor must call MaybeRunWorker first thing in main.
package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/go-go-golems/tablechat/pkg/tabular"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/semaphore"
)

const (
	DefaultTimeout       = 7 * time.Second
	DefaultMaxConcurrent = 4

	stderrTail = 2048
)

// Binding is one captured top-level value. Tables are filled for DataFrames
// and arrays of records; everything else is carried as JSON.
type Binding struct {
	Table *tabular.Table  `json:"table,omitempty"`
	Value json.RawMessage `json:"value,omitempty"`
}

type Options struct {
	// Executable defaults to os.Executable().
	Executable    string
	Timeout       time.Duration
	MaxConcurrent int64
}

type Executor struct {
	executable string
	timeout    time.Duration
	sem        *semaphore.Weighted
}

func NewExecutor(opts Options) (*Executor, error) {
	exe := strings.TrimSpace(opts.Executable)
	if exe == "" {
		p, err := os.Executable()
		if err != nil {
			return nil, errors.Wrap(err, "sandbox: resolve executable")
		}
		exe = p
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultTimeout
	}
	if opts.MaxConcurrent <= 0 {
		opts.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Executor{
		executable: exe,
		timeout:    opts.Timeout,
		sem:        semaphore.NewWeighted(opts.MaxConcurrent),
	}, nil
}

// DefaultTimeout returns the deadline used when Run is given none.
func (e *Executor) DefaultTimeout() time.Duration {
	return e.timeout
}

// Run executes code in a fresh worker and returns the requested bindings.
// An empty capture set returns every top-level declaration.
func (e *Executor) Run(ctx context.Context, code string, capture []string, timeout time.Duration) (map[string]Binding, error) {
	if timeout <= 0 {
		timeout = e.timeout
	}
	if err := e.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(err, "sandbox: acquire slot")
	}
	defer e.sem.Release(1)

	req, err := json.Marshal(workerRequest{Code: code, Capture: capture})
	if err != nil {
		return nil, errors.Wrap(err, "sandbox: encode request")
	}

	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(runCtx, e.executable)
	cmd.Env = []string{WorkerEnv + "=1"}
	cmd.Stdin = bytes.NewReader(req)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	cmd.WaitDelay = time.Second

	start := time.Now()
	runErr := cmd.Run()
	log.Debug().Dur("elapsed", time.Since(start)).Int("code_bytes", len(code)).Msg("sandbox run finished")

	if runCtx.Err() != nil {
		if ctx.Err() != nil {
			return nil, errors.Wrap(ctx.Err(), "sandbox: run cancelled")
		}
		return nil, &TimeoutError{Timeout: timeout}
	}
	if runErr != nil {
		trace := tail(stderr.String(), stderrTail)
		if trace == "" {
			trace = "sandbox worker failed: " + runErr.Error()
		}
		return nil, &RuntimeError{Trace: trace}
	}

	dec := json.NewDecoder(&stdout)
	dec.UseNumber()
	var resp workerResponse
	if err := dec.Decode(&resp); err != nil {
		return nil, &RuntimeError{Trace: "malformed worker response: " + err.Error()}
	}
	if resp.Error != "" {
		return nil, &RuntimeError{Trace: resp.Error}
	}
	for _, b := range resp.Bindings {
		if b.Table != nil {
			fixNumbers(b.Table)
		}
	}
	return resp.Bindings, nil
}

// fixNumbers restores integers that JSON decoding would otherwise widen to
// float64.
func fixNumbers(t *tabular.Table) {
	for _, row := range t.Rows {
		for i, v := range row {
			n, ok := v.(json.Number)
			if !ok {
				continue
			}
			if iv, err := strconv.ParseInt(n.String(), 10, 64); err == nil {
				row[i] = iv
				continue
			}
			if fv, err := n.Float64(); err == nil {
				row[i] = fv
				continue
			}
			row[i] = n.String()
		}
	}
}

func tail(s string, n int) string {
	s = strings.TrimSpace(s)
	if len(s) <= n {
		return s
	}
	return s[len(s)-n:]
}
