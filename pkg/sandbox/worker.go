package sandbox

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
)

// WorkerEnv marks a process as a sandbox worker.
const WorkerEnv = "TABLECHAT_SANDBOX_WORKER"

type workerRequest struct {
	Code    string   `json:"code"`
	Capture []string `json:"capture,omitempty"`
}

type workerResponse struct {
	Bindings map[string]Binding `json:"bindings,omitempty"`
	Error    string             `json:"error,omitempty"`
}

// MaybeRunWorker turns the process into a worker when WorkerEnv is set and
// never returns in that case.
func MaybeRunWorker() {
	if os.Getenv(WorkerEnv) != "1" {
		return
	}
	os.Exit(serveWorker(os.Stdin, os.Stdout))
}

func serveWorker(in io.Reader, out io.Writer) int {
	var req workerRequest
	if err := json.NewDecoder(in).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox worker: decode request: %v\n", err)
		return 2
	}

	resp := execute(req)
	if err := json.NewEncoder(out).Encode(resp); err != nil {
		fmt.Fprintf(os.Stderr, "sandbox worker: encode response: %v\n", err)
		return 3
	}
	return 0
}

func execute(req workerRequest) workerResponse {
	rt, err := newRuntime()
	if err != nil {
		return workerResponse{Error: err.Error()}
	}
	if _, err := rt.vm.RunString(req.Code); err != nil {
		return workerResponse{Error: exceptionTrace(err)}
	}

	names := req.Capture
	strict := len(names) > 0
	if !strict {
		names = topLevelNames(req.Code)
	}
	bindings, err := rt.capture(names, strict)
	if err != nil {
		return workerResponse{Error: err.Error()}
	}
	return workerResponse{Bindings: bindings}
}
