package testutil

import (
	"context"
	"os"
	"strings"
	"sync"
)

// RunResult is the canned output for one command.
type RunResult struct {
	Stdout string
	Stderr string
	Err    error
	// Block makes the call wait for ctx to end, simulating a hung spooler.
	Block bool
}

// Call records one invocation.
type Call struct {
	Name string
	Args []string
	// FileExisted records, for the last argument, whether it was a file on
	// disk at call time.
	FileExisted bool
}

// FakeRunner answers commands from a table keyed by binary name.
type FakeRunner struct {
	mu      sync.Mutex
	Results map[string]RunResult
	Calls   []Call
}

func NewFakeRunner() *FakeRunner {
	return &FakeRunner{Results: make(map[string]RunResult)}
}

// On sets the result for a binary.
func (r *FakeRunner) On(name string, res RunResult) *FakeRunner {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.Results[name] = res
	return r
}

func (r *FakeRunner) Run(ctx context.Context, name string, args ...string) ([]byte, []byte, error) {
	call := Call{Name: name, Args: append([]string(nil), args...)}
	if len(args) > 0 {
		_, err := os.Stat(args[len(args)-1])
		call.FileExisted = err == nil
	}

	r.mu.Lock()
	r.Calls = append(r.Calls, call)
	res, ok := r.Results[name]
	r.mu.Unlock()

	if !ok {
		return nil, []byte("unexpected command " + name), os.ErrNotExist
	}
	if res.Block {
		<-ctx.Done()
		return nil, nil, ctx.Err()
	}
	return []byte(res.Stdout), []byte(res.Stderr), res.Err
}

// CallsTo returns the recorded calls to name.
func (r *FakeRunner) CallsTo(name string) []Call {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []Call
	for _, c := range r.Calls {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}

// Joined renders a call's arguments for error messages.
func (c Call) Joined() string {
	return c.Name + " " + strings.Join(c.Args, " ")
}
