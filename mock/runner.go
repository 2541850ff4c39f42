package mock

import (
	"context"
	"fmt"
	"strings"
	"sync"
)

// Response is a scripted command result.
type Response struct {
	Out string
	Err error
}

// Runner is a scripted shell.Runner. Commands are matched by their full
// command line; unmatched commands get Default.
type Runner struct {
	mu sync.Mutex

	responses map[string][]Response
	calls     []string

	Default Response
}

// NewRunner return runner
func NewRunner() *Runner {
	return &Runner{responses: make(map[string][]Response)}
}

// On queues a response for cmdline. Queued responses are consumed in order,
// the last one is kept for further calls.
func (r *Runner) On(cmdline, out string, err error) *Runner {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.responses[cmdline] = append(r.responses[cmdline], Response{Out: out, Err: err})
	return r
}

// Fail queues a non-zero exit for cmdline.
func (r *Runner) Fail(cmdline string) *Runner {
	return r.On(cmdline, "", fmt.Errorf("%s: exit status 1", cmdline))
}

// Run implements shell.Runner.
func (r *Runner) Run(ctx context.Context, argv ...string) ([]byte, error) {
	cmdline := strings.Join(argv, " ")

	r.mu.Lock()
	defer r.mu.Unlock()

	r.calls = append(r.calls, cmdline)

	queue, ok := r.responses[cmdline]
	if !ok {
		return []byte(r.Default.Out), r.Default.Err
	}

	resp := queue[0]
	if len(queue) > 1 {
		r.responses[cmdline] = queue[1:]
	}

	return []byte(resp.Out), resp.Err
}

// Calls returns the executed command lines in order.
func (r *Runner) Calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	return append([]string(nil), r.calls...)
}

// Called reports whether cmdline was executed.
func (r *Runner) Called(cmdline string) bool {
	for _, c := range r.Calls() {
		if c == cmdline {
			return true
		}
	}

	return false
}
