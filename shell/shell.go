// Package shell runs the system commands dnspick depends on.
package shell

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"

	"github.com/google/shlex"
	"github.com/semihalev/zlog/v2"
)

// ErrNoCommand is returned when a command line is empty.
var ErrNoCommand = errors.New("no command to execute")

// Runner executes a command and returns its standard output.
// A non-zero exit status is returned as an error.
type Runner interface {
	Run(ctx context.Context, argv ...string) ([]byte, error)
}

// Exec is the Runner backed by os/exec.
type Exec struct{}

// Run implements Runner.
func (Exec) Run(ctx context.Context, argv ...string) ([]byte, error) {
	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	zlog.Debug("Executing command", "argv", strings.Join(argv, " "))

	var stdout, stderr bytes.Buffer

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}

		msg := strings.TrimSpace(stderr.String())
		zlog.Debug("Command failed", "argv", argv[0], "error", err.Error(), "stderr", msg)

		if msg != "" {
			return stdout.Bytes(), fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return stdout.Bytes(), fmt.Errorf("%s: %w", argv[0], err)
	}

	return stdout.Bytes(), nil
}

// Command splits a configured command line and appends args.
func Command(cmdline string, args ...string) ([]string, error) {
	argv, err := shlex.Split(cmdline)
	if err != nil {
		return nil, fmt.Errorf("invalid command line %q: %w", cmdline, err)
	}

	if len(argv) == 0 {
		return nil, ErrNoCommand
	}

	return append(argv, args...), nil
}

// RunCommand splits cmdline, appends args and runs the result.
func RunCommand(ctx context.Context, r Runner, cmdline string, args ...string) ([]byte, error) {
	argv, err := Command(cmdline, args...)
	if err != nil {
		return nil, err
	}

	return r.Run(ctx, argv...)
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context, argv ...string) ([]byte, error)

// Run implements Runner.
func (f RunnerFunc) Run(ctx context.Context, argv ...string) ([]byte, error) {
	return f(ctx, argv...)
}
