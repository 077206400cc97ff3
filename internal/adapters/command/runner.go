// Package command provides command execution adapters.
package command

import (
	"bytes"
	"context"
	"errors"
	"os/exec"
	"sync"
	"time"

	"github.com/felixgeelhaar/cellar/internal/ports"
)

// DefaultWaitDelay bounds how long Run waits for output pipes to close after
// a cancelled process has been signalled.
const DefaultWaitDelay = 5 * time.Second

// RealRunner executes actual subprocesses.
type RealRunner struct {
	waitDelay time.Duration
}

// NewRealRunner creates a new RealRunner.
func NewRealRunner() *RealRunner {
	return &RealRunner{waitDelay: DefaultWaitDelay}
}

// WithWaitDelay returns a RealRunner using the given post-cancel wait delay.
func (r *RealRunner) WithWaitDelay(d time.Duration) *RealRunner {
	return &RealRunner{waitDelay: d}
}

// Run executes a command and returns the result.
//
// Cancelling ctx terminates the process and every child it spawned (the
// whole process group on unix), and Run then returns ctx.Err().
func (r *RealRunner) Run(ctx context.Context, req ports.CommandRequest) (ports.CommandResult, error) {
	cmd := exec.CommandContext(ctx, req.Program, req.Args...)
	cmd.Dir = req.Dir
	cmd.Env = req.Env
	cmd.WaitDelay = r.waitDelay
	configureProcessGroup(cmd)

	var stdout, stderr lockedBuffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()

	result := ports.CommandResult{
		ExitCode: 0,
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
	}

	if ctxErr := ctx.Err(); ctxErr != nil {
		result.ExitCode = -1
		return result, ctxErr
	}

	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) {
			result.ExitCode = exitErr.ExitCode()
			return result, nil
		}
		return result, err
	}

	return result, nil
}

// lockedBuffer lets a child and its grandchildren share a writer safely.
type lockedBuffer struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (b *lockedBuffer) Write(p []byte) (int, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.Write(p)
}

func (b *lockedBuffer) String() string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.buf.String()
}

// Ensure RealRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*RealRunner)(nil)
