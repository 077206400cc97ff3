// Package ports defines interfaces for external dependencies.
package ports

import (
	"context"
	"strings"
)

// CommandRequest describes one subprocess invocation.
type CommandRequest struct {
	Program string
	Args    []string
	// Dir is the working directory. Empty means the caller's directory.
	Dir string
	// Env is the complete environment. Nil inherits the caller's environment.
	Env []string
}

// String renders the request as a shell-like command line.
func (r CommandRequest) String() string {
	if len(r.Args) == 0 {
		return r.Program
	}
	return r.Program + " " + strings.Join(r.Args, " ")
}

// CommandResult represents the result of executing a command.
type CommandResult struct {
	ExitCode int
	Stdout   string
	Stderr   string
}

// Success returns true if the command exited with code 0.
func (r CommandResult) Success() bool {
	return r.ExitCode == 0
}

// Output returns stdout followed by stderr.
func (r CommandResult) Output() string {
	switch {
	case r.Stderr == "":
		return r.Stdout
	case r.Stdout == "":
		return r.Stderr
	case strings.HasSuffix(r.Stdout, "\n"):
		return r.Stdout + r.Stderr
	default:
		return r.Stdout + "\n" + r.Stderr
	}
}

// CommandCall records a command invocation.
type CommandCall struct {
	Command string
	Args    []string
	Dir     string
	Env     []string
}

// CommandRunner executes external commands.
//
// A non-zero exit is reported through CommandResult.ExitCode with a nil
// error. The error is reserved for commands that could not be started or
// were interrupted by ctx.
type CommandRunner interface {
	Run(ctx context.Context, req CommandRequest) (CommandResult, error)
}
