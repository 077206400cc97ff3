// Package mocks provides test doubles for testing.
package mocks

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/felixgeelhaar/cellar/internal/ports"
)

// CommandHandler computes the result of a command at call time.
type CommandHandler func(ctx context.Context, req ports.CommandRequest) (ports.CommandResult, error)

// CommandRunner is a thread-safe test double for ports.CommandRunner.
//
// Lookup order: an exact program+args result or error, then a handler
// registered for the program, then the default handler.
type CommandRunner struct {
	mu       sync.RWMutex
	results  map[string]ports.CommandResult
	errors   map[string]error
	handlers map[string]CommandHandler
	fallback CommandHandler
	calls    []ports.CommandCall
}

// NewCommandRunner creates a new CommandRunner mock.
func NewCommandRunner() *CommandRunner {
	return &CommandRunner{
		results:  make(map[string]ports.CommandResult),
		errors:   make(map[string]error),
		handlers: make(map[string]CommandHandler),
		calls:    make([]ports.CommandCall, 0),
	}
}

// AddResult registers an expected command and its result.
func (m *CommandRunner) AddResult(program string, args []string, result ports.CommandResult) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results[buildKey(program, args)] = result
}

// AddError registers an expected command that should return an error.
func (m *CommandRunner) AddError(program string, args []string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors[buildKey(program, args)] = err
}

// Handle registers a handler for every invocation of program.
func (m *CommandRunner) Handle(program string, fn CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.handlers[program] = fn
}

// HandleDefault registers the handler used when nothing else matches.
func (m *CommandRunner) HandleDefault(fn CommandHandler) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fallback = fn
}

// Run executes a mock command.
func (m *CommandRunner) Run(ctx context.Context, req ports.CommandRequest) (ports.CommandResult, error) {
	m.mu.Lock()
	m.calls = append(m.calls, ports.CommandCall{
		Command: req.Program,
		Args:    append([]string(nil), req.Args...),
		Dir:     req.Dir,
		Env:     append([]string(nil), req.Env...),
	})
	key := buildKey(req.Program, req.Args)
	err, hasErr := m.errors[key]
	result, hasResult := m.results[key]
	handler := m.handlers[req.Program]
	fallback := m.fallback
	m.mu.Unlock()

	switch {
	case hasErr:
		return ports.CommandResult{}, err
	case hasResult:
		return result, nil
	case handler != nil:
		return handler(ctx, req)
	case fallback != nil:
		return fallback(ctx, req)
	}

	return ports.CommandResult{}, fmt.Errorf("no mock result for command: %s %v", req.Program, req.Args)
}

// Calls returns all recorded command invocations.
func (m *CommandRunner) Calls() []ports.CommandCall {
	m.mu.RLock()
	defer m.mu.RUnlock()

	calls := make([]ports.CommandCall, len(m.calls))
	copy(calls, m.calls)
	return calls
}

// CallsTo returns the recorded invocations of program.
func (m *CommandRunner) CallsTo(program string) []ports.CommandCall {
	var matched []ports.CommandCall
	for _, call := range m.Calls() {
		if call.Command == program {
			matched = append(matched, call)
		}
	}
	return matched
}

// Reset clears all registered results, errors, handlers, and recorded calls.
func (m *CommandRunner) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.results = make(map[string]ports.CommandResult)
	m.errors = make(map[string]error)
	m.handlers = make(map[string]CommandHandler)
	m.fallback = nil
	m.calls = make([]ports.CommandCall, 0)
}

// Succeed is a handler that exits 0 without output.
func Succeed(context.Context, ports.CommandRequest) (ports.CommandResult, error) {
	return ports.CommandResult{}, nil
}

// ExitWith returns a handler that exits with code and writes stderr.
func ExitWith(code int, stderr string) CommandHandler {
	return func(context.Context, ports.CommandRequest) (ports.CommandResult, error) {
		return ports.CommandResult{ExitCode: code, Stderr: stderr}, nil
	}
}

// buildKey creates a unique key for a command and its arguments.
func buildKey(program string, args []string) string {
	return program + ":" + strings.Join(args, ":")
}

// Ensure CommandRunner implements ports.CommandRunner.
var _ ports.CommandRunner = (*CommandRunner)(nil)
