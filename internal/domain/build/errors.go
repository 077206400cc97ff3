// Package build runs the fetch, build, install and test phases of one formula.
package build

import (
	"errors"
	"fmt"
	"strings"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Phase names the pipeline stage an error came from.
type Phase string

// Pipeline phases, in execution order.
const (
	PhaseResolve Phase = "resolve"
	PhaseFetch   Phase = "fetch"
	PhaseBuild   Phase = "build"
	PhaseInstall Phase = "install"
	PhaseTest    Phase = "test"
)

// ExitCode returns the process exit code for a failure in this phase.
func (p Phase) ExitCode() int {
	switch p {
	case PhaseFetch:
		return 2
	case PhaseBuild:
		return 3
	case PhaseInstall:
		return 4
	case PhaseTest:
		return 5
	default:
		return 1
	}
}

// Sentinel errors matched by the typed errors below.
var (
	ErrFetch             = errors.New("fetch failed")
	ErrChecksumMismatch  = errors.New("checksum mismatch")
	ErrStepFailed        = errors.New("build step failed")
	ErrInstall           = errors.New("install failed")
	ErrTestFailed        = errors.New("test failed")
	ErrDependencyFailed  = errors.New("dependency failed")
	ErrIllegalTransition = errors.New("illegal prefix transition")
)

// PhaseError is implemented by every pipeline error.
type PhaseError interface {
	error
	Phase() Phase
	Suggestion() string
}

// PhaseOf returns the phase of err. Resolution errors and anything
// unrecognised map to PhaseResolve.
func PhaseOf(err error) Phase {
	var pe PhaseError
	if errors.As(err, &pe) {
		return pe.Phase()
	}
	return PhaseResolve
}

// ExitCode maps err to a process exit code; nil maps to 0.
func ExitCode(err error) int {
	if err == nil {
		return 0
	}
	return PhaseOf(err).ExitCode()
}

// Suggestion returns the remediation hint carried by err, if any.
func Suggestion(err error) string {
	var pe PhaseError
	if errors.As(err, &pe) {
		return pe.Suggestion()
	}
	switch {
	case errors.Is(err, formula.ErrUnknownDependency):
		return "add a formula file for the missing name or fix the dependency list"
	case errors.Is(err, formula.ErrCyclicDependency):
		return "break the cycle by removing one of the listed dependency edges"
	}
	return ""
}

// FetchError reports a download or unpack failure.
type FetchError struct {
	Formula string
	URL     string
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch %s for %q: %v", e.URL, e.Formula, e.Err)
}

// Unwrap returns the underlying error.
func (e *FetchError) Unwrap() error { return e.Err }

// Is matches ErrFetch.
func (e *FetchError) Is(target error) bool { return target == ErrFetch }

// Phase returns PhaseFetch.
func (e *FetchError) Phase() Phase { return PhaseFetch }

// Suggestion returns a remediation hint.
func (e *FetchError) Suggestion() string {
	return "check the url and your network connection, then retry"
}

// ChecksumMismatchError reports an archive whose digest differs from the
// declared one. Nothing is unpacked.
type ChecksumMismatchError struct {
	Formula  string
	Expected string
	Actual   string
}

func (e *ChecksumMismatchError) Error() string {
	return fmt.Sprintf("checksum mismatch for %q: expected %s, got %s", e.Formula, e.Expected, e.Actual)
}

// Is matches ErrChecksumMismatch.
func (e *ChecksumMismatchError) Is(target error) bool { return target == ErrChecksumMismatch }

// Phase returns PhaseFetch.
func (e *ChecksumMismatchError) Phase() Phase { return PhaseFetch }

// Suggestion returns a remediation hint.
func (e *ChecksumMismatchError) Suggestion() string {
	return "the archive changed upstream or was corrupted; verify it and update sha256"
}

// StepFailure reports the first build step that did not exit 0.
// ExitCode is -1 when the step was cancelled or could not be started.
type StepFailure struct {
	Formula  string
	Index    int
	Step     formula.Command
	ExitCode int
	Stdout   string
	Stderr   string
	WorkDir  string
	LogPath  string
	Err      error
}

func (e *StepFailure) Error() string {
	msg := fmt.Sprintf("build step %d (%s) of %q", e.Index, e.Step.Program(), e.Formula)
	if e.Err != nil {
		return fmt.Sprintf("%s failed: %v", msg, e.Err)
	}
	return fmt.Sprintf("%s exited with code %d", msg, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *StepFailure) Unwrap() error { return e.Err }

// Is matches ErrStepFailed.
func (e *StepFailure) Is(target error) bool { return target == ErrStepFailed }

// Phase returns PhaseBuild.
func (e *StepFailure) Phase() Phase { return PhaseBuild }

// Suggestion returns a remediation hint.
func (e *StepFailure) Suggestion() string {
	if e.WorkDir != "" {
		return fmt.Sprintf("inspect the build directory %s and the step log", e.WorkDir)
	}
	return "inspect the step output"
}

// Output returns the captured stdout and stderr.
func (e *StepFailure) Output() string {
	return ports.CommandResult{Stdout: e.Stdout, Stderr: e.Stderr}.Output()
}

// InstallError reports a prefix that could not be populated or claimed.
type InstallError struct {
	Formula string
	Prefix  string
	Reason  string
	Err     error
}

func (e *InstallError) Error() string {
	msg := fmt.Sprintf("install %q into %s: %s", e.Formula, e.Prefix, e.Reason)
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *InstallError) Unwrap() error { return e.Err }

// Is matches ErrInstall.
func (e *InstallError) Is(target error) bool { return target == ErrInstall }

// Phase returns PhaseInstall.
func (e *InstallError) Phase() Phase { return PhaseInstall }

// Suggestion returns a remediation hint.
func (e *InstallError) Suggestion() string {
	switch e.Reason {
	case ReasonDifferingBuild, ReasonForeignPrefix:
		return fmt.Sprintf("remove %s and try again", e.Prefix)
	case ReasonNotInstalled:
		return fmt.Sprintf("run 'cellar install %s' first", e.Formula)
	case ReasonEmptyStage:
		return "make sure the build installs into {{prefix}}"
	}
	return "check permissions and free space under the cellar root"
}

// Install failure reasons.
const (
	ReasonDifferingBuild = "prefix holds a differing build"
	ReasonForeignPrefix  = "prefix exists without an install receipt"
	ReasonEmptyStage     = "build produced no files"
	ReasonNotInstalled   = "not installed"
	ReasonCopyFailed     = "copy failed"
	ReasonNotClaimed     = "prefix was not claimed"
)

// TestFailure reports a test step that did not exit 0. The install stands.
type TestFailure struct {
	Formula  string
	Step     formula.Command
	ExitCode int
	Output   string
	Err      error
}

func (e *TestFailure) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("test of %q failed: %v", e.Formula, e.Err)
	}
	return fmt.Sprintf("test of %q exited with code %d", e.Formula, e.ExitCode)
}

// Unwrap returns the underlying error.
func (e *TestFailure) Unwrap() error { return e.Err }

// Is matches ErrTestFailed.
func (e *TestFailure) Is(target error) bool { return target == ErrTestFailed }

// Phase returns PhaseTest.
func (e *TestFailure) Phase() Phase { return PhaseTest }

// Suggestion returns a remediation hint.
func (e *TestFailure) Suggestion() string {
	return fmt.Sprintf("the install is kept; run '%s' against the prefix to reproduce", e.Step.ShellString())
}

// DependencyFailedError reports a formula that was not attempted because a
// dependency failed. Origin is the error of the formula that failed first.
type DependencyFailedError struct {
	Formula    string
	Dependency string
	Origin     string
	Err        error
}

func (e *DependencyFailedError) Error() string {
	if e.Origin != "" && e.Origin != e.Dependency {
		return fmt.Sprintf("%q not built: dependency %q failed (caused by %q)", e.Formula, e.Dependency, e.Origin)
	}
	return fmt.Sprintf("%q not built: dependency %q failed", e.Formula, e.Dependency)
}

// Unwrap returns the origin's error.
func (e *DependencyFailedError) Unwrap() error { return e.Err }

// Is matches ErrDependencyFailed.
func (e *DependencyFailedError) Is(target error) bool { return target == ErrDependencyFailed }

// Phase returns the phase of the origin failure.
func (e *DependencyFailedError) Phase() Phase { return PhaseOf(e.Err) }

// Suggestion returns a remediation hint.
func (e *DependencyFailedError) Suggestion() string {
	return fmt.Sprintf("fix %q first", e.Origin)
}

// Format renders err with its phase, suggestion and captured output, in the
// style of the CLI's error report.
func Format(err error) string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%s] %s", strings.ToUpper(string(PhaseOf(err))), err.Error())

	if s := Suggestion(err); s != "" {
		fmt.Fprintf(&b, "\n  Suggestion: %s", s)
	}

	var step *StepFailure
	var test *TestFailure
	switch {
	case errors.As(err, &step):
		if step.LogPath != "" {
			fmt.Fprintf(&b, "\n  Log: %s", step.LogPath)
		}
		writeOutput(&b, step.Output())
	case errors.As(err, &test):
		writeOutput(&b, test.Output)
	}
	return b.String()
}

// maxOutputLines bounds the tail of captured output included by Format.
const maxOutputLines = 20

func writeOutput(b *strings.Builder, output string) {
	output = strings.TrimRight(output, "\n")
	if output == "" {
		return
	}
	lines := strings.Split(output, "\n")
	if len(lines) > maxOutputLines {
		lines = lines[len(lines)-maxOutputLines:]
	}
	b.WriteString("\n  Output:")
	for _, line := range lines {
		b.WriteString("\n    ")
		b.WriteString(line)
	}
}
