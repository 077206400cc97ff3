package build

import (
	"context"
	"os"
	"path/filepath"

	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Verification is the outcome of a test stage.
type Verification string

const (
	// VerificationSkipped means the formula declares no test step.
	VerificationSkipped Verification = "skipped"
	// VerificationPassed means the test step exited 0.
	VerificationPassed Verification = "passed"
	// VerificationFailed means the test step did not exit 0.
	VerificationFailed Verification = "failed"
)

// Verifier runs a formula's test step against its installed prefix.
type Verifier struct {
	runner  ports.CommandRunner
	tmpRoot string
}

// NewVerifier creates a Verifier whose scratch directories live in tmpRoot.
func NewVerifier(runner ports.CommandRunner, tmpRoot string) *Verifier {
	return &Verifier{runner: runner, tmpRoot: tmpRoot}
}

// Verify runs the test step in a fresh temporary directory that is removed
// afterwards. tc.Prefix must be the installed prefix. The prefix is never
// changed, whatever the outcome.
func (v *Verifier) Verify(ctx context.Context, prefix *InstallPrefix, tc Toolchain) (Verification, error) {
	d := tc.Descriptor
	step, ok := d.TestStep()
	if !ok {
		return VerificationSkipped, nil
	}
	if prefix.State() != PrefixInstalled {
		return VerificationFailed, &InstallError{Formula: d.Name(), Prefix: prefix.Path(), Reason: ReasonNotInstalled}
	}

	cmd, err := step.Expand(tc.Vars())
	if err != nil {
		return VerificationFailed, &TestFailure{Formula: d.Name(), Step: step, ExitCode: -1, Err: err}
	}

	if err := os.MkdirAll(v.tmpRoot, 0o755); err != nil {
		return VerificationFailed, &TestFailure{Formula: d.Name(), Step: cmd, ExitCode: -1, Err: err}
	}
	dir, err := os.MkdirTemp(v.tmpRoot, d.Name()+"-test-*")
	if err != nil {
		return VerificationFailed, &TestFailure{Formula: d.Name(), Step: cmd, ExitCode: -1, Err: err}
	}
	defer func() { _ = os.RemoveAll(dir) }()

	ports.LoggerOrDiscard(ctx).Debug(ctx, "running test step",
		ports.F("command", cmd.String()),
		ports.F("dir", dir),
	)

	result, err := v.runner.Run(ctx, ports.CommandRequest{
		Program: cmd.Program(),
		Args:    cmd.Args(),
		Dir:     dir,
		Env:     tc.Env(filepath.Join(prefix.Path(), "bin")),
	})
	if err != nil {
		return VerificationFailed, &TestFailure{Formula: d.Name(), Step: cmd, ExitCode: -1, Output: result.Output(), Err: err}
	}
	if !result.Success() {
		return VerificationFailed, &TestFailure{Formula: d.Name(), Step: cmd, ExitCode: result.ExitCode, Output: result.Output()}
	}
	return VerificationPassed, nil
}
