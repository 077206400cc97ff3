package build

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
)

// StepResult is the outcome of one executed build step.
type StepResult struct {
	Index    int
	Command  formula.Command
	ExitCode int
	Stdout   string
	Stderr   string
	LogPath  string
	Duration time.Duration
}

// StageReport lists the steps that ran, in order.
type StageReport struct {
	Formula string
	Steps   []StepResult
}

// StageRunner executes build steps inside a session.
type StageRunner struct {
	runner ports.CommandRunner
}

// NewStageRunner creates a StageRunner.
func NewStageRunner(runner ports.CommandRunner) *StageRunner {
	return &StageRunner{runner: runner}
}

// Run executes steps in order with cwd set to the session's src/ directory,
// stopping at the first step that does not exit 0.
//
// Placeholders are expanded for every step before the first one runs. On
// cancellation the running step reports exit code -1 and the session is
// marked failed.
func (r *StageRunner) Run(ctx context.Context, session *Session, steps []formula.Command, tc Toolchain) (StageReport, error) {
	d := session.Descriptor()
	report := StageReport{Formula: d.Name()}

	commands := make([]formula.Command, len(steps))
	for i, step := range steps {
		expanded, err := step.Expand(tc.Vars())
		if err != nil {
			session.MarkFailed(err.Error())
			return report, &StepFailure{Formula: d.Name(), Index: i, Step: step, ExitCode: -1, WorkDir: session.Path(), Err: err}
		}
		commands[i] = expanded
	}

	env := tc.Env()
	log := ports.LoggerOrDiscard(ctx)

	for i, cmd := range commands {
		started := time.Now()
		log.Debug(ctx, "running build step",
			ports.F("step", i),
			ports.F("command", cmd.String()),
		)

		result, err := r.runner.Run(ctx, ports.CommandRequest{
			Program: cmd.Program(),
			Args:    cmd.Args(),
			Dir:     session.SourceDir(),
			Env:     env,
		})

		step := StepResult{
			Index:    i,
			Command:  cmd,
			ExitCode: result.ExitCode,
			Stdout:   result.Stdout,
			Stderr:   result.Stderr,
			LogPath:  filepath.Join(session.LogDir(), stepLogName(i, cmd.Program())),
			Duration: time.Since(started),
		}
		if err != nil {
			step.ExitCode = -1
		}
		if writeErr := writeStepLog(step, err); writeErr != nil {
			log.Warn(ctx, "could not write step log", ports.F("path", step.LogPath), ports.Err(writeErr))
		}
		report.Steps = append(report.Steps, step)

		if err != nil || step.ExitCode != 0 {
			failure := &StepFailure{
				Formula:  d.Name(),
				Index:    i,
				Step:     cmd,
				ExitCode: step.ExitCode,
				Stdout:   step.Stdout,
				Stderr:   step.Stderr,
				WorkDir:  session.Path(),
				LogPath:  step.LogPath,
				Err:      err,
			}
			session.MarkFailed(failure.Error())
			return report, failure
		}
	}

	return report, nil
}

var unsafeLogChars = regexp.MustCompile(`[^A-Za-z0-9._+-]+`)

// stepLogName returns "NN-<program>.log" for a step.
func stepLogName(index int, program string) string {
	base := unsafeLogChars.ReplaceAllString(filepath.Base(program), "_")
	base = strings.Trim(base, "._")
	if base == "" {
		base = "step"
	}
	return fmt.Sprintf("%02d-%s.log", index, base)
}

func writeStepLog(step StepResult, runErr error) error {
	var b strings.Builder
	fmt.Fprintf(&b, "$ %s\n", step.Command.ShellString())
	b.WriteString(ports.CommandResult{Stdout: step.Stdout, Stderr: step.Stderr}.Output())
	if runErr != nil {
		fmt.Fprintf(&b, "\nerror: %v\n", runErr)
	}
	fmt.Fprintf(&b, "\nexit code: %d\n", step.ExitCode)
	return os.WriteFile(step.LogPath, []byte(b.String()), 0o644)
}
