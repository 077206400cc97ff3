package app

import (
	"time"

	"github.com/felixgeelhaar/cellar/internal/domain/build"
)

// Outcome is what a run did with one formula.
type Outcome string

// Outcomes.
const (
	OutcomeInstalled        Outcome = "installed"
	OutcomeAlreadyInstalled Outcome = "already-installed"
	OutcomeFailed           Outcome = "failed"
	OutcomeDependencyFailed Outcome = "dependency-failed"
)

// Entry reports one formula of a run.
type Entry struct {
	Name         string
	Version      string
	Outcome      Outcome
	Verification build.Verification
	// Phase and Err describe a failure, or a failed test of an installed
	// formula.
	Phase build.Phase
	Err   error
	// Origin names the formula whose failure blocked this one.
	Origin string
	Prefix string
	// Session is the kept build directory, if any. FailureReason is what
	// the session recorded when it was abandoned.
	Session       string
	FailureReason string
	Steps         []build.StepResult
	Duration      time.Duration
}

// Fatal reports whether the formula did not end up installed.
func (e Entry) Fatal() bool {
	return e.Outcome == OutcomeFailed || e.Outcome == OutcomeDependencyFailed
}

// Report is the result of an install or test run, one entry per formula
// in resolution order.
type Report struct {
	Target   string
	Entries  []Entry
	Duration time.Duration
}

// Entry returns the entry of name.
func (r Report) Entry(name string) (Entry, bool) {
	for _, e := range r.Entries {
		if e.Name == name {
			return e, true
		}
	}
	return Entry{}, false
}

// Err returns the first fatal error in resolution order, else the first
// test failure, else nil.
func (r Report) Err() error {
	for _, e := range r.Entries {
		if e.Fatal() {
			return e.Err
		}
	}
	for _, e := range r.Entries {
		if e.Verification == build.VerificationFailed && e.Err != nil {
			return e.Err
		}
	}
	return nil
}

// ExitCode maps the report to the process exit code.
func (r Report) ExitCode() int {
	return build.ExitCode(r.Err())
}

// Count returns how many entries have the outcome.
func (r Report) Count(outcome Outcome) int {
	n := 0
	for _, e := range r.Entries {
		if e.Outcome == outcome {
			n++
		}
	}
	return n
}
