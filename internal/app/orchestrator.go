// Package app wires the build phases into install and test runs.
package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/cellar/internal/domain/build"
	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
)

// Options tune a run.
type Options struct {
	// Jobs bounds how many formulas build at the same time.
	Jobs int
	// KeepBuildDir keeps session directories after success too.
	KeepBuildDir bool
	// Force rebuilds formulas whose current build is already installed.
	Force bool
}

// Components are the collaborators of an Orchestrator.
type Components struct {
	Registry  *formula.Registry
	Fetcher   *build.Fetcher
	Stages    *build.StageRunner
	Installer *build.Installer
	Verifier  *build.Verifier
}

// Orchestrator resolves a target and drives every formula it needs through
// fetch, build, install and test.
type Orchestrator struct {
	Components
	opts Options
}

// NewOrchestrator creates an Orchestrator.
func NewOrchestrator(c Components, opts Options) (*Orchestrator, error) {
	if c.Registry == nil || c.Fetcher == nil || c.Stages == nil || c.Installer == nil || c.Verifier == nil {
		return nil, errors.New("orchestrator: every component is required")
	}
	if opts.Jobs < 1 {
		opts.Jobs = 1
	}
	return &Orchestrator{Components: c, opts: opts}, nil
}

// Install builds target and its dependencies. A resolution error is
// returned before anything is touched; every other failure is recorded in
// the report.
func (o *Orchestrator) Install(ctx context.Context, target string) (Report, error) {
	start := time.Now()
	report := Report{Target: target}
	log := ports.LoggerOrDiscard(ctx)

	order, err := formula.Resolve(target, o.Registry)
	if err != nil {
		return report, err
	}
	graph := formula.NewDependencyGraph(order, formula.ScopeAll)
	log.Info(ctx, "resolved build order", ports.F("target", target), ports.F("formulae", len(order)))

	done := make(map[string]chan struct{}, len(order))
	for _, d := range order {
		done[d.Name()] = make(chan struct{})
	}

	var (
		mu       sync.Mutex
		outcomes = make(map[string]Entry, len(order))
		wg       sync.WaitGroup
		sem      = make(chan struct{}, o.opts.Jobs)
	)
	record := func(e Entry) {
		mu.Lock()
		outcomes[e.Name] = e
		mu.Unlock()
	}

	for _, d := range order {
		wg.Add(1)
		go func(d formula.Descriptor) {
			defer wg.Done()
			defer close(done[d.Name()])

			deps := graph.Dependencies(d.Name())
			for _, dep := range deps {
				<-done[dep]
			}

			mu.Lock()
			blocked, ok := o.blockedBy(d, deps, outcomes)
			mu.Unlock()
			if ok {
				record(blocked)
				return
			}

			select {
			case sem <- struct{}{}:
			case <-ctx.Done():
				record(o.cancelled(ctx, d))
				return
			}
			defer func() { <-sem }()

			if ctx.Err() != nil {
				record(o.cancelled(ctx, d))
				return
			}
			record(o.build(ctx, d, d.Name() == target))
		}(d)
	}
	wg.Wait()

	for _, d := range order {
		report.Entries = append(report.Entries, outcomes[d.Name()])
	}
	report.Duration = time.Since(start)
	return report, nil
}

// blockedBy returns a dependency-failed entry when a dependency of d did
// not end up installed.
func (o *Orchestrator) blockedBy(d formula.Descriptor, deps []string, outcomes map[string]Entry) (Entry, bool) {
	for _, dep := range deps {
		e := outcomes[dep]
		if !e.Fatal() {
			continue
		}

		origin, cause := dep, e.Err
		if e.Outcome == OutcomeDependencyFailed {
			origin = e.Origin
			var df *build.DependencyFailedError
			if errors.As(e.Err, &df) {
				cause = df.Err
			}
		}
		err := &build.DependencyFailedError{Formula: d.Name(), Dependency: dep, Origin: origin, Err: cause}
		return Entry{
			Name:         d.Name(),
			Version:      d.Version(),
			Outcome:      OutcomeDependencyFailed,
			Verification: build.VerificationSkipped,
			Phase:        build.PhaseOf(err),
			Err:          err,
			Origin:       origin,
			Prefix:       o.Installer.PrefixPath(d),
		}, true
	}
	return Entry{}, false
}

func (o *Orchestrator) cancelled(ctx context.Context, d formula.Descriptor) Entry {
	err := &build.FetchError{Formula: d.Name(), URL: d.URL(), Err: ctx.Err()}
	return Entry{
		Name:         d.Name(),
		Version:      d.Version(),
		Outcome:      OutcomeFailed,
		Verification: build.VerificationSkipped,
		Phase:        build.PhaseFetch,
		Err:          err,
		Prefix:       o.Installer.PrefixPath(d),
	}
}

// build runs one formula through its phases. The target is verified even
// when its current build was already installed.
func (o *Orchestrator) build(ctx context.Context, d formula.Descriptor, isTarget bool) Entry {
	start := time.Now()
	log := ports.LoggerOrDiscard(ctx).With(ports.F("formula", d.Name()), ports.F("version", d.Version()))
	ctx = ports.ContextWithLogger(ctx, log)

	entry := Entry{
		Name:         d.Name(),
		Version:      d.Version(),
		Verification: build.VerificationSkipped,
		Prefix:       o.Installer.PrefixPath(d),
	}

	fail := func(err error) Entry {
		entry.Outcome = OutcomeFailed
		entry.Phase = build.PhaseOf(err)
		entry.Err = err
		entry.Duration = time.Since(start)
		log.Error(ctx, "formula failed", ports.F("phase", string(entry.Phase)), ports.Err(err))
		return entry
	}

	if !o.opts.Force {
		current, err := o.Installer.Current(ctx, d)
		if err != nil {
			return fail(err)
		}
		if current != nil {
			entry.Outcome = OutcomeAlreadyInstalled
			log.Info(ctx, "already installed", ports.F("prefix", current.Path()))
			if isTarget {
				o.verify(ctx, &entry, current)
			}
			entry.Duration = time.Since(start)
			return entry
		}
	}

	prefix, err := o.Installer.Claim(ctx, d)
	if err != nil {
		return fail(err)
	}
	abandon := func(err error) {
		reason := fmt.Sprintf("%s failed", build.PhaseOf(err))
		if abandonErr := o.Installer.Abandon(context.WithoutCancel(ctx), prefix, reason); abandonErr != nil {
			log.Warn(ctx, "failed to record failed prefix", ports.Err(abandonErr))
		}
	}

	log.Info(ctx, "fetching source", ports.F("phase", string(build.PhaseFetch)), ports.F("url", d.URL()))
	session, err := o.Fetcher.Fetch(ctx, d)
	if err != nil {
		abandon(err)
		return fail(err)
	}
	keep := func() {
		entry.Session = session.Path()
		if session.Failed() {
			entry.FailureReason = session.FailureReason()
		}
		log.Info(ctx, "keeping build directory", ports.F("session", entry.Session), ports.F("reason", entry.FailureReason))
	}

	log.Info(ctx, "building", ports.F("phase", string(build.PhaseBuild)), ports.F("session", session.Path()))
	stage, err := o.Stages.Run(ctx, session, d.BuildSteps(), o.toolchain(d, session.StageDir()))
	entry.Steps = stage.Steps
	if err != nil {
		abandon(err)
		keep()
		return fail(err)
	}

	log.Info(ctx, "installing", ports.F("phase", string(build.PhaseInstall)), ports.F("prefix", prefix.Path()))
	if err := o.Installer.Install(ctx, session, prefix); err != nil {
		session.MarkFailed(err.Error())
		keep()
		return fail(err)
	}
	entry.Outcome = OutcomeInstalled

	if o.opts.KeepBuildDir {
		keep()
	} else if err := session.Remove(); err != nil {
		log.Warn(ctx, "failed to remove build directory", ports.F("session", session.Path()), ports.Err(err))
	}

	o.verify(ctx, &entry, prefix)
	entry.Duration = time.Since(start)
	log.Info(ctx, "installed", ports.F("verification", string(entry.Verification)), ports.F("duration", entry.Duration.String()))
	return entry
}

// verify records the test outcome of an installed prefix in entry.
func (o *Orchestrator) verify(ctx context.Context, entry *Entry, prefix *build.InstallPrefix) {
	d, _ := o.Registry.Get(entry.Name)
	v, err := o.Verifier.Verify(ctx, prefix, o.toolchain(d, prefix.Path()))
	entry.Verification = v
	if err == nil {
		return
	}

	entry.Err = err
	entry.Phase = build.PhaseOf(err)
	var failure *build.TestFailure
	if errors.As(err, &failure) {
		ports.LoggerOrDiscard(ctx).Warn(ctx, "test failed", ports.F("phase", string(build.PhaseTest)), ports.F("exit_code", failure.ExitCode))
		return
	}
	entry.Outcome = OutcomeFailed
}

// Test runs the test step of an installed target. The target and its
// runtime closure must be installed; nothing is built.
func (o *Orchestrator) Test(ctx context.Context, target string) (Report, error) {
	start := time.Now()
	report := Report{Target: target}

	closure, err := formula.ResolveRuntime(target, o.Registry)
	if err != nil {
		return report, err
	}

	var prefix *build.InstallPrefix
	missing := false
	for _, d := range closure {
		entry := Entry{
			Name:         d.Name(),
			Version:      d.Version(),
			Outcome:      OutcomeAlreadyInstalled,
			Verification: build.VerificationSkipped,
			Prefix:       o.Installer.PrefixPath(d),
		}
		p, err := o.Installer.RequireInstalled(ctx, d)
		if err != nil {
			entry.Outcome = OutcomeFailed
			entry.Phase = build.PhaseOf(err)
			entry.Err = err
			missing = true
		}
		if d.Name() == target {
			prefix = p
		}
		report.Entries = append(report.Entries, entry)
	}

	if !missing {
		last := &report.Entries[len(report.Entries)-1]
		log := ports.LoggerOrDiscard(ctx).With(ports.F("formula", target))
		o.verify(ports.ContextWithLogger(ctx, log), last, prefix)
	}
	report.Duration = time.Since(start)
	return report, nil
}

// toolchain describes the build or test environment of d with {{prefix}}
// set to prefix.
func (o *Orchestrator) toolchain(d formula.Descriptor, prefix string) build.Toolchain {
	deps := make(map[string]string, len(d.Dependencies()))
	for _, name := range d.Dependencies() {
		if dep, ok := o.Registry.Get(name); ok {
			deps[name] = o.Installer.PrefixPath(dep)
		}
	}
	return build.Toolchain{
		Descriptor:   d,
		Prefix:       prefix,
		Dependencies: deps,
		Jobs:         o.opts.Jobs,
	}
}
