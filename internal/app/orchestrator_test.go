package app

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/felixgeelhaar/cellar/internal/domain/build"
	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
	"github.com/felixgeelhaar/cellar/internal/testutil"
	"github.com/felixgeelhaar/cellar/internal/testutil/mocks"
)

func TestOrchestrator_InstallsDependenciesFirst(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c := h.formula("c").Build(t)
	b := h.formula("b").WithRuntimeDeps("c").Build(t)
	a := h.formula("a").WithBuildDeps("b").Build(t)

	report, err := h.orchestrator(Options{Jobs: 4}, a, b, c).Install(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, 0, report.ExitCode())
	assert.Equal(t, []string{"c", "b", "a"}, h.builds.built())
	require.Len(t, report.Entries, 3)
	for _, e := range report.Entries {
		assert.Equal(t, OutcomeInstalled, e.Outcome, e.Name)
		assert.Equal(t, build.VerificationSkipped, e.Verification, e.Name)
		assert.Empty(t, e.Session, "successful sessions are removed")
		assert.Equal(t, build.PrefixInstalled, h.state(e.Name))
		testutil.AssertFileExists(t, filepath.Join(h.cellarDir(), e.Name, "1.0.0", "bin", e.Name))
	}
	assert.Empty(t, h.sessions())
}

func TestOrchestrator_StepsSeeDependencyPrefixes(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	lib := h.formula("lib").Build(t)
	app := h.formula("app").WithBuildDeps("lib").
		WithStep("ls", "{{opt:lib}}/bin").
		Build(t)
	h.runner.Handle("ls", mocks.Succeed)

	_, err := h.orchestrator(Options{}, app, lib).Install(context.Background(), "app")
	require.NoError(t, err)

	calls := h.runner.CallsTo("ls")
	require.Len(t, calls, 1)
	libPrefix := filepath.Join(h.cellarDir(), "lib", "1.0.0")
	assert.Equal(t, []string{filepath.Join(libPrefix, "bin")}, calls[0].Args)
	assert.Contains(t, envOf(calls[0].Env)[build.EnvPath], filepath.Join(libPrefix, "bin"))
	assert.NotEqual(t, filepath.Join(h.cellarDir(), "app", "1.0.0"), envOf(calls[0].Env)[build.EnvPrefix],
		"{{prefix}} is the stage directory while building")
}

func TestOrchestrator_DependencyStepFailureBlocksDependent(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	b := h.formula("b").
		WithSteps(formula.MustNewCommand("./configure"), formula.MustNewCommand("make", "all")).
		Build(t)
	a := h.formula("a").WithBuildDeps("b").Build(t)
	h.runner.Handle("./configure", mocks.Succeed)
	h.runner.AddResult("make", []string{"all"}, ports.CommandResult{ExitCode: 2, Stderr: "cc: error\n"})

	report, err := h.orchestrator(Options{Jobs: 2}, a, b).Install(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, build.PhaseBuild.ExitCode(), report.ExitCode())

	eb, ok := report.Entry("b")
	require.True(t, ok)
	assert.Equal(t, OutcomeFailed, eb.Outcome)
	assert.Equal(t, build.PhaseBuild, eb.Phase)
	var step *build.StepFailure
	require.True(t, errors.As(eb.Err, &step))
	assert.Equal(t, 1, step.Index)
	assert.Equal(t, 2, step.ExitCode)
	require.Len(t, eb.Steps, 2)
	require.NotEmpty(t, eb.Session, "failed sessions are kept")
	testutil.AssertDirExists(t, eb.Session)
	assert.Contains(t, eb.FailureReason, "exited with code 2")
	assert.Equal(t, build.PrefixFailed, h.state("b"))

	ea, ok := report.Entry("a")
	require.True(t, ok)
	assert.Equal(t, OutcomeDependencyFailed, ea.Outcome)
	assert.Equal(t, "b", ea.Origin)
	assert.ErrorIs(t, ea.Err, build.ErrDependencyFailed)
	assert.Equal(t, build.PhaseBuild, ea.Phase)

	assert.Empty(t, h.builds.built(), "a never started")
	testutil.AssertPathNotExists(t, filepath.Join(h.cellarDir(), "a"))
	_, err = h.receipts.Load(context.Background(), "a", "1.0.0")
	assert.ErrorIs(t, err, build.ErrReceiptNotFound)
}

func TestOrchestrator_OriginPropagatesThroughChain(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	c := h.formula("c").WithSource(filepath.Join(h.sources, "missing.tar.gz"), testutil.ZeroSHA256).Build(t)
	b := h.formula("b").WithRuntimeDeps("c").Build(t)
	a := h.formula("a").WithBuildDeps("b").Build(t)

	report, err := h.orchestrator(Options{}, a, b, c).Install(context.Background(), "a")
	require.NoError(t, err)

	assert.Equal(t, build.PhaseFetch.ExitCode(), report.ExitCode())
	ea, _ := report.Entry("a")
	assert.Equal(t, "c", ea.Origin)
	var df *build.DependencyFailedError
	require.True(t, errors.As(ea.Err, &df))
	assert.Equal(t, "b", df.Dependency)
	assert.ErrorIs(t, df.Err, build.ErrFetch)
}

func TestOrchestrator_SiblingsContinue(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	bad := h.formula("bad").WithSource(filepath.Join(h.sources, "bad.tar.gz"), testutil.ZeroSHA256).Build(t)
	testutil.WriteTempFile(t, h.sources, "bad.tar.gz", "tampered")
	good := h.formula("good").Build(t)
	top := h.formula("top").WithBuildDeps("bad", "good").Build(t)

	report, err := h.orchestrator(Options{Jobs: 2}, top, bad, good).Install(context.Background(), "top")
	require.NoError(t, err)

	assert.Equal(t, 2, report.ExitCode())
	assert.ErrorIs(t, report.Err(), build.ErrChecksumMismatch)

	eGood, _ := report.Entry("good")
	assert.Equal(t, OutcomeInstalled, eGood.Outcome)
	eTop, _ := report.Entry("top")
	assert.Equal(t, OutcomeDependencyFailed, eTop.Outcome)
	assert.Equal(t, []string{"good"}, h.builds.built())
	assert.Equal(t, 1, report.Count(OutcomeInstalled))
	assert.Equal(t, 1, report.Count(OutcomeFailed))
}

func TestOrchestrator_NoTestStepIsSkipped(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	d := h.formula("plain").Build(t)

	report, err := h.orchestrator(Options{}, d).Install(context.Background(), "plain")
	require.NoError(t, err)

	e, _ := report.Entry("plain")
	assert.Equal(t, build.VerificationSkipped, e.Verification)
	assert.NoError(t, e.Err)
	assert.Equal(t, 0, report.ExitCode())
}

func TestOrchestrator_TestFailureIsAdvisory(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	d := h.formula("tool").WithTest("false").Build(t)
	h.runner.Handle("false", mocks.ExitWith(1, "boom\n"))

	report, err := h.orchestrator(Options{}, d).Install(context.Background(), "tool")
	require.NoError(t, err)

	e, _ := report.Entry("tool")
	assert.Equal(t, OutcomeInstalled, e.Outcome)
	assert.Equal(t, build.VerificationFailed, e.Verification)
	assert.ErrorIs(t, e.Err, build.ErrTestFailed)
	assert.Equal(t, build.PhaseTest.ExitCode(), report.ExitCode())
	assert.Equal(t, build.PrefixInstalled, h.state("tool"), "a failed test keeps the install")
}

func TestOrchestrator_PassingTest(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	d := h.formula("tool").WithTest("check", "{{prefix}}/bin/tool").Build(t)

	report, err := h.orchestrator(Options{}, d).Install(context.Background(), "tool")
	require.NoError(t, err)

	e, _ := report.Entry("tool")
	assert.Equal(t, build.VerificationPassed, e.Verification)

	calls := h.runner.CallsTo("check")
	require.Len(t, calls, 1)
	assert.Equal(t, []string{filepath.Join(h.cellarDir(), "tool", "1.0.0", "bin", "tool")}, calls[0].Args)
	assert.NotEqual(t, e.Prefix, calls[0].Dir, "tests run in a scratch directory")
}

func TestOrchestrator_ReusesCurrentInstall(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	dep := h.formula("dep").Build(t)
	top := h.formula("top").WithBuildDeps("dep").WithTest("check", "{{prefix}}/bin/top").Build(t)
	o := h.orchestrator(Options{}, top, dep)
	ctx := context.Background()

	_, err := o.Install(ctx, "top")
	require.NoError(t, err)
	first := snapshot(t, h.cellarDir())

	report, err := o.Install(ctx, "top")
	require.NoError(t, err)
	assert.Equal(t, 2, report.Count(OutcomeAlreadyInstalled))
	assert.Equal(t, []string{"dep", "top"}, h.builds.built(), "nothing was rebuilt")
	eTop, _ := report.Entry("top")
	assert.Equal(t, build.VerificationPassed, eTop.Verification, "the target is still tested")

	forced, err := h.orchestrator(Options{Force: true}, top, dep).Install(ctx, "top")
	require.NoError(t, err)
	assert.Equal(t, 2, forced.Count(OutcomeInstalled))
	assert.Equal(t, []string{"dep", "top", "dep", "top"}, h.builds.built())
	assert.Equal(t, first, snapshot(t, h.cellarDir()), "reinstalling the same build is idempotent")
}

func TestOrchestrator_RefusesDifferingBuild(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	v1 := h.formula("tool").Build(t)
	_, err := h.orchestrator(Options{}, v1).Install(ctx, "tool")
	require.NoError(t, err)

	v2 := h.formula("tool").WithStep("make", "install-docs").Build(t)
	report, err := h.orchestrator(Options{}, v2).Install(ctx, "tool")
	require.NoError(t, err)

	assert.Equal(t, build.PhaseInstall.ExitCode(), report.ExitCode())
	var ie *build.InstallError
	require.True(t, errors.As(report.Err(), &ie))
	assert.Equal(t, build.ReasonDifferingBuild, ie.Reason)
	assert.Equal(t, build.PrefixInstalled, h.state("tool"))
}

func TestOrchestrator_KeepBuildDir(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	d := h.formula("kept").Build(t)

	report, err := h.orchestrator(Options{KeepBuildDir: true}, d).Install(context.Background(), "kept")
	require.NoError(t, err)

	e, _ := report.Entry("kept")
	require.NotEmpty(t, e.Session)
	testutil.AssertFileExists(t, filepath.Join(e.Session, "src", "Makefile"))
	testutil.AssertFileExists(t, filepath.Join(e.Session, "logs", "00-make.log"))
	assert.Empty(t, e.FailureReason)
}

func TestOrchestrator_ResolutionErrorHasNoSideEffects(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	d := h.formula("top").WithBuildDeps("ghost").Build(t)

	report, err := h.orchestrator(Options{}, d).Install(context.Background(), "top")
	require.Error(t, err)
	assert.ErrorIs(t, err, formula.ErrUnknownDependency)
	assert.Equal(t, 1, build.ExitCode(err))
	assert.Empty(t, report.Entries)
	assert.Empty(t, h.runner.Calls())
	testutil.AssertPathNotExists(t, h.cellarDir())
	testutil.AssertPathNotExists(t, h.tmpDir())
}

func TestOrchestrator_BoundsParallelism(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	var running, peak int32
	h.runner.Handle("make", func(ctx context.Context, req ports.CommandRequest) (ports.CommandResult, error) {
		n := atomic.AddInt32(&running, 1)
		for {
			p := atomic.LoadInt32(&peak)
			if n <= p || atomic.CompareAndSwapInt32(&peak, p, n) {
				break
			}
		}
		time.Sleep(20 * time.Millisecond)
		atomic.AddInt32(&running, -1)
		return h.builds.install(ctx, req)
	})

	var leaves []formula.Descriptor
	var names []string
	for _, n := range []string{"l1", "l2", "l3", "l4", "l5"} {
		leaves = append(leaves, h.formula(n).Build(t))
		names = append(names, n)
	}
	top := h.formula("top").WithBuildDeps(names...).Build(t)

	report, err := h.orchestrator(Options{Jobs: 2}, append(leaves, top)...).Install(context.Background(), "top")
	require.NoError(t, err)

	assert.Equal(t, 0, report.ExitCode())
	assert.LessOrEqual(t, atomic.LoadInt32(&peak), int32(2))
	built := h.builds.built()
	require.Len(t, built, 6)
	assert.Equal(t, "top", built[5], "the dependent builds last")
}

func TestOrchestrator_Cancellation(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	d := h.formula("slow").Build(t)
	ctx, cancel := context.WithCancel(context.Background())
	h.runner.Handle("make", func(ctx context.Context, _ ports.CommandRequest) (ports.CommandResult, error) {
		cancel()
		<-ctx.Done()
		return ports.CommandResult{ExitCode: -1}, ctx.Err()
	})

	report, err := h.orchestrator(Options{}, d).Install(ctx, "slow")
	require.NoError(t, err)

	e, _ := report.Entry("slow")
	assert.Equal(t, OutcomeFailed, e.Outcome)
	assert.ErrorIs(t, e.Err, context.Canceled)
	assert.Equal(t, build.PhaseBuild.ExitCode(), report.ExitCode())
	assert.Equal(t, build.PrefixFailed, h.state("slow"))
}

func TestOrchestrator_Test(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	lib := h.formula("lib").Build(t)
	tool := h.formula("tool").WithRuntimeDeps("lib").WithTest("check", "{{prefix}}/bin/tool", "{{opt:lib}}/bin/lib").Build(t)
	o := h.orchestrator(Options{}, tool, lib)

	report, err := o.Test(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, build.PhaseInstall.ExitCode(), report.ExitCode())
	var ie *build.InstallError
	require.True(t, errors.As(report.Err(), &ie))
	assert.Equal(t, build.ReasonNotInstalled, ie.Reason)
	assert.Empty(t, h.runner.CallsTo("check"))

	_, err = o.Install(ctx, "tool")
	require.NoError(t, err)

	report, err = o.Test(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, 0, report.ExitCode())
	e, _ := report.Entry("tool")
	assert.Equal(t, build.VerificationPassed, e.Verification)
	assert.Len(t, h.runner.CallsTo("check"), 2, "install and test both verify")
	assert.Equal(t, []string{"lib", "tool"}, h.builds.built(), "test builds nothing")
}

func TestOrchestrator_TestMissingDependency(t *testing.T) {
	t.Parallel()

	h := newHarness(t)
	ctx := context.Background()
	lib := h.formula("lib").Build(t)
	tool := h.formula("tool").WithRuntimeDeps("lib").Build(t)
	o := h.orchestrator(Options{}, tool, lib)

	_, err := o.Install(ctx, "tool")
	require.NoError(t, err)
	require.NoError(t, os.RemoveAll(filepath.Join(h.cellarDir(), "lib")))

	report, err := o.Test(ctx, "tool")
	require.NoError(t, err)
	assert.Equal(t, 4, report.ExitCode())
	e, _ := report.Entry("lib")
	assert.Equal(t, OutcomeFailed, e.Outcome)
}

func TestNewOrchestrator_RequiresComponents(t *testing.T) {
	t.Parallel()

	_, err := NewOrchestrator(Components{}, Options{})
	assert.Error(t, err)
}

func snapshot(t *testing.T, root string) map[string]string {
	t.Helper()
	out := make(map[string]string)
	err := filepath.Walk(root, func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		rel, _ := filepath.Rel(root, path)
		if info.IsDir() {
			out[rel] = "dir"
			return nil
		}
		data, err := os.ReadFile(path)
		if err != nil {
			return err
		}
		out[rel] = info.Mode().String() + ":" + string(data)
		return nil
	})
	require.NoError(t, err)
	return out
}
