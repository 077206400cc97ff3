package main

import (
	"context"
	"io"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cellar/internal/adapters/archive"
	"github.com/felixgeelhaar/cellar/internal/adapters/command"
	"github.com/felixgeelhaar/cellar/internal/adapters/download"
	"github.com/felixgeelhaar/cellar/internal/adapters/filesystem"
	"github.com/felixgeelhaar/cellar/internal/adapters/formulafile"
	"github.com/felixgeelhaar/cellar/internal/adapters/logging"
	"github.com/felixgeelhaar/cellar/internal/adapters/receipt"
	"github.com/felixgeelhaar/cellar/internal/app"
	"github.com/felixgeelhaar/cellar/internal/config"
	"github.com/felixgeelhaar/cellar/internal/domain/build"
	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ports"
	"github.com/felixgeelhaar/cellar/internal/ui"
)

// environment is everything a command needs, resolved from flags,
// config and the formula directory.
type environment struct {
	cfg      config.Config
	logger   ports.Logger
	registry *formula.Registry
}

func loadEnvironment(cmd *cobra.Command, global *globalOptions, run *runOptions) (*environment, error) {
	cfg, err := config.Resolve(overrides(cmd, global, run), nil)
	if err != nil {
		return nil, err
	}

	logger, err := newLogger(cfg, global.verbose, cmd.ErrOrStderr())
	if err != nil {
		return nil, err
	}

	registry, err := formulafile.LoadDir(cfg.FormulaDir())
	if err != nil {
		return nil, err
	}
	logger.Debug(cmd.Context(), "loaded formulae", ports.F("dir", cfg.FormulaDir()), ports.F("count", registry.Len()))

	return &environment{cfg: cfg, logger: logger, registry: registry}, nil
}

// overrides collects the flags that were given on the command line.
func overrides(cmd *cobra.Command, global *globalOptions, run *runOptions) config.Overrides {
	o := config.Overrides{ConfigFile: global.configFile}
	flags := cmd.Flags()

	if flags.Changed("root") {
		o.Root = &global.root
	}
	if flags.Changed("formulae") {
		o.Formulae = &global.formulae
	}
	if flags.Changed("log-format") {
		o.LogFormat = &global.logFormat
	}
	if run != nil {
		if flags.Changed("jobs") {
			o.Jobs = &run.jobs
		}
		if flags.Changed("keep-build-dir") {
			o.KeepBuildDir = &run.keepBuildDir
		}
		if flags.Changed("timeout") {
			o.Timeout = &run.timeout
		}
	}
	return o
}

func newLogger(cfg config.Config, verbose bool, w io.Writer) (ports.Logger, error) {
	level, err := ports.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	if verbose {
		level = ports.LevelDebug
	}

	if cfg.LogFormat == config.LogFormatJSON {
		return logging.NewJSONLogger(w, level), nil
	}
	return logging.NewConsoleLogger(logging.WithOutput(w), logging.WithLevel(level)), nil
}

// orchestrator wires the build phases to the real adapters.
func (e *environment) orchestrator(progress io.Writer, force bool) (*app.Orchestrator, error) {
	runner := command.NewRealRunner()
	return app.NewOrchestrator(app.Components{
		Registry:  e.registry,
		Fetcher:   build.NewFetcher(download.New(download.WithProgress(progress)), archive.NewExtractor(), e.cfg.TmpDir()),
		Stages:    build.NewStageRunner(runner),
		Installer: build.NewInstaller(filesystem.NewRealFileSystem(), receipt.NewYAMLRepository(e.cfg.ReceiptsDir()), e.cfg.CellarDir()),
		Verifier:  build.NewVerifier(runner, e.cfg.TmpDir()),
	}, app.Options{
		Jobs:         e.cfg.Jobs,
		KeepBuildDir: e.cfg.KeepBuildDir,
		Force:        force,
	})
}

// runContext carries the logger and applies the configured timeout.
func (e *environment) runContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx := ports.ContextWithLogger(parent, e.logger)
	if e.cfg.Timeout > 0 {
		return context.WithTimeout(ctx, e.cfg.Timeout)
	}
	return context.WithCancel(ctx)
}

// finish prints the report and the root failures, and turns a non-zero
// exit code into an exitError.
func finish(cmd *cobra.Command, verb string, report app.Report) error {
	if err := ui.RenderReport(cmd.OutOrStdout(), verb, report); err != nil {
		return err
	}

	for _, e := range report.Entries {
		if e.Err == nil || e.Outcome == app.OutcomeDependencyFailed {
			continue
		}
		printErrorTo(cmd.ErrOrStderr(), e.Err)
	}

	if code := report.ExitCode(); code != 0 {
		return &exitError{code: code}
	}
	return nil
}
