package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cellar/internal/config"
	"github.com/felixgeelhaar/cellar/internal/domain/build"
	"github.com/felixgeelhaar/cellar/internal/ui"
)

// globalOptions holds the flags shared by every command.
type globalOptions struct {
	configFile string
	root       string
	formulae   string
	verbose    bool
	logFormat  string
}

// runOptions holds the flags of the commands that run formulas.
type runOptions struct {
	jobs         int
	keepBuildDir bool
	timeout      time.Duration
}

// exitError carries the exit code of a run whose report was already printed.
type exitError struct {
	code int
}

func (e *exitError) Error() string {
	return fmt.Sprintf("exit status %d", e.code)
}

func newRootCmd() *cobra.Command {
	opts := &globalOptions{}

	rootCmd := &cobra.Command{
		Use:   "cellar",
		Short: "A formula-driven build orchestrator",
		Long: `Cellar builds software from source formulas into private install prefixes.

Every formula is resolved with its dependencies and driven through
  Fetch → Build → Install → Test
one formula at a time per worker, dependencies first.`,
		SilenceErrors: true, // We handle error formatting ourselves
		SilenceUsage:  true, // Don't show usage on error
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "config file (default: <root>/config.yaml)")
	flags.StringVar(&opts.root, "root", "", "cellar root (default: $CELLAR_ROOT or ~/.cellar)")
	flags.StringVar(&opts.formulae, "formulae", "", "formula directory (default: <root>/formulae)")
	flags.BoolVarP(&opts.verbose, "verbose", "v", false, "verbose output")
	flags.StringVar(&opts.logFormat, "log-format", config.LogFormatText, "log format (text, json)")

	_ = rootCmd.RegisterFlagCompletionFunc("config", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{"yaml", "yml"}, cobra.ShellCompDirectiveFilterFileExt
	})
	_ = rootCmd.RegisterFlagCompletionFunc("log-format", func(_ *cobra.Command, _ []string, _ string) ([]string, cobra.ShellCompDirective) {
		return []string{
			"text\tHuman-readable lines",
			"json\tOne JSON object per line",
		}, cobra.ShellCompDirectiveNoFileComp
	})

	rootCmd.AddCommand(
		newInstallCmd(opts),
		newTestCmd(opts),
		newDepsCmd(opts),
		newVersionCmd(),
	)
	return rootCmd
}

func addRunFlags(cmd *cobra.Command, opts *runOptions) {
	cmd.Flags().IntVarP(&opts.jobs, "jobs", "j", 0, "formulas built in parallel (default: number of CPUs)")
	cmd.Flags().BoolVar(&opts.keepBuildDir, "keep-build-dir", false, "keep build directories after success")
	cmd.Flags().DurationVar(&opts.timeout, "timeout", 0, "abort the whole run after this long (0 disables)")
}

// execute runs the CLI and returns the process exit code.
func execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	rootCmd := newRootCmd()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(stdout)
	rootCmd.SetErr(stderr)

	err := rootCmd.ExecuteContext(ctx)
	if err == nil {
		return 0
	}

	var exit *exitError
	if errors.As(err, &exit) {
		return exit.code
	}
	printErrorTo(stderr, err)
	return build.ExitCode(err)
}

// printErrorTo prints an error with its phase, suggestion and output.
func printErrorTo(w io.Writer, err error) {
	s := ui.NewStyles(w)
	_, _ = fmt.Fprintf(w, "%s %s\n", s.Error.Render("Error:"), build.Format(err))
}
