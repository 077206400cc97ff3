package main

import (
	"github.com/spf13/cobra"
)

func newTestCmd(global *globalOptions) *cobra.Command {
	run := &runOptions{}

	cmd := &cobra.Command{
		Use:   "test <formula>",
		Short: "Run the test step of an installed formula",
		Long: `Run the test step of a formula against its install prefix.

The formula and its runtime dependencies must already be installed;
nothing is built.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, global, run)
			if err != nil {
				return err
			}
			o, err := env.orchestrator(cmd.ErrOrStderr(), false)
			if err != nil {
				return err
			}

			ctx, cancel := env.runContext(cmd.Context())
			defer cancel()

			report, err := o.Test(ctx, args[0])
			if err != nil {
				return err
			}
			return finish(cmd, "test", report)
		},
	}

	addRunFlags(cmd, run)
	return cmd
}
