package main

import (
	"github.com/spf13/cobra"
)

func newInstallCmd(global *globalOptions) *cobra.Command {
	run := &runOptions{}
	var force bool

	cmd := &cobra.Command{
		Use:   "install <formula>",
		Short: "Build and install a formula and its dependencies",
		Long: `Resolve a formula and its dependencies, then fetch, build, install and
test each of them, dependencies first.

Formulas whose current build is already installed are reused unless
--force is given. A failing test is reported but keeps the install.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, global, run)
			if err != nil {
				return err
			}
			o, err := env.orchestrator(cmd.ErrOrStderr(), force)
			if err != nil {
				return err
			}

			ctx, cancel := env.runContext(cmd.Context())
			defer cancel()

			report, err := o.Install(ctx, args[0])
			if err != nil {
				return err
			}
			return finish(cmd, "install", report)
		},
	}

	addRunFlags(cmd, run)
	cmd.Flags().BoolVar(&force, "force", false, "rebuild formulas that are already installed")
	return cmd
}
