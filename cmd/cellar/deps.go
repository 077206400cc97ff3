package main

import (
	"github.com/spf13/cobra"

	"github.com/felixgeelhaar/cellar/internal/domain/formula"
	"github.com/felixgeelhaar/cellar/internal/ui"
)

func newDepsCmd(global *globalOptions) *cobra.Command {
	var runtimeOnly bool

	cmd := &cobra.Command{
		Use:   "deps <formula>",
		Short: "Show the build order of a formula",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			env, err := loadEnvironment(cmd, global, nil)
			if err != nil {
				return err
			}

			scope := formula.ScopeAll
			if runtimeOnly {
				scope = formula.ScopeRuntime
			}
			order, err := formula.ResolveScope(args[0], env.registry, scope)
			if err != nil {
				return err
			}
			return ui.RenderDeps(cmd.OutOrStdout(), args[0], order, runtimeOnly)
		},
	}

	cmd.Flags().BoolVar(&runtimeOnly, "runtime", false, "follow runtime dependencies only")
	return cmd
}
