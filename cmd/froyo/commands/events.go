package commands

import (
	"context"

	"github.com/spf13/cobra"
)

func newEventsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "events",
		Short: "Follow a stack operation that is already running",
		Long: `Events attaches to a stack that is converging, for example after an earlier
deploy was interrupted, and streams its events until the operation ends.
It returns immediately when the stack is idle.`,
		Example: `  froyo events --env production`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				return a.deployer.Events(ctx, a.env)
			})
		},
	}
}
