package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func newHistoryCommand() *cobra.Command {
	var (
		limit    int
		allStack bool
	)

	cmd := &cobra.Command{
		Use:   "history [deployment-id]",
		Short: "List journaled deployments or show one with its stack events",
		Long: `History reads the local deployment journal. Without arguments it lists the
most recent deploy, update and destroy runs of the environment's stack. With
a deployment id it shows that run and every stack event it observed.`,
		Example: `  froyo history --env production
  froyo history --all --limit 50
  froyo history 3f0c2a4e-5d1b-4c47-9a55-0b7f3c1d9e21`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				if len(args) == 1 {
					d, err := a.journal.GetDeployment(ctx, args[0])
					if err != nil {
						return err
					}
					events, err := a.journal.ListStackEvents(ctx, d.ID)
					if err != nil {
						return err
					}
					printDeployment(os.Stdout, d, events)
					return nil
				}

				stackName := ""
				if !allStack {
					var err error
					if stackName, err = a.project.StackName(a.env); err != nil {
						return err
					}
				}
				deployments, err := a.journal.ListDeployments(ctx, stackName, limit, 0)
				if err != nil {
					return err
				}
				printHistory(os.Stdout, deployments)
				return nil
			})
		},
	}

	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of deployments to list")
	cmd.Flags().BoolVar(&allStack, "all", false, "list deployments of every stack in the journal")

	return cmd
}
