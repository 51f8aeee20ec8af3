package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyostack/pkg/deploy"
)

func newDeployCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "deploy",
		Short: "Compose, package and deploy the project",
		Long: `Deploy composes the CloudFormation template, checks it against the schema and
policies, bundles and uploads every function, converges the stack and syncs
the static site to the stack's site bucket.

A stack that does not exist yet is created. An existing stack is updated in
place, or through a changeset when the project sets use_changeset.`,
		Example: `  # Deploy the only environment of ./froyo.yaml
  froyo deploy

  # Deploy production without confirmation prompts
  froyo deploy --env production --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				report, err := a.deployer.Deploy(ctx, a.env)
				printReport(os.Stdout, report)
				return err
			})
		},
	}
}

func newUpdateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "update",
		Short: "Change stack parameters without redeploying the template",
		Long: `Update re-submits the template the stack already runs with new parameter
values. Every parameter is asked for again, offering to keep its current value.
No code is packaged or uploaded.`,
		Example: `  froyo update --env staging`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				report, err := a.deployer.UpdateParameters(ctx, a.env)
				printReport(os.Stdout, report)
				return err
			})
		},
	}
}

func newDestroyCommand() *cobra.Command {
	var purgeArtifacts bool

	cmd := &cobra.Command{
		Use:   "destroy",
		Short: "Delete the stack and empty its site bucket",
		Long: `Destroy asks for confirmation, empties the static-site bucket of the stack and
deletes the stack, waiting until every resource is gone.

Function bundles stay in the deployment bucket unless --purge-artifacts is
given, since other environments may share them.`,
		Example: `  froyo destroy --env dev
  froyo destroy --env dev --purge-artifacts --yes`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				report, err := a.deployer.Destroy(ctx, a.env, deploy.DestroyOptions{PurgeArtifacts: purgeArtifacts})
				printReport(os.Stdout, report)
				return err
			})
		},
	}

	cmd.Flags().BoolVar(&purgeArtifacts, "purge-artifacts", false, "also delete function bundles from the deployment bucket")

	return cmd
}
