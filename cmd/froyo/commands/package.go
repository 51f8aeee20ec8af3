package commands

import (
	"context"
	"os"

	"github.com/spf13/cobra"
)

func newPackageCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "package",
		Short: "Bundle every function without deploying",
		Long: `Package bundles and zips every function of the project into the build
directory and prints the content-addressed key each bundle would be uploaded
under. Nothing is uploaded.`,
		Example: `  froyo package`,
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				descriptors, err := a.deployer.Package(ctx)
				if err != nil {
					return err
				}
				printDescriptors(os.Stdout, descriptors)
				return nil
			})
		},
	}
}
