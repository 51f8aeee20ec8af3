package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

func newValidateCommand() *cobra.Command {
	var (
		watch        bool
		showTemplate bool
	)

	cmd := &cobra.Command{
		Use:   "validate",
		Short: "Compose the template and check it against schema and policies",
		Long: `Validate composes the CloudFormation template exactly as deploy would and
checks it without calling AWS:
  - fragment collisions and undeclared parameters
  - the template wire-shape schema (CUE)
  - builtin and project policies (OPA/rego)

With --watch, the project policies are reloaded and the template is checked
again whenever a policy file changes.`,
		Example: `  # Validate the production template
  froyo validate --env production

  # Print the composed template
  froyo validate --template

  # Re-check while editing policies
  froyo validate --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				err := a.validate(ctx, showTemplate)
				if !watch {
					return err
				}

				paths := a.project.PolicyPaths()
				if len(paths) == 0 {
					return fmt.Errorf("project %s declares no policy paths to watch", a.project.Name)
				}
				err = a.policies.WatchPolicies(ctx, paths, func() {
					if err := a.validate(ctx, false); err != nil {
						a.logger.Error().Err(err).Msg("Validation failed")
					}
				})
				if err != nil {
					return err
				}
				a.logger.Info().Msg("Watching policies for changes, press Ctrl+C to stop")
				<-ctx.Done()
				return nil
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-validate when policy files change")
	cmd.Flags().BoolVar(&showTemplate, "template", false, "print the composed template")

	return cmd
}

func (a *app) validate(ctx context.Context, showTemplate bool) error {
	dc, err := a.project.DeploymentContext(a.env)
	if err != nil {
		return err
	}

	tmpl, result, err := a.deployer.Validate(ctx, dc, "validate")
	if result != nil {
		printPolicyResult(os.Stdout, result)
	}
	if err != nil {
		return err
	}

	if showTemplate {
		body, err := tmpl.Body()
		if err != nil {
			return err
		}
		fmt.Fprintln(os.Stdout, body)
	}
	return nil
}
