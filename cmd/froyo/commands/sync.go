package commands

import (
	"context"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/openfroyo/froyostack/pkg/storage"
)

func newSyncCommand() *cobra.Command {
	var (
		watch    bool
		debounce time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Upload the static site to a deployed stack",
		Long: `Sync uploads the site directory to the site bucket of an already deployed
stack, applying the metadata rules of the project file. Files whose content
is unchanged are skipped.

With --watch, sync keeps running and re-syncs whenever a file under the site
directory changes.`,
		Example: `  froyo sync --env dev
  froyo sync --env dev --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app) error {
				result, err := a.deployer.SyncSite(ctx, a.env)
				if err != nil {
					return err
				}
				printSiteResult(os.Stdout, result)

				if !watch {
					return nil
				}
				a.logger.Info().Msg("Watching site for changes, press Ctrl+C to stop")
				return a.deployer.WatchSite(ctx, a.env, debounce)
			})
		},
	}

	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "re-sync when site files change")
	cmd.Flags().DurationVar(&debounce, "debounce", storage.DefaultDebounce, "quiet period before a re-sync")

	return cmd
}
