// Package pipeline implements the pipeline command, which replays feed
// files from previous runs through the storer pipelines.
package pipeline

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/datamastor/datamastor/cmd/common"
	"github.com/datamastor/datamastor/internal/storage"
)

// Command creates the pipeline command.
func Command() *cobra.Command {
	var dontStore bool

	cmd := &cobra.Command{
		Use:   "pipeline [path]",
		Short: "Replay feed files through the storer pipelines",
		Long: `Replay the feed.json files under the given path (default: the output
base directory) through the storer pipelines. The item kind is detected
from the path: feeds under a _src run directory hold sources, feeds under
a _lst run directory hold listings.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			if _, err := deps.Args.Resolve(cmd); err != nil {
				return err
			}

			root := deps.Config.GetCrawlerConfig().OutDirBase
			if len(args) > 0 {
				root = args[0]
			}

			feeds, err := storage.FindFeeds(root)
			if err != nil {
				return err
			}
			if len(feeds) == 0 {
				deps.Logger.Info("No feeds found", "path", root)
				return nil
			}

			db, err := deps.OpenDatabase()
			if err != nil {
				return err
			}
			defer db.Close()

			opts := storage.StorerOptions{DontStore: dontStore, Logger: deps.Logger}
			for _, feed := range feeds {
				result, processErr := storage.ProcessFeed(cmd.Context(), db, feed, opts, deps.Logger)
				if processErr != nil {
					return fmt.Errorf("failed to process feed %q: %w", feed, processErr)
				}
				deps.Logger.Info("Feed processed",
					"path", feed,
					"items", result.Items,
					"added", result.Added,
					"dropped", result.Dropped)
			}
			return nil
		},
	}

	// Replays default to a trial run; committing old feeds is opt-in.
	cmd.Flags().BoolVar(&dontStore, "dont-store", true,
		"validate the feed items but do not commit them")
	return cmd
}
