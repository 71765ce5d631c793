// Package schedule implements the schedule command, which runs a spider
// repeatedly on a cron expression.
package schedule

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/datamastor/datamastor/cmd/common"
	"github.com/datamastor/datamastor/cmd/crawl"
	"github.com/datamastor/datamastor/internal/spider"
)

// Command creates the schedule command.
func Command() *cobra.Command {
	var cronExpr string

	cmd := &cobra.Command{
		Use:   "schedule <spider>",
		Short: "Run a spider on a cron schedule",
		Long: `Run the named spider repeatedly on a cron schedule. Each invocation is
a full run with its own output directory and run ID. The command blocks
until interrupted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}
			if _, err := deps.Args.Resolve(cmd); err != nil {
				return err
			}

			registry, err := spider.LoadRegistry(deps.Config.GetCrawlerConfig().InfoFile)
			if err != nil {
				return fmt.Errorf("failed to load spider registry: %w", err)
			}
			spec, err := registry.Get(args[0])
			if err != nil {
				return err
			}

			scheduler := cron.New()
			_, err = scheduler.AddFunc(cronExpr, func() {
				if runErr := runOnce(cmd, deps, spec); runErr != nil {
					deps.Logger.Error("Scheduled run failed",
						"spider", spec.Name, "error", runErr)
				}
			})
			if err != nil {
				return fmt.Errorf("bad cron expression %q: %w", cronExpr, err)
			}

			deps.Logger.Info("Scheduler started", "spider", spec.Name, "cron", cronExpr)
			scheduler.Start()
			defer scheduler.Stop()

			sigCh := make(chan os.Signal, 1)
			signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
			select {
			case sig := <-sigCh:
				deps.Logger.Info("Scheduler stopping", "signal", sig.String())
			case <-cmd.Context().Done():
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&cronExpr, "cron", "0 3 * * *",
		"cron expression for the schedule")
	return cmd
}

// runOnce builds a fresh spider and runs it. Each run gets its own
// timestamp, so output directories never collide.
func runOnce(cmd *cobra.Command, deps common.CommandDeps, spec *spider.Spec) error {
	s, err := spider.New(spec, deps.Config.GetCrawlerConfig(), spider.Options{
		Logger: deps.Logger,
	})
	if err != nil {
		return err
	}
	return crawl.RunSpider(cmd.Context(), deps, s, spec)
}
