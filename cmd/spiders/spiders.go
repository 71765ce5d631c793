// Package spiders implements the spiders command, which lists the spiders
// registered in the info file in a formatted table.
package spiders

import (
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"

	"github.com/datamastor/datamastor/cmd/common"
	"github.com/datamastor/datamastor/internal/spider"
)

// Command creates the spiders command.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spiders",
		Short: "Manage registered spiders",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(listCommand())
	return cmd
}

func listCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List all registered spiders",
		Long:  `List the spiders declared in the info file, one per shop and kind.`,
		RunE: func(_ *cobra.Command, _ []string) error {
			deps, err := common.NewCommandDeps()
			if err != nil {
				return fmt.Errorf("failed to get dependencies: %w", err)
			}

			registry, err := spider.LoadRegistry(deps.Config.GetCrawlerConfig().InfoFile)
			if err != nil {
				return fmt.Errorf("failed to load spider registry: %w", err)
			}

			renderTable(registry.All())
			return nil
		},
	}
}

func renderTable(specs []*spider.Spec) {
	t := table.NewWriter()
	t.SetOutputMirror(os.Stdout)
	t.SetStyle(table.StyleLight)

	t.AppendHeader(table.Row{"Spider", "Shop", "Kind", "Start URLs", "Allowed Domains"})
	for _, spec := range specs {
		t.AppendRow(table.Row{
			spec.Name,
			spec.Shop,
			spec.Kind,
			strings.Join(spec.Fields.StartURLs, "\n"),
			strings.Join(spec.AllowedDomains, "\n"),
		})
	}
	t.Render()
}
