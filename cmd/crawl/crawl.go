// Package crawl implements the crawl commands: one subcommand per spider
// registered in the info file, each resolving its arguments from the
// command line and the YAML args file before running the crawl.
package crawl

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/datamastor/datamastor/cmd/common"
	"github.com/datamastor/datamastor/internal/spider"
	"github.com/datamastor/datamastor/internal/storage"
)

// Command creates the crawl parent command.
func Command() *cobra.Command {
	return &cobra.Command{
		Use:   "crawl",
		Short: "Run a spider",
		Long: `Run one of the spiders registered in the info file. Each spider is a
subcommand; its arguments resolve from the command line, the YAML args
file, and the spider's declared defaults, in that order.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
}

// AddSpiderCommands registers one subcommand per spider found in the info
// file. A missing or broken info file leaves the crawl command empty; the
// error surfaces when a spider is actually requested.
func AddSpiderCommands(parent *cobra.Command, infoFile string) {
	registry, err := spider.LoadRegistry(infoFile)
	if err != nil {
		parent.Long += fmt.Sprintf("\n\nNo spiders available: %v", err)
		return
	}
	for _, spec := range registry.All() {
		parent.AddCommand(spiderCommand(spec))
	}
}

// spiderFlags are the per-run flags shared by all spider commands.
type spiderFlags struct {
	settings  []string
	args      []string
	url       string
	saveHTML  bool
	now       string
	dontStore bool
	testCLI   bool
	includes  [3]string
	excludes  [3]string
}

func spiderCommand(spec *spider.Spec) *cobra.Command {
	flags := &spiderFlags{}

	cmd := &cobra.Command{
		Use:   spec.Name,
		Short: fmt.Sprintf("Crawl %s (%s)", spec.Shop, spec.Kind),
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runSpider(cmd, spec, flags)
		},
	}

	cmd.Flags().StringArrayVarP(&flags.settings, "set", "s", nil,
		"crawl setting KEY=VALUE (repeatable)")
	cmd.Flags().StringArrayVarP(&flags.args, "arg", "a", nil,
		"spider argument name=value (repeatable)")
	cmd.Flags().StringVarP(&flags.url, "url", "u", "", "override the start URL")
	cmd.Flags().BoolVar(&flags.saveHTML, "save-html", false,
		"save fetched pages into the output directory")
	cmd.Flags().StringVarP(&flags.now, "now", "n", "", "override the run timestamp")
	cmd.Flags().BoolVar(&flags.dontStore, "dont-store", false,
		"validate the scraped items but do not commit them")
	cmd.Flags().BoolVarP(&flags.testCLI, "test-cli", "t", false,
		"resolve and print the run's arguments, then exit")

	if spec.Kind == spider.KindSrc {
		for i := range flags.includes {
			cmd.Flags().StringVar(&flags.includes[i], fmt.Sprintf("include%d", i+1), "",
				fmt.Sprintf("category filter for tree level %d", i+1))
			cmd.Flags().StringVar(&flags.excludes[i], fmt.Sprintf("exclude%d", i+1), "",
				fmt.Sprintf("category exclusion for tree level %d", i+1))
		}
	}
	return cmd
}

func runSpider(cmd *cobra.Command, spec *spider.Spec, flags *spiderFlags) error {
	deps, err := common.NewCommandDeps()
	if err != nil {
		return fmt.Errorf("failed to get dependencies: %w", err)
	}

	resolution, err := deps.Args.Resolve(cmd)
	if err != nil {
		return err
	}

	opts, err := buildOptions(deps, resolution.Unspecified, flags)
	if err != nil {
		return err
	}

	s, err := spider.New(spec, deps.Config.GetCrawlerConfig(), opts)
	if err != nil {
		return err
	}

	if flags.testCLI {
		fmt.Fprint(cmd.OutOrStdout(), s.Describe())
		return nil
	}

	return RunSpider(cmd.Context(), deps, s, spec)
}

// buildOptions turns the parsed flags and args-file leftovers into spider
// options.
func buildOptions(deps common.CommandDeps, extra map[string]any, flags *spiderFlags) (spider.Options, error) {
	settings, err := parsePairs(flags.settings)
	if err != nil {
		return spider.Options{}, fmt.Errorf("bad -s value: %w", err)
	}
	args, err := parsePairs(flags.args)
	if err != nil {
		return spider.Options{}, fmt.Errorf("bad -a value: %w", err)
	}
	for i, include := range flags.includes {
		if include != "" {
			args[fmt.Sprintf("include%d", i+1)] = include
		}
	}
	for i, exclude := range flags.excludes {
		if exclude != "" {
			args[fmt.Sprintf("exclude%d", i+1)] = exclude
		}
	}

	opts := spider.Options{
		Settings:  settings,
		Args:      args,
		Extra:     extra,
		URL:       flags.url,
		SaveHTML:  flags.saveHTML,
		DontStore: flags.dontStore,
		Logger:    deps.Logger,
	}
	if flags.now != "" {
		now, parseErr := spider.ParseNow(flags.now)
		if parseErr != nil {
			return spider.Options{}, parseErr
		}
		opts.Now = now
	}
	return opts, nil
}

// RunSpider opens the store, attaches the kind's storer pipeline, and
// runs the crawl.
func RunSpider(ctx context.Context, deps common.CommandDeps, s *spider.Spider, spec *spider.Spec) error {
	db, err := deps.OpenDatabase()
	if err != nil {
		return err
	}
	defer db.Close()

	log := deps.Logger.WithSpider(spec.Name).WithRunID(s.RunID)
	storerOpts := storage.StorerOptions{
		Now:       s.Now(),
		DontStore: s.DontStore(),
		Logger:    log,
	}

	var (
		storer  storage.Storer
		handler spider.ItemHandler
	)
	switch spec.Kind {
	case spider.KindSrc:
		srcStorer := storage.NewSourceStorer(db, sourceSamples(), storerOpts)
		storer = srcStorer
		handler = func(ctx context.Context, item any) error {
			src, ok := item.(storage.SourceItem)
			if !ok {
				return fmt.Errorf("unexpected item type %T", item)
			}
			return srcStorer.Process(ctx, src)
		}
	case spider.KindLst:
		lstStorer := storage.NewListingStorer(db, listingSamples(), storerOpts)
		storer = lstStorer
		handler = func(ctx context.Context, item any) error {
			lst, ok := item.(storage.ListingItem)
			if !ok {
				return fmt.Errorf("unexpected item type %T", item)
			}
			return lstStorer.Process(ctx, lst)
		}
	default:
		return fmt.Errorf("unknown spider kind %q", spec.Kind)
	}

	if err := storer.Open(ctx); err != nil {
		return err
	}

	start := time.Now()
	result, runErr := s.Run(ctx, handler)
	if closeErr := storer.Close(ctx); closeErr != nil && runErr == nil {
		runErr = closeErr
	}
	if runErr != nil {
		return runErr
	}

	log.WithDuration(time.Since(start)).Info("Run complete",
		"visited", result.Visited,
		"added", storer.Added(),
		"dropped", storer.Dropped(),
		"feed", result.FeedPath)
	return nil
}

// sourceSamples exercise the source pipeline before a run: a small tree
// whose effects are discarded.
func sourceSamples() []storage.SourceItem {
	return []storage.SourceItem{
		{URL: "https://sample.invalid", Level: 0},
		{URL: "https://sample.invalid/a", ParentURL: "https://sample.invalid", Level: 1},
	}
}

// listingSamples exercise the listing pipeline, including price curing.
func listingSamples() []storage.ListingItem {
	return []storage.ListingItem{
		{Text: "sample listing", Price: "1,00 €"},
		{Text: "sample listing without price", Price: ""},
	}
}

// parsePairs parses repeated KEY=VALUE flag values.
func parsePairs(pairs []string) (map[string]string, error) {
	out := map[string]string{}
	for _, pair := range pairs {
		key, value, found := strings.Cut(pair, "=")
		if !found || key == "" {
			return nil, fmt.Errorf("expected KEY=VALUE, got %q", pair)
		}
		out[key] = value
	}
	return out, nil
}
