package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/logger"
)

// ErrUnknownFeedKind indicates the feed path names neither a source nor a
// listing spider run.
var ErrUnknownFeedKind = errors.New("feed path contains neither '_src/' nor '_lst/'")

// FeedResult summarizes one reprocessed feed file.
type FeedResult struct {
	Path    string
	Items   int
	Added   int
	Dropped int
}

// ProcessFeed replays a feed.json written by a previous spider run through
// the matching storer. The item kind is detected from the feed path: runs
// of source spiders live under an "<shop>_src/" directory, listing runs
// under "<shop>_lst/".
func ProcessFeed(
	ctx context.Context,
	db *sqlx.DB,
	path string,
	opts StorerOptions,
	log logger.Interface,
) (*FeedResult, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve feed path: %w", err)
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("failed to read feed: %w", err)
	}

	switch {
	case strings.Contains(abs, "_src/"):
		var items []SourceItem
		if unmarshalErr := json.Unmarshal(data, &items); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to decode source feed: %w", unmarshalErr)
		}
		storer := NewSourceStorer(db, nil, opts)
		return replay(ctx, storer, abs, items, func(ctx context.Context, item SourceItem) error {
			return storer.Process(ctx, item)
		}, log)
	case strings.Contains(abs, "_lst/"):
		var items []ListingItem
		if unmarshalErr := json.Unmarshal(data, &items); unmarshalErr != nil {
			return nil, fmt.Errorf("failed to decode listing feed: %w", unmarshalErr)
		}
		storer := NewListingStorer(db, nil, opts)
		return replay(ctx, storer, abs, items, func(ctx context.Context, item ListingItem) error {
			return storer.Process(ctx, item)
		}, log)
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnknownFeedKind, abs)
	}
}

// FindFeeds returns path itself if it is a file, or all feed.json files
// below it if it is a directory.
func FindFeeds(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("failed to stat feed path: %w", err)
	}
	if !info.IsDir() {
		return []string{path}, nil
	}
	var feeds []string
	walkErr := filepath.WalkDir(path, func(p string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() && d.Name() == "feed.json" {
			feeds = append(feeds, p)
		}
		return nil
	})
	if walkErr != nil {
		return nil, fmt.Errorf("failed to scan for feeds: %w", walkErr)
	}
	return feeds, nil
}

// replay drives a storer over the decoded feed items. Dropped items are
// logged and skipped; any other error aborts the replay.
func replay[T any](
	ctx context.Context,
	storer Storer,
	path string,
	items []T,
	process func(context.Context, T) error,
	log logger.Interface,
) (*FeedResult, error) {
	if err := storer.Open(ctx); err != nil {
		return nil, fmt.Errorf("failed to open storer: %w", err)
	}
	for _, item := range items {
		if err := process(ctx, item); err != nil {
			if errors.Is(err, ErrDropItem) {
				log.Warn("Dropped feed item", "feed", path, "error", err)
				continue
			}
			return nil, err
		}
	}
	if err := storer.Close(ctx); err != nil {
		return nil, fmt.Errorf("failed to close storer: %w", err)
	}
	return &FeedResult{
		Path:    path,
		Items:   len(items),
		Added:   storer.Added(),
		Dropped: storer.Dropped(),
	}, nil
}
