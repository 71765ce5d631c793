package storage_test

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamastor/datamastor/internal/logger"
	"github.com/datamastor/datamastor/internal/storage"
)

func writeFeed(t *testing.T, dir, content string) string {
	t.Helper()
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path := filepath.Join(dir, "feed.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestProcessFeed(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("SourceFeed", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		dir := filepath.Join(t.TempDir(), "out", "shop_src", "run1")
		path := writeFeed(t, dir, `[
			{"url": "shop", "parent_url": "", "level": 0},
			{"url": "shoes", "parent_url": "shop", "level": 1},
			{"url": "orphan", "parent_url": "nowhere", "level": 1}
		]`)

		result, err := storage.ProcessFeed(ctx, db, path,
			storage.StorerOptions{Now: testNow}, logger.NewNoOp())
		require.NoError(t, err)
		assert.Equal(t, 3, result.Items)
		assert.Equal(t, 2, result.Added)
		assert.Equal(t, 1, result.Dropped)

		n, err := storage.NewSourceRepository(db).Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 2, n)
	})

	t.Run("ListingFeed", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		dir := filepath.Join(t.TempDir(), "out", "shop_lst", "run1")
		path := writeFeed(t, dir, `[
			{"text": "boots", "price": "49,90 €"},
			{"text": "socks", "price": "5"}
		]`)

		result, err := storage.ProcessFeed(ctx, db, path,
			storage.StorerOptions{Now: testNow}, logger.NewNoOp())
		require.NoError(t, err)
		assert.Equal(t, 2, result.Added)
	})

	t.Run("UnknownKind", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		path := writeFeed(t, filepath.Join(t.TempDir(), "plain"), `[]`)

		_, err := storage.ProcessFeed(ctx, db, path,
			storage.StorerOptions{Now: testNow}, logger.NewNoOp())
		assert.ErrorIs(t, err, storage.ErrUnknownFeedKind)
	})

	t.Run("DontStoreReplay", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		dir := filepath.Join(t.TempDir(), "out", "shop_lst", "run2")
		path := writeFeed(t, dir, `[{"text": "boots", "price": "10"}]`)

		_, err := storage.ProcessFeed(ctx, db, path,
			storage.StorerOptions{Now: testNow, DontStore: true}, logger.NewNoOp())
		require.NoError(t, err)

		n, err := storage.NewListingRepository(db).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})
}

func TestFindFeeds(t *testing.T) {
	t.Parallel()

	t.Run("FileYieldsItself", func(t *testing.T) {
		t.Parallel()
		path := writeFeed(t, filepath.Join(t.TempDir(), "x_lst"), `[]`)
		feeds, err := storage.FindFeeds(path)
		require.NoError(t, err)
		assert.Equal(t, []string{path}, feeds)
	})

	t.Run("DirectoryIsScannedRecursively", func(t *testing.T) {
		t.Parallel()
		base := t.TempDir()
		first := writeFeed(t, filepath.Join(base, "a_src", "run1"), `[]`)
		second := writeFeed(t, filepath.Join(base, "b_lst", "run2"), `[]`)

		feeds, err := storage.FindFeeds(base)
		require.NoError(t, err)
		assert.ElementsMatch(t, []string{first, second}, feeds)
	})

	t.Run("MissingPathFails", func(t *testing.T) {
		t.Parallel()
		_, err := storage.FindFeeds(filepath.Join(t.TempDir(), "missing"))
		assert.Error(t, err)
	})
}
