package storage_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/datamastor/datamastor/internal/storage"
)

var testNow = time.Date(2026, 3, 14, 12, 0, 0, 0, time.UTC)

func TestSourceStorer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("StoresTreeResolvingParents", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewSourceStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))

		require.NoError(t, s.Process(ctx, storage.SourceItem{URL: "shop", Level: 0}))
		require.NoError(t, s.Process(ctx, storage.SourceItem{URL: "shoes", ParentURL: "shop", Level: 1}))
		require.NoError(t, s.Process(ctx, storage.SourceItem{URL: "boots", ParentURL: "shoes", Level: 2}))
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 3, s.Added())

		repo := storage.NewSourceRepository(db)
		full, err := repo.FullURL(ctx, 3)
		require.NoError(t, err)
		assert.Equal(t, "shop/shoes/boots", full)
	})

	t.Run("DropsItemWithUnknownParent", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewSourceStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))

		err := s.Process(ctx, storage.SourceItem{URL: "orphan", ParentURL: "missing", Level: 1})
		assert.ErrorIs(t, err, storage.ErrDropItem)
		assert.Equal(t, 1, s.Dropped())
		require.NoError(t, s.Close(ctx))
	})

	t.Run("DropsNonZeroLevelWithoutParent", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewSourceStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))

		err := s.Process(ctx, storage.SourceItem{URL: "floating", Level: 2})
		assert.ErrorIs(t, err, storage.ErrDropItem)
		require.NoError(t, s.Close(ctx))
	})

	t.Run("DontStoreDiscardsRows", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewSourceStorer(db, nil, storage.StorerOptions{Now: testNow, DontStore: true})
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Process(ctx, storage.SourceItem{URL: "shop", Level: 0}))
		require.NoError(t, s.Close(ctx))

		n, err := storage.NewSourceRepository(db).Count(ctx)
		require.NoError(t, err)
		assert.Zero(t, n)
	})

	t.Run("SamplePreflightLeavesNoRows", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		samples := []storage.SourceItem{
			{URL: "sample-root", Level: 0},
			{URL: "sample-child", ParentURL: "sample-root", Level: 1},
		}
		s := storage.NewSourceStorer(db, samples, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Process(ctx, storage.SourceItem{URL: "real", Level: 0}))
		require.NoError(t, s.Close(ctx))

		repo := storage.NewSourceRepository(db)
		n, err := repo.Count(ctx)
		require.NoError(t, err)
		assert.EqualValues(t, 1, n)
	})

	t.Run("FailingSampleFailsOpen", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		samples := []storage.SourceItem{{URL: "bad", ParentURL: "missing", Level: 1}}
		s := storage.NewSourceStorer(db, samples, storage.StorerOptions{Now: testNow})
		assert.ErrorIs(t, s.Open(ctx), storage.ErrDropItem)
	})

	t.Run("ProcessAfterCloseFails", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewSourceStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Close(ctx))
		assert.ErrorIs(t, s.Process(ctx, storage.SourceItem{URL: "late"}), storage.ErrStorerClosed)
	})
}

func TestListingStorer(t *testing.T) {
	t.Parallel()
	ctx := context.Background()

	t.Run("CuresAndParsesPrices", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewListingStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))

		require.NoError(t, s.Process(ctx, storage.ListingItem{Text: "boots", Price: " 49,90 € "}))
		require.NoError(t, s.Process(ctx, storage.ListingItem{Text: "socks", Price: "9.50"}))
		require.NoError(t, s.Process(ctx, storage.ListingItem{Text: "gift", Price: ""}))
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 3, s.Added())

		repo := storage.NewListingRepository(db)
		listings, err := repo.List(ctx, 0, 0)
		require.NoError(t, err)
		require.Len(t, listings, 3)
		assert.InDelta(t, 49.90, listings[0].Price.Float64, 0.001)
		assert.InDelta(t, 9.50, listings[1].Price.Float64, 0.001)
		assert.False(t, listings[2].Price.Valid)
	})

	t.Run("DropsUnparsablePrice", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewListingStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))

		err := s.Process(ctx, storage.ListingItem{Text: "odd", Price: "call us"})
		assert.ErrorIs(t, err, storage.ErrDropItem)
		require.NoError(t, s.Close(ctx))
		assert.Equal(t, 1, s.Dropped())
	})

	t.Run("StampsRunTimestamp", func(t *testing.T) {
		t.Parallel()
		db := newTestDB(t)
		s := storage.NewListingStorer(db, nil, storage.StorerOptions{Now: testNow})
		require.NoError(t, s.Open(ctx))
		require.NoError(t, s.Process(ctx, storage.ListingItem{Text: "boots", Price: "10"}))
		require.NoError(t, s.Close(ctx))

		got, err := storage.NewListingRepository(db).GetByID(ctx, 1)
		require.NoError(t, err)
		assert.True(t, got.CreatedAt.Equal(testNow))
	})
}
