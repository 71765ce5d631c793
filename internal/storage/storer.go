package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/datamastor/datamastor/internal/logger"
)

// Storer is the lifecycle shared by the item-storing pipelines. A storer is
// opened before the crawl, fed every scraped item, and closed after the
// crawl, committing or discarding the accumulated rows in one transaction.
type Storer interface {
	// Open begins the transaction and runs the sample-item preflight.
	Open(ctx context.Context) error
	// Close commits the transaction, or discards it in dont-store mode.
	// A failed commit rolls back.
	Close(ctx context.Context) error
	// Added reports how many items were added during the run.
	Added() int
	// Dropped reports how many items were rejected during the run.
	Dropped() int
}

// StorerOptions configures a storer for one crawl run.
type StorerOptions struct {
	// Now is the run timestamp stamped onto created rows.
	Now time.Time
	// DontStore validates and then discards instead of committing.
	DontStore bool
	// Logger receives per-item decisions. Defaults to the no-op logger.
	Logger logger.Interface
}

// storer carries the transaction state shared by the concrete storers.
type storer struct {
	db        *sqlx.DB
	tx        *sqlx.Tx
	now       time.Time
	dontStore bool
	logger    logger.Interface
	added     int
	dropped   int
}

func newStorer(db *sqlx.DB, opts StorerOptions) storer {
	if opts.Logger == nil {
		opts.Logger = logger.NewNoOp()
	}
	if opts.Now.IsZero() {
		opts.Now = time.Now()
	}
	return storer{
		db:        db,
		now:       opts.Now,
		dontStore: opts.DontStore,
		logger:    opts.Logger,
	}
}

func (s *storer) open(ctx context.Context) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	s.tx = tx
	s.added = 0
	s.dropped = 0
	return nil
}

func (s *storer) close(ctx context.Context) error {
	if s.tx == nil {
		return ErrStorerClosed
	}
	defer func() { s.tx = nil }()

	s.logger.Info("Closing storer", "added", s.added, "dropped", s.dropped)
	if s.dontStore {
		s.logger.Info("Dont-store mode, discarding transaction")
		if err := s.tx.Rollback(); err != nil {
			return fmt.Errorf("failed to discard transaction: %w", err)
		}
		return nil
	}
	if err := s.tx.Commit(); err != nil {
		s.logger.Error("Commit failed, rolling back", "error", err)
		if rbErr := s.tx.Rollback(); rbErr != nil {
			s.logger.Error("Rollback failed", "error", rbErr)
		}
		return fmt.Errorf("failed to commit: %w", err)
	}
	s.logger.Info("Commit was successful")
	return nil
}

// Added reports how many items were added during the run.
func (s *storer) Added() int { return s.added }

// Dropped reports how many items were rejected during the run.
func (s *storer) Dropped() int { return s.dropped }

// SourceStorer maps scraped source items onto rows of the sources tree.
type SourceStorer struct {
	storer

	samples []SourceItem
	// pending maps the url of each source stored in this run to its row id,
	// so children scraped later in the same run can resolve their parent.
	pending map[string]int64
	// seen counts stored urls to detect ambiguous parent references.
	seen map[string]int
}

// NewSourceStorer creates a source storer. Samples, if any, are run through
// the pipeline on Open as a preflight and their effects discarded.
func NewSourceStorer(db *sqlx.DB, samples []SourceItem, opts StorerOptions) *SourceStorer {
	return &SourceStorer{
		storer:  newStorer(db, opts),
		samples: samples,
		pending: map[string]int64{},
		seen:    map[string]int{},
	}
}

// Open begins the transaction after running the sample preflight.
func (s *SourceStorer) Open(ctx context.Context) error {
	if len(s.samples) == 0 {
		s.logger.Warn("Spider does not provide any samples for testing")
	} else {
		if err := s.preflight(ctx); err != nil {
			return fmt.Errorf("sample preflight failed: %w", err)
		}
	}
	return s.open(ctx)
}

// preflight processes the sample items in a throwaway transaction.
func (s *SourceStorer) preflight(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	for i := range s.samples {
		if err := s.Process(ctx, s.samples[i]); err != nil {
			_ = s.tx.Rollback()
			s.tx = nil
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to discard preflight transaction: %w", err)
	}
	s.tx = nil
	s.pending = map[string]int64{}
	s.seen = map[string]int{}
	s.logger.Debug("Sample preflight passed", "samples", len(s.samples))
	return nil
}

// Process stores one scraped source item. The parent is resolved among the
// sources stored earlier in the same run; an unresolvable parent drops the
// item with ErrDropItem.
func (s *SourceStorer) Process(ctx context.Context, item SourceItem) error {
	if s.tx == nil {
		return ErrStorerClosed
	}

	var parentID sql.NullInt64
	if item.ParentURL != "" {
		if s.seen[item.ParentURL] > 1 {
			s.logger.Warn("Item has multiple pending parents, using the last one",
				"url", item.URL, "parent_url", item.ParentURL)
		}
		id, ok := s.pending[item.ParentURL]
		if !ok {
			s.dropped++
			return fmt.Errorf("%w: could not find parent for %q", ErrDropItem, item.URL)
		}
		parentID = sql.NullInt64{Int64: id, Valid: true}
	}
	if item.Level > 0 && !parentID.Valid {
		s.dropped++
		return fmt.Errorf("%w: %q has non-zero level and no parent", ErrDropItem, item.URL)
	}

	query := `
		INSERT INTO sources (url, parent_url, parent_id, level, created_at, include, status)
		VALUES (?, ?, ?, ?, ?, 1, ?)
	`
	res, err := s.tx.ExecContext(ctx, query,
		item.URL, item.ParentURL, parentID, item.Level, s.now, DefaultSourceStatus)
	if err != nil {
		return fmt.Errorf("failed to store source %q: %w", item.URL, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read source id: %w", err)
	}
	s.pending[item.URL] = id
	s.seen[item.URL]++
	s.added++
	s.logger.Debug("Stored source", "url", item.URL, "level", item.Level, "id", id)
	return nil
}

// Close commits or discards the run's rows.
func (s *SourceStorer) Close(ctx context.Context) error {
	return s.close(ctx)
}

// ListingStorer maps scraped listing items onto listing rows.
type ListingStorer struct {
	storer

	samples []ListingItem
}

// NewListingStorer creates a listing storer. Samples, if any, are run
// through the pipeline on Open as a preflight and their effects discarded.
func NewListingStorer(db *sqlx.DB, samples []ListingItem, opts StorerOptions) *ListingStorer {
	return &ListingStorer{
		storer:  newStorer(db, opts),
		samples: samples,
	}
}

// Open begins the transaction after running the sample preflight.
func (s *ListingStorer) Open(ctx context.Context) error {
	if len(s.samples) == 0 {
		s.logger.Warn("Spider does not provide any samples for testing")
	} else {
		if err := s.preflight(ctx); err != nil {
			return fmt.Errorf("sample preflight failed: %w", err)
		}
	}
	return s.open(ctx)
}

func (s *ListingStorer) preflight(ctx context.Context) error {
	if err := s.open(ctx); err != nil {
		return err
	}
	for i := range s.samples {
		if err := s.Process(ctx, s.samples[i]); err != nil {
			_ = s.tx.Rollback()
			s.tx = nil
			return fmt.Errorf("sample %d: %w", i, err)
		}
	}
	if err := s.tx.Rollback(); err != nil {
		return fmt.Errorf("failed to discard preflight transaction: %w", err)
	}
	s.tx = nil
	s.logger.Debug("Sample preflight passed", "samples", len(s.samples))
	return nil
}

// Process stores one scraped listing. The raw price string is cured (euro
// sign stripped, decimal comma normalized) and parsed; an empty price is
// stored as NULL, an unparsable one drops the item.
func (s *ListingStorer) Process(ctx context.Context, item ListingItem) error {
	if s.tx == nil {
		return ErrStorerClosed
	}

	price, err := s.curePrice(item.Price)
	if err != nil {
		s.dropped++
		return fmt.Errorf("%w: %v", ErrDropItem, err)
	}

	query := `
		INSERT INTO listings (text, created_at, source_id, product_id, price)
		VALUES (?, ?, NULL, NULL, ?)
	`
	if _, execErr := s.tx.ExecContext(ctx, query, item.Text, s.now, price); execErr != nil {
		return fmt.Errorf("failed to store listing %q: %w", item.Text, execErr)
	}
	s.added++
	s.logger.Debug("Stored listing", "text", item.Text, "price", price)
	return nil
}

// curePrice normalizes a scraped price string and parses it.
func (s *ListingStorer) curePrice(raw string) (sql.NullFloat64, error) {
	cured := strings.ReplaceAll(raw, "€", "")
	cured = strings.ReplaceAll(cured, ",", ".")
	cured = strings.TrimSpace(cured)
	if cured != raw {
		s.logger.Debug("Cured price", "raw", raw, "cured", cured)
	}
	if cured == "" {
		return sql.NullFloat64{}, nil
	}
	value, err := strconv.ParseFloat(cured, 64)
	if err != nil {
		return sql.NullFloat64{}, fmt.Errorf("unparsable price %q", raw)
	}
	return sql.NullFloat64{Float64: value, Valid: true}, nil
}

// Close commits or discards the run's rows.
func (s *ListingStorer) Close(ctx context.Context) error {
	return s.close(ctx)
}
