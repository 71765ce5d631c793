package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// ListingRepository handles database operations for listings.
type ListingRepository struct {
	db *sqlx.DB
}

// NewListingRepository creates a new listing repository.
func NewListingRepository(db *sqlx.DB) *ListingRepository {
	return &ListingRepository{db: db}
}

// Create inserts a new listing and fills in its generated ID.
func (r *ListingRepository) Create(ctx context.Context, listing *Listing) error {
	query := `
		INSERT INTO listings (text, created_at, source_id, product_id, price)
		VALUES (?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(
		ctx,
		query,
		listing.Text,
		listing.CreatedAt,
		listing.SourceID,
		listing.ProductID,
		listing.Price,
	)
	if err != nil {
		return fmt.Errorf("failed to create listing: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read listing id: %w", err)
	}
	listing.ID = id
	return nil
}

// GetByID retrieves a listing by its ID.
func (r *ListingRepository) GetByID(ctx context.Context, id int64) (*Listing, error) {
	var listing Listing
	query := `
		SELECT id, text, created_at, source_id, product_id, price
		FROM listings
		WHERE id = ?
	`
	if err := r.db.GetContext(ctx, &listing, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: listing %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get listing: %w", err)
	}
	return &listing, nil
}

// List retrieves listings ordered by id, optionally limited.
func (r *ListingRepository) List(ctx context.Context, limit, offset int) ([]*Listing, error) {
	var listings []*Listing
	query := `
		SELECT id, text, created_at, source_id, product_id, price
		FROM listings
		ORDER BY id
		LIMIT ? OFFSET ?
	`
	if limit <= 0 {
		limit = -1
	}
	if err := r.db.SelectContext(ctx, &listings, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list listings: %w", err)
	}
	return listings, nil
}

// Count returns the number of stored listings.
func (r *ListingRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM listings"); err != nil {
		return 0, fmt.Errorf("failed to count listings: %w", err)
	}
	return n, nil
}
