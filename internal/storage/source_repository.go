package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// SourceRepository handles database operations for sources.
type SourceRepository struct {
	db *sqlx.DB
}

// NewSourceRepository creates a new source repository.
func NewSourceRepository(db *sqlx.DB) *SourceRepository {
	return &SourceRepository{db: db}
}

// Create inserts a new source and fills in its generated ID.
func (r *SourceRepository) Create(ctx context.Context, src *Source) error {
	query := `
		INSERT INTO sources (url, parent_url, parent_id, level, created_at, include, status)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`
	res, err := r.db.ExecContext(
		ctx,
		query,
		src.URL,
		src.ParentURL,
		src.ParentID,
		src.Level,
		src.CreatedAt,
		src.Include,
		src.Status,
	)
	if err != nil {
		return fmt.Errorf("failed to create source: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read source id: %w", err)
	}
	src.ID = id
	return nil
}

// GetByID retrieves a source by its ID.
func (r *SourceRepository) GetByID(ctx context.Context, id int64) (*Source, error) {
	var src Source
	query := `
		SELECT id, url, parent_url, parent_id, level, created_at, include, status
		FROM sources
		WHERE id = ?
	`
	if err := r.db.GetContext(ctx, &src, query, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: source %d", ErrNotFound, id)
		}
		return nil, fmt.Errorf("failed to get source: %w", err)
	}
	return &src, nil
}

// List retrieves sources ordered by id, optionally limited.
func (r *SourceRepository) List(ctx context.Context, limit, offset int) ([]*Source, error) {
	var sources []*Source
	query := `
		SELECT id, url, parent_url, parent_id, level, created_at, include, status
		FROM sources
		ORDER BY id
		LIMIT ? OFFSET ?
	`
	if limit <= 0 {
		limit = -1
	}
	if err := r.db.SelectContext(ctx, &sources, query, limit, offset); err != nil {
		return nil, fmt.Errorf("failed to list sources: %w", err)
	}
	return sources, nil
}

// Count returns the number of stored sources.
func (r *SourceRepository) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := r.db.GetContext(ctx, &n, "SELECT COUNT(*) FROM sources"); err != nil {
		return 0, fmt.Errorf("failed to count sources: %w", err)
	}
	return n, nil
}

// UpdateStatus records the status of the source's last access.
func (r *SourceRepository) UpdateStatus(ctx context.Context, id int64, status int) error {
	res, err := r.db.ExecContext(ctx, "UPDATE sources SET status = ? WHERE id = ?", status, id)
	if err != nil {
		return fmt.Errorf("failed to update source status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("%w: source %d", ErrNotFound, id)
	}
	return nil
}

// FullURL joins the url segments from the tree root down to the source.
func (r *SourceRepository) FullURL(ctx context.Context, id int64) (string, error) {
	var parts []string
	query := `
		WITH RECURSIVE chain(id, url, parent_id, depth) AS (
			SELECT id, url, parent_id, 0 FROM sources WHERE id = ?
			UNION ALL
			SELECT s.id, s.url, s.parent_id, chain.depth + 1
			FROM sources s JOIN chain ON s.id = chain.parent_id
		)
		SELECT url FROM chain ORDER BY depth DESC
	`
	if err := r.db.SelectContext(ctx, &parts, query, id); err != nil {
		return "", fmt.Errorf("failed to resolve full url: %w", err)
	}
	if len(parts) == 0 {
		return "", fmt.Errorf("%w: source %d", ErrNotFound, id)
	}
	return strings.Join(parts, "/"), nil
}

// AllTags collects the tag names of the source and all of its ancestors.
func (r *SourceRepository) AllTags(ctx context.Context, id int64) ([]string, error) {
	var tags []string
	query := `
		WITH RECURSIVE chain(id, parent_id, depth) AS (
			SELECT id, parent_id, 0 FROM sources WHERE id = ?
			UNION ALL
			SELECT s.id, s.parent_id, chain.depth + 1
			FROM sources s JOIN chain ON s.id = chain.parent_id
		)
		SELECT t.name
		FROM chain
		JOIN sources_to_tags st ON st.source_id = chain.id
		JOIN tags t ON t.id = st.tag_id
		ORDER BY chain.depth, t.name
	`
	if err := r.db.SelectContext(ctx, &tags, query, id); err != nil {
		return nil, fmt.Errorf("failed to collect tags: %w", err)
	}
	return tags, nil
}
