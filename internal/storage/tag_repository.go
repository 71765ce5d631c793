package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// TagRepository handles database operations for tags and their relations.
type TagRepository struct {
	db *sqlx.DB
}

// NewTagRepository creates a new tag repository.
func NewTagRepository(db *sqlx.DB) *TagRepository {
	return &TagRepository{db: db}
}

// Create inserts a new tag and fills in its generated ID.
func (r *TagRepository) Create(ctx context.Context, tag *Tag) error {
	res, err := r.db.ExecContext(ctx, "INSERT INTO tags (name) VALUES (?)", tag.Name)
	if err != nil {
		return fmt.Errorf("failed to create tag: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("failed to read tag id: %w", err)
	}
	tag.ID = id
	return nil
}

// GetByName retrieves a tag by its name.
func (r *TagRepository) GetByName(ctx context.Context, name string) (*Tag, error) {
	var tag Tag
	if err := r.db.GetContext(ctx, &tag,
		"SELECT id, name FROM tags WHERE name = ?", name); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("%w: tag %q", ErrNotFound, name)
		}
		return nil, fmt.Errorf("failed to get tag: %w", err)
	}
	return &tag, nil
}

// Count returns the total number of tags.
func (r *TagRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	if err := r.db.GetContext(ctx, &count, "SELECT COUNT(*) FROM tags"); err != nil {
		return 0, fmt.Errorf("failed to count tags: %w", err)
	}
	return count, nil
}

// AttachToSource links a tag to a source (many-to-many).
func (r *TagRepository) AttachToSource(ctx context.Context, tagID, sourceID int64) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO sources_to_tags (source_id, tag_id) VALUES (?, ?)", sourceID, tagID)
	if err != nil {
		return fmt.Errorf("failed to attach tag to source: %w", err)
	}
	return nil
}

// AddChild links a child tag under a parent tag.
func (r *TagRepository) AddChild(ctx context.Context, parentID, childID int64) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO tags_to_tags (parent_id, child_id) VALUES (?, ?)", parentID, childID)
	if err != nil {
		return fmt.Errorf("failed to link tags: %w", err)
	}
	return nil
}

// Children returns the direct child tags of a tag.
func (r *TagRepository) Children(ctx context.Context, id int64) ([]*Tag, error) {
	var tags []*Tag
	query := `
		SELECT t.id, t.name
		FROM tags t
		JOIN tags_to_tags tt ON tt.child_id = t.id
		WHERE tt.parent_id = ?
		ORDER BY t.name
	`
	if err := r.db.SelectContext(ctx, &tags, query, id); err != nil {
		return nil, fmt.Errorf("failed to list child tags: %w", err)
	}
	return tags, nil
}
