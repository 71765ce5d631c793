package storage

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"
)

// Table names in creation order (referenced tables first).
var tableOrder = []string{
	"sources",
	"tags",
	"sources_to_tags",
	"tags_to_tags",
	"products",
	"listings",
}

// tableDDL maps each table to its CREATE statement. The declared column
// types here are the source of truth the migration helper diffs against.
var tableDDL = map[string]string{
	"sources": `
		CREATE TABLE sources (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			url TEXT NOT NULL,
			parent_url TEXT NOT NULL,
			parent_id INTEGER REFERENCES sources(id),
			level INTEGER NOT NULL,
			created_at DATETIME NOT NULL,
			include BOOLEAN NOT NULL DEFAULT 1,
			status INTEGER DEFAULT 200,
			CONSTRAINT unique_source UNIQUE (url, parent_id)
		)`,
	"tags": `
		CREATE TABLE tags (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
	"sources_to_tags": `
		CREATE TABLE sources_to_tags (
			source_id INTEGER NOT NULL REFERENCES sources(id),
			tag_id INTEGER NOT NULL REFERENCES tags(id),
			PRIMARY KEY (source_id, tag_id)
		)`,
	"tags_to_tags": `
		CREATE TABLE tags_to_tags (
			parent_id INTEGER NOT NULL REFERENCES tags(id),
			child_id INTEGER NOT NULL REFERENCES tags(id),
			PRIMARY KEY (parent_id, child_id)
		)`,
	"products": `
		CREATE TABLE products (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL
		)`,
	"listings": `
		CREATE TABLE listings (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			text TEXT NOT NULL,
			created_at DATETIME NOT NULL,
			source_id INTEGER REFERENCES sources(id) ON UPDATE CASCADE ON DELETE SET NULL,
			product_id INTEGER REFERENCES products(id) ON UPDATE CASCADE ON DELETE SET NULL,
			price REAL,
			CONSTRAINT unique_listing UNIQUE (text, created_at, source_id)
		)`,
}

// declaredColumns maps each table to its column -> type map, normalized the
// same way live-schema introspection normalizes PRAGMA table_info output.
var declaredColumns = map[string]map[string]string{
	"sources": {
		"id":         "INTEGER",
		"url":        "TEXT",
		"parent_url": "TEXT",
		"parent_id":  "INTEGER",
		"level":      "INTEGER",
		"created_at": "DATETIME",
		"include":    "BOOLEAN",
		"status":     "INTEGER",
	},
	"tags": {
		"id":   "INTEGER",
		"name": "TEXT",
	},
	"sources_to_tags": {
		"source_id": "INTEGER",
		"tag_id":    "INTEGER",
	},
	"tags_to_tags": {
		"parent_id": "INTEGER",
		"child_id":  "INTEGER",
	},
	"products": {
		"id":   "INTEGER",
		"name": "TEXT",
	},
	"listings": {
		"id":         "INTEGER",
		"text":       "TEXT",
		"created_at": "DATETIME",
		"source_id":  "INTEGER",
		"product_id": "INTEGER",
		"price":      "REAL",
	},
}

// Tables returns the table names of the declared schema in creation order.
func Tables() []string {
	out := make([]string, len(tableOrder))
	copy(out, tableOrder)
	return out
}

// DeclaredSchema returns the declared schema as a table -> column -> type
// map. The result is a copy and safe to mutate.
func DeclaredSchema() map[string]map[string]string {
	out := make(map[string]map[string]string, len(declaredColumns))
	for table, cols := range declaredColumns {
		c := make(map[string]string, len(cols))
		for name, typ := range cols {
			c[name] = typ
		}
		out[table] = c
	}
	return out
}

// CreateAll creates all declared tables. Existing tables are an error.
func CreateAll(ctx context.Context, db *sqlx.DB) error {
	for _, table := range tableOrder {
		if _, err := db.ExecContext(ctx, tableDDL[table]); err != nil {
			return fmt.Errorf("failed to create table %q: %w", table, err)
		}
	}
	return nil
}

// DropAll drops all declared tables, ignoring ones that do not exist.
func DropAll(ctx context.Context, db *sqlx.DB) error {
	// Reverse creation order so referencing tables go first.
	for i := len(tableOrder) - 1; i >= 0; i-- {
		stmt := fmt.Sprintf("DROP TABLE IF EXISTS %s", tableOrder[i])
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("failed to drop table %q: %w", tableOrder[i], err)
		}
	}
	return nil
}
