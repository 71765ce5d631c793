package storage

import (
	"database/sql"
	"time"
)

// Default column values applied on insert.
const (
	// DefaultSourceStatus is the HTTP-ish status a fresh source starts with.
	DefaultSourceStatus = 200
)

// Source is a node in the self-referential category tree of a shop.
// A (url, parent_id) pair is unique.
type Source struct {
	ID        int64         `db:"id" json:"id"`
	URL       string        `db:"url" json:"url"`
	ParentURL string        `db:"parent_url" json:"parent_url"`
	ParentID  sql.NullInt64 `db:"parent_id" json:"parent_id"`
	Level     int           `db:"level" json:"level"`
	CreatedAt time.Time     `db:"created_at" json:"created_at"`
	Include   bool          `db:"include" json:"include"`
	Status    sql.NullInt64 `db:"status" json:"status"`
}

// Tag labels sources; tags form their own parent/child graph.
type Tag struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Product is a named product that listings can be attached to.
type Product struct {
	ID   int64  `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
}

// Listing is a single scraped offer. A (text, created_at, source_id) triple
// is unique; source and product links survive deletes as NULLs.
type Listing struct {
	ID        int64           `db:"id" json:"id"`
	Text      string          `db:"text" json:"text"`
	CreatedAt time.Time       `db:"created_at" json:"created_at"`
	SourceID  sql.NullInt64   `db:"source_id" json:"source_id"`
	ProductID sql.NullInt64   `db:"product_id" json:"product_id"`
	Price     sql.NullFloat64 `db:"price" json:"price"`
}

// SourceItem is a scraped category-tree node before it is stored.
type SourceItem struct {
	URL       string `json:"url"`
	ParentURL string `json:"parent_url"`
	Level     int    `json:"level"`
}

// ListingItem is a scraped listing before it is stored. Price is the raw
// scraped string; it is cured and parsed by the listing storer.
type ListingItem struct {
	Text  string `json:"text"`
	Price string `json:"price"`
}
