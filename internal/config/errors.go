package config

import "errors"

// Common errors returned by the config package.
var (
	// ErrMissingDatabasePath indicates the database file path is not set.
	ErrMissingDatabasePath = errors.New("database path is required")
	// ErrMissingCrawlerConfig indicates the crawler section is absent.
	ErrMissingCrawlerConfig = errors.New("crawler configuration is required")
	// ErrInvalidCrawlerConfig indicates a crawler setting is out of range.
	ErrInvalidCrawlerConfig = errors.New("invalid crawler configuration")
)
