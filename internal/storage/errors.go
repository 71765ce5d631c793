package storage

import "errors"

// Common errors returned by the storage package.
var (
	// ErrNotFound indicates the requested row does not exist.
	ErrNotFound = errors.New("not found")
	// ErrDropItem indicates a scraped item was rejected by a storer. The
	// crawl continues; the item is counted as dropped.
	ErrDropItem = errors.New("item dropped")
	// ErrStorerClosed indicates Process was called outside Open/Close.
	ErrStorerClosed = errors.New("storer is not open")
)
