// Package catalog records which files the ingestion job has already added to
// the vector store.
package catalog

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a path has no catalogue record.
var ErrNotFound = errors.New("catalog record not found")

// FileRecord describes one ingested file.
type FileRecord struct {
	Path       string
	SHA256     string
	Size       int64
	Entries    int
	Backend    string
	IngestedAt time.Time
}

// Stats summarises the catalogue.
type Stats struct {
	Files   int64
	Entries int64
	Last    time.Time
}

// Catalog persists FileRecords keyed by absolute path.
type Catalog interface {
	// Record upserts all records in one transaction.
	Record(ctx context.Context, records []FileRecord) error
	Get(ctx context.Context, path string) (*FileRecord, error)
	// Unchanged reports whether path was recorded with the same content hash.
	Unchanged(ctx context.Context, path, sha256 string) (bool, error)
	List(ctx context.Context, offset, limit int) ([]*FileRecord, error)
	Stats(ctx context.Context) (Stats, error)
	Close() error
}
