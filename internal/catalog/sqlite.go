package catalog

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// timeLayout is fixed width so ingested_at sorts correctly as text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteCatalog implements Catalog using SQLite.
type SQLiteCatalog struct {
	db *sql.DB
}

// NewSQLiteCatalog opens or creates a catalogue database at dbPath. Parent
// directories are created if they do not exist.
func NewSQLiteCatalog(dbPath string) (*SQLiteCatalog, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create catalog directory: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to enable WAL: %w", err)
	}
	if err := initSchema(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return &SQLiteCatalog{db: db}, nil
}

func initSchema(db *sql.DB) error {
	schema := `
	CREATE TABLE IF NOT EXISTS ingested_files (
		path TEXT PRIMARY KEY,
		sha256 TEXT NOT NULL,
		size INTEGER NOT NULL,
		entries INTEGER NOT NULL,
		backend TEXT NOT NULL,
		ingested_at TEXT NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_ingested_files_ingested_at ON ingested_files(ingested_at);
	`
	_, err := db.Exec(schema)
	return err
}

// Record upserts records; a path ingested again gets its hash, counts and time replaced.
func (c *SQLiteCatalog) Record(ctx context.Context, records []FileRecord) error {
	if len(records) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO ingested_files (path, sha256, size, entries, backend, ingested_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(path) DO UPDATE SET
		   sha256 = excluded.sha256, size = excluded.size, entries = excluded.entries,
		   backend = excluded.backend, ingested_at = excluded.ingested_at`)
	if err != nil {
		return err
	}
	defer stmt.Close()

	for _, r := range records {
		at := r.IngestedAt
		if at.IsZero() {
			at = time.Now()
		}
		if _, err := stmt.ExecContext(ctx, r.Path, r.SHA256, r.Size, r.Entries, r.Backend,
			at.UTC().Format(timeLayout)); err != nil {
			return fmt.Errorf("record %s: %w", r.Path, err)
		}
	}
	return tx.Commit()
}

// Get returns the record for path.
func (c *SQLiteCatalog) Get(ctx context.Context, path string) (*FileRecord, error) {
	row := c.db.QueryRowContext(ctx,
		`SELECT path, sha256, size, entries, backend, ingested_at
		 FROM ingested_files WHERE path = ?`, path)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, path)
	}
	if err != nil {
		return nil, err
	}
	return r, nil
}

// Unchanged reports whether path is recorded with hash sha256.
func (c *SQLiteCatalog) Unchanged(ctx context.Context, path, sha256 string) (bool, error) {
	r, err := c.Get(ctx, path)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return r.SHA256 == sha256, nil
}

// List returns records, most recently ingested first.
func (c *SQLiteCatalog) List(ctx context.Context, offset, limit int) ([]*FileRecord, error) {
	rows, err := c.db.QueryContext(ctx,
		`SELECT path, sha256, size, entries, backend, ingested_at
		 FROM ingested_files ORDER BY ingested_at DESC, path LIMIT ? OFFSET ?`,
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*FileRecord
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Stats returns file and entry totals and the latest ingestion time.
func (c *SQLiteCatalog) Stats(ctx context.Context) (Stats, error) {
	var (
		s    Stats
		last sql.NullString
	)
	err := c.db.QueryRowContext(ctx,
		`SELECT COUNT(*), COALESCE(SUM(entries), 0), MAX(ingested_at) FROM ingested_files`,
	).Scan(&s.Files, &s.Entries, &last)
	if err != nil {
		return Stats{}, err
	}
	if last.Valid {
		if t, err := time.Parse(time.RFC3339Nano, last.String); err == nil {
			s.Last = t
		}
	}
	return s, nil
}

// Close closes the database.
func (c *SQLiteCatalog) Close() error {
	return c.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(s scanner) (*FileRecord, error) {
	var (
		r  FileRecord
		at string
	)
	if err := s.Scan(&r.Path, &r.SHA256, &r.Size, &r.Entries, &r.Backend, &at); err != nil {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339Nano, at)
	if err != nil {
		return nil, fmt.Errorf("parse ingested_at for %s: %w", r.Path, err)
	}
	r.IngestedAt = t
	return &r, nil
}
