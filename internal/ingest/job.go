// Package ingest discovers text files in a directory and adds them to the
// vector store.
package ingest

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/hyperjump/tansaku/internal/catalog"
	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/extract"
	"github.com/hyperjump/tansaku/internal/vector"
	"github.com/hyperjump/tansaku/internal/watcher"
	"go.uber.org/zap"
)

// Status is the outcome of an ingestion run.
type Status string

const (
	StatusIngested        Status = "ingested"
	StatusNothingToIngest Status = "nothing_to_ingest"
)

// Metadata keys attached to every ingested entry.
const (
	MetaSource     = "source"
	MetaPath       = "path"
	MetaSHA256     = "sha256"
	MetaIngestedAt = "ingested_at"
	MetaChunk      = "chunk"
	MetaChunks     = "chunks"
)

// Result summarises a run. Count is the number of documents (files) added.
type Result struct {
	Status  Status
	Count   int
	Entries int
	Files   []string
	Skipped []string
	Failed  []string
}

// Job ingests files into a loaded vector store.
type Job struct {
	store     vector.Store
	cfg       config.IngestConfig
	extractor *extract.Extractor
	catalog   catalog.Catalog
	chunker   *Chunker
	logger    *zap.Logger
	now       func() time.Time

	// mu serialises runs so that watch callbacks never interleave AddTexts calls.
	mu sync.Mutex
}

// Option configures a Job.
type Option func(*Job)

// WithLogger sets a logger for debug output (files discovered, skipped, added).
func WithLogger(l *zap.Logger) Option {
	return func(j *Job) { j.logger = l }
}

// WithCatalog records ingested files and enables skip_unchanged.
func WithCatalog(c catalog.Catalog) Option {
	return func(j *Job) { j.catalog = c }
}

// NewJob creates an ingestion job writing to store, which must already be loaded.
func NewJob(store vector.Store, cfg config.IngestConfig, opts ...Option) *Job {
	j := &Job{store: store, cfg: cfg, now: time.Now}
	for _, opt := range opts {
		opt(j)
	}
	if j.logger == nil {
		j.logger = zap.NewNop()
	}
	j.extractor = extract.NewExtractor(extract.WithMaxBytes(cfg.MaxFileBytes))
	if cfg.ChunkSize > 0 {
		j.chunker = NewChunker(cfg.ChunkSize, cfg.ChunkOverlap)
	}
	return j
}

// Run ingests every matching file in source with a single AddTexts call.
func (j *Job) Run(ctx context.Context, source string) (Result, error) {
	absDir, err := filepath.Abs(source)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: absolute path: %w", err)
	}
	info, err := os.Stat(absDir)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w: source %s: %v", vector.ErrInvalidArgument, absDir, err)
	}
	if !info.IsDir() {
		return Result{}, fmt.Errorf("ingest: %w: source %s is not a directory", vector.ErrInvalidArgument, absDir)
	}

	files, err := j.discover(absDir)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: discover %s: %w", absDir, err)
	}
	j.logger.Debug("ingest discovered files", zap.String("source", absDir), zap.Int("count", len(files)))

	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ingest(ctx, files)
}

// IngestFile ingests a single file, honouring the extension filter and skip_unchanged.
func (j *Job) IngestFile(ctx context.Context, path string) (Result, error) {
	absPath, err := filepath.Abs(path)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: absolute path: %w", err)
	}
	if strings.HasPrefix(filepath.Base(absPath), ".") || !watcher.MatchExtension(absPath, j.cfg.Extensions) {
		return Result{Status: StatusNothingToIngest}, nil
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return Result{}, fmt.Errorf("ingest: %w: %s: %v", vector.ErrInvalidArgument, absPath, err)
	}
	if !info.Mode().IsRegular() {
		return Result{}, fmt.Errorf("ingest: %w: %s is not a regular file", vector.ErrInvalidArgument, absPath)
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.ingest(ctx, []string{absPath})
}

type document struct {
	path    string
	sha     string
	size    int64
	entries int
}

func (j *Job) ingest(ctx context.Context, files []string) (Result, error) {
	var (
		res       Result
		texts     []string
		metadatas []map[string]string
		docs      []document
	)
	ingestedAt := j.now().UTC()
	for _, path := range files {
		if err := ctx.Err(); err != nil {
			return Result{}, err
		}
		content, err := j.extractor.ReadFile(path)
		if err != nil {
			j.logger.Warn("ingest read failed", zap.String("path", path), zap.Error(err))
			res.Failed = append(res.Failed, path)
			continue
		}
		sum := sha256.Sum256(content)
		sha := hex.EncodeToString(sum[:])

		if j.cfg.SkipUnchanged && j.catalog != nil {
			unchanged, err := j.catalog.Unchanged(ctx, path, sha)
			if err != nil {
				return Result{}, fmt.Errorf("ingest: catalog lookup %s: %w", path, err)
			}
			if unchanged {
				j.logger.Debug("ingest skipping unchanged file", zap.String("path", path))
				res.Skipped = append(res.Skipped, path)
				continue
			}
		}

		text, err := j.extractor.ExtractBytes(content, filepath.Ext(path))
		if err != nil {
			j.logger.Warn("ingest extract failed", zap.String("path", path), zap.Error(err))
			res.Failed = append(res.Failed, path)
			continue
		}

		base := map[string]string{
			MetaSource:     filepath.Base(path),
			MetaPath:       path,
			MetaSHA256:     sha,
			MetaIngestedAt: ingestedAt.Format(time.RFC3339),
		}
		parts := j.split(text)
		for i, part := range parts {
			meta := make(map[string]string, len(base)+2)
			for k, v := range base {
				meta[k] = v
			}
			if len(parts) > 1 {
				meta[MetaChunk] = strconv.Itoa(i)
				meta[MetaChunks] = strconv.Itoa(len(parts))
			}
			texts = append(texts, part)
			metadatas = append(metadatas, meta)
		}
		docs = append(docs, document{path: path, sha: sha, size: int64(len(content)), entries: len(parts)})
		res.Files = append(res.Files, path)
	}

	if len(texts) == 0 {
		res.Status = StatusNothingToIngest
		return res, nil
	}

	if err := j.store.AddTexts(ctx, texts, metadatas); err != nil {
		return Result{}, fmt.Errorf("ingest: add texts (backend %s): %w", j.store.Backend(), err)
	}
	res.Status = StatusIngested
	res.Count = len(docs)
	res.Entries = len(texts)
	j.logger.Info("ingested documents",
		zap.Int("count", res.Count), zap.Int("entries", res.Entries), zap.String("backend", string(j.store.Backend())))

	j.record(ctx, docs, ingestedAt)
	return res, nil
}

// record notes ingested files in the catalogue. Failures are logged only: the
// entries are already in the store.
func (j *Job) record(ctx context.Context, docs []document, at time.Time) {
	if j.catalog == nil {
		return
	}
	records := make([]catalog.FileRecord, len(docs))
	for i, d := range docs {
		records[i] = catalog.FileRecord{
			Path:       d.path,
			SHA256:     d.sha,
			Size:       d.size,
			Entries:    d.entries,
			Backend:    string(j.store.Backend()),
			IngestedAt: at,
		}
	}
	if err := j.catalog.Record(ctx, records); err != nil {
		j.logger.Warn("catalog record failed", zap.Int("files", len(records)), zap.Error(err))
	}
}

// split returns the entries for one file: the whole text, or its chunks when
// chunking is enabled.
func (j *Job) split(text string) []string {
	if j.chunker == nil {
		return []string{text}
	}
	if chunks := j.chunker.Chunk(text); len(chunks) > 0 {
		return chunks
	}
	return []string{text}
}

// discover returns the regular, non-hidden files under dir whose extension is
// allowed, sorted by path.
func (j *Job) discover(dir string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if path == dir {
			return nil
		}
		hidden := strings.HasPrefix(d.Name(), ".")
		if d.IsDir() {
			if !j.cfg.Recursive || hidden {
				return filepath.SkipDir
			}
			return nil
		}
		if hidden || !watcher.MatchExtension(path, j.cfg.Extensions) {
			return nil
		}
		// Resolve symlinks so only regular files are ingested.
		info, err := os.Stat(path)
		if err != nil || !info.Mode().IsRegular() {
			return nil
		}
		files = append(files, path)
		return nil
	})
	if err != nil {
		return nil, err
	}
	sort.Strings(files)
	return files, nil
}

// Watch runs an initial ingestion of source, then ingests each created or
// modified file as it settles. It blocks until ctx is cancelled.
func (j *Job) Watch(ctx context.Context, source string) (Result, error) {
	initial, err := j.Run(ctx, source)
	if err != nil {
		return Result{}, err
	}

	onChange := func(path string) {
		res, err := j.IngestFile(ctx, path)
		if err != nil {
			j.logger.Warn("ingest watch failed", zap.String("path", path), zap.Error(err))
			return
		}
		if res.Count > 0 {
			j.logger.Info("ingested changed file", zap.String("path", path), zap.Int("entries", res.Entries))
		}
	}
	absDir, _ := filepath.Abs(source)
	w := watcher.New([]string{absDir}, j.cfg.Extensions, j.cfg.Recursive, onChange, nil,
		watcher.WithLogger(j.logger))
	if err := w.Start(ctx); err != nil {
		return initial, fmt.Errorf("ingest: watch %s: %w", absDir, err)
	}
	defer w.Stop()

	<-ctx.Done()
	return initial, nil
}
