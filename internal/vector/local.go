package vector

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/hyperjump/tansaku/internal/embedding"
	"go.uber.org/zap"
)

// LocalIndex is an embedded, exact-search index mirrored to <dir>/index.tsk.
// Entry IDs are their positions in the entry slice. One LocalIndex owns its
// directory; concurrent processes on the same directory are not supported.
type LocalIndex struct {
	dir      string
	path     string
	embedder embedding.Embedder
	logger   *zap.Logger
	// persist writes the encoded index durably; replaced in tests.
	persist func(path string, data []byte) error

	mu      sync.RWMutex
	entries []Entry
	loaded  bool
}

// NewLocalIndex creates an index stored under dir. Call Load before use.
func NewLocalIndex(dir string, embedder embedding.Embedder, opts ...Option) *LocalIndex {
	o := buildOptions(opts)
	return &LocalIndex{
		dir:      dir,
		path:     filepath.Join(dir, IndexFileName),
		embedder: embedder,
		logger:   o.logger,
		persist:  writeFileAtomic,
	}
}

// Load reads the index file, or creates the directory and a bootstrapped index
// when none exists yet.
func (l *LocalIndex) Load(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	data, err := os.ReadFile(l.path)
	switch {
	case err == nil:
		snap, err := decodeIndex(data)
		if err != nil {
			return fmt.Errorf("load %s: %w", l.path, err)
		}
		if snap.dim != l.embedder.Dimensions() {
			return fmt.Errorf("load %s: %w: index dimension %d, embedder dimension %d",
				l.path, ErrCorruptIndex, snap.dim, l.embedder.Dimensions())
		}
		if snap.modelID != l.embedder.ModelID() {
			return fmt.Errorf("load %s: %w: index built with model %q, embedder is %q",
				l.path, ErrCorruptIndex, snap.modelID, l.embedder.ModelID())
		}
		if len(snap.entries) > 0 {
			l.mu.Lock()
			l.entries = snap.entries
			l.loaded = true
			l.mu.Unlock()
			l.logger.Debug("local index loaded", zap.String("path", l.path), zap.Int("entries", len(snap.entries)))
			return nil
		}
	case errors.Is(err, fs.ErrNotExist):
		if err := os.MkdirAll(l.dir, 0755); err != nil {
			return fmt.Errorf("%w: create index dir: %v", ErrPersistence, err)
		}
	default:
		return fmt.Errorf("%w: read %s: %v", ErrPersistence, l.path, err)
	}

	return l.bootstrap(ctx)
}

func (l *LocalIndex) bootstrap(ctx context.Context) error {
	vectors, err := embedTexts(ctx, l.embedder, []string{BootstrapText})
	if err != nil {
		return fmt.Errorf("bootstrap index: %w", err)
	}
	entries := []Entry{{
		ID:        0,
		Text:      BootstrapText,
		Metadata:  map[string]string{"source": BootstrapSource},
		Embedding: vectors[0],
	}}

	l.mu.Lock()
	defer l.mu.Unlock()
	if err := l.persist(l.path, encodeIndex(l.snapshotLocked(entries))); err != nil {
		return fmt.Errorf("%w: bootstrap index: %v", ErrPersistence, err)
	}
	l.entries = entries
	l.loaded = true
	l.logger.Debug("local index bootstrapped", zap.String("path", l.path))
	return nil
}

// AddTexts embeds texts, appends them and persists the whole index atomically.
// If persisting fails the appended entries are discarded.
func (l *LocalIndex) AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error {
	metas, err := validateAdd(texts, metadatas)
	if err != nil {
		return err
	}
	if !l.isLoaded() {
		return ErrNotLoaded
	}
	if len(texts) == 0 {
		return nil
	}

	vectors, err := embedTexts(ctx, l.embedder, texts)
	if err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := len(l.entries)
	for i, text := range texts {
		l.entries = append(l.entries, Entry{
			ID:        uint64(prev + i),
			Text:      text,
			Metadata:  metas[i],
			Embedding: vectors[i],
		})
	}
	if err := l.persist(l.path, encodeIndex(l.snapshotLocked(l.entries))); err != nil {
		clear(l.entries[prev:])
		l.entries = l.entries[:prev]
		return fmt.Errorf("%w: write %s: %v", ErrPersistence, l.path, err)
	}
	l.logger.Debug("local index appended", zap.Int("added", len(texts)), zap.Int("entries", len(l.entries)))
	return nil
}

// Search returns the k entries most similar to query. Ties keep insertion order.
func (l *LocalIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must not be negative, got %d", ErrInvalidArgument, k)
	}
	if !l.isLoaded() {
		return nil, ErrNotLoaded
	}
	if k == 0 {
		return []Hit{}, nil
	}

	q, err := embedQuery(ctx, l.embedder, query)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	l.mu.RLock()
	defer l.mu.RUnlock()

	type scored struct {
		idx   int
		score float64
	}
	scores := make([]scored, len(l.entries))
	for i, e := range l.entries {
		scores[i] = scored{idx: i, score: CosineSimilarity(q, e.Embedding)}
	}
	sort.SliceStable(scores, func(i, j int) bool { return scores[i].score > scores[j].score })
	if k > len(scores) {
		k = len(scores)
	}
	hits := make([]Hit, k)
	for i := 0; i < k; i++ {
		e := l.entries[scores[i].idx]
		hits[i] = Hit{Text: e.Text, Score: scores[i].score, Metadata: copyMetadata(e.Metadata)}
	}
	return hits, nil
}

// Size returns the number of entries, including the bootstrap placeholder.
func (l *LocalIndex) Size() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return len(l.entries)
}

// ModelID returns the embedding model identifier the index is built with.
func (l *LocalIndex) ModelID() string {
	return l.embedder.ModelID()
}

// Path returns the index file path.
func (l *LocalIndex) Path() string {
	return l.path
}

// Backend returns BackendLocal.
func (l *LocalIndex) Backend() Backend {
	return BackendLocal
}

// Close releases the in-memory entries. The index must be loaded again before use.
func (l *LocalIndex) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
	l.loaded = false
	return nil
}

func (l *LocalIndex) isLoaded() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.loaded
}

func (l *LocalIndex) snapshotLocked(entries []Entry) *indexSnapshot {
	return &indexSnapshot{dim: l.embedder.Dimensions(), modelID: l.embedder.ModelID(), entries: entries}
}

// writeFileAtomic writes data to a temp file in the same directory, syncs it and
// renames it over path, so readers see either the old or the new file.
func writeFileAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+"-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName) // no-op after a successful rename

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("sync temp file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close temp file: %w", err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	if d, err := os.Open(dir); err == nil {
		_ = d.Sync()
		_ = d.Close()
	}
	return nil
}
