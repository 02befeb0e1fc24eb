package vector

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/hyperjump/tansaku/internal/embedding"
	"go.uber.org/zap"
)

func newLoadedLocal(t *testing.T, e embedding.Embedder) *LocalIndex {
	t.Helper()
	idx := NewLocalIndex(t.TempDir(), e, WithLogger(zap.NewNop()))
	if err := idx.Load(context.Background()); err != nil {
		t.Fatalf("Load() = %v", err)
	}
	return idx
}

func TestLocalIndex_LoadBootstrapsEmptyDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "index")
	idx := NewLocalIndex(dir, newConceptEmbedder())
	if err := idx.Load(context.Background()); err != nil {
		t.Fatal(err)
	}
	if idx.Size() != 1 {
		t.Fatalf("Size() = %d, want 1", idx.Size())
	}
	if _, err := os.Stat(idx.Path()); err != nil {
		t.Fatalf("index file not written: %v", err)
	}
	hits, err := idx.Search(context.Background(), "anything", 5)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 1 || hits[0].Text != BootstrapText || hits[0].Metadata["source"] != BootstrapSource {
		t.Errorf("hits = %+v", hits)
	}
	if idx.Backend() != BackendLocal {
		t.Errorf("Backend() = %s", idx.Backend())
	}
}

func TestLocalIndex_TopK(t *testing.T) {
	ctx := context.Background()
	idx := newLoadedLocal(t, newConceptEmbedder())
	docs := []string{"dogs are loyal animals", "the cat sat on the mat", "a kitten on a carpet"}
	if err := idx.AddTexts(ctx, docs, nil); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, "cat rug", 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 2 {
		t.Fatalf("len(hits) = %d, want 2", len(hits))
	}
	if hits[0].Text != "a kitten on a carpet" || hits[1].Text != "the cat sat on the mat" {
		t.Errorf("hits = %v", hitTexts(hits))
	}
	if hits[0].Score < hits[1].Score {
		t.Errorf("scores not descending: %f < %f", hits[0].Score, hits[1].Score)
	}
	if hits[0].Metadata == nil {
		t.Error("nil metadata should be stored as empty map")
	}
}

func TestLocalIndex_TiesKeepInsertionOrder(t *testing.T) {
	ctx := context.Background()
	idx := newLoadedLocal(t, newConceptEmbedder())
	metas := []map[string]string{{"n": "0"}, {"n": "1"}, {"n": "2"}}
	if err := idx.AddTexts(ctx, []string{"dog", "dog", "dog"}, metas); err != nil {
		t.Fatal(err)
	}
	hits, err := idx.Search(ctx, "puppy", 3)
	if err != nil {
		t.Fatal(err)
	}
	for i, h := range hits {
		if h.Metadata["n"] != metas[i]["n"] {
			t.Fatalf("hit %d has n=%s, want %s", i, h.Metadata["n"], metas[i]["n"])
		}
	}
}

func TestLocalIndex_KBounds(t *testing.T) {
	ctx := context.Background()
	e := newConceptEmbedder()
	idx := newLoadedLocal(t, e)
	if err := idx.AddTexts(ctx, []string{"cat", "dog"}, nil); err != nil {
		t.Fatal(err)
	}

	before := e.calls.Load()
	hits, err := idx.Search(ctx, "cat", 0)
	if err != nil || len(hits) != 0 {
		t.Fatalf("Search(k=0) = %v, %v", hits, err)
	}
	if e.calls.Load() != before {
		t.Error("k=0 should not embed the query")
	}

	hits, err = idx.Search(ctx, "cat", 50)
	if err != nil {
		t.Fatal(err)
	}
	if len(hits) != 3 {
		t.Errorf("k > N returned %d hits, want 3", len(hits))
	}

	if _, err := idx.Search(ctx, "cat", -1); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("k=-1 err = %v, want ErrInvalidArgument", err)
	}
}

func TestLocalIndex_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := newConceptEmbedder()
	first := NewLocalIndex(dir, e)
	if err := first.Load(ctx); err != nil {
		t.Fatal(err)
	}
	metas := []map[string]string{{"source": "a.txt"}, {"source": "b.md", "lang": "en"}}
	if err := first.AddTexts(ctx, []string{"the cat sat on the mat", "dogs are loyal animals"}, metas); err != nil {
		t.Fatal(err)
	}
	want, err := first.Search(ctx, "feline", 3)
	if err != nil {
		t.Fatal(err)
	}

	second := NewLocalIndex(dir, e)
	if err := second.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if second.Size() != 3 {
		t.Fatalf("reloaded Size() = %d, want 3", second.Size())
	}
	got, err := second.Search(ctx, "feline", 3)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != len(want) {
		t.Fatalf("got %d hits, want %d", len(got), len(want))
	}
	for i := range want {
		if got[i].Text != want[i].Text || got[i].Score != want[i].Score {
			t.Errorf("hit %d = %+v, want %+v", i, got[i], want[i])
		}
		if len(got[i].Metadata) != len(want[i].Metadata) {
			t.Errorf("hit %d metadata = %v, want %v", i, got[i].Metadata, want[i].Metadata)
		}
		for k, v := range want[i].Metadata {
			if got[i].Metadata[k] != v {
				t.Errorf("hit %d metadata[%s] = %q, want %q", i, k, got[i].Metadata[k], v)
			}
		}
	}
}

func TestLocalIndex_ModelMismatch(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	if err := NewLocalIndex(dir, newConceptEmbedder()).Load(ctx); err != nil {
		t.Fatal(err)
	}

	other := newConceptEmbedder()
	other.modelID = "another-model"
	if err := NewLocalIndex(dir, other).Load(ctx); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("model mismatch err = %v, want ErrCorruptIndex", err)
	}

	if err := NewLocalIndex(dir, embedding.NewHashEmbedder(conceptDims*2)).Load(ctx); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("dimension mismatch err = %v, want ErrCorruptIndex", err)
	}
}

func TestLocalIndex_CorruptFile(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	idx := NewLocalIndex(dir, newConceptEmbedder())
	if err := idx.Load(ctx); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(idx.Path())
	if err != nil {
		t.Fatal(err)
	}
	data[len(data)/2] ^= 0xff
	if err := os.WriteFile(idx.Path(), data, 0644); err != nil {
		t.Fatal(err)
	}
	if err := NewLocalIndex(dir, newConceptEmbedder()).Load(ctx); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("flipped byte err = %v, want ErrCorruptIndex", err)
	}

	if err := os.WriteFile(idx.Path(), []byte("not an index"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := NewLocalIndex(dir, newConceptEmbedder()).Load(ctx); !errors.Is(err, ErrCorruptIndex) {
		t.Errorf("garbage err = %v, want ErrCorruptIndex", err)
	}
}

func TestLocalIndex_PersistFailureRollsBack(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	e := newConceptEmbedder()
	idx := NewLocalIndex(dir, e)
	if err := idx.Load(ctx); err != nil {
		t.Fatal(err)
	}
	if err := idx.AddTexts(ctx, []string{"cat"}, nil); err != nil {
		t.Fatal(err)
	}

	idx.persist = func(string, []byte) error { return errDiskFull }
	err := idx.AddTexts(ctx, []string{"dog", "puppy"}, nil)
	if !errors.Is(err, ErrPersistence) {
		t.Fatalf("err = %v, want ErrPersistence", err)
	}
	if idx.Size() != 2 {
		t.Errorf("Size() = %d after failed add, want 2", idx.Size())
	}
	hits, _ := idx.Search(ctx, "dog", 10)
	for _, h := range hits {
		if h.Text == "dog" || h.Text == "puppy" {
			t.Errorf("rolled-back entry %q is searchable", h.Text)
		}
	}

	idx.persist = writeFileAtomic
	if err := idx.AddTexts(ctx, []string{"dog"}, nil); err != nil {
		t.Fatal(err)
	}
	reloaded := NewLocalIndex(dir, e)
	if err := reloaded.Load(ctx); err != nil {
		t.Fatalf("reload after recovery: %v", err)
	}
	if reloaded.Size() != 3 {
		t.Errorf("reloaded Size() = %d, want 3", reloaded.Size())
	}
}

func TestLocalIndex_InvalidArguments(t *testing.T) {
	ctx := context.Background()
	e := newConceptEmbedder()
	idx := newLoadedLocal(t, e)
	before := e.calls.Load()

	err := idx.AddTexts(ctx, []string{"a", "b"}, []map[string]string{{}})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("err = %v, want ErrInvalidArgument", err)
	}
	if e.calls.Load() != before {
		t.Error("argument errors must be reported before embedding")
	}
	if err := idx.AddTexts(ctx, nil, nil); err != nil {
		t.Errorf("empty AddTexts = %v, want nil", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size() = %d, want 1", idx.Size())
	}
}

func TestLocalIndex_NotLoaded(t *testing.T) {
	ctx := context.Background()
	idx := NewLocalIndex(t.TempDir(), newConceptEmbedder())
	if _, err := idx.Search(ctx, "x", 1); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Search err = %v, want ErrNotLoaded", err)
	}
	if err := idx.AddTexts(ctx, []string{"x"}, nil); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("AddTexts err = %v, want ErrNotLoaded", err)
	}

	if err := idx.Load(ctx); err != nil {
		t.Fatal(err)
	}
	_ = idx.Close()
	if _, err := idx.Search(ctx, "x", 1); !errors.Is(err, ErrNotLoaded) {
		t.Errorf("Search after Close err = %v, want ErrNotLoaded", err)
	}
}

func TestLocalIndex_EmbedFailureLeavesIndexUnchanged(t *testing.T) {
	ctx := context.Background()
	e := &switchableEmbedder{Embedder: newConceptEmbedder()}
	idx := newLoadedLocal(t, e)

	e.setFail(true)
	if err := idx.AddTexts(ctx, []string{"cat"}, nil); !errors.Is(err, embedding.ErrModelUnavailable) {
		t.Errorf("AddTexts err = %v, want ErrModelUnavailable", err)
	}
	if _, err := idx.Search(ctx, "cat", 1); !errors.Is(err, embedding.ErrModelUnavailable) {
		t.Errorf("Search err = %v, want ErrModelUnavailable", err)
	}
	if idx.Size() != 1 {
		t.Errorf("Size() = %d, want 1", idx.Size())
	}
}

func TestLocalIndex_ConcurrentAddAndSearch(t *testing.T) {
	ctx := context.Background()
	idx := newLoadedLocal(t, newConceptEmbedder())

	var wg sync.WaitGroup
	errs := make(chan error, 40)
	for i := 0; i < 20; i++ {
		wg.Add(2)
		go func() {
			defer wg.Done()
			errs <- idx.AddTexts(ctx, []string{"cat on a mat"}, nil)
		}()
		go func() {
			defer wg.Done()
			hits, err := idx.Search(ctx, "cat", 3)
			if err == nil && len(hits) == 0 {
				t.Error("search returned no hits")
			}
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatal(err)
		}
	}
	if idx.Size() != 21 {
		t.Errorf("Size() = %d, want 21", idx.Size())
	}
}
