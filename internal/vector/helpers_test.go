package vector

import (
	"context"
	"errors"
	"hash/fnv"
	"strings"
	"sync"
	"sync/atomic"
	"unicode"

	"github.com/hyperjump/tansaku/internal/embedding"
	"github.com/hyperjump/tansaku/pkg/utils"
)

const conceptDims = 16

// conceptEmbedder maps synonyms onto shared dimensions so similarity reflects
// meaning in a small, predictable way. Unknown words hash into the upper
// dimensions; stop words are ignored.
type conceptEmbedder struct {
	modelID string
	calls   atomic.Int64
}

var concepts = map[string]int{
	"cat": 0, "cats": 0, "feline": 0, "kitten": 0,
	"mat": 1, "rug": 1, "carpet": 1,
	"dog": 2, "dogs": 2, "puppy": 2,
	"loyal": 3, "faithful": 3,
	"animal": 4, "animals": 4,
	"sat": 5, "sit": 5, "sitting": 5,
}

var stopWords = map[string]bool{"a": true, "an": true, "the": true, "on": true, "are": true, "is": true}

func newConceptEmbedder() *conceptEmbedder {
	return &conceptEmbedder{modelID: "concept-test"}
}

func (c *conceptEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c.calls.Add(1)
	v := make([]float32, conceptDims)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.TrimFunc(w, func(r rune) bool { return !unicode.IsLetter(r) && !unicode.IsNumber(r) })
		if w == "" || stopWords[w] {
			continue
		}
		if d, ok := concepts[w]; ok {
			v[d]++
			continue
		}
		h := fnv.New32a()
		_, _ = h.Write([]byte(w))
		v[6+int(h.Sum32()%(conceptDims-6))]++
	}
	if utils.L2Norm(v) == 0 {
		v[conceptDims-1] = 1
	}
	utils.NormalizeL2(v)
	return v, nil
}

func (c *conceptEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		v, err := c.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

func (c *conceptEmbedder) Dimensions() int { return conceptDims }
func (c *conceptEmbedder) ModelID() string { return c.modelID }
func (c *conceptEmbedder) Close() error    { return nil }

// switchableEmbedder fails with ErrModelUnavailable while fail is set.
type switchableEmbedder struct {
	embedding.Embedder
	mu   sync.Mutex
	fail bool
}

func (s *switchableEmbedder) setFail(fail bool) {
	s.mu.Lock()
	s.fail = fail
	s.mu.Unlock()
}

func (s *switchableEmbedder) failing() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *switchableEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if s.failing() {
		return nil, embedding.ErrModelUnavailable
	}
	return s.Embedder.Embed(ctx, text)
}

func (s *switchableEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if s.failing() {
		return nil, embedding.ErrModelUnavailable
	}
	return s.Embedder.EmbedBatch(ctx, texts)
}

var errDiskFull = errors.New("no space left on device")

func hitTexts(hits []Hit) []string {
	out := make([]string, len(hits))
	for i, h := range hits {
		out[i] = h.Text
	}
	return out
}
