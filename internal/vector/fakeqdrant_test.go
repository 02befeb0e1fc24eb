package vector

import (
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
)

// fakeQdrant implements the subset of the Qdrant REST API RemoteIndex uses.
type fakeQdrant struct {
	mu          sync.Mutex
	collections map[string]*fakeCollection
	// failStatus, when non-zero, is returned for every request.
	failStatus atomic.Int32
	// upsertStatus, when non-zero, is returned for point upserts only.
	upsertStatus atomic.Int32
	// delay holds every request for that many nanoseconds or until the client gives up.
	delay    atomic.Int64
	requests atomic.Int64
}

type fakeCollection struct {
	size     int
	distance string
	points   []qdrantPoint
}

func newFakeQdrant(t *testing.T) (*fakeQdrant, *httptest.Server) {
	t.Helper()
	f := &fakeQdrant{collections: make(map[string]*fakeCollection)}
	r := chi.NewRouter()
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			f.requests.Add(1)
			if d := time.Duration(f.delay.Load()); d > 0 {
				select {
				case <-time.After(d):
				case <-req.Context().Done():
					return
				}
			}
			if status := int(f.failStatus.Load()); status != 0 {
				writeFakeError(w, status, "injected failure")
				return
			}
			if status := int(f.upsertStatus.Load()); status != 0 && req.Method == http.MethodPut && strings.HasSuffix(req.URL.Path, "/points") {
				writeFakeError(w, status, "injected upsert failure")
				return
			}
			next.ServeHTTP(w, req)
		})
	})
	r.Get("/collections", f.listCollections)
	r.Get("/collections/{name}", f.getCollection)
	r.Put("/collections/{name}", f.createCollection)
	r.Put("/collections/{name}/points", f.upsertPoints)
	r.Post("/collections/{name}/points/search", f.searchPoints)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return f, srv
}

func (f *fakeQdrant) addCollection(name string, size int, distance string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[name] = &fakeCollection{size: size, distance: distance}
}

func (f *fakeQdrant) pointCount(name string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	if c, ok := f.collections[name]; ok {
		return len(c.points)
	}
	return -1
}

func writeFakeJSON(w http.ResponseWriter, status int, result any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"result": result, "status": "ok", "time": 0.001})
}

func writeFakeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]any{"status": map[string]string{"error": msg}})
}

func (f *fakeQdrant) listCollections(w http.ResponseWriter, _ *http.Request) {
	f.mu.Lock()
	names := make([]map[string]string, 0, len(f.collections))
	for name := range f.collections {
		names = append(names, map[string]string{"name": name})
	}
	f.mu.Unlock()
	writeFakeJSON(w, http.StatusOK, map[string]any{"collections": names})
}

func (f *fakeQdrant) getCollection(w http.ResponseWriter, r *http.Request) {
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[chi.URLParam(r, "name")]
	if !ok {
		writeFakeError(w, http.StatusNotFound, "Collection not found")
		return
	}
	writeFakeJSON(w, http.StatusOK, map[string]any{
		"status":       "green",
		"points_count": len(c.points),
		"config": map[string]any{
			"params": map[string]any{
				"vectors": map[string]any{"size": c.size, "distance": c.distance},
			},
		},
	})
}

func (f *fakeQdrant) createCollection(w http.ResponseWriter, r *http.Request) {
	var body qdrantCreateCollection
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || body.Vectors.Size <= 0 {
		writeFakeError(w, http.StatusBadRequest, "bad vectors config")
		return
	}
	f.addCollection(chi.URLParam(r, "name"), body.Vectors.Size, body.Vectors.Distance)
	writeFakeJSON(w, http.StatusOK, true)
}

func (f *fakeQdrant) upsertPoints(w http.ResponseWriter, r *http.Request) {
	var body qdrantUpsert
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[chi.URLParam(r, "name")]
	if !ok {
		writeFakeError(w, http.StatusNotFound, "Collection not found")
		return
	}
	for _, p := range body.Points {
		if len(p.Vector) != c.size {
			writeFakeError(w, http.StatusBadRequest, "Wrong input: Vector dimension error")
			return
		}
	}
	c.points = append(c.points, body.Points...)
	writeFakeJSON(w, http.StatusOK, map[string]any{"operation_id": len(c.points), "status": "completed"})
}

func (f *fakeQdrant) searchPoints(w http.ResponseWriter, r *http.Request) {
	var body qdrantSearch
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeFakeError(w, http.StatusBadRequest, err.Error())
		return
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	c, ok := f.collections[chi.URLParam(r, "name")]
	if !ok {
		writeFakeError(w, http.StatusNotFound, "Collection not found")
		return
	}

	type scored struct {
		p     qdrantPoint
		score float64
	}
	all := make([]scored, len(c.points))
	for i, p := range c.points {
		all[i] = scored{p: p, score: fakeScore(c.distance, body.Vector, p.Vector)}
	}
	lowerIsBetter := c.distance == distanceEuclid || c.distance == distanceManhattan
	sort.SliceStable(all, func(i, j int) bool {
		if lowerIsBetter {
			return all[i].score < all[j].score
		}
		return all[i].score > all[j].score
	})
	if len(all) > body.Limit {
		all = all[:body.Limit]
	}
	out := make([]map[string]any, len(all))
	for i, s := range all {
		out[i] = map[string]any{"id": s.p.ID, "version": 0, "score": s.score, "payload": s.p.Payload}
	}
	writeFakeJSON(w, http.StatusOK, out)
}

func fakeScore(distance string, a, b []float32) float64 {
	switch distance {
	case distanceEuclid:
		var sum float64
		for i := range a {
			d := float64(a[i]) - float64(b[i])
			sum += d * d
		}
		return math.Sqrt(sum)
	case distanceManhattan:
		var sum float64
		for i := range a {
			sum += math.Abs(float64(a[i]) - float64(b[i]))
		}
		return sum
	case distanceDot:
		var dot float64
		for i := range a {
			dot += float64(a[i]) * float64(b[i])
		}
		return dot
	default:
		return CosineSimilarity(a, b)
	}
}
