package vector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/circuitbreaker"
	"github.com/google/uuid"
	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/embedding"
	"go.uber.org/zap"
)

// Qdrant distance names.
const (
	distanceCosine    = "Cosine"
	distanceDot       = "Dot"
	distanceEuclid    = "Euclid"
	distanceManhattan = "Manhattan"
)

const maxResponseBytes = 32 << 20

// RemoteIndex talks to a Qdrant-compatible service over REST. It keeps no
// entries locally; vectors are computed with the local embedder and sent to
// the service. Requests are bounded by a timeout and guarded by a circuit
// breaker; there is no automatic retry.
type RemoteIndex struct {
	baseURL    string
	collection string
	client     *http.Client
	breaker    circuitbreaker.CircuitBreaker[*remoteResponse]
	embedder   embedding.Embedder
	logger     *zap.Logger

	mu       sync.RWMutex
	loaded   bool
	distance string
}

type remoteResponse struct {
	status int
	body   []byte
}

// Qdrant wire types.
type (
	qdrantVectorParams struct {
		Size     int    `json:"size"`
		Distance string `json:"distance"`
	}
	qdrantCollectionInfo struct {
		Result struct {
			Config struct {
				Params struct {
					Vectors qdrantVectorParams `json:"vectors"`
				} `json:"params"`
			} `json:"config"`
			PointsCount *int `json:"points_count"`
		} `json:"result"`
	}
	qdrantCreateCollection struct {
		Vectors qdrantVectorParams `json:"vectors"`
	}
	qdrantPayload struct {
		PageContent string         `json:"page_content"`
		Metadata    map[string]any `json:"metadata"`
	}
	qdrantPoint struct {
		ID      string        `json:"id"`
		Vector  []float32     `json:"vector"`
		Payload qdrantPayload `json:"payload"`
	}
	qdrantUpsert struct {
		Points []qdrantPoint `json:"points"`
	}
	qdrantSearch struct {
		Vector      []float32 `json:"vector"`
		Limit       int       `json:"limit"`
		WithPayload bool      `json:"with_payload"`
	}
	qdrantScoredPoint struct {
		ID      any           `json:"id"`
		Score   float64       `json:"score"`
		Payload qdrantPayload `json:"payload"`
	}
	qdrantSearchResult struct {
		Result []qdrantScoredPoint `json:"result"`
	}
	qdrantError struct {
		Status struct {
			Error string `json:"error"`
		} `json:"status"`
	}
)

// NewRemoteIndex creates a client for cfg.Collection at cfg.URL. Call Load before use.
func NewRemoteIndex(cfg config.RemoteStoreConfig, embedder embedding.Embedder, opts ...Option) *RemoteIndex {
	o := buildOptions(opts)
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	threshold := cfg.BreakerThreshold
	if threshold <= 0 {
		threshold = 5
	}
	breakerTimeout := cfg.BreakerTimeout
	if breakerTimeout <= 0 {
		breakerTimeout = 30 * time.Second
	}
	return &RemoteIndex{
		baseURL:    strings.TrimRight(cfg.URL, "/"),
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
		breaker: circuitbreaker.New[*remoteResponse](circuitbreaker.Config{
			MaxRequests: 1,
			Interval:    breakerTimeout,
			Timeout:     breakerTimeout,
			ReadyToTrip: func(counts circuitbreaker.Counts) bool {
				return counts.ConsecutiveFailures >= uint32(threshold) // #nosec G115 -- threshold is positive
			},
			IsSuccessful: func(err error) bool {
				var abandoned *abandonedError
				return err == nil || errors.As(err, &abandoned)
			},
		}),
		embedder: embedder,
		logger:   o.logger,
	}
}

// Load performs the service handshake, then checks the collection's vector
// configuration or creates the collection with cosine distance.
func (r *RemoteIndex) Load(ctx context.Context) error {
	resp, err := r.do(ctx, http.MethodGet, "/collections", nil)
	if err != nil {
		return err
	}
	if err := checkStatus(resp, "list collections"); err != nil {
		return err
	}

	collectionPath := "/collections/" + url.PathEscape(r.collection)
	resp, err = r.do(ctx, http.MethodGet, collectionPath, nil)
	if err != nil {
		return err
	}

	var distance string
	created := false
	switch {
	case resp.status == http.StatusNotFound:
		body := qdrantCreateCollection{Vectors: qdrantVectorParams{Size: r.embedder.Dimensions(), Distance: distanceCosine}}
		resp, err := r.do(ctx, http.MethodPut, collectionPath, body)
		if err != nil {
			return err
		}
		if err := checkStatus(resp, "create collection "+r.collection); err != nil {
			return err
		}
		distance = distanceCosine
		created = true
		r.logger.Info("created remote collection",
			zap.String("collection", r.collection), zap.Int("dimensions", r.embedder.Dimensions()))
	default:
		if err := checkStatus(resp, "get collection "+r.collection); err != nil {
			return err
		}
		var info qdrantCollectionInfo
		if err := json.Unmarshal(resp.body, &info); err != nil {
			return fmt.Errorf("%w: decode collection info: %v", ErrServiceRejected, err)
		}
		params := info.Result.Config.Params.Vectors
		if params.Size != r.embedder.Dimensions() {
			return fmt.Errorf("%w: collection %s has vector size %d, embedder dimension %d",
				ErrServiceRejected, r.collection, params.Size, r.embedder.Dimensions())
		}
		distance = params.Distance
		created = info.Result.PointsCount != nil && *info.Result.PointsCount == 0
	}
	if _, err := translateScore(distance, 0); err != nil {
		return err
	}

	if created {
		meta := []map[string]string{{"source": BootstrapSource}}
		if err := r.upsert(ctx, []string{BootstrapText}, meta); err != nil {
			return fmt.Errorf("bootstrap collection: %w", err)
		}
	}

	r.mu.Lock()
	r.distance = distance
	r.loaded = true
	r.mu.Unlock()
	r.logger.Debug("remote index loaded", zap.String("collection", r.collection), zap.String("distance", distance))
	return nil
}

// AddTexts embeds texts locally and upserts them as new points with random UUIDs.
func (r *RemoteIndex) AddTexts(ctx context.Context, texts []string, metadatas []map[string]string) error {
	metas, err := validateAdd(texts, metadatas)
	if err != nil {
		return err
	}
	if !r.isLoaded() {
		return ErrNotLoaded
	}
	if len(texts) == 0 {
		return nil
	}
	return r.upsert(ctx, texts, metas)
}

func (r *RemoteIndex) upsert(ctx context.Context, texts []string, metas []map[string]string) error {
	vectors, err := embedTexts(ctx, r.embedder, texts)
	if err != nil {
		return err
	}

	points := make([]qdrantPoint, len(texts))
	for i, text := range texts {
		meta := make(map[string]any, len(metas[i]))
		for k, v := range metas[i] {
			meta[k] = v
		}
		points[i] = qdrantPoint{
			ID:      uuid.NewString(),
			Vector:  vectors[i],
			Payload: qdrantPayload{PageContent: text, Metadata: meta},
		}
	}

	path := "/collections/" + url.PathEscape(r.collection) + "/points?wait=true"
	resp, err := r.do(ctx, http.MethodPut, path, qdrantUpsert{Points: points})
	if err != nil {
		return err
	}
	if err := checkStatus(resp, "upsert points"); err != nil {
		return err
	}
	r.logger.Debug("remote index appended", zap.String("collection", r.collection), zap.Int("added", len(texts)))
	return nil
}

// Search asks the service for the k nearest points and converts their scores to
// cosine similarity.
func (r *RemoteIndex) Search(ctx context.Context, query string, k int) ([]Hit, error) {
	if k < 0 {
		return nil, fmt.Errorf("%w: k must not be negative, got %d", ErrInvalidArgument, k)
	}
	if !r.isLoaded() {
		return nil, ErrNotLoaded
	}
	if k == 0 {
		return []Hit{}, nil
	}

	q, err := embedQuery(ctx, r.embedder, query)
	if err != nil {
		return nil, err
	}

	path := "/collections/" + url.PathEscape(r.collection) + "/points/search"
	resp, err := r.do(ctx, http.MethodPost, path, qdrantSearch{Vector: q, Limit: k, WithPayload: true})
	if err != nil {
		return nil, err
	}
	if err := checkStatus(resp, "search points"); err != nil {
		return nil, err
	}
	var result qdrantSearchResult
	if err := json.Unmarshal(resp.body, &result); err != nil {
		return nil, fmt.Errorf("%w: decode search result: %v", ErrServiceRejected, err)
	}

	r.mu.RLock()
	distance := r.distance
	r.mu.RUnlock()

	hits := make([]Hit, 0, len(result.Result))
	for _, p := range result.Result {
		score, err := translateScore(distance, p.Score)
		if err != nil {
			return nil, err
		}
		hits = append(hits, Hit{
			Text:     p.Payload.PageContent,
			Score:    score,
			Metadata: stringifyMetadata(p.Payload.Metadata),
		})
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].Score > hits[j].Score })
	if len(hits) > k {
		hits = hits[:k]
	}
	return hits, nil
}

// Backend returns BackendRemote.
func (r *RemoteIndex) Backend() Backend {
	return BackendRemote
}

// BreakerState reports the circuit breaker state ("closed", "open" or "half-open").
func (r *RemoteIndex) BreakerState() string {
	return r.breaker.State().String()
}

// Close drops idle connections. The index must be loaded again before use.
func (r *RemoteIndex) Close() error {
	r.mu.Lock()
	r.loaded = false
	r.mu.Unlock()
	r.client.CloseIdleConnections()
	return nil
}

func (r *RemoteIndex) isLoaded() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.loaded
}

// do sends one request through the circuit breaker. Transport failures and 5xx
// responses count against the breaker and are reported as ErrServiceUnreachable;
// every other response is returned for the caller to classify.
func (r *RemoteIndex) do(ctx context.Context, method, path string, body any) (*remoteResponse, error) {
	var payload []byte
	if body != nil {
		var err error
		if payload, err = json.Marshal(body); err != nil {
			return nil, fmt.Errorf("marshal %s %s: %w", method, path, err)
		}
	}

	resp, err := r.breaker.Execute(ctx, func(ctx context.Context) (*remoteResponse, error) {
		req, err := http.NewRequestWithContext(ctx, method, r.baseURL+path, bytes.NewReader(payload))
		if err != nil {
			return nil, err
		}
		if body != nil {
			req.Header.Set("Content-Type", "application/json")
		}
		httpResp, err := r.client.Do(req)
		if err != nil {
			if ctx.Err() != nil {
				return nil, &abandonedError{err: err}
			}
			return nil, err
		}
		defer httpResp.Body.Close()
		data, err := io.ReadAll(io.LimitReader(httpResp.Body, maxResponseBytes))
		if err != nil {
			if ctx.Err() != nil {
				return nil, &abandonedError{err: err}
			}
			return nil, fmt.Errorf("read response: %w", err)
		}
		if httpResp.StatusCode >= 500 {
			return nil, fmt.Errorf("status %d: %s", httpResp.StatusCode, errorMessage(data))
		}
		return &remoteResponse{status: httpResp.StatusCode, body: data}, nil
	})
	if err != nil {
		r.logger.Debug("remote request failed",
			zap.String("method", method), zap.String("path", path), zap.Error(err))
		return nil, fmt.Errorf("%w: %s %s: %w", ErrServiceUnreachable, method, path, err)
	}
	return resp, nil
}

// abandonedError marks a request cut short by the caller's context rather than
// by the service. The breaker does not count it as a failure.
type abandonedError struct {
	err error
}

func (e *abandonedError) Error() string { return e.err.Error() }
func (e *abandonedError) Unwrap() error { return e.err }

func checkStatus(resp *remoteResponse, op string) error {
	if resp.status >= 200 && resp.status < 300 {
		return nil
	}
	return fmt.Errorf("%w: %s: status %d: %s", ErrServiceRejected, op, resp.status, errorMessage(resp.body))
}

func errorMessage(body []byte) string {
	var e qdrantError
	if json.Unmarshal(body, &e) == nil && e.Status.Error != "" {
		return e.Status.Error
	}
	return strings.TrimSpace(string(body))
}

// translateScore converts a native Qdrant score to cosine similarity. Stored
// vectors are unit length, so dot product equals cosine and squared Euclidean
// distance d² equals 2 - 2cos.
func translateScore(distance string, score float64) (float64, error) {
	switch distance {
	case distanceCosine, distanceDot:
		return score, nil
	case distanceEuclid:
		return 1 - score*score/2, nil
	case distanceManhattan:
		return 0, fmt.Errorf("%w: Manhattan distance cannot be converted to cosine similarity", ErrServiceRejected)
	default:
		return 0, fmt.Errorf("%w: unsupported distance %q", ErrServiceRejected, distance)
	}
}

func stringifyMetadata(m map[string]any) map[string]string {
	out := make(map[string]string, len(m))
	for k, v := range m {
		switch t := v.(type) {
		case string:
			out[k] = t
		case nil:
			out[k] = ""
		default:
			out[k] = fmt.Sprint(t)
		}
	}
	return out
}
