package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/hyperjump/tansaku/internal/catalog"
	"github.com/hyperjump/tansaku/internal/embedding"
	"github.com/hyperjump/tansaku/internal/vector"
	"go.uber.org/zap"
)

type ragRequest struct {
	Query string `json:"query"`
	K     *int   `json:"k,omitempty"`
}

type ragResult struct {
	Text  string  `json:"text"`
	Score float64 `json:"score"`
}

type ragResponse struct {
	Query   string      `json:"query"`
	Results []ragResult `json:"results"`
}

func (s *Server) handleRAG(w http.ResponseWriter, r *http.Request) {
	var req ragRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	k, ok := s.resolveK(req.K)
	if !ok {
		s.respondError(w, http.StatusBadRequest, "k must not be negative")
		return
	}
	s.logger.Debug("rag request", zap.String("query", req.Query), zap.Int("k", k))

	hits, err := s.pipeline.Answer(r.Context(), req.Query, k)
	if err != nil {
		s.logger.Error("rag failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	resp := ragResponse{Query: req.Query, Results: make([]ragResult, len(hits))}
	for i, h := range hits {
		resp.Results[i] = ragResult{Text: h.Text, Score: h.Score}
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// resolveK applies retrieval.default_k to a missing or zero k and caps it at
// retrieval.max_k. A negative k is rejected.
func (s *Server) resolveK(k *int) (int, bool) {
	rc := s.config.Retrieval
	if k == nil || *k == 0 {
		return rc.DefaultK, true
	}
	if *k < 0 {
		return 0, false
	}
	if rc.MaxK > 0 && *k > rc.MaxK {
		return rc.MaxK, true
	}
	return *k, true
}

func (s *Server) handleReload(w http.ResponseWriter, r *http.Request) {
	s.logger.Debug("reload request")
	if err := s.pipeline.Reload(r.Context()); err != nil {
		s.logger.Error("reload failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "reloaded", "backend": s.pipeline.Backend()})
}

type ingestRequest struct {
	Source string `json:"source"`
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	if s.ingester == nil {
		s.respondError(w, http.StatusNotImplemented, "ingest not enabled")
		return
	}
	var req ingestRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.respondError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Source == "" {
		req.Source = s.config.Ingest.Source
	}
	s.logger.Debug("ingest request", zap.String("source", req.Source))
	res, err := s.ingester.Run(r.Context(), req.Source)
	if err != nil {
		s.logger.Error("ingest failed", zap.Error(err))
		s.respondError(w, statusFor(err), err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]interface{}{
		"status":  res.Status,
		"count":   res.Count,
		"entries": res.Entries,
		"files":   res.Files,
		"skipped": len(res.Skipped),
		"failed":  res.Failed,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	resp := map[string]interface{}{
		"backend":         s.pipeline.Backend(),
		"embedding_model": s.config.Embedding.Model,
		"dimensions":      s.config.Embedding.Dimensions,
	}
	if s.catalog != nil {
		stats, err := s.catalog.Stats(r.Context())
		if err != nil {
			s.logger.Error("status: catalog stats failed", zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		resp["files"] = stats.Files
		resp["entries"] = stats.Entries
		if !stats.Last.IsZero() {
			resp["last_ingested_at"] = stats.Last
		}
	}
	if diskBytes, err := catalog.DiskUsageBytes(s.config.Store.Local.Dir, s.config.Catalog.Path); err == nil {
		resp["disk_usage_bytes"] = diskBytes
	}
	s.respondJSON(w, http.StatusOK, resp)
}

// statusFor maps store and embedder errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, vector.ErrInvalidArgument):
		return http.StatusBadRequest
	case errors.Is(err, vector.ErrServiceUnreachable), errors.Is(err, embedding.ErrModelUnavailable):
		return http.StatusServiceUnavailable
	case errors.Is(err, vector.ErrServiceRejected):
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
