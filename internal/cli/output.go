// Package cli formats tansaku command output.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/hyperjump/tansaku/internal/ingest"
	"github.com/hyperjump/tansaku/internal/vector"
	"github.com/hyperjump/tansaku/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat accepts "text" or "json".
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(s) {
	case OutputText, OutputJSON:
		return OutputFormat(s), nil
	default:
		return "", fmt.Errorf("invalid output format %q (use text or json)", s)
	}
}

// QueryResult is one hit as printed by the query command.
type QueryResult struct {
	Rank   int     `json:"rank"`
	Text   string  `json:"text"`
	Score  float64 `json:"score"`
	Source string  `json:"source,omitempty"`
}

// QueryResponse mirrors the HTTP /rag response with ranks and sources added.
type QueryResponse struct {
	Query     string        `json:"query"`
	Backend   string        `json:"backend"`
	QueryTime int64         `json:"query_time_ms"`
	Results   []QueryResult `json:"results"`
}

// NewQueryResponse builds a response from pipeline hits.
func NewQueryResponse(query, backend string, elapsed time.Duration, hits []vector.Hit) *QueryResponse {
	resp := &QueryResponse{
		Query:     query,
		Backend:   backend,
		QueryTime: elapsed.Milliseconds(),
		Results:   make([]QueryResult, len(hits)),
	}
	for i, h := range hits {
		resp.Results[i] = QueryResult{Rank: i + 1, Text: h.Text, Score: h.Score, Source: h.Metadata["source"]}
	}
	return resp
}

// WriteQueryResults writes query results to w in the given format.
func WriteQueryResults(w io.Writer, resp *QueryResponse, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, resp)
	}
	fmt.Fprintf(w, "\nFound %d results in %dms (backend: %s)\n\n", len(resp.Results), resp.QueryTime, resp.Backend)
	for _, r := range resp.Results {
		fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
		fmt.Fprintf(w, "Rank: %d | Score: %.4f", r.Rank, r.Score)
		if r.Source != "" {
			fmt.Fprintf(w, " | Source: %s", r.Source)
		}
		fmt.Fprintf(w, "\n\n%s\n\n", utils.Truncate(utils.SingleLine(r.Text), 200))
	}
	return nil
}

// WriteIngestResult prints the outcome of an ingestion run.
func WriteIngestResult(w io.Writer, res ingest.Result, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]interface{}{
			"status":  res.Status,
			"count":   res.Count,
			"entries": res.Entries,
			"files":   res.Files,
			"skipped": res.Skipped,
			"failed":  res.Failed,
		})
	}
	if res.Status == ingest.StatusNothingToIngest {
		fmt.Fprintln(w, "No docs found.")
	} else {
		fmt.Fprintf(w, "Ingested %d docs.\n", res.Count)
	}
	if len(res.Skipped) > 0 {
		fmt.Fprintf(w, "Skipped %d unchanged files.\n", len(res.Skipped))
	}
	for _, f := range res.Failed {
		fmt.Fprintf(w, "Failed: %s\n", f)
	}
	return nil
}

// Status is the summary printed by the status command.
type Status struct {
	Backend        string       `json:"backend"`
	EmbeddingModel string       `json:"embedding_model"`
	Dimensions     int          `json:"dimensions"`
	IndexPath      string       `json:"index_path,omitempty"`
	IndexEntries   int          `json:"index_entries,omitempty"`
	Collection     string       `json:"collection,omitempty"`
	RemoteURL      string       `json:"remote_url,omitempty"`
	Files          int64        `json:"files"`
	CatalogEntries int64        `json:"catalog_entries"`
	LastIngestedAt *time.Time   `json:"last_ingested_at,omitempty"`
	DiskUsageBytes int64        `json:"disk_usage_bytes"`
	Recent         []RecentFile `json:"recent,omitempty"`
}

// RecentFile is one catalogue record listed by the status command.
type RecentFile struct {
	Path       string    `json:"path"`
	Entries    int       `json:"entries"`
	IngestedAt time.Time `json:"ingested_at"`
}

// WriteStatus writes s to w in the given format.
func WriteStatus(w io.Writer, s *Status, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, s)
	}
	fmt.Fprintf(w, "Backend:          %s\n", s.Backend)
	fmt.Fprintf(w, "Embedding model:  %s (%d dims)\n", s.EmbeddingModel, s.Dimensions)
	if s.IndexPath != "" {
		fmt.Fprintf(w, "Index:            %s (%d entries)\n", s.IndexPath, s.IndexEntries)
	}
	if s.RemoteURL != "" {
		fmt.Fprintf(w, "Collection:       %s at %s\n", s.Collection, s.RemoteURL)
	}
	fmt.Fprintf(w, "Ingested files:   %d (%d entries)\n", s.Files, s.CatalogEntries)
	if s.LastIngestedAt != nil {
		fmt.Fprintf(w, "Last ingestion:   %s\n", s.LastIngestedAt.Format(time.RFC3339))
	}
	fmt.Fprintf(w, "Disk usage:       %s\n", FormatBytes(s.DiskUsageBytes))
	if len(s.Recent) > 0 {
		fmt.Fprintf(w, "\nRecently ingested:\n")
		for _, f := range s.Recent {
			fmt.Fprintf(w, "  %s  %s (%d entries)\n", f.IngestedAt.Format(time.RFC3339), f.Path, f.Entries)
		}
	}
	return nil
}

// FormatBytes renders n with a binary unit suffix.
func FormatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

func writeJSON(w io.Writer, v interface{}) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
