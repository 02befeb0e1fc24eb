package cli

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/hyperjump/tansaku/internal/ingest"
	"github.com/hyperjump/tansaku/internal/vector"
)

func sampleResponse() *QueryResponse {
	hits := []vector.Hit{
		{Text: "the cat sat\non the mat", Score: 0.91, Metadata: map[string]string{"source": "cats.txt"}},
		{Text: "dogs are loyal", Score: 0.12},
	}
	return NewQueryResponse("feline", "local", 42*time.Millisecond, hits)
}

func TestNewQueryResponse(t *testing.T) {
	resp := sampleResponse()
	if resp.QueryTime != 42 || len(resp.Results) != 2 {
		t.Fatalf("resp = %+v", resp)
	}
	if resp.Results[0].Rank != 1 || resp.Results[0].Source != "cats.txt" || resp.Results[1].Source != "" {
		t.Errorf("results = %+v", resp.Results)
	}
}

func TestWriteQueryResults_JSON(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, sampleResponse(), OutputJSON); err != nil {
		t.Fatal(err)
	}
	var decoded QueryResponse
	if err := json.Unmarshal(buf.Bytes(), &decoded); err != nil {
		t.Fatalf("output is not valid JSON: %v\n%s", err, buf.String())
	}
	if decoded.Query != "feline" || decoded.Backend != "local" || len(decoded.Results) != 2 {
		t.Errorf("decoded = %+v", decoded)
	}
	if decoded.Results[0].Score != 0.91 {
		t.Errorf("score = %v", decoded.Results[0].Score)
	}
}

func TestWriteQueryResults_JSONEmpty(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, NewQueryResponse("q", "remote", 0, nil), OutputJSON); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), `"results": []`) {
		t.Errorf("empty results should encode as [], got %s", buf.String())
	}
}

func TestWriteQueryResults_Text(t *testing.T) {
	var buf bytes.Buffer
	if err := WriteQueryResults(&buf, sampleResponse(), OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Found 2 results in 42ms (backend: local)", "Rank: 1 | Score: 0.9100 | Source: cats.txt", "the cat sat on the mat"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestWriteIngestResult_Text(t *testing.T) {
	tests := []struct {
		res  ingest.Result
		want string
	}{
		{ingest.Result{Status: ingest.StatusIngested, Count: 3}, "Ingested 3 docs.\n"},
		{ingest.Result{Status: ingest.StatusNothingToIngest}, "No docs found.\n"},
		{ingest.Result{Status: ingest.StatusNothingToIngest, Skipped: []string{"a", "b"}}, "No docs found.\nSkipped 2 unchanged files.\n"},
	}
	for _, tt := range tests {
		var buf bytes.Buffer
		if err := WriteIngestResult(&buf, tt.res, OutputText); err != nil {
			t.Fatal(err)
		}
		if buf.String() != tt.want {
			t.Errorf("got %q, want %q", buf.String(), tt.want)
		}
	}
}

func TestWriteStatus(t *testing.T) {
	last := time.Date(2026, 2, 3, 4, 5, 6, 0, time.UTC)
	s := &Status{Backend: "local", EmbeddingModel: "m", Dimensions: 384, IndexPath: "/idx/index.tsk", IndexEntries: 7,
		Files: 2, CatalogEntries: 6, LastIngestedAt: &last, DiskUsageBytes: 2048}
	var buf bytes.Buffer
	if err := WriteStatus(&buf, s, OutputText); err != nil {
		t.Fatal(err)
	}
	out := buf.String()
	for _, want := range []string{"Backend:          local", "m (384 dims)", "/idx/index.tsk (7 entries)", "2 (6 entries)", "2026-02-03T04:05:06Z", "2.0 KiB"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}

	buf.Reset()
	s.Recent = []RecentFile{{Path: "/docs/a.txt", Entries: 4, IngestedAt: last}}
	if err := WriteStatus(&buf, s, OutputText); err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(buf.String(), "Recently ingested:\n  2026-02-03T04:05:06Z  /docs/a.txt (4 entries)\n") {
		t.Errorf("recent files not listed:\n%s", buf.String())
	}

	buf.Reset()
	if err := WriteStatus(&buf, &Status{Backend: "remote"}, OutputJSON); err != nil {
		t.Fatal(err)
	}
	if strings.Contains(buf.String(), "last_ingested_at") || strings.Contains(buf.String(), "recent") {
		t.Errorf("unset last_ingested_at and recent should be omitted: %s", buf.String())
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		n    int64
		want string
	}{
		{0, "0 B"},
		{1023, "1023 B"},
		{1024, "1.0 KiB"},
		{1536, "1.5 KiB"},
		{5 * 1024 * 1024, "5.0 MiB"},
	}
	for _, tt := range tests {
		if got := FormatBytes(tt.n); got != tt.want {
			t.Errorf("FormatBytes(%d) = %q, want %q", tt.n, got, tt.want)
		}
	}
}

func TestParseOutputFormat(t *testing.T) {
	if f, err := ParseOutputFormat("json"); err != nil || f != OutputJSON {
		t.Errorf("json: %v %v", f, err)
	}
	if _, err := ParseOutputFormat("yaml"); err == nil {
		t.Error("expected error for yaml")
	}
}
