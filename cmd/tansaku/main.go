// Package main is the tansaku CLI entry point.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/hyperjump/tansaku/internal/catalog"
	"github.com/hyperjump/tansaku/internal/cli"
	"github.com/hyperjump/tansaku/internal/config"
	"github.com/hyperjump/tansaku/internal/embedding"
	"github.com/hyperjump/tansaku/internal/ingest"
	"github.com/hyperjump/tansaku/internal/retrieval"
	"github.com/hyperjump/tansaku/internal/server"
	"github.com/hyperjump/tansaku/internal/vector"
	"github.com/hyperjump/tansaku/pkg/utils"
	"go.uber.org/zap"
)

var version = "dev"

const defaultConfigPath = "/usr/local/etc/tansaku/config.yaml"

var errUsage = errors.New("invalid usage")

// loadConfig loads config from path. When path is the default, config.yaml in
// the current directory wins if present; when neither exists the built-in
// defaults plus environment overrides are used. Returns the path actually
// loaded, or "" for defaults.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if cwd, err := os.Getwd(); err == nil {
			fallback := filepath.Join(cwd, "config.yaml")
			if _, err := os.Stat(fallback); err == nil {
				cfg, err := config.Load(fallback)
				if err != nil {
					return nil, "", err
				}
				return cfg, fallback, nil
			}
		}
		if _, err := os.Stat(path); os.IsNotExist(err) {
			cfg := config.Default()
			if err := cfg.Validate(); err != nil {
				return nil, "", err
			}
			return cfg, "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err := run(os.Args[1], os.Args[2:], os.Stdout); err != nil {
		if !errors.Is(err, errUsage) {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		}
		os.Exit(1)
	}
}

func run(command string, args []string, out io.Writer) error {
	switch command {
	case "server":
		return runServer(args)
	case "query":
		return runQuery(args, out)
	case "ingest":
		return runIngest(args, out)
	case "status":
		return runStatus(args, out)
	case "init":
		return runInit(args, out)
	case "version", "--version", "-v":
		fmt.Fprintf(out, "tansaku version %s\n", version)
		return nil
	case "help", "--help", "-h":
		printUsage(out)
		return nil
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		return errUsage
	}
}

func runServer(args []string) error {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	debug := fs.Bool("debug", false, "enable debug logging")
	watchIngest := fs.Bool("watch", false, "ingest files created or modified under ingest.source while serving")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}

	cfg, resolved, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	debugMode := cfg.Debug || *debug
	logger, err := utils.NewAppLogger(cfg.AppEnv, debugMode)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()
	logger.Info("config loaded",
		zap.String("config_path", resolved),
		zap.String("backend", cfg.Store.BackendName()),
		zap.Bool("debug", debugMode))

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	pipeline := retrieval.New(&cfg.Store, c.embedder, retrieval.WithLogger(logger))
	defer pipeline.Close()
	if err := pipeline.Reload(ctx); err != nil {
		return err
	}
	if err := pipeline.WatchIndex(ctx); err != nil {
		return err
	}

	// Ingestion writes through the pipeline's handle so this process has one
	// owner of the index.
	job := c.newJob(pipeline.Store())

	if *watchIngest {
		go func() {
			if _, err := job.Watch(ctx, cfg.Ingest.Source); err != nil {
				logger.Error("ingest watch stopped", zap.Error(err))
			}
		}()
	}

	srv := server.NewServer(pipeline, job, c.catalog, cfg, logger)
	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server failed: %w", err)
	case <-ctx.Done():
	}
	logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func printQueryUsage(fs *flag.FlagSet) {
	fmt.Fprintf(fs.Output(), "Usage: tansaku query [flags] <query>\n\n")
	fmt.Fprintf(fs.Output(), "Query is all remaining arguments joined by spaces. Multi-word queries work with or without quotes.\n\n")
	fs.PrintDefaults()
	fmt.Fprintf(fs.Output(), `
Examples:
  tansaku query what is a vector store
  tansaku query -k 5 "cosine similarity"
  tansaku query --server http://localhost:8080 --output json feline
`)
}

// buildQuery joins positional args with spaces so multi-word queries work the
// same with or without shell quoting.
func buildQuery(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// queryArgsReorder moves flags that appear after the query to the front so
// that flag parsing, which stops at the first positional argument, sees them.
func queryArgsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func runQuery(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	serverURL := fs.String("server", "", "server URL (empty = query the store directly)")
	k := fs.Int("k", 0, "number of results (0 = retrieval.default_k)")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	fs.Usage = func() { printQueryUsage(fs) }
	if err := fs.Parse(queryArgsReorder(args)); err != nil {
		return errUsage
	}
	query := buildQuery(fs.Args())
	if query == "" {
		printQueryUsage(fs)
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	start := time.Now()
	if *serverURL != "" {
		resp, err := queryViaHTTP(*serverURL, query, *k)
		if err != nil {
			return fmt.Errorf("query failed: %w", err)
		}
		return cli.WriteQueryResults(out, cli.NewQueryResponse(query, "server", time.Since(start), resp), format)
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()
	c, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()

	if *k == 0 {
		*k = cfg.Retrieval.DefaultK
	}
	pipeline := retrieval.New(&cfg.Store, c.embedder, retrieval.WithLogger(logger))
	defer pipeline.Close()
	hits, err := pipeline.Answer(ctx, query, *k)
	if err != nil {
		return err
	}
	return cli.WriteQueryResults(out, cli.NewQueryResponse(query, pipeline.Backend(), time.Since(start), hits), format)
}

type ragRequest struct {
	Query string `json:"query"`
	K     int    `json:"k,omitempty"`
}

type ragResponse struct {
	Query   string `json:"query"`
	Results []struct {
		Text  string  `json:"text"`
		Score float64 `json:"score"`
	} `json:"results"`
}

func queryViaHTTP(serverURL, query string, k int) ([]vector.Hit, error) {
	body, err := json.Marshal(ragRequest{Query: query, K: k})
	if err != nil {
		return nil, err
	}
	resp, err := http.Post(strings.TrimRight(serverURL, "/")+"/api/v1/rag", "application/json", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("server returned %d: %s", resp.StatusCode, strings.TrimSpace(string(b)))
	}
	var out ragResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}
	hits := make([]vector.Hit, len(out.Results))
	for i, r := range out.Results {
		hits[i] = vector.Hit{Text: r.Text, Score: r.Score}
	}
	return hits, nil
}

func runIngest(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("ingest", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	source := fs.String("source", "", "directory to ingest (default: ingest.source)")
	recursive := fs.Bool("recursive", false, "descend into subdirectories")
	skipUnchanged := fs.Bool("skip-unchanged", false, "skip files already ingested with the same content")
	watch := fs.Bool("watch", false, "keep running and ingest created or modified files")
	outputFormat := fs.String("output", "text", "output format: text or json")
	debug := fs.Bool("debug", false, "enable debug logging")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}

	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if *source != "" {
		cfg.Ingest.Source = *source
	}
	if *recursive {
		cfg.Ingest.Recursive = true
	}
	if *skipUnchanged {
		cfg.Ingest.SkipUnchanged = true
	}
	logger, err := utils.NewLogger(cfg.Debug || *debug)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := newComponents(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer c.Close()
	store, err := c.openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()
	job := c.newJob(store)

	var res ingest.Result
	if *watch {
		fmt.Fprintf(out, "Watching %s (Ctrl+C to stop)\n", cfg.Ingest.Source)
		res, err = job.Watch(ctx, cfg.Ingest.Source)
	} else {
		res, err = job.Run(ctx, cfg.Ingest.Source)
	}
	if err != nil {
		return err
	}
	return cli.WriteIngestResult(out, res, format)
}

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ContinueOnError)
	configPath := fs.String("config", defaultConfigPath, "config file path")
	outputFormat := fs.String("output", "text", "output format: text or json")
	recent := fs.Int("recent", 5, "number of recently ingested files to list")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	format, err := cli.ParseOutputFormat(*outputFormat)
	if err != nil {
		return err
	}
	cfg, _, err := loadConfig(*configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	ctx := context.Background()

	status := &cli.Status{
		Backend:        cfg.Store.BackendName(),
		EmbeddingModel: cfg.Embedding.Model,
		Dimensions:     cfg.Embedding.Dimensions,
	}
	switch cfg.Store.BackendName() {
	case config.BackendLocal:
		status.IndexPath = filepath.Join(cfg.Store.Local.Dir, vector.IndexFileName)
		// An unavailable embedder or unreadable index leaves the count at zero.
		if _, err := os.Stat(status.IndexPath); err == nil {
			if embedder, err := embedding.New(ctx, &cfg.Embedding, zap.NewNop()); err == nil {
				idx := vector.NewLocalIndex(cfg.Store.Local.Dir, embedder)
				if idx.Load(ctx) == nil {
					status.IndexEntries = idx.Size()
				}
				_ = embedder.Close()
			}
		}
	case config.BackendRemote:
		status.RemoteURL = cfg.Store.Remote.URL
		status.Collection = cfg.Store.Remote.Collection
	}

	if _, err := os.Stat(cfg.Catalog.Path); err == nil {
		cat, err := catalog.NewSQLiteCatalog(cfg.Catalog.Path)
		if err != nil {
			return err
		}
		err = catalogStatus(ctx, cat, status, *recent)
		_ = cat.Close()
		if err != nil {
			return err
		}
	}
	if n, err := catalog.DiskUsageBytes(cfg.Store.Local.Dir, cfg.Catalog.Path); err == nil {
		status.DiskUsageBytes = n
	}
	return cli.WriteStatus(out, status, format)
}

func catalogStatus(ctx context.Context, cat catalog.Catalog, status *cli.Status, recent int) error {
	stats, err := cat.Stats(ctx)
	if err != nil {
		return fmt.Errorf("catalog stats: %w", err)
	}
	status.Files = stats.Files
	status.CatalogEntries = stats.Entries
	if !stats.Last.IsZero() {
		status.LastIngestedAt = &stats.Last
	}
	if recent <= 0 {
		return nil
	}
	records, err := cat.List(ctx, 0, recent)
	if err != nil {
		return fmt.Errorf("catalog list: %w", err)
	}
	for _, r := range records {
		status.Recent = append(status.Recent, cli.RecentFile{Path: r.Path, Entries: r.Entries, IngestedAt: r.IngestedAt})
	}
	return nil
}

func runInit(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("init", flag.ContinueOnError)
	configPath := fs.String("config", "config.yaml", "where to write the config file")
	force := fs.Bool("force", false, "overwrite an existing file")
	if err := fs.Parse(args); err != nil {
		return errUsage
	}
	if _, err := os.Stat(*configPath); err == nil && !*force {
		return fmt.Errorf("%s already exists (use --force to overwrite)", *configPath)
	}
	cfg := &config.Config{}
	config.ApplyDefaults(cfg)
	if err := config.Save(*configPath, cfg); err != nil {
		return err
	}
	fmt.Fprintf(out, "Wrote %s\n", *configPath)
	return nil
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `tansaku - local and remote vector retrieval

Usage:
  tansaku server [flags]           Start the HTTP server
  tansaku query [flags] <query>    Retrieve the passages most similar to a query
  tansaku ingest [flags]           Add the text files of a directory to the store
  tansaku status [flags]           Show backend, index and catalogue status
  tansaku init [flags]             Write a config file with defaults
  tansaku version                  Show version
  tansaku help                     Show this help

Server Flags:
  --config string    Config file path (default: /usr/local/etc/tansaku/config.yaml)
  --debug            Enable debug logging
  --watch            Ingest files created or modified under ingest.source

Query Flags:
  --config string    Config file path
  --server string    Query a running server instead of the store
  -k int             Number of results (default: retrieval.default_k)
  --output string    Output format: text or json (default: text)

Ingest Flags:
  --config string    Config file path
  --source string    Directory to ingest (default: ingest.source)
  --recursive        Descend into subdirectories
  --skip-unchanged   Skip files already ingested with the same content
  --watch            Keep running and ingest changes
  --output string    Output format: text or json (default: text)

Status Flags:
  --config string    Config file path
  --output string    Output format: text or json (default: text)
  --recent int       Recently ingested files to list (default: 5)

Init Flags:
  --config string    Where to write the config (default: config.yaml)
  --force            Overwrite an existing file

Environment:
  RAG_BACKEND, EMBEDDING_PROVIDER, EMBEDDING_MODEL, INDEX_DIR (or FAISS_DIR),
  QDRANT_URL, QDRANT_COLLECTION, REDIS_URL, LOG_LEVEL, APP_ENV

Examples:
  tansaku init
  tansaku ingest --source data/sample_docs
  tansaku query "what does the index store"
  tansaku query --output json -k 5 cosine similarity
  RAG_BACKEND=qdrant tansaku server`)
}
