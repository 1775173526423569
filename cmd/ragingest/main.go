// Command ragingest runs the Ingestion Pipeline (component F, spec.md
// §4.F) over a symbol list and time range: the batch CLI driver of
// component J, §4.J/§6.4.
package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/ragpatterns/internal/cache"
	"github.com/sawpanic/ragpatterns/internal/config"
	"github.com/sawpanic/ragpatterns/internal/data/reader"
	"github.com/sawpanic/ragpatterns/internal/embed"
	"github.com/sawpanic/ragpatterns/internal/ingest"
	"github.com/sawpanic/ragpatterns/internal/logging"
	"github.com/sawpanic/ragpatterns/internal/vectorindex"
)

func main() {
	var (
		configPath     string
		symbols        string
		start          string
		end            string
		cadenceMinutes int
		collection     string
		indexEndpoint  string
		dataSource     string
		storePath      string
		logLevel       string
		cacheAddr      string
	)

	root := &cobra.Command{
		Use:   "ragingest",
		Short: "Walk historical data and upsert pattern snapshots into the vector index",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadIngestConfig(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			applyIngestFlagOverrides(&cfg, cmd, symbols, start, end, cadenceMinutes, collection, indexEndpoint, dataSource, storePath, cacheAddr)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			if logLevel == "" {
				logLevel = "info"
			}
			logging.Init(logLevel)

			code, err := run(cfg)
			if err != nil {
				log.Error().Err(err).Msg("ragingest exited")
			}
			os.Exit(code)
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to an ingest config YAML file")
	root.Flags().StringVar(&symbols, "symbols", "", "comma-separated symbol list (overrides config)")
	root.Flags().StringVar(&start, "start", "", "range start: ISO-8601 or integer days-ago (overrides config)")
	root.Flags().StringVar(&end, "end", "", "range end: ISO-8601 or integer days-ago (overrides config)")
	root.Flags().IntVar(&cadenceMinutes, "cadence-minutes", 0, "extraction cadence in minutes (overrides config)")
	root.Flags().StringVar(&collection, "collection", "", "vector index collection name (overrides config)")
	root.Flags().StringVar(&indexEndpoint, "index-endpoint", "", "vector index endpoint: postgres://... or memory (overrides config)")
	root.Flags().StringVar(&dataSource, "data-source", "", "\"mock\" or \"store\" (overrides config)")
	root.Flags().StringVar(&storePath, "store-path", "", "historical store directory, required when data-source=store (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error")
	root.Flags().StringVar(&cacheAddr, "cache-addr", "", "redis host:port for the read-through cache (overrides config; empty uses an in-process cache)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyIngestFlagOverrides(cfg *config.IngestConfig, cmd *cobra.Command, symbols, start, end string, cadenceMinutes int, collection, indexEndpoint, dataSource, storePath, cacheAddr string) {
	if cmd.Flags().Changed("symbols") {
		cfg.Symbols = splitSymbols(symbols)
	}
	if cmd.Flags().Changed("start") {
		cfg.Start = start
	}
	if cmd.Flags().Changed("end") {
		cfg.End = end
	}
	if cmd.Flags().Changed("cadence-minutes") {
		cfg.CadenceMinutes = cadenceMinutes
	}
	if cmd.Flags().Changed("collection") {
		cfg.Collection = collection
	}
	if cmd.Flags().Changed("index-endpoint") {
		cfg.IndexEndpoint = indexEndpoint
	}
	if cmd.Flags().Changed("data-source") {
		cfg.DataSource = dataSource
	}
	if cmd.Flags().Changed("store-path") {
		cfg.StorePath = storePath
	}
	if cmd.Flags().Changed("cache-addr") {
		cfg.CacheAddr = cacheAddr
	}
}

func splitSymbols(raw string) []string {
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

// run executes the pipeline and returns the process exit code spec.md
// §6.4 documents: 0 success, 1 config error, 2 runtime error.
func run(cfg config.IngestConfig) (int, error) {
	now := time.Now()
	startTs, err := config.ParseTimeBound(cfg.Start, now)
	if err != nil {
		return 1, fmt.Errorf("parse start: %w", err)
	}
	endTs, err := config.ParseTimeBound(cfg.End, now)
	if err != nil {
		return 1, fmt.Errorf("parse end: %w", err)
	}
	if endTs <= startTs {
		return 1, fmt.Errorf("end (%d) must be after start (%d)", endTs, startTs)
	}

	ctx := context.Background()

	store, err := openStore(cfg)
	if err != nil {
		return 1, fmt.Errorf("open historical store: %w", err)
	}

	serverCfg := config.DefaultServerConfig()
	index, closeIndex, err := openVectorIndex(ctx, cfg.IndexEndpoint, serverCfg.EmbeddingDim)
	if err != nil {
		return 2, fmt.Errorf("open vector index: %w", err)
	}
	defer closeIndex()

	collection := cfg.Collection
	if collection == "" {
		collection = "trading_patterns"
	}
	if err := index.EnsureCollection(ctx, collection, serverCfg.EmbeddingDim); err != nil {
		return 2, fmt.Errorf("ensure collection: %w", err)
	}

	readCache := cache.NewFromAddr(cfg.CacheAddr, 0)
	store = reader.WithCache(store, readCache, cfg.CacheTTL)

	embedCache := cache.NewFromAddr(cfg.CacheAddr, 1)
	embedder := embed.NewPool(embed.NewCachedEmbedder(embed.NewDeterministic(serverCfg.EmbeddingDim), embedCache, cfg.CacheTTL), 1)

	jobs := make([]ingest.Job, len(cfg.Symbols))
	for i, sym := range cfg.Symbols {
		jobs[i] = ingest.Job{
			Symbol:         strings.ToUpper(sym),
			StartTs:        startTs,
			EndTs:          endTs,
			CadenceMinutes: cfg.CadenceMinutes,
		}
	}

	progress := logging.NewTextProgress(log.Logger, "ingesting", 500)
	pipeline := &ingest.Pipeline{
		Store:          store,
		Embedder:       embedder,
		Index:          index,
		Collection:     collection,
		Config:         ingest.DefaultPipelineConfig(),
		Extract:        ingest.DefaultExtractorConfig(),
		Progress:       progress,
		Log:            log.Logger,
		SchemaVersion:  cfg.SchemaVersion,
		FeatureVersion: cfg.FeatureVersion,
		BuildID:        uuid.NewString(),
	}

	report := pipeline.Run(ctx, jobs)
	progress.Finish()

	log.Info().
		Int("snapshots_created", report.SnapshotsCreated).
		Int("snapshots_upserted", report.SnapshotsUpserted).
		Int("skipped_no_indicator", report.SkippedNoIndicator).
		Int("skipped_validation", report.SkippedValidation).
		Int("failed_symbols", len(report.FailedSymbols)).
		Msg("ingestion complete")

	for symbol, symErr := range report.FailedSymbols {
		log.Error().Str("symbol", symbol).Err(symErr).Msg("symbol failed irrecoverably")
	}
	if len(report.FailedSymbols) > 0 {
		return 2, fmt.Errorf("ingest: %d of %d symbols failed", len(report.FailedSymbols), len(jobs))
	}
	return 0, nil
}

func openStore(cfg config.IngestConfig) (reader.Store, error) {
	switch cfg.DataSource {
	case "store":
		return reader.NewFileStore(cfg.StorePath)
	default:
		return reader.NewMock(cfg.Symbols), nil
	}
}

// openVectorIndex mirrors cmd/ragserver's endpoint parsing (kept in sync
// deliberately rather than factored into a shared helper package — two
// three-line switches don't earn an internal/ package of their own).
func openVectorIndex(ctx context.Context, endpoint string, dim int) (vectorindex.Client, func(), error) {
	if endpoint == "" || endpoint == "memory" {
		return vectorindex.NewMemory(), func() {}, nil
	}
	if strings.HasPrefix(endpoint, "postgres://") || strings.HasPrefix(endpoint, "postgresql://") {
		db, err := sqlx.ConnectContext(ctx, "postgres", endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("connect postgres: %w", err)
		}
		client := vectorindex.NewPostgres(db, 5*time.Second)
		return client, func() { db.Close() }, nil
	}
	return nil, nil, fmt.Errorf("unrecognized index endpoint %q: expected \"memory\" or a postgres:// DSN", endpoint)
}
