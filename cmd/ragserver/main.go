// Command ragserver runs the pattern retrieval RPC server (component I,
// spec.md §4.I), a newline-delimited JSON-RPC 2.0 TCP server backed by an
// embedder and a vector index.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/sawpanic/ragpatterns/internal/cache"
	"github.com/sawpanic/ragpatterns/internal/config"
	"github.com/sawpanic/ragpatterns/internal/embed"
	"github.com/sawpanic/ragpatterns/internal/logging"
	"github.com/sawpanic/ragpatterns/internal/retrieval"
	"github.com/sawpanic/ragpatterns/internal/rpc"
	"github.com/sawpanic/ragpatterns/internal/vectorindex"
)

func main() {
	var (
		configPath    string
		host          string
		port          string
		collection    string
		indexEndpoint string
		minMatches    int
		logLevel      string
		cacheAddr     string
	)

	root := &cobra.Command{
		Use:   "ragserver",
		Short: "Serve rag.query_patterns over a line-delimited JSON-RPC TCP socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadServerConfig(configPath)
			if err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}
			applyServerFlagOverrides(&cfg, cmd, host, port, collection, indexEndpoint, minMatches, logLevel, cacheAddr)
			if err := cfg.Validate(); err != nil {
				fmt.Fprintln(os.Stderr, err)
				os.Exit(1)
			}

			logging.Init(cfg.LogLevel)

			if err := run(cfg); err != nil {
				log.Error().Err(err).Msg("ragserver exited")
				os.Exit(2)
			}
			return nil
		},
	}

	root.Flags().StringVar(&configPath, "config", "", "path to a server config YAML file")
	root.Flags().StringVar(&host, "host", "", "listen host (overrides config)")
	root.Flags().StringVar(&port, "port", "", "listen port (overrides config)")
	root.Flags().StringVar(&collection, "collection", "", "vector index collection name (overrides config)")
	root.Flags().StringVar(&indexEndpoint, "index-endpoint", "", "vector index endpoint: postgres://... or memory (overrides config)")
	root.Flags().IntVar(&minMatches, "min-matches", 0, "server-level minimum qualifying matches (overrides config)")
	root.Flags().StringVar(&logLevel, "log-level", "", "log level: debug|info|warn|error (overrides config)")
	root.Flags().StringVar(&cacheAddr, "cache-addr", "", "redis host:port for the read-through cache (overrides config; empty uses an in-process cache)")

	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func applyServerFlagOverrides(cfg *config.ServerConfig, cmd *cobra.Command, host, port, collection, indexEndpoint string, minMatches int, logLevel, cacheAddr string) {
	if cmd.Flags().Changed("host") {
		cfg.Host = host
	}
	if cmd.Flags().Changed("port") {
		cfg.Port = port
	}
	if cmd.Flags().Changed("collection") {
		cfg.Collection = collection
	}
	if cmd.Flags().Changed("index-endpoint") {
		cfg.IndexEndpoint = indexEndpoint
	}
	if cmd.Flags().Changed("min-matches") {
		cfg.MinMatches = minMatches
	}
	if cmd.Flags().Changed("log-level") {
		cfg.LogLevel = logLevel
	}
	if cmd.Flags().Changed("cache-addr") {
		cfg.CacheAddr = cacheAddr
	}
}

func run(cfg config.ServerConfig) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	index, closeIndex, err := openVectorIndex(ctx, cfg.IndexEndpoint, cfg.EmbeddingDim)
	if err != nil {
		return fmt.Errorf("open vector index: %w", err)
	}
	defer closeIndex()

	if err := index.EnsureCollection(ctx, cfg.Collection, cfg.EmbeddingDim); err != nil {
		return fmt.Errorf("ensure collection: %w", err)
	}

	embedCache := cache.NewFromAddr(cfg.CacheAddr, 0)
	embedder := embed.NewPool(embed.NewCachedEmbedder(embed.NewDeterministic(cfg.EmbeddingDim), embedCache, cfg.CacheTTL), 64)

	engine := &retrieval.Engine{
		Embedder:       embedder,
		Index:          index,
		Collection:     cfg.Collection,
		MinMatches:     cfg.MinMatches,
		SchemaVersion:  cfg.SchemaVersion,
		FeatureVersion: cfg.FeatureVersion,
	}

	handler := &rpc.Handler{Engine: engine, Config: rpc.DefaultHandlerConfig()}
	srvCfg := rpc.DefaultServerConfig()
	srvCfg.Host = cfg.Host
	srvCfg.Port = cfg.Port

	server := rpc.NewServer(srvCfg, handler, log.Logger)
	err = server.ListenAndServe(ctx)
	if ctx.Err() != nil {
		return nil
	}
	return err
}

// openVectorIndex builds a vectorindex.Client from an endpoint string:
// "memory" (or empty) for the in-process reference backend, or a
// "postgres://" DSN for the pgvector-backed client.
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
