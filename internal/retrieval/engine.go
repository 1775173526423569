// Package retrieval implements the Retrieval Engine (component G) and
// Statistics Aggregator (component H), spec.md §4.G/§4.H.
package retrieval

import (
	"context"
	"fmt"
	"time"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
	"github.com/sawpanic/ragpatterns/internal/embed"
	"github.com/sawpanic/ragpatterns/internal/vectorindex"
)

const dayMs = 86_400_000

// QueryConfig mirrors the request's query_config object (spec.md §4.G).
// min_matches is deliberately absent here: it is a server-level value,
// never taken from the request (spec.md §4.G step 5).
type QueryConfig struct {
	LookbackDays          int
	TopK                  int
	MinSimilarity         float64
	IncludeRegimeFilters  bool
}

// DefaultQueryConfig matches spec.md §4.G's documented field defaults.
func DefaultQueryConfig() QueryConfig {
	return QueryConfig{
		LookbackDays:         90,
		TopK:                 5,
		MinSimilarity:        0.7,
		IncludeRegimeFilters: true,
	}
}

// Query is one rag.query_patterns request, already parsed and validated
// by the RPC layer.
type Query struct {
	Symbol       string
	TimestampMs  int64
	CurrentState snapshot.Snapshot
	Config       QueryConfig
}

// HistoricalMatch is one retrieved point plus its forward outcomes, per
// spec.md §3.3.
type HistoricalMatch struct {
	ID         string
	Similarity float64
	Snapshot   snapshot.Snapshot
}

// Metadata describes how a query was served (spec.md §6.1's "metadata"
// response field, §4.G step 6).
type Metadata struct {
	QueryDurationMs     int64
	EmbeddingDurationMs int64
	RetrievalDurationMs int64
	FiltersApplied      []string
	Warnings            []string
	SchemaVersion       int
	FeatureVersion      string
	EmbeddingModel      string
}

// Result is the full rag.query_patterns outcome before JSON-RPC encoding.
type Result struct {
	Matches    []HistoricalMatch
	Statistics OutcomeStatistics
	Metadata   Metadata
}

// ErrInsufficientMatches is returned when fewer than the server's
// configured min_matches points satisfy the similarity threshold after
// filtering (maps to JSON-RPC error -32001, spec.md §6.5/§4.G step 5).
type ErrInsufficientMatches struct {
	Found, Required int
}

func (e *ErrInsufficientMatches) Error() string {
	return fmt.Sprintf("retrieval: found %d matches, need at least %d", e.Found, e.Required)
}

// ErrSymbolUnknown is returned when the index has zero points for the
// queried symbol at all, distinct from ErrInsufficientMatches which covers
// "some points exist but too few clear the filters" (spec.md §6.5/§7
// category 4, -32002 SYMBOL_UNKNOWN).
type ErrSymbolUnknown struct{ Symbol string }

func (e *ErrSymbolUnknown) Error() string {
	return fmt.Sprintf("retrieval: no indexed points for symbol %s", e.Symbol)
}

// ErrEmbedding wraps an Embedder failure so the RPC layer can map it to
// -32004 EMBEDDING_ERROR without parsing error strings (spec.md §7
// category 3).
type ErrEmbedding struct{ Err error }

func (e *ErrEmbedding) Error() string { return fmt.Sprintf("embed current state: %v", e.Err) }
func (e *ErrEmbedding) Unwrap() error { return e.Err }

// ErrIndex wraps a vector index failure so the RPC layer can map it to
// -32003 INDEX_ERROR without parsing error strings (spec.md §7 category 3).
type ErrIndex struct{ Err error }

func (e *ErrIndex) Error() string { return fmt.Sprintf("search index: %v", e.Err) }
func (e *ErrIndex) Unwrap() error { return e.Err }

// Engine executes queries against an embedder and a vector index.
// MinMatches is a server-level value (default 3, spec.md §4.G step 5) —
// it is never read from the request's query_config. SchemaVersion and
// FeatureVersion are the server's currently configured provenance values
// (SPEC_FULL.md §3.5); with strict schema checking on (the default),
// matches whose payload disagrees with FeatureVersion are dropped before
// statistics are computed rather than merely flagged with a warning.
// DisableStrictSchema turns that off; the zero value keeps strict
// behavior, matching the spec's documented default of true.
type Engine struct {
	Embedder            embed.Embedder
	Index               vectorindex.Client
	Collection          string
	MinMatches          int
	SchemaVersion       int
	FeatureVersion      string
	DisableStrictSchema bool
}

// Run executes one query end to end: render the current state, embed it,
// build the filter per spec.md §4.G step 2, search, and aggregate
// statistics.
func (e *Engine) Run(ctx context.Context, q Query) (Result, error) {
	queryStart := time.Now()
	meta := Metadata{
		SchemaVersion:  e.SchemaVersion,
		FeatureVersion: e.FeatureVersion,
		EmbeddingModel: e.Embedder.Name(),
	}
	cfg := q.Config
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultQueryConfig().TopK
	}
	if cfg.LookbackDays <= 0 {
		cfg.LookbackDays = DefaultQueryConfig().LookbackDays
	}

	text := snapshot.RenderText(q.CurrentState)
	embedStart := time.Now()
	vectors, err := e.Embedder.EmbedBatch(ctx, []string{text})
	meta.EmbeddingDurationMs = time.Since(embedStart).Milliseconds()
	if err != nil {
		return Result{}, &ErrEmbedding{Err: err}
	}
	if len(vectors) != 1 {
		return Result{}, &ErrEmbedding{Err: fmt.Errorf("expected 1 vector, got %d", len(vectors))}
	}

	filter, applied := buildFilter(q, cfg)
	meta.FiltersApplied = applied

	retrievalStart := time.Now()
	hits, err := e.Index.Search(ctx, e.Collection, vectors[0], filter, cfg.TopK)
	meta.RetrievalDurationMs = time.Since(retrievalStart).Milliseconds()
	if err != nil {
		return Result{}, &ErrIndex{Err: err}
	}

	var matches []HistoricalMatch
	for _, h := range hits {
		if h.Similarity < cfg.MinSimilarity {
			continue
		}
		if h.Snapshot.TimestampMs == 0 {
			// timestamp is a required payload field; a zero value means
			// the payload is malformed and the match is excluded
			// (spec.md §4.G step 4).
			continue
		}
		matches = append(matches, HistoricalMatch{ID: h.ID, Similarity: h.Similarity, Snapshot: h.Snapshot})
	}

	if !e.DisableStrictSchema && e.FeatureVersion != "" {
		kept := matches[:0:0]
		for _, m := range matches {
			if m.Snapshot.FeatureVersion != e.FeatureVersion {
				meta.Warnings = append(meta.Warnings, fmt.Sprintf(
					"dropped match %s: feature_version %q disagrees with server's %q",
					m.ID, m.Snapshot.FeatureVersion, e.FeatureVersion))
				continue
			}
			kept = append(kept, m)
		}
		matches = kept
	}

	minMatches := e.MinMatches
	if minMatches <= 0 {
		minMatches = 3
	}
	if len(matches) < minMatches {
		exists, existsErr := e.symbolExists(ctx, q.Symbol, vectors[0])
		if existsErr != nil {
			return Result{}, &ErrIndex{Err: existsErr}
		}
		if !exists {
			return Result{}, &ErrSymbolUnknown{Symbol: q.Symbol}
		}
		return Result{}, &ErrInsufficientMatches{Found: len(matches), Required: minMatches}
	}

	stats := Aggregate(matches)

	if !provenanceAgrees(matches) {
		latest := matches[0].Snapshot
		for _, m := range matches[1:] {
			if m.Snapshot.TimestampMs > latest.TimestampMs {
				latest = m.Snapshot
			}
		}
		meta.SchemaVersion = latest.SchemaVersion
		meta.FeatureVersion = latest.FeatureVersion
		meta.EmbeddingModel = latest.EmbeddingModel
		meta.Warnings = append(meta.Warnings, "matches disagree on provenance fields; using the most recent payload")
	}

	meta.QueryDurationMs = time.Since(queryStart).Milliseconds()
	return Result{Matches: matches, Statistics: stats, Metadata: meta}, nil
}

// symbolExists decides whether the index holds any point for symbol at
// all, ignoring lookback/regime filters entirely — a narrow lookback_days
// or a restrictive regime filter legitimately produces zero hits for a
// symbol the index does know about (spec.md §8 "lookback_days = 1 with no
// recent data: INSUFFICIENT_MATCHES"), so SYMBOL_UNKNOWN must be decided
// against this unfiltered existence check, not against the query's own
// filtered Search result.
func (e *Engine) symbolExists(ctx context.Context, symbol string, queryVector []float32) (bool, error) {
	existence := vectorindex.Filter{Symbol: &symbol}
	hits, err := e.Index.Search(ctx, e.Collection, queryVector, existence, 1)
	if err != nil {
		return false, err
	}
	return len(hits) > 0, nil
}

// buildFilter implements spec.md §4.G step 2 exactly: symbol equality,
// the lookback window, and — when include_regime_filters is set — the
// OI-delta band, funding sign, and volatility-ratio band filters.
func buildFilter(q Query, cfg QueryConfig) (vectorindex.Filter, []string) {
	filter := vectorindex.Filter{ExcludeIDs: []string{vectorindex.PointID(q.CurrentState.Symbol, q.CurrentState.TimestampMs)}}
	applied := []string{"symbol", "timerange"}

	symbol := q.Symbol
	filter.Symbol = &symbol
	minTs := q.TimestampMs - int64(cfg.LookbackDays)*dayMs
	filter.TimestampMin = &minTs

	if !cfg.IncludeRegimeFilters {
		return filter, applied
	}

	oiDelta := q.CurrentState.OIDeltaPct()
	if !q.CurrentState.OIIsPlaceholder && abs(oiDelta) > 5 {
		min := oiDelta - 10
		max := oiDelta + 10
		filter.OIDeltaPct = &vectorindex.FloatRange{Min: &min, Max: &max}
		applied = append(applied, "oi_delta")
	}

	if !q.CurrentState.FundingIsPlaceholder && abs(q.CurrentState.FundingRate) > 0.0001 {
		signUp := q.CurrentState.FundingRate >= 0
		filter.FundingSignUp = &signUp
		applied = append(applied, "funding_sign")
	}

	if ratio, ok := q.CurrentState.VolatilityRatio1h24h(); ok {
		min := ratio * 0.8
		max := ratio * 1.2
		filter.VolatilityRatio = &vectorindex.FloatRange{Min: &min, Max: &max}
		applied = append(applied, "volatility_ratio")
	}

	return filter, applied
}

func abs(v float64) float64 {
	if v < 0 {
		return -v
	}
	return v
}

// provenanceAgrees reports whether every match shares the same
// schema_version/feature_version/embedding_model provenance, used only to
// decide whether to attach a soft warning (spec.md §4.G step 6, §9
// "schema evolution of payloads").
func provenanceAgrees(matches []HistoricalMatch) bool {
	if len(matches) == 0 {
		return true
	}
	first := matches[0].Snapshot
	for _, m := range matches[1:] {
		if m.Snapshot.SchemaVersion != first.SchemaVersion ||
			m.Snapshot.FeatureVersion != first.FeatureVersion ||
			m.Snapshot.EmbeddingModel != first.EmbeddingModel {
			return false
		}
	}
	return true
}
