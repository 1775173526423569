package ingest

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/sawpanic/ragpatterns/internal/data/reader"
	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
	"github.com/sawpanic/ragpatterns/internal/embed"
	"github.com/sawpanic/ragpatterns/internal/vectorindex"
)

// PipelineConfig controls batching and retry behavior for Run (spec.md
// §4.F). Retry/backoff is grounded on the teacher's circuit-breaker-manager
// retry idiom (internal/infrastructure/providers/circuitbreakers.go), but
// applied here per-batch rather than per-provider-call.
type PipelineConfig struct {
	BatchSize      int
	MaxRetries     int
	InitialBackoff time.Duration
}

// DefaultPipelineConfig matches spec.md §4.F's documented defaults.
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		BatchSize:      100,
		MaxRetries:     3,
		InitialBackoff: 500 * time.Millisecond,
	}
}

// Job describes one symbol/time-range slice to extract and ingest.
type Job struct {
	Symbol         string
	StartTs        int64
	EndTs          int64
	CadenceMinutes int
}

// Report summarizes a Pipeline.Run invocation across every job, matching
// the shape the batch CLI (cmd/ragingest) prints and exits on (spec.md
// §6.4).
type Report struct {
	SnapshotsCreated   int
	SnapshotsUpserted  int
	SkippedNoIndicator int
	SkippedValidation  int
	FailedSymbols      map[string]error
}

func newReport() Report {
	return Report{FailedSymbols: make(map[string]error)}
}

// Pipeline wires the Extractor (component C) to an Embedder and a
// VectorIndex, batching snapshots before each upsert to bound round trips
// (spec.md §4.F, §5's "batch size 100" resource note).
type Pipeline struct {
	Store      reader.Store
	Embedder   embed.Embedder
	Index      vectorindex.Client
	Collection string
	Config     PipelineConfig
	Extract    ExtractorConfig
	Progress   ProgressReporter
	Log        zerolog.Logger

	// Provenance stamped onto every snapshot this run upserts
	// (SPEC_FULL.md §3.5). BuildID is generated once per process by the
	// caller (cmd/ragingest), not here, so every point written by one
	// invocation shares it.
	SchemaVersion  int
	FeatureVersion string
	BuildID        string
}

// ProgressReporter receives coarse-grained progress updates while Run
// walks a job's time range, adapted from the teacher's spinner/ETA idiom
// (internal/log/progress.go) but reduced to a plain callback so the batch
// CLI can choose console vs. silent rendering.
type ProgressReporter interface {
	Report(symbol string, processed, total int)
}

// NoopProgress discards updates.
type NoopProgress struct{}

func (NoopProgress) Report(string, int, int) {}

// Run processes every job sequentially, batching each job's Snapshots into
// groups of Config.BatchSize before rendering, embedding, and upserting
// them. A batch that fails after Config.MaxRetries marks the owning
// symbol as failed in the Report but does not abort the remaining jobs —
// the ingestion pipeline's failure domain is per-symbol (spec.md §4.F,
// §7 "partial failure is reported, not fatal").
func (p *Pipeline) Run(ctx context.Context, jobs []Job) Report {
	report := newReport()
	collection := p.Collection
	if collection == "" {
		collection = "trading_patterns"
	}

	for _, job := range jobs {
		var batch []snapshot.Snapshot
		total := 0
		if job.CadenceMinutes > 0 && job.EndTs > job.StartTs {
			total = int((job.EndTs - job.StartTs) / (int64(job.CadenceMinutes) * 60_000))
		}
		processed := 0

		flush := func() error {
			if len(batch) == 0 {
				return nil
			}
			if err := p.upsertWithRetry(ctx, collection, batch); err != nil {
				return err
			}
			report.SnapshotsUpserted += len(batch)
			batch = batch[:0]
			return nil
		}

		stats, err := Walk(ctx, p.Store, p.Extract, job.Symbol, job.StartTs, job.EndTs, job.CadenceMinutes, func(s snapshot.Snapshot) error {
			batch = append(batch, s)
			processed++
			if p.Progress != nil {
				p.Progress.Report(job.Symbol, processed, total)
			}
			if len(batch) >= p.Config.BatchSize {
				return flush()
			}
			return nil
		})
		report.SnapshotsCreated += stats.SnapshotsEmitted
		report.SkippedNoIndicator += stats.SkippedNoIndicator
		report.SkippedValidation += stats.SkippedValidation

		if err == nil {
			err = flush()
		}
		if err != nil {
			p.Log.Error().Str("symbol", job.Symbol).Err(err).Msg("ingestion job failed")
			report.FailedSymbols[job.Symbol] = err
			continue
		}
	}
	return report
}

func (p *Pipeline) upsertWithRetry(ctx context.Context, collection string, batch []snapshot.Snapshot) error {
	backoff := p.Config.InitialBackoff
	var lastErr error
	for attempt := 0; attempt <= p.Config.MaxRetries; attempt++ {
		if attempt > 0 {
			select {
			case <-time.After(backoff):
			case <-ctx.Done():
				return ctx.Err()
			}
			backoff *= 2
		}

		points, err := p.renderAndEmbed(ctx, batch)
		if err != nil {
			lastErr = err
			continue
		}
		if err := p.Index.Upsert(ctx, collection, points); err != nil {
			lastErr = err
			p.Log.Warn().Int("attempt", attempt+1).Err(err).Msg("batch upsert failed, retrying")
			continue
		}
		return nil
	}
	return fmt.Errorf("ingest: batch failed after %d attempts: %w", p.Config.MaxRetries+1, lastErr)
}

func (p *Pipeline) renderAndEmbed(ctx context.Context, batch []snapshot.Snapshot) ([]vectorindex.Point, error) {
	for i := range batch {
		batch[i].SchemaVersion = p.SchemaVersion
		batch[i].FeatureVersion = p.FeatureVersion
		batch[i].EmbeddingModel = p.Embedder.Name()
		batch[i].EmbeddingDim = p.Embedder.Dimension()
		batch[i].BuildID = p.BuildID
		batch[i].Date = time.UnixMilli(batch[i].TimestampMs).UTC().Format(time.RFC3339)
	}

	texts := make([]string, len(batch))
	for i, s := range batch {
		texts[i] = snapshot.RenderText(s)
	}
	vectors, err := p.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return nil, fmt.Errorf("embed batch: %w", err)
	}
	if len(vectors) != len(batch) {
		return nil, fmt.Errorf("embed batch: expected %d vectors, got %d", len(batch), len(vectors))
	}

	points := make([]vectorindex.Point, len(batch))
	for i, s := range batch {
		points[i] = vectorindex.Point{
			ID:        vectorindex.PointID(s.Symbol, s.TimestampMs),
			Vector:    vectors[i],
			Snapshot:  s,
			Text:      texts[i],
		}
	}
	return points, nil
}
