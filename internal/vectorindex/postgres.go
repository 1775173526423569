package vectorindex

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/sony/gobreaker"

	"github.com/sawpanic/ragpatterns/internal/domain/snapshot"
)

// Postgres is a pgvector-backed Client, following the teacher's sqlx/
// lib/pq persistence idiom (internal/persistence/postgres/trades_repo.go)
// for query shape and error handling, and intelligencedev-manifold's
// postgres_vector.go for the pgvector SQL itself (the `<=>` cosine
// distance operator, vector literal encoding, `CREATE EXTENSION IF NOT
// EXISTS vector`).
type Postgres struct {
	db      *sqlx.DB
	timeout time.Duration
	breaker *gobreaker.CircuitBreaker
}

// NewPostgres wraps an open *sqlx.DB. Call EnsureCollection once per
// collection before Upsert/Search.
func NewPostgres(db *sqlx.DB, timeout time.Duration) *Postgres {
	settings := gobreaker.Settings{
		Name:     "vectorindex:postgres",
		Timeout:  30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
	}
	return &Postgres{
		db:      db,
		timeout: timeout,
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

func tableName(collection string) string {
	return "patterns_" + sanitizeIdent(collection)
}

func sanitizeIdent(s string) string {
	var b strings.Builder
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '_':
			b.WriteRune(r)
		case r >= 'A' && r <= 'Z':
			b.WriteRune(r + ('a' - 'A'))
		default:
			b.WriteRune('_')
		}
	}
	if b.Len() == 0 {
		return "default"
	}
	return b.String()
}

// EnsureCollection implements Client, creating the pgvector extension and
// the collection's table if they don't already exist.
func (p *Postgres) EnsureCollection(ctx context.Context, collection string, dim int) error {
	_, err := p.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		if _, err := p.db.ExecContext(ctx, `CREATE EXTENSION IF NOT EXISTS vector`); err != nil {
			return nil, fmt.Errorf("create pgvector extension: %w", err)
		}

		ddl := fmt.Sprintf(`
CREATE TABLE IF NOT EXISTS %s (
	id TEXT PRIMARY KEY,
	vec vector(%d) NOT NULL,
	symbol TEXT NOT NULL,
	timestamp_ms BIGINT NOT NULL,
	snapshot JSONB NOT NULL,
	text TEXT NOT NULL
)`, tableName(collection), dim)
		if _, err := p.db.ExecContext(ctx, ddl); err != nil {
			return nil, fmt.Errorf("create collection table: %w", err)
		}
		return nil, nil
	})
	return err
}

// Upsert implements Client inside a single transaction, matching the
// teacher's InsertBatch idiom (prepared statement reused per row, rolled
// back on any failure).
func (p *Postgres) Upsert(ctx context.Context, collection string, points []Point) error {
	if len(points) == 0 {
		return nil
	}
	_, err := p.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout*time.Duration(len(points)/100+1))
		defer cancel()

		tx, err := p.db.BeginTxx(ctx, nil)
		if err != nil {
			return nil, fmt.Errorf("begin upsert transaction: %w", err)
		}
		defer tx.Rollback()

		query := fmt.Sprintf(`
INSERT INTO %s (id, vec, symbol, timestamp_ms, snapshot, text)
VALUES ($1, $2::vector, $3, $4, $5, $6)
ON CONFLICT (id) DO UPDATE SET
	vec = EXCLUDED.vec, symbol = EXCLUDED.symbol, timestamp_ms = EXCLUDED.timestamp_ms,
	snapshot = EXCLUDED.snapshot, text = EXCLUDED.text`, tableName(collection))

		stmt, err := tx.PrepareContext(ctx, query)
		if err != nil {
			return nil, fmt.Errorf("prepare upsert statement: %w", err)
		}
		defer stmt.Close()

		for _, pt := range points {
			payload, err := json.Marshal(pt.Snapshot)
			if err != nil {
				return nil, fmt.Errorf("marshal snapshot for %s: %w", pt.ID, err)
			}
			_, err = stmt.ExecContext(ctx, pt.ID, toVectorLiteral(pt.Vector), pt.Snapshot.Symbol,
				pt.Snapshot.TimestampMs, payload, pt.Text)
			if err != nil {
				if pqErr, ok := err.(*pq.Error); ok {
					return nil, fmt.Errorf("upsert point %s: %w (code %s)", pt.ID, err, pqErr.Code)
				}
				return nil, fmt.Errorf("upsert point %s: %w", pt.ID, err)
			}
		}
		return nil, tx.Commit()
	})
	return err
}

// Search implements Client using pgvector's cosine-distance operator.
// symbol and timestamp_ms are pushed into the WHERE clause since they're
// stored as table columns; the OI-delta, funding-sign, and volatility-ratio
// predicates are derived fields not stored as columns, so Search
// overfetches a wider candidate set and applies them in Go via the same
// matchesFilter Memory uses.
func (p *Postgres) Search(ctx context.Context, collection string, query []float32, filter Filter, topK int) ([]ScoredPoint, error) {
	result, err := p.breaker.Execute(func() (interface{}, error) {
		ctx, cancel := context.WithTimeout(ctx, p.timeout)
		defer cancel()

		where, args := buildWhere(filter)
		sqlQuery := fmt.Sprintf(`
SELECT id, vec, symbol, timestamp_ms, snapshot, text, 1 - (vec <=> $1::vector) AS score
FROM %s
%s
ORDER BY vec <=> $1::vector, timestamp_ms DESC
LIMIT $%d`, tableName(collection), where, len(args)+2)

		allArgs := append([]interface{}{toVectorLiteral(query)}, args...)
		allArgs = append(allArgs, overfetchLimit(topK, len(filter.ExcludeIDs)))

		rows, err := p.db.QueryxContext(ctx, sqlQuery, allArgs...)
		if err != nil {
			return nil, fmt.Errorf("search query: %w", err)
		}
		defer rows.Close()

		var out []ScoredPoint
		for rows.Next() {
			var (
				id, symbol, text, vecLit string
				ts                       int64
				snapJSON                 []byte
				score                    float64
			)
			if err := rows.Scan(&id, &vecLit, &symbol, &ts, &snapJSON, &text, &score); err != nil {
				return nil, fmt.Errorf("scan search row: %w", err)
			}
			var snap snapshot.Snapshot
			if err := json.Unmarshal(snapJSON, &snap); err != nil {
				return nil, fmt.Errorf("unmarshal snapshot for %s: %w", id, err)
			}
			pt := Point{ID: id, Vector: fromVectorLiteral(vecLit), Snapshot: snap, Text: text}
			if matchesFilter(pt, filter) {
				out = append(out, ScoredPoint{Point: pt, Similarity: score})
			}
		}
		if topK > 0 && len(out) > topK {
			out = out[:topK]
		}
		return out, rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return result.([]ScoredPoint), nil
}

// overfetchLimit widens the SQL LIMIT beyond top_k since post-filtering in
// Go (OI/funding/volatility/exclude-ID) can only narrow the candidate set
// pgvector already ranked.
func overfetchLimit(topK, excludeCount int) int {
	n := (topK + excludeCount) * 4
	if n <= 0 {
		return 1000
	}
	return n
}

func buildWhere(f Filter) (string, []interface{}) {
	var clauses []string
	var args []interface{}
	add := func(clause string, v interface{}) {
		args = append(args, v)
		clauses = append(clauses, fmt.Sprintf(clause, len(args)+1))
	}

	if f.Symbol != nil {
		add("symbol = $%d", *f.Symbol)
	}
	if f.TimestampMin != nil {
		add("timestamp_ms >= $%d", *f.TimestampMin)
	}
	if len(clauses) == 0 {
		return "", args
	}
	return "WHERE " + strings.Join(clauses, " AND "), args
}

func toVectorLiteral(v []float32) string {
	parts := make([]string, len(v))
	for i, x := range v {
		parts[i] = strconv.FormatFloat(float64(x), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

func fromVectorLiteral(s string) []float32 {
	s = strings.Trim(s, "[]")
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]float32, len(parts))
	for i, p := range parts {
		v, _ := strconv.ParseFloat(p, 32)
		out[i] = float32(v)
	}
	return out
}
