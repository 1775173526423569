package reader

import (
	"compress/gzip"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/rs/zerolog/log"
)

// FileStore is a directory-backed reference implementation of Store,
// generalizing the teacher's append-only PIT snapshot idiom (one gzipped
// JSON file per entity/timestamp) into a queryable ordered table: records
// are addressed by table/symbol/timestamp and an in-memory sorted index of
// timestamps per (table, symbol) is built once so range scans don't have
// to re-walk the filesystem. It is read-only from the Store interface's
// point of view; Put exists only to let tests and seed tooling write
// fixtures (the batch CLI's `--data-source=store` only reads), mirroring
// that ingestion into the real store is out of this core's scope (spec.md §1).
type FileStore struct {
	baseDir string

	mu    sync.RWMutex
	index map[Table]map[string][]int64 // sorted ascending
}

// NewFileStore opens a read-only handle rooted at baseDir, building the
// timestamp index by walking the directory tree once. Concurrent readers
// share this index; Put is synchronized against it with a write lock.
func NewFileStore(baseDir string) (*FileStore, error) {
	fs := &FileStore{
		baseDir: baseDir,
		index:   make(map[Table]map[string][]int64),
	}
	if err := fs.reindex(); err != nil {
		return nil, fmt.Errorf("index historical store at %s: %w", baseDir, err)
	}
	return fs, nil
}

func (f *FileStore) reindex() error {
	f.mu.Lock()
	defer f.mu.Unlock()

	for _, table := range []Table{CandlesThreeM, CandlesFourH, IndicatorsThreeM, IndicatorsFourH} {
		tableDir := filepath.Join(f.baseDir, string(table))
		entries, err := os.ReadDir(tableDir)
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return fmt.Errorf("read table dir %s: %w", tableDir, err)
		}
		bySymbol := make(map[string][]int64)
		for _, symEntry := range entries {
			if !symEntry.IsDir() {
				continue
			}
			symbol := symEntry.Name()
			symDir := filepath.Join(tableDir, symbol)
			files, err := os.ReadDir(symDir)
			if err != nil {
				return fmt.Errorf("read symbol dir %s: %w", symDir, err)
			}
			var timestamps []int64
			for _, fileEntry := range files {
				ts, ok := parseKeyFilename(fileEntry.Name())
				if !ok {
					continue
				}
				timestamps = append(timestamps, ts)
			}
			sort.Slice(timestamps, func(i, j int) bool { return timestamps[i] < timestamps[j] })
			bySymbol[symbol] = timestamps
		}
		f.index[table] = bySymbol
	}
	return nil
}

func keyFilename(ts int64) string {
	// Fixed-width decimal so directory listings sort lexicographically in
	// timestamp order, matching the "SYMBOL:TIMESTAMP_MS" key format in
	// spec.md §6.3.
	return fmt.Sprintf("%019d.json.gz", ts)
}

func parseKeyFilename(name string) (int64, bool) {
	const suffix = ".json.gz"
	if len(name) != 19+len(suffix) {
		return 0, false
	}
	var ts int64
	if _, err := fmt.Sscanf(name, "%019d"+suffix, &ts); err != nil {
		return 0, false
	}
	return ts, true
}

func (f *FileStore) path(table Table, symbol string, ts int64) string {
	return filepath.Join(f.baseDir, string(table), symbol, keyFilename(ts))
}

// ReadPoint implements Store.
func (f *FileStore) ReadPoint(ctx context.Context, table Table, symbol string, ts int64) (Record, bool, error) {
	if err := ctx.Err(); err != nil {
		return nil, false, err
	}
	path := f.path(table, symbol, ts)
	file, err := os.Open(path)
	if os.IsNotExist(err) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("open %s: %w", path, err)
	}
	defer file.Close()

	gz, err := gzip.NewReader(file)
	if err != nil {
		log.Warn().Str("path", path).Err(err).Msg("corrupted historical record, skipping")
		return nil, false, nil
	}
	defer gz.Close()

	var rec Record
	if err := json.NewDecoder(gz).Decode(&rec); err != nil {
		log.Warn().Str("path", path).Err(err).Msg("corrupted historical record, skipping")
		return nil, false, nil
	}
	return rec, true, nil
}

// ReadSeries implements Store.
func (f *FileStore) ReadSeries(ctx context.Context, table Table, symbol string, endTs int64, stepMs int64, count int) ([]Sample, error) {
	if stepMs <= 0 {
		return nil, fmt.Errorf("reader: stepMs must be positive, got %d", stepMs)
	}
	var out []Sample
	for i := 0; i < count; i++ {
		ts := endTs - int64(i)*stepMs
		rec, ok, err := f.ReadPoint(ctx, table, symbol, ts)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		out = append(out, Sample{TimestampMs: ts, Record: rec})
	}
	// oldest first
	sort.Slice(out, func(i, j int) bool { return out[i].TimestampMs < out[j].TimestampMs })
	return out, nil
}

// RangeTimestamps implements Store.
func (f *FileStore) RangeTimestamps(ctx context.Context, table Table, symbol string, startTs, endTs int64) ([]int64, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.RLock()
	defer f.mu.RUnlock()

	all := f.index[table][symbol]
	lo := sort.Search(len(all), func(i int) bool { return all[i] >= startTs })
	hi := sort.Search(len(all), func(i int) bool { return all[i] >= endTs })
	out := make([]int64, hi-lo)
	copy(out, all[lo:hi])
	return out, nil
}

// Put writes a single record, for use by fixture/seed tooling only — the
// live deployment never writes to the historical store (spec.md §1).
func (f *FileStore) Put(table Table, symbol string, ts int64, rec Record) error {
	dir := filepath.Join(f.baseDir, string(table), symbol)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("mkdir %s: %w", dir, err)
	}
	path := f.path(table, symbol, ts)
	file, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	defer file.Close()

	gz := gzip.NewWriter(file)
	defer gz.Close()
	if err := json.NewEncoder(gz).Encode(rec); err != nil {
		return fmt.Errorf("encode record at %s: %w", path, err)
	}
	if err := gz.Close(); err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.index[table] == nil {
		f.index[table] = make(map[string][]int64)
	}
	timestamps := f.index[table][symbol]
	i := sort.Search(len(timestamps), func(i int) bool { return timestamps[i] >= ts })
	if i < len(timestamps) && timestamps[i] == ts {
		f.index[table][symbol] = timestamps
		return nil
	}
	timestamps = append(timestamps, 0)
	copy(timestamps[i+1:], timestamps[i:])
	timestamps[i] = ts
	f.index[table][symbol] = timestamps
	return nil
}
