package logging

import (
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// TextProgress is a text-mode progress indicator, adapted from the
// teacher's spinner/ETA component with the spinner animation and emoji
// framing dropped: a non-interactive batch driver logs lines, it doesn't
// repaint a terminal.
type TextProgress struct {
	mu        sync.Mutex
	log       zerolog.Logger
	name      string
	total     int
	current   int
	startTime time.Time
	every     int // log every N items, to avoid flooding a long ingest run
}

// NewTextProgress returns a progress reporter that logs one line every
// `every` processed items (minimum 1) plus a final summary line.
func NewTextProgress(log zerolog.Logger, name string, every int) *TextProgress {
	if every < 1 {
		every = 1
	}
	return &TextProgress{log: log, name: name, every: every, startTime: time.Now()}
}

// Report satisfies ingest.ProgressReporter.
func (p *TextProgress) Report(symbol string, processed, total int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.current = processed
	p.total = total
	if processed != total && processed%p.every != 0 {
		return
	}
	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	p.log.Info().
		Str("symbol", symbol).
		Int("processed", processed).
		Int("total", total).
		Str("elapsed", elapsed.String()).
		Msg(p.name)
}

// Finish logs a summary line; kept distinct from Report so a caller can
// emit it once outside the per-tick loop.
func (p *TextProgress) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	elapsed := time.Since(p.startTime).Round(time.Millisecond)
	p.log.Info().Msg(fmt.Sprintf("%s: completed %d/%d in %s", p.name, p.current, p.total, elapsed))
}
