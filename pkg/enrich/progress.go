package enrich

import (
	"errors"
	"sync/atomic"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Progress counts fetch outcomes across all workers of a run. Counters are
// updated atomically so the fetch path never takes a lock.
type Progress struct {
	fetched   atomic.Int64
	succeeded atomic.Int64
	skipped   atomic.Int64
	total     atomic.Int64

	logEvery int64
	logger   zerolog.Logger
}

// ProgressSnapshot is a point-in-time copy of the counters.
type ProgressSnapshot struct {
	Fetched   int64
	Succeeded int64
	Skipped   int64
}

// NewProgress creates a counter that logs every logEvery fetches. 0 disables
// logging.
func NewProgress(logEvery int) *Progress {
	return &Progress{
		logEvery: int64(logEvery),
		logger:   log.With().Str("component", "progress").Logger(),
	}
}

// SetTotal sets the number of keys expected in the run, for progress logs.
func (p *Progress) SetTotal(n int) {
	p.total.Store(int64(n))
}

// Snapshot returns the current counters.
func (p *Progress) Snapshot() ProgressSnapshot {
	return ProgressSnapshot{
		Fetched:   p.fetched.Load(),
		Succeeded: p.succeeded.Load(),
		Skipped:   p.skipped.Load(),
	}
}

func (p *Progress) record(err error) {
	outcome := "fetched"
	if err == nil {
		p.succeeded.Add(1)
	} else {
		p.skipped.Add(1)
		outcome = "unknown"
		var fe *FetchError
		if errors.As(err, &fe) {
			outcome = fe.Kind.String()
		}
	}
	keysProcessedTotal.WithLabelValues(outcome).Inc()

	n := p.fetched.Add(1)
	if p.logEvery > 0 && n%p.logEvery == 0 {
		ev := p.logger.Info().
			Int64("fetched", n).
			Int64("succeeded", p.succeeded.Load()).
			Int64("skipped", p.skipped.Load())
		if total := p.total.Load(); total > 0 {
			ev = ev.Int64("total", total).
				Float64("progress_pct", float64(n)/float64(total)*100)
		}
		ev.Msg("Fetch progress")
	}
}
