package main

import (
	"sync"
	"time"

	"github.com/montanaflynn/stats"

	"go.viam.com/coloc/logging"
	"go.viam.com/coloc/posegraph"
)

// solveSummary accumulates optimizer statistics over a run.
type solveSummary struct {
	mu         sync.Mutex
	iterations stats.Float64Data
	chi2       stats.Float64Data
	seconds    stats.Float64Data
}

func (s *solveSummary) observe(summary posegraph.Summary, took time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.iterations = append(s.iterations, float64(summary.Iterations))
	s.chi2 = append(s.chi2, summary.FinalChi2)
	// replays run on a mock clock and report no time
	if took > 0 {
		s.seconds = append(s.seconds, took.Seconds())
	}
}

type distribution struct {
	Mean, P95, Max float64
}

func describe(data stats.Float64Data) distribution {
	var d distribution
	// errors only report empty input, which leaves the zero value
	d.Mean, _ = stats.Mean(data)
	d.P95, _ = stats.Percentile(data, 95)
	d.Max, _ = stats.Max(data)
	return d
}

func (s *solveSummary) log(logger logging.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	logger.Infow("optimizer summary",
		"solves", len(s.iterations),
		"iterations", describe(s.iterations),
		"finalChi2", describe(s.chi2),
		"seconds", describe(s.seconds),
	)
}
