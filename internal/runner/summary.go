package runner

import (
	"time"

	"github.com/samber/lo"

	"boundq/internal/stats"
)

// Summarize reduces collected outcomes. duration is the wall-clock time around the
// whole batch. Throughput is 0 when there is nothing to divide.
func Summarize(outcomes []Outcome, duration time.Duration) Summary {
	succeeded := lo.CountBy(outcomes, func(o Outcome) bool { return o.Success() })

	failures := lo.Filter(outcomes, func(o Outcome, _ int) bool { return !o.Success() })
	withStatus := lo.Filter(outcomes, func(o Outcome, _ int) bool { return o.StatusCode != 0 })

	latencies := lo.FilterMap(outcomes, func(o Outcome, _ int) (time.Duration, bool) {
		return o.Elapsed, o.Success()
	})

	s := Summary{
		Total:       len(outcomes),
		Succeeded:   succeeded,
		Failed:      len(outcomes) - succeeded,
		Duration:    duration,
		Reasons:     lo.CountValuesBy(failures, func(o Outcome) Reason { return o.Reason }),
		StatusCodes: lo.CountValuesBy(withStatus, func(o Outcome) int { return o.StatusCode }),
		Latency:     stats.Summarize(latencies),
	}
	if s.Total > 0 && duration > 0 {
		s.Throughput = float64(s.Total) / duration.Seconds()
	}
	return s
}
