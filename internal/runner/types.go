package runner

import (
	"context"
	"time"

	"boundq/internal/stats"
)

// Config describes one batch. It is not modified once a Runner holds it.
type Config struct {
	Target      string        `mapstructure:"target" json:"target"`
	Total       int           `mapstructure:"total" json:"total"`
	Concurrency int           `mapstructure:"concurrency" json:"concurrency"`
	Timeout     time.Duration `mapstructure:"timeout" json:"timeout"`
}

// Attempt identifies one unit of work handed to a Sender.
type Attempt struct {
	Seq    int
	ID     string
	Target string
}

// Response is what a Sender saw on the wire.
type Response struct {
	StatusCode int
	Body       []byte
	Bytes      int64
}

// Sender performs a single network operation. The attempt deadline is carried by ctx.
type Sender interface {
	Send(ctx context.Context, a Attempt) (*Response, error)
}

// SenderFunc adapts a plain function to Sender.
type SenderFunc func(ctx context.Context, a Attempt) (*Response, error)

func (f SenderFunc) Send(ctx context.Context, a Attempt) (*Response, error) {
	return f(ctx, a)
}

// Observer is notified as attempts move through the runner. Calls arrive from many
// goroutines at once.
type Observer interface {
	AttemptStarted(a Attempt, queueWait time.Duration)
	AttemptFinished(o Outcome)
}

type Outcome struct {
	Seq        int           `json:"seq"`
	ID         string        `json:"id"`
	Started    time.Time     `json:"started"`
	Elapsed    time.Duration `json:"elapsed"`    // network time
	QueueWait  time.Duration `json:"queue_wait"` // time spent waiting for a slot
	Reason     Reason        `json:"reason"`
	StatusCode int           `json:"status_code,omitempty"`
	Bytes      int64         `json:"bytes"`
	Error      string        `json:"error,omitempty"`
}

func (o Outcome) Success() bool {
	return o.Reason == ReasonNone
}

// Summary is computed once from the collected outcomes.
type Summary struct {
	Total        int            `json:"total"`
	Succeeded    int            `json:"succeeded"`
	Failed       int            `json:"failed"`
	Duration     time.Duration  `json:"duration"`
	Throughput   float64        `json:"throughput_rps"`
	PeakInflight int            `json:"peak_inflight"`
	Reasons      map[Reason]int `json:"reasons,omitempty"`
	StatusCodes  map[int]int    `json:"status_codes,omitempty"`
	Latency      stats.Latency  `json:"latency"` // successful attempts only
}

// SuccessRate returns the share of successful attempts in percent.
func (s Summary) SuccessRate() float64 {
	if s.Total == 0 {
		return 0
	}
	return float64(s.Succeeded) / float64(s.Total) * 100
}

type Result struct {
	Config   Config    `json:"config"`
	Summary  Summary   `json:"summary"`
	Outcomes []Outcome `json:"outcomes"`
}

// Progress is a point-in-time view of a running batch.
type Progress struct {
	Total     int
	Completed int64
	Succeeded int64
	Failed    int64
	Inflight  int64
	Peak      int64
	Elapsed   time.Duration

	P90Ms float64
}
