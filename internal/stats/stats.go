package stats

import (
	"sync/atomic"
	"time"
)

// Stats holds live counters for a batch in progress. The final summary is not
// derived from it.
type Stats struct {
	Completed uint64
	Success   uint64
	Fail      uint64
	Bytes     uint64

	// Latency histograms (microseconds)
	ServiceTime *SafeHistogram
	QueueWait   *SafeHistogram
}

func NewStats() *Stats {
	return &Stats{
		ServiceTime: NewSafeHistogram(),
		QueueWait:   NewSafeHistogram(),
	}
}

func (s *Stats) Add(success bool, bytes int64, serviceTime, queueWait time.Duration) {
	atomic.AddUint64(&s.Completed, 1)
	if success {
		atomic.AddUint64(&s.Success, 1)
		s.ServiceTime.Record(serviceTime)
	} else {
		atomic.AddUint64(&s.Fail, 1)
	}
	if bytes > 0 {
		atomic.AddUint64(&s.Bytes, uint64(bytes))
	}
	s.QueueWait.Record(queueWait)
}

func (s *Stats) ErrorRate() float64 {
	done := atomic.LoadUint64(&s.Completed)
	if done == 0 {
		return 0
	}
	return float64(atomic.LoadUint64(&s.Fail)) / float64(done) * 100
}

func (s *Stats) GetP90Service() float64 {
	return float64(s.ServiceTime.ValueAtQuantile(90)) / 1000.0 // ms
}

func (s *Stats) GetP99Service() float64 {
	return float64(s.ServiceTime.ValueAtQuantile(99)) / 1000.0 // ms
}

// QueueWaitAvgMs returns average queue wait in milliseconds
func (s *Stats) QueueWaitAvgMs() float64 {
	return s.QueueWait.Mean() / 1000.0
}
