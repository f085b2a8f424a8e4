package stats

import (
	"sync"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

const (
	minTrackableUs = 1
	maxTrackableUs = int64(10 * time.Minute / time.Microsecond)
	sigFigs        = 3
)

// SafeHistogram is a thread-safe wrapper around hdrhistogram
type SafeHistogram struct {
	hist *hdrhistogram.Histogram
	mu   sync.Mutex
}

func NewSafeHistogram() *SafeHistogram {
	// 1us to 10min, 3 significant figures
	return &SafeHistogram{hist: hdrhistogram.New(minTrackableUs, maxTrackableUs, sigFigs)}
}

// Record clamps d into the trackable range and records it in microseconds.
func (h *SafeHistogram) Record(d time.Duration) {
	us := clampUs(d)
	h.mu.Lock()
	defer h.mu.Unlock()
	_ = h.hist.RecordValue(us)
}

func (h *SafeHistogram) ValueAtQuantile(q float64) int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.ValueAtQuantile(q)
}

func (h *SafeHistogram) Mean() float64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Mean()
}

func (h *SafeHistogram) Max() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.Max()
}

func (h *SafeHistogram) TotalCount() int64 {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.hist.TotalCount()
}

func clampUs(d time.Duration) int64 {
	us := d.Microseconds()
	if us < minTrackableUs {
		return minTrackableUs
	}
	if us > maxTrackableUs {
		return maxTrackableUs
	}
	return us
}
