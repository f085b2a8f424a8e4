package stats

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestSummarize(t *testing.T) {
	var samples []time.Duration
	for i := 1; i <= 100; i++ {
		samples = append(samples, time.Duration(i*10)*time.Microsecond)
	}

	l := Summarize(samples)

	assert.Equal(t, int64(100), l.Count)
	assert.Equal(t, 10*time.Microsecond, l.Min)
	assert.Equal(t, 1000*time.Microsecond, l.Max)
	assert.Equal(t, 500*time.Microsecond, l.P50)
	assert.Equal(t, 900*time.Microsecond, l.P90)
	assert.Equal(t, 990*time.Microsecond, l.P99)
	assert.InDelta(t, float64(505*time.Microsecond), float64(l.Mean), float64(time.Microsecond))
}

func TestSummarize_EmptyAndClamped(t *testing.T) {
	assert.Equal(t, Latency{}, Summarize(nil))

	l := Summarize([]time.Duration{0, time.Hour})
	assert.Equal(t, time.Microsecond, l.Min)
	assert.InEpsilon(t, float64(10*time.Minute), float64(l.Max), 0.01)
}

func TestStats_Add(t *testing.T) {
	s := NewStats()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			s.Add(i%5 != 0, 10, time.Millisecond, 100*time.Microsecond)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, uint64(50), s.Completed)
	assert.Equal(t, uint64(40), s.Success)
	assert.Equal(t, uint64(10), s.Fail)
	assert.Equal(t, uint64(500), s.Bytes)
	assert.InDelta(t, 20.0, s.ErrorRate(), 0.0001)
	assert.InDelta(t, 1.0, s.GetP90Service(), 0.001)
	assert.InDelta(t, 0.1, s.QueueWaitAvgMs(), 0.001)
	assert.Equal(t, int64(40), s.ServiceTime.TotalCount())
}

func TestStats_ErrorRateEmpty(t *testing.T) {
	assert.Zero(t, NewStats().ErrorRate())
}

func TestMs(t *testing.T) {
	assert.Equal(t, 1.5, Ms(1500*time.Microsecond))
}
