package runner

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// countingSender records how many sends are in flight and the highest value seen.
type countingSender struct {
	calls    int64
	inflight int64
	peak     int64
	delay    time.Duration
	fn       func(ctx context.Context, a Attempt) (*Response, error)
}

func (s *countingSender) Send(ctx context.Context, a Attempt) (*Response, error) {
	atomic.AddInt64(&s.calls, 1)
	n := atomic.AddInt64(&s.inflight, 1)
	defer atomic.AddInt64(&s.inflight, -1)
	for {
		p := atomic.LoadInt64(&s.peak)
		if n <= p || atomic.CompareAndSwapInt64(&s.peak, p, n) {
			break
		}
	}
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if s.fn != nil {
		return s.fn(ctx, a)
	}
	return &Response{StatusCode: 200, Bytes: 2}, nil
}

func testConfig(total, concurrency int) Config {
	return Config{
		Target:      "http://example.invalid/api",
		Total:       total,
		Concurrency: concurrency,
		Timeout:     time.Second,
	}
}

func TestRun_CountsAlwaysSumToTotal(t *testing.T) {
	sender := &countingSender{
		delay: time.Millisecond,
		fn: func(_ context.Context, a Attempt) (*Response, error) {
			switch a.Seq % 4 {
			case 0:
				return &Response{StatusCode: 200}, nil
			case 1:
				return &Response{StatusCode: 503}, nil
			case 2:
				return nil, &net.OpError{Op: "dial", Net: "tcp", Err: syscall.ECONNREFUSED}
			default:
				return nil, errors.New("boom")
			}
		},
	}

	res, err := Run(context.Background(), testConfig(100, 8), sender)
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, 100, s.Total)
	assert.Equal(t, s.Total, s.Succeeded+s.Failed)
	assert.Equal(t, 25, s.Succeeded)
	assert.Equal(t, 25, s.Reasons[ReasonUnexpectedStatus])
	assert.Equal(t, 25, s.Reasons[ReasonConnection])
	assert.Equal(t, 25, s.Reasons[ReasonOther])
	assert.Len(t, res.Outcomes, 100)
	assert.Equal(t, int64(100), atomic.LoadInt64(&sender.calls))
}

func TestRun_NeverExceedsConcurrency(t *testing.T) {
	sender := &countingSender{delay: 5 * time.Millisecond}

	res, err := Run(context.Background(), testConfig(60, 7), sender)
	require.NoError(t, err)

	assert.LessOrEqual(t, atomic.LoadInt64(&sender.peak), int64(7))
	assert.LessOrEqual(t, res.Summary.PeakInflight, 7)
	assert.Greater(t, res.Summary.PeakInflight, 0)
	assert.Equal(t, 60, res.Summary.Succeeded)
}

func TestRun_ZeroTotal(t *testing.T) {
	sender := &countingSender{}

	res, err := Run(context.Background(), testConfig(0, 4), sender)
	require.NoError(t, err)

	assert.Equal(t, 0, res.Summary.Succeeded)
	assert.Equal(t, 0, res.Summary.Failed)
	assert.Zero(t, res.Summary.Throughput)
	assert.Empty(t, res.Outcomes)
	assert.Zero(t, atomic.LoadInt64(&sender.calls))
}

func TestRun_InvalidConfig(t *testing.T) {
	tests := []struct {
		name  string
		cfg   Config
		field string
	}{
		{"negative total", Config{Target: "x", Total: -1, Concurrency: 1, Timeout: time.Second}, "total"},
		{"zero concurrency", Config{Target: "x", Total: 5, Concurrency: 0, Timeout: time.Second}, "concurrency"},
		{"zero timeout", Config{Target: "x", Total: 5, Concurrency: 1}, "timeout"},
		{"empty target", Config{Total: 5, Concurrency: 1, Timeout: time.Second}, "target"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sender := &countingSender{}

			res, err := Run(context.Background(), tt.cfg, sender)
			require.Error(t, err)
			assert.Nil(t, res)
			assert.ErrorIs(t, err, ErrConfiguration)

			var cerr *ConfigurationError
			require.ErrorAs(t, err, &cerr)
			assert.Equal(t, tt.field, cerr.Field)
			assert.Zero(t, atomic.LoadInt64(&sender.calls))
		})
	}
}

func TestRun_AlwaysTimesOut(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, _ Attempt) (*Response, error) {
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig(20, 5)
	cfg.Timeout = 10 * time.Millisecond

	res, err := Run(context.Background(), cfg, sender)
	require.NoError(t, err)

	assert.Equal(t, 20, res.Summary.Failed)
	assert.Equal(t, 20, res.Summary.Reasons[ReasonTimeout])
	for _, o := range res.Outcomes {
		assert.Equal(t, ReasonTimeout, o.Reason)
	}
}

func TestRun_AlwaysSucceeds(t *testing.T) {
	sender := &countingSender{delay: 2 * time.Millisecond}

	res, err := Run(context.Background(), testConfig(50, 10), sender)
	require.NoError(t, err)

	s := res.Summary
	assert.Equal(t, 50, s.Succeeded)
	assert.Empty(t, s.Reasons)
	assert.Equal(t, 50, s.StatusCodes[200])
	require.Greater(t, s.Duration, time.Duration(0))
	assert.InDelta(t, float64(50)/s.Duration.Seconds(), s.Throughput, 0.001)
	assert.Equal(t, int64(50), s.Latency.Count)
	assert.InDelta(t, 100.0, s.SuccessRate(), 0.0001)
}

func TestRun_MostlySucceedsUnderLoad(t *testing.T) {
	sender := &countingSender{
		delay: time.Millisecond,
		fn: func(_ context.Context, a Attempt) (*Response, error) {
			// one in twenty fails
			if a.Seq%20 == 19 {
				return &Response{StatusCode: 500}, nil
			}
			return &Response{StatusCode: 200}, nil
		},
	}

	res, err := Run(context.Background(), testConfig(200, 50), sender)
	require.NoError(t, err)

	assert.Equal(t, 190, res.Summary.Succeeded)
	assert.Equal(t, 10, res.Summary.Failed)
	assert.Equal(t, 10, res.Summary.StatusCodes[500])
	assert.LessOrEqual(t, atomic.LoadInt64(&sender.peak), int64(50))
	assert.LessOrEqual(t, res.Summary.PeakInflight, 50)
}

func TestRun_CancelledBatch(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var started int64
	sender := SenderFunc(func(ctx context.Context, _ Attempt) (*Response, error) {
		if atomic.AddInt64(&started, 1) == 2 {
			cancel()
		}
		<-ctx.Done()
		return nil, ctx.Err()
	})
	cfg := testConfig(30, 2)
	cfg.Timeout = 5 * time.Second

	res, err := Run(ctx, cfg, sender)
	require.NoError(t, err)

	assert.Equal(t, 30, res.Summary.Failed)
	assert.Equal(t, 30, res.Summary.Reasons[ReasonCancelled])
	assert.LessOrEqual(t, atomic.LoadInt64(&started), int64(2))
}

func TestRun_RecoversSenderPanic(t *testing.T) {
	sender := SenderFunc(func(_ context.Context, a Attempt) (*Response, error) {
		if a.Seq == 3 {
			panic("kaboom")
		}
		return &Response{StatusCode: 200}, nil
	})

	res, err := Run(context.Background(), testConfig(10, 3), sender)
	require.NoError(t, err)

	assert.Equal(t, 9, res.Summary.Succeeded)
	assert.Equal(t, 1, res.Summary.Reasons[ReasonOther])
	assert.Contains(t, res.Outcomes[3].Error, "kaboom")
}

func TestRun_LateSuccessCountsAsTimeout(t *testing.T) {
	// the sender ignores ctx and answers 200 long after the deadline
	sender := SenderFunc(func(context.Context, Attempt) (*Response, error) {
		time.Sleep(300 * time.Millisecond)
		return &Response{StatusCode: 200}, nil
	})
	cfg := testConfig(5, 5)
	cfg.Timeout = 20 * time.Millisecond

	res, err := Run(context.Background(), cfg, sender)
	require.NoError(t, err)

	assert.Zero(t, res.Summary.Succeeded)
	assert.Equal(t, 5, res.Summary.Reasons[ReasonTimeout])
	assert.Less(t, res.Summary.Duration, 250*time.Millisecond)
	for _, o := range res.Outcomes {
		assert.Positive(t, o.Elapsed)
	}
}

func TestRun_ResponseAtDeadlineCountsAsTimeout(t *testing.T) {
	sender := SenderFunc(func(ctx context.Context, _ Attempt) (*Response, error) {
		<-ctx.Done()
		return &Response{StatusCode: 200}, nil
	})
	cfg := testConfig(4, 2)
	cfg.Timeout = 10 * time.Millisecond

	res, err := Run(context.Background(), cfg, sender)
	require.NoError(t, err)

	assert.Equal(t, 4, res.Summary.Reasons[ReasonTimeout])
}

func TestRun_CancelledBatchDoesNotWaitForStuckSender(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sender := SenderFunc(func(context.Context, Attempt) (*Response, error) {
		time.Sleep(2 * time.Second)
		return &Response{StatusCode: 200}, nil
	})
	cfg := testConfig(6, 3)
	cfg.Timeout = 5 * time.Second

	time.AfterFunc(50*time.Millisecond, cancel)
	begin := time.Now()
	res, err := Run(ctx, cfg, sender)
	require.NoError(t, err)

	assert.Less(t, time.Since(begin), time.Second)
	assert.Equal(t, 6, res.Summary.Reasons[ReasonCancelled])
}

func TestRun_RecoversValidatorPanic(t *testing.T) {
	validate := Validator(func(resp *Response) error {
		if resp.StatusCode == 418 {
			panic("bad validator")
		}
		return nil
	})
	sender := SenderFunc(func(_ context.Context, a Attempt) (*Response, error) {
		if a.Seq == 2 {
			return &Response{StatusCode: 418}, nil
		}
		return &Response{StatusCode: 200}, nil
	})

	res, err := Run(context.Background(), testConfig(8, 4), sender, WithValidator(validate))
	require.NoError(t, err)

	assert.Equal(t, 8, res.Summary.Succeeded+res.Summary.Failed)
	assert.Equal(t, 7, res.Summary.Succeeded)
	assert.Equal(t, ReasonOther, res.Outcomes[2].Reason)
	assert.Contains(t, res.Outcomes[2].Error, "bad validator")
}

type panickingObserver struct{ seq int }

func (o panickingObserver) AttemptStarted(Attempt, time.Duration) {}
func (o panickingObserver) AttemptFinished(out Outcome) {
	if out.Seq == o.seq {
		panic("observer broke")
	}
}

func TestRun_RecoversObserverPanic(t *testing.T) {
	r, err := New(testConfig(6, 2), &countingSender{}, WithObserver(panickingObserver{seq: 4}))
	require.NoError(t, err)

	res := r.Run(context.Background())

	assert.Equal(t, 6, res.Summary.Total)
	assert.Equal(t, 5, res.Summary.Succeeded)
	assert.Equal(t, ReasonOther, res.Outcomes[4].Reason)
	assert.Contains(t, res.Outcomes[4].Error, "observer broke")

	p := r.Progress()
	assert.Equal(t, int64(6), p.Completed)
	assert.Equal(t, int64(5), p.Succeeded)
	assert.Zero(t, p.Inflight)
}

func TestRun_ValidatorClassification(t *testing.T) {
	sender := SenderFunc(func(_ context.Context, a Attempt) (*Response, error) {
		if a.Seq%2 == 0 {
			return &Response{StatusCode: 200, Body: []byte(`{"result":{"version":"1.2"}}`)}, nil
		}
		return &Response{StatusCode: 200, Body: []byte(`{"error":"nope"}`)}, nil
	})

	res, err := Run(context.Background(), testConfig(10, 10), sender,
		WithValidator(All(ExpectStatus(200), ExpectJSONField("result.version"))))
	require.NoError(t, err)

	assert.Equal(t, 5, res.Summary.Succeeded)
	assert.Equal(t, 5, res.Summary.Reasons[ReasonInvalidResponse])
}

func TestRun_OutcomesOrderedBySeq(t *testing.T) {
	res, err := Run(context.Background(), testConfig(25, 5), &countingSender{})
	require.NoError(t, err)

	seen := make(map[string]bool)
	for i, o := range res.Outcomes {
		assert.Equal(t, i, o.Seq)
		assert.NotEmpty(t, o.ID)
		assert.False(t, seen[o.ID], "duplicate attempt id")
		seen[o.ID] = true
	}
}

type recordingObserver struct {
	started  int64
	finished int64
}

func (o *recordingObserver) AttemptStarted(Attempt, time.Duration) { atomic.AddInt64(&o.started, 1) }
func (o *recordingObserver) AttemptFinished(Outcome)               { atomic.AddInt64(&o.finished, 1) }

func TestRun_NotifiesObservers(t *testing.T) {
	obs := &recordingObserver{}
	r, err := New(testConfig(12, 4), &countingSender{}, WithObserver(obs))
	require.NoError(t, err)

	res := r.Run(context.Background())

	assert.Equal(t, int64(12), atomic.LoadInt64(&obs.started))
	assert.Equal(t, int64(12), atomic.LoadInt64(&obs.finished))

	p := r.Progress()
	assert.Equal(t, int64(12), p.Completed)
	assert.Equal(t, int64(12), p.Succeeded)
	assert.Zero(t, p.Inflight)
	assert.Equal(t, int64(res.Summary.PeakInflight), p.Peak)
}

func TestClassify(t *testing.T) {
	live := context.Background()
	expired, cancel := context.WithTimeout(live, -time.Second)
	defer cancel()
	cancelled, cancelNow := context.WithCancel(live)
	cancelNow()

	tests := []struct {
		name    string
		batch   context.Context
		attempt context.Context
		err     error
		want    Reason
	}{
		{"deadline", live, expired, context.DeadlineExceeded, ReasonTimeout},
		{"wrapped deadline", live, live, fmt.Errorf("get: %w", context.DeadlineExceeded), ReasonTimeout},
		{"batch cancelled", cancelled, cancelled, context.Canceled, ReasonCancelled},
		{"refused", live, live, &net.OpError{Op: "dial", Err: syscall.ECONNREFUSED}, ReasonConnection},
		{"sentinel", live, live, fmt.Errorf("%w: closed", ErrConnection), ReasonConnection},
		{"other", live, live, errors.New("weird"), ReasonOther},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, classify(tt.batch, tt.attempt, tt.err))
		})
	}
}
