package runner

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"boundq/internal/stats"
)

// Option customises a Runner.
type Option func(*Runner)

// WithValidator sets the success predicate. The default accepts any 2xx status.
func WithValidator(v Validator) Option {
	return func(r *Runner) {
		if v != nil {
			r.validate = v
		}
	}
}

// WithObserver registers an observer for attempt start and finish events.
func WithObserver(o Observer) Option {
	return func(r *Runner) {
		if o != nil {
			r.observers = append(r.observers, o)
		}
	}
}

type Runner struct {
	Cfg Config

	sender    Sender
	validate  Validator
	observers []Observer

	live     atomic.Pointer[stats.Stats]
	inflight int64
	peak     int64
	started  atomic.Value // time.Time
}

// Validate reports the first problem with cfg as a *ConfigurationError.
func (c Config) Validate() error {
	switch {
	case c.Total < 0:
		return &ConfigurationError{Field: "total", Reason: fmt.Sprintf("must be >= 0, got %d", c.Total)}
	case c.Concurrency < 1:
		return &ConfigurationError{Field: "concurrency", Reason: fmt.Sprintf("must be >= 1, got %d", c.Concurrency)}
	case c.Timeout <= 0:
		return &ConfigurationError{Field: "timeout", Reason: fmt.Sprintf("must be positive, got %s", c.Timeout)}
	case c.Target == "":
		return &ConfigurationError{Field: "target", Reason: "must not be empty"}
	}
	return nil
}

func New(cfg Config, sender Sender, opts ...Option) (*Runner, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sender == nil {
		return nil, &ConfigurationError{Field: "sender", Reason: "must not be nil"}
	}
	r := &Runner{
		Cfg:      cfg,
		sender:   sender,
		validate: Expect2xx,
	}
	r.live.Store(stats.NewStats())
	for _, opt := range opts {
		opt(r)
	}
	return r, nil
}

// Run validates cfg and executes one batch.
func Run(ctx context.Context, cfg Config, sender Sender, opts ...Option) (*Result, error) {
	r, err := New(cfg, sender, opts...)
	if err != nil {
		return nil, err
	}
	return r.Run(ctx), nil
}

// Run executes Total attempts with at most Concurrency in flight and blocks until every
// attempt has an outcome. Cancelling ctx cancels outstanding attempts; they are recorded
// as cancelled. A Runner runs one batch at a time.
func (r *Runner) Run(ctx context.Context) *Result {
	r.reset()

	outcomes := make([]Outcome, r.Cfg.Total)
	sem := semaphore.NewWeighted(int64(r.Cfg.Concurrency))

	start := time.Now()
	r.started.Store(start)

	var wg sync.WaitGroup
	for i := 0; i < r.Cfg.Total; i++ {
		wg.Add(1)
		go func(seq int) {
			defer wg.Done()
			// each goroutine owns outcomes[seq]
			outcomes[seq] = r.attempt(ctx, sem, seq)
		}(i)
	}
	wg.Wait()

	duration := time.Since(start)
	sum := Summarize(outcomes, duration)
	sum.PeakInflight = int(atomic.LoadInt64(&r.peak))

	return &Result{
		Config:   r.Cfg,
		Summary:  sum,
		Outcomes: outcomes,
	}
}

func (r *Runner) attempt(ctx context.Context, sem *semaphore.Weighted, seq int) (out Outcome) {
	a := Attempt{Seq: seq, ID: uuid.New().String(), Target: r.Cfg.Target}
	queued := time.Now()
	out = Outcome{Seq: seq, ID: a.ID, Started: queued}

	// a panicking validator or observer fails this attempt only
	defer func() {
		if p := recover(); p != nil {
			out.Reason = ReasonOther
			out.Error = (&panicError{value: p}).Error()
			r.live.Load().Add(false, out.Bytes, out.Elapsed, out.QueueWait)
		}
	}()

	if err := sem.Acquire(ctx, 1); err != nil {
		out.Reason = ReasonCancelled
		out.Error = err.Error()
		out.QueueWait = time.Since(queued)
		r.finish(out)
		return out
	}
	defer sem.Release(1)

	out.Started = time.Now()
	out.QueueWait = out.Started.Sub(queued)

	if ctx.Err() != nil {
		out.Reason = ReasonCancelled
		out.Error = ctx.Err().Error()
		r.finish(out)
		return out
	}

	r.enter()
	defer r.leave()
	for _, o := range r.observers {
		o.AttemptStarted(a, out.QueueWait)
	}

	actx, cancel := context.WithTimeout(ctx, r.Cfg.Timeout)
	defer cancel()

	resp, err := r.sendWithin(actx, a)
	out.Elapsed = time.Since(out.Started)

	var pe *panicError
	switch {
	case errors.As(err, &pe):
		out.Reason = ReasonOther
		out.Error = err.Error()
	case ctx.Err() != nil:
		// whatever the sender returned, the batch is gone
		out.Reason = ReasonCancelled
		out.Error = ctx.Err().Error()
	case errors.Is(actx.Err(), context.DeadlineExceeded):
		out.Reason = ReasonTimeout
		out.Error = fmt.Sprintf("no response within %s", r.Cfg.Timeout)
		if err != nil {
			out.Error = err.Error()
		}
	case err != nil:
		out.Reason = classify(ctx, actx, err)
		out.Error = err.Error()
	case resp == nil:
		out.Reason = ReasonOther
		out.Error = "sender returned no response"
	default:
		out.StatusCode = resp.StatusCode
		out.Bytes = resp.Bytes
		if verr := r.validate(resp); verr != nil {
			out.Error = verr.Error()
			var se *StatusError
			if errors.As(verr, &se) {
				out.Reason = ReasonUnexpectedStatus
			} else {
				out.Reason = ReasonInvalidResponse
			}
		}
	}

	r.finish(out)
	return out
}

type sendResult struct {
	resp *Response
	err  error
}

// sendWithin returns when the sender does or when ctx ends, whichever is first. A
// sender that ignores ctx keeps running in the background, but its slot is freed.
func (r *Runner) sendWithin(ctx context.Context, a Attempt) (*Response, error) {
	done := make(chan sendResult, 1)
	go func() {
		resp, err := r.send(ctx, a)
		done <- sendResult{resp: resp, err: err}
	}()

	select {
	case res := <-done:
		return res.resp, res.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// send shields the batch from a panicking sender.
func (r *Runner) send(ctx context.Context, a Attempt) (resp *Response, err error) {
	defer func() {
		if p := recover(); p != nil {
			resp = nil
			err = &panicError{value: p}
		}
	}()
	return r.sender.Send(ctx, a)
}

type panicError struct {
	value any
}

func (e *panicError) Error() string {
	return fmt.Sprintf("panic: %v", e.value)
}

// classify maps a send error to a failure reason. batch is the caller's context, and
// attempt the per-attempt deadline derived from it.
func classify(batch, attempt context.Context, err error) Reason {
	var pe *panicError
	if errors.As(err, &pe) {
		return ReasonOther
	}
	if batch.Err() != nil {
		return ReasonCancelled
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(attempt.Err(), context.DeadlineExceeded) {
		return ReasonTimeout
	}
	var ne net.Error
	if errors.As(err, &ne) && ne.Timeout() {
		return ReasonTimeout
	}
	if errors.Is(err, context.Canceled) {
		return ReasonCancelled
	}
	var opErr *net.OpError
	switch {
	case errors.Is(err, ErrConnection),
		errors.As(err, &opErr),
		errors.Is(err, syscall.ECONNREFUSED),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, io.EOF),
		errors.Is(err, io.ErrUnexpectedEOF):
		return ReasonConnection
	}
	return ReasonOther
}

func (r *Runner) reset() {
	r.live.Store(stats.NewStats())
	atomic.StoreInt64(&r.inflight, 0)
	atomic.StoreInt64(&r.peak, 0)
}

func (r *Runner) enter() {
	n := atomic.AddInt64(&r.inflight, 1)
	for {
		p := atomic.LoadInt64(&r.peak)
		if n <= p || atomic.CompareAndSwapInt64(&r.peak, p, n) {
			return
		}
	}
}

func (r *Runner) leave() {
	atomic.AddInt64(&r.inflight, -1)
}

// finish notifies observers before counting, so a panicking observer is counted
// once, as a failure.
func (r *Runner) finish(out Outcome) {
	for _, o := range r.observers {
		o.AttemptFinished(out)
	}
	r.live.Load().Add(out.Success(), out.Bytes, out.Elapsed, out.QueueWait)
}

// Progress returns live counters. It is safe to call while Run is executing.
func (r *Runner) Progress() Progress {
	live := r.live.Load()
	p := Progress{
		Total:     r.Cfg.Total,
		Completed: int64(atomic.LoadUint64(&live.Completed)),
		Succeeded: int64(atomic.LoadUint64(&live.Success)),
		Failed:    int64(atomic.LoadUint64(&live.Fail)),
		Inflight:  atomic.LoadInt64(&r.inflight),
		Peak:      atomic.LoadInt64(&r.peak),
		P90Ms:     live.GetP90Service(),
	}
	if t, ok := r.started.Load().(time.Time); ok {
		p.Elapsed = time.Since(t)
	}
	return p
}

func (r *Runner) GetInflight() int64 {
	return atomic.LoadInt64(&r.inflight)
}
