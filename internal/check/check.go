// Package check runs a connectivity suite against an exchange-style HTTP API.
// Every probe goes through the bounded runner so it is classified the same way as a
// load batch.
package check

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/samber/lo"

	"boundq/internal/logger"
	"boundq/internal/runner"
	"boundq/internal/transport"
)

const (
	defaultThreshold = 80.0
	defaultTimeout   = 30 * time.Second
	maxClockSkew     = 5 * time.Second
)

type Check struct {
	Name         string
	Path         string
	Method       string
	ExpectStatus []int
	RequireField string
	// Validate replaces the status and field expectations when set.
	Validate runner.Validator
}

func (c Check) validator() runner.Validator {
	if c.Validate != nil {
		return c.Validate
	}
	v := runner.ExpectStatus(c.ExpectStatus...)
	if c.RequireField != "" {
		v = runner.All(v, runner.ExpectJSONField(c.RequireField))
	}
	return v
}

type Result struct {
	Name       string        `json:"name"`
	Passed     bool          `json:"passed"`
	StatusCode int           `json:"status_code,omitempty"`
	Latency    time.Duration `json:"latency"`
	Reason     runner.Reason `json:"reason"`
	Error      string        `json:"error,omitempty"`
	Detail     string        `json:"detail,omitempty"`
}

type SuiteResult struct {
	BaseURL  string        `json:"base_url"`
	Started  time.Time     `json:"started"`
	Duration time.Duration `json:"duration"`
	Results  []Result      `json:"results"`
	Passed   int           `json:"passed"`
	Failed   int           `json:"failed"`
}

// SuccessRate is the share of passed checks in percent, 0 for an empty suite.
func (s SuiteResult) SuccessRate() float64 {
	if len(s.Results) == 0 {
		return 0
	}
	return float64(s.Passed) / float64(len(s.Results)) * 100
}

// DefaultChecks probes the public endpoints of a Deribit-compatible API.
func DefaultChecks() []Check {
	return []Check{
		{Name: "Basic HTTP Connectivity", Path: "/api/v2/public/test", RequireField: "result"},
		{Name: "Server Time Sync", Path: "/api/v2/public/get_time", Validate: ExpectServerTime(maxClockSkew)},
		{Name: "Get Instruments", Path: "/api/v2/public/get_instruments?currency=BTC", RequireField: "result"},
		{Name: "Ticker Data", Path: "/api/v2/public/ticker?instrument_name=BTC-PERPETUAL", RequireField: "result.last_price"},
		{Name: "Order Book", Path: "/api/v2/public/get_order_book?instrument_name=BTC-PERPETUAL&depth=5", RequireField: "result.bids"},
		{Name: "Invalid Endpoint Error Handling", Path: "/api/v2/invalid_endpoint", ExpectStatus: []int{404}},
		{Name: "Invalid Instrument Error Handling", Path: "/api/v2/public/ticker?instrument_name=INVALID-INSTRUMENT", Validate: ExpectRejection},
	}
}

type Suite struct {
	BaseURL string
	// ServerURL adds a /health probe against the service under test.
	ServerURL   string
	Checks      []Check
	Timeout     time.Duration
	Concurrency int
	Threshold   float64
	Insecure    bool
}

// Run executes the checks in order, then the concurrency probe when Concurrency > 0.
func (s *Suite) Run(ctx context.Context) (*SuiteResult, error) {
	sender, err := transport.NewHTTPSender(transport.HTTPOptions{Insecure: s.Insecure})
	if err != nil {
		return nil, err
	}
	defer sender.Close()

	if s.Timeout <= 0 {
		s.Timeout = defaultTimeout
	}
	checks := s.Checks
	if checks == nil {
		checks = DefaultChecks()
	}
	base := strings.TrimRight(s.BaseURL, "/")

	out := &SuiteResult{BaseURL: base, Started: time.Now()}
	for _, c := range checks {
		res, err := s.probe(ctx, sender, base, c)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", c.Name, err)
		}
		out.Results = append(out.Results, res)
	}

	if s.ServerURL != "" {
		health := Check{Name: "Server Health Check", Path: "/health", ExpectStatus: []int{200}}
		res, err := s.probe(ctx, sender, strings.TrimRight(s.ServerURL, "/"), health)
		if err != nil {
			return nil, fmt.Errorf("check %q: %w", health.Name, err)
		}
		out.Results = append(out.Results, res)
	}

	if s.Concurrency > 0 {
		res, err := s.concurrent(ctx, sender, base)
		if err != nil {
			return nil, fmt.Errorf("concurrency check: %w", err)
		}
		out.Results = append(out.Results, res)
	}

	out.Duration = time.Since(out.Started)
	out.Passed = lo.CountBy(out.Results, func(r Result) bool { return r.Passed })
	out.Failed = len(out.Results) - out.Passed
	return out, nil
}

func (s *Suite) probe(ctx context.Context, sender runner.Sender, base string, c Check) (Result, error) {
	if c.Method != "" && !strings.EqualFold(c.Method, "GET") {
		ms, err := transport.NewHTTPSender(transport.HTTPOptions{Method: c.Method, Insecure: s.Insecure})
		if err != nil {
			return Result{}, err
		}
		defer ms.Close()
		sender = ms
	}

	cfg := runner.Config{Target: base + c.Path, Total: 1, Concurrency: 1, Timeout: s.Timeout}
	res, err := runner.Run(ctx, cfg, sender, runner.WithValidator(c.validator()))
	if err != nil {
		return Result{}, err
	}

	o := res.Outcomes[0]
	r := Result{
		Name:       c.Name,
		Passed:     o.Success(),
		StatusCode: o.StatusCode,
		Latency:    o.Elapsed,
		Reason:     o.Reason,
		Error:      o.Error,
	}
	logger.Debug("check finished", "name", c.Name, "passed", r.Passed, "status", r.StatusCode, "reason", r.Reason.String())
	return r, nil
}

// concurrent fires Concurrency requests at once and passes when at least Threshold
// percent of them succeed.
func (s *Suite) concurrent(ctx context.Context, sender runner.Sender, base string) (Result, error) {
	threshold := s.Threshold
	if threshold <= 0 {
		threshold = defaultThreshold
	}
	cfg := runner.Config{
		Target:      base + "/api/v2/public/test",
		Total:       s.Concurrency,
		Concurrency: s.Concurrency,
		Timeout:     s.Timeout,
	}
	res, err := runner.Run(ctx, cfg, sender)
	if err != nil {
		return Result{}, err
	}

	sum := res.Summary
	r := Result{
		Name:    fmt.Sprintf("Concurrent Requests (%d)", s.Concurrency),
		Passed:  sum.SuccessRate() >= threshold,
		Latency: sum.Latency.Mean,
		Detail: fmt.Sprintf("%d/%d succeeded, %.1f req/s, peak %d in flight",
			sum.Succeeded, sum.Total, sum.Throughput, sum.PeakInflight),
	}
	if !r.Passed {
		r.Error = fmt.Sprintf("success rate %.1f%% below %.0f%%", sum.SuccessRate(), threshold)
	}
	return r, nil
}

// ExpectServerTime requires a 200 whose "result" is a millisecond timestamp within
// skew of the local clock.
func ExpectServerTime(skew time.Duration) runner.Validator {
	return func(resp *runner.Response) error {
		if err := runner.ExpectStatus(200)(resp); err != nil {
			return err
		}
		var body struct {
			Result int64 `json:"result"`
		}
		if err := json.Unmarshal(resp.Body, &body); err != nil || body.Result == 0 {
			return &runner.PayloadError{Msg: "no server time in result"}
		}
		diff := time.Since(time.UnixMilli(body.Result)).Abs()
		if diff >= skew {
			return &runner.PayloadError{Msg: fmt.Sprintf("time difference too large: %dms", diff.Milliseconds())}
		}
		return nil
	}
}

// ExpectRejection passes for any non-200 status, or a 200 carrying an "error" object.
func ExpectRejection(resp *runner.Response) error {
	if resp.StatusCode != 200 {
		return nil
	}
	var body map[string]any
	if err := json.Unmarshal(resp.Body, &body); err == nil {
		if _, ok := body["error"]; ok {
			return nil
		}
	}
	return &runner.PayloadError{Msg: "no error returned for invalid input"}
}
