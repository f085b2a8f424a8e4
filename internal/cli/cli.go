package cli

import (
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"boundq/internal/logger"
	"boundq/internal/report"
	"boundq/internal/runner"
	"boundq/internal/storage"
	"boundq/internal/tui/live"
)

const tickInterval = 200 * time.Millisecond

type Options struct {
	Out  io.Writer
	Info report.RunInfo
	// Progress prints a carriage-return progress line while the batch runs.
	Progress bool
	// Live replaces the progress line with the full-screen view.
	Live      bool
	OutPrefix string
	Store     *storage.Store
}

// StdoutIsTTY reports whether progress output would reach a terminal.
func StdoutIsTTY() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

// Start runs one batch, reports it, exports it and records it in history.
func Start(ctx context.Context, r *runner.Runner, opts Options) (*runner.Result, error) {
	if opts.Out == nil {
		opts.Out = os.Stdout
	}

	var (
		res *runner.Result
		err error
	)
	if opts.Live {
		res, err = live.Run(ctx, r)
		if err != nil {
			return nil, err
		}
	} else {
		report.Header(opts.Out, r.Cfg, opts.Info)
		res = monitor(ctx, r, opts)
	}

	report.Summary(opts.Out, res.Summary)
	if ctx.Err() != nil {
		fmt.Fprintf(opts.Out, "\n⚠️  Run cancelled: %d attempts did not complete\n", res.Summary.Reasons[runner.ReasonCancelled])
	}

	handleAutoReport(opts, res)
	saveHistory(opts, res)
	return res, nil
}

// monitor runs the batch while polling progress on a ticker.
func monitor(ctx context.Context, r *runner.Runner, opts Options) *runner.Result {
	done := make(chan *runner.Result, 1)
	go func() { done <- r.Run(ctx) }()

	ticker := time.NewTicker(tickInterval)
	defer ticker.Stop()

	for {
		select {
		case res := <-done:
			if opts.Progress {
				fmt.Fprint(opts.Out, report.ProgressLine(r.Progress()))
			}
			return res
		case <-ticker.C:
			if opts.Progress {
				fmt.Fprint(opts.Out, report.ProgressLine(r.Progress()))
			}
		}
	}
}

func handleAutoReport(opts Options, res *runner.Result) {
	if opts.OutPrefix == "" {
		return
	}

	fmt.Fprintf(opts.Out, "\n💾 Generating reports with prefix: %s\n", opts.OutPrefix)
	if _, err := report.ExportAll(res, opts.OutPrefix); err != nil {
		logger.Error("export failed", err, "prefix", opts.OutPrefix)
		return
	}
	p := opts.OutPrefix
	fmt.Fprintf(opts.Out, "✅ Reports saved to %s.csv, %s.json, %s_summary.json\n", p, p, p)
}

func saveHistory(opts Options, res *runner.Result) {
	if opts.Store == nil {
		return
	}
	rec := storage.NewRecord(res, opts.Info.Transport, opts.Info.Method)
	if err := opts.Store.Save(rec); err != nil {
		logger.Warn("could not save run history", "error", err.Error(), "path", opts.Store.Path())
		return
	}
	logger.Debug("run saved", "id", rec.ID)
	fmt.Fprintf(opts.Out, "🗂  Saved as %s\n", rec.ID)
}
