package cmd

import (
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"boundq/internal/cli"
	"boundq/internal/config"
	"boundq/internal/logger"
	"boundq/internal/metrics"
	"boundq/internal/report"
	"boundq/internal/runner"
	"boundq/internal/storage"
	"boundq/internal/transport"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run one bounded batch against a target",
	Example: `  boundq run -u http://localhost:8080/fast -n 1000 -c 50
  boundq run -u ws://localhost:8080/ws --transport ws -n 200 -c 20
  boundq run -u https://test.deribit.com/api/v2/public/test --require-field result.version`,
	RunE: func(cmd *cobra.Command, args []string) error {
		return runBatch(cmd)
	},
}

func init() {
	addRunFlags(runCmd.Flags())
}

func addRunFlags(fs *pflag.FlagSet) {
	fs.StringP("url", "u", "", "Target URL (http(s):// or ws(s)://)")
	fs.IntP("total", "n", 100, "Number of attempts")
	fs.IntP("concurrency", "c", 10, "Maximum attempts in flight")
	fs.Duration("timeout", 0, "Per-attempt timeout (default 30s)")
	fs.String("transport", config.TransportHTTP, "Transport: http or ws")
	fs.StringP("method", "X", "GET", "HTTP method")
	fs.StringP("body", "b", "", "Request body or WebSocket message template")
	fs.StringSliceP("header", "H", nil, "Header (e.g. \"Key: Value\")")
	fs.StringSlice("expect-status", nil, "Accepted status codes (default any 2xx, 101 for ws)")
	fs.String("require-field", "", "Dotted JSON field the body must contain (e.g. result.version)")
	fs.Bool("insecure", false, "Skip TLS verification")
	fs.Bool("live", false, "Show the full-screen live view")
	fs.StringP("out", "o", "", "Output filename prefix for reports")
	fs.Bool("history", true, "Record the run in the history database")
	fs.String("history-path", "", "History database path")
	fs.String("metrics-addr", "", "Serve Prometheus metrics on this address (e.g. :9090)")
}

func runBatch(cmd *cobra.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	sender, err := newSender(cfg)
	if err != nil {
		return err
	}
	if c, ok := sender.(interface{ Close() }); ok {
		defer c.Close()
	}

	opts := []runner.Option{runner.WithValidator(cfg.Validator())}

	ctx, stop := signalContext(cmd)
	defer stop()

	if cfg.Metrics.Addr != "" {
		collector := metrics.NewCollector()
		opts = append(opts, runner.WithObserver(collector))
		go func() {
			if err := collector.Serve(ctx, cfg.Metrics.Addr); err != nil {
				logger.Error("metrics server failed", err, "addr", cfg.Metrics.Addr)
			}
		}()
	}

	r, err := runner.New(cfg.RunConfig(cfg.URL), sender, opts...)
	if err != nil {
		return err
	}

	var store *storage.Store
	if cfg.History.Enabled {
		store, err = storage.Open(cfg.History.Path)
		if err != nil {
			// history is best effort
			logger.Warn("run history disabled", "error", err.Error())
		} else {
			defer store.Close()
		}
	}

	_, err = cli.Start(ctx, r, cli.Options{
		Info:      report.RunInfo{Transport: cfg.Transport, Method: methodLabel(cfg)},
		Progress:  cli.StdoutIsTTY(),
		Live:      cfg.Live,
		OutPrefix: cfg.Output.Prefix,
		Store:     store,
	})
	return err
}

func newSender(cfg *config.Config) (runner.Sender, error) {
	switch cfg.Transport {
	case config.TransportWS:
		return transport.NewWSSender(transport.WSOptions{
			Message:  cfg.Body,
			Headers:  cfg.HeaderMap(),
			Insecure: cfg.Insecure,
		})
	default:
		return transport.NewHTTPSender(transport.HTTPOptions{
			Method:   cfg.Method,
			Headers:  cfg.HeaderMap(),
			Body:     cfg.Body,
			Insecure: cfg.Insecure,
			MaxConns: cfg.Concurrency,
		})
	}
}

func methodLabel(cfg *config.Config) string {
	if cfg.Transport == config.TransportWS {
		return "message"
	}
	return cfg.Method
}
