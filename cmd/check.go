package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"boundq/internal/check"
	"boundq/internal/report"
)

var checkCmd = &cobra.Command{
	Use:   "check",
	Short: "Run the exchange connectivity suite",
	Long: `Probes the public endpoints of a Deribit-compatible API one by one, then fires a
burst of concurrent requests. Exits non-zero when the pass rate is below --threshold.`,
	RunE: runChecks,
}

func init() {
	f := checkCmd.Flags()
	f.String("base-url", "", "API base URL (default https://test.deribit.com, env DERIBIT_BASE_URL)")
	f.String("server-url", "", "Also probe <server-url>/health")
	f.IntP("concurrency", "c", 10, "Requests in the concurrency probe, 0 to skip (env MAX_CONCURRENT_REQUESTS)")
	f.Duration("timeout", 0, "Per-request timeout (default 30s, env TEST_TIMEOUT)")
	f.Float64("threshold", 80, "Minimum pass rate in percent")
	f.String("report", "", "Write results as JSON to this file")
	f.Bool("insecure", false, "Skip TLS verification")
}

func runChecks(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	// the concurrency flag on this command sizes the burst
	concurrency := cfg.Check.Concurrency
	if cmd.Flags().Changed("concurrency") {
		concurrency = cfg.Concurrency
	}

	ctx, stop := signalContext(cmd)
	defer stop()

	suite := &check.Suite{
		BaseURL:     cfg.Check.BaseURL,
		ServerURL:   cfg.Check.ServerURL,
		Timeout:     cfg.Timeout,
		Concurrency: concurrency,
		Threshold:   cfg.Check.Threshold,
		Insecure:    cfg.Insecure,
	}
	res, err := suite.Run(ctx)
	if err != nil {
		return err
	}

	report.Checks(os.Stdout, res)

	if cfg.Check.Out != "" {
		if err := report.ExportChecks(res, cfg.Check.Out); err != nil {
			return fmt.Errorf("write report: %w", err)
		}
		fmt.Printf("💾 Results saved to %s\n", cfg.Check.Out)
	}

	if rate := res.SuccessRate(); rate < cfg.Check.Threshold {
		return fmt.Errorf("pass rate %.1f%% is below %.0f%%", rate, cfg.Check.Threshold)
	}
	return nil
}
