package report

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"

	"boundq/internal/check"
	"boundq/internal/runner"
	"boundq/internal/stats"
	"boundq/internal/tui/styles"
)

const rule = "======================================================================"

// RunInfo describes how a batch was sent, for the header.
type RunInfo struct {
	Transport string
	Method    string
}

func Header(w io.Writer, cfg runner.Config, info RunInfo) {
	fmt.Fprintf(w, "\n%s\n", styles.Active.Render("🚀 STARTING BOUNDQ RUN"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Target      : %s\n", cfg.Target)
	fmt.Fprintf(w, "Transport   : %s %s\n", info.Transport, info.Method)
	fmt.Fprintf(w, "Attempts    : %d\n", cfg.Total)
	fmt.Fprintf(w, "Concurrency : %d\n", cfg.Concurrency)
	fmt.Fprintf(w, "Timeout     : %s\n", cfg.Timeout)
	fmt.Fprintf(w, "%s\n\n", rule)
}

// ProgressLine renders one carriage-return line for a headless monitor.
func ProgressLine(p runner.Progress) string {
	pct := 1.0
	if p.Total > 0 {
		pct = float64(p.Completed) / float64(p.Total)
	}
	rps := 0.0
	if p.Elapsed > 0 {
		rps = float64(p.Completed) / p.Elapsed.Seconds()
	}
	return fmt.Sprintf("\r%s %3.0f%% | %d/%d | %s | Inf: %3d | RPS: %.1f | OK: %d | Err: %d",
		ProgressBar(pct, 20), pct*100,
		p.Completed, p.Total,
		p.Elapsed.Round(100*time.Millisecond),
		p.Inflight,
		rps,
		p.Succeeded,
		p.Failed,
	)
}

func ProgressBar(pct float64, width int) string {
	filled := int(pct * float64(width))
	if filled > width {
		filled = width
	}
	if filled < 0 {
		filled = 0
	}
	return "[" + strings.Repeat("█", filled) + strings.Repeat("-", width-filled) + "]"
}

func Summary(w io.Writer, s runner.Summary) {
	fmt.Fprintf(w, "\n\n%s\n", styles.Active.Render("📊 RUN RESULTS"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Total Duration : %s\n", s.Duration.Round(time.Millisecond))
	fmt.Fprintf(w, "Attempts       : %d\n", s.Total)
	fmt.Fprintf(w, "Success        : %s\n", styles.Success.Render(fmt.Sprint(s.Succeeded)))
	fmt.Fprintf(w, "Failures       : %s\n", failStyle(s.Failed).Render(fmt.Sprint(s.Failed)))
	fmt.Fprintf(w, "Success Rate   : %s\n", RateStyle(s.SuccessRate()).Render(fmt.Sprintf("%.1f%%", s.SuccessRate())))
	fmt.Fprintf(w, "Throughput     : %.2f req/s\n", s.Throughput)
	fmt.Fprintf(w, "Peak In-Flight : %d\n", s.PeakInflight)

	if s.Latency.Count > 0 {
		fmt.Fprintf(w, "\n⏱️  RESPONSE TIMES (ms) [Success Only]\n")
		fmt.Fprintf(w, "   Min : %.2f\n", stats.Ms(s.Latency.Min))
		fmt.Fprintf(w, "   Mean: %.2f\n", stats.Ms(s.Latency.Mean))
		fmt.Fprintf(w, "   P50 : %.2f\n", stats.Ms(s.Latency.P50))
		fmt.Fprintf(w, "   P90 : %.2f\n", stats.Ms(s.Latency.P90))
		fmt.Fprintf(w, "   P95 : %.2f\n", stats.Ms(s.Latency.P95))
		fmt.Fprintf(w, "   P99 : %.2f\n", stats.Ms(s.Latency.P99))
		fmt.Fprintf(w, "   Max : %.2f\n", stats.Ms(s.Latency.Max))
	}

	if s.Failed > 0 {
		fmt.Fprintf(w, "\n❌ FAILURE SUMMARY\n")
		for _, r := range runner.Reasons {
			if n := s.Reasons[r]; n > 0 {
				fmt.Fprintf(w, "   %d x %s\n", n, r)
			}
		}
	}

	if len(s.StatusCodes) > 0 {
		fmt.Fprintf(w, "\n📬 STATUS CODES\n")
		codes := make([]int, 0, len(s.StatusCodes))
		for c := range s.StatusCodes {
			codes = append(codes, c)
		}
		sort.Ints(codes)
		for _, c := range codes {
			fmt.Fprintf(w, "   %d : %d\n", c, s.StatusCodes[c])
		}
	}
	fmt.Fprintln(w, rule)
}

func Checks(w io.Writer, res *check.SuiteResult) {
	fmt.Fprintf(w, "\n%s\n", styles.Active.Render("🔌 CONNECTIVITY CHECKS"))
	fmt.Fprintln(w, rule)
	fmt.Fprintf(w, "Base URL : %s\n\n", res.BaseURL)

	for _, r := range res.Results {
		mark := styles.Success.Render("✓ PASS")
		if !r.Passed {
			mark = styles.Error.Render("✗ FAIL")
		}
		line := fmt.Sprintf("%s %s (%.0fms)", mark, r.Name, stats.Ms(r.Latency))
		if r.StatusCode != 0 {
			line += fmt.Sprintf(" [%d]", r.StatusCode)
		}
		fmt.Fprintln(w, line)
		if r.Detail != "" {
			fmt.Fprintf(w, "     %s\n", styles.Subtle.Render(r.Detail))
		}
		if r.Error != "" {
			fmt.Fprintf(w, "     %s\n", styles.Error.Render(r.Error))
		}
	}

	rate := res.SuccessRate()
	fmt.Fprintf(w, "\nTotal Checks : %d\n", len(res.Results))
	fmt.Fprintf(w, "Passed       : %s\n", styles.Success.Render(fmt.Sprint(res.Passed)))
	fmt.Fprintf(w, "Failed       : %s\n", failStyle(res.Failed).Render(fmt.Sprint(res.Failed)))
	fmt.Fprintf(w, "Success Rate : %s\n", RateStyle(rate).Render(fmt.Sprintf("%.1f%%", rate)))
	fmt.Fprintf(w, "Duration     : %s\n", res.Duration.Round(time.Millisecond))
	fmt.Fprintln(w, rule)
}

// RateStyle colours a success rate: green from 80, yellow from 60, red below.
func RateStyle(rate float64) lipgloss.Style {
	switch {
	case rate >= 80:
		return styles.Success
	case rate >= 60:
		return styles.Warn
	default:
		return styles.Error
	}
}

func failStyle(n int) lipgloss.Style {
	if n > 0 {
		return styles.Error
	}
	return styles.Text
}
