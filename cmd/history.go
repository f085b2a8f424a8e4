package cmd

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/spf13/cobra"

	"boundq/internal/report"
	"boundq/internal/stats"
	"boundq/internal/storage"
	"boundq/internal/tui/styles"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Inspect recorded runs",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent runs, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		return withStore(cmd, func(s *storage.Store) error {
			recs, err := s.List(limit)
			if err != nil {
				return err
			}
			if len(recs) == 0 {
				fmt.Println(styles.Subtle.Render("No runs recorded yet."))
				return nil
			}
			fmt.Println(historyTable(recs))
			return nil
		})
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Print the summary of one run",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd, func(s *storage.Store) error {
			rec, err := s.Get(args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Run %s at %s\n", rec.ID, rec.Timestamp.Format(time.RFC3339))
			report.Header(os.Stdout, rec.Config, report.RunInfo{Transport: rec.Transport, Method: rec.Method})
			report.Summary(os.Stdout, rec.Summary)
			return nil
		})
	},
}

var historyPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete runs older than --older-than",
	RunE: func(cmd *cobra.Command, args []string) error {
		age, _ := cmd.Flags().GetDuration("older-than")
		return withStore(cmd, func(s *storage.Store) error {
			n, err := s.Prune(time.Now().Add(-age))
			if err != nil {
				return err
			}
			fmt.Printf("Removed %d runs older than %s\n", n, age)
			return nil
		})
	},
}

func init() {
	historyCmd.PersistentFlags().String("history-path", "", "History database path")
	historyListCmd.Flags().Int("limit", 20, "Maximum runs to show, 0 for all")
	historyPruneCmd.Flags().Duration("older-than", 30*24*time.Hour, "Age cutoff")

	historyCmd.AddCommand(historyListCmd, historyShowCmd, historyPruneCmd)
}

func withStore(cmd *cobra.Command, fn func(*storage.Store) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	s, err := storage.Open(cfg.History.Path)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(s)
}

func historyTable(recs []storage.Record) string {
	rows := make([][]string, 0, len(recs))
	for _, r := range recs {
		s := r.Summary
		rows = append(rows, []string{
			shortID(r.ID),
			r.Timestamp.Local().Format("2006-01-02 15:04:05"),
			r.Config.Target,
			strconv.Itoa(s.Total),
			strconv.Itoa(r.Config.Concurrency),
			fmt.Sprintf("%.1f%%", s.SuccessRate()),
			fmt.Sprintf("%.1f", s.Throughput),
			fmt.Sprintf("%.1f", stats.Ms(s.Latency.P99)),
		})
	}

	return table.New().
		Border(lipgloss.RoundedBorder()).
		BorderStyle(lipgloss.NewStyle().Foreground(styles.ColorBorder)).
		Headers("ID", "WHEN", "TARGET", "N", "C", "OK", "REQ/S", "P99 MS").
		Rows(rows...).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return styles.TableHeader
			}
			if col == 5 && row < len(recs) {
				rate := recs[row].Summary.SuccessRate()
				return report.RateStyle(rate).Padding(0, 1)
			}
			return styles.TableCell
		}).
		Render()
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
