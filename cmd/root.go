package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"boundq/internal/banner"
	"boundq/internal/config"
	"boundq/internal/logger"
)

const version = "0.3.0"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "boundq",
	Short: "boundq - bounded-concurrency request runner",
	Long: `
boundq fires a fixed number of requests at a target with a hard cap on how many
are in flight, then reports success counts, failure reasons, latency percentiles
and throughput.

Run "boundq --url <target>" or "boundq run" for a batch, "boundq check" for the
exchange connectivity suite.`,
	Version:       version,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		// a target on the root command is shorthand for "run"
		if cmd.Flags().Changed("url") {
			return runBatch(cmd)
		}
		return cmd.Help()
	},
}

func Execute() {
	rootCmd.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		fmt.Println(banner.GetString())
		cmd.Usage()
	})

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default ./boundq.yaml or $HOME/.boundq.yaml)")
	rootCmd.PersistentFlags().Bool("debug", false, "Enable debug logging")

	addRunFlags(rootCmd.Flags())

	rootCmd.AddCommand(runCmd, checkCmd, historyCmd, dummyCmd)
}

// loadConfig binds the command's flags, loads configuration and initialises logging.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	loader := config.NewLoader()
	for _, fs := range []*pflag.FlagSet{cmd.Flags(), cmd.InheritedFlags()} {
		if err := loader.BindFlags(fs); err != nil {
			return nil, err
		}
	}
	cfg, err := loader.Load(cfgFile)
	if err != nil {
		return nil, err
	}
	logger.Init(cfg.Environment, cfg.Debug)
	return cfg, nil
}

// signalContext is cancelled on SIGINT or SIGTERM.
func signalContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	parent := cmd.Context()
	if parent == nil {
		parent = context.Background()
	}
	return signal.NotifyContext(parent, os.Interrupt, syscall.SIGTERM)
}
