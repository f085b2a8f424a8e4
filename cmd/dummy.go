package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"boundq/internal/dummy"
	"boundq/internal/logger"
)

var dummyCmd = &cobra.Command{
	Use:   "dummy",
	Short: "Run the local target server",
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := loadConfig(cmd); err != nil {
			return err
		}
		port, _ := cmd.Flags().GetInt("port")
		scale, _ := cmd.Flags().GetFloat64("delay-scale")

		ctx, stop := signalContext(cmd)
		defer stop()

		srv := dummy.Start(dummy.ServerConfig{Port: port, Scale: scale})
		<-ctx.Done()

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		logger.Info("dummy server stopping")
		return srv.Shutdown(shutdownCtx)
	},
}

func init() {
	dummyCmd.Flags().IntP("port", "p", 8080, "Port to run dummy server on")
	dummyCmd.Flags().Float64("delay-scale", 1, "Multiplier for artificial delays, 0 disables them")
}
