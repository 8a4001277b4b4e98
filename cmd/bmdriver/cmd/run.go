package cmd

import (
	"github.com/spf13/cobra"

	"github.com/benchforge/bmdriver/internal/bm"
	"github.com/benchforge/bmdriver/internal/common"
	"github.com/benchforge/bmdriver/internal/common/app"
	"github.com/benchforge/bmdriver/internal/common/health"
)

func runCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Run a driver for the configured test run",
		Long: `Run a driver that processes events of the configured test run until the run completes or is stopped.

Several drivers may work on the same run; they share its events through the configured store.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := app.CreateContextWithShutdown()
			defer cancel()

			healthChecks := health.NewMultiChecker()
			shutdownMetricServer := common.ServeMetrics(cfg.MetricsPort, healthChecks)
			defer shutdownMetricServer()

			return bm.Serve(ctx, cfg, healthChecks)
		},
	}
}
