package cmd

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/benchforge/bmdriver/internal/bm"
	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/common/util"
)

func logsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "logs",
		Short: "Print the latest run log lines of the configured test run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			limit, err := cmd.Flags().GetInt64("limit")
			if err != nil {
				return fmt.Errorf("error reading limit: %s", err)
			}
			return withStores(cmd, func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error {
				entries, err := stores.Logs.GetLogs(limit)
				if err != nil {
					return err
				}
				for _, entry := range entries {
					cmd.Printf("%s %-5s [%s] %s\n", util.FromMillis(entry.Time).Format(time.RFC3339), entry.Level, entry.DriverId, entry.Message)
				}
				return nil
			})
		},
	}
	cmd.Flags().Int64("limit", 50, "Number of lines to print")
	return cmd
}
