package cmd

import (
	"github.com/spf13/cobra"

	"github.com/benchforge/bmdriver/internal/bm"
	"github.com/benchforge/bmdriver/internal/bm/configuration"
)

func eventsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "events",
		Short: "Inspect or clear the events and results of the configured test run",
	}
	cmd.AddCommand(eventsCountCmd(), eventsClearCmd())
	return cmd
}

func eventsCountCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "count",
		Short: "Print the number of queued events and recorded results",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error {
				queued, err := stores.Events.Count()
				if err != nil {
					return err
				}
				succeeded, err := stores.Results.CountResultsBySuccess()
				if err != nil {
					return err
				}
				failed, err := stores.Results.CountResultsByFailure()
				if err != nil {
					return err
				}
				sessions, err := stores.Sessions.ActiveSessionsCount()
				if err != nil {
					return err
				}
				cmd.Printf("queued events:   %d\n", queued)
				cmd.Printf("succeeded:       %d\n", succeeded)
				cmd.Printf("failed:          %d\n", failed)
				cmd.Printf("active sessions: %d\n", sessions)
				return nil
			})
		},
	}
}

func eventsClearCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "clear",
		Short: "Delete every event, result, session and run log line of the test run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withStores(cmd, func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error {
				if err := stores.Clear(); err != nil {
					return err
				}
				cmd.Printf("Cleared %s.%s\n", cfg.Test, cfg.Run)
				return nil
			})
		},
	}
}
