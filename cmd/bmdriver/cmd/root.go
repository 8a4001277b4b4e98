package cmd

import (
	"context"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/benchforge/bmdriver/internal/bm"
	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/common"
	"github.com/benchforge/bmdriver/internal/common/config"
	"github.com/benchforge/bmdriver/internal/common/logging"
	"github.com/benchforge/bmdriver/internal/common/util"
)

const (
	defaultConfigPath = "./config/bmdriver"
	envPrefix         = "BM"
	configFlag        = "config"
)

// RootCmd is the root Cobra command that gets called from the main func.
// All other sub-commands should be registered here.
func RootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:           "bmdriver",
		Short:         "bmdriver runs and controls benchmark test runs.",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	cmd.PersistentFlags().StringSlice(configFlag, nil, "Fully qualified path to application configuration file (may be given several times)")

	cmd.AddCommand(
		runCmd(),
		stateCmd(),
		eventsCmd(),
		logsCmd(),
	)
	return cmd
}

func loadConfig(cmd *cobra.Command) (*configuration.BmDriverConfig, error) {
	files, err := configFiles(cmd.Flags())
	if err != nil {
		return nil, err
	}
	var cfg configuration.BmDriverConfig
	if _, err := common.LoadConfig(&cfg, defaultConfigPath, files, envPrefix, configuration.DecodeOptions()...); err != nil {
		return nil, err
	}
	if err := config.Validate(cfg); err != nil {
		return nil, err
	}
	if err := logging.ConfigureLogging(cfg.Logging); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func configFiles(flags *pflag.FlagSet) ([]string, error) {
	files, err := flags.GetStringSlice(configFlag)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return files, nil
}

// withStores opens the stores of the configured run for the duration of action.
func withStores(cmd *cobra.Command, action func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	ctx := cmd.Context()
	if ctx == nil {
		ctx = context.Background()
	}
	stores, err := bm.OpenStores(ctx, cfg, util.NewDriverId(), &util.DefaultClock{})
	if err != nil {
		return err
	}
	defer stores.Close()
	return action(cfg, stores)
}
