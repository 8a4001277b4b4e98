package cmd

import (
	"fmt"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v2"

	"github.com/benchforge/bmdriver/internal/bm"
	"github.com/benchforge/bmdriver/internal/bm/configuration"
	"github.com/benchforge/bmdriver/internal/bm/domain"
	"github.com/benchforge/bmdriver/internal/bm/testrun"
	"github.com/benchforge/bmdriver/internal/common/bmerrors"
	"github.com/benchforge/bmdriver/internal/common/util"
)

func stateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "state",
		Short: "Inspect or change the state of the configured test run",
	}
	cmd.AddCommand(stateGetCmd(), stateSetCmd(), stateScheduleCmd())
	return cmd
}

type runStatus struct {
	Test      string `yaml:"test"`
	Run       string `yaml:"run"`
	State     string `yaml:"state"`
	Scheduled string `yaml:"scheduled,omitempty"`
}

func stateGetCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "get",
		Short: "Print the state of the test run",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			output, err := cmd.Flags().GetString("output")
			if err != nil {
				return fmt.Errorf("error reading output: %s", err)
			}
			return withStores(cmd, func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error {
				machine := testrun.NewStateMachine(stores.RunState, &util.DefaultClock{})
				state, err := machine.State()
				if err != nil {
					return err
				}
				status := runStatus{Test: cfg.Test, Run: cfg.Run, State: state.String()}
				if at, ok, err := machine.Scheduled(); err != nil {
					return err
				} else if ok {
					status.Scheduled = at.Format(time.RFC3339)
				}
				return printStatus(cmd, status, output)
			})
		},
	}
	cmd.Flags().StringP("output", "o", "text", "Output format, one of text or yaml")
	return cmd
}

func printStatus(cmd *cobra.Command, status runStatus, output string) error {
	switch output {
	case "yaml":
		out, err := yaml.Marshal(status)
		if err != nil {
			return errors.WithStack(err)
		}
		cmd.Print(string(out))
	case "text":
		cmd.Printf("%s.%s is %s\n", status.Test, status.Run, status.State)
		if status.Scheduled != "" {
			cmd.Printf("scheduled to start at %s\n", status.Scheduled)
		}
	default:
		return errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "output", Value: output, Message: "expected text or yaml"})
	}
	return nil
}

func stateSetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "set <state>",
		Short: "Move the test run to another state",
		Long: fmt.Sprintf(`Move the test run to another state, one of %v.

Only transitions allowed by the test run lifecycle are applied.`, domain.AllTestRunStates),
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			next, ok := domain.ParseTestRunState(args[0])
			if !ok {
				return errors.WithStack(&bmerrors.ErrInvalidArgument{Name: "state", Value: args[0], Message: fmt.Sprintf("expected one of %v", domain.AllTestRunStates)})
			}
			return withStores(cmd, func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error {
				previous, err := testrun.NewStateMachine(stores.RunState, &util.DefaultClock{}).Transition(next)
				if err != nil {
					return err
				}
				cmd.Printf("%s.%s moved from %s to %s\n", cfg.Test, cfg.Run, previous, next)
				return nil
			})
		},
	}
}

func stateScheduleCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedule",
		Short: "Schedule the test run to start after a delay",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			delay, err := cmd.Flags().GetDuration("delay")
			if err != nil {
				return fmt.Errorf("error reading delay: %s", err)
			}
			return withStores(cmd, func(cfg *configuration.BmDriverConfig, stores *bm.Stores) error {
				at := time.Now().Add(delay)
				if err := testrun.NewStateMachine(stores.RunState, &util.DefaultClock{}).Schedule(at); err != nil {
					return err
				}
				cmd.Printf("%s.%s scheduled to start at %s\n", cfg.Test, cfg.Run, at.Format(time.RFC3339))
				return nil
			})
		},
	}
	cmd.Flags().Duration("delay", 0, "Time to wait before starting the run")
	return cmd
}
