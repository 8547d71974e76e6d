package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/cellular-dev/cellular"
)

// NewValidateCommand creates the validate command, which parses and validates
// a configuration file without starting a runtime.
func NewValidateCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "validate <config-file>",
		Short: "Validate a configuration file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := cellular.LoadConfig(args[0])
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "%s is valid\n", args[0])
			fmt.Fprintf(cmd.OutOrStdout(), "  criticalDegradedThreshold: %d\n", cfg.Aggregator.CriticalDegradedThreshold)
			fmt.Fprintf(cmd.OutOrStdout(), "  monitor thresholds:        %d\n", len(cfg.Monitor.Thresholds))
			fmt.Fprintf(cmd.OutOrStdout(), "  strategy timeout:          %s\n", cfg.Monitor.StrategyTimeout)
			fmt.Fprintf(cmd.OutOrStdout(), "  reconcile every:           %s\n", cfg.Distributor.ReconcileEvery)
			fmt.Fprintf(cmd.OutOrStdout(), "  snapshot throttle:         %s\n", cfg.Persistence.Throttle)
			if cfg.Sweep.Schedule != "" {
				fmt.Fprintf(cmd.OutOrStdout(), "  sweep schedule:            %s\n", cfg.Sweep.Schedule)
			}
			return nil
		},
	}
}
