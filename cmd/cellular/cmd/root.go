package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

// NewRootCommand creates the root command for the cellular CLI.
func NewRootCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cellular",
		Short: "Cellular - hierarchical state and self-monitoring runtime",
		Long: `Cellular hosts a hierarchy of self-monitoring units: each unit owns a
lifecycle state machine and a property store, parents derive their state from
their children, and a health monitor drives recovery when metrics degrade.`,
		Run: func(cmd *cobra.Command, args []string) {
			_ = cmd.Help()
		},
	}

	cmd.AddCommand(NewRunCommand())
	cmd.AddCommand(NewValidateCommand())

	return cmd
}

// Version information
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// PrintVersion prints version information
func PrintVersion() string {
	return fmt.Sprintf("cellular v%s (commit: %s, built on: %s)", Version, Commit, Date)
}
