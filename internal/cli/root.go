package cli

import (
	"os"

	"github.com/spf13/cobra"
)

var rootCmd = &cobra.Command{
	Use:   "turnguard",
	Short: "Conversational safety policy engine",
	Long:  "Moderates multi-turn conversations one turn at a time. Each turn gets a\nverdict — allow, review, or block — from deterministic signal extractors and\na fixed-precedence decision policy over per-session accumulated risk.",
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
