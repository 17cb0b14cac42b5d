package cli

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/turnguard/turnguard/internal/audit"
	"github.com/turnguard/turnguard/internal/identity"
)

var (
	historyLog    string
	historyFrom   string
	historyTo     string
	historyFormat string
)

func init() {
	rootCmd.AddCommand(historyCmd)
	historyCmd.Flags().StringVarP(&historyLog, "log", "l", "", "Path to decision log (required)")
	historyCmd.Flags().StringVar(&historyFrom, "from", "", "Start time filter (RFC3339)")
	historyCmd.Flags().StringVar(&historyTo, "to", "", "End time filter (RFC3339)")
	historyCmd.Flags().StringVarP(&historyFormat, "format", "f", "text", "Output format (text|json)")
	historyCmd.MarkFlagRequired("log")
}

var historyCmd = &cobra.Command{
	Use:   "history <session-id>",
	Short: "Show a session's decision timeline from the log",
	Long:  "Reads the decision log, filters by session ID and optional time range,\nand renders the verdict timeline with summary counts.",
	Args:  cobra.ExactArgs(1),
	RunE:  runHistory,
}

func runHistory(cmd *cobra.Command, args []string) error {
	filter := audit.HistoryFilter{SessionID: identity.NormalizeSessionID(args[0])}

	if historyFrom != "" {
		from, err := time.Parse(time.RFC3339, historyFrom)
		if err != nil {
			return fmt.Errorf("invalid --from time %q: %w", historyFrom, err)
		}
		filter.From = from
	}

	if historyTo != "" {
		to, err := time.Parse(time.RFC3339, historyTo)
		if err != nil {
			return fmt.Errorf("invalid --to time %q: %w", historyTo, err)
		}
		filter.To = to
	}

	result, err := audit.History(historyLog, filter)
	if err != nil {
		return err
	}

	if historyFormat == "json" {
		out, err := json.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	if len(result.Entries) == 0 {
		fmt.Printf("No decisions logged for session %s\n", filter.SessionID)
		return nil
	}

	fmt.Printf("Session %s\n\n", filter.SessionID)
	for _, e := range result.Entries {
		fmt.Printf("  %s  turn %-4d %-7s %-22s risk=%.2f %s\n",
			e.Timestamp, e.TurnID, e.Verdict, e.ReasonCode, e.Risk, e.Status)
	}
	s := result.Summary
	fmt.Printf("\n%d decisions: %d allow, %d review, %d block (max risk %.2f)\n",
		s.Total, s.AllowCount, s.ReviewCount, s.BlockCount, s.MaxRisk)
	return nil
}
