package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/turnguard/turnguard/internal/policy"
	"github.com/turnguard/turnguard/internal/replay"
)

var (
	replayCases    string
	replayPolicy   string
	replayParallel bool
	replayFormat   string
)

func init() {
	rootCmd.AddCommand(replayCmd)
	replayCmd.Flags().StringVarP(&replayCases, "cases", "c", "", "Path to regression corpus JSON (required)")
	replayCmd.Flags().StringVar(&replayPolicy, "policy", "", "Path to policy YAML (default built-in policy)")
	replayCmd.Flags().BoolVar(&replayParallel, "parallel", false, "Replay independent cases concurrently")
	replayCmd.Flags().StringVarP(&replayFormat, "format", "f", "text", "Output format (text|json)")
	replayCmd.MarkFlagRequired("cases")
}

var replayCmd = &cobra.Command{
	Use:   "replay",
	Short: "Replay a regression corpus against the policy",
	Long:  "Loads recorded conversation cases with expected verdicts and replays each\none from a clean session. Any expected-vs-actual mismatch fails the run.\nExits 0 when every case passes, 1 otherwise.",
	RunE:  runReplay,
}

func runReplay(cmd *cobra.Command, args []string) error {
	cfg, err := policy.LoadConfig(replayPolicy)
	if err != nil {
		return fmt.Errorf("failed to load policy config: %w", err)
	}

	corpus, err := replay.LoadCorpus(replayCases)
	if err != nil {
		return fmt.Errorf("failed to load corpus: %w", err)
	}

	report := replay.NewRunner(cfg).Run(cmd.Context(), corpus, replayParallel)

	switch replayFormat {
	case "json":
		out, err := json.MarshalIndent(report, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
	default:
		fmt.Print(report.Format())
	}

	if !report.Passed() {
		os.Exit(1)
	}
	return nil
}
