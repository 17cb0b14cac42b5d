package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/turnguard/turnguard/internal/identity"
	"github.com/turnguard/turnguard/internal/model"
	"github.com/turnguard/turnguard/internal/pipeline"
	"github.com/turnguard/turnguard/internal/policy"
)

var (
	checkPolicy  string
	checkDB      string
	checkSession string
	checkTurnID  int64
	checkRole    string
)

func init() {
	rootCmd.AddCommand(checkCmd)
	checkCmd.Flags().StringVar(&checkPolicy, "policy", "", "Path to policy YAML")
	checkCmd.Flags().StringVar(&checkDB, "db", "", "Path to SQLite session store (default ~/.turnguard/turnguard.db, \"memory\" for in-memory)")
	checkCmd.Flags().StringVarP(&checkSession, "session", "s", "default", "Session to check the turn against")
	checkCmd.Flags().Int64Var(&checkTurnID, "turn-id", 0, "Turn ID (default last turn + 1)")
	checkCmd.Flags().StringVar(&checkRole, "role", "user", "Turn role (user|assistant|system)")
}

var checkCmd = &cobra.Command{
	Use:   "check <content>",
	Short: "Dry-run one turn against the policy",
	Long:  "Evaluates a single turn against the current session state without\nrecording anything. Prints the verdict, reason code, and signals.",
	Args:  cobra.ExactArgs(1),
	RunE:  runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	cfg, hash, err := policy.LoadConfigWithHash(checkPolicy)
	if err != nil {
		return fmt.Errorf("failed to load policy config: %w", err)
	}

	st, err := openStore(checkDB)
	if err != nil {
		return err
	}
	defer st.Close()

	p := pipeline.New(cfg, hash, st)

	sessionID := identity.NormalizeSessionID(checkSession)
	turnID := checkTurnID
	if turnID == 0 {
		state, err := p.Session(sessionID)
		if err != nil {
			return err
		}
		turnID = state.LastTurnID + 1
	}

	dec, err := p.Check(cmd.Context(), model.Turn{
		SessionID: sessionID,
		TurnID:    turnID,
		Role:      model.Role(checkRole),
		Content:   args[0],
	})
	if err != nil {
		return err
	}

	out, _ := json.MarshalIndent(dec, "", "  ")
	fmt.Println(string(out))
	return nil
}
