package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/turnguard/turnguard/internal/audit"
	"github.com/turnguard/turnguard/internal/classifier"
	guardmcp "github.com/turnguard/turnguard/internal/mcp"
	"github.com/turnguard/turnguard/internal/pipeline"
	"github.com/turnguard/turnguard/internal/policy"
)

var (
	mcpPolicy   string
	mcpDB       string
	mcpAuditLog string
)

func init() {
	rootCmd.AddCommand(mcpCmd)
	mcpCmd.Flags().StringVar(&mcpPolicy, "policy", "", "Path to policy YAML")
	mcpCmd.Flags().StringVar(&mcpDB, "db", "", "Path to SQLite session store (default ~/.turnguard/turnguard.db, \"memory\" for in-memory)")
	mcpCmd.Flags().StringVar(&mcpAuditLog, "audit-log", "", "Path to decision log JSONL file")
}

var mcpCmd = &cobra.Command{
	Use:   "mcp",
	Short: "Start MCP tool server for agent integration",
	Long:  "Runs turnguard as an MCP (Model Context Protocol) server over stdio.\nExposes moderation tools: submit_turn, check, get_session.",
	RunE:  runMCP,
}

func runMCP(cmd *cobra.Command, args []string) error {
	cfg, hash, err := policy.LoadConfigWithHash(mcpPolicy)
	if err != nil {
		return fmt.Errorf("failed to load policy config: %w", err)
	}

	st, err := openStore(mcpDB)
	if err != nil {
		return err
	}
	defer st.Close()

	p := pipeline.New(cfg, hash, st)

	if mcpAuditLog != "" {
		log, err := audit.Open(mcpAuditLog)
		if err != nil {
			return fmt.Errorf("failed to open decision log: %w", err)
		}
		defer log.Close()
		p.WithAuditLog(log)
	}

	if cfg.Classifier.Enabled {
		cl, err := classifier.New(cmd.Context(), cfg.Classifier.ModelID, cfg.Classifier.Region)
		if err != nil {
			return fmt.Errorf("failed to init classifier: %w", err)
		}
		p.WithClassifier(cl)
	}

	srv := guardmcp.New(p)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down MCP server...")
		cancel()
	}()

	fmt.Fprintln(os.Stderr, "turnguard MCP server running on stdio")
	fmt.Fprintf(os.Stderr, "Policy: %s\n", hash)
	fmt.Fprintln(os.Stderr)

	return srv.Run(ctx)
}
