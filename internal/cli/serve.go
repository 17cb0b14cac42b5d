package cli

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/turnguard/turnguard/internal/audit"
	"github.com/turnguard/turnguard/internal/classifier"
	"github.com/turnguard/turnguard/internal/pipeline"
	"github.com/turnguard/turnguard/internal/policy"
	"github.com/turnguard/turnguard/internal/server"
)

var (
	servePort     int
	servePolicy   string
	serveDB       string
	serveAuditLog string
)

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().IntVar(&servePort, "port", 8787, "HTTP listen port")
	serveCmd.Flags().StringVar(&servePolicy, "policy", "", "Path to policy YAML")
	serveCmd.Flags().StringVar(&serveDB, "db", "", "Path to SQLite session store (default ~/.turnguard/turnguard.db, \"memory\" for in-memory)")
	serveCmd.Flags().StringVar(&serveAuditLog, "audit-log", "", "Path to decision log JSONL file")
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP policy server",
	Long:  "Runs turnguard as an HTTP server. Clients submit conversation turns and\nreceive moderation verdicts. Supports hot-reload of the policy file.",
	RunE:  runServe,
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, hash, err := policy.LoadConfigWithHash(servePolicy)
	if err != nil {
		return fmt.Errorf("failed to load policy config: %w", err)
	}

	st, err := openStore(serveDB)
	if err != nil {
		return err
	}
	defer st.Close()

	p := pipeline.New(cfg, hash, st)

	if serveAuditLog != "" {
		log, err := audit.Open(serveAuditLog)
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

	srv := server.New(server.Config{Port: servePort, PolicyPath: servePolicy}, p)

	// Start hot-reload watcher for the policy file
	reloader, err := server.NewReloader(srv, servePolicy)
	if err != nil {
		fmt.Fprintf(os.Stderr, "warning: hot-reload disabled: %v\n", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if reloader != nil {
		go reloader.Run(ctx)
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nShutting down policy server...")
		cancel()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	fmt.Fprintf(os.Stderr, "turnguard policy server listening on :%d\n", servePort)
	fmt.Fprintf(os.Stderr, "Policy: %s\n", hash)
	if servePolicy != "" {
		fmt.Fprintf(os.Stderr, "Hot-reload: watching %s\n", servePolicy)
	}
	fmt.Fprintln(os.Stderr)

	return srv.Serve()
}
