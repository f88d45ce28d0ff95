package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/ndls21/orchcore/internal/config"
	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/ledger"
	"github.com/ndls21/orchcore/internal/ndjson"
	"github.com/spf13/cobra"
)

var resumeCmd = &cobra.Command{
	Use:   "resume",
	Short: "Resume a session from its persisted NDJSON ledger",
	Long: `Resume re-creates a session under its original id from the ledger
file config.persist_dir/<session>.ndjson, republishes every command that
ledger shows no terminal event for, then pumps stdin/stdout exactly like
'run' for whatever remains of the session's life.`,
	RunE: runResume,
}

func init() {
	resumeCmd.Flags().StringP("session", "s", "", "session id to resume (required)")
	resumeCmd.MarkFlagRequired("session")
	resumeCmd.Flags().String("policy-profile", "default", "policy profile name to attach to the resumed session")
	rootCmd.AddCommand(resumeCmd)
}

func runResume(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.PersistDir == "" {
		return fmt.Errorf("resume: config.persist_dir must be set to locate the ledger")
	}

	sessionIDFlag, err := cmd.Flags().GetString("session")
	if err != nil {
		return err
	}
	sessionID := contract.SessionID(sessionIDFlag)

	ledgerPath := filepath.Join(cfg.PersistDir, sessionIDFlag+".ndjson")
	lg, err := ledger.ReadLedger(ledgerPath)
	if err != nil {
		return fmt.Errorf("read ledger: %w", err)
	}
	pending := lg.GetPendingCommands()
	logger.Info("orchestrator: ledger loaded", "session", sessionID, "commands", len(lg.Commands), "events", len(lg.Events), "pending", len(pending))

	mgr, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}

	profileName, _ := cmd.Flags().GetString("policy-profile")
	profile := cfg.Policy.Profiles[profileName]
	if profile.Name == "" {
		profile.Name = profileName
	}

	if _, err := mgr.CreateSession(contract.SessionConfig{
		SessionID: sessionID,
		Policy:    profile,
	}); err != nil {
		return fmt.Errorf("recreate session: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("orchestrator: received signal", "signal", sig)
		cancel()
	}()

	events, unsub, err := mgr.Subscribe(sessionID)
	if err != nil {
		return fmt.Errorf("subscribe: %w", err)
	}
	defer unsub()

	enc := ndjson.NewEncoder(cmd.OutOrStdout(), logger)
	go streamEvents(ctx, events, enc, logger)

	for _, pendingCmd := range pending {
		pendingCmd.Correlation.SessionID = sessionID
		if err := mgr.PublishCommand(*pendingCmd); err != nil {
			logger.Error("orchestrator: failed to republish pending command", "command", pendingCmd.ID, "error", err)
		}
	}

	if err := pumpInput(ctx, cmd.InOrStdin(), logger, mgr, sessionID); err != nil && err != io.EOF {
		logger.Error("orchestrator: input pump failed", "error", err)
	}

	if err := mgr.Complete(sessionID); err != nil {
		logger.Warn("orchestrator: complete session failed", "error", err)
	}
	time.Sleep(50 * time.Millisecond)
	return nil
}
