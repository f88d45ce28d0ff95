package cli

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ndls21/orchcore/internal/adapters/fixture"
	"github.com/ndls21/orchcore/internal/claims"
	"github.com/ndls21/orchcore/internal/config"
	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/dispatch"
	"github.com/ndls21/orchcore/internal/ndjson"
	"github.com/ndls21/orchcore/internal/ratelimit"
	"github.com/ndls21/orchcore/internal/session"
	"github.com/ndls21/orchcore/internal/workspace"
	"github.com/spf13/cobra"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Create a session and drive it from stdin for the life of the process",
	RunE:  runRun,
}

func init() {
	runCmd.Flags().String("policy-profile", "default", "policy profile name to attach to the session")
	runCmd.Flags().String("repo-name", "", "repository name attached to the session")
	runCmd.Flags().String("work-item-id", "", "work item id attached to the session, if any")
}

func runRun(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	configPath, err := cmd.Flags().GetString("config")
	if err != nil {
		return err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	mgr, err := buildManager(cfg, logger)
	if err != nil {
		return err
	}

	profileName, _ := cmd.Flags().GetString("policy-profile")
	profile := cfg.Policy.Profiles[profileName]
	if profile.Name == "" {
		profile.Name = profileName
	}

	repoName, _ := cmd.Flags().GetString("repo-name")
	workItemID, _ := cmd.Flags().GetString("work-item-id")
	sessionCfg := contract.SessionConfig{
		Policy: profile,
		Repo:   contract.RepoRef{Name: repoName},
	}
	if workItemID != "" {
		sessionCfg.WorkItem = &contract.WorkItemRef{ID: workItemID}
	}

	sessionID, err := mgr.CreateSession(sessionCfg)
	if err != nil {
		return fmt.Errorf("create session: %w", err)
	}
	logger.Info("orchestrator: session started", "session", sessionID)

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

	if err := pumpInput(ctx, cmd.InOrStdin(), logger, mgr, sessionID); err != nil && err != io.EOF {
		logger.Error("orchestrator: input pump failed", "error", err)
	}

	if err := mgr.Complete(sessionID); err != nil {
		logger.Warn("orchestrator: complete session failed", "error", err)
	}
	// Let the event stream drain the final completion events before exit.
	time.Sleep(50 * time.Millisecond)
	return nil
}

// buildManager assembles a session.Manager whose dispatcher is backed by the
// in-process fixture adapter, scripted per collaborator surface named in
// cfg.Adapters. This core's Non-goals exclude real adapter wire protocols
// (VCS/issue-tracker/build-tool authentication and transport); standing up a
// runnable CLI without those protocols means the fixture adapter is what
// actually answers each named role here.
func buildManager(cfg *config.Config, logger *slog.Logger) (*session.Manager, error) {
	var adapters []dispatch.Adapter
	if cfg.Adapters.VCSName != "" {
		adapters = append(adapters, fixture.New(cfg.Adapters.VCSName, fixture.Succeeds(
			contract.CommandCreateBranch, contract.CommandApplyPatch, contract.CommandCommit,
			contract.CommandPush, contract.CommandGetDiff,
		)))
	}
	if cfg.Adapters.WorkItemsName != "" {
		adapters = append(adapters, fixture.New(cfg.Adapters.WorkItemsName, fixture.Succeeds(
			contract.CommandTransitionTicket, contract.CommandComment, contract.CommandSetAssignee,
			contract.CommandQueryBacklog, contract.CommandQueryWorkItem, contract.CommandUploadArtifact,
		)))
	}
	if cfg.Adapters.TerminalName != "" {
		adapters = append(adapters, fixture.New(cfg.Adapters.TerminalName, fixture.Succeeds(
			contract.CommandRunTests, contract.CommandBuildProject,
		)))
	}
	if cfg.Adapters.BuildName != "" {
		adapters = append(adapters, fixture.New(cfg.Adapters.BuildName, fixture.Succeeds(contract.CommandBuildProject)))
	}

	claimsMgr := claims.NewManager(cfg.Claims.ToClaimsConfig(), nil)
	limiter := ratelimit.NewLimiter(cfg.Policy.GlobalLimits)
	ws := workspace.NewProvider(cfg.Workspace.Root)

	return session.NewManager(
		dispatch.NewDispatcher(adapters...),
		limiter,
		ws,
		claimsMgr,
		logger,
		cfg.CommandTimeout,
		cfg.PersistDir,
		cfg.ReceiptsEnabled,
	), nil
}

func streamEvents(ctx context.Context, events <-chan contract.Event, enc *ndjson.Encoder, logger *slog.Logger) {
	for {
		select {
		case <-ctx.Done():
			return
		case evt, ok := <-events:
			if !ok {
				return
			}
			if err := enc.EncodeEvent(evt); err != nil {
				logger.Error("orchestrator: failed to encode event", "error", err)
			}
		}
	}
}

// controlLine is the CLI's own line framing for session lifecycle controls,
// distinct from the command/event wire envelope the core persists: pause,
// resume, abort, and approve are session.Manager operations, not commands an
// adapter dispatches, so they don't fit the closed Command union.
type controlLine struct {
	Op string `json:"op"`
}

// pumpInput reads NDJSON lines from r. A line carrying a non-empty "op" is a
// lifecycle control; anything else is parsed as a bare contract.Command and
// published to the session.
func pumpInput(ctx context.Context, r io.Reader, logger *slog.Logger, mgr *session.Manager, sessionID contract.SessionID) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, ndjson.MaxMessageSize), ndjson.MaxMessageSize)

	for scanner.Scan() {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}

		var control controlLine
		if err := json.Unmarshal(line, &control); err != nil {
			logger.Error("orchestrator: failed to parse input line", "error", err)
			continue
		}
		if control.Op != "" {
			if err := applyControl(mgr, sessionID, control.Op); err != nil {
				logger.Error("orchestrator: control op failed", "op", control.Op, "error", err)
			}
			continue
		}

		var cmd contract.Command
		if err := json.Unmarshal(line, &cmd); err != nil {
			logger.Error("orchestrator: failed to parse command", "error", err)
			continue
		}
		if cmd.ID == "" {
			cmd.ID = contract.NewCommandID()
		}
		cmd.Correlation.SessionID = sessionID
		cmd.Correlation.CommandID = cmd.ID

		if err := mgr.PublishCommand(cmd); err != nil {
			logger.Error("orchestrator: failed to publish command", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		return err
	}
	return io.EOF
}

func applyControl(mgr *session.Manager, sessionID contract.SessionID, op string) error {
	switch op {
	case "pause":
		return mgr.Pause(sessionID)
	case "resume":
		return mgr.Resume(sessionID)
	case "abort":
		return mgr.Abort(sessionID)
	case "approve":
		return mgr.Approve(sessionID)
	default:
		return fmt.Errorf("unknown control op %q", op)
	}
}
