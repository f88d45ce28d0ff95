// Command fixtureadapter runs a single orchestrator session wired to the
// in-process scripted fixture adapter instead of a real VCS, issue tracker,
// or build runner. Commands are read as NDJSON from stdin; events are
// written as NDJSON to stdout, so it can be driven and inspected the same
// way a real adapter-backed session would be.
package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ndls21/orchcore/internal/adapters/fixture"
	"github.com/ndls21/orchcore/internal/claims"
	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/dispatch"
	"github.com/ndls21/orchcore/internal/ndjson"
	"github.com/ndls21/orchcore/internal/ratelimit"
	"github.com/ndls21/orchcore/internal/session"
	"github.com/ndls21/orchcore/internal/workspace"
)

func main() {
	scriptPath := flag.String("script", "", "path to a JSON-encoded fixture.Script (if omitted, no command kind is handled and every accepted command completes with a no-adapter failure)")
	workspaceRoot := flag.String("workspace-root", "", "root directory for session workspaces (defaults to the OS temp dir)")
	profile := flag.String("profile", "default", "policy profile name attached to the demo session")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelInfo}))

	script, err := loadScript(*scriptPath)
	if err != nil {
		logger.Error("fixtureadapter: failed to load script", "error", err)
		os.Exit(1)
	}

	root := *workspaceRoot
	if root == "" {
		root = os.TempDir()
	}

	mgr := session.NewManager(
		dispatch.NewDispatcher(fixture.New("fixture", script)),
		ratelimit.NewLimiter(contract.RateLimits{}),
		workspace.NewProvider(root),
		claims.NewManager(claims.DefaultConfig(), nil),
		logger,
		0,
		"",
		false,
	)

	sessionID, err := mgr.CreateSession(contract.SessionConfig{
		Policy: contract.PolicyProfile{Name: *profile},
		Repo:   contract.RepoRef{Name: "fixture-demo"},
	})
	if err != nil {
		logger.Error("fixtureadapter: failed to create session", "error", err)
		os.Exit(1)
	}
	logger.Info("fixtureadapter: session started", "session", sessionID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		logger.Info("fixtureadapter: received signal", "signal", sig)
		cancel()
	}()

	events, unsub, err := mgr.Subscribe(sessionID)
	if err != nil {
		logger.Error("fixtureadapter: failed to subscribe", "error", err)
		os.Exit(1)
	}
	defer unsub()

	enc := ndjson.NewEncoder(os.Stdout, logger)
	go streamEvents(ctx, events, enc, logger)

	if err := pumpCommands(ctx, os.Stdin, logger, mgr, sessionID); err != nil && err != io.EOF {
		logger.Error("fixtureadapter: command pump failed", "error", err)
	}

	if err := mgr.Complete(sessionID); err != nil {
		logger.Warn("fixtureadapter: complete session failed", "error", err)
	}
	// Give the event stream a moment to flush the final completion events.
	time.Sleep(50 * time.Millisecond)
}

func loadScript(path string) (fixture.Script, error) {
	if path == "" {
		return fixture.Script{Responses: map[contract.CommandKind]fixture.ResponseTemplate{}}, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fixture.Script{}, fmt.Errorf("read %s: %w", path, err)
	}
	var script fixture.Script
	if err := json.Unmarshal(data, &script); err != nil {
		return fixture.Script{}, fmt.Errorf("parse %s: %w", path, err)
	}
	return script, nil
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
				logger.Error("fixtureadapter: failed to encode event", "error", err)
			}
		}
	}
}

func pumpCommands(ctx context.Context, r io.Reader, logger *slog.Logger, mgr *session.Manager, sessionID contract.SessionID) error {
	dec := ndjson.NewDecoder(r, logger)
	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		msg, err := dec.DecodeEnvelope()
		if err == io.EOF {
			return io.EOF
		}
		if err != nil {
			logger.Error("fixtureadapter: failed to decode command", "error", err)
			continue
		}

		cmd, ok := msg.(*contract.Command)
		if !ok {
			logger.Warn("fixtureadapter: ignoring non-command message")
			continue
		}

		if cmd.ID == "" {
			cmd.ID = contract.NewCommandID()
		}
		cmd.Correlation.SessionID = sessionID
		cmd.Correlation.CommandID = cmd.ID

		if err := mgr.PublishCommand(*cmd); err != nil {
			logger.Error("fixtureadapter: failed to publish command", "error", err)
		}
	}
}
