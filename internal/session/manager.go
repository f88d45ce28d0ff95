package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ndls21/orchcore/internal/claims"
	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/dispatch"
	"github.com/ndls21/orchcore/internal/eventlog"
	"github.com/ndls21/orchcore/internal/ndjson"
	"github.com/ndls21/orchcore/internal/ratelimit"
	"github.com/ndls21/orchcore/internal/receipts"
	"github.com/ndls21/orchcore/internal/workspace"
)

// DefaultCommandTimeout is the wall-clock ceiling applied to an adapter call
// when the command itself doesn't specify a shorter one.
const DefaultCommandTimeout = 10 * time.Minute

// Manager owns the set of live sessions and the process-wide collaborators
// every session shares: the adapter dispatcher, the rate limiter, the
// workspace provider, and the work-item claim manager.
type Manager struct {
	mu       sync.RWMutex
	sessions map[contract.SessionID]*Session

	dispatcher     *dispatch.Dispatcher
	limiter        *ratelimit.Limiter
	workspaces     *workspace.Provider
	claims         *claims.Manager
	logger         *slog.Logger
	commandTimeout time.Duration

	// persistDir, when non-empty, causes each session's event log to be
	// mirrored to an NDJSON file under this directory, one per session.
	persistDir string

	// receipts, when non-nil, causes every terminal command-completed event
	// to also write a JSON receipt into the session's workspace and emit an
	// artifact-available event pointing at it.
	receipts *receipts.Writer
}

// NewManager constructs a Manager. commandTimeout <= 0 resolves to
// DefaultCommandTimeout. receiptsEnabled turns on the optional per-command
// receipt trail under each session's workspace.
func NewManager(dispatcher *dispatch.Dispatcher, limiter *ratelimit.Limiter, workspaces *workspace.Provider, claimsMgr *claims.Manager, logger *slog.Logger, commandTimeout time.Duration, persistDir string, receiptsEnabled bool) *Manager {
	if commandTimeout <= 0 {
		commandTimeout = DefaultCommandTimeout
	}
	return &Manager{
		sessions:       make(map[contract.SessionID]*Session),
		dispatcher:     dispatcher,
		limiter:        limiter,
		workspaces:     workspaces,
		claims:         claimsMgr,
		logger:         logger,
		commandTimeout: commandTimeout,
		persistDir:     persistDir,
		receipts:       receipts.NewWriter(receiptsEnabled),
	}
}

// Claims exposes the shared claim manager, a process-wide surface
// independent of any one session's command pipeline (spec.md §4.4).
func (m *Manager) Claims() *claims.Manager { return m.claims }

// CreateSession allocates a session's workspace, starts its worker
// goroutine, and returns its id. The session begins in status Running.
func (m *Manager) CreateSession(cfg contract.SessionConfig) (contract.SessionID, error) {
	if cfg.SessionID == "" {
		cfg.SessionID = contract.NewSessionID()
	}

	m.mu.Lock()
	if _, exists := m.sessions[cfg.SessionID]; exists {
		m.mu.Unlock()
		return "", fmt.Errorf("session: id %s already in use", cfg.SessionID)
	}
	m.mu.Unlock()

	path, owned, err := m.workspaces.Provide(cfg.SessionID, cfg.Workspace)
	if err != nil {
		return "", fmt.Errorf("session: provision workspace: %w", err)
	}

	var persist *ndjson.Encoder
	if m.persistDir != "" {
		persist, err = ndjson.OpenFileEncoder(m.persistDir, string(cfg.SessionID), m.logger)
		if err != nil {
			return "", fmt.Errorf("session: open persistence file: %w", err)
		}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		id:             cfg.SessionID,
		cfg:            cfg,
		logger:         m.logger.With("session", cfg.SessionID),
		status:         contract.SessionRunning,
		workspacePath:  path,
		workspaceOwned: owned,
		log:            eventlog.NewLog(m.logger, persist),
		commands:       make(chan contract.Command, commandQueueDepth),
		ctx:            ctx,
		cancel:         cancel,
		workerDone:     make(chan struct{}),
		dispatcher:     m.dispatcher,
		limiter:        m.limiter,
		commandTimeout: m.commandTimeout,
		workspaces:     m.workspaces,
		receipts:       m.receipts,
	}

	m.mu.Lock()
	m.sessions[s.id] = s
	m.mu.Unlock()

	go s.runWorker()
	s.appendEvent(contract.Event{Kind: contract.EventSessionStatusChanged, Status: contract.SessionRunning, StatusReason: "created"})

	return s.id, nil
}

func (m *Manager) get(sessionID contract.SessionID) (*Session, error) {
	m.mu.RLock()
	s, ok := m.sessions[sessionID]
	m.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("session: unknown session %s", sessionID)
	}
	return s, nil
}

// PublishCommand enqueues cmd for asynchronous processing by its session's
// worker. If the session is unknown, an error is returned and nothing is
// enqueued or logged — there is no session whose log could carry the event.
func (m *Manager) PublishCommand(cmd contract.Command) error {
	s, err := m.get(cmd.Correlation.SessionID)
	if err != nil {
		return err
	}

	select {
	case s.commands <- cmd:
		return nil
	case <-s.ctx.Done():
		return fmt.Errorf("session: %s is no longer accepting commands", s.id)
	}
}

// Subscribe returns a live event channel for sessionID plus an unsubscribe
// func, replaying every event appended so far.
func (m *Manager) Subscribe(sessionID contract.SessionID) (<-chan contract.Event, func(), error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, nil, err
	}
	ch, unsub := s.log.Subscribe()
	return ch, unsub, nil
}

// Snapshot returns every event appended to sessionID's log so far.
func (m *Manager) Snapshot(sessionID contract.SessionID) ([]contract.Event, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return nil, err
	}
	return s.log.Snapshot(), nil
}

// Pause transitions a Running session to Paused. No-op if already Paused.
func (m *Manager) Pause(sessionID contract.SessionID) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if status := s.currentStatus(); status != contract.SessionRunning && status != contract.SessionPaused {
		return fmt.Errorf("session: cannot pause from status %s", status)
	}
	s.setStatus(contract.SessionPaused, "paused")
	return nil
}

// Resume transitions a Paused or NeedsApproval session back to Running.
func (m *Manager) Resume(sessionID contract.SessionID) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	switch s.currentStatus() {
	case contract.SessionPaused, contract.SessionNeedsApproval, contract.SessionRunning:
		s.setStatus(contract.SessionRunning, "resumed")
		return nil
	default:
		return fmt.Errorf("session: cannot resume from status %s", s.currentStatus())
	}
}

// Approve sets the session's pending-approval gate and, if the session is
// currently NeedsApproval, resumes it to Running.
func (m *Manager) Approve(sessionID contract.SessionID) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	s.mu.Lock()
	s.approvalGranted = true
	s.mu.Unlock()

	if s.currentStatus() == contract.SessionNeedsApproval {
		s.setStatus(contract.SessionRunning, "approved")
	}
	return nil
}

// Abort moves a session straight to Aborted, cancels its in-flight adapter
// call (if any), stops its worker, and tears down an owned workspace.
func (m *Manager) Abort(sessionID contract.SessionID) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if s.currentStatus().IsTerminal() {
		return nil
	}

	s.setStatus(contract.SessionAborted, "aborted")
	s.cancel()
	<-s.workerDone

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.workspaces.Teardown(teardownCtx, s.workspacePath, s.workspaceOwned); err != nil {
		s.logger.Warn("session: workspace teardown failed", "error", err)
	}
	return nil
}

// Complete moves a session to Completed once its work is done, stops its
// worker, and tears down an owned workspace.
func (m *Manager) Complete(sessionID contract.SessionID) error {
	s, err := m.get(sessionID)
	if err != nil {
		return err
	}
	if s.currentStatus().IsTerminal() {
		return nil
	}

	s.setStatus(contract.SessionCompleted, "completed")
	s.cancel()
	<-s.workerDone

	teardownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := m.workspaces.Teardown(teardownCtx, s.workspacePath, s.workspaceOwned); err != nil {
		s.logger.Warn("session: workspace teardown failed", "error", err)
	}
	return nil
}

// Status returns a session's current lifecycle status.
func (m *Manager) Status(sessionID contract.SessionID) (contract.SessionStatus, error) {
	s, err := m.get(sessionID)
	if err != nil {
		return "", err
	}
	return s.currentStatus(), nil
}
