// Package session implements the orchestrator's command pipeline: session
// lifecycle, the policy → rate → dispatch gate, and the per-session event
// log, per spec.md §4.6.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/dispatch"
	"github.com/ndls21/orchcore/internal/eventlog"
	"github.com/ndls21/orchcore/internal/idempotency"
	"github.com/ndls21/orchcore/internal/policy"
	"github.com/ndls21/orchcore/internal/ratelimit"
	"github.com/ndls21/orchcore/internal/receipts"
	"github.com/ndls21/orchcore/internal/workspace"
)

// commandQueueDepth is the buffer on a session's inbound command channel;
// publishers never block on a healthy session, matching spec.md §5's "the
// session worker does not block on subscriber delivery" extended to intake.
const commandQueueDepth = 64

// Session is one isolated unit of work: its own workspace, policy, event
// log, and worker goroutine that serializes its command pipeline.
type Session struct {
	id     contract.SessionID
	cfg    contract.SessionConfig
	logger *slog.Logger

	mu                   sync.Mutex
	status               contract.SessionStatus
	testsPassedSincePush bool
	approvalGranted      bool
	commandKinds         map[contract.CommandID]contract.CommandKind

	workspacePath  string
	workspaceOwned bool

	log        *eventlog.Log
	commands   chan contract.Command
	ctx        context.Context
	cancel     context.CancelFunc
	workerDone chan struct{}

	dispatcher     *dispatch.Dispatcher
	limiter        *ratelimit.Limiter
	commandTimeout time.Duration
	workspaces     *workspace.Provider
	receipts       *receipts.Writer
}

func (s *Session) history() policy.History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return policy.History{
		TestsPassedSincePush: s.testsPassedSincePush,
		ApprovalGranted:      s.approvalGranted,
	}
}

func (s *Session) currentStatus() contract.SessionStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus transitions the session's status and emits
// session-status-changed, unless the session is already in the target
// status (transitions are otherwise idempotent no-ops at the event level).
func (s *Session) setStatus(status contract.SessionStatus, reason string) {
	s.mu.Lock()
	if s.status == status {
		s.mu.Unlock()
		return
	}
	s.status = status
	s.mu.Unlock()

	s.appendEvent(contract.Event{
		Kind:         contract.EventSessionStatusChanged,
		Status:       status,
		StatusReason: reason,
	})
}

func (s *Session) appendEvent(e contract.Event) {
	e.ID = contract.NewEventID()
	e.OccurredAt = time.Now()
	if e.Correlation.SessionID == "" {
		e.Correlation.SessionID = s.id
	}
	if err := s.log.Append(e); err != nil {
		s.logger.Error("session: append event failed", "error", err)
	}

	if e.Kind == contract.EventCommandCompleted && s.receipts != nil && e.Correlation.CommandID != "" {
		s.writeReceipt(e)
	}
}

// writeReceipt records e's terminal completion and emits the resulting
// artifact as a follow-up event. A failure to write is logged, never
// surfaced as a command failure — receipts are instrumentation, not part of
// the pipeline's own correctness.
func (s *Session) writeReceipt(e contract.Event) {
	s.mu.Lock()
	kind := s.commandKinds[e.Correlation.CommandID]
	delete(s.commandKinds, e.Correlation.CommandID)
	s.mu.Unlock()

	artifact, err := s.receipts.Write(s.workspacePath, s.id, e.Correlation.CommandID, kind, e.Outcome, e.Message, e.ErrorCode)
	if err != nil {
		s.logger.Warn("session: failed to write receipt", "command", e.Correlation.CommandID, "error", err)
		return
	}

	s.appendEvent(contract.Event{
		Kind:        contract.EventArtifactAvailable,
		Correlation: e.Correlation,
		Artifact:    artifact,
	})
}

func (s *Session) emitForCommand(cmd contract.Command, e contract.Event) {
	e.Correlation = cmd.Correlation
	s.appendEvent(e)
}

// runWorker drains the session's command queue serially: commands for this
// session are processed strictly in publish order, per spec.md §5.
func (s *Session) runWorker() {
	defer close(s.workerDone)
	for {
		select {
		case cmd, ok := <-s.commands:
			if !ok {
				return
			}
			s.process(cmd)
		case <-s.ctx.Done():
			s.drainOnAbort()
			return
		}
	}
}

// drainOnAbort empties any still-queued commands without dispatching them,
// so publishers blocked on a full queue are not left hanging after abort.
func (s *Session) drainOnAbort() {
	for {
		select {
		case _, ok := <-s.commands:
			if !ok {
				return
			}
		default:
			return
		}
	}
}

func (s *Session) process(cmd contract.Command) {
	if cmd.Correlation.CommandID == "" {
		cmd.Correlation.CommandID = cmd.ID
	}
	status := s.currentStatus()
	if !status.AcceptsCommands() {
		s.emitForCommand(cmd, contract.Event{
			Kind:       contract.EventCommandRejected,
			Reason:     "Session not accepting commands",
			PolicyRule: string(status),
		})
		return
	}

	decision := policy.Enforce(cmd, s.cfg.Policy, s.history())
	if !decision.Allow {
		s.emitForCommand(cmd, contract.Event{
			Kind:       contract.EventCommandRejected,
			Reason:     decision.Reason,
			PolicyRule: decision.Rule,
		})
		return
	}

	rl := s.limiter.Admit(time.Now(), s.id, s.cfg.Policy.Limits, cmd.Kind)
	if !rl.Allowed {
		retryAt := time.Now().Add(rl.RetryAfter)
		s.emitForCommand(cmd, contract.Event{
			Kind:       contract.EventThrottled,
			Scope:      rl.Scope,
			RetryAfter: &retryAt,
		})
		return
	}

	s.emitForCommand(cmd, contract.Event{Kind: contract.EventCommandAccepted})

	if s.receipts != nil {
		s.mu.Lock()
		if s.commandKinds == nil {
			s.commandKinds = make(map[contract.CommandID]contract.CommandKind)
		}
		s.commandKinds[cmd.ID] = cmd.Kind
		s.mu.Unlock()
	}

	if cmd.Kind == contract.CommandRequestApproval {
		s.handleRequestApproval(cmd)
		return
	}

	adapter, ok := dispatch.FindWithWarmup(s.ctx, s.dispatcher, cmd)
	if !ok {
		s.emitForCommand(cmd, contract.Event{
			Kind:      contract.EventCommandCompleted,
			Outcome:   contract.OutcomeFailure,
			Message:   "no adapter registered for this command",
			ErrorCode: contract.ErrorCodeNoAdapter,
		})
		s.recordHistory(cmd)
		return
	}

	s.invokeAdapter(cmd, adapter)
	s.recordHistory(cmd)
}

// handleRequestApproval implements request-approval as a session-manager-
// owned transition rather than adapter work: no external collaborator is
// consulted, only the session's own pending-approval gate is armed.
func (s *Session) handleRequestApproval(cmd contract.Command) {
	s.setStatus(contract.SessionNeedsApproval, "request-approval")
	s.emitForCommand(cmd, contract.Event{
		Kind:    contract.EventCommandCompleted,
		Outcome: contract.OutcomeSuccess,
	})
}

func (s *Session) recordHistory(cmd contract.Command) {
	terminal, outcome := s.terminalOutcome(cmd.ID)
	s.mu.Lock()
	switch {
	case cmd.Kind == contract.CommandCommit:
		// Any subsequent commit invalidates a prior tests-before-push pass.
		s.testsPassedSincePush = false
	case cmd.Kind == contract.CommandRunTests && terminal && outcome == contract.OutcomeSuccess:
		s.testsPassedSincePush = true
	}
	s.mu.Unlock()
}

func (s *Session) terminalOutcome(cmdID contract.CommandID) (found bool, outcome contract.Outcome) {
	for _, e := range s.log.Snapshot() {
		if e.Kind == contract.EventCommandCompleted && e.Correlation.CommandID == cmdID {
			found, outcome = true, e.Outcome
		}
	}
	return
}

func (s *Session) hasTerminalEvent(cmdID contract.CommandID) bool {
	for _, e := range s.log.Snapshot() {
		if e.IsTerminal() && e.Correlation.CommandID == cmdID {
			return true
		}
	}
	return false
}

// invokeAdapter runs the adapter call under a per-command wall-clock
// ceiling and cancellation token, per spec.md §4.6 step 7 and §5. A panic
// inside the adapter is caught and surfaced as a failed completion rather
// than crashing the session worker.
func (s *Session) invokeAdapter(cmd contract.Command, adapter dispatch.Adapter) {
	timeout := s.commandTimeout
	if cmd.Timeout > 0 && cmd.Timeout < timeout {
		timeout = cmd.Timeout
	}

	ctx, cancel := context.WithTimeout(s.ctx, timeout)
	defer cancel()

	state := &sessionState{session: s, ctx: ctx, cmd: cmd}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer func() {
			if r := recover(); r != nil {
				s.emitForCommand(cmd, contract.Event{
					Kind:    contract.EventCommandCompleted,
					Outcome: contract.OutcomeFailure,
					Message: fmt.Sprintf("adapter panic: %v", r),
				})
			}
		}()
		adapter.HandleCommand(cmd, state)
	}()

	select {
	case <-done:
	case <-ctx.Done():
	}

	if s.hasTerminalEvent(cmd.ID) {
		return
	}

	if s.ctx.Err() != nil {
		s.emitForCommand(cmd, contract.Event{
			Kind:      contract.EventCommandCompleted,
			Outcome:   contract.OutcomeFailure,
			Message:   "session aborted",
			ErrorCode: contract.ErrorCodeCancelled,
		})
		return
	}

	s.emitForCommand(cmd, contract.Event{
		Kind:      contract.EventCommandCompleted,
		Outcome:   contract.OutcomeFailure,
		Message:   "no terminal completion within the command deadline",
		ErrorCode: contract.ErrorCodeTimeout,
	})
}

// sessionState is the handle an adapter receives for the lifetime of one
// HandleCommand call; it must not be retained past that call returning.
type sessionState struct {
	session *Session
	ctx     context.Context
	cmd     contract.Command
}

// Emit stamps e's correlation from the in-flight command whenever the
// adapter left it unset, so every event an adapter produces in answer to a
// command carries that command's commandId and issuerAgentId without
// requiring every adapter to thread correlation through by hand.
func (h *sessionState) Emit(e contract.Event) {
	if e.Correlation.SessionID == "" {
		e.Correlation.SessionID = h.cmd.Correlation.SessionID
	}
	if e.Correlation.CommandID == "" {
		e.Correlation.CommandID = h.cmd.Correlation.CommandID
	}
	if e.Correlation.IssuerAgentID == "" {
		e.Correlation.IssuerAgentID = h.cmd.Correlation.IssuerAgentID
	}
	if e.Correlation.ParentCommandID == "" {
		e.Correlation.ParentCommandID = h.cmd.Correlation.ParentCommandID
	}
	if e.Correlation.PlanNodeID == "" {
		e.Correlation.PlanNodeID = h.cmd.Correlation.PlanNodeID
	}
	h.session.appendEvent(e)
}

func (h *sessionState) WorkspacePath() string           { return h.session.workspacePath }
func (h *sessionState) Repo() contract.RepoRef          { return h.session.cfg.Repo }
func (h *sessionState) WorkItem() *contract.WorkItemRef { return h.session.cfg.WorkItem }
func (h *sessionState) Policy() contract.PolicyProfile  { return h.session.cfg.Policy }
func (h *sessionState) Logger() *slog.Logger            { return h.session.logger }
func (h *sessionState) Context() context.Context        { return h.ctx }

var _ dispatch.SessionState = (*sessionState)(nil)

// GenerateIdempotencyKey exposes the idempotency package's key derivation
// under the session package for callers assembling a Command, so a
// resubmission of the same intent can be recognized before it reaches
// PublishCommand.
func GenerateIdempotencyKey(cmd contract.Command) (string, error) {
	return idempotency.GenerateKey(cmd)
}
