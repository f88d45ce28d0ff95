package fixture

import (
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingState is a minimal dispatch.SessionState double that records
// every emitted event in order.
type recordingState struct {
	ctx       context.Context
	workspace string
	events    []contract.Event
}

func newRecordingState() *recordingState {
	ctx, cancel := context.WithCancel(context.Background())
	_ = cancel
	return &recordingState{ctx: ctx}
}

func (s *recordingState) Emit(e contract.Event)          { s.events = append(s.events, e) }
func (s *recordingState) WorkspacePath() string          { return s.workspace }
func (s *recordingState) Repo() contract.RepoRef         { return contract.RepoRef{} }
func (s *recordingState) WorkItem() *contract.WorkItemRef { return nil }
func (s *recordingState) Policy() contract.PolicyProfile { return contract.PolicyProfile{} }
func (s *recordingState) Logger() *slog.Logger           { return slog.New(slog.NewTextHandler(io.Discard, nil)) }
func (s *recordingState) Context() context.Context       { return s.ctx }

func TestCanHandleOnlyScriptedKinds(t *testing.T) {
	a := New("", Succeeds(contract.CommandCreateBranch))

	assert.True(t, a.CanHandle(contract.Command{Kind: contract.CommandCreateBranch}))
	assert.False(t, a.CanHandle(contract.Command{Kind: contract.CommandPush}))
}

func TestNameDefaultsToFixture(t *testing.T) {
	assert.Equal(t, "fixture", New("", Script{}).Name())
	assert.Equal(t, "custom", New("custom", Script{}).Name())
}

func TestHandleCommandNoScriptedResponseFails(t *testing.T) {
	a := New("", Script{})
	state := newRecordingState()

	a.HandleCommand(contract.Command{Kind: contract.CommandPush}, state)

	require.Len(t, state.events, 1)
	assert.Equal(t, contract.EventCommandCompleted, state.events[0].Kind)
	assert.Equal(t, contract.OutcomeFailure, state.events[0].Outcome)
	assert.Equal(t, contract.ErrorCodeUnsupported, state.events[0].ErrorCode)
}

func TestHandleCommandScriptedSuccessWithNoEvents(t *testing.T) {
	a := New("", Succeeds(contract.CommandRunTests))
	state := newRecordingState()

	a.HandleCommand(contract.Command{Kind: contract.CommandRunTests}, state)

	require.Len(t, state.events, 1)
	assert.Equal(t, contract.EventCommandCompleted, state.events[0].Kind)
	assert.Equal(t, contract.OutcomeSuccess, state.events[0].Outcome)
}

func TestHandleCommandScriptedError(t *testing.T) {
	a := New("", Script{Responses: map[contract.CommandKind]ResponseTemplate{
		contract.CommandPush: {Error: "remote rejected the push"},
	}})
	state := newRecordingState()

	a.HandleCommand(contract.Command{Kind: contract.CommandPush}, state)

	require.Len(t, state.events, 1)
	assert.Equal(t, contract.EventCommandCompleted, state.events[0].Kind)
	assert.Equal(t, contract.OutcomeFailure, state.events[0].Outcome)
	assert.Equal(t, "remote rejected the push", state.events[0].Message)
}

func TestHandleCommandArtifactThenCompletion(t *testing.T) {
	artifact := &contract.Artifact{Kind: "diff"}
	a := New("", Script{Responses: map[contract.CommandKind]ResponseTemplate{
		contract.CommandGetDiff: {
			Events: []EventTemplate{
				{Outcome: contract.OutcomeSuccess, Message: "diff computed", Artifact: artifact},
				{Outcome: contract.OutcomeSuccess},
			},
		},
	}})
	state := newRecordingState()

	a.HandleCommand(contract.Command{Kind: contract.CommandGetDiff}, state)

	require.Len(t, state.events, 2)
	assert.Equal(t, contract.EventArtifactAvailable, state.events[0].Kind)
	assert.Same(t, artifact, state.events[0].Artifact)
	assert.Equal(t, contract.EventCommandCompleted, state.events[1].Kind)
	assert.Equal(t, contract.OutcomeSuccess, state.events[1].Outcome)
}

func TestHandleCommandRespectsDelay(t *testing.T) {
	a := New("", Script{Responses: map[contract.CommandKind]ResponseTemplate{
		contract.CommandBuildProject: {DelayMs: 20, Events: []EventTemplate{{Outcome: contract.OutcomeSuccess}}},
	}})
	state := newRecordingState()

	start := time.Now()
	a.HandleCommand(contract.Command{Kind: contract.CommandBuildProject}, state)
	assert.GreaterOrEqual(t, time.Since(start), 20*time.Millisecond)
	require.Len(t, state.events, 1)
}

func TestHandleCommandWritesArtifactIntoWorkspace(t *testing.T) {
	a := New("", Script{Responses: map[contract.CommandKind]ResponseTemplate{
		contract.CommandBuildProject: {
			Events: []EventTemplate{
				{Outcome: contract.OutcomeSuccess, ArtifactKind: contract.ArtifactBuildLog, WritePath: "build.log", WriteContent: "build succeeded\n"},
			},
		},
	}})
	state := newRecordingState()
	state.workspace = t.TempDir()

	a.HandleCommand(contract.Command{Kind: contract.CommandBuildProject}, state)

	require.Len(t, state.events, 1)
	evt := state.events[0]
	require.NotNil(t, evt.Artifact)
	assert.Equal(t, contract.ArtifactBuildLog, evt.Artifact.Kind)
	assert.Equal(t, "build.log", evt.Artifact.PathHint)
	assert.Equal(t, "build.log", evt.Artifact.Name)

	data, err := os.ReadFile(filepath.Join(state.workspace, "build.log"))
	require.NoError(t, err)
	assert.Equal(t, "build succeeded\n", string(data))
}

func TestHandleCommandDelayAbortedByContext(t *testing.T) {
	a := New("", Script{Responses: map[contract.CommandKind]ResponseTemplate{
		contract.CommandBuildProject: {DelayMs: 5000, Events: []EventTemplate{{Outcome: contract.OutcomeSuccess}}},
	}})
	ctx, cancel := context.WithCancel(context.Background())
	state := &recordingState{ctx: ctx}
	cancel()

	a.HandleCommand(contract.Command{Kind: contract.CommandBuildProject}, state)
	assert.Empty(t, state.events)
}
