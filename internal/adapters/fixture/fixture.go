// Package fixture provides an in-process, scripted dispatch.Adapter that
// replays canned responses instead of talking to a real VCS, issue
// tracker, or build runner. It exists for tests and as a runnable demo of
// the command pipeline, standing in for the adapter protocol details the
// core leaves out of scope.
package fixture

import (
	"fmt"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/dispatch"
	"github.com/ndls21/orchcore/internal/fsutil"
)

// EventTemplate is one scripted event to emit in response to a command. Set
// at most one of Artifact (an already-formed artifact reference) or
// WritePath/WriteContent (a blob to actually materialize under the
// session's workspace, so the scripted response exercises the same
// atomic-write-plus-checksum path a real artifact-producing adapter would).
type EventTemplate struct {
	Outcome      contract.Outcome
	Message      string
	Artifact     *contract.Artifact
	ArtifactKind contract.ArtifactKind
	WritePath    string
	WriteContent string
}

// ResponseTemplate is the scripted reaction to one command kind: an
// optional delay, then either a scripted failure or a sequence of events
// ending in a command-completed.
type ResponseTemplate struct {
	DelayMs int
	Error   string
	Events  []EventTemplate
}

// Script maps a command kind to the response it should produce. A kind
// absent from Responses is not handled by this adapter (CanHandle reports
// false), so dispatch falls through to whichever adapter comes next.
type Script struct {
	Responses map[contract.CommandKind]ResponseTemplate
}

// Adapter is a scripted dispatch.Adapter. Name defaults to "fixture".
type Adapter struct {
	name   string
	script Script
}

// New constructs an Adapter over script. name, if empty, defaults to
// "fixture".
func New(name string, script Script) *Adapter {
	if name == "" {
		name = "fixture"
	}
	return &Adapter{name: name, script: script}
}

func (a *Adapter) Name() string { return a.name }

func (a *Adapter) CanHandle(cmd contract.Command) bool {
	_, ok := a.script.Responses[cmd.Kind]
	return ok
}

// HandleCommand plays back the scripted response for cmd.Kind. The final
// scripted event implicitly becomes the terminal command-completed unless
// the template carries an Error, in which case a single failed completion
// is emitted instead.
func (a *Adapter) HandleCommand(cmd contract.Command, state dispatch.SessionState) {
	tmpl, ok := a.script.Responses[cmd.Kind]
	if !ok {
		state.Emit(contract.Event{
			Kind:      contract.EventCommandCompleted,
			Outcome:   contract.OutcomeFailure,
			Message:   fmt.Sprintf("fixture: no scripted response for %s", cmd.Kind),
			ErrorCode: contract.ErrorCodeUnsupported,
		})
		return
	}

	if tmpl.DelayMs > 0 {
		select {
		case <-state.Context().Done():
			return
		case <-time.After(time.Duration(tmpl.DelayMs) * time.Millisecond):
		}
	}

	if tmpl.Error != "" {
		state.Emit(contract.Event{
			Kind:    contract.EventCommandCompleted,
			Outcome: contract.OutcomeFailure,
			Message: tmpl.Error,
		})
		return
	}

	for i, evt := range tmpl.Events {
		isLast := i == len(tmpl.Events)-1
		kind := contract.EventArtifactAvailable
		if isLast {
			kind = contract.EventCommandCompleted
		}

		artifact := evt.Artifact
		if evt.WritePath != "" {
			written, err := a.writeArtifact(state, evt)
			if err != nil {
				state.Emit(contract.Event{
					Kind:    contract.EventCommandCompleted,
					Outcome: contract.OutcomeFailure,
					Message: err.Error(),
				})
				return
			}
			artifact = written
		}

		state.Emit(contract.Event{
			Kind:     kind,
			Outcome:  evt.Outcome,
			Message:  evt.Message,
			Artifact: artifact,
		})
	}

	if len(tmpl.Events) == 0 {
		state.Emit(contract.Event{Kind: contract.EventCommandCompleted, Outcome: contract.OutcomeSuccess})
	}
}

// writeArtifact materializes evt.WriteContent at evt.WritePath inside the
// session's workspace and returns the resulting contract.Artifact, addressed
// by its path hint. The checksum the write computes is not carried on the
// artifact.
func (a *Adapter) writeArtifact(state dispatch.SessionState, evt EventTemplate) (*contract.Artifact, error) {
	result, err := fsutil.WriteArtifactAtomic(state.WorkspacePath(), evt.WritePath, []byte(evt.WriteContent))
	if err != nil {
		return nil, fmt.Errorf("fixture: write artifact: %w", err)
	}
	artifact := fsutil.ToArtifact(result, evt.ArtifactKind, evt.WritePath)
	return &artifact, nil
}

var _ dispatch.Adapter = (*Adapter)(nil)

// Succeeds builds a Script where every kind in kinds completes successfully
// with no intermediate events, for quick wiring in tests and demos.
func Succeeds(kinds ...contract.CommandKind) Script {
	responses := make(map[contract.CommandKind]ResponseTemplate, len(kinds))
	for _, k := range kinds {
		responses[k] = ResponseTemplate{Events: []EventTemplate{{Outcome: contract.OutcomeSuccess}}}
	}
	return Script{Responses: responses}
}
