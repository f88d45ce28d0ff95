// Package receipts writes a durable per-command JSON record into a
// session's own workspace after every terminal command-completed event, so
// a session can be audited or reconciled after the process that ran it is
// long gone. It is optional instrumentation, not part of the command
// pipeline itself: a nil *Writer is always a safe no-op.
package receipts

import (
	"encoding/json"
	"fmt"
	"path/filepath"
	"time"

	"github.com/ndls21/orchcore/internal/contract"
	"github.com/ndls21/orchcore/internal/fsutil"
)

// Record is the durable shape of one command's terminal completion.
type Record struct {
	SessionID   contract.SessionID   `json:"sessionId"`
	CommandID   contract.CommandID   `json:"commandId"`
	CommandKind contract.CommandKind `json:"commandKind"`
	Outcome     contract.Outcome     `json:"outcome"`
	Message     string               `json:"message,omitempty"`
	ErrorCode   string               `json:"errorCode,omitempty"`
	OccurredAt  time.Time            `json:"occurredAt"`
}

// Writer materializes Records under "<workspace>/receipts/<sessionId>/
// <commandId>.json". Construct with NewWriter; a nil *Writer writes nothing.
type Writer struct{}

// NewWriter returns a Writer if enabled, else nil. Callers hold the result
// as an optional collaborator and skip the call entirely when it's nil.
func NewWriter(enabled bool) *Writer {
	if !enabled {
		return nil
	}
	return &Writer{}
}

// Write records a receipt for one terminal command-completed event and
// returns the contract.Artifact an "artifact-available" event can carry.
func (w *Writer) Write(workspacePath string, sessionID contract.SessionID, cmdID contract.CommandID, kind contract.CommandKind, outcome contract.Outcome, message, errorCode string) (*contract.Artifact, error) {
	if w == nil {
		return nil, nil
	}
	rec := Record{
		SessionID:   sessionID,
		CommandID:   cmdID,
		CommandKind: kind,
		Outcome:     outcome,
		Message:     message,
		ErrorCode:   errorCode,
		OccurredAt:  time.Now(),
	}

	data, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("receipts: marshal record: %w", err)
	}

	relPath := filepath.Join("receipts", string(sessionID), string(cmdID)+".json")
	result, err := fsutil.WriteArtifactAtomic(workspacePath, relPath, data)
	if err != nil {
		return nil, fmt.Errorf("receipts: write record: %w", err)
	}

	artifact := fsutil.ToArtifact(result, contract.ArtifactLog, relPath)
	return &artifact, nil
}
