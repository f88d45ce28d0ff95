// Package contract holds the shared vocabulary of the orchestrator: identifiers,
// the closed command/event unions, artifacts, and the policy/session configuration
// types that every other package builds on.
package contract

import "github.com/google/uuid"

// SessionID identifies a running session for its entire lifetime.
type SessionID string

// CommandID identifies a single published command.
type CommandID string

// EventID identifies a single emitted event.
type EventID string

// PlanNodeID identifies a node in an externally-maintained plan graph.
type PlanNodeID string

// ArtifactID identifies a produced artifact.
type ArtifactID string

// NewSessionID mints a fresh session identifier.
func NewSessionID() SessionID { return SessionID(uuid.New().String()) }

// NewCommandID mints a fresh command identifier.
func NewCommandID() CommandID { return CommandID(uuid.New().String()) }

// NewEventID mints a fresh event identifier.
func NewEventID() EventID { return EventID(uuid.New().String()) }

// NewArtifactID mints a fresh artifact identifier.
func NewArtifactID() ArtifactID { return ArtifactID(uuid.New().String()) }

// WorkItemRef points at an externally-tracked work item (ticket, issue, …).
type WorkItemRef struct {
	ID           string `json:"id" yaml:"id"`
	ProviderHint string `json:"providerHint,omitempty" yaml:"providerHint,omitempty"`
}

// RepoRef identifies a repository an adapter operates on.
type RepoRef struct {
	Name string `json:"name" yaml:"name"`
	Path string `json:"path" yaml:"path"`
}

// WorkspaceRef identifies the filesystem location a session's workspace occupies.
type WorkspaceRef struct {
	Path string `json:"path" yaml:"path"`
}

// Correlation is attached to every command and every event for provenance and
// flow reconstruction. Response events echo the originating command's
// CommandID and IssuerAgentID.
type Correlation struct {
	SessionID       SessionID  `json:"sessionId"`
	CommandID       CommandID  `json:"commandId,omitempty"`
	ParentCommandID CommandID  `json:"parentCommandId,omitempty"`
	PlanNodeID      PlanNodeID `json:"planNodeId,omitempty"`
	IssuerAgentID   string     `json:"issuerAgentId,omitempty"`
}
