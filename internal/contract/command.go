package contract

import "time"

// CommandKind is the closed set of intents the orchestrator understands.
// New intents are added here, never discovered by runtime type inspection.
type CommandKind string

const (
	CommandCreateBranch     CommandKind = "create-branch"
	CommandApplyPatch       CommandKind = "apply-patch"
	CommandRunTests         CommandKind = "run-tests"
	CommandBuildProject     CommandKind = "build-project"
	CommandCommit           CommandKind = "commit"
	CommandPush             CommandKind = "push"
	CommandGetDiff          CommandKind = "get-diff"
	CommandTransitionTicket CommandKind = "transition-ticket"
	CommandComment          CommandKind = "comment"
	CommandSetAssignee      CommandKind = "set-assignee"
	CommandUploadArtifact   CommandKind = "upload-artifact"
	CommandRequestApproval  CommandKind = "request-approval"
	CommandQueryBacklog     CommandKind = "query-backlog"
	CommandQueryWorkItem    CommandKind = "query-work-item"

	// Reserved intents: accepted by the contract model but not yet dispatched
	// by any adapter in this core.
	CommandSpawnSession CommandKind = "spawn-session"
	CommandLinkPlanNode CommandKind = "link-plan-node"
)

// branchMutating is the set of commands that target a branch and are subject
// to the protected-branches policy check.
var branchMutating = map[CommandKind]bool{
	CommandCreateBranch: true,
	CommandCommit:       true,
	CommandPush:         true,
}

// IsBranchMutating reports whether kind targets a branch the protected-branches
// policy rule applies to.
func (k CommandKind) IsBranchMutating() bool { return branchMutating[k] }

// Command is a single typed intent carrying its correlation and, depending on
// Kind, a subset of the fields below. Fields not meaningful for a given Kind
// are left zero. Payload carries any remaining intent-specific data an
// adapter needs that isn't promoted to a first-class field (patch bodies,
// comment text, artifact bytes, query filters, …).
type Command struct {
	ID          CommandID   `json:"id"`
	Correlation Correlation `json:"correlation"`
	Kind        CommandKind `json:"kind"`
	IssuedAt    time.Time   `json:"issuedAt"`

	// Branch-mutating commands (create-branch, commit, push).
	Repo   RepoRef `json:"repo,omitempty"`
	Branch string  `json:"branch,omitempty"`

	// commit
	IncludePaths []string `json:"includePaths,omitempty"`

	// run-tests / build-project
	Timeout time.Duration `json:"timeout,omitempty"`

	// transition-ticket / set-assignee / comment / query-work-item
	WorkItem *WorkItemRef `json:"workItem,omitempty"`
	// transition-ticket
	TargetState string `json:"targetState,omitempty"`

	// upload-artifact
	Artifact *Artifact `json:"artifact,omitempty"`

	// apply-patch / conflict resolution
	Patch string `json:"patch,omitempty"`

	// Generic carrier for intent-specific data not promoted above
	// (comment bodies, backlog query filters, request-approval notes, …).
	Payload map[string]any `json:"payload,omitempty"`
}
