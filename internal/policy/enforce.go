// Package policy implements the orchestrator's admission decision: a pure
// function over a command and the session's policy profile plus whatever
// session history the caller has observed. It holds no state of its own.
package policy

import "github.com/ndls21/orchcore/internal/contract"

// History carries the session-observed facts the enforcer needs but does not
// itself track (spec.md §4.2: "the session manager supplies any observed
// history... as part of the call").
type History struct {
	// TestsPassedSincePush is true if a run-tests command has completed
	// successfully since the last accepted commit.
	TestsPassedSincePush bool
	// ApprovalGranted reflects the session's pending-approval flag.
	ApprovalGranted bool
}

// Decision is the outcome of Enforce: either Allow, or Reject with a
// human-readable reason and a stable rule identifier.
type Decision struct {
	Allow  bool
	Reason string
	Rule   string
}

func allow() Decision { return Decision{Allow: true} }

func reject(reason, rule string) Decision {
	return Decision{Allow: false, Reason: reason, Rule: rule}
}

// Enforce runs the ordered checks of spec.md §4.2 against command under
// profile, using hist for the two checks that need session-observed state.
// Checks run in order and the first match wins.
func Enforce(command contract.Command, profile contract.PolicyProfile, hist History) Decision {
	if !profile.InWhitelist(command.Kind) {
		return reject("Policy violation", "Command not in whitelist")
	}

	if profile.InBlacklist(command.Kind) {
		return reject("Policy violation", "Command in blacklist")
	}

	if command.Kind.IsBranchMutating() && profile.IsProtectedBranch(command.Branch) {
		return reject("Protected branch", "Protected branch")
	}

	if command.Kind == contract.CommandCommit {
		if profile.MaxFilesPerCommit != nil && len(command.IncludePaths) > *profile.MaxFilesPerCommit {
			return reject("Too many files", "Max files per commit")
		}
	}

	if command.Kind == contract.CommandPush {
		if profile.RequireTestsBeforePush && !hist.TestsPassedSincePush {
			return reject("Tests required before push", "Tests required")
		}
		if profile.RequireApprovalForPush && !hist.ApprovalGranted {
			return reject("Approval required", "Approval required")
		}
	}

	if command.Kind == contract.CommandTransitionTicket {
		if !profile.AllowsTransition(command.TargetState) {
			return reject("Transition not allowed", "Allowed transitions")
		}
	}

	return allow()
}
