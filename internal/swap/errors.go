package swap

import (
	"fmt"
	"strings"

	"github.com/shinji-kodama/swap-worktree/internal/model"
)

// Reason classifies a PreconditionError.
type Reason string

const (
	// ReasonInvalidArgument means a required argument was empty.
	ReasonInvalidArgument Reason = "invalid_argument"

	// ReasonInvalidDestination means the destination path does not exist,
	// is not a directory, or is not inside a Git worktree.
	ReasonInvalidDestination Reason = "invalid_destination"

	// ReasonDestinationDetached means the destination has no branch checked
	// out, so there is nothing to give to the source worktree.
	ReasonDestinationDetached Reason = "destination_detached"

	// ReasonSourceUnknown means no local branch has the source name.
	ReasonSourceUnknown Reason = "source_unknown"

	// ReasonSourceNotCheckedOut means the source branch exists but no
	// worktree has it checked out.
	ReasonSourceNotCheckedOut Reason = "source_not_checked_out"

	// ReasonSourceInDestination means the source branch is already the
	// destination's branch.
	ReasonSourceInDestination Reason = "source_in_destination"

	// ReasonSourceAmbiguous means more than one worktree reports the source
	// branch.
	ReasonSourceAmbiguous Reason = "source_ambiguous"

	// ReasonSourceMissing means the worktree hosting the source branch is
	// gone from disk or cannot be read.
	ReasonSourceMissing Reason = "source_missing"

	// ReasonSameBranch means both worktrees resolved to the same branch.
	ReasonSameBranch Reason = "same_branch"
)

// PreconditionError reports an invalid invocation. It is always returned
// before anything in the repository was changed, so the swap can simply be
// retried with corrected arguments.
type PreconditionError struct {
	Reason  Reason
	Message string
	Err     error
}

func (e *PreconditionError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *PreconditionError) Unwrap() error {
	return e.Err
}

// CaptureError reports that a worktree's dirty state could not be stashed.
// No branch was changed. Preserved lists stashes that were created before
// the failure and could not be put back; they remain in the stash list.
type CaptureError struct {
	Worktree  string
	Err       error
	Preserved []model.StashCapture
}

func (e *CaptureError) Error() string {
	msg := fmt.Sprintf("failed to stash changes in '%s': %v", e.Worktree, e.Err)
	return msg + describePreserved(e.Preserved)
}

func (e *CaptureError) Unwrap() error {
	return e.Err
}

// Step names the exchange step that failed.
type Step string

const (
	// StepDetach is moving a worktree to a detached HEAD.
	StepDetach Step = "detach"

	// StepCheckout is checking out a branch in a worktree.
	StepCheckout Step = "checkout"
)

// ExchangeError reports a detach or checkout failure after which both
// worktrees were returned to their original branches. Captured stashes were
// re-applied where they came from; Preserved lists the ones that could not be
// and remain in the stash list.
type ExchangeError struct {
	Step      Step
	Worktree  string
	Branch    string
	Err       error
	Preserved []model.StashCapture
}

func (e *ExchangeError) Error() string {
	var action string
	if e.Step == StepDetach {
		action = fmt.Sprintf("failed to detach '%s'", e.Worktree)
	} else {
		action = fmt.Sprintf("failed to switch '%s' to '%s'", e.Worktree, e.Branch)
	}
	msg := fmt.Sprintf("%s: %v; both worktrees were restored to their original branches", action, e.Err)
	return msg + describePreserved(e.Preserved)
}

func (e *ExchangeError) Unwrap() error {
	return e.Err
}

// InconsistentStateError reports an exchange failure that could not be rolled
// back. Current holds the state of both worktrees as re-read from the
// repository after the rollback attempt; every captured stash is still in
// the stash list and listed in Preserved.
type InconsistentStateError struct {
	Step        Step
	Worktree    string
	Branch      string
	Err         error
	RollbackErr error
	Plan        model.SwapPlan
	Current     []model.WorktreeRef
	Preserved   []model.StashCapture
}

func (e *InconsistentStateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "%s '%s' failed: %v\n", e.Step, e.Worktree, e.Err)
	fmt.Fprintf(&b, "rollback failed: %v\n", e.RollbackErr)
	b.WriteString("CRITICAL STATE:")
	for _, wt := range e.Current {
		fmt.Fprintf(&b, "\n  '%s' is on %s", wt.Path, wt.Describe())
	}
	for _, c := range e.Preserved {
		fmt.Fprintf(&b, "\n  stash %s (changes from branch '%s') is kept", c.Handle, c.Branch)
	}
	b.WriteString("\nManual git intervention is required. To restore the original branches, run:")
	for _, cmd := range e.RecoveryCommands() {
		b.WriteString("\n  " + cmd)
	}
	return b.String()
}

func (e *InconsistentStateError) Unwrap() error {
	return e.Err
}

// RecoveryCommands returns the git commands that bring both worktrees back
// to their original branches and re-apply the preserved stashes. They are
// valid whatever each worktree currently holds: detaching an already
// detached worktree is a no-op.
func (e *InconsistentStateError) RecoveryCommands() []string {
	dest, src := e.Plan.Destination.Path, e.Plan.Source.Path
	cmds := []string{
		fmt.Sprintf("git -C '%s' switch --detach", dest),
		fmt.Sprintf("git -C '%s' switch --detach", src),
		fmt.Sprintf("git -C '%s' switch '%s'", dest, e.Plan.DestinationBranch),
		fmt.Sprintf("git -C '%s' switch '%s'", src, e.Plan.SourceBranch),
	}
	for _, c := range e.Preserved {
		cmds = append(cmds, fmt.Sprintf("git -C '%s' stash apply %s", c.WorktreePath, c.Handle))
	}
	return cmds
}

// RestoreConflictError reports a stash that could not be applied after the
// branches were swapped. The stash was kept. It never makes the swap itself
// fail; it is collected in Result.Pending.
type RestoreConflictError struct {
	// Worktree is where the stash was being applied.
	Worktree string

	// Branch is the branch the changes were captured on, now checked out
	// in Worktree.
	Branch string

	Stash model.StashHandle
	Err   error
}

func (e *RestoreConflictError) Error() string {
	return fmt.Sprintf("stash %s (changes from branch '%s') could not be applied to '%s' and was kept: %v",
		e.Stash, e.Branch, e.Worktree, e.Err)
}

func (e *RestoreConflictError) Unwrap() error {
	return e.Err
}

// ManualCommand returns the command that applies the kept stash once the
// conflict has been resolved.
func (e *RestoreConflictError) ManualCommand() string {
	return fmt.Sprintf("git -C '%s' stash apply %s", e.Worktree, e.Stash)
}

func describePreserved(preserved []model.StashCapture) string {
	if len(preserved) == 0 {
		return ""
	}
	parts := make([]string, 0, len(preserved))
	for _, c := range preserved {
		parts = append(parts, fmt.Sprintf("stash %s from '%s' was kept (apply with: git -C '%s' stash apply %s)",
			c.Handle, c.WorktreePath, c.WorktreePath, c.Handle))
	}
	return "; " + strings.Join(parts, "; ")
}
