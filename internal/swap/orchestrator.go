// Package swap exchanges the checked-out branches, and the uncommitted work
// on them, between two worktrees of one repository.
//
// A swap runs in five strictly sequential phases:
//  1. Resolve the destination worktree and the worktree hosting the source
//     branch into a model.SwapPlan. Nothing is changed.
//  2. Capture each worktree's dirty state (staged, unstaged, untracked) in a
//     stash. No branch is changed yet.
//  3. Detach both worktrees so that neither branch is checked out anywhere.
//  4. Check out each branch in the other worktree.
//  5. Restore each stash in the worktree now hosting the branch it was
//     captured on, so dirty state follows its branch.
//
// Two filesystem trees and a shared ref store cannot be changed atomically.
// What the orchestrator guarantees instead is that no captured work is ever
// dropped: a stash is only removed after it was applied, and every stash
// left behind is reported with its hash.
package swap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shinji-kodama/swap-worktree/internal/logging"
	"github.com/shinji-kodama/swap-worktree/internal/model"
	"github.com/shinji-kodama/swap-worktree/internal/worktree"
)

// Backend is the set of repository primitives a swap needs.
// worktree.Manager implements it on top of the git CLI.
type Backend interface {
	// ResolveWorktree returns the worktree containing path, or an error
	// wrapping worktree.ErrNotAWorktree.
	ResolveWorktree(ctx context.Context, path string) (model.WorktreeRef, error)

	// ListWorktrees returns every worktree of the repository containing repoPath.
	ListWorktrees(ctx context.Context, repoPath string) ([]model.WorktreeRef, error)

	// CurrentBranch returns the branch checked out in wt, or worktree.ErrDetached.
	CurrentBranch(ctx context.Context, wt model.WorktreeRef) (string, error)

	// IsDirty reports staged, unstaged, or untracked changes in wt.
	IsDirty(ctx context.Context, wt model.WorktreeRef) (bool, error)

	// BranchExists reports whether a local branch exists.
	BranchExists(ctx context.Context, repoPath, branch string) bool

	// RepositoryRoot returns the main working tree of the repository.
	RepositoryRoot(ctx context.Context, path string) (string, error)

	// CreateStash stashes all changes in wt including untracked files, or
	// returns worktree.ErrNothingToStash.
	CreateStash(ctx context.Context, wt model.WorktreeRef, message string) (model.StashHandle, error)

	// ApplyAndDropStash applies the stash to wt and drops it. On any error
	// the stash must still exist.
	ApplyAndDropStash(ctx context.Context, wt model.WorktreeRef, stash model.StashHandle) error

	// Detach moves wt to a detached HEAD at its current commit.
	Detach(ctx context.Context, wt model.WorktreeRef) error

	// CheckoutBranch checks out branch in wt.
	CheckoutBranch(ctx context.Context, wt model.WorktreeRef, branch string) error
}

// DefaultStashPrefix starts the message of every stash a swap creates.
// The branch name is appended: "swap-stash-main".
const DefaultStashPrefix = "swap-stash"

// Orchestrator performs swaps against a Backend. It keeps no state between
// swaps; branch assignments are re-read from the repository every time.
type Orchestrator struct {
	backend     Backend
	logger      *slog.Logger
	stashPrefix string
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the progress logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithStashPrefix overrides DefaultStashPrefix.
func WithStashPrefix(prefix string) Option {
	return func(o *Orchestrator) {
		if prefix = strings.TrimSpace(prefix); prefix != "" {
			o.stashPrefix = prefix
		}
	}
}

// NewOrchestrator creates an Orchestrator using backend for all repository access.
func NewOrchestrator(backend Backend, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		backend:     backend,
		logger:      logging.Discard(),
		stashPrefix: DefaultStashPrefix,
	}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// Captures holds the capture phase result for both worktrees of a plan.
type Captures struct {
	Destination model.StashCapture
	Source      model.StashCapture
}

// all returns the captures that actually hold a stash.
func (c Captures) all() []model.StashCapture {
	var out []model.StashCapture
	for _, capture := range []model.StashCapture{c.Destination, c.Source} {
		if capture.Captured {
			out = append(out, capture)
		}
	}
	return out
}

// Outcome classifies a completed swap.
type Outcome int

const (
	// OutcomeSuccess means branches and all dirty state were swapped.
	OutcomeSuccess Outcome = iota

	// OutcomePartial means the branches were swapped but at least one stash
	// could not be applied and was kept.
	OutcomePartial
)

func (o Outcome) String() string {
	if o == OutcomePartial {
		return "partial"
	}
	return "success"
}

// Result describes a swap whose branch exchange succeeded.
type Result struct {
	Plan     model.SwapPlan
	Captures Captures

	// Pending lists the stashes that were kept because they could not be
	// applied in their new worktree.
	Pending []*RestoreConflictError
}

// Outcome reports whether every captured stash was restored.
func (r *Result) Outcome() Outcome {
	if len(r.Pending) > 0 {
		return OutcomePartial
	}
	return OutcomeSuccess
}

// Swap exchanges the branch of the worktree at destinationPath with the
// worktree that has sourceBranch checked out.
//
// A nil error means the branches were exchanged; check Result.Outcome for
// stashes that still need manual attention. Errors are one of
// *PreconditionError, *CaptureError, *ExchangeError, or
// *InconsistentStateError, or a plain error from the backend while
// resolving (in which case nothing was changed either).
func (o *Orchestrator) Swap(ctx context.Context, destinationPath, sourceBranch string) (*Result, error) {
	o.logger.Info("Step 1: Resolving worktrees...")
	plan, err := o.Resolve(ctx, destinationPath, sourceBranch)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Step 2: Stashing changes in both worktrees (including untracked files)...")
	captures, err := o.capture(ctx, plan)
	if err != nil {
		return nil, err
	}

	o.logger.Info("Step 3: Swapping branches between worktrees...")
	if err := o.exchange(ctx, plan, captures); err != nil {
		return nil, err
	}
	o.logger.Info("Branch swap successful")
	o.logger.Info("Worktree is now on branch", "worktree", plan.Destination.Path, "branch", plan.SourceBranch)
	o.logger.Info("Worktree is now on branch", "worktree", plan.Source.Path, "branch", plan.DestinationBranch)

	o.logger.Info("Step 4: Applying stashes to their new locations...")
	result := &Result{Plan: plan, Captures: captures}
	result.Pending = o.restore(ctx, plan, captures)

	o.logger.Info("Worktree swap complete", "outcome", result.Outcome().String())
	return result, nil
}

// Resolve builds and validates the SwapPlan without changing anything.
func (o *Orchestrator) Resolve(ctx context.Context, destinationPath, sourceBranch string) (model.SwapPlan, error) {
	sourceBranch = model.ShortBranchName(sourceBranch)
	if strings.TrimSpace(destinationPath) == "" {
		return model.SwapPlan{}, &PreconditionError{Reason: ReasonInvalidArgument, Message: "destination worktree directory must not be empty"}
	}
	if sourceBranch == "" {
		return model.SwapPlan{}, &PreconditionError{Reason: ReasonInvalidArgument, Message: "source branch name must not be empty"}
	}

	dest, err := o.backend.ResolveWorktree(ctx, destinationPath)
	if err != nil {
		if errors.Is(err, worktree.ErrNotAWorktree) {
			return model.SwapPlan{}, &PreconditionError{
				Reason:  ReasonInvalidDestination,
				Message: fmt.Sprintf("destination '%s' is not a worktree", destinationPath),
				Err:     err,
			}
		}
		return model.SwapPlan{}, fmt.Errorf("resolve destination '%s': %w", destinationPath, err)
	}
	if dest.IsDetached() {
		return model.SwapPlan{}, &PreconditionError{
			Reason:  ReasonDestinationDetached,
			Message: fmt.Sprintf("destination '%s' is not on a branch (%s)", dest.Path, dest.Describe()),
		}
	}
	o.logger.Debug("Found destination branch", "worktree", dest.Path, "branch", dest.Branch)

	if root, err := o.backend.RepositoryRoot(ctx, dest.Path); err == nil {
		o.logger.Debug("Operating in repository", "root", root)
	}

	host, err := o.locateBranch(ctx, dest, sourceBranch)
	if err != nil {
		return model.SwapPlan{}, err
	}

	// Read the source fresh rather than trusting the listing.
	source, err := o.backend.ResolveWorktree(ctx, host.Path)
	if err != nil {
		return model.SwapPlan{}, &PreconditionError{
			Reason:  ReasonSourceMissing,
			Message: fmt.Sprintf("worktree '%s' (for branch '%s') cannot be used", host.Path, sourceBranch),
			Err:     err,
		}
	}
	if source.Branch != sourceBranch {
		return model.SwapPlan{}, &PreconditionError{
			Reason:  ReasonSourceNotCheckedOut,
			Message: fmt.Sprintf("branch '%s' is no longer checked out in '%s'", sourceBranch, source.Path),
		}
	}
	o.logger.Debug("Found source directory", "worktree", source.Path, "branch", source.Branch)

	plan := model.SwapPlan{
		Destination:       dest,
		Source:            source,
		DestinationBranch: dest.Branch,
		SourceBranch:      source.Branch,
	}
	if err := plan.Validate(); err != nil {
		return model.SwapPlan{}, &PreconditionError{Reason: ReasonSameBranch, Message: "nothing to swap", Err: err}
	}

	if plan.Destination.Dirty, err = o.backend.IsDirty(ctx, plan.Destination); err != nil {
		return model.SwapPlan{}, fmt.Errorf("check '%s' for changes: %w", plan.Destination.Path, err)
	}
	if plan.Source.Dirty, err = o.backend.IsDirty(ctx, plan.Source); err != nil {
		return model.SwapPlan{}, fmt.Errorf("check '%s' for changes: %w", plan.Source.Path, err)
	}

	return plan, nil
}

// locateBranch finds the single worktree, other than dest, hosting branch.
func (o *Orchestrator) locateBranch(ctx context.Context, dest model.WorktreeRef, branch string) (model.WorktreeRef, error) {
	refs, err := o.backend.ListWorktrees(ctx, dest.Path)
	if err != nil {
		return model.WorktreeRef{}, fmt.Errorf("list worktrees: %w", err)
	}

	var hosts []model.WorktreeRef
	for _, ref := range refs {
		if ref.Branch == branch {
			hosts = append(hosts, ref)
		}
	}

	switch {
	case len(hosts) == 0 && !o.backend.BranchExists(ctx, dest.Path, branch):
		return model.WorktreeRef{}, &PreconditionError{
			Reason:  ReasonSourceUnknown,
			Message: fmt.Sprintf("branch '%s' does not exist", branch),
		}
	case len(hosts) == 0:
		return model.WorktreeRef{}, &PreconditionError{
			Reason:  ReasonSourceNotCheckedOut,
			Message: fmt.Sprintf("could not find worktree for branch '%s': it is not checked out in any worktree", branch),
		}
	case len(hosts) > 1:
		paths := make([]string, 0, len(hosts))
		for _, h := range hosts {
			paths = append(paths, "'"+h.Path+"'")
		}
		return model.WorktreeRef{}, &PreconditionError{
			Reason:  ReasonSourceAmbiguous,
			Message: fmt.Sprintf("branch '%s' is checked out in more than one worktree: %s", branch, strings.Join(paths, ", ")),
		}
	}

	host := hosts[0]
	if host.Path == dest.Path {
		return model.WorktreeRef{}, &PreconditionError{
			Reason:  ReasonSourceInDestination,
			Message: fmt.Sprintf("branch '%s' is already checked out in '%s'; nothing to swap", branch, dest.Path),
		}
	}
	if host.Prunable {
		return model.WorktreeRef{}, &PreconditionError{
			Reason:  ReasonSourceMissing,
			Message: fmt.Sprintf("source directory '%s' (for branch '%s') does not exist", host.Path, branch),
		}
	}
	return host, nil
}

// capture stashes the dirty state of both worktrees. If the source cannot
// be stashed after the destination was, the destination's stash is put
// back so the failed swap leaves nothing behind.
func (o *Orchestrator) capture(ctx context.Context, plan model.SwapPlan) (Captures, error) {
	var captures Captures

	dest, err := o.captureOne(ctx, plan.Destination, plan.DestinationBranch)
	if err != nil {
		return Captures{}, &CaptureError{Worktree: plan.Destination.Path, Err: err}
	}
	captures.Destination = dest

	src, err := o.captureOne(ctx, plan.Source, plan.SourceBranch)
	if err != nil {
		capErr := &CaptureError{Worktree: plan.Source.Path, Err: err}
		if dest.Captured {
			if kept := o.restoreToOrigin(ctx, []model.StashCapture{dest}); len(kept) > 0 {
				capErr.Preserved = kept
			}
		}
		return Captures{}, capErr
	}
	captures.Source = src

	return captures, nil
}

func (o *Orchestrator) captureOne(ctx context.Context, wt model.WorktreeRef, branch string) (model.StashCapture, error) {
	capture := model.StashCapture{WorktreePath: wt.Path, Branch: branch}
	if !wt.Dirty {
		o.logger.Debug("No changes to stash", "worktree", wt.Path)
		return capture, nil
	}

	o.logger.Debug("Stashing", "worktree", wt.Path, "branch", branch)
	handle, err := o.backend.CreateStash(ctx, wt, o.stashMessage(branch))
	if errors.Is(err, worktree.ErrNothingToStash) {
		o.logger.Debug("No changes to stash", "worktree", wt.Path)
		return capture, nil
	}
	if err != nil {
		return model.StashCapture{}, err
	}

	o.logger.Debug("Stashed changes", "worktree", wt.Path, "stash", handle.Hash)
	capture.Handle = handle
	capture.Captured = true
	return capture, nil
}

func (o *Orchestrator) stashMessage(branch string) string {
	return o.stashPrefix + "-" + branch
}

// exchange detaches both worktrees and checks out each branch in the other
// worktree. Any failure triggers a rollback to the original assignment.
func (o *Orchestrator) exchange(ctx context.Context, plan model.SwapPlan, captures Captures) error {
	dest, src := plan.Destination, plan.Source

	o.logger.Debug("Detaching HEAD", "worktree", dest.Path, "freeing", plan.DestinationBranch)
	if err := o.backend.Detach(ctx, dest); err != nil {
		return o.rollback(ctx, plan, captures, StepDetach, dest.Path, "", err)
	}
	o.logger.Debug("Detaching HEAD", "worktree", src.Path, "freeing", plan.SourceBranch)
	if err := o.backend.Detach(ctx, src); err != nil {
		return o.rollback(ctx, plan, captures, StepDetach, src.Path, "", err)
	}
	o.logger.Debug("Both worktrees detached. Proceeding with swap.")

	o.logger.Debug("Switching", "worktree", dest.Path, "branch", plan.SourceBranch)
	if err := o.backend.CheckoutBranch(ctx, dest, plan.SourceBranch); err != nil {
		return o.rollback(ctx, plan, captures, StepCheckout, dest.Path, plan.SourceBranch, err)
	}
	o.logger.Debug("Switching", "worktree", src.Path, "branch", plan.DestinationBranch)
	if err := o.backend.CheckoutBranch(ctx, src, plan.DestinationBranch); err != nil {
		return o.rollback(ctx, plan, captures, StepCheckout, src.Path, plan.DestinationBranch, err)
	}
	return nil
}

// rollback puts both worktrees back on their original branches after the
// exchange failed at step, then re-applies the captured stashes where they
// came from.
//
// The destination goes first: whatever step failed, its original branch is
// free at this point, and switching it away releases the source branch for
// the source worktree. If either checkout fails, nothing more is attempted
// automatically and the current state is reported instead.
func (o *Orchestrator) rollback(ctx context.Context, plan model.SwapPlan, captures Captures, step Step, failedPath, branch string, cause error) error {
	o.logger.Warn("Exchange failed; restoring original branches", "step", string(step), "worktree", failedPath, "error", cause)

	var rollbackErrs []error
	if err := o.backend.CheckoutBranch(ctx, plan.Destination, plan.DestinationBranch); err != nil {
		rollbackErrs = append(rollbackErrs, fmt.Errorf("switch '%s' back to '%s': %w", plan.Destination.Path, plan.DestinationBranch, err))
	}
	if err := o.backend.CheckoutBranch(ctx, plan.Source, plan.SourceBranch); err != nil {
		rollbackErrs = append(rollbackErrs, fmt.Errorf("switch '%s' back to '%s': %w", plan.Source.Path, plan.SourceBranch, err))
	}

	if len(rollbackErrs) > 0 {
		return &InconsistentStateError{
			Step:        step,
			Worktree:    failedPath,
			Branch:      branch,
			Err:         cause,
			RollbackErr: errors.Join(rollbackErrs...),
			Plan:        plan,
			Current:     o.currentState(ctx, plan),
			Preserved:   captures.all(),
		}
	}

	o.logger.Info("Original branches restored")
	return &ExchangeError{
		Step:      step,
		Worktree:  failedPath,
		Branch:    branch,
		Err:       cause,
		Preserved: o.restoreToOrigin(ctx, captures.all()),
	}
}

// currentState re-reads both worktrees for an InconsistentStateError. A
// worktree that cannot be read is reported with its path only.
func (o *Orchestrator) currentState(ctx context.Context, plan model.SwapPlan) []model.WorktreeRef {
	state := make([]model.WorktreeRef, 0, 2)
	for _, wt := range []model.WorktreeRef{plan.Destination, plan.Source} {
		ref, err := o.backend.ResolveWorktree(ctx, wt.Path)
		if err != nil {
			o.logger.Warn("Could not read worktree state", "worktree", wt.Path, "error", err)
			ref = model.WorktreeRef{Path: wt.Path}
		}
		state = append(state, ref)
	}
	return state
}

// restoreToOrigin applies each capture to the worktree it was taken from and
// returns the ones that could not be applied.
func (o *Orchestrator) restoreToOrigin(ctx context.Context, captures []model.StashCapture) []model.StashCapture {
	var kept []model.StashCapture
	for _, c := range captures {
		wt := model.WorktreeRef{Path: c.WorktreePath}
		if err := o.backend.ApplyAndDropStash(ctx, wt, c.Handle); err != nil {
			o.logger.Warn("Could not re-apply stash; it has been kept", "stash", c.Handle.Hash, "worktree", c.WorktreePath, "error", err)
			kept = append(kept, c)
		}
	}
	return kept
}

// restore applies each captured stash to the worktree that now hosts the
// branch it was captured on. The two are independent: a failure in one does
// not prevent the other.
func (o *Orchestrator) restore(ctx context.Context, plan model.SwapPlan, captures Captures) []*RestoreConflictError {
	var pending []*RestoreConflictError

	targets := []struct {
		wt      model.WorktreeRef
		capture model.StashCapture
	}{
		{model.WorktreeRef{Path: plan.Destination.Path, Branch: plan.SourceBranch}, captures.Source},
		{model.WorktreeRef{Path: plan.Source.Path, Branch: plan.DestinationBranch}, captures.Destination},
	}

	for _, target := range targets {
		if !target.capture.Captured {
			o.logger.Debug("No stash to apply", "from_branch", target.capture.Branch, "worktree", target.wt.Path)
			continue
		}

		// Dirty state follows its branch; never apply it on top of anything else.
		current, err := o.backend.CurrentBranch(ctx, target.wt)
		if err == nil && current != target.capture.Branch {
			err = fmt.Errorf("worktree is on '%s', expected '%s'", current, target.capture.Branch)
		}
		if err != nil {
			o.logger.Warn("Not applying stash; it has been kept", "stash", target.capture.Handle.Hash, "worktree", target.wt.Path, "error", err)
			pending = append(pending, &RestoreConflictError{
				Worktree: target.wt.Path,
				Branch:   target.capture.Branch,
				Stash:    target.capture.Handle,
				Err:      err,
			})
			continue
		}

		o.logger.Debug("Applying stash", "stash", target.capture.Handle.Hash, "from_branch", target.capture.Branch, "worktree", target.wt.Path)
		if err := o.backend.ApplyAndDropStash(ctx, target.wt, target.capture.Handle); err != nil {
			o.logger.Warn("Failed to apply stash; it has been kept", "stash", target.capture.Handle.Hash, "worktree", target.wt.Path)
			pending = append(pending, &RestoreConflictError{
				Worktree: target.wt.Path,
				Branch:   target.capture.Branch,
				Stash:    target.capture.Handle,
				Err:      err,
			})
			continue
		}
		o.logger.Debug("Successfully applied stash", "worktree", target.wt.Path)
	}

	return pending
}
