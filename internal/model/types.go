// Package model defines the domain types for the swap-worktree CLI.
//
// These types are passed between the git backend (internal/worktree), the
// swap orchestrator (internal/swap), and the CLI layer. None of them is ever
// persisted: a WorktreeRef describes a worktree as it was when it was read,
// and must be re-resolved after any mutation of that worktree.
package model

import (
	"fmt"
	"strings"
)

// WorktreeRef identifies a single Git worktree by its filesystem path,
// together with the state observed when it was resolved.
type WorktreeRef struct {
	// Path is the absolute, symlink-resolved path to the worktree root.
	Path string

	// Branch is the short branch name (e.g., "main" rather than
	// "refs/heads/main"). Empty if the worktree is in a detached HEAD state.
	Branch string

	// HEAD is the commit SHA that the worktree currently points to.
	HEAD string

	// Dirty reports whether the worktree has staged, unstaged, or
	// untracked changes. Only populated by calls that check it.
	Dirty bool

	// Prunable is set when git still lists the worktree but its directory
	// no longer exists on disk.
	Prunable bool
}

// IsDetached reports whether the worktree has no branch checked out.
func (w WorktreeRef) IsDetached() bool {
	return w.Branch == ""
}

// Describe returns a short human-readable description of what the worktree
// currently holds: the branch name, or the detached commit.
//
// Example: "branch 'main'" or "detached at 1a2b3c4".
func (w WorktreeRef) Describe() string {
	if !w.IsDetached() {
		return fmt.Sprintf("branch '%s'", w.Branch)
	}
	if w.HEAD == "" {
		return "detached HEAD"
	}
	return fmt.Sprintf("detached at %s", ShortHash(w.HEAD))
}

// ShortBranchName strips the "refs/heads/" prefix from a full ref name.
// Names without the prefix are returned unchanged.
func ShortBranchName(ref string) string {
	return strings.TrimPrefix(strings.TrimSpace(ref), "refs/heads/")
}

// ShortHash abbreviates a commit hash to seven characters.
func ShortHash(hash string) string {
	if len(hash) > 7 {
		return hash[:7]
	}
	return hash
}

// StashHandle is the backend's opaque reference to one stash entry.
//
// For the git backend, Hash is the stash commit SHA. The stash@{n}
// reference is deliberately not stored: creating another stash shifts every
// index, so the reference is resolved from the hash when it is needed.
type StashHandle struct {
	// Hash is the commit SHA of the stash entry.
	Hash string

	// Message is the message the stash was created with.
	Message string
}

// String returns the stash hash, which is what a user passes to
// `git stash apply` to recover the entry manually.
func (h StashHandle) String() string {
	return h.Hash
}

// IsZero reports whether the handle refers to no stash.
func (h StashHandle) IsZero() bool {
	return h.Hash == ""
}

// StashCapture records the result of capturing one worktree's dirty state.
// It is created in the capture phase of a swap and consumed in the restore
// phase; it is never shared between swaps.
type StashCapture struct {
	// WorktreePath is the worktree the state was captured from.
	WorktreePath string

	// Branch is the branch that was checked out when the state was captured.
	// The dirty state follows this branch to whichever worktree hosts it next.
	Branch string

	// Handle identifies the stash entry. Zero when Captured is false.
	Handle StashHandle

	// Captured is false when the worktree had nothing to stash.
	Captured bool
}

// SwapPlan is the resolved and validated description of one swap.
type SwapPlan struct {
	// Destination is the worktree named on the command line.
	Destination WorktreeRef

	// Source is the worktree currently hosting SourceBranch.
	Source WorktreeRef

	// DestinationBranch is the branch checked out in Destination before the
	// swap. It moves to Source.
	DestinationBranch string

	// SourceBranch is the branch checked out in Source before the swap.
	// It moves to Destination.
	SourceBranch string
}

// Validate checks the SwapPlan invariants: two distinct worktrees hosting two
// distinct branches.
func (p SwapPlan) Validate() error {
	if p.Destination.Path == "" || p.Source.Path == "" {
		return fmt.Errorf("swap plan: worktree path must not be empty")
	}
	if p.Destination.Path == p.Source.Path {
		return fmt.Errorf("swap plan: source and destination are the same worktree %q", p.Destination.Path)
	}
	if p.DestinationBranch == "" || p.SourceBranch == "" {
		return fmt.Errorf("swap plan: both worktrees must have a branch checked out")
	}
	if p.DestinationBranch == p.SourceBranch {
		return fmt.Errorf("swap plan: source and destination are both on branch %q", p.SourceBranch)
	}
	return nil
}

// ExitCode defines the CLI exit codes. Scripts can use them to tell a clean
// swap from a swap that left stashes to resolve, and both from a failure.
type ExitCode int

const (
	// ExitSuccess indicates both branches and all dirty state were swapped.
	ExitSuccess ExitCode = 0

	// ExitGeneralError indicates an unspecified error occurred, such as
	// invalid arguments or an unreadable configuration file.
	ExitGeneralError ExitCode = 1

	// ExitPrecondition indicates the invocation was invalid (bad destination,
	// unknown source branch, ...). Nothing was changed.
	ExitPrecondition ExitCode = 2

	// ExitCaptureFailed indicates a stash could not be created.
	// No branch was changed.
	ExitCaptureFailed ExitCode = 3

	// ExitExchangeFailed indicates a detach or checkout failed and the
	// original branch assignment was restored.
	ExitExchangeFailed ExitCode = 4

	// ExitInconsistentState indicates the exchange failed and could not be
	// rolled back. Manual recovery is required.
	ExitInconsistentState ExitCode = 5

	// ExitPartialSuccess indicates the branches were swapped but at least
	// one stash could not be re-applied and was kept for manual resolution.
	ExitPartialSuccess ExitCode = 6
)

// CLIError is a custom error type that carries an exit code.
// This allows the CLI layer to translate domain errors into
// appropriate process exit codes.
type CLIError struct {
	// Code is the exit code to return to the OS.
	Code ExitCode

	// Message is the human-readable error description.
	Message string

	// Err is the underlying error, if any.
	Err error
}

// Error satisfies the error interface. It returns the human-readable
// error message, optionally including the underlying error.
func (e *CLIError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the underlying error for use with errors.Is/errors.As.
func (e *CLIError) Unwrap() error {
	return e.Err
}

// NewCLIError creates a new CLIError with the given exit code and message.
func NewCLIError(code ExitCode, message string) *CLIError {
	return &CLIError{Code: code, Message: message}
}

// WrapCLIError creates a new CLIError that wraps an existing error.
func WrapCLIError(code ExitCode, message string, err error) *CLIError {
	return &CLIError{Code: code, Message: message, Err: err}
}
