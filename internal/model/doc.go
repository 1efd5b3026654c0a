// Package model defines the domain types and value objects for the
// swap-worktree CLI.
//
// This package contains pure data structures with no external dependencies.
// All entities (WorktreeRef, StashCapture, SwapPlan) are transient: they are
// resolved from the git repository at the start of one invocation and
// discarded when it exits. All durable state lives in git's own ref and
// stash storage.
//
// The package also defines exit codes (ExitCode) and a custom error type
// (CLIError) that carries exit codes for proper OS process exit handling.
package model
