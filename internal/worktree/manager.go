// Package worktree provides Git worktree operations.
//
// This package wraps Git CLI commands (via os/exec) to resolve, list, stash,
// detach, and switch Git worktrees. It is the only place in swap-worktree
// that runs git.
//
// Design decisions:
//   - We shell out to `git` rather than using a Go Git library (e.g., go-git)
//     because worktree and stash operations require full Git CLI
//     compatibility, and go-git's worktree support is limited.
//   - Stashes are tracked by commit hash, never by stash@{n} index. The stash
//     list is shared by every worktree of a repository, so indexes shift as
//     soon as another stash is created.
//   - Failed git commands are returned as *CommandError, which keeps the
//     command line and stderr for diagnostics.
package worktree

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strings"

	"github.com/shinji-kodama/swap-worktree/internal/logging"
	"github.com/shinji-kodama/swap-worktree/internal/model"
)

var (
	// ErrNotAWorktree is returned by ResolveWorktree when the path does not
	// exist, is not a directory, or is not inside a Git working tree.
	ErrNotAWorktree = errors.New("not a git worktree")

	// ErrDetached is returned by CurrentBranch when HEAD is not a branch.
	ErrDetached = errors.New("HEAD is detached")

	// ErrNothingToStash is returned by CreateStash when the worktree has no
	// local changes.
	ErrNothingToStash = errors.New("no local changes to save")
)

// noLocalChanges is what `git stash push` prints when there is nothing to stash.
const noLocalChanges = "No local changes to save"

// ConflictError is returned by ApplyAndDropStash when the stash could not be
// applied cleanly. The stash is never dropped in that case.
type ConflictError struct {
	// Worktree is the path the stash was being applied to.
	Worktree string

	// Stash is the stash that was kept.
	Stash model.StashHandle

	// Output is git's combined stdout/stderr from the failed apply.
	Output string

	// Err is the underlying command error.
	Err error
}

func (e *ConflictError) Error() string {
	msg := fmt.Sprintf("failed to apply stash %s to '%s'", e.Stash.Hash, e.Worktree)
	if e.Output != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Output)
	}
	return msg
}

func (e *ConflictError) Unwrap() error {
	return e.Err
}

// CommandError describes a git invocation that exited unsuccessfully.
type CommandError struct {
	// Dir is the directory passed to git via -C.
	Dir string

	// Args are the git arguments, without the -C prefix.
	Args []string

	// Stdout and Stderr hold the trimmed command output.
	Stdout string
	Stderr string

	// Err is the error from os/exec.
	Err error
}

func (e *CommandError) Error() string {
	message := fmt.Sprintf("git %s failed", strings.Join(e.Args, " "))
	if e.Stderr != "" {
		message = fmt.Sprintf("%s: %s", message, e.Stderr)
	}
	return message
}

func (e *CommandError) Unwrap() error {
	return e.Err
}

// ExitCode returns git's exit status, or -1 if git did not run to completion.
func (e *CommandError) ExitCode() int {
	var exitErr *exec.ExitError
	if errors.As(e.Err, &exitErr) {
		return exitErr.ExitCode()
	}
	return -1
}

// CombinedOutput joins stdout and stderr the way a terminal would show them.
func (e *CommandError) CombinedOutput() string {
	return combineOutput(e.Stdout, e.Stderr)
}

// Manager provides Git worktree operations by invoking the git CLI.
//
// It holds no repository state: every method receives the path it operates
// on, and every answer is read fresh from git.
type Manager struct {
	gitBinary    string
	restoreIndex bool
	logger       *slog.Logger
}

// Option configures a Manager.
type Option func(*Manager)

// WithGitBinary overrides the git executable (default "git").
func WithGitBinary(path string) Option {
	return func(m *Manager) {
		if path != "" {
			m.gitBinary = path
		}
	}
}

// WithRestoreIndex controls whether ApplyAndDropStash tries to restore the
// staged state of a stash (`git stash apply --index`). Enabled by default.
func WithRestoreIndex(enabled bool) Option {
	return func(m *Manager) {
		m.restoreIndex = enabled
	}
}

// WithLogger sets the logger used for command tracing and warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// NewManager creates a new worktree Manager instance.
func NewManager(opts ...Option) *Manager {
	m := &Manager{
		gitBinary:    "git",
		restoreIndex: true,
		logger:       logging.Discard(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// ResolveWorktree returns the worktree containing path.
//
// The path may point anywhere inside the worktree; the returned Path is the
// worktree's top-level directory with symlinks resolved. Errors wrap
// ErrNotAWorktree when the path does not exist, is not a directory, or is
// not inside a Git working tree.
func (m *Manager) ResolveWorktree(ctx context.Context, path string) (model.WorktreeRef, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return model.WorktreeRef{}, fmt.Errorf("resolve '%s': %w", path, err)
	}

	info, err := os.Stat(abs)
	if err != nil {
		if os.IsNotExist(err) {
			return model.WorktreeRef{}, fmt.Errorf("%w: directory '%s' does not exist", ErrNotAWorktree, abs)
		}
		return model.WorktreeRef{}, fmt.Errorf("stat '%s': %w", abs, err)
	}
	if !info.IsDir() {
		return model.WorktreeRef{}, fmt.Errorf("%w: '%s' is not a directory", ErrNotAWorktree, abs)
	}

	// --is-inside-work-tree prints "false" inside a .git directory and fails
	// outside any repository. Both mean the same thing to us.
	inside, err := m.runGit(ctx, abs, "rev-parse", "--is-inside-work-tree")
	if err != nil || strings.TrimSpace(inside) != "true" {
		return model.WorktreeRef{}, fmt.Errorf("%w: '%s' is not inside a git worktree", ErrNotAWorktree, abs)
	}

	top, err := m.runGit(ctx, abs, "rev-parse", "--show-toplevel")
	if err != nil {
		return model.WorktreeRef{}, err
	}

	ref := model.WorktreeRef{Path: evalPath(strings.TrimSpace(top))}

	branch, err := m.CurrentBranch(ctx, ref)
	switch {
	case errors.Is(err, ErrDetached):
	case err != nil:
		return model.WorktreeRef{}, err
	default:
		ref.Branch = branch
	}

	// HEAD does not resolve on an unborn branch; the commit is informational.
	if head, err := m.runGit(ctx, ref.Path, "rev-parse", "--verify", "--quiet", "HEAD"); err == nil {
		ref.HEAD = strings.TrimSpace(head)
	}

	return ref, nil
}

// ListWorktrees returns all worktrees of the repository containing repoPath,
// excluding the bare repository entry if there is one.
//
// It runs `git worktree list --porcelain` which produces machine-parseable
// output. Each worktree block is separated by a blank line:
//
//	worktree /path/to/dir
//	HEAD abc123
//	branch refs/heads/main
func (m *Manager) ListWorktrees(ctx context.Context, repoPath string) ([]model.WorktreeRef, error) {
	output, err := m.runGit(ctx, repoPath, "worktree", "list", "--porcelain")
	if err != nil {
		return nil, err
	}

	entries := parsePorcelainOutput(output)
	refs := make([]model.WorktreeRef, 0, len(entries))
	for _, e := range entries {
		if e.IsBare {
			continue
		}
		path := e.Path
		if !filepath.IsAbs(path) {
			path = filepath.Join(repoPath, path)
		}
		ref := model.WorktreeRef{
			Path:     evalPath(path),
			HEAD:     e.HEAD,
			Prunable: e.Prunable,
		}
		if !e.Detached {
			ref.Branch = model.ShortBranchName(e.Branch)
		}
		// Git only marks a missing worktree prunable after it has noticed,
		// so check the directory ourselves as well.
		if _, statErr := os.Stat(ref.Path); statErr != nil {
			ref.Prunable = true
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

// CurrentBranch returns the short name of the branch checked out in wt.
// It returns ErrDetached if HEAD does not point at a branch.
//
// Uses `git symbolic-ref --quiet --short HEAD`, which (unlike
// `rev-parse --abbrev-ref`) also works on a branch with no commits yet and
// exits with status 1, printing nothing, when HEAD is detached.
func (m *Manager) CurrentBranch(ctx context.Context, wt model.WorktreeRef) (string, error) {
	output, err := m.runGit(ctx, wt.Path, "symbolic-ref", "--quiet", "--short", "HEAD")
	if err != nil {
		var cmdErr *CommandError
		if errors.As(err, &cmdErr) && cmdErr.ExitCode() == 1 && cmdErr.Stderr == "" {
			return "", ErrDetached
		}
		return "", err
	}

	branch := strings.TrimSpace(output)
	if branch == "" {
		return "", ErrDetached
	}
	return branch, nil
}

// IsDirty reports whether wt has staged, unstaged, or untracked changes.
// Ignored files do not count.
func (m *Manager) IsDirty(ctx context.Context, wt model.WorktreeRef) (bool, error) {
	output, err := m.runGit(ctx, wt.Path, "status", "--porcelain", "--untracked-files=normal")
	if err != nil {
		return false, err
	}
	return strings.TrimSpace(output) != "", nil
}

// BranchExists checks whether a local branch with the given name exists.
//
// This uses `git rev-parse --verify --quiet refs/heads/<branch>` which exits
// with code 0 if the ref exists and non-zero otherwise. Only local branches
// count: a tag or remote-tracking ref of the same name cannot be swapped.
func (m *Manager) BranchExists(ctx context.Context, repoPath, branch string) bool {
	_, err := m.runGit(ctx, repoPath, "rev-parse", "--verify", "--quiet", "refs/heads/"+branch)
	return err == nil
}

// RepositoryRoot returns the directory containing the repository's common
// .git directory, i.e. the main working tree of a non-bare repository.
//
// Unlike `git rev-parse --show-toplevel`, which returns the root of
// whichever worktree contains path, --git-common-dir is the same for every
// worktree of the repository.
func (m *Manager) RepositoryRoot(ctx context.Context, path string) (string, error) {
	output, err := m.runGit(ctx, path, "rev-parse", "--git-common-dir")
	if err != nil {
		return "", err
	}

	gitDir := strings.TrimSpace(output)
	if !filepath.IsAbs(gitDir) {
		gitDir = filepath.Join(path, gitDir)
	}
	return filepath.Dir(evalPath(gitDir)), nil
}

// CreateStash stashes all local changes in wt, including untracked files,
// and returns a handle to the new stash entry.
//
// Returns ErrNothingToStash if git reports there was nothing to save.
func (m *Manager) CreateStash(ctx context.Context, wt model.WorktreeRef, message string) (model.StashHandle, error) {
	stdout, stderr, err := m.run(ctx, wt.Path, "stash", "push", "--include-untracked", "-m", message)
	if strings.TrimSpace(combineOutput(stdout, stderr)) == noLocalChanges {
		return model.StashHandle{}, ErrNothingToStash
	}
	if err != nil {
		return model.StashHandle{}, m.commandError(wt.Path, []string{"stash", "push", "--include-untracked", "-m", message}, stdout, stderr, err)
	}

	// The new entry is always stash@{0} immediately after a successful push.
	hash, err := m.runGit(ctx, wt.Path, "rev-parse", "--verify", "refs/stash")
	if err != nil {
		m.logger.Warn("could not read refs/stash; falling back to the stash list", "worktree", wt.Path, "error", err)
		hash, err = m.runGit(ctx, wt.Path, "stash", "list", "--max-count=1", "--format=%H")
	}
	if err != nil || strings.TrimSpace(hash) == "" {
		if err == nil {
			err = errors.New("stash list is empty")
		}
		return model.StashHandle{}, fmt.Errorf(
			"stash %q was created in '%s' but its commit could not be read (find it with `git stash list`): %w",
			message, wt.Path, err)
	}

	handle := model.StashHandle{Hash: strings.TrimSpace(hash), Message: message}
	m.logger.Debug("stash created", "worktree", wt.Path, "stash", handle.Hash, "message", message)
	return handle, nil
}

// ApplyAndDropStash applies the stash to wt and, only if that succeeded,
// drops it from the stash list.
//
// A failed apply returns *ConflictError and leaves the stash in place. A
// failed drop after a successful apply is logged as a warning and is not an
// error: the changes are in the worktree and the leftover stash is only a
// duplicate.
func (m *Manager) ApplyAndDropStash(ctx context.Context, wt model.WorktreeRef, stash model.StashHandle) error {
	if stash.IsZero() {
		return fmt.Errorf("no stash to apply in '%s'", wt.Path)
	}
	if err := m.applyStash(ctx, wt, stash); err != nil {
		return err
	}

	ref, err := m.findStashRef(ctx, wt.Path, stash.Hash)
	if err != nil {
		m.logger.Warn("stash applied but could not be dropped; it remains in the stash list",
			"stash", stash.Hash, "worktree", wt.Path, "error", err)
		return nil
	}
	if ref == "" {
		m.logger.Warn("stash applied but no longer listed; nothing to drop",
			"stash", stash.Hash, "worktree", wt.Path)
		return nil
	}

	if _, err := m.runGit(ctx, wt.Path, "stash", "drop", "--quiet", ref); err != nil {
		m.logger.Warn("stash applied but could not be dropped; it remains in the stash list",
			"stash", stash.Hash, "ref", ref, "worktree", wt.Path, "error", err)
		return nil
	}
	m.logger.Debug("stash dropped", "stash", stash.Hash, "ref", ref)
	return nil
}

// applyStash runs `git stash apply`, restoring the index when configured.
//
// `--index` refuses up front, without touching the worktree, when the staged
// changes do not apply to the new HEAD ("Try without --index"). Only in that
// case do we retry without it, so staged changes come back as unstaged
// rather than not at all.
func (m *Manager) applyStash(ctx context.Context, wt model.WorktreeRef, stash model.StashHandle) error {
	if m.restoreIndex {
		args := []string{"stash", "apply", "--index", stash.Hash}
		stdout, stderr, err := m.run(ctx, wt.Path, args...)
		if err == nil {
			return nil
		}
		output := combineOutput(stdout, stderr)
		if !strings.Contains(strings.ToLower(output), "try without --index") {
			return &ConflictError{Worktree: wt.Path, Stash: stash, Output: output, Err: m.commandError(wt.Path, args, stdout, stderr, err)}
		}
		m.logger.Debug("staged changes do not apply; retrying without --index", "stash", stash.Hash, "worktree", wt.Path)
	}

	args := []string{"stash", "apply", stash.Hash}
	stdout, stderr, err := m.run(ctx, wt.Path, args...)
	if err != nil {
		return &ConflictError{
			Worktree: wt.Path,
			Stash:    stash,
			Output:   combineOutput(stdout, stderr),
			Err:      m.commandError(wt.Path, args, stdout, stderr, err),
		}
	}
	return nil
}

// findStashRef returns the current stash@{n} reference for the stash commit
// hash, or "" if the hash is not in the stash list.
func (m *Manager) findStashRef(ctx context.Context, dir, hash string) (string, error) {
	output, err := m.runGit(ctx, dir, "stash", "list", "--format=%H:%gd")
	if err != nil {
		return "", err
	}
	return parseStashList(output)[hash], nil
}

// Detach moves wt to a detached HEAD at its current commit, freeing the
// branch it was on so another worktree can check it out.
func (m *Manager) Detach(ctx context.Context, wt model.WorktreeRef) error {
	_, err := m.runGit(ctx, wt.Path, "switch", "--quiet", "--detach")
	return err
}

// CheckoutBranch checks out an existing local branch in wt.
//
// Git refuses when the branch is checked out in another worktree, which is
// why a swap detaches both worktrees first.
func (m *Manager) CheckoutBranch(ctx context.Context, wt model.WorktreeRef, branch string) error {
	_, err := m.runGit(ctx, wt.Path, "switch", "--quiet", branch)
	return err
}

// runGit executes a git command with the given arguments in the specified directory.
//
// On success (exit code 0), it returns the stdout output. On failure, it
// returns a *CommandError including the stderr output for diagnostics.
func (m *Manager) runGit(ctx context.Context, dir string, args ...string) (string, error) {
	stdout, stderr, err := m.run(ctx, dir, args...)
	if err != nil {
		return "", m.commandError(dir, args, stdout, stderr, err)
	}
	return stdout, nil
}

// run executes git and returns raw stdout and stderr along with the
// os/exec error, leaving interpretation to the caller.
//
// The directory is passed to git via the -C flag, which causes git to change
// to that directory before doing anything else. This avoids changing the
// process's working directory.
func (m *Manager) run(ctx context.Context, dir string, args ...string) (string, string, error) {
	fullArgs := append([]string{"-C", dir}, args...)

	// #nosec G204: args are constructed internally, not from user input
	cmd := exec.CommandContext(ctx, m.gitBinary, fullArgs...)

	var stdout, stderr strings.Builder
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	m.logger.Debug("git", "dir", dir, "args", strings.Join(args, " "), "ok", err == nil)
	return stdout.String(), stderr.String(), err
}

func (m *Manager) commandError(dir string, args []string, stdout, stderr string, err error) *CommandError {
	return &CommandError{
		Dir:    dir,
		Args:   args,
		Stdout: strings.TrimSpace(stdout),
		Stderr: strings.TrimSpace(stderr),
		Err:    err,
	}
}

// combineOutput joins trimmed stdout and stderr with a newline, skipping
// whichever is empty.
func combineOutput(stdout, stderr string) string {
	parts := make([]string, 0, 2)
	if s := strings.TrimSpace(stdout); s != "" {
		parts = append(parts, s)
	}
	if s := strings.TrimSpace(stderr); s != "" {
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n")
}

// evalPath resolves symlinks so that paths from the command line and paths
// reported by git compare equal (on macOS, t.TempDir() lives under /var,
// which is a symlink to /private/var). Paths that cannot be resolved, such
// as deleted worktrees, are returned cleaned but otherwise unchanged.
func evalPath(path string) string {
	if resolved, err := filepath.EvalSymlinks(path); err == nil {
		return resolved
	}
	return filepath.Clean(path)
}
