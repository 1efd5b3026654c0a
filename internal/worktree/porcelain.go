package worktree

import (
	"context"
	"sort"
	"strings"

	"github.com/shinji-kodama/swap-worktree/internal/model"
)

// porcelainEntry holds one worktree block as parsed from
// `git worktree list --porcelain` output.
//
// Example porcelain output for a single worktree block:
//
//	worktree /path/to/feature-branch
//	HEAD abc123def456
//	branch refs/heads/feature-branch
type porcelainEntry struct {
	// Path is the absolute filesystem path to the worktree directory.
	Path string

	// Branch is the full branch reference (e.g., "refs/heads/main").
	// Empty if the worktree is in a detached HEAD state.
	Branch string

	// HEAD is the commit SHA that the worktree currently points to.
	HEAD string

	// IsBare indicates whether this entry represents a bare repository.
	IsBare bool

	// Detached is set by the "detached" marker.
	Detached bool

	// Prunable is set by the "prunable" marker, which git prints when the
	// worktree directory has gone missing.
	Prunable bool
}

// parsePorcelainOutput parses the output of `git worktree list --porcelain`
// into a slice of porcelainEntry structs.
//
// The porcelain format uses blank lines to separate worktree blocks.
// Each block contains key-value pairs (space-separated) and optional
// standalone markers like "bare", "detached", "locked", or "prunable".
// Markers may carry a reason after a space ("prunable gitdir file points
// to non-existent location").
func parsePorcelainOutput(output string) []porcelainEntry {
	var entries []porcelainEntry

	lines := strings.Split(strings.TrimRight(output, "\n"), "\n")

	var current *porcelainEntry
	for _, line := range lines {
		line = strings.TrimRight(line, "\r")

		// A blank line signals the end of a worktree block.
		if strings.TrimSpace(line) == "" {
			if current != nil {
				entries = append(entries, *current)
				current = nil
			}
			continue
		}

		key, value, _ := strings.Cut(line, " ")
		if key == "worktree" {
			current = &porcelainEntry{Path: strings.TrimSpace(value)}
			continue
		}
		if current == nil {
			continue
		}

		switch key {
		case "HEAD":
			current.HEAD = strings.TrimSpace(value)
		case "branch":
			current.Branch = strings.TrimSpace(value)
		case "bare":
			current.IsBare = true
		case "detached":
			current.Detached = true
		case "prunable":
			current.Prunable = true
		}
	}

	// Handle the last block if the output doesn't end with a blank line.
	if current != nil {
		entries = append(entries, *current)
	}

	return entries
}

// parseStashList parses `git stash list --format=%H:%gd` into a map from
// stash commit hash to its current stash@{n} reference.
func parseStashList(output string) map[string]string {
	refs := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		hash, ref, ok := strings.Cut(strings.TrimSpace(line), ":")
		if !ok || hash == "" {
			continue
		}
		refs[hash] = strings.TrimSpace(ref)
	}
	return refs
}

// branchNames returns the sorted, de-duplicated short names of the branches
// checked out in refs. Detached worktrees are skipped.
func branchNames(refs []model.WorktreeRef) []string {
	seen := make(map[string]struct{}, len(refs))
	names := make([]string, 0, len(refs))
	for _, ref := range refs {
		if ref.Branch == "" {
			continue
		}
		if _, ok := seen[ref.Branch]; ok {
			continue
		}
		seen[ref.Branch] = struct{}{}
		names = append(names, ref.Branch)
	}
	sort.Strings(names)
	return names
}

// CheckedOutBranches returns the branches currently checked out in any
// worktree of the repository containing repoPath. These are exactly the
// branches that can be named as a swap source, so shell completion offers
// them.
func (m *Manager) CheckedOutBranches(ctx context.Context, repoPath string) ([]string, error) {
	refs, err := m.ListWorktrees(ctx, repoPath)
	if err != nil {
		return nil, err
	}
	return branchNames(refs), nil
}
