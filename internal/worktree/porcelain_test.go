package worktree

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shinji-kodama/swap-worktree/internal/model"
)

// TestParsePorcelainOutput directly tests parsePorcelainOutput with known
// porcelain format strings.
func TestParsePorcelainOutput(t *testing.T) {
	input := `worktree /repos/main
HEAD e1e1b70d2e8c133c96ab8050cc582f88aa83ef77
branch refs/heads/main

worktree /repos/feature-a
HEAD 1c1cdd9c68b3bd55a72efa87c67fd03c4b5aa20c
branch refs/heads/feature/a

worktree /repos/detached
HEAD 9a9a71114237d6a1f2ba4d0332eec2a3edf1b738
detached

`
	result := parsePorcelainOutput(input)
	require.Len(t, result, 3, "should parse three worktree entries")

	assert.Equal(t, "/repos/main", result[0].Path)
	assert.Equal(t, "e1e1b70d2e8c133c96ab8050cc582f88aa83ef77", result[0].HEAD)
	assert.Equal(t, "refs/heads/main", result[0].Branch)

	assert.Equal(t, "/repos/feature-a", result[1].Path)
	assert.Equal(t, "refs/heads/feature/a", result[1].Branch)

	assert.Equal(t, "/repos/detached", result[2].Path)
	assert.Empty(t, result[2].Branch, "detached HEAD should have no branch")
	assert.True(t, result[2].Detached)
}

// TestParsePorcelainOutputMarkers verifies bare, locked, and prunable
// markers, including markers followed by a reason.
func TestParsePorcelainOutputMarkers(t *testing.T) {
	input := `worktree /repos/bare
bare

worktree /repos/locked
HEAD abc123
branch refs/heads/locked
locked reason goes here

worktree /repos/gone
HEAD def456
branch refs/heads/gone
prunable gitdir file points to non-existent location
`
	result := parsePorcelainOutput(input)
	require.Len(t, result, 3)

	assert.True(t, result[0].IsBare, "bare marker should set IsBare")
	assert.Empty(t, result[0].Branch)

	assert.False(t, result[1].Prunable)
	assert.Equal(t, "refs/heads/locked", result[1].Branch)

	assert.True(t, result[2].Prunable, "prunable marker with reason should be recognized")
}

// TestParsePorcelainOutputEmpty verifies that empty input produces no entries.
func TestParsePorcelainOutputEmpty(t *testing.T) {
	assert.Empty(t, parsePorcelainOutput(""))
}

func TestParseStashList(t *testing.T) {
	input := "aaa111:stash@{0}\nbbb222:stash@{1}\n\nmalformed\n"
	refs := parseStashList(input)

	assert.Equal(t, map[string]string{
		"aaa111": "stash@{0}",
		"bbb222": "stash@{1}",
	}, refs)
}

// TestBranchNames verifies sorting, de-duplication, and skipping of
// detached worktrees.
func TestBranchNames(t *testing.T) {
	refs := []model.WorktreeRef{
		{Path: "/a", Branch: "main"},
		{Path: "/b", Branch: "feature/b"},
		{Path: "/c"},
		{Path: "/d", Branch: "main"},
	}
	assert.Equal(t, []string{"feature/b", "main"}, branchNames(refs))
	assert.Empty(t, branchNames(nil))
}
