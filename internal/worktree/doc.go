// Package worktree provides the Git operations swap-worktree needs, for
// both the swap itself and shell completion.
//
// All Git operations are performed via os/exec calls to the git binary,
// rather than using a Git library like go-git. This approach:
//   - Avoids CGO dependencies (libgit2)
//   - Uses the exact same Git behavior the user sees in their terminal
//   - Requires Git >= 2.23 (for `git switch`)
//
// The Manager struct implements the repository backend consumed by the
// swap orchestrator: worktree resolution and listing, dirty-state checks,
// stash create/apply/drop, detaching, and branch checkout.
package worktree
