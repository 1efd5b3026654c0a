// Package main is the entry point for the swap-worktree CLI.
//
// It delegates all functionality to the internal/cli package. Build-time
// variables (version, commit, date) are injected via ldflags during the
// release build; during development they default to "dev", "none", and
// "unknown".
package main

import (
	"github.com/shinji-kodama/swap-worktree/internal/cli"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

func main() {
	cli.Version = version
	cli.Commit = commit
	cli.Date = date

	cli.Execute(cli.NewRootCommand())
}
