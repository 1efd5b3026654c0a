// Package cli implements the cobra-based command line for swap-worktree.
//
// swap-worktree is a single command: it takes a destination worktree
// directory and the name of a branch checked out in another worktree, and
// swaps the two. This file defines the command, its flags, shell
// completion, and the translation of swap errors into exit codes.
package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/shinji-kodama/swap-worktree/internal/config"
	"github.com/shinji-kodama/swap-worktree/internal/logging"
	"github.com/shinji-kodama/swap-worktree/internal/model"
	"github.com/shinji-kodama/swap-worktree/internal/swap"
	"github.com/shinji-kodama/swap-worktree/internal/worktree"
)

// Global flag variables. They are bound to cobra flags on the root command
// and reset to their defaults every time NewRootCommand runs.
var (
	// debug enables step-by-step progress and git command tracing on stderr.
	debug bool

	// configPath overrides the configuration file lookup.
	configPath string

	// noColor disables styled output regardless of the config file.
	noColor bool

	// jsonOutput prints the result, and errors, as JSON.
	jsonOutput bool

	// colorMode is the effective color setting, resolved from config and
	// flags once the command runs. Execute uses it to style errors.
	colorMode = config.ColorAuto
)

// Version, Commit, and Date are set at build time via ldflags.
// They are injected from the main package to display version information.
var (
	// Version is the semantic version of the binary (e.g., "1.0.0").
	Version = "dev"

	// Commit is the Git commit hash the binary was built from.
	Commit = "none"

	// Date is the build timestamp.
	Date = "unknown"
)

// NewRootCommand creates and configures the root cobra command.
func NewRootCommand() *cobra.Command {
	colorMode = config.ColorAuto

	rootCmd := &cobra.Command{
		Use:   "swap-worktree [flags] <DESTINATION_WORKTREE_DIR> <SOURCE_BRANCH_NAME>",
		Short: "Swap branches and uncommitted changes between two Git worktrees",
		Long: `swap-worktree exchanges the checked-out branches of two worktrees of the
same repository. Uncommitted changes (staged, unstaged, and untracked) move
with their branch: after the swap, each worktree holds the branch and the
work-in-progress that used to be in the other one.

DESTINATION_WORKTREE_DIR is any path inside the worktree that will receive
SOURCE_BRANCH_NAME. SOURCE_BRANCH_NAME must be checked out in exactly one
other worktree; that worktree receives the destination's current branch.

Changes are parked in git stashes while the branches move. A stash is only
dropped after it was applied; any stash that could not be applied is kept
and reported with the command that applies it.

Exit codes:
  0  success
  1  general error (arguments, configuration)
  2  invalid invocation, nothing was changed
  3  changes could not be stashed, no branch was changed
  4  branch switch failed and was rolled back
  5  branch switch failed and could not be rolled back
  6  branches swapped, but some changes are still in a stash

Examples:
  swap-worktree ../main-wt feature/login
  swap-worktree --debug . hotfix`,

		Args: cobra.ExactArgs(2),

		// SilenceUsage prevents cobra from printing usage on every error.
		// We handle error output ourselves for cleaner UX.
		SilenceUsage: true,

		// SilenceErrors prevents cobra from printing errors automatically.
		// Execute formats them (text or JSON) and picks the exit code.
		SilenceErrors: true,

		Version: fmt.Sprintf("%s (commit: %s, built: %s)", Version, Commit, Date),

		ValidArgsFunction: completeArgs,

		RunE: func(cmd *cobra.Command, args []string) error {
			return runSwap(cmd, args[0], args[1])
		},
	}

	rootCmd.Flags().BoolVarP(&debug, "debug", "d", false, "Print each step and every git command to stderr")
	rootCmd.Flags().StringVar(&configPath, "config", "", "Path to a configuration file (YAML, or JSON with comments)")
	rootCmd.Flags().BoolVar(&noColor, "no-color", false, "Disable colored output")
	rootCmd.Flags().BoolVar(&jsonOutput, "json", false, "Output the result in JSON format")

	return rootCmd
}

// loadConfig reads the configuration file and applies command-line flags
// on top of it.
func loadConfig(cmd *cobra.Command) (config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return cfg, err
	}
	if cmd.Flags().Changed("debug") {
		cfg.Debug = debug
	}
	if noColor {
		cfg.Color = config.ColorNever
	}
	return cfg, nil
}

// newOrchestrator wires the git-backed worktree manager into a swap
// orchestrator according to cfg.
func newOrchestrator(cfg config.Config, logger *slog.Logger) *swap.Orchestrator {
	manager := worktree.NewManager(
		worktree.WithGitBinary(cfg.GitBinary),
		worktree.WithRestoreIndex(cfg.RestoreIndex),
		worktree.WithLogger(logger),
	)
	return swap.NewOrchestrator(manager,
		swap.WithLogger(logger),
		swap.WithStashPrefix(cfg.StashMessagePrefix),
	)
}

// runSwap is the main logic of the command.
func runSwap(cmd *cobra.Command, destination, sourceBranch string) error {
	if noColor {
		colorMode = config.ColorNever
	}
	cfg, err := loadConfig(cmd)
	if err != nil {
		return model.WrapCLIError(model.ExitGeneralError, "failed to load configuration", err)
	}
	colorMode = cfg.Color

	logger := logging.New(logging.Config{Writer: cmd.ErrOrStderr(), Debug: cfg.Debug})
	if cfg.Path != "" {
		logger.Debug("Loaded configuration", "path", cfg.Path)
	}

	result, err := newOrchestrator(cfg, logger).Swap(cmd.Context(), destination, sourceBranch)
	if err != nil {
		return err
	}

	newReporter(cmd.OutOrStdout(), cmd.ErrOrStderr(), cfg.Color, jsonOutput).printResult(result)

	if result.Outcome() == swap.OutcomePartial {
		return model.NewCLIError(model.ExitPartialSuccess,
			fmt.Sprintf("branches were swapped, but %d stash(es) could not be applied and were kept", len(result.Pending)))
	}
	return nil
}

// completeArgs completes the destination as a directory and the source as
// a branch checked out in some other worktree of the destination's
// repository.
func completeArgs(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	switch len(args) {
	case 0:
		return nil, cobra.ShellCompDirectiveFilterDirs
	case 1:
		return completeBranches(cmd.Context(), args[0], toComplete), cobra.ShellCompDirectiveNoFileComp
	default:
		return nil, cobra.ShellCompDirectiveNoFileComp
	}
}

func completeBranches(ctx context.Context, destination, toComplete string) []string {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		cfg = config.Default()
	}
	manager := worktree.NewManager(worktree.WithGitBinary(cfg.GitBinary))

	dest, err := manager.ResolveWorktree(ctx, destination)
	if err != nil {
		return nil
	}
	branches, err := manager.CheckedOutBranches(ctx, dest.Path)
	if err != nil {
		return nil
	}

	var out []string
	for _, b := range branches {
		if b != dest.Branch && strings.HasPrefix(b, toComplete) {
			out = append(out, b)
		}
	}
	return out
}

// Execute runs the root command and handles exit codes.
// This is the main entry point called from main.go.
func Execute(rootCmd *cobra.Command) {
	if err := rootCmd.Execute(); err != nil {
		cliErr := toCLIError(err)
		newReporter(rootCmd.OutOrStdout(), rootCmd.ErrOrStderr(), colorMode, jsonOutput).printError(cliErr)
		os.Exit(int(cliErr.Code))
	}
}

// toCLIError classifies err into a CLIError carrying the exit code. Errors
// from the swap package map to their own codes; anything else, including
// cobra's argument errors, is a general error.
func toCLIError(err error) *model.CLIError {
	var (
		cliErr       *model.CLIError
		precondition *swap.PreconditionError
		capture      *swap.CaptureError
		exchange     *swap.ExchangeError
		inconsistent *swap.InconsistentStateError
	)

	switch {
	case errors.As(err, &cliErr):
		return cliErr
	case errors.As(err, &inconsistent):
		return model.NewCLIError(model.ExitInconsistentState, inconsistent.Error())
	case errors.As(err, &exchange):
		return model.NewCLIError(model.ExitExchangeFailed, exchange.Error())
	case errors.As(err, &capture):
		return model.NewCLIError(model.ExitCaptureFailed, capture.Error())
	case errors.As(err, &precondition):
		return model.NewCLIError(model.ExitPrecondition, precondition.Error())
	default:
		return model.NewCLIError(model.ExitGeneralError, err.Error())
	}
}
