package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"

	"github.com/shinji-kodama/swap-worktree/internal/config"
	"github.com/shinji-kodama/swap-worktree/internal/model"
	"github.com/shinji-kodama/swap-worktree/internal/swap"
)

// styles holds the lipgloss styles for one output stream. Each stream gets
// its own renderer so that color detection follows that stream's terminal.
type styles struct {
	success lipgloss.Style
	warning lipgloss.Style
	failure lipgloss.Style
	hint    lipgloss.Style
}

func newStyles(w io.Writer, mode config.ColorMode) styles {
	r := lipgloss.NewRenderer(w)
	switch {
	case mode == config.ColorNever:
		r.SetColorProfile(termenv.Ascii)
	case mode == config.ColorAlways:
		r.SetColorProfile(termenv.ANSI256)
	case os.Getenv("NO_COLOR") != "":
		r.SetColorProfile(termenv.Ascii)
	}

	return styles{
		success: r.NewStyle().Foreground(lipgloss.Color("78")),
		warning: r.NewStyle().Bold(true).Foreground(lipgloss.Color("214")),
		failure: r.NewStyle().Bold(true).Foreground(lipgloss.Color("197")),
		hint:    r.NewStyle().Foreground(lipgloss.Color("63")),
	}
}

// reporter writes swap results: the summary to out, warnings and errors to
// errOut. In JSON mode both are single JSON documents.
type reporter struct {
	out      io.Writer
	errOut   io.Writer
	json     bool
	outStyle styles
	errStyle styles
}

func newReporter(out, errOut io.Writer, mode config.ColorMode, jsonMode bool) *reporter {
	return &reporter{
		out:      out,
		errOut:   errOut,
		json:     jsonMode,
		outStyle: newStyles(out, mode),
		errStyle: newStyles(errOut, mode),
	}
}

// swapReport is the JSON form of a completed swap.
type swapReport struct {
	Outcome     string          `json:"outcome"`
	Destination worktreeReport  `json:"destination"`
	Source      worktreeReport  `json:"source"`
	Pending     []pendingReport `json:"pending"`
}

type worktreeReport struct {
	Path string `json:"path"`

	// Branch is the branch now checked out.
	Branch string `json:"branch"`

	// Stash is the hash of the stash captured there, if any.
	Stash string `json:"stash,omitempty"`
}

type pendingReport struct {
	Worktree string `json:"worktree"`
	Branch   string `json:"branch"`
	Stash    string `json:"stash"`
	Command  string `json:"command"`
	Error    string `json:"error"`
}

// printResult reports a swap whose branch exchange succeeded.
func (r *reporter) printResult(result *swap.Result) {
	plan := result.Plan

	if r.json {
		report := swapReport{
			Outcome: result.Outcome().String(),
			Destination: worktreeReport{
				Path:   plan.Destination.Path,
				Branch: plan.SourceBranch,
				Stash:  result.Captures.Destination.Handle.Hash,
			},
			Source: worktreeReport{
				Path:   plan.Source.Path,
				Branch: plan.DestinationBranch,
				Stash:  result.Captures.Source.Handle.Hash,
			},
			Pending: make([]pendingReport, 0, len(result.Pending)),
		}
		for _, p := range result.Pending {
			report.Pending = append(report.Pending, pendingReport{
				Worktree: p.Worktree,
				Branch:   p.Branch,
				Stash:    p.Stash.Hash,
				Command:  p.ManualCommand(),
				Error:    p.Err.Error(),
			})
		}
		data, _ := json.MarshalIndent(report, "", "  ")
		fmt.Fprintln(r.out, string(data))
		return
	}

	summary := fmt.Sprintf("Swap complete: '%s' -> '%s', '%s' -> '%s'.",
		plan.Destination.Path, plan.SourceBranch, plan.Source.Path, plan.DestinationBranch)
	fmt.Fprintln(r.out, r.outStyle.success.Render(summary))

	for _, p := range result.Pending {
		fmt.Fprintf(r.errOut, "%s %s\n", r.errStyle.warning.Render("Warning:"), p.Error())
		fmt.Fprintf(r.errOut, "  Resolve the conflict in '%s', then run:\n", p.Worktree)
		fmt.Fprintf(r.errOut, "    %s\n", r.errStyle.hint.Render(p.ManualCommand()))
	}
}

// printError reports a failed (or partially successful) run on errOut.
func (r *reporter) printError(cliErr *model.CLIError) {
	message := cliErr.Message
	if cliErr.Err != nil {
		message = fmt.Sprintf("%s: %v", cliErr.Message, cliErr.Err)
	}

	if r.json {
		// The JSON error shape follows the text: stdout stays reserved for
		// the result document.
		errObj := map[string]interface{}{
			"error": map[string]interface{}{
				"code":    int(cliErr.Code),
				"message": message,
			},
		}
		data, _ := json.MarshalIndent(errObj, "", "  ")
		fmt.Fprintln(r.errOut, string(data))
		return
	}

	label := r.errStyle.failure.Render("Error:")
	if cliErr.Code == model.ExitPartialSuccess {
		label = r.errStyle.warning.Render("Warning:")
	}
	fmt.Fprintf(r.errOut, "%s %s\n", label, message)
}
