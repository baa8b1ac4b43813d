package cli

import (
	"fmt"
	"io"
	"strings"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/dshills/swiss/review"
)

var (
	titleStyle   = lipgloss.NewStyle().Bold(true)
	scoreStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B")).Bold(true)
	pathStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#5B8DEF"))
	passStyle    = lipgloss.NewStyle().Foreground(lipgloss.Color("#4CAF50")).Bold(true)
	mutedStyle   = lipgloss.NewStyle().Foreground(lipgloss.Color("#999999"))
	headerStyle  = lipgloss.NewStyle().Bold(true)
	failureStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#FF6B6B"))
)

const resultSeparator = "\n---\n"

// newTable returns a borderless table with bold headers.
func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.HiddenBorder()).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle.PaddingRight(2)
			}
			return lipgloss.NewStyle().PaddingRight(2)
		})
}

// formatResult renders one flagged result.
func formatResult(r review.Result) string {
	location := r.FilePath
	if location == "" {
		location = "(input)"
	}
	if r.Line > 0 {
		location = fmt.Sprintf("%s:%d", location, r.Line)
	}
	return strings.Join([]string{
		titleStyle.Render("Review: " + r.Name),
		"Score: " + scoreStyle.Render(fmt.Sprint(r.Score)),
		"File: " + pathStyle.Render(location),
		"",
		r.Review,
	}, "\n")
}

// printResults writes the human-readable report.
func printResults(w io.Writer, outcome review.BatchOutcome) {
	for _, r := range outcome.Results {
		fmt.Fprintln(w, formatResult(r))
		fmt.Fprint(w, resultSeparator+"\n")
	}
	if outcome.StopReason == review.StopCompleted {
		fmt.Fprintln(w, passStyle.Render("All reviews passed."))
	}
}

// printCost writes the per-model cost summary.
func printCost(w io.Writer, cost *review.CostTracker) {
	in, out := cost.GetTokenUsage()
	fmt.Fprintln(w, mutedStyle.Render(fmt.Sprintf("tokens: %d in / %d out, cost: $%.4f", in, out, cost.GetTotalCost())))
}
