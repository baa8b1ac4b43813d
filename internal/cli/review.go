package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/spf13/cobra"

	"github.com/dshills/swiss/review"
)

// DefaultWorkflow is used when no -w flag is given.
const DefaultWorkflow = "default"

// reviewOutput is the --json document.
type reviewOutput struct {
	RunID      string            `json:"runId"`
	StopReason review.StopReason `json:"stopReason"`
	Results    []review.Result   `json:"results"`
	Runs       []review.Outcome  `json:"runs"`
	CostUSD    float64           `json:"costUsd"`
}

func newReviewCommand(a *App) *cobra.Command {
	var (
		diff      bool
		text      bool
		workflows []string
		asJSON    bool
		showCost  bool
	)

	cmd := &cobra.Command{
		Use:   "review",
		Short: "Review text or a diff read from stdin",
		Long: `Review reads a payload from stdin and runs it through one or more workflows.

The run stops at the first step that flags a finding scored above 80.
Exit status is 0 when every review passed, 2 when action is needed and 1 on error.`,
		Example: `  git diff | swiss review --diff
  swiss review -w security -w style < notes.md`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			raw, err := io.ReadAll(cmd.InOrStdin())
			if err != nil {
				return NewExitError(ExitFailure, fmt.Errorf("read stdin: %w", err))
			}
			if strings.TrimSpace(string(raw)) == "" {
				return NewExitError(ExitFailure, errors.New("no input on stdin"))
			}

			input := review.Input{Kind: review.KindText, Content: string(raw)}
			if diff {
				input.Kind = review.KindDiff
			}
			if len(workflows) == 0 {
				workflows = []string{DefaultWorkflow}
			}

			ctx := cmd.Context()
			rt, err := a.runtime(ctx)
			if err != nil {
				return NewExitError(ExitFailure, err)
			}
			defer func() { _ = rt.Close(ctx) }()

			report, err := rt.Review(ctx, workflows, input)
			if err != nil {
				if errors.Is(err, review.ErrConfigNotFound) {
					if names, listErr := rt.Store.ListWorkflows(); listErr == nil {
						err = fmt.Errorf("%w\navailable workflows: %s", err, availableList(names))
					}
				}
				return NewExitError(ExitFailure, err)
			}

			out := cmd.OutOrStdout()
			if asJSON {
				doc := reviewOutput{
					RunID:      report.RunID,
					StopReason: report.Outcome.StopReason,
					Results:    report.Outcome.Results,
					Runs:       report.Outcome.Runs,
					CostUSD:    report.Cost.GetTotalCost(),
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				if err := enc.Encode(doc); err != nil {
					return NewExitError(ExitFailure, err)
				}
			} else {
				printResults(out, report.Outcome)
				if showCost {
					printCost(cmd.ErrOrStderr(), report.Cost)
				}
			}

			if report.Outcome.StopReason == review.StopNeedsAction {
				return NewExitError(ExitNeedsAction, nil)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&text, "text", false, "treat stdin as plain text (default)")
	cmd.Flags().BoolVar(&diff, "diff", false, "treat stdin as a unified diff")
	cmd.MarkFlagsMutuallyExclusive("text", "diff")
	cmd.Flags().StringArrayVarP(&workflows, "workflow", "w", nil, "workflow to run; repeat to run several in order")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print results as JSON")
	cmd.Flags().BoolVar(&showCost, "cost", false, "print token usage and estimated cost to stderr")
	return cmd
}

func availableList(names []string) string {
	if len(names) == 0 {
		return "(none)"
	}
	return strings.Join(names, ", ")
}
