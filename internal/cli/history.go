package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/dshills/swiss/internal/app"
	"github.com/dshills/swiss/internal/history"
)

func newHistoryCommand(a *App) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Show recent review runs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			store, done, err := openHistory(cmd, a)
			if err != nil {
				return err
			}
			defer done()

			runs, err := store.List(cmd.Context(), limit)
			if err != nil {
				return NewExitError(ExitFailure, err)
			}
			out := cmd.OutOrStdout()
			if len(runs) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No runs recorded."))
				return nil
			}
			t := newTable("RUN", "STARTED", "WORKFLOWS", "RESULT", "STEPS", "COST")
			for _, r := range runs {
				t.Row(
					r.ID,
					r.StartedAt.Local().Format(time.DateTime),
					strings.Join(r.Workflows, ","),
					stopLabel(string(r.StopReason)),
					strconv.Itoa(r.StepsRun),
					fmt.Sprintf("$%.4f", r.CostUSD),
				)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
	cmd.Flags().IntVarP(&limit, "limit", "n", 20, "number of runs to show")
	cmd.AddCommand(newHistoryShowCommand(a))
	return cmd
}

func newHistoryShowCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "show <run-id>",
		Short: "Show the flagged results of one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, done, err := openHistory(cmd, a)
			if err != nil {
				return err
			}
			defer done()

			run, err := store.Get(cmd.Context(), args[0])
			if errors.Is(err, history.ErrNotFound) {
				return NewExitError(ExitFailure, fmt.Errorf("run %q not found", args[0]))
			}
			if err != nil {
				return NewExitError(ExitFailure, err)
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s %s\n", titleStyle.Render("Run"), run.ID)
			fmt.Fprintf(out, "Workflows: %s\n", strings.Join(run.Workflows, ", "))
			fmt.Fprintf(out, "Input: %s\n", run.InputKind)
			fmt.Fprintf(out, "Result: %s after %d steps in %s\n", stopLabel(string(run.StopReason)), run.StepsRun, run.Duration().Round(time.Millisecond))
			fmt.Fprintf(out, "Cost: $%.4f\n\n", run.CostUSD)
			for _, r := range run.Results {
				fmt.Fprintln(out, formatResult(r))
				fmt.Fprint(out, resultSeparator+"\n")
			}
			return nil
		},
	}
}

// openHistory opens the configured history store through a runtime so
// relative sqlite paths resolve against the project directory.
func openHistory(cmd *cobra.Command, a *App) (*history.Store, func(), error) {
	if !a.Config.History.Enabled {
		return nil, nil, NewExitError(ExitFailure, app.ErrHistoryDisabled)
	}
	ctx := cmd.Context()
	rt, err := a.runtime(ctx)
	if err != nil {
		return nil, nil, NewExitError(ExitFailure, err)
	}
	store, err := rt.OpenHistory(ctx)
	if err != nil {
		_ = rt.Close(ctx)
		return nil, nil, NewExitError(ExitFailure, err)
	}
	return store, func() { _ = rt.Close(ctx) }, nil
}

func stopLabel(reason string) string {
	if reason == "needs_action" {
		return scoreStyle.Render(reason)
	}
	return passStyle.Render(reason)
}
