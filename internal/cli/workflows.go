package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/dshills/swiss/review/store"
)

func newWorkflowsCommand(a *App) *cobra.Command {
	return &cobra.Command{
		Use:   "workflows",
		Short: "List the workflows defined in this project",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			fs := store.NewFileStore(a.BaseDir)
			names, err := fs.ListWorkflows()
			if err != nil {
				return NewExitError(ExitFailure, err)
			}
			out := cmd.OutOrStdout()
			if len(names) == 0 {
				fmt.Fprintln(out, mutedStyle.Render("No workflows in "+fs.Root()))
				return nil
			}

			t := newTable("NAME", "STEPS", "MODEL")
			for _, name := range names {
				cfg, err := fs.LoadWorkflow(cmd.Context(), name)
				if err != nil {
					t.Row(name, failureStyle.Render("invalid"), "")
					a.Logger.Sugar().Debugw("skipping invalid workflow", "workflow", name, "error", err)
					continue
				}
				t.Row(name, strconv.Itoa(len(cfg.Steps)), cfg.DefaultModel)
			}
			fmt.Fprintln(out, t.Render())
			return nil
		},
	}
}
