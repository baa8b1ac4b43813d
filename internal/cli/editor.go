package cli

import (
	"fmt"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/swiss/internal/editor"
)

func newConfigCommand(a *App) *cobra.Command {
	var (
		host      string
		port      int
		noBrowser bool
	)

	cmd := &cobra.Command{
		Use:   "config",
		Short: "Open the workflow editor in a browser",
		Long: `Config starts a local web server for editing workflows, prompts and
contexts under .swiss/. If the configured port is taken the next free port
is used. Press Ctrl-C to stop.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			rt, err := a.runtime(ctx)
			if err != nil {
				return NewExitError(ExitFailure, err)
			}
			defer func() { _ = rt.Close(cmd.Context()) }()

			ln, err := editor.Listen(host, port)
			if err != nil {
				return NewExitError(ExitFailure, err)
			}
			url := editor.URL(ln.Addr())
			fmt.Fprintf(cmd.OutOrStdout(), "Editor running at %s\n", url)

			if !noBrowser && a.Config.Editor.OpenBrowser && a.OpenBrowser != nil {
				if err := a.OpenBrowser(ctx, url); err != nil {
					a.Logger.Warn("failed to open browser", zap.String("url", url), zap.Error(err))
				}
			}

			if err := editor.New(rt).Serve(ctx, ln); err != nil {
				return NewExitError(ExitFailure, err)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&host, "host", a.Config.Editor.Host, "address to listen on")
	cmd.Flags().IntVarP(&port, "port", "p", a.Config.Editor.Port, "first port to try")
	cmd.Flags().BoolVar(&noBrowser, "no-browser", false, "do not open a browser")
	return cmd
}
