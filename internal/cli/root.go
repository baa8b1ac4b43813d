// Package cli implements the swiss command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dshills/swiss/internal/app"
	"github.com/dshills/swiss/internal/config"
	"github.com/dshills/swiss/internal/editor"
	"github.com/dshills/swiss/internal/logger"
	"github.com/dshills/swiss/review/model"
)

// App holds the dependencies shared by all commands.
type App struct {
	BaseDir string
	Config  *config.Config
	Logger  *zap.Logger

	In  io.Reader
	Out io.Writer
	Err io.Writer

	// Client overrides the configured provider. Used by tests.
	Client model.Client

	// OpenBrowser launches the editor URL; nil disables it.
	OpenBrowser editor.BrowserOpener
}

// NewApp loads configuration for the project at baseDir.
func NewApp(baseDir string) (*App, error) {
	a := &App{
		In:          os.Stdin,
		Out:         os.Stdout,
		Err:         os.Stderr,
		OpenBrowser: editor.OpenBrowser,
	}
	if err := a.load(baseDir); err != nil {
		return nil, err
	}
	return a, nil
}

// load reads configuration and builds the logger for baseDir.
func (a *App) load(baseDir string) error {
	cfg, err := config.Load(baseDir)
	if err != nil {
		return err
	}
	log, err := logger.New(cfg.Logging)
	if err != nil {
		return err
	}
	a.BaseDir = baseDir
	a.Config = cfg
	a.Logger = log
	return nil
}

// runtime builds a review runtime with progress on stderr.
func (a *App) runtime(ctx context.Context) (*app.Runtime, error) {
	opts := []app.Option{app.WithProgress(a.Err)}
	if a.Client != nil {
		opts = append(opts, app.WithClient(a.Client))
	}
	return app.New(ctx, a.BaseDir, a.Config, a.Logger, opts...)
}

// NewRootCommand builds the command tree.
func NewRootCommand(a *App) *cobra.Command {
	var dir string
	root := &cobra.Command{
		Use:           "swiss",
		Short:         "Run AI review workflows over text and diffs",
		Version:       app.Version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVarP(&dir, "dir", "C", "", "project directory (default: current directory)")
	root.PersistentPreRunE = func(cmd *cobra.Command, _ []string) error {
		if dir == "" {
			return nil
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return NewExitError(ExitFailure, err)
		}
		if err := a.load(abs); err != nil {
			return NewExitError(ExitFailure, err)
		}
		return nil
	}
	root.SetIn(a.In)
	root.SetOut(a.Out)
	root.SetErr(a.Err)

	root.AddCommand(
		newReviewCommand(a),
		newWorkflowsCommand(a),
		newHistoryCommand(a),
		newConfigCommand(a),
	)
	return root
}

// Run executes args and returns the process exit code.
func Run(ctx context.Context, a *App, args []string) int {
	root := NewRootCommand(a)
	root.SetArgs(args)

	err := root.ExecuteContext(ctx)
	if err == nil {
		return ExitOK
	}
	code, ok := IsExitError(err)
	if !ok {
		code = ExitFailure
	}
	if msg := errorMessage(err); msg != "" {
		fmt.Fprintln(a.Err, failureStyle.Render("Error: "+msg))
	}
	return code
}

// errorMessage returns the text to print for err, or "" for a bare exit code.
func errorMessage(err error) string {
	var exitErr *ExitError
	if errors.As(err, &exitErr) && exitErr.Err == nil {
		return ""
	}
	return err.Error()
}

// Execute runs the CLI for the current directory and process arguments.
func Execute(ctx context.Context) int {
	wd, err := os.Getwd()
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitFailure
	}
	a, err := NewApp(wd)
	if err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		return ExitFailure
	}
	defer func() { _ = a.Logger.Sync() }()
	return Run(ctx, a, os.Args[1:])
}
