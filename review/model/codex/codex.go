// Package codex runs review turns through the local codex CLI.
package codex

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"sync"

	"github.com/dshills/swiss/review/model"
)

// DefaultBinary is the executable looked up on PATH.
const DefaultBinary = "codex"

// Command describes one CLI invocation.
type Command struct {
	Binary string
	Args   []string
	Dir    string
	Stdin  io.Reader
}

// Runner executes a Command. Errors should carry the process stderr.
type Runner func(ctx context.Context, cmd Command) error

// Client implements model.Client on top of `codex exec`.
//
// Every Run is a separate process. The contract schema is written to a
// file and passed with --output-schema; the final agent message is read
// back from the --output-last-message file. Token usage is not reported.
type Client struct {
	binary string
	run    Runner
}

// NewClient creates a Client using binary (DefaultBinary when empty).
func NewClient(binary string) *Client {
	if binary == "" {
		binary = DefaultBinary
	}
	return &Client{binary: binary, run: execRunner}
}

// WithRunner replaces the process runner. Used by tests.
func (c *Client) WithRunner(r Runner) *Client {
	if r != nil {
		c.run = r
	}
	return c
}

// StartThread implements model.Client. The thread owns a scratch directory
// that is removed on Close.
func (c *Client) StartThread(ctx context.Context, opts model.ThreadOptions) (model.Thread, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if opts.Model == "" {
		return nil, errors.New("codex: model is required")
	}
	scratch, err := os.MkdirTemp("", "swiss-codex-")
	if err != nil {
		return nil, fmt.Errorf("codex: create scratch dir: %w", err)
	}
	return &thread{client: c, opts: opts, scratch: scratch}, nil
}

type thread struct {
	client  *Client
	opts    model.ThreadOptions
	scratch string

	mu     sync.Mutex
	turns  int
	closed bool
}

// Run implements model.Thread.
func (t *thread) Run(ctx context.Context, prompt string, format model.ResponseFormat) (model.Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return model.Turn{}, model.ErrThreadClosed
	}
	if ctx.Err() != nil {
		return model.Turn{}, ctx.Err()
	}
	t.turns++

	lastPath := filepath.Join(t.scratch, fmt.Sprintf("last-%d.txt", t.turns))
	args := []string{
		"exec",
		"--skip-git-repo-check",
		"--model", t.opts.Model,
		"--output-last-message", lastPath,
	}
	if format.Schema != nil {
		schemaPath := filepath.Join(t.scratch, "schema.json")
		raw, err := json.Marshal(format.Schema)
		if err != nil {
			return model.Turn{}, fmt.Errorf("codex: encode schema: %w", err)
		}
		if err := os.WriteFile(schemaPath, raw, 0o600); err != nil {
			return model.Turn{}, fmt.Errorf("codex: write schema: %w", err)
		}
		args = append(args, "--output-schema", schemaPath)
	}
	if t.opts.WorkingDir != "" {
		args = append(args, "-C", t.opts.WorkingDir)
	}
	// Read the prompt from stdin.
	args = append(args, "-")

	cmd := Command{
		Binary: t.client.binary,
		Args:   args,
		Dir:    t.opts.WorkingDir,
		Stdin:  strings.NewReader(prompt),
	}
	if err := t.client.run(ctx, cmd); err != nil {
		if ctx.Err() != nil {
			return model.Turn{}, ctx.Err()
		}
		return model.Turn{}, fmt.Errorf("codex: %w", err)
	}

	out, err := os.ReadFile(lastPath)
	if err != nil {
		return model.Turn{}, fmt.Errorf("codex: read final message: %w", err)
	}
	return model.Turn{FinalResponse: strings.TrimSpace(string(out))}, nil
}

// Close implements model.Thread.
func (t *thread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closed {
		return nil
	}
	t.closed = true
	return os.RemoveAll(t.scratch)
}

func execRunner(ctx context.Context, c Command) error {
	cmd := exec.CommandContext(ctx, c.Binary, c.Args...)
	cmd.Dir = c.Dir
	cmd.Stdin = c.Stdin
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("command failed: %w (stderr: %s)", err, strings.TrimSpace(stderr.String()))
	}
	return nil
}
