package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/dshills/swiss/internal/config"
	"github.com/dshills/swiss/review"
	"github.com/dshills/swiss/review/model"
)

const flaggedResponse = `{"results":[{"review":"nil deref","score":92,"filePath":"main.go","line":10},{"review":"naming","score":40,"filePath":"main.go","line":3}]}`

type harness struct {
	app    *App
	client *model.MockClient
	out    *bytes.Buffer
	err    *bytes.Buffer
}

func newHarness(t *testing.T, stdin string) *harness {
	t.Helper()
	base := t.TempDir()
	files := map[string]string{
		"flows/default.yaml":  "model: gpt-5\nreviews:\n  - name: bugs\n  - name: style\n",
		"flows/security.yaml": "model: gpt-5\nreviews:\n  - name: bugs\n",
		"prompts/bugs.md":     "Find bugs.",
		"prompts/style.md":    "Check style.",
	}
	for rel, content := range files {
		path := filepath.Join(base, ".swiss", rel)
		require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
		require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	}

	cfg := config.DefaultConfig()
	cfg.History.Enabled = true
	cfg.History.Driver = "sqlite"
	cfg.History.DSN = filepath.Join(base, "history.db")

	h := &harness{
		client: &model.MockClient{},
		out:    &bytes.Buffer{},
		err:    &bytes.Buffer{},
	}
	h.app = &App{
		BaseDir: base,
		Config:  cfg,
		Logger:  zap.NewNop(),
		In:      strings.NewReader(stdin),
		Out:     h.out,
		Err:     h.err,
		Client:  h.client,
	}
	return h
}

func (h *harness) run(args ...string) int {
	return Run(context.Background(), h.app, args)
}

func TestReview_Completed(t *testing.T) {
	h := newHarness(t, "package main\n")

	code := h.run("review")

	assert.Equal(t, ExitOK, code)
	assert.Contains(t, h.out.String(), "All reviews passed.")
	assert.Equal(t, 2, h.client.CallCount())
	assert.Contains(t, h.err.String(), "[review_started] workflow=default 1/2 bugs")
}

func TestReview_NeedsAction(t *testing.T) {
	h := newHarness(t, "diff --git a/main.go b/main.go\n")
	h.client.Turns = []model.Turn{{FinalResponse: flaggedResponse}}

	code := h.run("review", "--diff")

	assert.Equal(t, ExitNeedsAction, code)
	out := h.out.String()
	assert.Contains(t, out, "Review: bugs")
	assert.Contains(t, out, "nil deref")
	assert.Contains(t, out, "main.go:10")
	assert.NotContains(t, out, "naming")
	assert.NotContains(t, out, "All reviews passed.")
	assert.NotContains(t, h.err.String(), "Error:")
	assert.Equal(t, 1, h.client.CallCount())
	assert.Contains(t, h.client.Calls[0].Prompt, "```diff")
}

func TestReview_JSON(t *testing.T) {
	h := newHarness(t, "x")
	h.client.Turns = []model.Turn{{FinalResponse: flaggedResponse}}

	code := h.run("review", "--json", "-w", "security")
	require.Equal(t, ExitNeedsAction, code)

	var doc reviewOutput
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &doc))
	assert.Equal(t, review.StopNeedsAction, doc.StopReason)
	assert.NotEmpty(t, doc.RunID)
	require.Len(t, doc.Results, 1)
	assert.Equal(t, "bugs", doc.Results[0].Name)
	require.Len(t, doc.Runs, 1)
	assert.Equal(t, "security", doc.Runs[0].Workflow)
}

func TestReview_SeveralWorkflowsInOrder(t *testing.T) {
	h := newHarness(t, "x")

	code := h.run("review", "-w", "security", "-w", "default", "--json")
	require.Equal(t, ExitOK, code)

	var doc reviewOutput
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &doc))
	require.Len(t, doc.Runs, 2)
	assert.Equal(t, "security", doc.Runs[0].Workflow)
	assert.Equal(t, "default", doc.Runs[1].Workflow)
	assert.Equal(t, 3, h.client.CallCount())
}

func TestReview_Failures(t *testing.T) {
	t.Run("blank stdin", func(t *testing.T) {
		h := newHarness(t, "  \n\t")
		assert.Equal(t, ExitFailure, h.run("review"))
		assert.Contains(t, h.err.String(), "no input on stdin")
		assert.Zero(t, h.client.CallCount())
	})

	t.Run("unknown workflow lists available", func(t *testing.T) {
		h := newHarness(t, "x")
		assert.Equal(t, ExitFailure, h.run("review", "-w", "nope"))
		assert.Contains(t, h.err.String(), "available workflows: default, security")
	})

	t.Run("service failure", func(t *testing.T) {
		h := newHarness(t, "x")
		h.client.Errs = []error{errors.New("boom")}
		assert.Equal(t, ExitFailure, h.run("review"))
		assert.Contains(t, h.err.String(), "Error:")
	})

	t.Run("text and diff are exclusive", func(t *testing.T) {
		h := newHarness(t, "x")
		assert.Equal(t, ExitFailure, h.run("review", "--text", "--diff"))
		assert.Zero(t, h.client.CallCount())
	})
}

func TestReview_Cost(t *testing.T) {
	h := newHarness(t, "x")
	h.client.Turns = []model.Turn{{FinalResponse: `{"results":[]}`, Usage: model.Usage{InputTokens: 100, OutputTokens: 20}}}

	require.Equal(t, ExitOK, h.run("review", "-w", "security", "--cost"))
	assert.Contains(t, h.err.String(), "tokens: 100 in / 20 out")
}

func TestWorkflows(t *testing.T) {
	h := newHarness(t, "")
	require.NoError(t, os.WriteFile(filepath.Join(h.app.BaseDir, ".swiss", "flows", "broken.yaml"), []byte("reviews: ["), 0o644))

	require.Equal(t, ExitOK, h.run("workflows"))

	out := h.out.String()
	assert.Contains(t, out, "NAME")
	assert.Regexp(t, `default\s+2\s+gpt-5`, out)
	assert.Regexp(t, `security\s+1\s+gpt-5`, out)
	assert.Regexp(t, `broken\s+invalid`, out)
}

func TestHistory(t *testing.T) {
	h := newHarness(t, "x")
	h.client.Turns = []model.Turn{{FinalResponse: flaggedResponse}}
	require.Equal(t, ExitNeedsAction, h.run("review", "--json"))

	var doc reviewOutput
	require.NoError(t, json.Unmarshal(h.out.Bytes(), &doc))

	h.out.Reset()
	require.Equal(t, ExitOK, h.run("history"))
	assert.Contains(t, h.out.String(), doc.RunID)
	assert.Contains(t, h.out.String(), "needs_action")

	h.out.Reset()
	require.Equal(t, ExitOK, h.run("history", "show", doc.RunID))
	assert.Contains(t, h.out.String(), "Workflows: default")
	assert.Contains(t, h.out.String(), "nil deref")

	h.err.Reset()
	assert.Equal(t, ExitFailure, h.run("history", "show", "missing"))
	assert.Contains(t, h.err.String(), `run "missing" not found`)
}

func TestHistory_Disabled(t *testing.T) {
	h := newHarness(t, "")
	h.app.Config.History.Enabled = false

	assert.Equal(t, ExitFailure, h.run("history"))
	assert.Contains(t, h.err.String(), "history")
}

func TestExitError(t *testing.T) {
	cause := errors.New("bad")
	err := error(NewExitError(ExitFailure, cause))

	code, ok := IsExitError(err)
	assert.True(t, ok)
	assert.Equal(t, ExitFailure, code)
	assert.ErrorIs(t, err, cause)
	assert.Equal(t, "bad", err.Error())

	assert.Equal(t, "exit status 2", NewExitError(ExitNeedsAction, nil).Error())

	_, ok = IsExitError(cause)
	assert.False(t, ok)
}

func TestFormatResult(t *testing.T) {
	out := formatResult(review.Result{Name: "bugs", Review: "fix it", Score: 90})
	assert.Contains(t, out, "(input)")
	assert.NotContains(t, out, ":0")
}

func TestRoot_DirFlag(t *testing.T) {
	h := newHarness(t, "")
	other := newHarness(t, "")
	require.NoError(t, os.Remove(filepath.Join(other.app.BaseDir, ".swiss", "flows", "security.yaml")))

	require.Equal(t, ExitOK, h.run("--dir", other.app.BaseDir, "workflows"))

	assert.Equal(t, other.app.BaseDir, h.app.BaseDir)
	assert.Contains(t, h.out.String(), "default")
	assert.NotContains(t, h.out.String(), "security")
}
