package codex

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"
	"testing"

	"github.com/dshills/swiss/review/model"
)

// flagValue returns the argument following flag.
func flagValue(args []string, flag string) string {
	for i := 0; i < len(args)-1; i++ {
		if args[i] == flag {
			return args[i+1]
		}
	}
	return ""
}

var testFormat = model.ResponseFormat{
	Name:   "review_results",
	Schema: model.Schema{"type": "object", "required": []string{"results"}},
}

func TestThread_Run(t *testing.T) {
	var got Command
	var stdin string
	var schema map[string]interface{}

	runner := func(_ context.Context, cmd Command) error {
		got = cmd
		raw, _ := io.ReadAll(cmd.Stdin)
		stdin = string(raw)

		data, err := os.ReadFile(flagValue(cmd.Args, "--output-schema"))
		if err != nil {
			return err
		}
		if err := json.Unmarshal(data, &schema); err != nil {
			return err
		}
		return os.WriteFile(flagValue(cmd.Args, "--output-last-message"), []byte("{\"results\":[]}\n"), 0o600)
	}

	client := NewClient("").WithRunner(runner)
	thread, err := client.StartThread(context.Background(), model.ThreadOptions{Model: "gpt-5-codex", WorkingDir: "/repo"})
	if err != nil {
		t.Fatalf("StartThread() error = %v", err)
	}
	defer thread.Close()

	turn, err := thread.Run(context.Background(), "review this", testFormat)
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if turn.FinalResponse != `{"results":[]}` {
		t.Errorf("FinalResponse = %q", turn.FinalResponse)
	}
	if got.Binary != DefaultBinary || got.Dir != "/repo" {
		t.Errorf("command = %+v", got)
	}
	if got.Args[0] != "exec" || got.Args[len(got.Args)-1] != "-" {
		t.Errorf("args = %v", got.Args)
	}
	if flagValue(got.Args, "--model") != "gpt-5-codex" || flagValue(got.Args, "-C") != "/repo" {
		t.Errorf("args = %v", got.Args)
	}
	if stdin != "review this" {
		t.Errorf("stdin = %q", stdin)
	}
	if schema["type"] != "object" {
		t.Errorf("schema = %v", schema)
	}
}

func TestThread_CloseRemovesScratch(t *testing.T) {
	client := NewClient("codex").WithRunner(func(context.Context, Command) error { return nil })
	th, err := client.StartThread(context.Background(), model.ThreadOptions{Model: "m"})
	if err != nil {
		t.Fatalf("StartThread() error = %v", err)
	}
	scratch := th.(*thread).scratch
	if _, err := os.Stat(scratch); err != nil {
		t.Fatalf("scratch dir missing: %v", err)
	}

	if err := th.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}
	if _, err := os.Stat(scratch); !os.IsNotExist(err) {
		t.Errorf("scratch dir still present: %v", err)
	}
	if err := th.Close(); err != nil {
		t.Errorf("second Close() error = %v", err)
	}
	if _, err := th.Run(context.Background(), "p", testFormat); !errors.Is(err, model.ErrThreadClosed) {
		t.Errorf("Run after Close error = %v", err)
	}
}

func TestThread_Errors(t *testing.T) {
	t.Run("runner fails", func(t *testing.T) {
		cause := errors.New("exit status 1")
		client := NewClient("").WithRunner(func(context.Context, Command) error { return cause })
		thread, _ := client.StartThread(context.Background(), model.ThreadOptions{Model: "m"})
		defer thread.Close()
		if _, err := thread.Run(context.Background(), "p", testFormat); !errors.Is(err, cause) {
			t.Errorf("error = %v", err)
		}
	})

	t.Run("no final message", func(t *testing.T) {
		client := NewClient("").WithRunner(func(context.Context, Command) error { return nil })
		thread, _ := client.StartThread(context.Background(), model.ThreadOptions{Model: "m"})
		defer thread.Close()
		if _, err := thread.Run(context.Background(), "p", testFormat); err == nil {
			t.Error("expected error")
		}
	})

	t.Run("cancelled", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		client := NewClient("").WithRunner(func(context.Context, Command) error {
			cancel()
			return errors.New("signal: killed")
		})
		thread, _ := client.StartThread(context.Background(), model.ThreadOptions{Model: "m"})
		defer thread.Close()
		if _, err := thread.Run(ctx, "p", testFormat); !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
	})

	t.Run("model required", func(t *testing.T) {
		if _, err := NewClient("").StartThread(context.Background(), model.ThreadOptions{}); err == nil {
			t.Error("expected error")
		}
	})
}
