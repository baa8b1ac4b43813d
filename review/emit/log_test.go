package emit

import (
	"bytes"
	"encoding/json"
	"strings"
	"testing"
)

func TestLogEmitter_Text(t *testing.T) {
	t.Run("review_started line", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(Event{
			Kind: KindReviewStarted, Workflow: "default", Index: 1, Total: 3, Name: "security", Model: "gpt-5",
		})

		want := "[review_started] workflow=default 1/3 security model=gpt-5\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("review_finished line", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(Event{
			Kind: KindReviewFinished, Workflow: "default", Index: 2, Total: 3, Name: "style", ElapsedMs: 1500, FlaggedCount: 0,
		})

		want := "[review_finished] workflow=default 2/3 style elapsed=1500ms flagged=0\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("review_failed line", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(Event{
			Kind: KindReviewFailed, Workflow: "default", Index: 1, Total: 3, Name: "bugs", ElapsedMs: 40, Error: "service unavailable",
		})

		want := "[review_failed] workflow=default 1/3 bugs elapsed=40ms error=\"service unavailable\"\n"
		if buf.String() != want {
			t.Errorf("got %q, want %q", buf.String(), want)
		}
	})

	t.Run("meta appended as JSON", func(t *testing.T) {
		var buf bytes.Buffer
		NewLogEmitter(&buf, false).Emit(Event{
			Kind: KindReviewFinished, Name: "style", Meta: map[string]interface{}{"tokens_in": 10},
		})

		if !strings.Contains(buf.String(), ` meta={"tokens_in":10}`) {
			t.Errorf("meta missing from %q", buf.String())
		}
	})
}

func TestLogEmitter_JSON(t *testing.T) {
	var buf bytes.Buffer
	emitter := NewLogEmitter(&buf, true)

	emitter.Emit(Event{Kind: KindReviewStarted, RunID: "r1", Workflow: "w", Index: 1, Total: 2, Name: "a", Model: "m"})
	emitter.Emit(Event{Kind: KindReviewFinished, RunID: "r1", Workflow: "w", Index: 1, Total: 2, Name: "a", ElapsedMs: 9, FlaggedCount: 1})

	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 2 {
		t.Fatalf("expected 2 JSONL lines, got %d: %q", len(lines), buf.String())
	}

	var got Event
	if err := json.Unmarshal([]byte(lines[1]), &got); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if got.Kind != KindReviewFinished || got.ElapsedMs != 9 || got.FlaggedCount != 1 || got.Index != 1 || got.Total != 2 {
		t.Errorf("decoded event = %+v", got)
	}

	var raw map[string]interface{}
	if err := json.Unmarshal([]byte(lines[0]), &raw); err != nil {
		t.Fatalf("line is not JSON: %v", err)
	}
	if _, ok := raw["elapsedMs"]; ok {
		t.Error("review_started should omit elapsedMs")
	}
	if raw["model"] != "m" {
		t.Errorf("model = %v, want m", raw["model"])
	}
}

func TestLogEmitter_NilWriter(t *testing.T) {
	var _ Emitter = NewLogEmitter(nil, false)
}
