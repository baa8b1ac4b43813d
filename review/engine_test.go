package review

import (
	"context"
	"errors"
	"reflect"
	"strings"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/dshills/swiss/review/emit"
	"github.com/dshills/swiss/review/model"
)

func TestNew_Validation(t *testing.T) {
	prompts := newMemSource()
	if _, err := New(nil, prompts); err == nil {
		t.Error("expected error for nil client")
	}
	if _, err := New(&model.MockClient{}, nil); err == nil {
		t.Error("expected error for nil prompt source")
	}
	if _, err := New(&model.MockClient{}, prompts, WithEmitter(nil)); err == nil {
		t.Error("expected error for nil emitter")
	}
	if _, err := New(&model.MockClient{}, prompts, WithLogger(nil)); err == nil {
		t.Error("expected error for nil logger")
	}
}

// Scenario A: a low-score finding is discarded and the run completes.
func TestEngine_ScenarioA_Completed(t *testing.T) {
	client := &model.MockClient{Turns: []model.Turn{
		response(Finding{Review: "ok", Score: 10, FilePath: "a.ts", Line: 5}),
	}}
	engine, _ := newTestEngine(t, client, newMemSource().withPrompts("style"))

	out, err := engine.Run(context.Background(), workflow("default", "style"), Input{Content: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.StopReason != StopCompleted {
		t.Errorf("StopReason = %q, want completed", out.StopReason)
	}
	if out.Results == nil || len(out.Results) != 0 {
		t.Errorf("Results = %v, want empty non-nil", out.Results)
	}
	if out.StepsRun != 1 {
		t.Errorf("StepsRun = %d, want 1", out.StepsRun)
	}
}

// Scenario B: a high-score finding is returned tagged with the step name.
func TestEngine_ScenarioB_NeedsAction(t *testing.T) {
	client := &model.MockClient{Turns: []model.Turn{
		response(Finding{Review: "bug", Score: 95, FilePath: "a.ts", Line: 12}),
	}}
	engine, _ := newTestEngine(t, client, newMemSource().withPrompts("style"))

	out, err := engine.Run(context.Background(), workflow("default", "style"), Input{Content: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if out.StopReason != StopNeedsAction {
		t.Errorf("StopReason = %q, want needs_action", out.StopReason)
	}
	want := []Result{{Name: "style", Review: "bug", Score: 95, FilePath: "a.ts", Line: 12}}
	if !reflect.DeepEqual(out.Results, want) {
		t.Errorf("Results = %+v, want %+v", out.Results, want)
	}
}

// Scenario C: step 1 is ignored at score 50, step 2 flags at 90.
func TestEngine_ScenarioC_SecondStepFlags(t *testing.T) {
	client := &model.MockClient{Turns: []model.Turn{
		response(Finding{Review: "meh", Score: 50, FilePath: "a.ts", Line: 1}),
		response(Finding{Review: "real bug", Score: 90, FilePath: "b.ts", Line: 7}),
	}}
	engine, _ := newTestEngine(t, client, newMemSource().withPrompts("first", "second"))

	out, err := engine.Run(context.Background(), workflow("default", "first", "second"), Input{Content: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if client.CallCount() != 2 {
		t.Errorf("service calls = %d, want 2", client.CallCount())
	}
	want := []Result{{Name: "second", Review: "real bug", Score: 90, FilePath: "b.ts", Line: 7}}
	if !reflect.DeepEqual(out.Results, want) || out.StopReason != StopNeedsAction {
		t.Errorf("outcome = %+v", out)
	}
}

// Scenario D: an out-of-range score fails the run.
func TestEngine_ScenarioD_SchemaViolation(t *testing.T) {
	client := &model.MockClient{Turns: []model.Turn{
		{FinalResponse: `{"results":[{"review":"x","score":101,"filePath":"a.ts","line":1}]}`},
	}}
	engine, buf := newTestEngine(t, client, newMemSource().withPrompts("style"))

	out, err := engine.Run(context.Background(), workflow("default", "style"), Input{Content: "x"})
	if !errors.Is(err, ErrSchemaViolation) {
		t.Fatalf("error = %v, want ErrSchemaViolation", err)
	}
	if out.Results != nil {
		t.Errorf("no results may be returned on failure, got %+v", out.Results)
	}
	finished := buf.GetHistoryWithFilter("run-test", emit.HistoryFilter{Kind: emit.KindReviewFinished})
	if len(finished) != 0 {
		t.Errorf("failed step must not emit review_finished, got %d", len(finished))
	}
	failed := buf.GetHistoryWithFilter("run-test", emit.HistoryFilter{Kind: emit.KindReviewFailed})
	if len(failed) != 1 {
		t.Fatalf("expected one review_failed event, got %d", len(failed))
	}
	if failed[0].Name != "style" || failed[0].Index != 1 || !strings.Contains(failed[0].Error, "score") {
		t.Errorf("review_failed = %+v", failed[0])
	}
}

func TestEngine_StopsAtFirstFlaggingStep(t *testing.T) {
	for k := 1; k <= 4; k++ {
		turns := make([]model.Turn, 4)
		for i := range turns {
			if i == k-1 {
				turns[i] = response(Finding{Review: "hit", Score: 99, FilePath: "f", Line: i})
			} else {
				turns[i] = response()
			}
		}
		turns = append(turns, response(Finding{Review: "never", Score: 100}))

		client := &model.MockClient{Turns: turns}
		engine, _ := newTestEngine(t, client, newMemSource().withPrompts("s1", "s2", "s3", "s4", "s5"))

		out, err := engine.Run(context.Background(), workflow("w", "s1", "s2", "s3", "s4", "s5"), Input{Content: "x"})
		if err != nil {
			t.Fatalf("k=%d: %v", k, err)
		}
		if client.CallCount() != k || out.StepsRun != k {
			t.Errorf("k=%d: executed %d steps (StepsRun %d), want %d", k, client.CallCount(), out.StepsRun, k)
		}
		for _, r := range out.Results {
			if r.Name != "s"+string(rune('0'+k)) {
				t.Errorf("k=%d: result from step %q", k, r.Name)
			}
		}
	}
}

func TestEngine_ThresholdBoundary(t *testing.T) {
	t.Run("score 80 dropped", func(t *testing.T) {
		client := &model.MockClient{Turns: []model.Turn{response(Finding{Review: "r", Score: 80, FilePath: "a", Line: 1})}}
		engine, _ := newTestEngine(t, client, newMemSource().withPrompts("s"))
		out, err := engine.Run(context.Background(), workflow("w", "s"), Input{Content: "x"})
		if err != nil || out.StopReason != StopCompleted {
			t.Errorf("got %+v, %v; want completed", out, err)
		}
	})

	t.Run("score 81 kept", func(t *testing.T) {
		client := &model.MockClient{Turns: []model.Turn{response(Finding{Review: "r", Score: 81, FilePath: "a", Line: 0})}}
		engine, _ := newTestEngine(t, client, newMemSource().withPrompts("s"))
		out, err := engine.Run(context.Background(), workflow("w", "s"), Input{Content: "x"})
		if err != nil || out.StopReason != StopNeedsAction || len(out.Results) != 1 {
			t.Errorf("got %+v, %v; want one result", out, err)
		}
	})
}

func TestEngine_Idempotent(t *testing.T) {
	turns := []model.Turn{
		response(Finding{Review: "a", Score: 30}),
		response(Finding{Review: "b", Score: 88, FilePath: "x.go", Line: 2}, Finding{Review: "c", Score: 97, FilePath: "y.go", Line: 0}),
	}
	prompts := newMemSource().withPrompts("one", "two")
	wf := workflow("w", "one", "two")

	var runs [][]Result
	for i := 0; i < 2; i++ {
		engine, _ := newTestEngine(t, &model.MockClient{Turns: turns}, prompts)
		out, err := engine.Run(context.Background(), wf, Input{Content: "same"})
		if err != nil {
			t.Fatalf("run %d: %v", i, err)
		}
		runs = append(runs, out.Results)
	}
	if !reflect.DeepEqual(runs[0], runs[1]) {
		t.Errorf("runs differ:\n%+v\n%+v", runs[0], runs[1])
	}
}

func TestEngine_ProgressEvents(t *testing.T) {
	client := &model.MockClient{Turns: []model.Turn{
		response(),
		response(Finding{Review: "r", Score: 90}, Finding{Review: "q", Score: 95}),
	}}
	engine, buf := newTestEngine(t, client, newMemSource().withPrompts("a", "b", "c"))

	wf := workflow("w", "a", "b", "c")
	wf.Config.Steps[1].Model = "override"

	if _, err := engine.Run(context.Background(), wf, Input{Content: "x"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	events := buf.GetHistory("run-test")
	if len(events) != 4 {
		t.Fatalf("got %d events, want 4: %+v", len(events), events)
	}

	type summary struct {
		Kind    string
		Index   int
		Total   int
		Name    string
		Model   string
		Flagged int
	}
	var got []summary
	for _, e := range events {
		got = append(got, summary{e.Kind, e.Index, e.Total, e.Name, e.Model, e.FlaggedCount})
	}
	want := []summary{
		{emit.KindReviewStarted, 1, 3, "a", "m", 0},
		{emit.KindReviewFinished, 1, 3, "a", "", 0},
		{emit.KindReviewStarted, 2, 3, "b", "override", 0},
		{emit.KindReviewFinished, 2, 3, "b", "", 2},
	}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("events =\n%+v\nwant\n%+v", got, want)
	}
	for _, e := range events {
		if e.Workflow != "w" || e.RunID != "run-test" {
			t.Errorf("event %+v missing workflow or run ID", e)
		}
	}
}

func TestEngine_FreshThreadPerStep(t *testing.T) {
	client := &model.MockClient{}
	engine, _ := newTestEngine(t, client, newMemSource().withPrompts("a", "b", "c"), WithWorkingDir("/repo"))

	wf := workflow("w", "a", "b", "c")
	wf.Config.Steps[2].Model = "other"
	if _, err := engine.Run(context.Background(), wf, Input{Content: "x"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if len(client.Threads) != 3 {
		t.Fatalf("threads opened = %d, want 3", len(client.Threads))
	}
	for i, th := range client.Threads {
		if th.TurnCount() != 1 {
			t.Errorf("thread %d ran %d turns, want 1", i, th.TurnCount())
		}
		if !th.Closed() {
			t.Errorf("thread %d not closed", i)
		}
	}
	models := []string{client.Calls[0].Options.Model, client.Calls[1].Options.Model, client.Calls[2].Options.Model}
	if !reflect.DeepEqual(models, []string{"m", "m", "other"}) {
		t.Errorf("models = %v", models)
	}
	if client.Calls[0].Options.WorkingDir != "/repo" {
		t.Errorf("WorkingDir = %q, want /repo", client.Calls[0].Options.WorkingDir)
	}
	if client.Calls[0].Format.Name != "review_results" {
		t.Errorf("format = %+v, want review contract", client.Calls[0].Format)
	}
}

func TestEngine_PromptContent(t *testing.T) {
	client := &model.MockClient{}
	prompts := newMemSource()
	prompts.prompts["security"] = "Find injection bugs."
	engine, _ := newTestEngine(t, client, prompts)

	wf := workflow("w", "security")
	wf.Context = "Payments service."
	if _, err := engine.Run(context.Background(), wf, Input{Kind: KindDiff, Content: "+x := 1"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	prompt := client.Calls[0].Prompt
	for _, want := range []string{"Payments service.", "### security", "Find injection bugs.", "```diff\n+x := 1\n```"} {
		if !strings.Contains(prompt, want) {
			t.Errorf("prompt missing %q:\n%s", want, prompt)
		}
	}
}

func TestEngine_Errors(t *testing.T) {
	serviceDown := errors.New("connection refused")

	tests := []struct {
		name    string
		client  *model.MockClient
		prompts *memSource
		wf      Workflow
		want    error
		calls   int
	}{
		{
			name:    "missing prompt",
			client:  &model.MockClient{},
			prompts: newMemSource(),
			wf:      workflow("w", "nope"),
			want:    ErrPromptMissing,
		},
		{
			name:    "start thread fails",
			client:  &model.MockClient{StartErr: serviceDown},
			prompts: newMemSource().withPrompts("s"),
			wf:      workflow("w", "s"),
			want:    ErrServiceUnavailable,
		},
		{
			name:    "turn fails",
			client:  &model.MockClient{Errs: []error{serviceDown}},
			prompts: newMemSource().withPrompts("s"),
			wf:      workflow("w", "s"),
			want:    ErrServiceUnavailable,
			calls:   1,
		},
		{
			name:    "malformed response",
			client:  &model.MockClient{Turns: []model.Turn{{FinalResponse: "not json"}}},
			prompts: newMemSource().withPrompts("s"),
			wf:      workflow("w", "s"),
			want:    ErrMalformedResponse,
			calls:   1,
		},
		{
			name:    "failure in second step aborts run",
			client:  &model.MockClient{Turns: []model.Turn{response(), {FinalResponse: "{"}}},
			prompts: newMemSource().withPrompts("a", "b", "c"),
			wf:      workflow("w", "a", "b", "c"),
			want:    ErrMalformedResponse,
			calls:   2,
		},
		{
			name:    "invalid config",
			client:  &model.MockClient{},
			prompts: newMemSource(),
			wf:      Workflow{Name: "w", Config: WorkflowConfig{DefaultModel: "m"}},
			want:    ErrConfigMalformed,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			engine, _ := newTestEngine(t, tt.client, tt.prompts)
			_, err := engine.Run(context.Background(), tt.wf, Input{Content: "x"})
			if !errors.Is(err, tt.want) {
				t.Fatalf("error = %v, want %v", err, tt.want)
			}
			if tt.client.CallCount() != tt.calls {
				t.Errorf("service calls = %d, want %d", tt.client.CallCount(), tt.calls)
			}
		})
	}

	t.Run("service error keeps cause", func(t *testing.T) {
		engine, _ := newTestEngine(t, &model.MockClient{Errs: []error{serviceDown}}, newMemSource().withPrompts("s"))
		_, err := engine.Run(context.Background(), workflow("w", "s"), Input{Content: "x"})
		if !errors.Is(err, serviceDown) {
			t.Errorf("error %v does not wrap the cause", err)
		}
	})

	t.Run("cancelled context", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		client := &model.MockClient{}
		engine, _ := newTestEngine(t, client, newMemSource().withPrompts("s"))
		_, err := engine.Run(ctx, workflow("w", "s"), Input{Content: "x"})
		if !errors.Is(err, context.Canceled) {
			t.Errorf("error = %v, want context.Canceled", err)
		}
		if client.CallCount() != 0 {
			t.Errorf("service called %d times after cancel", client.CallCount())
		}
	})
}

func TestEngine_ParallelHintIgnored(t *testing.T) {
	yes := true
	client := &model.MockClient{Turns: []model.Turn{response(Finding{Review: "r", Score: 90})}}
	engine, _ := newTestEngine(t, client, newMemSource().withPrompts("a", "b"))

	wf := workflow("w", "a", "b")
	wf.Config.Steps[0].Parallel = &yes
	wf.Config.Steps[1].Parallel = &yes

	out, err := engine.Run(context.Background(), wf, Input{Content: "x"})
	if err != nil {
		t.Fatalf("Run() error = %v", err)
	}
	if client.CallCount() != 1 || out.StepsRun != 1 {
		t.Errorf("parallel steps must still run sequentially with early stop; calls=%d", client.CallCount())
	}
}

func TestEngine_MetricsAndCost(t *testing.T) {
	registry := prometheus.NewRegistry()
	metrics := NewPrometheusMetrics(registry)
	tracker := NewCostTracker("run-test", "USD")

	turn := response(Finding{Review: "low", Score: 10}, Finding{Review: "high", Score: 90})
	turn.Usage = model.Usage{InputTokens: 1_000_000, OutputTokens: 100_000}
	client := &model.MockClient{Turns: []model.Turn{turn}}

	engine, buf := newTestEngine(t, client, newMemSource().withPrompts("s"),
		WithMetrics(metrics), WithCostTracker(tracker))
	wf := workflow("w", "s")
	wf.Config.DefaultModel = "gpt-5"

	if _, err := engine.Run(context.Background(), wf, Input{Content: "x"}); err != nil {
		t.Fatalf("Run() error = %v", err)
	}

	if got := testutil.ToFloat64(metrics.runs.WithLabelValues("w", "needs_action")); got != 1 {
		t.Errorf("runs_total{needs_action} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.findings.WithLabelValues("w", "s", "true")); got != 1 {
		t.Errorf("findings_total{flagged=true} = %v, want 1", got)
	}
	if got := testutil.ToFloat64(metrics.findings.WithLabelValues("w", "s", "false")); got != 1 {
		t.Errorf("findings_total{flagged=false} = %v, want 1", got)
	}

	if got := tracker.GetTotalCost(); got != 2.25 {
		t.Errorf("cost = %v, want 2.25", got)
	}
	finished := buf.GetHistoryWithFilter("run-test", emit.HistoryFilter{Kind: emit.KindReviewFinished})
	if len(finished) != 1 || finished[0].Meta["cost_usd"] != 2.25 || finished[0].Meta["tokens_in"] != 1_000_000 {
		t.Errorf("finished meta = %+v", finished)
	}
}

func TestEngine_LogsFailures(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	client := &model.MockClient{Turns: []model.Turn{{FinalResponse: `{"results": [ {"score": 500} ]}`}}}
	engine, _ := newTestEngine(t, client, newMemSource().withPrompts("s"), WithLogger(zap.New(core)))

	if _, err := engine.Run(context.Background(), workflow("w", "s"), Input{Content: "x"}); err == nil {
		t.Fatal("expected error")
	}

	warned := logs.FilterMessage("invalid service response").All()
	if len(warned) != 1 {
		t.Fatalf("expected one invalid-response warning, got %d", len(warned))
	}
	if got := warned[0].ContextMap()["response"]; got != `{"results":[{"score":500}]}` {
		t.Errorf("logged response = %v, want compacted JSON", got)
	}
}
