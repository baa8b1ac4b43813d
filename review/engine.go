package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/swiss/review/emit"
	"github.com/dshills/swiss/review/model"
)

// PromptSource supplies the instruction text of a step.
type PromptSource interface {
	// LoadPrompt returns the instructions for step. A missing prompt must
	// match ErrPromptMissing.
	LoadPrompt(ctx context.Context, step string) (string, error)
}

// Engine runs the steps of a workflow in order and stops at the first step
// that flags anything.
//
// The engine never persists results, never retries a failed call and keeps
// no state between runs. One service call is in flight at a time.
//
//	engine, err := review.New(client, store, review.WithEmitter(emitter))
//	if err != nil {
//	    return err
//	}
//	outcome, err := engine.Run(ctx, workflow, review.Input{Kind: review.KindDiff, Content: diff})
type Engine struct {
	prompts  PromptSource
	executor *StepExecutor
	cfg      engineConfig
}

// New creates an Engine.
func New(client model.Client, prompts PromptSource, opts ...Option) (*Engine, error) {
	if client == nil {
		return nil, errors.New("review: client must not be nil")
	}
	if prompts == nil {
		return nil, errors.New("review: prompt source must not be nil")
	}

	cfg := defaultEngineConfig()
	for _, opt := range opts {
		if err := opt(&cfg); err != nil {
			return nil, fmt.Errorf("review: %w", err)
		}
	}

	return &Engine{
		prompts:  prompts,
		executor: NewStepExecutor(client, cfg.workingDir, cfg.logger),
		cfg:      cfg,
	}, nil
}

// runPlan places a workflow inside a larger progress sequence.
type runPlan struct {
	runID  string
	offset int
	total  int
}

// Run executes wf against input.
//
// Progress is numbered 1..len(steps). The returned Outcome holds the
// flagged results of the first step that flagged anything, or no results
// with StopCompleted. Any error aborts the run.
func (e *Engine) Run(ctx context.Context, wf Workflow, input Input) (Outcome, error) {
	return e.run(ctx, wf, input, runPlan{
		runID: e.cfg.newRunID(),
		total: len(wf.Config.Steps),
	})
}

func (e *Engine) run(ctx context.Context, wf Workflow, input Input, plan runPlan) (Outcome, error) {
	if err := wf.Config.Validate(); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) && cerr.Workflow == "" {
			cerr.Workflow = wf.Name
		}
		return Outcome{}, err
	}

	log := e.cfg.logger.With(zap.String("run_id", plan.runID), zap.String("workflow", wf.Name))
	log.Debug("workflow started", zap.Int("steps", len(wf.Config.Steps)))

	outcome := Outcome{
		Workflow:   wf.Name,
		Results:    []Result{},
		StopReason: StopCompleted,
	}

	for i, step := range wf.Config.Steps {
		if err := ctx.Err(); err != nil {
			e.recordRun(wf.Name, "error")
			return Outcome{}, err
		}

		results, err := e.runStep(ctx, log, wf, step, input, plan, plan.offset+i+1)
		outcome.StepsRun++
		if err != nil {
			e.recordRun(wf.Name, "error")
			return Outcome{}, fmt.Errorf("workflow %q: %w", wf.Name, err)
		}

		if len(results) > 0 {
			outcome.Results = results
			outcome.StopReason = StopNeedsAction
			break
		}
	}

	e.recordRun(wf.Name, string(outcome.StopReason))
	log.Debug("workflow finished",
		zap.String("stop_reason", string(outcome.StopReason)),
		zap.Int("steps_run", outcome.StepsRun),
		zap.Int("flagged", len(outcome.Results)),
	)
	return outcome, nil
}

func (e *Engine) runStep(ctx context.Context, log *zap.Logger, wf Workflow, step Step, input Input, plan runPlan, index int) ([]Result, error) {
	resolved := step.ResolveModel(wf.Config.DefaultModel)
	log = log.With(zap.String("step", step.Name), zap.Int("index", index))

	e.cfg.emitter.Emit(emit.Event{
		Kind:     emit.KindReviewStarted,
		RunID:    plan.runID,
		Workflow: wf.Name,
		Index:    index,
		Total:    plan.total,
		Name:     step.Name,
		Model:    resolved,
	})
	log.Debug("review started", zap.String("model", resolved))

	instructions, err := e.prompts.LoadPrompt(ctx, step.Name)
	if err != nil {
		e.recordStepError(wf.Name, step.Name, err)
		e.emitFailed(wf, step, plan, index, 0, err)
		log.Warn("failed to load prompt", zap.Error(err))
		return nil, err
	}

	prompt := BuildPrompt(PromptParts{
		Context:      wf.Context,
		Step:         step,
		Instructions: instructions,
		Input:        input,
	})

	out, err := e.executor.Execute(ctx, StepRequest{
		Workflow: wf.Name,
		Step:     step,
		Prompt:   prompt,
		Model:    resolved,
	})
	if err != nil {
		e.recordStepError(wf.Name, step.Name, err)
		if e.cfg.metrics != nil {
			e.cfg.metrics.RecordStepLatency(wf.Name, step.Name, out.Elapsed, "error")
		}
		e.emitFailed(wf, step, plan, index, out.Elapsed, err)
		log.Warn("review failed", zap.Duration("elapsed", out.Elapsed), zap.Error(err))
		return nil, err
	}

	meta := e.account(wf.Name, step.Name, resolved, out)
	if e.cfg.metrics != nil {
		e.cfg.metrics.RecordStepLatency(wf.Name, step.Name, out.Elapsed, "success")
		e.cfg.metrics.RecordFindings(wf.Name, step.Name, len(out.Findings), len(out.Results))
	}

	e.cfg.emitter.Emit(emit.Event{
		Kind:         emit.KindReviewFinished,
		RunID:        plan.runID,
		Workflow:     wf.Name,
		Index:        index,
		Total:        plan.total,
		Name:         step.Name,
		ElapsedMs:    out.Elapsed.Milliseconds(),
		FlaggedCount: len(out.Results),
		Meta:         meta,
	})
	log.Debug("review finished",
		zap.Duration("elapsed", out.Elapsed),
		zap.Int("findings", len(out.Findings)),
		zap.Int("flagged", len(out.Results)),
	)

	return out.Results, nil
}

func (e *Engine) emitFailed(wf Workflow, step Step, plan runPlan, index int, elapsed time.Duration, err error) {
	e.cfg.emitter.Emit(emit.Event{
		Kind:      emit.KindReviewFailed,
		RunID:     plan.runID,
		Workflow:  wf.Name,
		Index:     index,
		Total:     plan.total,
		Name:      step.Name,
		ElapsedMs: elapsed.Milliseconds(),
		Error:     err.Error(),
	})
}

// account records token usage and returns the event metadata for it.
func (e *Engine) account(workflow, step, modelName string, out StepOutput) map[string]interface{} {
	if out.Usage.InputTokens == 0 && out.Usage.OutputTokens == 0 {
		return nil
	}
	meta := map[string]interface{}{
		"tokens_in":  out.Usage.InputTokens,
		"tokens_out": out.Usage.OutputTokens,
	}
	if e.cfg.costTracker != nil {
		meta["cost_usd"] = e.cfg.costTracker.RecordStep(workflow, step, modelName, out.Usage.InputTokens, out.Usage.OutputTokens)
	}
	return meta
}

func (e *Engine) recordRun(workflow, reason string) {
	if e.cfg.metrics != nil {
		e.cfg.metrics.IncrementRuns(workflow, reason)
	}
}

func (e *Engine) recordStepError(workflow, step string, err error) {
	if e.cfg.metrics != nil {
		e.cfg.metrics.IncrementStepErrors(workflow, step, errorKind(err))
	}
}
