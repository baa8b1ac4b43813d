package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
)

// Source loads workflow definitions and their shared contexts.
type Source interface {
	// LoadWorkflow returns the definition of name. Unknown names match
	// ErrConfigNotFound; unreadable or invalid ones ErrConfigMalformed.
	LoadWorkflow(ctx context.Context, name string) (WorkflowConfig, error)

	// LoadContext returns the shared context of name. An absent context
	// matches ErrContextMissing.
	LoadContext(ctx context.Context, name string) (string, error)
}

// Coordinator resolves workflows by name and runs several of them as one
// invocation.
type Coordinator struct {
	engine *Engine
	source Source
}

// NewCoordinator creates a Coordinator.
func NewCoordinator(engine *Engine, source Source) *Coordinator {
	return &Coordinator{engine: engine, source: source}
}

// Resolve loads and validates every named workflow and its context.
//
// All names are resolved before anything runs, so a typo in the last name
// fails the invocation without a single service call. A missing or blank
// context is an error only for workflows with RequireContext.
func (c *Coordinator) Resolve(ctx context.Context, names []string) ([]Workflow, error) {
	workflows := make([]Workflow, 0, len(names))
	for _, name := range names {
		wf, err := c.resolve(ctx, name)
		if err != nil {
			return nil, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, nil
}

func (c *Coordinator) resolve(ctx context.Context, name string) (Workflow, error) {
	if err := ValidateName(name); err != nil {
		return Workflow{}, err
	}

	cfg, err := c.source.LoadWorkflow(ctx, name)
	if err != nil {
		return Workflow{}, fmt.Errorf("workflow %q: %w", name, err)
	}
	if err := cfg.Validate(); err != nil {
		var cerr *ConfigError
		if errors.As(err, &cerr) {
			cerr.Workflow = name
		}
		return Workflow{}, err
	}

	shared, err := c.source.LoadContext(ctx, name)
	switch {
	case errors.Is(err, ErrContextMissing):
		if cfg.RequireContext {
			return Workflow{}, fmt.Errorf("workflow %q: %w", name, err)
		}
		shared = ""
	case err != nil:
		return Workflow{}, fmt.Errorf("workflow %q: %w", name, err)
	case cfg.RequireContext && strings.TrimSpace(shared) == "":
		return Workflow{}, fmt.Errorf("workflow %q: %w", name, ErrContextEmpty)
	}

	return Workflow{Name: name, Config: cfg, Context: shared}, nil
}

// RunOne resolves and runs a single workflow.
func (c *Coordinator) RunOne(ctx context.Context, name string, input Input) (Outcome, error) {
	workflows, err := c.Resolve(ctx, []string{name})
	if err != nil {
		return Outcome{}, err
	}
	return c.engine.Run(ctx, workflows[0], input)
}

// RunBatch resolves every named workflow, then runs them in order.
//
// Progress indices count across the whole batch: with workflows of 2 and 3
// steps, the second workflow's steps are reported as 3/5, 4/5 and 5/5. The
// batch stops after the first workflow that needs action.
func (c *Coordinator) RunBatch(ctx context.Context, names []string, input Input) (BatchOutcome, error) {
	workflows, err := c.Resolve(ctx, names)
	if err != nil {
		return BatchOutcome{}, err
	}
	return c.RunWorkflows(ctx, workflows, input)
}

// RunWorkflows runs already resolved workflows as one batch.
func (c *Coordinator) RunWorkflows(ctx context.Context, workflows []Workflow, input Input) (BatchOutcome, error) {
	batch := BatchOutcome{
		Results:    []Result{},
		StopReason: StopCompleted,
		Runs:       make([]Outcome, 0, len(workflows)),
	}
	plan := runPlan{runID: c.engine.cfg.newRunID(), total: Steps(workflows)}

	for _, wf := range workflows {
		outcome, err := c.engine.run(ctx, wf, input, plan)
		if err != nil {
			return BatchOutcome{}, err
		}
		batch.Runs = append(batch.Runs, outcome)
		plan.offset += len(wf.Config.Steps)

		if outcome.StopReason == StopNeedsAction {
			batch.Results = outcome.Results
			batch.StopReason = StopNeedsAction
			break
		}
	}
	return batch, nil
}

// Steps returns the total number of steps across workflows.
func Steps(workflows []Workflow) int {
	n := 0
	for _, wf := range workflows {
		n += len(wf.Config.Steps)
	}
	return n
}
