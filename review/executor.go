package review

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/dshills/swiss/review/model"
)

// StepRequest is one step ready to be sent to the service.
type StepRequest struct {
	Workflow string
	Step     Step

	// Prompt is the assembled prompt from BuildPrompt.
	Prompt string

	// Model is the resolved model.
	Model string
}

// StepOutput is the validated answer for one step.
type StepOutput struct {
	// Findings holds every finding the service returned.
	Findings []Finding

	// Results holds the flagged findings tagged with the step name.
	Results []Result

	Usage   model.Usage
	Elapsed time.Duration
}

// StepExecutor runs a single step against the reasoning service.
//
// Every call opens a new thread, so no step ever sees another step's
// transcript, and closes it before returning.
type StepExecutor struct {
	client     model.Client
	workingDir string
	logger     *zap.Logger
}

// NewStepExecutor creates a StepExecutor. A nil logger means zap.NewNop().
func NewStepExecutor(client model.Client, workingDir string, logger *zap.Logger) *StepExecutor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StepExecutor{client: client, workingDir: workingDir, logger: logger}
}

// Execute sends req.Prompt with the review contract and validates the answer.
//
// Transport failures match ErrServiceUnavailable. Contract failures match
// ErrMalformedResponse or ErrSchemaViolation. None are retried.
func (x *StepExecutor) Execute(ctx context.Context, req StepRequest) (out StepOutput, err error) {
	start := time.Now()
	defer func() { out.Elapsed = time.Since(start) }()

	thread, err := x.client.StartThread(ctx, model.ThreadOptions{
		Model:      req.Model,
		WorkingDir: x.workingDir,
	})
	if err != nil {
		return out, fmt.Errorf("step %q: %w: %w", req.Step.Name, ErrServiceUnavailable, err)
	}
	defer func() {
		if cerr := thread.Close(); cerr != nil {
			x.logger.Warn("failed to close thread", zap.String("step", req.Step.Name), zap.Error(cerr))
		}
	}()

	turn, err := thread.Run(ctx, req.Prompt, ResponseFormat())
	if err != nil {
		return out, fmt.Errorf("step %q: %w: %w", req.Step.Name, ErrServiceUnavailable, err)
	}
	out.Usage = turn.Usage

	findings, err := ParseResponse(turn.FinalResponse)
	if err != nil {
		x.logger.Warn("invalid service response",
			zap.String("workflow", req.Workflow),
			zap.String("step", req.Step.Name),
			zap.String("response", compactJSON(turn.FinalResponse)),
			zap.Error(err),
		)
		return out, fmt.Errorf("step %q: %w", req.Step.Name, err)
	}

	out.Findings = findings
	out.Results = tagResults(req.Step.Name, Flagged(findings))
	return out, nil
}

// errorKind classifies a step error for metrics.
func errorKind(err error) string {
	switch {
	case errors.Is(err, ErrServiceUnavailable):
		return "service"
	case errors.Is(err, ErrMalformedResponse):
		return "malformed"
	case errors.Is(err, ErrSchemaViolation):
		return "schema"
	case errors.Is(err, ErrPromptMissing):
		return "prompt"
	default:
		return "other"
	}
}
