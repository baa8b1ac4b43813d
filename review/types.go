package review

import (
	"fmt"
	"regexp"
	"strings"
)

// namePattern restricts workflow and step identifiers. Both are used as file
// names by the stores, so anything that could escape a directory is rejected.
var namePattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// ValidateName returns ErrInvalidName (wrapped with the offending value) if
// name is empty or contains characters outside [A-Za-z0-9_-].
func ValidateName(name string) error {
	if !namePattern.MatchString(name) {
		return fmt.Errorf("%w: %q", ErrInvalidName, name)
	}
	return nil
}

// WorkflowConfig is a named, ordered list of review steps plus a default model.
//
// It is loaded once per invocation and never mutated by the engine.
type WorkflowConfig struct {
	// DefaultModel is used by every step that does not override it.
	DefaultModel string `yaml:"model" json:"model"`

	// Steps run in declared order.
	Steps []Step `yaml:"reviews" json:"reviews"`

	// RequireContext makes a missing or blank shared context fatal.
	// When false, an absent context simply means "no shared context".
	RequireContext bool `yaml:"require_context,omitempty" json:"require_context,omitempty"`
}

// Step is one named unit of review work within a workflow.
type Step struct {
	// Name is both the display name and the prompt key.
	Name string `yaml:"name" json:"name"`

	// Description is optional and shown in the prompt under the step heading.
	Description string `yaml:"description,omitempty" json:"description,omitempty"`

	// Model overrides WorkflowConfig.DefaultModel for this step only.
	Model string `yaml:"model,omitempty" json:"model,omitempty"`

	// Parallel is a scheduling hint kept for the editor and a future
	// scheduler. The engine always runs steps sequentially.
	Parallel *bool `yaml:"parallel,omitempty" json:"parallel,omitempty"`
}

// ResolveModel returns the step override if set, else the workflow default.
func (s Step) ResolveModel(defaultModel string) string {
	if m := strings.TrimSpace(s.Model); m != "" {
		return m
	}
	return defaultModel
}

// IsParallel reports the stored parallel hint (false when unset).
func (s Step) IsParallel() bool {
	return s.Parallel != nil && *s.Parallel
}

// Validate checks the workflow schema. The returned error is a *ConfigError
// matching ErrConfigMalformed.
func (c WorkflowConfig) Validate() error {
	if strings.TrimSpace(c.DefaultModel) == "" {
		return &ConfigError{Field: "model", Reason: "must be a non-empty string"}
	}
	if len(c.Steps) == 0 {
		return &ConfigError{Field: "reviews", Reason: "must contain at least one review step"}
	}
	for i, step := range c.Steps {
		field := fmt.Sprintf("reviews[%d].name", i)
		if step.Name == "" {
			return &ConfigError{Field: field, Reason: "must be a non-empty string"}
		}
		if !namePattern.MatchString(step.Name) {
			return &ConfigError{Field: field, Reason: fmt.Sprintf("%q may only contain letters, digits, '-' and '_'", step.Name)}
		}
	}
	return nil
}

// Input kinds.
const (
	KindText = "text"
	KindDiff = "diff"
)

// Input is the payload under review. It is created by the caller and only
// read by the engine.
type Input struct {
	// Kind is "text" or "diff". Empty means "text".
	Kind string

	// Content is the raw text or diff.
	Content string
}

func (in Input) kind() string {
	if in.Kind == "" {
		return KindText
	}
	return in.Kind
}

// Finding is one item returned by the reasoning service for a step.
type Finding struct {
	Review   string `json:"review"`
	Score    int    `json:"score"`
	FilePath string `json:"filePath"`

	// Line is 1-based; 0 means the finding applies to the whole input.
	Line int `json:"line"`
}

// Result is a flagged Finding annotated with the step that produced it.
type Result struct {
	Name     string `json:"name"`
	Review   string `json:"review"`
	Score    int    `json:"score"`
	FilePath string `json:"filePath"`
	Line     int    `json:"line"`
}

// StopReason classifies how a workflow run ended.
type StopReason string

const (
	// StopCompleted means every step finished with zero flagged findings.
	StopCompleted StopReason = "completed"

	// StopNeedsAction means a step produced at least one flagged finding.
	StopNeedsAction StopReason = "needs_action"
)

// Workflow is a resolved workflow: its definition plus its shared context.
type Workflow struct {
	Name    string
	Config  WorkflowConfig
	Context string
}

// Outcome is the result of running one workflow.
type Outcome struct {
	Workflow string `json:"workflow"`

	// Results holds findings from at most one step: the first that flagged.
	Results []Result `json:"results"`

	StopReason StopReason `json:"stopReason"`

	// StepsRun counts executed steps, including the one that stopped the run.
	StepsRun int `json:"stepsRun"`
}

// BatchOutcome is the result of running several workflows in one invocation.
type BatchOutcome struct {
	Results    []Result   `json:"results"`
	StopReason StopReason `json:"stopReason"`

	// Runs lists per-workflow outcomes in execution order. Workflows after
	// the first needs_action run are absent.
	Runs []Outcome `json:"runs"`
}
