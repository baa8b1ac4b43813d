package review

import (
	"context"
	"fmt"
	"sync"

	"github.com/dshills/swiss/review/emit"
	"github.com/dshills/swiss/review/model"
)

// memSource is an in-memory Source and PromptSource.
type memSource struct {
	mu        sync.Mutex
	workflows map[string]WorkflowConfig
	contexts  map[string]string
	prompts   map[string]string
	loads     []string
}

func newMemSource() *memSource {
	return &memSource{
		workflows: map[string]WorkflowConfig{},
		contexts:  map[string]string{},
		prompts:   map[string]string{},
	}
}

func (s *memSource) LoadWorkflow(_ context.Context, name string) (WorkflowConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.loads = append(s.loads, name)
	cfg, ok := s.workflows[name]
	if !ok {
		return WorkflowConfig{}, fmt.Errorf("%w: %s", ErrConfigNotFound, name)
	}
	return cfg, nil
}

func (s *memSource) LoadContext(_ context.Context, name string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.contexts[name]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrContextMissing, name)
	}
	return text, nil
}

func (s *memSource) LoadPrompt(_ context.Context, step string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.prompts[step]
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrPromptMissing, step)
	}
	return text, nil
}

// withPrompts registers a placeholder prompt for every step name.
func (s *memSource) withPrompts(names ...string) *memSource {
	for _, n := range names {
		s.prompts[n] = "Review for " + n + "."
	}
	return s
}

func workflow(name string, steps ...string) Workflow {
	cfg := WorkflowConfig{DefaultModel: "m"}
	for _, s := range steps {
		cfg.Steps = append(cfg.Steps, Step{Name: s})
	}
	return Workflow{Name: name, Config: cfg}
}

func response(findings ...Finding) model.Turn {
	body := `{"results":[`
	for i, f := range findings {
		if i > 0 {
			body += ","
		}
		body += fmt.Sprintf(`{"review":%q,"score":%d,"filePath":%q,"line":%d}`, f.Review, f.Score, f.FilePath, f.Line)
	}
	return model.Turn{FinalResponse: body + "]}"}
}

func newTestEngine(t interface{ Fatalf(string, ...interface{}) }, client model.Client, prompts PromptSource, opts ...Option) (*Engine, *emit.BufferedEmitter) {
	buf := emit.NewBufferedEmitter()
	opts = append([]Option{WithEmitter(buf), WithRunIDGenerator(func() string { return "run-test" })}, opts...)
	e, err := New(client, prompts, opts...)
	if err != nil {
		t.Fatalf("New() error = %v", err)
	}
	return e, buf
}
