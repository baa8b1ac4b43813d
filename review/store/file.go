package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"

	"github.com/dshills/swiss/review"
)

// FileStore reads and writes the .swiss tree of a project.
//
// FileStore implements review.Source and review.PromptSource. It is safe for
// concurrent use within one process; writes go through a temp file and a
// rename so readers never observe a partial file.
type FileStore struct {
	root string
	mu   sync.RWMutex
}

// NewFileStore creates a FileStore for the project rooted at baseDir.
// Directories are created lazily on first write.
func NewFileStore(baseDir string) *FileStore {
	return &FileStore{root: filepath.Join(baseDir, RootDir)}
}

// Root returns the .swiss directory path.
func (s *FileStore) Root() string {
	return s.root
}

func (s *FileStore) flowPath(name string) string {
	return filepath.Join(s.root, FlowsDir, name+flowExt)
}

func (s *FileStore) promptPath(name string) string {
	return filepath.Join(s.root, PromptsDir, name+textExt)
}

func (s *FileStore) contextPath(name string) string {
	return filepath.Join(s.root, ContextsDir, name+textExt)
}

// LoadWorkflow implements review.Source.
func (s *FileStore) LoadWorkflow(ctx context.Context, name string) (review.WorkflowConfig, error) {
	if err := ctx.Err(); err != nil {
		return review.WorkflowConfig{}, err
	}
	if err := review.ValidateName(name); err != nil {
		return review.WorkflowConfig{}, err
	}

	raw, err := s.read(s.flowPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return review.WorkflowConfig{}, fmt.Errorf("%w: %s", review.ErrConfigNotFound, s.rel(s.flowPath(name)))
	}
	if err != nil {
		return review.WorkflowConfig{}, err
	}

	var cfg review.WorkflowConfig
	if err := yaml.Unmarshal(raw, &cfg); err != nil {
		return review.WorkflowConfig{}, &review.ConfigError{Workflow: name, Reason: "invalid YAML: " + err.Error()}
	}
	return cfg, nil
}

// LoadContext implements review.Source. The content is returned as stored;
// blank-content rules are applied by the caller.
func (s *FileStore) LoadContext(ctx context.Context, name string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := review.ValidateName(name); err != nil {
		return "", err
	}

	raw, err := s.read(s.contextPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", review.ErrContextMissing, s.rel(s.contextPath(name)))
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// LoadPrompt implements review.PromptSource.
func (s *FileStore) LoadPrompt(ctx context.Context, step string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	if err := review.ValidateName(step); err != nil {
		return "", err
	}

	raw, err := s.read(s.promptPath(step))
	if errors.Is(err, fs.ErrNotExist) {
		return "", fmt.Errorf("%w: %s", review.ErrPromptMissing, s.rel(s.promptPath(step)))
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// ListWorkflows returns the workflow names sorted alphabetically. A missing
// flows directory yields an empty list.
func (s *FileStore) ListWorkflows() ([]string, error) {
	return s.list(filepath.Join(s.root, FlowsDir), flowExt)
}

// ReadWorkflowDraft returns the raw YAML of a workflow, or "" if it does
// not exist yet.
func (s *FileStore) ReadWorkflowDraft(name string) (string, error) {
	if err := review.ValidateName(name); err != nil {
		return "", err
	}
	raw, err := s.read(s.flowPath(name))
	if errors.Is(err, fs.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return string(raw), nil
}

// SaveWorkflowDraft stores raw YAML for a workflow without validating it.
// Drafts are validated when the workflow is loaded for a run.
func (s *FileStore) SaveWorkflowDraft(name, content string) error {
	if err := review.ValidateName(name); err != nil {
		return err
	}
	return s.write(s.flowPath(name), []byte(content))
}

// SaveWorkflow validates cfg and stores it as YAML.
func (s *FileStore) SaveWorkflow(name string, cfg review.WorkflowConfig) error {
	if err := review.ValidateName(name); err != nil {
		return err
	}
	if err := cfg.Validate(); err != nil {
		var cerr *review.ConfigError
		if errors.As(err, &cerr) {
			cerr.Workflow = name
		}
		return err
	}

	var buf bytes.Buffer
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("encode workflow %q: %w", name, err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encode workflow %q: %w", name, err)
	}
	return s.write(s.flowPath(name), buf.Bytes())
}

// RenameWorkflow renames a workflow definition together with its context
// file, if any. Renaming onto an existing workflow returns ErrAlreadyExists.
func (s *FileStore) RenameWorkflow(from, to string) error {
	if err := review.ValidateName(from); err != nil {
		return err
	}
	if err := review.ValidateName(to); err != nil {
		return err
	}
	if from == to {
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, err := os.Stat(s.flowPath(from)); errors.Is(err, fs.ErrNotExist) {
		return fmt.Errorf("%w: %s", review.ErrConfigNotFound, from)
	}
	if _, err := os.Stat(s.flowPath(to)); err == nil {
		return fmt.Errorf("workflow %q: %w", to, ErrAlreadyExists)
	}
	_, err := os.Stat(s.contextPath(from))
	moveContext := err == nil
	if moveContext {
		if _, err := os.Stat(s.contextPath(to)); err == nil {
			return fmt.Errorf("context %q: %w", to, ErrAlreadyExists)
		}
	}

	if err := os.Rename(s.flowPath(from), s.flowPath(to)); err != nil {
		return fmt.Errorf("rename workflow: %w", err)
	}
	if moveContext {
		if err := os.Rename(s.contextPath(from), s.contextPath(to)); err != nil {
			if rbErr := os.Rename(s.flowPath(to), s.flowPath(from)); rbErr != nil {
				return errors.Join(fmt.Errorf("rename context: %w", err), fmt.Errorf("restore workflow: %w", rbErr))
			}
			return fmt.Errorf("rename context: %w", err)
		}
	}
	return nil
}

// ListPrompts returns every prompt with its content, sorted by name.
func (s *FileStore) ListPrompts() ([]Prompt, error) {
	names, err := s.list(filepath.Join(s.root, PromptsDir), textExt)
	if err != nil {
		return nil, err
	}
	prompts := make([]Prompt, 0, len(names))
	for _, name := range names {
		raw, err := s.read(s.promptPath(name))
		if err != nil {
			return nil, err
		}
		prompts = append(prompts, Prompt{Name: name, Content: string(raw)})
	}
	return prompts, nil
}

// SavePrompt writes the instructions of a step.
func (s *FileStore) SavePrompt(name, content string) error {
	if err := review.ValidateName(name); err != nil {
		return err
	}
	return s.write(s.promptPath(name), []byte(content))
}

// SaveContext writes the shared context of a workflow. Blank content is
// rejected with review.ErrContextEmpty.
func (s *FileStore) SaveContext(name, content string) error {
	if err := review.ValidateName(name); err != nil {
		return err
	}
	if strings.TrimSpace(content) == "" {
		return review.ErrContextEmpty
	}
	return s.write(s.contextPath(name), []byte(content))
}

// ReadContext returns the shared context of a workflow, or "" if none.
func (s *FileStore) ReadContext(name string) (string, error) {
	content, err := s.LoadContext(context.Background(), name)
	if errors.Is(err, review.ErrContextMissing) {
		return "", nil
	}
	return content, err
}

func (s *FileStore) read(path string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return os.ReadFile(path)
}

func (s *FileStore) write(path string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("create %s: %w", s.rel(dir), err)
	}
	tmp, err := os.CreateTemp(dir, ".tmp-*")
	if err != nil {
		return fmt.Errorf("write %s: %w", s.rel(path), err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", s.rel(path), err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", s.rel(path), err)
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("write %s: %w", s.rel(path), err)
	}
	return nil
}

func (s *FileStore) list(dir, ext string) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	entries, err := os.ReadDir(dir)
	if errors.Is(err, fs.ErrNotExist) {
		return []string{}, nil
	}
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ext) {
			continue
		}
		names = append(names, strings.TrimSuffix(e.Name(), ext))
	}
	sort.Strings(names)
	return names, nil
}

// rel shortens a path to start at the .swiss directory for error messages.
func (s *FileStore) rel(path string) string {
	if r, err := filepath.Rel(filepath.Dir(s.root), path); err == nil {
		return r
	}
	return path
}
