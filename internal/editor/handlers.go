package editor

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"

	"github.com/dshills/swiss/internal/app"
	"github.com/dshills/swiss/review"
	"github.com/dshills/swiss/review/store"
)

// defaultWorkflow is used when a request names no workflow.
const defaultWorkflow = "default"

// Files is the subset of store.FileStore the editor edits.
type Files interface {
	ListWorkflows() ([]string, error)
	RenameWorkflow(from, to string) error
	ReadWorkflowDraft(name string) (string, error)
	SaveWorkflowDraft(name, content string) error
	ListPrompts() ([]store.Prompt, error)
	SavePrompt(name, content string) error
	ReadContext(name string) (string, error)
	SaveContext(name, content string) error
}

// Reviewer runs review batches.
type Reviewer interface {
	Review(ctx context.Context, names []string, input review.Input) (app.Report, error)
}

// Handler contains the editor API handlers.
type Handler struct {
	files    Files
	reviewer Reviewer
	logger   *zap.Logger
}

// NewHandler creates a Handler.
func NewHandler(files Files, reviewer Reviewer, logger *zap.Logger) *Handler {
	return &Handler{files: files, reviewer: reviewer, logger: logger}
}

// SetupRoutes configures the editor API routes.
func SetupRoutes(router gin.IRouter, h *Handler) {
	api := router.Group("/api")
	{
		api.GET("/workflows", h.ListWorkflows)
		api.POST("/workflows/rename", h.RenameWorkflow)
		api.GET("/config", h.GetConfig)
		api.POST("/config", h.SaveConfig)
		api.GET("/prompts", h.ListPrompts)
		api.POST("/prompts/:name", h.SavePrompt)
		api.GET("/context", h.GetContext)
		api.POST("/context", h.SaveContext)
		api.POST("/review", h.Review)
	}
}

func fail(c *gin.Context, status int, msg string) {
	c.JSON(status, gin.H{"error": msg})
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, review.ErrInvalidName),
		errors.Is(err, review.ErrConfigMalformed),
		errors.Is(err, review.ErrContextEmpty),
		errors.Is(err, review.ErrContextMissing):
		return http.StatusBadRequest
	case errors.Is(err, review.ErrConfigNotFound),
		errors.Is(err, review.ErrPromptMissing):
		return http.StatusNotFound
	case errors.Is(err, store.ErrAlreadyExists):
		return http.StatusConflict
	case errors.Is(err, review.ErrServiceUnavailable),
		errors.Is(err, review.ErrMalformedResponse),
		errors.Is(err, review.ErrSchemaViolation):
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func (h *Handler) fromError(c *gin.Context, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	fail(c, status, err.Error())
}

// workflowParam returns ?workflow=, defaulting to "default".
func workflowParam(c *gin.Context) (string, bool) {
	name := strings.TrimSpace(c.Query("workflow"))
	if name == "" {
		name = defaultWorkflow
	}
	if err := review.ValidateName(name); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return "", false
	}
	return name, true
}

// ListWorkflows returns the workflow names.
// GET /api/workflows
func (h *Handler) ListWorkflows(c *gin.Context) {
	names, err := h.files.ListWorkflows()
	if err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"workflows": names})
}

type renameRequest struct {
	From string `json:"from"`
	To   string `json:"to"`
}

// RenameWorkflow renames a workflow and its context.
// POST /api/workflows/rename
func (h *Handler) RenameWorkflow(c *gin.Context) {
	var req renameRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	from, to := strings.TrimSpace(req.From), strings.TrimSpace(req.To)
	if from == "" || to == "" {
		fail(c, http.StatusBadRequest, "both from and to workflow names are required")
		return
	}
	if err := h.files.RenameWorkflow(from, to); err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true, "workflow": to})
}

// GetConfig returns the workflow definition, or an empty one.
// GET /api/config?workflow=
func (h *Handler) GetConfig(c *gin.Context) {
	name, ok := workflowParam(c)
	if !ok {
		return
	}
	draft, err := h.files.ReadWorkflowDraft(name)
	if err != nil {
		h.fromError(c, err)
		return
	}

	cfg := review.WorkflowConfig{}
	if strings.TrimSpace(draft) != "" {
		if err := yaml.Unmarshal([]byte(draft), &cfg); err != nil {
			fail(c, http.StatusUnprocessableEntity, "stored workflow is not valid YAML: "+err.Error())
			return
		}
	}
	if cfg.Steps == nil {
		cfg.Steps = []review.Step{}
	}
	c.JSON(http.StatusOK, gin.H{"config": cfg})
}

type configRequest struct {
	Config *review.WorkflowConfig `json:"config"`
}

// SaveConfig stores the workflow definition as a draft. Drafts are not
// validated; a run rejects an incomplete definition.
// POST /api/config?workflow=
func (h *Handler) SaveConfig(c *gin.Context) {
	name, ok := workflowParam(c)
	if !ok {
		return
	}
	var req configRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	cfg := review.WorkflowConfig{Steps: []review.Step{}}
	if req.Config != nil {
		cfg = *req.Config
	}

	raw, err := yaml.Marshal(cfg)
	if err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if err := h.files.SaveWorkflowDraft(name, string(raw)); err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// ListPrompts returns every prompt with its content.
// GET /api/prompts
func (h *Handler) ListPrompts(c *gin.Context) {
	prompts, err := h.files.ListPrompts()
	if err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"prompts": prompts})
}

type contentRequest struct {
	Content *string `json:"content"`
}

// SavePrompt writes a step prompt. A missing content field stores an
// empty prompt.
// POST /api/prompts/:name
func (h *Handler) SavePrompt(c *gin.Context) {
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	content := ""
	if req.Content != nil {
		content = *req.Content
	}
	if err := h.files.SavePrompt(c.Param("name"), content); err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

// GetContext returns the shared context of a workflow ("" when absent).
// GET /api/context?workflow=
func (h *Handler) GetContext(c *gin.Context) {
	name, ok := workflowParam(c)
	if !ok {
		return
	}
	content, err := h.files.ReadContext(name)
	if err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"content": content})
}

// SaveContext writes the shared context of a workflow. Blank content is
// rejected.
// POST /api/context?workflow=
func (h *Handler) SaveContext(c *gin.Context) {
	name, ok := workflowParam(c)
	if !ok {
		return
	}
	var req contentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if req.Content == nil || strings.TrimSpace(*req.Content) == "" {
		fail(c, http.StatusBadRequest, "context must not be empty")
		return
	}
	if err := h.files.SaveContext(name, *req.Content); err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"ok": true})
}

type reviewRequest struct {
	Workflows []string `json:"workflows"`
	Kind      string   `json:"kind"`
	Content   string   `json:"content"`
}

type reviewResponse struct {
	RunID      string            `json:"runId"`
	StopReason review.StopReason `json:"stopReason"`
	Results    []review.Result   `json:"results"`
	Runs       []review.Outcome  `json:"runs"`
	CostUSD    float64           `json:"costUsd"`
}

// Review runs workflows against submitted content.
// POST /api/review
func (h *Handler) Review(c *gin.Context) {
	var req reviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, err.Error())
		return
	}
	if strings.TrimSpace(req.Content) == "" {
		fail(c, http.StatusBadRequest, "content must not be empty")
		return
	}
	switch req.Kind {
	case "":
		req.Kind = review.KindText
	case review.KindText, review.KindDiff:
	default:
		fail(c, http.StatusBadRequest, "kind must be text or diff")
		return
	}
	if len(req.Workflows) == 0 {
		req.Workflows = []string{defaultWorkflow}
	}

	report, err := h.reviewer.Review(c.Request.Context(), req.Workflows, review.Input{Kind: req.Kind, Content: req.Content})
	if err != nil {
		h.fromError(c, err)
		return
	}
	c.JSON(http.StatusOK, reviewResponse{
		RunID:      report.RunID,
		StopReason: report.Outcome.StopReason,
		Results:    report.Outcome.Results,
		Runs:       report.Outcome.Runs,
		CostUSD:    report.Cost.GetTotalCost(),
	})
}
