package review

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// ModelPricing is the price of a model in USD per million tokens.
type ModelPricing struct {
	InputPer1M  float64
	OutputPer1M float64
}

// Published list prices. Unknown models are tracked with zero cost.
var defaultModelPricing = map[string]ModelPricing{
	"gpt-5":       {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gpt-5-codex": {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gpt-5-mini":  {InputPer1M: 0.25, OutputPer1M: 2.00},
	"gpt-5-nano":  {InputPer1M: 0.05, OutputPer1M: 0.40},
	"gpt-4.1":     {InputPer1M: 2.00, OutputPer1M: 8.00},
	"gpt-4o":      {InputPer1M: 2.50, OutputPer1M: 10.00},
	"gpt-4o-mini": {InputPer1M: 0.15, OutputPer1M: 0.60},
	"o4-mini":     {InputPer1M: 1.10, OutputPer1M: 4.40},

	"claude-opus-4-1":   {InputPer1M: 15.00, OutputPer1M: 75.00},
	"claude-sonnet-4-5": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-sonnet-4-0": {InputPer1M: 3.00, OutputPer1M: 15.00},
	"claude-haiku-4-5":  {InputPer1M: 1.00, OutputPer1M: 5.00},
	"claude-3-5-haiku":  {InputPer1M: 0.80, OutputPer1M: 4.00},

	"gemini-2.5-pro":        {InputPer1M: 1.25, OutputPer1M: 10.00},
	"gemini-2.5-flash":      {InputPer1M: 0.30, OutputPer1M: 2.50},
	"gemini-2.5-flash-lite": {InputPer1M: 0.10, OutputPer1M: 0.40},
}

// StepCall is one reasoning-service turn with its token usage and cost.
type StepCall struct {
	Workflow     string
	Step         string
	Model        string
	InputTokens  int
	OutputTokens int
	CostUSD      float64
	Timestamp    time.Time
}

// CostTracker accumulates token usage and cost across review steps.
//
// Dated model snapshots ("claude-sonnet-4-5-20250929") are priced by their
// longest known prefix.
//
//	tracker := review.NewCostTracker(runID, "USD")
//	engine, err := review.New(client, prompts, review.WithCostTracker(tracker))
//	if err != nil {
//	    return err
//	}
//	// ...
//	fmt.Println(tracker)
type CostTracker struct {
	RunID    string
	Currency string
	Pricing  map[string]ModelPricing

	Calls        []StepCall
	TotalCost    float64
	ModelCosts   map[string]float64
	InputTokens  int64
	OutputTokens int64
	CreatedAt    time.Time

	mu      sync.RWMutex
	enabled bool
}

// NewCostTracker creates a tracker with the default price table.
func NewCostTracker(runID, currency string) *CostTracker {
	pricing := make(map[string]ModelPricing, len(defaultModelPricing))
	for k, v := range defaultModelPricing {
		pricing[k] = v
	}
	return &CostTracker{
		RunID:      runID,
		Currency:   currency,
		Pricing:    pricing,
		ModelCosts: make(map[string]float64),
		CreatedAt:  time.Now(),
		enabled:    true,
	}
}

// RecordStep records one step's usage and returns its cost.
func (ct *CostTracker) RecordStep(workflow, step, model string, inputTokens, outputTokens int) float64 {
	ct.mu.Lock()
	defer ct.mu.Unlock()

	if !ct.enabled {
		return 0
	}

	pricing := ct.lookup(model)
	cost := float64(inputTokens)/1_000_000.0*pricing.InputPer1M +
		float64(outputTokens)/1_000_000.0*pricing.OutputPer1M

	ct.Calls = append(ct.Calls, StepCall{
		Workflow:     workflow,
		Step:         step,
		Model:        model,
		InputTokens:  inputTokens,
		OutputTokens: outputTokens,
		CostUSD:      cost,
		Timestamp:    time.Now(),
	})
	ct.TotalCost += cost
	ct.ModelCosts[model] += cost
	ct.InputTokens += int64(inputTokens)
	ct.OutputTokens += int64(outputTokens)
	return cost
}

func (ct *CostTracker) lookup(model string) ModelPricing {
	if p, ok := ct.Pricing[model]; ok {
		return p
	}
	best := ""
	for name := range ct.Pricing {
		if strings.HasPrefix(model, name+"-") && len(name) > len(best) {
			best = name
		}
	}
	return ct.Pricing[best]
}

// GetTotalCost returns the cumulative cost.
func (ct *CostTracker) GetTotalCost() float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.TotalCost
}

// GetCostByModel returns a copy of the per-model costs.
func (ct *CostTracker) GetCostByModel() map[string]float64 {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make(map[string]float64, len(ct.ModelCosts))
	for k, v := range ct.ModelCosts {
		out[k] = v
	}
	return out
}

// GetCallHistory returns a copy of the recorded calls.
func (ct *CostTracker) GetCallHistory() []StepCall {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	out := make([]StepCall, len(ct.Calls))
	copy(out, ct.Calls)
	return out
}

// GetTokenUsage returns total input and output tokens.
func (ct *CostTracker) GetTokenUsage() (inputTokens, outputTokens int64) {
	ct.mu.RLock()
	defer ct.mu.RUnlock()
	return ct.InputTokens, ct.OutputTokens
}

// SetCustomPricing overrides or adds a model price.
func (ct *CostTracker) SetCustomPricing(model string, inputPer1M, outputPer1M float64) {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Pricing[model] = ModelPricing{InputPer1M: inputPer1M, OutputPer1M: outputPer1M}
}

// Disable stops recording.
func (ct *CostTracker) Disable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = false
}

// Enable resumes recording.
func (ct *CostTracker) Enable() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.enabled = true
}

// Reset clears recorded calls and totals. Pricing is kept.
func (ct *CostTracker) Reset() {
	ct.mu.Lock()
	defer ct.mu.Unlock()
	ct.Calls = nil
	ct.TotalCost = 0
	ct.ModelCosts = make(map[string]float64)
	ct.InputTokens = 0
	ct.OutputTokens = 0
}

// String renders a per-model summary.
func (ct *CostTracker) String() string {
	ct.mu.RLock()
	defer ct.mu.RUnlock()

	var b strings.Builder
	fmt.Fprintf(&b, "Total: %.4f %s (%d calls, %d in / %d out tokens)",
		ct.TotalCost, ct.Currency, len(ct.Calls), ct.InputTokens, ct.OutputTokens)

	models := make([]string, 0, len(ct.ModelCosts))
	for m := range ct.ModelCosts {
		models = append(models, m)
	}
	sort.Strings(models)
	for _, m := range models {
		fmt.Fprintf(&b, "\n  %s: %.4f %s", m, ct.ModelCosts[m], ct.Currency)
	}
	return b.String()
}
