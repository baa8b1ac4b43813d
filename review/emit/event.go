// Package emit delivers review progress events to observers.
package emit

// Event kinds.
const (
	// KindReviewStarted is emitted before a step's prompt is loaded.
	KindReviewStarted = "review_started"

	// KindReviewFinished is emitted after a step's response was validated,
	// including when it flagged nothing.
	KindReviewFinished = "review_finished"

	// KindReviewFailed is emitted instead of review_finished when a step
	// returns an error. The run stops after it.
	KindReviewFailed = "review_failed"
)

// Event is one progress notification from a review run.
//
// Index is 1-based and Total is the number of steps in the run. In a batch
// both count across every workflow of the batch, so a progress bar sees one
// continuous sequence.
type Event struct {
	// Kind is one of the Kind* constants.
	Kind string `json:"kind"`

	// RunID groups the events of one invocation.
	RunID string `json:"runId"`

	// Workflow is the workflow the step belongs to.
	Workflow string `json:"workflow"`

	Index int    `json:"index"`
	Total int    `json:"total"`
	Name  string `json:"name"`

	// Model is the resolved model. Set on review_started only.
	Model string `json:"model,omitempty"`

	// ElapsedMs is set on review_finished and review_failed. FlaggedCount
	// is set on review_finished only.
	ElapsedMs    int64 `json:"elapsedMs,omitempty"`
	FlaggedCount int   `json:"flaggedCount"`

	// Error describes the failure. Set on review_failed only.
	Error string `json:"error,omitempty"`

	// Meta carries optional extras such as token usage
	// ("tokens_in", "tokens_out", "cost_usd").
	Meta map[string]interface{} `json:"meta,omitempty"`
}

// Finished reports whether the event closes a step, successfully or not.
func (e Event) Finished() bool {
	return e.Kind == KindReviewFinished || e.Kind == KindReviewFailed
}
