package emit

import "sync"

// BufferedEmitter keeps every event in memory, grouped by run ID.
//
// It backs the editor's progress view and is the usual emitter in tests.
// Events are never evicted; call Clear when a run is no longer needed.
//
//	buf := emit.NewBufferedEmitter()
//	coord := review.NewCoordinator(review.New(client, prompts, review.WithEmitter(buf)), src)
//	coord.RunOne(ctx, "default", input)
//	finished := buf.GetHistoryWithFilter(runID, emit.HistoryFilter{Kind: emit.KindReviewFinished})
type BufferedEmitter struct {
	mu     sync.RWMutex
	events map[string][]Event
	order  []string
}

// HistoryFilter selects events. Zero-valued fields do not filter; set fields
// are combined with AND.
type HistoryFilter struct {
	Kind     string
	Workflow string
	Name     string
	MinIndex *int
	MaxIndex *int
}

func (f HistoryFilter) empty() bool {
	return f.Kind == "" && f.Workflow == "" && f.Name == "" && f.MinIndex == nil && f.MaxIndex == nil
}

func (f HistoryFilter) matches(event Event) bool {
	if f.Kind != "" && event.Kind != f.Kind {
		return false
	}
	if f.Workflow != "" && event.Workflow != f.Workflow {
		return false
	}
	if f.Name != "" && event.Name != f.Name {
		return false
	}
	if f.MinIndex != nil && event.Index < *f.MinIndex {
		return false
	}
	if f.MaxIndex != nil && event.Index > *f.MaxIndex {
		return false
	}
	return true
}

// NewBufferedEmitter creates an empty BufferedEmitter.
func NewBufferedEmitter() *BufferedEmitter {
	return &BufferedEmitter{
		events: make(map[string][]Event),
	}
}

// Emit stores the event.
func (b *BufferedEmitter) Emit(event Event) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, seen := b.events[event.RunID]; !seen {
		b.order = append(b.order, event.RunID)
	}
	b.events[event.RunID] = append(b.events[event.RunID], event)
}

// GetHistory returns a copy of the events of runID in emission order.
// The result is never nil.
func (b *BufferedEmitter) GetHistory(runID string) []Event {
	return b.GetHistoryWithFilter(runID, HistoryFilter{})
}

// GetHistoryWithFilter returns the events of runID that match filter.
func (b *BufferedEmitter) GetHistoryWithFilter(runID string, filter HistoryFilter) []Event {
	b.mu.RLock()
	defer b.mu.RUnlock()

	events := b.events[runID]
	if filter.empty() {
		result := make([]Event, len(events))
		copy(result, events)
		return result
	}

	result := []Event{}
	for _, event := range events {
		if filter.matches(event) {
			result = append(result, event)
		}
	}
	return result
}

// Runs returns the run IDs seen so far, oldest first.
func (b *BufferedEmitter) Runs() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()

	runs := make([]string, len(b.order))
	copy(runs, b.order)
	return runs
}

// Clear drops the events of runID, or of every run when runID is empty.
func (b *BufferedEmitter) Clear(runID string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if runID == "" {
		b.events = make(map[string][]Event)
		b.order = nil
		return
	}
	delete(b.events, runID)
	for i, id := range b.order {
		if id == runID {
			b.order = append(b.order[:i], b.order[i+1:]...)
			break
		}
	}
}
