package emit

import "sync"

// Emitter receives progress events from the review engine.
//
// Emit is called synchronously between service calls. Implementations
// should return quickly and must not panic; delivery failures are the
// emitter's own concern and never fail a review.
type Emitter interface {
	Emit(event Event)
}

// Func adapts an ordinary function to the Emitter interface.
//
//	engine := review.New(client, prompts, review.WithEmitter(emit.Func(func(e emit.Event) {
//	    fmt.Printf("[%d/%d] %s\n", e.Index, e.Total, e.Name)
//	})))
type Func func(event Event)

// Emit calls f(event).
func (f Func) Emit(event Event) {
	if f != nil {
		f(event)
	}
}

// Multi fans every event out to several emitters in order.
type Multi struct {
	mu       sync.RWMutex
	emitters []Emitter
}

// NewMulti creates a Multi. Nil emitters are skipped.
func NewMulti(emitters ...Emitter) *Multi {
	m := &Multi{}
	for _, e := range emitters {
		m.Add(e)
	}
	return m
}

// Add appends an emitter.
func (m *Multi) Add(e Emitter) {
	if e == nil {
		return
	}
	m.mu.Lock()
	m.emitters = append(m.emitters, e)
	m.mu.Unlock()
}

// Len returns the number of attached emitters.
func (m *Multi) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.emitters)
}

// Emit implements Emitter.
func (m *Multi) Emit(event Event) {
	m.mu.RLock()
	targets := make([]Emitter, len(m.emitters))
	copy(targets, m.emitters)
	m.mu.RUnlock()

	for _, e := range targets {
		e.Emit(event)
	}
}
