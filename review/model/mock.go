package model

import (
	"context"
	"sync"
)

// MockClient is a test implementation of Client.
//
// Use MockClient in tests to verify engine behavior without calling a real
// service. It provides:
//   - Scripted turns, consumed in order across all threads
//   - Call history (thread options and prompts)
//   - Error injection at StartThread or Run time
//
// Example usage:
//
//	mock := &MockClient{
//	    Turns: []Turn{
//	        {FinalResponse: `{"results":[]}`},
//	        {FinalResponse: `{"results":[{"review":"bug","score":95,"filePath":"a.go","line":3}]}`},
//	    },
//	}
type MockClient struct {
	// Turns contains the sequence of turns to return.
	// If all turns are consumed, the last turn repeats.
	Turns []Turn

	// Errs, if set, are returned by Run at the same index as Turns.
	// A nil entry means "return the turn".
	Errs []error

	// StartErr, if set, is returned by StartThread.
	StartErr error

	// Calls tracks every Run invocation in order.
	Calls []MockCall

	// Threads tracks every thread opened.
	Threads []*MockThread

	mu        sync.Mutex
	callIndex int
}

// MockCall records a single Run invocation.
type MockCall struct {
	Options ThreadOptions
	Prompt  string
	Format  ResponseFormat
}

// StartThread implements Client.
func (m *MockClient) StartThread(ctx context.Context, opts ThreadOptions) (Thread, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if m.StartErr != nil {
		return nil, m.StartErr
	}
	t := &MockThread{client: m, opts: opts}
	m.Threads = append(m.Threads, t)
	return t, nil
}

func (m *MockClient) next(opts ThreadOptions, prompt string, format ResponseFormat) (Turn, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.Calls = append(m.Calls, MockCall{Options: opts, Prompt: prompt, Format: format})

	idx := m.callIndex
	m.callIndex++

	if idx < len(m.Errs) && m.Errs[idx] != nil {
		return Turn{}, m.Errs[idx]
	}
	if len(m.Turns) == 0 {
		return Turn{FinalResponse: `{"results":[]}`}, nil
	}
	if idx >= len(m.Turns) {
		idx = len(m.Turns) - 1
	}
	return m.Turns[idx], nil
}

// CallCount returns the number of Run calls.
func (m *MockClient) CallCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Calls)
}

// Reset clears history and rewinds the scripted turns.
func (m *MockClient) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Calls = nil
	m.Threads = nil
	m.callIndex = 0
}

// MockThread is the Thread returned by MockClient.
type MockThread struct {
	client *MockClient
	opts   ThreadOptions

	mu     sync.Mutex
	closed bool
	turns  int
}

// Run implements Thread.
func (t *MockThread) Run(ctx context.Context, prompt string, format ResponseFormat) (Turn, error) {
	if ctx.Err() != nil {
		return Turn{}, ctx.Err()
	}
	t.mu.Lock()
	if t.closed {
		t.mu.Unlock()
		return Turn{}, ErrThreadClosed
	}
	t.turns++
	t.mu.Unlock()

	return t.client.next(t.opts, prompt, format)
}

// Close implements Thread.
func (t *MockThread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

// Closed reports whether Close was called.
func (t *MockThread) Closed() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.closed
}

// TurnCount returns how many turns were run on this thread.
func (t *MockThread) TurnCount() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.turns
}
