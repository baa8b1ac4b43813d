// Package model provides reasoning-service adapters for the review engine.
package model

import (
	"context"
	"errors"
)

// ErrThreadClosed is returned by Thread.Run after Close.
var ErrThreadClosed = errors.New("thread is closed")

// Client opens conversation threads against a reasoning service.
//
// Every review step opens its own thread so that no step sees another
// step's transcript. Implementations must not pool or reuse threads.
//
// Example usage:
//
//	client := anthropic.NewClient(apiKey)
//	thread, err := client.StartThread(ctx, ThreadOptions{Model: "claude-sonnet-4-5"})
//	if err != nil {
//	    return err
//	}
//	defer thread.Close()
//
//	turn, err := thread.Run(ctx, prompt, format)
type Client interface {
	// StartThread opens a fresh conversation. The returned Thread must be
	// closed by the caller.
	StartThread(ctx context.Context, opts ThreadOptions) (Thread, error)
}

// ThreadOptions configures a new conversation.
type ThreadOptions struct {
	// Model is the provider model identifier for every turn of the thread.
	Model string

	// WorkingDir is the directory under review. Providers that run locally
	// (codex) execute inside it; HTTP providers ignore it.
	WorkingDir string
}

// Thread is one stateful conversation with the reasoning service.
type Thread interface {
	// Run sends prompt and waits for the turn to complete. The final
	// response must follow format.Schema.
	Run(ctx context.Context, prompt string, format ResponseFormat) (Turn, error)

	// Close releases the thread. It is safe to call more than once.
	Close() error
}

// Schema is a JSON Schema document.
type Schema map[string]interface{}

// ResponseFormat is the output-shape contract handed to the service.
type ResponseFormat struct {
	// Name identifies the contract (tool name, json_schema name).
	// Must be a valid function name (alphanumeric + underscores).
	Name string

	// Description explains the contract to the model.
	Description string

	// Schema is the JSON Schema the final response must satisfy.
	Schema Schema
}

// Turn is one completed exchange.
type Turn struct {
	// FinalResponse is the raw structured-output text.
	FinalResponse string

	// Usage reports token consumption when the provider exposes it.
	Usage Usage
}

// Usage counts tokens consumed by a turn.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
