package anthropic

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/dshills/swiss/review/model"
)

// DefaultMaxTokens bounds the length of one review turn.
const DefaultMaxTokens = 8192

// Client implements model.Client for Anthropic's Messages API.
//
// Structured output is obtained by offering a single tool whose input schema
// is the response contract and forcing the model to call it. The tool input
// becomes the turn's final response.
//
// Example usage:
//
//	client := anthropic.NewClient(os.Getenv("ANTHROPIC_API_KEY"))
//	thread, err := client.StartThread(ctx, model.ThreadOptions{Model: "claude-sonnet-4-5"})
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer thread.Close()
type Client struct {
	messages  messageCreator
	maxTokens int64
}

// messageCreator is the subset of the SDK message service the client needs.
type messageCreator interface {
	New(ctx context.Context, body sdk.MessageNewParams, opts ...option.RequestOption) (*sdk.Message, error)
}

// NewClient creates a Client. SDK retries are disabled: a failed call is
// reported to the engine, which never retries.
//
// Additional request options (base URL, HTTP client, headers) are applied
// after the defaults.
func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	all := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	all = append(all, opts...)
	c := sdk.NewClient(all...)
	return &Client{
		messages:  &c.Messages,
		maxTokens: DefaultMaxTokens,
	}
}

// WithMaxTokens sets the per-turn output token limit.
func (c *Client) WithMaxTokens(n int64) *Client {
	if n > 0 {
		c.maxTokens = n
	}
	return c
}

// StartThread implements model.Client.
func (c *Client) StartThread(ctx context.Context, opts model.ThreadOptions) (model.Thread, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if opts.Model == "" {
		return nil, errors.New("anthropic: model is required")
	}
	return &thread{client: c, model: opts.Model}, nil
}

type thread struct {
	client *Client
	model  string

	mu      sync.Mutex
	history []sdk.MessageParam
	closed  bool
}

// Run implements model.Thread.
func (t *thread) Run(ctx context.Context, prompt string, format model.ResponseFormat) (model.Turn, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.closed {
		return model.Turn{}, model.ErrThreadClosed
	}
	if ctx.Err() != nil {
		return model.Turn{}, ctx.Err()
	}

	messages := make([]sdk.MessageParam, 0, len(t.history)+1)
	messages = append(messages, t.history...)
	messages = append(messages, sdk.NewUserMessage(sdk.NewTextBlock(prompt)))

	params := sdk.MessageNewParams{
		Model:     sdk.Model(t.model),
		MaxTokens: t.client.maxTokens,
		Messages:  messages,
	}
	if format.Name != "" {
		params.Tools = []sdk.ToolUnionParam{{
			OfTool: &sdk.ToolParam{
				Name:        format.Name,
				Description: sdk.String(format.Description),
				InputSchema: inputSchema(format.Schema),
			},
		}}
		params.ToolChoice = sdk.ToolChoiceUnionParam{
			OfTool: &sdk.ToolChoiceToolParam{Name: format.Name},
		}
	}

	msg, err := t.client.messages.New(ctx, params)
	if err != nil {
		return model.Turn{}, translateError(err)
	}

	final, err := finalResponse(msg, format.Name)
	if err != nil {
		return model.Turn{}, err
	}

	t.history = append(messages, sdk.NewAssistantMessage(sdk.NewTextBlock(final)))

	return model.Turn{
		FinalResponse: final,
		Usage: model.Usage{
			InputTokens:  int(msg.Usage.InputTokens),
			OutputTokens: int(msg.Usage.OutputTokens),
		},
	}, nil
}

// Close implements model.Thread.
func (t *thread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	t.history = nil
	return nil
}

// finalResponse returns the forced tool call's input, or the concatenated
// text blocks when the model answered in prose.
func finalResponse(msg *sdk.Message, toolName string) (string, error) {
	var text strings.Builder
	for _, block := range msg.Content {
		switch block.Type {
		case "tool_use":
			if toolName != "" && block.Name != toolName {
				continue
			}
			raw, err := json.Marshal(block.Input)
			if err != nil {
				return "", fmt.Errorf("anthropic: encode tool input: %w", err)
			}
			return string(raw), nil
		case "text":
			text.WriteString(block.Text)
		}
	}
	return text.String(), nil
}

// inputSchema converts a JSON Schema object into the SDK tool schema.
func inputSchema(schema model.Schema) sdk.ToolInputSchemaParam {
	param := sdk.ToolInputSchemaParam{
		Properties: schema["properties"],
	}
	switch req := schema["required"].(type) {
	case []string:
		param.Required = req
	case []interface{}:
		for _, r := range req {
			if s, ok := r.(string); ok {
				param.Required = append(param.Required, s)
			}
		}
	}
	return param
}

// translateError keeps the SDK error in the chain and prefixes the HTTP status.
func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("anthropic: status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("anthropic: %w", err)
}
