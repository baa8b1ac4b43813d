package openai

import (
	"context"
	"errors"
	"fmt"
	"sync"

	sdk "github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
	"github.com/openai/openai-go/shared"

	"github.com/dshills/swiss/review/model"
)

// Client implements model.Client for OpenAI's Chat Completions API.
//
// The response contract is sent as a strict json_schema response format.
// Strict mode rejects some JSON Schema keywords, so numeric bounds are
// removed from the schema sent to the API; the engine still enforces them
// when it validates the answer.
//
// Example usage:
//
//	client := openai.NewClient(os.Getenv("OPENAI_API_KEY"))
//	thread, err := client.StartThread(ctx, model.ThreadOptions{Model: "gpt-5"})
type Client struct {
	completions completionCreator
}

type completionCreator interface {
	New(ctx context.Context, body sdk.ChatCompletionNewParams, opts ...option.RequestOption) (*sdk.ChatCompletion, error)
}

// NewClient creates a Client with SDK retries disabled. Additional request
// options are applied after the defaults.
func NewClient(apiKey string, opts ...option.RequestOption) *Client {
	all := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(0),
	}
	all = append(all, opts...)
	c := sdk.NewClient(all...)
	return &Client{completions: &c.Chat.Completions}
}

// StartThread implements model.Client.
func (c *Client) StartThread(ctx context.Context, opts model.ThreadOptions) (model.Thread, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if opts.Model == "" {
		return nil, errors.New("openai: model is required")
	}
	return &thread{client: c, model: opts.Model}, nil
}

type thread struct {
	client *Client
	model  string

	mu      sync.Mutex
	history []sdk.ChatCompletionMessageParamUnion
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

	messages := make([]sdk.ChatCompletionMessageParamUnion, 0, len(t.history)+1)
	messages = append(messages, t.history...)
	messages = append(messages, sdk.UserMessage(prompt))

	params := sdk.ChatCompletionNewParams{
		Model:    shared.ChatModel(t.model),
		Messages: messages,
	}
	if format.Name != "" {
		params.ResponseFormat = sdk.ChatCompletionNewParamsResponseFormatUnion{
			OfJSONSchema: &shared.ResponseFormatJSONSchemaParam{
				JSONSchema: shared.ResponseFormatJSONSchemaJSONSchemaParam{
					Name:        format.Name,
					Description: sdk.String(format.Description),
					Schema:      strictSchema(format.Schema),
					Strict:      sdk.Bool(true),
				},
			},
		}
	}

	completion, err := t.client.completions.New(ctx, params)
	if err != nil {
		return model.Turn{}, translateError(err)
	}
	if len(completion.Choices) == 0 {
		return model.Turn{}, errors.New("openai: response has no choices")
	}

	msg := completion.Choices[0].Message
	if msg.Refusal != "" {
		return model.Turn{}, fmt.Errorf("openai: model refused: %s", msg.Refusal)
	}

	t.history = append(messages, sdk.AssistantMessage(msg.Content))

	return model.Turn{
		FinalResponse: msg.Content,
		Usage: model.Usage{
			InputTokens:  int(completion.Usage.PromptTokens),
			OutputTokens: int(completion.Usage.CompletionTokens),
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

// unsupportedStrictKeywords are dropped from schemas sent in strict mode.
var unsupportedStrictKeywords = map[string]bool{
	"minimum":          true,
	"maximum":          true,
	"exclusiveMinimum": true,
	"exclusiveMaximum": true,
}

// strictSchema returns a deep copy of schema without unsupported keywords.
func strictSchema(schema model.Schema) map[string]interface{} {
	return stripKeywords(map[string]interface{}(schema))
}

func stripKeywords(v map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(v))
	for key, val := range v {
		if unsupportedStrictKeywords[key] {
			continue
		}
		switch typed := val.(type) {
		case map[string]interface{}:
			out[key] = stripKeywords(typed)
		case model.Schema:
			out[key] = stripKeywords(typed)
		default:
			out[key] = val
		}
	}
	return out
}

func translateError(err error) error {
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var apiErr *sdk.Error
	if errors.As(err, &apiErr) {
		return fmt.Errorf("openai: status %d: %w", apiErr.StatusCode, err)
	}
	return fmt.Errorf("openai: %w", err)
}
