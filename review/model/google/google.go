package google

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"

	"github.com/dshills/swiss/review/model"
)

// Client implements model.Client for Google's Gemini API.
//
// Each thread is a genai chat session, so a thread keeps its own history.
// The response contract is applied through ResponseMIMEType and
// ResponseSchema on the session's model.
//
// Example usage:
//
//	client, err := google.NewClient(ctx, os.Getenv("GOOGLE_API_KEY"))
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer client.Close()
type Client struct {
	genai      *genai.Client
	newSession func(modelName string) (chatSession, func(*genai.Schema))
}

// chatSession is the subset of *genai.ChatSession a thread uses.
type chatSession interface {
	SendMessage(ctx context.Context, parts ...genai.Part) (*genai.GenerateContentResponse, error)
}

// NewClient creates a Client authenticated with apiKey. Extra client
// options (endpoint, HTTP client) are applied after the key.
func NewClient(ctx context.Context, apiKey string, opts ...option.ClientOption) (*Client, error) {
	all := append([]option.ClientOption{option.WithAPIKey(apiKey)}, opts...)
	gc, err := genai.NewClient(ctx, all...)
	if err != nil {
		return nil, fmt.Errorf("google: create client: %w", err)
	}
	c := &Client{genai: gc}
	c.newSession = func(modelName string) (chatSession, func(*genai.Schema)) {
		gm := gc.GenerativeModel(modelName)
		gm.ResponseMIMEType = "application/json"
		return gm.StartChat(), func(s *genai.Schema) { gm.ResponseSchema = s }
	}
	return c, nil
}

// Close releases the underlying client.
func (c *Client) Close() error {
	if c.genai != nil {
		return c.genai.Close()
	}
	return nil
}

// StartThread implements model.Client.
func (c *Client) StartThread(ctx context.Context, opts model.ThreadOptions) (model.Thread, error) {
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if opts.Model == "" {
		return nil, errors.New("google: model is required")
	}
	session, setSchema := c.newSession(opts.Model)
	return &thread{session: session, setSchema: setSchema}, nil
}

type thread struct {
	session   chatSession
	setSchema func(*genai.Schema)

	mu     sync.Mutex
	closed bool
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

	var schema *genai.Schema
	if format.Schema != nil {
		schema = toSchema(map[string]interface{}(format.Schema))
	}
	t.setSchema(schema)

	resp, err := t.session.SendMessage(ctx, genai.Text(prompt))
	if err != nil {
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			return model.Turn{}, err
		}
		return model.Turn{}, fmt.Errorf("google: %w", err)
	}

	text, err := responseText(resp)
	if err != nil {
		return model.Turn{}, err
	}

	turn := model.Turn{FinalResponse: text}
	if resp.UsageMetadata != nil {
		turn.Usage = model.Usage{
			InputTokens:  int(resp.UsageMetadata.PromptTokenCount),
			OutputTokens: int(resp.UsageMetadata.CandidatesTokenCount),
		}
	}
	return turn, nil
}

// Close implements model.Thread.
func (t *thread) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func responseText(resp *genai.GenerateContentResponse) (string, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		return "", errors.New("google: response has no candidates")
	}
	candidate := resp.Candidates[0]
	if candidate.Content == nil {
		return "", fmt.Errorf("google: empty candidate (finish reason %s)", candidate.FinishReason)
	}
	var b strings.Builder
	for _, part := range candidate.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return b.String(), nil
}

// toSchema converts a JSON Schema document into a genai.Schema. Keywords
// Gemini does not support (additionalProperties, bounds) are dropped.
func toSchema(doc map[string]interface{}) *genai.Schema {
	s := &genai.Schema{}
	if t, ok := doc["type"].(string); ok {
		s.Type = schemaType(t)
	}
	if d, ok := doc["description"].(string); ok {
		s.Description = d
	}
	if props, ok := asMap(doc["properties"]); ok {
		s.Properties = make(map[string]*genai.Schema, len(props))
		for name, raw := range props {
			if sub, ok := asMap(raw); ok {
				s.Properties[name] = toSchema(sub)
			}
		}
	}
	if items, ok := asMap(doc["items"]); ok {
		s.Items = toSchema(items)
	}
	s.Required = stringList(doc["required"])
	return s
}

func schemaType(t string) genai.Type {
	switch t {
	case "object":
		return genai.TypeObject
	case "array":
		return genai.TypeArray
	case "string":
		return genai.TypeString
	case "integer":
		return genai.TypeInteger
	case "number":
		return genai.TypeNumber
	case "boolean":
		return genai.TypeBoolean
	default:
		return genai.TypeUnspecified
	}
}

func asMap(v interface{}) (map[string]interface{}, bool) {
	switch m := v.(type) {
	case map[string]interface{}:
		return m, true
	case model.Schema:
		return m, true
	}
	return nil, false
}

func stringList(v interface{}) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
