package review

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"strings"

	"github.com/dshills/swiss/review/model"
)

// ActionThreshold is the score a finding must strictly exceed to be flagged.
const ActionThreshold = 80

// contractName identifies the output contract to providers that need a name
// (OpenAI json_schema, Anthropic tool name).
const contractName = "review_results"

// ContractSchema returns the JSON Schema the reasoning service must answer in.
//
// A fresh map is returned on every call so providers may annotate it freely.
func ContractSchema() model.Schema {
	return model.Schema{
		"type":        "object",
		"description": "Review results. Each item carries a score and the location it applies to.",
		"properties": map[string]interface{}{
			"results": map[string]interface{}{
				"type":        "array",
				"description": "Review results.",
				"items": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"review": map[string]interface{}{
							"type":        "string",
							"description": "Review text. Must contain what has to be fixed.",
						},
						"score": map[string]interface{}{
							"type":        "integer",
							"minimum":     0,
							"maximum":     100,
							"description": "Score from 0 to 100. Above 80 requires action.",
						},
						"filePath": map[string]interface{}{
							"type":        "string",
							"description": "Path of the reviewed file.",
						},
						"line": map[string]interface{}{
							"type":        "integer",
							"minimum":     0,
							"description": "Line number, or 0 when the review applies to the whole input.",
						},
					},
					"required":             []string{"review", "score", "filePath", "line"},
					"additionalProperties": false,
				},
			},
		},
		"required":             []string{"results"},
		"additionalProperties": false,
	}
}

// ResponseFormat wraps ContractSchema for model.Thread.Run.
func ResponseFormat() model.ResponseFormat {
	return model.ResponseFormat{
		Name:        contractName,
		Description: "Structured review results",
		Schema:      ContractSchema(),
	}
}

// ParseResponse parses and validates a raw service answer.
//
// A bare top-level array is accepted and treated as {"results": <array>}.
// Errors match ErrMalformedResponse (not JSON) or ErrSchemaViolation.
func ParseResponse(raw string) ([]Finding, error) {
	dec := json.NewDecoder(strings.NewReader(raw))
	dec.UseNumber()

	var doc interface{}
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	var extra interface{}
	if err := dec.Decode(&extra); err != io.EOF {
		return nil, fmt.Errorf("%w: trailing data after JSON value", ErrMalformedResponse)
	}

	if arr, ok := doc.([]interface{}); ok {
		doc = map[string]interface{}{"results": arr}
	}

	root, ok := doc.(map[string]interface{})
	if !ok {
		return nil, &SchemaError{Reason: "expected an object with a \"results\" array"}
	}
	for key := range root {
		if key != "results" {
			return nil, &SchemaError{Field: key, Reason: "unexpected field"}
		}
	}
	rawResults, ok := root["results"]
	if !ok {
		return nil, &SchemaError{Field: "results", Reason: "required"}
	}
	items, ok := rawResults.([]interface{})
	if !ok {
		return nil, &SchemaError{Field: "results", Reason: "expected an array"}
	}

	findings := make([]Finding, 0, len(items))
	for i, item := range items {
		f, err := parseFinding(fmt.Sprintf("results[%d]", i), item)
		if err != nil {
			return nil, err
		}
		findings = append(findings, f)
	}
	return findings, nil
}

func parseFinding(path string, item interface{}) (Finding, error) {
	obj, ok := item.(map[string]interface{})
	if !ok {
		return Finding{}, &SchemaError{Field: path, Reason: "expected an object"}
	}
	for key := range obj {
		switch key {
		case "review", "score", "filePath", "line":
		default:
			return Finding{}, &SchemaError{Field: path + "." + key, Reason: "unexpected field"}
		}
	}

	var f Finding
	var err error
	if f.Review, err = stringField(path, obj, "review"); err != nil {
		return Finding{}, err
	}
	if f.Score, err = intField(path, obj, "score"); err != nil {
		return Finding{}, err
	}
	if f.Score < 0 || f.Score > 100 {
		return Finding{}, &SchemaError{Field: path + ".score", Reason: fmt.Sprintf("must be between 0 and 100, got %d", f.Score)}
	}
	if f.FilePath, err = stringField(path, obj, "filePath"); err != nil {
		return Finding{}, err
	}
	if f.Line, err = intField(path, obj, "line"); err != nil {
		return Finding{}, err
	}
	if f.Line < 0 {
		return Finding{}, &SchemaError{Field: path + ".line", Reason: fmt.Sprintf("must be >= 0, got %d", f.Line)}
	}
	return f, nil
}

func stringField(path string, obj map[string]interface{}, key string) (string, error) {
	v, ok := obj[key]
	if !ok {
		return "", &SchemaError{Field: path + "." + key, Reason: "required"}
	}
	s, ok := v.(string)
	if !ok {
		return "", &SchemaError{Field: path + "." + key, Reason: "expected a string"}
	}
	return s, nil
}

func intField(path string, obj map[string]interface{}, key string) (int, error) {
	field := path + "." + key
	v, ok := obj[key]
	if !ok {
		return 0, &SchemaError{Field: field, Reason: "required"}
	}
	num, ok := v.(json.Number)
	if !ok {
		return 0, &SchemaError{Field: field, Reason: "expected an integer"}
	}
	n, err := asInteger(num)
	if err != nil {
		return 0, &SchemaError{Field: field, Reason: "expected an integer, got " + num.String()}
	}
	if n > math.MaxInt || n < math.MinInt {
		return 0, &SchemaError{Field: field, Reason: "integer out of range: " + num.String()}
	}
	return int(n), nil
}

// asInteger accepts integral JSON numbers, including forms like 12.0 or 1e1.
func asInteger(num json.Number) (int64, error) {
	if n, err := num.Int64(); err == nil {
		return n, nil
	}
	f, err := num.Float64()
	if err != nil {
		return 0, err
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) || f > math.MaxInt64 || f < math.MinInt64 {
		return 0, fmt.Errorf("not an integer: %s", num)
	}
	return int64(f), nil
}

// Flagged keeps the findings whose score is strictly above ActionThreshold.
func Flagged(findings []Finding) []Finding {
	out := make([]Finding, 0, len(findings))
	for _, f := range findings {
		if f.Score > ActionThreshold {
			out = append(out, f)
		}
	}
	return out
}

// tagResults maps flagged findings to Results carrying the step name.
func tagResults(step string, findings []Finding) []Result {
	results := make([]Result, 0, len(findings))
	for _, f := range findings {
		results = append(results, Result{
			Name:     step,
			Review:   f.Review,
			Score:    f.Score,
			FilePath: f.FilePath,
			Line:     f.Line,
		})
	}
	return results
}

// compactJSON is used in log fields to keep raw responses on one line.
func compactJSON(raw string) string {
	var buf bytes.Buffer
	if err := json.Compact(&buf, []byte(raw)); err != nil {
		return raw
	}
	return buf.String()
}
