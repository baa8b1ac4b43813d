// Package review provides the review orchestration engine for swiss.
package review

import (
	"errors"
	"fmt"
)

// ErrConfigNotFound indicates that a named workflow has no definition.
// Callers can list the available workflows and retry with another name.
var ErrConfigNotFound = errors.New("workflow config not found")

// ErrConfigMalformed indicates that a workflow definition exists but does
// not satisfy the workflow schema (missing model, empty step list, bad step).
var ErrConfigMalformed = errors.New("workflow config malformed")

// ErrInvalidName indicates that a workflow or step identifier contains
// characters outside [A-Za-z0-9_-].
var ErrInvalidName = errors.New("invalid name: only letters, digits, '-' and '_' are allowed")

// ErrContextMissing indicates that a required shared context was not found.
var ErrContextMissing = errors.New("workflow context not found")

// ErrContextEmpty indicates that a required shared context has only whitespace.
var ErrContextEmpty = errors.New("workflow context is empty")

// ErrPromptMissing indicates that a step has no instruction prompt.
var ErrPromptMissing = errors.New("review prompt not found")

// ErrMalformedResponse indicates that the service answer is not parseable JSON.
var ErrMalformedResponse = errors.New("malformed service response")

// ErrSchemaViolation indicates that the service answer does not satisfy the
// structured-output contract. The concrete error is a *SchemaError.
var ErrSchemaViolation = errors.New("service response violates output contract")

// ErrServiceUnavailable indicates a transport-level failure reaching the
// external reasoning service. It is never retried.
var ErrServiceUnavailable = errors.New("reasoning service unavailable")

// SchemaError names the field of a service response that failed validation.
type SchemaError struct {
	// Field is a JSON path such as "results[2].score". Empty for the root.
	Field string

	// Reason describes the violated constraint.
	Reason string
}

func (e *SchemaError) Error() string {
	if e.Field == "" {
		return ErrSchemaViolation.Error() + ": " + e.Reason
	}
	return fmt.Sprintf("%s: %s: %s", ErrSchemaViolation.Error(), e.Field, e.Reason)
}

// Is reports ErrSchemaViolation so callers can match with errors.Is.
func (e *SchemaError) Is(target error) bool {
	return target == ErrSchemaViolation
}

// ConfigError reports an invalid workflow definition field.
type ConfigError struct {
	Workflow string
	Field    string
	Reason   string
}

func (e *ConfigError) Error() string {
	msg := ErrConfigMalformed.Error()
	if e.Workflow != "" {
		msg += " (" + e.Workflow + ")"
	}
	if e.Field != "" {
		msg += ": " + e.Field
	}
	return msg + ": " + e.Reason
}

// Is reports ErrConfigMalformed so callers can match with errors.Is.
func (e *ConfigError) Is(target error) bool {
	return target == ErrConfigMalformed
}
