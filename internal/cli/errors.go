package cli

import (
	"errors"
	"fmt"
)

// Exit codes.
const (
	ExitOK          = 0
	ExitFailure     = 1
	ExitNeedsAction = 2
)

// ExitError represents a command result with a specific exit code.
//
// Commands return it from RunE instead of calling os.Exit, so exit codes
// can be asserted in tests. Execute turns it into the process exit code.
type ExitError struct {
	// Code is the exit code to return to the shell.
	Code int

	// Err is the cause, if any. Nil for a clean needs-action exit.
	Err error
}

// Error implements the error interface.
func (e *ExitError) Error() string {
	if e.Err != nil {
		return e.Err.Error()
	}
	return fmt.Sprintf("exit status %d", e.Code)
}

// Unwrap returns the cause.
func (e *ExitError) Unwrap() error {
	return e.Err
}

// NewExitError creates an ExitError with the given exit code.
func NewExitError(code int, err error) *ExitError {
	return &ExitError{Code: code, Err: err}
}

// IsExitError extracts the exit code carried by err.
func IsExitError(err error) (int, bool) {
	var exitErr *ExitError
	if errors.As(err, &exitErr) {
		return exitErr.Code, true
	}
	return 0, false
}
