package orchestrator

import (
	"errors"
	"fmt"
)

// DecisionParseError means the supervisor model answered with something
// other than a decision object.
type DecisionParseError struct {
	Raw string
	Err error
}

func (e *DecisionParseError) Error() string {
	return fmt.Sprintf("unparseable decision: %v", e.Err)
}

func (e *DecisionParseError) Unwrap() error { return e.Err }

// UnknownHandlerError names a handler that is not registered.
type UnknownHandlerError struct {
	Name string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("agent %q not available", e.Name)
}

// HandlerInvocationError wraps any failure inside a handler's turn: a model
// call or a tool that failed outright.
type HandlerInvocationError struct {
	Handler string
	Err     error
}

func (e *HandlerInvocationError) Error() string {
	return fmt.Sprintf("agent %s: %v", e.Handler, e.Err)
}

func (e *HandlerInvocationError) Unwrap() error { return e.Err }

// RegistrationError is a handler constructor failure at startup.
type RegistrationError struct {
	Handler string
	Err     error
}

func (e *RegistrationError) Error() string {
	return fmt.Sprintf("register agent %s: %v", e.Handler, e.Err)
}

func (e *RegistrationError) Unwrap() error { return e.Err }

// ToolError is a failed tool execution. Retryable marks transport and
// timeout failures; validation and not-found failures are terminal.
type ToolError struct {
	Tool      string
	Err       error
	Retryable bool
}

func (e *ToolError) Error() string {
	return fmt.Sprintf("tool %s: %v", e.Tool, e.Err)
}

func (e *ToolError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable tool failure.
func Transient(tool string, err error) error {
	return &ToolError{Tool: tool, Err: err, Retryable: true}
}

// Terminal wraps err as a non-retryable tool failure.
func Terminal(tool string, err error) error {
	return &ToolError{Tool: tool, Err: err}
}

// IsRetryable reports whether err carries a retryable ToolError.
func IsRetryable(err error) bool {
	var te *ToolError
	if errors.As(err, &te) {
		return te.Retryable
	}
	return false
}
