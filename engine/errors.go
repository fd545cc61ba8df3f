package engine

import (
	"errors"
	"fmt"

	"github.com/guildwarden/warden/event"
)

// ErrNotFound is returned for unknown module ids and command names.
var ErrNotFound = errors.New("not found")

// ConfigurationError describes a startup-time configuration bug. Registry construction panics
// with it; the daemon treats it as fatal.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "configuration error: " + e.Reason
}

func configErrorf(format string, args ...any) *ConfigurationError {
	return &ConfigurationError{Reason: fmt.Sprintf(format, args...)}
}

// ModuleHandlerError is a listener returning an error for one event.
type ModuleHandlerError struct {
	ModuleID string
	Kind     event.Kind
	Err      error
}

func (e *ModuleHandlerError) Error() string {
	return fmt.Sprintf("module %s failed handling %s: %v", e.ModuleID, e.Kind, e.Err)
}

func (e *ModuleHandlerError) Unwrap() error {
	return e.Err
}

// TaskFailure is a listener terminating abnormally (a recovered panic).
type TaskFailure struct {
	ModuleID string
	Kind     event.Kind
	Value    any
	Stack    []byte
}

func (e *TaskFailure) Error() string {
	return fmt.Sprintf("module %s panicked handling %s: %v", e.ModuleID, e.Kind, e.Value)
}
