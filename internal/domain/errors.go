package domain

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

var (
	ErrSessionExists         = errors.New("session already exists")
	ErrSessionNotFound       = errors.New("session not found")
	ErrSessionNotReady       = errors.New("session not ready")
	ErrRecipientUnregistered = errors.New("recipient is not registered")
	ErrGroupNotFound         = errors.New("group not found")
	ErrDispatchBlocked       = errors.New("dispatch blocked by policy")
	ErrInvalidTransition     = errors.New("invalid state transition")
)

// AdapterError wraps a failure reported by the connection engine.
type AdapterError struct {
	Op  string
	Err error
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("engine %s: %v", e.Op, e.Err)
}

func (e *AdapterError) Unwrap() error {
	return e.Err
}

// ValidationError carries per-field validation messages.
type ValidationError struct {
	Fields map[string]string
}

// NewValidationError returns a ValidationError for a single field.
func NewValidationError(field, msg string) *ValidationError {
	return &ValidationError{Fields: map[string]string{field: msg}}
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return "validation failed: " + strings.Join(parts, ", ")
}
