// Package errors provides the structured error taxonomy for terracache operations.
package errors

import (
	stderrors "errors"
	"fmt"
	"time"
)

// Code identifies the failure class of a cache error.
type Code string

const (
	// CodeTierUnavailable marks L2/L3 connectivity or I/O failures. These are
	// recovered inside the owning tier and degrade to a miss or no-op; they
	// appear in logs and tier internals but are never returned by the
	// orchestrator's public API.
	CodeTierUnavailable Code = "TIER_UNAVAILABLE"

	// CodeSerialization marks codec or canonicalization failures. Surfaced to
	// the caller for the affected call only.
	CodeSerialization Code = "SERIALIZATION_FAILURE"

	// CodeInvalidKey marks an empty or malformed cache key. A caller error,
	// surfaced immediately.
	CodeInvalidKey Code = "INVALID_KEY"
)

// Error is a structured cache error with tier and operation context.
type Error struct {
	Code      Code      `json:"code"`
	Message   string    `json:"message"`
	Tier      string    `json:"tier,omitempty"`
	Operation string    `json:"operation,omitempty"`
	Key       string    `json:"key,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	switch {
	case e.Tier != "" && e.Operation != "":
		return fmt.Sprintf("[%s:%s] %s: %s", e.Tier, e.Operation, e.Code, e.Message)
	case e.Operation != "":
		return fmt.Sprintf("[%s] %s: %s", e.Operation, e.Code, e.Message)
	default:
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
}

// Unwrap returns the underlying cause for errors.Is/errors.As chains.
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is matches two cache errors by code.
func (e *Error) Is(target error) bool {
	var other *Error
	if stderrors.As(target, &other) {
		return e.Code == other.Code
	}
	return false
}

// New creates an error with the given code and message.
func New(code Code, message string) *Error {
	return &Error{
		Code:      code,
		Message:   message,
		Timestamp: time.Now(),
	}
}

// NewInvalidKey reports a malformed cache key.
func NewInvalidKey(key, reason string) *Error {
	e := New(CodeInvalidKey, reason)
	e.Key = key
	return e
}

// NewSerialization reports a codec failure during op for key.
func NewSerialization(op, key string, cause error) *Error {
	e := New(CodeSerialization, "value could not be encoded or decoded")
	e.Operation = op
	e.Key = key
	e.Cause = cause
	return e
}

// NewTierUnavailable reports a tier-level connectivity or I/O failure.
func NewTierUnavailable(tier, op string, cause error) *Error {
	e := New(CodeTierUnavailable, "tier operation failed")
	e.Tier = tier
	e.Operation = op
	e.Cause = cause
	return e
}

// WithTier sets the tier label.
func (e *Error) WithTier(tier string) *Error {
	e.Tier = tier
	return e
}

// WithOperation sets the operation label.
func (e *Error) WithOperation(op string) *Error {
	e.Operation = op
	return e
}

// WithKey sets the offending key.
func (e *Error) WithKey(key string) *Error {
	e.Key = key
	return e
}

// WithCause sets the underlying cause.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// IsInvalidKey reports whether err carries CodeInvalidKey.
func IsInvalidKey(err error) bool {
	return hasCode(err, CodeInvalidKey)
}

// IsSerialization reports whether err carries CodeSerialization.
func IsSerialization(err error) bool {
	return hasCode(err, CodeSerialization)
}

// IsTierUnavailable reports whether err carries CodeTierUnavailable.
func IsTierUnavailable(err error) bool {
	return hasCode(err, CodeTierUnavailable)
}

func hasCode(err error, code Code) bool {
	var e *Error
	if stderrors.As(err, &e) {
		return e.Code == code
	}
	return false
}
