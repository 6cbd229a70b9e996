// Package apxerrors is the stable error taxonomy every core component
// returns through (spec §7). It replaces exceptions-for-control-flow
// with a plain result type: every public operation in the core returns
// (T, error), and a *Error carries the machine-readable code a caller
// needs to branch on.
package apxerrors

import "fmt"

// Code is one of the stable machine codes from spec §7.
type Code string

const (
	CodeAuthRequired        Code = "AUTH_REQUIRED"
	CodeAuthFailed          Code = "AUTH_FAILED"
	CodePermissionDenied    Code = "PERMISSION_DENIED"
	CodeRateLimited         Code = "RATE_LIMITED"
	CodeValidation          Code = "VALIDATION"
	CodeUnknownTool         Code = "UNKNOWN_TOOL"
	CodeSessionNotFound     Code = "SESSION_NOT_FOUND"
	CodeSessionLimit        Code = "SESSION_LIMIT"
	CodePoolExhausted       Code = "POOL_EXHAUSTED"
	CodePoolClosed          Code = "POOL_CLOSED"
	CodeDriverCreateFailed  Code = "DRIVER_CREATE_FAILED"
	CodeTransportLost       Code = "TRANSPORT_LOST"
	CodeElementNotFound     Code = "ELEMENT_NOT_FOUND"
	CodeElementNotInteract  Code = "ELEMENT_NOT_INTERACTABLE"
	CodeStaleElement        Code = "STALE_ELEMENT"
	CodeTimeout             Code = "TIMEOUT"
	CodeInternal            Code = "INTERNAL"
)

// Error is the structured error every public operation returns. Secret
// material never appears in any field (spec §4.4, §7).
type Error struct {
	Code            Code
	Message         string
	Field           string
	Value           string
	Troubleshooting string
	cause           error
}

func (e *Error) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("%s: %s (field=%s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *Error) Unwrap() error { return e.cause }

// New builds a bare *Error.
func New(code Code, message string) *Error {
	return &Error{Code: code, Message: message}
}

// Wrap builds a *Error carrying an underlying cause for %w chains.
func Wrap(code Code, message string, cause error) *Error {
	return &Error{Code: code, Message: message, cause: cause}
}

// WithField returns a copy of e annotated with the offending field and a
// sanitized value (never the raw secret).
func (e *Error) WithField(field, value string) *Error {
	cp := *e
	cp.Field = field
	cp.Value = value
	return &cp
}

// WithHint returns a copy of e annotated with a troubleshooting hint.
func (e *Error) WithHint(hint string) *Error {
	cp := *e
	cp.Troubleshooting = hint
	return &cp
}

// CodeOf extracts the Code from err, or CodeInternal if err is not a
// *Error.
func CodeOf(err error) Code {
	if e, ok := err.(*Error); ok {
		return e.Code
	}
	return CodeInternal
}

// ValidationErrors accumulates field-level validation failures and
// collapses into a single VALIDATION *Error.
type ValidationErrors struct {
	fields   []string
	messages []string
}

// ValidationErrs starts a new accumulator.
func ValidationErrs() *ValidationErrors {
	return &ValidationErrors{}
}

// Add records one field-level failure.
func (v *ValidationErrors) Add(field, message string) {
	v.fields = append(v.fields, field)
	v.messages = append(v.messages, message)
}

// Empty reports whether any failure was recorded.
func (v *ValidationErrors) Empty() bool { return len(v.fields) == 0 }

// Err returns nil if no failure was recorded, else a *Error naming the
// first offending field (callers needing the full list can use Fields).
func (v *ValidationErrors) Err() error {
	if v.Empty() {
		return nil
	}
	return New(CodeValidation, v.messages[0]).WithField(v.fields[0], "")
}

// Fields returns the field/message pairs recorded so far.
func (v *ValidationErrors) Fields() ([]string, []string) {
	return v.fields, v.messages
}
