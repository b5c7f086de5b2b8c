// Package errors carries the failure taxonomy shared by the tool executor,
// the conversation loop and the HTTP layer. Every failure is tagged with a
// Kind; the text shown to a user is derived from the Kind only when the error
// is rendered, never stored alongside it.
package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Kind enumerates the failure categories the backend distinguishes.
type Kind string

const (
	KindValidation         Kind = "validation"
	KindNotFound           Kind = "not_found"
	KindUnauthorized       Kind = "unauthorized"
	KindConflict           Kind = "conflict"
	KindProvider           Kind = "provider"
	KindUnavailable        Kind = "unavailable"
	KindUnknownTool        Kind = "unknown_tool"
	KindInvalidInput       Kind = "invalid_input"
	KindInvalidExpression  Kind = "invalid_expression"
	KindCalculation        Kind = "calculation"
	KindDivisionByZero     Kind = "division_by_zero"
	KindStorageUnavailable Kind = "storage_unavailable"
	KindToolFailed         Kind = "tool_failed"
	KindIterationLimit     Kind = "iteration_limit"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// Error is a classified failure. Detail is the variable part of the message
// (a tool name, a parser complaint, a provider error string).
type Error struct {
	Kind   Kind
	Detail string
	Err    error
}

func (e *Error) Error() string {
	return e.Message()
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message renders the user-facing text for the error.
func (e *Error) Message() string {
	switch e.Kind {
	case KindUnknownTool:
		return "Unknown tool: " + e.Detail
	case KindInvalidExpression:
		return "Invalid characters in expression. Only numbers and basic operators allowed."
	case KindCalculation:
		return "Calculation error: " + e.Detail
	case KindDivisionByZero:
		return "Division by zero"
	case KindStorageUnavailable:
		return "Database not available"
	case KindIterationLimit:
		return "maximum tool iterations reached"
	case KindCanceled:
		return "request canceled"
	case KindToolFailed:
		return "Tool execution failed: " + e.Detail
	case KindProvider:
		if e.Detail == "" && e.Err != nil {
			return e.Err.Error()
		}
		return e.Detail
	}
	if e.Detail != "" {
		return e.Detail
	}
	if e.Err != nil {
		return e.Err.Error()
	}
	return strings.ReplaceAll(string(e.Kind), "_", " ")
}

// New returns an Error of the given kind.
func New(kind Kind, detail string) *Error {
	return &Error{Kind: kind, Detail: detail}
}

// Newf is New with a formatted detail.
func Newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Detail: fmt.Sprintf(format, args...)}
}

// Wrap tags err with a kind. The detail is taken from err.
func Wrap(kind Kind, err error) *Error {
	if err == nil {
		return nil
	}
	return &Error{Kind: kind, Detail: err.Error(), Err: err}
}

// KindOf returns the Kind carried by err, or KindInternal for untagged errors.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// HTTPStatus maps a kind onto the status code the API responds with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindValidation, KindInvalidInput, KindInvalidExpression, KindCalculation, KindDivisionByZero:
		return http.StatusBadRequest
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindUnavailable, KindStorageUnavailable:
		return http.StatusServiceUnavailable
	case KindProvider:
		return http.StatusBadGateway
	case KindCanceled:
		return 499
	default:
		return http.StatusInternalServerError
	}
}

// ErrorType categorizes provider failures for logging. The conversation loop
// never retries, but knowing whether a retry could have helped is useful to
// whoever reads the log.
type ErrorType string

const (
	// ErrorTypeRetryable indicates the error might succeed on retry
	ErrorTypeRetryable ErrorType = "retryable"
	// ErrorTypePermanent indicates the error will not succeed on retry
	ErrorTypePermanent ErrorType = "permanent"
	// ErrorTypePanic indicates a panic was recovered
	ErrorTypePanic ErrorType = "panic"
)

// IsRetryable checks if an error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err) == ErrorTypeRetryable
}

// ClassifyError determines the error type based on error message patterns.
func ClassifyError(err error) ErrorType {
	if err == nil {
		return ErrorTypePermanent
	}

	msg := strings.ToLower(err.Error())

	retryablePatterns := []string{
		// Network errors
		"connection refused",
		"connection reset",
		"no such host",
		"timeout",
		"deadline exceeded",
		"temporary failure",
		"network is unreachable",
		"connection timed out",
		// Rate limiting
		"rate limit",
		"too many requests",
		"429",
		"503",
		"service unavailable",
		"temporarily unavailable",
		"overloaded",
		// API errors
		"internal server error",
		"502",
		"504",
		"gateway timeout",
	}

	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return ErrorTypeRetryable
		}
	}

	permanentPatterns := []string{
		// Invalid input
		"invalid argument",
		"bad request",
		"400",
		"invalid_request",
		// Not found
		"not found",
		"404",
		// Authentication
		"unauthorized",
		"forbidden",
		"invalid api key",
		"invalid x-api-key",
		"401",
		"403",
		// Logic errors
		"panic:",
		"runtime error",
	}

	for _, pattern := range permanentPatterns {
		if strings.Contains(msg, pattern) {
			return ErrorTypePermanent
		}
	}

	// Unknown failures are assumed transient.
	return ErrorTypeRetryable
}

// RecoveryResult holds the result of a recovered panic
type RecoveryResult struct {
	Recovered  bool
	PanicValue interface{}
	ErrorMsg   string
	ErrorType  ErrorType
}

// RecoverPanic converts a recovered panic value into a RecoveryResult.
// Use with defer:
//
//	defer func() {
//	    if r := errors.RecoverPanic(recover()); r.Recovered {
//	        // Handle recovered panic
//	    }
//	}()
func RecoverPanic(r interface{}) RecoveryResult {
	if r == nil {
		return RecoveryResult{Recovered: false}
	}

	result := RecoveryResult{
		Recovered:  true,
		PanicValue: r,
		ErrorType:  ErrorTypePanic,
	}

	switch v := r.(type) {
	case error:
		result.ErrorMsg = fmt.Sprintf("panic: %v", v)
	case string:
		result.ErrorMsg = fmt.Sprintf("panic: %s", v)
	default:
		result.ErrorMsg = fmt.Sprintf("panic: %+v", v)
	}

	return result
}
