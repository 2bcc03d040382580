package lirashield

import (
	"errors"
	"fmt"
)

// ErrorCode defines error classification codes for structured error handling.
type ErrorCode string

// Error codes for different error categories.
const (
	ErrCodeInvalidInput         ErrorCode = "INVALID_INPUT"
	ErrCodeNotFound             ErrorCode = "NOT_FOUND"
	ErrCodeDuplicate            ErrorCode = "DUPLICATE"
	ErrCodeInsufficientHoldings ErrorCode = "INSUFFICIENT_HOLDINGS"
	ErrCodeDatabase             ErrorCode = "DATABASE_ERROR"
	ErrCodeValidation           ErrorCode = "VALIDATION_ERROR"
	ErrCodeInternal             ErrorCode = "INTERNAL_ERROR"
	ErrCodeUnsupported          ErrorCode = "UNSUPPORTED"
	ErrCodeFetchFailed          ErrorCode = "FETCH_FAILED"

	// Neither the USD nor the CPI benchmark could be computed.
	ErrCodeMissingBenchmark ErrorCode = "MISSING_BENCHMARK_DATA"
	ErrCodeMissingRate      ErrorCode = "MISSING_RATE_DATA"
	ErrCodeMissingCPI       ErrorCode = "MISSING_CPI_DATA"
	ErrCodeOversold         ErrorCode = "OVERSOLD_INVENTORY"
	ErrCodeMalformedDate    ErrorCode = "MALFORMED_DATE"
	ErrCodeInvalidRate      ErrorCode = "INVALID_RATE"
)

// Error represents a structured error with classification code.
type Error struct {
	Code    ErrorCode
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error for errors.Is and errors.As support.
func (e *Error) Unwrap() error {
	return e.Err
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WrapError wraps an existing error with classification code and additional context.
func WrapError(code ErrorCode, message string, err error) *Error {
	return &Error{Code: code, Message: message, Err: err}
}

// IsErrorCode reports whether any *Error in err's chain carries code.
func IsErrorCode(err error, code ErrorCode) bool {
	var e *Error
	for err != nil {
		if !errors.As(err, &e) {
			return false
		}
		if e.Code == code {
			return true
		}
		err = e.Err
	}
	return false
}

// CodeOf returns the code of the outermost *Error in err's chain, or "".
func CodeOf(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ErrorMessage returns the human message of the outermost *Error, or err.Error().
func ErrorMessage(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Message
	}
	return err.Error()
}
