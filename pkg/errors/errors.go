// Package errors provides the error taxonomy shared by the middleware pipeline.
// It keeps the categories callers must tell apart (malformed client input,
// programming misuse, configuration problems, sink failures) distinguishable
// through errors.Is, while inner service errors are never wrapped by it.
package errors

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Standard error types for the pipeline
var (
	ErrValidation            = errors.New("validation error")
	ErrConnection            = errors.New("connection error")
	ErrPublish               = errors.New("publish error")
	ErrInternal              = errors.New("internal error")
	ErrMalformedTimeout      = errors.New("malformed grpc-timeout")
	ErrPolledAfterCompletion = errors.New("future polled after completion")
)

// errorType is a custom error with a specific type
type errorType struct {
	baseErr error
	msg     string
	cause   error
	details map[string]interface{}
	// Flag to indicate if the error is retryable
	retryable bool
}

type ErrorWithDetails interface {
	Error() string
	Details() map[string]interface{}
}

// Error implements the error interface
func (e *errorType) Error() string {
	if e == nil {
		return ""
	}

	base := fmt.Sprintf("%s: %s", e.baseErr.Error(), e.msg)

	if len(e.details) > 0 {
		detailsJSON, err := json.Marshal(e.details)
		if err == nil {
			base += fmt.Sprintf(" - details: %s", detailsJSON)
		}
	}

	if e.cause != nil {
		base += fmt.Sprintf(" - caused by: %v", e.cause)
	}

	return base
}

// Unwrap returns the underlying cause of the error
func (e *errorType) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.cause
}

// Is reports whether the error is of the specified type
func (e *errorType) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	return errors.Is(e.baseErr, target)
}

// Details returns the structured details attached to the error
func (e *errorType) Details() map[string]interface{} {
	if e == nil {
		return nil
	}
	return e.details
}

// NewValidationError creates a new validation error
func NewValidationError(msg string) error {
	return &errorType{
		baseErr:   ErrValidation,
		msg:       msg,
		retryable: false,
	}
}

// NewConnectionError creates a new connection error
func NewConnectionError(msg string) error {
	return &errorType{
		baseErr:   ErrConnection,
		msg:       msg,
		retryable: true,
	}
}

// NewPublishError creates a new publish error
func NewPublishError(msg string, cause error) error {
	return &errorType{
		baseErr:   ErrPublish,
		msg:       msg,
		cause:     cause,
		retryable: true,
	}
}

// NewInternalError creates a new internal error
func NewInternalError(msg string) error {
	return &errorType{
		baseErr:   ErrInternal,
		msg:       msg,
		retryable: false,
	}
}

// MalformedTimeoutError reports a grpc-timeout header that was present but
// could not be parsed. Value holds the raw header value.
type MalformedTimeoutError struct {
	Value string
}

func (e *MalformedTimeoutError) Error() string {
	return fmt.Sprintf("%s: %q", ErrMalformedTimeout.Error(), e.Value)
}

// Is matches ErrMalformedTimeout.
func (e *MalformedTimeoutError) Is(target error) bool {
	return target == ErrMalformedTimeout
}

// Wrap wraps an error with additional context
func Wrap(err error, msg string) error {
	if err == nil {
		return nil
	}

	// Check if it's our custom type
	if customErr, ok := err.(*errorType); ok {
		return &errorType{
			baseErr:   customErr.baseErr,
			msg:       msg + ": " + customErr.msg,
			cause:     customErr.cause,
			details:   customErr.details,
			retryable: customErr.retryable,
		}
	}

	// If it's a standard error, wrap it as an internal error
	return &errorType{
		baseErr:   ErrInternal,
		msg:       msg,
		cause:     err,
		retryable: false,
	}
}

// WithDetails adds detail information to an error
func WithDetails(err error, details map[string]interface{}) error {
	if err == nil {
		return nil
	}

	if customErr, ok := err.(*errorType); ok {
		return &errorType{
			baseErr:   customErr.baseErr,
			msg:       customErr.msg,
			cause:     customErr.cause,
			details:   details,
			retryable: customErr.retryable,
		}
	}

	return &errorType{
		baseErr:   ErrInternal,
		msg:       err.Error(),
		details:   details,
		retryable: false,
	}
}

// GetDetails returns error details if available, nil otherwise
func GetDetails(err error) map[string]interface{} {
	if err == nil {
		return nil
	}

	var detailedErr ErrorWithDetails
	if errors.As(err, &detailedErr) {
		return detailedErr.Details()
	}

	return nil
}

// IsValidationError checks if the error is a validation error
func IsValidationError(err error) bool {
	return err != nil && errors.Is(err, ErrValidation)
}

// IsConnectionError checks if the error is a connection error
func IsConnectionError(err error) bool {
	return err != nil && errors.Is(err, ErrConnection)
}

// IsPublishError checks if the error is a publish error
func IsPublishError(err error) bool {
	return err != nil && errors.Is(err, ErrPublish)
}

// IsInternalError checks if the error is an internal error
func IsInternalError(err error) bool {
	return err != nil && errors.Is(err, ErrInternal)
}

// IsMalformedTimeout checks if the error reports an unparseable grpc-timeout
func IsMalformedTimeout(err error) bool {
	return err != nil && errors.Is(err, ErrMalformedTimeout)
}

// IsPolledAfterCompletion checks if the error reports a future driven past
// its single completion. This is always a bug in the caller.
func IsPolledAfterCompletion(err error) bool {
	return err != nil && errors.Is(err, ErrPolledAfterCompletion)
}

// IsRetryable checks if the error is retryable
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	var customErr *errorType
	if !errors.As(err, &customErr) {
		return false
	}

	return customErr.retryable
}

// Code maps an error to the gRPC status code a transport reports for it.
// Errors that already carry a gRPC status keep their code.
func Code(err error) codes.Code {
	if err == nil {
		return codes.OK
	}
	if s, ok := status.FromError(err); ok {
		return s.Code()
	}

	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return codes.DeadlineExceeded
	case errors.Is(err, context.Canceled):
		return codes.Canceled
	case IsValidationError(err), IsMalformedTimeout(err):
		return codes.InvalidArgument
	case IsConnectionError(err), IsPublishError(err):
		return codes.Unavailable
	default:
		return codes.Internal
	}
}

// Is, As and Unwrap re-export the standard library helpers so callers only
// need one errors import.
func Is(err, target error) bool { return errors.Is(err, target) }

func As(err error, target interface{}) bool { return errors.As(err, target) }

func Unwrap(err error) error { return errors.Unwrap(err) }
