// Package errors defines the service error taxonomy shared by all
// streamgate components.
package errors

import (
	"errors"
	"fmt"
)

// ErrorCode classifies a service error.
type ErrorCode string

const (
	// CodeTransient marks backend failures that may succeed on retry
	// (store unreachable, timeout). Live broadcasts are dropped rather
	// than retried on the hot path.
	CodeTransient ErrorCode = "transient_backend"
	// CodeProtocol marks malformed handshakes or client commands.
	CodeProtocol ErrorCode = "protocol"
	// CodePermission marks denied subscription attempts.
	CodePermission ErrorCode = "permission_denied"
	// CodeNotFound marks missing entities (log entries, sessions).
	CodeNotFound ErrorCode = "not_found"
	// CodeInternal marks unexpected failures.
	CodeInternal ErrorCode = "internal"
)

// ServiceError carries a code, a human-readable message, optional
// structured details and the wrapped cause.
type ServiceError struct {
	Code    ErrorCode
	Message string
	Details map[string]interface{}
	Err     error
}

func (e *ServiceError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *ServiceError) Unwrap() error { return e.Err }

// WithDetails attaches a key/value detail pair and returns the error.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

// Transient creates a transient backend error wrapping err.
func Transient(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeTransient, Message: message, Err: err}
}

// Protocol creates a protocol error.
func Protocol(message string) *ServiceError {
	return &ServiceError{Code: CodeProtocol, Message: message}
}

// PermissionDenied creates a permission error with the denial reason.
func PermissionDenied(reason string) *ServiceError {
	return &ServiceError{Code: CodePermission, Message: reason}
}

// NotFound creates a not-found error.
func NotFound(message string) *ServiceError {
	return &ServiceError{Code: CodeNotFound, Message: message}
}

// Internal creates an internal error wrapping err.
func Internal(message string, err error) *ServiceError {
	return &ServiceError{Code: CodeInternal, Message: message, Err: err}
}

// GetServiceError extracts a *ServiceError from err's chain, or nil.
func GetServiceError(err error) *ServiceError {
	var svcErr *ServiceError
	if errors.As(err, &svcErr) {
		return svcErr
	}
	return nil
}

// IsTransient reports whether err is a transient backend error.
func IsTransient(err error) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodeTransient
}

// IsPermission reports whether err is a permission error.
func IsPermission(err error) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodePermission
}

// IsNotFound reports whether err is a not-found error.
func IsNotFound(err error) bool {
	svcErr := GetServiceError(err)
	return svcErr != nil && svcErr.Code == CodeNotFound
}
