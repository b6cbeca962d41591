package apierror

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/smithy-go"
)

// StatusError carries an HTTP status code together with a human readable
// message. It is created where a failure is detected and rendered by the
// error responder filter.
type StatusError struct {
	Code    int
	Message string

	// Err is the underlying failure, if any
	Err error
}

// Error implements the error interface
func (e *StatusError) Error() string {
	return e.Message
}

// Unwrap exposes the underlying failure to errors.Is and errors.As
func (e *StatusError) Unwrap() error {
	return e.Err
}

// StatusCode returns the HTTP status carried by the error
func (e *StatusError) StatusCode() int {
	return e.Code
}

// New creates a StatusError. An empty message falls back to the standard
// status text for code.
func New(code int, msg ...string) *StatusError {
	message := http.StatusText(code)
	if len(msg) > 0 && msg[0] != "" {
		message = msg[0]
	}
	return &StatusError{Code: code, Message: message}
}

// BadRequest creates a `400 Bad Request` error
func BadRequest(msg ...string) *StatusError {
	return New(http.StatusBadRequest, msg...)
}

// Unauthorized creates a `401 Unauthorized` error
func Unauthorized(msg ...string) *StatusError {
	return New(http.StatusUnauthorized, msg...)
}

// Forbidden creates a `403 Forbidden` error
func Forbidden(msg ...string) *StatusError {
	return New(http.StatusForbidden, msg...)
}

// NotFound creates a `404 Not Found` error
func NotFound(msg ...string) *StatusError {
	return New(http.StatusNotFound, msg...)
}

// RequestTimeout creates a `408 Request Timeout` error
func RequestTimeout(msg ...string) *StatusError {
	return New(http.StatusRequestTimeout, msg...)
}

// PreconditionFailed creates a `412 Precondition Failed` error
func PreconditionFailed(msg ...string) *StatusError {
	return New(http.StatusPreconditionFailed, msg...)
}

// InternalServerError creates a `500 Internal Server Error` error
func InternalServerError(msg ...string) *StatusError {
	return New(http.StatusInternalServerError, msg...)
}

// NotImplemented creates a `501 Not Implemented` error
func NotImplemented(msg ...string) *StatusError {
	return New(http.StatusNotImplemented, msg...)
}

// ServiceUnavailable creates a `503 Service Unavailable` error
func ServiceUnavailable(msg ...string) *StatusError {
	return New(http.StatusServiceUnavailable, msg...)
}

// GatewayTimeout creates a `504 Gateway Timeout` error
func GatewayTimeout(msg ...string) *StatusError {
	return New(http.StatusGatewayTimeout, msg...)
}

// IsStatus reports whether err is a StatusError with the given code
func IsStatus(err error, code int) bool {
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Code == code
	}
	return false
}

// FromStoreError converts an error returned by the remote store into a
// StatusError. StatusErrors and context errors are returned unchanged.
func FromStoreError(err error) error {
	if err == nil {
		return nil
	}

	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}

	var apiErr smithy.APIError
	if !errors.As(err, &apiErr) {
		return InternalServerError(err.Error())
	}

	msg := apiErr.ErrorMessage()
	if msg == "" {
		msg = fmt.Sprintf("%s: %v", apiErr.ErrorCode(), err)
	}

	var mapped *StatusError
	switch apiErr.ErrorCode() {
	case "AccessDeniedException", "InvalidClientTokenId", "MissingAuthenticationToken", "UnrecognizedClientException":
		mapped = Forbidden(msg)
	case "InternalFailure", "InternalServerError":
		mapped = InternalServerError(msg)
	case "InvalidParameterCombination", "InvalidParameterValue", "ValidationException", "ConditionalCheckFailedException":
		mapped = PreconditionFailed(msg)
	case "ServiceUnavailable", "ThrottlingException", "ProvisionedThroughputExceededException", "RequestLimitExceeded":
		mapped = ServiceUnavailable(msg)
	default:
		mapped = BadRequest(msg)
	}
	mapped.Err = err
	return mapped
}
