package core

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	ServiceErrorBadInput          = "TRANSFER_BAD_INPUT"
	ServiceErrorJobNotFound       = "TRANSFER_JOB_NOT_FOUND"
	ServiceErrorExtensionNotFound = "TRANSFER_EXTENSION_NOT_FOUND"
	ServiceErrorProtocolViolation = "TRANSFER_PROTOCOL_VIOLATION"
	ServiceErrorStateConflict     = "TRANSFER_STATE_CONFLICT"
	ServiceErrorAssignmentTimeout = "TRANSFER_ASSIGNMENT_TIMEOUT"
	ServiceErrorTransport         = "TRANSFER_TRANSPORT_FAILURE"
	ServiceErrorRetryExhausted    = "TRANSFER_RETRY_EXHAUSTED"
	ServiceErrorCrypto            = "TRANSFER_CRYPTO_FAILURE"
	ServiceErrorInternal          = "TRANSFER_INTERNAL_ERROR"
)

// ErrTransport marks input/output failures that are safe to swallow per item.
var ErrTransport = errors.New("core: transport failure")

// NewProtocolError reports a broken hand-off precondition or postcondition.
// Protocol errors are fatal and must not be retried.
func NewProtocolError(message string, metadata ...map[string]any) *goerrors.Error {
	err := goerrors.New(message, goerrors.CategoryBadInput).
		WithTextCode(ServiceErrorProtocolViolation).
		WithCode(http.StatusConflict).
		WithSeverity(goerrors.SeverityCritical)
	if len(metadata) > 0 {
		err = err.WithMetadata(metadata...)
	}
	return err
}

func IsProtocolError(err error) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == ServiceErrorProtocolViolation
}

// NewTransportError wraps a connector failure so it is treated as transport class.
func NewTransportError(source error, message string) *goerrors.Error {
	if source == nil {
		source = ErrTransport
	}
	err := goerrors.Wrap(source, goerrors.CategoryExternal, message).
		WithTextCode(ServiceErrorTransport).
		WithCode(http.StatusBadGateway)
	return err
}

// NewAssignmentTimeoutError reports that no worker claimed the job before the
// hand-off deadline.
func NewAssignmentTimeoutError(jobID uuid.UUID, source error) *goerrors.Error {
	if source == nil {
		source = context.DeadlineExceeded
	}
	return goerrors.Wrap(source, goerrors.CategoryOperation, fmt.Sprintf("no worker claimed job %s before the deadline", jobID)).
		WithTextCode(ServiceErrorAssignmentTimeout).
		WithCode(http.StatusGatewayTimeout)
}

// IsTransportError reports whether err is an input/output class failure.
func IsTransportError(err error) bool {
	if err == nil {
		return false
	}
	// context.DeadlineExceeded satisfies net.Error; job cancellation is never a
	// transport failure.
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}
	if errors.Is(err, ErrTransport) || errors.Is(err, io.ErrUnexpectedEOF) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return richErr.Category == goerrors.CategoryExternal || richErr.TextCode == ServiceErrorTransport
	}
	return false
}

// MapError converts any error returned by the service into a go-errors envelope.
func MapError(err error) *goerrors.Error {
	return serviceErrorMapper(err)
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}
	if errors.Is(err, ErrJobNotFound) {
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorJobNotFound)
	}
	if errors.Is(err, ErrJobVersionConflict) {
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorStateConflict)
	}
	if IsTransportError(err) {
		return newServiceError(err.Error(), goerrors.CategoryExternal, ServiceErrorTransport)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "extension") && strings.Contains(msg, "not registered"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorExtensionNotFound)
	case strings.Contains(msg, "transition") && strings.Contains(msg, "not allowed"),
		strings.Contains(msg, "does not match expected"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorStateConflict)
	case strings.Contains(msg, "cipher"), strings.Contains(msg, "decrypt"), strings.Contains(msg, "encrypt"):
		return newServiceError(err.Error(), goerrors.CategoryInternal, ServiceErrorCrypto)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "must be"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorJobNotFound
	case goerrors.CategoryConflict:
		return ServiceErrorStateConflict
	case goerrors.CategoryExternal:
		return ServiceErrorTransport
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
