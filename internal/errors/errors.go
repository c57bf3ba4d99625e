package errors

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// Kind classifies gateway-generated errors into the response taxonomy.
type Kind string

const (
	KindValidation         Kind = "VALIDATION"
	KindAuthentication     Kind = "AUTHENTICATION"
	KindAuthorization      Kind = "AUTHORIZATION"
	KindNotFound           Kind = "NOT_FOUND"
	KindRateLimited        Kind = "RATE_LIMITED"
	KindTimeout            Kind = "TIMEOUT"
	KindCircuitOpen        Kind = "CIRCUIT_OPEN"
	KindServiceUnavailable Kind = "SERVICE_UNAVAILABLE"
	KindExternalService    Kind = "EXTERNAL_SERVICE_ERROR"
	KindInternal           Kind = "INTERNAL"
)

// Status returns the HTTP status code for the kind.
func (k Kind) Status() int {
	switch k {
	case KindValidation:
		return http.StatusBadRequest
	case KindAuthentication:
		return http.StatusUnauthorized
	case KindAuthorization:
		return http.StatusForbidden
	case KindNotFound:
		return http.StatusNotFound
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindTimeout:
		return http.StatusGatewayTimeout
	case KindCircuitOpen, KindServiceUnavailable:
		return http.StatusServiceUnavailable
	case KindExternalService:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// GatewayError is an error that renders as the gateway response envelope.
type GatewayError struct {
	Kind       Kind
	Code       string
	Message    string
	Service    string
	RequestID  string
	underlying error
}

func (e *GatewayError) Error() string {
	if e.underlying != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.underlying)
	}
	return e.Message
}

func (e *GatewayError) Unwrap() error {
	return e.underlying
}

// Status returns the HTTP status code of the error.
func (e *GatewayError) Status() int {
	return e.Kind.Status()
}

// envelope is the wire shape for gateway-generated error responses.
type envelope struct {
	Success   bool          `json:"success"`
	Error     envelopeError `json:"error"`
	Timestamp string        `json:"timestamp"`
	RequestID string        `json:"requestId,omitempty"`
}

type envelopeError struct {
	Type    Kind   `json:"type"`
	Code    string `json:"code"`
	Message string `json:"message"`
	Service string `json:"service,omitempty"`
}

// WriteJSON writes the error as the standard response envelope.
func (e *GatewayError) WriteJSON(w http.ResponseWriter) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(e.Status())
	json.NewEncoder(w).Encode(envelope{
		Success: false,
		Error: envelopeError{
			Type:    e.Kind,
			Code:    e.Code,
			Message: e.Message,
			Service: e.Service,
		},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		RequestID: e.RequestID,
	})
}

// Common errors
var (
	ErrNotFound = &GatewayError{
		Kind:    KindNotFound,
		Code:    "ROUTE_NOT_FOUND",
		Message: "Not Found",
	}

	ErrUnauthorized = &GatewayError{
		Kind:    KindAuthentication,
		Code:    "AUTHENTICATION_REQUIRED",
		Message: "Authentication required",
	}

	ErrForbidden = &GatewayError{
		Kind:    KindAuthorization,
		Code:    "INSUFFICIENT_SCOPE",
		Message: "Forbidden",
	}

	ErrTooManyRequests = &GatewayError{
		Kind:    KindRateLimited,
		Code:    "RATE_LIMIT_EXCEEDED",
		Message: "Too many requests",
	}

	ErrBadGateway = &GatewayError{
		Kind:    KindExternalService,
		Code:    "UPSTREAM_NETWORK_ERROR",
		Message: "Bad Gateway",
	}

	ErrServiceUnavailable = &GatewayError{
		Kind:    KindServiceUnavailable,
		Code:    "NO_HEALTHY_INSTANCE",
		Message: "Service Unavailable",
	}

	ErrCircuitOpen = &GatewayError{
		Kind:    KindCircuitOpen,
		Code:    "CIRCUIT_OPEN",
		Message: "Service temporarily unavailable",
	}

	ErrGatewayTimeout = &GatewayError{
		Kind:    KindTimeout,
		Code:    "UPSTREAM_TIMEOUT",
		Message: "Gateway Timeout",
	}

	ErrBadRequest = &GatewayError{
		Kind:    KindValidation,
		Code:    "INVALID_REQUEST",
		Message: "Bad Request",
	}

	ErrInternalServer = &GatewayError{
		Kind:    KindInternal,
		Code:    "INTERNAL_ERROR",
		Message: "Internal Server Error",
	}
)

// New creates a new GatewayError.
func New(kind Kind, code, message string) *GatewayError {
	return &GatewayError{
		Kind:    kind,
		Code:    code,
		Message: message,
	}
}

// Wrap wraps an error with the gateway taxonomy.
func Wrap(err error, kind Kind, code, message string) *GatewayError {
	return &GatewayError{
		Kind:       kind,
		Code:       code,
		Message:    message,
		underlying: err,
	}
}

// WithMessage returns a copy with a different message.
func (e *GatewayError) WithMessage(message string) *GatewayError {
	c := *e
	c.Message = message
	return &c
}

// WithService returns a copy tagged with the target service name.
func (e *GatewayError) WithService(service string) *GatewayError {
	c := *e
	c.Service = service
	return &c
}

// WithRequestID returns a copy carrying the request correlation id.
func (e *GatewayError) WithRequestID(requestID string) *GatewayError {
	c := *e
	c.RequestID = requestID
	return &c
}

// IsGatewayError checks if an error is a GatewayError.
func IsGatewayError(err error) (*GatewayError, bool) {
	if ge, ok := err.(*GatewayError); ok {
		return ge, true
	}
	return nil, false
}
