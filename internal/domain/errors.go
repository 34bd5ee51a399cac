package domain

import (
	"errors"
	"fmt"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

// ErrorKind is the machine-checkable class of a failed backend interaction.
type ErrorKind string

const (
	KindTimeout        ErrorKind = "TimeoutError"
	KindNetwork        ErrorKind = "NetworkError"
	KindHTTP           ErrorKind = "HttpError" // non-2xx status with no dedicated kind
	KindNotFound       ErrorKind = "NotFoundError"
	KindAuthorization  ErrorKind = "AuthorizationError"
	KindValidation     ErrorKind = "ValidationError"
	KindServer         ErrorKind = "ServerError"
	KindFormat         ErrorKind = "FormatError"
	KindSessionExpired ErrorKind = "SessionExpiredError"
)

// APIError carries a human-readable message plus its Kind.
// Status is the HTTP status when one was received, 0 otherwise.
type APIError struct {
	Kind    ErrorKind
	Op      string // Operation that failed (e.g., "fetch orders", "cancel order")
	Status  int
	Message string
	Err     error // Underlying error, never surfaced as-is to the view
}

func (e *APIError) Error() string {
	msg := e.Message
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	if e.Op == "" {
		return fmt.Sprintf("%s: %s", e.Kind, msg)
	}
	return fmt.Sprintf("%s: %s: %s", e.Op, e.Kind, msg)
}

func (e *APIError) Unwrap() error {
	return e.Err
}

// IsRetriable reports whether repeating the same request may succeed.
func (e *APIError) IsRetriable() bool {
	switch e.Kind {
	case KindTimeout, KindNetwork, KindServer:
		return true
	default:
		return false
	}
}

// KindOf returns the Kind of the first APIError in err's chain, or "" if none.
func KindOf(err error) ErrorKind {
	var ae *APIError
	if errors.As(err, &ae) {
		return ae.Kind
	}
	return ""
}

// IsKind reports whether err carries the given Kind.
func IsKind(err error, kind ErrorKind) bool {
	return err != nil && KindOf(err) == kind
}

// UserMessage returns the text shown next to the connection indicator.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	var ae *APIError
	if errors.As(err, &ae) && ae.Message != "" {
		return ae.Message
	}
	return err.Error()
}

func NewTimeoutError(op string, err error) *APIError {
	return &APIError{Kind: KindTimeout, Op: op, Message: "request timed out", Err: err}
}

func NewNetworkError(op string, err error) *APIError {
	return &APIError{Kind: KindNetwork, Op: op, Message: "backend unreachable", Err: err}
}

func NewFormatError(op, message string) *APIError {
	return &APIError{Kind: KindFormat, Op: op, Message: message, Err: ErrInvalidFormat}
}

func NewValidationError(op, message string) *APIError {
	return &APIError{Kind: KindValidation, Op: op, Message: message}
}

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

var (
	// ErrInvalidFormat is wrapped by every FormatError.
	ErrInvalidFormat = errors.New("invalid data format received from API")

	// ErrCircuitOpen is returned when the transport refuses to call a failing backend.
	ErrCircuitOpen = errors.New("circuit open")

	// ErrInvalidRecord marks a single order record that could not be decoded.
	ErrInvalidRecord = errors.New("invalid order record")

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)
