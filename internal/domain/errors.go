package domain

import (
	"errors"
	"fmt"
)

// Error types for domain-specific errors
type ErrorType string

const (
	ErrorTypeValidation ErrorType = "validation"
	ErrorTypeConversion ErrorType = "conversion"
	ErrorTypeExtraction ErrorType = "extraction"
	ErrorTypeAPI        ErrorType = "api"
	ErrorTypeConfig     ErrorType = "config"
	ErrorTypeIO         ErrorType = "io"
	ErrorTypeInvariant  ErrorType = "invariant"
)

var (
	// ErrRunInProgress is returned when a run is started while another is running.
	ErrRunInProgress = errors.New("a run is already in progress")

	// ErrNotRunning is returned when an operation needs a running run.
	ErrNotRunning = errors.New("no run in progress")

	// ErrChannelBusy is returned by a completion channel that already has a call in flight.
	ErrChannelBusy = errors.New("completion channel already has a call in flight")

	// ErrOutOfOrder is returned when a page result does not follow the last appended page.
	ErrOutOfOrder = errors.New("page result out of order")
)

// DomainError represents a domain-specific error with context
type DomainError struct {
	Type    ErrorType
	Message string
	Err     error
}

func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Type, e.Message, e.Err)
	}
	return fmt.Sprintf("[%s] %s", e.Type, e.Message)
}

func (e *DomainError) Unwrap() error {
	return e.Err
}

// NewError creates a new domain error
func NewError(errType ErrorType, message string, err error) *DomainError {
	return &DomainError{
		Type:    errType,
		Message: message,
		Err:     err,
	}
}

// Common error constructors
func ValidationError(message string, err error) *DomainError {
	return NewError(ErrorTypeValidation, message, err)
}

func ConversionError(message string, err error) *DomainError {
	return NewError(ErrorTypeConversion, message, err)
}

func ExtractionError(message string, err error) *DomainError {
	return NewError(ErrorTypeExtraction, message, err)
}

func APIError(message string, err error) *DomainError {
	return NewError(ErrorTypeAPI, message, err)
}

func ConfigError(message string, err error) *DomainError {
	return NewError(ErrorTypeConfig, message, err)
}

func IOError(message string, err error) *DomainError {
	return NewError(ErrorTypeIO, message, err)
}

func InvariantError(message string, err error) *DomainError {
	return NewError(ErrorTypeInvariant, message, err)
}

// IsType reports whether err wraps a DomainError of the given type.
func IsType(err error, errType ErrorType) bool {
	var de *DomainError
	if errors.As(err, &de) {
		return de.Type == errType
	}
	return false
}
