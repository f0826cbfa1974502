package services

import (
	"errors"
	"fmt"
	"strings"
)

// Error classes returned by the service layer. The API maps them to status codes.
var (
	ErrValidation   = errors.New("validation failed")
	ErrUnauthorized = errors.New("unauthorized")
	ErrForbidden    = errors.New("forbidden")
	ErrNotFound     = errors.New("not found")
	ErrConflict     = errors.New("conflict")
)

// UpstreamError reports a failed call to the billing provider or profile store.
// Message is safe to show to the caller.
type UpstreamError struct {
	Message string
	Err     error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return e.Message
	}
	return fmt.Sprintf("%s: %v", e.Message, e.Err)
}

func (e *UpstreamError) Unwrap() error {
	return e.Err
}

func upstream(message string, err error) error {
	return &UpstreamError{Message: message, Err: err}
}

// validationError wraps ErrValidation with a caller-facing message
func validationError(message string) error {
	return fmt.Errorf("%w: %s", ErrValidation, message)
}

// notFoundError wraps ErrNotFound with a caller-facing message
func notFoundError(message string) error {
	return fmt.Errorf("%w: %s", ErrNotFound, message)
}

// ErrorMessage returns the caller-facing part of a validation or not-found error.
func ErrorMessage(err error) string {
	msg := err.Error()
	for _, class := range []error{ErrValidation, ErrNotFound} {
		if rest, ok := strings.CutPrefix(msg, class.Error()+": "); ok && rest != "" {
			return rest
		}
	}
	return msg
}
