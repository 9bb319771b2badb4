package errors

import (
	"errors"
	"fmt"
)

// AuthError represents a failed authentication against a panel
type AuthError struct {
	PanelURL string
	Cause    error
}

// Error returns the error message
func (e *AuthError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("authentication failed for panel %s: %v", e.PanelURL, e.Cause)
	}
	return fmt.Sprintf("authentication failed for panel %s", e.PanelURL)
}

// Unwrap returns the underlying cause
func (e *AuthError) Unwrap() error {
	return e.Cause
}

// NotFoundError represents a remote account or inbound that could not be located
type NotFoundError struct {
	PanelURL string
	Remark   string
}

// Error returns the error message
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("account %q not found on panel %s", e.Remark, e.PanelURL)
}

// RequestError represents a failed request to a panel API
type RequestError struct {
	PanelURL  string
	Operation string
	Status    int
	Message   string
	Cause     error
}

// Error returns the error message
func (e *RequestError) Error() string {
	msg := fmt.Sprintf("panel request %s failed for %s", e.Operation, e.PanelURL)
	if e.Status != 0 {
		msg += fmt.Sprintf(" (status %d)", e.Status)
	}
	if e.Message != "" {
		msg += ": " + e.Message
	}
	if e.Cause != nil {
		msg += ": " + e.Cause.Error()
	}
	return msg
}

// Unwrap returns the underlying cause
func (e *RequestError) Unwrap() error {
	return e.Cause
}

// ValidationError represents an error when validation fails
type ValidationError struct {
	Field   string
	Message string
}

// Error returns the error message
func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error for %s: %s", e.Field, e.Message)
}

// CapacityError represents a node that has no remaining slots
type CapacityError struct {
	NodeID int64
}

// Error returns the error message
func (e *CapacityError) Error() string {
	return fmt.Sprintf("node %d has no remaining capacity", e.NodeID)
}

// ConfigError represents an error related to configuration
type ConfigError struct {
	Section string
	Message string
}

// Error returns the error message
func (e *ConfigError) Error() string {
	return fmt.Sprintf("configuration error in %s: %s", e.Section, e.Message)
}

// IsAuth reports whether err is an AuthError
func IsAuth(err error) bool {
	var e *AuthError
	return errors.As(err, &e)
}

// IsNotFound reports whether err is a NotFoundError
func IsNotFound(err error) bool {
	var e *NotFoundError
	return errors.As(err, &e)
}

// IsCapacity reports whether err is a CapacityError
func IsCapacity(err error) bool {
	var e *CapacityError
	return errors.As(err, &e)
}
