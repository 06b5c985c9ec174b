// Package domain contains domain types and errors used throughout the application.
package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for common error conditions.
var (
	ErrNoLines           = errors.New("file has no lines")
	ErrInvalidSpec       = errors.New("invalid monitor spec")
	ErrDuplicateKey      = errors.New("duplicate monitor key")
	ErrMonitorStopped    = errors.New("monitor is stopped")
	ErrWatcherNotRunning = errors.New("file watcher is not running")
	ErrNotConnected      = errors.New("mqtt client is not connected")
	ErrHubNotRunning     = errors.New("event hub is not running")
	ErrSubscriberClosed  = errors.New("subscriber is closed")
	ErrMonitorNotFound   = errors.New("monitor not found")
)

// MonitorError represents a failure tied to a single monitor.
type MonitorError struct {
	Key string // Monitor key
	Op  string // Operation that failed
	Err error  // Underlying error
}

func (e *MonitorError) Error() string {
	return fmt.Sprintf("monitor %q: %s: %v", e.Key, e.Op, e.Err)
}

func (e *MonitorError) Unwrap() error {
	return e.Err
}

// NewMonitorError creates a new MonitorError.
func NewMonitorError(key, op string, err error) *MonitorError {
	return &MonitorError{
		Key: key,
		Op:  op,
		Err: err,
	}
}

// ValidationError represents a validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation error: %s: %s", e.Field, e.Message)
}

// Is reports ErrInvalidSpec so callers can match any spec validation failure.
func (e *ValidationError) Is(target error) bool {
	return target == ErrInvalidSpec
}

// NewValidationError creates a new ValidationError.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: message,
	}
}
