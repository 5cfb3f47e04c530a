package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrImageNotFound is returned when an image cannot be found in the store
	ErrImageNotFound = errors.New("image not found")

	// ErrImageAlreadyProcessed is returned when processing is requested for a completed image
	ErrImageAlreadyProcessed = errors.New("image already processed")

	// ErrJobInFlight is returned when a job for the same image is still running
	ErrJobInFlight = errors.New("job already in flight for image")

	// ErrRunnerStopped is returned when enqueueing after shutdown
	ErrRunnerStopped = errors.New("job runner stopped")

	// ErrInvalidImage is returned when an image record violates its invariants
	ErrInvalidImage = errors.New("invalid image")
)

// TransformError wraps a failure while transforming an image
type TransformError struct {
	ImageID int64
	Err     error
}

func (e *TransformError) Error() string {
	return fmt.Sprintf("transform image %d: %v", e.ImageID, e.Err)
}

func (e *TransformError) Unwrap() error {
	return e.Err
}

// StoreError wraps a persistence failure for the named operation
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return "store " + e.Op + ": " + e.Err.Error()
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// NewStoreError creates a new store error
func NewStoreError(op string, err error) error {
	return &StoreError{Op: op, Err: err}
}
