package domain

import (
	"fmt"
	"time"
)

// Status is the processing state of an Image
type Status string

// Image status constants
const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
)

// Valid reports whether s is one of the known statuses
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusProcessing, StatusCompleted:
		return true
	}
	return false
}

// Image is a submitted image and its processing state.
//
// ProcessedImage and ProcessedAt are set if and only if Status is completed.
type Image struct {
	ID             int64
	Status         Status
	OriginalImage  string // media ref
	ProcessedImage string // media ref, empty until completed
	UploadedAt     time.Time
	ProcessedAt    *time.Time
}

// Validate checks the completed-status invariants
func (img *Image) Validate() error {
	if !img.Status.Valid() {
		return fmt.Errorf("%w: unknown status %q", ErrInvalidImage, img.Status)
	}

	completed := img.Status == StatusCompleted
	if completed != (img.ProcessedImage != "") {
		return fmt.Errorf("%w: processed image must be set only when completed (status %s)", ErrInvalidImage, img.Status)
	}
	if completed != (img.ProcessedAt != nil) {
		return fmt.Errorf("%w: processed_at must be set only when completed (status %s)", ErrInvalidImage, img.Status)
	}
	return nil
}

// MarkProcessing moves the image into processing
func (img *Image) MarkProcessing() {
	img.Status = StatusProcessing
}

// MarkCompleted records the processed ref and completion time
func (img *Image) MarkCompleted(processedRef string, at time.Time) {
	img.Status = StatusCompleted
	img.ProcessedImage = processedRef
	img.ProcessedAt = &at
}

// Reset rolls the image back to pending so it can be submitted again
func (img *Image) Reset() {
	img.Status = StatusPending
	img.ProcessedImage = ""
	img.ProcessedAt = nil
}
