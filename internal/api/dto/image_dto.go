package dto

import (
	"time"

	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/cuongbtq/imagepipe/internal/media"
)

// URLResolver turns a media ref into a public URL
type URLResolver interface {
	URL(ref string) string
}

// ItemSnapshot is the public view of an image, shared by the HTTP API and
// the websocket images_list message.
type ItemSnapshot struct {
	ID             int64     `json:"id"`
	Status         string    `json:"status"`
	UploadedAt     time.Time `json:"uploaded_at"`
	OriginalImage  *string   `json:"original_image"`
	ProcessedImage *string   `json:"processed_image"`
	Filename       *string   `json:"filename"`
}

// NewItemSnapshot builds a snapshot, resolving refs to URLs
func NewItemSnapshot(img domain.Image, urls URLResolver) ItemSnapshot {
	snap := ItemSnapshot{
		ID:         img.ID,
		Status:     string(img.Status),
		UploadedAt: img.UploadedAt.UTC(),
	}

	if img.OriginalImage != "" {
		original := urls.URL(img.OriginalImage)
		filename := media.Filename(img.OriginalImage)
		snap.OriginalImage = &original
		snap.Filename = &filename
	}
	if img.ProcessedImage != "" {
		processed := urls.URL(img.ProcessedImage)
		snap.ProcessedImage = &processed
	}

	return snap
}

// NewItemSnapshots converts a list of images
func NewItemSnapshots(images []domain.Image, urls URLResolver) []ItemSnapshot {
	snaps := make([]ItemSnapshot, 0, len(images))
	for _, img := range images {
		snaps = append(snaps, NewItemSnapshot(img, urls))
	}
	return snaps
}

type ListImagesResponse struct {
	Images []ItemSnapshot `json:"images"`
}

type UploadImageResponse struct {
	ID            int64  `json:"id"`
	Status        string `json:"status"`
	Message       string `json:"message"`
	OriginalImage string `json:"original_image"`
	Filename      string `json:"filename"`
}

type ProcessImageResponse struct {
	ID             int64  `json:"id"`
	Status         string `json:"status"`
	Message        string `json:"message"`
	SimulatedDelay string `json:"simulated_delay,omitempty"`
}

type ProcessAllResponse struct {
	Count          int     `json:"count"`
	ImageIDs       []int64 `json:"image_ids"`
	Message        string  `json:"message"`
	SimulatedDelay string  `json:"simulated_delay,omitempty"`
}

type ReplayImageResponse struct {
	ID      int64  `json:"id"`
	Status  string `json:"status"`
	Message string `json:"message"`
}

type DeleteImageResponse struct {
	ID      int64  `json:"id"`
	Message string `json:"message"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
