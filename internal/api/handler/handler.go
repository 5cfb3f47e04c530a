package handler

import (
	"context"
	"log/slog"

	"github.com/cuongbtq/imagepipe/internal/domain"
)

// ImageStore is the item store used by the HTTP layer
type ImageStore interface {
	Create(ctx context.Context, img *domain.Image) error
	Get(ctx context.Context, id int64) (*domain.Image, error)
	ListAll(ctx context.Context) ([]domain.Image, error)
	ListByStatus(ctx context.Context, status domain.Status) ([]domain.Image, error)
	Delete(ctx context.Context, id int64) error
}

// MediaStore stores uploaded files
type MediaStore interface {
	SaveOriginal(filename string, data []byte) (string, error)
	Remove(ref string) error
	URL(ref string) string
}

// Dispatcher starts a job for an image, in process or through the queue
type Dispatcher interface {
	Dispatch(ctx context.Context, id int64) error
}

// JobTracker reports jobs still running in this process
type JobTracker interface {
	InFlight(id int64) bool
}

// HealthChecker pings a backing service
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// Counter reports a live count, such as bus subscribers
type Counter interface {
	Len() int
}

// Dependencies holds all dependencies needed by handlers
type Dependencies struct {
	Logger         *slog.Logger
	Store          ImageStore
	Media          MediaStore
	Dispatcher     Dispatcher
	Jobs           JobTracker
	DB             HealthChecker
	Subscribers    Counter
	ServiceName    string
	MaxUploadBytes int64
	DelayHint      string
}

// ImageHandler handles image-related HTTP requests
type ImageHandler struct {
	logger         *slog.Logger
	store          ImageStore
	media          MediaStore
	dispatcher     Dispatcher
	jobs           JobTracker
	maxUploadBytes int64
	delayHint      string
}

// NewImageHandler creates a new ImageHandler instance
func NewImageHandler(deps *Dependencies) *ImageHandler {
	return &ImageHandler{
		logger:         deps.Logger,
		store:          deps.Store,
		media:          deps.Media,
		dispatcher:     deps.Dispatcher,
		jobs:           deps.Jobs,
		maxUploadBytes: deps.MaxUploadBytes,
		delayHint:      deps.DelayHint,
	}
}
