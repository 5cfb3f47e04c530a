package worker

import (
	"context"
	"fmt"
	"log/slog"
)

// QueuePublisher sends a message body to the job queue
type QueuePublisher interface {
	PublishWithRetry(ctx context.Context, body []byte, contentType string) error
}

// Publisher dispatches jobs through RabbitMQ instead of calling the runner directly
type Publisher struct {
	queue  QueuePublisher
	logger *slog.Logger
}

// NewPublisher creates a new job publisher
func NewPublisher(queue QueuePublisher, logger *slog.Logger) *Publisher {
	return &Publisher{
		queue:  queue,
		logger: logger,
	}
}

// Dispatch publishes a job message for id
func (p *Publisher) Dispatch(ctx context.Context, id int64) error {
	body, err := JobMessage{ImageID: id}.Encode()
	if err != nil {
		return err
	}

	if err := p.queue.PublishWithRetry(ctx, body, ContentType); err != nil {
		return fmt.Errorf("failed to publish job for image %d: %w", id, err)
	}

	p.logger.Info("Job published",
		slog.Int64("image_id", id),
	)
	return nil
}
