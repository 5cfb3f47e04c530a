package worker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/cuongbtq/imagepipe/internal/domain"
	amqp "github.com/rabbitmq/amqp091-go"
)

// setupConsumer sets QoS and starts consuming from the job queue
func (w *Worker) setupConsumer() (<-chan amqp.Delivery, error) {
	if err := w.broker.Qos(w.prefetchCount); err != nil {
		return nil, fmt.Errorf("failed to set QoS: %w", err)
	}

	deliveries, err := w.broker.Consume(w.workerID)
	if err != nil {
		return nil, fmt.Errorf("failed to start consuming: %w", err)
	}

	w.logger.Info("RabbitMQ consumer started",
		slog.String("consumer_tag", w.workerID),
	)
	return deliveries, nil
}

// consume dispatches deliveries to the runner until shutdown or until the
// broker channel closes
func (w *Worker) consume(ctx context.Context, deliveries <-chan amqp.Delivery, closed <-chan *amqp.Error) error {
	for {
		select {
		case <-ctx.Done():
			w.logger.Info("Worker stopped - context canceled")
			return nil

		case <-w.stopChan:
			w.logger.Info("Worker stopped")
			return nil

		case amqpErr, ok := <-closed:
			if !ok || amqpErr == nil {
				w.logger.Warn("RabbitMQ channel closed")
				return errors.New("rabbitmq channel closed")
			}
			w.logger.Error("RabbitMQ channel closed",
				slog.Int("code", amqpErr.Code),
				slog.String("reason", amqpErr.Reason),
			)
			return fmt.Errorf("rabbitmq channel closed: %w", amqpErr)

		case delivery, ok := <-deliveries:
			if !ok {
				w.logger.Warn("RabbitMQ delivery channel closed")
				return errors.New("rabbitmq delivery channel closed")
			}
			w.handleDelivery(delivery)
		}
	}
}

// handleDelivery enqueues one message and settles it
func (w *Worker) handleDelivery(delivery amqp.Delivery) {
	msg, err := DecodeJobMessage(delivery.Body)
	if err != nil {
		w.logger.Error("Failed to parse job message",
			slog.Any("error", err),
			slog.String("body", string(delivery.Body)),
		)
		w.nack(delivery, 0, false)
		return
	}

	err = w.runner.Enqueue(msg.ImageID)
	if err == nil {
		if ackErr := delivery.Ack(false); ackErr != nil {
			w.logger.Error("Failed to ACK message",
				slog.Int64("image_id", msg.ImageID),
				slog.Any("error", ackErr),
			)
			return
		}
		w.logger.Debug("Job message accepted",
			slog.Int64("image_id", msg.ImageID),
			slog.Uint64("delivery_tag", delivery.DeliveryTag),
		)
		return
	}

	requeue := shouldRequeue(err)
	w.logger.Warn("Job message rejected",
		slog.Int64("image_id", msg.ImageID),
		slog.Bool("requeue", requeue),
		slog.Any("error", err),
	)
	w.nack(delivery, msg.ImageID, requeue)
}

func (w *Worker) nack(delivery amqp.Delivery, imageID int64, requeue bool) {
	if err := delivery.Nack(false, requeue); err != nil {
		w.logger.Error("Failed to NACK message",
			slog.Int64("image_id", imageID),
			slog.Any("error", err),
		)
	}
}

// shouldRequeue decides whether a rejected message goes back on the queue.
// Only a stopped runner requeues; duplicates of running jobs are dropped.
func shouldRequeue(err error) bool {
	return errors.Is(err, domain.ErrRunnerStopped)
}
