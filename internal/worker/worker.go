// Package worker consumes job trigger messages from RabbitMQ and hands them to
// the in-process job runner.
package worker

import (
	"context"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	amqp "github.com/rabbitmq/amqp091-go"
)

// Broker is the consuming side of the RabbitMQ client
type Broker interface {
	Qos(prefetchCount int) error
	Consume(consumerTag string) (<-chan amqp.Delivery, error)
	NotifyClosed() <-chan *amqp.Error
}

// Enqueuer accepts image ids for processing
type Enqueuer interface {
	Enqueue(id int64) error
}

// Config holds worker configuration
type Config struct {
	Logger        *slog.Logger
	Broker        Broker
	Runner        Enqueuer
	PrefetchCount int
	WorkerID      string
}

// Worker feeds queued job messages into the runner
type Worker struct {
	logger        *slog.Logger
	broker        Broker
	runner        Enqueuer
	prefetchCount int
	workerID      string
	stopChan      chan struct{}
	stopOnce      sync.Once
}

// NewWorker creates a new worker instance
func NewWorker(cfg *Config) *Worker {
	workerID := cfg.WorkerID
	if workerID == "" {
		workerID = "imagepipe-" + uuid.NewString()
	}

	prefetch := cfg.PrefetchCount
	if prefetch <= 0 {
		prefetch = 1
	}

	return &Worker{
		logger:        cfg.Logger,
		broker:        cfg.Broker,
		runner:        cfg.Runner,
		prefetchCount: prefetch,
		workerID:      workerID,
		stopChan:      make(chan struct{}),
	}
}

// Start consumes messages until ctx is canceled or Stop is called
func (w *Worker) Start(ctx context.Context) error {
	w.logger.Info("Starting worker",
		slog.String("worker_id", w.workerID),
		slog.Int("prefetch_count", w.prefetchCount),
	)

	deliveries, err := w.setupConsumer()
	if err != nil {
		return err
	}

	return w.consume(ctx, deliveries, w.broker.NotifyClosed())
}

// Stop ends the consume loop
func (w *Worker) Stop() {
	w.stopOnce.Do(func() {
		w.logger.Info("Stopping worker...")
		close(w.stopChan)
	})
}
