// Package jobs runs image transformation jobs asynchronously and reports
// their progress on the notification bus.
package jobs

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/cuongbtq/imagepipe/internal/domain"
	"github.com/cuongbtq/imagepipe/internal/transform"
)

// ImageStore is the subset of the item store the runner needs
type ImageStore interface {
	Get(ctx context.Context, id int64) (*domain.Image, error)
	Save(ctx context.Context, img *domain.Image) error
}

// MediaStore reads originals and writes processed payloads
type MediaStore interface {
	Read(ref string) ([]byte, error)
	SaveProcessed(id int64, originalRef string, data []byte) (string, error)
	Remove(ref string) error
	URL(ref string) string
}

// Publisher fans an event out to subscribers
type Publisher interface {
	Publish(evt domain.Event) int
}

// Config holds runner dependencies and tuning
type Config struct {
	Store            ImageStore
	Media            MediaStore
	Transform        transform.Transform
	Bus              Publisher
	Logger           *slog.Logger
	DelayMin         time.Duration
	DelayMax         time.Duration
	TransformTimeout time.Duration
	Now              func() time.Time
}

// Runner executes one job per image id at a time
type Runner struct {
	store            ImageStore
	media            MediaStore
	transform        transform.Transform
	bus              Publisher
	logger           *slog.Logger
	delayMin         int
	delayMax         int
	transformTimeout time.Duration
	now              func() time.Time

	mu       sync.Mutex
	inFlight map[int64]struct{}
	stopped  bool
	wg       sync.WaitGroup

	ctx    context.Context
	cancel context.CancelFunc
}

// NewRunner creates a new job runner
func NewRunner(cfg *Config) *Runner {
	now := cfg.Now
	if now == nil {
		now = time.Now
	}

	delayMin := int(cfg.DelayMin / time.Second)
	delayMax := int(cfg.DelayMax / time.Second)
	if delayMax < delayMin {
		delayMax = delayMin
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &Runner{
		store:            cfg.Store,
		media:            cfg.Media,
		transform:        cfg.Transform,
		bus:              cfg.Bus,
		logger:           cfg.Logger,
		delayMin:         delayMin,
		delayMax:         delayMax,
		transformTimeout: cfg.TransformTimeout,
		now:              now,
		inFlight:         make(map[int64]struct{}),
		ctx:              ctx,
		cancel:           cancel,
	}
}

// Enqueue schedules a job for id and returns immediately. It returns
// ErrJobInFlight while an earlier job for the same id is outstanding.
func (r *Runner) Enqueue(id int64) error {
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		return domain.ErrRunnerStopped
	}
	if _, ok := r.inFlight[id]; ok {
		r.mu.Unlock()
		return domain.ErrJobInFlight
	}
	r.inFlight[id] = struct{}{}
	r.wg.Add(1)
	r.mu.Unlock()

	r.logger.Debug("Job enqueued",
		slog.Int64("image_id", id),
	)

	go r.run(id)
	return nil
}

// Dispatch enqueues id; it lets callers treat the runner like a queue publisher
func (r *Runner) Dispatch(_ context.Context, id int64) error {
	return r.Enqueue(id)
}

// InFlight reports whether a job for id is outstanding
func (r *Runner) InFlight(id int64) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, ok := r.inFlight[id]
	return ok
}

// Wait blocks until every enqueued job has finished
func (r *Runner) Wait() {
	r.wg.Wait()
}

// Stop rejects new jobs, cancels running ones and waits for them to exit
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	r.mu.Unlock()

	r.logger.Info("Stopping job runner...")
	r.cancel()
	r.wg.Wait()
	r.logger.Info("Job runner stopped")
}

func (r *Runner) run(id int64) {
	defer func() {
		r.mu.Lock()
		delete(r.inFlight, id)
		r.mu.Unlock()
		r.wg.Done()
	}()

	start := time.Now()
	err := r.Process(r.ctx, id)

	switch {
	case err == nil:
		r.logger.Info("Job completed",
			slog.Int64("image_id", id),
			slog.Duration("duration", time.Since(start)),
		)
	case errors.Is(err, domain.ErrImageNotFound), errors.Is(err, domain.ErrImageAlreadyProcessed):
		r.logger.Warn("Job skipped",
			slog.Int64("image_id", id),
			slog.Any("error", err),
		)
	default:
		r.logger.Error("Job failed",
			slog.Int64("image_id", id),
			slog.Duration("duration", time.Since(start)),
			slog.Any("error", err),
		)
	}
}

// Process runs the job for id synchronously. On failure after the image has
// been moved to processing it is reset to pending and no event is published.
func (r *Runner) Process(ctx context.Context, id int64) error {
	img, err := r.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, domain.ErrImageNotFound) {
			return err
		}
		return domain.NewStoreError("get", err)
	}
	if img.Status == domain.StatusCompleted {
		return domain.ErrImageAlreadyProcessed
	}

	img.MarkProcessing()
	if err := r.store.Save(ctx, img); err != nil {
		r.rollback(ctx, img, "")
		return domain.NewStoreError("save processing", err)
	}

	delay := r.pickDelay()
	r.bus.Publish(domain.ProcessingEvent(processingMessage(id, delay)))

	if err := sleep(ctx, time.Duration(delay)*time.Second); err != nil {
		r.rollback(ctx, img, "")
		return &domain.TransformError{ImageID: id, Err: err}
	}

	input, err := r.media.Read(img.OriginalImage)
	if err != nil {
		r.rollback(ctx, img, "")
		return &domain.TransformError{ImageID: id, Err: err}
	}

	output, err := r.apply(ctx, input)
	if err != nil {
		r.rollback(ctx, img, "")
		return &domain.TransformError{ImageID: id, Err: err}
	}

	processedRef, err := r.media.SaveProcessed(img.ID, img.OriginalImage, output)
	if err != nil {
		r.rollback(ctx, img, "")
		return domain.NewStoreError("save processed file", err)
	}

	img.MarkCompleted(processedRef, r.now().UTC().Truncate(time.Microsecond))
	if err := r.store.Save(ctx, img); err != nil {
		r.rollback(ctx, img, processedRef)
		return domain.NewStoreError("save completed", err)
	}

	r.bus.Publish(domain.CompletedEvent(
		fmt.Sprintf("Image %d processing completed!", id),
		id,
		r.media.URL(processedRef),
	))
	return nil
}

// apply runs the transform, bounded by transformTimeout when set
func (r *Runner) apply(ctx context.Context, input []byte) ([]byte, error) {
	if r.transformTimeout <= 0 {
		return r.transform.Apply(input)
	}

	type result struct {
		output []byte
		err    error
	}
	done := make(chan result, 1)
	go func() {
		output, err := r.transform.Apply(input)
		done <- result{output: output, err: err}
	}()

	timer := time.NewTimer(r.transformTimeout)
	defer timer.Stop()

	select {
	case res := <-done:
		return res.output, res.err
	case <-timer.C:
		return nil, fmt.Errorf("transform timed out after %s", r.transformTimeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// rollback resets img to pending and removes an orphaned processed file
func (r *Runner) rollback(ctx context.Context, img *domain.Image, processedRef string) {
	img.Reset()

	if err := r.store.Save(context.WithoutCancel(ctx), img); err != nil {
		r.logger.Error("Failed to reset image to pending",
			slog.Int64("image_id", img.ID),
			slog.Any("error", err),
		)
	}

	if processedRef != "" {
		if err := r.media.Remove(processedRef); err != nil {
			r.logger.Error("Failed to remove processed file",
				slog.Int64("image_id", img.ID),
				slog.String("ref", processedRef),
				slog.Any("error", err),
			)
		}
	}
}

// pickDelay returns a whole number of seconds in [delayMin, delayMax]
func (r *Runner) pickDelay() int {
	if r.delayMax <= 0 {
		return 0
	}
	return r.delayMin + rand.IntN(r.delayMax-r.delayMin+1)
}

func processingMessage(id int64, delay int) string {
	if delay <= 0 {
		return fmt.Sprintf("Processing image %d...", id)
	}
	return fmt.Sprintf("Processing image %d (delay: %ds)...", id, delay)
}

func sleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
