package jobs

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Handler processes one claimed job. A returned error schedules a retry.
type Handler func(ctx context.Context, job Job) error

// Dequeuer is the subset of Queue the worker drives
type Dequeuer interface {
	Dequeue(ctx context.Context, batchSize int) ([]Job, error)
	MarkCompleted(ctx context.Context, id uuid.UUID) error
	MarkFailed(ctx context.Context, job Job, errMsg string) error
	RecoverStaleJobs(ctx context.Context, staleThresholdMinutes int) (int, error)
}

// WorkerConfig contains configuration for a background worker
type WorkerConfig struct {
	// Name is a descriptive name for the worker (for logging)
	Name string
	// PollInterval is how often to poll for new jobs (default: 5s)
	PollInterval time.Duration
	// BatchSize is the number of jobs to dequeue per poll (default: 10)
	BatchSize int
	// StaleThresholdMinutes is how long a job can be in 'processing' before
	// being considered stale and recovered (default: 10)
	StaleThresholdMinutes int
	// RecoverStaleOnStart determines if stale jobs should be recovered on startup
	RecoverStaleOnStart bool
}

// DefaultWorkerConfig returns a WorkerConfig with sensible defaults
func DefaultWorkerConfig(name string) WorkerConfig {
	return WorkerConfig{
		Name:                  name,
		PollInterval:          5 * time.Second,
		BatchSize:             10,
		StaleThresholdMinutes: 10,
		RecoverStaleOnStart:   true,
	}
}

// Worker polls a queue and hands each claimed job to a Handler.
// Stop waits for the in-flight batch before returning.
type Worker struct {
	config    WorkerConfig
	queue     Dequeuer
	handle    Handler
	log       *slog.Logger
	stopCh    chan struct{}
	stoppedCh chan struct{}
	running   bool
	mu        sync.Mutex

	processedCount int64
	successCount   int64
	failureCount   int64
	metricsMu      sync.RWMutex
}

// NewWorker creates a new background worker
func NewWorker(config WorkerConfig, queue Dequeuer, handle Handler, log *slog.Logger) *Worker {
	if config.PollInterval == 0 {
		config.PollInterval = 5 * time.Second
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}
	if config.StaleThresholdMinutes == 0 {
		config.StaleThresholdMinutes = 10
	}

	return &Worker{
		config:    config,
		queue:     queue,
		handle:    handle,
		log:       log.With(slog.String("worker", config.Name)),
		stopCh:    make(chan struct{}),
		stoppedCh: make(chan struct{}),
	}
}

// Start begins the worker's polling loop. The loop outlives ctx; use Stop to end it.
func (w *Worker) Start(ctx context.Context) error {
	w.mu.Lock()
	if w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = true
	w.stopCh = make(chan struct{})
	w.stoppedCh = make(chan struct{})
	w.mu.Unlock()

	if w.config.RecoverStaleOnStart {
		if _, err := w.queue.RecoverStaleJobs(ctx, w.config.StaleThresholdMinutes); err != nil {
			w.log.Warn("stale job recovery failed", slog.Any("error", err))
		}
	}

	w.log.Info("worker starting",
		slog.Duration("poll_interval", w.config.PollInterval),
		slog.Int("batch_size", w.config.BatchSize))

	go w.run()

	return nil
}

// Stop gracefully stops the worker, waiting for current batch to complete
func (w *Worker) Stop(ctx context.Context) error {
	w.mu.Lock()
	if !w.running {
		w.mu.Unlock()
		return nil
	}
	w.running = false
	close(w.stopCh)
	w.mu.Unlock()

	select {
	case <-w.stoppedCh:
		w.log.Info("worker stopped gracefully")
	case <-ctx.Done():
		w.log.Warn("worker stop timeout, forcing shutdown")
	}

	return nil
}

func (w *Worker) run() {
	defer close(w.stoppedCh)

	// Cancelled on Stop so in-flight handlers observe shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() {
		select {
		case <-w.stopCh:
			cancel()
		case <-ctx.Done():
		}
	}()

	ticker := time.NewTicker(w.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ticker.C:
			if _, err := w.ProcessBatch(ctx); err != nil {
				w.log.Warn("process batch failed", slog.Any("error", err))
			}
		}
	}
}

// ProcessBatch claims up to BatchSize jobs and runs the handler on each.
// Returns the number of jobs claimed.
func (w *Worker) ProcessBatch(ctx context.Context) (int, error) {
	jobs, err := w.queue.Dequeue(ctx, w.config.BatchSize)
	if err != nil {
		return 0, err
	}

	for _, job := range jobs {
		if err := w.handle(ctx, job); err != nil {
			w.incrementFailure()
			w.log.Warn("job failed",
				slog.String("job_id", job.ID.String()),
				slog.String("entity_id", job.EntityID.String()),
				slog.Any("error", err))
			if markErr := w.queue.MarkFailed(context.WithoutCancel(ctx), job, err.Error()); markErr != nil {
				w.log.Error("mark failed failed", slog.Any("error", markErr))
			}
			continue
		}

		w.incrementSuccess()
		if err := w.queue.MarkCompleted(context.WithoutCancel(ctx), job.ID); err != nil {
			w.log.Error("mark completed failed", slog.Any("error", err))
		}
	}

	return len(jobs), nil
}

// Metrics returns current worker metrics
func (w *Worker) Metrics() WorkerMetrics {
	w.metricsMu.RLock()
	defer w.metricsMu.RUnlock()

	return WorkerMetrics{
		Processed: w.processedCount,
		Succeeded: w.successCount,
		Failed:    w.failureCount,
	}
}

func (w *Worker) incrementSuccess() {
	w.metricsMu.Lock()
	w.processedCount++
	w.successCount++
	w.metricsMu.Unlock()
}

func (w *Worker) incrementFailure() {
	w.metricsMu.Lock()
	w.processedCount++
	w.failureCount++
	w.metricsMu.Unlock()
}

// IsRunning returns whether the worker is currently running
func (w *Worker) IsRunning() bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.running
}

// WorkerMetrics contains worker metrics
type WorkerMetrics struct {
	Processed int64 `json:"processed"`
	Succeeded int64 `json:"succeeded"`
	Failed    int64 `json:"failed"`
}
