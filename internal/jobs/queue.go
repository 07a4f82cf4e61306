// Package jobs provides a PostgreSQL-backed job queue implementation.
//
// The queue supports:
//   - Idempotent enqueue (won't create duplicate active jobs for one entity)
//   - Atomic dequeue with FOR UPDATE SKIP LOCKED
//   - Quadratic backoff for retries
//   - Stale job recovery
//   - Queue statistics
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// JobStatus represents the state of a job
type JobStatus string

const (
	StatusPending    JobStatus = "pending"
	StatusProcessing JobStatus = "processing"
	StatusCompleted  JobStatus = "completed"
	StatusFailed     JobStatus = "failed"
)

// QueueConfig contains configuration for a job queue
type QueueConfig struct {
	// TableName is the fully qualified table name (e.g., "kb.snapshot_jobs")
	TableName string
	// EntityIDColumn is the column name for the entity ID (e.g., "snapshot_id")
	EntityIDColumn string
	// MaxAttempts is the maximum number of attempts (0 = unlimited)
	MaxAttempts int
	// BaseRetryDelaySec is the base delay in seconds for retries (default: 60)
	BaseRetryDelaySec int
	// MaxRetryDelaySec is the maximum retry delay in seconds (default: 3600)
	MaxRetryDelaySec int
	// BatchSize is the default number of jobs to dequeue at once (default: 10)
	BatchSize int
}

// DefaultQueueConfig returns a QueueConfig with sensible defaults
func DefaultQueueConfig(tableName, entityIDColumn string) QueueConfig {
	return QueueConfig{
		TableName:         tableName,
		EntityIDColumn:    entityIDColumn,
		MaxAttempts:       0, // unlimited
		BaseRetryDelaySec: 60,
		MaxRetryDelaySec:  3600,
		BatchSize:         10,
	}
}

// Job is a claimed queue row
type Job struct {
	ID           uuid.UUID `bun:"id"`
	TenantID     uuid.UUID `bun:"tenant_id"`
	EntityID     uuid.UUID `bun:"entity_id"`
	AttemptCount int       `bun:"attempt_count"`
}

// Queue provides base job queue operations using PostgreSQL.
// It uses FOR UPDATE SKIP LOCKED for concurrent worker safety.
type Queue struct {
	db     bun.IDB
	config QueueConfig
	log    *slog.Logger
}

// NewQueue creates a new job queue with the given configuration
func NewQueue(db bun.IDB, config QueueConfig, log *slog.Logger) *Queue {
	if config.BaseRetryDelaySec == 0 {
		config.BaseRetryDelaySec = 60
	}
	if config.MaxRetryDelaySec == 0 {
		config.MaxRetryDelaySec = 3600
	}
	if config.BatchSize == 0 {
		config.BatchSize = 10
	}

	return &Queue{
		db:     db,
		config: config,
		log:    log,
	}
}

// Config returns the effective queue configuration
func (q *Queue) Config() QueueConfig {
	return q.config
}

// Enqueue adds a pending job for the entity unless one is already pending or processing.
// Returns true when a new job row was inserted.
func (q *Queue) Enqueue(ctx context.Context, db bun.IDB, tenantID, entityID uuid.UUID) (bool, error) {
	if db == nil {
		db = q.db
	}

	query := fmt.Sprintf(`
		INSERT INTO %[1]s (tenant_id, %[2]s, status, scheduled_at)
		SELECT ?, ?, 'pending', now()
		WHERE NOT EXISTS (
			SELECT 1 FROM %[1]s
			WHERE %[2]s = ? AND status IN ('pending', 'processing')
		)`,
		q.config.TableName, q.config.EntityIDColumn)

	res, err := db.ExecContext(ctx, query, tenantID, entityID, entityID)
	if err != nil {
		return false, fmt.Errorf("enqueue failed: %w", err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Dequeue atomically claims jobs for processing.
//
// SQL Pattern:
//
//	WITH cte AS (
//	  SELECT id FROM table
//	  WHERE status='pending' AND scheduled_at <= now()
//	  ORDER BY scheduled_at ASC
//	  FOR UPDATE SKIP LOCKED
//	  LIMIT ?
//	)
//	UPDATE table SET status='processing', started_at=now()
//	FROM cte WHERE table.id = cte.id
//	RETURNING id, tenant_id, entity_id, attempt_count
func (q *Queue) Dequeue(ctx context.Context, batchSize int) ([]Job, error) {
	if batchSize <= 0 {
		batchSize = q.config.BatchSize
	}

	query := fmt.Sprintf(`
		WITH cte AS (
			SELECT id FROM %[1]s
			WHERE status = 'pending' AND scheduled_at <= now()
			ORDER BY scheduled_at ASC
			FOR UPDATE SKIP LOCKED
			LIMIT ?
		)
		UPDATE %[1]s j
		SET status = 'processing', started_at = now(), updated_at = now()
		FROM cte WHERE j.id = cte.id
		RETURNING j.id, j.tenant_id, j.%[2]s AS entity_id, j.attempt_count`,
		q.config.TableName, q.config.EntityIDColumn)

	var jobs []Job
	if err := q.db.NewRaw(query, batchSize).Scan(ctx, &jobs); err != nil {
		return nil, fmt.Errorf("dequeue failed: %w", err)
	}

	return jobs, nil
}

// MarkCompleted marks a job as completed
func (q *Queue) MarkCompleted(ctx context.Context, id uuid.UUID) error {
	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'completed',
			completed_at = now(),
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, id); err != nil {
		return fmt.Errorf("mark completed failed: %w", err)
	}

	return nil
}

// RetryDelay returns the backoff before the given attempt: base * attempt^2, capped
func (q *Queue) RetryDelay(attempt int) time.Duration {
	delay := math.Min(
		float64(q.config.MaxRetryDelaySec),
		float64(q.config.BaseRetryDelaySec)*float64(attempt)*float64(attempt),
	)
	return time.Duration(delay) * time.Second
}

// MarkFailed records a failed attempt and schedules a retry with backoff.
// If MaxAttempts is configured and reached, the job is permanently marked as failed.
func (q *Queue) MarkFailed(ctx context.Context, job Job, errMsg string) error {
	attempt := job.AttemptCount + 1

	if q.config.MaxAttempts > 0 && attempt >= q.config.MaxAttempts {
		query := fmt.Sprintf(`
			UPDATE %s
			SET status = 'failed',
				attempt_count = ?,
				last_error = ?,
				completed_at = now(),
				updated_at = now()
			WHERE id = ?`,
			q.config.TableName)

		if _, err := q.db.ExecContext(ctx, query, attempt, truncateError(errMsg), job.ID); err != nil {
			return fmt.Errorf("mark failed (permanent) failed: %w", err)
		}

		q.log.Warn("job permanently failed after max attempts",
			slog.String("job_id", job.ID.String()),
			slog.Int("attempts", attempt),
			slog.String("error", errMsg))

		return nil
	}

	delay := q.RetryDelay(attempt)

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			attempt_count = ?,
			last_error = ?,
			started_at = NULL,
			scheduled_at = now() + make_interval(secs => ?),
			updated_at = now()
		WHERE id = ?`,
		q.config.TableName)

	if _, err := q.db.ExecContext(ctx, query, attempt, truncateError(errMsg), int(delay.Seconds()), job.ID); err != nil {
		return fmt.Errorf("mark failed (retry) failed: %w", err)
	}

	q.log.Debug("job scheduled for retry",
		slog.String("job_id", job.ID.String()),
		slog.Int("attempt", attempt),
		slog.Duration("delay", delay))

	return nil
}

// RecoverStaleJobs recovers jobs stuck in 'processing' status.
// This happens when the server restarts while jobs are being processed.
// Returns the number of jobs recovered.
func (q *Queue) RecoverStaleJobs(ctx context.Context, staleThresholdMinutes int) (int, error) {
	if staleThresholdMinutes <= 0 {
		staleThresholdMinutes = 10
	}

	query := fmt.Sprintf(`
		UPDATE %s
		SET status = 'pending',
			started_at = NULL,
			scheduled_at = now(),
			updated_at = now()
		WHERE status = 'processing'
			AND started_at < now() - make_interval(mins => ?)`,
		q.config.TableName)

	result, err := q.db.ExecContext(ctx, query, staleThresholdMinutes)
	if err != nil {
		return 0, fmt.Errorf("recover stale jobs failed: %w", err)
	}

	count, _ := result.RowsAffected()

	if count > 0 {
		q.log.Warn("recovered stale jobs",
			slog.Int64("count", count),
			slog.Int("threshold_minutes", staleThresholdMinutes))
	}

	return int(count), nil
}

// Stats represents queue statistics
type Stats struct {
	Pending    int64 `json:"pending"`
	Processing int64 `json:"processing"`
	Completed  int64 `json:"completed"`
	Failed     int64 `json:"failed"`
}

// GetStats returns queue statistics
func (q *Queue) GetStats(ctx context.Context) (*Stats, error) {
	query := fmt.Sprintf(`
		SELECT
			COUNT(*) FILTER (WHERE status = 'pending') AS pending,
			COUNT(*) FILTER (WHERE status = 'processing') AS processing,
			COUNT(*) FILTER (WHERE status = 'completed') AS completed,
			COUNT(*) FILTER (WHERE status = 'failed') AS failed
		FROM %s`,
		q.config.TableName)

	stats := &Stats{}
	err := q.db.QueryRowContext(ctx, query).Scan(&stats.Pending, &stats.Processing, &stats.Completed, &stats.Failed)
	if err != nil {
		return nil, fmt.Errorf("get stats failed: %w", err)
	}

	return stats, nil
}

// truncateError truncates an error message to 500 characters
func truncateError(msg string) string {
	if len(msg) > 500 {
		return msg[:500]
	}
	return msg
}
