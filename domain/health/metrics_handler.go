package health

import (
	"context"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/emergent-company/entitygraph/domain/scheduler"
	"github.com/emergent-company/entitygraph/internal/jobs"
	"github.com/emergent-company/entitygraph/pkg/apperror"
)

// QueueStats reports job counts by status. Implemented by *jobs.Queue.
type QueueStats interface {
	GetStats(ctx context.Context) (*jobs.Stats, error)
}

// WorkerStatus reports worker counters. Implemented by *jobs.Worker.
type WorkerStatus interface {
	Metrics() jobs.WorkerMetrics
	IsRunning() bool
}

// TaskLister reports scheduled tasks. Implemented by *scheduler.Scheduler.
type TaskLister interface {
	GetTaskInfo() []scheduler.TaskInfo
	IsRunning() bool
}

// MetricsHandler handles job and scheduler metrics requests
type MetricsHandler struct {
	queue     QueueStats
	worker    WorkerStatus
	scheduler TaskLister
}

// NewMetricsHandler creates a new metrics handler
func NewMetricsHandler(queue QueueStats, worker WorkerStatus, sched TaskLister) *MetricsHandler {
	return &MetricsHandler{
		queue:     queue,
		worker:    worker,
		scheduler: sched,
	}
}

// JobQueueMetrics represents metrics for a single job queue
type JobQueueMetrics struct {
	Queue         string             `json:"queue"`
	Pending       int64              `json:"pending"`
	Processing    int64              `json:"processing"`
	Completed     int64              `json:"completed"`
	Failed        int64              `json:"failed"`
	Total         int64              `json:"total"`
	WorkerRunning bool               `json:"worker_running"`
	Worker        jobs.WorkerMetrics `json:"worker"`
}

// AllJobMetrics contains metrics for all job queues
type AllJobMetrics struct {
	Queues    []JobQueueMetrics `json:"queues"`
	Timestamp string            `json:"timestamp"`
}

// SchedulerMetricsResponse lists the scheduled tasks
type SchedulerMetricsResponse struct {
	Running   bool                 `json:"running"`
	Tasks     []scheduler.TaskInfo `json:"tasks"`
	Timestamp string               `json:"timestamp"`
}

// JobMetrics returns metrics for the snapshot job queue
// @Router       /api/metrics/jobs [get]
func (h *MetricsHandler) JobMetrics(c echo.Context) error {
	stats, err := h.queue.GetStats(c.Request().Context())
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	return c.JSON(http.StatusOK, AllJobMetrics{
		Queues: []JobQueueMetrics{{
			Queue:         "snapshot_generation",
			Pending:       stats.Pending,
			Processing:    stats.Processing,
			Completed:     stats.Completed,
			Failed:        stats.Failed,
			Total:         stats.Pending + stats.Processing + stats.Completed + stats.Failed,
			WorkerRunning: h.worker.IsRunning(),
			Worker:        h.worker.Metrics(),
		}},
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// SchedulerMetrics returns the state of scheduled tasks
// @Router       /api/metrics/scheduler [get]
func (h *MetricsHandler) SchedulerMetrics(c echo.Context) error {
	return c.JSON(http.StatusOK, SchedulerMetricsResponse{
		Running:   h.scheduler.IsRunning(),
		Tasks:     h.scheduler.GetTaskInfo(),
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}
