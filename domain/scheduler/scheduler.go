package scheduler

import (
	"context"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/emergent-company/entitygraph/pkg/logger"
)

// defaultTaskTimeout bounds one task run.
const defaultTaskTimeout = 30 * time.Minute

// TaskFunc is the function signature for scheduled tasks
type TaskFunc func(ctx context.Context) error

// Scheduler runs named maintenance tasks on cron expressions or fixed
// intervals. Overlapping runs of the same task are skipped.
type Scheduler struct {
	cron    *cron.Cron
	log     *slog.Logger
	timeout time.Duration

	mu      sync.RWMutex
	tasks   map[string]*task
	running bool
}

type task struct {
	entryID  cron.EntryID
	schedule string
	fn       TaskFunc

	mu        sync.Mutex
	runs      int64
	failures  int64
	lastError string
	lastTook  time.Duration
}

// TaskInfo describes a scheduled task and its recent outcome.
type TaskInfo struct {
	Name      string    `json:"name"`
	Schedule  string    `json:"schedule"`
	NextRun   time.Time `json:"nextRun"`
	PrevRun   time.Time `json:"prevRun,omitempty"`
	Runs      int64     `json:"runs"`
	Failures  int64     `json:"failures"`
	LastError string    `json:"lastError,omitempty"`
	LastTook  string    `json:"lastTook,omitempty"`
}

// NewScheduler creates a new scheduler with seconds-precision cron specs.
func NewScheduler(log *slog.Logger) *Scheduler {
	log = log.With(logger.Scope("scheduler"))
	return &Scheduler{
		cron: cron.New(
			cron.WithSeconds(),
			cron.WithChain(cron.SkipIfStillRunning(cron.DiscardLogger)),
		),
		log:     log,
		timeout: defaultTaskTimeout,
		tasks:   make(map[string]*task),
	}
}

// Start begins the scheduler
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return nil
	}

	s.cron.Start()
	s.running = true
	s.log.Info("scheduler started", slog.Int("tasks", len(s.tasks)))
	return nil
}

// Stop waits for running tasks to finish or ctx to expire.
func (s *Scheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}

	stopCtx := s.cron.Stop()
	select {
	case <-stopCtx.Done():
		s.log.Info("scheduler stopped gracefully")
	case <-ctx.Done():
		s.log.Warn("scheduler stop timeout")
	}

	s.running = false
	return nil
}

// AddCronTask adds a task with a cron expression, replacing any task of the
// same name. Format: "second minute hour day-of-month month day-of-week".
func (s *Scheduler) AddCronTask(name, schedule string, fn TaskFunc) error {
	if err := s.add(name, schedule, fn); err != nil {
		return err
	}
	s.log.Info("added cron task",
		slog.String("name", name),
		slog.String("schedule", schedule))
	return nil
}

// AddIntervalTask adds a task that runs at a fixed interval.
func (s *Scheduler) AddIntervalTask(name string, interval time.Duration, fn TaskFunc) error {
	if err := s.add(name, "@every "+interval.String(), fn); err != nil {
		return err
	}
	s.log.Info("added interval task",
		slog.String("name", name),
		slog.Duration("interval", interval))
	return nil
}

func (s *Scheduler) add(name, schedule string, fn TaskFunc) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.tasks[name]; ok {
		s.cron.Remove(old.entryID)
		delete(s.tasks, name)
	}

	t := &task{schedule: schedule, fn: fn}
	entryID, err := s.cron.AddFunc(schedule, func() { s.runTask(name, t) })
	if err != nil {
		return err
	}
	t.entryID = entryID
	s.tasks[name] = t
	return nil
}

// RemoveTask removes a scheduled task
func (s *Scheduler) RemoveTask(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if t, ok := s.tasks[name]; ok {
		s.cron.Remove(t.entryID)
		delete(s.tasks, name)
		s.log.Info("removed task", slog.String("name", name))
	}
}

// RunNow executes a registered task synchronously, outside its schedule.
func (s *Scheduler) RunNow(name string) bool {
	s.mu.RLock()
	t, ok := s.tasks[name]
	s.mu.RUnlock()
	if !ok {
		return false
	}
	s.runTask(name, t)
	return true
}

func (s *Scheduler) runTask(name string, t *task) {
	start := time.Now()
	s.log.Debug("running scheduled task", slog.String("name", name))

	ctx, cancel := context.WithTimeout(context.Background(), s.timeout)
	defer cancel()

	err := t.fn(ctx)
	took := time.Since(start)

	t.mu.Lock()
	t.runs++
	t.lastTook = took
	t.lastError = ""
	if err != nil {
		t.failures++
		t.lastError = err.Error()
	}
	t.mu.Unlock()

	if err != nil {
		s.log.Error("scheduled task failed",
			slog.String("name", name),
			logger.Error(err),
			slog.Duration("duration", took))
		return
	}
	s.log.Debug("scheduled task completed",
		slog.String("name", name),
		slog.Duration("duration", took))
}

// ListTasks returns the sorted names of all scheduled tasks
func (s *Scheduler) ListTasks() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	names := make([]string, 0, len(s.tasks))
	for name := range s.tasks {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// GetTaskInfo returns information about all scheduled tasks, sorted by name
func (s *Scheduler) GetTaskInfo() []TaskInfo {
	s.mu.RLock()
	defer s.mu.RUnlock()

	info := make([]TaskInfo, 0, len(s.tasks))
	for name, t := range s.tasks {
		entry := s.cron.Entry(t.entryID)

		t.mu.Lock()
		ti := TaskInfo{
			Name:      name,
			Schedule:  t.schedule,
			NextRun:   entry.Next,
			PrevRun:   entry.Prev,
			Runs:      t.runs,
			Failures:  t.failures,
			LastError: t.lastError,
		}
		if t.runs > 0 {
			ti.LastTook = t.lastTook.String()
		}
		t.mu.Unlock()

		info = append(info, ti)
	}
	slices.SortFunc(info, func(a, b TaskInfo) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return info
}

// IsRunning returns whether the scheduler is running
func (s *Scheduler) IsRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
