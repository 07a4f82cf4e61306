package audit

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/emergent-company/entitygraph/pkg/logger"
	"github.com/emergent-company/entitygraph/pkg/mathutil"
	"github.com/emergent-company/entitygraph/pkg/metrics"
)

const (
	defaultListLimit = 50
	maxListLimit     = 500
	writeTimeout     = 5 * time.Second
)

// Recorder appends audit entries. Implementations never fail the caller.
type Recorder interface {
	Record(ctx context.Context, e Entry)
}

// Service persists audit entries and serves reads
type Service struct {
	repo *Repository
	log  *slog.Logger
}

// NewService creates a new audit service
func NewService(repo *Repository, log *slog.Logger) *Service {
	return &Service{
		repo: repo,
		log:  log.With(logger.Scope("audit.svc")),
	}
}

// Record writes the entry. Failures are logged and counted, never returned.
// The write is detached from request cancellation so a finished mutation is still recorded.
func (s *Service) Record(ctx context.Context, e Entry) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), writeTimeout)
	defer cancel()

	if err := s.repo.Insert(ctx, &e); err != nil {
		metrics.AuditWriteFailures.Inc()
		s.log.Warn("failed to write audit entry",
			slog.String("action", string(e.Action)),
			slog.String("tenant_id", e.TenantID.String()),
			logger.Error(err))
	}
}

// List returns a page of audit entries for a tenant
func (s *Service) List(ctx context.Context, p ListParams) (*ListResponse, error) {
	p.Limit = mathutil.ClampLimit(p.Limit, defaultListLimit, maxListLimit)
	if p.Offset < 0 {
		p.Offset = 0
	}

	entries, total, err := s.repo.List(ctx, p)
	if err != nil {
		return nil, err
	}
	return &ListResponse{Data: entries, Total: total}, nil
}

// NopRecorder discards entries
type NopRecorder struct{}

// Record does nothing
func (NopRecorder) Record(context.Context, Entry) {}

// MemoryRecorder keeps entries in memory. Used by tests and tools.
type MemoryRecorder struct {
	mu      sync.Mutex
	entries []Entry
}

// Record appends the entry
func (m *MemoryRecorder) Record(_ context.Context, e Entry) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if e.CreatedAt.IsZero() {
		e.CreatedAt = time.Now().UTC()
	}
	m.entries = append(m.entries, e)
}

// Entries returns a copy of the recorded entries
func (m *MemoryRecorder) Entries() []Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Entry, len(m.entries))
	copy(out, m.entries)
	return out
}

// ByAction returns entries with the given action
func (m *MemoryRecorder) ByAction(a Action) []Entry {
	var out []Entry
	for _, e := range m.Entries() {
		if e.Action == a {
			out = append(out, e)
		}
	}
	return out
}
