package audit

import (
	"context"
	"log/slog"

	"github.com/uptrace/bun"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// Repository handles database operations for the audit log
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new audit repository
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("audit.repo")),
	}
}

// Insert appends an entry
func (r *Repository) Insert(ctx context.Context, e *Entry) error {
	_, err := r.db.NewInsert().Model(e).Returning("id, created_at").Exec(ctx)
	return err
}

// List returns entries newest first
func (r *Repository) List(ctx context.Context, p ListParams) ([]Entry, int, error) {
	entries := []Entry{}
	q := r.db.NewSelect().
		Model(&entries).
		Where("al.tenant_id = ?", p.TenantID)

	if p.Action != nil {
		q = q.Where("al.action = ?", *p.Action)
	}
	if p.EntityID != nil {
		q = q.Where("al.entity_id = ?", *p.EntityID)
	}

	total, err := q.
		Order("al.created_at DESC", "al.id DESC").
		Limit(p.Limit).
		Offset(p.Offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list audit entries", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}

	return entries, total, nil
}
