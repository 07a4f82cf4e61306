package snapshots

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"

	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// Store persists snapshots.
type Store interface {
	Insert(ctx context.Context, s *Snapshot) error
	Get(ctx context.Context, tenantID, id uuid.UUID) (*Snapshot, error)
	List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]*Snapshot, int, error)
	Update(ctx context.Context, s *Snapshot, columns ...string) error
	Delete(ctx context.Context, tenantID, id uuid.UUID) (bool, error)

	// Claim moves a pending or interrupted generating snapshot to generating.
	// Returns nil when the snapshot no longer needs generation.
	Claim(ctx context.Context, tenantID, id uuid.UUID) (*Snapshot, error)
	// PreviousComplete returns the newest complete snapshot of the tenant
	// created before the given one, or nil.
	PreviousComplete(ctx context.Context, tenantID, excludeID uuid.UUID, before time.Time) (*Snapshot, error)
}

// listExcluded are the payload columns left out of listings.
var listExcluded = []string{"nodes", "edges", "node_ids", "edge_ids"}

// Repository is the PostgreSQL Store.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new snapshot repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("snapshots.repo")),
	}
}

var _ Store = (*Repository)(nil)

// Insert inserts s and refreshes server-side defaults.
func (r *Repository) Insert(ctx context.Context, s *Snapshot) error {
	if _, err := r.db.NewInsert().Model(s).Returning("*").Exec(ctx); err != nil {
		r.log.Error("failed to insert snapshot", logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// Get returns a snapshot of the tenant including its payloads.
func (r *Repository) Get(ctx context.Context, tenantID, id uuid.UUID) (*Snapshot, error) {
	s := new(Snapshot)
	err := r.db.NewSelect().
		Model(s).
		Where("s.tenant_id = ?", tenantID).
		Where("s.id = ?", id).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NewNotFound("snapshot", id.String())
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return s, nil
}

// List returns one page of snapshots, newest first, without payloads.
func (r *Repository) List(ctx context.Context, tenantID uuid.UUID, p ListParams) ([]*Snapshot, int, error) {
	out := []*Snapshot{}
	q := r.db.NewSelect().
		Model(&out).
		ExcludeColumn(listExcluded...).
		Where("s.tenant_id = ?", tenantID)

	if p.Status != nil {
		q = q.Where("s.status = ?", *p.Status)
	}
	if p.SnapshotType != nil {
		q = q.Where("s.snapshot_type = ?", *p.SnapshotType)
	}

	total, err := q.
		Order("s.created_at DESC", "s.id DESC").
		Limit(p.Limit).
		Offset(p.Offset).
		ScanAndCount(ctx)
	if err != nil {
		r.log.Error("failed to list snapshots", logger.Error(err))
		return nil, 0, apperror.ErrDatabase.WithInternal(err)
	}
	return out, total, nil
}

// Update writes the given columns of s.
func (r *Repository) Update(ctx context.Context, s *Snapshot, columns ...string) error {
	res, err := r.db.NewUpdate().
		Model(s).
		Column(columns...).
		Where("s.tenant_id = ?", s.TenantID).
		WherePK().
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to update snapshot", slog.String("id", s.ID.String()), logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return apperror.NewNotFound("snapshot", s.ID.String())
	}
	return nil
}

// Delete removes a snapshot. Its jobs go with it by cascade.
func (r *Repository) Delete(ctx context.Context, tenantID, id uuid.UUID) (bool, error) {
	res, err := r.db.NewDelete().
		Model((*Snapshot)(nil)).
		Where("tenant_id = ?", tenantID).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return false, apperror.ErrDatabase.WithInternal(err)
	}
	n, _ := res.RowsAffected()
	return n > 0, nil
}

// Claim flips the snapshot to generating and stamps started_at.
func (r *Repository) Claim(ctx context.Context, tenantID, id uuid.UUID) (*Snapshot, error) {
	s := new(Snapshot)
	_, err := r.db.NewUpdate().
		Model(s).
		Set("status = ?", StatusGenerating).
		Set("started_at = now()").
		Where("s.tenant_id = ?", tenantID).
		Where("s.id = ?", id).
		Where("s.status IN (?)", bun.In([]Status{StatusPending, StatusGenerating})).
		Returning("*").
		Exec(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	if s.ID == uuid.Nil {
		return nil, nil
	}
	return s, nil
}

// PreviousComplete returns the diff base of a snapshot.
func (r *Repository) PreviousComplete(ctx context.Context, tenantID, excludeID uuid.UUID, before time.Time) (*Snapshot, error) {
	s := new(Snapshot)
	err := r.db.NewSelect().
		Model(s).
		Column("id", "node_ids", "edge_ids", "created_at").
		Where("s.tenant_id = ?", tenantID).
		Where("s.status = ?", StatusComplete).
		Where("s.id <> ?", excludeID).
		Where("s.created_at < ?", before).
		Order("s.created_at DESC").
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return s, nil
}
