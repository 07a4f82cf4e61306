package semantic

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/emergent-company/entitygraph/domain/graph"
	"github.com/emergent-company/entitygraph/internal/database"
	"github.com/emergent-company/entitygraph/pkg/apperror"
	"github.com/emergent-company/entitygraph/pkg/logger"
)

// RecordStore persists versioned embedding records.
type RecordStore interface {
	// Current returns the current record of an entity, or nil when none exists.
	Current(ctx context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) (*Record, error)
	// Replace makes rec the single current record of its entity.
	Replace(ctx context.Context, rec *Record) error
	History(ctx context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) ([]*Record, error)
}

// VectorSearcher ranks current node embeddings by cosine similarity.
type VectorSearcher interface {
	SearchNodes(ctx context.Context, tenantID uuid.UUID, vec []float32, nodeTypes []graph.NodeType, threshold float64, limit int) ([]VectorHit, error)
}

// Repository is the PostgreSQL RecordStore and VectorSearcher.
type Repository struct {
	db  bun.IDB
	log *slog.Logger
}

// NewRepository creates a new embedding record repository.
func NewRepository(db bun.IDB, log *slog.Logger) *Repository {
	return &Repository{
		db:  db,
		log: log.With(logger.Scope("semantic.repo")),
	}
}

var (
	_ RecordStore    = (*Repository)(nil)
	_ VectorSearcher = (*Repository)(nil)
)

// Current returns the current record of an entity, or nil.
func (r *Repository) Current(ctx context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) (*Record, error) {
	rec := new(Record)
	err := r.db.NewSelect().
		Model(rec).
		ExcludeColumn("embedding").
		Where("er.tenant_id = ?", tenantID).
		Where("er.entity_kind = ?", kind).
		Where("er.entity_id = ?", entityID).
		Where("er.is_current").
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return rec, nil
}

// Replace flips the entity's current record to history and inserts rec as
// current, in one transaction holding a per-entity advisory lock.
func (r *Repository) Replace(ctx context.Context, rec *Record) error {
	tx, err := database.BeginSafeTx(ctx, r.db)
	if err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := database.LockEntity(ctx, tx, "embedding", string(rec.EntityKind), rec.EntityID.String()); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}

	_, err = tx.NewUpdate().
		Model((*Record)(nil)).
		Set("is_current = false").
		Where("entity_kind = ?", rec.EntityKind).
		Where("entity_id = ?", rec.EntityID).
		Where("is_current").
		Exec(ctx)
	if err != nil {
		r.log.Error("failed to retire embedding record",
			slog.String("entity_id", rec.EntityID.String()),
			logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	rec.IsCurrent = true
	if _, err := tx.NewInsert().Model(rec).Returning("id, created_at").Exec(ctx); err != nil {
		r.log.Error("failed to insert embedding record",
			slog.String("entity_id", rec.EntityID.String()),
			logger.Error(err))
		return apperror.ErrDatabase.WithInternal(err)
	}

	if err := tx.Commit(); err != nil {
		return apperror.ErrDatabase.WithInternal(err)
	}
	return nil
}

// History returns every record of an entity, newest first, without vectors.
func (r *Repository) History(ctx context.Context, tenantID uuid.UUID, kind EntityKind, entityID uuid.UUID) ([]*Record, error) {
	records := []*Record{}
	err := r.db.NewSelect().
		Model(&records).
		ExcludeColumn("embedding").
		Where("er.tenant_id = ?", tenantID).
		Where("er.entity_kind = ?", kind).
		Where("er.entity_id = ?", entityID).
		Order("er.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, apperror.ErrDatabase.WithInternal(err)
	}
	return records, nil
}

// SearchNodes returns current node embeddings with similarity 1 - cosine
// distance of at least threshold, most similar first. Inactive nodes are
// excluded.
func (r *Repository) SearchNodes(ctx context.Context, tenantID uuid.UUID, vec []float32, nodeTypes []graph.NodeType, threshold float64, limit int) ([]VectorHit, error) {
	q := pgvector.NewVector(vec)

	query := r.db.NewSelect().
		TableExpr("kb.embedding_records AS er").
		Join("JOIN kb.graph_nodes AS n ON n.id = er.entity_id AND n.tenant_id = er.tenant_id").
		ColumnExpr("er.entity_id, er.context_text").
		ColumnExpr("1 - (er.embedding <=> ?::vector) AS similarity", q).
		Where("er.tenant_id = ?", tenantID).
		Where("er.entity_kind = ?", KindNode).
		Where("er.is_current").
		Where("n.is_active").
		Where("1 - (er.embedding <=> ?::vector) >= ?", q, threshold).
		OrderExpr("er.embedding <=> ?::vector", q).
		Limit(limit)
	if len(nodeTypes) > 0 {
		query = query.Where("n.node_type IN (?)", bun.In(nodeTypes))
	}

	hits := []VectorHit{}
	if err := query.Scan(ctx, &hits); err != nil {
		r.log.Error("vector search failed", logger.Error(err))
		return nil, apperror.NewUpstream("vector search", err)
	}
	return hits, nil
}
