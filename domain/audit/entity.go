package audit

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// Action names an audited operation
type Action string

const (
	ActionNodeCreated         Action = "node.created"
	ActionNodeUpdated         Action = "node.updated"
	ActionNodeDeleted         Action = "node.deleted"
	ActionEdgeCreated         Action = "edge.created"
	ActionEdgeUpdated         Action = "edge.updated"
	ActionEdgeDeleted         Action = "edge.deleted"
	ActionNodesMerged         Action = "nodes.merged"
	ActionQueryExecuted       Action = "query.executed"
	ActionTraversalExecuted   Action = "traversal.executed"
	ActionPathFound           Action = "path.found"
	ActionPathExplained       Action = "path.explained"
	ActionSnapshotCreated     Action = "snapshot.created"
	ActionSnapshotRegenerated Action = "snapshot.regenerated"
	ActionSnapshotCompleted   Action = "snapshot.completed"
	ActionSnapshotFailed      Action = "snapshot.failed"
	ActionEmbeddingsGenerated Action = "embeddings.generated"
	ActionMetricsComputed     Action = "metrics.computed"
	ActionClustersComputed    Action = "clusters.computed"
)

// Entity types referenced by audit entries
const (
	EntityNode     = "node"
	EntityEdge     = "edge"
	EntityGraph    = "graph"
	EntitySnapshot = "snapshot"
)

// Entry is one append-only row in kb.audit_log
type Entry struct {
	bun.BaseModel `bun:"table:kb.audit_log,alias:al"`

	ID          uuid.UUID      `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID    uuid.UUID      `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	ActorID     *uuid.UUID     `bun:"actor_id,type:uuid" json:"actorId,omitempty"`
	Action      Action         `bun:"action,notnull" json:"action"`
	EntityType  string         `bun:"entity_type,notnull" json:"entityType"`
	EntityID    *uuid.UUID     `bun:"entity_id,type:uuid" json:"entityId,omitempty"`
	Details     map[string]any `bun:"details,type:jsonb" json:"details,omitempty"`
	ResultCount *int           `bun:"result_count" json:"resultCount,omitempty"`
	DurationMs  *int64         `bun:"duration_ms" json:"durationMs,omitempty"`
	CreatedAt   time.Time      `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// ListParams filters audit entries
type ListParams struct {
	TenantID uuid.UUID
	Action   *Action
	EntityID *uuid.UUID
	Limit    int
	Offset   int
}

// ListResponse is a page of audit entries
type ListResponse struct {
	Data  []Entry `json:"data"`
	Total int     `json:"total"`
}
