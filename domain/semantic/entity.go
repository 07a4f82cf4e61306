package semantic

import (
	"time"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"github.com/emergent-company/entitygraph/domain/graph"
)

// EntityKind says which table an embedding record describes.
type EntityKind string

const (
	KindNode EntityKind = "node"
	KindEdge EntityKind = "edge"
)

// Valid reports whether k is a known entity kind.
func (k EntityKind) Valid() bool {
	return k == KindNode || k == KindEdge
}

// Record is one versioned embedding of a node or edge. At most one record
// per entity is current; older ones are kept as history.
type Record struct {
	bun.BaseModel `bun:"table:kb.embedding_records,alias:er"`

	ID           uuid.UUID       `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID     uuid.UUID       `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	EntityKind   EntityKind      `bun:"entity_kind,notnull" json:"entityKind"`
	EntityID     uuid.UUID       `bun:"entity_id,type:uuid,notnull" json:"entityId"`
	Provider     string          `bun:"provider,notnull" json:"provider"`
	ModelVersion string          `bun:"model_version,notnull" json:"modelVersion"`
	Embedding    pgvector.Vector `bun:"embedding,type:vector,notnull" json:"-"`
	Dimensions   int             `bun:"dimensions,notnull" json:"dimensions"`
	ContextText  string          `bun:"context_text,notnull" json:"contextText"`
	ContentHash  string          `bun:"content_hash,notnull" json:"contentHash"`
	IsCurrent    bool            `bun:"is_current,notnull,default:true" json:"isCurrent"`
	CreatedAt    time.Time       `bun:"created_at,notnull,default:now()" json:"createdAt"`
}

// VectorHit is a raw similarity match before node hydration.
type VectorHit struct {
	EntityID    uuid.UUID `bun:"entity_id"`
	Similarity  float64   `bun:"similarity"`
	ContextText string    `bun:"context_text"`
}

// GenerateResult reports the outcome for one entity.
type GenerateResult struct {
	EntityID    uuid.UUID  `json:"entityId"`
	Kind        EntityKind `json:"kind"`
	Skipped     bool       `json:"skipped"`
	RecordID    *uuid.UUID `json:"recordId,omitempty"`
	Dimensions  int        `json:"dimensions,omitempty"`
	ContentHash string     `json:"contentHash"`
}

// BatchRequest lists the entities to (re-)embed.
type BatchRequest struct {
	NodeIDs []uuid.UUID `json:"nodeIds"`
	EdgeIDs []uuid.UUID `json:"edgeIds"`
	Force   bool        `json:"force"`
}

// Failure describes an entity whose embedding could not be generated.
type Failure struct {
	EntityID uuid.UUID  `json:"entityId"`
	Kind     EntityKind `json:"kind"`
	Error    string     `json:"error"`
}

// BatchResult summarizes a batch; failures never abort the rest of it.
type BatchResult struct {
	Generated int              `json:"generated"`
	Skipped   int              `json:"skipped"`
	Failed    int              `json:"failed"`
	Results   []GenerateResult `json:"results"`
	Failures  []Failure        `json:"failures"`
}

// SearchRequest is a semantic node search.
type SearchRequest struct {
	QueryText string   `json:"queryText"`
	NodeTypes []string `json:"nodeTypes,omitempty"`
	Threshold *float64 `json:"threshold,omitempty"`
	Limit     int      `json:"limit,omitempty"`
}

// SearchResponse carries matches ordered by similarity, highest first.
type SearchResponse struct {
	Results    []graph.SemanticMatch `json:"results"`
	TotalCount int                   `json:"totalCount"`
	Threshold  float64               `json:"threshold"`
}
