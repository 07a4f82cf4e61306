package graph

import (
	"slices"
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// NodeType is the closed set of node kinds.
type NodeType string

const (
	NodeTypeDocument     NodeType = "document"
	NodeTypePerson       NodeType = "person"
	NodeTypeOrganization NodeType = "organization"
	NodeTypeTopic        NodeType = "topic"
	NodeTypeEvent        NodeType = "event"
	NodeTypeProduct      NodeType = "product"
	NodeTypeLocation     NodeType = "location"
	NodeTypeConcept      NodeType = "concept"
	NodeTypeProject      NodeType = "project"
	NodeTypeCompetitor   NodeType = "competitor"
	NodeTypeCampaign     NodeType = "campaign"
	NodeTypeOther        NodeType = "other"
)

// NodeTypes lists every valid node type.
var NodeTypes = []NodeType{
	NodeTypeDocument, NodeTypePerson, NodeTypeOrganization, NodeTypeTopic,
	NodeTypeEvent, NodeTypeProduct, NodeTypeLocation, NodeTypeConcept,
	NodeTypeProject, NodeTypeCompetitor, NodeTypeCampaign, NodeTypeOther,
}

// Valid reports whether t is a known node type.
func (t NodeType) Valid() bool {
	return slices.Contains(NodeTypes, t)
}

// EdgeType is the closed set of relationship kinds.
type EdgeType string

const (
	EdgeTypeRelatedTo      EdgeType = "related_to"
	EdgeTypeMentions       EdgeType = "mentions"
	EdgeTypeAuthoredBy     EdgeType = "authored_by"
	EdgeTypeWorksFor       EdgeType = "works_for"
	EdgeTypePartOf         EdgeType = "part_of"
	EdgeTypeLocatedIn      EdgeType = "located_in"
	EdgeTypeCompetesWith   EdgeType = "competes_with"
	EdgeTypeReferences     EdgeType = "references"
	EdgeTypeDerivedFrom    EdgeType = "derived_from"
	EdgeTypeSimilarTo      EdgeType = "similar_to"
	EdgeTypeFollows        EdgeType = "follows"
	EdgeTypeOwns           EdgeType = "owns"
	EdgeTypeParticipatesIn EdgeType = "participates_in"
	EdgeTypeOther          EdgeType = "other"
)

// EdgeTypes lists every valid edge type.
var EdgeTypes = []EdgeType{
	EdgeTypeRelatedTo, EdgeTypeMentions, EdgeTypeAuthoredBy, EdgeTypeWorksFor,
	EdgeTypePartOf, EdgeTypeLocatedIn, EdgeTypeCompetesWith, EdgeTypeReferences,
	EdgeTypeDerivedFrom, EdgeTypeSimilarTo, EdgeTypeFollows, EdgeTypeOwns,
	EdgeTypeParticipatesIn, EdgeTypeOther,
}

// Valid reports whether t is a known edge type.
func (t EdgeType) Valid() bool {
	return slices.Contains(EdgeTypes, t)
}

// Properties is the open attribute map carried by nodes and edges.
// Values are restricted to what encoding/json produces: string, float64,
// bool, nil, []any and map[string]any.
type Properties map[string]any

// Node is an entity in a tenant's graph.
type Node struct {
	bun.BaseModel `bun:"table:kb.graph_nodes,alias:n"`

	ID           uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID     uuid.UUID  `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	NodeType     NodeType   `bun:"node_type,notnull" json:"nodeType"`
	ExternalID   *string    `bun:"external_id" json:"externalId,omitempty"`
	SourceSystem *string    `bun:"source_system" json:"sourceSystem,omitempty"`
	SourceTable  *string    `bun:"source_table" json:"sourceTable,omitempty"`
	Label        string     `bun:"label,notnull" json:"label"`
	Description  *string    `bun:"description" json:"description,omitempty"`
	Properties   Properties `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	Tags         []string   `bun:"tags,array,notnull,default:'{}'" json:"tags"`
	Categories   []string   `bun:"categories,array,notnull,default:'{}'" json:"categories"`
	ValidFrom    *time.Time `bun:"valid_from" json:"validFrom,omitempty"`
	ValidTo      *time.Time `bun:"valid_to" json:"validTo,omitempty"`

	// Analytics, written by the metrics and clustering engine
	DegreeCentrality      *float64   `bun:"degree_centrality" json:"degreeCentrality,omitempty"`
	BetweennessCentrality *float64   `bun:"betweenness_centrality" json:"betweennessCentrality,omitempty"`
	ClosenessCentrality   *float64   `bun:"closeness_centrality" json:"closenessCentrality,omitempty"`
	PagerankScore         *float64   `bun:"pagerank_score" json:"pagerankScore,omitempty"`
	ClusterID             *uuid.UUID `bun:"cluster_id,type:uuid" json:"clusterId,omitempty"`
	CommunityID           *uuid.UUID `bun:"community_id,type:uuid" json:"communityId,omitempty"`

	IsActive        bool       `bun:"is_active,notnull,default:true" json:"isActive"`
	ConfidenceScore *float64   `bun:"confidence_score" json:"confidenceScore,omitempty"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	CreatedBy       *uuid.UUID `bun:"created_by,type:uuid" json:"createdBy,omitempty"`
	UpdatedBy       *uuid.UUID `bun:"updated_by,type:uuid" json:"updatedBy,omitempty"`
}

// Edge is a typed relationship between two nodes of the same tenant.
type Edge struct {
	bun.BaseModel `bun:"table:kb.graph_edges,alias:e"`

	ID              uuid.UUID  `bun:"id,pk,type:uuid,default:gen_random_uuid()" json:"id"`
	TenantID        uuid.UUID  `bun:"tenant_id,type:uuid,notnull" json:"tenantId"`
	SourceNodeID    uuid.UUID  `bun:"source_node_id,type:uuid,notnull" json:"sourceNodeId"`
	TargetNodeID    uuid.UUID  `bun:"target_node_id,type:uuid,notnull" json:"targetNodeId"`
	EdgeType        EdgeType   `bun:"edge_type,notnull" json:"edgeType"`
	Label           *string    `bun:"label" json:"label,omitempty"`
	Description     *string    `bun:"description" json:"description,omitempty"`
	Properties      Properties `bun:"properties,type:jsonb,notnull,default:'{}'" json:"properties"`
	Weight          float64    `bun:"weight,notnull,default:1.0" json:"weight"`
	IsBidirectional bool       `bun:"is_bidirectional,notnull,default:false" json:"isBidirectional"`
	ValidFrom       *time.Time `bun:"valid_from" json:"validFrom,omitempty"`
	ValidTo         *time.Time `bun:"valid_to" json:"validTo,omitempty"`
	SourceSystem    *string    `bun:"source_system" json:"sourceSystem,omitempty"`
	InferenceMethod *string    `bun:"inference_method" json:"inferenceMethod,omitempty"`
	ConfidenceScore *float64   `bun:"confidence_score" json:"confidenceScore,omitempty"`
	IsActive        bool       `bun:"is_active,notnull,default:true" json:"isActive"`
	CreatedAt       time.Time  `bun:"created_at,notnull,default:now()" json:"createdAt"`
	UpdatedAt       time.Time  `bun:"updated_at,notnull,default:now()" json:"updatedAt"`
	CreatedBy       *uuid.UUID `bun:"created_by,type:uuid" json:"createdBy,omitempty"`
	UpdatedBy       *uuid.UUID `bun:"updated_by,type:uuid" json:"updatedBy,omitempty"`
}

// Other returns the endpoint opposite to id.
func (e *Edge) Other(id uuid.UUID) uuid.UUID {
	if e.SourceNodeID == id {
		return e.TargetNodeID
	}
	return e.SourceNodeID
}

// Touches reports whether either endpoint is id.
func (e *Edge) Touches(id uuid.UUID) bool {
	return e.SourceNodeID == id || e.TargetNodeID == id
}

// Direction selects which edges are followed during expansion.
type Direction string

const (
	DirectionOutgoing Direction = "outgoing"
	DirectionIncoming Direction = "incoming"
	DirectionBoth     Direction = "both"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	switch d {
	case DirectionOutgoing, DirectionIncoming, DirectionBoth:
		return true
	}
	return false
}

// next returns the neighbor reached from id over e in direction d.
// Bidirectional edges are followed either way.
func (d Direction) next(e *Edge, id uuid.UUID) (uuid.UUID, bool) {
	switch {
	case d == DirectionBoth || e.IsBidirectional:
		if e.Touches(id) {
			return e.Other(id), true
		}
	case d == DirectionOutgoing:
		if e.SourceNodeID == id {
			return e.TargetNodeID, true
		}
	case d == DirectionIncoming:
		if e.TargetNodeID == id {
			return e.SourceNodeID, true
		}
	}
	return uuid.Nil, false
}
