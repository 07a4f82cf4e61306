package semantic

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/emergent-company/entitygraph/domain/graph"
)

// NodeContext is the text embedded for a node: label, description and tags.
func NodeContext(n *graph.Node) string {
	parts := []string{n.Label}
	if n.Description != nil && strings.TrimSpace(*n.Description) != "" {
		parts = append(parts, strings.TrimSpace(*n.Description))
	}
	if len(n.Tags) > 0 {
		parts = append(parts, "Tags: "+strings.Join(n.Tags, ", "))
	}
	return strings.Join(parts, "\n")
}

// EdgeContext is the text embedded for an edge: type, label and description.
func EdgeContext(e *graph.Edge) string {
	parts := []string{string(e.EdgeType)}
	if e.Label != nil && strings.TrimSpace(*e.Label) != "" {
		parts = append(parts, strings.TrimSpace(*e.Label))
	}
	if e.Description != nil && strings.TrimSpace(*e.Description) != "" {
		parts = append(parts, strings.TrimSpace(*e.Description))
	}
	return strings.Join(parts, "\n")
}

// ContentHash is the hex SHA-256 of the context text.
func ContentHash(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
