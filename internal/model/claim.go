package model

import "time"

// Claim is a proposition an agent puts forward for verification.
type Claim struct {
	ID          string    `json:"id"`
	AuthorID    string    `json:"author_id"`
	Title       string    `json:"title"`
	Statement   string    `json:"statement"`
	Confidence  float64   `json:"confidence"`
	Assumptions []string  `json:"assumptions,omitempty"`
	ScopeDomain string    `json:"scope_domain"`
	Tags        []string  `json:"tags,omitempty"`
	Status      string    `json:"status"`
	CreatedAt   time.Time `json:"created_at"`
}

// Claim defaults.
const (
	DefaultClaimConfidence = 0.5
	DefaultClaimDomain     = "general"
	DefaultClaimStatus     = "draft"
)

// EdgeType is the relationship one claim has to another.
type EdgeType string

const (
	EdgeSupports     EdgeType = "SUPPORTS"
	EdgeContradicts  EdgeType = "CONTRADICTS"
	EdgeRefines      EdgeType = "REFINES"
	EdgeDependsOn    EdgeType = "DEPENDS_ON"
	EdgeEquivalentTo EdgeType = "EQUIVALENT_TO"
)

// IsValid checks whether the edge type is a known value.
func (e EdgeType) IsValid() bool {
	switch e {
	case EdgeSupports, EdgeContradicts, EdgeRefines, EdgeDependsOn, EdgeEquivalentTo:
		return true
	}
	return false
}

// DefaultEdgeWeight is applied when an edge is created without a weight.
const DefaultEdgeWeight = 0.5

// Edge links two claims.
type Edge struct {
	ID            string    `json:"id"`
	AuthorID      string    `json:"author_id"`
	FromClaimID   string    `json:"from_claim_id"`
	ToClaimID     string    `json:"to_claim_id"`
	Type          EdgeType  `json:"type"`
	Justification string    `json:"justification,omitempty"`
	Weight        float64   `json:"weight"`
	CreatedAt     time.Time `json:"created_at"`
}
