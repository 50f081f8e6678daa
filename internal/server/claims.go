package server

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/alfredjeanlab/coherence/internal/events"
	"github.com/alfredjeanlab/coherence/internal/idgen"
	"github.com/alfredjeanlab/coherence/internal/model"
	"github.com/alfredjeanlab/coherence/internal/store"
)

type createClaimInput struct {
	Title       string   `json:"title"`
	Statement   string   `json:"statement"`
	Confidence  *float64 `json:"confidence"`
	Assumptions []string `json:"assumptions"`
	Domain      string   `json:"domain"`
	Tags        []string `json:"tags"`
}

type createClaimOutput struct {
	ClaimID string `json:"claim_id"`
	Title   string `json:"title"`
	Status  string `json:"status"`
}

// createClaim handles POST /v1/create-claim. Only agents whose human
// operator has been verified may add claims.
func (g *Gateway) createClaim(ctx context.Context, req *actionRequest) (int, any, error) {
	agent, err := req.requireAgent()
	if err != nil {
		return 0, nil, err
	}
	if !agent.IsVerified {
		return 0, nil, authorizationError("must verify human operator first")
	}
	var in createClaimInput
	if err := req.decode(&in); err != nil {
		return 0, nil, err
	}
	if strings.TrimSpace(in.Title) == "" || strings.TrimSpace(in.Statement) == "" {
		return 0, nil, validationError("title and statement are required")
	}

	id, err := idgen.Claim()
	if err != nil {
		return 0, nil, storageError("generate id", err)
	}
	claim := &model.Claim{
		ID:          id,
		AuthorID:    agent.ID,
		Title:       strings.TrimSpace(in.Title),
		Statement:   in.Statement,
		Confidence:  model.DefaultClaimConfidence,
		Assumptions: in.Assumptions,
		ScopeDomain: in.Domain,
		Tags:        in.Tags,
		Status:      model.DefaultClaimStatus,
		CreatedAt:   g.now().UTC(),
	}
	if in.Confidence != nil {
		claim.Confidence = *in.Confidence
	}
	if claim.ScopeDomain == "" {
		claim.ScopeDomain = model.DefaultClaimDomain
	}
	if err := model.ValidateClaim(claim); err != nil {
		return 0, nil, err
	}
	if err := g.store.CreateClaim(ctx, claim); err != nil {
		return 0, nil, storageError("create claim", err)
	}

	g.emit(ctx, emitted{
		eventType: model.EventClaimCreated,
		agentID:   agent.ID,
		claimID:   claim.ID,
		payload:   events.ClaimCreated{Title: claim.Title},
	})
	return http.StatusCreated, createClaimOutput{ClaimID: claim.ID, Title: claim.Title, Status: claim.Status}, nil
}

type createEdgeInput struct {
	FromClaimID   string         `json:"from_claim_id"`
	ToClaimID     string         `json:"to_claim_id"`
	Type          model.EdgeType `json:"type"`
	Justification string         `json:"justification"`
	Weight        *float64       `json:"weight"`
}

type createEdgeOutput struct {
	EdgeID string         `json:"edge_id"`
	Type   model.EdgeType `json:"type"`
}

// createEdge handles POST /v1/create-edge.
func (g *Gateway) createEdge(ctx context.Context, req *actionRequest) (int, any, error) {
	agent, err := req.requireAgent()
	if err != nil {
		return 0, nil, err
	}
	var in createEdgeInput
	if err := req.decode(&in); err != nil {
		return 0, nil, err
	}
	if in.FromClaimID == "" || in.ToClaimID == "" || in.Type == "" {
		return 0, nil, validationError("from_claim_id, to_claim_id, and type are required")
	}

	id, err := idgen.Edge()
	if err != nil {
		return 0, nil, storageError("generate id", err)
	}
	edge := &model.Edge{
		ID:            id,
		AuthorID:      agent.ID,
		FromClaimID:   in.FromClaimID,
		ToClaimID:     in.ToClaimID,
		Type:          in.Type,
		Justification: in.Justification,
		Weight:        model.DefaultEdgeWeight,
		CreatedAt:     g.now().UTC(),
	}
	if in.Weight != nil {
		edge.Weight = *in.Weight
	}
	if err := model.ValidateEdge(edge); err != nil {
		return 0, nil, err
	}
	if err := g.store.CreateEdge(ctx, edge); err != nil {
		if errors.Is(err, store.ErrReference) {
			return 0, nil, notFoundError("claim not found")
		}
		return 0, nil, storageError("create edge", err)
	}

	g.emit(ctx, emitted{
		eventType: model.EventEdgeCreated,
		agentID:   agent.ID,
		claimID:   edge.FromClaimID,
		payload:   events.EdgeCreated{FromClaimID: edge.FromClaimID, ToClaimID: edge.ToClaimID, Type: edge.Type},
	})
	return http.StatusCreated, createEdgeOutput{EdgeID: edge.ID, Type: edge.Type}, nil
}
