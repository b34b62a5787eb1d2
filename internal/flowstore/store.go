// Package flowstore persists saved pipeline flows so they can be re-run by id.
package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

// Common errors returned by FlowStore implementations.
var (
	ErrFlowNotFound = errors.New("flow not found")
	ErrFlowExists   = errors.New("flow already exists")
	ErrInvalidFlow  = errors.New("invalid flow")
)

// Flow is a saved pipeline: the editor graph plus the parameters it runs with.
type Flow struct {
	ID          string          `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Version     int             `json:"version"`
	Graph       types.FlowGraph `json:"graph"`
	Params      types.Params    `json:"params,omitempty"`
	Layout      json.RawMessage `json:"layout,omitempty"` // editor node positions, opaque here
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CreatedBy   string          `json:"created_by,omitempty"`
}

// Submission returns the run submission for the saved flow.
func (f *Flow) Submission() *types.SubmitRequest {
	return &types.SubmitRequest{Flow: f.Graph, Params: f.Params}
}

// CreateFlowRequest is the input for creating a new flow.
type CreateFlowRequest struct {
	ID          string           `json:"id,omitempty"` // Optional, auto-generated if empty
	Name        string           `json:"name"`
	Description string           `json:"description,omitempty"`
	Graph       *types.FlowGraph `json:"graph"`
	Params      types.Params     `json:"params,omitempty"`
	Layout      json.RawMessage  `json:"layout,omitempty"`
	CreatedBy   string           `json:"created_by,omitempty"`
}

// UpdateFlowRequest is the input for updating an existing flow.
// Nil fields are left unchanged.
type UpdateFlowRequest struct {
	Name        *string          `json:"name,omitempty"`
	Description *string          `json:"description,omitempty"`
	Graph       *types.FlowGraph `json:"graph,omitempty"`
	Params      types.Params     `json:"params,omitempty"`
	Layout      json.RawMessage  `json:"layout,omitempty"`
}

// ListOptions configures list queries.
type ListOptions struct {
	Limit     int
	Offset    int
	CreatedBy string // Filter by creator
}

// FlowStore defines the interface for flow persistence.
// Implementations must be safe for concurrent use.
type FlowStore interface {
	// Create saves a new flow. Returns ErrFlowExists if ID is taken.
	Create(ctx context.Context, req *CreateFlowRequest) (*Flow, error)

	// Get retrieves a flow by ID. Returns ErrFlowNotFound if not found.
	Get(ctx context.Context, id string) (*Flow, error)

	// Update modifies an existing flow and bumps its version. Returns ErrFlowNotFound if not found.
	Update(ctx context.Context, id string, req *UpdateFlowRequest) (*Flow, error)

	// Delete removes a flow. Returns ErrFlowNotFound if not found.
	Delete(ctx context.Context, id string) error

	// List returns flows matching the options, oldest first.
	List(ctx context.Context, opts *ListOptions) ([]*Flow, error)

	// Close releases any resources.
	Close() error
}

// Validate checks if a CreateFlowRequest is valid.
func (r *CreateFlowRequest) Validate() error {
	if r.Name == "" {
		return fmt.Errorf("%w: name is required", ErrInvalidFlow)
	}
	if r.Graph == nil {
		return fmt.Errorf("%w: graph is required", ErrInvalidFlow)
	}
	return nil
}

func newFlow(id string, req *CreateFlowRequest) *Flow {
	now := time.Now().UTC()
	return &Flow{
		ID:          id,
		Name:        req.Name,
		Description: req.Description,
		Version:     1,
		Graph:       *req.Graph,
		Params:      req.Params,
		Layout:      req.Layout,
		CreatedAt:   now,
		UpdatedAt:   now,
		CreatedBy:   req.CreatedBy,
	}
}

// apply merges an update into flow.
func (req *UpdateFlowRequest) apply(flow *Flow) {
	if req.Name != nil {
		flow.Name = *req.Name
	}
	if req.Description != nil {
		flow.Description = *req.Description
	}
	if req.Graph != nil {
		flow.Graph = *req.Graph
	}
	if req.Params != nil {
		flow.Params = req.Params
	}
	if req.Layout != nil {
		flow.Layout = req.Layout
	}
	flow.Version++
	flow.UpdatedAt = time.Now().UTC()
}

func (o *ListOptions) matches(f *Flow) bool {
	return o.CreatedBy == "" || f.CreatedBy == o.CreatedBy
}

// page applies offset and limit.
func page(flows []*Flow, opts *ListOptions) []*Flow {
	if opts.Offset > 0 {
		if opts.Offset >= len(flows) {
			return []*Flow{}
		}
		flows = flows[opts.Offset:]
	}
	if opts.Limit > 0 && opts.Limit < len(flows) {
		flows = flows[:opts.Limit]
	}
	return flows
}
