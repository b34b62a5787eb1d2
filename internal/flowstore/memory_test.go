package flowstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"

	"github.com/flexinfer/mentatlab/services/pipeline-go/pkg/types"
)

func sampleGraph() *types.FlowGraph {
	return &types.FlowGraph{
		Nodes: []types.FlowNode{{ID: "A", Label: "CollectInstances"}, {ID: "B", Label: "ValidateClosestPoint"}},
		Edges: []types.FlowEdge{{Source: "A", Target: "B"}},
	}
}

func TestMemoryStore_Create(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	t.Run("creates new flow", func(t *testing.T) {
		req := &CreateFlowRequest{
			Name:        "Validate scene",
			Description: "Collect and validate",
			Graph:       sampleGraph(),
			Params:      types.Params{"closestPointParams": json.RawMessage(`{"distanceThreshold":0.5}`)},
		}

		flow, err := store.Create(ctx, req)
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}

		if flow.ID == "" {
			t.Error("expected ID to be generated")
		}
		if flow.Name != req.Name {
			t.Errorf("expected Name %q, got %q", req.Name, flow.Name)
		}
		if flow.Version != 1 {
			t.Errorf("expected version 1, got %d", flow.Version)
		}
		if flow.CreatedAt.IsZero() || flow.UpdatedAt.IsZero() {
			t.Error("timestamps should be set")
		}

		sub := flow.Submission()
		if len(sub.Flow.Nodes) != 2 || string(sub.Params["closestPointParams"]) != `{"distanceThreshold":0.5}` {
			t.Errorf("unexpected submission: %+v", sub)
		}
	})

	t.Run("creates flow with custom ID", func(t *testing.T) {
		flow, err := store.Create(ctx, &CreateFlowRequest{ID: "custom-flow-id", Name: "Custom", Graph: sampleGraph()})
		if err != nil {
			t.Fatalf("Create failed: %v", err)
		}
		if flow.ID != "custom-flow-id" {
			t.Errorf("expected ID %q, got %q", "custom-flow-id", flow.ID)
		}
	})

	t.Run("returns error for duplicate ID", func(t *testing.T) {
		req := &CreateFlowRequest{ID: "duplicate-flow", Name: "Duplicate", Graph: sampleGraph()}
		if _, err := store.Create(ctx, req); err != nil {
			t.Fatalf("First create failed: %v", err)
		}
		if _, err := store.Create(ctx, req); !errors.Is(err, ErrFlowExists) {
			t.Errorf("expected ErrFlowExists, got %v", err)
		}
	})

	t.Run("validates required fields", func(t *testing.T) {
		tests := []struct {
			name string
			req  *CreateFlowRequest
		}{
			{"missing Name", &CreateFlowRequest{Graph: sampleGraph()}},
			{"missing Graph", &CreateFlowRequest{Name: "Test"}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				if _, err := store.Create(ctx, tt.req); !errors.Is(err, ErrInvalidFlow) {
					t.Errorf("expected ErrInvalidFlow, got %v", err)
				}
			})
		}
	})
}

func TestMemoryStore_Get(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	created, _ := store.Create(ctx, &CreateFlowRequest{ID: "get-test-flow", Name: "Get", Graph: sampleGraph()})

	t.Run("gets existing flow", func(t *testing.T) {
		flow, err := store.Get(ctx, "get-test-flow")
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if flow.ID != created.ID {
			t.Errorf("expected ID %q, got %q", created.ID, flow.ID)
		}
	})

	t.Run("returned copy is detached", func(t *testing.T) {
		flow, _ := store.Get(ctx, "get-test-flow")
		flow.Name = "mutated"
		again, _ := store.Get(ctx, "get-test-flow")
		if again.Name == "mutated" {
			t.Error("store was mutated through Get result")
		}
	})

	t.Run("returns error for non-existent flow", func(t *testing.T) {
		if _, err := store.Get(ctx, "non-existent"); !errors.Is(err, ErrFlowNotFound) {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Update(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.Create(ctx, &CreateFlowRequest{
		ID:          "update-test-flow",
		Name:        "Update Test Flow",
		Description: "Original description",
		Graph:       sampleGraph(),
	})

	t.Run("updates existing flow", func(t *testing.T) {
		newName := "Updated Name"
		newDesc := "Updated description"

		flow, err := store.Update(ctx, "update-test-flow", &UpdateFlowRequest{Name: &newName, Description: &newDesc})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if flow.Name != newName || flow.Description != newDesc {
			t.Errorf("unexpected flow after update: %+v", flow)
		}
		if flow.Version != 2 {
			t.Errorf("expected version 2, got %d", flow.Version)
		}
		if len(flow.Graph.Nodes) != 2 {
			t.Error("graph must be left unchanged")
		}
	})

	t.Run("updates graph and params", func(t *testing.T) {
		graph := &types.FlowGraph{Nodes: []types.FlowNode{{ID: "n1", Label: "TestCreateCube"}}}
		params := types.Params{"isolatedVertexParams": json.RawMessage(`[]`)}

		flow, err := store.Update(ctx, "update-test-flow", &UpdateFlowRequest{Graph: graph, Params: params})
		if err != nil {
			t.Fatalf("Update failed: %v", err)
		}
		if len(flow.Graph.Nodes) != 1 || flow.Graph.Nodes[0].ID != "n1" {
			t.Errorf("expected updated graph, got %+v", flow.Graph)
		}
		if _, ok := flow.Params["isolatedVertexParams"]; !ok {
			t.Errorf("expected updated params, got %v", flow.Params)
		}
	})

	t.Run("returns error for non-existent flow", func(t *testing.T) {
		if _, err := store.Update(ctx, "non-existent", &UpdateFlowRequest{}); !errors.Is(err, ErrFlowNotFound) {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_Delete(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	store.Create(ctx, &CreateFlowRequest{ID: "delete-test-flow", Name: "Delete", Graph: sampleGraph()})

	t.Run("deletes existing flow", func(t *testing.T) {
		if err := store.Delete(ctx, "delete-test-flow"); err != nil {
			t.Fatalf("Delete failed: %v", err)
		}
		if _, err := store.Get(ctx, "delete-test-flow"); !errors.Is(err, ErrFlowNotFound) {
			t.Error("flow should be deleted")
		}
	})

	t.Run("returns error for non-existent flow", func(t *testing.T) {
		if err := store.Delete(ctx, "non-existent"); !errors.Is(err, ErrFlowNotFound) {
			t.Errorf("expected ErrFlowNotFound, got %v", err)
		}
	})
}

func TestMemoryStore_List(t *testing.T) {
	store := NewMemoryStore()
	defer store.Close()
	ctx := context.Background()

	for _, f := range []CreateFlowRequest{
		{ID: "flow1", Name: "Flow 1", Graph: sampleGraph(), CreatedBy: "user1"},
		{ID: "flow2", Name: "Flow 2", Graph: sampleGraph(), CreatedBy: "user2"},
		{ID: "flow3", Name: "Flow 3", Graph: sampleGraph(), CreatedBy: "user1"},
	} {
		req := f
		store.Create(ctx, &req)
	}

	t.Run("lists all flows in creation order", func(t *testing.T) {
		list, err := store.List(ctx, nil)
		if err != nil {
			t.Fatalf("List failed: %v", err)
		}
		if len(list) != 3 {
			t.Fatalf("expected 3 flows, got %d", len(list))
		}
		for i := 1; i < len(list); i++ {
			if list[i].CreatedAt.Before(list[i-1].CreatedAt) {
				t.Errorf("flows out of order at %d", i)
			}
		}
	})

	t.Run("filters by creator", func(t *testing.T) {
		list, _ := store.List(ctx, &ListOptions{CreatedBy: "user1"})
		if len(list) != 2 {
			t.Errorf("expected 2 flows by user1, got %d", len(list))
		}
	})

	t.Run("applies limit and offset", func(t *testing.T) {
		if list, _ := store.List(ctx, &ListOptions{Limit: 2}); len(list) != 2 {
			t.Errorf("expected 2 flows with limit, got %d", len(list))
		}
		if list, _ := store.List(ctx, &ListOptions{Offset: 1}); len(list) != 2 {
			t.Errorf("expected 2 flows with offset, got %d", len(list))
		}
		if list, _ := store.List(ctx, &ListOptions{Offset: 5}); len(list) != 0 {
			t.Errorf("expected no flows past the end, got %d", len(list))
		}
	})
}

func TestMemoryStore_ListAfterDelete(t *testing.T) {
	store := NewMemoryStore()
	ctx := context.Background()

	for _, id := range []string{"a", "b", "c"} {
		if _, err := store.Create(ctx, &CreateFlowRequest{ID: id, Name: id, Graph: sampleGraph()}); err != nil {
			t.Fatalf("Create %s failed: %v", id, err)
		}
	}
	if err := store.Delete(ctx, "b"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	if _, err := store.Create(ctx, &CreateFlowRequest{ID: "b", Name: "again", Graph: sampleGraph()}); err != nil {
		t.Fatalf("re-Create failed: %v", err)
	}

	list, _ := store.List(ctx, nil)
	var ids []string
	for _, f := range list {
		ids = append(ids, f.ID)
	}
	if got := strings.Join(ids, ","); got != "a,c,b" {
		t.Errorf("order = %s, want a,c,b", got)
	}
}
