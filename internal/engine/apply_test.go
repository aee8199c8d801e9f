package engine

import (
	"context"
	"sync"
	"testing"

	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/wavekit-io/wavekit/internal/provider"
	_ "github.com/wavekit-io/wavekit/providers/static"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestApplyPlan_Create(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.test1",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "test1",
					Provider: "static",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
	}

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	require.Len(t, newState.Resources, 1)
	assert.Equal(t, "static:Value", newState.Resources[0].Type)
	assert.Equal(t, "test1", newState.Resources[0].Name)
	assert.Equal(t, "static-test1", newState.Resources[0].Outputs["id"])
	assert.Equal(t, 1, newState.Serial)
}

func TestApplyPlan_Delete(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.test1",
				Action:  "DELETE",
				Prior: &ir.Resource{
					Type:     "static:Value",
					Name:     "test1",
					Provider: "static",
				},
			},
		},
		Summary: &ir.PlanSummary{Delete: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "static:Value",
				Name:     "test1",
				Provider: "static",
				Outputs:  map[string]any{"id": "static-test1"},
			},
		},
	}

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	assert.Len(t, newState.Resources, 0)
}

func TestApplyPlan_Update_NoDuplicates(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.test1",
				Action:  "REPLACE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "test1",
					Provider: "static",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "new_value"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Replace: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type:     "static:Value",
				Name:     "test1",
				Provider: "static",
				Outputs:  map[string]any{"id": "static-test1", "triggers": map[string]any{"a": "old_value"}},
			},
		},
	}

	newState, err := eng.ApplyPlan(ctx, plan, state)
	require.NoError(t, err)
	// Should still have exactly 1 resource, not 2 (no duplicate)
	assert.Len(t, newState.Resources, 1)
	assert.Equal(t, "static-test1", newState.Resources[0].Outputs["id"])
}

func TestApplyPlan_ProgressCallback(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.test1",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "test1",
					Provider: "static",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	var events []ApplyEvent
	callback := func(event ApplyEvent) {
		events = append(events, event)
	}

	_, err := eng.ApplyPlanWithCallback(ctx, plan, state, callback)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, "started", events[0].Status)
	assert.Equal(t, "completed", events[1].Status)
	assert.Equal(t, "static:Value.test1", events[0].Address)
}

func TestApplyPlan_ContinueOnError(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	eng.ContinueOnError = true
	ctx := context.Background()

	// Two independent resources: one valid, one with an unloaded provider
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.good",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "good",
					Provider: "static",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
			{
				Address: "static:Value.bad",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "bad",
					Provider: "nonexistent",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 2},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	newState, err := eng.ApplyPlanWithCallback(ctx, plan, state, nil)
	// Should get an error about the bad resource
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed")
	// The good resource should still have been applied
	assert.GreaterOrEqual(t, len(newState.Resources), 1)
}

func TestApplyPlan_FailFastByDefault(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	// ContinueOnError is false by default
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.bad",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "bad",
					Provider: "nonexistent",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{},
	}

	state := &ir.State{Version: 1}

	_, err := eng.ApplyPlan(ctx, plan, state)
	require.Error(t, err)
}

func TestApplyPlan_ResolveReferences(t *testing.T) {
	state := &ir.State{
		Resources: []*ir.ResourceState{
			{
				Type:     "static:Value",
				Name:     "test",
				Provider: "static",
				Outputs:  map[string]any{"id": "static-test", "value": "resolved"},
			},
		},
	}

	// Resolving a ptr:// reference against outputs
	result := resolveReferences("ptr://static:Value/test/id", state)
	assert.Equal(t, "static-test", result)

	result = resolveReferences("ptr://static:Value/test/value", state)
	assert.Equal(t, "resolved", result)

	// Non-reference stays unchanged
	result = resolveReferences("plain-string", state)
	assert.Equal(t, "plain-string", result)

	// Nested map resolution
	result = resolveReferences(map[string]any{
		"ref":  "ptr://static:Value/test/id",
		"name": "test",
	}, state)
	m, ok := result.(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "static-test", m["ref"])
	assert.Equal(t, "test", m["name"])

	// List resolution
	result = resolveReferences([]any{
		"ptr://static:Value/test/id",
		"literal",
	}, state)
	list, ok := result.([]any)
	require.True(t, ok)
	assert.Equal(t, "static-test", list[0])
	assert.Equal(t, "literal", list[1])
}

func TestApplyPlan_OutputsResolved(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.test1",
				Action:  "CREATE",
				Desired: &ir.Resource{
					Type:     "static:Value",
					Name:     "test1",
					Provider: "static",
					Properties: map[string]any{
						"triggers": map[string]any{"a": "b"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Create: 1},
		Outputs: map[string]any{
			"valueId": "ptr://static:Value/test1/id",
			"label":   "fixed",
		},
	}

	newState, err := eng.ApplyPlan(ctx, plan, &ir.State{Version: 1})
	require.NoError(t, err)
	// The reference resolves to the attribute produced by the apply.
	assert.Equal(t, "static-test1", newState.Outputs["valueId"])
	assert.Equal(t, "fixed", newState.Outputs["label"])
}

func TestApplyPlan_DeleteOrder(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	// vm depends on net, so vm's delete has to finish before net's starts.
	// The changes are listed net-first to prove ordering comes from the
	// recorded dependencies, not slice order.
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.net",
				Action:  "DELETE",
				Prior:   &ir.Resource{Type: "static:Value", Name: "net", Provider: "static"},
			},
			{
				Address: "static:Value.vm",
				Action:  "DELETE",
				Prior:   &ir.Resource{Type: "static:Value", Name: "vm", Provider: "static"},
			},
		},
		Summary: &ir.PlanSummary{Delete: 2},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{
				Type: "static:Value", Name: "net", Provider: "static",
				Outputs: map[string]any{"id": "static-net"},
			},
			{
				Type: "static:Value", Name: "vm", Provider: "static",
				Outputs:      map[string]any{"id": "static-vm"},
				Dependencies: []string{"static:Value.net"},
			},
		},
	}

	var evMu sync.Mutex
	var events []ApplyEvent
	callback := func(event ApplyEvent) {
		evMu.Lock()
		events = append(events, event)
		evMu.Unlock()
	}

	newState, err := eng.ApplyPlanWithCallback(ctx, plan, state, callback)
	require.NoError(t, err)
	assert.Len(t, newState.Resources, 0)

	vmCompleted, netStarted := -1, -1
	for i, ev := range events {
		if ev.Address == "static:Value.vm" && ev.Status == "completed" {
			vmCompleted = i
		}
		if ev.Address == "static:Value.net" && ev.Status == "started" {
			netStarted = i
		}
	}
	require.NotEqual(t, -1, vmCompleted)
	require.NotEqual(t, -1, netStarted)
	assert.Less(t, vmCompleted, netStarted)
}

func TestApplyPlan_DeleteOrder_FromPriorRefs(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	eng := NewEngine(reg)
	ctx := context.Background()

	// No recorded dependencies: ordering falls back to the ptr refs in
	// the deleted resource's inputs.
	plan := &ir.Plan{
		Changes: []*ir.ResourceChange{
			{
				Address: "static:Value.net",
				Action:  "DELETE",
				Prior:   &ir.Resource{Type: "static:Value", Name: "net", Provider: "static"},
			},
			{
				Address: "static:Value.vm",
				Action:  "DELETE",
				Prior: &ir.Resource{
					Type: "static:Value", Name: "vm", Provider: "static",
					Properties: map[string]any{
						"triggers": map[string]any{"net": "ptr://static:Value/net/id"},
					},
				},
			},
		},
		Summary: &ir.PlanSummary{Delete: 2},
		Outputs: map[string]any{},
	}

	state := &ir.State{
		Version: 1,
		Resources: []*ir.ResourceState{
			{Type: "static:Value", Name: "net", Provider: "static", Outputs: map[string]any{"id": "static-net"}},
			{Type: "static:Value", Name: "vm", Provider: "static", Outputs: map[string]any{"id": "static-vm"}},
		},
	}

	var evMu sync.Mutex
	var events []ApplyEvent
	callback := func(event ApplyEvent) {
		evMu.Lock()
		events = append(events, event)
		evMu.Unlock()
	}

	newState, err := eng.ApplyPlanWithCallback(ctx, plan, state, callback)
	require.NoError(t, err)
	assert.Len(t, newState.Resources, 0)

	vmCompleted, netStarted := -1, -1
	for i, ev := range events {
		if ev.Address == "static:Value.vm" && ev.Status == "completed" {
			vmCompleted = i
		}
		if ev.Address == "static:Value.net" && ev.Status == "started" {
			netStarted = i
		}
	}
	require.NotEqual(t, -1, vmCompleted)
	require.NotEqual(t, -1, netStarted)
	assert.Less(t, vmCompleted, netStarted)
}
