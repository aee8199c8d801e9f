package static

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wavekit-io/wavekit/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProvider_Plan(t *testing.T) {
	p := New()
	ctx := context.Background()

	// 1. Create plan (new resource)
	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: desiredJSON,
		PriorStateJson:    nil,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionCreate, resp.Action)

	// 2. No-op plan (same triggers)
	state := State{
		ID:       "static-test",
		Triggers: desired.Triggers,
	}
	stateJSON, _ := json.Marshal(state)

	resp, err = p.Plan(ctx, &provider.PlanRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: desiredJSON,
		PriorStateJson:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoop, resp.Action)

	// 3. Changed triggers force a replace
	newDesired := Config{Triggers: map[string]string{"foo": "baz"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	resp, err = p.Plan(ctx, &provider.PlanRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: newDesiredJSON,
		PriorStateJson:    stateJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionReplace, resp.Action)
	assert.Contains(t, resp.ChangedAttributes, "triggers")
}

func TestProvider_Apply(t *testing.T) {
	p := New()
	ctx := context.Background()

	desired := Config{Triggers: map[string]string{"foo": "bar"}}
	desiredJSON, _ := json.Marshal(desired)

	resp, err := p.Apply(ctx, &provider.ApplyRequest{
		Name:              "test",
		DesiredConfigJson: desiredJSON,
	})
	require.NoError(t, err)

	var newState State
	err = json.Unmarshal(resp.NewStateJson, &newState)
	require.NoError(t, err)
	assert.Equal(t, "static-test", newState.ID)
	assert.Equal(t, "bar", newState.Triggers["foo"])
}
