package static

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/wavekit-io/wavekit/internal/provider"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Provider conformance test suite.
// These tests verify that a provider correctly implements the full lifecycle:
// Configure -> Plan (CREATE) -> Apply -> Read -> Plan (NOOP) -> Plan (REPLACE) -> Apply -> Delete

func TestConformance_FullLifecycle(t *testing.T) {
	ctx := context.Background()
	p := New()

	// 1. Configure
	configResp, err := p.Configure(ctx, &provider.ConfigureRequest{})
	require.NoError(t, err)
	assert.Empty(t, configResp.Diagnostics)

	// 2. Plan (CREATE) - no prior state
	desired := map[string]any{"triggers": map[string]string{"key": "value"}}
	desiredJSON, _ := json.Marshal(desired)

	planResp, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: desiredJSON,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionCreate, planResp.Action)

	// 3. Apply
	applyResp, err := p.Apply(ctx, &provider.ApplyRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: desiredJSON,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, applyResp.NewStateJson)

	var state map[string]any
	require.NoError(t, json.Unmarshal(applyResp.NewStateJson, &state))
	assert.NotEmpty(t, state["id"])

	// 4. Read
	readResp, err := p.Read(ctx, &provider.ReadRequest{
		Type:             "static:Value",
		Id:               state["id"].(string),
		CurrentStateJson: applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.True(t, readResp.Exists)

	// 5. Plan (NOOP) - same desired as current
	planResp2, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: desiredJSON,
		PriorStateJson:    applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionNoop, planResp2.Action)

	// 6. Plan (REPLACE) - changed triggers
	newDesired := map[string]any{"triggers": map[string]string{"key": "new-value"}}
	newDesiredJSON, _ := json.Marshal(newDesired)

	planResp3, err := p.Plan(ctx, &provider.PlanRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: newDesiredJSON,
		PriorStateJson:    applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.Equal(t, provider.ActionReplace, planResp3.Action)

	// 7. Apply update
	applyResp2, err := p.Apply(ctx, &provider.ApplyRequest{
		Type:              "static:Value",
		Name:              "test",
		DesiredConfigJson: newDesiredJSON,
		PriorStateJson:    applyResp.NewStateJson,
	})
	require.NoError(t, err)
	assert.NotEmpty(t, applyResp2.NewStateJson)

	// 8. Delete
	deleteResp, err := p.Delete(ctx, &provider.DeleteRequest{
		Type:             "static:Value",
		Id:               state["id"].(string),
		CurrentStateJson: applyResp2.NewStateJson,
	})
	require.NoError(t, err)
	assert.NotNil(t, deleteResp)
}

func TestConformance_ConfigureIdempotent(t *testing.T) {
	ctx := context.Background()
	p := New()

	// Configure should be idempotent
	for i := 0; i < 3; i++ {
		resp, err := p.Configure(ctx, &provider.ConfigureRequest{})
		require.NoError(t, err)
		assert.Empty(t, resp.Diagnostics)
	}
}

func TestRegistry_LoadStatic(t *testing.T) {
	reg := provider.NewRegistry()
	require.NoError(t, reg.LoadProvider("static"))

	p, err := reg.Get("static")
	require.NoError(t, err)
	assert.NotNil(t, p)

	_, err = reg.Get("missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "provider not loaded")

	err = reg.LoadProvider("bogus")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown provider")
}
