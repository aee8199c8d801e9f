// Package static implements an in-memory provider that manages no real
// infrastructure. It exists to exercise the engine in tests and dry runs:
// resources are identified by deterministic ids and re-created whenever
// their triggers change.
package static

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/wavekit-io/wavekit/internal/provider"
)

func init() {
	provider.Register("static", func() provider.Interface { return New() })
}

type Provider struct{}

func New() *Provider {
	return &Provider{}
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	var prior State
	if len(req.PriorStateJson) > 0 {
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
	}

	// New resources are created; trigger changes force a replace.
	// Deletion is driven by the engine when a resource leaves the config.
	action := provider.ActionNoop
	var changes []string

	if req.PriorStateJson == nil {
		action = provider.ActionCreate
	} else if !equal(desired.Triggers, prior.Triggers) {
		action = provider.ActionReplace
		changes = append(changes, "triggers")
	}

	return &provider.PlanResponse{
		Action:            action,
		ChangedAttributes: changes,
	}, nil
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	var desired Config
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	state := State{
		ID:       fmt.Sprintf("static-%s", req.Name),
		Triggers: desired.Triggers,
	}

	stateBytes, _ := json.Marshal(state)

	return &provider.ApplyResponse{
		NewStateJson: stateBytes,
	}, nil
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	// Nothing external to consult; the recorded state is the truth.
	return &provider.ReadResponse{
		Exists:       true,
		NewStateJson: req.CurrentStateJson,
	}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	return &provider.DeleteResponse{}, nil
}

// Config and State are the JSON shapes exchanged with the engine.
type Config struct {
	Triggers map[string]string `json:"triggers"`
}

type State struct {
	ID       string            `json:"id"`
	Triggers map[string]string `json:"triggers"`
}

func equal(a, b map[string]string) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}
