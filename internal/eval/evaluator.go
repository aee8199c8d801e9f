// Package eval wraps the Pkl evaluator for wavekit's two file formats:
// the project settings module and serialized state.
package eval

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/apple/pkl-go/pkl"

	"github.com/wavekit-io/wavekit/internal/ir"
)

// Evaluator handles Pkl evaluation into IR types.
type Evaluator struct {
	projectDir string
}

func NewEvaluator(projectDir string) *Evaluator {
	return &Evaluator{
		projectDir: projectDir,
	}
}

// LoadSettings evaluates a settings module (wavekit.pkl) into IR
// settings. Relative entry points are resolved against the project
// directory; external properties are visible to the module via read().
func (e *Evaluator) LoadSettings(ctx context.Context, entryPoint string, properties map[string]string) (*ir.Settings, error) {
	if !filepath.IsAbs(entryPoint) {
		entryPoint = filepath.Join(e.projectDir, entryPoint)
	}

	opts := []func(*pkl.EvaluatorOptions){pkl.PreconfiguredOptions}
	if len(properties) > 0 {
		opts = append(opts, func(o *pkl.EvaluatorOptions) {
			if o.Properties == nil {
				o.Properties = make(map[string]string)
			}
			for k, v := range properties {
				o.Properties[k] = v
			}
		})
	}

	evaluator, err := pkl.NewEvaluator(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pkl evaluator: %w", err)
	}
	defer evaluator.Close()

	var settings ir.Settings
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(entryPoint), &settings); err != nil {
		return nil, fmt.Errorf("failed to evaluate settings: %w", err)
	}

	return &settings, nil
}

// LoadState evaluates a state file and returns the IR.
func (e *Evaluator) LoadState(ctx context.Context, stateFile string) (*ir.State, error) {
	evaluator, err := pkl.NewEvaluator(ctx, pkl.PreconfiguredOptions)
	if err != nil {
		return nil, fmt.Errorf("failed to create Pkl evaluator: %w", err)
	}
	defer evaluator.Close()

	var state ir.State
	if err := evaluator.EvaluateModule(ctx, pkl.FileSource(stateFile), &state); err != nil {
		return nil, fmt.Errorf("failed to evaluate state: %w", err)
	}

	return &state, nil
}
