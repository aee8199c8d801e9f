package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/engine"
	"github.com/wavekit-io/wavekit/internal/provider"
	"github.com/wavekit-io/wavekit/internal/stack"
)

var planCmd = &cobra.Command{
	Use:   "plan [dir]",
	Short: "Show the changes required by the current settings",
	Long: `Synthesizes the stack from the settings and diffs it against tracked
state. Nothing is created or destroyed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	fmt.Print("Loading settings... ")
	s, err := loadSettings(ctx, wd, entryPoint)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")

	stk := stack.Build(s)

	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry)

	if err := loadStackProviders(ctx, registry, stk, s); err != nil {
		return err
	}

	stateMgr, err := openStateManager(wd)
	if err != nil {
		return err
	}
	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := loadStateProviders(ctx, registry, currentState, s); err != nil {
		return err
	}

	fmt.Print("Calculating plan... ")
	plan, err := eng.CreatePlan(ctx, stk, currentState)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("plan generation failed: %w", err)
	}
	fmt.Println("OK")

	if len(plan.Changes) == 0 {
		fmt.Println("\nNo changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nWavekit will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	fmt.Println("\nRun 'wavekit deploy' to apply these changes.")
	return nil
}
