package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/engine"
	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/wavekit-io/wavekit/internal/provider"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [dir]",
	Short: "Destroy every tracked resource",
	Long: `Deletes all resources tracked in state, in reverse dependency order:
the instance is terminated before its launch template, subnets before
the VPC, and so on.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval before destroying")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	stateMgr, err := openStateManager(wd)
	if err != nil {
		return err
	}
	registry := provider.NewRegistry()
	eng := engine.NewEngine(registry)

	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	fmt.Print("Loading settings... ")
	s, err := loadSettings(ctx, wd, entryPoint)
	if err != nil {
		fmt.Println("FAILED")
		return err
	}
	fmt.Println("OK")

	fmt.Print("Reading state... ")
	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("failed to read state: %w", err)
	}
	fmt.Println("OK")

	if len(currentState.Resources) == 0 {
		fmt.Println("No resources to destroy.")
		return nil
	}

	if err := loadStateProviders(ctx, registry, currentState, s); err != nil {
		return err
	}

	// Planning against an empty stack turns every tracked resource into
	// a DELETE.
	plan, err := eng.CreatePlan(ctx, &ir.Stack{}, currentState)
	if err != nil {
		return fmt.Errorf("plan generation failed: %w", err)
	}

	fmt.Println("\nWavekit will destroy the following resources:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !destroyAutoApprove {
		if !confirmPrompt("\nDo you really want to destroy all resources? (y/n): ") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nDestroying %d resources...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		currentState.Serial++
		_ = stateMgr.Write(ctx, currentState)
		writeAuditLog(wd, AuditEntry{Operation: "destroy", Changes: auditChanges(plan), Error: err.Error()})
		return fmt.Errorf("destroy failed: %w", err)
	}

	if err := stateMgr.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	writeAuditLog(wd, AuditEntry{Operation: "destroy", Changes: auditChanges(plan), Summary: auditSummary(plan)})

	fmt.Printf("\nDestroy complete! Resources: %d destroyed.\n", plan.Summary.Delete)
	return nil
}
