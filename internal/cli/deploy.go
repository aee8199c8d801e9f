package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/engine"
	"github.com/wavekit-io/wavekit/internal/provider"
	"github.com/wavekit-io/wavekit/internal/stack"
)

var deployAutoApprove bool

var deployCmd = &cobra.Command{
	Use:   "deploy [dir]",
	Short: "Create or update the edge stack",
	Long: `Synthesizes the stack from the settings, plans the changes against
tracked state, asks for confirmation and applies them. The instance's
public DNS name is printed as an output once the deploy finishes.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDeploy,
}

func init() {
	deployCmd.Flags().BoolVar(&deployAutoApprove, "auto-approve", false, "Skip interactive approval of the plan before applying")
}

func runDeploy(cmd *cobra.Command, args []string) error {
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

	if s.Account == "" {
		fmt.Print("Resolving account... ")
		account, err := resolveAccount(ctx, s.Region)
		if err != nil {
			fmt.Println("FAILED")
			return err
		}
		fmt.Println(account)
		s.Account = account
	}

	fmt.Printf("\nDeploying to account %s, region %s, edge zone %s\n", s.Account, s.Region, s.EdgeZone)

	stk := stack.Build(s)
	if err := loadStackProviders(ctx, registry, stk, s); err != nil {
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
		fmt.Println("No changes. Infrastructure is up-to-date.")
		return nil
	}

	fmt.Println("\nWavekit will perform the following actions:")
	renderPlanChanges(plan)
	renderPlanSummary(plan)

	if !deployAutoApprove {
		if !confirmPrompt("\nDo you want to perform these actions? (y/n): ") {
			fmt.Println("Deploy cancelled.")
			return nil
		}
	}

	fmt.Printf("\nApplying %d changes...\n", len(plan.Changes))

	newState, err := eng.ApplyPlan(ctx, plan, currentState)
	if err != nil {
		// Keep whatever did apply; the next plan diffs against it.
		currentState.Serial++
		_ = stateMgr.Write(ctx, currentState)
		writeAuditLog(wd, AuditEntry{Operation: "deploy", Changes: auditChanges(plan), Error: err.Error()})
		return fmt.Errorf("deploy failed: %w", err)
	}

	if newState.Lineage == "" {
		newState.Lineage = generateUUID()
	}

	if err := stateMgr.Write(ctx, newState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	writeAuditLog(wd, AuditEntry{Operation: "deploy", Changes: auditChanges(plan), Summary: auditSummary(plan)})

	fmt.Println("\nDeploy complete! Resources: " +
		fmt.Sprintf("%d added, %d changed, %d destroyed.",
			plan.Summary.Create+plan.Summary.Replace,
			plan.Summary.Update,
			plan.Summary.Delete+plan.Summary.Replace))

	if len(newState.Outputs) > 0 {
		fmt.Println("\nOutputs:")
		for k, v := range newState.Outputs {
			fmt.Printf("  %s = %v\n", k, v)
		}
	}

	return nil
}
