package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/engine"
	"github.com/wavekit-io/wavekit/internal/stack"
)

var validateCmd = &cobra.Command{
	Use:   "validate [dir]",
	Short: "Validate settings and the resource graph",
	Long: `Loads the settings, synthesizes the stack and checks the dependency
graph for dangling references and cycles. No AWS calls are made.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}

	fmt.Print("Loading settings... ")
	s, err := loadSettings(cmd.Context(), wd, entryPoint)
	if err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Print("Synthesizing stack... ")
	stk := stack.Build(s)
	fmt.Println("OK")

	fmt.Print("Checking resource graph... ")
	if _, err := engine.BuildDAG(stk.Resources); err != nil {
		fmt.Println("FAILED")
		return fmt.Errorf("validation failed: %w", err)
	}
	fmt.Println("OK")

	fmt.Printf("\nConfiguration is valid: %d resources, %d outputs.\n", len(stk.Resources), len(stk.Outputs))
	return nil
}
