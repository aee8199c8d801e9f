package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/engine"
	"github.com/wavekit-io/wavekit/internal/stack"
)

var graphCmd = &cobra.Command{
	Use:   "graph [dir]",
	Short: "Output the dependency graph in DOT format",
	Long: `Synthesizes the stack and prints its dependency graph in Graphviz
DOT format. Pipe the output to 'dot' to generate an image:

  wavekit graph | dot -Tpng > graph.png`,
	Args: cobra.MaximumNArgs(1),
	RunE: runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	wd, entryPoint, err := resolveWorkdir(args)
	if err != nil {
		return err
	}

	s, err := loadSettings(cmd.Context(), wd, entryPoint)
	if err != nil {
		return err
	}
	stk := stack.Build(s)

	dag, err := engine.BuildDAG(stk.Resources)
	if err != nil {
		return fmt.Errorf("failed to build graph: %w", err)
	}

	fmt.Println("digraph wavekit {")
	fmt.Println("  rankdir = \"BT\";")
	fmt.Println("  node [shape = rect];")
	fmt.Println()

	for _, res := range stk.Resources {
		fmt.Printf("  %q;\n", engine.ResourceAddr(res))
	}
	fmt.Println()

	for _, res := range stk.Resources {
		addr := engine.ResourceAddr(res)
		for _, dep := range dag.Dependencies(addr) {
			fmt.Printf("  %q -> %q;\n", addr, dep)
		}
	}

	fmt.Println("}")
	return nil
}
