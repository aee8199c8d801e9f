package cli

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/wavekit-io/wavekit/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Manage wavekit state",
	Long:  `Commands for inspecting and modifying tracked state.`,
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List resources in state",
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <address>",
	Short: "Show attributes of a single resource",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateMvCmd = &cobra.Command{
	Use:   "mv <source> <destination>",
	Short: "Move a resource to a new address",
	Args:  cobra.ExactArgs(2),
	RunE:  runStateMv,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <address>",
	Short: "Remove a resource from state (does not destroy)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateMvCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func loadStateMgr() (state.Backend, error) {
	wd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("failed to get working directory: %w", err)
	}
	return openStateManager(wd)
}

// splitAddr splits a resource address into type and name. Types contain
// dots (aws:EC2.Vpc), so the name is everything after the last one.
func splitAddr(addr string) (string, string, bool) {
	i := strings.LastIndex(addr, ".")
	if i <= 0 || i == len(addr)-1 {
		return "", "", false
	}
	return addr[:i], addr[i+1:], true
}

func runStateList(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	if len(s.Resources) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	fmt.Printf("State version: %d, serial: %d, lineage: %s\n\n", s.Version, s.Serial, s.Lineage)
	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		fmt.Printf("  %s (provider: %s)\n", addr, res.Provider)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(s.Resources))

	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if addr != target {
			continue
		}

		fmt.Printf("# %s\n", addr)
		fmt.Printf("  provider = %s\n", res.Provider)
		fmt.Printf("  type     = %s\n", res.Type)
		fmt.Printf("  name     = %s\n", res.Name)

		if len(res.Inputs) > 0 {
			fmt.Println("\n  Inputs:")
			for k, v := range res.Inputs {
				fmt.Printf("    %s = %v\n", k, v)
			}
		}

		if len(res.Outputs) > 0 {
			fmt.Println("\n  Outputs:")
			for k, v := range res.Outputs {
				fmt.Printf("    %s = %v\n", k, v)
			}
		}

		if len(res.Dependencies) > 0 {
			fmt.Println("\n  Dependencies:")
			for _, dep := range res.Dependencies {
				fmt.Printf("    %s\n", dep)
			}
		}

		return nil
	}

	return fmt.Errorf("resource %s not found in state", target)
}

func runStateMv(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	src, dst := args[0], args[1]
	found := false

	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if addr == src {
			typ, name, ok := splitAddr(dst)
			if !ok {
				return fmt.Errorf("invalid destination address %q, expected format type.name", dst)
			}
			res.Type = typ
			res.Name = name
			found = true
			break
		}
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", src)
	}

	s.Serial++
	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if wd, err := os.Getwd(); err == nil {
		writeAuditLog(wd, AuditEntry{Operation: "state.mv", Changes: []AuditChange{{Address: dst, Action: "MOVE"}}})
	}

	fmt.Printf("Moved %s to %s\n", src, dst)
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	mgr, err := loadStateMgr()
	if err != nil {
		return err
	}

	if err := mgr.Lock(); err != nil {
		return err
	}
	defer mgr.Unlock()

	s, err := mgr.Read(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	target := args[0]
	newResources := make([]*ir.ResourceState, 0, len(s.Resources))
	found := false

	for _, res := range s.Resources {
		addr := fmt.Sprintf("%s.%s", res.Type, res.Name)
		if addr == target {
			found = true
			continue
		}
		newResources = append(newResources, res)
	}

	if !found {
		return fmt.Errorf("resource %s not found in state", target)
	}

	s.Resources = newResources
	s.Serial++
	if err := mgr.Write(cmd.Context(), s); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	if wd, err := os.Getwd(); err == nil {
		writeAuditLog(wd, AuditEntry{Operation: "state.rm", Changes: []AuditChange{{Address: target, Action: "REMOVE"}}})
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", target)
	return nil
}
