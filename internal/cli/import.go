package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/wavekit-io/wavekit/internal/provider"
)

var importCmd = &cobra.Command{
	Use:   "import <resource-address> <cloud-id>",
	Short: "Import existing infrastructure into wavekit state",
	Long: `Import an existing resource into the wavekit state file.

This does not generate configuration. It only adds the resource to the
state so that wavekit will manage it going forward; the stack must
already describe a resource at the given address.

Example:
  wavekit import aws:EC2.Vpc.edge-vpc vpc-0a1b2c3d4e5f67890`,
	Args: cobra.ExactArgs(2),
	RunE: runImport,
}

func runImport(cmd *cobra.Command, args []string) error {
	addr := args[0]
	cloudID := args[1]

	resourceType, resourceName, ok := splitAddr(addr)
	if !ok {
		return fmt.Errorf("invalid resource address %q, expected format type.name", addr)
	}

	if !strings.Contains(resourceType, ":") {
		return fmt.Errorf("cannot determine provider for type %q", resourceType)
	}
	providerName := strings.SplitN(resourceType, ":", 2)[0]

	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	ctx := cmd.Context()

	settings, err := loadSettings(ctx, wd, settingsFile)
	if err != nil {
		return err
	}

	stateMgr, err := openStateManager(wd)
	if err != nil {
		return err
	}
	if err := stateMgr.Lock(); err != nil {
		return err
	}
	defer stateMgr.Unlock()

	registry := provider.NewRegistry()
	if err := configureProvider(ctx, registry, providerName, settings); err != nil {
		return err
	}
	prov, err := registry.Get(providerName)
	if err != nil {
		return fmt.Errorf("provider not available: %w", err)
	}

	fmt.Printf("Importing %s (id: %s)...\n", addr, cloudID)
	resp, err := prov.Read(ctx, &provider.ReadRequest{
		Type: resourceType,
		Id:   cloudID,
	})
	if err != nil {
		return fmt.Errorf("failed to read resource from provider: %w", err)
	}

	if !resp.Exists {
		return fmt.Errorf("resource %s with id %s does not exist", resourceType, cloudID)
	}

	var outputs map[string]any
	if len(resp.NewStateJson) > 0 {
		if err := json.Unmarshal(resp.NewStateJson, &outputs); err != nil {
			return fmt.Errorf("failed to parse provider response: %w", err)
		}
	}

	currentState, err := stateMgr.Read(ctx)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}

	for _, res := range currentState.Resources {
		if res.Type == resourceType && res.Name == resourceName {
			return fmt.Errorf("resource %s already exists in state", addr)
		}
	}

	currentState.Resources = append(currentState.Resources, &ir.ResourceState{
		Type:     resourceType,
		Name:     resourceName,
		Provider: providerName,
		Inputs:   map[string]any{},
		Outputs:  outputs,
	})
	currentState.Serial++

	if err := stateMgr.Write(ctx, currentState); err != nil {
		return fmt.Errorf("failed to write state: %w", err)
	}

	writeAuditLog(wd, AuditEntry{Operation: "import", Changes: []AuditChange{{Address: addr, Action: "IMPORT"}}})

	fmt.Printf("Successfully imported %s\n", addr)
	fmt.Println("The next plan will reconcile the imported attributes against the stack definition.")
	return nil
}
