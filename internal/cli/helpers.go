package cli

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sts"
	"github.com/google/uuid"

	"github.com/wavekit-io/wavekit/internal/eval"
	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/wavekit-io/wavekit/internal/provider"
	"github.com/wavekit-io/wavekit/internal/stack"
	"github.com/wavekit-io/wavekit/internal/state"
)

// settingsFile is the optional per-project settings module. Every field
// has a default, so a project with no settings file still deploys.
const settingsFile = "wavekit.pkl"

const (
	accountEnvVar = "WAVEKIT_ACCOUNT"
	regionEnvVar  = "WAVEKIT_REGION"
)

//go:embed schemas/Settings.pkl
var settingsSchema string

// ensureSettingsSchema writes the Settings schema under .wavekit so the
// settings file can amend it by relative path.
func ensureSettingsSchema(wd string) error {
	dir := filepath.Join(wd, wavekitDir(), "schemas")
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create schema directory: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, "Settings.pkl"), []byte(settingsSchema), 0644); err != nil {
		return fmt.Errorf("failed to write Settings schema: %w", err)
	}
	return nil
}

// resolveWorkdir interprets an optional positional argument as either a
// project directory or a settings file inside one.
func resolveWorkdir(args []string) (string, string, error) {
	wd, err := os.Getwd()
	if err != nil {
		return "", "", fmt.Errorf("failed to get working directory: %w", err)
	}
	entryPoint := settingsFile

	if len(args) > 0 {
		absPath, err := filepath.Abs(args[0])
		if err != nil {
			return "", "", fmt.Errorf("failed to resolve path %s: %w", args[0], err)
		}

		info, err := os.Stat(absPath)
		if err != nil {
			return "", "", fmt.Errorf("failed to stat path %s: %w", args[0], err)
		}

		if info.IsDir() {
			wd = absPath
		} else {
			wd = filepath.Dir(absPath)
			entryPoint = filepath.Base(absPath)
		}
	}
	return wd, entryPoint, nil
}

// loadSettings builds the effective stack settings: hardcoded defaults,
// then the environment, then the settings file when one exists. The
// account may still be empty afterwards; commands that talk to AWS
// resolve it through STS.
func loadSettings(ctx context.Context, wd, entryPoint string) (ir.Settings, error) {
	s := stack.DefaultSettings()

	if region := regionFromEnv(); region != "" {
		s.Region = region
	}
	if account := os.Getenv(accountEnvVar); account != "" {
		s.Account = account
	}

	path := filepath.Join(wd, entryPoint)
	if _, err := os.Stat(path); err == nil {
		if err := ensureSettingsSchema(wd); err != nil {
			return s, err
		}
		override, err := eval.NewEvaluator(wd).LoadSettings(ctx, entryPoint, nil)
		if err != nil {
			return s, fmt.Errorf("failed to load %s: %w", entryPoint, err)
		}
		s = stack.MergeSettings(s, *override)
	} else if entryPoint != settingsFile {
		// An explicitly named settings file has to exist.
		return s, fmt.Errorf("settings file %s not found", path)
	}

	return s, nil
}

// regionFromEnv returns the first region set in the environment.
func regionFromEnv() string {
	for _, key := range []string{regionEnvVar, "AWS_REGION", "AWS_DEFAULT_REGION"} {
		if v := os.Getenv(key); v != "" {
			return v
		}
	}
	return ""
}

// resolveAccount looks up the caller's account id through STS. Used when
// neither the environment nor the settings file names one.
func resolveAccount(ctx context.Context, region string) (string, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return "", fmt.Errorf("unable to load AWS SDK config: %w", err)
	}
	out, err := sts.NewFromConfig(cfg).GetCallerIdentity(ctx, &sts.GetCallerIdentityInput{})
	if err != nil {
		return "", fmt.Errorf("failed to resolve account id (set %s to skip the STS lookup): %w", accountEnvVar, err)
	}
	return awssdk.ToString(out.Account), nil
}

// backendFile selects a remote state backend when present. Without it,
// state lives in the local workspace file.
const backendFile = "backend.json"

// openStateManager returns the state store for the current workspace:
// the local Pkl file under .wavekit by default, or the backend that
// .wavekit/backend.json configures.
func openStateManager(wd string) (state.Backend, error) {
	evaluator := eval.NewEvaluator(wd)

	data, err := os.ReadFile(filepath.Join(wd, wavekitDir(), backendFile))
	if err != nil {
		if os.IsNotExist(err) {
			return state.NewManager(filepath.Join(wd, WorkspaceStatePath()), evaluator), nil
		}
		return nil, fmt.Errorf("failed to read backend config: %w", err)
	}

	var cfg state.BackendConfig
	if err := json.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse backend config: %w", err)
	}
	if cfg.Type == "" || cfg.Type == "local" {
		return state.NewManager(filepath.Join(wd, WorkspaceStatePath()), evaluator), nil
	}
	return state.NewBackend(&cfg, evaluator)
}

// configureProvider loads a provider into the registry and hands it the
// deployment region.
func configureProvider(ctx context.Context, registry *provider.Registry, name string, s ir.Settings) error {
	if err := registry.LoadProvider(name); err != nil {
		return fmt.Errorf("failed to load provider %s: %w", name, err)
	}
	prov, err := registry.Get(name)
	if err != nil {
		return err
	}

	cfgJSON, err := json.Marshal(map[string]string{"region": s.Region})
	if err != nil {
		return fmt.Errorf("failed to encode provider config: %w", err)
	}
	resp, err := prov.Configure(ctx, &provider.ConfigureRequest{ConfigJson: cfgJSON})
	if err != nil {
		return fmt.Errorf("failed to configure provider %s: %w", name, err)
	}
	for _, diag := range resp.Diagnostics {
		if diag.Severity == provider.DiagnosticError {
			return fmt.Errorf("provider %s: %s: %s", name, diag.Summary, diag.Detail)
		}
	}
	return nil
}

// loadStackProviders loads and configures every provider referenced by
// the stack's resources.
func loadStackProviders(ctx context.Context, registry *provider.Registry, stk *ir.Stack, s ir.Settings) error {
	seen := make(map[string]bool)
	for _, res := range stk.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := configureProvider(ctx, registry, res.Provider, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// loadStateProviders loads and configures every provider referenced by
// state resources (needed for DELETE).
func loadStateProviders(ctx context.Context, registry *provider.Registry, st *ir.State, s ir.Settings) error {
	seen := make(map[string]bool)
	for _, res := range st.Resources {
		if res.Provider != "" && !seen[res.Provider] {
			seen[res.Provider] = true
			if err := configureProvider(ctx, registry, res.Provider, s); err != nil {
				return err
			}
		}
	}
	return nil
}

// renderPlanChanges prints the detailed change list for a plan.
func renderPlanChanges(plan *ir.Plan) {
	for _, change := range plan.Changes {
		symbol := "~"
		switch change.Action {
		case "CREATE":
			symbol = "+"
		case "DELETE":
			symbol = "-"
		case "REPLACE":
			symbol = "-/+"
		case "NOOP":
			symbol = " "
		}

		color := "\033[0m"
		if change.Action == "CREATE" {
			color = "\033[32m"
		} else if change.Action == "DELETE" {
			color = "\033[31m"
		} else if change.Action == "UPDATE" || change.Action == "REPLACE" {
			color = "\033[33m"
		}

		var resourceType, resourceName string
		if change.Desired != nil {
			resourceType = change.Desired.Type
			resourceName = change.Desired.Name
		} else if change.Prior != nil {
			resourceType = change.Prior.Type
			resourceName = change.Prior.Name
		}

		fmt.Printf("\n%s  # %s will be %s%s\n", color, change.Address, change.Action, "\033[0m")
		fmt.Printf("%s  %s resource \"%s\" \"%s\" {\n", color, symbol, resourceType, resourceName)
		renderPropertyDiff(change, color)
		fmt.Printf("%s    }%s\n", color, "\033[0m")
	}
}

// renderPropertyDiff prints structured property diffs.
func renderPropertyDiff(change *ir.ResourceChange, color string) {
	for key, diff := range change.Diff {
		switch diff.Action {
		case "create":
			fmt.Printf("\033[32m      + %s = %v\033[0m\n", key, formatValue(diff.After))
		case "delete":
			fmt.Printf("\033[31m      - %s = %v\033[0m\n", key, formatValue(diff.Before))
		case "update":
			fmt.Printf("\033[33m      ~ %s = %v -> %v\033[0m\n", key, formatValue(diff.Before), formatValue(diff.After))
		default:
			fmt.Printf("%s        %s = %v\n", color, key, formatValue(diff.After))
		}
	}
}

// formatValue returns a human-readable representation of a value.
func formatValue(v any) string {
	if v == nil {
		return "null"
	}
	switch val := v.(type) {
	case string:
		return fmt.Sprintf("%q", val)
	default:
		return fmt.Sprintf("%v", val)
	}
}

// renderPlanSummary prints the plan summary counts.
func renderPlanSummary(plan *ir.Plan) {
	fmt.Println("\nPlan Summary:")
	fmt.Printf("  Create:  %d\n", plan.Summary.Create)
	fmt.Printf("  Update:  %d\n", plan.Summary.Update)
	fmt.Printf("  Delete:  %d\n", plan.Summary.Delete)
	fmt.Printf("  Replace: %d\n", plan.Summary.Replace)
	fmt.Printf("  NoOp:    %d\n", plan.Summary.NoOp)
}

// confirmPrompt asks for interactive approval. Accepts y or yes.
func confirmPrompt(prompt string) bool {
	fmt.Print(prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}

// generateUUID returns a random version 4 UUID string, used for state
// lineage.
func generateUUID() string {
	id, err := uuid.NewRandom()
	if err != nil {
		return fmt.Sprintf("lineage-%d", time.Now().UnixNano())
	}
	return id.String()
}
