package cli

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize a new wavekit project",
	Long:  `Creates the .wavekit directory and a starter settings file.`,
	RunE:  runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	wd, err := os.Getwd()
	if err != nil {
		return fmt.Errorf("failed to get working directory: %w", err)
	}

	if err := ensureSettingsSchema(wd); err != nil {
		return err
	}

	if _, err := os.Stat(settingsFile); os.IsNotExist(err) {
		content := `// Wavekit settings. Every field has a default; uncomment to override.
// Account and region are usually taken from the environment
// (WAVEKIT_ACCOUNT, WAVEKIT_REGION / AWS_REGION).

amends ".wavekit/schemas/Settings.pkl"

// edgeZone = "us-west-2-wl1-sfo-wlz-1"
// keyName = "edge-key"
// instanceType = "t3.medium"
// image = "ssm:/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"
// appPort = 5000
// appIngressCidr = "0.0.0.0/0"

tags {
  // ["Team"] = "edge"
}
`
		if err := os.WriteFile(settingsFile, []byte(content), 0644); err != nil {
			return fmt.Errorf("failed to create %s: %w", settingsFile, err)
		}
		fmt.Printf("Created %s\n", settingsFile)
	}

	fmt.Println("\nWavekit initialized successfully!")
	fmt.Println("Next steps:")
	fmt.Println("  1. Edit wavekit.pkl to adjust the edge zone, key pair or ports")
	fmt.Println("  2. Run 'wavekit plan' to see what will be created")
	fmt.Println("  3. Run 'wavekit deploy' to create the stack")

	return nil
}
