package cli

import (
	"github.com/spf13/cobra"

	"github.com/wavekit-io/wavekit/internal/logging"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "wavekit",
	Short: "Deploy a single-instance AWS Wavelength edge stack",
	Long: `Wavekit deploys one opinionated stack into an AWS Wavelength zone:
a VPC with public, private and carrier-edge subnets, a carrier gateway
with a default route, an instance role and profile, a security group,
and a single EC2 instance reachable over the carrier network.

State lives under .wavekit/ and every run diffs against it, so
re-deploying an unchanged stack changes nothing.`,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		logging.Init(logLevel)
	},
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Log level: debug, info, warn or error")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(deployCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(outputCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(refreshCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(fmtCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(workspaceCmd)
}
