package stack

import "github.com/wavekit-io/wavekit/internal/ir"

// Defaults for the edge stack. The key pair must already exist in the
// target account; it is never created here.
const (
	DefaultRegion       = "us-west-2"
	DefaultEdgeZone     = "us-west-2-wl1-sfo-wlz-1"
	DefaultKeyName      = "edge-key"
	DefaultInstanceType = "t3.medium"
	DefaultAppPort      = 5000

	// Resolved through SSM at apply time to the current AL2023 AMI.
	DefaultImage = "ssm:/aws/service/ami-amazon-linux-latest/al2023-ami-kernel-default-x86_64"

	defaultVpcCidr     = "10.0.0.0/16"
	defaultPublicCidr  = "10.0.0.0/24"
	defaultPrivateCidr = "10.0.1.0/24"
	defaultEdgeCidr    = "10.0.2.0/24"
)

// DefaultSettings returns the stack inputs with every field filled.
// Account is left empty; the CLI resolves it from the environment or STS
// before synthesis.
func DefaultSettings() ir.Settings {
	return ir.Settings{
		Region:            DefaultRegion,
		EdgeZone:          DefaultEdgeZone,
		KeyName:           DefaultKeyName,
		Image:             DefaultImage,
		InstanceType:      DefaultInstanceType,
		VpcCidr:           defaultVpcCidr,
		PublicSubnetCidr:  defaultPublicCidr,
		PrivateSubnetCidr: defaultPrivateCidr,
		EdgeSubnetCidr:    defaultEdgeCidr,
		AppPort:           DefaultAppPort,
		AppIngressCidr:    anyIPv4,
	}
}

// MergeSettings overlays non-zero fields of override onto base.
func MergeSettings(base, override ir.Settings) ir.Settings {
	if override.Account != "" {
		base.Account = override.Account
	}
	if override.Region != "" {
		base.Region = override.Region
	}
	if override.EdgeZone != "" {
		base.EdgeZone = override.EdgeZone
	}
	if override.KeyName != "" {
		base.KeyName = override.KeyName
	}
	if override.Image != "" {
		base.Image = override.Image
	}
	if override.InstanceType != "" {
		base.InstanceType = override.InstanceType
	}
	if override.VpcCidr != "" {
		base.VpcCidr = override.VpcCidr
	}
	if override.PublicSubnetCidr != "" {
		base.PublicSubnetCidr = override.PublicSubnetCidr
	}
	if override.PrivateSubnetCidr != "" {
		base.PrivateSubnetCidr = override.PrivateSubnetCidr
	}
	if override.EdgeSubnetCidr != "" {
		base.EdgeSubnetCidr = override.EdgeSubnetCidr
	}
	if override.AppPort != 0 {
		base.AppPort = override.AppPort
	}
	if override.AppIngressCidr != "" {
		base.AppIngressCidr = override.AppIngressCidr
	}
	if len(override.Tags) > 0 {
		base.Tags = override.Tags
	}
	return base
}
