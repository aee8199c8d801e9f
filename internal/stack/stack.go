// Package stack declares the wavekit edge deployment: a VPC with public,
// private and carrier-edge subnets, a carrier gateway with a default
// route, an EC2-assumable role bound to an instance profile, a security
// group, a launch template requesting a carrier-routable address, and a
// single instance pinned to the edge zone.
//
// Everything here is pure construction. No AWS calls, no validation, no
// retries; the engine resolves the ptr:// references, orders the graph
// and applies it.
package stack

import (
	"fmt"

	"github.com/wavekit-io/wavekit/internal/ir"
)

// Resource type strings understood by the aws provider.
const (
	typeVpc             = "aws:EC2.Vpc"
	typeSubnet          = "aws:EC2.Subnet"
	typeCarrierGateway  = "aws:EC2.CarrierGateway"
	typeRouteTable      = "aws:EC2.RouteTable"
	typeRoute           = "aws:EC2.Route"
	typeSecurityGroup   = "aws:EC2.SecurityGroup"
	typeLaunchTemplate  = "aws:EC2.LaunchTemplate"
	typeInstance        = "aws:EC2.Instance"
	typeRole            = "aws:IAM.Role"
	typeInstanceProfile = "aws:IAM.InstanceProfile"
)

// Graph-local resource names.
const (
	vpcName        = "edge-vpc"
	publicName     = "public"
	privateName    = "private"
	edgeName       = "edge"
	roleName       = "edge-role"
	profileName    = "edge-profile"
	gatewayName    = "edge-cgw"
	routeTableName = "edge-rtb"
	routeName      = "edge-default-route"
	sgName         = "edge-sg"
	launchName     = "edge-lt"
	instanceName   = "edge-instance"
)

const (
	anyIPv4 = "0.0.0.0/0"

	sshPort = 22

	// ICMP rules carry the message type in the from-port field; 8 is echo
	// request, -1 matches any code.
	icmpEchoType = 8
	icmpAnyCode  = -1
)

// ec2TrustPolicy lets EC2 instances assume the role through the instance
// profile.
const ec2TrustPolicy = `{
  "Version": "2012-10-17",
  "Statement": [
    {
      "Effect": "Allow",
      "Principal": {"Service": "ec2.amazonaws.com"},
      "Action": "sts:AssumeRole"
    }
  ]
}`

// NetworkParts holds the VPC and its three subnets.
type NetworkParts struct {
	Vpc     *ir.Resource
	Public  *ir.Resource
	Private *ir.Resource
	Edge    *ir.Resource
}

// IdentityParts holds the role and the instance profile bound to it.
type IdentityParts struct {
	Role    *ir.Resource
	Profile *ir.Resource
}

// ConnectivityParts holds the carrier gateway, the edge route table and
// its single default route.
type ConnectivityParts struct {
	Gateway      *ir.Resource
	RouteTable   *ir.Resource
	DefaultRoute *ir.Resource
}

// ref builds a ptr:// reference to another resource's attribute.
func ref(typ, name, attr string) string {
	return fmt.Sprintf("ptr://%s/%s/%s", typ, name, attr)
}

// nameTags merges the settings tags with a Name tag.
func nameTags(s ir.Settings, name string) map[string]string {
	tags := make(map[string]string, len(s.Tags)+1)
	for k, v := range s.Tags {
		tags[k] = v
	}
	tags["Name"] = "wavekit-" + name
	return tags
}

// EdgeSubnet declares the subnet pinned to the carrier edge zone. It has
// no public-IP mapping; carrier addresses come from the launch template's
// network interface.
func EdgeSubnet(s ir.Settings) *ir.Resource {
	return &ir.Resource{
		Type:     typeSubnet,
		Name:     edgeName,
		Provider: "aws",
		Properties: map[string]any{
			"vpcId":               ref(typeVpc, vpcName, "id"),
			"cidrBlock":           s.EdgeSubnetCidr,
			"availabilityZone":    s.EdgeZone,
			"mapPublicIpOnLaunch": false,
			"tags":                nameTags(s, edgeName),
		},
	}
}

// Network declares the VPC and its subnets. The edge subnet is an
// explicit argument so the full subnet set is fixed at construction;
// nothing appends to the network afterwards.
func Network(s ir.Settings, edge *ir.Resource) NetworkParts {
	zone := s.Region + "a"

	vpc := &ir.Resource{
		Type:     typeVpc,
		Name:     vpcName,
		Provider: "aws",
		Properties: map[string]any{
			"cidrBlock":          s.VpcCidr,
			"enableDnsSupport":   true,
			"enableDnsHostnames": true,
			"tags":               nameTags(s, vpcName),
		},
	}

	public := &ir.Resource{
		Type:     typeSubnet,
		Name:     publicName,
		Provider: "aws",
		Properties: map[string]any{
			"vpcId":               ref(typeVpc, vpcName, "id"),
			"cidrBlock":           s.PublicSubnetCidr,
			"availabilityZone":    zone,
			"mapPublicIpOnLaunch": true,
			"tags":                nameTags(s, publicName),
		},
	}

	private := &ir.Resource{
		Type:     typeSubnet,
		Name:     privateName,
		Provider: "aws",
		Properties: map[string]any{
			"vpcId":               ref(typeVpc, vpcName, "id"),
			"cidrBlock":           s.PrivateSubnetCidr,
			"availabilityZone":    zone,
			"mapPublicIpOnLaunch": false,
			"tags":                nameTags(s, privateName),
		},
	}

	return NetworkParts{
		Vpc:     vpc,
		Public:  public,
		Private: private,
		Edge:    edge,
	}
}

// Identity declares the EC2-assumable role and the instance profile that
// carries it onto the instance.
func Identity(s ir.Settings) IdentityParts {
	role := &ir.Resource{
		Type:     typeRole,
		Name:     roleName,
		Provider: "aws",
		Properties: map[string]any{
			"name":             "wavekit-" + roleName,
			"assumeRolePolicy": ec2TrustPolicy,
			"tags":             nameTags(s, roleName),
		},
	}

	profile := &ir.Resource{
		Type:     typeInstanceProfile,
		Name:     profileName,
		Provider: "aws",
		Properties: map[string]any{
			"name": "wavekit-" + profileName,
			"role": ref(typeRole, roleName, "name"),
		},
	}

	return IdentityParts{Role: role, Profile: profile}
}

// EdgeConnectivity declares the carrier gateway and routes all outbound
// traffic from the edge subnet through it.
func EdgeConnectivity(s ir.Settings, net NetworkParts) ConnectivityParts {
	gateway := &ir.Resource{
		Type:     typeCarrierGateway,
		Name:     gatewayName,
		Provider: "aws",
		Properties: map[string]any{
			"vpcId": ref(typeVpc, vpcName, "id"),
			"tags":  nameTags(s, gatewayName),
		},
	}

	routeTable := &ir.Resource{
		Type:     typeRouteTable,
		Name:     routeTableName,
		Provider: "aws",
		Properties: map[string]any{
			"vpcId":    ref(typeVpc, vpcName, "id"),
			"subnetId": ref(typeSubnet, edgeName, "id"),
			"tags":     nameTags(s, routeTableName),
		},
	}

	defaultRoute := &ir.Resource{
		Type:     typeRoute,
		Name:     routeName,
		Provider: "aws",
		Properties: map[string]any{
			"routeTableId":         ref(typeRouteTable, routeTableName, "id"),
			"destinationCidrBlock": anyIPv4,
			"carrierGatewayId":     ref(typeCarrierGateway, gatewayName, "id"),
		},
	}

	return ConnectivityParts{
		Gateway:      gateway,
		RouteTable:   routeTable,
		DefaultRoute: defaultRoute,
	}
}

// AccessControl declares the security group: SSH, the application port
// and ICMP echo, each from any IPv4 source unless AppIngressCidr narrows
// the application rule. Egress stays at the provider's allow-all default.
func AccessControl(s ir.Settings, net NetworkParts) *ir.Resource {
	return &ir.Resource{
		Type:     typeSecurityGroup,
		Name:     sgName,
		Provider: "aws",
		Properties: map[string]any{
			"name":        "wavekit-" + sgName,
			"description": "Edge instance access: SSH, application port, ICMP echo",
			"vpcId":       ref(typeVpc, vpcName, "id"),
			"ingress": []any{
				map[string]any{
					"fromPort":   sshPort,
					"toPort":     sshPort,
					"protocol":   "tcp",
					"cidrBlocks": []any{anyIPv4},
				},
				map[string]any{
					"fromPort":   s.AppPort,
					"toPort":     s.AppPort,
					"protocol":   "tcp",
					"cidrBlocks": []any{s.AppIngressCidr},
				},
				map[string]any{
					"fromPort":   icmpEchoType,
					"toPort":     icmpAnyCode,
					"protocol":   "icmp",
					"cidrBlocks": []any{anyIPv4},
				},
			},
			"tags": nameTags(s, sgName),
		},
	}
}

// Launch declares the launch template: image, instance type, key pair,
// instance profile, and a single network interface in the edge subnet
// with a carrier IP.
func Launch(s ir.Settings, net NetworkParts, id IdentityParts, sg *ir.Resource) *ir.Resource {
	return &ir.Resource{
		Type:     typeLaunchTemplate,
		Name:     launchName,
		Provider: "aws",
		Properties: map[string]any{
			"name":         "wavekit-" + launchName,
			"imageId":      s.Image,
			"instanceType": s.InstanceType,
			"keyName":      s.KeyName,
			"iamInstanceProfile": map[string]any{
				"arn": ref(typeInstanceProfile, profileName, "arn"),
			},
			"networkInterfaces": []any{
				map[string]any{
					"deviceIndex":               0,
					"associateCarrierIpAddress": true,
					"subnetId":                  ref(typeSubnet, edgeName, "id"),
					"groups":                    []any{ref(typeSecurityGroup, sgName, "id")},
				},
			},
			"tags": nameTags(s, launchName),
		},
	}
}

// Instance declares the single edge instance, created from the launch
// template and pinned to the edge zone.
func Instance(s ir.Settings, launch *ir.Resource) *ir.Resource {
	return &ir.Resource{
		Type:     typeInstance,
		Name:     instanceName,
		Provider: "aws",
		Properties: map[string]any{
			"launchTemplateId":      ref(typeLaunchTemplate, launchName, "id"),
			"launchTemplateVersion": ref(typeLaunchTemplate, launchName, "latestVersion"),
			"availabilityZone":      s.EdgeZone,
			"tags":                  nameTags(s, instanceName),
		},
	}
}

// Build constructs the full resource graph in declaration order plus the
// stack outputs.
func Build(s ir.Settings) *ir.Stack {
	net := Network(s, EdgeSubnet(s))
	id := Identity(s)
	conn := EdgeConnectivity(s, net)
	sg := AccessControl(s, net)
	launch := Launch(s, net, id, sg)
	instance := Instance(s, launch)

	return &ir.Stack{
		Resources: []*ir.Resource{
			net.Vpc,
			net.Public,
			net.Private,
			net.Edge,
			id.Role,
			id.Profile,
			conn.Gateway,
			conn.RouteTable,
			conn.DefaultRoute,
			sg,
			launch,
			instance,
		},
		Outputs: []*ir.Output{
			{
				Name:        "instancePublicDns",
				Value:       ref(typeInstance, instanceName, "publicDnsName"),
				Description: "Public DNS name of the edge instance",
			},
		},
	}
}
