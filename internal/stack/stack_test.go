package stack

import (
	"strings"
	"testing"

	"github.com/wavekit-io/wavekit/internal/engine"
	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSettings() ir.Settings {
	s := DefaultSettings()
	s.Account = "111111111111"
	s.Region = "us-west-2"
	s.EdgeZone = "us-west-2-wl1-sfo-wlz-1"
	return s
}

func TestBuild_EveryResourceDeclaredOnce(t *testing.T) {
	st := Build(testSettings())

	require.Len(t, st.Resources, 12)

	seen := make(map[string]bool)
	for _, res := range st.Resources {
		addr := res.Type + "." + res.Name
		assert.False(t, seen[addr], "duplicate resource %s", addr)
		seen[addr] = true

		assert.NotEmpty(t, res.Type)
		assert.NotEmpty(t, res.Name)
		assert.Equal(t, "aws", res.Provider)
	}
}

func TestBuild_SubnetLayout(t *testing.T) {
	s := testSettings()
	st := Build(s)

	var subnets []*ir.Resource
	for _, res := range st.Resources {
		if res.Type == "aws:EC2.Subnet" {
			subnets = append(subnets, res)
		}
	}

	// One public, one private, plus the edge subnet.
	require.Len(t, subnets, 3)

	edgeCount := 0
	for _, sub := range subnets {
		assert.Equal(t, "ptr://aws:EC2.Vpc/edge-vpc/id", sub.Properties["vpcId"])
		if sub.Properties["availabilityZone"] == s.EdgeZone {
			edgeCount++
		}
	}
	assert.Equal(t, 1, edgeCount, "exactly one subnet pinned to the edge zone")

	public := st.Resource("aws:EC2.Subnet", "public")
	require.NotNil(t, public)
	assert.Equal(t, true, public.Properties["mapPublicIpOnLaunch"])
	assert.Equal(t, "us-west-2a", public.Properties["availabilityZone"])

	private := st.Resource("aws:EC2.Subnet", "private")
	require.NotNil(t, private)
	assert.Equal(t, false, private.Properties["mapPublicIpOnLaunch"])

	edge := st.Resource("aws:EC2.Subnet", "edge")
	require.NotNil(t, edge)
	assert.Equal(t, false, edge.Properties["mapPublicIpOnLaunch"])
	assert.Equal(t, s.EdgeZone, edge.Properties["availabilityZone"])
}

func TestBuild_EdgeRouting(t *testing.T) {
	st := Build(testSettings())

	rtb := st.Resource("aws:EC2.RouteTable", "edge-rtb")
	require.NotNil(t, rtb)
	assert.Equal(t, "ptr://aws:EC2.Vpc/edge-vpc/id", rtb.Properties["vpcId"])
	assert.Equal(t, "ptr://aws:EC2.Subnet/edge/id", rtb.Properties["subnetId"],
		"route table must be associated with the edge subnet")

	// The edge route table carries exactly one route: default traffic to
	// the carrier gateway.
	var routes []*ir.Resource
	for _, res := range st.Resources {
		if res.Type == "aws:EC2.Route" {
			routes = append(routes, res)
		}
	}
	require.Len(t, routes, 1)

	route := routes[0]
	assert.Equal(t, "ptr://aws:EC2.RouteTable/edge-rtb/id", route.Properties["routeTableId"])
	assert.Equal(t, "0.0.0.0/0", route.Properties["destinationCidrBlock"])
	assert.Equal(t, "ptr://aws:EC2.CarrierGateway/edge-cgw/id", route.Properties["carrierGatewayId"])

	cgw := st.Resource("aws:EC2.CarrierGateway", "edge-cgw")
	require.NotNil(t, cgw)
	assert.Equal(t, "ptr://aws:EC2.Vpc/edge-vpc/id", cgw.Properties["vpcId"])
}

func TestBuild_SecurityGroupRules(t *testing.T) {
	s := testSettings()
	st := Build(s)

	sg := st.Resource("aws:EC2.SecurityGroup", "edge-sg")
	require.NotNil(t, sg)
	assert.Equal(t, "ptr://aws:EC2.Vpc/edge-vpc/id", sg.Properties["vpcId"])

	ingress, ok := sg.Properties["ingress"].([]any)
	require.True(t, ok)
	require.Len(t, ingress, 3)

	type rule struct {
		from, to int
		protocol string
		cidr     string
	}
	var rules []rule
	for _, raw := range ingress {
		m, ok := raw.(map[string]any)
		require.True(t, ok)
		cidrs, ok := m["cidrBlocks"].([]any)
		require.True(t, ok)
		require.Len(t, cidrs, 1)
		rules = append(rules, rule{
			from:     m["fromPort"].(int),
			to:       m["toPort"].(int),
			protocol: m["protocol"].(string),
			cidr:     cidrs[0].(string),
		})
	}

	assert.Contains(t, rules, rule{from: 22, to: 22, protocol: "tcp", cidr: "0.0.0.0/0"})
	assert.Contains(t, rules, rule{from: s.AppPort, to: s.AppPort, protocol: "tcp", cidr: "0.0.0.0/0"})
	assert.Contains(t, rules, rule{from: 8, to: -1, protocol: "icmp", cidr: "0.0.0.0/0"})
}

func TestBuild_AppIngressNarrowing(t *testing.T) {
	s := testSettings()
	s.AppIngressCidr = "10.1.0.0/16"
	st := Build(s)

	sg := st.Resource("aws:EC2.SecurityGroup", "edge-sg")
	require.NotNil(t, sg)

	ingress := sg.Properties["ingress"].([]any)
	var appCidrs []any
	for _, raw := range ingress {
		m := raw.(map[string]any)
		if m["fromPort"] == s.AppPort {
			appCidrs = m["cidrBlocks"].([]any)
		}
	}
	require.Len(t, appCidrs, 1)
	assert.Equal(t, "10.1.0.0/16", appCidrs[0])
}

func TestBuild_InstanceProfileReferencesRole(t *testing.T) {
	st := Build(testSettings())

	role := st.Resource("aws:IAM.Role", "edge-role")
	require.NotNil(t, role)
	assert.Equal(t, "wavekit-edge-role", role.Properties["name"])

	policy, ok := role.Properties["assumeRolePolicy"].(string)
	require.True(t, ok)
	assert.Contains(t, policy, "ec2.amazonaws.com")
	assert.Contains(t, policy, "sts:AssumeRole")
	assert.Contains(t, policy, "2012-10-17")

	profile := st.Resource("aws:IAM.InstanceProfile", "edge-profile")
	require.NotNil(t, profile)
	assert.Equal(t, "ptr://aws:IAM.Role/edge-role/name", profile.Properties["role"],
		"instance profile must reference the declared role, not a literal name")
}

func TestBuild_LaunchTemplate(t *testing.T) {
	s := testSettings()
	st := Build(s)

	lt := st.Resource("aws:EC2.LaunchTemplate", "edge-lt")
	require.NotNil(t, lt)
	assert.Equal(t, s.Image, lt.Properties["imageId"])
	assert.Equal(t, s.InstanceType, lt.Properties["instanceType"])
	assert.Equal(t, s.KeyName, lt.Properties["keyName"])

	profile, ok := lt.Properties["iamInstanceProfile"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "ptr://aws:IAM.InstanceProfile/edge-profile/arn", profile["arn"])

	nics, ok := lt.Properties["networkInterfaces"].([]any)
	require.True(t, ok)
	require.Len(t, nics, 1)

	nic, ok := nics[0].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, true, nic["associateCarrierIpAddress"])
	assert.Equal(t, 0, nic["deviceIndex"])
	assert.Equal(t, "ptr://aws:EC2.Subnet/edge/id", nic["subnetId"],
		"NIC must sit in the edge subnet, not public or private")

	groups, ok := nic["groups"].([]any)
	require.True(t, ok)
	require.Len(t, groups, 1)
	assert.Equal(t, "ptr://aws:EC2.SecurityGroup/edge-sg/id", groups[0])
}

func TestBuild_InstancePinnedToEdgeZone(t *testing.T) {
	s := testSettings()
	st := Build(s)

	inst := st.Resource("aws:EC2.Instance", "edge-instance")
	require.NotNil(t, inst)
	assert.Equal(t, "us-west-2-wl1-sfo-wlz-1", inst.Properties["availabilityZone"])
	assert.Equal(t, "ptr://aws:EC2.LaunchTemplate/edge-lt/id", inst.Properties["launchTemplateId"])
	assert.Equal(t, "ptr://aws:EC2.LaunchTemplate/edge-lt/latestVersion", inst.Properties["launchTemplateVersion"])
}

func TestBuild_Outputs(t *testing.T) {
	st := Build(testSettings())

	require.Len(t, st.Outputs, 1)
	out := st.Outputs[0]
	assert.Equal(t, "instancePublicDns", out.Name)
	assert.Equal(t, "ptr://aws:EC2.Instance/edge-instance/publicDnsName", out.Value)
}

func TestBuild_GraphResolvesAndOrders(t *testing.T) {
	st := Build(testSettings())

	dag, err := engine.BuildDAG(st.Resources)
	require.NoError(t, err, "declaration must have no dangling references")

	order := dag.CreationOrder()
	require.Len(t, order, len(st.Resources))

	pos := make(map[string]int, len(order))
	for i, addr := range order {
		pos[addr] = i
	}

	assert.Less(t, pos["aws:EC2.Vpc.edge-vpc"], pos["aws:EC2.Subnet.edge"])
	assert.Less(t, pos["aws:EC2.Subnet.edge"], pos["aws:EC2.RouteTable.edge-rtb"])
	assert.Less(t, pos["aws:EC2.CarrierGateway.edge-cgw"], pos["aws:EC2.Route.edge-default-route"])
	assert.Less(t, pos["aws:EC2.RouteTable.edge-rtb"], pos["aws:EC2.Route.edge-default-route"])
	assert.Less(t, pos["aws:IAM.Role.edge-role"], pos["aws:IAM.InstanceProfile.edge-profile"])
	assert.Less(t, pos["aws:IAM.InstanceProfile.edge-profile"], pos["aws:EC2.LaunchTemplate.edge-lt"])
	assert.Less(t, pos["aws:EC2.SecurityGroup.edge-sg"], pos["aws:EC2.LaunchTemplate.edge-lt"])
	assert.Less(t, pos["aws:EC2.LaunchTemplate.edge-lt"], pos["aws:EC2.Instance.edge-instance"])
}

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()

	assert.Equal(t, "us-west-2", s.Region)
	assert.Equal(t, "us-west-2-wl1-sfo-wlz-1", s.EdgeZone)
	assert.Equal(t, "edge-key", s.KeyName)
	assert.Equal(t, 5000, s.AppPort)
	assert.Equal(t, "0.0.0.0/0", s.AppIngressCidr)
	assert.True(t, strings.HasPrefix(s.Image, "ssm:/"), "default image resolves through SSM")
	assert.Empty(t, s.Account, "account comes from the environment")
}

func TestMergeSettings(t *testing.T) {
	base := DefaultSettings()
	merged := MergeSettings(base, ir.Settings{
		Account:      "111111111111",
		InstanceType: "t3.xlarge",
		AppPort:      8080,
	})

	assert.Equal(t, "111111111111", merged.Account)
	assert.Equal(t, "t3.xlarge", merged.InstanceType)
	assert.Equal(t, 8080, merged.AppPort)

	// Untouched fields keep their defaults.
	assert.Equal(t, base.EdgeZone, merged.EdgeZone)
	assert.Equal(t, base.KeyName, merged.KeyName)
	assert.Equal(t, base.VpcCidr, merged.VpcCidr)
}
