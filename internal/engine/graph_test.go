package engine

import (
	"testing"

	"github.com/wavekit-io/wavekit/internal/ir"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildDAG_NoDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static"},
		{Type: "static:Value", Name: "b", Provider: "static"},
		{Type: "static:Value", Name: "c", Provider: "static"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	assert.Len(t, order, 3)
}

func TestBuildDAG_ExplicitDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static", DependsOn: []string{"static:Value.b"}},
		{Type: "static:Value", Name: "b", Provider: "static"},
		{Type: "static:Value", Name: "c", Provider: "static", DependsOn: []string{"static:Value.a"}},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 3)

	// b must come before a, a must come before c
	posB := indexOf(order, "static:Value.b")
	posA := indexOf(order, "static:Value.a")
	posC := indexOf(order, "static:Value.c")

	assert.Less(t, posB, posA, "b should come before a")
	assert.Less(t, posA, posC, "a should come before c")
}

func TestBuildDAG_ImplicitPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "my-subnet",
			Provider: "aws",
			Properties: map[string]any{
				"vpcId": "ptr://aws:EC2.Vpc/my-vpc/id",
			},
		},
		{Type: "aws:EC2.Vpc", Name: "my-vpc", Provider: "aws"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	order := dag.CreationOrder()
	require.Len(t, order, 2)

	posVpc := indexOf(order, "aws:EC2.Vpc.my-vpc")
	posSubnet := indexOf(order, "aws:EC2.Subnet.my-subnet")

	assert.Less(t, posVpc, posSubnet, "VPC should be created before subnet")
}

func TestBuildDAG_CycleDetection(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static", DependsOn: []string{"static:Value.b"}},
		{Type: "static:Value", Name: "b", Provider: "static", DependsOn: []string{"static:Value.a"}},
	}

	_, err := BuildDAG(resources)
	assert.Error(t, err)
	assert.Contains(t, err.Error(), "cycle")
}

func TestBuildDAG_UnknownDependsOn(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static", DependsOn: []string{"static:Value.ghost"}},
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestBuildDAG_UnknownPtrRef(t *testing.T) {
	resources := []*ir.Resource{
		{
			Type:     "aws:EC2.Subnet",
			Name:     "my-subnet",
			Provider: "aws",
			Properties: map[string]any{
				"vpcId": "ptr://aws:EC2.Vpc/typo-vpc/id",
			},
		},
		{Type: "aws:EC2.Vpc", Name: "my-vpc", Provider: "aws"},
	}

	_, err := BuildDAG(resources)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unknown resource")
}

func TestBuildDAG_DestructionOrder(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static", DependsOn: []string{"static:Value.b"}},
		{Type: "static:Value", Name: "b", Provider: "static"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	revOrder := dag.DestructionOrder()
	require.Len(t, revOrder, 2)

	// a depends on b, so a should be destroyed first (reverse of creation)
	posA := indexOf(revOrder, "static:Value.a")
	posB := indexOf(revOrder, "static:Value.b")

	assert.Less(t, posA, posB, "a should be destroyed before b")
}

func TestPtrRefToAddr(t *testing.T) {
	tests := []struct {
		ref  string
		want string
	}{
		{"ptr://aws:EC2.Vpc/my-vpc/id", "aws:EC2.Vpc.my-vpc"},
		{"ptr://aws:EC2.CarrierGateway/edge-cgw/id", "aws:EC2.CarrierGateway.edge-cgw"},
		{"not-a-ref", ""},
		{"ptr://short", ""},
	}

	for _, tt := range tests {
		t.Run(tt.ref, func(t *testing.T) {
			got := ptrRefToAddr(tt.ref)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestExtractPtrRefs(t *testing.T) {
	props := map[string]any{
		"vpcId": "ptr://aws:EC2.Vpc/my-vpc/id",
		"name":  "my-subnet",
		"tags": map[string]any{
			"ref": "ptr://aws:EC2.SecurityGroup/edge-sg/id",
		},
		"list": []any{
			"ptr://aws:IAM.Role/role1/arn",
			"plain-string",
		},
	}

	refs := extractPtrRefs(props)
	assert.Len(t, refs, 3)
	assert.Contains(t, refs, "ptr://aws:EC2.Vpc/my-vpc/id")
	assert.Contains(t, refs, "ptr://aws:EC2.SecurityGroup/edge-sg/id")
	assert.Contains(t, refs, "ptr://aws:IAM.Role/role1/arn")
}

func TestDependencies(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static", DependsOn: []string{"static:Value.b", "static:Value.c"}},
		{Type: "static:Value", Name: "b", Provider: "static"},
		{Type: "static:Value", Name: "c", Provider: "static"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.Dependencies("static:Value.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "static:Value.b")
	assert.Contains(t, deps, "static:Value.c")
}

func TestTransitiveDeps(t *testing.T) {
	resources := []*ir.Resource{
		{Type: "static:Value", Name: "a", Provider: "static", DependsOn: []string{"static:Value.b"}},
		{Type: "static:Value", Name: "b", Provider: "static", DependsOn: []string{"static:Value.c"}},
		{Type: "static:Value", Name: "c", Provider: "static"},
		{Type: "static:Value", Name: "unrelated", Provider: "static"},
	}

	dag, err := BuildDAG(resources)
	require.NoError(t, err)

	deps := dag.TransitiveDeps("static:Value.a")
	assert.Len(t, deps, 2)
	assert.Contains(t, deps, "static:Value.b")
	assert.Contains(t, deps, "static:Value.c")

	assert.Empty(t, dag.TransitiveDeps("static:Value.c"))
}

func indexOf(slice []string, item string) int {
	for i, s := range slice {
		if s == item {
			return i
		}
	}
	return -1
}
