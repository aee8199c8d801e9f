package aws

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"

	"github.com/wavekit-io/wavekit/internal/provider"
)

// tagSpec builds create-time tag specifications for one resource type.
func tagSpec(rt types.ResourceType, tags map[string]string) []types.TagSpecification {
	if len(tags) == 0 {
		return nil
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	return []types.TagSpecification{{ResourceType: rt, Tags: ec2Tags}}
}

// tagResource overwrites tags on an existing EC2 resource, best effort.
func (p *Provider) tagResource(ctx context.Context, id string, tags map[string]string) {
	if id == "" || len(tags) == 0 {
		return
	}
	var ec2Tags []types.Tag
	for k, v := range tags {
		ec2Tags = append(ec2Tags, types.Tag{Key: awssdk.String(k), Value: awssdk.String(v)})
	}
	_, _ = p.ec2Client.CreateTags(ctx, &ec2.CreateTagsInput{
		Resources: []string{id},
		Tags:      ec2Tags,
	})
}

// Vpc

type VpcConfig struct {
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

type VpcState struct {
	ID                 string            `json:"id"`
	CidrBlock          string            `json:"cidrBlock"`
	EnableDnsSupport   bool              `json:"enableDnsSupport"`
	EnableDnsHostnames bool              `json:"enableDnsHostnames"`
	Tags               map[string]string `json:"tags"`
}

func (p *Provider) applyVpc(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior VpcState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteVpc(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired VpcConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior VpcState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			if req.Action == provider.ActionUpdate {
				p.tagResource(ctx, prior.ID, desired.Tags)
				return marshalState(VpcState{
					ID:                 prior.ID,
					CidrBlock:          desired.CidrBlock,
					EnableDnsSupport:   desired.EnableDnsSupport,
					EnableDnsHostnames: desired.EnableDnsHostnames,
					Tags:               desired.Tags,
				})
			}
			// Replacement. The old VPC goes first; its CIDR may overlap
			// the new one.
			if err := p.deleteVpc(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	resp, err := p.ec2Client.CreateVpc(ctx, &ec2.CreateVpcInput{
		CidrBlock:         &desired.CidrBlock,
		TagSpecifications: tagSpec(types.ResourceTypeVpc, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VPC: %w", err)
	}
	vpcID := awssdk.ToString(resp.Vpc.VpcId)

	// ModifyVpcAttribute takes one attribute per call.
	if desired.EnableDnsSupport {
		_, err = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:            &vpcID,
			EnableDnsSupport: &types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable DNS support on %s: %w", vpcID, err)
		}
	}
	if desired.EnableDnsHostnames {
		_, err = p.ec2Client.ModifyVpcAttribute(ctx, &ec2.ModifyVpcAttributeInput{
			VpcId:              &vpcID,
			EnableDnsHostnames: &types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable DNS hostnames on %s: %w", vpcID, err)
		}
	}

	return marshalState(VpcState{
		ID:                 vpcID,
		CidrBlock:          desired.CidrBlock,
		EnableDnsSupport:   desired.EnableDnsSupport,
		EnableDnsHostnames: desired.EnableDnsHostnames,
		Tags:               desired.Tags,
	})
}

func (p *Provider) deleteVpc(ctx context.Context, st VpcState) error {
	if st.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteVpc(ctx, &ec2.DeleteVpcInput{VpcId: &st.ID})
	if err != nil && !isAPIError(err, "InvalidVpcID.NotFound") {
		return fmt.Errorf("failed to delete VPC %s: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readVpc(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st VpcState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeVpcs(ctx, &ec2.DescribeVpcsInput{VpcIds: []string{st.ID}})
	if err != nil {
		if isAPIError(err, "InvalidVpcID.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe VPC %s: %w", st.ID, err)
	}
	if len(resp.Vpcs) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
}

// Subnet

type SubnetConfig struct {
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

type SubnetState struct {
	ID                  string            `json:"id"`
	VpcID               string            `json:"vpcId"`
	CidrBlock           string            `json:"cidrBlock"`
	AvailabilityZone    string            `json:"availabilityZone"`
	MapPublicIpOnLaunch bool              `json:"mapPublicIpOnLaunch"`
	Tags                map[string]string `json:"tags"`
}

func (p *Provider) applySubnet(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior SubnetState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteSubnet(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired SubnetConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior SubnetState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			if req.Action == provider.ActionUpdate {
				p.tagResource(ctx, prior.ID, desired.Tags)
				return marshalState(SubnetState{
					ID:                  prior.ID,
					VpcID:               desired.VpcID,
					CidrBlock:           desired.CidrBlock,
					AvailabilityZone:    desired.AvailabilityZone,
					MapPublicIpOnLaunch: desired.MapPublicIpOnLaunch,
					Tags:                desired.Tags,
				})
			}
			if err := p.deleteSubnet(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	input := &ec2.CreateSubnetInput{
		VpcId:             &desired.VpcID,
		CidrBlock:         &desired.CidrBlock,
		TagSpecifications: tagSpec(types.ResourceTypeSubnet, desired.Tags),
	}
	if desired.AvailabilityZone != "" {
		input.AvailabilityZone = &desired.AvailabilityZone
	}

	resp, err := p.ec2Client.CreateSubnet(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create subnet: %w", err)
	}
	subnetID := awssdk.ToString(resp.Subnet.SubnetId)

	if desired.MapPublicIpOnLaunch {
		_, err = p.ec2Client.ModifySubnetAttribute(ctx, &ec2.ModifySubnetAttributeInput{
			SubnetId:            &subnetID,
			MapPublicIpOnLaunch: &types.AttributeBooleanValue{Value: awssdk.Bool(true)},
		})
		if err != nil {
			return nil, fmt.Errorf("failed to enable public IP mapping on %s: %w", subnetID, err)
		}
	}

	return marshalState(SubnetState{
		ID:                  subnetID,
		VpcID:               desired.VpcID,
		CidrBlock:           desired.CidrBlock,
		AvailabilityZone:    desired.AvailabilityZone,
		MapPublicIpOnLaunch: desired.MapPublicIpOnLaunch,
		Tags:                desired.Tags,
	})
}

func (p *Provider) deleteSubnet(ctx context.Context, st SubnetState) error {
	if st.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteSubnet(ctx, &ec2.DeleteSubnetInput{SubnetId: &st.ID})
	if err != nil && !isAPIError(err, "InvalidSubnetID.NotFound") {
		return fmt.Errorf("failed to delete subnet %s: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readSubnet(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st SubnetState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeSubnets(ctx, &ec2.DescribeSubnetsInput{SubnetIds: []string{st.ID}})
	if err != nil {
		if isAPIError(err, "InvalidSubnetID.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe subnet %s: %w", st.ID, err)
	}
	if len(resp.Subnets) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
}

// CarrierGateway

type CarrierGatewayConfig struct {
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

type CarrierGatewayState struct {
	ID    string            `json:"id"`
	VpcID string            `json:"vpcId"`
	Tags  map[string]string `json:"tags"`
}

func (p *Provider) applyCarrierGateway(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior CarrierGatewayState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteCarrierGateway(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired CarrierGatewayConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior CarrierGatewayState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			if req.Action == provider.ActionUpdate {
				p.tagResource(ctx, prior.ID, desired.Tags)
				return marshalState(CarrierGatewayState{ID: prior.ID, VpcID: desired.VpcID, Tags: desired.Tags})
			}
			if err := p.deleteCarrierGateway(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	resp, err := p.ec2Client.CreateCarrierGateway(ctx, &ec2.CreateCarrierGatewayInput{
		VpcId:             &desired.VpcID,
		TagSpecifications: tagSpec(types.ResourceTypeCarrierGateway, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create carrier gateway: %w", err)
	}

	return marshalState(CarrierGatewayState{
		ID:    awssdk.ToString(resp.CarrierGateway.CarrierGatewayId),
		VpcID: desired.VpcID,
		Tags:  desired.Tags,
	})
}

func (p *Provider) deleteCarrierGateway(ctx context.Context, st CarrierGatewayState) error {
	if st.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteCarrierGateway(ctx, &ec2.DeleteCarrierGatewayInput{CarrierGatewayId: &st.ID})
	if err != nil && !isAPIError(err, "InvalidCarrierGatewayID.NotFound") {
		return fmt.Errorf("failed to delete carrier gateway %s: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readCarrierGateway(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st CarrierGatewayState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeCarrierGateways(ctx, &ec2.DescribeCarrierGatewaysInput{
		CarrierGatewayIds: []string{st.ID},
	})
	if err != nil {
		if isAPIError(err, "InvalidCarrierGatewayID.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe carrier gateway %s: %w", st.ID, err)
	}
	if len(resp.CarrierGateways) == 0 || resp.CarrierGateways[0].State == types.CarrierGatewayStateDeleted {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
}

// RouteTable

type RouteTableConfig struct {
	VpcID    string            `json:"vpcId"`
	SubnetID string            `json:"subnetId"`
	Tags     map[string]string `json:"tags"`
}

type RouteTableState struct {
	ID            string            `json:"id"`
	VpcID         string            `json:"vpcId"`
	SubnetID      string            `json:"subnetId"`
	AssociationID string            `json:"associationId"`
	Tags          map[string]string `json:"tags"`
}

func (p *Provider) applyRouteTable(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior RouteTableState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteRouteTable(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired RouteTableConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior RouteTableState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			if req.Action == provider.ActionUpdate {
				p.tagResource(ctx, prior.ID, desired.Tags)
				prior.VpcID = desired.VpcID
				prior.SubnetID = desired.SubnetID
				prior.Tags = desired.Tags
				return marshalState(prior)
			}
			if err := p.deleteRouteTable(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	resp, err := p.ec2Client.CreateRouteTable(ctx, &ec2.CreateRouteTableInput{
		VpcId:             &desired.VpcID,
		TagSpecifications: tagSpec(types.ResourceTypeRouteTable, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create route table: %w", err)
	}
	rtID := awssdk.ToString(resp.RouteTable.RouteTableId)

	var assocID string
	if desired.SubnetID != "" {
		assoc, err := p.ec2Client.AssociateRouteTable(ctx, &ec2.AssociateRouteTableInput{
			RouteTableId: &rtID,
			SubnetId:     &desired.SubnetID,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to associate route table %s with subnet %s: %w", rtID, desired.SubnetID, err)
		}
		assocID = awssdk.ToString(assoc.AssociationId)
	}

	return marshalState(RouteTableState{
		ID:            rtID,
		VpcID:         desired.VpcID,
		SubnetID:      desired.SubnetID,
		AssociationID: assocID,
		Tags:          desired.Tags,
	})
}

func (p *Provider) deleteRouteTable(ctx context.Context, st RouteTableState) error {
	if st.ID == "" {
		return nil
	}
	if st.AssociationID != "" {
		_, _ = p.ec2Client.DisassociateRouteTable(ctx, &ec2.DisassociateRouteTableInput{
			AssociationId: &st.AssociationID,
		})
	}
	_, err := p.ec2Client.DeleteRouteTable(ctx, &ec2.DeleteRouteTableInput{RouteTableId: &st.ID})
	if err != nil && !isAPIError(err, "InvalidRouteTableID.NotFound") {
		return fmt.Errorf("failed to delete route table %s: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readRouteTable(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st RouteTableState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{st.ID}})
	if err != nil {
		if isAPIError(err, "InvalidRouteTableID.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe route table %s: %w", st.ID, err)
	}
	if len(resp.RouteTables) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
}

// Route is a single entry in a route table, addressed by table and
// destination so the edge default route stays an explicit graph node.

type RouteConfig struct {
	RouteTableID         string  `json:"routeTableId"`
	DestinationCidrBlock string  `json:"destinationCidrBlock"`
	CarrierGatewayID     *string `json:"carrierGatewayId,omitempty"`
	GatewayID            *string `json:"gatewayId,omitempty"`
	NatGatewayID         *string `json:"natGatewayId,omitempty"`
}

type RouteState struct {
	ID                   string  `json:"id"`
	RouteTableID         string  `json:"routeTableId"`
	DestinationCidrBlock string  `json:"destinationCidrBlock"`
	CarrierGatewayID     *string `json:"carrierGatewayId,omitempty"`
	GatewayID            *string `json:"gatewayId,omitempty"`
	NatGatewayID         *string `json:"natGatewayId,omitempty"`
}

// routeID builds the composite id "rtb-xxx/cidr".
func routeID(routeTableID, cidr string) string {
	return routeTableID + "/" + cidr
}

func splitRouteID(id string) (routeTableID, cidr string) {
	parts := strings.SplitN(id, "/", 2)
	if len(parts) != 2 {
		return id, ""
	}
	return parts[0], parts[1]
}

func (p *Provider) applyRoute(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior RouteState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteRoute(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired RouteConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior RouteState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.RouteTableID != "" {
			if err := p.deleteRoute(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	input := &ec2.CreateRouteInput{
		RouteTableId:         &desired.RouteTableID,
		DestinationCidrBlock: &desired.DestinationCidrBlock,
	}
	if desired.CarrierGatewayID != nil {
		input.CarrierGatewayId = desired.CarrierGatewayID
	}
	if desired.GatewayID != nil {
		input.GatewayId = desired.GatewayID
	}
	if desired.NatGatewayID != nil {
		input.NatGatewayId = desired.NatGatewayID
	}

	if _, err := p.ec2Client.CreateRoute(ctx, input); err != nil {
		return nil, fmt.Errorf("failed to create route %s -> %s: %w", desired.RouteTableID, desired.DestinationCidrBlock, err)
	}

	return marshalState(RouteState{
		ID:                   routeID(desired.RouteTableID, desired.DestinationCidrBlock),
		RouteTableID:         desired.RouteTableID,
		DestinationCidrBlock: desired.DestinationCidrBlock,
		CarrierGatewayID:     desired.CarrierGatewayID,
		GatewayID:            desired.GatewayID,
		NatGatewayID:         desired.NatGatewayID,
	})
}

func (p *Provider) deleteRoute(ctx context.Context, st RouteState) error {
	rtID, cidr := st.RouteTableID, st.DestinationCidrBlock
	if rtID == "" {
		rtID, cidr = splitRouteID(st.ID)
	}
	if rtID == "" || cidr == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteRoute(ctx, &ec2.DeleteRouteInput{
		RouteTableId:         &rtID,
		DestinationCidrBlock: &cidr,
	})
	if err != nil && !isAPIError(err, "InvalidRoute.NotFound") && !isAPIError(err, "InvalidRouteTableID.NotFound") {
		return fmt.Errorf("failed to delete route %s -> %s: %w", rtID, cidr, err)
	}
	return nil
}

func (p *Provider) readRoute(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st RouteState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	rtID, cidr := st.RouteTableID, st.DestinationCidrBlock
	if rtID == "" {
		rtID, cidr = splitRouteID(req.Id)
	}

	resp, err := p.ec2Client.DescribeRouteTables(ctx, &ec2.DescribeRouteTablesInput{RouteTableIds: []string{rtID}})
	if err != nil {
		if isAPIError(err, "InvalidRouteTableID.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe route table %s: %w", rtID, err)
	}
	if len(resp.RouteTables) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	for _, route := range resp.RouteTables[0].Routes {
		if awssdk.ToString(route.DestinationCidrBlock) == cidr {
			return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
		}
	}
	return &provider.ReadResponse{Exists: false}, nil
}

// SecurityGroup

type SecurityGroupConfig struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

// SecurityGroupRule describes one rule. For ICMP the from-port carries
// the message type and the to-port the code, -1 meaning any.
type SecurityGroupRule struct {
	FromPort   int      `json:"fromPort"`
	ToPort     int      `json:"toPort"`
	Protocol   string   `json:"protocol"`
	CidrBlocks []string `json:"cidrBlocks"`
}

type SecurityGroupState struct {
	ID          string              `json:"id"`
	Name        string              `json:"name"`
	Description string              `json:"description"`
	VpcID       string              `json:"vpcId"`
	Ingress     []SecurityGroupRule `json:"ingress"`
	Egress      []SecurityGroupRule `json:"egress"`
	Tags        map[string]string   `json:"tags"`
}

// buildIpPermissions maps rules to the EC2 wire form.
func buildIpPermissions(rules []SecurityGroupRule) []types.IpPermission {
	var perms []types.IpPermission
	for _, rule := range rules {
		var ipRanges []types.IpRange
		for _, cidr := range rule.CidrBlocks {
			ipRanges = append(ipRanges, types.IpRange{CidrIp: awssdk.String(cidr)})
		}
		perms = append(perms, types.IpPermission{
			IpProtocol: awssdk.String(rule.Protocol),
			FromPort:   awssdk.Int32(int32(rule.FromPort)),
			ToPort:     awssdk.Int32(int32(rule.ToPort)),
			IpRanges:   ipRanges,
		})
	}
	return perms
}

func (p *Provider) applySecurityGroup(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior SecurityGroupState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteSecurityGroup(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired SecurityGroupConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior SecurityGroupState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			if req.Action == provider.ActionUpdate {
				p.tagResource(ctx, prior.ID, desired.Tags)
				return marshalState(SecurityGroupState{
					ID:          prior.ID,
					Name:        desired.Name,
					Description: desired.Description,
					VpcID:       desired.VpcID,
					Ingress:     desired.Ingress,
					Egress:      desired.Egress,
					Tags:        desired.Tags,
				})
			}
			// Group names are unique per VPC, so the old group must go
			// before the new one can take its name.
			if err := p.deleteSecurityGroup(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	input := &ec2.CreateSecurityGroupInput{
		GroupName:         &desired.Name,
		Description:       &desired.Description,
		TagSpecifications: tagSpec(types.ResourceTypeSecurityGroup, desired.Tags),
	}
	if desired.VpcID != "" {
		input.VpcId = &desired.VpcID
	}

	resp, err := p.ec2Client.CreateSecurityGroup(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create security group %s: %w", desired.Name, err)
	}
	groupID := awssdk.ToString(resp.GroupId)

	if len(desired.Ingress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupIngress(ctx, &ec2.AuthorizeSecurityGroupIngressInput{
			GroupId:       &groupID,
			IpPermissions: buildIpPermissions(desired.Ingress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize ingress on %s: %w", groupID, err)
		}
	}
	if len(desired.Egress) > 0 {
		_, err := p.ec2Client.AuthorizeSecurityGroupEgress(ctx, &ec2.AuthorizeSecurityGroupEgressInput{
			GroupId:       &groupID,
			IpPermissions: buildIpPermissions(desired.Egress),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to authorize egress on %s: %w", groupID, err)
		}
	}

	return marshalState(SecurityGroupState{
		ID:          groupID,
		Name:        desired.Name,
		Description: desired.Description,
		VpcID:       desired.VpcID,
		Ingress:     desired.Ingress,
		Egress:      desired.Egress,
		Tags:        desired.Tags,
	})
}

func (p *Provider) deleteSecurityGroup(ctx context.Context, st SecurityGroupState) error {
	if st.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteSecurityGroup(ctx, &ec2.DeleteSecurityGroupInput{GroupId: &st.ID})
	if err != nil && !isAPIError(err, "InvalidGroup.NotFound") {
		return fmt.Errorf("failed to delete security group %s: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readSecurityGroup(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st SecurityGroupState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeSecurityGroups(ctx, &ec2.DescribeSecurityGroupsInput{GroupIds: []string{st.ID}})
	if err != nil {
		if isAPIError(err, "InvalidGroup.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe security group %s: %w", st.ID, err)
	}
	if len(resp.SecurityGroups) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
}

// marshalState wraps a state struct into an apply response.
func marshalState(v any) (*provider.ApplyResponse, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state: %w", err)
	}
	return &provider.ApplyResponse{NewStateJson: data}, nil
}
