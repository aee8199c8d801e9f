package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/ec2/types"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"

	"github.com/wavekit-io/wavekit/internal/provider"
)

const (
	instanceWaitTimeout = 5 * time.Minute

	// How long to keep retrying RunInstances while a freshly created
	// instance profile propagates through IAM.
	profilePropagationTimeout = 2 * time.Minute
	profilePropagationDelay   = 5 * time.Second
)

// resolveImage turns an "ssm:/path" image reference into a concrete AMI
// id via Parameter Store. Anything else is returned unchanged.
func (p *Provider) resolveImage(ctx context.Context, image string) (string, error) {
	path, ok := strings.CutPrefix(image, "ssm:")
	if !ok {
		return image, nil
	}
	resp, err := p.ssmClient.GetParameter(ctx, &ssm.GetParameterInput{Name: &path})
	if err != nil {
		return "", fmt.Errorf("failed to resolve image parameter %s: %w", path, err)
	}
	return awssdk.ToString(resp.Parameter.Value), nil
}

// LaunchTemplate

// LaunchTemplateNIC is one network interface in a launch template. A
// carrier IP instead of a public IP puts the interface on the carrier
// network of a Wavelength zone.
type LaunchTemplateNIC struct {
	DeviceIndex               int      `json:"deviceIndex"`
	AssociateCarrierIpAddress bool     `json:"associateCarrierIpAddress"`
	AssociatePublicIpAddress  *bool    `json:"associatePublicIpAddress,omitempty"`
	SubnetID                  string   `json:"subnetId"`
	Groups                    []string `json:"groups"`
}

type LaunchTemplateConfig struct {
	Name               string              `json:"name"`
	ImageID            string              `json:"imageId"`
	InstanceType       string              `json:"instanceType"`
	KeyName            string              `json:"keyName"`
	UserData           string              `json:"userData"`
	IamInstanceProfile map[string]string   `json:"iamInstanceProfile"`
	NetworkInterfaces  []LaunchTemplateNIC `json:"networkInterfaces"`
	Tags               map[string]string   `json:"tags"`
}

// LaunchTemplateState echoes the config and carries the computed id and
// version. ImageID keeps the configured value (possibly an ssm:/ path);
// ResolvedImageID is the AMI it resolved to at apply time. LatestVersion
// is a string so references resolve into version fields unconverted.
type LaunchTemplateState struct {
	ID                 string              `json:"id"`
	Name               string              `json:"name"`
	LatestVersion      string              `json:"latestVersion"`
	ImageID            string              `json:"imageId"`
	ResolvedImageID    string              `json:"resolvedImageId"`
	InstanceType       string              `json:"instanceType"`
	KeyName            string              `json:"keyName"`
	UserData           string              `json:"userData"`
	IamInstanceProfile map[string]string   `json:"iamInstanceProfile"`
	NetworkInterfaces  []LaunchTemplateNIC `json:"networkInterfaces"`
	Tags               map[string]string   `json:"tags"`
}

func buildLaunchTemplateNICs(nics []LaunchTemplateNIC) []types.LaunchTemplateInstanceNetworkInterfaceSpecificationRequest {
	var specs []types.LaunchTemplateInstanceNetworkInterfaceSpecificationRequest
	for _, nic := range nics {
		spec := types.LaunchTemplateInstanceNetworkInterfaceSpecificationRequest{
			DeviceIndex:               awssdk.Int32(int32(nic.DeviceIndex)),
			AssociateCarrierIpAddress: awssdk.Bool(nic.AssociateCarrierIpAddress),
		}
		if nic.AssociatePublicIpAddress != nil {
			spec.AssociatePublicIpAddress = nic.AssociatePublicIpAddress
		}
		if nic.SubnetID != "" {
			spec.SubnetId = awssdk.String(nic.SubnetID)
		}
		if len(nic.Groups) > 0 {
			spec.Groups = nic.Groups
		}
		specs = append(specs, spec)
	}
	return specs
}

func (p *Provider) applyLaunchTemplate(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior LaunchTemplateState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteLaunchTemplate(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired LaunchTemplateConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	if req.PriorStateJson != nil {
		var prior LaunchTemplateState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			// Template names are unique; retire the old one first.
			if err := p.deleteLaunchTemplate(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	imageID, err := p.resolveImage(ctx, desired.ImageID)
	if err != nil {
		return nil, err
	}

	data := &types.RequestLaunchTemplateData{
		ImageId:      &imageID,
		InstanceType: types.InstanceType(desired.InstanceType),
	}
	if desired.KeyName != "" {
		data.KeyName = &desired.KeyName
	}
	if desired.UserData != "" {
		data.UserData = &desired.UserData
	}
	if arn, ok := desired.IamInstanceProfile["arn"]; ok && arn != "" {
		data.IamInstanceProfile = &types.LaunchTemplateIamInstanceProfileSpecificationRequest{
			Arn: &arn,
		}
	}
	if len(desired.NetworkInterfaces) > 0 {
		data.NetworkInterfaces = buildLaunchTemplateNICs(desired.NetworkInterfaces)
	}

	resp, err := p.ec2Client.CreateLaunchTemplate(ctx, &ec2.CreateLaunchTemplateInput{
		LaunchTemplateName: &desired.Name,
		LaunchTemplateData: data,
		TagSpecifications:  tagSpec(types.ResourceTypeLaunchTemplate, desired.Tags),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create launch template %s: %w", desired.Name, err)
	}

	latest := "1"
	if resp.LaunchTemplate.LatestVersionNumber != nil {
		latest = strconv.FormatInt(*resp.LaunchTemplate.LatestVersionNumber, 10)
	}

	return marshalState(LaunchTemplateState{
		ID:                 awssdk.ToString(resp.LaunchTemplate.LaunchTemplateId),
		Name:               awssdk.ToString(resp.LaunchTemplate.LaunchTemplateName),
		LatestVersion:      latest,
		ImageID:            desired.ImageID,
		ResolvedImageID:    imageID,
		InstanceType:       desired.InstanceType,
		KeyName:            desired.KeyName,
		UserData:           desired.UserData,
		IamInstanceProfile: desired.IamInstanceProfile,
		NetworkInterfaces:  desired.NetworkInterfaces,
		Tags:               desired.Tags,
	})
}

func (p *Provider) deleteLaunchTemplate(ctx context.Context, st LaunchTemplateState) error {
	if st.ID == "" {
		return nil
	}
	_, err := p.ec2Client.DeleteLaunchTemplate(ctx, &ec2.DeleteLaunchTemplateInput{LaunchTemplateId: &st.ID})
	if err != nil && !isAPIError(err, "InvalidLaunchTemplateId.NotFound") {
		return fmt.Errorf("failed to delete launch template %s: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readLaunchTemplate(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st LaunchTemplateState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeLaunchTemplates(ctx, &ec2.DescribeLaunchTemplatesInput{
		LaunchTemplateIds: []string{st.ID},
	})
	if err != nil {
		if isAPIError(err, "InvalidLaunchTemplateId.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe launch template %s: %w", st.ID, err)
	}
	if len(resp.LaunchTemplates) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}
	if n := resp.LaunchTemplates[0].LatestVersionNumber; n != nil {
		st.LatestVersion = strconv.FormatInt(*n, 10)
	}
	out, _ := json.Marshal(st)
	return &provider.ReadResponse{Exists: true, NewStateJson: out}, nil
}

// Instance

type InstanceConfig struct {
	LaunchTemplateID      string            `json:"launchTemplateId"`
	LaunchTemplateVersion string            `json:"launchTemplateVersion"`
	AvailabilityZone      string            `json:"availabilityZone"`
	Tags                  map[string]string `json:"tags"`
}

type InstanceState struct {
	ID                    string            `json:"id"`
	LaunchTemplateID      string            `json:"launchTemplateId"`
	LaunchTemplateVersion string            `json:"launchTemplateVersion"`
	AvailabilityZone      string            `json:"availabilityZone"`
	PublicDnsName         string            `json:"publicDnsName"`
	PublicIP              string            `json:"publicIp"`
	PrivateIP             string            `json:"privateIp"`
	Tags                  map[string]string `json:"tags"`
}

// planInstance layers a live existence check over the config diff, so a
// terminated or manually deleted instance plans as CREATE.
func (p *Provider) planInstance(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	var prior InstanceState
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}
	if prior.ID == "" {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}
	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{prior.ID},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return &provider.PlanResponse{Action: provider.ActionCreate}, nil
		}
		return nil, fmt.Errorf("failed to describe instance %s: %w", prior.ID, err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}
	if resp.Reservations[0].Instances[0].State.Name == types.InstanceStateNameTerminated {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	return planDiff(req)
}

func (p *Provider) applyInstance(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior InstanceState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteInstance(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired InstanceConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}

	if req.PriorStateJson != nil {
		var prior InstanceState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.ID != "" {
			if req.Action == provider.ActionUpdate {
				p.tagResource(ctx, prior.ID, desired.Tags)
				prior.LaunchTemplateID = desired.LaunchTemplateID
				prior.LaunchTemplateVersion = desired.LaunchTemplateVersion
				prior.Tags = desired.Tags
				return marshalState(prior)
			}
			// Replacement. Terminate first; the zone's carrier IP pool
			// and capacity are scarce.
			if err := p.deleteInstance(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	input := &ec2.RunInstancesInput{
		MinCount:          awssdk.Int32(1),
		MaxCount:          awssdk.Int32(1),
		TagSpecifications: tagSpec(types.ResourceTypeInstance, desired.Tags),
	}
	if desired.LaunchTemplateID != "" {
		spec := &types.LaunchTemplateSpecification{
			LaunchTemplateId: &desired.LaunchTemplateID,
		}
		if desired.LaunchTemplateVersion != "" {
			spec.Version = &desired.LaunchTemplateVersion
		}
		input.LaunchTemplate = spec
	}
	if desired.AvailabilityZone != "" {
		input.Placement = &types.Placement{AvailabilityZone: &desired.AvailabilityZone}
	}

	resp, err := p.runInstances(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to run instance: %w", err)
	}
	if len(resp.Instances) == 0 {
		return nil, fmt.Errorf("no instances created")
	}
	instanceID := awssdk.ToString(resp.Instances[0].InstanceId)

	waiter := ec2.NewInstanceRunningWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}, instanceWaitTimeout); err != nil {
		return nil, fmt.Errorf("instance %s did not reach running: %w", instanceID, err)
	}

	// Addresses and DNS names appear once the instance is running.
	st := InstanceState{
		ID:                    instanceID,
		LaunchTemplateID:      desired.LaunchTemplateID,
		LaunchTemplateVersion: desired.LaunchTemplateVersion,
		AvailabilityZone:      desired.AvailabilityZone,
		Tags:                  desired.Tags,
	}
	if described, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{instanceID},
	}); err == nil && len(described.Reservations) > 0 && len(described.Reservations[0].Instances) > 0 {
		inst := described.Reservations[0].Instances[0]
		st.PublicDnsName = awssdk.ToString(inst.PublicDnsName)
		st.PublicIP = awssdk.ToString(inst.PublicIpAddress)
		st.PrivateIP = awssdk.ToString(inst.PrivateIpAddress)
		if st.PublicIP == "" {
			st.PublicIP = carrierIP(inst)
		}
	}

	return marshalState(st)
}

// carrierIP digs the carrier address out of the interface associations;
// Wavelength instances have no classic public IP.
func carrierIP(inst types.Instance) string {
	for _, nic := range inst.NetworkInterfaces {
		if nic.Association != nil && nic.Association.CarrierIp != nil {
			return *nic.Association.CarrierIp
		}
	}
	return ""
}

// runInstances retries RunInstances while a newly created instance
// profile is still propagating through IAM.
func (p *Provider) runInstances(ctx context.Context, input *ec2.RunInstancesInput) (*ec2.RunInstancesOutput, error) {
	deadline := time.Now().Add(profilePropagationTimeout)
	for {
		resp, err := p.ec2Client.RunInstances(ctx, input)
		if err == nil {
			return resp, nil
		}
		if !isProfilePropagation(err) || time.Now().After(deadline) {
			return nil, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(profilePropagationDelay):
		}
	}
}

func isProfilePropagation(err error) bool {
	var ae smithy.APIError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.ErrorCode() == "InvalidParameterValue" &&
		strings.Contains(ae.ErrorMessage(), "Invalid IAM Instance Profile")
}

func (p *Provider) deleteInstance(ctx context.Context, st InstanceState) error {
	if st.ID == "" {
		return nil
	}
	_, err := p.ec2Client.TerminateInstances(ctx, &ec2.TerminateInstancesInput{
		InstanceIds: []string{st.ID},
	})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return nil
		}
		return fmt.Errorf("failed to terminate instance %s: %w", st.ID, err)
	}

	// Dependents (subnets, security groups) cannot be deleted until the
	// instance is fully gone, not just shutting down.
	waiter := ec2.NewInstanceTerminatedWaiter(p.ec2Client)
	if err := waiter.Wait(ctx, &ec2.DescribeInstancesInput{
		InstanceIds: []string{st.ID},
	}, instanceWaitTimeout); err != nil {
		return fmt.Errorf("instance %s did not terminate: %w", st.ID, err)
	}
	return nil
}

func (p *Provider) readInstance(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st InstanceState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.ID == "" {
		st.ID = req.Id
	}

	resp, err := p.ec2Client.DescribeInstances(ctx, &ec2.DescribeInstancesInput{InstanceIds: []string{st.ID}})
	if err != nil {
		if isAPIError(err, "InvalidInstanceID.NotFound") {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to describe instance %s: %w", st.ID, err)
	}
	if len(resp.Reservations) == 0 || len(resp.Reservations[0].Instances) == 0 {
		return &provider.ReadResponse{Exists: false}, nil
	}

	inst := resp.Reservations[0].Instances[0]
	if inst.State.Name == types.InstanceStateNameTerminated {
		return &provider.ReadResponse{Exists: false}, nil
	}

	st.PublicDnsName = awssdk.ToString(inst.PublicDnsName)
	st.PublicIP = awssdk.ToString(inst.PublicIpAddress)
	st.PrivateIP = awssdk.ToString(inst.PrivateIpAddress)
	if st.PublicIP == "" {
		st.PublicIP = carrierIP(inst)
	}
	if inst.Placement != nil {
		st.AvailabilityZone = awssdk.ToString(inst.Placement.AvailabilityZone)
	}

	out, _ := json.Marshal(st)
	return &provider.ReadResponse{Exists: true, NewStateJson: out}, nil
}
