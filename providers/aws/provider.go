// Package aws implements the wavekit provider for the AWS resource types
// used by the edge stack: VPC networking, carrier gateways, security
// groups, IAM identity and EC2 launch plumbing.
package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ec2"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/aws/smithy-go"

	"github.com/wavekit-io/wavekit/internal/provider"
)

func init() {
	provider.Register("aws", func() provider.Interface { return New() })
}

// Config is the provider block carried in ConfigureRequest.
type Config struct {
	Region string `json:"region"`
}

type Provider struct {
	mu        sync.Mutex
	region    string
	ec2Client *ec2.Client
	iamClient *iam.Client
	ssmClient *ssm.Client
}

func New() *Provider {
	return &Provider{}
}

// ensureClients lazily builds the SDK clients. Safe for concurrent use;
// the engine applies independent resources in parallel.
func (p *Provider) ensureClients(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.ec2Client != nil {
		return nil
	}

	var opts []func(*config.LoadOptions) error
	if p.region != "" {
		opts = append(opts, config.WithRegion(p.region))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return fmt.Errorf("unable to load AWS SDK config: %w", err)
	}

	p.ec2Client = ec2.NewFromConfig(cfg)
	p.iamClient = iam.NewFromConfig(cfg)
	p.ssmClient = ssm.NewFromConfig(cfg)

	return nil
}

func (p *Provider) Configure(ctx context.Context, req *provider.ConfigureRequest) (*provider.ConfigureResponse, error) {
	var cfg Config
	if len(req.ConfigJson) > 0 {
		if err := json.Unmarshal(req.ConfigJson, &cfg); err != nil {
			return &provider.ConfigureResponse{
				Diagnostics: []*provider.Diagnostic{{
					Severity: provider.DiagnosticError,
					Summary:  "Invalid provider configuration",
					Detail:   err.Error(),
				}},
			}, nil
		}
	}

	p.mu.Lock()
	if cfg.Region != "" && cfg.Region != p.region {
		p.region = cfg.Region
		p.ec2Client = nil
		p.iamClient = nil
		p.ssmClient = nil
	}
	p.mu.Unlock()

	if err := p.ensureClients(ctx); err != nil {
		return &provider.ConfigureResponse{
			Diagnostics: []*provider.Diagnostic{{
				Severity: provider.DiagnosticError,
				Summary:  "Failed to load AWS configuration",
				Detail:   err.Error(),
			}},
		}, nil
	}
	return &provider.ConfigureResponse{}, nil
}

func (p *Provider) Plan(ctx context.Context, req *provider.PlanRequest) (*provider.PlanResponse, error) {
	if req.DesiredConfigJson == nil && req.PriorStateJson != nil {
		return &provider.PlanResponse{Action: provider.ActionDelete}, nil
	}
	if req.PriorStateJson == nil {
		return &provider.PlanResponse{Action: provider.ActionCreate}, nil
	}

	switch req.Type {
	case "aws:EC2.Instance":
		// Instances get a live drift check on top of the config diff.
		return p.planInstance(ctx, req)
	}

	return planDiff(req)
}

func (p *Provider) Apply(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.applyVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.applySubnet(ctx, req)
	case "aws:EC2.CarrierGateway":
		return p.applyCarrierGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.applyRouteTable(ctx, req)
	case "aws:EC2.Route":
		return p.applyRoute(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.applySecurityGroup(ctx, req)
	case "aws:EC2.LaunchTemplate":
		return p.applyLaunchTemplate(ctx, req)
	case "aws:EC2.Instance":
		return p.applyInstance(ctx, req)
	case "aws:IAM.Role":
		return p.applyRole(ctx, req)
	case "aws:IAM.InstanceProfile":
		return p.applyInstanceProfile(ctx, req)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

func (p *Provider) Read(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		return p.readVpc(ctx, req)
	case "aws:EC2.Subnet":
		return p.readSubnet(ctx, req)
	case "aws:EC2.CarrierGateway":
		return p.readCarrierGateway(ctx, req)
	case "aws:EC2.RouteTable":
		return p.readRouteTable(ctx, req)
	case "aws:EC2.Route":
		return p.readRoute(ctx, req)
	case "aws:EC2.SecurityGroup":
		return p.readSecurityGroup(ctx, req)
	case "aws:EC2.LaunchTemplate":
		return p.readLaunchTemplate(ctx, req)
	case "aws:EC2.Instance":
		return p.readInstance(ctx, req)
	case "aws:IAM.Role":
		return p.readRole(ctx, req)
	case "aws:IAM.InstanceProfile":
		return p.readInstanceProfile(ctx, req)
	}

	// Types without a read path are assumed unchanged.
	return &provider.ReadResponse{Exists: true, NewStateJson: req.CurrentStateJson}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) (*provider.DeleteResponse, error) {
	if err := p.ensureClients(ctx); err != nil {
		return nil, err
	}

	switch req.Type {
	case "aws:EC2.Vpc":
		var st VpcState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteVpc(ctx, st)
	case "aws:EC2.Subnet":
		var st SubnetState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteSubnet(ctx, st)
	case "aws:EC2.CarrierGateway":
		var st CarrierGatewayState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteCarrierGateway(ctx, st)
	case "aws:EC2.RouteTable":
		var st RouteTableState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteRouteTable(ctx, st)
	case "aws:EC2.Route":
		var st RouteState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteRoute(ctx, st)
	case "aws:EC2.SecurityGroup":
		var st SecurityGroupState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteSecurityGroup(ctx, st)
	case "aws:EC2.LaunchTemplate":
		var st LaunchTemplateState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteLaunchTemplate(ctx, st)
	case "aws:EC2.Instance":
		var st InstanceState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteInstance(ctx, st)
	case "aws:IAM.Role":
		var st RoleState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteRole(ctx, st)
	case "aws:IAM.InstanceProfile":
		var st InstanceProfileState
		_ = json.Unmarshal(req.CurrentStateJson, &st)
		return &provider.DeleteResponse{}, p.deleteInstanceProfile(ctx, st)
	}

	return nil, fmt.Errorf("unknown resource type: %s", req.Type)
}

// updatableKeys lists, per type, the attributes that can change without a
// replacement. Everything else forces one; most EC2 network attributes
// are immutable anyway.
var updatableKeys = map[string]map[string]bool{
	"aws:IAM.Role": {"tags": true, "assumeRolePolicy": true},
}

func keyIsUpdatable(typ, key string) bool {
	if key == "tags" {
		return true
	}
	if keys, ok := updatableKeys[typ]; ok {
		return keys[key]
	}
	return false
}

// planDiff compares the desired configuration against the attributes the
// last apply echoed into state. Attributes the state does not track are
// skipped; computed state attributes (ids, ARNs) never match a config
// key, so they do not participate.
func planDiff(req *provider.PlanRequest) (*provider.PlanResponse, error) {
	var desired, prior map[string]any
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
		return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
	}

	var changed []string
	for k, dv := range desired {
		pv, ok := prior[k]
		if !ok {
			continue
		}
		if fmt.Sprintf("%v", dv) != fmt.Sprintf("%v", pv) {
			changed = append(changed, k)
		}
	}

	if len(changed) == 0 {
		return &provider.PlanResponse{Action: provider.ActionNoop}, nil
	}
	sort.Strings(changed)

	action := provider.ActionUpdate
	for _, k := range changed {
		if !keyIsUpdatable(req.Type, k) {
			action = provider.ActionReplace
			break
		}
	}

	return &provider.PlanResponse{Action: action, ChangedAttributes: changed}, nil
}

// isAPIError reports whether err is a smithy API error with the given code.
func isAPIError(err error, code string) bool {
	var ae smithy.APIError
	return errors.As(err, &ae) && ae.ErrorCode() == code
}
