package aws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	awssdk "github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/iam"
	iamtypes "github.com/aws/aws-sdk-go-v2/service/iam/types"

	"github.com/wavekit-io/wavekit/internal/provider"
)

func iamTags(tags map[string]string) []iamtypes.Tag {
	if len(tags) == 0 {
		return nil
	}
	keys := make([]string, 0, len(tags))
	for k := range tags {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]iamtypes.Tag, 0, len(keys))
	for _, k := range keys {
		out = append(out, iamtypes.Tag{Key: awssdk.String(k), Value: awssdk.String(tags[k])})
	}
	return out
}

func isNoSuchEntity(err error) bool {
	var nse *iamtypes.NoSuchEntityException
	return errors.As(err, &nse)
}

// Role

type RoleConfig struct {
	Name             string            `json:"name"`
	AssumeRolePolicy string            `json:"assumeRolePolicy"`
	Description      string            `json:"description"`
	Tags             map[string]string `json:"tags"`
}

type RoleState struct {
	Name             string            `json:"name"`
	ARN              string            `json:"arn"`
	AssumeRolePolicy string            `json:"assumeRolePolicy"`
	Description      string            `json:"description"`
	Tags             map[string]string `json:"tags"`
}

func (p *Provider) applyRole(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior RoleState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteRole(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired RoleConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	if req.PriorStateJson != nil {
		var prior RoleState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.Name != "" {
			if req.Action == provider.ActionUpdate {
				return p.updateRole(ctx, desired, prior)
			}
			// Role names are unique per account; the old role must go
			// before the new one can take its name.
			if err := p.deleteRole(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	input := &iam.CreateRoleInput{
		RoleName:                 &desired.Name,
		AssumeRolePolicyDocument: &desired.AssumeRolePolicy,
		Tags:                     iamTags(desired.Tags),
	}
	if desired.Description != "" {
		input.Description = &desired.Description
	}
	resp, err := p.iamClient.CreateRole(ctx, input)
	if err != nil {
		return nil, fmt.Errorf("failed to create role %s: %w", desired.Name, err)
	}

	return marshalState(RoleState{
		Name:             desired.Name,
		ARN:              awssdk.ToString(resp.Role.Arn),
		AssumeRolePolicy: desired.AssumeRolePolicy,
		Description:      desired.Description,
		Tags:             desired.Tags,
	})
}

func (p *Provider) updateRole(ctx context.Context, desired RoleConfig, prior RoleState) (*provider.ApplyResponse, error) {
	if desired.AssumeRolePolicy != prior.AssumeRolePolicy {
		_, err := p.iamClient.UpdateAssumeRolePolicy(ctx, &iam.UpdateAssumeRolePolicyInput{
			RoleName:       &desired.Name,
			PolicyDocument: &desired.AssumeRolePolicy,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to update assume role policy for %s: %w", desired.Name, err)
		}
	}
	if len(desired.Tags) > 0 {
		_, err := p.iamClient.TagRole(ctx, &iam.TagRoleInput{
			RoleName: &desired.Name,
			Tags:     iamTags(desired.Tags),
		})
		if err != nil {
			return nil, fmt.Errorf("failed to tag role %s: %w", desired.Name, err)
		}
	}
	prior.AssumeRolePolicy = desired.AssumeRolePolicy
	prior.Tags = desired.Tags
	return marshalState(prior)
}

func (p *Provider) deleteRole(ctx context.Context, st RoleState) error {
	if st.Name == "" {
		return nil
	}
	_, err := p.iamClient.DeleteRole(ctx, &iam.DeleteRoleInput{RoleName: &st.Name})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("failed to delete role %s: %w", st.Name, err)
	}
	return nil
}

func (p *Provider) readRole(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st RoleState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.Name == "" {
		st.Name = req.Id
	}

	resp, err := p.iamClient.GetRole(ctx, &iam.GetRoleInput{RoleName: &st.Name})
	if err != nil {
		if isNoSuchEntity(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to get role %s: %w", st.Name, err)
	}
	st.ARN = awssdk.ToString(resp.Role.Arn)
	out, _ := json.Marshal(st)
	return &provider.ReadResponse{Exists: true, NewStateJson: out}, nil
}

// InstanceProfile

type InstanceProfileConfig struct {
	Name string            `json:"name"`
	Role string            `json:"role"`
	Tags map[string]string `json:"tags"`
}

type InstanceProfileState struct {
	Name string            `json:"name"`
	ARN  string            `json:"arn"`
	Role string            `json:"role"`
	Tags map[string]string `json:"tags"`
}

func (p *Provider) applyInstanceProfile(ctx context.Context, req *provider.ApplyRequest) (*provider.ApplyResponse, error) {
	if req.DesiredConfigJson == nil {
		var prior InstanceProfileState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err != nil {
			return nil, fmt.Errorf("failed to unmarshal prior state: %w", err)
		}
		if err := p.deleteInstanceProfile(ctx, prior); err != nil {
			return nil, err
		}
		return &provider.ApplyResponse{}, nil
	}

	var desired InstanceProfileConfig
	if err := json.Unmarshal(req.DesiredConfigJson, &desired); err != nil {
		return nil, fmt.Errorf("failed to unmarshal desired config: %w", err)
	}
	if desired.Name == "" {
		desired.Name = req.Name
	}

	if req.PriorStateJson != nil {
		var prior InstanceProfileState
		if err := json.Unmarshal(req.PriorStateJson, &prior); err == nil && prior.Name != "" {
			if req.Action == provider.ActionUpdate {
				_, err := p.iamClient.TagInstanceProfile(ctx, &iam.TagInstanceProfileInput{
					InstanceProfileName: &desired.Name,
					Tags:                iamTags(desired.Tags),
				})
				if err != nil {
					return nil, fmt.Errorf("failed to tag instance profile %s: %w", desired.Name, err)
				}
				prior.Tags = desired.Tags
				return marshalState(prior)
			}
			if err := p.deleteInstanceProfile(ctx, prior); err != nil {
				return nil, err
			}
		}
	}

	var alreadyExists *iamtypes.EntityAlreadyExistsException
	_, err := p.iamClient.CreateInstanceProfile(ctx, &iam.CreateInstanceProfileInput{
		InstanceProfileName: &desired.Name,
		Tags:                iamTags(desired.Tags),
	})
	if err != nil && !errors.As(err, &alreadyExists) {
		return nil, fmt.Errorf("failed to create instance profile %s: %w", desired.Name, err)
	}

	// A profile holds at most one role; LimitExceeded here means the
	// role is already attached.
	var limitExceeded *iamtypes.LimitExceededException
	_, err = p.iamClient.AddRoleToInstanceProfile(ctx, &iam.AddRoleToInstanceProfileInput{
		InstanceProfileName: &desired.Name,
		RoleName:            &desired.Role,
	})
	if err != nil && !errors.As(err, &limitExceeded) {
		return nil, fmt.Errorf("failed to add role %s to instance profile %s: %w", desired.Role, desired.Name, err)
	}

	// The ARN feeds the launch template, so it has to be fetched.
	resp, err := p.iamClient.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: &desired.Name,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to get instance profile %s: %w", desired.Name, err)
	}

	return marshalState(InstanceProfileState{
		Name: desired.Name,
		ARN:  awssdk.ToString(resp.InstanceProfile.Arn),
		Role: desired.Role,
		Tags: desired.Tags,
	})
}

func (p *Provider) deleteInstanceProfile(ctx context.Context, st InstanceProfileState) error {
	if st.Name == "" {
		return nil
	}
	if st.Role != "" {
		_, _ = p.iamClient.RemoveRoleFromInstanceProfile(ctx, &iam.RemoveRoleFromInstanceProfileInput{
			InstanceProfileName: &st.Name,
			RoleName:            &st.Role,
		})
	}
	_, err := p.iamClient.DeleteInstanceProfile(ctx, &iam.DeleteInstanceProfileInput{
		InstanceProfileName: &st.Name,
	})
	if err != nil && !isNoSuchEntity(err) {
		return fmt.Errorf("failed to delete instance profile %s: %w", st.Name, err)
	}
	return nil
}

func (p *Provider) readInstanceProfile(ctx context.Context, req *provider.ReadRequest) (*provider.ReadResponse, error) {
	var st InstanceProfileState
	if err := json.Unmarshal(req.CurrentStateJson, &st); err != nil {
		return nil, fmt.Errorf("failed to unmarshal current state: %w", err)
	}
	if st.Name == "" {
		st.Name = req.Id
	}

	resp, err := p.iamClient.GetInstanceProfile(ctx, &iam.GetInstanceProfileInput{
		InstanceProfileName: &st.Name,
	})
	if err != nil {
		if isNoSuchEntity(err) {
			return &provider.ReadResponse{Exists: false}, nil
		}
		return nil, fmt.Errorf("failed to get instance profile %s: %w", st.Name, err)
	}
	st.ARN = awssdk.ToString(resp.InstanceProfile.Arn)
	out, _ := json.Marshal(st)
	return &provider.ReadResponse{Exists: true, NewStateJson: out}, nil
}
