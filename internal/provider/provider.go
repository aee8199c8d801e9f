// Package provider defines the contract between the engine and resource
// providers. Providers exchange resource configuration and state as raw
// JSON so the engine stays agnostic of per-type schemas.
package provider

import "context"

// Action is a provider's verdict for a single resource.
type Action int32

const (
	ActionNoop Action = iota
	ActionCreate
	ActionUpdate
	ActionReplace
	ActionDelete
)

func (a Action) String() string {
	switch a {
	case ActionCreate:
		return "CREATE"
	case ActionUpdate:
		return "UPDATE"
	case ActionReplace:
		return "REPLACE"
	case ActionDelete:
		return "DELETE"
	default:
		return "NOOP"
	}
}

type DiagnosticSeverity int32

const (
	DiagnosticWarning DiagnosticSeverity = iota
	DiagnosticError
)

// Diagnostic carries a non-fatal problem report from a provider.
type Diagnostic struct {
	Severity DiagnosticSeverity
	Summary  string
	Detail   string
}

// ConfigureRequest carries provider-level settings (region, account).
type ConfigureRequest struct {
	ConfigJson []byte
}

type ConfigureResponse struct {
	Diagnostics []*Diagnostic
}

// PlanRequest asks a provider to diff desired config against prior state
// for one resource.
type PlanRequest struct {
	Type              string
	Name              string
	DesiredConfigJson []byte
	PriorStateJson    []byte
}

type PlanResponse struct {
	Action            Action
	ChangedAttributes []string
}

// ApplyRequest asks a provider to make a resource match desired config.
// A nil DesiredConfigJson with non-nil PriorStateJson means destroy.
// Action carries the planned verdict so providers with prior state can
// tell an in-place update from a replacement.
type ApplyRequest struct {
	Type              string
	Name              string
	Action            Action
	DesiredConfigJson []byte
	PriorStateJson    []byte
}

type ApplyResponse struct {
	NewStateJson []byte
}

// ReadRequest asks a provider to refresh a resource's state from the
// backing service.
type ReadRequest struct {
	Type             string
	Id               string
	CurrentStateJson []byte
}

type ReadResponse struct {
	Exists       bool
	NewStateJson []byte
}

type DeleteRequest struct {
	Type             string
	Id               string
	CurrentStateJson []byte
}

type DeleteResponse struct{}

// Interface is implemented by every resource provider.
type Interface interface {
	Configure(ctx context.Context, req *ConfigureRequest) (*ConfigureResponse, error)
	Plan(ctx context.Context, req *PlanRequest) (*PlanResponse, error)
	Apply(ctx context.Context, req *ApplyRequest) (*ApplyResponse, error)
	Read(ctx context.Context, req *ReadRequest) (*ReadResponse, error)
	Delete(ctx context.Context, req *DeleteRequest) (*DeleteResponse, error)
}
