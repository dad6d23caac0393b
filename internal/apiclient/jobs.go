package apiclient

import (
	"context"
	"fmt"
	"net/url"

	"github.com/lzjever/infrawiz/internal/core"
)

type ProvisionRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Provider    string `json:"provider"`
}

// StartProvision starts terraform apply for the workspace.
func (c *Client) StartProvision(ctx context.Context, req ProvisionRequest) (*core.JobRef, error) {
	var ref core.JobRef
	if err := c.post(ctx, "/api/workflow/deploy/terraform", "/api/workflow/deploy/terraform", req, &ref); err != nil {
		return nil, err
	}
	if err := requireJobID(ref, "provision"); err != nil {
		return nil, err
	}
	return &ref, nil
}

// StartDestroy starts terraform destroy for the workspace.
func (c *Client) StartDestroy(ctx context.Context, req ProvisionRequest) (*core.JobRef, error) {
	var ref core.JobRef
	if err := c.post(ctx, "/api/workflow/deploy/terraform/destroy", "/api/workflow/deploy/terraform/destroy", req, &ref); err != nil {
		return nil, err
	}
	if err := requireJobID(ref, "destroy"); err != nil {
		return nil, err
	}
	return &ref, nil
}

// ProvisionStatus polls an infrastructure job; destroy jobs share it.
func (c *Client) ProvisionStatus(ctx context.Context, id core.JobID) (*core.JobStatusResponse, error) {
	var resp core.JobStatusResponse
	path := "/api/workflow/deploy/" + url.PathEscape(id.String()) + "/status"
	if err := c.get(ctx, "/api/workflow/deploy/{jobId}/status", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type AppDeployRequest struct {
	WorkspaceID  string            `json:"workspace_id"`
	Repo         string            `json:"repo"`
	Branch       string            `json:"branch"`
	Framework    string            `json:"framework,omitempty"`
	BuildCommand string            `json:"build_command,omitempty"`
	StartCommand string            `json:"start_command,omitempty"`
	Port         int               `json:"port,omitempty"`
	Env          map[string]string `json:"env,omitempty"`
}

func (c *Client) StartAppDeploy(ctx context.Context, req AppDeployRequest) (*core.JobRef, error) {
	var ref core.JobRef
	if err := c.post(ctx, "/api/deploy", "/api/deploy", req, &ref); err != nil {
		return nil, err
	}
	if err := requireJobID(ref, "app deploy"); err != nil {
		return nil, err
	}
	return &ref, nil
}

func (c *Client) AppDeployStatus(ctx context.Context, id core.JobID) (*core.JobStatusResponse, error) {
	var resp core.JobStatusResponse
	path := "/api/deploy/" + url.PathEscape(id.String()) + "/status"
	if err := c.get(ctx, "/api/deploy/{jobId}/status", path, nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// JobStatus fetches the status of a job of any kind.
func (c *Client) JobStatus(ctx context.Context, kind core.JobKind, id core.JobID) (*core.JobStatusResponse, error) {
	switch kind {
	case core.JobProvision, core.JobDestroy:
		return c.ProvisionStatus(ctx, id)
	case core.JobAppDeploy:
		return c.AppDeployStatus(ctx, id)
	}
	return nil, core.NewAppError(core.ErrInvalidInput, fmt.Sprintf("unknown job kind %q", kind))
}

// StartJob starts a job of kind for the workspace.
func (c *Client) StartJob(ctx context.Context, kind core.JobKind, workspaceID, provider string, deploy AppDeployRequest) (*core.JobRef, error) {
	switch kind {
	case core.JobProvision:
		return c.StartProvision(ctx, ProvisionRequest{WorkspaceID: workspaceID, Provider: provider})
	case core.JobDestroy:
		return c.StartDestroy(ctx, ProvisionRequest{WorkspaceID: workspaceID, Provider: provider})
	case core.JobAppDeploy:
		deploy.WorkspaceID = workspaceID
		return c.StartAppDeploy(ctx, deploy)
	}
	return nil, core.NewAppError(core.ErrInvalidInput, fmt.Sprintf("unknown job kind %q", kind))
}

func requireJobID(ref core.JobRef, what string) error {
	if ref.JobID == "" {
		return core.NewAppError(core.ErrRequestFailed, what+" was accepted but no job id was returned")
	}
	return nil
}
