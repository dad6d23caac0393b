package apiclient

import (
	"context"
	"net/url"

	"github.com/lzjever/infrawiz/internal/core"
)

type workspaceEnvelope struct {
	Workspace core.Workspace `json:"workspace"`
}

type workspaceListEnvelope struct {
	Workspaces []core.Workspace `json:"workspaces"`
}

func (c *Client) ListWorkspaces(ctx context.Context) ([]core.Workspace, error) {
	var resp workspaceListEnvelope
	if err := c.get(ctx, "/api/workspaces", "/api/workspaces", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Workspaces, nil
}

func (c *Client) GetWorkspace(ctx context.Context, id string) (*core.Workspace, error) {
	var resp workspaceEnvelope
	if err := c.get(ctx, "/api/workspaces/{id}", "/api/workspaces/"+url.PathEscape(id), nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Workspace, nil
}

type CreateWorkspaceRequest struct {
	ProjectID string `json:"project_id,omitempty"`
	Name      string `json:"name"`
}

func (c *Client) CreateWorkspace(ctx context.Context, req CreateWorkspaceRequest) (*core.Workspace, error) {
	var resp workspaceEnvelope
	if err := c.post(ctx, "/api/workspaces", "/api/workspaces", req, &resp); err != nil {
		return nil, err
	}
	return &resp.Workspace, nil
}

// SaveStateRequest merges Patch into state_json. BaseRevision and BaseHash
// describe the document the patch was computed against; the backend answers
// 409 when they no longer match.
type SaveStateRequest struct {
	Step         core.WizardStep `json:"step,omitempty"`
	Patch        core.StatePatch `json:"state_json"`
	BaseRevision int64           `json:"base_revision"`
	BaseHash     string          `json:"base_hash,omitempty"`
}

func (c *Client) SaveState(ctx context.Context, id string, req SaveStateRequest) (*core.Workspace, error) {
	var resp workspaceEnvelope
	if err := c.put(ctx, "/api/workspaces/{id}", "/api/workspaces/"+url.PathEscape(id), req, &resp); err != nil {
		return nil, err
	}
	return &resp.Workspace, nil
}

func (c *Client) MarkDeployed(ctx context.Context, id string) (*core.Workspace, error) {
	var resp workspaceEnvelope
	if err := c.post(ctx, "/api/workspaces/{id}/deployed", "/api/workspaces/"+url.PathEscape(id)+"/deployed", nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Workspace, nil
}

func (c *Client) DeleteWorkspace(ctx context.Context, id string) error {
	return c.delete(ctx, "/api/workspaces/{id}", "/api/workspaces/"+url.PathEscape(id), nil)
}
