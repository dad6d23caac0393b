package apiclient

import (
	"context"
	"net/url"

	"github.com/lzjever/infrawiz/internal/core"
)

// Providers the backend can link.
var Providers = []string{"aws", "azure", "gcp"}

func knownProvider(p string) bool {
	for _, k := range Providers {
		if k == p {
			return true
		}
	}
	return false
}

// ConnectRequest carries the provider-specific identifiers. AWS links via a
// cross-account role and ExternalID, Azure via SubscriptionID, GCP via
// ProjectID.
type ConnectRequest struct {
	WorkspaceID    string `json:"workspace_id"`
	AccountID      string `json:"account_id,omitempty"`
	RoleARN        string `json:"role_arn,omitempty"`
	ExternalID     string `json:"external_id,omitempty"`
	SubscriptionID string `json:"subscription_id,omitempty"`
	TenantID       string `json:"tenant_id,omitempty"`
	ProjectID      string `json:"project_id,omitempty"`
}

type connectionEnvelope struct {
	Connection core.Connection `json:"connection"`
}

func (c *Client) ConnectCloud(ctx context.Context, provider string, req ConnectRequest) (*core.Connection, error) {
	if !knownProvider(provider) {
		return nil, core.NewAppError(core.ErrInvalidInput, "unsupported provider "+provider)
	}
	var resp connectionEnvelope
	path := "/api/cloud/" + url.PathEscape(provider) + "/connect"
	if err := c.post(ctx, "/api/cloud/{provider}/connect", path, req, &resp); err != nil {
		return nil, err
	}
	if resp.Connection.Provider == "" {
		resp.Connection.Provider = provider
	}
	return &resp.Connection, nil
}

type AWSVerifyRequest struct {
	WorkspaceID string `json:"workspace_id"`
	RoleARN     string `json:"role_arn,omitempty"`
	ExternalID  string `json:"external_id"`
}

// VerifyAWS checks that the CloudFormation role stack is in place.
func (c *Client) VerifyAWS(ctx context.Context, req AWSVerifyRequest) (*core.Connection, error) {
	var resp connectionEnvelope
	if err := c.post(ctx, "/api/cloud/aws/verify", "/api/cloud/aws/verify", req, &resp); err != nil {
		return nil, err
	}
	if resp.Connection.Provider == "" {
		resp.Connection.Provider = "aws"
	}
	return &resp.Connection, nil
}

type DisconnectRequest struct {
	WorkspaceID string `json:"workspace_id"`
	Provider    string `json:"provider"`
}

func (c *Client) DisconnectCloud(ctx context.Context, req DisconnectRequest) error {
	return c.post(ctx, "/api/cloud/disconnect", "/api/cloud/disconnect", req, nil)
}

// DeleteAWSStack removes the role stack created for the workspace.
func (c *Client) DeleteAWSStack(ctx context.Context, workspaceID string) error {
	return c.post(ctx, "/api/cloud/aws/delete-stack", "/api/cloud/aws/delete-stack",
		map[string]string{"workspace_id": workspaceID}, nil)
}
