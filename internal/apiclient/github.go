package apiclient

import (
	"context"
	"net/url"
)

type Repo struct {
	ID            int64  `json:"id"`
	FullName      string `json:"full_name"`
	Private       bool   `json:"private"`
	DefaultBranch string `json:"default_branch"`
}

type GitHubStatus struct {
	Connected bool   `json:"connected"`
	Username  string `json:"username,omitempty"`
}

func (c *Client) GitHubStatus(ctx context.Context) (*GitHubStatus, error) {
	var resp GitHubStatus
	if err := c.get(ctx, "/api/github/status", "/api/github/status", nil, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) ListRepos(ctx context.Context) ([]Repo, error) {
	var resp struct {
		Repos []Repo `json:"repos"`
	}
	if err := c.get(ctx, "/api/github/repos", "/api/github/repos", nil, &resp); err != nil {
		return nil, err
	}
	return resp.Repos, nil
}

// ListBranches lists branches of fullName ("owner/repo").
func (c *Client) ListBranches(ctx context.Context, fullName string) ([]string, error) {
	var resp struct {
		Branches []string `json:"branches"`
	}
	q := url.Values{"repo": {fullName}}
	if err := c.get(ctx, "/api/github/branches", "/api/github/branches", q, &resp); err != nil {
		return nil, err
	}
	return resp.Branches, nil
}

type DetectRequest struct {
	Repo   string `json:"repo"`
	Branch string `json:"branch"`
}

type Detection struct {
	Framework    string `json:"framework"`
	BuildCommand string `json:"build_command,omitempty"`
	StartCommand string `json:"start_command,omitempty"`
	Port         int    `json:"port,omitempty"`
}

func (c *Client) DetectFramework(ctx context.Context, req DetectRequest) (*Detection, error) {
	var resp Detection
	if err := c.post(ctx, "/api/github/detect", "/api/github/detect", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ConnectGitHub completes the OAuth exchange with the code GitHub returned.
func (c *Client) ConnectGitHub(ctx context.Context, code string) (*GitHubStatus, error) {
	var resp GitHubStatus
	if err := c.post(ctx, "/api/github/connect", "/api/github/connect", map[string]string{"code": code}, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (c *Client) DisconnectGitHub(ctx context.Context) error {
	return c.delete(ctx, "/api/github/disconnect", "/api/github/disconnect", nil)
}
