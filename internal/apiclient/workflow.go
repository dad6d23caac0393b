package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/lzjever/infrawiz/internal/core"
	"github.com/lzjever/infrawiz/internal/validate"
)

type AnalyzeRequest struct {
	Description string `json:"description"`
	WorkspaceID string `json:"workspace_id,omitempty"`
	ProjectID   string `json:"project_id,omitempty"`
	Name        string `json:"name,omitempty"`
}

type Question struct {
	ID       string   `json:"id"`
	Question string   `json:"question"`
	Options  []string `json:"options,omitempty"`
}

type AnalyzeResponse struct {
	WorkspaceID string          `json:"workspace_id"`
	Status      string          `json:"status"`
	Summary     string          `json:"summary,omitempty"`
	Questions   []Question      `json:"questions,omitempty"`
	InfraSpec   json.RawMessage `json:"infraSpec,omitempty"`
}

// NeedsClarification reports whether the backend asked follow-up questions.
func (r *AnalyzeResponse) NeedsClarification() bool {
	return len(r.Questions) > 0
}

// Analyze submits a project description. The description is validated
// locally first and never sent when it fails.
func (c *Client) Analyze(ctx context.Context, req AnalyzeRequest) (*AnalyzeResponse, error) {
	if res := validate.ProjectDescription(req.Description); !res.IsValid {
		return nil, core.NewAppError(core.ErrInvalidInput, res.Error)
	}
	var resp AnalyzeResponse
	if err := c.post(ctx, "/api/workflow/v2/analyze", "/api/workflow/v2/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type ClarifyRequest struct {
	WorkspaceID string            `json:"workspace_id"`
	Answers     map[string]string `json:"answers,omitempty"`
	Confirmed   bool              `json:"confirmed"`
	InfraSpec   json.RawMessage   `json:"infraSpec,omitempty"`
}

// Clarify sends answers to follow-up questions, or confirms the proposed
// architecture when Confirmed is set.
func (c *Client) Clarify(ctx context.Context, req ClarifyRequest) (*AnalyzeResponse, error) {
	var resp AnalyzeResponse
	if err := c.post(ctx, "/api/workflow/analyze", "/api/workflow/analyze", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type UsageRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	InfraSpec   json.RawMessage `json:"infraSpec,omitempty"`
}

type UsageResponse struct {
	UsageProfile json.RawMessage `json:"usageProfile"`
}

func (c *Client) PredictUsage(ctx context.Context, req UsageRequest) (*UsageResponse, error) {
	var resp UsageResponse
	if err := c.post(ctx, "/api/workflow/predict-usage", "/api/workflow/predict-usage", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

type CostRequest struct {
	WorkspaceID     string          `json:"workspace_id"`
	InfraSpec       json.RawMessage `json:"infraSpec,omitempty"`
	UsageProfile    json.RawMessage `json:"usageProfile,omitempty"`
	RemovedServices []string        `json:"removedServices,omitempty"`
}

type ProviderCost struct {
	Provider    string  `json:"provider"`
	MonthlyCost float64 `json:"monthlyCost"`
	Currency    string  `json:"currency,omitempty"`
	Rank        int     `json:"rank,omitempty"`
}

// CostEstimate keeps the raw document for persistence and exposes the
// provider ranking for display.
type CostEstimate struct {
	Recommended string          `json:"recommendedProvider,omitempty"`
	Rankings    []ProviderCost  `json:"rankings"`
	Raw         json.RawMessage `json:"-"`
}

func (c *Client) CostAnalysis(ctx context.Context, req CostRequest) (*CostEstimate, error) {
	var raw json.RawMessage
	if err := c.post(ctx, "/api/workflow/cost-analysis", "/api/workflow/cost-analysis", req, &raw); err != nil {
		return nil, err
	}
	est := CostEstimate{Raw: raw}
	if len(raw) > 0 {
		if err := json.Unmarshal(raw, &est); err != nil {
			return nil, fmt.Errorf("decode cost estimate: %w", err)
		}
	}
	return &est, nil
}

type TerraformRequest struct {
	WorkspaceID string          `json:"workspace_id"`
	Provider    string          `json:"provider"`
	InfraSpec   json.RawMessage `json:"infraSpec,omitempty"`
}

type TerraformProject struct {
	ProjectID string            `json:"project_id,omitempty"`
	Files     map[string]string `json:"files"`
}

func (c *Client) GenerateTerraform(ctx context.Context, req TerraformRequest) (*TerraformProject, error) {
	var resp TerraformProject
	if err := c.post(ctx, "/api/workflow/terraform", "/api/workflow/terraform", req, &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

// ExportTerraform streams the zipped project for workspaceID into w.
func (c *Client) ExportTerraform(ctx context.Context, workspaceID string, w io.Writer) (int64, error) {
	cw := &countingWriter{w: w}
	err := c.do(ctx, request{
		method: http.MethodGet,
		route:  "/api/workflow/export-terraform",
		path:   "/api/workflow/export-terraform",
		query:  url.Values{"workspace_id": {workspaceID}},
		sink:   cw,
	})
	return cw.n, err
}

type countingWriter struct {
	w io.Writer
	n int64
}

func (cw *countingWriter) Write(p []byte) (int, error) {
	n, err := cw.w.Write(p)
	cw.n += int64(n)
	return n, err
}

type Feedback struct {
	WorkspaceID string `json:"workspace_id,omitempty"`
	Rating      int    `json:"rating,omitempty"`
	Message     string `json:"message"`
}

// SubmitFeedback posts user feedback. Callers treat failure as success so
// the wizard is never blocked on it.
func (c *Client) SubmitFeedback(ctx context.Context, fb Feedback) error {
	return c.post(ctx, "/api/feedback", "/api/feedback", fb, nil)
}
