package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/lzjever/infrawiz/internal/core"
)

// AgentClient talks to the infrawiz-agent watch API.
type AgentClient struct {
	baseURL string
	hc      *http.Client
}

func NewAgentClient(baseURL string) *AgentClient {
	return &AgentClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		hc:      &http.Client{Timeout: 30 * time.Second},
	}
}

func (c *AgentClient) Get(ctx context.Context, path string, out interface{}) error {
	return c.do(ctx, http.MethodGet, path, nil, out)
}

func (c *AgentClient) Post(ctx context.Context, path string, body, out interface{}) error {
	return c.do(ctx, http.MethodPost, path, body, out)
}

func (c *AgentClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.hc.Do(req)
	if err != nil {
		return &core.AppError{
			Code:    core.ErrUnreachable,
			Message: fmt.Sprintf("Cannot connect to the agent at %s.", c.baseURL),
			Err:     err,
		}
	}
	defer resp.Body.Close()
	return parseResponse(resp, out)
}

func parseResponse(resp *http.Response, out interface{}) error {
	b, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode >= 400 {
		var errResp struct {
			Code    string `json:"code"`
			Message string `json:"message"`
		}
		json.Unmarshal(b, &errResp)
		if errResp.Code == "" {
			errResp.Code = string(core.ErrServer)
			errResp.Message = fmt.Sprintf("agent returned %s", resp.Status)
		}
		return &core.AppError{Code: core.ErrorCode(errResp.Code), Message: errResp.Message, Status: resp.StatusCode}
	}
	if out != nil {
		return json.Unmarshal(b, out)
	}
	return nil
}
