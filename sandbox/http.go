package sandbox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/keplerhq/kepler/insight"
)

// HTTPClient implements Client against a remote workspace service.
//
// Endpoints, all JSON over POST:
//
//	POST {base}/workspaces                    {"project_id"}            -> {"ready"}
//	POST {base}/workspaces/{project}/exec     {"command"}               -> {"stdout","stderr","exit_code"}
//	POST {base}/workspaces/{project}/read     {"path"}                  -> {"content"}
//	POST {base}/workspaces/{project}/repos    {"repository","credential"} -> {"action"}
type HTTPClient struct {
	baseURL string
	client  *http.Client
}

// NewHTTPClient creates a workspace client for the given base URL.
// A zero timeout defaults to 60 seconds; individual calls still honor
// context cancellation.
func NewHTTPClient(baseURL string, timeout time.Duration) *HTTPClient {
	if timeout == 0 {
		timeout = 60 * time.Second
	}
	return &HTTPClient{
		baseURL: baseURL,
		client:  &http.Client{Timeout: timeout},
	}
}

// CreateOrReuseWorkspace implements the Client interface.
func (c *HTTPClient) CreateOrReuseWorkspace(ctx context.Context, projectID string) (Workspace, error) {
	var ws Workspace
	err := c.post(ctx, "/workspaces", map[string]interface{}{"project_id": projectID}, &ws)
	if err != nil {
		return Workspace{}, fmt.Errorf("create workspace: %w", err)
	}
	return ws, nil
}

// ExecCommand implements the Client interface.
func (c *HTTPClient) ExecCommand(ctx context.Context, projectID, command string) (ExecResult, error) {
	var result ExecResult
	err := c.post(ctx, "/workspaces/"+projectID+"/exec", map[string]interface{}{"command": command}, &result)
	if err != nil {
		return ExecResult{}, fmt.Errorf("exec command: %w", err)
	}
	return result, nil
}

// ReadFile implements the Client interface.
func (c *HTTPClient) ReadFile(ctx context.Context, projectID, path string) (string, error) {
	var resp struct {
		Content string `json:"content"`
	}
	err := c.post(ctx, "/workspaces/"+projectID+"/read", map[string]interface{}{"path": path}, &resp)
	if err != nil {
		return "", fmt.Errorf("read file: %w", err)
	}
	return resp.Content, nil
}

// AcquireRepository implements the Client interface.
func (c *HTTPClient) AcquireRepository(ctx context.Context, projectID string, repo insight.Repository, credential string) (AcquireAction, error) {
	var resp struct {
		Action string `json:"action"`
	}
	payload := map[string]interface{}{"repository": repo}
	if credential != "" {
		payload["credential"] = credential
	}
	err := c.post(ctx, "/workspaces/"+projectID+"/repos", payload, &resp)
	if err != nil {
		return "", fmt.Errorf("acquire repository %s: %w", repo.Name, err)
	}
	return AcquireAction(resp.Action), nil
}

func (c *HTTPClient) post(ctx context.Context, path string, payload interface{}, out interface{}) error {
	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute request: %w", err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("workspace service returned %d: %s", resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.Unmarshal(respBody, out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}
