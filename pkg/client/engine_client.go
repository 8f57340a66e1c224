// Package client provides the public interface for talking to a running
// Orbit node over HTTP.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// EngineClient is the interface client commands use to reach a node.
type EngineClient interface {
	// Health checks whether the node is up.
	Health(ctx context.Context) error

	// Invoke runs one invocation against a pinned deployment version.
	Invoke(ctx context.Context, functionID, versionID string, req InvokeRequest) (*InvokeResult, error)

	// InvokeActive runs one invocation against the function's active version.
	InvokeActive(ctx context.Context, functionID string, req InvokeRequest) (*InvokeResult, error)

	// Status returns the node's runtime summary.
	Status(ctx context.Context) (*NodeStatus, error)

	// Logs returns recent console output for one deployment.
	Logs(ctx context.Context, functionID, versionID string, since time.Duration, tail int) ([]string, error)

	// Invalidate retires warm contexts for a deployment. An empty version
	// retires every version of the function.
	Invalidate(ctx context.Context, functionID, versionID string) (int, error)
}

// InvokeRequest carries the HTTP shape of an invocation.
type InvokeRequest struct {
	Method  string
	Path    string
	Headers map[string]string
	Body    []byte
}

// InvokeResult is the raw outcome of one invocation.
type InvokeResult struct {
	StatusCode int
	Headers    http.Header
	Body       []byte
}

// NodeStatus mirrors the node's /status payload.
type NodeStatus struct {
	WarmContexts int               `json:"warm_contexts"`
	InFlight     int               `json:"in_flight"`
	Queued       int               `json:"queued"`
	Scheduled    int               `json:"scheduled_triggers"`
	Routes       map[string]string `json:"routes"`
	DroppedSinks int64             `json:"dropped_sink_records"`
}

type httpEngineClient struct {
	baseURL    string
	httpClient *http.Client
}

// NewEngineClient creates a client for the node at baseURL.
func NewEngineClient(baseURL string) EngineClient {
	return &httpEngineClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 2 * time.Minute,
		},
	}
}

func (c *httpEngineClient) Health(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("node unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("node health check returned %d", resp.StatusCode)
	}
	return nil
}

func (c *httpEngineClient) Invoke(ctx context.Context, functionID, versionID string, req InvokeRequest) (*InvokeResult, error) {
	target := fmt.Sprintf("%s/invoke/%s/%s", c.baseURL, url.PathEscape(functionID), url.PathEscape(versionID))
	return c.doInvoke(ctx, target, req)
}

func (c *httpEngineClient) InvokeActive(ctx context.Context, functionID string, req InvokeRequest) (*InvokeResult, error) {
	target := fmt.Sprintf("%s/f/%s", c.baseURL, url.PathEscape(functionID))
	return c.doInvoke(ctx, target, req)
}

func (c *httpEngineClient) doInvoke(ctx context.Context, target string, req InvokeRequest) (*InvokeResult, error) {
	if req.Path != "" && req.Path != "/" {
		target += "/" + strings.TrimLeft(req.Path, "/")
	}

	method := req.Method
	if method == "" {
		method = http.MethodPost
	}

	httpReq, err := http.NewRequestWithContext(ctx, method, target, bytes.NewReader(req.Body))
	if err != nil {
		return nil, err
	}
	for name, value := range req.Headers {
		httpReq.Header.Set(name, value)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("invocation request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read invocation response: %w", err)
	}

	return &InvokeResult{
		StatusCode: resp.StatusCode,
		Headers:    resp.Header,
		Body:       body,
	}, nil
}

func (c *httpEngineClient) Status(ctx context.Context) (*NodeStatus, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/status", nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("node unreachable at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("status request returned %d", resp.StatusCode)
	}

	var status NodeStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

func (c *httpEngineClient) Logs(ctx context.Context, functionID, versionID string, since time.Duration, tail int) ([]string, error) {
	target := fmt.Sprintf("%s/logs/%s/%s", c.baseURL, url.PathEscape(functionID), url.PathEscape(versionID))

	query := url.Values{}
	if tail > 0 {
		query.Set("tail", strconv.Itoa(tail))
	}
	if since > 0 {
		query.Set("since", time.Now().Add(-since).UTC().Format(time.RFC3339))
	}
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("log request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("log request returned %d", resp.StatusCode)
	}

	var payload struct {
		Deployment string   `json:"deployment"`
		Logs       []string `json:"logs"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("failed to decode log response: %w", err)
	}
	return payload.Logs, nil
}

func (c *httpEngineClient) Invalidate(ctx context.Context, functionID, versionID string) (int, error) {
	body, err := json.Marshal(map[string]string{
		"function_id": functionID,
		"version_id":  versionID,
	})
	if err != nil {
		return 0, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/admin/invalidate", bytes.NewReader(body))
	if err != nil {
		return 0, err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, fmt.Errorf("invalidate request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("invalidate request returned %d", resp.StatusCode)
	}

	var payload struct {
		Invalidated int `json:"invalidated"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return 0, fmt.Errorf("failed to decode invalidate response: %w", err)
	}
	return payload.Invalidated, nil
}
