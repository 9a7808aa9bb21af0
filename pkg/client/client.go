// Package client is a hand-written Go client for the Control-Plane Contract
// HTTP surface (spec §6). Grounded on the teacher's pkg/client/client.go:
// the same functional-options constructor and thin per-operation wrapper
// shape, but talking to the engine's hand-rolled chi routes directly with
// net/http instead of wrapping an oapi-codegen ClientWithResponses — that
// generator was dropped from this engine's DOMAIN STACK since the route
// table is small and fixed (§6), so a generated client bought nothing a
// dozen direct methods didn't already give for less moving parts.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Client talks to the taskorch control-plane HTTP API.
type Client struct {
	baseURL string
	opts    *options
}

// New creates a Client bound to baseURL (e.g. "http://localhost:8080").
func New(baseURL string, opts ...Option) *Client {
	o := defaultOptions()
	for _, opt := range opts {
		opt(o)
	}
	return &Client{baseURL: strings.TrimSuffix(baseURL, "/"), opts: o}
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("taskorch: marshal request: %w", err)
		}
		reader = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return fmt.Errorf("taskorch: build request: %w", err)
	}
	c.opts.applyHeaders(req)

	resp, err := c.opts.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("taskorch: request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("taskorch: read response: %w", err)
	}

	if resp.StatusCode >= 300 {
		var errResp ErrorResponse
		_ = json.Unmarshal(respBody, &errResp)
		return &APIError{StatusCode: resp.StatusCode, Code: errResp.Error, Message: errResp.Message}
	}

	if out == nil || len(respBody) == 0 {
		return nil
	}
	if err := json.Unmarshal(respBody, out); err != nil {
		return fmt.Errorf("taskorch: decode response: %w", err)
	}
	return nil
}

func withNamespace(path, namespace string) string {
	if namespace == "" {
		return path
	}
	q := url.Values{}
	q.Set("namespace", namespace)
	if strings.Contains(path, "?") {
		return path + "&" + q.Encode()
	}
	return path + "?" + q.Encode()
}

// CreateTaskRequest is the body for SubmitTask and SubmitTaskGroup.
type CreateTaskRequest struct {
	TaskGroupID string `json:"task_group_id,omitempty"`
	Prompt      string `json:"prompt"`
	TaskType    string `json:"task_type,omitempty"`
}

// SubmitTask implements enqueue-task (`POST /api/tasks`, §6).
func (c *Client) SubmitTask(ctx context.Context, namespace string, req CreateTaskRequest) (*CreateTaskResponse, error) {
	var out CreateTaskResponse
	if err := c.do(ctx, http.MethodPost, withNamespace("/api/tasks", namespace), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// SubmitTaskGroup implements enqueue-task-group (`POST /api/task-groups`,
// §6): the first-task variant that also mints a fresh task-group-id.
func (c *Client) SubmitTaskGroup(ctx context.Context, namespace string, req CreateTaskRequest) (*CreateTaskResponse, error) {
	var out CreateTaskResponse
	if err := c.do(ctx, http.MethodPost, withNamespace("/api/task-groups", namespace), req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTask implements get-task (`GET /api/tasks/:id`, §6).
func (c *Client) GetTask(ctx context.Context, taskID, namespace string) (*TaskProjection, error) {
	var out TaskProjection
	path := withNamespace("/api/tasks/"+url.PathEscape(taskID), namespace)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListTasksInGroup implements list-tasks-in-group
// (`GET /api/task-groups/:id/tasks`, §6).
func (c *Client) ListTasksInGroup(ctx context.Context, taskGroupID, namespace string) (*ListGroupTasksResponse, error) {
	var out ListGroupTasksResponse
	path := withNamespace("/api/task-groups/"+url.PathEscape(taskGroupID)+"/tasks", namespace)
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListGroups implements list-groups (`GET /api/task-groups`, §6).
func (c *Client) ListGroups(ctx context.Context, namespace string) (*ListGroupsResponse, error) {
	var out ListGroupsResponse
	if err := c.do(ctx, http.MethodGet, withNamespace("/api/task-groups", namespace), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListNamespaces implements list-namespaces (`GET /api/namespaces`, §6).
func (c *Client) ListNamespaces(ctx context.Context) (*ListNamespacesResponse, error) {
	var out ListNamespacesResponse
	if err := c.do(ctx, http.MethodGet, "/api/namespaces", nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// ListRunners implements list-runners-with-status (`GET /api/runners`, §6).
// namespace == "" lists every runner.
func (c *Client) ListRunners(ctx context.Context, namespace string) (*ListRunnersResponse, error) {
	var out ListRunnersResponse
	if err := c.do(ctx, http.MethodGet, withNamespace("/api/runners", namespace), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CancelTask implements update-task-status (`PATCH /api/tasks/:id/status`,
// §6) with the only status a caller may set: CANCELLED.
func (c *Client) CancelTask(ctx context.Context, taskID, namespace string) (*UpdateStatusResponse, error) {
	var out UpdateStatusResponse
	path := withNamespace("/api/tasks/"+url.PathEscape(taskID)+"/status", namespace)
	body := map[string]string{"status": "CANCELLED"}
	if err := c.do(ctx, http.MethodPatch, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Reply implements reply-to-task (`POST /api/tasks/:id/reply`, §6), the
// Review Loop and AWAITING_RESPONSE resolution's entry point for a human.
func (c *Client) Reply(ctx context.Context, taskID, namespace, reply string) (*ReplyResponse, error) {
	var out ReplyResponse
	path := withNamespace("/api/tasks/"+url.PathEscape(taskID)+"/reply", namespace)
	body := map[string]string{"reply": reply}
	if err := c.do(ctx, http.MethodPost, path, body, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetTrace implements get-trace-for-task (`GET /api/tasks/:id/trace`, §6).
// latest, when true, requests only the single most recent progress event.
func (c *Client) GetTrace(ctx context.Context, taskID, namespace string, latest bool) (*Trace, error) {
	var out Trace
	path := "/api/tasks/" + url.PathEscape(taskID) + "/trace"
	q := url.Values{}
	if namespace != "" {
		q.Set("namespace", namespace)
	}
	if latest {
		q.Set("latest", "true")
	}
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	if err := c.do(ctx, http.MethodGet, path, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// Health implements the health operation (`GET /api/health`, §6).
func (c *Client) Health(ctx context.Context, namespace string) (*Health, error) {
	var out Health
	if err := c.do(ctx, http.MethodGet, withNamespace("/api/health", namespace), nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}
