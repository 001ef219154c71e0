// Package transport implements the control plane's half of the agent-facing
// JSON/HTTP surface: pushing allocation directives to an agent and polling
// an agent's status. It intentionally carries no TLS or authentication —
// that belongs to a deployment's network perimeter, not this module.
package transport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/basinlabs/warden/pkg/types"
)

// defaultTimeout bounds every agent call so one unreachable node can never
// stall a scheduling or cleanup pass indefinitely.
const defaultTimeout = 5 * time.Second

// AgentTransport is how the control plane talks to a specific agent. Each
// Directive is addressed to one allocation; the wire shape is the same
// POST/GET/DELETE surface an agent's own HTTP server exposes.
type AgentTransport interface {
	// Start asks the agent to begin running alloc.
	Start(ctx context.Context, endpoint string, alloc types.Allocation, group types.TaskGroup) error
	// Stop asks the agent to stop and remove an allocation it is running.
	Stop(ctx context.Context, endpoint string, allocationID string) error
	// GetStatus fetches an agent's current view of one allocation.
	GetStatus(ctx context.Context, endpoint string, allocationID string) (types.AllocationHeartbeat, error)
}

// HTTPTransport is the production AgentTransport, one shared client reused
// across every node.
type HTTPTransport struct {
	client *http.Client
}

// NewHTTPTransport builds a transport with a bounded per-request timeout.
func NewHTTPTransport() *HTTPTransport {
	return &HTTPTransport{client: &http.Client{Timeout: defaultTimeout}}
}

// StartRequest is the body POSTed to an agent's /allocations endpoint. The
// agent package decodes this same shape on the receiving end.
type StartRequest struct {
	Allocation types.Allocation `json:"allocation"`
	TaskGroup  types.TaskGroup  `json:"task_group"`
}

func (t *HTTPTransport) Start(ctx context.Context, endpoint string, alloc types.Allocation, group types.TaskGroup) error {
	body := StartRequest{Allocation: alloc, TaskGroup: group}
	return t.postJSON(ctx, endpoint+"/allocations", body, nil)
}

func (t *HTTPTransport) Stop(ctx context.Context, endpoint string, allocationID string) error {
	url := fmt.Sprintf("%s/allocations/%s", endpoint, allocationID)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, http.NoBody)
	if err != nil {
		return err
	}
	resp, err := t.client.Do(req)
	if err != nil {
		return fmt.Errorf("stop allocation %s: %w", allocationID, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Already gone on the agent side; stopping is idempotent.
		return nil
	}
	if resp.StatusCode >= 300 {
		return fmt.Errorf("stop allocation %s: agent returned %d", allocationID, resp.StatusCode)
	}
	return nil
}

func (t *HTTPTransport) GetStatus(ctx context.Context, endpoint string, allocationID string) (types.AllocationHeartbeat, error) {
	var out types.AllocationHeartbeat
	url := fmt.Sprintf("%s/allocations/%s", endpoint, allocationID)
	err := t.getJSON(ctx, url, &out)
	return out, err
}

func (t *HTTPTransport) postJSON(ctx context.Context, url string, body, out any) error {
	reqBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(reqBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func (t *HTTPTransport) getJSON(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, http.NoBody)
	if err != nil {
		return err
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		return fmt.Errorf("http %s: %d", url, resp.StatusCode)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
