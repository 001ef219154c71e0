// Package client is a thin HTTP SDK over the control plane's JSON/HTTP
// surface, used by the CLI.
package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/basinlabs/warden/pkg/types"
)

// Client talks to one control plane address over plain HTTP.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// New builds a Client against baseURL (e.g. "http://localhost:7500").
func New(baseURL string) *Client {
	return &Client{baseURL: baseURL, httpClient: &http.Client{Timeout: 10 * time.Second}}
}

type submitJobResponse struct {
	JobID        string `json:"job_id"`
	EvaluationID string `json:"evaluation_id"`
}

type jobRequest struct {
	TaskGroups  []types.TaskGroup  `json:"task_groups"`
	Constraints []types.Constraint `json:"constraints,omitempty"`
	TemplateID  string             `json:"template_id,omitempty"`
}

// SubmitJob submits a new job, optionally seeded from a template.
func (c *Client) SubmitJob(ctx context.Context, groups []types.TaskGroup, constraints []types.Constraint, templateID string) (jobID, evaluationID string, err error) {
	var resp submitJobResponse
	req := jobRequest{TaskGroups: groups, Constraints: constraints, TemplateID: templateID}
	if err := c.do(ctx, http.MethodPost, "/jobs", req, &resp); err != nil {
		return "", "", err
	}
	return resp.JobID, resp.EvaluationID, nil
}

// UpdateJob replaces an existing job's spec.
func (c *Client) UpdateJob(ctx context.Context, jobID string, groups []types.TaskGroup, constraints []types.Constraint) (evaluationID string, err error) {
	var resp map[string]string
	req := jobRequest{TaskGroups: groups, Constraints: constraints}
	if err := c.do(ctx, http.MethodPut, "/jobs/"+jobID, req, &resp); err != nil {
		return "", err
	}
	return resp["evaluation_id"], nil
}

// StopJob stops a job's allocations without removing its rows.
func (c *Client) StopJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodDelete, "/jobs/"+jobID, nil, nil)
}

// DeleteJob fully removes a job and its rows.
func (c *Client) DeleteJob(ctx context.Context, jobID string) error {
	return c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/delete", nil, nil)
}

// RestartJob re-plans a dead job with its original spec.
func (c *Client) RestartJob(ctx context.Context, jobID string) (evaluationID string, err error) {
	var resp map[string]string
	if err := c.do(ctx, http.MethodPost, "/jobs/"+jobID+"/restart", nil, &resp); err != nil {
		return "", err
	}
	return resp["evaluation_id"], nil
}

// GetJob fetches one job with its allocations and task statuses.
func (c *Client) GetJob(ctx context.Context, jobID string) (types.JobInfo, error) {
	var info types.JobInfo
	err := c.do(ctx, http.MethodGet, "/jobs/"+jobID, nil, &info)
	return info, err
}

// ListJobs fetches every job.
func (c *Client) ListJobs(ctx context.Context) ([]types.JobInfo, error) {
	var infos []types.JobInfo
	err := c.do(ctx, http.MethodGet, "/jobs", nil, &infos)
	return infos, err
}

// NodeWithAllocations is one node plus the allocations currently placed on
// it, the shape GET /nodes returns.
type NodeWithAllocations struct {
	types.Node
	Allocations []types.Allocation `json:"allocations"`
}

// ListNodes fetches every node with its current allocations.
func (c *Client) ListNodes(ctx context.Context) ([]NodeWithAllocations, error) {
	var nodes []NodeWithAllocations
	err := c.do(ctx, http.MethodGet, "/nodes", nil, &nodes)
	return nodes, err
}

type templateRequest struct {
	Name        string             `json:"name"`
	Description string             `json:"description,omitempty"`
	TaskGroups  []types.TaskGroup  `json:"task_groups"`
	Constraints []types.Constraint `json:"constraints,omitempty"`
}

// CreateTemplate stores a new job template.
func (c *Client) CreateTemplate(ctx context.Context, name, description string, groups []types.TaskGroup, constraints []types.Constraint) (types.JobTemplate, error) {
	var tmpl types.JobTemplate
	req := templateRequest{Name: name, Description: description, TaskGroups: groups, Constraints: constraints}
	err := c.do(ctx, http.MethodPost, "/templates", req, &tmpl)
	return tmpl, err
}

// GetTemplate fetches one template by id.
func (c *Client) GetTemplate(ctx context.Context, id string) (types.JobTemplate, error) {
	var tmpl types.JobTemplate
	err := c.do(ctx, http.MethodGet, "/templates/"+id, nil, &tmpl)
	return tmpl, err
}

// ListTemplates fetches every stored template.
func (c *Client) ListTemplates(ctx context.Context) ([]types.JobTemplate, error) {
	var tmpls []types.JobTemplate
	err := c.do(ctx, http.MethodGet, "/templates", nil, &tmpls)
	return tmpls, err
}

// UpdateTemplate replaces a template's fields.
func (c *Client) UpdateTemplate(ctx context.Context, id, name, description string, groups []types.TaskGroup, constraints []types.Constraint) (types.JobTemplate, error) {
	var tmpl types.JobTemplate
	req := templateRequest{Name: name, Description: description, TaskGroups: groups, Constraints: constraints}
	err := c.do(ctx, http.MethodPut, "/templates/"+id, req, &tmpl)
	return tmpl, err
}

// DeleteTemplate removes a template by id.
func (c *Client) DeleteTemplate(ctx context.Context, id string) error {
	return c.do(ctx, http.MethodDelete, "/templates/"+id, nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		if err != nil {
			return err
		}
		reqBody = bytes.NewReader(b)
	} else {
		reqBody = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%s %s: %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}
