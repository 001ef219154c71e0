package nodemanager

import (
	"context"
	"fmt"
	"time"

	"github.com/basinlabs/warden/pkg/types"
	"github.com/google/uuid"
)

// CreateTemplate stores a new job template, assigning it an id.
func (nm *NodeManager) CreateTemplate(ctx context.Context, tmpl types.JobTemplate) (types.JobTemplate, error) {
	if err := ctx.Err(); err != nil {
		return types.JobTemplate{}, err
	}
	nm.mu.Lock()
	defer nm.mu.Unlock()

	now := time.Now()
	tmpl.ID = uuid.NewString()
	tmpl.CreatedAt = now
	tmpl.UpdatedAt = now
	if err := nm.store.UpsertTemplate(&tmpl); err != nil {
		return types.JobTemplate{}, fmt.Errorf("create template %s: %w", tmpl.Name, err)
	}
	return tmpl, nil
}

// UpdateTemplate replaces an existing template's fields, preserving its id
// and creation time.
func (nm *NodeManager) UpdateTemplate(ctx context.Context, id string, tmpl types.JobTemplate) (types.JobTemplate, error) {
	nm.mu.Lock()
	defer nm.mu.Unlock()

	existing, err := nm.store.GetTemplate(id)
	if err != nil {
		return types.JobTemplate{}, err
	}

	tmpl.ID = id
	tmpl.CreatedAt = existing.CreatedAt
	tmpl.UpdatedAt = time.Now()
	if err := nm.store.UpsertTemplate(&tmpl); err != nil {
		return types.JobTemplate{}, fmt.Errorf("update template %s: %w", id, err)
	}
	return tmpl, nil
}

// GetTemplate returns a template by id.
func (nm *NodeManager) GetTemplate(ctx context.Context, id string) (types.JobTemplate, error) {
	t, err := nm.store.GetTemplate(id)
	if err != nil {
		return types.JobTemplate{}, err
	}
	return *t, nil
}

// ListTemplates returns every stored template.
func (nm *NodeManager) ListTemplates(ctx context.Context) ([]types.JobTemplate, error) {
	ts, err := nm.store.ListTemplates()
	if err != nil {
		return nil, err
	}
	out := make([]types.JobTemplate, len(ts))
	for i, t := range ts {
		out[i] = *t
	}
	return out, nil
}

// DeleteTemplate removes a template by id.
func (nm *NodeManager) DeleteTemplate(ctx context.Context, id string) error {
	nm.mu.Lock()
	defer nm.mu.Unlock()
	return nm.store.DeleteTemplate(id)
}

// JobFromTemplate builds a job spec from a stored template, ready to pass to
// SubmitJob. Constraints and task groups are copied so the caller can
// further override them before submission.
func (nm *NodeManager) JobFromTemplate(ctx context.Context, templateID string) (types.Job, error) {
	tmpl, err := nm.store.GetTemplate(templateID)
	if err != nil {
		return types.Job{}, err
	}
	return types.Job{
		TaskGroups:  tmpl.TaskGroups,
		Constraints: tmpl.Constraints,
	}, nil
}
