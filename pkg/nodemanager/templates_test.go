package nodemanager

import (
	"context"
	"testing"

	"github.com/basinlabs/warden/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateGetListDeleteTemplate(t *testing.T) {
	nm, _ := newTestManager(t)
	ctx := context.Background()

	tmpl, err := nm.CreateTemplate(ctx, types.JobTemplate{
		Name:       "web",
		TaskGroups: []types.TaskGroup{{Name: "web", Tasks: []types.Task{{Name: "nginx"}}}},
	})
	require.NoError(t, err)
	assert.NotEmpty(t, tmpl.ID)
	assert.False(t, tmpl.CreatedAt.IsZero())

	got, err := nm.GetTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	assert.Equal(t, "web", got.Name)

	all, err := nm.ListTemplates(ctx)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	require.NoError(t, nm.DeleteTemplate(ctx, tmpl.ID))
	_, err = nm.GetTemplate(ctx, tmpl.ID)
	assert.Error(t, err)
}

func TestUpdateTemplatePreservesIDAndCreatedAt(t *testing.T) {
	nm, _ := newTestManager(t)
	ctx := context.Background()

	tmpl, err := nm.CreateTemplate(ctx, types.JobTemplate{Name: "v1"})
	require.NoError(t, err)

	updated, err := nm.UpdateTemplate(ctx, tmpl.ID, types.JobTemplate{Name: "v2"})
	require.NoError(t, err)
	assert.Equal(t, tmpl.ID, updated.ID)
	assert.Equal(t, tmpl.CreatedAt, updated.CreatedAt)
	assert.Equal(t, "v2", updated.Name)
	assert.True(t, updated.UpdatedAt.After(tmpl.UpdatedAt) || updated.UpdatedAt.Equal(tmpl.UpdatedAt))
}

func TestJobFromTemplateCopiesTaskGroups(t *testing.T) {
	nm, _ := newTestManager(t)
	ctx := context.Background()

	tmpl, err := nm.CreateTemplate(ctx, types.JobTemplate{
		Name:       "batch",
		TaskGroups: []types.TaskGroup{{Name: "worker", Tasks: []types.Task{{Name: "proc"}}}},
	})
	require.NoError(t, err)

	job, err := nm.JobFromTemplate(ctx, tmpl.ID)
	require.NoError(t, err)
	require.Len(t, job.TaskGroups, 1)
	assert.Equal(t, "worker", job.TaskGroups[0].Name)
	assert.Empty(t, job.ID)
}
