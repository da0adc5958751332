package store

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rendis/agentwave/pkg/schema"
)

func newTestStore(t *testing.T) *LibSQLStore {
	t.Helper()
	s, err := NewLibSQLStore("file:" + filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Migrate(context.Background()))
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func samplePlan(name string) schema.PlanDefinition {
	return schema.PlanDefinition{
		Name: name,
		Mode: schema.ModeFailFast,
		Nodes: []schema.NodeDefinition{
			{ID: "a", Agent: "echo", Input: schema.InputDefinition{Content: "hi", Params: map[string]any{"k": "v"}}},
			{ID: "b", Agent: "echo", DependsOn: []string{"a"}},
		},
	}
}

func requireCode(t *testing.T, err error, code string) {
	t.Helper()
	var wErr *schema.Error
	require.ErrorAs(t, err, &wErr)
	assert.Equal(t, code, wErr.Code)
}

func TestMigrate_Idempotent(t *testing.T) {
	s := newTestStore(t)
	require.NoError(t, s.Migrate(context.Background()))
}

// --- Templates ---

func TestSaveTemplate_Versions(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	v1 := &PlanTemplate{Name: "triage", Description: "first", Definition: samplePlan("triage")}
	require.NoError(t, s.SaveTemplate(ctx, v1))
	assert.Equal(t, 1, v1.Version)

	def := samplePlan("triage")
	def.Nodes = def.Nodes[:1]
	v2 := &PlanTemplate{Name: "triage", Definition: def}
	require.NoError(t, s.SaveTemplate(ctx, v2))
	assert.Equal(t, 2, v2.Version)

	latest, err := s.GetTemplate(ctx, "triage", 0)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Version)
	assert.Len(t, latest.Definition.Nodes, 1)
	assert.Empty(t, latest.Description)

	first, err := s.GetTemplate(ctx, "triage", 1)
	require.NoError(t, err)
	assert.Equal(t, "first", first.Description)
	assert.Equal(t, schema.ModeFailFast, first.Definition.Mode)
	assert.Equal(t, []string{"a"}, first.Definition.Nodes[1].DependsOn)
	assert.Equal(t, "v", first.Definition.Nodes[0].Input.Params["k"])
}

func TestGetTemplate_NotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.GetTemplate(context.Background(), "ghost", 0)
	requireCode(t, err, schema.ErrCodeNotFound)

	require.NoError(t, s.SaveTemplate(context.Background(), &PlanTemplate{Name: "p", Definition: samplePlan("p")}))
	_, err = s.GetTemplate(context.Background(), "p", 7)
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestSaveTemplate_RequiresName(t *testing.T) {
	s := newTestStore(t)
	err := s.SaveTemplate(context.Background(), &PlanTemplate{})
	requireCode(t, err, schema.ErrCodeValidation)
}

func TestListTemplates(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	for _, name := range []string{"beta", "alpha", "beta"} {
		require.NoError(t, s.SaveTemplate(ctx, &PlanTemplate{Name: name, Definition: samplePlan(name)}))
	}

	latest, err := s.ListTemplates(ctx, TemplateFilter{})
	require.NoError(t, err)
	require.Len(t, latest, 2)
	assert.Equal(t, "alpha", latest[0].Name)
	assert.Equal(t, "beta", latest[1].Name)
	assert.Equal(t, 2, latest[1].Version)

	all, err := s.ListTemplates(ctx, TemplateFilter{Name: "beta", AllVersions: true})
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, 2, all[0].Version)

	limited, err := s.ListTemplates(ctx, TemplateFilter{AllVersions: true, Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestDeleteTemplate(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, s.SaveTemplate(ctx, &PlanTemplate{Name: "p", Definition: samplePlan("p")}))
	require.NoError(t, s.SaveTemplate(ctx, &PlanTemplate{Name: "p", Definition: samplePlan("p")}))

	require.NoError(t, s.DeleteTemplate(ctx, "p"))
	_, err := s.GetTemplate(ctx, "p", 0)
	requireCode(t, err, schema.ErrCodeNotFound)
	requireCode(t, s.DeleteTemplate(ctx, "p"), schema.ErrCodeNotFound)
}

// --- Thresholds ---

func TestThresholds(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SetThreshold(ctx, "summarizer", 0.6))
	require.NoError(t, s.SetThreshold(ctx, "node-1", 0.4))
	require.NoError(t, s.SetThreshold(ctx, "summarizer", 0.8))

	list, err := s.ListThresholds(ctx)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, "node-1", list[0].Target)
	assert.Equal(t, "summarizer", list[1].Target)
	assert.InDelta(t, 0.8, list[1].Threshold, 1e-9)

	require.NoError(t, s.DeleteThreshold(ctx, "node-1"))
	requireCode(t, s.DeleteThreshold(ctx, "node-1"), schema.ErrCodeNotFound)

	requireCode(t, s.SetThreshold(ctx, "x", 1.2), schema.ErrCodeValidation)
	requireCode(t, s.SetThreshold(ctx, "", 0.5), schema.ErrCodeValidation)
}

// --- Schedules ---

func TestSchedules_CRUD(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	next := time.Now().UTC().Add(time.Hour).Truncate(time.Second)
	sch := &Schedule{
		ID:             uuid.NewString(),
		TemplateName:   "triage",
		CronExpression: "*/5 * * * *",
		Session:        map[string]any{"tenant": "acme"},
		Enabled:        true,
		NextRunAt:      &next,
	}
	require.NoError(t, s.CreateSchedule(ctx, sch))

	got, err := s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.Equal(t, "triage", got.TemplateName)
	assert.Zero(t, got.TemplateVersion)
	assert.True(t, got.Enabled)
	assert.Equal(t, "acme", got.Session["tenant"])
	require.NotNil(t, got.NextRunAt)
	assert.True(t, next.Equal(*got.NextRunAt))
	assert.Nil(t, got.LastRunAt)

	now := time.Now().UTC().Truncate(time.Second)
	disabled := false
	require.NoError(t, s.UpdateSchedule(ctx, sch.ID, ScheduleUpdate{
		Enabled:       &disabled,
		LastRunAt:     &now,
		LastRunStatus: "success",
	}))

	got, err = s.GetSchedule(ctx, sch.ID)
	require.NoError(t, err)
	assert.False(t, got.Enabled)
	assert.Equal(t, "success", got.LastRunStatus)
	require.NotNil(t, got.LastRunAt)

	require.NoError(t, s.UpdateSchedule(ctx, sch.ID, ScheduleUpdate{}))
	requireCode(t, s.UpdateSchedule(ctx, "ghost", ScheduleUpdate{LastRunStatus: "x"}), schema.ErrCodeNotFound)

	require.NoError(t, s.DeleteSchedule(ctx, sch.ID))
	_, err = s.GetSchedule(ctx, sch.ID)
	requireCode(t, err, schema.ErrCodeNotFound)
}

func TestListSchedules_Filter(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	for i, enabled := range []bool{true, false, true} {
		require.NoError(t, s.CreateSchedule(ctx, &Schedule{
			ID:             uuid.NewString(),
			TemplateName:   "p",
			CronExpression: "0 * * * *",
			Enabled:        enabled,
			CreatedAt:      time.Now().UTC().Add(time.Duration(i) * time.Second),
		}))
	}

	all, err := s.ListSchedules(ctx, ScheduleFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	on := true
	enabled, err := s.ListSchedules(ctx, ScheduleFilter{Enabled: &on})
	require.NoError(t, err)
	assert.Len(t, enabled, 2)

	limited, err := s.ListSchedules(ctx, ScheduleFilter{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, limited, 1)
}

func TestSplitStatements(t *testing.T) {
	script := `-- comment only;
CREATE TABLE a (id INTEGER);
-- trailing
CREATE INDEX i ON a (id);
`
	stmts := splitStatements(script)
	require.Len(t, stmts, 2)
	assert.Contains(t, stmts[0], "CREATE TABLE a")
	assert.Contains(t, stmts[1], "CREATE INDEX i")
}
