package commands

import (
	"bytes"
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chorus/jobs/errors"
	chorustest "github.com/chorus/jobs/internal/testing"
	"github.com/chorus/jobs/plan"
)

const planDoc = `
plans:
  - name: Nightly load
    workspace_id: ws-1
    interval_unit: weeks
    interval_value: 2
    time_zone: American Samoa
    next_run: {year: 3013, month: 7, day: 9, hour: 1, minute: 5, meridiem: am}
    tasks:
      - action: run_sql_file
        target_reference: files/42
  - name: Adhoc
    workspace_id: ws-1
    interval_unit: on_demand
`

func TestParsePlanFile(t *testing.T) {
	t.Run("document with plans key", func(t *testing.T) {
		specs, err := parsePlanFile([]byte(planDoc))
		require.NoError(t, err)
		require.Len(t, specs, 2)
		assert.Equal(t, "Nightly load", specs[0].Name)
		assert.Equal(t, plan.FormValue("2"), specs[0].IntervalValue)
		require.Len(t, specs[0].Tasks, 1)
		assert.Equal(t, "on_demand", specs[1].IntervalUnit)
	})

	t.Run("bare list", func(t *testing.T) {
		specs, err := parsePlanFile([]byte("- name: One\n  interval_unit: on_demand\n"))
		require.NoError(t, err)
		require.Len(t, specs, 1)
		assert.Equal(t, "One", specs[0].Name)
	})

	t.Run("json is yaml", func(t *testing.T) {
		specs, err := parsePlanFile([]byte(`[{"name": "J", "interval_unit": "hours", "interval_value": "3"}]`))
		require.NoError(t, err)
		require.Len(t, specs, 1)
		assert.Equal(t, plan.FormValue("3"), specs[0].IntervalValue)
	})

	t.Run("rejects empty and scalar files", func(t *testing.T) {
		for _, doc := range []string{"", "   \n", "just a string", "plans: []"} {
			_, err := parsePlanFile([]byte(doc))
			assert.Error(t, err, "doc %q", doc)
		}
	})
}

func TestApplyPlans(t *testing.T) {
	ctx := context.Background()
	svc := plan.NewService(plan.NewStore(chorustest.CreateTestDB(t)), nil)

	t.Run("creates every plan", func(t *testing.T) {
		specs, err := parsePlanFile([]byte(planDoc))
		require.NoError(t, err)

		created, err := applyPlans(ctx, svc, specs)
		require.NoError(t, err)
		require.Len(t, created, 2)
		require.NotNil(t, created[0].NextRun)
		assert.Equal(t, "3013-07-09T12:05:00Z", created[0].NextRun.Format(time.RFC3339))
		assert.Nil(t, created[1].NextRun)
		assert.Equal(t, 0, created[1].IntervalValue)
	})

	t.Run("one invalid plan creates nothing", func(t *testing.T) {
		before, err := svc.ListPlans(ctx, "ws-2")
		require.NoError(t, err)
		require.Empty(t, before)

		specs := []plan.Spec{
			{Name: "Good", WorkspaceID: "ws-2", IntervalUnit: "on_demand"},
			{Name: "Bad", WorkspaceID: "ws-2", IntervalUnit: "fortnights", IntervalValue: "1"},
		}
		created, err := applyPlans(ctx, svc, specs)
		require.Error(t, err)
		assert.Empty(t, created)
		assert.True(t, errors.HasFieldCode(err, "interval_unit", errors.CodeInvalidIntervalUnit))

		after, err := svc.ListPlans(ctx, "ws-2")
		require.NoError(t, err)
		assert.Empty(t, after)
	})
}

func TestWritePlanList(t *testing.T) {
	var buf bytes.Buffer
	writePlanList(&buf, nil)
	assert.Equal(t, "No job plans\n", buf.String())

	next := time.Date(3013, 7, 9, 12, 5, 0, 0, time.UTC)
	buf.Reset()
	writePlanList(&buf, []*plan.Plan{
		{ID: "p1", Name: "Nightly", IntervalUnit: "weeks", IntervalValue: 2, NextRun: &next, Enabled: true},
		{ID: "p2", Name: "Adhoc", IntervalUnit: "on_demand", Enabled: true},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	require.Len(t, lines, 3)
	assert.Contains(t, lines[1], "2 weeks")
	assert.Contains(t, lines[1], "3013-07-09 12:05")
	assert.Contains(t, lines[2], "on demand")
}

func TestWriteNextRun(t *testing.T) {
	var buf bytes.Buffer
	next := time.Date(3013, 7, 9, 12, 5, 0, 0, time.UTC)
	require.NoError(t, writeNextRun(&buf, &plan.Plan{
		IntervalUnit: "weeks", IntervalValue: 2, NextRun: &next, TimeZone: "American Samoa",
	}))
	assert.Equal(t, "3013-07-09T12:05:00Z (3013-07-09 01:05 am American Samoa)\n", buf.String())

	buf.Reset()
	require.NoError(t, writeNextRun(&buf, &plan.Plan{IntervalUnit: "on_demand"}))
	assert.Equal(t, "on demand (no scheduled run)\n", buf.String())

	assert.Error(t, writeNextRun(&buf, &plan.Plan{IntervalUnit: "days", IntervalValue: 1, NextRun: &next, TimeZone: "Atlantis"}))
}

func TestRenderConfig(t *testing.T) {
	cfg := testConfig()
	cfg.Worker.Workers = 3

	for _, format := range []string{"toml", "json", "yaml"} {
		data, err := renderConfig(cfg, format)
		require.NoError(t, err, format)
		assert.Contains(t, string(data), "workers", format)
	}

	_, err := renderConfig(cfg, "xml")
	assert.Error(t, err)
}
