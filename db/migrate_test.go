package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrate(t *testing.T) {
	t.Run("creates every table", func(t *testing.T) {
		db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		for _, table := range []string{"schema_migrations", "job_plans", "job_tasks", "job_results", "dispatch_jobs", "data_sources"} {
			var count int
			err := db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
			require.NoError(t, err)
			assert.Equal(t, 1, count, "table %s should exist", table)
		}

		versions, err := MigrationVersions()
		require.NoError(t, err)
		var recorded int
		require.NoError(t, db.QueryRow("SELECT COUNT(*) FROM schema_migrations").Scan(&recorded))
		assert.Equal(t, len(versions), recorded)
		assert.Equal(t, "000", versions[0])
	})

	t.Run("is idempotent", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		defer db.Close()

		require.NoError(t, Migrate(db, nil))
		require.NoError(t, Migrate(db, nil), "running migrations twice should be safe")
	})

	t.Run("fails on closed database", func(t *testing.T) {
		db, err := Open(filepath.Join(t.TempDir(), "test.db"), nil)
		require.NoError(t, err)
		db.Close()

		assert.Error(t, Migrate(db, nil))
	})
}

func TestJobPlanSchemaEnforcesOnDemandShape(t *testing.T) {
	db, err := OpenWithMigrations(filepath.Join(t.TempDir(), "test.db"), nil)
	require.NoError(t, err)
	defer db.Close()

	insert := `INSERT INTO job_plans (id, name, interval_unit, interval_value, next_run, time_zone, created_at, updated_at)
		VALUES (?, 'p', ?, ?, ?, 'UTC', '2024-01-01T00:00:00Z', '2024-01-01T00:00:00Z')`

	_, err = db.Exec(insert, "ok-demand", "on_demand", 0, nil)
	require.NoError(t, err)

	_, err = db.Exec(insert, "ok-weekly", "weeks", 2, "2024-01-08T00:00:00Z")
	require.NoError(t, err)

	_, err = db.Exec(insert, "bad-demand", "on_demand", 3, nil)
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))

	_, err = db.Exec(insert, "bad-weekly", "weeks", 2, nil)
	require.Error(t, err)
	assert.True(t, IsConstraintViolation(err))
}
