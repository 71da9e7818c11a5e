package async

import (
	"database/sql"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	chorustest "github.com/chorus/jobs/internal/testing"
)

// newTestQueue returns a queue over a fresh migrated in-memory database.
func newTestQueue(t *testing.T) (*Queue, *sql.DB) {
	t.Helper()
	db := chorustest.CreateTestDB(t)
	return NewQueue(db), db
}

// createTestJob builds a queued job with a small JSON payload.
func createTestJob(t *testing.T, handlerName, dispatchKey string) *Job {
	t.Helper()
	payload, err := json.Marshal(map[string]string{"plan_id": "plan-1", "trigger": "test"})
	require.NoError(t, err)
	job, err := NewJob(handlerName, dispatchKey, payload)
	require.NoError(t, err)
	return job
}
