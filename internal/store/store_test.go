package store_test

import (
	"context"
	"encoding/json"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"taskhub/internal/migrate"
	"taskhub/internal/store"
)

func openTestStore(t *testing.T) *store.Store {
	t.Helper()
	dsn := os.Getenv("TASKHUB_TEST_DSN")
	if dsn == "" {
		t.Skip("TASKHUB_TEST_DSN not set")
	}
	ctx := context.Background()
	require.NoError(t, migrate.Run(ctx, dsn))

	st, err := store.Open(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })
	require.NoError(t, st.Ping(ctx))
	return st
}

func TestJobLifecycle(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()
	jobType := "test_" + uuid.NewString()[:8]

	job, err := st.CreateJob(ctx, jobType, "Fetch", json.RawMessage(`{"url":"https://example.com"}`))
	require.NoError(t, err)
	assert.Equal(t, "pending", job.Status)
	assert.Equal(t, uuid.Version(7), job.ID.Version())
	assert.False(t, job.Output.Valid)

	claimed, err := st.ClaimPendingJobs(ctx, 100)
	require.NoError(t, err)
	var found bool
	for _, c := range claimed {
		if c.ID == job.ID {
			found = true
			assert.Equal(t, "running", c.Status)
			assert.True(t, c.StartedAt.Valid)
		}
	}
	require.True(t, found, "created job was not claimed")

	require.NoError(t, st.CompleteJob(ctx, job.ID, "done", json.RawMessage(`{"title":"Example"}`)))

	got, err := st.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "success", got.Status)
	assert.Equal(t, "done", got.Message)
	require.True(t, got.Output.Valid)
	assert.JSONEq(t, `{"title":"Example"}`, string(got.Output.RawMessage))
	assert.JSONEq(t, `{"url":"https://example.com"}`, string(got.Input))

	n, err := st.DeleteExpiredJobs(ctx, jobType, time.Now().Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	_, err = st.GetJobByID(ctx, job.ID)
	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestFailJobAndMissingRows(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "test_fail", "", nil)
	require.NoError(t, err)
	require.NoError(t, st.FailJob(ctx, job.ID, "boom"))

	got, err := st.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "failure", got.Status)
	assert.Equal(t, "boom", got.Error.String)

	assert.ErrorIs(t, st.FailJob(ctx, uuid.New(), "x"), store.ErrNotFound)
}

func TestRequeueJobReturnsRunningJobToPending(t *testing.T) {
	st := openTestStore(t)
	ctx := context.Background()

	job, err := st.CreateJob(ctx, "test_requeue", "", nil)
	require.NoError(t, err)
	_, err = st.ClaimPendingJobs(ctx, 100)
	require.NoError(t, err)

	require.NoError(t, st.RequeueJob(ctx, job.ID))

	got, err := st.GetJobByID(ctx, job.ID)
	require.NoError(t, err)
	assert.Equal(t, "pending", got.Status)
	assert.False(t, got.StartedAt.Valid)

	assert.ErrorIs(t, st.RequeueJob(ctx, job.ID), store.ErrNotFound)
}
