package store_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pulseworks/reviewpulse/pkg/store"
)

func intPtr(v int) *int { return &v }
func strPtr(v string) *string { return &v }
func timePtr(v time.Time) *time.Time { return &v }

func triggeredRun(runID string, at time.Time) *store.RunRecord {
	return &store.RunRecord{
		RunID:         runID,
		Status:        store.StatusTriggered,
		TriggerSource: store.TriggerManual,
		StartDate:     at.AddDate(0, 0, -7),
		EndDate:       at,
		TriggeredAt:   at,
	}
}

func TestRunLedger_FullLifecycle(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.UpsertRunLog(ctx, triggeredRun("r1", now)))

	require.NoError(t, s.UpdateRunStatus(
		ctx, "r1", store.StatusRunning,
		store.RunUpdate{StartedAt: timePtr(now.Add(time.Second))},
	))

	require.NoError(t, s.UpdateRunStatus(
		ctx, "r1", store.StatusSucceeded,
		store.RunUpdate{
			CompletedAt:      timePtr(now.Add(2 * time.Second)),
			ReviewsProcessed: intPtr(42),
			ThemesIdentified: intPtr(7),
		},
	))

	rec, err := s.GetRunLog(ctx, "r1")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, rec.Status)
	require.NotNil(t, rec.ReviewsProcessed)
	assert.Equal(t, 42, *rec.ReviewsProcessed)
	require.NotNil(t, rec.ThemesIdentified)
	assert.Equal(t, 7, *rec.ThemesIdentified)
	require.NotNil(t, rec.StartedAt)
	require.NotNil(t, rec.CompletedAt)

	// Exactly one row across history.
	history, err := s.ListRunHistory(ctx, 0)
	require.NoError(t, err)
	assert.Len(t, history, 1)
}

func TestUpsertRunLog_ReplacesInPlace(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	require.NoError(t, s.UpsertRunLog(ctx, triggeredRun("2025-W30", now)))

	replacement := triggeredRun("2025-W30", now.Add(time.Minute))
	replacement.TriggerSource = store.TriggerAPI
	replacement.TriggeredBy = "dashboard"
	require.NoError(t, s.UpsertRunLog(ctx, replacement))

	history, err := s.ListRunHistory(ctx, 0)
	require.NoError(t, err)
	require.Len(t, history, 1, "upsert must not duplicate the row")

	// The second call's fields win.
	assert.Equal(t, store.TriggerAPI, history[0].TriggerSource)
	assert.Equal(t, "dashboard", history[0].TriggeredBy)
}

func TestUpsertRunLog_Validation(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	err := s.UpsertRunLog(ctx, &store.RunRecord{Status: store.StatusTriggered})
	assert.Error(t, err, "missing run id")

	err = s.UpsertRunLog(ctx, &store.RunRecord{
		RunID: "bad-status", Status: store.RunStatus("exploded"),
	})
	assert.Error(t, err, "unknown status")
}

func TestUpdateRunStatus_UnknownRun(t *testing.T) {
	s := setupTestStore(t)

	err := s.UpdateRunStatus(
		context.Background(), "no-such-run",
		store.StatusRunning, store.RunUpdate{},
	)
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestUpdateRunStatus_IllegalTransitions(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	tests := []struct {
		name string
		from store.RunStatus
		to   store.RunStatus
		ok   bool
	}{
		{"triggered to running", store.StatusTriggered, store.StatusRunning, true},
		{"triggered straight to failed", store.StatusTriggered, store.StatusFailed, true},
		{"triggered straight to succeeded", store.StatusTriggered, store.StatusSucceeded, true},
		{"running to succeeded", store.StatusRunning, store.StatusSucceeded, true},
		{"running to failed", store.StatusRunning, store.StatusFailed, true},
		{"running back to triggered", store.StatusRunning, store.StatusTriggered, false},
		{"succeeded to running", store.StatusSucceeded, store.StatusRunning, false},
		{"failed to succeeded", store.StatusFailed, store.StatusSucceeded, false},
		{"succeeded to failed", store.StatusSucceeded, store.StatusFailed, false},
	}

	for i, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := triggeredRun(tt.name, now.Add(time.Duration(i)*time.Second))
			rec.Status = tt.from
			require.NoError(t, s.UpsertRunLog(ctx, rec))

			err := s.UpdateRunStatus(ctx, rec.RunID, tt.to, store.RunUpdate{})
			if tt.ok {
				assert.NoError(t, err)

				return
			}

			var invalid *store.InvalidTransitionError
			require.True(t, errors.As(err, &invalid))
			assert.Equal(t, tt.from, invalid.From)
			assert.Equal(t, tt.to, invalid.To)

			// The row is untouched on a rejected transition.
			current, err := s.GetRunLog(ctx, rec.RunID)
			require.NoError(t, err)
			assert.Equal(t, tt.from, current.Status)
		})
	}
}

func TestListRunHistory_OrderAndLimit(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	base := time.Now().UTC().Truncate(time.Second)

	for i, id := range []string{"old", "middle", "recent"} {
		require.NoError(t, s.UpsertRunLog(
			ctx, triggeredRun(id, base.Add(time.Duration(i)*time.Hour)),
		))
	}

	history, err := s.ListRunHistory(ctx, 2)
	require.NoError(t, err)
	require.Len(t, history, 2)
	assert.Equal(t, "recent", history[0].RunID)
	assert.Equal(t, "middle", history[1].RunID)
}

func TestGetRunLog_NotFound(t *testing.T) {
	s := setupTestStore(t)

	_, err := s.GetRunLog(context.Background(), "ghost")
	assert.ErrorIs(t, err, store.ErrRunNotFound)
}

func TestCountActiveRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	running := triggeredRun("active-1", now)
	require.NoError(t, s.UpsertRunLog(ctx, running))
	require.NoError(t, s.UpdateRunStatus(
		ctx, "active-1", store.StatusRunning, store.RunUpdate{},
	))

	require.NoError(t, s.UpsertRunLog(ctx, triggeredRun("active-2", now)))

	done := triggeredRun("done", now)
	require.NoError(t, s.UpsertRunLog(ctx, done))
	require.NoError(t, s.UpdateRunStatus(
		ctx, "done", store.StatusFailed,
		store.RunUpdate{ErrorMessage: strPtr("pre-flight validation failed")},
	))

	count, err := s.CountActiveRuns(ctx)
	require.NoError(t, err)
	assert.Equal(t, int64(2), count)
}

func TestReconcileStaleRuns(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	now := time.Now().UTC()

	stale := triggeredRun("stale", now.Add(-48*time.Hour))
	require.NoError(t, s.UpsertRunLog(ctx, stale))
	require.NoError(t, s.UpdateRunStatus(
		ctx, "stale", store.StatusRunning, store.RunUpdate{},
	))

	fresh := triggeredRun("fresh", now)
	require.NoError(t, s.UpsertRunLog(ctx, fresh))

	finished := triggeredRun("finished", now.Add(-72*time.Hour))
	require.NoError(t, s.UpsertRunLog(ctx, finished))
	require.NoError(t, s.UpdateRunStatus(
		ctx, "finished", store.StatusSucceeded, store.RunUpdate{},
	))

	reconciled, err := s.ReconcileStaleRuns(ctx, 24*time.Hour)
	require.NoError(t, err)
	assert.Equal(t, int64(1), reconciled)

	rec, err := s.GetRunLog(ctx, "stale")
	require.NoError(t, err)
	assert.Equal(t, store.StatusFailed, rec.Status)
	assert.Contains(t, rec.ErrorMessage, "abandoned")
	require.NotNil(t, rec.CompletedAt)

	// Terminal and fresh runs are untouched.
	rec, err = s.GetRunLog(ctx, "finished")
	require.NoError(t, err)
	assert.Equal(t, store.StatusSucceeded, rec.Status)

	rec, err = s.GetRunLog(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, store.StatusTriggered, rec.Status)
}
