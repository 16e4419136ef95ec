package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/pulseworks/reviewpulse/pkg/config"
	"github.com/pulseworks/reviewpulse/pkg/pipeline"
	"github.com/pulseworks/reviewpulse/pkg/store"
)

type emptyScraper struct{}

func (emptyScraper) FetchReviews(
	_ context.Context, _ string, _, _ time.Time,
) ([]*store.Review, error) {
	return nil, nil
}

func setupTestServer(t *testing.T) (*server, store.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	hash, err := bcrypt.GenerateFromPassword(
		[]byte("sesame"), bcrypt.MinCost,
	)
	require.NoError(t, err)

	cfg := config.Default()
	cfg.Database.SQLite.Path = ":memory:"
	cfg.Server.AdminTokenHash = string(hash)

	st := store.NewStore(log, &cfg.Database)
	require.NoError(t, st.Start(context.Background()))
	t.Cleanup(func() { _ = st.Stop() })

	pipe := pipeline.New(log, st, emptyScraper{}, nil, &cfg.Pipeline)

	return &server{
		log:   log,
		cfg:   cfg,
		store: st,
		pipe:  pipe,
		done:  make(chan struct{}),
	}, st
}

func TestHandleHealth(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/health", nil)
	rec := httptest.NewRecorder()

	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}

func TestHandleListRuns(t *testing.T) {
	s, st := setupTestServer(t)
	ctx := context.Background()

	now := time.Now().UTC()

	for i, id := range []string{"a", "b", "c"} {
		require.NoError(t, st.UpsertRunLog(ctx, &store.RunRecord{
			RunID:         id,
			Status:        store.StatusSucceeded,
			TriggerSource: store.TriggerManual,
			TriggeredAt:   now.Add(time.Duration(i) * time.Minute),
		}))
	}

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs?limit=2", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Runs []store.RunRecord `json:"runs"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Runs, 2)
	assert.Equal(t, "c", resp.Runs[0].RunID)
}

func TestHandleGetRun_NotFound(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodGet, "/api/v1/runs/ghost", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestHandleTriggerRun_Accepted(t *testing.T) {
	s, st := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
		bytes.NewBufferString(`{"triggered_by":"dashboard"}`))
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusAccepted, rec.Code)

	var resp map[string]string
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.NotEmpty(t, resp["run_id"])

	// The trigger is in the ledger even before the worker finishes.
	_, err := st.GetRunLog(context.Background(), resp["run_id"])
	assert.NoError(t, err)
}

func TestHandleTriggerRun_ConflictWhileActive(t *testing.T) {
	s, st := setupTestServer(t)
	ctx := context.Background()

	// Seed an active run under this week's identifier.
	weekID := pipeline.WeekID(time.Now().UTC())
	require.NoError(t, st.UpsertRunLog(ctx, &store.RunRecord{
		RunID:         weekID,
		Status:        store.StatusRunning,
		TriggerSource: store.TriggerScheduled,
		TriggeredAt:   time.Now().UTC(),
	}))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs",
		bytes.NewBufferString(`{}`))
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestHandlePurge_AuthAndGuard(t *testing.T) {
	s, st := setupTestServer(t)
	ctx := context.Background()

	body := `{"confirm":"purge-all-data"}`

	// No token.
	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/purge",
		bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Wrong token.
	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/purge",
		bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer wrong")
	rec = httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	// Valid token but an active run blocks the purge.
	require.NoError(t, st.UpsertRunLog(ctx, &store.RunRecord{
		RunID:         "blocker",
		Status:        store.StatusTriggered,
		TriggerSource: store.TriggerManual,
		TriggeredAt:   time.Now().UTC(),
	}))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/purge",
		bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer sesame")
	rec = httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusConflict, rec.Code)

	var resp map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, float64(1), resp["active_runs"])

	// Finish the run; purge now succeeds.
	require.NoError(t, st.UpdateRunStatus(
		ctx, "blocker", store.StatusFailed, store.RunUpdate{},
	))

	req = httptest.NewRequest(http.MethodPost, "/api/v1/admin/purge",
		bytes.NewBufferString(body))
	req.Header.Set("Authorization", "Bearer sesame")
	rec = httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestHandlePurge_RequiresConfirmation(t *testing.T) {
	s, _ := setupTestServer(t)

	req := httptest.NewRequest(http.MethodPost, "/api/v1/admin/purge",
		bytes.NewBufferString(`{"confirm":"yes please"}`))
	req.Header.Set("Authorization", "Bearer sesame")
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestHandleListReviews(t *testing.T) {
	s, st := setupTestServer(t)
	ctx := context.Background()

	at := time.Date(2025, 5, 10, 12, 0, 0, 0, time.UTC)

	_, err := st.SaveReviews(ctx, []*store.Review{{
		Platform:   "ios",
		Rating:     5,
		ReviewText: "love it",
		Date:       at,
	}})
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet,
		"/api/v1/reviews?start=2025-05-01&end=2025-05-31", nil)
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)

	var resp struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 1, resp.Count)

	// Missing parameters are rejected.
	req = httptest.NewRequest(http.MethodGet, "/api/v1/reviews", nil)
	rec = httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}
