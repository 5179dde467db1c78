package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/SzilBalazs/bctools/internal/api/controllers"
	"github.com/SzilBalazs/bctools/internal/app"
	"github.com/SzilBalazs/bctools/internal/domain"
	"github.com/SzilBalazs/bctools/internal/infra/config"
	"github.com/SzilBalazs/bctools/internal/infra/logger"
	"github.com/SzilBalazs/bctools/internal/runner"
	"github.com/labstack/echo/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type okDispatcher struct{}

func (okDispatcher) Dispatch(ctx context.Context, req domain.WorkRequest) (*domain.RunResult, error) {
	return &domain.RunResult{Request: req}, nil
}

type testServer struct {
	e    *echo.Echo
	runs *runner.Manager
	logs *observer.ObservedLogs
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	cfg := &config.Config{}
	cfg.Tablebase.DefaultSource = "6-wdl"
	cfg.Tablebase.Sources = append([]domain.Source(nil), config.DefaultSources...)

	core, logs := observer.New(zap.InfoLevel)
	appCtx := app.NewContext(cfg, logger.NewWithCore(core))
	appCtx.Dispatcher = okDispatcher{}

	runs := runner.NewManager(appCtx)
	e := echo.New()
	RegisterRoutes(e, appCtx, runs)

	return &testServer{e: e, runs: runs, logs: logs}
}

func (s *testServer) do(method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, target, nil)
	}
	rec := httptest.NewRecorder()
	s.e.ServeHTTP(rec, req)
	return rec
}

func TestListSources(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodGet, "/api/tablebases", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp controllers.SourcesResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "6-wdl", resp.Default)
	assert.Len(t, resp.Sources, 2)
}

func TestSubmitDatagen(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/datagen", `{"total": 1000000, "workers": 4}`)
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.KindDatagen, run.Kind)
	assert.Equal(t, domain.StatusPending, run.Status)
	require.NotNil(t, run.Request)
	assert.Equal(t, int64(1000000), run.Request.TotalUnits)

	rec = s.do(http.MethodGet, "/api/runs/"+run.ID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitDatagenBadRequest(t *testing.T) {
	s := newTestServer(t)

	for _, body := range []string{
		`{"total": 10, "workers": 0}`,
		`{"total": -1, "workers": 2}`,
		`{"total": 10}`,
		`not json`,
	} {
		rec := s.do(http.MethodPost, "/api/datagen", body)
		assert.Equal(t, http.StatusBadRequest, rec.Code, body)
	}
	assert.Empty(t, s.runs.List())
}

func TestSubmitSync(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/tablebases/3-4-5/sync", "")
	require.Equal(t, http.StatusAccepted, rec.Code)

	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))
	assert.Equal(t, domain.KindTBSync, run.Kind)
	require.NotNil(t, run.Source)
	assert.Equal(t, "3-4-5", run.Source.Name)

	rec = s.do(http.MethodPost, "/api/tablebases/7-man/sync", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetRunNotFound(t *testing.T) {
	rec := newTestServer(t).do(http.MethodGet, "/api/runs/nope", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListRunsWithoutStore(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodPost, "/api/datagen", `{"total": 10, "workers": 2}`)
	s.do(http.MethodPost, "/api/tablebases/6-wdl/sync", "")

	rec := s.do(http.MethodGet, "/api/runs?limit=10", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp controllers.RunsResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 2, resp.Total)

	rec = s.do(http.MethodGet, "/api/runs?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCancelRun(t *testing.T) {
	s := newTestServer(t)

	rec := s.do(http.MethodPost, "/api/datagen", `{"total": 10, "workers": 2}`)
	require.Equal(t, http.StatusAccepted, rec.Code)
	var run domain.Run
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &run))

	rec = s.do(http.MethodDelete, "/api/runs/"+run.ID, "")
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(http.MethodDelete, "/api/runs/"+run.ID, "")
	assert.Equal(t, http.StatusConflict, rec.Code)
}

func TestRequestsAreLogged(t *testing.T) {
	s := newTestServer(t)
	s.do(http.MethodGet, "/api/tablebases", "")

	entries := s.logs.FilterMessageSnippet("GET /api/tablebases | 200").All()
	assert.Len(t, entries, 1)
}
