package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/energyprogress/nightlight-etl/internal/clock/system"
	"github.com/energyprogress/nightlight-etl/internal/config"
	"github.com/energyprogress/nightlight-etl/internal/id/uuid"
	"github.com/energyprogress/nightlight-etl/internal/nightlight"
	memorystorage "github.com/energyprogress/nightlight-etl/internal/storage/memory"
)

type testEnv struct {
	server *httptest.Server
	areas  *memorystorage.AreaStore
	jobs   *memorystorage.JobStore
}

func newTestEnv(t *testing.T, cfg config.Config) testEnv {
	t.Helper()
	areas := memorystorage.NewAreaStore()
	jobs := memorystorage.NewJobStore()
	timeseries := memorystorage.NewTimeseriesStore()

	srv := NewServer(areas, jobs, timeseries, uuid.New(), system.New(), cfg, zap.NewNop())
	ts := httptest.NewServer(srv.Handler())
	t.Cleanup(ts.Close)
	return testEnv{server: ts, areas: areas, jobs: jobs}
}

func (e testEnv) post(t *testing.T, path string, payload any) *http.Response {
	t.Helper()
	body, err := json.Marshal(payload)
	require.NoError(t, err)
	resp, err := http.Post(e.server.URL+path, "application/json", bytes.NewReader(body))
	require.NoError(t, err)
	return resp
}

func (e testEnv) get(t *testing.T, path string) *http.Response {
	t.Helper()
	resp, err := http.Get(e.server.URL + path)
	require.NoError(t, err)
	return resp
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer func() { _ = resp.Body.Close() }()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func squareGeometry() []nightlight.Point {
	return []nightlight.Point{
		{Lon: 0, Lat: 0}, {Lon: 1, Lat: 0}, {Lon: 1, Lat: 1}, {Lon: 0, Lat: 1}, {Lon: 0, Lat: 0},
	}
}

func TestHealthz(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	resp := env.get(t, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestReadyz(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	resp := env.get(t, "/readyz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestMetricsEndpoint(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	resp := env.get(t, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestCreateAndGetArea(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.post(t, "/v1/areas", createAreaRequest{
		Name:     "harbor district",
		Geometry: squareGeometry(),
		Metadata: map[string]string{"country": "KE"},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Area nightlight.Area `json:"area"`
	}
	decodeBody(t, resp, &created)
	require.NotEmpty(t, created.Area.ID)
	require.Equal(t, "harbor district", created.Area.Name)

	resp = env.get(t, "/v1/areas/"+created.Area.ID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var fetched struct {
		Area nightlight.Area `json:"area"`
	}
	decodeBody(t, resp, &fetched)
	require.Equal(t, created.Area.ID, fetched.Area.ID)
	require.Len(t, fetched.Area.Geometry, 5)
}

func TestCreateAreaRejectsDegenerateGeometry(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.post(t, "/v1/areas", createAreaRequest{
		Name:     "line",
		Geometry: []nightlight.Point{{Lon: 0, Lat: 0}, {Lon: 1, Lat: 1}},
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestGetAreaNotFound(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	resp := env.get(t, "/v1/areas/does-not-exist")
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRequestExportCreatesPendingJob(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.post(t, "/v1/areas", createAreaRequest{Name: "a", Geometry: squareGeometry()})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var created struct {
		Area nightlight.Area `json:"area"`
	}
	decodeBody(t, resp, &created)

	resp = env.post(t, "/v1/areas/"+created.Area.ID+"/export", exportRequest{
		StartDate: "2023-01-01",
		EndDate:   "2023-03-31",
	})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	var accepted struct {
		JobID string `json:"job_id"`
	}
	decodeBody(t, resp, &accepted)
	require.NotEmpty(t, accepted.JobID)

	job, err := env.jobs.Get(context.Background(), accepted.JobID)
	require.NoError(t, err)
	require.Equal(t, nightlight.JobTypeExport, job.Type)
	require.Equal(t, nightlight.JobStatusPending, job.Status)
	require.NotNil(t, job.Metadata.Export)
	require.Equal(t, time.Date(2023, time.January, 1, 0, 0, 0, 0, time.UTC), job.Metadata.Export.StartDate)

	resp = env.get(t, "/v1/jobs/"+accepted.JobID)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestRequestExportValidatesDates(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.post(t, "/v1/areas", createAreaRequest{Name: "a", Geometry: squareGeometry()})
	var created struct {
		Area nightlight.Area `json:"area"`
	}
	decodeBody(t, resp, &created)

	cases := []exportRequest{
		{},
		{StartDate: "not-a-date"},
		{StartDate: "2023-03-01", EndDate: "2023-01-01"},
	}
	for _, c := range cases {
		resp := env.post(t, "/v1/areas/"+created.Area.ID+"/export", c)
		require.Equal(t, http.StatusBadRequest, resp.StatusCode)
		_ = resp.Body.Close()
	}
}

func TestRequestExportUnknownArea(t *testing.T) {
	env := newTestEnv(t, config.Config{})
	resp := env.post(t, "/v1/areas/nope/export", exportRequest{StartDate: "2023-01-01"})
	require.Equal(t, http.StatusNotFound, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestListTimeseries(t *testing.T) {
	env := newTestEnv(t, config.Config{})

	resp := env.get(t, "/v1/areas/area-1/timeseries?from=2023-01-01&to=2023-12-31")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	var body struct {
		Timeseries []nightlight.TimeseriesEntry `json:"timeseries"`
	}
	decodeBody(t, resp, &body)
	require.Empty(t, body.Timeseries)

	resp = env.get(t, "/v1/areas/area-1/timeseries?from=garbage")
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	_ = resp.Body.Close()
}

func TestAPIKeyMiddleware(t *testing.T) {
	cfg := config.Config{}
	cfg.Auth.Enabled = true
	cfg.Auth.APIKey = "sekret"
	env := newTestEnv(t, cfg)

	resp := env.get(t, "/v1/areas/")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
	_ = resp.Body.Close()

	req, err := http.NewRequest(http.MethodGet, env.server.URL+"/v1/areas/", nil)
	require.NoError(t, err)
	req.Header.Set("X-API-Key", "sekret")
	authed, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, authed.StatusCode)
	_ = authed.Body.Close()
}
