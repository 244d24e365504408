package http_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	httpadapter "github.com/couchcryptid/seismic-locator/internal/adapter/http"
	"github.com/couchcryptid/seismic-locator/internal/domain"
)

type mockReadiness struct {
	err error
}

func (m *mockReadiness) CheckReadiness(_ context.Context) error { return m.err }

type mockLocater struct {
	result domain.LocateResult
	jobs   []domain.LocateJob
}

func (m *mockLocater) Locate(_ context.Context, job domain.LocateJob) domain.LocateResult {
	m.jobs = append(m.jobs, job)
	res := m.result
	res.EventID = job.EventID
	return res
}

const jobBody = `{
	"event_id": "quake-1",
	"stations": [
		{"network":"IU","station":"ANMO","lat":34.95,"lon":-106.46,"path":"anmo.mseed"},
		{"network":"US","station":"ISCO","lat":35.40,"lon":-105.90,"path":"isco.mseed"},
		{"network":"N4","station":"Z13A","lat":34.60,"lon":-105.80,"path":"z13a.mseed"}
	]
}`

func newTestServer(readyErr error, locater httpadapter.Locater) *httpadapter.Server {
	return httpadapter.NewServer(":0", &mockReadiness{err: readyErr}, locater, slog.Default())
}

func serve(srv *httpadapter.Server, method, path string, body []byte) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	srv.ServeHTTP(rec, httptest.NewRequest(method, path, bytes.NewReader(body)))
	return rec
}

func TestHealthzReturns200(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns200WhenReady(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadyzReturns503WhenNotReady(t *testing.T) {
	rec := serve(newTestServer(fmt.Errorf("not ready yet"), nil), http.MethodGet, "/readyz", nil)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "go_goroutines")
}

func TestLocate_Located(t *testing.T) {
	loc := &mockLocater{result: domain.LocateResult{
		Status:    domain.StatusLocated,
		Epicenter: &domain.Epicenter{Lat: 35.1, Lon: -106.1, Converged: true},
	}}
	rec := serve(newTestServer(nil, loc), http.MethodPost, "/v1/locate", []byte(jobBody))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
	require.Len(t, loc.jobs, 1)
	assert.Equal(t, "IU.ANMO", loc.jobs[0].Stations[0].Key())

	var res domain.LocateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "quake-1", res.EventID)
	require.NotNil(t, res.Epicenter)
	assert.InDelta(t, 35.1, res.Epicenter.Lat, 1e-9)
}

func TestLocate_FailedResult(t *testing.T) {
	loc := &mockLocater{result: domain.LocateResult{Status: domain.StatusFailed, Stage: domain.StagePick, Error: "no onset"}}
	rec := serve(newTestServer(nil, loc), http.MethodPost, "/v1/locate", []byte(jobBody))

	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	var res domain.LocateResult
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, domain.StagePick, res.Stage)
}

func TestLocate_BadRequest(t *testing.T) {
	loc := &mockLocater{}
	srv := newTestServer(nil, loc)

	rec := serve(srv, http.MethodPost, "/v1/locate", []byte("not json"))
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = serve(srv, http.MethodPost, "/v1/locate", []byte(`{"stations":[]}`))
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	assert.Contains(t, rec.Body.String(), "exactly three stations")
	assert.Empty(t, loc.jobs)
}

func TestLocate_NotRoutedWithoutLocater(t *testing.T) {
	rec := serve(newTestServer(nil, nil), http.MethodPost, "/v1/locate", []byte(jobBody))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
