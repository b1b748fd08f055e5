package api

import (
	"net/http"
	"testing"
	"time"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dgnsrekt/chartsync/internal/backend"
	"github.com/dgnsrekt/chartsync/internal/config"
	"github.com/dgnsrekt/chartsync/internal/debounce"
	"github.com/dgnsrekt/chartsync/internal/session"
)

const backendBase = "http://backend.test"

func newRegistryServer(t *testing.T) (http.Handler, *httpmock.MockTransport) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	transport.RegisterResponder(http.MethodGet, backendBase+"/api/settings/SPY",
		httpmock.NewStringResponder(http.StatusNotFound, ""))
	transport.RegisterResponder(http.MethodPut, backendBase+"/api/settings/SPY",
		httpmock.NewStringResponder(http.StatusNoContent, ""))
	transport.RegisterResponder(http.MethodGet, backendBase+"/api/annotations",
		httpmock.NewStringResponder(http.StatusOK, `{"annotations":[]}`))
	transport.RegisterResponder(http.MethodGet, backendBase+"/api/history",
		httpmock.NewStringResponder(http.StatusOK, `{"symbol":"SPY","from_ts":0,"to_ts":1000,"candles":[]}`))
	transport.RegisterResponder(http.MethodPost, backendBase+"/api/annotations",
		httpmock.NewStringResponder(http.StatusCreated, `{"id":"b-1"}`))

	client := backend.NewClient(backendBase, time.Second, 0, backend.WithHTTPClient(&http.Client{Transport: transport}))
	reg := session.NewRegistry(session.Deps{
		Backend:           client,
		Tuning:            config.DefaultTuning(),
		Clock:             debounce.NewManualClock(),
		DefaultResolution: "1h",
		Now:               func() time.Time { return time.Unix(10*86400, 0) },
	})
	t.Cleanup(reg.Close)
	return NewServer(NewRegistryService(reg), Options{}), transport
}

func TestRegistryServiceCreateAndList(t *testing.T) {
	h, transport := newRegistryServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions/spy/annotations",
		`{"kind":"line","start":{"time":100,"value":10},"end":{"time":200,"value":20}}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"backend_id":"b-1"`)
	assert.Equal(t, 1, transport.GetCallCountInfo()["POST "+backendBase+"/api/annotations"])

	rec = do(t, h, http.MethodGet, "/api/v1/sessions/SPY/annotations", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"backend_id":"b-1"`)

	rec = do(t, h, http.MethodGet, "/api/v1/sessions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"symbol":"SPY"`)
}

func TestRegistryServiceValidationAndPresets(t *testing.T) {
	h, _ := newRegistryServer(t)

	rec := do(t, h, http.MethodPost, "/api/v1/sessions/spy/viewport/preset", `{"preset":"1D"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Contains(t, rec.Body.String(), `"preset":"1D"`)

	rec = do(t, h, http.MethodPut, "/api/v1/sessions/spy/viewport", `{"axis":"x","min":9,"max":1}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)

	rec = do(t, h, http.MethodPost, "/api/v1/sessions/spy/hit-test", `{"x":1,"y":1}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, h, http.MethodDelete, "/api/v1/sessions/spy/annotations/missing", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
