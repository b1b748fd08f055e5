//go:build integration

package integration

import (
	"io"
	"net/http"
	"strings"
	"testing"
)

func TestHealth(t *testing.T) {
	resp := env.GET(t, "/healthz")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	requireField(t, string(body), "ok", "body")
}

func TestMetricsExposeSessionGauge(t *testing.T) {
	resp := env.GET(t, "/metrics")
	requireStatus(t, resp, http.StatusOK)
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if !strings.Contains(string(body), "chartsync_") {
		t.Fatal("expected chartsync metrics in exposition")
	}
}

func TestSessionListed(t *testing.T) {
	resp := env.GET(t, "/api/v1/sessions")
	requireStatus(t, resp, http.StatusOK)
	result := decodeJSON[struct {
		Sessions []struct {
			Symbol     string `json:"symbol"`
			Resolution string `json:"resolution"`
		} `json:"sessions"`
	}](t, resp)
	for _, s := range result.Sessions {
		if s.Symbol == env.Symbol {
			if s.Resolution == "" {
				t.Fatal("expected a resolution on the open session")
			}
			return
		}
	}
	t.Fatalf("session %s not listed", env.Symbol)
}
