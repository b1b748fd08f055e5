package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestCountersRecord(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Persist("create", "ok")
	m.Persist("create", "ok")
	m.Persist("delete", "error")
	m.SaveStarted()
	m.SaveStarted()
	m.SaveFinished()

	if got := testutil.ToFloat64(m.persistOps.WithLabelValues("create", "ok")); got != 2 {
		t.Fatalf("create/ok = %v; want 2", got)
	}
	if got := testutil.ToFloat64(m.savesInFlight); got != 1 {
		t.Fatalf("saves_in_flight = %v; want 1", got)
	}
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *Metrics
	m.Persist("create", "ok")
	m.HistoryFetch("ok")
	m.LiveReconfigure("ok")
	m.ViewportDecision("fetch")
	m.SaveStarted()
	m.SaveFinished()
	m.SessionOpened()
	m.SessionClosed()
}
