package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/require"
)

func TestServiceRecords(t *testing.T) {
	m := New()

	m.ObserveHTTPRequest(http.MethodGet, "/:course/:year/:ordinal/:group", http.StatusOK, 20*time.Millisecond)
	m.ObserveUpstream("easycourse", OutcomeOK, 12, 150*time.Millisecond)
	m.ObserveUpstream("easycourse", OutcomeTransport, 99, time.Second)
	m.AddEvents("lessons", 7)
	m.AddEvents("lessons", 0)
	m.SetUpstreamUp(true)

	require.Equal(t, float64(1), testutil.ToFloat64(m.requestTotal.WithLabelValues("GET", "/:course/:year/:ordinal/:group", "200")))
	require.Equal(t, float64(12), testutil.ToFloat64(m.recordsTotal.WithLabelValues("easycourse")))
	require.Equal(t, float64(7), testutil.ToFloat64(m.eventsTotal.WithLabelValues("lessons")))
	require.Equal(t, float64(1), testutil.ToFloat64(m.upstreamUp))

	m.SetUpstreamUp(false)
	require.Equal(t, float64(0), testutil.ToFloat64(m.upstreamUp))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := New()
	m.AddEvents("exams", 3)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	require.Equal(t, http.StatusOK, rec.Code)
	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `calfeed_events_emitted_total{feed="exams"} 3`)
	require.Contains(t, string(body), "calfeed_upstream_up")
}

func TestNilServiceIsNoop(t *testing.T) {
	var m *Service
	require.NotPanics(t, func() {
		m.ObserveHTTPRequest("GET", "/", 200, time.Millisecond)
		m.ObserveUpstream("easytest", OutcomeOK, 1, time.Millisecond)
		m.AddEvents("exams", 1)
		m.SetUpstreamUp(true)
	})
	require.Nil(t, m.Registry())

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
