package metrics

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPrometheusRecorderCounts(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)

	r.ObservePass(20*time.Millisecond, 3, 2, 1)
	r.IncPush("reconcile", PushSuccess)
	r.IncPush("reconcile", PushSuccess)
	r.IncPush("write_through", PushFailed)
	r.IncTransition("accepted")
	r.IncRejectedTransition("already_reached")
	r.SetUnsynced(4)
	r.SetOnline(true)

	assert.Equal(t, 2.0, testutil.ToFloat64(r.passTasks.WithLabelValues("synced")))
	assert.Equal(t, 2.0, testutil.ToFloat64(r.pushes.WithLabelValues("reconcile", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.pushes.WithLabelValues("write_through", "failed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.transitions.WithLabelValues("accepted")))
	assert.Equal(t, 4.0, testutil.ToFloat64(r.unsynced))
	assert.Equal(t, 1.0, testutil.ToFloat64(r.online))

	r.SetOnline(false)
	assert.Equal(t, 0.0, testutil.ToFloat64(r.online))
}

func TestNilRecorderIsSafe(t *testing.T) {
	var r *PrometheusRecorder
	assert.NotPanics(t, func() {
		r.ObservePass(time.Second, 1, 1, 0)
		r.IncPush("x", PushSuccess)
		r.SetOnline(true)
	})
}

func TestHTTPHandlerServesMetrics(t *testing.T) {
	reg := prom.NewRegistry()
	r := NewPrometheusRecorder(reg)
	r.SetUnsynced(7)

	rec := httptest.NewRecorder()
	HTTPHandler(reg).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "tracktrip_unsynced_tasks 7")
}

var _ Recorder = NoopRecorder{}
var _ Recorder = (*PrometheusRecorder)(nil)
