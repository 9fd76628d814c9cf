package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "tracktrip"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	passDuration prom.Histogram
	passTasks    *prom.CounterVec
	pushes       *prom.CounterVec
	transitions  *prom.CounterVec
	rejections   *prom.CounterVec
	unsynced     prom.Gauge
	online       prom.Gauge
}

// NewPrometheusRecorder constructs and registers the sync metrics on reg.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		passDuration: prom.NewHistogram(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "reconcile_pass_duration_seconds",
			Help:      "Duration of reconciliation passes",
			Buckets:   prom.DefBuckets,
		}),
		passTasks: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "reconcile_tasks_total",
			Help:      "Tasks handled by reconciliation passes by outcome",
		}, []string{"outcome"}),
		pushes: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "remote_pushes_total",
			Help:      "Remote task writes by trigger and result",
		}, []string{"trigger", "result"}),
		transitions: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_transitions_total",
			Help:      "Applied lifecycle transitions by target status",
		}, []string{"status"}),
		rejections: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "lifecycle_rejections_total",
			Help:      "Rejected lifecycle transitions by reason",
		}, []string{"reason"}),
		unsynced: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "unsynced_tasks",
			Help:      "Locally persisted tasks not yet acknowledged remotely",
		}),
		online: prom.NewGauge(prom.GaugeOpts{
			Namespace: namespace,
			Name:      "online",
			Help:      "1 when the remote store is reachable",
		}),
	}
	reg.MustRegister(pr.passDuration, pr.passTasks, pr.pushes, pr.transitions, pr.rejections, pr.unsynced, pr.online)
	return pr
}

func (p *PrometheusRecorder) ObservePass(d time.Duration, attempted, synced, failed int) {
	if p == nil {
		return
	}
	p.passDuration.Observe(d.Seconds())
	p.passTasks.WithLabelValues("attempted").Add(float64(attempted))
	p.passTasks.WithLabelValues("synced").Add(float64(synced))
	p.passTasks.WithLabelValues("failed").Add(float64(failed))
}

func (p *PrometheusRecorder) IncPush(trigger string, result PushResult) {
	if p == nil {
		return
	}
	p.pushes.WithLabelValues(trigger, string(result)).Inc()
}

func (p *PrometheusRecorder) IncTransition(status string) {
	if p == nil {
		return
	}
	p.transitions.WithLabelValues(status).Inc()
}

func (p *PrometheusRecorder) IncRejectedTransition(reason string) {
	if p == nil {
		return
	}
	p.rejections.WithLabelValues(reason).Inc()
}

func (p *PrometheusRecorder) SetUnsynced(n int) {
	if p == nil {
		return
	}
	p.unsynced.Set(float64(n))
}

func (p *PrometheusRecorder) SetOnline(online bool) {
	if p == nil {
		return
	}
	if online {
		p.online.Set(1)
		return
	}
	p.online.Set(0)
}

// HTTPHandler returns an http.Handler exposing metrics registered on reg.
func HTTPHandler(reg *prom.Registry) http.Handler {
	if reg == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
