package metrics

import (
	"net/http"
	"time"

	prom "github.com/prometheus/client_golang/prometheus"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "statebackend"

// PrometheusRecorder implements Recorder using Prometheus metrics.
type PrometheusRecorder struct {
	reg          *prom.Registry
	opDuration   *prom.HistogramVec
	opResults    *prom.CounterVec
	authFailures *prom.CounterVec
}

var _ Recorder = (*PrometheusRecorder)(nil)

// NewPrometheusRecorder constructs and registers the metrics on reg, or on a
// fresh registry when reg is nil.
func NewPrometheusRecorder(reg *prom.Registry) *PrometheusRecorder {
	if reg == nil {
		reg = prom.NewRegistry()
	}
	pr := &PrometheusRecorder{
		reg: reg,
		opDuration: prom.NewHistogramVec(prom.HistogramOpts{
			Namespace: namespace,
			Name:      "operation_duration_seconds",
			Help:      "Duration of protocol operations",
			Buckets:   prom.DefBuckets,
		}, []string{"operation"}),
		opResults: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "operation_results_total",
			Help:      "Protocol operation counts by outcome",
		}, []string{"operation", "result"}),
		authFailures: prom.NewCounterVec(prom.CounterOpts{
			Namespace: namespace,
			Name:      "auth_failures_total",
			Help:      "Rejected requests by credential failure reason",
		}, []string{"reason"}),
	}
	reg.MustRegister(pr.opDuration, pr.opResults, pr.authFailures)
	return pr
}

func (p *PrometheusRecorder) ObserveOperation(op string, result ResultLabel, d time.Duration) {
	if p == nil || p.opDuration == nil {
		return
	}
	p.opDuration.WithLabelValues(op).Observe(d.Seconds())
	p.opResults.WithLabelValues(op, string(result)).Inc()
}

func (p *PrometheusRecorder) IncAuthFailure(reason string) {
	if p == nil || p.authFailures == nil {
		return
	}
	p.authFailures.WithLabelValues(reason).Inc()
}

// Registry is the registry the recorder's collectors live on.
func (p *PrometheusRecorder) Registry() *prom.Registry {
	return p.reg
}

// HTTPHandler returns an http.Handler that serves Prometheus metrics for the provided registry.
func HTTPHandler(reg *prom.Registry) http.Handler {
	return promhttp.HandlerFor(reg, promhttp.HandlerOpts{EnableOpenMetrics: true})
}
