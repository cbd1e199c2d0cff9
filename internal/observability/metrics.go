package observability

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics collects the counters and histogram used by the control plane.
type Metrics struct {
	runs      *prometheus.CounterVec
	admission *prometheus.CounterVec
	leases    *prometheus.CounterVec
	failures  *prometheus.CounterVec
	duration  *prometheus.HistogramVec
}

func NewMetrics(registerer prometheus.Registerer) *Metrics {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}

	runs := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runctl_runs_total",
		Help: "Total runs by resulting status.",
	}, []string{"status"})
	admission := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runctl_admission_total",
		Help: "Total POST /runs admissions by outcome.",
	}, []string{"outcome"})
	leases := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runctl_leases_total",
		Help: "Total lease operations by outcome.",
	}, []string{"outcome"})
	failures := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "runctl_runner_failures_total",
		Help: "Total model runner / result sink failures by kind.",
	}, []string{"kind"})
	duration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "runctl_run_duration_seconds",
		Help:    "Wall-clock duration from lease acquisition to finalization.",
		Buckets: prometheus.DefBuckets,
	}, []string{"status"})

	runs = registerCounterVec(registerer, runs)
	admission = registerCounterVec(registerer, admission)
	leases = registerCounterVec(registerer, leases)
	failures = registerCounterVec(registerer, failures)
	duration = registerHistogramVec(registerer, duration)

	return &Metrics{
		runs:      runs,
		admission: admission,
		leases:    leases,
		failures:  failures,
		duration:  duration,
	}
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}

func (m *Metrics) IncRun(status string) {
	if m == nil || m.runs == nil {
		return
	}
	m.runs.WithLabelValues(status).Inc()
}

func (m *Metrics) IncAdmission(outcome string) {
	if m == nil || m.admission == nil {
		return
	}
	m.admission.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncLease(outcome string) {
	if m == nil || m.leases == nil {
		return
	}
	m.leases.WithLabelValues(outcome).Inc()
}

func (m *Metrics) IncFailure(kind string) {
	if m == nil || m.failures == nil {
		return
	}
	m.failures.WithLabelValues(kind).Inc()
}

func (m *Metrics) ObserveRunDuration(status string, seconds float64) {
	if m == nil || m.duration == nil {
		return
	}
	m.duration.WithLabelValues(status).Observe(seconds)
}

func registerCounterVec(registerer prometheus.Registerer, counter *prometheus.CounterVec) *prometheus.CounterVec {
	if err := registerer.Register(counter); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.CounterVec); ok {
				return existing
			}
		}
	}
	return counter
}

func registerHistogramVec(registerer prometheus.Registerer, histogram *prometheus.HistogramVec) *prometheus.HistogramVec {
	if err := registerer.Register(histogram); err != nil {
		if already, ok := err.(prometheus.AlreadyRegisteredError); ok {
			if existing, ok := already.ExistingCollector.(*prometheus.HistogramVec); ok {
				return existing
			}
		}
	}
	return histogram
}
