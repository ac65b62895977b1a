// Package metrics defines the Prometheus collectors of the KYC server.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the server collectors. A nil *Metrics is valid and
// records nothing.
type Metrics struct {
	Transitions   *prometheus.CounterVec
	ProviderCalls *prometheus.CounterVec
	CASConflicts  prometheus.Counter
	FetchDuration prometheus.Histogram
	ReaperSweeps  *prometheus.CounterVec
	ReaperExpired prometheus.Counter
}

// New creates the collectors and registers them with reg when it is not nil.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_session_transitions_total",
			Help: "Committed session transitions by event and resulting status.",
		}, []string{"event", "status"}),
		ProviderCalls: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_provider_calls_total",
			Help: "Outbound provider calls by operation and result.",
		}, []string{"op", "result"}),
		CASConflicts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyc_cas_conflicts_total",
			Help: "Session updates that lost an optimistic concurrency race.",
		}),
		FetchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "kyc_document_fetch_duration_seconds",
			Help:    "Wall time of document fetch runs.",
			Buckets: prometheus.DefBuckets,
		}),
		ReaperSweeps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "kyc_reaper_sweeps_total",
			Help: "Expiry sweeps by result.",
		}, []string{"result"}),
		ReaperExpired: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "kyc_reaper_expired_total",
			Help: "Sessions moved to expired by the reaper.",
		}),
	}

	if reg != nil {
		reg.MustRegister(m.Transitions, m.ProviderCalls, m.CASConflicts, m.FetchDuration, m.ReaperSweeps, m.ReaperExpired)
	}
	return m
}

func (m *Metrics) Transition(event, status string) {
	if m == nil {
		return
	}
	m.Transitions.WithLabelValues(event, status).Inc()
}

func (m *Metrics) ProviderCall(op string, err error) {
	if m == nil {
		return
	}
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.ProviderCalls.WithLabelValues(op, result).Inc()
}

func (m *Metrics) CASConflict() {
	if m == nil {
		return
	}
	m.CASConflicts.Inc()
}

func (m *Metrics) ObserveFetch(seconds float64) {
	if m == nil {
		return
	}
	m.FetchDuration.Observe(seconds)
}

func (m *Metrics) Sweep(expired int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.ReaperSweeps.WithLabelValues("error").Inc()
	} else {
		m.ReaperSweeps.WithLabelValues("ok").Inc()
	}
	m.ReaperExpired.Add(float64(expired))
}
