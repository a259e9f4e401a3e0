package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the Prometheus instruments for the voting pipeline.
type Metrics struct {
	SessionsStarted     prometheus.Counter
	SessionOutcomes     *prometheus.CounterVec
	VerifyAttempts      prometheus.Counter
	SubmitRetries       prometheus.Counter
	DuplicatesBlocked   prometheus.Counter
	ReconciledVotes     prometheus.Counter
	ConfirmationLatency prometheus.Histogram
}

// New creates all voting metrics on the default registry.
func New() *Metrics {
	return NewWith(prometheus.DefaultRegisterer)
}

// NewWith registers the metrics on the given registry. Tests pass a fresh
// registry so repeated construction does not collide.
func NewWith(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SessionsStarted: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_sessions_started_total",
			Help: "Total number of voting sessions started",
		}),
		SessionOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "ballotgate_session_outcomes_total",
			Help: "Terminal session outcomes by state",
		}, []string{"state"}),
		VerifyAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_verify_attempts_total",
			Help: "Total number of biometric verification attempts",
		}),
		SubmitRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_submit_retries_total",
			Help: "Total number of ledger submission retries",
		}),
		DuplicatesBlocked: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_duplicate_votes_blocked_total",
			Help: "Total number of duplicate vote attempts blocked by the idempotency ledger",
		}),
		ReconciledVotes: factory.NewCounter(prometheus.CounterOpts{
			Name: "ballotgate_reconciled_votes_total",
			Help: "Total number of vote records repaired by the reconciler",
		}),
		ConfirmationLatency: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "ballotgate_confirmation_latency_seconds",
			Help:    "Time from ledger submission to observed confirmation",
			Buckets: []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}),
	}
}

func (m *Metrics) IncrementSessionsStarted() {
	m.SessionsStarted.Inc()
}

func (m *Metrics) RecordOutcome(state string) {
	m.SessionOutcomes.WithLabelValues(state).Inc()
}

func (m *Metrics) IncrementVerifyAttempts() {
	m.VerifyAttempts.Inc()
}

func (m *Metrics) IncrementSubmitRetries() {
	m.SubmitRetries.Inc()
}

func (m *Metrics) IncrementDuplicatesBlocked() {
	m.DuplicatesBlocked.Inc()
}

func (m *Metrics) IncrementReconciledVotes() {
	m.ReconciledVotes.Inc()
}

func (m *Metrics) ObserveConfirmationLatency(d time.Duration) {
	m.ConfirmationLatency.Observe(d.Seconds())
}
