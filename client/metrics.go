package client

import "github.com/prometheus/client_golang/prometheus"

// Metrics collects counters around the refresh lifecycle. All methods are
// nil-safe so the collector stays optional.
type Metrics struct {
	refreshAttempts prometheus.Counter
	refreshFailures prometheus.Counter
	retriedRequests prometheus.Counter
}

func NewMetrics() *Metrics {
	return &Metrics{
		refreshAttempts: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_client_refresh_attempts_total",
			Help: "Token refresh exchanges started.",
		}),
		refreshFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_client_refresh_failures_total",
			Help: "Token refresh exchanges that failed.",
		}),
		retriedRequests: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "auth_client_retried_requests_total",
			Help: "Requests replayed after a refresh.",
		}),
	}
}

// Register registers all collectors with reg.
func (m *Metrics) Register(reg prometheus.Registerer) error {
	for _, collector := range []prometheus.Collector{m.refreshAttempts, m.refreshFailures, m.retriedRequests} {
		if err := reg.Register(collector); err != nil {
			return err
		}
	}
	return nil
}

func (m *Metrics) incRefreshAttempts() {
	if m != nil {
		m.refreshAttempts.Inc()
	}
}

func (m *Metrics) incRefreshFailures() {
	if m != nil {
		m.refreshFailures.Inc()
	}
}

func (m *Metrics) incRetriedRequests() {
	if m != nil {
		m.retriedRequests.Inc()
	}
}
