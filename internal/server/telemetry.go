package server

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Telemetry holds the Prometheus collectors exposed at /metrics. The
// CloudWatch publisher covers the Lambda deployment; this covers the
// standalone one, where a scrape endpoint is the natural shape.
type Telemetry struct {
	registry      *prometheus.Registry
	digestRuns    *prometheus.CounterVec
	usersNotified prometheus.Counter
	emailSends    *prometheus.CounterVec
}

// NewTelemetry registers the collectors on a private registry so tests can
// create as many instances as they like.
func NewTelemetry() *Telemetry {
	reg := prometheus.NewRegistry()

	t := &Telemetry{
		registry: reg,
		digestRuns: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veille_digest_runs_total",
			Help: "Digest runs by result.",
		}, []string{"result"}),
		usersNotified: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "veille_digest_users_notified_total",
			Help: "Users whose digest batch send succeeded.",
		}),
		emailSends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "veille_transactional_emails_total",
			Help: "Transactional email sends by kind and result.",
		}, []string{"kind", "result"}),
	}

	reg.MustRegister(t.digestRuns, t.usersNotified, t.emailSends)
	return t
}

// ObserveDigestRun records one run outcome and its notified-user count.
func (t *Telemetry) ObserveDigestRun(result string, usersNotified int) {
	t.digestRuns.WithLabelValues(result).Inc()
	if usersNotified > 0 {
		t.usersNotified.Add(float64(usersNotified))
	}
}

// ObserveEmailSend records one transactional send outcome.
func (t *Telemetry) ObserveEmailSend(kind, result string) {
	t.emailSends.WithLabelValues(kind, result).Inc()
}

// Handler serves the /metrics scrape endpoint.
func (t *Telemetry) Handler() http.Handler {
	return promhttp.HandlerFor(t.registry, promhttp.HandlerOpts{})
}
