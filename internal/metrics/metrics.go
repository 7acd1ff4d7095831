// Package metrics holds the Prometheus collectors exported by imapauthd.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics tracks authentication outcomes and IMAP connection setup.
//
// All metrics use the imapauth_ prefix.
type Metrics struct {
	// AttemptsTotal counts authentication requests by result
	// ("accepted", "rejected", "unavailable", "throttled").
	AttemptsTotal *prometheus.CounterVec

	// ConnectDuration tracks how long IMAP connection setup took, by
	// protocol and outcome ("ok", "error", "timeout").
	ConnectDuration *prometheus.HistogramVec

	// LoginDuration tracks the LOGIN round trip.
	LoginDuration prometheus.Histogram
}

// New creates the collectors and registers them with reg. Passing nil
// leaves them unregistered, which tests use.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		AttemptsTotal: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "imapauth_attempts_total",
				Help: "Total authentication attempts by result",
			},
			[]string{"result"},
		),
		ConnectDuration: prometheus.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "imapauth_connect_duration_seconds",
				Help:    "IMAP connection setup duration in seconds",
				Buckets: prometheus.DefBuckets,
			},
			[]string{"protocol", "outcome"},
		),
		LoginDuration: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "imapauth_login_duration_seconds",
				Help:    "IMAP LOGIN round trip in seconds",
				Buckets: prometheus.DefBuckets,
			},
		),
	}
	if reg != nil {
		reg.MustRegister(m.AttemptsTotal, m.ConnectDuration, m.LoginDuration)
	}
	return m
}
