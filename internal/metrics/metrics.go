// Package metrics exposes Prometheus counters for authentication outcomes.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

const namespace = "paysecure"

// Login outcomes
const (
	OutcomeSuccess            = "success"
	OutcomeInvalidCredentials = "invalid_credentials"
	OutcomeLocked             = "locked"
	OutcomeInactive           = "inactive"
	OutcomeError              = "error"
)

// Metrics groups the auth counters. A nil *Metrics is a no-op.
type Metrics struct {
	logins          *prometheus.CounterVec
	lockouts        *prometheus.CounterVec
	refreshes       *prometheus.CounterVec
	revocations     *prometheus.CounterVec
	deviceAnomalies prometheus.Counter
}

// New creates the counters and registers them with reg
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		logins: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "login_attempts_total",
			Help:      "Login attempts by portal and outcome.",
		}, []string{"portal", "outcome"}),
		lockouts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "account_lockouts_total",
			Help:      "Accounts that entered the locked state, by account class.",
		}, []string{"class"}),
		refreshes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "token_refreshes_total",
			Help:      "Refresh token rotations by outcome.",
		}, []string{"outcome"}),
		revocations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_revoked_total",
			Help:      "Sessions deactivated, by reason.",
		}, []string{"reason"}),
		deviceAnomalies: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "session_device_changes_total",
			Help:      "Requests whose device fingerprint differed from the session binding.",
		}),
	}
	reg.MustRegister(m.logins, m.lockouts, m.refreshes, m.revocations, m.deviceAnomalies)
	return m
}

func (m *Metrics) Login(portal, outcome string) {
	if m == nil {
		return
	}
	m.logins.WithLabelValues(portal, outcome).Inc()
}

func (m *Metrics) Lockout(class string) {
	if m == nil {
		return
	}
	m.lockouts.WithLabelValues(class).Inc()
}

func (m *Metrics) Refresh(outcome string) {
	if m == nil {
		return
	}
	m.refreshes.WithLabelValues(outcome).Inc()
}

func (m *Metrics) Revoked(reason string, n int) {
	if m == nil || n <= 0 {
		return
	}
	m.revocations.WithLabelValues(reason).Add(float64(n))
}

func (m *Metrics) DeviceChanged() {
	if m == nil {
		return
	}
	m.deviceAnomalies.Inc()
}
