// Package metrics registers and records Prometheus metrics for the
// gateway, backend verifier, and rotation driver.
package metrics

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Authentication metrics
	authAttemptsTotal *prometheus.CounterVec
	authDuration      *prometheus.HistogramVec

	// Token metrics
	tokensMintedTotal  *prometheus.CounterVec
	tokensRenewedTotal prometheus.Counter
	tokenCacheTotal    *prometheus.CounterVec

	// Verification metrics
	verificationsTotal *prometheus.CounterVec

	// Rotation metrics
	rotationStartedTotal   *prometheus.CounterVec
	rotationCompletedTotal *prometheus.CounterVec
	rotationDuration       prometheus.Histogram

	// Resilience metrics
	breakerState        *prometheus.GaugeVec
	degradedGrantsTotal prometheus.Counter

	// Registration guard
	metricsOnce       sync.Once
	metricsRegistered bool
)

// Recorder provides methods to record gateway metrics.
// Metrics are lazily registered on first use.
type Recorder struct{}

// NewRecorder creates a new Recorder instance.
func NewRecorder() *Recorder {
	return &Recorder{}
}

// Init initializes all Prometheus metrics. Call once at startup when
// metrics are enabled; Recorder methods are no-ops until then.
func Init() {
	metricsOnce.Do(func() {
		authAttemptsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authrelay_auth_attempts_total",
				Help: "Total legacy authentication attempts by outcome",
			},
			[]string{"outcome"},
		)

		authDuration = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "authrelay_auth_duration_seconds",
				Help:    "Duration of authentication handling in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"outcome"},
		)

		tokensMintedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authrelay_tokens_minted_total",
				Help: "Total internal tokens minted by credential status",
			},
			[]string{"credential_status"},
		)

		tokensRenewedTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "authrelay_tokens_renewed_total",
				Help: "Total expired tokens renewed within the grace window",
			},
		)

		tokenCacheTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authrelay_token_cache_total",
				Help: "Token cache lookups by result (hit, miss, expired)",
			},
			[]string{"result"},
		)

		verificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authrelay_token_verifications_total",
				Help: "Total backend token verifications by result",
			},
			[]string{"result"},
		)

		rotationStartedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authrelay_rotation_started_total",
				Help: "Total credential rotations started",
			},
			[]string{"origin"},
		)

		rotationCompletedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "authrelay_rotation_completed_total",
				Help: "Total credential rotations finished by terminal state",
			},
			[]string{"state"},
		)

		rotationDuration = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "authrelay_rotation_duration_seconds",
				Help:    "End-to-end duration of credential rotations in seconds",
				Buckets: []float64{60, 300, 900, 1800, 3600, 7200, 14400},
			},
		)

		breakerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "authrelay_breaker_state",
				Help: "Circuit breaker state per dependency (0=closed, 1=open, 2=half-open)",
			},
			[]string{"dependency"},
		)

		degradedGrantsTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "authrelay_degraded_grants_total",
				Help: "Total authentications served from cached metadata while the vault was unreachable",
			},
		)

		metricsRegistered = true
	})
}

// Registered reports whether Init has run.
func Registered() bool {
	return metricsRegistered
}

// RecordAuthAttempt records an authentication attempt and its duration.
func (m *Recorder) RecordAuthAttempt(outcome string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if authAttemptsTotal != nil {
		authAttemptsTotal.WithLabelValues(outcome).Inc()
	}
	if authDuration != nil {
		authDuration.WithLabelValues(outcome).Observe(durationSeconds)
	}
}

// RecordTokenMinted records a freshly minted token.
func (m *Recorder) RecordTokenMinted(credentialStatus string) {
	if !metricsRegistered || tokensMintedTotal == nil {
		return
	}
	tokensMintedTotal.WithLabelValues(credentialStatus).Inc()
}

// RecordTokenRenewed records an expired token renewed in-place.
func (m *Recorder) RecordTokenRenewed() {
	if !metricsRegistered || tokensRenewedTotal == nil {
		return
	}
	tokensRenewedTotal.Inc()
}

// RecordTokenCache records a token cache lookup result.
func (m *Recorder) RecordTokenCache(result string) {
	if !metricsRegistered || tokenCacheTotal == nil {
		return
	}
	tokenCacheTotal.WithLabelValues(result).Inc()
}

// RecordVerification records a backend token verification result.
func (m *Recorder) RecordVerification(result string) {
	if !metricsRegistered || verificationsTotal == nil {
		return
	}
	verificationsTotal.WithLabelValues(result).Inc()
}

// RecordRotationStarted records a rotation start event.
func (m *Recorder) RecordRotationStarted(origin string) {
	if !metricsRegistered || rotationStartedTotal == nil {
		return
	}
	rotationStartedTotal.WithLabelValues(origin).Inc()
}

// RecordRotationCompleted records a rotation reaching a terminal state.
func (m *Recorder) RecordRotationCompleted(state string, durationSeconds float64) {
	if !metricsRegistered {
		return
	}
	if rotationCompletedTotal != nil {
		rotationCompletedTotal.WithLabelValues(state).Inc()
	}
	if rotationDuration != nil {
		rotationDuration.Observe(durationSeconds)
	}
}

// SetBreakerState publishes a circuit breaker state.
func (m *Recorder) SetBreakerState(dependency string, state float64) {
	if !metricsRegistered || breakerState == nil {
		return
	}
	breakerState.WithLabelValues(dependency).Set(state)
}

// RecordDegradedGrant records an authentication served in degraded mode.
func (m *Recorder) RecordDegradedGrant() {
	if !metricsRegistered || degradedGrantsTotal == nil {
		return
	}
	degradedGrantsTotal.Inc()
}
