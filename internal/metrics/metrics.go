package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds Prometheus collectors for the session lifecycle core.
// Collectors register against the provided registerer so parallel test
// instances stay isolated.
type Metrics struct {
	Broadcasts          *prometheus.CounterVec
	ListenerFaults      prometheus.Counter
	RefreshTotal        *prometheus.CounterVec
	RefreshDuration     prometheus.Histogram
	ActiveSessions      prometheus.Gauge
	SessionsExpired     *prometheus.CounterVec
	SyncTotal           *prometheus.CounterVec
	PendingOperations   prometheus.Gauge
	ErrorsHandled       *prometheus.CounterVec
	SecurityEvents      *prometheus.CounterVec
	LockedAccounts      prometheus.Gauge
	RateLimitExceeded   prometheus.Counter
	RetryAttempts       prometheus.Counter
	OfflineTransactions *prometheus.CounterVec
}

// New registers and returns the lifecycle metrics collectors.
func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Broadcasts: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_auth_state_broadcasts_total",
			Help: "Total auth state broadcasts by source",
		}, []string{"source"}),
		ListenerFaults: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_listener_faults_total",
			Help: "Total isolated listener callback failures",
		}),
		RefreshTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_token_refresh_total",
			Help: "Total token refresh cycles by result",
		}, []string{"result"}),
		RefreshDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "authcore_token_refresh_duration_seconds",
			Help:    "Duration of token refresh cycles",
			Buckets: prometheus.DefBuckets,
		}),
		ActiveSessions: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_active_sessions",
			Help: "Current number of active client sessions",
		}),
		SessionsExpired: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_sessions_expired_total",
			Help: "Total sessions expired by reason",
		}, []string{"reason"}),
		SyncTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_network_sync_total",
			Help: "Total network resilience sync runs by result",
		}, []string{"result"}),
		PendingOperations: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_pending_operations",
			Help: "Auth operations queued for replay after connectivity loss",
		}),
		ErrorsHandled: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_errors_handled_total",
			Help: "Total coordinated error handler dispatches",
		}, []string{"service", "type"}),
		SecurityEvents: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_security_events_total",
			Help: "Total recorded security events",
		}, []string{"type", "severity"}),
		LockedAccounts: factory.NewGauge(prometheus.GaugeOpts{
			Name: "authcore_locked_accounts",
			Help: "Current number of locked accounts",
		}),
		RateLimitExceeded: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_rate_limit_exceeded_total",
			Help: "Total rate limit rejections",
		}),
		RetryAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "authcore_retry_attempts_total",
			Help: "Total failed attempts that triggered a retry",
		}),
		OfflineTransactions: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "authcore_connectivity_transitions_total",
			Help: "Connectivity transitions observed",
		}, []string{"state"}),
	}
}
