package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// InvestecRequestsTotal counts outbound Investec API calls.
	InvestecRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investec_api_requests_total",
			Help: "Total number of Investec API requests (by operation, method and status).",
		},
		[]string{"operation", "method", "status"},
	)

	// InvestecRequestDuration measures outbound Investec API latency.
	InvestecRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "investec_api_request_duration_seconds",
			Help:    "Duration of Investec API requests in seconds.",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
		[]string{"operation", "method"},
	)

	// TokenRefreshes counts OAuth2 token exchanges by outcome.
	TokenRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investec_token_refresh_total",
			Help: "OAuth2 client-credentials exchanges (result = ok | empty | error).",
		},
		[]string{"result"},
	)

	// SessionCacheAccess counts session cache lookups.
	SessionCacheAccess = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "investec_session_cache_access_total",
			Help: "Session cache lookups (result = hit | miss | error).",
		},
		[]string{"result"},
	)

	// NATSMessages counts NATS publishes by subject and result.
	NATSMessages = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_total",
			Help: "Total number of NATS messages published.",
		},
		[]string{"subject", "result"},
	)

	// AMQPCommands counts consumed access-banking commands.
	AMQPCommands = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "amqp_commands_total",
			Help: "Access-banking commands consumed from RabbitMQ (result = ok | error | rejected).",
		},
		[]string{"destination", "result"},
	)

	// ErrorsTotal aggregates adapter errors by component.
	ErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "adapter_errors_total",
			Help: "Count of adapter-level errors by component.",
		},
		[]string{"component", "reason"},
	)

	// LastPollTimestamp is the unix time of the last successful balance poll.
	LastPollTimestamp = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "investec_last_poll_timestamp",
			Help: "Unix seconds of the last successful balance poll.",
		},
	)
)

// ObserveRequest records one outbound call. status 0 means a transport failure.
func ObserveRequest(operation, method string, status int, start time.Time) {
	label := "transport_error"
	if status > 0 {
		label = strconv.Itoa(status)
	}
	InvestecRequestsTotal.WithLabelValues(operation, method, label).Inc()
	InvestecRequestDuration.WithLabelValues(operation, method).Observe(time.Since(start).Seconds())
}

// IncTokenRefresh records the outcome of a token exchange.
func IncTokenRefresh(result string) {
	TokenRefreshes.WithLabelValues(result).Inc()
}

// IncSessionCache records a session cache lookup.
func IncSessionCache(result string) {
	SessionCacheAccess.WithLabelValues(result).Inc()
}

// IncNATSMessage records a publish outcome.
func IncNATSMessage(subject, result string) {
	NATSMessages.WithLabelValues(subject, result).Inc()
}

// IncAMQPCommand records a consumed command.
func IncAMQPCommand(destination, result string) {
	AMQPCommands.WithLabelValues(destination, result).Inc()
}

// IncError increments the aggregated error counter.
func IncError(component, reason string) {
	ErrorsTotal.WithLabelValues(component, reason).Inc()
}

// MarkPoll stamps the last successful poll time.
func MarkPoll(t time.Time) {
	LastPollTimestamp.Set(float64(t.Unix()))
}
