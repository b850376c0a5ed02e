package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	MQConsumeLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailpilot_mq_consume_latency_ms",
			Help:    "MQ message consumption latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(10, 2, 10), // 10ms to ~10s
		},
		[]string{"routing_key", "queue"},
	)

	AgentCallLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "mailpilot_agent_call_latency_ms",
			Help:    "Model capability call latency in milliseconds",
			Buckets: prometheus.ExponentialBuckets(100, 2, 10), // 100ms to ~100s
		},
		[]string{"endpoint", "status"},
	)

	SlowQueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_db_slow_query_total",
			Help: "Queries slower than the configured threshold",
		},
		[]string{"statement"},
	)

	SlowQueryDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailpilot_db_slow_query_duration_seconds",
			Help:    "Duration of slow queries in seconds",
			Buckets: prometheus.ExponentialBuckets(0.1, 2, 8),
		},
	)

	DispositionCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_disposition_total",
			Help: "Dispositions chosen by the confidence policy",
		},
		[]string{"disposition", "category"},
	)

	OutcomeCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_outcome_total",
			Help: "Terminal outcomes of processed emails",
		},
		[]string{"state", "reason"},
	)

	ClassifyLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "mailpilot_classify_latency_seconds",
			Help:    "Email classification latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 10),
		},
	)

	ToolFailureCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_tool_failure_total",
			Help: "Response tools that failed or timed out",
		},
		[]string{"tool"},
	)

	QueryCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_query_total",
			Help: "Natural-language queries by result",
		},
		[]string{"result"}, // answered, unparseable, unknown_field, failed
	)

	EmailProcessedCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "mailpilot_email_processed_total",
			Help: "Emails dispatched by the poller or consumer",
		},
		[]string{"route", "status"},
	)
)

func RecordMQConsumeLatency(routingKey, queue string, duration time.Duration) {
	MQConsumeLatency.WithLabelValues(routingKey, queue).Observe(float64(duration.Milliseconds()))
}

func RecordAgentCallLatency(endpoint, status string, duration time.Duration) {
	AgentCallLatency.WithLabelValues(endpoint, status).Observe(float64(duration.Milliseconds()))
}

// IncrementSlowQuery counts a slow statement. The statement label is
// truncated by the caller.
func IncrementSlowQuery(statement string, duration time.Duration) {
	SlowQueryCount.WithLabelValues(statement).Inc()
	SlowQueryDuration.Observe(duration.Seconds())
}

func IncrementDisposition(disposition, category string) {
	DispositionCount.WithLabelValues(disposition, category).Inc()
}

func IncrementOutcome(state, reason string) {
	OutcomeCount.WithLabelValues(state, reason).Inc()
}

func RecordClassifyLatency(duration time.Duration) {
	ClassifyLatency.Observe(duration.Seconds())
}

func IncrementToolFailure(tool string) {
	ToolFailureCount.WithLabelValues(tool).Inc()
}

func IncrementQuery(result string) {
	QueryCount.WithLabelValues(result).Inc()
}

func IncrementEmailProcessed(route, status string) {
	EmailProcessedCount.WithLabelValues(route, status).Inc()
}
