package coach

import "github.com/prometheus/client_golang/prometheus"

var messagesProcessedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "messages_processed_total",
		Help:      "Processed user messages by terminal state",
	},
	[]string{"tier", "state"},
)

var intentDetectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "intent_detected_total",
		Help:      "Top detected intent per user message",
	},
	[]string{"intent"},
)

var safetyActionTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "safety_action_total",
		Help:      "Safety guard verdicts by action and primary flag",
	},
	[]string{"action", "flag"},
)

var quotaBlockedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "quota_blocked_total",
		Help:      "Messages blocked by a spent daily budget",
	},
	[]string{"tier", "kind"},
)

var generationLatency = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "generation_latency_seconds",
		Help:      "Latency of response generation",
		// Generation is cut off at 12s, the top buckets only catch stragglers.
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 3, 5, 8, 10, 12, 15},
	},
	[]string{"path", "status"},
)

var llmTokensTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "llm_tokens_total",
		Help:      "Tokens used by the LLM",
	},
	[]string{"model", "type"}, // type: input, output, total
)

var actionsRejectedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "lym",
		Subsystem: "coach",
		Name:      "actions_rejected_total",
		Help:      "Generator action proposals dropped by the permission gate",
	},
	[]string{"reason"},
)

func init() {
	prometheus.MustRegister(messagesProcessedTotal)
	prometheus.MustRegister(intentDetectedTotal)
	prometheus.MustRegister(safetyActionTotal)
	prometheus.MustRegister(quotaBlockedTotal)
	prometheus.MustRegister(generationLatency)
	prometheus.MustRegister(llmTokensTotal)
	prometheus.MustRegister(actionsRejectedTotal)
}

// RegisterMetrics registers coach metrics with a custom registry.
// Use this when exposing a non-default registry.
func RegisterMetrics(reg prometheus.Registerer) {
	if reg == nil || reg == prometheus.DefaultRegisterer {
		return
	}
	reg.MustRegister(
		messagesProcessedTotal,
		intentDetectedTotal,
		safetyActionTotal,
		quotaBlockedTotal,
		generationLatency,
		llmTokensTotal,
		actionsRejectedTotal,
	)
}
