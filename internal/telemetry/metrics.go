package telemetry

import "github.com/prometheus/client_golang/prometheus"

var EnforceDecisionsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "enforce",
		Name:      "decisions_total",
		Help:      "Total number of policy enforcement decisions by outcome.",
	},
	[]string{"status"},
)

var EnforceDuration = prometheus.NewHistogramVec(
	prometheus.HistogramOpts{
		Namespace: "agentguard",
		Subsystem: "enforce",
		Name:      "duration_seconds",
		Help:      "Policy enforcement evaluation duration in seconds.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1},
	},
	[]string{"status"},
)

var ApprovalsTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "approvals",
		Name:      "total",
		Help:      "Total number of approval requests by terminal state.",
	},
	[]string{"decision"},
)

var AuditChainWritesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "audit",
		Name:      "chain_writes_total",
		Help:      "Total number of audit log entries appended.",
	},
	[]string{"result"},
)

var AuditChainVerifyTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "audit",
		Name:      "chain_verify_total",
		Help:      "Total number of audit chain verification runs by outcome.",
	},
	[]string{"valid"},
)

var WebhookDeliveriesTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "webhook",
		Name:      "deliveries_total",
		Help:      "Total number of outbound webhook deliveries by event and outcome.",
	},
	[]string{"event", "outcome"},
)

var TokensIssuedTotal = prometheus.NewCounterVec(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "tokens",
		Name:      "issued_total",
		Help:      "Total number of bearer tokens issued by type.",
	},
	[]string{"type"},
)

var TokensRevokedTotal = prometheus.NewCounter(
	prometheus.CounterOpts{
		Namespace: "agentguard",
		Subsystem: "tokens",
		Name:      "revoked_total",
		Help:      "Total number of bearer tokens revoked.",
	},
)

// All returns all AgentGuard-specific metrics for registration.
func All() []prometheus.Collector {
	return []prometheus.Collector{
		EnforceDecisionsTotal,
		EnforceDuration,
		ApprovalsTotal,
		AuditChainWritesTotal,
		AuditChainVerifyTotal,
		WebhookDeliveriesTotal,
		TokensIssuedTotal,
		TokensRevokedTotal,
	}
}
