package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics for ApexLedger.
type Metrics struct {
	OpsApplied  *prometheus.CounterVec
	OpsRejected *prometheus.CounterVec
	OpDuration  *prometheus.HistogramVec

	ConflictRetries  prometheus.Counter
	ConflictFailures prometheus.Counter

	ProfitClaimed    prometheus.Counter
	PenaltyDestroyed prometheus.Counter

	DepositsCredited  prometheus.Counter
	DepositsDuplicate prometheus.Counter

	PublishDrops prometheus.Counter
}

// NewMetrics creates and registers all metrics with the default registry.
func NewMetrics() *Metrics {
	return NewMetricsWithRegistry(prometheus.DefaultRegisterer)
}

// NewMetricsWithRegistry registers against an explicit registry. Tests use
// this with a fresh registry so repeated construction never collides.
func NewMetricsWithRegistry(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		OpsApplied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apex_ledger_ops_applied_total",
			Help: "Ledger operations applied successfully, by operation.",
		}, []string{"op"}),
		OpsRejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "apex_ledger_ops_rejected_total",
			Help: "Ledger operations rejected, by operation and reason.",
		}, []string{"op", "reason"}),
		OpDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "apex_ledger_op_duration_seconds",
			Help:    "End-to-end duration of a ledger operation including retries.",
			Buckets: prometheus.DefBuckets,
		}, []string{"op"}),

		ConflictRetries: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_conflict_retries_total",
			Help: "Version conflicts that triggered an internal re-read and retry.",
		}),
		ConflictFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_conflict_failures_total",
			Help: "Operations that exhausted the conflict retry budget.",
		}),

		ProfitClaimed: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_profit_claimed_cash_total",
			Help: "Cash credited by profit claims (2dp units).",
		}),
		PenaltyDestroyed: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_penalty_destroyed_coins_total",
			Help: "Coins destroyed by early-unlock penalties.",
		}),

		DepositsCredited: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_deposits_credited_total",
			Help: "Approved deposits credited to cash balances.",
		}),
		DepositsDuplicate: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_deposits_duplicate_total",
			Help: "Deposit notices skipped because the reference was already credited.",
		}),

		PublishDrops: factory.NewCounter(prometheus.CounterOpts{
			Name: "apex_ledger_publish_drops_total",
			Help: "Outbound ledger events that failed to publish (non-fatal).",
		}),
	}
}
