package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const namespace = "runes"

// Ledger operation results
const (
	ResultOK           = "ok"
	ResultInsufficient = "insufficient"
	ResultNotFound     = "not_found"
	ResultDuplicate    = "duplicate"
	ResultSkipped      = "skipped"
	ResultError        = "error"
)

// Metrics holds the collectors shared by the ledger, payments and scheduler
type Metrics struct {
	LedgerOps        *prometheus.CounterVec
	CreditedLimits   *prometheus.CounterVec
	PaymentOutcomes  *prometheus.CounterVec
	PaymentsInFlight prometheus.Gauge
	ResetRuns        *prometheus.CounterVec
	ResetAccounts    prometheus.Counter
	Draws            *prometheus.CounterVec
	BroadcastSent    *prometheus.CounterVec
}

// New creates the collectors and registers them with reg. A nil reg
// leaves them unregistered.
func New(reg prometheus.Registerer) *Metrics {
	f := promauto.With(reg)

	return &Metrics{
		LedgerOps: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ledger_operations_total",
			Help:      "Ledger operations by kind and result.",
		}, []string{"op", "result"}),
		CreditedLimits: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "credited_limits_total",
			Help:      "Limits credited to accounts by source.",
		}, []string{"source"}),
		PaymentOutcomes: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "payment_outcomes_total",
			Help:      "Terminal outcomes of monitored payments.",
		}, []string{"outcome"}),
		PaymentsInFlight: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "payments_in_flight",
			Help:      "Payments currently being polled.",
		}),
		ResetRuns: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_reset_runs_total",
			Help:      "Daily limit reset runs by result.",
		}, []string{"result"}),
		ResetAccounts: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "limit_reset_accounts_total",
			Help:      "Accounts raised to the floor by the daily reset.",
		}),
		Draws: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "draws_total",
			Help:      "Completed paid draws by kind.",
		}, []string{"kind"}),
		BroadcastSent: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "broadcast_messages_total",
			Help:      "Broadcast deliveries by result.",
		}, []string{"result"}),
	}
}
