// Package observability provides Prometheus metrics for monitoring.
package observability

import (
	"net/http"
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the application.
type Metrics struct {
	// Ledger metrics
	Operations       *prometheus.CounterVec
	OperationLatency *prometheus.HistogramVec
	TokensStaked     prometheus.Counter
	TokensUnstaked   prometheus.Counter
	RewardsPaid      prometheus.Counter
	RewardsForfeited prometheus.Counter
	RewardsFunded    prometheus.Counter

	// Pool gauges
	PoolTotalStaked   *prometheus.GaugeVec
	PoolTotalRewards  *prometheus.GaugeVec
	PoolRewardReserve *prometheus.GaugeVec

	// Failure metrics
	TransferFailures    *prometheus.CounterVec
	InvariantViolations *prometheus.CounterVec
	Compensations       *prometheus.CounterVec
	JournalErrors       prometheus.Counter

	// Feed metrics
	FeedClients         prometheus.Gauge
	FeedMessagesDropped prometheus.Counter

	// HTTP metrics
	HTTPRequests *prometheus.CounterVec
	HTTPLatency  *prometheus.HistogramVec

	// Health metrics
	LastCommittedTransition prometheus.Gauge
}

// NewMetrics creates a new Metrics instance with all metrics registered.
func NewMetrics(namespace string) *Metrics {
	if namespace == "" {
		namespace = "staking_ledger"
	}

	return &Metrics{
		// Ledger metrics
		Operations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operations_total",
			Help:      "Total number of ledger operations by outcome",
		}, []string{"operation", "status"}),
		OperationLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "operation_latency_seconds",
			Help:      "Ledger operation latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"operation"}),
		TokensStaked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_staked_total",
			Help:      "Total base units moved into pool vaults by stake",
		}),
		TokensUnstaked: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "tokens_unstaked_total",
			Help:      "Total principal returned by unstake",
		}),
		RewardsPaid: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rewards_paid_total",
			Help:      "Total rewards paid by claim and unstake",
		}),
		RewardsForfeited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rewards_forfeited_total",
			Help:      "Total accrued rewards forfeited on unstake for lack of reserve",
		}),
		RewardsFunded: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "rewards_funded_total",
			Help:      "Total reward reserve deposited",
		}),

		// Pool gauges
		PoolTotalStaked: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "total_staked",
			Help:      "Current total staked per pool",
		}, []string{"pool_id"}),
		PoolTotalRewards: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "total_rewards",
			Help:      "Cumulative rewards paid per pool",
		}, []string{"pool_id"}),
		PoolRewardReserve: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "reward_reserve",
			Help:      "Funded rewards not yet paid per pool",
		}, []string{"pool_id"}),

		// Failure metrics
		TransferFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "transfer_failures_total",
			Help:      "Total number of failed transfers by reason",
		}, []string{"reason"}),
		InvariantViolations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ledger",
			Name:      "invariant_violations_total",
			Help:      "Total number of detected invariant violations by kind",
		}, []string{"kind"}),
		Compensations: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "custody",
			Name:      "compensations_total",
			Help:      "Total number of compensating transfers by status",
		}, []string{"status"}),
		JournalErrors: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "journal",
			Name:      "append_errors_total",
			Help:      "Total number of ledger events that could not be journaled",
		}),

		// Feed metrics
		FeedClients: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "clients",
			Help:      "Number of connected websocket clients",
		}),
		FeedMessagesDropped: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "feed",
			Name:      "messages_dropped_total",
			Help:      "Total number of events dropped for slow clients",
		}),

		// HTTP metrics
		HTTPRequests: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests by route and status code",
		}, []string{"route", "code"}),
		HTTPLatency: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_latency_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"route"}),

		// Health metrics
		LastCommittedTransition: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "health",
			Name:      "last_committed_transition_timestamp",
			Help:      "Unix timestamp of the last committed ledger transition",
		}),
	}
}

// Handler returns an HTTP handler for the /metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}

// DefaultMetrics is the default metrics instance.
var DefaultMetrics = NewMetrics("")

// RecordOperation records the outcome and latency of a ledger operation.
func RecordOperation(operation, status string, seconds float64) {
	DefaultMetrics.Operations.WithLabelValues(operation, status).Inc()
	DefaultMetrics.OperationLatency.WithLabelValues(operation).Observe(seconds)
}

// RecordStake records principal moved into a vault.
func RecordStake(amount uint64) {
	DefaultMetrics.TokensStaked.Add(float64(amount))
}

// RecordUnstake records principal returned and rewards paid or forfeited on unstake.
func RecordUnstake(principal, paid, forfeited uint64) {
	DefaultMetrics.TokensUnstaked.Add(float64(principal))
	DefaultMetrics.RewardsPaid.Add(float64(paid))
	DefaultMetrics.RewardsForfeited.Add(float64(forfeited))
}

// RecordClaim records rewards paid by claim.
func RecordClaim(amount uint64) {
	DefaultMetrics.RewardsPaid.Add(float64(amount))
}

// RecordFunding records reward reserve deposited.
func RecordFunding(amount uint64) {
	DefaultMetrics.RewardsFunded.Add(float64(amount))
}

// UpdatePool sets the per-pool gauges.
func UpdatePool(poolID, totalStaked, totalRewards, reserve uint64, committedAt int64) {
	id := strconv.FormatUint(poolID, 10)
	DefaultMetrics.PoolTotalStaked.WithLabelValues(id).Set(float64(totalStaked))
	DefaultMetrics.PoolTotalRewards.WithLabelValues(id).Set(float64(totalRewards))
	DefaultMetrics.PoolRewardReserve.WithLabelValues(id).Set(float64(reserve))
	DefaultMetrics.LastCommittedTransition.Set(float64(committedAt))
}

// RecordTransferFailure records a failed transfer.
func RecordTransferFailure(reason string) {
	DefaultMetrics.TransferFailures.WithLabelValues(reason).Inc()
}

// RecordInvariantViolation records a detected invariant violation.
func RecordInvariantViolation(kind string) {
	DefaultMetrics.InvariantViolations.WithLabelValues(kind).Inc()
}

// RecordCompensation records a compensating transfer attempt.
func RecordCompensation(status string) {
	DefaultMetrics.Compensations.WithLabelValues(status).Inc()
}

// RecordJournalError records an event that could not be journaled.
func RecordJournalError() {
	DefaultMetrics.JournalErrors.Inc()
}

// UpdateFeedClients sets the connected websocket client gauge.
func UpdateFeedClients(n int) {
	DefaultMetrics.FeedClients.Set(float64(n))
}

// RecordFeedDrop records an event dropped for a slow client.
func RecordFeedDrop() {
	DefaultMetrics.FeedMessagesDropped.Inc()
}

// RecordHTTPRequest records an HTTP request.
func RecordHTTPRequest(route string, code int, seconds float64) {
	DefaultMetrics.HTTPRequests.WithLabelValues(route, strconv.Itoa(code)).Inc()
	DefaultMetrics.HTTPLatency.WithLabelValues(route).Observe(seconds)
}
