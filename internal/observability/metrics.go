package observability

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	registerOnce          sync.Once
	httpDurationHistogram *prometheus.HistogramVec
	ledgerRPCHistogram    *prometheus.HistogramVec
	submissionCounter     *prometheus.CounterVec
	freshnessRetryCounter prometheus.Counter
	dedupCounter          *prometheus.CounterVec
	rouletteDrawCounter   *prometheus.CounterVec
	walletTransitionCount *prometheus.CounterVec
	workerRunCounter      *prometheus.CounterVec
)

// Init registers all Prometheus collectors.
func Init() {
	registerOnce.Do(func() {
		httpDurationHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "path", "status"})

		ledgerRPCHistogram = prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "ledger_rpc_duration_seconds",
			Help:    "Ledger RPC call latency",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "outcome"})

		submissionCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "submissions_total",
			Help: "Terminal submission outcomes by context and status",
		}, []string{"context", "status"})

		freshnessRetryCounter = prometheus.NewCounter(prometheus.CounterOpts{
			Name: "freshness_rebuilds_total",
			Help: "Refresh-and-rebuild cycles triggered by stale blockhashes",
		})

		dedupCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "dedup_events_total",
			Help: "Deduplication ledger outcomes",
		}, []string{"outcome"})

		rouletteDrawCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "roulette_entropy_draws_total",
			Help: "Roulette entropy draws by provider tier",
		}, []string{"tier"})

		walletTransitionCount = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "split_wallet_transitions_total",
			Help: "Split wallet status transitions",
		}, []string{"split_type", "to"})

		workerRunCounter = prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "worker_runs_total",
			Help: "Background worker run outcomes",
		}, []string{"worker", "result"})

		prometheus.MustRegister(
			httpDurationHistogram,
			ledgerRPCHistogram,
			submissionCounter,
			freshnessRetryCounter,
			dedupCounter,
			rouletteDrawCounter,
			walletTransitionCount,
			workerRunCounter,
		)
	})
}

func ObserveHTTP(method, path string, status int, duration time.Duration) {
	if httpDurationHistogram == nil {
		return
	}
	httpDurationHistogram.WithLabelValues(method, path, strconv.Itoa(status)).Observe(duration.Seconds())
}

func ObserveLedgerRPC(method, outcome string, duration time.Duration) {
	if ledgerRPCHistogram == nil {
		return
	}
	ledgerRPCHistogram.WithLabelValues(method, outcome).Observe(duration.Seconds())
}

func IncrementSubmission(context, status string) {
	if submissionCounter == nil {
		return
	}
	submissionCounter.WithLabelValues(context, status).Inc()
}

func IncrementFreshnessRebuild() {
	if freshnessRetryCounter == nil {
		return
	}
	freshnessRetryCounter.Inc()
}

func IncrementDedupEvent(outcome string) {
	if dedupCounter == nil {
		return
	}
	dedupCounter.WithLabelValues(outcome).Inc()
}

func IncrementRouletteDraw(tier int) {
	if rouletteDrawCounter == nil {
		return
	}
	rouletteDrawCounter.WithLabelValues(strconv.Itoa(tier)).Inc()
}

func IncrementWalletTransition(splitType, to string) {
	if walletTransitionCount == nil {
		return
	}
	walletTransitionCount.WithLabelValues(splitType, to).Inc()
}

func IncrementWorkerRun(worker, result string) {
	if workerRunCounter == nil {
		return
	}
	workerRunCounter.WithLabelValues(worker, result).Inc()
}
