package fetcher

import (
	"strconv"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	currentInterval = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainindexor_fetcher_interval_blocks",
			Help: "Current block interval used by a chain's getLogs window",
		},
		[]string{"chain_id"},
	)

	backoffTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "chainindexor_fetcher_backoff_total",
			Help: "Number of times a chain fetcher entered backoff after a timeout or RPC error",
		},
		[]string{"chain_id"},
	)

	queueDepth = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainindexor_fetcher_queue_depth",
			Help: "Number of queue items buffered for a chain awaiting the chain manager",
		},
		[]string{"chain_id"},
	)

	lastFetchedBlock = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "chainindexor_fetcher_last_fetched_block",
			Help: "Last block number successfully included in a getLogs window",
		},
		[]string{"chain_id"},
	)
)

func observeInterval(chainID uint64, interval uint64) {
	currentInterval.WithLabelValues(chainIDLabel(chainID)).Set(float64(interval))
}

func observeBackoff(chainID uint64) {
	backoffTotal.WithLabelValues(chainIDLabel(chainID)).Inc()
}

func observeQueueDepth(chainID uint64, depth int) {
	queueDepth.WithLabelValues(chainIDLabel(chainID)).Set(float64(depth))
}

func observeLastFetchedBlock(chainID uint64, block uint64) {
	lastFetchedBlock.WithLabelValues(chainIDLabel(chainID)).Set(float64(block))
}

func chainIDLabel(chainID uint64) string {
	return strconv.FormatUint(chainID, 10)
}
