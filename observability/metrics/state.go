package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

type StateMetrics struct {
	flushTotal      prometheus.Counter
	flushNewNodes   prometheus.Counter
	flushStaleNodes prometheus.Counter
	flushSeconds    prometheus.Histogram
	txRejected      *prometheus.CounterVec
}

var (
	stateOnce     sync.Once
	stateRegistry *StateMetrics
)

func State() *StateMetrics {
	stateOnce.Do(func() {
		stateRegistry = &StateMetrics{
			flushTotal: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "state_flush_total",
				Help: "Count of committed state flushes.",
			}),
			flushNewNodes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "state_flush_new_nodes_total",
				Help: "Count of trie nodes persisted by flushes.",
			}),
			flushStaleNodes: prometheus.NewCounter(prometheus.CounterOpts{
				Name: "state_flush_stale_nodes_total",
				Help: "Count of trie nodes recorded as stale by flushes.",
			}),
			flushSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
				Name:    "state_flush_duration_seconds",
				Help:    "Duration of state flushes including the atomic batch write.",
				Buckets: prometheus.DefBuckets,
			}),
			txRejected: prometheus.NewCounterVec(prometheus.CounterOpts{
				Name: "state_tx_rejected_total",
				Help: "Count of rejected staking transactions by reason.",
			}, []string{"reason"}),
		}
		prometheus.MustRegister(
			stateRegistry.flushTotal,
			stateRegistry.flushNewNodes,
			stateRegistry.flushStaleNodes,
			stateRegistry.flushSeconds,
			stateRegistry.txRejected,
		)
	})
	return stateRegistry
}

// ObserveFlush records one committed flush.
func (m *StateMetrics) ObserveFlush(newNodes, staleNodes int, elapsed time.Duration) {
	m.flushTotal.Inc()
	m.flushNewNodes.Add(float64(newNodes))
	m.flushStaleNodes.Add(float64(staleNodes))
	m.flushSeconds.Observe(elapsed.Seconds())
}

// TxRejected records one typed validation rejection.
func (m *StateMetrics) TxRejected(reason string) {
	m.txRejected.WithLabelValues(reason).Inc()
}
