// Package metrics keeps the exchange's running latency, throughput and
// trade counters and mirrors them to Prometheus.
package metrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Snapshot is a point-in-time view of the tracker.
type Snapshot struct {
	AvgLatency      float64 `json:"avg_latency"`
	OrderThroughput uint64  `json:"order_throughput"`
	TotalTrades     uint64  `json:"total_trades"`
	Connections     int     `json:"connections"`
}

// Tracker holds the process-wide counters. Writes come from the batcher
// under its lock; reads may come from any goroutine.
type Tracker struct {
	mu          sync.Mutex
	avgLatency  float64
	throughput  uint64
	trades      uint64
	connections int

	latencyGauge  prometheus.Gauge
	ordersCounter prometheus.Counter
	tradesCounter prometheus.Counter
	connGauge     prometheus.Gauge
	flushDuration prometheus.Histogram
}

// NewTracker builds a tracker and registers its collectors with reg.
// A nil reg leaves the collectors unregistered.
func NewTracker(reg prometheus.Registerer) *Tracker {
	t := &Tracker{
		latencyGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_avg_latency_ms",
			Help: "Recency-weighted order latency in milliseconds.",
		}),
		ordersCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_orders_processed_total",
			Help: "Orders processed by the batcher, any outcome.",
		}),
		tradesCounter: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "exchange_trades_total",
			Help: "Executed trades.",
		}),
		connGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "exchange_connections",
			Help: "Currently registered client connections.",
		}),
		flushDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "exchange_flush_duration_seconds",
			Help:    "Wall time of one batch flush.",
			Buckets: prometheus.ExponentialBuckets(0.0001, 2, 16),
		}),
	}
	if reg != nil {
		reg.MustRegister(t.latencyGauge, t.ordersCounter, t.tradesCounter, t.connGauge, t.flushDuration)
	}
	return t
}

// RecordLatency folds sample (ms) into the running value as
// avg = (avg + sample) / 2, so each sample halves the weight of history.
// The batcher feeds one sample per processed order, measured from enqueue
// to its reply, rather than one per flush timed over the whole batch. The
// per-flush wall time is kept separately by ObserveFlush.
func (t *Tracker) RecordLatency(sample float64) {
	t.mu.Lock()
	t.avgLatency = (t.avgLatency + sample) / 2
	v := t.avgLatency
	t.mu.Unlock()
	t.latencyGauge.Set(v)
}

// IncrementThroughput counts one processed order. This is a cumulative
// count, not a rate.
func (t *Tracker) IncrementThroughput() {
	t.mu.Lock()
	t.throughput++
	t.mu.Unlock()
	t.ordersCounter.Inc()
}

// IncrementTrades counts one executed trade.
func (t *Tracker) IncrementTrades() {
	t.mu.Lock()
	t.trades++
	t.mu.Unlock()
	t.tradesCounter.Inc()
}

// ObserveFlush records the duration of one flush.
func (t *Tracker) ObserveFlush(d time.Duration) {
	t.flushDuration.Observe(d.Seconds())
}

// SetConnections records the current registry size.
func (t *Tracker) SetConnections(n int) {
	t.mu.Lock()
	t.connections = n
	t.mu.Unlock()
	t.connGauge.Set(float64(n))
}

func (t *Tracker) Snapshot() Snapshot {
	t.mu.Lock()
	defer t.mu.Unlock()
	return Snapshot{
		AvgLatency:      t.avgLatency,
		OrderThroughput: t.throughput,
		TotalTrades:     t.trades,
		Connections:     t.connections,
	}
}
