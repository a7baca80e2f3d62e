package batch

import "github.com/uhyunpark/minexchange/pkg/app/core/matching"

const TypeOrderUpdate = "order_update"

// OrderUpdate is broadcast to every connection after an order is processed.
type OrderUpdate struct {
	Type string     `json:"type"`
	Data UpdateData `json:"data"`
}

// UpdateData is the per-order result enriched with the latest metrics.
// Throughput is the cumulative processed-order count, not a rate.
type UpdateData struct {
	matching.Result
	Latency    float64 `json:"latency"`
	Throughput uint64  `json:"throughput"`
}
