// Package batch drains the ingestion queue into the matching engine.
//
// A flush runs when an enqueue brings the queue to the batch size, and on
// every tick of the processing interval regardless of queue length. All
// flushes share one lock, so at most one batch is in flight and the engine
// sees a strict total order of orders.
package batch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/uhyunpark/minexchange/pkg/app/core/matching"
	"github.com/uhyunpark/minexchange/pkg/app/core/mempool"
	"github.com/uhyunpark/minexchange/pkg/app/core/metrics"
	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/minexchange/pkg/util"
)

var errInternal = errors.New("internal error")

// Conn is the reply path back to the connection that submitted an order.
// The batcher holds it only for the lifetime of a queued entry.
type Conn interface {
	ID() string
	Send(msg []byte) error
}

// Broadcaster delivers a message to every live connection, best effort.
type Broadcaster interface {
	Broadcast(msg []byte)
}

// TradeSink receives every executed trade after it is matched.
type TradeSink interface {
	Record(ctx context.Context, t orderbook.Trade, at time.Time) error
}

type entry struct {
	conn       Conn
	req        matching.OrderRequest
	enqueuedAt time.Time
}

type Config struct {
	Size     int
	Interval time.Duration
}

type Batcher struct {
	mu sync.Mutex // the batch lock

	engine  *matching.Engine
	queue   *mempool.Mempool[entry]
	metrics *metrics.Tracker
	bcast   Broadcaster
	sinks   []TradeSink

	size     int
	interval time.Duration
	clock    util.Clock
	log      *zap.SugaredLogger
}

type Option func(*Batcher)

func WithClock(c util.Clock) Option { return func(b *Batcher) { b.clock = c } }

func WithLogger(l *zap.SugaredLogger) Option { return func(b *Batcher) { b.log = l } }

// WithSinks adds trade sinks, called in order for every trade.
func WithSinks(sinks ...TradeSink) Option {
	return func(b *Batcher) { b.sinks = append(b.sinks, sinks...) }
}

func New(engine *matching.Engine, tracker *metrics.Tracker, bcast Broadcaster, cfg Config, opts ...Option) *Batcher {
	b := &Batcher{
		engine:   engine,
		queue:    mempool.NewMempool[entry](),
		metrics:  tracker,
		bcast:    bcast,
		size:     max(cfg.Size, 1),
		interval: cfg.Interval,
		clock:    util.RealClock{},
		log:      zap.NewNop().Sugar(),
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Enqueue appends an order request to the queue without taking the batch
// lock, then flushes in the caller's goroutine if the queue has reached the
// batch size.
func (b *Batcher) Enqueue(ctx context.Context, conn Conn, req matching.OrderRequest) {
	n := b.queue.Push(entry{conn: conn, req: req, enqueuedAt: b.clock.Now()})
	if n >= b.size {
		b.Flush(ctx)
	}
}

// Pending returns the number of queued entries.
func (b *Batcher) Pending() int { return b.queue.Len() }

// Flush processes up to one batch of the oldest entries in FIFO order and
// returns how many it took.
func (b *Batcher) Flush(ctx context.Context) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	start := b.clock.Now()
	batch := b.queue.Drain(b.size)
	if len(batch) == 0 {
		return 0
	}

	for _, e := range batch {
		b.process(ctx, e)
	}

	elapsed := b.clock.Since(start)
	b.metrics.ObserveFlush(elapsed)
	b.log.Debugw("batch_flushed",
		"orders", len(batch),
		"duration_ms", float64(elapsed.Microseconds())/1000,
		"pending", b.queue.Len())
	return len(batch)
}

// process handles one entry. Failures stay with the entry and the rest of
// the batch carries on. A panic before the result reply is reported to the
// connection; after it, the panic is only logged so the entry never gets a
// second reply.
func (b *Batcher) process(ctx context.Context, e entry) {
	replied := false
	defer func() {
		if r := recover(); r != nil {
			b.log.Errorw("order_processing_panic", "conn", e.conn.ID(), "panic", r, "replied", replied)
			if !replied {
				b.reply(e.conn, matching.ErrorResult(errInternal))
			}
		}
	}()

	res := b.engine.ProcessOrder(e.req)
	replied = true
	b.reply(e.conn, res)

	b.metrics.RecordLatency(float64(b.clock.Since(e.enqueuedAt).Microseconds()) / 1000)
	b.metrics.IncrementThroughput()

	if t, ok := res.Executed(); ok {
		b.metrics.IncrementTrades()
		b.recordTrade(ctx, t)
	}

	if res.IsError() {
		b.log.Infow("order_rejected", "conn", e.conn.ID(), "error", res.Error, "message", res.Message)
		return
	}

	snap := b.metrics.Snapshot()
	msg, err := json.Marshal(OrderUpdate{
		Type: TypeOrderUpdate,
		Data: UpdateData{Result: res, Latency: snap.AvgLatency, Throughput: snap.OrderThroughput},
	})
	if err != nil {
		b.log.Errorw("broadcast_marshal_failed", "err", err)
		return
	}
	b.bcast.Broadcast(msg)
}

func (b *Batcher) reply(conn Conn, res matching.Result) {
	msg, err := json.Marshal(res)
	if err != nil {
		b.log.Errorw("reply_marshal_failed", "conn", conn.ID(), "err", err)
		return
	}
	if err := conn.Send(msg); err != nil {
		b.log.Warnw("reply_failed", "conn", conn.ID(), "err", err)
	}
}

func (b *Batcher) recordTrade(ctx context.Context, t orderbook.Trade) {
	at := b.clock.Now()
	b.log.Infow("trade_executed",
		"symbol", t.Symbol,
		"price", t.Price.String(),
		"quantity", t.Qty,
		"buy_order_id", t.BuyOrderID,
		"sell_order_id", t.SellOrderID,
		"timestamp", at.UnixMilli())

	for _, s := range b.sinks {
		if err := s.Record(ctx, t, at); err != nil {
			b.log.Warnw("trade_sink_failed", "sink", fmt.Sprintf("%T", s), "err", err)
		}
	}
}

// Run flushes once per interval until ctx is cancelled, even when the
// queue is below the batch size.
func (b *Batcher) Run(ctx context.Context) {
	b.log.Infow("batcher_started", "batch_size", b.size, "interval", b.interval.String())
	for {
		select {
		case <-ctx.Done():
			b.log.Infow("batcher_stopped", "pending", b.queue.Len())
			return
		case <-b.clock.After(b.interval):
			b.Flush(ctx)
		}
	}
}

// Start runs the flush loop in its own goroutine. The returned stop
// function cancels the loop and waits for it to exit.
func (b *Batcher) Start(ctx context.Context) (stop func()) {
	loopCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	go func() {
		defer close(done)
		b.Run(loopCtx)
	}()
	return func() {
		cancel()
		<-done
	}
}

// Book returns a copy of one symbol's book, read under the batch lock.
func (b *Batcher) Book(symbol string) (matching.BookSnapshot, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Snapshot(symbol)
}

// Symbols lists every symbol the engine holds a book for.
func (b *Batcher) Symbols() []string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.engine.Symbols()
}
