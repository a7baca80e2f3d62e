// Package feed publishes executed trades to Kafka.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
)

// TradeMessage is the JSON value written for each trade, keyed by symbol.
type TradeMessage struct {
	Symbol      string  `json:"symbol"`
	Price       float64 `json:"price"`
	Quantity    int64   `json:"quantity"`
	BuyOrderID  string  `json:"buy_order_id"`
	SellOrderID string  `json:"sell_order_id"`
	Timestamp   int64   `json:"timestamp"` // unix millis
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

type Publisher struct {
	writer messageWriter
}

// NewPublisher creates an async producer. Delivery failures are logged
// from the writer's completion callback and never reach the caller.
func NewPublisher(brokers []string, topic string, log *zap.SugaredLogger) *Publisher {
	return &Publisher{
		writer: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireOne,
			Async:        true,
			BatchTimeout: 10 * time.Millisecond,
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					log.Warnw("trade_feed_delivery_failed", "messages", len(msgs), "err", err)
				}
			},
		},
	}
}

func (p *Publisher) Record(ctx context.Context, t orderbook.Trade, at time.Time) error {
	value, err := json.Marshal(TradeMessage{
		Symbol:      t.Symbol,
		Price:       t.Price.InexactFloat64(),
		Quantity:    t.Qty,
		BuyOrderID:  t.BuyOrderID,
		SellOrderID: t.SellOrderID,
		Timestamp:   at.UnixMilli(),
	})
	if err != nil {
		return fmt.Errorf("marshal trade message: %w", err)
	}
	return p.writer.WriteMessages(ctx, kafka.Message{
		Key:   []byte(t.Symbol),
		Value: value,
		Time:  at,
	})
}

func (p *Publisher) Close() error {
	return p.writer.Close()
}
