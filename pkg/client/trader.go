// Package client is a synthetic trading client. A Trader keeps one
// connection to the exchange, sends random orders one at a time and
// reconnects after a fixed delay whenever the connection fails.
package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/uhyunpark/minexchange/pkg/app/batch"
	"github.com/uhyunpark/minexchange/pkg/app/core/matching"
)

var ErrReplyTimeout = errors.New("timed out waiting for reply")

// Config controls a Trader.
type Config struct {
	URL            string        // ws://host:port/ws
	ClientID       string        // sent as the Client-ID header
	Channel        string        // subscribe handshake channel
	Symbols        []string      // markets to trade
	ReplyTimeout   time.Duration // wait for one reply
	MinPause       time.Duration // between orders
	MaxPause       time.Duration
	ReconnectDelay time.Duration
	Seed           int64 // 0 seeds from the clock
}

// DefaultConfig returns the pacing of a casual trader
func DefaultConfig() Config {
	return Config{
		URL:            "ws://localhost:6789/ws",
		ClientID:       "client1",
		Channel:        "trades",
		ReplyTimeout:   5 * time.Second,
		MinPause:       500 * time.Millisecond,
		MaxPause:       2 * time.Second,
		ReconnectDelay: 5 * time.Second,
	}
}

// Stats counts what a Trader has done so far.
type Stats struct {
	Sent     uint64
	Replies  uint64
	Timeouts uint64
	Dials    uint64
}

type Trader struct {
	cfg    Config
	gen    *OrderGenerator
	dialer *websocket.Dialer
	log    *zap.SugaredLogger

	sess *session

	sent, replies, timeouts, dials atomic.Uint64
}

// session is one live connection. A single reader goroutine owns reads
// so a reply timeout leaves the connection usable. Broadcast frames are
// discarded by the reader; only replies reach the replies channel.
type session struct {
	conn    *websocket.Conn
	replies chan []byte
	quit    chan struct{}
	done    chan struct{}
	err     error // set before done is closed
	log     *zap.SugaredLogger
}

func New(cfg Config, log *zap.SugaredLogger) *Trader {
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	def := DefaultConfig()
	if cfg.ReplyTimeout <= 0 {
		cfg.ReplyTimeout = def.ReplyTimeout
	}
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = def.ReconnectDelay
	}
	if cfg.Channel == "" {
		cfg.Channel = def.Channel
	}
	return &Trader{
		cfg:    cfg,
		gen:    NewOrderGenerator(cfg.Symbols, cfg.Seed),
		dialer: &websocket.Dialer{HandshakeTimeout: 10 * time.Second},
		log:    log.With("client", cfg.ClientID),
	}
}

func (t *Trader) Stats() Stats {
	return Stats{
		Sent:     t.sent.Load(),
		Replies:  t.replies.Load(),
		Timeouts: t.timeouts.Load(),
		Dials:    t.dials.Load(),
	}
}

// Connect dials the exchange and sends the subscribe handshake.
func (t *Trader) Connect(ctx context.Context) error {
	t.dials.Add(1)
	hdr := http.Header{}
	hdr.Set("Client-ID", t.cfg.ClientID)

	conn, _, err := t.dialer.DialContext(ctx, t.cfg.URL, hdr)
	if err != nil {
		return fmt.Errorf("dial %s: %w", t.cfg.URL, err)
	}

	sub, _ := json.Marshal(map[string]string{"type": "subscribe", "channel": t.cfg.Channel})
	if err := conn.WriteMessage(websocket.TextMessage, sub); err != nil {
		conn.Close()
		return fmt.Errorf("subscribe: %w", err)
	}

	s := &session{
		conn:    conn,
		replies: make(chan []byte, 16),
		quit:    make(chan struct{}),
		done:    make(chan struct{}),
		log:     t.log,
	}
	go s.readLoop()
	t.sess = s
	t.log.Infow("trader_connected", "url", t.cfg.URL, "channel", t.cfg.Channel)
	return nil
}

func (s *session) readLoop() {
	defer close(s.done)
	for {
		_, msg, err := s.conn.ReadMessage()
		if err != nil {
			s.err = err
			return
		}
		var head struct {
			Type string `json:"type"`
		}
		if err := json.Unmarshal(msg, &head); err != nil {
			s.log.Warnw("invalid_frame", "frame", string(msg))
			continue
		}
		if head.Type == batch.TypeOrderUpdate {
			continue
		}
		select {
		case s.replies <- msg:
		case <-s.quit:
			return
		}
	}
}

// drainStale discards replies that arrived after their request timed out.
func (s *session) drainStale() {
	for {
		select {
		case frame := <-s.replies:
			s.log.Infow("stale_reply_discarded", "frame", string(frame))
		default:
			return
		}
	}
}

// Close drops the current connection, if any.
func (t *Trader) Close() error {
	if t.sess == nil {
		return nil
	}
	close(t.sess.quit)
	err := t.sess.conn.Close()
	<-t.sess.done
	t.sess = nil
	return err
}

// SendOrder sends o and waits for its reply. Broadcasts never count as the
// reply, and a reply left over from an earlier timed-out order is
// discarded before sending. ErrReplyTimeout leaves the connection open; any other error means it is
// gone.
func (t *Trader) SendOrder(ctx context.Context, o Order) (*matching.Result, error) {
	if t.sess == nil {
		return nil, errors.New("not connected")
	}
	msg, err := json.Marshal(o)
	if err != nil {
		return nil, err
	}
	t.sess.drainStale()
	if err := t.sess.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
		return nil, fmt.Errorf("send order: %w", err)
	}
	t.sent.Add(1)
	t.log.Debugw("order_sent", "type", o.Type, "symbol", o.Symbol, "price", o.Price, "quantity", o.Quantity)

	timer := time.NewTimer(t.cfg.ReplyTimeout)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-timer.C:
			t.timeouts.Add(1)
			t.log.Warnw("reply_timeout", "after", t.cfg.ReplyTimeout.String())
			return nil, ErrReplyTimeout
		case <-t.sess.done:
			return nil, fmt.Errorf("connection closed: %w", t.sess.err)
		case frame := <-t.sess.replies:
			var res matching.Result
			if err := json.Unmarshal(frame, &res); err != nil {
				t.log.Warnw("invalid_reply", "frame", string(frame), "err", err)
				continue
			}
			t.replies.Add(1)
			t.log.Infow("reply_received", "status", res.Status, "message", res.Message, "error", res.Error)
			return &res, nil
		}
	}
}

// Run trades until ctx is cancelled, reconnecting after ReconnectDelay
// whenever the connection cannot be made or is lost.
func (t *Trader) Run(ctx context.Context) error {
	defer t.Close()

	for {
		if err := t.Connect(ctx); err != nil {
			t.log.Warnw("connect_failed", "err", err, "retry_in", t.cfg.ReconnectDelay.String())
		} else {
			err = t.trade(ctx)
			t.Close()
			if ctx.Err() == nil {
				t.log.Warnw("connection_lost", "err", err, "retry_in", t.cfg.ReconnectDelay.String())
			}
		}

		if !sleep(ctx, t.cfg.ReconnectDelay) {
			t.log.Infow("trader_stopped", "sent", t.sent.Load(), "replies", t.replies.Load())
			return nil
		}
	}
}

// trade runs the order loop on the current connection until it fails.
func (t *Trader) trade(ctx context.Context) error {
	for {
		_, err := t.SendOrder(ctx, t.gen.Next())
		if err != nil && !errors.Is(err, ErrReplyTimeout) {
			return err
		}
		if !sleep(ctx, t.gen.Pause(t.cfg.MinPause, t.cfg.MaxPause)) {
			return ctx.Err()
		}
	}
}

// sleep waits d or until ctx is done, reporting whether the full wait
// elapsed.
func sleep(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
