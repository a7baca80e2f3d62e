// Package exchange assembles the matching engine, batcher, trade sinks and
// the HTTP/WebSocket server into one runnable service.
package exchange

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"go.uber.org/zap"

	"github.com/uhyunpark/minexchange/params"
	"github.com/uhyunpark/minexchange/pkg/api"
	"github.com/uhyunpark/minexchange/pkg/app/batch"
	"github.com/uhyunpark/minexchange/pkg/app/core/matching"
	"github.com/uhyunpark/minexchange/pkg/app/core/metrics"
	"github.com/uhyunpark/minexchange/pkg/feed"
	"github.com/uhyunpark/minexchange/pkg/storage"
)

const shutdownTimeout = 5 * time.Second

type Service struct {
	cfg params.Config
	log *zap.SugaredLogger

	tracker  *metrics.Tracker
	registry *api.Registry
	batcher  *batch.Batcher
	server   *api.Server

	trades    storage.TradeStore
	publisher *feed.Publisher // nil when no brokers are configured
}

// New validates cfg and builds every component. Nothing is started until
// Run.
func New(cfg params.Config, log *zap.SugaredLogger) (*Service, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	if log == nil {
		log = zap.NewNop().Sugar()
	}

	promReg := prometheus.NewRegistry()
	promReg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	var trades storage.TradeStore
	if cfg.Journal.Dir != "" {
		ps, err := storage.NewPebbleStore(cfg.Journal.Dir)
		if err != nil {
			return nil, err
		}
		trades = ps
		log.Infow("trade_journal_opened", "dir", cfg.Journal.Dir)
	} else {
		trades = storage.NewMemStore(0)
		log.Infow("trade_journal_in_memory")
	}

	sinks := []batch.TradeSink{storage.Journal{Store: trades}}
	var publisher *feed.Publisher
	if len(cfg.Kafka.Brokers) > 0 {
		publisher = feed.NewPublisher(cfg.Kafka.Brokers, cfg.Kafka.Topic, log)
		sinks = append(sinks, publisher)
		log.Infow("trade_feed_enabled", "brokers", cfg.Kafka.Brokers, "topic", cfg.Kafka.Topic)
	}

	engine := matching.NewEngine(matching.WithSymbols(cfg.Market.Symbols, cfg.Market.Strict))
	tracker := metrics.NewTracker(promReg)
	registry := api.NewRegistry(log, tracker.SetConnections)

	b := batch.New(engine, tracker, registry,
		batch.Config{Size: cfg.Batch.Size, Interval: cfg.Batch.Interval},
		batch.WithLogger(log),
		batch.WithSinks(sinks...))

	server := api.NewServer(api.Deps{
		Batcher:     b,
		Tracker:     tracker,
		Registry:    registry,
		Trades:      trades,
		Gatherer:    promReg,
		Logger:      log,
		SendBuffer:  cfg.Server.SendBuffer,
		CORSOrigins: cfg.Server.CORSOrigins,
	})

	return &Service{
		cfg:       cfg,
		log:       log,
		tracker:   tracker,
		registry:  registry,
		batcher:   b,
		server:    server,
		trades:    trades,
		publisher: publisher,
	}, nil
}

// Run listens on the configured address and serves until ctx is cancelled.
func (s *Service) Run(ctx context.Context) error {
	ln, err := net.Listen("tcp", s.cfg.Addr())
	if err != nil {
		s.Close()
		return fmt.Errorf("listen %s: %w", s.cfg.Addr(), err)
	}
	return s.Serve(ctx, ln)
}

// Serve runs the batch loop and the server on ln. On cancellation it
// stops accepting connections, closes the live ones and waits for their
// read loops, stops the batch loop and closes the trade sinks, in that
// order. Nothing can flush into a closed sink.
func (s *Service) Serve(ctx context.Context, ln net.Listener) error {
	stopBatcher := s.batcher.Start(ctx)

	errc := make(chan error, 1)
	go func() { errc <- s.server.Serve(ln) }()

	s.log.Infow("exchange_started",
		"addr", ln.Addr().String(),
		"symbols", s.cfg.Market.Symbols,
		"batch_size", s.cfg.Batch.Size,
		"interval", s.cfg.Batch.Interval.String())

	var serveErr error
	select {
	case <-ctx.Done():
	case serveErr = <-errc:
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	shutdownErr := s.server.Shutdown(shutdownCtx)

	stopBatcher()
	closeErr := s.Close()

	snap := s.tracker.Snapshot()
	s.log.Infow("exchange_stopped",
		"orders", snap.OrderThroughput,
		"trades", snap.TotalTrades,
		"pending", s.batcher.Pending())

	return errors.Join(serveErr, shutdownErr, closeErr)
}

// Close releases the trade sinks.
func (s *Service) Close() error {
	var errs []error
	if s.publisher != nil {
		errs = append(errs, s.publisher.Close())
	}
	errs = append(errs, s.trades.Close())
	return errors.Join(errs...)
}

func (s *Service) Tracker() *metrics.Tracker { return s.tracker }

func (s *Service) Connections() int { return s.registry.Len() }
