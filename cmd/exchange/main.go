package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/uhyunpark/minexchange/params"
	"github.com/uhyunpark/minexchange/pkg/exchange"
	"github.com/uhyunpark/minexchange/pkg/util"
)

func main() {
	// Load config from .env file and environment variables
	cfg := params.LoadFromEnv("") // "" means load from .env in current directory

	// Setup logging (write to both console and file)
	logger, err := util.NewLoggerWithFile(cfg.Log.File, cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()
	sugar.Infow("logger_initialized", "log_file", cfg.Log.File, "level", cfg.Log.Level)

	svc, err := exchange.New(cfg, sugar)
	if err != nil {
		sugar.Fatalw("exchange_init_failed", "err", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Progress logging loop
	go func() {
		ticker := time.NewTicker(10 * time.Second)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				snap := svc.Tracker().Snapshot()
				sugar.Infow("exchange_progress",
					"orders", snap.OrderThroughput,
					"trades", snap.TotalTrades,
					"avg_latency_ms", snap.AvgLatency,
					"connections", snap.Connections)
			}
		}
	}()

	if err := svc.Run(ctx); err != nil {
		sugar.Errorw("exchange_failed", "err", err)
		logger.Sync()
		os.Exit(1)
	}
}
