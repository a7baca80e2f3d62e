package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/uhyunpark/minexchange/params"
	"github.com/uhyunpark/minexchange/pkg/client"
	"github.com/uhyunpark/minexchange/pkg/util"
)

// Environment, on top of the exchange's own keys:
//
//	TRADER_URL         websocket url (default ws://EXCHANGE_HOST:EXCHANGE_PORT/ws)
//	TRADER_ID          Client-ID header prefix (default "client")
//	TRADERS            number of concurrent traders (default 1)
//	RECONNECT_DELAY_MS delay before reconnecting (default 5000)
func main() {
	cfg := params.LoadFromEnv("")

	logger, err := util.NewLogger(cfg.Log.Level)
	if err != nil {
		log.Fatalf("logger: %v", err)
	}
	defer logger.Sync()
	sugar := logger.Sugar()

	url := os.Getenv("TRADER_URL")
	if url == "" {
		url = "ws://" + cfg.Addr() + "/ws"
	}
	prefix := os.Getenv("TRADER_ID")
	if prefix == "" {
		prefix = "client"
	}
	count := envInt("TRADERS", 1)

	base := client.DefaultConfig()
	base.URL = url
	base.Symbols = cfg.Market.Symbols
	base.ReconnectDelay = time.Duration(envInt("RECONNECT_DELAY_MS", 5000)) * time.Millisecond

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	sugar.Infow("traders_starting", "url", url, "count", count, "symbols", base.Symbols)

	var wg sync.WaitGroup
	for i := 1; i <= count; i++ {
		tc := base
		tc.ClientID = fmt.Sprintf("%s%d", prefix, i)
		tr := client.New(tc, sugar)

		wg.Add(1)
		go func() {
			defer wg.Done()
			tr.Run(ctx)
			st := tr.Stats()
			sugar.Infow("trader_summary",
				"client", tc.ClientID,
				"sent", st.Sent,
				"replies", st.Replies,
				"timeouts", st.Timeouts,
				"dials", st.Dials)
		}()
	}
	wg.Wait()
}

func envInt(key string, def int) int {
	n, err := strconv.Atoi(os.Getenv(key))
	if err != nil || n <= 0 {
		return def
	}
	return n
}
