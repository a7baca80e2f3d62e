package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/minexchange/pkg/app/batch"
	"github.com/uhyunpark/minexchange/pkg/app/core/matching"
	"github.com/uhyunpark/minexchange/pkg/app/core/metrics"
	"github.com/uhyunpark/minexchange/pkg/app/core/orderbook"
	"github.com/uhyunpark/minexchange/pkg/storage"
)

const (
	defaultTradeLimit = 50
	maxTradeLimit     = 1000
)

// Deps are the collaborators a Server needs. Trades and Gatherer may be nil,
// which disables the trades and metrics endpoints respectively.
type Deps struct {
	Batcher  *batch.Batcher
	Tracker  *metrics.Tracker
	Registry *Registry
	Trades   storage.TradeStore
	Gatherer prometheus.Gatherer
	Logger   *zap.SugaredLogger

	SendBuffer  int
	CORSOrigins []string
}

// Server handles REST API and WebSocket connections
type Server struct {
	batcher  *batch.Batcher
	tracker  *metrics.Tracker
	registry *Registry
	trades   storage.TradeStore
	gatherer prometheus.Gatherer
	log      *zap.SugaredLogger

	sendBuffer  int
	corsOrigins []string

	router  *mux.Router
	httpSrv *http.Server

	// ctx outlives individual upgrade requests; cancelled on Shutdown.
	ctx    context.Context
	cancel context.CancelFunc
	seq    atomic.Uint64

	// pumps counts live read and write pumps. closing is set under mu so
	// no pump is added once Shutdown has started waiting.
	mu      sync.Mutex
	closing bool
	pumps   sync.WaitGroup
}

// NewServer creates a new API server
func NewServer(d Deps) *Server {
	log := d.Logger
	if log == nil {
		log = zap.NewNop().Sugar()
	}
	if d.SendBuffer <= 0 {
		d.SendBuffer = 256
	}
	if len(d.CORSOrigins) == 0 {
		d.CORSOrigins = []string{"*"}
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Server{
		batcher:     d.Batcher,
		tracker:     d.Tracker,
		registry:    d.Registry,
		trades:      d.Trades,
		gatherer:    d.Gatherer,
		log:         log,
		sendBuffer:  d.SendBuffer,
		corsOrigins: d.CORSOrigins,
		router:      mux.NewRouter(),
		ctx:         ctx,
		cancel:      cancel,
	}

	s.setupRoutes()
	s.httpSrv = &http.Server{
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

func (s *Server) setupRoutes() {
	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Market endpoints
	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/markets/{symbol}/orderbook", s.handleGetOrderbook).Methods("GET")
	api.HandleFunc("/markets/{symbol}/trades", s.handleGetTrades).Methods("GET")

	// Exchange counters
	api.HandleFunc("/stats", s.handleGetStats).Methods("GET")

	if s.gatherer != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(s.gatherer, promhttp.HandlerOpts{})).Methods("GET")
	}

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped in CORS handling.
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.corsOrigins,
		AllowedMethods: []string{"GET", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Client-ID"},
	})
	return c.Handler(s.router)
}

// Start listens on addr and serves until Shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("listen %s: %w", addr, err)
	}
	return s.Serve(ln)
}

// Serve accepts connections on ln. It returns nil after a clean Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	s.log.Infow("api_server_starting", "addr", ln.Addr().String())
	if err := s.httpSrv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown stops accepting connections, closes every live WebSocket and
// waits for their pumps to exit, so no order is in flight once it returns.
func (s *Server) Shutdown(ctx context.Context) error {
	s.mu.Lock()
	s.closing = true
	s.mu.Unlock()

	s.cancel()
	err := s.httpSrv.Shutdown(ctx)
	s.registry.CloseAll()

	done := make(chan struct{})
	go func() {
		s.pumps.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		err = errors.Join(err, fmt.Errorf("waiting for connections: %w", ctx.Err()))
	}
	return err
}

// ==============================
// WebSocket Handler
// ==============================

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Warnw("ws_upgrade_failed", "remote", r.RemoteAddr, "err", err)
		return
	}

	client := newClient(conn, s.clientID(r), s.sendBuffer)

	s.mu.Lock()
	if s.closing {
		s.mu.Unlock()
		conn.Close()
		return
	}
	s.registry.Register(client)
	s.pumps.Add(2)
	s.mu.Unlock()

	go func() {
		defer s.pumps.Done()
		client.writePump()
	}()
	go func() {
		defer s.pumps.Done()
		client.readPump(s.registry, s.handleMessage)
	}()
}

// clientID prefers the Client-ID header and falls back to a generated id.
func (s *Server) clientID(r *http.Request) string {
	id := r.Header.Get("Client-ID")
	if id == "" {
		id = "anon-" + uuid.NewString()[:8]
	}
	return fmt.Sprintf("%s#%d", id, s.seq.Add(1))
}

// handleMessage routes one inbound frame. Frames that fail to decode are
// answered immediately; orders go to the batcher.
func (s *Server) handleMessage(c *Client, message []byte) {
	if s.ctx.Err() != nil {
		return
	}
	if !json.Valid(message) {
		s.reply(c, WSError{Error: "Invalid JSON format"})
		return
	}

	var env WSEnvelope
	if err := json.Unmarshal(message, &env); err == nil && env.Type != nil && *env.Type == "subscribe" {
		c.Subscribe(env.Channel)
		s.log.Infow("client_subscribed", "client", c.id, "channel", env.Channel)
		return
	}

	var req matching.OrderRequest
	if err := json.Unmarshal(message, &req); err != nil {
		s.reply(c, matching.ErrorResult(err))
		return
	}

	s.batcher.Enqueue(s.ctx, c, req)
}

func (s *Server) reply(c *Client, v any) {
	msg, err := json.Marshal(v)
	if err != nil {
		s.log.Errorw("ws_marshal_failed", "client", c.id, "err", err)
		return
	}
	s.registry.Unicast(c, msg)
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	symbols := s.batcher.Symbols()

	response := make([]MarketInfo, 0, len(symbols))
	for _, sym := range symbols {
		book, ok := s.batcher.Book(sym)
		if !ok {
			continue
		}
		response = append(response, MarketInfo{
			Symbol: sym,
			Bids:   len(book.Bids),
			Asks:   len(book.Asks),
		})
	}

	respondJSON(w, response)
}

func (s *Server) handleGetOrderbook(w http.ResponseWriter, r *http.Request) {
	symbol := mux.Vars(r)["symbol"]

	book, ok := s.batcher.Book(symbol)
	if !ok {
		respondError(w, http.StatusNotFound, "market not found", symbol)
		return
	}

	respondJSON(w, OrderbookSnapshot{
		Symbol:    symbol,
		Bids:      toResting(book.Bids),
		Asks:      toResting(book.Asks),
		Timestamp: time.Now().UnixMilli(),
	})
}

func (s *Server) handleGetTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		respondError(w, http.StatusNotFound, "trade journal disabled", "")
		return
	}
	symbol := mux.Vars(r)["symbol"]

	limit := defaultTradeLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", raw)
			return
		}
		limit = min(n, maxTradeLimit)
	}

	records, err := s.trades.LoadRecentTrades(symbol, limit)
	if err != nil {
		s.log.Errorw("load_trades_failed", "symbol", symbol, "err", err)
		respondError(w, http.StatusInternalServerError, "failed to load trades", err.Error())
		return
	}

	response := make([]TradeInfo, len(records))
	for i, rec := range records {
		response[i] = TradeInfo{
			Symbol:      rec.Symbol,
			Price:       rec.Price.InexactFloat64(),
			Quantity:    rec.Quantity,
			BuyOrderID:  rec.BuyOrderID,
			SellOrderID: rec.SellOrderID,
			Timestamp:   time.Unix(0, rec.Timestamp).UnixMilli(),
		}
	}
	respondJSON(w, response)
}

func (s *Server) handleGetStats(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, s.tracker.Snapshot())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]any{"status": "ok", "connections": s.registry.Len()})
}

// ==============================
// Helper Functions
// ==============================

func toResting(orders []orderbook.Order) []RestingOrder {
	out := make([]RestingOrder, len(orders))
	for i, o := range orders {
		out[i] = RestingOrder{
			ID:       o.ID,
			Side:     o.Side.String(),
			Price:    o.Price.InexactFloat64(),
			Quantity: o.Qty,
		}
	}
	return out
}

func respondJSON(w http.ResponseWriter, data any) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(ErrorResponse{
		Error:   error,
		Message: message,
	})
}
