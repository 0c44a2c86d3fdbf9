package api

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperwyvern/pkg/exchange"
	"github.com/uhyunpark/hyperwyvern/pkg/orderbook"
	"github.com/uhyunpark/hyperwyvern/pkg/storage"
)

// BalanceReader is the slice of the ledger the REST API exposes
type BalanceReader interface {
	Balance(ctx context.Context, token, account common.Address) (*big.Int, error)
}

// Server handles JSON-RPC, REST API and WebSocket connections
type Server struct {
	exchange *exchange.Exchange
	balances BalanceReader
	book     *orderbook.Book
	router   *mux.Router
	hub      *Hub // WebSocket hub
	journal  storage.Journal
	logger   *zap.SugaredLogger
	methods  map[string]rpcMethod

	allowedOrigins []string
}

type Option func(*Server)

// WithJournal records matches, cancellations and approvals
func WithJournal(j storage.Journal) Option { return func(s *Server) { s.journal = j } }

func WithLogger(l *zap.SugaredLogger) Option { return func(s *Server) { s.logger = l } }

func WithAllowedOrigins(origins []string) Option {
	return func(s *Server) { s.allowedOrigins = origins }
}

// NewServer creates a new API server
func NewServer(ex *exchange.Exchange, balances BalanceReader, book *orderbook.Book, opts ...Option) *Server {
	s := &Server{
		exchange:       ex,
		balances:       balances,
		book:           book,
		router:         mux.NewRouter(),
		journal:        storage.NewNopJournal(),
		logger:         zap.NewNop().Sugar(),
		allowedOrigins: []string{"http://localhost:3000", "http://localhost:3001"},
	}
	for _, opt := range opts {
		opt(s)
	}
	s.hub = NewHub(s.logger)
	s.methods = s.rpcMethods()

	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	// JSON-RPC endpoint
	s.router.HandleFunc("/rpc", s.handleRPC).Methods("POST")

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	// Orderbook endpoints
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/assets/{contract}/{tokenId}", s.handleGetAsset).Methods("GET")

	// Ledger endpoints
	api.HandleFunc("/balances/{token}/{account}", s.handleGetBalance).Methods("GET")

	// WebSocket endpoint
	s.router.HandleFunc("/ws", s.handleWebSocket)

	// Health check
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

// Handler returns the router wrapped with CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins:   s.allowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	return c.Handler(s.router)
}

// Hub exposes the WebSocket hub for event broadcasts
func (s *Server) Hub() *Hub { return s.hub }

// Start serves on addr until ctx is cancelled
func (s *Server) Start(ctx context.Context, addr string) error {
	// Start WebSocket hub
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()

	s.logger.Infow("api_server_starting", "addr", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// ==============================
// REST Handlers
// ==============================

// handleGetOrders maps query parameters onto an orderbook query:
// owner, tokenId (repeatable), limit, offset, page and field=name:value (repeatable)
func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	values := r.URL.Query()

	var q orderbook.Query
	if owner := values.Get("owner"); owner != "" {
		if !common.IsHexAddress(owner) {
			respondError(w, http.StatusBadRequest, "invalid owner", owner)
			return
		}
		q.Owner = common.HexToAddress(owner)
	}
	q.TokenIDs = values["tokenId"]
	for _, f := range values["field"] {
		name, value, ok := strings.Cut(f, ":")
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid field filter", "expected name:value")
			return
		}
		q.Params = append(q.Params, orderbook.Field{Name: name, Value: value})
	}

	var page uint64
	for _, p := range []struct {
		name string
		dst  *uint64
	}{{"limit", &q.Limit}, {"offset", &q.Offset}, {"page", &page}} {
		v := values.Get(p.name)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid "+p.name, err.Error())
			return
		}
		*p.dst = n
	}
	if page == 0 {
		page = 1
	}

	orders, err := s.book.GetOrders(r.Context(), q, page)
	if err != nil {
		respondError(w, statusFor(err), "query failed", err.Error())
		return
	}
	respondJSON(w, OrdersResponse{Orders: orders, Page: page})
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	order, err := s.book.OrderByID(r.Context(), id)
	if err != nil {
		respondError(w, statusFor(err), "order not found", err.Error())
		return
	}
	respondJSON(w, order)
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)

	asset, err := s.book.GetAsset(r.Context(), vars["contract"], vars["tokenId"])
	if err != nil {
		respondError(w, statusFor(err), "asset not found", err.Error())
		return
	}
	respondJSON(w, asset)
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	token, account := vars["token"], vars["account"]
	if !common.IsHexAddress(token) || !common.IsHexAddress(account) {
		respondError(w, http.StatusBadRequest, "invalid address", token+"/"+account)
		return
	}

	bal, err := s.balances.Balance(r.Context(), common.HexToAddress(token), common.HexToAddress(account))
	if err != nil {
		respondError(w, http.StatusInternalServerError, "failed to load balance", err.Error())
		return
	}
	respondJSON(w, BalanceInfo{
		Token:   common.HexToAddress(token).Hex(),
		Account: common.HexToAddress(account).Hex(),
		Balance: bal.String(),
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{
		"status":   "ok",
		"exchange": s.exchange.Address().Hex(),
	})
}

// ==============================
// Broadcast Methods
// ==============================

func (s *Server) broadcastMatch(fx *exchange.TransferEffects) {
	s.hub.Publish(ChannelMatches, []common.Address{fx.Maker, fx.Taker}, MatchEvent{
		Type:         "match",
		BuyHash:      fx.BuyHash.Hex(),
		SellHash:     fx.SellHash.Hex(),
		Maker:        fx.Maker.Hex(),
		Taker:        fx.Taker.Hex(),
		Price:        fx.Price.String(),
		PaymentToken: fx.PaymentToken.Hex(),
		Transfers:    fx.Transfers,
		Timestamp:    time.Now().UnixMilli(),
	})
}

func (s *Server) broadcastCancel(hash common.Hash, maker common.Address) {
	s.hub.Publish(ChannelCancellations, []common.Address{maker}, CancelEvent{
		Type:      "cancellation",
		Hash:      hash.Hex(),
		Maker:     maker.Hex(),
		Timestamp: time.Now().UnixMilli(),
	})
}

// ==============================
// Helper Functions
// ==============================

// statusFor maps orderbook lookup failures to 404 and the rest to 400
func statusFor(err error) int {
	switch {
	case errors.Is(err, orderbook.ErrOrderNotFound), errors.Is(err, orderbook.ErrAssetNotFound):
		return http.StatusNotFound
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return http.StatusServiceUnavailable
	default:
		return http.StatusBadRequest
	}
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

// record appends an event to the journal; failures are logged, not returned
func (s *Server) record(event string, data any) {
	if err := s.journal.Append(event, data); err != nil {
		s.logger.Warnw("journal_append_failed", "event", event, "err", err)
	}
}
