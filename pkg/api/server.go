package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/swapledger/pkg/app/core/asset"
	"github.com/uhyunpark/swapledger/pkg/app/core/orderbook"
	"github.com/uhyunpark/swapledger/pkg/app/core/transaction"
	"github.com/uhyunpark/swapledger/pkg/app/dex"
	"github.com/uhyunpark/swapledger/pkg/app/exchange"
	"github.com/uhyunpark/swapledger/pkg/chain"
)

// maxTxBody bounds POST /tx bodies
const maxTxBody = 64 << 10

// EventReader serves notifications committed at a height
type EventReader interface {
	Events(height int64) ([]dex.Notification, error)
}

type Config struct {
	App *dex.App
	// Blocks and Events are optional; their routes answer 404 without them
	Blocks         chain.BlockStore
	Events         EventReader
	Gatherer       prometheus.Gatherer
	AllowedOrigins []string
	Logger         *zap.Logger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app     *dex.App
	blocks  chain.BlockStore
	events  EventReader
	router  *mux.Router
	handler http.Handler
	hub     *Hub
	logger  *zap.Logger
}

// NewServer creates a new API server
func NewServer(cfg Config) *Server {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		app:    cfg.App,
		blocks: cfg.Blocks,
		events: cfg.Events,
		router: mux.NewRouter(),
		hub:    NewHub(logger.Named("ws")),
		logger: logger,
	}
	s.setupRoutes(cfg.Gatherer)

	origins := cfg.AllowedOrigins
	if len(origins) == 0 {
		origins = []string{"http://localhost:3000", "http://localhost:3001"}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	s.handler = c.Handler(s.router)
	return s
}

func (s *Server) setupRoutes(g prometheus.Gatherer) {
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/exchange", s.handleGetExchange).Methods("GET")
	api.HandleFunc("/balances/{asset}/{owner}", s.handleGetBalance).Methods("GET")
	api.HandleFunc("/wallets/{owner}", s.handleGetWallet).Methods("GET")
	api.HandleFunc("/orders", s.handleGetOrders).Methods("GET")
	api.HandleFunc("/orders/{id:[0-9]+}", s.handleGetOrder).Methods("GET")
	api.HandleFunc("/nonces/{owner}", s.handleGetNonce).Methods("GET")
	api.HandleFunc("/blocks/latest", s.handleGetLatestBlock).Methods("GET")
	api.HandleFunc("/blocks/{height:[0-9]+}", s.handleGetBlock).Methods("GET")
	api.HandleFunc("/events/{height:[0-9]+}", s.handleGetEvents).Methods("GET")
	api.HandleFunc("/tx", s.handleSubmitTx).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
	if g != nil {
		s.router.Handle("/metrics", promhttp.HandlerFor(g, promhttp.HandlerOpts{})).Methods("GET")
	}
}

// Hub is the notifier to hand to the application
func (s *Server) Hub() *Hub { return s.hub }

// Handler is the router wrapped in CORS
func (s *Server) Handler() http.Handler { return s.handler }

// Run serves on addr until ctx is done
func (s *Server) Run(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("server starting", zap.String("addr", addr))
		errc <- srv.ListenAndServe()
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}
		return nil
	}
}

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetExchange(w http.ResponseWriter, r *http.Request) {
	ex := s.app.Exchange()
	reg := s.app.Registry()

	tokens := make([]TokenInfo, 0)
	for _, t := range reg.Tokens() {
		a := asset.Fungible(t.Address())
		tokens = append(tokens, TokenInfo{
			Address:     t.Address().Hex(),
			Name:        t.Name(),
			Symbol:      t.Symbol(),
			Decimals:    t.Decimals(),
			TotalSupply: t.TotalSupply().Dec(),
			Custody:     t.BalanceOf(ex.Address()).Dec(),
			Owed:        ex.Total(a).Dec(),
		})
	}

	respondJSON(w, ExchangeInfo{
		Address:    ex.Address().Hex(),
		FeeAccount: ex.FeeAccount().Hex(),
		FeePercent: ex.FeePercent(),
		OrderCount: ex.OrderCount(),
		Tokens:     tokens,
		Chain:      s.chainStatus(),
	})
}

func (s *Server) chainStatus() ChainStatus {
	height, ts, appHash := s.app.LastBlock()
	return ChainStatus{
		Height:      height,
		Time:        ts,
		AppHash:     appHash.Hex(),
		MempoolSize: s.app.PendingTxs(),
	}
}

func (s *Server) handleGetBalance(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	a, err := asset.FromHex(vars["asset"])
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid asset", err.Error())
		return
	}
	owner, ok := parseAddress(w, vars["owner"])
	if !ok {
		return
	}
	respondJSON(w, BalanceInfo{
		Asset:   a.String(),
		Owner:   owner.Hex(),
		Balance: s.app.Exchange().BalanceOf(a, owner).Dec(),
	})
}

func (s *Server) handleGetWallet(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, mux.Vars(r)["owner"])
	if !ok {
		return
	}
	reg := s.app.Registry()
	info := WalletInfo{
		Owner:  owner.Hex(),
		Native: reg.Wallets().BalanceOf(owner).Dec(),
		Tokens: make(map[string]string),
	}
	for _, t := range reg.Tokens() {
		info.Tokens[t.Address().Hex()] = t.BalanceOf(owner).Dec()
	}
	respondJSON(w, info)
}

func (s *Server) handleGetOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	var f orderbook.Filter

	if v := q.Get("creator"); v != "" {
		creator, ok := parseAddress(w, v)
		if !ok {
			return
		}
		f.Creator = &creator
	}
	if v := q.Get("status"); v != "" {
		st, ok := orderbook.ParseStatus(v)
		if !ok {
			respondError(w, http.StatusBadRequest, "invalid status", "expected open, filled or cancelled")
			return
		}
		f.Status = &st
	}
	if v := q.Get("after"); v != "" {
		after, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid after", err.Error())
			return
		}
		f.AfterID = after
	}
	f.Limit = 100
	if v := q.Get("limit"); v != "" {
		limit, err := strconv.Atoi(v)
		if err != nil || limit <= 0 || limit > 1000 {
			respondError(w, http.StatusBadRequest, "invalid limit", "expected 1..1000")
			return
		}
		f.Limit = limit
	}

	orders := s.app.Exchange().Orders(f)
	out := make([]OrderInfo, len(orders))
	for i := range orders {
		out[i] = toOrderInfo(&orders[i])
	}
	respondJSON(w, out)
}

func (s *Server) handleGetOrder(w http.ResponseWriter, r *http.Request) {
	id, err := strconv.ParseUint(mux.Vars(r)["id"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid order id", err.Error())
		return
	}
	o, err := s.app.Exchange().Order(id)
	if err != nil {
		respondErr(w, err)
		return
	}
	respondJSON(w, toOrderInfo(&o))
}

func toOrderInfo(o *orderbook.Order) OrderInfo {
	return OrderInfo{
		ID:         o.ID,
		Creator:    o.Creator.Hex(),
		AssetGet:   o.AssetGet.String(),
		AmountGet:  o.AmountGet.Dec(),
		AssetGive:  o.AssetGive.String(),
		AmountGive: o.AmountGive.Dec(),
		CreatedAt:  o.CreatedAt,
		Status:     o.Status().String(),
	}
}

func (s *Server) handleGetNonce(w http.ResponseWriter, r *http.Request) {
	owner, ok := parseAddress(w, mux.Vars(r)["owner"])
	if !ok {
		return
	}
	respondJSON(w, NonceInfo{Owner: owner.Hex(), Next: s.app.Nonces().Next(owner)})
}

func (s *Server) handleGetLatestBlock(w http.ResponseWriter, r *http.Request) {
	if s.blocks == nil {
		respondError(w, http.StatusNotFound, "no block store", "")
		return
	}
	h, ok, err := s.blocks.GetCommitted()
	if err != nil {
		respondErr(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "no blocks yet", "")
		return
	}
	b, ok, err := s.blocks.GetBlock(h)
	s.respondBlock(w, b, ok, err)
}

func (s *Server) handleGetBlock(w http.ResponseWriter, r *http.Request) {
	if s.blocks == nil {
		respondError(w, http.StatusNotFound, "no block store", "")
		return
	}
	height, err := strconv.ParseUint(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	b, ok, err := s.blocks.GetBlockByHeight(chain.Height(height))
	s.respondBlock(w, b, ok, err)
}

func (s *Server) respondBlock(w http.ResponseWriter, b chain.Block, ok bool, err error) {
	if err != nil {
		respondErr(w, err)
		return
	}
	if !ok {
		respondError(w, http.StatusNotFound, "block not found", "")
		return
	}
	respondJSON(w, BlockInfo{
		Height:  uint64(b.Height),
		Hash:    chain.HashOfBlock(b).Hex(),
		Parent:  b.Parent.Hex(),
		Time:    b.Time.Unix(),
		Txs:     len(b.Txs()),
		AppHash: b.AppHash.Hex(),
	})
}

func (s *Server) handleGetEvents(w http.ResponseWriter, r *http.Request) {
	if s.events == nil {
		respondError(w, http.StatusNotFound, "no event store", "")
		return
	}
	height, err := strconv.ParseInt(mux.Vars(r)["height"], 10, 64)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid height", err.Error())
		return
	}
	evs, err := s.events.Events(height)
	if err != nil {
		respondErr(w, err)
		return
	}
	out := make([]EventUpdate, len(evs))
	for i, n := range evs {
		out[i] = eventUpdate(ChannelEvents, n)
	}
	respondJSON(w, out)
}

// handleSubmitTx checks the signature and nonce before admitting the
// transaction. Execution happens when a block includes it; a transaction
// admitted here can still fail or be skipped.
func (s *Server) handleSubmitTx(w http.ResponseWriter, r *http.Request) {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxTxBody+1))
	if err != nil {
		respondError(w, http.StatusBadRequest, "failed to read body", err.Error())
		return
	}
	if len(body) > maxTxBody {
		respondError(w, http.StatusRequestEntityTooLarge, "transaction too large", "")
		return
	}

	tx, err := transaction.ParseTransaction(body)
	if err != nil {
		respondErr(w, err)
		return
	}
	action, err := s.app.Verifier().Verify(tx)
	if err != nil {
		respondErr(w, err)
		return
	}
	if next := s.app.Nonces().Next(action.Sender); action.Nonce < next {
		respondError(w, http.StatusConflict, transaction.ErrNonceTooLow.Error(),
			"next nonce is "+strconv.FormatUint(next, 10))
		return
	}

	class := s.app.PushTx(body)
	receipt := uuid.NewString()
	s.logger.Info("tx submitted",
		zap.String("receipt", receipt),
		zap.String("type", string(tx.Type)),
		zap.Stringer("sender", action.Sender),
		zap.Uint64("nonce", action.Nonce),
		zap.Stringer("class", class),
		zap.Int("bytes", len(body)))

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusAccepted)
	json.NewEncoder(w).Encode(SubmitTxResponse{
		Status:  "submitted",
		Receipt: receipt,
		Class:   class.String(),
		Sender:  action.Sender.Hex(),
		Nonce:   action.Nonce,
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]string{"status": "ok"})
}

// ==============================
// Helper Functions
// ==============================

func parseAddress(w http.ResponseWriter, v string) (common.Address, bool) {
	if !common.IsHexAddress(v) {
		respondError(w, http.StatusBadRequest, "invalid address", v)
		return common.Address{}, false
	}
	return common.HexToAddress(v), true
}

// statusOf maps domain errors onto HTTP statuses
func statusOf(err error) int {
	switch {
	case errors.Is(err, transaction.ErrMalformed),
		errors.Is(err, transaction.ErrUnknownTxType):
		return http.StatusBadRequest
	case errors.Is(err, transaction.ErrBadSignature):
		return http.StatusUnauthorized
	case errors.Is(err, transaction.ErrNonceTooLow):
		return http.StatusConflict
	case errors.Is(err, exchange.ErrOrderNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func respondErr(w http.ResponseWriter, err error) {
	status := statusOf(err)
	respondError(w, status, http.StatusText(status), err.Error())
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
