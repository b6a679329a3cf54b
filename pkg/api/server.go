package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/big"
	"net/http"
	"strconv"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/mux"
	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/risk"
	"github.com/uhyunpark/hyperrisk/pkg/crypto"
	"github.com/uhyunpark/hyperrisk/pkg/metrics"
)

// ChannelLiquidations carries every committed liquidation
const ChannelLiquidations = "liquidations"

// accountChannel carries liquidations touching one address
func accountChannel(addr common.Address) string { return "account:" + addr.Hex() }

// Options configure the API server
type Options struct {
	CORSAllowedOrigins []string
	RecentLiquidations int // default and max page size of GET /liquidations
	Logger             *zap.Logger
}

// Server handles REST API and WebSocket connections
type Server struct {
	app      *risk.App
	verifier *crypto.EIP712Signer
	router   *mux.Router
	hub      *Hub
	opts     Options
	logger   *zap.SugaredLogger
}

// NewServer creates a new API server
func NewServer(app *risk.App, verifier *crypto.EIP712Signer, opts Options) *Server {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RecentLiquidations <= 0 {
		opts.RecentLiquidations = 100
	}
	logger := opts.Logger.Sugar()
	s := &Server{
		app:      app,
		verifier: verifier,
		router:   mux.NewRouter(),
		hub:      NewHub(logger.Named("ws")),
		opts:     opts,
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *Server) setupRoutes() {
	s.router.Use(metrics.Middleware(routeTemplate))

	// API v1 routes
	api := s.router.PathPrefix("/api/v1").Subrouter()

	api.HandleFunc("/markets", s.handleGetMarkets).Methods("GET")
	api.HandleFunc("/pools", s.handleGetPools).Methods("GET")
	api.HandleFunc("/pools/{index:[0-9]+}", s.handleGetPool).Methods("GET")

	api.HandleFunc("/accounts/{address}", s.handleGetAccount).Methods("GET")
	api.HandleFunc("/accounts/{address}/health", s.handleGetHealth).Methods("GET")

	api.HandleFunc("/prices", s.handleSetPrice).Methods("POST")

	api.HandleFunc("/liquidations", s.handleGetLiquidations).Methods("GET")
	api.HandleFunc("/liquidations", s.handleSubmitLiquidation).Methods("POST")

	s.router.HandleFunc("/ws", s.handleWebSocket)
	s.router.Handle("/metrics", metrics.Handler()).Methods("GET")
	s.router.HandleFunc("/health", s.handleHealth).Methods("GET")
}

func routeTemplate(r *http.Request) string {
	if route := mux.CurrentRoute(r); route != nil {
		if tpl, err := route.GetPathTemplate(); err == nil {
			return tpl
		}
	}
	return "unmatched"
}

// Handler returns the router wrapped in CORS
func (s *Server) Handler() http.Handler {
	c := cors.New(cors.Options{
		AllowedOrigins: s.opts.CORSAllowedOrigins,
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Content-Type", "Authorization"},
	})
	return c.Handler(s.router)
}

// Start serves until ctx is canceled, then drains connections
func (s *Server) Start(ctx context.Context, addr string) error {
	go s.hub.Run(ctx)

	srv := &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		s.logger.Infow("api_server_starting", "addr", addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	}
}

// PublishLiquidation fans a committed liquidation out to WebSocket subscribers
func (s *Server) PublishLiquidation(rec liquidation.Record) {
	msg := WSMessage{Type: "liquidation", Data: rec}
	s.hub.BroadcastToChannel(ChannelLiquidations, msg)
	s.hub.BroadcastToChannel(accountChannel(rec.User), msg)
	s.hub.BroadcastToChannel(accountChannel(rec.Liquidator), msg)
}

var _ risk.EventSink = (*Server)(nil)

// ==============================
// REST Handlers
// ==============================

func (s *Server) handleGetMarkets(w http.ResponseWriter, r *http.Request) {
	markets := s.app.Markets()

	response := make([]MarketInfo, len(markets))
	for i, m := range markets {
		response[i] = MarketInfo{
			Index:                  m.Index,
			Symbol:                 m.Symbol,
			Oracle:                 string(m.Oracle),
			Status:                 m.Status.String(),
			MarginRatioInitial:     m.MarginRatioInitial,
			MarginRatioMaintenance: m.MarginRatioMaintenance,
			LiquidationFee:         m.LiquidationFee,
			OpenInterestLong:       m.BaseAssetAmountLong.String(),
			OpenInterestShort:      m.BaseAssetAmountShort.Abs().String(),
			UnsettledProfit:        m.UnsettledProfit.String(),
			UnsettledLoss:          m.UnsettledLoss.String(),
		}
	}

	respondJSON(w, response)
}

func (s *Server) handleGetPools(w http.ResponseWriter, r *http.Request) {
	pools, err := s.app.Pools()
	if err != nil {
		s.respondInternal(w, "failed to load pools", err)
		return
	}
	response := make([]PoolInfo, len(pools))
	for i, p := range pools {
		response[i] = poolInfo(p)
	}
	respondJSON(w, response)
}

func (s *Server) handleGetPool(w http.ResponseWriter, r *http.Request) {
	index, err := strconv.ParseUint(mux.Vars(r)["index"], 10, 16)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid pool index", err.Error())
		return
	}
	p, err := s.app.Pool(uint16(index))
	if errors.Is(err, pool.ErrPoolNotFound) {
		respondError(w, http.StatusNotFound, "pool not found", err.Error())
		return
	}
	if err != nil {
		s.respondInternal(w, "failed to load pool", err)
		return
	}
	respondJSON(w, poolInfo(p))
}

func parseAddress(w http.ResponseWriter, raw string) (common.Address, bool) {
	if !common.IsHexAddress(raw) {
		respondError(w, http.StatusBadRequest, "invalid address", fmt.Sprintf("%q is not a hex address", raw))
		return common.Address{}, false
	}
	return common.HexToAddress(raw), true
}

func (s *Server) handleGetAccount(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	acc, err := s.app.Account(addr)
	if err != nil {
		s.respondInternal(w, "failed to load account", err)
		return
	}
	respondJSON(w, acc)
}

func (s *Server) handleGetHealth(w http.ResponseWriter, r *http.Request) {
	addr, ok := parseAddress(w, mux.Vars(r)["address"])
	if !ok {
		return
	}
	tier, ok := core.ParseTier(r.URL.Query().Get("tier"))
	if !ok {
		respondError(w, http.StatusBadRequest, "invalid tier", "tier must be initial or maintenance")
		return
	}

	report, err := s.app.Health(addr, tier)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, market.ErrMarketNotFound) || errors.Is(err, pool.ErrPoolNotFound) {
			status = http.StatusUnprocessableEntity
		}
		respondError(w, status, "failed to evaluate account", err.Error())
		return
	}
	respondJSON(w, healthInfo(report))
}

func (s *Server) handleSetPrice(w http.ResponseWriter, r *http.Request) {
	var req PriceUpdate
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<12)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	if req.Ref == "" {
		respondError(w, http.StatusBadRequest, "invalid request", "ref cannot be empty")
		return
	}
	if err := s.app.SetPrice(oracle.Ref(req.Ref), oracle.Quote{Price: req.Price, TWAP: req.TWAP}); err != nil {
		respondError(w, http.StatusBadRequest, "invalid price", err.Error())
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleGetLiquidations(w http.ResponseWriter, r *http.Request) {
	limit := s.opts.RecentLiquidations
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			respondError(w, http.StatusBadRequest, "invalid limit", "limit must be a positive integer")
			return
		}
		limit = min(n, s.opts.RecentLiquidations)
	}

	records, err := s.app.RecentLiquidations(limit)
	if err != nil {
		s.respondInternal(w, "failed to load liquidations", err)
		return
	}
	if records == nil {
		records = []liquidation.Record{}
	}
	respondJSON(w, records)
}

func (s *Server) handleSubmitLiquidation(w http.ResponseWriter, r *http.Request) {
	var req LiquidationRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<16)).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}
	signed, sig, err := req.toSigned()
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid request", err.Error())
		return
	}

	rec, err := s.app.SubmitSigned(s.verifier, signed, sig)
	if err != nil {
		status, kind := liquidationStatus(err)
		respondJSONStatus(w, status, ErrorResponse{Error: "liquidation rejected", Message: err.Error(), Kind: kind})
		return
	}
	respondJSON(w, rec)
}

func (req LiquidationRequest) toSigned() (*crypto.LiquidationEIP712, []byte, error) {
	if !common.IsHexAddress(req.User) || !common.IsHexAddress(req.Liquidator) {
		return nil, nil, fmt.Errorf("user and liquidator must be hex addresses")
	}
	maxTransfer, ok := new(big.Int).SetString(req.MaxTransfer, 10)
	if !ok || maxTransfer.Sign() < 0 {
		return nil, nil, fmt.Errorf("maxTransfer must be a non-negative decimal, got %q", req.MaxTransfer)
	}
	if req.Deadline < 0 {
		return nil, nil, fmt.Errorf("deadline must not be negative")
	}
	sig, err := hexutil.Decode(req.Signature)
	if err != nil {
		return nil, nil, fmt.Errorf("signature: %w", err)
	}
	return &crypto.LiquidationEIP712{
		Flow:          uint8(req.Flow),
		User:          common.HexToAddress(req.User),
		Liquidator:    common.HexToAddress(req.Liquidator),
		MarketIndex:   req.MarketIndex,
		AssetPool:     req.AssetPool,
		LiabilityPool: req.LiabilityPool,
		MaxTransfer:   maxTransfer,
		Nonce:         new(big.Int).SetUint64(req.Nonce),
		Deadline:      big.NewInt(req.Deadline),
	}, sig, nil
}

// liquidationStatus maps a rejected liquidation to an HTTP status
func liquidationStatus(err error) (int, string) {
	switch {
	case errors.Is(err, risk.ErrBadSignature):
		return http.StatusUnauthorized, ""
	case errors.Is(err, risk.ErrNonceTooLow), errors.Is(err, risk.ErrRequestExpired):
		return http.StatusConflict, ""
	case errors.Is(err, risk.ErrUnknownFlow):
		return http.StatusBadRequest, ""
	}
	kind := liquidation.KindOf(err)
	switch kind {
	case liquidation.KindPrecondition:
		return http.StatusBadRequest, kind.String()
	case liquidation.KindEligibility:
		return http.StatusConflict, kind.String()
	case liquidation.KindPostCondition, liquidation.KindArithmetic:
		return http.StatusUnprocessableEntity, kind.String()
	default:
		return http.StatusInternalServerError, kind.String()
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, map[string]interface{}{
		"status":  "ok",
		"markets": len(s.app.Markets()),
		"clients": s.hub.ClientCount(),
	})
}

// ==============================
// Helpers
// ==============================

func respondJSON(w http.ResponseWriter, data interface{}) {
	respondJSONStatus(w, http.StatusOK, data)
}

func respondJSONStatus(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

func respondError(w http.ResponseWriter, status int, error string, message string) {
	respondJSONStatus(w, status, ErrorResponse{
		Error:   error,
		Message: message,
	})
}

func (s *Server) respondInternal(w http.ResponseWriter, msg string, err error) {
	s.logger.Errorw("api_request_failed", "error", err, "msg", msg)
	respondError(w, http.StatusInternalServerError, msg, err.Error())
}
