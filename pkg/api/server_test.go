package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/uhyunpark/hyperrisk/pkg/app/core"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/account"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/liquidation"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/market"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/oracle"
	"github.com/uhyunpark/hyperrisk/pkg/app/core/pool"
	"github.com/uhyunpark/hyperrisk/pkg/app/risk"
	"github.com/uhyunpark/hyperrisk/pkg/crypto"
	"github.com/uhyunpark/hyperrisk/pkg/math/fixed"
	"github.com/uhyunpark/hyperrisk/pkg/storage"
	"github.com/uhyunpark/hyperrisk/pkg/util"
)

var (
	t0       = time.Unix(1_700_000_000, 0)
	userAddr = common.HexToAddress("0x1111111111111111111111111111111111111111")
)

type testServer struct {
	server   *Server
	app      *risk.App
	verifier *crypto.EIP712Signer
	signer   *crypto.Signer
}

// newTestServer leaves userAddr 100 USDC short of maintenance on a 200 SOL long
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	app, err := risk.NewApp(storage.NewMemStore(), risk.Options{
		Clock:  util.NewManualClock(t0),
		Logger: zaptest.NewLogger(t),
	})
	require.NoError(t, err)

	require.NoError(t, app.RegisterPool(pool.DefaultUSDC))
	require.NoError(t, app.RegisterPool(pool.DefaultSOL))
	m := market.DefaultSOLPerp
	m.MarginRatioInitial = 2000
	m.MarginRatioMaintenance = 1000
	m.LiquidationFee = 0
	require.NoError(t, app.RegisterMarket(m))
	require.NoError(t, app.SetPrice("USDC/USD", oracle.Quote{Price: 1_000_000}))
	require.NoError(t, app.SetPrice("SOL/USD", oracle.Quote{Price: 50_000_000}))

	signer, err := crypto.GenerateKey()
	require.NoError(t, err)

	require.NoError(t, app.ApplyBalance(userAddr, 0, fixed.NewUint(900_000_000), account.Deposit))
	_, err = app.ApplyFill(userAddr, 0, fixed.NewUint(200_000_000_000), fixed.NewUint(10_000_000_000), core.Long)
	require.NoError(t, err)
	require.NoError(t, app.ApplyBalance(signer.Address(), 0, fixed.NewUint(100_000_000_000), account.Deposit))

	verifier := crypto.NewEIP712Signer(crypto.DefaultDomain())
	server := NewServer(app, verifier, Options{
		CORSAllowedOrigins: []string{"*"},
		RecentLiquidations: 50,
		Logger:             zaptest.NewLogger(t),
	})
	app.SetEventSink(server)

	return &testServer{server: server, app: app, verifier: verifier, signer: signer}
}

func (ts *testServer) do(t *testing.T, method, path string, body []byte) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	rec := httptest.NewRecorder()
	ts.server.Handler().ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) signedRequest(t *testing.T, nonce uint64, signWith *crypto.Signer) []byte {
	t.Helper()
	req := LiquidationRequest{
		Flow:        liquidation.FlowPerp,
		User:        userAddr.Hex(),
		Liquidator:  ts.signer.Address().Hex(),
		MarketIndex: 0,
		MaxTransfer: "1000000000",
		Nonce:       nonce,
	}
	signed, _, err := req.withSignature("0x").toSigned()
	require.NoError(t, err)
	sig, err := ts.verifier.SignLiquidation(signWith, signed)
	require.NoError(t, err)

	body, err := json.Marshal(req.withSignature(hexutil.Encode(sig)))
	require.NoError(t, err)
	return body
}

func (req LiquidationRequest) withSignature(sig string) LiquidationRequest {
	req.Signature = sig
	return req
}

func TestHealthEndpoint(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `"status":"ok"`)
}

func TestGetMarketsAndPools(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/v1/markets", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var markets []MarketInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &markets))
	require.Len(t, markets, 1)
	require.Equal(t, "SOL-PERP", markets[0].Symbol)
	require.Equal(t, "Active", markets[0].Status)
	require.Equal(t, "200000000000", markets[0].OpenInterestLong)

	rec = ts.do(t, "GET", "/api/v1/pools", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var pools []PoolInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &pools))
	require.Len(t, pools, 2)

	rec = ts.do(t, "GET", "/api/v1/pools/0", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var usdc PoolInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &usdc))
	require.Equal(t, "100900000000", usdc.DepositTokens)

	rec = ts.do(t, "GET", "/api/v1/pools/9", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)
}

func TestGetAccountHealth(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, "GET", "/api/v1/accounts/"+userAddr.Hex()+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "maintenance", health.Tier)
	require.Equal(t, "1000000000", health.MarginRequirement)
	require.Equal(t, "100000000", health.Shortage)
	require.False(t, health.Sufficient)

	rec = ts.do(t, "GET", "/api/v1/accounts/"+userAddr.Hex()+"/health?tier=initial", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "2000000000", health.MarginRequirement)

	rec = ts.do(t, "GET", "/api/v1/accounts/"+userAddr.Hex()+"/health?tier=bogus", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "GET", "/api/v1/accounts/not-an-address/health", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "GET", "/api/v1/accounts/"+userAddr.Hex(), nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestSubmitLiquidation(t *testing.T) {
	ts := newTestServer(t)

	body := ts.signedRequest(t, 1, ts.signer)
	rec := ts.do(t, "POST", "/api/v1/liquidations", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	var record liquidation.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &record))
	require.Equal(t, liquidation.FlowPerp, record.Flow)
	require.Equal(t, userAddr, record.User)
	require.Equal(t, "1000000000", record.BaseAssetAmount.String())

	// replay
	rec = ts.do(t, "POST", "/api/v1/liquidations", body)
	require.Equal(t, http.StatusConflict, rec.Code)

	other, err := crypto.GenerateKey()
	require.NoError(t, err)
	rec = ts.do(t, "POST", "/api/v1/liquidations", ts.signedRequest(t, 2, other))
	require.Equal(t, http.StatusUnauthorized, rec.Code)

	rec = ts.do(t, "POST", "/api/v1/liquidations", []byte(`{"flow":"sideways"}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, "GET", "/api/v1/liquidations", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var recent []liquidation.Record
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &recent))
	require.Len(t, recent, 1)
	require.Equal(t, record.ID, recent[0].ID)

	rec = ts.do(t, "GET", "/api/v1/liquidations?limit=0", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestSubmitLiquidationOnHealthyAccountConflicts(t *testing.T) {
	ts := newTestServer(t)
	require.NoError(t, ts.app.ApplyBalance(userAddr, 0, fixed.NewUint(1_000_000_000), account.Deposit))

	rec := ts.do(t, "POST", "/api/v1/liquidations", ts.signedRequest(t, 1, ts.signer))
	require.Equal(t, http.StatusConflict, rec.Code)
	var resp ErrorResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Equal(t, "eligibility", resp.Kind)
}

func TestSetPrice(t *testing.T) {
	ts := newTestServer(t)

	// SOL at $45 puts the 200 SOL long 1000 USDC under water
	rec := ts.do(t, "POST", "/api/v1/prices", []byte(`{"ref":"SOL/USD","price":45000000}`))
	require.Equal(t, http.StatusNoContent, rec.Code)

	rec = ts.do(t, "GET", "/api/v1/accounts/"+userAddr.Hex()+"/health", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	var health HealthInfo
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &health))
	require.Equal(t, "-100000000", health.TotalCollateral)

	rec = ts.do(t, "POST", "/api/v1/prices", []byte(`{"ref":"SOL/USD","price":0}`))
	require.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestMetricsEndpoint(t *testing.T) {
	ts := newTestServer(t)
	ts.do(t, "GET", "/api/v1/markets", nil)

	rec := ts.do(t, "GET", "/metrics", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Contains(t, rec.Body.String(), `hyperrisk_http_requests_total{method="GET",path="/api/v1/markets",status="200"}`)
}

func TestWebSocketReceivesLiquidations(t *testing.T) {
	ts := newTestServer(t)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ts.server.hub.Run(ctx)

	httpSrv := httptest.NewServer(ts.server.Handler())
	defer httpSrv.Close()

	url := "ws" + strings.TrimPrefix(httpSrv.URL, "http") + "/ws?channel=" + ChannelLiquidations
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	defer conn.Close()
	require.Eventually(t, func() bool { return ts.server.hub.ClientCount() == 1 }, time.Second, 10*time.Millisecond)

	rec := ts.do(t, "POST", "/api/v1/liquidations", ts.signedRequest(t, 1, ts.signer))
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	var msg struct {
		Type string             `json:"type"`
		Data liquidation.Record `json:"data"`
	}
	require.NoError(t, conn.ReadJSON(&msg))
	require.Equal(t, "liquidation", msg.Type)
	require.Equal(t, userAddr, msg.Data.User)
}
