package http

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/gin-gonic/gin"
	"github.com/layer-3/pearauth/adapters/signer"
	"github.com/layer-3/pearauth/adapters/store"
	"github.com/layer-3/pearauth/adapters/tokenizer"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/internal/eth"
	"github.com/layer-3/pearauth/service"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubRelay struct {
	createErr error
}

func (r *stubRelay) GetEIP712Message(ctx context.Context, address common.Address, clientID string) (core.AuthChallenge, error) {
	return core.AuthChallenge{
		Domain: apitypes.TypedDataDomain{Name: "Pear Protocol", Version: "1"},
		Types: apitypes.Types{
			"Authentication": {{Name: "clientId", Type: "string"}, {Name: "timestamp", Type: "uint256"}},
		},
		Message: map[string]any{"clientId": clientID, "timestamp": json.Number("1700000000123")},
	}, nil
}

func (r *stubRelay) Login(ctx context.Context, req core.LoginRequest) (core.AccessToken, error) {
	return "tok-1", nil
}

func (r *stubRelay) GetAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	return core.AgentWallet{}, nil
}

func (r *stubRelay) CreateAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	if r.createErr != nil {
		return core.AgentWallet{}, r.createErr
	}
	return core.AgentWallet{Address: common.HexToAddress("0xa9")}, nil
}

func (r *stubRelay) PlaceSpotOrder(ctx context.Context, token core.AccessToken, order core.SpotOrder) (core.OrderResult, error) {
	return core.OrderResult{OrderID: "7"}, nil
}

func (r *stubRelay) OpenOrders(ctx context.Context, token core.AccessToken) (json.RawMessage, error) {
	return json.RawMessage(`[{"oid":7}]`), nil
}

func (r *stubRelay) CancelOrder(ctx context.Context, token core.AccessToken, orderID string) error {
	return nil
}

type stubExchange struct {
	agentErr error
}

func (e *stubExchange) ApproveAgent(ctx context.Context, user common.Address, agent core.AgentWallet, name string) (core.ApprovalReceipt, error) {
	if e.agentErr != nil {
		return core.ApprovalReceipt{}, e.agentErr
	}
	return core.ApprovalReceipt{Action: "approveAgent", Nonce: 1, Status: "ok"}, nil
}

func (e *stubExchange) ApproveBuilderFee(ctx context.Context, user common.Address, builder common.Address, maxFeeRate string) (core.ApprovalReceipt, error) {
	return core.ApprovalReceipt{Action: "approveBuilderFee", Nonce: 2, Status: "ok"}, nil
}

func (e *stubExchange) SpotBalance(ctx context.Context, user common.Address, coin string) (decimal.Decimal, error) {
	return decimal.NewFromInt(100), nil
}

type testServer struct {
	router   *gin.Engine
	relay    *stubRelay
	exchange *stubExchange
}

func newTestServer(t *testing.T, apiKey string) *testServer {
	t.Helper()
	gin.SetMode(gin.TestMode)

	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	wallet := eth.NewKeySignerFromKey(key, 42161)

	relay := &stubRelay{}
	exchange := &stubExchange{}
	flow := service.NewFlow(service.FlowConfig{
		ClientID:   "HLHackathon1",
		AgentName:  "Voxtrade Agent",
		Builder:    common.HexToAddress("0xA47D4d99191db54A4829cdf3de2417E527c3b042"),
		MaxFeeRate: "0.1%",
	}, relay, signer.NewAdapter(wallet, time.Second, zerolog.Nop()), exchange,
		tokenizer.NewJWTInspector(), store.NewMemoryStore(), nil, zerolog.Nop())
	trader := service.NewTrader(flow, relay, exchange, decimal.RequireFromString("0.1"), zerolog.Nop())

	handlers := NewFlowHandlers(flow, trader, wallet)
	return &testServer{
		router:   SetupRouter(handlers, flow, apiKey, zerolog.Nop()),
		relay:    relay,
		exchange: exchange,
	}
}

func (s *testServer) do(t *testing.T, method, path string, body any, headers ...string) (*httptest.ResponseRecorder, map[string]any) {
	t.Helper()
	var reader *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(b)
	} else {
		reader = bytes.NewReader(nil)
	}

	req := httptest.NewRequest(method, path, reader)
	req.Header.Set("Content-Type", "application/json")
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}

	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)

	var out map[string]any
	_ = json.Unmarshal(w.Body.Bytes(), &out)
	return w, out
}

func TestFullFlowOverHTTP(t *testing.T) {
	s := newTestServer(t, "")

	w, body := s.do(t, http.MethodPost, "/auth/authenticate", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "wallet_not_connected", body["code"])

	w, body = s.do(t, http.MethodPost, "/wallet/connect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["state"])

	w, body = s.do(t, http.MethodPost, "/auth/authenticate", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "authenticated", body["state"])
	assert.Equal(t, "tok-1", body["accessToken"])

	w, _ = s.do(t, http.MethodPost, "/orders/spot", map[string]any{"asset": "HYPE", "isBuy": true, "amount": 1})
	assert.Equal(t, http.StatusForbidden, w.Code)

	w, body = s.do(t, http.MethodPost, "/agent/approve", nil)
	require.Equal(t, http.StatusOK, w.Code)
	result := body["result"].(map[string]any)
	assert.Equal(t, common.HexToAddress("0xa9").Hex(), result["agentAddress"])
	assert.NotNil(t, result["agentReceipt"])
	assert.NotNil(t, result["builderFeeReceipt"])

	w, body = s.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "fully_approved", body["state"])
	assert.Equal(t, true, body["tradingEnabled"])

	w, body = s.do(t, http.MethodPost, "/orders/spot", map[string]any{"asset": "HYPE", "isBuy": true, "amount": 0.5})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "7", body["orderId"])

	w, body = s.do(t, http.MethodPost, "/orders/spot", map[string]any{"asset": "HYPE", "isBuy": true, "amount": "0.01"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, "below_minimum_size", body["code"])

	w, _ = s.do(t, http.MethodGet, "/orders/open", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[{"oid":7}]`, w.Body.String())

	w, _ = s.do(t, http.MethodDelete, "/orders/7", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, body = s.do(t, http.MethodPost, "/wallet/disconnect", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "idle", body["state"])
	assert.Nil(t, body["accessToken"])
}

func TestApprovePartialFailure(t *testing.T) {
	s := newTestServer(t, "")
	s.exchange.agentErr = core.ErrInsufficientCollateral

	s.do(t, http.MethodPost, "/wallet/connect", nil)
	s.do(t, http.MethodPost, "/auth/authenticate", nil)

	w, body := s.do(t, http.MethodPost, "/agent/approve", nil)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, "insufficient_collateral", body["code"])
	assert.Equal(t, "Deposit USDC on Hyperliquid before approving the agent.", body["error"])
	assert.Equal(t, false, body["retryable"])

	result := body["result"].(map[string]any)
	assert.NotEmpty(t, result["agentAddress"])
	assert.Nil(t, result["agentReceipt"])

	w, body = s.do(t, http.MethodGet, "/session", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "agent_provisioned", body["state"])
	assert.Equal(t, "failed(insufficient_collateral)", body["agentApproval"])

	s.exchange.agentErr = nil
	w, _ = s.do(t, http.MethodPost, "/agent/approve/retry", nil)
	assert.Equal(t, http.StatusOK, w.Code)
}

func TestApproveRejectsStaleToken(t *testing.T) {
	s := newTestServer(t, "")
	s.do(t, http.MethodPost, "/wallet/connect", nil)
	s.do(t, http.MethodPost, "/auth/authenticate", nil)

	w, body := s.do(t, http.MethodPost, "/agent/approve", map[string]string{"accessToken": "tok-0"})
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.Equal(t, "unauthenticated", body["code"])
	assert.Nil(t, body["result"])
}

func TestAPIKey(t *testing.T) {
	s := newTestServer(t, "secret")

	w, _ := s.do(t, http.MethodGet, "/healthz", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/session", nil)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/session", nil, "Authorization", "Bearer wrong")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w, _ = s.do(t, http.MethodGet, "/session", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)

	w, _ = s.do(t, http.MethodGet, "/metrics", nil, "Authorization", "Bearer secret")
	assert.Equal(t, http.StatusOK, w.Code)
}
