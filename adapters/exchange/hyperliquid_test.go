package exchange

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/adapters/signer"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/internal/eth"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type postedAction struct {
	Action       map[string]any `json:"action"`
	Nonce        int64          `json:"nonce"`
	Signature    signature      `json:"signature"`
	VaultAddress *string        `json:"vaultAddress"`
}

type fakeHyperliquid struct {
	srv      *httptest.Server
	posted   []postedAction
	reply    string
	info     string
	requests atomic.Int32
}

func newFakeHyperliquid(t *testing.T) *fakeHyperliquid {
	t.Helper()
	f := &fakeHyperliquid{reply: `{"status":"ok","response":{"type":"default"}}`}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.requests.Add(1)
		switch r.URL.Path {
		case "/exchange":
			var p postedAction
			_ = json.NewDecoder(r.Body).Decode(&p)
			f.posted = append(f.posted, p)
			_, _ = w.Write([]byte(f.reply))
		case "/info":
			_, _ = w.Write([]byte(f.info))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(f.srv.Close)
	return f
}

// rejectingWallet is a wallet whose user dismisses every prompt
type rejectingWallet struct {
	address common.Address
	calls   int
}

func (w *rejectingWallet) Identity() core.WalletIdentity {
	return core.WalletIdentity{Address: w.address}
}

func (w *rejectingWallet) SignTypedData(context.Context, apitypes.TypedData) ([]byte, error) {
	w.calls++
	return nil, errors.New("User rejected the request.")
}

// domainCheckingWallet fails the test if the domain type ever reaches it
type domainCheckingWallet struct {
	*eth.KeySigner
	sawDomain bool
}

func (w *domainCheckingWallet) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	if _, ok := td.Types[core.DomainTypeName]; ok {
		w.sawDomain = true
	}
	return w.KeySigner.SignTypedData(ctx, td)
}

func setup(t *testing.T) (*Client, *fakeHyperliquid, *domainCheckingWallet) {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)

	wallet := &domainCheckingWallet{KeySigner: eth.NewKeySignerFromKey(key, 42161)}
	hl := newFakeHyperliquid(t)
	client := NewClient(Config{
		BaseURL:           hl.srv.URL,
		MaxFeeRateCeiling: decimal.RequireFromString("0.1"),
		Timeout:           time.Second,
	}, signer.NewAdapter(wallet, time.Second, zerolog.Nop()), zerolog.Nop())

	return client, hl, wallet
}

func joinSignature(t *testing.T, sig signature) []byte {
	t.Helper()
	r, err := hexutil.Decode(sig.R)
	require.NoError(t, err)
	s, err := hexutil.Decode(sig.S)
	require.NoError(t, err)
	return append(append(r, s...), byte(sig.V))
}

func TestApproveAgent(t *testing.T) {
	client, hl, wallet := setup(t)
	user := wallet.Identity().Address
	agent := core.AgentWallet{Address: common.HexToAddress("0x00000000000000000000000000000000000000A9")}

	receipt, err := client.ApproveAgent(context.Background(), user, agent, "Voxtrade Agent")
	require.NoError(t, err)
	assert.Equal(t, "ok", receipt.Status)
	assert.Equal(t, ActionApproveAgent, receipt.Action)
	assert.False(t, wallet.sawDomain)

	require.Len(t, hl.posted, 1)
	posted := hl.posted[0]
	assert.Nil(t, posted.VaultAddress)
	assert.Equal(t, "approveAgent", posted.Action["type"])
	assert.Equal(t, "0x00000000000000000000000000000000000000a9", posted.Action["agentAddress"])
	assert.Equal(t, "Testnet", posted.Action["hyperliquidChain"])
	assert.Equal(t, SignatureChainID, posted.Action["signatureChainId"])
	assert.Equal(t, receipt.Nonce, posted.Nonce)

	td := userSignedPayload(primaryApproveAgent, approveAgentTypes, apitypes.TypedDataMessage{
		"hyperliquidChain": "Testnet",
		"agentAddress":     "0x00000000000000000000000000000000000000a9",
		"agentName":        "Voxtrade Agent",
		"nonce":            big.NewInt(posted.Nonce),
	})
	recovered, err := eth.Recover(td, joinSignature(t, posted.Signature))
	require.NoError(t, err)
	assert.Equal(t, user, recovered)
}

func TestApproveBuilderFee(t *testing.T) {
	client, hl, wallet := setup(t)
	user := wallet.Identity().Address
	builder := common.HexToAddress("0xA47D4d99191db54A4829cdf3de2417E527c3b042")

	_, err := client.ApproveBuilderFee(context.Background(), user, builder, "0.1%")
	require.NoError(t, err)

	require.Len(t, hl.posted, 1)
	posted := hl.posted[0]
	assert.Equal(t, "0.1%", posted.Action["maxFeeRate"])
	assert.Equal(t, "0xa47d4d99191db54a4829cdf3de2417e527c3b042", posted.Action["builder"])

	td := userSignedPayload(primaryApproveBuilderFee, approveBuilderFeeTypes, apitypes.TypedDataMessage{
		"hyperliquidChain": "Testnet",
		"maxFeeRate":       "0.1%",
		"builder":          "0xa47d4d99191db54a4829cdf3de2417e527c3b042",
		"nonce":            big.NewInt(posted.Nonce),
	})
	recovered, err := eth.Recover(td, joinSignature(t, posted.Signature))
	require.NoError(t, err)
	assert.Equal(t, user, recovered)
}

func TestApprovalErrorClassification(t *testing.T) {
	tests := []struct {
		name  string
		reply string
		fee   bool
		want  error
	}{
		{"no collateral", `{"status":"err","response":"Must deposit before performing actions. User: 0xabc"}`, false, core.ErrInsufficientCollateral},
		{"no collateral on fee", `{"status":"err","response":"must deposit before approving builder fee"}`, true, core.ErrInsufficientCollateral},
		{"fee ceiling", `{"status":"err","response":"Max fee rate exceeds builder limit"}`, true, core.ErrFeeCeiling},
		{"other chain error", `{"status":"err","response":"Invalid nonce"}`, false, core.ErrChainError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			client, hl, wallet := setup(t)
			hl.reply = tt.reply
			user := wallet.Identity().Address

			var err error
			if tt.fee {
				_, err = client.ApproveBuilderFee(context.Background(), user, common.HexToAddress("0xb1"), "0.1%")
			} else {
				_, err = client.ApproveAgent(context.Background(), user, core.AgentWallet{Address: common.HexToAddress("0xa9")}, "Voxtrade Agent")
			}
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestApproveBuilderFeeCeiling(t *testing.T) {
	for _, rate := range []string{"0.2%", "0%", "-0.1%", "0.1", "abc%"} {
		t.Run(rate, func(t *testing.T) {
			client, hl, wallet := setup(t)
			_, err := client.ApproveBuilderFee(context.Background(), wallet.Identity().Address, common.HexToAddress("0xb1"), rate)
			assert.ErrorIs(t, err, core.ErrFeeCeiling)
			assert.Zero(t, hl.requests.Load())
		})
	}
}

func TestApproveAgentUserRejects(t *testing.T) {
	hl := newFakeHyperliquid(t)
	wallet := &rejectingWallet{address: common.HexToAddress("0xa1")}
	client := NewClient(Config{BaseURL: hl.srv.URL, MaxFeeRateCeiling: decimal.RequireFromString("0.1")},
		signer.NewAdapter(wallet, time.Second, zerolog.Nop()), zerolog.Nop())

	_, err := client.ApproveAgent(context.Background(), wallet.address, core.AgentWallet{Address: common.HexToAddress("0xa9")}, "Voxtrade Agent")
	assert.ErrorIs(t, err, core.ErrUserRejected)
	assert.Equal(t, 1, wallet.calls)
	assert.Zero(t, hl.requests.Load())
}

func TestApproveAgentRequiresAgent(t *testing.T) {
	client, _, wallet := setup(t)
	_, err := client.ApproveAgent(context.Background(), wallet.Identity().Address, core.AgentWallet{}, "Voxtrade Agent")
	assert.ErrorIs(t, err, core.ErrAgentNotProvisioned)
}

func TestSpotBalance(t *testing.T) {
	client, hl, wallet := setup(t)
	hl.info = `{"balances":[{"coin":"HYPE","total":"3.5"},{"coin":"USDC","total":"12.75"}]}`

	usdc, err := client.SpotBalance(context.Background(), wallet.Identity().Address, "USDC")
	require.NoError(t, err)
	assert.True(t, usdc.Equal(decimal.RequireFromString("12.75")))

	missing, err := client.SpotBalance(context.Background(), wallet.Identity().Address, "PURR")
	require.NoError(t, err)
	assert.True(t, missing.IsZero())
}

func TestNoncesStrictlyIncrease(t *testing.T) {
	client := NewClient(Config{}, nil, zerolog.Nop())
	last := int64(0)
	for i := 0; i < 100; i++ {
		n := client.nextNonce()
		assert.Greater(t, n, last)
		last = n
	}
}
