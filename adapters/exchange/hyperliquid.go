package exchange

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/ports"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

const (
	// SignatureChainID is the chain id Hyperliquid expects in user-signed domains
	SignatureChainID = "0x66eee"

	ActionApproveAgent      = "approveAgent"
	ActionApproveBuilderFee = "approveBuilderFee"

	primaryApproveAgent      = "HyperliquidTransaction:ApproveAgent"
	primaryApproveBuilderFee = "HyperliquidTransaction:ApproveBuilderFee"
)

var (
	approveAgentTypes = []apitypes.Type{
		{Name: "hyperliquidChain", Type: "string"},
		{Name: "agentAddress", Type: "address"},
		{Name: "agentName", Type: "string"},
		{Name: "nonce", Type: "uint64"},
	}

	approveBuilderFeeTypes = []apitypes.Type{
		{Name: "hyperliquidChain", Type: "string"},
		{Name: "maxFeeRate", Type: "string"},
		{Name: "builder", Type: "address"},
		{Name: "nonce", Type: "uint64"},
	}
)

// Config configures the Hyperliquid client
type Config struct {
	BaseURL string
	Mainnet bool
	// MaxFeeRateCeiling is the highest builder fee, in percent, the client
	// will ever ask the wallet to approve.
	MaxFeeRateCeiling decimal.Decimal
	Timeout           time.Duration
}

// Client submits wallet-signed user actions to the Hyperliquid exchange API
type Client struct {
	cfg    Config
	signer ports.TypedDataSigner
	http   *http.Client
	log    zerolog.Logger

	lastNonce atomic.Int64
}

// NewClient creates a Hyperliquid client that signs through signer
func NewClient(cfg Config, signer ports.TypedDataSigner, log zerolog.Logger) *Client {
	return &Client{
		cfg:    cfg,
		signer: signer,
		http:   &http.Client{Timeout: cfg.Timeout},
		log:    log.With().Str("component", "hyperliquid").Logger(),
	}
}

type approveAgentAction struct {
	Type             string `json:"type"`
	HyperliquidChain string `json:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId"`
	AgentAddress     string `json:"agentAddress"`
	AgentName        string `json:"agentName"`
	Nonce            int64  `json:"nonce"`
}

type approveBuilderFeeAction struct {
	Type             string `json:"type"`
	HyperliquidChain string `json:"hyperliquidChain"`
	SignatureChainID string `json:"signatureChainId"`
	MaxFeeRate       string `json:"maxFeeRate"`
	Builder          string `json:"builder"`
	Nonce            int64  `json:"nonce"`
}

type signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type exchangeRequest struct {
	Action       any       `json:"action"`
	Nonce        int64     `json:"nonce"`
	Signature    signature `json:"signature"`
	VaultAddress *string   `json:"vaultAddress"`
}

type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

// ApproveAgent authorizes agent to trade on behalf of user
func (c *Client) ApproveAgent(ctx context.Context, user common.Address, agent core.AgentWallet, name string) (core.ApprovalReceipt, error) {
	if !agent.Provisioned() {
		return core.ApprovalReceipt{}, core.ErrAgentNotProvisioned
	}

	nonce := c.nextNonce()
	action := approveAgentAction{
		Type:             ActionApproveAgent,
		HyperliquidChain: c.chainName(),
		SignatureChainID: SignatureChainID,
		AgentAddress:     strings.ToLower(agent.Address.Hex()),
		AgentName:        name,
		Nonce:            nonce,
	}

	td := userSignedPayload(primaryApproveAgent, approveAgentTypes, apitypes.TypedDataMessage{
		"hyperliquidChain": action.HyperliquidChain,
		"agentAddress":     action.AgentAddress,
		"agentName":        action.AgentName,
		"nonce":            big.NewInt(nonce),
	})

	return c.submit(ctx, user, td, action, ActionApproveAgent, nonce)
}

// ApproveBuilderFee authorizes builder to charge up to maxFeeRate, e.g. "0.1%"
func (c *Client) ApproveBuilderFee(ctx context.Context, user common.Address, builder common.Address, maxFeeRate string) (core.ApprovalReceipt, error) {
	if err := c.checkFeeRate(maxFeeRate); err != nil {
		return core.ApprovalReceipt{}, err
	}

	nonce := c.nextNonce()
	action := approveBuilderFeeAction{
		Type:             ActionApproveBuilderFee,
		HyperliquidChain: c.chainName(),
		SignatureChainID: SignatureChainID,
		MaxFeeRate:       maxFeeRate,
		Builder:          strings.ToLower(builder.Hex()),
		Nonce:            nonce,
	}

	td := userSignedPayload(primaryApproveBuilderFee, approveBuilderFeeTypes, apitypes.TypedDataMessage{
		"hyperliquidChain": action.HyperliquidChain,
		"maxFeeRate":       action.MaxFeeRate,
		"builder":          action.Builder,
		"nonce":            big.NewInt(nonce),
	})

	return c.submit(ctx, user, td, action, ActionApproveBuilderFee, nonce)
}

func (c *Client) submit(ctx context.Context, user common.Address, td apitypes.TypedData, action any, name string, nonce int64) (core.ApprovalReceipt, error) {
	sig, err := c.signer.SignTypedData(ctx, td, user)
	if err != nil {
		return core.ApprovalReceipt{}, err
	}

	req := exchangeRequest{
		Action:    action,
		Nonce:     nonce,
		Signature: splitSignature(sig),
	}

	var resp exchangeResponse
	if err := c.post(ctx, "/exchange", req, &resp); err != nil {
		return core.ApprovalReceipt{}, classify(name, err.Error())
	}

	receipt := core.ApprovalReceipt{
		Action:   name,
		Nonce:    nonce,
		Status:   resp.Status,
		Response: resp.Response,
	}

	if resp.Status != "ok" {
		return receipt, classify(name, responseText(resp.Response))
	}

	c.log.Info().Str("action", name).Str("user", user.Hex()).Int64("nonce", nonce).Msg("approval accepted")
	return receipt, nil
}

// SpotBalance returns the total spot balance of coin held by user
func (c *Client) SpotBalance(ctx context.Context, user common.Address, coin string) (decimal.Decimal, error) {
	var state struct {
		Balances []struct {
			Coin  string `json:"coin"`
			Total string `json:"total"`
		} `json:"balances"`
	}
	req := map[string]string{"type": "spotClearinghouseState", "user": user.Hex()}
	if err := c.post(ctx, "/info", req, &state); err != nil {
		return decimal.Zero, fmt.Errorf("failed to read spot balances: %w", err)
	}

	for _, b := range state.Balances {
		if !strings.EqualFold(b.Coin, coin) {
			continue
		}
		total, err := decimal.NewFromString(b.Total)
		if err != nil {
			return decimal.Zero, fmt.Errorf("invalid %s balance %q: %w", coin, b.Total, err)
		}
		return total, nil
	}
	return decimal.Zero, nil
}

func (c *Client) post(ctx context.Context, path string, body any, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, strings.TrimRight(c.cfg.BaseURL, "/")+path, bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("malformed response: %w", err)
	}
	return nil
}

// checkFeeRate validates a percentage fee rate against the configured ceiling.
// The rate is never adjusted, only accepted or refused.
func (c *Client) checkFeeRate(maxFeeRate string) error {
	if !strings.HasSuffix(maxFeeRate, "%") {
		return fmt.Errorf("%w: %q is not a percentage", core.ErrFeeCeiling, maxFeeRate)
	}
	rate, err := decimal.NewFromString(strings.TrimSuffix(maxFeeRate, "%"))
	if err != nil {
		return fmt.Errorf("%w: %q: %v", core.ErrFeeCeiling, maxFeeRate, err)
	}
	if !rate.IsPositive() {
		return fmt.Errorf("%w: %s must be positive", core.ErrFeeCeiling, maxFeeRate)
	}
	if rate.GreaterThan(c.cfg.MaxFeeRateCeiling) {
		return fmt.Errorf("%w: %s exceeds ceiling %s%%", core.ErrFeeCeiling, maxFeeRate, c.cfg.MaxFeeRateCeiling)
	}
	return nil
}

// nextNonce returns a millisecond timestamp strictly greater than the last one issued
func (c *Client) nextNonce() int64 {
	for {
		last := c.lastNonce.Load()
		next := time.Now().UnixMilli()
		if next <= last {
			next = last + 1
		}
		if c.lastNonce.CompareAndSwap(last, next) {
			return next
		}
	}
}

func (c *Client) chainName() string {
	if c.cfg.Mainnet {
		return "Mainnet"
	}
	return "Testnet"
}

func userSignedPayload(primaryType string, fields []apitypes.Type, message apitypes.TypedDataMessage) apitypes.TypedData {
	chainID, _ := new(big.Int).SetString(strings.TrimPrefix(SignatureChainID, "0x"), 16)
	return apitypes.TypedData{
		Types: apitypes.Types{
			primaryType: fields,
			core.DomainTypeName: {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
		},
		PrimaryType: primaryType,
		Domain: apitypes.TypedDataDomain{
			Name:              "HyperliquidSignTransaction",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(chainID),
			VerifyingContract: common.Address{}.Hex(),
		},
		Message: message,
	}
}

func splitSignature(sig core.Signature) signature {
	return signature{
		R: hexutil.Encode(sig[:32]),
		S: hexutil.Encode(sig[32:64]),
		V: int(sig[64]),
	}
}

// responseText flattens Hyperliquid's response field, which is a bare string on errors
func responseText(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	return string(raw)
}

// classify maps an exchange failure message onto an error kind. Hyperliquid
// only returns free text, so this is a substring match.
func classify(action, msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "must deposit"):
		return fmt.Errorf("%w: %s", core.ErrInsufficientCollateral, msg)
	case action == ActionApproveBuilderFee && strings.Contains(lower, "fee rate"):
		return fmt.Errorf("%w: %s", core.ErrFeeCeiling, msg)
	default:
		return fmt.Errorf("%w: %s: %s", core.ErrChainError, action, msg)
	}
}
