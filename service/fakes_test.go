package service

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/adapters/store"
	"github.com/layer-3/pearauth/adapters/tokenizer"
	"github.com/layer-3/pearauth/core"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

var (
	userWallet  = core.WalletIdentity{Address: common.HexToAddress("0x00000000000000000000000000000000000000a1"), ChainID: 42161}
	otherWallet = core.WalletIdentity{Address: common.HexToAddress("0x00000000000000000000000000000000000000b2"), ChainID: 42161}
	agentAddr   = common.HexToAddress("0x00000000000000000000000000000000000000a9")
	builderAddr = common.HexToAddress("0xA47D4d99191db54A4829cdf3de2417E527c3b042")
)

func testChallenge() core.AuthChallenge {
	return core.AuthChallenge{
		Domain: apitypes.TypedDataDomain{Name: "Pear Protocol", Version: "1"},
		Types: apitypes.Types{
			"EIP712Domain": {{Name: "name", Type: "string"}, {Name: "version", Type: "string"}},
			"Authentication": {
				{Name: "address", Type: "address"},
				{Name: "clientId", Type: "string"},
				{Name: "timestamp", Type: "uint256"},
			},
		},
		Message: map[string]any{
			"address":   userWallet.Address.Hex(),
			"clientId":  "HLHackathon1",
			"timestamp": json.Number("1700000000123"),
		},
	}
}

type fakeRelay struct {
	mu sync.Mutex

	challengeErr error
	challenge    *core.AuthChallenge
	loginErr     error
	createErr    error
	lookupErr    error
	existing     core.AgentWallet
	tokens       []core.AccessToken

	challenges int
	logins     []core.LoginRequest
	lookups    []core.AccessToken
	creates    []core.AccessToken
}

func (r *fakeRelay) GetEIP712Message(ctx context.Context, address common.Address, clientID string) (core.AuthChallenge, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.challenges++
	if r.challengeErr != nil {
		return core.AuthChallenge{}, r.challengeErr
	}
	if r.challenge != nil {
		return *r.challenge, nil
	}
	return testChallenge(), nil
}

func (r *fakeRelay) Login(ctx context.Context, req core.LoginRequest) (core.AccessToken, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.logins = append(r.logins, req)
	if r.loginErr != nil {
		return "", r.loginErr
	}
	if len(r.tokens) > 0 {
		token := r.tokens[0]
		r.tokens = r.tokens[1:]
		return token, nil
	}
	return "tok-default", nil
}

func (r *fakeRelay) GetAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.lookups = append(r.lookups, token)
	if r.lookupErr != nil {
		return core.AgentWallet{}, r.lookupErr
	}
	return r.existing, nil
}

func (r *fakeRelay) CreateAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.creates = append(r.creates, token)
	if r.createErr != nil {
		return core.AgentWallet{}, r.createErr
	}
	return core.AgentWallet{Address: agentAddr}, nil
}

func (r *fakeRelay) createCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.creates)
}

// fakeSigner signs instantly unless told to fail or to wait for release
type fakeSigner struct {
	mu      sync.Mutex
	err     error
	calls   int
	started chan struct{}
	release chan struct{}
}

func (s *fakeSigner) SignTypedData(ctx context.Context, td apitypes.TypedData, signer common.Address) (core.Signature, error) {
	s.mu.Lock()
	s.calls++
	err := s.err
	started, release := s.started, s.release
	s.started, s.release = nil, nil
	s.mu.Unlock()

	if started != nil {
		close(started)
	}
	if release != nil {
		select {
		case <-release:
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return make(core.Signature, 65), nil
}

// block makes the next signature wait until the returned release func is called
func (s *fakeSigner) block() (started <-chan struct{}, release func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.started = make(chan struct{})
	s.release = make(chan struct{})
	rel := s.release
	return s.started, func() { close(rel) }
}

type fakeExchange struct {
	mu sync.Mutex

	agentErr   error
	builderErr error

	agentCalls   int
	builderCalls int
	order        []string
}

func (e *fakeExchange) ApproveAgent(ctx context.Context, user common.Address, agent core.AgentWallet, name string) (core.ApprovalReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.agentCalls++
	e.order = append(e.order, "agent")
	if e.agentErr != nil {
		return core.ApprovalReceipt{}, e.agentErr
	}
	return core.ApprovalReceipt{Action: "approveAgent", Nonce: int64(e.agentCalls), Status: "ok"}, nil
}

func (e *fakeExchange) ApproveBuilderFee(ctx context.Context, user common.Address, builder common.Address, maxFeeRate string) (core.ApprovalReceipt, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.builderCalls++
	e.order = append(e.order, "builder")
	if e.builderErr != nil {
		return core.ApprovalReceipt{}, e.builderErr
	}
	return core.ApprovalReceipt{Action: "approveBuilderFee", Nonce: int64(e.builderCalls), Status: "ok"}, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []core.FlowEvent
}

func (p *recordingPublisher) PublishFlowEvent(ctx context.Context, event core.FlowEvent) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, event)
	return nil
}

func (p *recordingPublisher) errorCodes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	var codes []string
	for _, e := range p.events {
		if e.Level == core.LevelError {
			codes = append(codes, e.Code)
		}
	}
	return codes
}

type fakeBalances struct {
	balance decimal.Decimal
	err     error
}

func (b *fakeBalances) SpotBalance(ctx context.Context, user common.Address, coin string) (decimal.Decimal, error) {
	return b.balance, b.err
}

type fakeOrders struct {
	placeErr error
	placed   []core.SpotOrder
}

func (o *fakeOrders) PlaceSpotOrder(ctx context.Context, token core.AccessToken, order core.SpotOrder) (core.OrderResult, error) {
	o.placed = append(o.placed, order)
	if o.placeErr != nil {
		return core.OrderResult{}, o.placeErr
	}
	return core.OrderResult{OrderID: "42"}, nil
}

func (o *fakeOrders) OpenOrders(ctx context.Context, token core.AccessToken) (json.RawMessage, error) {
	return json.RawMessage(`[]`), nil
}

func (o *fakeOrders) CancelOrder(ctx context.Context, token core.AccessToken, orderID string) error {
	return nil
}

type harness struct {
	flow     *Flow
	relay    *fakeRelay
	signer   *fakeSigner
	exchange *fakeExchange
	store    *store.MemoryStore
	events   *recordingPublisher
}

func newHarness() *harness {
	h := &harness{
		relay:    &fakeRelay{},
		signer:   &fakeSigner{},
		exchange: &fakeExchange{},
		store:    store.NewMemoryStore().(*store.MemoryStore),
		events:   &recordingPublisher{},
	}
	h.flow = NewFlow(FlowConfig{
		ClientID:             "HLHackathon1",
		AgentName:            "Voxtrade Agent",
		Builder:              builderAddr,
		MaxFeeRate:           "0.1%",
		TokenInvalidationTTL: time.Hour,
	}, h.relay, h.signer, h.exchange, tokenizer.NewJWTInspector(), h.store, h.events, zerolog.Nop())
	return h
}
