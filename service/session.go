package service

import (
	"sync"

	"github.com/layer-3/pearauth/core"
	"github.com/samber/mo"
)

// Session is the state of one connected wallet. The mutex guards fields
// only and is never held across a wallet prompt or a network call.
//
// Every reset bumps generation. An operation captures the generation when
// it starts and may only write back while it is still current.
type Session struct {
	mu sync.Mutex

	generation uint64
	busy       bool

	wallet core.WalletIdentity
	state  core.FlowState
	token  core.AccessToken
	agent  core.AgentWallet

	agentApproval   core.ApprovalStatus
	builderApproval core.ApprovalStatus
	agentReceipt    mo.Option[core.ApprovalReceipt]
	builderReceipt  mo.Option[core.ApprovalReceipt]

	signing       bool
	creatingAgent bool
}

// Snapshot is a read-only copy of a session
type Snapshot struct {
	Wallet             string              `json:"wallet,omitempty"`
	ChainID            int64               `json:"chainId,omitempty"`
	State              core.FlowState      `json:"state"`
	AccessToken        core.AccessToken    `json:"accessToken,omitempty"`
	AgentAddress       string              `json:"agentAddress,omitempty"`
	AgentApproval      core.ApprovalStatus `json:"agentApproval"`
	BuilderFeeApproval core.ApprovalStatus `json:"builderFeeApproval"`
	IsSigning          bool                `json:"isSigning"`
	IsCreatingAgent    bool                `json:"isCreatingAgent"`
	TradingEnabled     bool                `json:"tradingEnabled"`
}

// view is what an operation reads from the session when it starts
type view struct {
	generation      uint64
	wallet          core.WalletIdentity
	state           core.FlowState
	token           core.AccessToken
	agent           core.AgentWallet
	agentApproval   core.ApprovalStatus
	builderApproval core.ApprovalStatus
}

func newSession() *Session {
	return &Session{}
}

// begin claims the session for one operation
func (s *Session) begin() (view, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.wallet.Connected() {
		return view{}, core.ErrWalletNotConnected
	}
	if s.busy {
		return view{}, core.ErrFlowBusy
	}
	s.busy = true

	return s.viewLocked(), nil
}

// end releases the claim taken by begin, unless a reset already did
func (s *Session) end(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation == gen {
		s.busy = false
		s.signing = false
		s.creatingAgent = false
	}
}

// update applies fn if gen is still current
func (s *Session) update(gen uint64, fn func(s *Session)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return core.ErrSessionReset
	}
	fn(s)
	mtxFlowState.Set(float64(s.state))
	return nil
}

// current returns a fresh view if gen is still current
func (s *Session) current(gen uint64) (view, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return view{}, core.ErrSessionReset
	}
	return s.viewLocked(), nil
}

// connect switches the session to wallet unless it is already attached.
// It reports whether a reset happened.
func (s *Session) connect(wallet core.WalletIdentity) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.wallet.Address == wallet.Address {
		return false
	}
	s.resetLocked(wallet)
	return true
}

// reset forgets everything tied to the wallet and switches to wallet
func (s *Session) reset(wallet core.WalletIdentity) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.resetLocked(wallet)
}

func (s *Session) resetLocked(wallet core.WalletIdentity) {
	s.generation++
	s.busy = false
	s.wallet = wallet
	s.state = core.Idle
	s.token = ""
	s.agent = core.AgentWallet{}
	s.agentApproval = core.ApprovalStatus{}
	s.builderApproval = core.ApprovalStatus{}
	s.agentReceipt = mo.None[core.ApprovalReceipt]()
	s.builderReceipt = mo.None[core.ApprovalReceipt]()
	s.signing = false
	s.creatingAgent = false
	mtxFlowState.Set(float64(core.Idle))
}

// advance moves a login attempt to state. A session that still holds a
// token keeps its state until the new login succeeds.
func (s *Session) advance(gen uint64, state core.FlowState) error {
	return s.update(gen, func(s *Session) {
		if s.token == "" {
			s.state = state
		}
	})
}

// clearToken drops token if it is still the session token
func (s *Session) clearToken(token core.AccessToken) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if token == "" || s.token != token {
		return false
	}
	s.token = ""
	s.state = core.ChallengeRequested
	mtxFlowState.Set(float64(s.state))
	return true
}

// Snapshot returns a copy of the session
func (s *Session) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		ChainID:            s.wallet.ChainID,
		State:              s.state,
		AccessToken:        s.token,
		AgentApproval:      s.agentApproval,
		BuilderFeeApproval: s.builderApproval,
		IsSigning:          s.signing,
		IsCreatingAgent:    s.creatingAgent,
		TradingEnabled:     s.state == core.FullyApproved,
	}
	if s.wallet.Connected() {
		snap.Wallet = s.wallet.Address.Hex()
	}
	if s.agent.Provisioned() {
		snap.AgentAddress = s.agent.Address.Hex()
	}
	return snap
}

// resumeStateLocked is the highest state the retained agent and approvals allow
// once a token is held.
func (s *Session) resumeStateLocked() core.FlowState {
	switch {
	case !s.agent.Provisioned():
		return core.Authenticated
	case s.agentApproval.State != core.Approved:
		return core.AgentProvisioned
	case s.builderApproval.State != core.Approved:
		return core.AgentApproved
	default:
		return core.FullyApproved
	}
}

func (s *Session) result(gen uint64) (*ProvisionResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.generation != gen {
		return nil, core.ErrSessionReset
	}
	return &ProvisionResult{
		Agent:          s.agent,
		AgentReceipt:   s.agentReceipt,
		BuilderReceipt: s.builderReceipt,
	}, nil
}

func (s *Session) viewLocked() view {
	return view{
		generation:      s.generation,
		wallet:          s.wallet,
		state:           s.state,
		token:           s.token,
		agent:           s.agent,
		agentApproval:   s.agentApproval,
		builderApproval: s.builderApproval,
	}
}
