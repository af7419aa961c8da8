package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/google/uuid"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/ports"
	"github.com/rs/zerolog"
	"github.com/samber/mo"
)

// FlowConfig holds the protocol constants used by the flow
type FlowConfig struct {
	ClientID   string
	AgentName  string
	Builder    common.Address
	MaxFeeRate string
	// TokenInvalidationTTL is how long a rejected token without an expiry
	// stays in the store.
	TokenInvalidationTTL time.Duration
}

// ProvisionResult is what ProvisionAndApproveAgent achieved. Receipts are
// present only for approvals the exchange accepted.
type ProvisionResult struct {
	Agent          core.AgentWallet
	AgentReceipt   mo.Option[core.ApprovalReceipt]
	BuilderReceipt mo.Option[core.ApprovalReceipt]
}

// Flow drives a wallet from connection to a fully approved trading agent
type Flow struct {
	cfg      FlowConfig
	relay    ports.Relay
	signer   ports.TypedDataSigner
	exchange ports.Exchange
	tokens   ports.TokenInspector
	store    ports.Store
	events   ports.EventPublisher
	log      zerolog.Logger
	now      func() time.Time

	session *Session
}

// NewFlow creates a new authentication flow
func NewFlow(
	cfg FlowConfig,
	relay ports.Relay,
	signer ports.TypedDataSigner,
	exchange ports.Exchange,
	tokens ports.TokenInspector,
	store ports.Store,
	events ports.EventPublisher,
	log zerolog.Logger,
) *Flow {
	if cfg.TokenInvalidationTTL <= 0 {
		cfg.TokenInvalidationTTL = 24 * time.Hour
	}
	return &Flow{
		cfg:      cfg,
		relay:    relay,
		signer:   signer,
		exchange: exchange,
		tokens:   tokens,
		store:    store,
		events:   events,
		log:      log.With().Str("component", "flow").Logger(),
		now:      time.Now,
		session:  newSession(),
	}
}

// Connect attaches wallet to the session. Connecting a different wallet
// resets the session; reconnecting the same one is a no-op.
func (f *Flow) Connect(ctx context.Context, wallet core.WalletIdentity) error {
	if !wallet.Connected() {
		return core.ErrWalletNotConnected
	}

	if !f.session.connect(wallet) {
		return nil
	}

	f.log.Info().Str("wallet", wallet.Address.Hex()).Int64("chain_id", wallet.ChainID).Msg("wallet connected")
	f.notify(ctx, core.EventWalletConnected, core.LevelInfo, "Wallet connected")
	return nil
}

// Disconnect forgets the wallet, token, agent and approvals. Operations still
// in flight finish with ErrSessionReset.
func (f *Flow) Disconnect(ctx context.Context) {
	wallet := f.session.Snapshot().Wallet
	f.session.reset(core.WalletIdentity{})

	f.log.Info().Str("wallet", wallet).Msg("wallet disconnected")
	f.publish(ctx, core.FlowEvent{
		Type:    core.EventWalletDisconnected,
		Address: wallet,
		State:   core.Idle,
		Level:   core.LevelInfo,
		Message: "Wallet disconnected",
	})
}

// Authenticate signs a fresh Pear challenge with the wallet and logs in.
// A token already held stays in use, with its state, until the new login
// succeeds and replaces it.
func (f *Flow) Authenticate(ctx context.Context) (core.AccessToken, error) {
	v, err := f.session.begin()
	if err != nil {
		return "", f.fail(ctx, "authenticate", err)
	}
	defer f.session.end(v.generation)
	gen := v.generation

	challenge, err := f.relay.GetEIP712Message(ctx, v.wallet.Address, f.cfg.ClientID)
	if err != nil {
		return "", f.fail(ctx, "challenge", err)
	}
	td, err := challenge.TypedData()
	if err != nil {
		return "", f.fail(ctx, "challenge", fmt.Errorf("%w: %v", core.ErrChallengeUnavailable, err))
	}
	timestamp, ok := challenge.Timestamp()
	if !ok {
		return "", f.fail(ctx, "challenge", fmt.Errorf("%w: challenge carries no timestamp", core.ErrChallengeUnavailable))
	}
	if err := f.session.advance(gen, core.ChallengeRequested); err != nil {
		return "", f.fail(ctx, "challenge", err)
	}
	f.step("challenge", nil)

	_ = f.session.update(gen, func(s *Session) { s.signing = true })
	sig, err := f.signer.SignTypedData(ctx, td, v.wallet.Address)
	_ = f.session.update(gen, func(s *Session) { s.signing = false })
	if err != nil {
		if uerr := f.session.advance(gen, core.ChallengeRequested); uerr != nil {
			err = uerr
		}
		return "", f.fail(ctx, "sign", err)
	}
	if err := f.session.advance(gen, core.Signed); err != nil {
		return "", f.fail(ctx, "sign", err)
	}
	f.step("sign", nil)

	token, err := f.relay.Login(ctx, core.LoginRequest{
		Method:   "eip712",
		Address:  v.wallet.Address.Hex(),
		ClientID: f.cfg.ClientID,
		Details: core.LoginDetails{
			Signature: sig.Hex(),
			Timestamp: timestamp,
		},
	})
	if err != nil {
		if uerr := f.session.advance(gen, core.ChallengeRequested); uerr != nil {
			err = uerr
		}
		return "", f.fail(ctx, "login", err)
	}

	var state core.FlowState
	if err := f.session.update(gen, func(s *Session) {
		s.token = token
		s.state = s.resumeStateLocked()
		state = s.state
	}); err != nil {
		return "", f.fail(ctx, "login", err)
	}
	f.step("login", nil)

	f.log.Info().Str("wallet", v.wallet.Address.Hex()).Stringer("state", state).Msg("authenticated with pear")
	f.notify(ctx, core.EventAuthenticated, core.LevelSuccess, "Successfully authenticated with Pear Protocol")
	return token, nil
}

// ProvisionAndApproveAgent creates the agent wallet if there is none yet and
// runs the approvals that have not succeeded. token must be empty or equal
// to the session token.
//
// On total failure the result is nil. Once an agent exists the result is
// always returned, with an error if an approval failed.
func (f *Flow) ProvisionAndApproveAgent(ctx context.Context, token core.AccessToken) (*ProvisionResult, error) {
	v, err := f.session.begin()
	if err != nil {
		return nil, f.fail(ctx, "provision", err)
	}
	defer f.session.end(v.generation)
	gen := v.generation

	if v.token == "" || (token != "" && token != v.token) {
		return nil, f.fail(ctx, "provision", fmt.Errorf("%w: no current access token", core.ErrUnauthenticated))
	}
	if v.state == core.FullyApproved {
		return f.session.result(gen)
	}
	if f.stale(ctx, v.token) {
		f.invalidate(ctx, v.token)
		return nil, f.fail(ctx, "provision", fmt.Errorf("%w: access token expired", core.ErrUnauthenticated))
	}

	agent := v.agent
	if !agent.Provisioned() {
		_ = f.session.update(gen, func(s *Session) { s.creatingAgent = true })
		agent, err = f.obtainAgent(ctx, v.token)
		_ = f.session.update(gen, func(s *Session) { s.creatingAgent = false })
		if err != nil {
			if errors.Is(err, core.ErrUnauthenticated) {
				f.invalidate(ctx, v.token)
			}
			return nil, f.fail(ctx, "create_agent", err)
		}

		if err := f.session.update(gen, func(s *Session) {
			s.agent = agent
			s.state = core.AgentProvisioned
		}); err != nil {
			return nil, f.fail(ctx, "create_agent", err)
		}
		f.step("create_agent", nil)

		f.log.Info().Str("agent", agent.Address.Hex()).Msg("agent wallet ready")
		f.notify(ctx, core.EventAgentProvisioned, core.LevelSuccess, "Agent wallet ready: "+agent.Address.Hex())
	}

	return f.approve(ctx, gen)
}

// obtainAgent reuses the agent Pear already holds for the account and
// creates one only when there is none. A failed lookup falls through to
// creation unless the token was refused.
func (f *Flow) obtainAgent(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	existing, err := f.relay.GetAgentWallet(ctx, token)
	switch {
	case errors.Is(err, core.ErrUnauthenticated):
		return core.AgentWallet{}, err
	case err != nil:
		f.log.Warn().Err(err).Msg("agent wallet lookup failed, creating a new one")
	case existing.Provisioned():
		f.log.Info().Str("agent", existing.Address.Hex()).Msg("reusing existing agent wallet")
		return existing, nil
	}
	return f.relay.CreateAgentWallet(ctx, token)
}

// RetryApprovals re-runs only the approvals that have not succeeded. It never
// creates an agent.
func (f *Flow) RetryApprovals(ctx context.Context) (*ProvisionResult, error) {
	v, err := f.session.begin()
	if err != nil {
		return nil, f.fail(ctx, "retry", err)
	}
	defer f.session.end(v.generation)

	if !v.agent.Provisioned() {
		return nil, f.fail(ctx, "retry", core.ErrAgentNotProvisioned)
	}
	if v.token == "" {
		return nil, f.fail(ctx, "retry", fmt.Errorf("%w: no current access token", core.ErrUnauthenticated))
	}
	if v.state == core.FullyApproved {
		return f.session.result(v.generation)
	}
	if f.stale(ctx, v.token) {
		f.invalidate(ctx, v.token)
		return nil, f.fail(ctx, "retry", fmt.Errorf("%w: access token expired", core.ErrUnauthenticated))
	}

	return f.approve(ctx, v.generation)
}

// approve submits the agent approval and then the builder fee approval,
// skipping whichever already succeeded. The builder fee is never attempted
// while the agent approval is not in place.
func (f *Flow) approve(ctx context.Context, gen uint64) (*ProvisionResult, error) {
	v, err := f.session.current(gen)
	if err != nil {
		return nil, f.fail(ctx, "approve", err)
	}

	if v.agentApproval.State != core.Approved {
		receipt, err := f.runApproval(ctx, gen, "approve_agent", func(s *Session) *core.ApprovalStatus { return &s.agentApproval }, func() (core.ApprovalReceipt, error) {
			return f.exchange.ApproveAgent(ctx, v.wallet.Address, v.agent, f.cfg.AgentName)
		})
		if err != nil {
			return f.partial(gen, err)
		}

		if err := f.session.update(gen, func(s *Session) {
			s.agentReceipt = mo.Some(receipt)
			s.state = core.AgentApproved
		}); err != nil {
			return nil, f.fail(ctx, "approve_agent", err)
		}
		f.notify(ctx, core.EventAgentApproved, core.LevelSuccess, "Agent wallet approved on Hyperliquid")
	}

	if v.builderApproval.State != core.Approved {
		receipt, err := f.runApproval(ctx, gen, "approve_builder_fee", func(s *Session) *core.ApprovalStatus { return &s.builderApproval }, func() (core.ApprovalReceipt, error) {
			return f.exchange.ApproveBuilderFee(ctx, v.wallet.Address, f.cfg.Builder, f.cfg.MaxFeeRate)
		})
		if err != nil {
			return f.partial(gen, err)
		}

		if err := f.session.update(gen, func(s *Session) {
			s.builderReceipt = mo.Some(receipt)
		}); err != nil {
			return nil, f.fail(ctx, "approve_builder_fee", err)
		}
		f.notify(ctx, core.EventBuilderFeeApproved, core.LevelSuccess, "Builder fee approved")
	}

	if err := f.setState(gen, core.FullyApproved); err != nil {
		return nil, f.fail(ctx, "approve", err)
	}
	f.log.Info().Str("wallet", v.wallet.Address.Hex()).Str("agent", v.agent.Address.Hex()).Msg("trading agent fully approved")

	return f.session.result(gen)
}

// runApproval tracks one approval through Pending to Approved or Failed
func (f *Flow) runApproval(
	ctx context.Context,
	gen uint64,
	step string,
	status func(s *Session) *core.ApprovalStatus,
	submit func() (core.ApprovalReceipt, error),
) (core.ApprovalReceipt, error) {
	if err := f.session.update(gen, func(s *Session) {
		*status(s) = core.ApprovalStatus{State: core.Pending}
		s.signing = true
	}); err != nil {
		return core.ApprovalReceipt{}, f.fail(ctx, step, err)
	}

	receipt, err := submit()

	if uerr := f.session.update(gen, func(s *Session) {
		s.signing = false
		if err != nil {
			*status(s) = core.ApprovalStatus{State: core.Failed, Err: err}
		} else {
			*status(s) = core.ApprovalStatus{State: core.Approved}
		}
	}); uerr != nil {
		return core.ApprovalReceipt{}, f.fail(ctx, step, uerr)
	}
	if err != nil {
		return core.ApprovalReceipt{}, f.fail(ctx, step, err)
	}

	f.step(step, nil)
	f.log.Info().Str("step", step).Int64("nonce", receipt.Nonce).Msg("approval accepted")
	return receipt, nil
}

// partial returns what the session holds alongside err, or only err when the
// session was reset underneath the operation.
func (f *Flow) partial(gen uint64, err error) (*ProvisionResult, error) {
	if errors.Is(err, core.ErrSessionReset) {
		return nil, err
	}
	res, rerr := f.session.result(gen)
	if rerr != nil {
		return nil, rerr
	}
	return res, err
}

// Snapshot returns a read-only copy of the session
func (f *Flow) Snapshot() Snapshot {
	return f.session.Snapshot()
}

// TradingCredentials returns the token and wallet once the session is fully
// approved. Nothing may place orders before that.
func (f *Flow) TradingCredentials() (core.AccessToken, core.WalletIdentity, error) {
	f.session.mu.Lock()
	defer f.session.mu.Unlock()

	if f.session.state != core.FullyApproved || f.session.token == "" {
		return "", core.WalletIdentity{}, core.ErrTradingNotEnabled
	}
	return f.session.token, f.session.wallet, nil
}

// ReportUnauthorized records that Pear refused token. The token is never
// used again and the session must authenticate anew.
func (f *Flow) ReportUnauthorized(ctx context.Context, token core.AccessToken) {
	f.invalidate(ctx, token)
}

// stale reports whether token is known to be rejected or past its expiry
func (f *Flow) stale(ctx context.Context, token core.AccessToken) bool {
	info, err := f.tokens.Inspect(token)
	if err != nil {
		return false
	}
	if info.Expired(f.now()) {
		return true
	}

	invalidated, err := f.store.IsTokenInvalidated(ctx, info.ID)
	if err != nil {
		f.log.Warn().Err(err).Msg("token invalidation lookup failed")
		return false
	}
	return invalidated
}

// invalidate records token in the store and drops it from the session
func (f *Flow) invalidate(ctx context.Context, token core.AccessToken) {
	if token == "" {
		return
	}

	if info, err := f.tokens.Inspect(token); err == nil {
		ttl := f.cfg.TokenInvalidationTTL
		if !info.ExpiresAt.IsZero() {
			ttl = info.ExpiresAt.Sub(f.now())
		}
		if ttl > 0 {
			if err := f.store.InvalidateToken(ctx, info.ID, ttl); err != nil {
				f.log.Warn().Err(err).Msg("failed to record invalidated token")
			}
		}
	}

	if f.session.clearToken(token) {
		f.log.Info().Msg("access token invalidated, re-authentication required")
		f.notify(ctx, core.EventTokenInvalidated, core.LevelInfo, "Session expired. Please authenticate again.")
	}
}

func (f *Flow) setState(gen uint64, state core.FlowState) error {
	return f.session.update(gen, func(s *Session) { s.state = state })
}

func (f *Flow) step(step string, err error) {
	mtxFlowSteps.WithLabelValues(step, outcome(err)).Inc()
}

// fail records a failed step and turns it into the user notification.
// Errors that already went through fail are passed on untouched.
func (f *Flow) fail(ctx context.Context, step string, err error) error {
	var reported *reportedError
	if errors.As(err, &reported) {
		return err
	}

	f.step(step, err)
	f.log.Error().Err(err).Str("step", step).Str("kind", core.KindName(err)).Bool("retryable", core.Retryable(err)).Msg("flow step failed")

	if !errors.Is(err, core.ErrSessionReset) {
		f.publish(ctx, core.FlowEvent{
			Type:    core.EventFailure,
			Level:   core.LevelError,
			Message: core.UserMessage(err),
			Code:    core.KindName(err),
		})
	}
	return &reportedError{err: err}
}

func (f *Flow) notify(ctx context.Context, typ core.FlowEventType, level, msg string) {
	f.publish(ctx, core.FlowEvent{Type: typ, Level: level, Message: msg})
}

func (f *Flow) publish(ctx context.Context, event core.FlowEvent) {
	if f.events == nil {
		return
	}
	snap := f.session.Snapshot()
	event.ID = uuid.NewString()
	if event.Address == "" {
		event.Address = snap.Wallet
	}
	if event.Type != core.EventWalletDisconnected {
		event.State = snap.State
	}
	event.Time = f.now().UTC()

	if err := f.events.PublishFlowEvent(ctx, event); err != nil {
		f.log.Warn().Err(err).Str("type", string(event.Type)).Msg("failed to publish flow event")
	}
}

// reportedError marks an error that has been logged and notified once
type reportedError struct {
	err error
}

func (e *reportedError) Error() string { return e.err.Error() }
func (e *reportedError) Unwrap() error { return e.err }
