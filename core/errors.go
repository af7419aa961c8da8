package core

import (
	"errors"
	"strings"
)

var (
	// Signing
	ErrUserRejected = errors.New("signature request rejected")
	ErrTimeout      = errors.New("wallet did not respond in time")
	ErrAdapter      = errors.New("wallet adapter failure")

	// Pear relay
	ErrChallengeUnavailable = errors.New("authentication challenge unavailable")
	ErrAuthRejected         = errors.New("login rejected")
	ErrTransport            = errors.New("relay transport failure")
	ErrUnauthenticated      = errors.New("access token invalid or expired")
	ErrProvisionFailed      = errors.New("agent wallet creation failed")

	// Hyperliquid
	ErrInsufficientCollateral = errors.New("collateral must be deposited first")
	ErrChainError             = errors.New("on-chain approval failed")
	ErrFeeCeiling             = errors.New("builder fee ceiling mismatch")

	// Flow
	ErrWalletNotConnected  = errors.New("wallet not connected")
	ErrFlowBusy            = errors.New("another wallet request is in progress")
	ErrSessionReset        = errors.New("wallet session was reset")
	ErrAgentNotProvisioned = errors.New("agent wallet not provisioned")
	ErrTradingNotEnabled   = errors.New("trading is not enabled for this session")

	// Orders
	ErrInvalidAmount    = errors.New("order amount must be positive")
	ErrBelowMinimumSize = errors.New("order amount below minimum size")
	ErrOrderRejected    = errors.New("order rejected")
)

// kinds is ordered most specific first: adapters wrap a transport cause
// inside a step failure, and the step failure is what KindOf must report.
var kinds = []struct {
	err  error
	name string
}{
	{ErrSessionReset, "session_reset"},
	{ErrFlowBusy, "flow_busy"},
	{ErrWalletNotConnected, "wallet_not_connected"},
	{ErrAgentNotProvisioned, "agent_not_provisioned"},
	{ErrTradingNotEnabled, "trading_not_enabled"},
	{ErrUserRejected, "user_rejected"},
	{ErrTimeout, "timeout"},
	{ErrInsufficientCollateral, "insufficient_collateral"},
	{ErrFeeCeiling, "fee_ceiling"},
	{ErrUnauthenticated, "unauthenticated"},
	{ErrAuthRejected, "auth_rejected"},
	{ErrChallengeUnavailable, "challenge_unavailable"},
	{ErrProvisionFailed, "provision_failed"},
	{ErrChainError, "chain_error"},
	{ErrInvalidAmount, "invalid_amount"},
	{ErrBelowMinimumSize, "below_minimum_size"},
	{ErrOrderRejected, "order_rejected"},
	{ErrAdapter, "adapter_error"},
	{ErrTransport, "transport_error"},
}

// KindOf returns the taxonomy sentinel err belongs to, or nil
func KindOf(err error) error {
	if err == nil {
		return nil
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.err
		}
	}
	return nil
}

// KindName is the stable machine name of err's kind
func KindName(err error) string {
	kind := KindOf(err)
	for _, k := range kinds {
		if k.err == kind {
			return k.name
		}
	}
	return "internal"
}

// Retryable reports whether repeating the same action unchanged can succeed.
// Collateral shortfalls need a deposit first; auth failures need a new challenge.
func Retryable(err error) bool {
	switch KindOf(err) {
	case ErrUserRejected, ErrTimeout, ErrTransport, ErrChallengeUnavailable, ErrChainError, ErrAdapter, ErrFlowBusy:
		return true
	case ErrProvisionFailed:
		msg := strings.ToLower(err.Error())
		return strings.Contains(msg, "rate limit") || strings.Contains(msg, "try again")
	default:
		return false
	}
}

// UserMessage maps err to the single message shown to the user
func UserMessage(err error) string {
	switch KindOf(err) {
	case ErrUserRejected:
		return "Signature request was rejected"
	case ErrTimeout:
		return "Signing timed out. Please try again."
	case ErrWalletNotConnected:
		return "Please connect your wallet first"
	case ErrFlowBusy:
		return "Another wallet request is already in progress"
	case ErrSessionReset:
		return "Wallet was disconnected"
	case ErrChallengeUnavailable:
		return "Could not fetch the authentication challenge. Please try again."
	case ErrAuthRejected:
		return "Authentication was rejected. Please sign a fresh challenge."
	case ErrUnauthenticated:
		return "Please authenticate with Pear Protocol first"
	case ErrTransport:
		return "Network error while contacting Pear Protocol. Please try again."
	case ErrProvisionFailed:
		return err.Error()
	case ErrInsufficientCollateral:
		return "Deposit USDC on Hyperliquid before approving the agent."
	case ErrFeeCeiling:
		return "Builder fee approval needs a different fee ceiling: " + err.Error()
	case ErrChainError:
		return "Approval failed: " + err.Error()
	case ErrAgentNotProvisioned:
		return "Create an agent wallet before approving it"
	case ErrTradingNotEnabled:
		return "Agent wallet not approved yet. Complete setup before trading."
	case ErrInvalidAmount:
		return "Please enter a valid amount"
	case ErrBelowMinimumSize:
		return err.Error()
	case ErrOrderRejected:
		return err.Error()
	case ErrAdapter:
		return "Wallet error. Check your wallet connection."
	default:
		return "Something went wrong. Check the logs for details."
	}
}
