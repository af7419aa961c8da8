package ports

import (
	"context"
	"encoding/json"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/pearauth/core"
)

// Relay is the Pear Protocol surface used by the authentication flow
type Relay interface {
	// GetEIP712Message fetches a one-time login challenge
	GetEIP712Message(ctx context.Context, address common.Address, clientID string) (core.AuthChallenge, error)

	// Login exchanges a signed challenge for an access token
	Login(ctx context.Context, req core.LoginRequest) (core.AccessToken, error)

	// GetAgentWallet returns the agent Pear holds for the account, or a zero
	// AgentWallet when there is none
	GetAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error)

	// CreateAgentWallet asks Pear for a new agent wallet
	CreateAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error)
}

// OrderRelay is the Pear Protocol surface used for trading
type OrderRelay interface {
	PlaceSpotOrder(ctx context.Context, token core.AccessToken, order core.SpotOrder) (core.OrderResult, error)
	OpenOrders(ctx context.Context, token core.AccessToken) (json.RawMessage, error)
	CancelOrder(ctx context.Context, token core.AccessToken, orderID string) error
}
