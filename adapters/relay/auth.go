package relay

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/pearauth/core"
)

// LoginMethodEIP712 is the only login method this client speaks
const LoginMethodEIP712 = "eip712"

// GetEIP712Message fetches a login challenge for address. Any failure is
// ErrChallengeUnavailable; nothing is retried.
func (c *Client) GetEIP712Message(ctx context.Context, address common.Address, clientID string) (core.AuthChallenge, error) {
	env, err := c.call(ctx, "getEip712Message", map[string]string{
		"address":  address.Hex(),
		"clientId": clientID,
	})
	if err != nil {
		return core.AuthChallenge{}, fmt.Errorf("%w: %w", core.ErrChallengeUnavailable, err)
	}
	if !env.OK() {
		return core.AuthChallenge{}, fmt.Errorf("%w: status %d: %s", core.ErrChallengeUnavailable, env.Status, env.protocolMessage())
	}

	var challenge core.AuthChallenge
	if err := decode(env.Data, &challenge); err != nil {
		return core.AuthChallenge{}, fmt.Errorf("%w: malformed challenge: %v", core.ErrChallengeUnavailable, err)
	}
	if _, ok := challenge.Timestamp(); !ok {
		return core.AuthChallenge{}, fmt.Errorf("%w: challenge carries no timestamp", core.ErrChallengeUnavailable)
	}
	if len(challenge.Types) == 0 {
		return core.AuthChallenge{}, fmt.Errorf("%w: challenge carries no types", core.ErrChallengeUnavailable)
	}

	return challenge, nil
}

// Login submits the signed challenge and returns the access token
func (c *Client) Login(ctx context.Context, req core.LoginRequest) (core.AccessToken, error) {
	if req.Method == "" {
		req.Method = LoginMethodEIP712
	}

	env, err := c.call(ctx, "login", req)
	if err != nil {
		return "", err
	}

	switch {
	case env.Status >= 500:
		return "", fmt.Errorf("%w: login status %d: %s", core.ErrTransport, env.Status, env.protocolMessage())
	case !env.OK():
		return "", fmt.Errorf("%w: status %d: %s", core.ErrAuthRejected, env.Status, env.protocolMessage())
	}

	var body struct {
		AccessToken string `json:"accessToken"`
	}
	if err := decode(env.Data, &body); err != nil || body.AccessToken == "" {
		return "", fmt.Errorf("%w: no access token in response", core.ErrAuthRejected)
	}

	return core.AccessToken(body.AccessToken), nil
}

// CreateAgentWallet asks Pear to create an agent wallet for the session
func (c *Client) CreateAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	env, err := c.call(ctx, "createAgentWallet", map[string]string{"accessToken": string(token)})
	if err != nil {
		return core.AgentWallet{}, err
	}

	switch {
	case unauthorized(env.Status):
		return core.AgentWallet{}, fmt.Errorf("%w: %s", core.ErrUnauthenticated, env.protocolMessage())
	case !env.OK():
		return core.AgentWallet{}, fmt.Errorf("%w: %s", core.ErrProvisionFailed, env.protocolMessage())
	}

	var body struct {
		AgentWalletAddress string `json:"agentWalletAddress"`
		Message            string `json:"message"`
	}
	if err := decode(env.Data, &body); err != nil {
		return core.AgentWallet{}, fmt.Errorf("%w: malformed response: %v", core.ErrProvisionFailed, err)
	}
	if body.AgentWalletAddress == "" {
		msg := body.Message
		if msg == "" {
			msg = "no agent wallet address returned"
		}
		return core.AgentWallet{}, fmt.Errorf("%w: %s", core.ErrProvisionFailed, msg)
	}
	if !common.IsHexAddress(body.AgentWalletAddress) {
		return core.AgentWallet{}, fmt.Errorf("%w: invalid agent address %q", core.ErrProvisionFailed, body.AgentWalletAddress)
	}

	return core.AgentWallet{Address: common.HexToAddress(body.AgentWalletAddress)}, nil
}

// GetAgentWallet reads the agent wallet Pear currently holds for the session
func (c *Client) GetAgentWallet(ctx context.Context, token core.AccessToken) (core.AgentWallet, error) {
	env, err := c.call(ctx, "getAgentWallet", map[string]string{"accessToken": string(token)})
	if err != nil {
		return core.AgentWallet{}, err
	}
	if unauthorized(env.Status) {
		return core.AgentWallet{}, fmt.Errorf("%w: %s", core.ErrUnauthenticated, env.protocolMessage())
	}
	if !env.OK() {
		return core.AgentWallet{}, fmt.Errorf("agent wallet lookup failed: status %d: %s", env.Status, env.protocolMessage())
	}

	var body struct {
		AgentWalletAddress string `json:"agentWalletAddress"`
	}
	if err := decode(env.Data, &body); err != nil || !common.IsHexAddress(body.AgentWalletAddress) {
		return core.AgentWallet{}, nil
	}
	return core.AgentWallet{Address: common.HexToAddress(body.AgentWalletAddress)}, nil
}
