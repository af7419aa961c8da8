package relay

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/layer-3/pearauth/core"
)

type spotOrderParams struct {
	AccessToken string          `json:"accessToken"`
	Asset       string          `json:"asset"`
	IsBuy       bool            `json:"isBuy"`
	Amount      json.RawMessage `json:"amount"`
}

// PlaceSpotOrder submits a spot order through Pear
func (c *Client) PlaceSpotOrder(ctx context.Context, token core.AccessToken, order core.SpotOrder) (core.OrderResult, error) {
	env, err := c.call(ctx, "placeSpotOrder", spotOrderParams{
		AccessToken: string(token),
		Asset:       order.Asset,
		IsBuy:       order.IsBuy,
		// Pear expects a JSON number, decimal marshals as a string
		Amount: json.RawMessage(order.Amount.String()),
	})
	if err != nil {
		return core.OrderResult{}, err
	}
	if unauthorized(env.Status) {
		return core.OrderResult{}, fmt.Errorf("%w: %s", core.ErrUnauthenticated, env.protocolMessage())
	}

	var body struct {
		OrderID  any    `json:"orderId"`
		Error    any    `json:"error"`
		Response any    `json:"response"`
		Message  string `json:"message"`
	}
	_ = decode(env.Data, &body)

	if env.Status >= 400 || body.Error != nil || (body.OrderID == nil && body.Response != nil) {
		return core.OrderResult{}, fmt.Errorf("%w: %s", core.ErrOrderRejected, env.protocolMessage())
	}

	result := core.OrderResult{Raw: env.Data}
	if body.OrderID != nil {
		result.OrderID = fmt.Sprint(body.OrderID)
	}
	return result, nil
}

// OpenOrders lists the session's open orders as Pear returns them
func (c *Client) OpenOrders(ctx context.Context, token core.AccessToken) (json.RawMessage, error) {
	env, err := c.call(ctx, "getOpenOrders", map[string]string{"accessToken": string(token)})
	if err != nil {
		return nil, err
	}
	if unauthorized(env.Status) {
		return nil, fmt.Errorf("%w: %s", core.ErrUnauthenticated, env.protocolMessage())
	}
	if !env.OK() {
		return nil, fmt.Errorf("%w: status %d: %s", core.ErrOrderRejected, env.Status, env.protocolMessage())
	}
	return env.Data, nil
}

// CancelOrder cancels one open order
func (c *Client) CancelOrder(ctx context.Context, token core.AccessToken, orderID string) error {
	env, err := c.call(ctx, "cancelOrder", map[string]string{
		"accessToken": string(token),
		"orderId":     orderID,
	})
	if err != nil {
		return err
	}
	if unauthorized(env.Status) {
		return fmt.Errorf("%w: %s", core.ErrUnauthenticated, env.protocolMessage())
	}
	if !env.OK() {
		return fmt.Errorf("%w: status %d: %s", core.ErrOrderRejected, env.Status, env.protocolMessage())
	}
	return nil
}
