package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/ports"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// CollateralCoin is the spot balance that must be funded before trading
const CollateralCoin = "USDC"

// Trader places orders through Pear once the flow is fully approved
type Trader struct {
	flow     *Flow
	orders   ports.OrderRelay
	balances ports.BalanceReader
	minSize  decimal.Decimal
	log      zerolog.Logger
}

// NewTrader creates a new order gate on top of flow
func NewTrader(flow *Flow, orders ports.OrderRelay, balances ports.BalanceReader, minSize decimal.Decimal, log zerolog.Logger) *Trader {
	return &Trader{
		flow:     flow,
		orders:   orders,
		balances: balances,
		minSize:  minSize,
		log:      log.With().Str("component", "trader").Logger(),
	}
}

// PlaceSpotOrder validates and submits a spot market order
func (t *Trader) PlaceSpotOrder(ctx context.Context, order core.SpotOrder) (core.OrderResult, error) {
	result, err := t.placeSpotOrder(ctx, order)
	mtxOrders.WithLabelValues(order.Side(), outcome(err)).Inc()
	if err != nil {
		t.log.Error().Err(err).Str("asset", order.Asset).Str("side", order.Side()).Str("amount", order.Amount.String()).Msg("spot order failed")
		t.flow.publish(ctx, core.FlowEvent{
			Type:    core.EventFailure,
			Level:   core.LevelError,
			Message: core.UserMessage(err),
			Code:    core.KindName(err),
		})
		return core.OrderResult{}, err
	}

	t.log.Info().Str("asset", order.Asset).Str("side", order.Side()).Str("amount", order.Amount.String()).Str("order_id", result.OrderID).Msg("spot order placed")
	t.flow.notify(ctx, core.EventOrderPlaced, core.LevelSuccess,
		fmt.Sprintf("%s order placed: %s %s", order.Side(), order.Amount, order.Asset))
	return result, nil
}

func (t *Trader) placeSpotOrder(ctx context.Context, order core.SpotOrder) (core.OrderResult, error) {
	token, wallet, err := t.flow.TradingCredentials()
	if err != nil {
		return core.OrderResult{}, err
	}

	if order.Asset == "" {
		return core.OrderResult{}, fmt.Errorf("%w: asset is required", core.ErrInvalidAmount)
	}
	if !order.Amount.IsPositive() {
		return core.OrderResult{}, core.ErrInvalidAmount
	}
	if order.Amount.LessThan(t.minSize) {
		return core.OrderResult{}, fmt.Errorf("%w: minimum order size is %s", core.ErrBelowMinimumSize, t.minSize)
	}

	if t.balances != nil {
		balance, err := t.balances.SpotBalance(ctx, wallet.Address, CollateralCoin)
		switch {
		case err != nil:
			t.log.Warn().Err(err).Msg("could not verify collateral, proceeding with order")
		case !balance.IsPositive():
			return core.OrderResult{}, fmt.Errorf("%w: no %s on Hyperliquid", core.ErrInsufficientCollateral, CollateralCoin)
		}
	}

	result, err := t.orders.PlaceSpotOrder(ctx, token, order)
	if err != nil {
		if errors.Is(err, core.ErrUnauthenticated) {
			t.flow.ReportUnauthorized(ctx, token)
		}
		return core.OrderResult{}, err
	}
	return result, nil
}

// OpenOrders lists open orders for the session
func (t *Trader) OpenOrders(ctx context.Context) (json.RawMessage, error) {
	token, _, err := t.flow.TradingCredentials()
	if err != nil {
		return nil, err
	}

	orders, err := t.orders.OpenOrders(ctx, token)
	if errors.Is(err, core.ErrUnauthenticated) {
		t.flow.ReportUnauthorized(ctx, token)
	}
	return orders, err
}

// CancelOrder cancels an open order
func (t *Trader) CancelOrder(ctx context.Context, orderID string) error {
	token, _, err := t.flow.TradingCredentials()
	if err != nil {
		return err
	}
	if orderID == "" {
		return fmt.Errorf("%w: order id is required", core.ErrOrderRejected)
	}

	err = t.orders.CancelOrder(ctx, token, orderID)
	if errors.Is(err, core.ErrUnauthenticated) {
		t.flow.ReportUnauthorized(ctx, token)
	}
	return err
}
