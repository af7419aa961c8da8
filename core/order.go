package core

import (
	"encoding/json"
	"time"

	"github.com/shopspring/decimal"
)

// SpotOrder is a market spot order routed through Pear
type SpotOrder struct {
	Asset  string          `json:"asset"`
	IsBuy  bool            `json:"isBuy"`
	Amount decimal.Decimal `json:"amount"`
}

// Side names the order direction for logs and metrics
func (o SpotOrder) Side() string {
	if o.IsBuy {
		return "buy"
	}
	return "sell"
}

// OrderResult is Pear's answer to an order placement
type OrderResult struct {
	OrderID string          `json:"orderId,omitempty"`
	Raw     json.RawMessage `json:"raw,omitempty"`
}

// FlowEventType names what happened in a wallet session
type FlowEventType string

const (
	EventWalletConnected    FlowEventType = "wallet.connected"
	EventWalletDisconnected FlowEventType = "wallet.disconnected"
	EventAuthenticated      FlowEventType = "auth.authenticated"
	EventTokenInvalidated   FlowEventType = "auth.token_invalidated"
	EventAgentProvisioned   FlowEventType = "agent.provisioned"
	EventAgentApproved      FlowEventType = "agent.approved"
	EventBuilderFeeApproved FlowEventType = "agent.builder_fee_approved"
	EventOrderPlaced        FlowEventType = "order.placed"
	EventFailure            FlowEventType = "flow.failure"
)

// Notification levels carried by FlowEvent
const (
	LevelInfo    = "info"
	LevelSuccess = "success"
	LevelError   = "error"
)

// FlowEvent is published on every flow transition and failure. Error-level
// events are the user-facing notifications.
type FlowEvent struct {
	ID      string        `json:"id"`
	Type    FlowEventType `json:"type"`
	Address string        `json:"address,omitempty"`
	State   FlowState     `json:"state"`
	Level   string        `json:"level"`
	Message string        `json:"message,omitempty"`
	Code    string        `json:"code,omitempty"`
	Time    time.Time     `json:"time"`
}
