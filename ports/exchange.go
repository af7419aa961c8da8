package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/layer-3/pearauth/core"
	"github.com/shopspring/decimal"
)

// Exchange submits the wallet-signed approvals on Hyperliquid
type Exchange interface {
	ApproveAgent(ctx context.Context, user common.Address, agent core.AgentWallet, name string) (core.ApprovalReceipt, error)
	ApproveBuilderFee(ctx context.Context, user common.Address, builder common.Address, maxFeeRate string) (core.ApprovalReceipt, error)
}

// BalanceReader looks up exchange spot balances
type BalanceReader interface {
	SpotBalance(ctx context.Context, user common.Address, coin string) (decimal.Decimal, error)
}
