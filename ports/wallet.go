package ports

import (
	"context"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/core"
)

// WalletProvider is the connected wallet. It receives typed data without the
// EIP712Domain type and derives domain separation from td.Domain itself.
type WalletProvider interface {
	Identity() core.WalletIdentity
	SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error)
}

// TypedDataSigner produces typed-data signatures on behalf of signer
type TypedDataSigner interface {
	SignTypedData(ctx context.Context, td apitypes.TypedData, signer common.Address) (core.Signature, error)
}
