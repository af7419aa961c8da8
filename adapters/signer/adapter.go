package signer

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/core"
	"github.com/layer-3/pearauth/internal/eth"
	"github.com/layer-3/pearauth/ports"
	"github.com/rs/zerolog"
)

// Adapter turns a WalletProvider into a TypedDataSigner. It strips the
// EIP712Domain type, bounds the wallet interaction window and maps wallet
// failures onto the signing error kinds.
type Adapter struct {
	wallet  ports.WalletProvider
	timeout time.Duration
	log     zerolog.Logger
}

// NewAdapter creates a signing adapter. A zero timeout leaves the prompt unbounded.
func NewAdapter(wallet ports.WalletProvider, timeout time.Duration, log zerolog.Logger) *Adapter {
	return &Adapter{
		wallet:  wallet,
		timeout: timeout,
		log:     log.With().Str("component", "signer").Logger(),
	}
}

// SignTypedData asks the wallet to sign td as signer
func (a *Adapter) SignTypedData(ctx context.Context, td apitypes.TypedData, signer common.Address) (core.Signature, error) {
	if id := a.wallet.Identity(); id.Address != signer {
		return nil, fmt.Errorf("%w: wallet %s cannot sign for %s", core.ErrAdapter, id.Address.Hex(), signer.Hex())
	}

	payload := td
	payload.Types = eth.StripDomainType(td.Types)

	if a.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, a.timeout)
		defer cancel()
	}

	a.log.Debug().Str("primary_type", payload.PrimaryType).Str("signer", signer.Hex()).Msg("requesting typed data signature")

	sig, err := a.wallet.SignTypedData(ctx, payload)
	if err != nil {
		return nil, classify(ctx, err)
	}
	if len(sig) != 65 {
		return nil, fmt.Errorf("%w: wallet returned %d byte signature", core.ErrAdapter, len(sig))
	}

	return core.Signature(sig), nil
}

func classify(ctx context.Context, err error) error {
	if errors.Is(err, core.ErrUserRejected) || errors.Is(err, core.ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "rejected"), strings.Contains(msg, "denied"):
		return fmt.Errorf("%w: %v", core.ErrUserRejected, err)
	case strings.Contains(msg, "timeout"), strings.Contains(msg, "timed out"):
		return fmt.Errorf("%w: %v", core.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", core.ErrAdapter, err)
	}
}
