package eth

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/core"
)

// KeySigner is a wallet backed by a local secp256k1 key
type KeySigner struct {
	key     *ecdsa.PrivateKey
	address common.Address
	chainID int64
}

// NewKeySigner loads a hex private key, with or without the 0x prefix
func NewKeySigner(hexKey string, chainID int64) (*KeySigner, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(strings.TrimSpace(hexKey), "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewKeySignerFromKey(key, chainID), nil
}

// NewKeySignerFromKey wraps an existing key
func NewKeySignerFromKey(key *ecdsa.PrivateKey, chainID int64) *KeySigner {
	return &KeySigner{
		key:     key,
		address: crypto.PubkeyToAddress(key.PublicKey),
		chainID: chainID,
	}
}

// Identity returns the wallet address and the chain it is configured for
func (s *KeySigner) Identity() core.WalletIdentity {
	return core.WalletIdentity{Address: s.address, ChainID: s.chainID}
}

// SignTypedData signs td and returns R || S || V with V in {27, 28}
func (s *KeySigner) SignTypedData(ctx context.Context, td apitypes.TypedData) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	hash, err := Hash(td)
	if err != nil {
		return nil, err
	}

	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, fmt.Errorf("failed to sign: %w", err)
	}
	sig[crypto.RecoveryIDOffset] += 27

	return sig, nil
}
