package core

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
)

// DomainTypeName is the EIP-712 meta-type the signing layer derives on its own
const DomainTypeName = "EIP712Domain"

// WalletIdentity is the connected primary wallet
type WalletIdentity struct {
	Address common.Address
	ChainID int64
}

// Connected reports whether the identity carries an address
func (w WalletIdentity) Connected() bool {
	return w.Address != (common.Address{})
}

// AuthChallenge is the one-time typed-data login challenge issued by Pear
type AuthChallenge struct {
	Domain      apitypes.TypedDataDomain `json:"domain"`
	Types       apitypes.Types           `json:"types"`
	PrimaryType string                   `json:"primaryType,omitempty"`
	Message     map[string]any           `json:"message"`
}

// Timestamp returns message.timestamp exactly as it was decoded
func (c AuthChallenge) Timestamp() (any, bool) {
	ts, ok := c.Message["timestamp"]
	if !ok || ts == nil {
		return nil, false
	}
	return ts, true
}

// TypedData assembles the signable payload. The domain type is left to the signer.
func (c AuthChallenge) TypedData() (apitypes.TypedData, error) {
	primary := c.PrimaryType
	if primary == "" {
		p, err := RootType(c.Types)
		if err != nil {
			return apitypes.TypedData{}, err
		}
		primary = p
	}

	return apitypes.TypedData{
		Types:       c.Types,
		PrimaryType: primary,
		Domain:      c.Domain,
		Message:     apitypes.TypedDataMessage(c.Message),
	}, nil
}

// RootType picks the primary type of a schema: the type no other type refers to.
// Ties resolve to the lexicographically first name.
func RootType(types apitypes.Types) (string, error) {
	referenced := make(map[string]bool)
	for name, fields := range types {
		if name == DomainTypeName {
			continue
		}
		for _, f := range fields {
			referenced[strings.TrimSuffix(f.Type, "[]")] = true
		}
	}

	var roots []string
	for name := range types {
		if name == DomainTypeName || referenced[name] {
			continue
		}
		roots = append(roots, name)
	}
	if len(roots) == 0 {
		return "", fmt.Errorf("typed data has no primary type")
	}

	sort.Strings(roots)
	return roots[0], nil
}

// Signature is a 65 byte secp256k1 signature in R || S || V form
type Signature []byte

// Hex returns the 0x-prefixed encoding sent to Pear
func (s Signature) Hex() string {
	return hexutil.Encode(s)
}

// AccessToken is the bearer token issued by Pear after login
type AccessToken string

// LoginDetails carries the proof for the eip712 login method
type LoginDetails struct {
	Signature string `json:"signature"`
	Timestamp any    `json:"timestamp"`
}

// LoginRequest is the body of the Pear login call
type LoginRequest struct {
	Method   string       `json:"method"`
	Address  string       `json:"address"`
	ClientID string       `json:"clientId"`
	Details  LoginDetails `json:"details"`
}

// TokenInfo is what can be learned from an access token without verifying it
type TokenInfo struct {
	ID        string    // jti when present, keccak256 of the token otherwise
	Subject   string    // wallet address when the token carries one
	ExpiresAt time.Time // zero for opaque tokens
}

// Expired reports whether the token is past its expiry at the given instant
func (t TokenInfo) Expired(now time.Time) bool {
	return !t.ExpiresAt.IsZero() && !now.Before(t.ExpiresAt)
}

// AgentWallet is the delegated signing address created by Pear
type AgentWallet struct {
	Address common.Address
}

// Provisioned reports whether an agent has been created
func (a AgentWallet) Provisioned() bool {
	return a.Address != (common.Address{})
}

// ApprovalReceipt is the exchange response to an approval action
type ApprovalReceipt struct {
	Action   string          `json:"action"`
	Nonce    int64           `json:"nonce"`
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response,omitempty"`
}
