// Package eth holds the EIP-712 plumbing shared by the wallet signer, the
// signing adapter and the exchange client.
package eth

import (
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"
	"github.com/layer-3/pearauth/core"
)

// StripDomainType returns a copy of types without the EIP712Domain entry.
// The input map is never modified.
func StripDomainType(types apitypes.Types) apitypes.Types {
	out := make(apitypes.Types, len(types))
	for name, fields := range types {
		if name == core.DomainTypeName {
			continue
		}
		out[name] = fields
	}
	return out
}

// DomainType derives the EIP712Domain schema from the populated domain fields,
// in canonical order.
func DomainType(domain apitypes.TypedDataDomain) []apitypes.Type {
	var fields []apitypes.Type
	if domain.Name != "" {
		fields = append(fields, apitypes.Type{Name: "name", Type: "string"})
	}
	if domain.Version != "" {
		fields = append(fields, apitypes.Type{Name: "version", Type: "string"})
	}
	if domain.ChainId != nil {
		fields = append(fields, apitypes.Type{Name: "chainId", Type: "uint256"})
	}
	if domain.VerifyingContract != "" {
		fields = append(fields, apitypes.Type{Name: "verifyingContract", Type: "address"})
	}
	if domain.Salt != "" {
		fields = append(fields, apitypes.Type{Name: "salt", Type: "bytes32"})
	}
	return fields
}

// Hash computes the EIP-712 digest of td. The domain type is always re-derived
// from td.Domain, whatever td.Types says about it.
func Hash(td apitypes.TypedData) ([]byte, error) {
	types := StripDomainType(td.Types)
	types[core.DomainTypeName] = DomainType(td.Domain)

	full := apitypes.TypedData{
		Types:       types,
		PrimaryType: td.PrimaryType,
		Domain:      td.Domain,
		Message:     normalizeMessage(td.Message),
	}

	hash, _, err := apitypes.TypedDataAndHash(full)
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

// Recover returns the address that produced sig over td
func Recover(td apitypes.TypedData, sig []byte) (common.Address, error) {
	if len(sig) != crypto.SignatureLength {
		return common.Address{}, fmt.Errorf("signature must be %d bytes", crypto.SignatureLength)
	}
	hash, err := Hash(td)
	if err != nil {
		return common.Address{}, err
	}

	normalized := make([]byte, len(sig))
	copy(normalized, sig)
	if normalized[crypto.RecoveryIDOffset] >= 27 {
		normalized[crypto.RecoveryIDOffset] -= 27
	}

	pub, err := crypto.SigToPub(hash, normalized)
	if err != nil {
		return common.Address{}, fmt.Errorf("failed to recover signer: %w", err)
	}
	return crypto.PubkeyToAddress(*pub), nil
}

// normalizeMessage turns json.Number values into strings, which apitypes
// parses as integers.
func normalizeMessage(msg apitypes.TypedDataMessage) apitypes.TypedDataMessage {
	out := make(apitypes.TypedDataMessage, len(msg))
	for k, v := range msg {
		out[k] = normalizeValue(v)
	}
	return out
}

func normalizeValue(v any) any {
	switch val := v.(type) {
	case json.Number:
		return val.String()
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, inner := range val {
			out[k] = normalizeValue(inner)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, inner := range val {
			out[i] = normalizeValue(inner)
		}
		return out
	default:
		return v
	}
}
