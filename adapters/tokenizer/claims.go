package tokenizer

import "github.com/golang-jwt/jwt/v5"

// AccessClaims are the claims Pear puts in its access tokens. Older tokens
// carry the wallet in "address" instead of "sub".
type AccessClaims struct {
	jwt.RegisteredClaims
	Address string `json:"address,omitempty"`
}

// Wallet returns the wallet address the token was issued for
func (c AccessClaims) Wallet() string {
	if c.Address != "" {
		return c.Address
	}
	return c.Subject
}
