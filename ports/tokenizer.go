package ports

import "github.com/layer-3/pearauth/core"

// TokenInspector reads what it can from an access token without verifying it
type TokenInspector interface {
	Inspect(token core.AccessToken) (core.TokenInfo, error)
}
