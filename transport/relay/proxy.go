// Package relay is the stateless pass-through between clients and the Pear
// REST API. Requests are {action, params}; every upstream answer, whatever
// its status, comes back as HTTP 200 {data, status}.
package relay

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog"
)

// DefaultAPIKeyName is used when createApiKey carries no name
const DefaultAPIKeyName = "Voxtrade Key"

const logBodyLimit = 1000

type request struct {
	Action string                     `json:"action"`
	Params map[string]json.RawMessage `json:"params"`
}

// upstream is one call to the Pear API
type upstream struct {
	method string
	path   string
	query  url.Values
	token  string
	body   any
}

type builder func(p params) (upstream, error)

// Proxy forwards relay actions to Pear
type Proxy struct {
	baseURL string
	http    *http.Client
	log     zerolog.Logger
	routes  map[string]builder
}

// NewProxy creates a proxy in front of the Pear API at baseURL
func NewProxy(baseURL string, timeout time.Duration, log zerolog.Logger) *Proxy {
	return &Proxy{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
		log:     log.With().Str("component", "relay").Logger(),
		routes:  routes(),
	}
}

func routes() map[string]builder {
	return map[string]builder{
		"getEip712Message": func(p params) (upstream, error) {
			return upstream{
				method: http.MethodGet,
				path:   "/auth/eip712-message",
				query:  url.Values{"address": {p.str("address")}, "clientId": {p.str("clientId")}},
			}, nil
		},
		"login": func(p params) (upstream, error) {
			return upstream{method: http.MethodPost, path: "/auth/login", body: p.raw}, nil
		},
		"createAgentWallet": func(p params) (upstream, error) {
			return upstream{method: http.MethodPost, path: "/agentWallet", token: p.str("accessToken"), body: struct{}{}}, nil
		},
		"getAgentWallet": func(p params) (upstream, error) {
			return upstream{method: http.MethodGet, path: "/agentWallet", token: p.str("accessToken")}, nil
		},
		"getApiKeys": func(p params) (upstream, error) {
			return upstream{method: http.MethodGet, path: "/api-keys", token: p.str("accessToken")}, nil
		},
		"createApiKey": func(p params) (upstream, error) {
			name := p.str("name")
			if name == "" {
				name = DefaultAPIKeyName
			}
			return upstream{method: http.MethodPost, path: "/api-keys", token: p.str("accessToken"), body: map[string]string{"name": name}}, nil
		},
		"getMarkets": func(p params) (upstream, error) {
			return upstream{method: http.MethodGet, path: "/markets"}, nil
		},
		"getPositions": func(p params) (upstream, error) {
			return upstream{
				method: http.MethodGet,
				path:   "/positions",
				query:  url.Values{"address": {p.str("address")}},
				token:  p.str("accessToken"),
			}, nil
		},
		"placeOrder": func(p params) (upstream, error) {
			return upstream{method: http.MethodPost, path: "/orders", token: p.str("accessToken"), body: p.without("accessToken")}, nil
		},
		"placeSpotOrder": func(p params) (upstream, error) {
			return upstream{method: http.MethodPost, path: "/orders/spot", token: p.str("accessToken"), body: p.only("asset", "isBuy", "amount")}, nil
		},
		"getOpenOrders": func(p params) (upstream, error) {
			return upstream{method: http.MethodGet, path: "/orders/open", token: p.str("accessToken")}, nil
		},
		"cancelOrder": func(p params) (upstream, error) {
			id := p.str("orderId")
			if id == "" {
				return upstream{}, errors.New("orderId is required")
			}
			return upstream{method: http.MethodDelete, path: "/orders/" + url.PathEscape(id) + "/cancel", token: p.str("accessToken")}, nil
		},
	}
}

// Handle serves one relay request
func (p *Proxy) Handle(c *gin.Context) {
	var req request
	if err := c.ShouldBindJSON(&req); err != nil {
		p.fail(c, fmt.Errorf("invalid request body: %w", err))
		return
	}

	build, ok := p.routes[req.Action]
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Unknown action", "action": req.Action})
		return
	}

	up, err := build(params{raw: req.Params})
	if err != nil {
		p.fail(c, err)
		return
	}

	status, data, err := p.forward(c.Request, up)
	if err != nil {
		p.fail(c, err)
		return
	}

	p.log.Info().Str("action", req.Action).Str("method", up.method).Str("path", up.path).Int("status", status).Msg("relayed")
	c.JSON(http.StatusOK, gin.H{"data": data, "status": status})
}

func (p *Proxy) forward(in *http.Request, up upstream) (int, json.RawMessage, error) {
	target := p.baseURL + up.path
	if len(up.query) > 0 {
		target += "?" + up.query.Encode()
	}

	var body io.Reader
	if up.body != nil {
		b, err := json.Marshal(up.body)
		if err != nil {
			return 0, nil, fmt.Errorf("failed to encode upstream body: %w", err)
		}
		body = bytes.NewReader(b)
		p.log.Debug().Str("body", truncate(string(b))).Msg("upstream request body")
	}

	req, err := http.NewRequestWithContext(in.Context(), up.method, target, body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "*/*")
	if up.token != "" {
		req.Header.Set("Authorization", "Bearer "+up.token)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return 0, nil, err
	}
	p.log.Debug().Int("status", resp.StatusCode).Str("body", truncate(string(raw))).Msg("upstream response")

	if json.Valid(raw) && len(bytes.TrimSpace(raw)) > 0 {
		return resp.StatusCode, raw, nil
	}

	// non-JSON answers are wrapped so clients always get an object
	wrapped, err := json.Marshal(map[string]string{"raw": string(raw)})
	if err != nil {
		return 0, nil, err
	}
	return resp.StatusCode, wrapped, nil
}

func (p *Proxy) fail(c *gin.Context, err error) {
	p.log.Error().Err(err).Msg("proxy error")
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Proxy error", "message": err.Error()})
}

// CORS answers preflight requests and allows any origin
func CORS() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Headers", "authorization, x-client-info, apikey, content-type")
		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusOK)
			return
		}
		c.Next()
	}
}

// SetupRouter mounts the proxy at path
func SetupRouter(proxy *Proxy, path string) *gin.Engine {
	router := gin.New()
	router.Use(gin.Recovery(), CORS())
	router.POST(path, proxy.Handle)
	router.OPTIONS(path, func(c *gin.Context) {})
	return router
}

func truncate(s string) string {
	if len(s) > logBodyLimit {
		return s[:logBodyLimit]
	}
	return s
}

// params reads loosely typed action parameters
type params struct {
	raw map[string]json.RawMessage
}

// str returns a string parameter; numbers are returned in their JSON form
func (p params) str(key string) string {
	v, ok := p.raw[key]
	if !ok {
		return ""
	}
	var s string
	if err := json.Unmarshal(v, &s); err == nil {
		return s
	}
	if string(v) == "null" {
		return ""
	}
	return string(v)
}

func (p params) without(key string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(p.raw))
	for k, v := range p.raw {
		if k != key {
			out[k] = v
		}
	}
	return out
}

func (p params) only(keys ...string) map[string]json.RawMessage {
	out := make(map[string]json.RawMessage, len(keys))
	for _, k := range keys {
		if v, ok := p.raw[k]; ok {
			out[k] = v
		}
	}
	return out
}
