package relay

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/layer-3/pearauth/core"
	"github.com/rs/zerolog"
)

// Client talks to the Pear relay. Every call is a POST of {action, params};
// the relay answers with {data, status} where status is Pear's own HTTP code.
type Client struct {
	url  string
	http *http.Client
	log  zerolog.Logger
}

// NewClient creates a relay client for the relay endpoint url
func NewClient(url string, timeout time.Duration, log zerolog.Logger) *Client {
	return &Client{
		url:  url,
		http: &http.Client{Timeout: timeout},
		log:  log.With().Str("component", "relay_client").Logger(),
	}
}

type request struct {
	Action string `json:"action"`
	Params any    `json:"params"`
}

// envelope is the relay response. Data stays raw so numbers survive untouched.
type envelope struct {
	Data   json.RawMessage `json:"data"`
	Status int             `json:"status"`
}

// OK reports whether Pear answered with a 2xx status
func (e envelope) OK() bool {
	return e.Status >= 200 && e.Status < 300
}

// protocolMessage extracts a human readable error from a Pear payload
func (e envelope) protocolMessage() string {
	var body struct {
		Message  string `json:"message"`
		Error    any    `json:"error"`
		Response any    `json:"response"`
	}
	if err := json.Unmarshal(e.Data, &body); err == nil {
		switch {
		case body.Message != "":
			return body.Message
		case body.Response != nil:
			return fmt.Sprint(body.Response)
		case body.Error != nil:
			return fmt.Sprint(body.Error)
		}
	}
	if len(e.Data) > 0 && string(e.Data) != "null" {
		return string(e.Data)
	}
	return http.StatusText(e.Status)
}

type proxyError struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

// call performs one relay round trip. Transport faults and relay-level
// errors are ErrTransport; Pear's status is left for the caller to judge.
func (c *Client) call(ctx context.Context, action string, params any) (envelope, error) {
	body, err := json.Marshal(request{Action: action, Params: params})
	if err != nil {
		return envelope{}, fmt.Errorf("failed to marshal %s request: %w", action, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(body))
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %v", core.ErrTransport, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: %s: %v", core.ErrTransport, action, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return envelope{}, fmt.Errorf("%w: read %s response: %v", core.ErrTransport, action, err)
	}

	if resp.StatusCode != http.StatusOK {
		var pe proxyError
		_ = json.Unmarshal(raw, &pe)
		return envelope{}, fmt.Errorf("%w: relay returned %d: %s %s", core.ErrTransport, resp.StatusCode, pe.Error, pe.Message)
	}

	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return envelope{}, fmt.Errorf("%w: malformed %s envelope: %v", core.ErrTransport, action, err)
	}

	c.log.Debug().Str("action", action).Int("status", env.Status).Msg("relay call completed")
	return env, nil
}

// decode reads a payload keeping numbers as json.Number
func decode(data json.RawMessage, out any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	return dec.Decode(out)
}

// unauthorized reports whether Pear refused the bearer token
func unauthorized(status int) bool {
	return status == http.StatusUnauthorized || status == http.StatusForbidden
}
