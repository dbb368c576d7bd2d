package session

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
	"github.com/tidwall/gjson"

	"github.com/musicatri/console/internal/result"
)

// Client is the Result-normalizing HTTP client used for every backend
// call. Non-2xx responses are outcomes, not errors; only a failed round
// trip produces a 6xx connection-error result.
type Client struct {
	base string
	http *http.Client

	// headerFn supplies per-request headers (localization and
	// authorization).
	headerFn func() http.Header
	// onUnauthorized runs when the backend answers 401 or 403, so the
	// owner can drop its cached user.
	onUnauthorized func()
}

// NewClient builds a client for the API base URL.
func NewClient(base string, timeout time.Duration, headerFn func() http.Header, onUnauthorized func()) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		base:           base,
		http:           &http.Client{Timeout: timeout},
		headerFn:       headerFn,
		onUnauthorized: onUnauthorized,
	}
}

// Get performs a GET request against the API path.
func (c *Client) Get(ctx context.Context, path string) result.Result {
	return c.do(ctx, http.MethodGet, path, nil)
}

// Post performs a POST request with a JSON body.
func (c *Client) Post(ctx context.Context, path string, body any) result.Result {
	return c.do(ctx, http.MethodPost, path, body)
}

// Delete performs a DELETE request against the API path.
func (c *Client) Delete(ctx context.Context, path string) result.Result {
	return c.do(ctx, http.MethodDelete, path, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body any) result.Result {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return result.New(result.CodeBadRequest, fmt.Sprintf("marshal request body: %v", err))
		}
		reader = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.base+path, reader)
	if err != nil {
		return result.ConnectionError(err.Error())
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.headerFn != nil {
		for key, values := range c.headerFn() {
			for _, v := range values {
				req.Header.Add(key, v)
			}
		}
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return connectionResult(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return connectionResult(err)
	}

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		if c.onUnauthorized != nil {
			c.onUnauthorized()
		}
	}

	res := result.Result{Code: resp.StatusCode}
	if msg := gjson.GetBytes(raw, "message"); msg.Exists() {
		res.Message = msg.String()
	}
	if data := gjson.GetBytes(raw, "data"); data.Exists() {
		res.Data = json.RawMessage(data.Raw)
	}
	// Backends that wrap outcomes in a body-level code win over the
	// transport status line.
	if code := gjson.GetBytes(raw, "code"); code.Exists() {
		res.Code = int(code.Int())
	}
	return res
}

// connectionResult maps a transport failure onto the local 6xx codes:
// a timeout is 601, everything else (refused, unreachable, aborted)
// is 602.
func connectionResult(err error) result.Result {
	log.Debugf("session: request failed: %v", err)
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return result.Timeout(err.Error())
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return result.Timeout(err.Error())
	}
	return result.ConnectionError(err.Error())
}
