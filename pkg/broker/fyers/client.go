// Package fyers implements the broker contract against the Fyers v3 REST API.
// The OAuth login flow lives outside this process; the client only loads a
// previously saved access token and validates it against the profile endpoint.
package fyers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"strconv"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"tradedesk/pkg/broker"
)

// Config holds Fyers credentials and endpoints.
type Config struct {
	BaseURL   string
	ClientID  string
	TokenFile string
}

// Client is a Fyers v3 REST client.
type Client struct {
	cfg         config
	httpClient  *http.Client
	rateLimiter *rate.Limiter

	mu          sync.Mutex
	accessToken string

	// profile-check result cache to avoid hammering the auth endpoint
	authMu        sync.Mutex
	authCheckedAt time.Time
	authValid     bool
	authTTL       time.Duration
}

type config struct {
	baseURL   string
	clientID  string
	tokenFile string
}

// New creates a Fyers client and loads any persisted access token.
func New(cfg Config) *Client {
	c := &Client{
		cfg: config{
			baseURL:   cfg.BaseURL,
			clientID:  cfg.ClientID,
			tokenFile: cfg.TokenFile,
		},
		httpClient: &http.Client{Timeout: 15 * time.Second},
		// Fyers allows 10 req/s per app; stay below it.
		rateLimiter: rate.NewLimiter(rate.Limit(8), 16),
		authTTL:     15 * time.Second,
	}
	c.loadToken()
	return c
}

type savedToken struct {
	AccessToken string `json:"access_token"`
	SavedAt     int64  `json:"saved_at"`
}

func (c *Client) loadToken() {
	data, err := os.ReadFile(c.cfg.tokenFile)
	if err != nil {
		return
	}
	var tok savedToken
	if err := json.Unmarshal(data, &tok); err != nil {
		return
	}
	c.mu.Lock()
	c.accessToken = tok.AccessToken
	c.mu.Unlock()
}

// SetToken installs an access token directly (used by tests and token tools).
func (c *Client) SetToken(token string) {
	c.mu.Lock()
	c.accessToken = token
	c.mu.Unlock()
}

func (c *Client) authHeader() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cfg.clientID + ":" + c.accessToken
}

// do issues one HTTP request with rate limiting and classifies failures for
// the router's retry policy. Retrying is the router's job, not the client's.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, payload any) ([]byte, error) {
	if err := c.rateLimiter.Wait(ctx); err != nil {
		return nil, err
	}

	u := c.cfg.baseURL + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}

	var body io.Reader
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			return nil, fmt.Errorf("encode payload: %w", err)
		}
		body = bytes.NewReader(raw)
	}

	req, err := http.NewRequestWithContext(ctx, method, u, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Authorization", c.authHeader())
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, broker.NewError(broker.KindTransient, path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, broker.NewError(broker.KindTransient, path, err)
	}

	switch {
	case resp.StatusCode == http.StatusTooManyRequests,
		resp.StatusCode == http.StatusInternalServerError,
		resp.StatusCode == http.StatusBadGateway,
		resp.StatusCode == http.StatusServiceUnavailable,
		resp.StatusCode == http.StatusGatewayTimeout:
		return nil, broker.NewError(broker.KindTransient, path,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw)))
	case resp.StatusCode == http.StatusUnauthorized, resp.StatusCode == http.StatusForbidden:
		c.markAuthInvalid()
		return nil, broker.NewError(broker.KindAuth, path,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw)))
	case resp.StatusCode >= 400:
		return nil, broker.NewError(broker.KindValidation, path,
			fmt.Errorf("status %d: %s", resp.StatusCode, truncate(raw)))
	}

	return raw, nil
}

func truncate(b []byte) string {
	const max = 200
	if len(b) > max {
		return string(b[:max]) + "..."
	}
	return string(b)
}

// LastPrice fetches the last traded price for a symbol.
func (c *Client) LastPrice(ctx context.Context, symbol string) (float64, error) {
	q := url.Values{}
	q.Set("symbols", symbol)
	raw, err := c.do(ctx, http.MethodGet, "/data/quotes", q, nil)
	if err != nil {
		return 0, err
	}

	var resp struct {
		D []struct {
			V struct {
				LP float64 `json:"lp"`
			} `json:"v"`
		} `json:"d"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return 0, fmt.Errorf("decode quotes: %w", err)
	}
	if len(resp.D) == 0 || resp.D[0].V.LP == 0 {
		return 0, errors.New("no quote for " + symbol)
	}
	return resp.D[0].V.LP, nil
}

// History fetches recent candles at the given resolution (minutes).
func (c *Client) History(ctx context.Context, symbol, resolution string, bars int) ([]broker.Candle, error) {
	now := time.Now()
	from := now.Add(-5 * 24 * time.Hour)

	q := url.Values{}
	q.Set("symbol", symbol)
	q.Set("resolution", resolution)
	q.Set("date_format", "0")
	q.Set("range_from", strconv.FormatInt(from.Unix(), 10))
	q.Set("range_to", strconv.FormatInt(now.Unix(), 10))
	q.Set("cont_flag", "1")

	raw, err := c.do(ctx, http.MethodGet, "/data/history", q, nil)
	if err != nil {
		return nil, err
	}

	var resp struct {
		Candles [][]float64 `json:"candles"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode history: %w", err)
	}

	out := make([]broker.Candle, 0, len(resp.Candles))
	for _, c := range resp.Candles {
		if len(c) < 6 {
			continue
		}
		out = append(out, broker.Candle{
			Time:   int64(c[0]),
			Open:   c[1],
			High:   c[2],
			Low:    c[3],
			Close:  c[4],
			Volume: c[5],
		})
	}
	if bars > 0 && len(out) > bars {
		out = out[len(out)-bars:]
	}
	return out, nil
}

// PlaceOrder submits an intraday market order tagged with correlationID so a
// retried submission can be reconciled via OrderStatus instead of re-sent.
func (c *Client) PlaceOrder(ctx context.Context, req broker.OrderRequest, correlationID string) (broker.OrderAck, error) {
	side := 1
	if req.Side == broker.SideSell {
		side = -1
	}
	payload := map[string]any{
		"symbol":       req.Symbol,
		"qty":          req.Qty,
		"type":         2, // market
		"side":         side,
		"productType":  "INTRADAY",
		"validity":     "DAY",
		"orderTag":     correlationID,
		"offlineOrder": false,
	}

	raw, err := c.do(ctx, http.MethodPost, "/api/v3/orders/sync", nil, payload)
	if err != nil {
		return broker.OrderAck{}, err
	}

	var resp struct {
		S       string `json:"s"`
		ID      string `json:"id"`
		Message string `json:"message"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return broker.OrderAck{}, fmt.Errorf("decode order response: %w", err)
	}
	if resp.S != "ok" {
		return broker.OrderAck{}, broker.NewError(broker.KindValidation, "place_order",
			fmt.Errorf("rejected: %s", resp.Message))
	}
	return broker.OrderAck{OrderID: resp.ID, Status: broker.StatusFilled}, nil
}

// OrderStatus looks up an order by its correlation tag in today's order book.
func (c *Client) OrderStatus(ctx context.Context, correlationID string) (broker.OrderStatus, error) {
	raw, err := c.do(ctx, http.MethodGet, "/api/v3/orders", nil, nil)
	if err != nil {
		return broker.StatusUnknown, err
	}

	var resp struct {
		OrderBook []struct {
			OrderTag string `json:"orderTag"`
			Status   int    `json:"status"`
		} `json:"orderBook"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return broker.StatusUnknown, fmt.Errorf("decode orderbook: %w", err)
	}

	for _, o := range resp.OrderBook {
		if o.OrderTag != correlationID {
			continue
		}
		// Fyers order status codes: 2 filled, 5 rejected, 6 pending.
		switch o.Status {
		case 2:
			return broker.StatusFilled, nil
		case 5:
			return broker.StatusRejected, nil
		default:
			return broker.StatusPending, nil
		}
	}
	return broker.StatusUnknown, nil
}

// IsAuthenticated checks token validity against the profile endpoint, caching
// the result briefly so status polling does not hit the API on every call.
func (c *Client) IsAuthenticated(ctx context.Context) bool {
	c.authMu.Lock()
	if time.Since(c.authCheckedAt) < c.authTTL {
		valid := c.authValid
		c.authMu.Unlock()
		return valid
	}
	c.authMu.Unlock()

	_, err := c.do(ctx, http.MethodGet, "/api/v3/profile", nil, nil)

	c.authMu.Lock()
	c.authCheckedAt = time.Now()
	c.authValid = err == nil
	valid := c.authValid
	c.authMu.Unlock()
	return valid
}

func (c *Client) markAuthInvalid() {
	c.authMu.Lock()
	c.authCheckedAt = time.Now()
	c.authValid = false
	c.authMu.Unlock()
}
