// Package proxy talks to an execution gateway that fronts a venue behind a
// plain REST API. Requests are signed with the wallet key; the gateway
// recovers the signer address and checks it against X-API-KEY.
package proxy

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/logger"
)

const (
	maxRetries     = 2
	baseRetryDelay = 200 * time.Millisecond
	maxRetryDelay  = 2 * time.Second
)

type Options struct {
	BaseURL    string
	HTTPClient *http.Client
	Log        *logger.Logger
}

type Client struct {
	baseURL string
	address string
	key     *ecdsa.PrivateKey
	http    *http.Client
	log     *logger.Logger
	now     func() time.Time
}

var _ exchange.Client = (*Client)(nil)

// New builds a client from a raw secp256k1 private key.
func New(opts Options, key []byte) (*Client, error) {
	if opts.BaseURL == "" {
		return nil, exchange.Permanent(errors.New("proxy url is not configured"))
	}
	pk, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, exchange.Permanent(fmt.Errorf("parse wallet key: %w", err))
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Log == nil {
		opts.Log = logger.Nop()
	}
	return &Client{
		baseURL: strings.TrimRight(opts.BaseURL, "/"),
		address: crypto.PubkeyToAddress(pk.PublicKey).Hex(),
		key:     pk,
		http:    opts.HTTPClient,
		log:     opts.Log,
		now:     time.Now,
	}, nil
}

func (c *Client) Address() string { return c.address }

func (c *Client) GetAccountInfo(ctx context.Context) (*exchange.AccountInfo, error) {
	var resp accountResponse
	if err := c.do(ctx, http.MethodGet, "/v1/account", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("account: %w", err)
	}
	return &exchange.AccountInfo{Balance: resp.Balance, Available: resp.Available}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	var resp []positionResponse
	if err := c.do(ctx, http.MethodGet, "/v1/positions", nil, nil, &resp); err != nil {
		return nil, fmt.Errorf("positions: %w", err)
	}
	positions := make([]exchange.Position, 0, len(resp))
	for _, p := range resp {
		if !p.Size.IsPositive() {
			continue
		}
		side := exchange.Long
		if strings.EqualFold(p.Side, "short") {
			side = exchange.Short
		}
		positions = append(positions, exchange.Position{
			Symbol:     strings.ToUpper(p.Symbol),
			Size:       p.Size,
			EntryPrice: p.EntryPrice,
			Side:       side,
		})
	}
	return positions, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	var resp []orderResponse
	if err := c.do(ctx, http.MethodGet, "/v1/orders", q, nil, &resp); err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	orders := make([]exchange.OpenOrder, 0, len(resp))
	for _, o := range resp {
		orders = append(orders, exchange.OpenOrder{
			ID:        o.ID,
			Symbol:    strings.ToUpper(o.Symbol),
			IsBuy:     strings.EqualFold(o.Side, "buy"),
			Size:      o.Size,
			Price:     o.Price,
			IsTrigger: o.Trigger,
		})
	}
	return orders, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var resp priceResponse
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodGet, "/v1/price", q, nil, &resp); err != nil {
		return decimal.Zero, fmt.Errorf("price %s: %w", symbol, err)
	}
	if !resp.Price.IsPositive() {
		return decimal.Zero, fmt.Errorf("price %s: venue returned %s", symbol, resp.Price)
	}
	return resp.Price, nil
}

func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, qty decimal.Decimal) (*exchange.OrderResult, error) {
	return c.place(ctx, orderRequest{Symbol: symbol, Side: sideOf(isBuy), Type: "market", Size: qty})
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.place(ctx, orderRequest{
		Symbol: symbol, Side: sideOf(isBuy), Type: "stop", Size: qty,
		TriggerPrice: &triggerPrice, ReduceOnly: true,
	})
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.place(ctx, orderRequest{
		Symbol: symbol, Side: sideOf(isBuy), Type: "take_profit", Size: qty,
		TriggerPrice: &triggerPrice, ReduceOnly: true,
	})
}

func (c *Client) place(ctx context.Context, req orderRequest) (*exchange.OrderResult, error) {
	var resp fillResponse
	if err := c.do(ctx, http.MethodPost, "/v1/orders", nil, req, &resp); err != nil {
		return nil, fmt.Errorf("%s order %s: %w", req.Type, req.Symbol, err)
	}
	return &exchange.OrderResult{OrderID: resp.ID, AvgPrice: resp.AvgPrice, FilledSize: resp.FilledSize}, nil
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	q := url.Values{"symbol": {symbol}}
	if err := c.do(ctx, http.MethodDelete, "/v1/orders/"+url.PathEscape(orderID), q, nil, nil); err != nil {
		return fmt.Errorf("cancel %s: %w", orderID, err)
	}
	return nil
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	q := url.Values{}
	if symbol != "" {
		q.Set("symbol", symbol)
	}
	if err := c.do(ctx, http.MethodDelete, "/v1/orders", q, nil, nil); err != nil {
		return fmt.Errorf("cancel all: %w", err)
	}
	return nil
}

func (c *Client) ClosePosition(ctx context.Context, symbol string) (*exchange.OrderResult, error) {
	var resp fillResponse
	err := c.do(ctx, http.MethodPost, "/v1/positions/"+url.PathEscape(symbol)+"/close", nil, struct{}{}, &resp)
	var se *statusError
	if errors.As(err, &se) && se.status == http.StatusNotFound {
		return nil, fmt.Errorf("%w on %s", exchange.ErrNoPosition, symbol)
	}
	if err != nil {
		return nil, fmt.Errorf("close %s: %w", symbol, err)
	}
	return &exchange.OrderResult{OrderID: resp.ID, AvgPrice: resp.AvgPrice, FilledSize: resp.FilledSize}, nil
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	if err := c.do(ctx, http.MethodPost, "/v1/leverage", nil, leverageRequest{Symbol: symbol, Leverage: leverage}, nil); err != nil {
		return fmt.Errorf("leverage %s: %w", symbol, err)
	}
	return nil
}

func sideOf(isBuy bool) string {
	if isBuy {
		return "buy"
	}
	return "sell"
}

type statusError struct {
	status int
	msg    string
}

func (e *statusError) Error() string {
	return fmt.Sprintf("status %d: %s", e.status, e.msg)
}

// do sends a signed request, retrying transport errors, 429 and 5xx.
// Writes carry one idempotency key across every attempt.
func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out any) error {
	var body []byte
	if in != nil {
		var err error
		if body, err = json.Marshal(in); err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
	}
	idem := ""
	if method != http.MethodGet {
		idem = uuid.NewString()
	}
	target := path
	if len(query) > 0 {
		target += "?" + query.Encode()
	}

	var lastErr error
	for attempt := 0; attempt <= maxRetries; attempt++ {
		if attempt > 0 {
			delay := retryDelay(attempt - 1)
			c.log.Debug("retrying gateway request", "method", method, "path", path, "attempt", attempt, "delay", delay, "error", lastErr)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}
		}

		data, err := c.send(ctx, method, target, body, idem)
		if err == nil {
			if out == nil || len(data) == 0 {
				return nil
			}
			if err := json.Unmarshal(data, out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
			return nil
		}
		lastErr = err
		if ctx.Err() != nil || !retryable(err) {
			return err
		}
	}
	return lastErr
}

func (c *Client) send(ctx context.Context, method, target string, body []byte, idem string) ([]byte, error) {
	var rd io.Reader
	if body != nil {
		rd = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+target, rd)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	ts := strconv.FormatInt(c.now().UnixMilli(), 10)
	sig, err := c.sign(ts, method, target, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-API-KEY", c.address)
	req.Header.Set("X-TIMESTAMP", ts)
	req.Header.Set("X-SIGNATURE", sig)
	if idem != "" {
		req.Header.Set("Idempotency-Key", idem)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s %s", exchange.ErrTimeout, method, target)
		}
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return data, nil
	}

	msg := strings.TrimSpace(string(data))
	var er errorResponse
	if json.Unmarshal(data, &er) == nil && er.Error != "" {
		msg = er.Error
	}
	serr := &statusError{status: resp.StatusCode, msg: msg}
	switch resp.StatusCode {
	case http.StatusUnauthorized, http.StatusForbidden:
		return nil, exchange.Permanent(serr)
	}
	return nil, serr
}

// sign returns the hex [R || S || V] signature over
// keccak256(timestamp + method + target + body).
func (c *Client) sign(ts, method, target string, body []byte) (string, error) {
	hash := crypto.Keccak256([]byte(ts), []byte(method), []byte(target), body)
	sig, err := crypto.Sign(hash, c.key)
	if err != nil {
		return "", fmt.Errorf("sign request: %w", err)
	}
	return "0x" + hex.EncodeToString(sig), nil
}

func retryable(err error) bool {
	if errors.Is(err, exchange.ErrPermanent) || errors.Is(err, exchange.ErrTimeout) {
		return false
	}
	var se *statusError
	if errors.As(err, &se) {
		return se.status == http.StatusTooManyRequests || se.status >= 500
	}
	return true
}

// retryDelay is exponential backoff with jitter.
func retryDelay(attempt int) time.Duration {
	delay := baseRetryDelay * time.Duration(1<<uint(attempt))
	if delay > maxRetryDelay {
		delay = maxRetryDelay
	}
	jitter := time.Duration(rand.Int63n(int64(delay) / 2))
	return delay + jitter - delay/4
}
