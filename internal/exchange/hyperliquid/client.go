package hyperliquid

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

// DefaultURL is the mainnet API. Actions are signed as keccak256(action JSON || nonce),
// not with the venue's EIP-712 phantom-agent scheme, so the live venue rejects orders.
const DefaultURL = "https://api.hyperliquid.xyz"

type Options struct {
	BaseURL    string
	Slippage   decimal.Decimal // ratio applied to the mid for IOC market orders
	Symbols    *exchange.SymbolBook
	HTTPClient *http.Client
}

// Client talks to the Hyperliquid perpetuals API on behalf of one wallet.
type Client struct {
	baseURL  string
	http     *http.Client
	key      *ecdsa.PrivateKey
	address  string
	slippage decimal.Decimal
	symbols  *exchange.SymbolBook

	mu        sync.Mutex
	assets    map[string]int
	lastNonce int64
}

var _ exchange.Client = (*Client)(nil)

// New builds a client from a raw secp256k1 private key. Its signatures only
// verify against a gateway that checks the keccak256(action JSON || nonce) scheme.
func New(opts Options, key []byte) (*Client, error) {
	pk, err := crypto.ToECDSA(key)
	if err != nil {
		return nil, exchange.Permanent(fmt.Errorf("parse wallet key: %w", err))
	}
	if opts.BaseURL == "" {
		opts.BaseURL = DefaultURL
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Symbols == nil {
		opts.Symbols = exchange.NewSymbolBook(exchange.DefaultSymbolSpec())
	}
	if !opts.Slippage.IsPositive() {
		opts.Slippage = decimal.NewFromFloat(0.05)
	}
	return &Client{
		baseURL:  strings.TrimRight(opts.BaseURL, "/"),
		http:     opts.HTTPClient,
		key:      pk,
		address:  crypto.PubkeyToAddress(pk.PublicKey).Hex(),
		slippage: opts.Slippage,
		symbols:  opts.Symbols,
	}, nil
}

func (c *Client) Address() string { return c.address }

func (c *Client) GetAccountInfo(ctx context.Context) (*exchange.AccountInfo, error) {
	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	return &exchange.AccountInfo{
		Balance:   st.MarginSummary.AccountValue,
		Available: st.Withdrawable,
	}, nil
}

func (c *Client) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	st, err := c.state(ctx)
	if err != nil {
		return nil, err
	}
	positions := make([]exchange.Position, 0, len(st.AssetPositions))
	for _, ap := range st.AssetPositions {
		p := ap.Position
		if p.Szi.IsZero() {
			continue
		}
		side := exchange.Long
		if p.Szi.IsNegative() {
			side = exchange.Short
		}
		positions = append(positions, exchange.Position{
			Symbol:     p.Coin,
			Size:       p.Szi.Abs(),
			EntryPrice: p.EntryPx,
			Side:       side,
		})
	}
	return positions, nil
}

func (c *Client) GetOpenOrders(ctx context.Context, symbol string) ([]exchange.OpenOrder, error) {
	var raw []openOrder
	if err := c.info(ctx, infoRequest{Type: "frontendOpenOrders", User: c.address}, &raw); err != nil {
		return nil, fmt.Errorf("open orders: %w", err)
	}
	orders := make([]exchange.OpenOrder, 0, len(raw))
	for _, o := range raw {
		if symbol != "" && !strings.EqualFold(o.Coin, symbol) {
			continue
		}
		px := o.LimitPx
		if o.IsTrigger {
			px = o.TriggerPx
		}
		orders = append(orders, exchange.OpenOrder{
			ID:        strconv.FormatInt(o.Oid, 10),
			Symbol:    o.Coin,
			IsBuy:     o.Side == "B",
			Size:      o.Sz,
			Price:     px,
			IsTrigger: o.IsTrigger,
		})
	}
	return orders, nil
}

func (c *Client) GetPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var mids map[string]decimal.Decimal
	if err := c.info(ctx, infoRequest{Type: "allMids"}, &mids); err != nil {
		return decimal.Zero, fmt.Errorf("mids: %w", err)
	}
	px, ok := mids[strings.ToUpper(symbol)]
	if !ok || !px.IsPositive() {
		return decimal.Zero, exchange.Permanent(fmt.Errorf("no mid price for %s", symbol))
	}
	return px, nil
}

// PlaceMarketOrder sends an IOC limit order priced through the mid by the
// configured slippage.
func (c *Client) PlaceMarketOrder(ctx context.Context, symbol string, isBuy bool, qty decimal.Decimal) (*exchange.OrderResult, error) {
	return c.marketOrder(ctx, symbol, isBuy, qty, false)
}

func (c *Client) marketOrder(ctx context.Context, symbol string, isBuy bool, qty decimal.Decimal, reduceOnly bool) (*exchange.OrderResult, error) {
	mid, err := c.GetPrice(ctx, symbol)
	if err != nil {
		return nil, err
	}
	px := mid.Mul(decimal.NewFromInt(1).Sub(c.slippage))
	if isBuy {
		px = mid.Mul(decimal.NewFromInt(1).Add(c.slippage))
	}
	return c.order(ctx, symbol, isBuy, qty, px, reduceOnly, orderType{Limit: &limitType{Tif: "Ioc"}})
}

func (c *Client) PlaceStopLoss(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.trigger(ctx, symbol, isBuy, qty, triggerPrice, "sl")
}

func (c *Client) PlaceTakeProfit(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal) (*exchange.OrderResult, error) {
	return c.trigger(ctx, symbol, isBuy, qty, triggerPrice, "tp")
}

func (c *Client) trigger(ctx context.Context, symbol string, isBuy bool, qty, triggerPrice decimal.Decimal, tpsl string) (*exchange.OrderResult, error) {
	spec := c.symbols.Get(symbol)
	t := orderType{Trigger: &triggerType{
		IsMarket:  true,
		TriggerPx: spec.RoundPrice(triggerPrice).String(),
		Tpsl:      tpsl,
	}}
	return c.order(ctx, symbol, isBuy, qty, triggerPrice, true, t)
}

func (c *Client) order(ctx context.Context, symbol string, isBuy bool, qty, px decimal.Decimal, reduceOnly bool, t orderType) (*exchange.OrderResult, error) {
	asset, err := c.asset(ctx, symbol)
	if err != nil {
		return nil, err
	}
	spec := c.symbols.Get(symbol)
	size := spec.FloorSize(qty)
	if !size.IsPositive() {
		return nil, fmt.Errorf("order size %s rounds to zero for %s", qty, symbol)
	}
	cloid := uuid.New()

	action := orderAction{
		Type: "order",
		Orders: []orderWire{{
			Asset:      asset,
			IsBuy:      isBuy,
			Price:      spec.RoundPrice(px).String(),
			Size:       size.String(),
			ReduceOnly: reduceOnly,
			Type:       t,
			Cloid:      "0x" + hex.EncodeToString(cloid[:]),
		}},
		Grouping: "na",
	}

	raw, err := c.exchange(ctx, action)
	if err != nil {
		return nil, fmt.Errorf("order %s: %w", symbol, err)
	}
	var resp orderStatuses
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode order response: %w", err)
	}
	if len(resp.Data.Statuses) == 0 {
		return nil, fmt.Errorf("order %s: empty status list", symbol)
	}

	st := resp.Data.Statuses[0]
	switch {
	case st.Error != "":
		return nil, fmt.Errorf("order %s rejected: %s", symbol, st.Error)
	case st.Filled != nil:
		return &exchange.OrderResult{
			OrderID:    strconv.FormatInt(st.Filled.Oid, 10),
			AvgPrice:   st.Filled.AvgPx,
			FilledSize: st.Filled.TotalSz,
		}, nil
	case st.Resting != nil:
		return &exchange.OrderResult{OrderID: strconv.FormatInt(st.Resting.Oid, 10)}, nil
	}
	return nil, fmt.Errorf("order %s: unrecognized status", symbol)
}

func (c *Client) CancelOrder(ctx context.Context, symbol, orderID string) error {
	oid, err := strconv.ParseInt(orderID, 10, 64)
	if err != nil {
		return exchange.Permanent(fmt.Errorf("order id %q: %w", orderID, err))
	}
	asset, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	return c.cancel(ctx, []cancelWire{{Asset: asset, Oid: oid}})
}

func (c *Client) CancelAllOrders(ctx context.Context, symbol string) error {
	orders, err := c.GetOpenOrders(ctx, symbol)
	if err != nil {
		return err
	}
	if len(orders) == 0 {
		return nil
	}
	cancels := make([]cancelWire, 0, len(orders))
	for _, o := range orders {
		asset, err := c.asset(ctx, o.Symbol)
		if err != nil {
			return err
		}
		oid, _ := strconv.ParseInt(o.ID, 10, 64)
		cancels = append(cancels, cancelWire{Asset: asset, Oid: oid})
	}
	return c.cancel(ctx, cancels)
}

func (c *Client) cancel(ctx context.Context, cancels []cancelWire) error {
	raw, err := c.exchange(ctx, cancelAction{Type: "cancel", Cancels: cancels})
	if err != nil {
		return fmt.Errorf("cancel: %w", err)
	}
	var resp struct {
		Data struct {
			Statuses []json.RawMessage `json:"statuses"`
		} `json:"data"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return fmt.Errorf("decode cancel response: %w", err)
	}
	var failed []string
	for _, s := range resp.Data.Statuses {
		var e struct {
			Error string `json:"error"`
		}
		if json.Unmarshal(s, &e) == nil && e.Error != "" {
			failed = append(failed, e.Error)
		}
	}
	if len(failed) > 0 {
		return fmt.Errorf("cancel rejected: %s", strings.Join(failed, "; "))
	}
	return nil
}

func (c *Client) ClosePosition(ctx context.Context, symbol string) (*exchange.OrderResult, error) {
	positions, err := c.GetPositions(ctx)
	if err != nil {
		return nil, err
	}
	pos := exchange.FindPosition(positions, strings.ToUpper(symbol))
	if pos == nil {
		return nil, fmt.Errorf("%w on %s", exchange.ErrNoPosition, symbol)
	}
	return c.marketOrder(ctx, symbol, !pos.Side.IsBuy(), pos.Size, true)
}

func (c *Client) SetLeverage(ctx context.Context, symbol string, leverage int) error {
	asset, err := c.asset(ctx, symbol)
	if err != nil {
		return err
	}
	_, err = c.exchange(ctx, leverageAction{
		Type:     "updateLeverage",
		Asset:    asset,
		IsCross:  true,
		Leverage: leverage,
	})
	if err != nil {
		return fmt.Errorf("set leverage %s: %w", symbol, err)
	}
	return nil
}

func (c *Client) state(ctx context.Context) (*clearinghouseState, error) {
	var st clearinghouseState
	if err := c.info(ctx, infoRequest{Type: "clearinghouseState", User: c.address}, &st); err != nil {
		return nil, fmt.Errorf("clearinghouse state: %w", err)
	}
	return &st, nil
}

// asset resolves a coin to its index in the perp universe.
func (c *Client) asset(ctx context.Context, symbol string) (int, error) {
	symbol = strings.ToUpper(symbol)
	c.mu.Lock()
	assets := c.assets
	c.mu.Unlock()

	if assets == nil {
		var m meta
		if err := c.info(ctx, infoRequest{Type: "meta"}, &m); err != nil {
			return 0, fmt.Errorf("meta: %w", err)
		}
		assets = make(map[string]int, len(m.Universe))
		for i, u := range m.Universe {
			assets[strings.ToUpper(u.Name)] = i
		}
		c.mu.Lock()
		c.assets = assets
		c.mu.Unlock()
	}

	idx, ok := assets[symbol]
	if !ok {
		return 0, exchange.Permanent(fmt.Errorf("unknown symbol %s", symbol))
	}
	return idx, nil
}

func (c *Client) info(ctx context.Context, req infoRequest, out any) error {
	body, err := c.post(ctx, "/info", req)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode %s: %w", req.Type, err)
	}
	return nil
}

// exchange signs and submits an action, returning the "response" payload of
// an ok reply.
func (c *Client) exchange(ctx context.Context, action any) (json.RawMessage, error) {
	nonce := c.nonce()
	sig, err := c.sign(action, nonce)
	if err != nil {
		return nil, err
	}
	body, err := c.post(ctx, "/exchange", exchangeRequest{Action: action, Nonce: nonce, Signature: sig})
	if err != nil {
		return nil, err
	}
	var resp exchangeResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode exchange response: %w", err)
	}
	if resp.Status != "ok" {
		var msg string
		if json.Unmarshal(resp.Response, &msg) != nil {
			msg = string(resp.Response)
		}
		return nil, classify(msg)
	}
	return resp.Response, nil
}

// nonce is a strictly increasing millisecond timestamp.
func (c *Client) nonce() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := time.Now().UnixMilli()
	if n <= c.lastNonce {
		n = c.lastNonce + 1
	}
	c.lastNonce = n
	return n
}

// sign hashes the JSON action followed by the big-endian nonce.
func (c *Client) sign(action any, nonce int64) (signature, error) {
	data, err := json.Marshal(action)
	if err != nil {
		return signature{}, fmt.Errorf("marshal action: %w", err)
	}
	data = binary.BigEndian.AppendUint64(data, uint64(nonce))
	hash := crypto.Keccak256Hash(data)

	sig, err := crypto.Sign(hash.Bytes(), c.key)
	if err != nil {
		return signature{}, fmt.Errorf("sign action: %w", err)
	}
	return signature{
		R: "0x" + hex.EncodeToString(sig[:32]),
		S: "0x" + hex.EncodeToString(sig[32:64]),
		V: int(sig[64]) + 27,
	}, nil
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %s", exchange.ErrTimeout, path)
		}
		return nil, fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("read response: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("%s: status %d: %s", path, resp.StatusCode, strings.TrimSpace(string(body)))
		switch resp.StatusCode {
		case http.StatusUnauthorized, http.StatusForbidden, http.StatusNotFound:
			return nil, exchange.Permanent(err)
		}
		return nil, err
	}
	return body, nil
}

// classify marks account-level rejections as permanent.
func classify(msg string) error {
	err := fmt.Errorf("venue error: %s", msg)
	lower := strings.ToLower(msg)
	for _, p := range []string{"does not exist", "not authorized", "invalid signature", "must deposit"} {
		if strings.Contains(lower, p) {
			return exchange.Permanent(err)
		}
	}
	return err
}
