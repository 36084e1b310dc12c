package hyperliquid

import (
	"context"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
)

type venue struct {
	mu      sync.Mutex
	actions []map[string]any
	reply   string // raw /exchange reply
	status  int
	szi     string
}

func (v *venue) handler(t *testing.T) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if v.status != 0 {
			w.WriteHeader(v.status)
			w.Write([]byte("nope"))
			return
		}
		var body map[string]any
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			t.Errorf("decode request: %v", err)
		}
		switch r.URL.Path {
		case "/info":
			switch body["type"] {
			case "meta":
				w.Write([]byte(`{"universe":[{"name":"BTC","szDecimals":5},{"name":"ETH","szDecimals":4}]}`))
			case "allMids":
				w.Write([]byte(`{"BTC":"100","ETH":"2000"}`))
			case "clearinghouseState":
				szi := v.szi
				if szi == "" {
					szi = "0"
				}
				w.Write([]byte(`{"marginSummary":{"accountValue":"1000.5"},"withdrawable":"800",` +
					`"assetPositions":[{"position":{"coin":"ETH","szi":"` + szi + `","entryPx":"1900"}}]}`))
			case "frontendOpenOrders":
				w.Write([]byte(`[{"coin":"ETH","side":"A","sz":"0.5","limitPx":"1800","triggerPx":"1850","isTrigger":true,"oid":11},` +
					`{"coin":"BTC","side":"B","sz":"1","limitPx":"90","oid":12}]`))
			default:
				t.Errorf("unexpected info type %v", body["type"])
			}
		case "/exchange":
			if _, ok := body["signature"].(map[string]any); !ok {
				t.Errorf("exchange request without signature")
			}
			v.mu.Lock()
			v.actions = append(v.actions, body["action"].(map[string]any))
			reply := v.reply
			v.mu.Unlock()
			if reply == "" {
				reply = `{"status":"ok","response":{"type":"default"}}`
			}
			w.Write([]byte(reply))
		default:
			http.NotFound(w, r)
		}
	})
}

func (v *venue) last() map[string]any {
	v.mu.Lock()
	defer v.mu.Unlock()
	if len(v.actions) == 0 {
		return nil
	}
	return v.actions[len(v.actions)-1]
}

func newTestClient(t *testing.T, v *venue) *Client {
	t.Helper()
	srv := httptest.NewServer(v.handler(t))
	t.Cleanup(srv.Close)

	pk, err := crypto.GenerateKey()
	if err != nil {
		t.Fatal(err)
	}
	c, err := New(Options{
		BaseURL:  srv.URL,
		Slippage: decimal.NewFromFloat(0.01),
		Symbols: exchange.NewSymbolBook(exchange.DefaultSymbolSpec(), exchange.SymbolSpec{
			Symbol: "ETH", SizeDecimals: 2, PriceDecimals: 1, MinOrderSize: decimal.NewFromFloat(0.01),
		}),
	}, crypto.FromECDSA(pk))
	if err != nil {
		t.Fatal(err)
	}
	if c.Address() != crypto.PubkeyToAddress(pk.PublicKey).Hex() {
		t.Errorf("address = %s", c.Address())
	}
	return c
}

func TestNewRejectsBadKey(t *testing.T) {
	_, err := New(Options{}, []byte{1, 2, 3})
	if !errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestAccountAndPositions(t *testing.T) {
	v := &venue{szi: "-0.75"}
	c := newTestClient(t, v)
	ctx := context.Background()

	acct, err := c.GetAccountInfo(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if !acct.Balance.Equal(decimal.RequireFromString("1000.5")) || !acct.Available.Equal(decimal.NewFromInt(800)) {
		t.Errorf("account = %+v", acct)
	}

	positions, err := c.GetPositions(ctx)
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 1 {
		t.Fatalf("positions = %+v", positions)
	}
	p := positions[0]
	if p.Symbol != "ETH" || p.Side != exchange.Short || !p.Size.Equal(decimal.RequireFromString("0.75")) {
		t.Errorf("position = %+v", p)
	}
}

func TestFlatPositionsAreSkipped(t *testing.T) {
	c := newTestClient(t, &venue{})
	positions, err := c.GetPositions(context.Background())
	if err != nil {
		t.Fatal(err)
	}
	if len(positions) != 0 {
		t.Errorf("positions = %+v", positions)
	}
}

func TestOpenOrdersFilterAndTriggerPrice(t *testing.T) {
	c := newTestClient(t, &venue{})
	orders, err := c.GetOpenOrders(context.Background(), "ETH")
	if err != nil {
		t.Fatal(err)
	}
	if len(orders) != 1 {
		t.Fatalf("orders = %+v", orders)
	}
	o := orders[0]
	if o.ID != "11" || o.IsBuy || !o.IsTrigger || !o.Price.Equal(decimal.NewFromInt(1850)) {
		t.Errorf("order = %+v", o)
	}

	all, err := c.GetOpenOrders(context.Background(), "")
	if err != nil {
		t.Fatal(err)
	}
	if len(all) != 2 || !all[1].IsBuy {
		t.Errorf("all orders = %+v", all)
	}
}

func TestGetPriceUnknownSymbol(t *testing.T) {
	c := newTestClient(t, &venue{})
	px, err := c.GetPrice(context.Background(), "btc")
	if err != nil || !px.Equal(decimal.NewFromInt(100)) {
		t.Errorf("price = %s, %v", px, err)
	}
	if _, err := c.GetPrice(context.Background(), "DOGE"); !errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("err = %v, want permanent", err)
	}
}

func TestMarketOrderIsAggressiveIOC(t *testing.T) {
	v := &venue{reply: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.5","avgPx":"2001.5","oid":77}}]}}}`}
	c := newTestClient(t, v)

	res, err := c.PlaceMarketOrder(context.Background(), "ETH", true, decimal.RequireFromString("0.509"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OrderID != "77" || !res.AvgPrice.Equal(decimal.RequireFromString("2001.5")) || !res.FilledSize.Equal(decimal.RequireFromString("0.5")) {
		t.Errorf("result = %+v", res)
	}

	action := v.last()
	if action["type"] != "order" || action["grouping"] != "na" {
		t.Errorf("action = %v", action)
	}
	o := action["orders"].([]any)[0].(map[string]any)
	if o["a"].(float64) != 1 || o["b"] != true || o["r"] != false {
		t.Errorf("order wire = %v", o)
	}
	// 2000 * 1.01, size floored to two decimals
	if o["p"] != "2020" || o["s"] != "0.5" {
		t.Errorf("price/size = %v/%v", o["p"], o["s"])
	}
	if tif := o["t"].(map[string]any)["limit"].(map[string]any)["tif"]; tif != "Ioc" {
		t.Errorf("tif = %v", tif)
	}
	if cloid, _ := o["c"].(string); !strings.HasPrefix(cloid, "0x") || len(cloid) != 34 {
		t.Errorf("cloid = %q", cloid)
	}
}

func TestStopLossIsReduceOnlyTrigger(t *testing.T) {
	v := &venue{reply: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"resting":{"oid":5}}]}}}`}
	c := newTestClient(t, v)

	res, err := c.PlaceStopLoss(context.Background(), "ETH", false, decimal.NewFromInt(1), decimal.RequireFromString("1899.96"))
	if err != nil {
		t.Fatal(err)
	}
	if res.OrderID != "5" || !res.FilledSize.IsZero() {
		t.Errorf("result = %+v", res)
	}
	o := v.last()["orders"].([]any)[0].(map[string]any)
	trig := o["t"].(map[string]any)["trigger"].(map[string]any)
	if o["r"] != true || o["b"] != false || trig["tpsl"] != "sl" || trig["triggerPx"] != "1900" || trig["isMarket"] != true {
		t.Errorf("order wire = %v", o)
	}
}

func TestOrderRejection(t *testing.T) {
	v := &venue{reply: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"error":"Insufficient margin to place order."}]}}}`}
	c := newTestClient(t, v)
	_, err := c.PlaceTakeProfit(context.Background(), "ETH", false, decimal.NewFromInt(1), decimal.NewFromInt(2100))
	if err == nil || !strings.Contains(err.Error(), "Insufficient margin") {
		t.Errorf("err = %v", err)
	}
	if errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("order rejection should be retryable: %v", err)
	}
}

func TestErrStatusClassification(t *testing.T) {
	tests := []struct {
		name      string
		reply     string
		permanent bool
	}{
		{"unknown user", `{"status":"err","response":"User or API Wallet 0xabc does not exist."}`, true},
		{"rate", `{"status":"err","response":"Too many requests"}`, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestClient(t, &venue{reply: tt.reply})
			err := c.SetLeverage(context.Background(), "BTC", 5)
			if err == nil {
				t.Fatal("expected error")
			}
			if got := errors.Is(err, exchange.ErrPermanent); got != tt.permanent {
				t.Errorf("permanent = %v, want %v (%v)", got, tt.permanent, err)
			}
		})
	}
}

func TestHTTPStatusClassification(t *testing.T) {
	c := newTestClient(t, &venue{status: http.StatusForbidden})
	if _, err := c.GetAccountInfo(context.Background()); !errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("403 err = %v", err)
	}
	c = newTestClient(t, &venue{status: http.StatusBadGateway})
	_, err := c.GetAccountInfo(context.Background())
	if err == nil || errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("502 err = %v", err)
	}
}

func TestSetLeverageAction(t *testing.T) {
	v := &venue{}
	c := newTestClient(t, v)
	if err := c.SetLeverage(context.Background(), "BTC", 7); err != nil {
		t.Fatal(err)
	}
	a := v.last()
	if a["type"] != "updateLeverage" || a["asset"].(float64) != 0 || a["leverage"].(float64) != 7 || a["isCross"] != true {
		t.Errorf("action = %v", a)
	}
	if err := c.SetLeverage(context.Background(), "DOGE", 2); !errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("unknown asset err = %v", err)
	}
}

func TestCancelAllOrdersBatchesSymbol(t *testing.T) {
	v := &venue{reply: `{"status":"ok","response":{"type":"cancel","data":{"statuses":["success"]}}}`}
	c := newTestClient(t, v)
	if err := c.CancelAllOrders(context.Background(), "ETH"); err != nil {
		t.Fatal(err)
	}
	cancels := v.last()["cancels"].([]any)
	if len(cancels) != 1 {
		t.Fatalf("cancels = %v", cancels)
	}
	cw := cancels[0].(map[string]any)
	if cw["a"].(float64) != 1 || cw["o"].(float64) != 11 {
		t.Errorf("cancel = %v", cw)
	}
}

func TestCancelOrderError(t *testing.T) {
	v := &venue{reply: `{"status":"ok","response":{"type":"cancel","data":{"statuses":[{"error":"Order was never placed"}]}}}`}
	c := newTestClient(t, v)
	if err := c.CancelOrder(context.Background(), "ETH", "11"); err == nil {
		t.Error("expected cancel error")
	}
	if err := c.CancelOrder(context.Background(), "ETH", "abc"); !errors.Is(err, exchange.ErrPermanent) {
		t.Errorf("bad id err = %v", err)
	}
}

func TestClosePosition(t *testing.T) {
	v := &venue{
		szi:   "-0.75",
		reply: `{"status":"ok","response":{"type":"order","data":{"statuses":[{"filled":{"totalSz":"0.75","avgPx":"1990","oid":9}}]}}}`,
	}
	c := newTestClient(t, v)
	res, err := c.ClosePosition(context.Background(), "ETH")
	if err != nil {
		t.Fatal(err)
	}
	if !res.AvgPrice.Equal(decimal.NewFromInt(1990)) {
		t.Errorf("result = %+v", res)
	}
	o := v.last()["orders"].([]any)[0].(map[string]any)
	if o["b"] != true || o["r"] != true || o["s"] != "0.75" {
		t.Errorf("close order = %v", o)
	}

	if _, err := c.ClosePosition(context.Background(), "BTC"); !errors.Is(err, exchange.ErrNoPosition) {
		t.Errorf("err = %v, want ErrNoPosition", err)
	}
}

func TestSignatureShape(t *testing.T) {
	c := newTestClient(t, &venue{})
	action := leverageAction{Type: "updateLeverage", Asset: 0, IsCross: true, Leverage: 3}
	sig, err := c.sign(action, 1700000000000)
	if err != nil {
		t.Fatal(err)
	}
	if sig.V != 27 && sig.V != 28 {
		t.Errorf("v = %d", sig.V)
	}
	if len(sig.R) != 66 || len(sig.S) != 66 {
		t.Errorf("r/s = %s/%s", sig.R, sig.S)
	}

	again, err := c.sign(action, 1700000000001)
	if err != nil {
		t.Fatal(err)
	}
	if again.R == sig.R {
		t.Error("nonce is not part of the signed payload")
	}
}

// The signature recovers over keccak256(action JSON || nonce), not an EIP-712 digest.
func TestSignatureCoversActionAndNonce(t *testing.T) {
	c := newTestClient(t, &venue{})
	action := leverageAction{Type: "updateLeverage", Asset: 1, IsCross: false, Leverage: 5}
	const nonce = int64(1700000000042)
	sig, err := c.sign(action, nonce)
	if err != nil {
		t.Fatal(err)
	}

	data, _ := json.Marshal(action)
	data = binary.BigEndian.AppendUint64(data, uint64(nonce))
	r, _ := hex.DecodeString(strings.TrimPrefix(sig.R, "0x"))
	s, _ := hex.DecodeString(strings.TrimPrefix(sig.S, "0x"))
	raw := append(append(r, s...), byte(sig.V-27))

	pub, err := crypto.SigToPub(crypto.Keccak256(data), raw)
	if err != nil {
		t.Fatal(err)
	}
	if got, want := crypto.PubkeyToAddress(*pub), crypto.PubkeyToAddress(c.key.PublicKey); got != want {
		t.Errorf("recovered %s, want %s", got.Hex(), want.Hex())
	}
}

func TestNonceIsMonotonic(t *testing.T) {
	c := newTestClient(t, &venue{})
	prev := c.nonce()
	for i := 0; i < 100; i++ {
		n := c.nonce()
		if n <= prev {
			t.Fatalf("nonce %d after %d", n, prev)
		}
		prev = n
	}
}
