package strategy

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/ai"
	"github.com/camuig/riskbot/internal/exchange"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func snapAt(price, ref string) Snapshot {
	return Snapshot{Symbol: "BTC", Price: d(price), ReferencePrice: d(ref)}
}

func mustNew(t *testing.T, typ, params string, adv Advisor) Strategy {
	t.Helper()
	s, err := New(typ, params, adv)
	if err != nil {
		t.Fatalf("New(%s): %v", typ, err)
	}
	return s
}

func TestNewAppliesDefaults(t *testing.T) {
	s := mustNew(t, "breakout", "", nil).(*Breakout)
	if !s.Params.BreakoutPct.Equal(d("1")) || !s.Params.StopLossPct.Equal(d("2")) || !s.Params.TakeProfitPct.Equal(d("4")) {
		t.Fatalf("defaults not applied: %+v", s.Params)
	}

	m := mustNew(t, "mean_reversion", `{"deviation_pct": "5"}`, nil).(*MeanReversion)
	if !m.Params.DeviationPct.Equal(d("5")) || !m.Params.StopLossPct.Equal(d("3")) {
		t.Fatalf("params = %+v", m.Params)
	}
}

func TestNewRejectsBadInput(t *testing.T) {
	cases := []struct {
		name, typ, params string
	}{
		{"unknown type", "grid", ""},
		{"unknown field", "breakout", `{"breakout": 1}`},
		{"negative pct", "breakout", `{"stop_loss_pct": -1}`},
		{"inverted bands", "breakout", `{"resistance": 90, "support": 100}`},
		{"zero deviation", "mean_reversion", `{"deviation_pct": 0}`},
		{"advisor missing", "ai_advisor", ""},
		{"not json", "breakout", `{`},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if _, err := New(tc.typ, tc.params, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
	if _, err := New("grid", "", nil); !errors.Is(err, ErrUnknownStrategy) {
		t.Fatalf("expected ErrUnknownStrategy, got %v", err)
	}
}

func TestBreakoutAutoBandsFromReference(t *testing.T) {
	s := mustNew(t, "breakout", "", nil)
	ctx := context.Background()

	// first tick: reference equals price, nothing fires
	sig, err := s.Evaluate(ctx, snapAt("100", "100"), nil)
	if err != nil || sig.Kind != None {
		t.Fatalf("first tick: %v %v", sig, err)
	}

	sig, _ = s.Evaluate(ctx, snapAt("101.5", "100"), nil)
	if sig.Kind != EnterLong {
		t.Fatalf("kind = %v, want enter_long", sig.Kind)
	}
	if !sig.StopLoss.Equal(d("99.47")) {
		t.Fatalf("stop = %s, want 99.47", sig.StopLoss)
	}
	if !sig.TakeProfit.Valid || !sig.TakeProfit.Decimal.Equal(d("105.56")) {
		t.Fatalf("take profit = %v", sig.TakeProfit)
	}

	sig, _ = s.Evaluate(ctx, snapAt("98", "100"), nil)
	if sig.Kind != EnterShort || !sig.StopLoss.Equal(d("99.96")) {
		t.Fatalf("short signal = %+v", sig)
	}
}

func TestBreakoutConfiguredBands(t *testing.T) {
	s := mustNew(t, "breakout", `{"resistance": "110", "support": "90"}`, nil)
	ctx := context.Background()

	if sig, _ := s.Evaluate(ctx, snapAt("105", "100"), nil); sig.Kind != None {
		t.Fatalf("inside configured band: %v", sig)
	}
	if sig, _ := s.Evaluate(ctx, snapAt("111", "111"), nil); sig.Kind != EnterLong {
		t.Fatalf("above resistance: %v", sig)
	}
	if sig, _ := s.Evaluate(ctx, snapAt("89", "89"), nil); sig.Kind != EnterShort {
		t.Fatalf("below support: %v", sig)
	}
}

func TestBreakoutExitTakesPriority(t *testing.T) {
	s := mustNew(t, "breakout", "", nil)
	ctx := context.Background()
	long := &exchange.Position{Symbol: "BTC", Size: d("1"), EntryPrice: d("100"), Side: exchange.Long}
	short := &exchange.Position{Symbol: "BTC", Size: d("1"), EntryPrice: d("100"), Side: exchange.Short}

	cases := []struct {
		name  string
		pos   *exchange.Position
		price string
		want  Kind
	}{
		// price is far outside the band; an open position still blocks entry
		{"long take profit", long, "104", Exit},
		{"long stop loss", long, "98", Exit},
		{"long holding above band", long, "103", None},
		{"short take profit", short, "96", Exit},
		{"short stop loss", short, "102", Exit},
		{"short holding below band", short, "97", None},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			sig, err := s.Evaluate(ctx, snapAt(tc.price, "100"), tc.pos)
			if err != nil {
				t.Fatal(err)
			}
			if sig.Kind != tc.want {
				t.Fatalf("kind = %v, want %v (%s)", sig.Kind, tc.want, sig.Reason)
			}
		})
	}
}

func TestMeanReversion(t *testing.T) {
	s := mustNew(t, "mean_reversion", `{"average": "100"}`, nil)
	ctx := context.Background()

	sig, _ := s.Evaluate(ctx, snapAt("97", "97"), nil)
	if sig.Kind != EnterLong {
		t.Fatalf("below band: %v", sig)
	}
	if !sig.TakeProfit.Decimal.Equal(d("100")) || !sig.StopLoss.Equal(d("94.09")) {
		t.Fatalf("levels: sl %s tp %s", sig.StopLoss, sig.TakeProfit.Decimal)
	}

	sig, _ = s.Evaluate(ctx, snapAt("103", "103"), nil)
	if sig.Kind != EnterShort || !sig.TakeProfit.Decimal.Equal(d("100")) || !sig.StopLoss.Equal(d("106.09")) {
		t.Fatalf("above band: %+v", sig)
	}

	if sig, _ := s.Evaluate(ctx, snapAt("101", "101"), nil); sig.Kind != None {
		t.Fatalf("inside band: %v", sig)
	}

	pos := &exchange.Position{Symbol: "BTC", Size: d("1"), EntryPrice: d("97"), Side: exchange.Long}
	if sig, _ := s.Evaluate(ctx, snapAt("80", "80"), pos); sig.Kind != None {
		t.Fatalf("mean reversion must not exit or re-enter: %v", sig)
	}
}

func TestMeanReversionDerivedAverage(t *testing.T) {
	s := mustNew(t, "mean_reversion", "", nil)
	if sig, _ := s.Evaluate(context.Background(), snapAt("97", "100"), nil); sig.Kind != EnterLong {
		t.Fatalf("kind = %v", sig.Kind)
	}
}

type fakeAdvisor struct {
	decision *ai.Decision
	err      error
	last     *ai.Request
}

func (f *fakeAdvisor) Advise(_ context.Context, req *ai.Request) (*ai.Decision, error) {
	f.last = req
	return f.decision, f.err
}

func TestAIAdvisorEntry(t *testing.T) {
	adv := &fakeAdvisor{decision: &ai.Decision{Action: ai.ActionLong, Confidence: 80, StopLoss: 95, TakeProfit: 110}}
	s := mustNew(t, "ai_advisor", "", adv)

	sig, err := s.Evaluate(context.Background(), snapAt("100", "99"), nil)
	if err != nil {
		t.Fatal(err)
	}
	if sig.Kind != EnterLong || !sig.StopLoss.Equal(d("95")) || !sig.TakeProfit.Decimal.Equal(d("110")) {
		t.Fatalf("signal = %+v", sig)
	}
	if adv.last.Symbol != "BTC" || adv.last.ReferencePrice != 99 || adv.last.Position != nil {
		t.Fatalf("request = %+v", adv.last)
	}
}

func TestAIAdvisorFallsBackOnWrongSideLevels(t *testing.T) {
	adv := &fakeAdvisor{decision: &ai.Decision{Action: ai.ActionShort, Confidence: 90, StopLoss: 90, TakeProfit: 120}}
	s := mustNew(t, "ai_advisor", "", adv)

	sig, _ := s.Evaluate(context.Background(), snapAt("100", "100"), nil)
	if sig.Kind != EnterShort || !sig.StopLoss.Equal(d("102")) || !sig.TakeProfit.Decimal.Equal(d("96")) {
		t.Fatalf("signal = %+v", sig)
	}
}

func TestAIAdvisorLowConfidenceAndHold(t *testing.T) {
	adv := &fakeAdvisor{decision: &ai.Decision{Action: ai.ActionLong, Confidence: 50}}
	s := mustNew(t, "ai_advisor", `{"min_confidence": 60}`, adv)
	if sig, _ := s.Evaluate(context.Background(), snapAt("100", "100"), nil); sig.Kind != None {
		t.Fatalf("low confidence: %v", sig)
	}

	adv.decision = &ai.Decision{Action: ai.ActionHold, Confidence: 99}
	if sig, _ := s.Evaluate(context.Background(), snapAt("100", "100"), nil); sig.Kind != None {
		t.Fatalf("hold: %v", sig)
	}
}

func TestAIAdvisorWithPosition(t *testing.T) {
	pos := &exchange.Position{Symbol: "BTC", Size: d("1"), EntryPrice: d("100"), Side: exchange.Long}
	adv := &fakeAdvisor{decision: &ai.Decision{Action: ai.ActionShort, Confidence: 99}}
	s := mustNew(t, "ai_advisor", "", adv)

	if sig, _ := s.Evaluate(context.Background(), snapAt("101", "100"), pos); sig.Kind != None {
		t.Fatalf("entry while holding: %v", sig)
	}
	if adv.last.Position == nil || adv.last.Position.PnlPct != 1 {
		t.Fatalf("position view = %+v", adv.last.Position)
	}

	adv.decision = &ai.Decision{Action: ai.ActionExit, Reasoning: "momentum gone"}
	if sig, _ := s.Evaluate(context.Background(), snapAt("101", "100"), pos); sig.Kind != Exit {
		t.Fatalf("exit: %v", sig)
	}
}

func TestAIAdvisorError(t *testing.T) {
	adv := &fakeAdvisor{err: errors.New("rate limited")}
	s := mustNew(t, "ai_advisor", "", adv)
	if _, err := s.Evaluate(context.Background(), snapAt("100", "100"), nil); err == nil {
		t.Fatal("expected advisor error")
	}
}
