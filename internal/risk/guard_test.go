package risk

import (
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
)

func d(s string) decimal.Decimal { return decimal.RequireFromString(s) }

func TestRiskAmount(t *testing.T) {
	if got := RiskAmount(d("5000"), d("1")); !got.Equal(d("50")) {
		t.Fatalf("risk amount = %s, want 50", got)
	}
	if got := RiskAmount(d("0"), d("1")); !got.IsZero() {
		t.Fatalf("risk amount on empty account = %s", got)
	}
}

func TestLimitsValidate(t *testing.T) {
	ok := Limits{RiskPerTradePct: d("1"), MaxDailyLossPct: d("5"), MaxPositions: 1}
	if err := ok.Validate(); err != nil {
		t.Fatal(err)
	}
	bad := []Limits{
		{RiskPerTradePct: d("0"), MaxDailyLossPct: d("5"), MaxPositions: 1},
		{RiskPerTradePct: d("101"), MaxDailyLossPct: d("5"), MaxPositions: 1},
		{RiskPerTradePct: d("1"), MaxDailyLossPct: d("-1"), MaxPositions: 1},
		{RiskPerTradePct: d("1"), MaxDailyLossPct: d("5"), MaxPositions: 0},
	}
	for i, l := range bad {
		if err := l.Validate(); !errors.Is(err, ErrInvalidLimits) {
			t.Errorf("case %d: expected ErrInvalidLimits, got %v", i, err)
		}
	}
}

func TestCanOpen(t *testing.T) {
	l := Limits{RiskPerTradePct: d("1"), MaxDailyLossPct: d("5"), MaxPositions: 2}

	cases := []struct {
		name    string
		balance string
		daily   string
		open    int
		want    bool
	}{
		{"fresh", "1000", "0", 0, true},
		{"profitable day", "1000", "80", 1, true},
		{"small loss", "1000", "-49.99", 0, true},
		{"daily limit hit", "1000", "-50", 0, false},
		{"max positions", "1000", "0", 2, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, reason := CanOpen(l, d(tc.balance), d(tc.daily), tc.open)
			if got != tc.want {
				t.Fatalf("CanOpen = %v (%s), want %v", got, reason, tc.want)
			}
			if !got && reason == "" {
				t.Fatal("rejection without reason")
			}
		})
	}

	l.MaxDailyLossPct = decimal.Zero
	if ok, _ := CanOpen(l, d("1000"), d("-900"), 0); !ok {
		t.Fatal("zero daily limit should disable the check")
	}
}

func TestDayStart(t *testing.T) {
	loc := time.FixedZone("MSK", 3*3600)
	at := time.Date(2024, 3, 5, 1, 30, 0, 0, loc) // 2024-03-04 22:30 UTC
	want := time.Date(2024, 3, 4, 0, 0, 0, 0, time.UTC)
	if got := DayStart(at); !got.Equal(want) {
		t.Fatalf("DayStart = %v, want %v", got, want)
	}
}
