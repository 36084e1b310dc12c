package risk

import (
	"errors"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
)

var ErrInvalidLimits = errors.New("invalid risk limits")

var hundred = decimal.NewFromInt(100)

// Limits are the per-bot risk settings.
type Limits struct {
	RiskPerTradePct decimal.Decimal
	MaxDailyLossPct decimal.Decimal
	MaxPositions    int
}

func (l Limits) Validate() error {
	if !l.RiskPerTradePct.IsPositive() || l.RiskPerTradePct.GreaterThan(hundred) {
		return fmt.Errorf("%w: risk per trade %s%% must be in (0, 100]", ErrInvalidLimits, l.RiskPerTradePct)
	}
	if l.MaxDailyLossPct.IsNegative() || l.MaxDailyLossPct.GreaterThan(hundred) {
		return fmt.Errorf("%w: max daily loss %s%% must be in [0, 100]", ErrInvalidLimits, l.MaxDailyLossPct)
	}
	if l.MaxPositions < 1 {
		return fmt.Errorf("%w: max positions %d must be at least 1", ErrInvalidLimits, l.MaxPositions)
	}
	return nil
}

// RiskAmount is the fiat loss accepted on one trade.
func RiskAmount(balance, riskPerTradePct decimal.Decimal) decimal.Decimal {
	if !balance.IsPositive() {
		return decimal.Zero
	}
	return balance.Mul(riskPerTradePct).Div(hundred)
}

// CanOpen checks the position count and the day's realised loss against the
// limits. A zero MaxDailyLossPct disables the daily check.
func CanOpen(l Limits, balance, dailyPnl decimal.Decimal, openPositions int) (bool, string) {
	if openPositions >= l.MaxPositions {
		return false, fmt.Sprintf("max positions reached (%d/%d)", openPositions, l.MaxPositions)
	}

	if l.MaxDailyLossPct.IsPositive() && balance.IsPositive() && dailyPnl.IsNegative() {
		drawdown := dailyPnl.Div(balance).Mul(hundred)
		if drawdown.LessThanOrEqual(l.MaxDailyLossPct.Neg()) {
			return false, fmt.Sprintf("daily loss limit reached (%s%%)", drawdown.StringFixed(2))
		}
	}

	return true, ""
}

// DayStart is midnight UTC of t's day, the window BotDailyPnl is summed over.
func DayStart(t time.Time) time.Time {
	return t.UTC().Truncate(24 * time.Hour)
}
