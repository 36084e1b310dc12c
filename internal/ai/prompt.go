package ai

import (
	"fmt"
	"strings"
)

const systemPrompt = `You are an experienced crypto perpetual futures trader.
You manage exactly one symbol for one trading bot. Position size is computed
elsewhere from the trader's risk budget; you only decide direction and levels.

Rules:
1. Answer LONG, SHORT, EXIT or HOLD.
2. LONG/SHORT only when there is no open position.
3. EXIT only when a position is open and the trade thesis is broken.
4. For LONG the stop_loss must be below the current price, for SHORT above it.
5. take_profit is optional (0 means none).
6. confidence is 0 to 100.

Answer strictly as one JSON object:
{
  "action": "LONG",
  "symbol": "BTC",
  "stop_loss": 61200.0,
  "take_profit": 64800.0,
  "confidence": 72,
  "reasoning": "why"
}

If nothing is worth doing answer {"action": "HOLD"}.`

func BuildUserPrompt(req *Request) string {
	var sb strings.Builder

	sb.WriteString("## Account\n")
	sb.WriteString(fmt.Sprintf("Balance: %.2f / Available: %.2f\n\n", req.Balance, req.Available))

	sb.WriteString("## Market\n")
	sb.WriteString(fmt.Sprintf("Symbol: %s\nPrice: %.6f\n", req.Symbol, req.Price))
	if req.ReferencePrice > 0 {
		sb.WriteString(fmt.Sprintf("Previous tick: %.6f (%+.2f%%)\n",
			req.ReferencePrice, pctChange(req.ReferencePrice, req.Price)))
	}
	sb.WriteString("\n")

	if p := req.Position; p != nil {
		sb.WriteString("## Open position\n")
		sb.WriteString(fmt.Sprintf("- %s %.6f @ %.6f, PnL %+.2f%%\n", p.Side, p.Size, p.EntryPrice, p.PnlPct))
	} else {
		sb.WriteString("No open position.\n")
	}

	sb.WriteString("\nDecide and answer in JSON.")
	return sb.String()
}

func pctChange(from, to float64) float64 {
	if from == 0 {
		return 0
	}
	return (to - from) / from * 100
}
