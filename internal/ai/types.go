package ai

// Request is the market state for one symbol handed to the model.
type Request struct {
	Symbol         string
	Price          float64
	ReferencePrice float64 // price at the previous tick
	Balance        float64
	Available      float64
	Position       *PositionView
}

type PositionView struct {
	Side       string // long, short
	Size       float64
	EntryPrice float64
	PnlPct     float64
}

// Decision is the model's answer for one symbol.
type Decision struct {
	Action     string  `json:"action"` // LONG, SHORT, EXIT, HOLD
	Symbol     string  `json:"symbol"`
	StopLoss   float64 `json:"stop_loss"`
	TakeProfit float64 `json:"take_profit"`
	Confidence int     `json:"confidence"` // 0-100
	Reasoning  string  `json:"reasoning"`
}

const (
	ActionLong  = "LONG"
	ActionShort = "SHORT"
	ActionExit  = "EXIT"
	ActionHold  = "HOLD"
)
