package proxy

import "github.com/shopspring/decimal"

type accountResponse struct {
	Balance   decimal.Decimal `json:"balance"`
	Available decimal.Decimal `json:"available"`
}

type positionResponse struct {
	Symbol     string          `json:"symbol"`
	Side       string          `json:"side"` // long or short
	Size       decimal.Decimal `json:"size"`
	EntryPrice decimal.Decimal `json:"entry_price"`
}

type orderResponse struct {
	ID      string          `json:"id"`
	Symbol  string          `json:"symbol"`
	Side    string          `json:"side"` // buy or sell
	Size    decimal.Decimal `json:"size"`
	Price   decimal.Decimal `json:"price"`
	Trigger bool            `json:"trigger"`
}

type priceResponse struct {
	Symbol string          `json:"symbol"`
	Price  decimal.Decimal `json:"price"`
}

type orderRequest struct {
	Symbol       string           `json:"symbol"`
	Side         string           `json:"side"`
	Type         string           `json:"type"` // market, stop or take_profit
	Size         decimal.Decimal  `json:"size"`
	TriggerPrice *decimal.Decimal `json:"trigger_price,omitempty"`
	ReduceOnly   bool             `json:"reduce_only"`
}

type fillResponse struct {
	ID         string          `json:"id"`
	AvgPrice   decimal.Decimal `json:"avg_price"`
	FilledSize decimal.Decimal `json:"filled_size"`
}

type leverageRequest struct {
	Symbol   string `json:"symbol"`
	Leverage int    `json:"leverage"`
}

type errorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}
