package hyperliquid

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// /info requests

type infoRequest struct {
	Type string `json:"type"`
	User string `json:"user,omitempty"`
}

type clearinghouseState struct {
	MarginSummary struct {
		AccountValue decimal.Decimal `json:"accountValue"`
	} `json:"marginSummary"`
	Withdrawable   decimal.Decimal `json:"withdrawable"`
	AssetPositions []struct {
		Position struct {
			Coin    string          `json:"coin"`
			Szi     decimal.Decimal `json:"szi"`
			EntryPx decimal.Decimal `json:"entryPx"`
		} `json:"position"`
	} `json:"assetPositions"`
}

type openOrder struct {
	Coin      string          `json:"coin"`
	Side      string          `json:"side"` // B or A
	Sz        decimal.Decimal `json:"sz"`
	LimitPx   decimal.Decimal `json:"limitPx"`
	TriggerPx decimal.Decimal `json:"triggerPx"`
	IsTrigger bool            `json:"isTrigger"`
	Oid       int64           `json:"oid"`
}

type meta struct {
	Universe []struct {
		Name       string `json:"name"`
		SzDecimals int32  `json:"szDecimals"`
	} `json:"universe"`
}

// /exchange actions

type orderWire struct {
	Asset      int       `json:"a"`
	IsBuy      bool      `json:"b"`
	Price      string    `json:"p"`
	Size       string    `json:"s"`
	ReduceOnly bool      `json:"r"`
	Type       orderType `json:"t"`
	Cloid      string    `json:"c,omitempty"`
}

type orderType struct {
	Limit   *limitType   `json:"limit,omitempty"`
	Trigger *triggerType `json:"trigger,omitempty"`
}

type limitType struct {
	Tif string `json:"tif"`
}

type triggerType struct {
	IsMarket  bool   `json:"isMarket"`
	TriggerPx string `json:"triggerPx"`
	Tpsl      string `json:"tpsl"` // sl or tp
}

type orderAction struct {
	Type     string      `json:"type"`
	Orders   []orderWire `json:"orders"`
	Grouping string      `json:"grouping"`
}

type cancelWire struct {
	Asset int   `json:"a"`
	Oid   int64 `json:"o"`
}

type cancelAction struct {
	Type    string       `json:"type"`
	Cancels []cancelWire `json:"cancels"`
}

type leverageAction struct {
	Type     string `json:"type"`
	Asset    int    `json:"asset"`
	IsCross  bool   `json:"isCross"`
	Leverage int    `json:"leverage"`
}

type signature struct {
	R string `json:"r"`
	S string `json:"s"`
	V int    `json:"v"`
}

type exchangeRequest struct {
	Action    any       `json:"action"`
	Nonce     int64     `json:"nonce"`
	Signature signature `json:"signature"`
}

// exchangeResponse carries either {"status":"ok","response":{...}} or
// {"status":"err","response":"message"}.
type exchangeResponse struct {
	Status   string          `json:"status"`
	Response json.RawMessage `json:"response"`
}

type orderStatuses struct {
	Type string `json:"type"`
	Data struct {
		Statuses []orderStatus `json:"statuses"`
	} `json:"data"`
}

type orderStatus struct {
	Resting *struct {
		Oid int64 `json:"oid"`
	} `json:"resting,omitempty"`
	Filled *struct {
		TotalSz decimal.Decimal `json:"totalSz"`
		AvgPx   decimal.Decimal `json:"avgPx"`
		Oid     int64           `json:"oid"`
	} `json:"filled,omitempty"`
	Error string `json:"error,omitempty"`
}
