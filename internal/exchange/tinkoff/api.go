package tinkoff

import (
	"context"
	"fmt"

	"github.com/russianinvestments/invest-api-go-sdk/investgo"
	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/logger"
)

const (
	sandboxEndpoint = "sandbox-invest-public-api.tinkoff.ru:443"
	liveEndpoint    = "invest-public-api.tinkoff.ru:443"
)

type holding struct {
	uid      string
	quantity decimal.Decimal // shares, negative for a short
	avgPrice decimal.Decimal // per share
}

type portfolio struct {
	total     decimal.Decimal
	available decimal.Decimal
	holdings  []holding
}

type instrument struct {
	uid    string
	ticker string
	lot    int64
}

type fill struct {
	orderID  string
	lots     int64
	avgPrice decimal.Decimal // per share, zero when not reported
}

// api is the slice of the invest SDK the adapter uses.
type api interface {
	portfolio(accountID string) (*portfolio, error)
	instrumentByUID(uid string) (*instrument, error)
	findInstrument(ticker string) (*instrument, error)
	lastPrice(uid string) (decimal.Decimal, error)
	postOrder(accountID, uid string, lots int64, buy bool) (*fill, error)
	postStopOrder(accountID, uid string, lots int64, buy bool, price decimal.Decimal, takeProfit bool) (string, error)
	cancelStopOrder(accountID, id string) error
	stop() error
}

type sdk struct {
	client  *investgo.Client
	sandbox bool
}

func dial(ctx context.Context, token, accountID string, sandbox bool, log *logger.Logger) (*sdk, error) {
	endpoint := liveEndpoint
	if sandbox {
		endpoint = sandboxEndpoint
	}
	client, err := investgo.NewClient(ctx, investgo.Config{
		EndPoint:  endpoint,
		Token:     token,
		AccountId: accountID,
		AppName:   "riskbot",
	}, log)
	if err != nil {
		return nil, fmt.Errorf("create investgo client: %w", err)
	}
	return &sdk{client: client, sandbox: sandbox}, nil
}

func (s *sdk) portfolio(accountID string) (*portfolio, error) {
	var resp interface {
		GetTotalAmountPortfolio() *pb.MoneyValue
		GetTotalAmountCurrencies() *pb.MoneyValue
		GetPositions() []*pb.PortfolioPosition
	}
	if s.sandbox {
		r, err := s.client.NewSandboxServiceClient().GetSandboxPortfolio(accountID, pb.PortfolioRequest_RUB)
		if err != nil {
			return nil, fmt.Errorf("get sandbox portfolio: %w", err)
		}
		resp = r.PortfolioResponse
	} else {
		r, err := s.client.NewOperationsServiceClient().GetPortfolio(accountID, pb.PortfolioRequest_RUB)
		if err != nil {
			return nil, fmt.Errorf("get portfolio: %w", err)
		}
		resp = r.PortfolioResponse
	}

	p := &portfolio{
		total:     fromMoney(resp.GetTotalAmountPortfolio()),
		available: fromMoney(resp.GetTotalAmountCurrencies()),
	}
	for _, pos := range resp.GetPositions() {
		if pos.GetInstrumentType() == "currency" {
			continue
		}
		p.holdings = append(p.holdings, holding{
			uid:      pos.GetInstrumentUid(),
			quantity: fromQuotation(pos.GetQuantity()),
			avgPrice: fromMoney(pos.GetAveragePositionPrice()),
		})
	}
	return p, nil
}

func (s *sdk) instrumentByUID(uid string) (*instrument, error) {
	resp, err := s.client.NewInstrumentsServiceClient().InstrumentByUid(uid)
	if err != nil {
		return nil, fmt.Errorf("instrument by uid %s: %w", uid, err)
	}
	inst := resp.GetInstrument()
	return &instrument{uid: uid, ticker: inst.GetTicker(), lot: int64(inst.GetLot())}, nil
}

func (s *sdk) findInstrument(ticker string) (*instrument, error) {
	resp, err := s.client.NewInstrumentsServiceClient().FindInstrument(ticker)
	if err != nil {
		return nil, fmt.Errorf("find instrument %s: %w", ticker, err)
	}
	found := resp.GetInstruments()
	for _, inst := range found {
		if inst.GetTicker() == ticker {
			return &instrument{uid: inst.GetUid(), ticker: ticker, lot: int64(inst.GetLot())}, nil
		}
	}
	if len(found) > 0 {
		inst := found[0]
		return &instrument{uid: inst.GetUid(), ticker: inst.GetTicker(), lot: int64(inst.GetLot())}, nil
	}
	return nil, errNotFound
}

func (s *sdk) lastPrice(uid string) (decimal.Decimal, error) {
	resp, err := s.client.NewMarketDataServiceClient().GetLastPrices([]string{uid})
	if err != nil {
		return decimal.Zero, fmt.Errorf("last price: %w", err)
	}
	prices := resp.GetLastPrices()
	if len(prices) == 0 {
		return decimal.Zero, fmt.Errorf("no last price for %s", uid)
	}
	return fromQuotation(prices[0].GetPrice()), nil
}

func (s *sdk) postOrder(accountID, uid string, lots int64, buy bool) (*fill, error) {
	orderID := investgo.CreateUid()
	direction := pb.OrderDirection_ORDER_DIRECTION_SELL
	if buy {
		direction = pb.OrderDirection_ORDER_DIRECTION_BUY
	}

	var resp *investgo.PostOrderResponse
	var err error
	if s.sandbox {
		resp, err = s.client.NewSandboxServiceClient().PostSandboxOrder(&investgo.PostOrderRequest{
			InstrumentId: uid,
			Quantity:     lots,
			Direction:    direction,
			AccountId:    accountID,
			OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
			OrderId:      orderID,
		})
	} else {
		req := &investgo.PostOrderRequestShort{
			InstrumentId: uid,
			Quantity:     lots,
			AccountId:    accountID,
			OrderType:    pb.OrderType_ORDER_TYPE_MARKET,
			OrderId:      orderID,
		}
		orders := s.client.NewOrdersServiceClient()
		if buy {
			resp, err = orders.Buy(req)
		} else {
			resp, err = orders.Sell(req)
		}
	}
	if err != nil {
		return nil, fmt.Errorf("post order: %w", err)
	}
	return &fill{
		orderID:  resp.GetOrderId(),
		lots:     resp.GetLotsExecuted(),
		avgPrice: fromMoney(resp.GetExecutedOrderPrice()),
	}, nil
}

func (s *sdk) postStopOrder(accountID, uid string, lots int64, buy bool, price decimal.Decimal, takeProfit bool) (string, error) {
	if s.sandbox {
		return "", errSandboxStops
	}
	direction := pb.StopOrderDirection_STOP_ORDER_DIRECTION_SELL
	if buy {
		direction = pb.StopOrderDirection_STOP_ORDER_DIRECTION_BUY
	}
	kind := pb.StopOrderType_STOP_ORDER_TYPE_STOP_LOSS
	if takeProfit {
		kind = pb.StopOrderType_STOP_ORDER_TYPE_TAKE_PROFIT
	}
	resp, err := s.client.NewStopOrdersServiceClient().PostStopOrder(&investgo.PostStopOrderRequest{
		InstrumentId:   uid,
		Quantity:       lots,
		StopPrice:      toQuotation(price),
		Direction:      direction,
		AccountId:      accountID,
		ExpirationType: pb.StopOrderExpirationType_STOP_ORDER_EXPIRATION_TYPE_GOOD_TILL_CANCEL,
		StopOrderType:  kind,
		OrderID:        investgo.CreateUid(),
	})
	if err != nil {
		return "", fmt.Errorf("post stop order: %w", err)
	}
	return resp.GetStopOrderId(), nil
}

func (s *sdk) cancelStopOrder(accountID, id string) error {
	if s.sandbox {
		return nil
	}
	if _, err := s.client.NewStopOrdersServiceClient().CancelStopOrder(accountID, id); err != nil {
		return fmt.Errorf("cancel stop order %s: %w", id, err)
	}
	return nil
}

func (s *sdk) stop() error {
	return s.client.Stop()
}
