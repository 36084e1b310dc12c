package exchange_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/camuig/riskbot/internal/exchange"
	"github.com/camuig/riskbot/internal/exchange/exchangetest"
)

func TestTimeoutsPassThrough(t *testing.T) {
	fake := exchangetest.New()
	fake.SetPrice("BTC", 60000)
	c := exchange.WithTimeouts(fake, time.Second, 0)

	px, err := c.GetPrice(context.Background(), "BTC")
	if err != nil || !px.Equal(decimal.NewFromInt(60000)) {
		t.Errorf("price = %s, %v", px, err)
	}

	fake.SetFail(exchangetest.MethodAccount, exchangetest.ErrInjected)
	if _, err := c.GetAccountInfo(context.Background()); !errors.Is(err, exchangetest.ErrInjected) {
		t.Errorf("err = %v", err)
	}
}

func TestTimeoutAbandonsStuckCall(t *testing.T) {
	fake := exchangetest.New()
	fake.Delay = time.Second
	fake.IgnoreContext = true
	c := exchange.WithTimeouts(fake, 20*time.Millisecond, 50*time.Millisecond)

	start := time.Now()
	_, err := c.GetPositions(context.Background())
	if !errors.Is(err, exchange.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
	if elapsed := time.Since(start); elapsed > 500*time.Millisecond {
		t.Errorf("call returned after %s", elapsed)
	}
}

func TestTimeoutHonouredByAdapter(t *testing.T) {
	fake := exchangetest.New()
	fake.Delay = time.Second
	c := exchange.WithTimeouts(fake, 20*time.Millisecond, 0)

	if err := c.CancelAllOrders(context.Background(), "BTC"); !errors.Is(err, exchange.ErrTimeout) {
		t.Errorf("err = %v, want ErrTimeout", err)
	}
}

func TestEntryUsesItsOwnBudget(t *testing.T) {
	fake := exchangetest.New()
	fake.SetPrice("BTC", 100)
	fake.Delay = 60 * time.Millisecond
	c := exchange.WithTimeouts(fake, 20*time.Millisecond, time.Second)

	if _, err := c.PlaceMarketOrder(context.Background(), "BTC", true, decimal.NewFromInt(1)); err != nil {
		t.Errorf("entry err = %v", err)
	}
	if _, err := c.GetPrice(context.Background(), "BTC"); !errors.Is(err, exchange.ErrTimeout) {
		t.Errorf("price err = %v, want ErrTimeout", err)
	}
}

func TestCancelledParentIsNotTimeout(t *testing.T) {
	fake := exchangetest.New()
	fake.Delay = time.Second
	c := exchange.WithTimeouts(fake, time.Second, 0)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.GetPositions(ctx)
	if err == nil || errors.Is(err, exchange.ErrTimeout) {
		t.Errorf("err = %v", err)
	}
	if !errors.Is(err, context.Canceled) {
		t.Errorf("err = %v, want context.Canceled", err)
	}
}

func TestPanicReachesCaller(t *testing.T) {
	fake := exchangetest.New()
	fake.Panic = "adapter bug"
	c := exchange.WithTimeouts(fake, time.Second, 0)

	defer func() {
		if r := recover(); r != "adapter bug" {
			t.Errorf("recovered %v", r)
		}
	}()
	c.GetAccountInfo(context.Background())
	t.Error("panic was swallowed")
}
