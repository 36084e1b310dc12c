package tinkoff

import (
	"github.com/shopspring/decimal"

	pb "github.com/russianinvestments/invest-api-go-sdk/proto"
)

var billion = decimal.NewFromInt(1_000_000_000)

func fromQuotation(q *pb.Quotation) decimal.Decimal {
	if q == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(q.GetUnits()).Add(decimal.New(int64(q.GetNano()), -9))
}

func fromMoney(m *pb.MoneyValue) decimal.Decimal {
	if m == nil {
		return decimal.Zero
	}
	return decimal.NewFromInt(m.GetUnits()).Add(decimal.New(int64(m.GetNano()), -9))
}

// toQuotation truncates below nano precision.
func toQuotation(d decimal.Decimal) *pb.Quotation {
	units := d.IntPart()
	nano := d.Sub(decimal.NewFromInt(units)).Mul(billion).IntPart()
	return &pb.Quotation{Units: units, Nano: int32(nano)}
}
