package http

import (
	"github.com/shopspring/decimal"

	"github.com/sawpanic/solroute/internal/model"
)

// feeBreakdown itemizes the cost of the winning route. Amounts are
// base-unit integers; percentages are rendered with four decimal places.
func feeBreakdown(best *model.RankedQuote) model.FeeBreakdown {
	platform := decimal.Zero
	if best.Quote.PlatformFee != nil {
		if v, err := decimal.NewFromString(best.Quote.PlatformFee.Amount); err == nil {
			platform = v
		}
	}

	gas := decimal.Zero
	if best.Quote.GasEstimate > 0 {
		gas = decimal.NewFromUint64(best.Quote.GasEstimate)
	}

	total := platform.Add(gas)

	pct := decimal.Zero
	if in, err := decimal.NewFromString(best.Quote.InAmount); err == nil && in.IsPositive() {
		pct = total.Div(in).Mul(decimal.NewFromInt(100))
	}

	return model.FeeBreakdown{
		PlatformFee:   platform.String(),
		GasFee:        gas.String(),
		TotalFee:      total.String(),
		FeePercentage: pct.StringFixed(4),
	}
}
