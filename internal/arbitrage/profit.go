package arbitrage

import "github.com/shopspring/decimal"

var one = decimal.NewFromInt(1)

// ComputeProfit returns the net result of buying at buy and reselling at sell:
// sell*(1-sellCommission) - (buy*(1+buyCommission) + transferFee).
func ComputeProfit(buy, sell, buyCommission, sellCommission, transferFee decimal.Decimal) decimal.Decimal {
	revenue := sell.Mul(one.Sub(sellCommission))
	cost := buy.Mul(one.Add(buyCommission)).Add(transferFee)
	return revenue.Sub(cost)
}
