package arbitrage

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func TestComputeProfit(t *testing.T) {
	tests := []struct {
		name                   string
		buy, sell, bc, sc, fee string
		want                   string
	}{
		{"documented example", "10", "20", "0.06", "0.05", "0.22", "8.18"},
		{"no fees", "10", "12", "0", "0", "0", "2"},
		{"loss", "10", "10", "0.06", "0.05", "0.22", "-1.32"},
		{"fee only", "0", "0", "0.06", "0.05", "0.22", "-0.22"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeProfit(dec(tt.buy), dec(tt.sell), dec(tt.bc), dec(tt.sc), dec(tt.fee))
			assert.True(t, dec(tt.want).Equal(got), "got %s want %s", got, tt.want)
		})
	}
}

func TestComputeProfit_Monotonic(t *testing.T) {
	bc, sc, fee := dec("0.06"), dec("0.05"), dec("0.22")
	base := ComputeProfit(dec("10"), dec("20"), bc, sc, fee)

	assert.True(t, ComputeProfit(dec("10"), dec("21"), bc, sc, fee).GreaterThan(base), "higher sell raises profit")
	assert.True(t, ComputeProfit(dec("11"), dec("20"), bc, sc, fee).LessThan(base), "higher buy lowers profit")
	assert.True(t, ComputeProfit(dec("10"), dec("20"), dec("0.07"), sc, fee).LessThan(base), "higher buy commission lowers profit")
	assert.True(t, ComputeProfit(dec("10"), dec("20"), bc, dec("0.06"), fee).LessThan(base), "higher sell commission lowers profit")
	assert.True(t, ComputeProfit(dec("10"), dec("20"), bc, sc, dec("0.3")).LessThan(base), "higher fee lowers profit")
}
