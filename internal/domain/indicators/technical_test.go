package indicators

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRSI_AllGainsIsHundred(t *testing.T) {
	prices := make([]float64, 20)
	for i := range prices {
		prices[i] = float64(i + 1)
	}
	assert.Equal(t, 100.0, RSI(prices, 14))
}

func TestRSI_InsufficientHistoryIsNeutral(t *testing.T) {
	assert.Equal(t, 50.0, RSI([]float64{1, 2, 3}, 14))
}

func TestEMA_ConstantSeriesEqualsConstant(t *testing.T) {
	prices := make([]float64, 30)
	for i := range prices {
		prices[i] = 100
	}
	assert.InDelta(t, 100.0, EMA(prices, 20), 1e-9)
}

func TestATR_ZeroRangeIsZero(t *testing.T) {
	bars := make([]PriceBar, 20)
	for i := range bars {
		bars[i] = PriceBar{High: 100, Low: 100, Close: 100}
	}
	assert.Equal(t, 0.0, ATR(bars, 14))
}

func TestMACD_FastAboveSlowWhenTrendingUp(t *testing.T) {
	prices := make([]float64, 40)
	for i := range prices {
		prices[i] = float64(i)
	}
	assert.Greater(t, MACD(prices, 12, 26), 0.0)
}
