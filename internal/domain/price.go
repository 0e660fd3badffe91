package domain

import (
	"strings"

	"github.com/shopspring/decimal"
)

// Exchange trading units for A-shares.
const (
	LotSize   int64   = 100
	PriceTick float64 = 0.01
)

var tick = decimal.NewFromFloat(PriceTick)

// RoundToTick rounds a price half-up to the 0.01 CNY tick.
func RoundToTick(price float64) float64 {
	if price <= 0 {
		return 0
	}
	return decimal.NewFromFloat(price).Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// LotFloor rounds a share quantity down to a whole number of lots.
func LotFloor(qty int64) int64 {
	if qty <= 0 {
		return 0
	}
	return qty / LotSize * LotSize
}

// SellableQuantity rounds a sell quantity down to whole lots, except when
// the request covers the entire available quantity: an odd-lot remainder
// may only be sold in one go.
func SellableQuantity(want, available int64) int64 {
	if want <= 0 || available <= 0 {
		return 0
	}
	if want >= available {
		return available
	}
	return LotFloor(want)
}

// LimitRatio returns the daily price-limit ratio for a symbol of the form
// "600000.SH" / "300750.SZ" / "430047.BJ".
func LimitRatio(symbol string) decimal.Decimal {
	code, market, _ := strings.Cut(strings.ToUpper(symbol), ".")
	switch {
	case market == "BJ":
		return decimal.NewFromFloat(0.30)
	case strings.HasPrefix(code, "688"), strings.HasPrefix(code, "689"):
		return decimal.NewFromFloat(0.20)
	case strings.HasPrefix(code, "300"), strings.HasPrefix(code, "301"):
		return decimal.NewFromFloat(0.20)
	default:
		return decimal.NewFromFloat(0.10)
	}
}

// LimitUpPrice computes the exchange limit-up price from the prior close,
// rounded half-up to the tick.
func LimitUpPrice(symbol string, prevClose float64) float64 {
	if prevClose <= 0 {
		return 0
	}
	pc := decimal.NewFromFloat(prevClose)
	up := pc.Mul(decimal.NewFromInt(1).Add(LimitRatio(symbol)))
	return up.Div(tick).Round(0).Mul(tick).InexactFloat64()
}

// WeightedCost returns the average cost after buying addQty at price on top
// of an existing qty at cost.
func WeightedCost(qty int64, cost float64, addQty int64, price float64) float64 {
	total := qty + addQty
	if total <= 0 {
		return 0
	}
	value := decimal.NewFromInt(qty).Mul(decimal.NewFromFloat(cost)).
		Add(decimal.NewFromInt(addQty).Mul(decimal.NewFromFloat(price)))
	return value.Div(decimal.NewFromInt(total)).Round(4).InexactFloat64()
}
