package domain

import (
	"testing"
	"time"
)

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		in, want float64
	}{
		{10.004, 10.00},
		{10.005, 10.01},
		{9.999, 10.00},
		{0, 0},
		{-1, 0},
	}
	for _, tt := range tests {
		if got := RoundToTick(tt.in); got != tt.want {
			t.Errorf("RoundToTick(%v) = %v, want %v", tt.in, got, tt.want)
		}
	}
}

func TestSellableQuantity(t *testing.T) {
	tests := []struct {
		name            string
		want, available int64
		expect          int64
	}{
		{"whole lots", 500, 1000, 500},
		{"rounds down", 550, 1000, 500},
		{"below one lot", 50, 1000, 0},
		{"odd lot whole position", 1050, 1050, 1050},
		{"more than available", 2000, 1050, 1050},
		{"nothing available", 100, 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := SellableQuantity(tt.want, tt.available); got != tt.expect {
				t.Errorf("SellableQuantity(%d, %d) = %d, want %d", tt.want, tt.available, got, tt.expect)
			}
		})
	}
}

func TestLimitUpPrice(t *testing.T) {
	tests := []struct {
		symbol    string
		prevClose float64
		want      float64
	}{
		{"600000.SH", 10.01, 11.01},
		{"000001.SZ", 11.00, 12.10},
		{"300750.SZ", 12.34, 14.81},
		{"688981.SH", 50.00, 60.00},
		{"430047.BJ", 10.00, 13.00},
		{"600000.SH", 0, 0},
	}
	for _, tt := range tests {
		if got := LimitUpPrice(tt.symbol, tt.prevClose); got != tt.want {
			t.Errorf("LimitUpPrice(%s, %v) = %v, want %v", tt.symbol, tt.prevClose, got, tt.want)
		}
	}
}

func TestWeightedCost(t *testing.T) {
	if got := WeightedCost(1000, 10, 1000, 12); got != 11 {
		t.Errorf("equal lots = %v, want 11", got)
	}
	if got := WeightedCost(300, 10.5, 100, 11.3); got != 10.7 {
		t.Errorf("uneven lots = %v, want 10.7", got)
	}
	if got := WeightedCost(0, 0, 0, 12); got != 0 {
		t.Errorf("empty = %v, want 0", got)
	}
}

func TestTradingDay(t *testing.T) {
	// 17:30 UTC is 01:30 the next morning in Shanghai.
	got := TradingDay(time.Date(2026, 10, 18, 17, 30, 0, 0, time.UTC))
	want := time.Date(2026, 10, 19, 0, 0, 0, 0, Shanghai)
	if !got.Equal(want) {
		t.Errorf("TradingDay = %v, want %v", got, want)
	}
}

func TestPositionClone(t *testing.T) {
	p := PositionState{Symbol: "600000.SH", CostPrice: 10, HighestPrice: 12, GridTrades: []GridTrade{{Level: -1}}}
	c := p.Clone()
	c.GridTrades[0].Level = 5
	if p.GridTrades[0].Level != -1 {
		t.Error("Clone shares the grid slice")
	}
	if r := p.PeakGainRatio(); r < 0.2-1e-9 || r > 0.2+1e-9 {
		t.Errorf("PeakGainRatio = %v, want 0.2", r)
	}
	if !p.Durable().SameAs(c.Durable()) {
		t.Error("durable fields differ after Clone")
	}
}
