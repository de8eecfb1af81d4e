package margin

import (
	"math"
	"testing"
)

func TestCalculateMarginRequirements(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name           string
		accountValue   float64
		price          float64
		marginPct      float64
		leverage       float64
		existingMargin float64
		maxExposure    float64
		lotSize        float64
		wantMargin     float64
		wantSize       float64
		wantValid      bool
	}{
		{
			name:         "ten percent of 10k account at 10x",
			accountValue: 10000, price: 50000, marginPct: 10, leverage: 10,
			existingMargin: 0, maxExposure: 0.6, lotSize: 0.001,
			wantMargin: 1000, wantSize: 0.2, wantValid: true,
		},
		{
			name:         "size floored to lot step",
			accountValue: 10000, price: 43211, marginPct: 10, leverage: 10,
			existingMargin: 0, maxExposure: 0.6, lotSize: 0.001,
			wantMargin: 1000, wantSize: 0.231, wantValid: true,
		},
		{
			name:         "exposure cap breached",
			accountValue: 10000, price: 50000, marginPct: 10, leverage: 10,
			existingMargin: 5500, maxExposure: 0.6, lotSize: 0.001,
			wantMargin: 1000, wantSize: 0, wantValid: false,
		},
		{
			name:         "exactly at exposure cap is allowed",
			accountValue: 10000, price: 50000, marginPct: 10, leverage: 10,
			existingMargin: 5000, maxExposure: 0.6, lotSize: 0.001,
			wantMargin: 1000, wantSize: 0.2, wantValid: true,
		},
		{
			name:         "tiny account floors to zero size",
			accountValue: 100, price: 50000, marginPct: 1, leverage: 2,
			existingMargin: 0, maxExposure: 0.6, lotSize: 0.001,
			wantMargin: 1, wantSize: 0, wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := calc.CalculateMarginRequirements(
				tt.accountValue, tt.price, tt.marginPct, tt.leverage,
				tt.existingMargin, tt.maxExposure, tt.lotSize)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(req.RequiredMargin-tt.wantMargin) > 1e-9 {
				t.Errorf("RequiredMargin = %.4f, want %.4f", req.RequiredMargin, tt.wantMargin)
			}
			if req.IsValid != tt.wantValid {
				t.Errorf("IsValid = %v, want %v (warnings: %v)", req.IsValid, tt.wantValid, req.Warnings)
			}
			if tt.wantValid && math.Abs(req.PositionSize-tt.wantSize) > 1e-9 {
				t.Errorf("PositionSize = %.8f, want %.8f", req.PositionSize, tt.wantSize)
			}
		})
	}
}

func TestCalculateMarginRequirementsRejectsBadInput(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name         string
		accountValue float64
		price        float64
		marginPct    float64
		leverage     float64
		lotSize      float64
	}{
		{"zero account", 0, 50000, 10, 10, 0.001},
		{"negative price", 10000, -1, 10, 10, 0.001},
		{"zero leverage", 10000, 50000, 10, 0, 0.001},
		{"margin pct over 100", 10000, 50000, 150, 10, 0.001},
		{"zero lot size", 10000, 50000, 10, 10, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := calc.CalculateMarginRequirements(
				tt.accountValue, tt.price, tt.marginPct, tt.leverage, 0, 0.6, tt.lotSize)
			if err == nil {
				t.Fatal("expected a validation error, got nil")
			}
		})
	}
}

func TestCalculateStopLoss(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name        string
		entryPrice  float64
		leverage    float64
		maxLossPct  float64
		isLong      bool
		wantMovePct float64
		wantStop    float64
	}{
		{"long 10x halves the move", 50000, 10, 20, true, 2.0, 49000},
		{"long 20x quarters it", 50000, 20, 20, true, 1.0, 49500},
		{"short stop sits above entry", 50000, 10, 20, false, 2.0, 51000},
		{"1x leverage moves the full loss", 100, 1, 15, true, 15.0, 85},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			levels, err := calc.CalculateStopLoss(tt.entryPrice, tt.leverage, tt.maxLossPct, tt.isLong)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(levels.PriceMovePct-tt.wantMovePct) > 1e-9 {
				t.Errorf("PriceMovePct = %.4f, want %.4f", levels.PriceMovePct, tt.wantMovePct)
			}
			if math.Abs(levels.StopPrice-tt.wantStop) > 1e-6 {
				t.Errorf("StopPrice = %.4f, want %.4f", levels.StopPrice, tt.wantStop)
			}
		})
	}
}

func TestCheckMarginHealth(t *testing.T) {
	calc := NewCalculator()

	tests := []struct {
		name        string
		marginUsed  float64
		wantHealthy bool
		wantAction  bool
	}{
		{"well under half", 3000, true, false},
		{"just under warning", 6900, true, false},
		{"critical band", 7500, false, true},
		{"emergency band", 9000, false, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			health, err := calc.CheckMarginHealth(10000, tt.marginUsed)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if health.IsHealthy != tt.wantHealthy {
				t.Errorf("IsHealthy = %v, want %v", health.IsHealthy, tt.wantHealthy)
			}
			if health.RequiresAction != tt.wantAction {
				t.Errorf("RequiresAction = %v, want %v", health.RequiresAction, tt.wantAction)
			}
		})
	}
}

func TestFloorToStep(t *testing.T) {
	tests := []struct {
		qty, step, want float64
	}{
		{0.2315, 0.001, 0.231},
		{0.2, 0.001, 0.2},
		{1.9999999, 0.1, 1.9},
		{5, 1, 5},
		{0.0004, 0.001, 0},
	}
	for _, tt := range tests {
		got := FloorToStep(tt.qty, tt.step)
		if math.Abs(got-tt.want) > 1e-12 {
			t.Errorf("FloorToStep(%v, %v) = %v, want %v", tt.qty, tt.step, got, tt.want)
		}
	}
}

func TestRoundToTick(t *testing.T) {
	tests := []struct {
		price, tick, want float64
	}{
		{50000.04, 0.1, 50000.0},
		{50000.06, 0.1, 50000.1},
		{123.456, 0.01, 123.46},
	}
	for _, tt := range tests {
		got := RoundToTick(tt.price, tt.tick)
		if math.Abs(got-tt.want) > 1e-9 {
			t.Errorf("RoundToTick(%v, %v) = %v, want %v", tt.price, tt.tick, got, tt.want)
		}
	}
}
