package margin

import (
	"fmt"
	"math"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
)

// Margin health thresholds as fractions of account value.
const (
	HealthyThreshold  = 0.50
	WarningThreshold  = 0.70
	CriticalThreshold = 0.85
)

// MarginRequirements is the sizing result for one prospective entry.
type MarginRequirements struct {
	RequiredMargin  float64  `json:"required_margin"`
	AvailableMargin float64  `json:"available_margin"`
	PositionSize    float64  `json:"position_size"`
	MarginRatio     float64  `json:"margin_ratio"`
	IsValid         bool     `json:"is_valid"`
	Warnings        []string `json:"warnings,omitempty"`
}

// StopLossLevels describes the liquidation-aware stop for an entry.
type StopLossLevels struct {
	StopPrice    float64 `json:"stop_price"`
	PriceMovePct float64 `json:"price_move_pct"`
	LossAmount   float64 `json:"loss_amount"`
}

// MarginHealth is an account-level margin utilization assessment.
type MarginHealth struct {
	MarginRatio    float64  `json:"margin_ratio"`
	IsHealthy      bool     `json:"is_healthy"`
	RequiresAction bool     `json:"requires_action"`
	Warnings       []string `json:"warnings,omitempty"`
}

// Calculator performs pure margin and sizing arithmetic. It holds no
// state and performs no I/O; lot sizes come from the caller, which reads
// them from the exchange.
type Calculator struct{}

func NewCalculator() *Calculator {
	return &Calculator{}
}

// CalculateMarginRequirements sizes a new pyramid entry. The required
// margin is a fixed percentage of account value; the position size is
// that margin times leverage converted to contracts at the given price
// and floored to the exchange lot size. The result is invalid when the
// entry would push total margin past the exposure cap.
func (c *Calculator) CalculateMarginRequirements(accountValue, price, marginPct, leverage, existingMarginUsed, maxExposure, lotSize float64) (*MarginRequirements, error) {
	if accountValue <= 0 {
		return nil, errors.NewValidationError("margin", "sizing", "account value must be positive, got %.2f", accountValue)
	}
	if price <= 0 {
		return nil, errors.NewValidationError("margin", "sizing", "price must be positive, got %.8f", price)
	}
	if leverage <= 0 {
		return nil, errors.NewValidationError("margin", "sizing", "leverage must be positive, got %.2f", leverage)
	}
	if marginPct <= 0 || marginPct > 100 {
		return nil, errors.NewValidationError("margin", "sizing", "margin percent must be in (0,100], got %.2f", marginPct)
	}
	if lotSize <= 0 {
		return nil, errors.NewValidationError("margin", "sizing", "lot size must be positive, got %.8f", lotSize)
	}

	req := &MarginRequirements{}
	req.RequiredMargin = accountValue * marginPct / 100.0
	req.AvailableMargin = accountValue - existingMarginUsed
	req.MarginRatio = (existingMarginUsed + req.RequiredMargin) / accountValue

	exposureLimit := accountValue * maxExposure
	if existingMarginUsed+req.RequiredMargin > exposureLimit {
		req.IsValid = false
		req.Warnings = append(req.Warnings, fmt.Sprintf(
			"entry margin $%.2f would lift total margin to $%.2f, over the $%.2f exposure limit",
			req.RequiredMargin, existingMarginUsed+req.RequiredMargin, exposureLimit))
		return req, nil
	}

	rawSize := req.RequiredMargin * leverage / price
	req.PositionSize = FloorToStep(rawSize, lotSize)
	if req.PositionSize <= 0 {
		req.IsValid = false
		req.Warnings = append(req.Warnings, fmt.Sprintf(
			"computed size %.8f floors to zero at lot size %.8f", rawSize, lotSize))
		return req, nil
	}

	req.IsValid = true
	if req.MarginRatio > WarningThreshold {
		req.Warnings = append(req.Warnings, fmt.Sprintf(
			"margin ratio %.1f%% after entry is above the %.0f%% warning level",
			req.MarginRatio*100, WarningThreshold*100))
	}
	return req, nil
}

// CalculateStopLoss places the stop where the position loses
// maxMarginLossPct of its margin. Higher leverage tightens the stop
// proportionally.
func (c *Calculator) CalculateStopLoss(entryPrice, leverage, maxMarginLossPct float64, isLong bool) (*StopLossLevels, error) {
	if entryPrice <= 0 {
		return nil, errors.NewValidationError("margin", "stop_loss", "entry price must be positive, got %.8f", entryPrice)
	}
	if leverage <= 0 {
		return nil, errors.NewValidationError("margin", "stop_loss", "leverage must be positive, got %.2f", leverage)
	}
	if maxMarginLossPct <= 0 {
		return nil, errors.NewValidationError("margin", "stop_loss", "max margin loss percent must be positive, got %.2f", maxMarginLossPct)
	}

	movePct := maxMarginLossPct / leverage
	levels := &StopLossLevels{
		PriceMovePct: movePct,
		LossAmount:   maxMarginLossPct,
	}
	if isLong {
		levels.StopPrice = entryPrice * (1 - movePct/100.0)
	} else {
		levels.StopPrice = entryPrice * (1 + movePct/100.0)
	}
	return levels, nil
}

// CheckMarginHealth grades account margin utilization against the fixed
// thresholds.
func (c *Calculator) CheckMarginHealth(accountValue, totalMarginUsed float64) (*MarginHealth, error) {
	if accountValue <= 0 {
		return nil, errors.NewValidationError("margin", "health", "account value must be positive, got %.2f", accountValue)
	}
	if totalMarginUsed < 0 {
		return nil, errors.NewValidationError("margin", "health", "total margin used must not be negative, got %.2f", totalMarginUsed)
	}

	health := &MarginHealth{
		MarginRatio: totalMarginUsed / accountValue,
	}
	switch {
	case health.MarginRatio < HealthyThreshold:
		health.IsHealthy = true
	case health.MarginRatio < WarningThreshold:
		health.IsHealthy = true
		health.Warnings = append(health.Warnings, fmt.Sprintf(
			"margin usage %.1f%% is elevated", health.MarginRatio*100))
	case health.MarginRatio < CriticalThreshold:
		health.RequiresAction = true
		health.Warnings = append(health.Warnings, fmt.Sprintf(
			"margin usage %.1f%% is critical, reduce exposure", health.MarginRatio*100))
	default:
		health.RequiresAction = true
		health.Warnings = append(health.Warnings, fmt.Sprintf(
			"margin usage %.1f%% is at emergency level, close positions", health.MarginRatio*100))
	}
	return health, nil
}

// FloorToStep floors qty down to a multiple of step. A tiny epsilon keeps
// values that are an exact multiple up to float noise from losing a step.
func FloorToStep(qty, step float64) float64 {
	if step <= 0 {
		return qty
	}
	steps := math.Floor(qty/step + 1e-9)
	return steps * step
}

// RoundToTick rounds price to the nearest tick.
func RoundToTick(price, tick float64) float64 {
	if tick <= 0 {
		return price
	}
	return math.Round(price/tick) * tick
}
