package leverage

import (
	"fmt"
	"math"
)

// RiskLevel grades a leverage recommendation.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Recommendation is the outcome of a leverage decision for one entry.
type Recommendation struct {
	Leverage  float64   `json:"leverage"`
	RiskLevel RiskLevel `json:"risk_level"`
	Reason    string    `json:"reason"`
}

// TierLimits caps leverage by intent independent of the recommendation
// path. Whatever the recommendation says, an order never exceeds the tier
// for its purpose at the current margin ratio.
type TierLimits struct {
	NewPosition float64 `json:"new_position"`
	ScaleIn     float64 `json:"scale_in"`
	Emergency   float64 `json:"emergency"`
	Maximum     float64 `json:"maximum"`
}

// Manager derives per-entry leverage from account and position context.
// Pure functions over snapshots; the struct only carries the clamps.
type Manager struct {
	minLeverage     float64
	maxLeverage     float64
	volatilityBound float64
}

// NewManager creates a manager with the given clamps. The volatility
// bound is the annualized volatility above which the penalty kicks in.
func NewManager(minLev, maxLev, volatilityBound float64) *Manager {
	if minLev < 1 {
		minLev = 1
	}
	if maxLev < minLev {
		maxLev = minLev
	}
	if volatilityBound <= 0 {
		volatilityBound = 0.80
	}
	return &Manager{
		minLeverage:     minLev,
		maxLeverage:     maxLev,
		volatilityBound: volatilityBound,
	}
}

// RecommendLeverage scales the base leverage down as the pyramid deepens,
// as account margin tightens, and as volatility rises, then clamps the
// result. Each added pyramid level cuts leverage by 15%, floored at half
// the base. Above 70% margin usage the cut steepens fast.
func (m *Manager) RecommendLeverage(baseLeverage float64, pyramidLevel int, marginRatio, volatility float64) *Recommendation {
	if baseLeverage <= 0 {
		return &Recommendation{
			Leverage:  m.minLeverage,
			RiskLevel: RiskCritical,
			Reason:    fmt.Sprintf("non-positive base leverage %.2f, clamped to minimum", baseLeverage),
		}
	}

	lev := baseLeverage
	reasons := ""

	if pyramidLevel > 0 {
		levelFactor := math.Max(0.5, 1.0-float64(pyramidLevel)*0.15)
		lev *= levelFactor
		reasons += fmt.Sprintf("level %d penalty x%.2f; ", pyramidLevel, levelFactor)
	}

	if marginRatio > 0.70 {
		marginFactor := math.Max(0.3, 1.0-2.0*(marginRatio-0.70))
		lev *= marginFactor
		reasons += fmt.Sprintf("margin ratio %.0f%% penalty x%.2f; ", marginRatio*100, marginFactor)
	}

	if volatility > m.volatilityBound {
		volFactor := math.Max(0.4, m.volatilityBound/volatility)
		lev *= volFactor
		reasons += fmt.Sprintf("volatility %.2f penalty x%.2f; ", volatility, volFactor)
	}

	clamped := math.Min(m.maxLeverage, math.Max(m.minLeverage, lev))
	if clamped != lev {
		reasons += fmt.Sprintf("clamped to [%.1f, %.1f]; ", m.minLeverage, m.maxLeverage)
	}
	if reasons == "" {
		reasons = "base leverage unchanged"
	}

	return &Recommendation{
		Leverage:  clamped,
		RiskLevel: m.gradeRisk(clamped, marginRatio),
		Reason:    reasons,
	}
}

// Tiers returns the fixed leverage caps for the given margin ratio. The
// table tightens in steps as utilization grows and applies regardless of
// what RecommendLeverage produced.
func (m *Manager) Tiers(marginRatio float64) TierLimits {
	var t TierLimits
	switch {
	case marginRatio < 0.30:
		t = TierLimits{NewPosition: 20, ScaleIn: 15, Emergency: 10, Maximum: 25}
	case marginRatio < 0.50:
		t = TierLimits{NewPosition: 15, ScaleIn: 10, Emergency: 8, Maximum: 20}
	case marginRatio < 0.70:
		t = TierLimits{NewPosition: 10, ScaleIn: 6, Emergency: 5, Maximum: 12}
	case marginRatio < 0.85:
		t = TierLimits{NewPosition: 5, ScaleIn: 3, Emergency: 3, Maximum: 6}
	default:
		t = TierLimits{NewPosition: 2, ScaleIn: 1, Emergency: 1, Maximum: 3}
	}
	t.NewPosition = math.Min(t.NewPosition, m.maxLeverage)
	t.ScaleIn = math.Min(t.ScaleIn, m.maxLeverage)
	t.Emergency = math.Min(t.Emergency, m.maxLeverage)
	t.Maximum = math.Min(t.Maximum, m.maxLeverage)
	return t
}

// ValidateLeverage checks a leverage value against the clamps.
func (m *Manager) ValidateLeverage(leverage float64) error {
	if leverage <= 0 {
		return fmt.Errorf("leverage must be greater than 0, got: %.2f", leverage)
	}
	if leverage < m.minLeverage {
		return fmt.Errorf("leverage %.2f is below minimum allowed %.2f", leverage, m.minLeverage)
	}
	if leverage > m.maxLeverage {
		return fmt.Errorf("leverage %.2f exceeds maximum allowed %.2f", leverage, m.maxLeverage)
	}
	return nil
}

func (m *Manager) gradeRisk(leverage, marginRatio float64) RiskLevel {
	switch {
	case marginRatio >= 0.85:
		return RiskCritical
	case leverage > 25 || marginRatio >= 0.70:
		return RiskHigh
	case leverage > 10 || marginRatio >= 0.50:
		return RiskMedium
	default:
		return RiskLow
	}
}
