package leverage

import (
	"math"
	"testing"
)

func TestRecommendLeverage(t *testing.T) {
	mgr := NewManager(1, 25, 0.80)

	tests := []struct {
		name         string
		baseLeverage float64
		pyramidLevel int
		marginRatio  float64
		volatility   float64
		want         float64
	}{
		{"flat account keeps base", 10, 0, 0.10, 0.2, 10},
		{"level 1 cuts 15 percent", 10, 1, 0.10, 0.2, 8.5},
		{"level 2 cuts 30 percent", 10, 2, 0.10, 0.2, 7.0},
		{"deep pyramid floors at half", 10, 5, 0.10, 0.2, 5.0},
		{"margin ratio 80 percent halves it", 10, 0, 0.80, 0.2, 8.0},
		{"margin ratio 99 percent cuts steeply", 10, 0, 0.99, 0.2, 4.2},
		{"stacked penalties multiply", 10, 2, 0.80, 0.2, 5.6},
		{"clamped to minimum", 1, 5, 0.99, 2.0, 1.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := mgr.RecommendLeverage(tt.baseLeverage, tt.pyramidLevel, tt.marginRatio, tt.volatility)
			if math.Abs(rec.Leverage-tt.want) > 1e-6 {
				t.Errorf("Leverage = %.4f, want %.4f (%s)", rec.Leverage, tt.want, rec.Reason)
			}
		})
	}
}

func TestRecommendLeverageNeverLeavesClamps(t *testing.T) {
	mgr := NewManager(2, 20, 0.80)

	for level := 0; level <= 10; level++ {
		for _, ratio := range []float64{0, 0.3, 0.5, 0.75, 0.9, 1.0} {
			for _, vol := range []float64{0.1, 0.8, 1.5, 3.0} {
				rec := mgr.RecommendLeverage(50, level, ratio, vol)
				if rec.Leverage < 2 || rec.Leverage > 20 {
					t.Fatalf("leverage %.2f outside [2, 20] at level=%d ratio=%.2f vol=%.2f",
						rec.Leverage, level, ratio, vol)
				}
			}
		}
	}
}

func TestTiersTightenWithMarginRatio(t *testing.T) {
	mgr := NewManager(1, 125, 0.80)

	prev := mgr.Tiers(0.10)
	for _, ratio := range []float64{0.35, 0.55, 0.75, 0.90} {
		cur := mgr.Tiers(ratio)
		if cur.NewPosition > prev.NewPosition {
			t.Errorf("NewPosition tier loosened at ratio %.2f: %.1f > %.1f", ratio, cur.NewPosition, prev.NewPosition)
		}
		if cur.ScaleIn > prev.ScaleIn {
			t.Errorf("ScaleIn tier loosened at ratio %.2f: %.1f > %.1f", ratio, cur.ScaleIn, prev.ScaleIn)
		}
		if cur.Maximum < cur.NewPosition {
			t.Errorf("Maximum %.1f below NewPosition %.1f at ratio %.2f", cur.Maximum, cur.NewPosition, ratio)
		}
		prev = cur
	}
}

func TestTiersRespectManagerMaximum(t *testing.T) {
	mgr := NewManager(1, 8, 0.80)

	tiers := mgr.Tiers(0.10)
	if tiers.NewPosition > 8 || tiers.ScaleIn > 8 || tiers.Emergency > 8 || tiers.Maximum > 8 {
		t.Errorf("tier exceeds manager maximum 8: %+v", tiers)
	}
}

func TestValidateLeverage(t *testing.T) {
	mgr := NewManager(2, 50, 0.80)

	tests := []struct {
		leverage float64
		wantErr  bool
	}{
		{10, false},
		{2, false},
		{50, false},
		{0, true},
		{-5, true},
		{1.5, true},
		{51, true},
	}

	for _, tt := range tests {
		err := mgr.ValidateLeverage(tt.leverage)
		if (err != nil) != tt.wantErr {
			t.Errorf("ValidateLeverage(%.1f) error = %v, wantErr %v", tt.leverage, err, tt.wantErr)
		}
	}
}
