package exchange

import "testing"

func TestNotionalUsesMarkPrice(t *testing.T) {
	tests := []struct {
		name string
		pos  Position
		want float64
	}{
		{"long", Position{Size: 2, EntryPrice: 50000, MarkPrice: 51000}, 102000},
		{"short sizes are absolute", Position{Size: -2, EntryPrice: 50000, MarkPrice: 49000}, 98000},
		{"flat", Position{Size: 0, MarkPrice: 51000}, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.pos.Notional(); got != tt.want {
				t.Errorf("Notional() = %v, expected %v", got, tt.want)
			}
		})
	}
}

func TestIsFlatAbsorbsDust(t *testing.T) {
	tests := []struct {
		name    string
		size    float64
		epsilon float64
		want    bool
	}{
		{"exactly zero", 0, 1e-9, true},
		{"dust long", 1e-10, 1e-9, true},
		{"dust short", -1e-10, 1e-9, true},
		{"real position", 0.001, 1e-9, false},
		{"real short", -0.001, 1e-9, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := Position{Size: tt.size}
			if got := p.IsFlat(tt.epsilon); got != tt.want {
				t.Errorf("IsFlat(%v) with size %v = %v, expected %v", tt.epsilon, tt.size, got, tt.want)
			}
		})
	}
}
