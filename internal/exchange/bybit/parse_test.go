package bybit

import (
	"testing"
	"time"
)

func TestParseFloat64(t *testing.T) {
	tests := []struct {
		input    string
		expected float64
	}{
		{"50000.5", 50000.5},
		{"0.001", 0.001},
		{"", 0},
		{"not-a-number", 0},
	}

	for _, tt := range tests {
		if got := parseFloat64(tt.input); got != tt.expected {
			t.Errorf("parseFloat64(%q) = %f, expected %f", tt.input, got, tt.expected)
		}
	}
}

func TestParseTimestamp(t *testing.T) {
	got := parseTimestamp("1700000000000")
	expected := time.UnixMilli(1700000000000)
	if !got.Equal(expected) {
		t.Errorf("parseTimestamp = %v, expected %v", got, expected)
	}

	if !parseTimestamp("").IsZero() {
		t.Error("Empty timestamp should parse to the zero time")
	}
}

func TestStepPrecision(t *testing.T) {
	tests := []struct {
		step     float64
		expected int
	}{
		{0.001, 3},
		{0.01, 2},
		{0.1, 1},
		{1, 0},
		{10, 0},
		{0, 0},
		{0.5, 1},
	}

	for _, tt := range tests {
		if got := stepPrecision(tt.step); got != tt.expected {
			t.Errorf("stepPrecision(%f) = %d, expected %d", tt.step, got, tt.expected)
		}
	}
}

func TestFormatQty(t *testing.T) {
	tests := []struct {
		qty      float64
		lotStep  float64
		expected string
	}{
		{0.068, 0.001, "0.068"},
		{0.1, 0.001, "0.100"},
		{1.5, 0.1, "1.5"},
		{3, 1, "3"},
	}

	for _, tt := range tests {
		if got := formatQty(tt.qty, tt.lotStep); got != tt.expected {
			t.Errorf("formatQty(%f, %f) = %q, expected %q", tt.qty, tt.lotStep, got, tt.expected)
		}
	}
}

func TestFormatPrice(t *testing.T) {
	if got := formatPrice(50000.5, 0.1); got != "50000.5" {
		t.Errorf("formatPrice = %q, expected 50000.5", got)
	}
	if got := formatPrice(50000, 0.5); got != "50000.0" {
		t.Errorf("formatPrice = %q, expected 50000.0", got)
	}
}
