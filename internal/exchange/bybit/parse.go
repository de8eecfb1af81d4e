package bybit

import (
	"math"
	"strconv"
	"time"
)

// Bybit returns every number as a string; blanks parse to zero.
func parseFloat64(s string) float64 {
	if s == "" {
		return 0
	}
	f, _ := strconv.ParseFloat(s, 64)
	return f
}

// parseTimestamp converts milliseconds timestamp to time.Time
func parseTimestamp(ts string) time.Time {
	if ts == "" {
		return time.Time{}
	}
	msec, _ := strconv.ParseInt(ts, 10, 64)
	return time.UnixMilli(msec)
}

// stepPrecision derives the decimal precision implied by a lot or tick
// step (0.001 -> 3).
func stepPrecision(step float64) int {
	if step <= 0 || step >= 1 {
		return 0
	}
	return int(math.Ceil(-math.Log10(step) - 1e-9))
}

// formatQty renders a quantity at the precision of the instrument's lot
// step. Bybit rejects quantities with excess decimals.
func formatQty(qty, lotStep float64) string {
	return strconv.FormatFloat(qty, 'f', stepPrecision(lotStep), 64)
}

// formatPrice renders a price at the precision of the instrument's tick
// size.
func formatPrice(price, tickSize float64) string {
	return strconv.FormatFloat(price, 'f', stepPrecision(tickSize), 64)
}
