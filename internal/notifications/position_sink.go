package notifications

import (
	"fmt"

	"github.com/ducminhle1904/pyramid-bot/pkg/types"
)

// PositionSink bridges engine position updates to a Notifier. Sends run
// in a goroutine so a slow notifier never blocks trading.
type PositionSink struct {
	notifier Notifier
	onError  func(error)
}

// NewPositionSink creates a sink over the notifier. onError may be nil.
func NewPositionSink(notifier Notifier, onError func(error)) *PositionSink {
	return &PositionSink{notifier: notifier, onError: onError}
}

// RecordUpdate formats and dispatches one position update.
func (s *PositionSink) RecordUpdate(update types.PositionUpdate) {
	level := "info"
	var message string

	switch update.Event {
	case "ENTRY":
		message = fmt.Sprintf("📈 %s entry confirmed\nLevel: %d\nSize: %.6f\nAvg Entry: $%.4f\nMargin: $%.2f",
			update.Symbol, update.PyramidLevel, update.CurrentSize, update.AverageEntry, update.MarginUsed)
	case "EXIT":
		message = fmt.Sprintf("🚪 %s partial exit\nExit #%d\nRemaining: %.6f\nAvg Entry: $%.4f",
			update.Symbol, update.ExitCount, update.CurrentSize, update.AverageEntry)
		level = "success"
	case "RESET":
		message = fmt.Sprintf("✅ %s cycle complete, back to flat", update.Symbol)
		level = "success"
	case "FORCED_CLOSE":
		message = fmt.Sprintf("🛑 %s force-closed by risk monitor", update.Symbol)
		level = "error"
	case "DELEVERAGE":
		message = fmt.Sprintf("📉 %s reduced by deleveraging\nRemaining: %.6f", update.Symbol, update.CurrentSize)
		level = "warning"
	default:
		message = fmt.Sprintf("%s position update: level %d, size %.6f", update.Symbol, update.PyramidLevel, update.CurrentSize)
	}

	go func() {
		if err := s.notifier.SendAlert(level, message); err != nil && s.onError != nil {
			s.onError(err)
		}
	}()
}
