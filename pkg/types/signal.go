package types

import (
	"fmt"
	"strings"
	"time"
)

// SignalAction is the direction requested by an inbound trading signal.
type SignalAction string

const (
	ActionBuy  SignalAction = "buy"
	ActionSell SignalAction = "sell"
)

// TradingSignal is the inbound message consumed by the pyramid engine.
// Price is optional; when zero the engine uses the live market price.
type TradingSignal struct {
	Action    SignalAction `json:"action"`
	Symbol    string       `json:"symbol"`
	Price     float64      `json:"price,omitempty"`
	Strategy  string       `json:"strategy"`
	Timestamp time.Time    `json:"timestamp"`
}

// Validate checks the structural fields of a signal before processing.
func (s *TradingSignal) Validate() error {
	switch s.Action {
	case ActionBuy, ActionSell:
	default:
		return fmt.Errorf("unknown signal action %q", s.Action)
	}
	if strings.TrimSpace(s.Symbol) == "" {
		return fmt.Errorf("signal is missing a symbol")
	}
	if s.Price < 0 {
		return fmt.Errorf("signal price must not be negative, got %.8f", s.Price)
	}
	return nil
}

// PositionUpdate is emitted to collaborators (journal, notifications)
// after every successful state mutation.
type PositionUpdate struct {
	Symbol       string    `json:"symbol"`
	PyramidLevel int       `json:"pyramid_level"`
	ExitCount    int       `json:"exit_count"`
	CurrentSize  float64   `json:"current_size"`
	AverageEntry float64   `json:"average_entry"`
	MarginUsed   float64   `json:"margin_used"`
	Event        string    `json:"event"` // ENTRY, EXIT, RESET, FORCED_CLOSE, DELEVERAGE
	Timestamp    time.Time `json:"timestamp"`
}
