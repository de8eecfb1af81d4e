package pyramid

import (
	"math"
	"time"
)

// priceWindow is how many recent marks each state keeps for the
// volatility estimate fed into leverage recommendations.
const priceWindow = 20

// EntryRecord is one confirmed pyramid entry.
type EntryRecord struct {
	Level    int       `json:"level"`
	Price    float64   `json:"price"`
	Size     float64   `json:"size"`
	Margin   float64   `json:"margin"`
	Leverage float64   `json:"leverage"`
	Time     time.Time `json:"time"`
}

// PositionState is the engine's local view of one symbol. Level 0 means
// flat. All mutations happen only after exchange confirmation; callers
// hold the symbol lock.
type PositionState struct {
	Symbol         string        `json:"symbol"`
	Level          int           `json:"level"`
	ExitCount      int           `json:"exit_count"`
	CurrentSize    float64       `json:"current_size"`
	AverageEntry   float64       `json:"average_entry"`
	MarginUsed     float64       `json:"margin_used"`
	Leverage       float64       `json:"leverage"`
	LastEntryPrice float64       `json:"last_entry_price"`
	LastEntryTime  time.Time     `json:"last_entry_time"`
	HighWaterMark  float64       `json:"high_water_mark"`
	Entries        []EntryRecord `json:"entries,omitempty"`

	recentPrices []float64
}

func newPositionState(symbol string) *PositionState {
	return &PositionState{Symbol: symbol}
}

// IsFlat reports whether the state carries no position.
func (s *PositionState) IsFlat() bool {
	return s.Level == 0
}

// applyEntry folds a confirmed fill into the state: weighted average
// entry, level increment, margin accumulation.
func (s *PositionState) applyEntry(price, size, marginUsed, leverage float64, at time.Time) {
	total := s.CurrentSize + size
	if total > 0 {
		s.AverageEntry = (s.AverageEntry*s.CurrentSize + price*size) / total
	}
	s.CurrentSize = total
	s.Level++
	s.MarginUsed += marginUsed
	s.Leverage = leverage
	s.LastEntryPrice = price
	s.LastEntryTime = at
	if price > s.HighWaterMark {
		s.HighWaterMark = price
	}
	s.Entries = append(s.Entries, EntryRecord{
		Level:    s.Level,
		Price:    price,
		Size:     size,
		Margin:   marginUsed,
		Leverage: leverage,
		Time:     at,
	})
}

// applyExit folds a confirmed partial close into the state. Margin
// shrinks proportionally to the closed size. Returns the remaining size.
func (s *PositionState) applyExit(closedSize, dustEpsilon float64) float64 {
	if s.CurrentSize <= 0 {
		return 0
	}
	fraction := closedSize / s.CurrentSize
	if fraction > 1 {
		fraction = 1
	}
	s.MarginUsed *= 1 - fraction
	s.CurrentSize -= closedSize
	s.ExitCount++
	if s.CurrentSize < dustEpsilon {
		s.reset()
		return 0
	}
	return s.CurrentSize
}

// applyReduce folds a confirmed risk-driven reduction into the state.
// Unlike applyExit it does not advance the exit ladder.
func (s *PositionState) applyReduce(closedSize, dustEpsilon float64) float64 {
	if s.CurrentSize <= 0 {
		return 0
	}
	fraction := closedSize / s.CurrentSize
	if fraction > 1 {
		fraction = 1
	}
	s.MarginUsed *= 1 - fraction
	s.CurrentSize -= closedSize
	if s.CurrentSize < dustEpsilon {
		s.reset()
		return 0
	}
	return s.CurrentSize
}

// reset returns the state to flat. The price window survives so the
// volatility estimate carries across cycles.
func (s *PositionState) reset() {
	prices := s.recentPrices
	symbol := s.Symbol
	*s = PositionState{Symbol: symbol, recentPrices: prices}
}

// seedFromExchange replaces the local state with a single synthetic
// level-1 entry matching the live position.
func (s *PositionState) seedFromExchange(size, entryPrice, leverage float64, at time.Time) {
	s.reset()
	margin := 0.0
	if leverage > 0 {
		margin = size * entryPrice / leverage
	}
	s.applyEntry(entryPrice, size, margin, leverage, at)
}

// observePrice feeds a mark price into the rolling window.
func (s *PositionState) observePrice(price float64) {
	if price <= 0 {
		return
	}
	s.recentPrices = append(s.recentPrices, price)
	if len(s.recentPrices) > priceWindow {
		s.recentPrices = s.recentPrices[len(s.recentPrices)-priceWindow:]
	}
	if !s.IsFlat() && price > s.HighWaterMark {
		s.HighWaterMark = price
	}
}

// volatility estimates recent volatility as the price range over the
// window mean. Returns 0 until the window has a few observations.
func (s *PositionState) volatility() float64 {
	if len(s.recentPrices) < 3 {
		return 0
	}
	lo, hi, sum := math.MaxFloat64, 0.0, 0.0
	for _, p := range s.recentPrices {
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
		sum += p
	}
	mean := sum / float64(len(s.recentPrices))
	if mean <= 0 {
		return 0
	}
	return (hi - lo) / mean
}

// Snapshot is an immutable copy of a position state for display,
// persistence and risk checks.
type Snapshot struct {
	Symbol         string    `json:"symbol"`
	Level          int       `json:"level"`
	ExitCount      int       `json:"exit_count"`
	CurrentSize    float64   `json:"current_size"`
	AverageEntry   float64   `json:"average_entry"`
	MarginUsed     float64   `json:"margin_used"`
	Leverage       float64   `json:"leverage"`
	HighWaterMark  float64   `json:"high_water_mark"`
	LastEntryPrice float64   `json:"last_entry_price"`
	LastEntryTime  time.Time `json:"last_entry_time"`
}

func (s *PositionState) snapshot() Snapshot {
	return Snapshot{
		Symbol:         s.Symbol,
		Level:          s.Level,
		ExitCount:      s.ExitCount,
		CurrentSize:    s.CurrentSize,
		AverageEntry:   s.AverageEntry,
		MarginUsed:     s.MarginUsed,
		Leverage:       s.Leverage,
		HighWaterMark:  s.HighWaterMark,
		LastEntryPrice: s.LastEntryPrice,
		LastEntryTime:  s.LastEntryTime,
	}
}
