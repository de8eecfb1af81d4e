package pyramid

import (
	"context"
	"math"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
	"github.com/ducminhle1904/pyramid-bot/internal/monitoring"
)

// SyncAction describes what a reconciliation pass did.
type SyncAction string

const (
	// SyncInSync means local and live agreed within tolerance.
	SyncInSync SyncAction = "in_sync"

	// SyncResetLocal means the exchange was flat while local state was
	// active, so the local state was cleared.
	SyncResetLocal SyncAction = "reset_local"

	// SyncSeeded means a live position existed with no local state and
	// was adopted as a single level-1 entry.
	SyncSeeded SyncAction = "seeded"

	// SyncAdjusted means the live size or entry overwrote local values.
	SyncAdjusted SyncAction = "adjusted"
)

// SyncResult reports the outcome of one reconciliation pass.
type SyncResult struct {
	Symbol    string     `json:"symbol"`
	Action    SyncAction `json:"action"`
	LiveSize  float64    `json:"live_size"`
	LiveEntry float64    `json:"live_entry"`
}

// Synchronizer keeps local pyramid state aligned with the exchange. The
// exchange is the source of truth: reconciliation runs periodically over
// tracked symbols and unconditionally before every sell.
type Synchronizer struct {
	engine   *Engine
	interval time.Duration
}

// NewSynchronizer creates a synchronizer over the engine's gateway.
func NewSynchronizer(engine *Engine, interval time.Duration) *Synchronizer {
	if interval <= 0 {
		interval = 30 * time.Second
	}
	return &Synchronizer{
		engine:   engine,
		interval: interval,
	}
}

// Reconcile aligns one symbol's local state with the exchange.
func (s *Synchronizer) Reconcile(ctx context.Context, symbol string) (*SyncResult, error) {
	lock, st := s.engine.symbolState(symbol)
	lock.Lock()
	defer lock.Unlock()
	return s.engine.reconcileLocked(ctx, symbol, st)
}

// Run reconciles all tracked symbols on the configured interval until
// the context ends.
func (s *Synchronizer) Run(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.reconcileAll(ctx)
		}
	}
}

func (s *Synchronizer) reconcileAll(ctx context.Context) {
	for _, symbol := range s.engine.TrackedSymbols() {
		result, err := s.Reconcile(ctx, symbol)
		if err != nil {
			s.engine.log.LogError("position sync "+symbol, err)
			monitoring.RecordError(string(errors.CategoryOf(err)))
			continue
		}
		if result.Action != SyncInSync {
			s.engine.log.LogPositionSync(symbol, string(result.Action), result.LiveSize, result.LiveEntry)
		}
	}
}

// reconcileLocked runs one reconciliation pass with the symbol lock
// held. The live position always wins: a flat exchange clears local
// state, an unknown live position is adopted as a level-1 entry, and a
// size mismatch overwrites the local size. The average entry is only
// overwritten when it drifts beyond the configured tolerance.
func (e *Engine) reconcileLocked(ctx context.Context, symbol string, st *PositionState) (*SyncResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()

	pos, err := e.gateway.GetPosition(callCtx, symbol)
	if err != nil {
		return nil, errors.NewExchangeError("sync", "get_position", err)
	}

	st.observePrice(pos.MarkPrice)

	result := &SyncResult{
		Symbol:    symbol,
		LiveSize:  pos.Size,
		LiveEntry: pos.EntryPrice,
	}

	liveFlat := pos.IsFlat(e.settings.DustEpsilon)
	switch {
	case liveFlat && st.IsFlat():
		result.Action = SyncInSync

	case liveFlat && !st.IsFlat():
		// Closed on the venue behind our back (liquidation, manual
		// close). Drop the stale local pyramid.
		st.reset()
		result.Action = SyncResetLocal
		monitoring.UpdatePyramidLevel(symbol, 0)
		monitoring.UpdateMarginUsed(symbol, 0)
		e.emit(st, "RESET")
		e.persistSnapshots()

	case !liveFlat && st.IsFlat():
		lev := pos.Leverage
		if lev <= 0 {
			lev = e.settings.BaseLeverage
		}
		st.seedFromExchange(pos.Size, pos.EntryPrice, lev, time.Now())
		result.Action = SyncSeeded
		monitoring.UpdatePyramidLevel(symbol, st.Level)
		monitoring.UpdateMarginUsed(symbol, st.MarginUsed)
		e.emit(st, "ENTRY")
		e.persistSnapshots()

	default:
		result.Action = SyncInSync
		tolerance := e.settings.SyncTolerancePct / 100.0

		if math.Abs(pos.Size-st.CurrentSize) > e.settings.DustEpsilon {
			// Live size wins; margin scales with it.
			if st.CurrentSize > 0 {
				st.MarginUsed *= pos.Size / st.CurrentSize
			}
			st.CurrentSize = pos.Size
			result.Action = SyncAdjusted
		}

		if st.AverageEntry > 0 && pos.EntryPrice > 0 {
			drift := math.Abs(pos.EntryPrice-st.AverageEntry) / st.AverageEntry
			if drift > tolerance {
				st.AverageEntry = pos.EntryPrice
				result.Action = SyncAdjusted
			}
		}

		if result.Action == SyncAdjusted {
			monitoring.UpdateMarginUsed(symbol, st.MarginUsed)
			e.persistSnapshots()
		}
	}

	return result, nil
}
