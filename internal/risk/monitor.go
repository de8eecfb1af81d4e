package risk

import (
	"context"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
	"github.com/ducminhle1904/pyramid-bot/internal/logger"
	"github.com/ducminhle1904/pyramid-bot/internal/monitoring"
	"github.com/ducminhle1904/pyramid-bot/internal/pyramid"
)

// PositionController is the slice of the engine the monitor drives.
// Closes go through the engine so state mutation rules hold.
type PositionController interface {
	ForceClose(ctx context.Context, symbol, reason string) error
	ReducePosition(ctx context.Context, symbol string, fraction float64, reason string) error
	Snapshot(symbol string) (pyramid.Snapshot, bool)
}

// Settings configures the risk monitor thresholds.
type Settings struct {
	// StopLossPct is the margin-relative loss (percent) that forces a
	// full close. Zero disables the check.
	StopLossPct float64 `json:"stop_loss_pct"`

	// TrailingStopPct closes a profitable position that gives back this
	// percentage from its high-water mark. Zero disables the check.
	TrailingStopPct float64 `json:"trailing_stop_pct"`

	// MaxNotionalMultiple is the aggregate notional over account value
	// above which every position is halved. Zero disables the check.
	MaxNotionalMultiple float64 `json:"max_notional_multiple"`

	Interval    time.Duration `json:"interval"`
	CallTimeout time.Duration `json:"call_timeout"`
}

func (s *Settings) applyDefaults() {
	if s.Interval <= 0 {
		s.Interval = 15 * time.Second
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
}

// Monitor periodically inspects live positions and forces closes
// through the engine when loss or exposure limits are breached.
type Monitor struct {
	gateway    exchange.Gateway
	controller PositionController
	settings   Settings
	log        *logger.Logger
}

// NewMonitor creates a risk monitor over the gateway and engine.
func NewMonitor(gateway exchange.Gateway, controller PositionController, settings Settings, log *logger.Logger) *Monitor {
	settings.applyDefaults()
	return &Monitor{
		gateway:    gateway,
		controller: controller,
		settings:   settings,
		log:        log,
	}
}

// Run checks positions on the configured interval until the context
// ends.
func (m *Monitor) Run(ctx context.Context) {
	ticker := time.NewTicker(m.settings.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := m.CheckOnce(ctx); err != nil {
				m.log.LogError("risk check", err)
				monitoring.RecordError(string(errors.CategoryOf(err)))
			}
		}
	}
}

// CheckOnce runs a single risk pass: account deleverage first, then
// per-position stop loss and trailing stop.
func (m *Monitor) CheckOnce(ctx context.Context) error {
	callCtx, cancel := context.WithTimeout(ctx, m.settings.CallTimeout)
	positions, err := m.gateway.GetPositions(callCtx)
	cancel()
	if err != nil {
		return errors.NewExchangeError("risk", "get_positions", err)
	}
	if len(positions) == 0 {
		return nil
	}

	callCtx, cancel = context.WithTimeout(ctx, m.settings.CallTimeout)
	accountValue, err := m.gateway.GetAccountValue(callCtx)
	cancel()
	if err != nil {
		return errors.NewExchangeError("risk", "get_account_value", err)
	}
	if accountValue <= 0 {
		return errors.NewStateError("risk", "get_account_value", "exchange reported non-positive account value")
	}

	if m.deleverageNeeded(positions, accountValue) {
		m.deleverageAll(ctx, positions)
		return nil
	}

	for i := range positions {
		m.checkPosition(ctx, &positions[i])
	}
	return nil
}

func (m *Monitor) deleverageNeeded(positions []exchange.Position, accountValue float64) bool {
	if m.settings.MaxNotionalMultiple <= 0 {
		return false
	}
	total := 0.0
	for i := range positions {
		total += positions[i].Notional()
	}
	return total/accountValue > m.settings.MaxNotionalMultiple
}

func (m *Monitor) deleverageAll(ctx context.Context, positions []exchange.Position) {
	m.log.Warning("🚨 Account notional above %.1fx, halving all positions", m.settings.MaxNotionalMultiple)
	for i := range positions {
		symbol := positions[i].Symbol
		if err := m.controller.ReducePosition(ctx, symbol, 0.5, "deleverage"); err != nil {
			m.log.LogError("deleverage "+symbol, err)
			monitoring.RecordError(string(errors.CategoryOf(err)))
		}
	}
}

func (m *Monitor) checkPosition(ctx context.Context, pos *exchange.Position) {
	if pos.EntryPrice <= 0 || pos.MarkPrice <= 0 || pos.Size == 0 {
		return
	}

	lev := pos.Leverage
	if lev <= 0 {
		lev = 1
	}

	// Margin-relative PnL: the price move amplified by leverage.
	priceMove := (pos.MarkPrice - pos.EntryPrice) / pos.EntryPrice
	if pos.Size < 0 {
		priceMove = -priceMove
	}
	pnlPct := priceMove * lev * 100

	if m.settings.StopLossPct > 0 && pnlPct <= -m.settings.StopLossPct {
		m.log.Warning("🛑 Stop loss hit for %s: margin PnL %.2f%% <= -%.2f%%", pos.Symbol, pnlPct, m.settings.StopLossPct)
		if err := m.controller.ForceClose(ctx, pos.Symbol, "stop_loss"); err != nil {
			m.log.LogError("stop loss close "+pos.Symbol, err)
			monitoring.RecordError(string(errors.CategoryOf(err)))
		}
		return
	}

	if m.settings.TrailingStopPct > 0 && pos.Size > 0 {
		snap, ok := m.controller.Snapshot(pos.Symbol)
		if !ok || snap.HighWaterMark <= 0 {
			return
		}
		trigger := snap.HighWaterMark * (1 - m.settings.TrailingStopPct/100.0)
		inProfit := pos.MarkPrice > snap.AverageEntry
		if inProfit && pos.MarkPrice <= trigger {
			m.log.Warning("📉 Trailing stop hit for %s: mark %.4f below %.4f (peak %.4f)",
				pos.Symbol, pos.MarkPrice, trigger, snap.HighWaterMark)
			if err := m.controller.ForceClose(ctx, pos.Symbol, "trailing_stop"); err != nil {
				m.log.LogError("trailing stop close "+pos.Symbol, err)
				monitoring.RecordError(string(errors.CategoryOf(err)))
			}
		}
	}
}
