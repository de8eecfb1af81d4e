package pyramid

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
	"github.com/ducminhle1904/pyramid-bot/internal/leverage"
	"github.com/ducminhle1904/pyramid-bot/internal/logger"
	"github.com/ducminhle1904/pyramid-bot/internal/margin"
	"github.com/ducminhle1904/pyramid-bot/pkg/types"
)

func newTestEngine(t *testing.T, fake *fakeGateway, mutate func(*Settings)) *Engine {
	t.Helper()

	log, err := logger.NewLogger(t.TempDir(), "engine_test")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	settings := Settings{
		Symbols:            []string{"BTCUSDT"},
		MarginPercentages:  []float64{10, 8, 6, 4},
		ExitPercentages:    []float64{50, 100},
		MaxPyramidLevels:   4,
		BaseLeverage:       5,
		MaxAccountExposure: 0.5,
	}
	if mutate != nil {
		mutate(&settings)
	}

	return NewEngine(fake, margin.NewCalculator(), leverage.NewManager(1, 10, 0.10), settings, log)
}

func buySignal(price float64) *types.TradingSignal {
	return &types.TradingSignal{
		Action:    types.ActionBuy,
		Symbol:    "BTCUSDT",
		Price:     price,
		Strategy:  "momentum",
		Timestamp: time.Now(),
	}
}

func sellSignal() *types.TradingSignal {
	return &types.TradingSignal{
		Action:    types.ActionSell,
		Symbol:    "BTCUSDT",
		Strategy:  "momentum",
		Timestamp: time.Now(),
	}
}

// recordingSink captures emitted position updates for assertions.
type recordingSink struct {
	mu      sync.Mutex
	updates []types.PositionUpdate
}

func (r *recordingSink) RecordUpdate(update types.PositionUpdate) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.updates = append(r.updates, update)
}

func (r *recordingSink) events() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.updates))
	for _, u := range r.updates {
		out = append(out, u.Event)
	}
	return out
}

func TestFirstEntrySizing(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)

	err := e.ProcessSignal(context.Background(), buySignal(50000))
	require.NoError(t, err)

	snap, ok := e.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 1, snap.Level)
	assert.Equal(t, 0, snap.ExitCount)
	// 10% of 10000 at 5x over 50000 is 0.1 contracts.
	assert.InDelta(t, 0.1, snap.CurrentSize, 1e-9)
	assert.InDelta(t, 50000, snap.AverageEntry, 1e-9)
	assert.InDelta(t, 1000, snap.MarginUsed, 1e-9)
	assert.InDelta(t, 5, snap.Leverage, 1e-9)

	require.Equal(t, 1, fake.orderCount())
	order := fake.lastOrder()
	assert.Equal(t, exchange.SideBuy, order.Side)
	assert.Equal(t, exchange.TypeLimit, order.OrderType)
	assert.InDelta(t, 0.1, order.Quantity, 1e-9)
	// Default 0.05% slippage allowance above the signal price.
	assert.InDelta(t, 50025, order.LimitPrice, 1e-9)
	assert.False(t, order.ReduceOnly)
	assert.InDelta(t, 5, fake.leverages["BTCUSDT"], 1e-9)
}

func TestEntryLimitPriceRoundedToTick(t *testing.T) {
	fake := newFakeGateway()
	fake.limits.TickSize = 0.5
	e := newTestEngine(t, fake, func(s *Settings) {
		s.SlippagePct = 0.1
	})

	require.NoError(t, e.ProcessSignal(context.Background(), buySignal(50000.3)))

	order := fake.lastOrder()
	assert.Equal(t, exchange.TypeLimit, order.OrderType)
	// 50000.3 * 1.001 = 50050.3003, rounded to the 0.5 tick.
	assert.InDelta(t, 50050.5, order.LimitPrice, 1e-9)
}

func TestPyramidStackingReducesLeverage(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))
	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))

	snap, ok := e.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2, snap.Level)
	// Second rung: 8% margin at 5 * 0.85 = 4.25x gives 0.068 contracts.
	assert.InDelta(t, 0.168, snap.CurrentSize, 1e-9)
	assert.InDelta(t, 50000, snap.AverageEntry, 1e-9)
	assert.InDelta(t, 1800, snap.MarginUsed, 1e-9)
	assert.InDelta(t, 4.25, snap.Leverage, 1e-9)

	require.Equal(t, 2, fake.orderCount())
	assert.InDelta(t, 0.068, fake.lastOrder().Quantity, 1e-9)
}

func TestLevelCapRejectsEntry(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, func(s *Settings) {
		s.MaxPyramidLevels = 1
	})
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))

	err := e.ProcessSignal(ctx, buySignal(50000))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.True(t, errors.IsDroppable(err))
	assert.Equal(t, 1, fake.orderCount())
}

func TestPriceImprovementPolicy(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, func(s *Settings) {
		s.EntryPolicy = EntryPriceImprovement
		s.PriceImprovementPct = 1.0
	})
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))

	// 49900 is only 0.2% below the last entry.
	err := e.ProcessSignal(ctx, buySignal(49900))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	require.NoError(t, e.ProcessSignal(ctx, buySignal(49000)))

	snap, _ := e.Snapshot("BTCUSDT")
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, 2, fake.orderCount())
}

func TestCooldownPolicy(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, func(s *Settings) {
		s.EntryPolicy = EntryCooldown
		s.EntryCooldown = time.Hour
	})
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))

	err := e.ProcessSignal(ctx, buySignal(49000))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))

	snap, _ := e.Snapshot("BTCUSDT")
	assert.Equal(t, 1, snap.Level)
}

func TestEntryRejectedWhenTierCapBelowMinimumLeverage(t *testing.T) {
	fake := newFakeGateway()
	log, err := logger.NewLogger(t.TempDir(), "engine_test")
	require.NoError(t, err)
	t.Cleanup(func() { log.Close() })

	settings := Settings{
		Symbols:            []string{"BTCUSDT"},
		MarginPercentages:  []float64{5},
		ExitPercentages:    []float64{50, 100},
		MaxPyramidLevels:   4,
		BaseLeverage:       5,
		MaxAccountExposure: 1.0,
	}
	e := NewEngine(fake, margin.NewCalculator(), leverage.NewManager(3, 10, 0.10), settings, log)

	// 86% margin usage puts the account in the tightest tier, whose
	// new-position cap of 2x sits below the 3x floor.
	e.Restore([]Snapshot{{
		Symbol:       "ETHUSDT",
		Level:        1,
		CurrentSize:  1,
		AverageEntry: 8600,
		MarginUsed:   8600,
		Leverage:     1,
	}})

	err = e.ProcessSignal(context.Background(), buySignal(50000))
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 0, fake.orderCount())
}

func TestExposureCapRejectsEntryUntouched(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, func(s *Settings) {
		s.MarginPercentages = []float64{60}
	})

	err := e.ProcessSignal(context.Background(), buySignal(50000))
	require.Error(t, err)
	assert.True(t, errors.IsExposure(err))
	assert.True(t, errors.IsDroppable(err))

	snap, ok := e.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0, snap.Level)
	assert.Zero(t, snap.MarginUsed)
	assert.Equal(t, 0, fake.orderCount())
}

func TestTwoStageExit(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	sink := &recordingSink{}
	e.AddSink(sink)
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))
	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))

	// First sell closes 50% of 0.168 floored to the lot step.
	require.NoError(t, e.ProcessSignal(ctx, sellSignal()))
	snap, _ := e.Snapshot("BTCUSDT")
	assert.Equal(t, 1, snap.ExitCount)
	assert.Equal(t, 2, snap.Level)
	assert.InDelta(t, 0.084, snap.CurrentSize, 1e-9)
	assert.InDelta(t, 900, snap.MarginUsed, 1e-9)

	order := fake.lastOrder()
	assert.Equal(t, exchange.SideSell, order.Side)
	assert.True(t, order.ReduceOnly)
	assert.InDelta(t, 0.084, order.Quantity, 1e-9)

	// Second sell closes the remainder and resets the cycle.
	require.NoError(t, e.ProcessSignal(ctx, sellSignal()))
	snap, _ = e.Snapshot("BTCUSDT")
	assert.Equal(t, 0, snap.Level)
	assert.Zero(t, snap.CurrentSize)
	assert.Zero(t, snap.MarginUsed)

	// A sell while flat is ignored without placing an order.
	require.NoError(t, e.ProcessSignal(ctx, sellSignal()))
	assert.Equal(t, 4, fake.orderCount())

	assert.Equal(t, []string{"ENTRY", "ENTRY", "EXIT", "RESET"}, sink.events())
}

func TestTinyPartialBecomesFullClose(t *testing.T) {
	fake := newFakeGateway()
	fake.accountValue = 100
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))
	snap, _ := e.Snapshot("BTCUSDT")
	require.InDelta(t, 0.001, snap.CurrentSize, 1e-9)

	// Half of one lot floors to nothing, so the first sell closes it all.
	require.NoError(t, e.ProcessSignal(ctx, sellSignal()))
	snap, _ = e.Snapshot("BTCUSDT")
	assert.Equal(t, 0, snap.Level)

	order := fake.lastOrder()
	assert.InDelta(t, 0.001, order.Quantity, 1e-9)
	assert.True(t, order.ReduceOnly)
}

func TestOrderFailureLeavesStateUntouched(t *testing.T) {
	fake := newFakeGateway()
	fake.orderErr = fmt.Errorf("matching engine unavailable")
	e := newTestEngine(t, fake, nil)

	err := e.ProcessSignal(context.Background(), buySignal(50000))
	require.Error(t, err)
	assert.True(t, errors.IsExchange(err))

	snap, ok := e.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 0, snap.Level)
	assert.Zero(t, snap.MarginUsed)
}

func TestEntryBreakerSuspendsEntries(t *testing.T) {
	fake := newFakeGateway()
	fake.orderErr = fmt.Errorf("matching engine unavailable")
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		err := e.ProcessSignal(ctx, buySignal(50000))
		require.Error(t, err)
	}
	assert.True(t, e.EntriesSuspended())

	// The fourth buy is rejected before reaching the venue.
	err := e.ProcessSignal(ctx, buySignal(50000))
	require.Error(t, err)
	assert.Equal(t, 3, fake.placeCalls)
}

func TestForceClose(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))
	require.NoError(t, e.ForceClose(ctx, "BTCUSDT", "stop_loss"))

	snap, _ := e.Snapshot("BTCUSDT")
	assert.Equal(t, 0, snap.Level)
	assert.Zero(t, snap.CurrentSize)

	order := fake.lastOrder()
	assert.Equal(t, exchange.SideSell, order.Side)
	assert.True(t, order.ReduceOnly)
	assert.InDelta(t, 0.1, order.Quantity, 1e-9)
	assert.Empty(t, fake.positions)

	// Forcing a close while already flat is a no-op.
	require.NoError(t, e.ForceClose(ctx, "BTCUSDT", "stop_loss"))
	assert.Equal(t, 2, fake.orderCount())
}

func TestReducePositionKeepsExitLadder(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)
	ctx := context.Background()

	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))
	require.NoError(t, e.ProcessSignal(ctx, buySignal(50000)))

	require.NoError(t, e.ReducePosition(ctx, "BTCUSDT", 0.5, "deleverage"))

	snap, _ := e.Snapshot("BTCUSDT")
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, 0, snap.ExitCount)
	assert.InDelta(t, 0.084, snap.CurrentSize, 1e-9)
	assert.InDelta(t, 900, snap.MarginUsed, 1e-9)

	// The next sell still walks the exit ladder from the start.
	require.NoError(t, e.ProcessSignal(ctx, sellSignal()))
	snap, _ = e.Snapshot("BTCUSDT")
	assert.Equal(t, 1, snap.ExitCount)
}

func TestReducePositionValidatesFraction(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)

	err := e.ReducePosition(context.Background(), "BTCUSDT", 1.5, "deleverage")
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
}

func TestRestoreSeedsLadderState(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)

	e.Restore([]Snapshot{{
		Symbol:       "BTCUSDT",
		Level:        2,
		ExitCount:    1,
		CurrentSize:  0.084,
		AverageEntry: 50000,
		MarginUsed:   900,
		Leverage:     4.25,
	}})

	snap, ok := e.Snapshot("BTCUSDT")
	require.True(t, ok)
	assert.Equal(t, 2, snap.Level)
	assert.Equal(t, 1, snap.ExitCount)
	assert.InDelta(t, 0.084, snap.CurrentSize, 1e-9)

	// Restore never clobbers a live local state.
	e.Restore([]Snapshot{{Symbol: "BTCUSDT", Level: 1, CurrentSize: 0.5}})
	snap, _ = e.Snapshot("BTCUSDT")
	assert.Equal(t, 2, snap.Level)
}

func TestInvalidSignalRejected(t *testing.T) {
	fake := newFakeGateway()
	e := newTestEngine(t, fake, nil)

	err := e.ProcessSignal(context.Background(), &types.TradingSignal{
		Action: "hold",
		Symbol: "BTCUSDT",
	})
	require.Error(t, err)
	assert.True(t, errors.IsValidation(err))
	assert.Equal(t, 0, fake.orderCount())
}
