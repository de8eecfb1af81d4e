package pyramid

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/errors"
	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
	"github.com/ducminhle1904/pyramid-bot/internal/leverage"
	"github.com/ducminhle1904/pyramid-bot/internal/logger"
	"github.com/ducminhle1904/pyramid-bot/internal/margin"
	"github.com/ducminhle1904/pyramid-bot/internal/monitoring"
	"github.com/ducminhle1904/pyramid-bot/internal/safety"
	"github.com/ducminhle1904/pyramid-bot/pkg/types"
)

// EntryPolicy controls whether a buy signal may stack onto an existing
// position.
type EntryPolicy string

const (
	// EntryAlways accepts every buy up to the level cap.
	EntryAlways EntryPolicy = "always"

	// EntryPriceImprovement requires the new entry to be below the last
	// entry by a configured percentage.
	EntryPriceImprovement EntryPolicy = "price_improvement"

	// EntryCooldown requires a minimum delay since the last entry.
	EntryCooldown EntryPolicy = "cooldown"
)

// Settings is the engine's trading configuration. The config package
// validates it before construction.
type Settings struct {
	Symbols             []string      `json:"symbols"`
	MarginPercentages   []float64     `json:"margin_percentages"`
	ExitPercentages     []float64     `json:"exit_percentages"`
	MaxPyramidLevels    int           `json:"max_pyramid_levels"`
	BaseLeverage        float64       `json:"base_leverage"`
	MaxAccountExposure  float64       `json:"max_account_exposure"`
	EntryPolicy         EntryPolicy   `json:"entry_policy"`
	PriceImprovementPct float64       `json:"price_improvement_pct"`
	EntryCooldown       time.Duration `json:"entry_cooldown"`
	SlippagePct         float64       `json:"slippage_pct"`
	DustEpsilon         float64       `json:"dust_epsilon"`
	SyncTolerancePct    float64       `json:"sync_tolerance_pct"`
	CallTimeout         time.Duration `json:"call_timeout"`
}

func (s *Settings) applyDefaults() {
	if s.EntryPolicy == "" {
		s.EntryPolicy = EntryAlways
	}
	if s.DustEpsilon <= 0 {
		s.DustEpsilon = 1e-8
	}
	if s.SyncTolerancePct <= 0 {
		s.SyncTolerancePct = 0.5
	}
	if s.CallTimeout <= 0 {
		s.CallTimeout = 10 * time.Second
	}
	if s.SlippagePct <= 0 {
		s.SlippagePct = 0.05
	}
	if len(s.ExitPercentages) == 0 {
		s.ExitPercentages = []float64{50, 100}
	}
}

// UpdateSink receives position updates after every confirmed state
// mutation. Implementations must not block.
type UpdateSink interface {
	RecordUpdate(update types.PositionUpdate)
}

// Engine owns the per-symbol pyramid state machine. All state mutations
// happen under the symbol lock and only after exchange confirmation.
type Engine struct {
	gateway   exchange.Gateway
	calc      *margin.Calculator
	levMgr    *leverage.Manager
	settings  Settings
	log       *logger.Logger
	validator *safety.Validator

	// entryBreaker suspends new entries after repeated exchange
	// failures. Exits and forced closes bypass it.
	entryBreaker *safety.CircuitBreaker

	mu     sync.RWMutex
	states map[string]*PositionState
	locks  map[string]*sync.Mutex

	sinkMu  sync.RWMutex
	sinks   []UpdateSink
	persist func([]Snapshot)
}

// NewEngine creates an engine over the given gateway and calculators.
func NewEngine(gateway exchange.Gateway, calc *margin.Calculator, levMgr *leverage.Manager, settings Settings, log *logger.Logger) *Engine {
	settings.applyDefaults()
	return &Engine{
		gateway:   gateway,
		calc:      calc,
		levMgr:    levMgr,
		settings:  settings,
		log:       log,
		validator: safety.NewValidator(),
		entryBreaker: safety.NewCircuitBreaker("entries", safety.CircuitBreakerConfig{
			FailureThreshold: 3,
			SuccessThreshold: 2,
			Timeout:          time.Minute,
		}),
		states: make(map[string]*PositionState),
		locks:  make(map[string]*sync.Mutex),
	}
}

// AddSink registers an update sink (journal, notifier bridge).
func (e *Engine) AddSink(sink UpdateSink) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.sinks = append(e.sinks, sink)
}

// SetPersister registers a snapshot persister invoked fire-and-forget
// after every mutation.
func (e *Engine) SetPersister(fn func([]Snapshot)) {
	e.sinkMu.Lock()
	defer e.sinkMu.Unlock()
	e.persist = fn
}

// Restore seeds local state from saved snapshots. Only ladder data the
// exchange cannot provide matters here (level, exit count); the next
// reconciliation pass overrides size and entry from the live position.
func (e *Engine) Restore(snaps []Snapshot) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, snap := range snaps {
		symbol := strings.ToUpper(snap.Symbol)
		if symbol == "" || snap.Level == 0 {
			continue
		}
		st, ok := e.states[symbol]
		if !ok {
			st = newPositionState(symbol)
			e.states[symbol] = st
			e.locks[symbol] = &sync.Mutex{}
		}
		if !st.IsFlat() {
			continue
		}
		st.Level = snap.Level
		st.ExitCount = snap.ExitCount
		st.CurrentSize = snap.CurrentSize
		st.AverageEntry = snap.AverageEntry
		st.MarginUsed = snap.MarginUsed
		st.Leverage = snap.Leverage
		st.HighWaterMark = snap.HighWaterMark
		st.LastEntryPrice = snap.LastEntryPrice
		st.LastEntryTime = snap.LastEntryTime

		monitoring.UpdatePyramidLevel(symbol, st.Level)
		monitoring.UpdateMarginUsed(symbol, st.MarginUsed)
		e.log.Info("Restored %s: level %d, exit %d, size %.6f", symbol, st.Level, st.ExitCount, st.CurrentSize)
	}
}

// ProcessSignal routes one inbound signal. Validation and exposure
// rejections return a categorized error with the state untouched;
// exchange failures abort the signal the same way.
func (e *Engine) ProcessSignal(ctx context.Context, sig *types.TradingSignal) error {
	if err := sig.Validate(); err != nil {
		monitoring.RecordSignal(sig.Symbol, string(sig.Action), "dropped")
		monitoring.RecordError(string(errors.CategoryValidation))
		return errors.Wrap(err, errors.CategoryValidation, "engine", "process_signal")
	}

	symbol := strings.ToUpper(strings.TrimSpace(sig.Symbol))
	var err error
	switch sig.Action {
	case types.ActionBuy:
		err = e.handleBuy(ctx, symbol, sig.Price)
	case types.ActionSell:
		err = e.handleSell(ctx, symbol)
	}

	switch {
	case err == nil:
		monitoring.RecordSignal(symbol, string(sig.Action), "accepted")
	case errors.IsDroppable(err):
		monitoring.RecordSignal(symbol, string(sig.Action), "dropped")
		monitoring.RecordError(string(errors.CategoryOf(err)))
		e.log.Warning("Signal dropped for %s: %v", symbol, err)
	default:
		monitoring.RecordSignal(symbol, string(sig.Action), "failed")
		monitoring.RecordError(string(errors.CategoryOf(err)))
		e.log.LogError("signal processing "+symbol, err)
	}
	return err
}

func (e *Engine) handleBuy(ctx context.Context, symbol string, signalPrice float64) error {
	lock, st := e.symbolState(symbol)
	lock.Lock()
	defer lock.Unlock()

	if !e.entryBreaker.Allow() {
		return errors.New(errors.CategoryExchange, "engine", "entry",
			"new entries suspended after repeated exchange failures").WithRetryable(false)
	}

	if e.settings.MaxPyramidLevels > 0 && st.Level >= e.settings.MaxPyramidLevels {
		return errors.NewValidationError("engine", "entry",
			"%s already at maximum pyramid level %d", symbol, st.Level)
	}

	price := signalPrice
	if price <= 0 {
		var err error
		price, err = e.marketPrice(ctx, symbol)
		if err != nil {
			return err
		}
	}
	st.observePrice(price)
	monitoring.UpdatePrice(symbol, price)

	if err := e.checkEntryPolicy(st, price); err != nil {
		return err
	}

	accountValue, err := e.accountValue(ctx)
	if err != nil {
		return err
	}
	limits, err := e.instrumentLimits(ctx, symbol)
	if err != nil {
		return err
	}

	totalMargin := e.totalMarginUsed()
	marginRatio := totalMargin / accountValue

	marginPct := e.marginPctForLevel(st.Level)
	rec := e.levMgr.RecommendLeverage(e.settings.BaseLeverage, st.Level, marginRatio, st.volatility())
	lev := rec.Leverage

	tiers := e.levMgr.Tiers(marginRatio)
	tierCap := tiers.NewPosition
	if st.Level > 0 {
		tierCap = tiers.ScaleIn
	}
	if lev > tierCap {
		lev = tierCap
	}
	if limits.MaxLeverage > 0 && lev > limits.MaxLeverage {
		lev = limits.MaxLeverage
	}
	if err := e.levMgr.ValidateLeverage(lev); err != nil {
		return errors.NewValidationError("engine", "entry", "%s leverage rejected: %v", symbol, err)
	}

	req, err := e.calc.CalculateMarginRequirements(
		accountValue, price, marginPct, lev, totalMargin,
		e.settings.MaxAccountExposure, limits.LotSize)
	if err != nil {
		return err
	}
	if !req.IsValid {
		if totalMargin+req.RequiredMargin > accountValue*e.settings.MaxAccountExposure {
			return errors.NewExposureError("engine", req.RequiredMargin, totalMargin,
				accountValue*e.settings.MaxAccountExposure)
		}
		return errors.NewValidationError("engine", "entry",
			"%s entry not viable: %s", symbol, strings.Join(req.Warnings, "; "))
	}

	if vres := e.validator.ValidateOrderAgainstLimits(
		price, req.PositionSize, limits.MinQty, limits.MaxQty, limits.MinNotional, symbol); !vres.Valid {
		return errors.NewValidationError("engine", "entry", "%s", vres.Message)
	}

	if err := e.setLeverage(ctx, symbol, lev); err != nil {
		// Leverage update failures are logged, not fatal; the venue
		// keeps the previous setting.
		e.log.Warning("Leverage update failed for %s: %v", symbol, err)
	}

	// Entries are marketable limit orders: the signal price plus the
	// slippage allowance, rounded to the venue tick. A fill never lands
	// beyond the allowance.
	limitPrice := margin.RoundToTick(price*(1+e.settings.SlippagePct/100.0), limits.TickSize)
	result, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       exchange.SideBuy,
		Quantity:   req.PositionSize,
		OrderType:  exchange.TypeLimit,
		LimitPrice: limitPrice,
	})
	if err != nil {
		e.entryBreaker.RecordFailure()
		return err
	}
	e.entryBreaker.RecordSuccess()

	fillPrice := result.AvgPrice
	if fillPrice <= 0 {
		fillPrice = price
	}
	fillQty := result.Quantity
	if fillQty <= 0 {
		fillQty = req.PositionSize
	}

	st.applyEntry(fillPrice, fillQty, req.RequiredMargin, lev, time.Now())

	monitoring.RecordOrder(symbol, string(exchange.SideBuy), fillQty*fillPrice)
	monitoring.UpdatePyramidLevel(symbol, st.Level)
	monitoring.UpdateMarginUsed(symbol, st.MarginUsed)
	monitoring.UpdateExposureRatio((totalMargin + req.RequiredMargin) / accountValue)

	e.log.LogEntryExecution(symbol, result.OrderID, st.Level, fillQty, fillPrice, req.RequiredMargin, st.AverageEntry)
	e.log.Info("Leverage for %s level %d: %.2fx (%s, risk %s)", symbol, st.Level, lev, rec.Reason, rec.RiskLevel)

	e.emit(st, "ENTRY")
	e.persistSnapshots()
	return nil
}

func (e *Engine) handleSell(ctx context.Context, symbol string) error {
	lock, st := e.symbolState(symbol)
	lock.Lock()
	defer lock.Unlock()

	// The exchange is the source of truth for the live size every sell
	// operates on.
	if _, err := e.reconcileLocked(ctx, symbol, st); err != nil {
		return err
	}

	if st.IsFlat() {
		e.log.Info("Sell for %s ignored, no open position", symbol)
		return nil
	}

	limits, err := e.instrumentLimits(ctx, symbol)
	if err != nil {
		return err
	}

	closeQty := st.CurrentSize
	firstExitPct := e.settings.ExitPercentages[0]
	if st.ExitCount == 0 && firstExitPct < 100 {
		partial := margin.FloorToStep(st.CurrentSize*firstExitPct/100.0, limits.LotSize)
		remainder := st.CurrentSize - partial
		// A partial that floors to nothing, or leaves an unclosable
		// remainder, becomes a full close.
		if partial >= limits.MinQty && partial > 0 && remainder >= limits.MinQty {
			closeQty = partial
		}
	}

	result, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       exchange.SideSell,
		Quantity:   closeQty,
		OrderType:  exchange.TypeMarket,
		ReduceOnly: true,
	})
	if err != nil {
		e.entryBreaker.RecordFailure()
		return err
	}
	e.entryBreaker.RecordSuccess()

	avgEntry := st.AverageEntry
	remaining := st.applyExit(closeQty, e.settings.DustEpsilon)

	exitPrice := result.AvgPrice
	monitoring.RecordOrder(symbol, string(exchange.SideSell), closeQty*exitPrice)
	monitoring.UpdatePyramidLevel(symbol, st.Level)
	monitoring.UpdateMarginUsed(symbol, st.MarginUsed)

	e.log.LogExitExecution(symbol, result.OrderID, st.ExitCount, closeQty, remaining)
	if remaining == 0 {
		profitPct := 0.0
		if avgEntry > 0 && exitPrice > 0 {
			profitPct = (exitPrice - avgEntry) / avgEntry * 100
		}
		e.log.LogCycleCompletion(symbol, exitPrice, avgEntry, profitPct)
		e.emit(st, "RESET")
	} else {
		e.emit(st, "EXIT")
	}
	e.persistSnapshots()
	return nil
}

// ForceClose closes the entire live position reduce-only, from any
// level. Used by the risk monitor and operator shutdown paths.
func (e *Engine) ForceClose(ctx context.Context, symbol, reason string) error {
	lock, st := e.symbolState(symbol)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.reconcileLocked(ctx, symbol, st); err != nil {
		return err
	}
	if st.IsFlat() {
		return nil
	}

	closeQty := st.CurrentSize
	result, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       exchange.SideSell,
		Quantity:   closeQty,
		OrderType:  exchange.TypeMarket,
		ReduceOnly: true,
	})
	if err != nil {
		return err
	}

	st.reset()
	monitoring.RecordForcedClose(symbol, reason)
	monitoring.UpdatePyramidLevel(symbol, 0)
	monitoring.UpdateMarginUsed(symbol, 0)

	e.log.Trade("⛔ Forced close %s: %.6f closed (%s), order %s", symbol, closeQty, reason, result.OrderID)
	e.emit(st, "FORCED_CLOSE")
	e.persistSnapshots()
	return nil
}

// ReducePosition closes a fraction of the live position reduce-only
// without consuming the exit ladder. Used by account deleveraging.
func (e *Engine) ReducePosition(ctx context.Context, symbol string, fraction float64, reason string) error {
	if fraction <= 0 || fraction > 1 {
		return errors.NewValidationError("engine", "reduce", "fraction must be in (0,1], got %.4f", fraction)
	}

	lock, st := e.symbolState(symbol)
	lock.Lock()
	defer lock.Unlock()

	if _, err := e.reconcileLocked(ctx, symbol, st); err != nil {
		return err
	}
	if st.IsFlat() {
		return nil
	}

	limits, err := e.instrumentLimits(ctx, symbol)
	if err != nil {
		return err
	}

	closeQty := margin.FloorToStep(st.CurrentSize*fraction, limits.LotSize)
	if closeQty <= 0 {
		return nil
	}
	if st.CurrentSize-closeQty < limits.MinQty {
		closeQty = st.CurrentSize
	}

	result, err := e.placeOrder(ctx, exchange.OrderRequest{
		Symbol:     symbol,
		Side:       exchange.SideSell,
		Quantity:   closeQty,
		OrderType:  exchange.TypeMarket,
		ReduceOnly: true,
	})
	if err != nil {
		return err
	}

	st.applyReduce(closeQty, e.settings.DustEpsilon)
	monitoring.RecordForcedClose(symbol, reason)
	monitoring.UpdatePyramidLevel(symbol, st.Level)
	monitoring.UpdateMarginUsed(symbol, st.MarginUsed)

	e.log.Trade("📉 Deleverage %s: closed %.6f of %.6f (%s), order %s",
		symbol, closeQty, closeQty+st.CurrentSize, reason, result.OrderID)
	e.emit(st, "DELEVERAGE")
	e.persistSnapshots()
	return nil
}

func (e *Engine) checkEntryPolicy(st *PositionState, price float64) error {
	if st.IsFlat() {
		return nil
	}
	switch e.settings.EntryPolicy {
	case EntryAlways:
		return nil
	case EntryPriceImprovement:
		threshold := st.LastEntryPrice * (1 - e.settings.PriceImprovementPct/100.0)
		if price >= threshold {
			return errors.NewValidationError("engine", "entry_policy",
				"%s price %.4f lacks %.2f%% improvement over last entry %.4f",
				st.Symbol, price, e.settings.PriceImprovementPct, st.LastEntryPrice)
		}
		return nil
	case EntryCooldown:
		if since := time.Since(st.LastEntryTime); since < e.settings.EntryCooldown {
			return errors.NewValidationError("engine", "entry_policy",
				"%s cooldown active, %s of %s elapsed since last entry",
				st.Symbol, since.Round(time.Second), e.settings.EntryCooldown)
		}
		return nil
	default:
		return errors.NewConfigError("engine", "unknown entry policy %q", e.settings.EntryPolicy)
	}
}

func (e *Engine) marginPctForLevel(level int) float64 {
	ladder := e.settings.MarginPercentages
	if len(ladder) == 0 {
		return 0
	}
	if level >= len(ladder) {
		return ladder[len(ladder)-1]
	}
	return ladder[level]
}

// symbolState returns the lock and state for a symbol, creating both on
// first use.
func (e *Engine) symbolState(symbol string) (*sync.Mutex, *PositionState) {
	e.mu.Lock()
	defer e.mu.Unlock()

	lock, ok := e.locks[symbol]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[symbol] = lock
	}
	st, ok := e.states[symbol]
	if !ok {
		st = newPositionState(symbol)
		e.states[symbol] = st
	}
	return lock, st
}

// totalMarginUsed sums margin across all symbols. Advisory read used
// for exposure checks; per-symbol accuracy is enforced under the symbol
// lock.
func (e *Engine) totalMarginUsed() float64 {
	e.mu.RLock()
	defer e.mu.RUnlock()

	total := 0.0
	for _, st := range e.states {
		total += st.MarginUsed
	}
	return total
}

// TrackedSymbols returns the configured symbols plus any symbol with
// local state, deduplicated and sorted.
func (e *Engine) TrackedSymbols() []string {
	seen := make(map[string]struct{})
	for _, s := range e.settings.Symbols {
		seen[strings.ToUpper(s)] = struct{}{}
	}
	e.mu.RLock()
	for s := range e.states {
		seen[s] = struct{}{}
	}
	e.mu.RUnlock()

	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// Snapshots returns copies of every symbol's state, sorted by symbol.
func (e *Engine) Snapshots() []Snapshot {
	e.mu.RLock()
	defer e.mu.RUnlock()

	out := make([]Snapshot, 0, len(e.states))
	for _, st := range e.states {
		out = append(out, st.snapshot())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Symbol < out[j].Symbol })
	return out
}

// Snapshot returns the state for one symbol.
func (e *Engine) Snapshot(symbol string) (Snapshot, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()

	st, ok := e.states[strings.ToUpper(symbol)]
	if !ok {
		return Snapshot{}, false
	}
	return st.snapshot(), true
}

// EntriesSuspended reports whether the entry breaker is open.
func (e *Engine) EntriesSuspended() bool {
	return e.entryBreaker.GetState() == safety.StateOpen
}

func (e *Engine) emit(st *PositionState, event string) {
	update := types.PositionUpdate{
		Symbol:       st.Symbol,
		PyramidLevel: st.Level,
		ExitCount:    st.ExitCount,
		CurrentSize:  st.CurrentSize,
		AverageEntry: st.AverageEntry,
		MarginUsed:   st.MarginUsed,
		Event:        event,
		Timestamp:    time.Now(),
	}

	e.sinkMu.RLock()
	sinks := e.sinks
	e.sinkMu.RUnlock()
	for _, sink := range sinks {
		sink.RecordUpdate(update)
	}
}

func (e *Engine) persistSnapshots() {
	e.sinkMu.RLock()
	persist := e.persist
	e.sinkMu.RUnlock()
	if persist != nil {
		persist(e.Snapshots())
	}
}

// Gateway helpers with per-call timeouts. A timeout surfaces as an
// EXCHANGE error like any other venue failure.

func (e *Engine) marketPrice(ctx context.Context, symbol string) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	price, err := e.gateway.GetMarketPrice(callCtx, symbol)
	if err != nil {
		return 0, errors.NewExchangeError("engine", "get_market_price", err)
	}
	return price, nil
}

func (e *Engine) accountValue(ctx context.Context) (float64, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	value, err := e.gateway.GetAccountValue(callCtx)
	if err != nil {
		return 0, errors.NewExchangeError("engine", "get_account_value", err)
	}
	if value <= 0 {
		return 0, errors.NewStateError("engine", "get_account_value", "exchange reported non-positive account value")
	}
	return value, nil
}

func (e *Engine) instrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	limits, err := e.gateway.GetInstrumentLimits(callCtx, symbol)
	if err != nil {
		return nil, errors.NewExchangeError("engine", "get_instrument_limits", err)
	}
	return limits, nil
}

func (e *Engine) setLeverage(ctx context.Context, symbol string, lev float64) error {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	return e.gateway.SetLeverage(callCtx, symbol, lev)
}

func (e *Engine) placeOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	callCtx, cancel := context.WithTimeout(ctx, e.settings.CallTimeout)
	defer cancel()
	result, err := e.gateway.PlaceOrder(callCtx, req)
	if err != nil {
		return nil, errors.NewExchangeError("engine", "place_order", err)
	}
	return result, nil
}
