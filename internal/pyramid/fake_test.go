package pyramid

import (
	"context"
	"sync"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
)

// fakeGateway is a scripted in-memory venue. Market buys and sells are
// applied to the live position map so reconciliation observes a
// consistent exchange.
type fakeGateway struct {
	mu           sync.Mutex
	accountValue float64
	prices       map[string]float64
	positions    map[string]*exchange.Position
	limits       exchange.InstrumentLimits
	leverages    map[string]float64

	orderErr   error
	orders     []exchange.OrderRequest
	placeCalls int
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		accountValue: 10000,
		prices:       map[string]float64{"BTCUSDT": 50000},
		positions:    make(map[string]*exchange.Position),
		leverages:    make(map[string]float64),
		limits: exchange.InstrumentLimits{
			LotSize:     0.001,
			TickSize:    0.1,
			MinQty:      0.001,
			MaxQty:      100,
			MinNotional: 5,
			MaxLeverage: 100,
		},
	}
}

func (f *fakeGateway) GetName() string { return "fake" }
func (f *fakeGateway) IsDemo() bool    { return true }

func (f *fakeGateway) Connect(ctx context.Context) error { return nil }
func (f *fakeGateway) Disconnect() error                 { return nil }

func (f *fakeGateway) GetAccountValue(ctx context.Context) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.accountValue, nil
}

func (f *fakeGateway) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.prices[symbol], nil
}

func (f *fakeGateway) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if pos, ok := f.positions[symbol]; ok {
		copied := *pos
		return &copied, nil
	}
	return &exchange.Position{Symbol: symbol}, nil
}

func (f *fakeGateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]exchange.Position, 0, len(f.positions))
	for _, pos := range f.positions {
		out = append(out, *pos)
	}
	return out, nil
}

func (f *fakeGateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	limits := f.limits
	limits.Symbol = symbol
	return &limits, nil
}

func (f *fakeGateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.leverages[symbol] = leverage
	return nil
}

func (f *fakeGateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.placeCalls++
	if f.orderErr != nil {
		return nil, f.orderErr
	}
	f.orders = append(f.orders, req)

	price := f.prices[req.Symbol]
	pos, ok := f.positions[req.Symbol]
	if !ok {
		pos = &exchange.Position{Symbol: req.Symbol, Leverage: f.leverages[req.Symbol]}
		f.positions[req.Symbol] = pos
	}

	switch req.Side {
	case exchange.SideBuy:
		total := pos.Size + req.Quantity
		if total > 0 {
			pos.EntryPrice = (pos.EntryPrice*pos.Size + price*req.Quantity) / total
		}
		pos.Size = total
	case exchange.SideSell:
		pos.Size -= req.Quantity
		if pos.Size <= 1e-9 {
			delete(f.positions, req.Symbol)
		}
	}
	pos.MarkPrice = price

	return &exchange.OrderResult{
		OrderID:     "fake-order",
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		AvgPrice:    price,
		Status:      "Filled",
		CreatedTime: time.Now(),
	}, nil
}

// setLive scripts the exchange-side position directly, bypassing orders.
func (f *fakeGateway) setLive(symbol string, size, entry, leverage float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if size == 0 {
		delete(f.positions, symbol)
		return
	}
	f.positions[symbol] = &exchange.Position{
		Symbol:     symbol,
		Size:       size,
		EntryPrice: entry,
		MarkPrice:  f.prices[symbol],
		Leverage:   leverage,
	}
}

func (f *fakeGateway) orderCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.orders)
}

func (f *fakeGateway) lastOrder() exchange.OrderRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.orders[len(f.orders)-1]
}
