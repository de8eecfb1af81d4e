package bybit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
)

// instrumentCache caches venue sizing constraints per symbol. Instrument
// definitions change rarely, so entries are refreshed hourly.
type instrumentCache struct {
	fetch func(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error)

	mu      sync.RWMutex
	entries map[string]cachedInstrument
	ttl     time.Duration
}

type cachedInstrument struct {
	limits    exchange.InstrumentLimits
	fetchedAt time.Time
}

func newInstrumentCache(fetch func(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error)) *instrumentCache {
	return &instrumentCache{
		fetch:   fetch,
		entries: make(map[string]cachedInstrument),
		ttl:     time.Hour,
	}
}

// Get returns the cached limits for the symbol, fetching on a miss or
// after the entry expires.
func (ic *instrumentCache) Get(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	ic.mu.RLock()
	if entry, ok := ic.entries[symbol]; ok && time.Since(entry.fetchedAt) < ic.ttl {
		ic.mu.RUnlock()
		limits := entry.limits
		return &limits, nil
	}
	ic.mu.RUnlock()

	limits, err := ic.fetch(ctx, symbol)
	if err != nil {
		return nil, err
	}

	ic.mu.Lock()
	ic.entries[symbol] = cachedInstrument{limits: *limits, fetchedAt: time.Now()}
	ic.mu.Unlock()

	return limits, nil
}

// Invalidate drops the cache so the next lookup refetches.
func (ic *instrumentCache) Invalidate() {
	ic.mu.Lock()
	ic.entries = make(map[string]cachedInstrument)
	ic.mu.Unlock()
}

// fetchInstrumentLimits queries the venue for one symbol's instrument
// definition and maps its filters onto sizing limits.
func (g *Gateway) fetchInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	var result struct {
		Category string `json:"category"`
		List     []struct {
			Symbol         string `json:"symbol"`
			Status         string `json:"status"`
			LeverageFilter struct {
				MinLeverage  string `json:"minLeverage"`
				MaxLeverage  string `json:"maxLeverage"`
				LeverageStep string `json:"leverageStep"`
			} `json:"leverageFilter"`
			PriceFilter struct {
				MinPrice string `json:"minPrice"`
				MaxPrice string `json:"maxPrice"`
				TickSize string `json:"tickSize"`
			} `json:"priceFilter"`
			LotSizeFilter struct {
				MinNotionalValue string `json:"minNotionalValue"`
				MaxOrderQty      string `json:"maxOrderQty"`
				MinOrderQty      string `json:"minOrderQty"`
				QtyStep          string `json:"qtyStep"`
			} `json:"lotSizeFilter"`
		} `json:"list"`
	}

	err := g.withRetry(ctx, "get instrument info", func() error {
		resp, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetInstrumentInfo(ctx)
		if err != nil {
			return err
		}
		return unwrapResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	for _, item := range result.List {
		if item.Symbol != symbol {
			continue
		}
		return &exchange.InstrumentLimits{
			Symbol:      item.Symbol,
			LotSize:     parseFloat64(item.LotSizeFilter.QtyStep),
			TickSize:    parseFloat64(item.PriceFilter.TickSize),
			MinQty:      parseFloat64(item.LotSizeFilter.MinOrderQty),
			MaxQty:      parseFloat64(item.LotSizeFilter.MaxOrderQty),
			MinNotional: parseFloat64(item.LotSizeFilter.MinNotionalValue),
			MaxLeverage: parseFloat64(item.LeverageFilter.MaxLeverage),
		}, nil
	}

	return nil, fmt.Errorf("instrument %s: %w", symbol, exchange.ErrInvalidSymbol)
}
