package bybit

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"sync"
	"time"

	bybit_api "github.com/bybit-exchange/bybit.go.api"

	"github.com/ducminhle1904/pyramid-bot/internal/exchange"
	"github.com/ducminhle1904/pyramid-bot/internal/safety"
)

// Request budget well under Bybit's per-endpoint limits.
const (
	rateLimitCapacity = 10
	rateLimitRefill   = 5
)

// Gateway adapts the Bybit v5 unified trading API to the exchange
// surface the engine trades through. Read calls are retried with
// backoff; order placement is submitted exactly once to avoid duplicate
// fills.
type Gateway struct {
	client      *Client
	category    string
	settleCoin  string
	limiter     *safety.RateLimiter
	validator   *safety.Validator
	instruments *instrumentCache
	retryCfg    RetryConfig

	mu        sync.Mutex
	connected bool
}

// NewGateway creates a gateway over the Bybit unified account API.
// Category is the contract class, normally "linear".
func NewGateway(cfg Config, category string) *Gateway {
	if category == "" {
		category = "linear"
	}
	g := &Gateway{
		client:     NewClient(cfg),
		category:   category,
		settleCoin: "USDT",
		limiter:    safety.NewRateLimiter("bybit", rateLimitCapacity, rateLimitRefill),
		validator:  safety.NewValidator(),
		retryCfg:   DefaultRetryConfig(),
	}
	g.instruments = newInstrumentCache(g.fetchInstrumentLimits)
	return g
}

// GetName identifies the venue.
func (g *Gateway) GetName() string {
	return fmt.Sprintf("bybit (%s)", g.client.Environment())
}

// IsDemo reports whether orders go to the demo environment.
func (g *Gateway) IsDemo() bool {
	return g.client.IsDemo()
}

// Connect verifies credentials by fetching the account wallet once.
func (g *Gateway) Connect(ctx context.Context) error {
	if _, err := g.GetAccountValue(ctx); err != nil {
		return fmt.Errorf("bybit connection check failed: %w", err)
	}
	g.mu.Lock()
	g.connected = true
	g.mu.Unlock()
	return nil
}

// Disconnect marks the gateway as closed. The underlying HTTP client is
// stateless.
func (g *Gateway) Disconnect() error {
	g.mu.Lock()
	g.connected = false
	g.mu.Unlock()
	return nil
}

// GetAccountValue returns total unified account equity.
func (g *Gateway) GetAccountValue(ctx context.Context) (float64, error) {
	params := map[string]interface{}{
		"accountType": "UNIFIED",
	}

	var result struct {
		List []struct {
			TotalEquity string `json:"totalEquity"`
		} `json:"list"`
	}

	err := g.withRetry(ctx, "get account wallet", func() error {
		resp, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetAccountWallet(ctx)
		if err != nil {
			return err
		}
		return unwrapResult(resp, &result)
	})
	if err != nil {
		return 0, err
	}

	if len(result.List) == 0 {
		return 0, fmt.Errorf("no unified account data returned")
	}
	return parseFloat64(result.List[0].TotalEquity), nil
}

// GetMarketPrice returns the last traded price for the symbol.
func (g *Gateway) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	params := map[string]interface{}{
		"category": g.category,
		"symbol":   symbol,
	}

	var result struct {
		Category string `json:"category"`
		List     []struct {
			Symbol    string `json:"symbol"`
			LastPrice string `json:"lastPrice"`
		} `json:"list"`
	}

	err := g.withRetry(ctx, "get market tickers", func() error {
		resp, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetMarketTickers(ctx)
		if err != nil {
			return err
		}
		return unwrapResult(resp, &result)
	})
	if err != nil {
		return 0, err
	}

	if len(result.List) == 0 {
		return 0, fmt.Errorf("ticker %s: %w", symbol, exchange.ErrInvalidSymbol)
	}
	price := parseFloat64(result.List[0].LastPrice)
	if price <= 0 {
		return 0, fmt.Errorf("ticker %s returned price %.8f", symbol, price)
	}
	return price, nil
}

// GetPosition returns the live position for one symbol. A symbol with no
// open position returns a zero-size position.
func (g *Gateway) GetPosition(ctx context.Context, symbol string) (*exchange.Position, error) {
	positions, err := g.fetchPositions(ctx, symbol)
	if err != nil {
		return nil, err
	}
	for i := range positions {
		if positions[i].Symbol == symbol {
			return &positions[i], nil
		}
	}
	return &exchange.Position{Symbol: symbol}, nil
}

// GetPositions returns all open positions in the configured category.
func (g *Gateway) GetPositions(ctx context.Context) ([]exchange.Position, error) {
	return g.fetchPositions(ctx, "")
}

func (g *Gateway) fetchPositions(ctx context.Context, symbol string) ([]exchange.Position, error) {
	params := map[string]interface{}{
		"category": g.category,
	}
	if symbol != "" {
		params["symbol"] = symbol
	} else {
		// The position list endpoint requires a symbol or a settle coin.
		params["settleCoin"] = g.settleCoin
	}

	var result struct {
		Category string `json:"category"`
		List     []struct {
			Symbol        string `json:"symbol"`
			Side          string `json:"side"`
			Size          string `json:"size"`
			EntryPrice    string `json:"entryPrice"`
			MarkPrice     string `json:"markPrice"`
			Leverage      string `json:"leverage"`
			UnrealisedPnl string `json:"unrealisedPnl"`
			PositionIM    string `json:"positionIM"`
		} `json:"list"`
	}

	err := g.withRetry(ctx, "get position list", func() error {
		resp, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).GetPositionList(ctx)
		if err != nil {
			return err
		}
		return unwrapResult(resp, &result)
	})
	if err != nil {
		return nil, err
	}

	positions := make([]exchange.Position, 0, len(result.List))
	for _, item := range result.List {
		size := parseFloat64(item.Size)
		if item.Side == "Sell" {
			size = -size
		}
		positions = append(positions, exchange.Position{
			Symbol:        item.Symbol,
			Size:          size,
			EntryPrice:    parseFloat64(item.EntryPrice),
			MarkPrice:     parseFloat64(item.MarkPrice),
			Leverage:      parseFloat64(item.Leverage),
			UnrealisedPnl: parseFloat64(item.UnrealisedPnl),
			PositionIM:    parseFloat64(item.PositionIM),
		})
	}
	return positions, nil
}

// GetInstrumentLimits returns cached venue sizing constraints for the
// symbol.
func (g *Gateway) GetInstrumentLimits(ctx context.Context, symbol string) (*exchange.InstrumentLimits, error) {
	return g.instruments.Get(ctx, symbol)
}

// SetLeverage applies the leverage for subsequent orders. Setting the
// value the position already has is treated as success.
func (g *Gateway) SetLeverage(ctx context.Context, symbol string, leverage float64) error {
	lev := strconv.FormatFloat(leverage, 'f', -1, 64)
	params := map[string]interface{}{
		"category":     g.category,
		"symbol":       symbol,
		"buyLeverage":  lev,
		"sellLeverage": lev,
	}

	err := g.withRetry(ctx, "set leverage", func() error {
		resp, err := g.client.httpClient.NewUtaBybitServiceWithParams(params).SetPositionLeverage(ctx)
		if err != nil {
			return err
		}
		return unwrapResult(resp, &struct{}{})
	})
	if bybitErr, ok := err.(*BybitError); ok && bybitErr.Code == ErrCodeLeverageNotModified {
		return nil
	}
	return err
}

// PlaceOrder submits one order. It is never retried internally: a
// timeout after submission must surface to the caller rather than risk
// a duplicate fill.
func (g *Gateway) PlaceOrder(ctx context.Context, req exchange.OrderRequest) (*exchange.OrderResult, error) {
	limits, err := g.instruments.Get(ctx, req.Symbol)
	if err != nil {
		return nil, err
	}
	if res := g.validator.ValidateQuantity(req.Quantity, req.Symbol); !res.Valid {
		return nil, fmt.Errorf("%s", res.Message)
	}
	if limits.MinQty > 0 && req.Quantity < limits.MinQty {
		return nil, fmt.Errorf("qty %.8f below min %.8f for %s: %w",
			req.Quantity, limits.MinQty, req.Symbol, exchange.ErrOrderTooSmall)
	}
	if limits.MaxQty > 0 && req.Quantity > limits.MaxQty {
		return nil, fmt.Errorf("qty %.8f above max %.8f for %s", req.Quantity, limits.MaxQty, req.Symbol)
	}

	apiParams := map[string]interface{}{
		"category":  g.category,
		"symbol":    req.Symbol,
		"side":      string(req.Side),
		"orderType": string(req.OrderType),
		"qty":       formatQty(req.Quantity, limits.LotSize),
	}
	if req.OrderType == exchange.TypeLimit {
		if req.LimitPrice <= 0 {
			return nil, fmt.Errorf("limit order for %s requires a positive price", req.Symbol)
		}
		apiParams["price"] = formatPrice(req.LimitPrice, limits.TickSize)
		apiParams["timeInForce"] = "GTC"
	}
	if req.ReduceOnly {
		apiParams["reduceOnly"] = true
	}

	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := g.client.httpClient.NewUtaBybitServiceWithParams(apiParams).PlaceOrder(ctx)
	if err != nil {
		return nil, WrapAPIError("place order", err)
	}

	var result struct {
		OrderID     string `json:"orderId"`
		OrderLinkID string `json:"orderLinkId"`
		AvgPrice    string `json:"avgPrice"`
		OrderStatus string `json:"orderStatus"`
		CreatedTime string `json:"createdTime"`
	}
	if err := unwrapResult(resp, &result); err != nil {
		return nil, mapOrderError(err)
	}

	status := result.OrderStatus
	if status == "" {
		status = "Created"
	}
	created := parseTimestamp(result.CreatedTime)
	if created.IsZero() {
		created = time.Now()
	}

	return &exchange.OrderResult{
		OrderID:     result.OrderID,
		Symbol:      req.Symbol,
		Side:        req.Side,
		Quantity:    req.Quantity,
		AvgPrice:    parseFloat64(result.AvgPrice),
		Status:      status,
		CreatedTime: created,
	}, nil
}

// withRetry rate-limits and retries one idempotent API call.
func (g *Gateway) withRetry(ctx context.Context, operation string, fn func() error) error {
	err := RetryWithConfig(ctx, func() error {
		if err := g.limiter.Wait(ctx); err != nil {
			return err
		}
		return fn()
	}, g.retryCfg)
	if err != nil {
		return WrapAPIError(operation, err)
	}
	return nil
}

// unwrapResult checks the API envelope and decodes its result payload.
func unwrapResult(response interface{}, out interface{}) error {
	serverResp, ok := response.(*bybit_api.ServerResponse)
	if !ok {
		return fmt.Errorf("unexpected response type %T", response)
	}
	if serverResp.RetCode != 0 {
		return ParseAPIError(serverResp.RetCode, serverResp.RetMsg)
	}

	resultBytes, err := json.Marshal(serverResp.Result)
	if err != nil {
		return fmt.Errorf("failed to marshal result: %w", err)
	}
	if err := json.Unmarshal(resultBytes, out); err != nil {
		return fmt.Errorf("failed to unmarshal result: %w", err)
	}
	return nil
}

// mapOrderError translates well-known venue rejections into sentinel
// errors the engine can classify.
func mapOrderError(err error) error {
	bybitErr, ok := err.(*BybitError)
	if !ok {
		return err
	}
	switch bybitErr.Code {
	case ErrCodeInsufficientBalance:
		return fmt.Errorf("%w: %s", exchange.ErrInsufficientBalance, bybitErr.Message)
	case ErrCodeSymbolNotFound:
		return fmt.Errorf("%w: %s", exchange.ErrInvalidSymbol, bybitErr.Message)
	case ErrCodeInvalidQuantity:
		return fmt.Errorf("%w: %s", exchange.ErrOrderTooSmall, bybitErr.Message)
	case ErrCodeRateLimitExceeded:
		return fmt.Errorf("%w: %s", exchange.ErrRateLimited, bybitErr.Message)
	case ErrCodeInvalidAPIKey, ErrCodeInvalidSignature, ErrCodeInvalidTimestamp:
		return fmt.Errorf("%w: %s", exchange.ErrAuthentication, bybitErr.Message)
	}
	return err
}
