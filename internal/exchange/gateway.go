package exchange

import (
	"context"
	"time"
)

// Gateway is the single exchange surface the engine trades through.
// Implementations wrap a concrete venue; timeouts come from the caller's
// context.
type Gateway interface {
	// GetName identifies the venue for logs and tables.
	GetName() string
	IsDemo() bool

	// GetAccountValue returns total account equity in the margin currency.
	GetAccountValue(ctx context.Context) (float64, error)

	// GetMarketPrice returns the latest traded price for the symbol.
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)

	// GetPosition returns the live position for one symbol. A flat symbol
	// returns a zero-size position, not an error.
	GetPosition(ctx context.Context, symbol string) (*Position, error)

	// GetPositions returns all open positions.
	GetPositions(ctx context.Context) ([]Position, error)

	// GetInstrumentLimits returns the venue's sizing constraints for the
	// symbol. Lot size and tick size always come from here, never from
	// configuration.
	GetInstrumentLimits(ctx context.Context, symbol string) (*InstrumentLimits, error)

	// SetLeverage applies the leverage for subsequent orders on the symbol.
	SetLeverage(ctx context.Context, symbol string, leverage float64) error

	// PlaceOrder submits an order and returns the venue confirmation.
	// Callers mutate state only after a nil error.
	PlaceOrder(ctx context.Context, req OrderRequest) (*OrderResult, error)

	Connect(ctx context.Context) error
	Disconnect() error
}

// OrderSide matches the venue's string casing.
type OrderSide string

const (
	SideBuy  OrderSide = "Buy"
	SideSell OrderSide = "Sell"
)

// OrderType is the execution style of an order.
type OrderType string

const (
	TypeMarket OrderType = "Market"
	TypeLimit  OrderType = "Limit"
)

// OrderRequest carries everything needed to submit one order.
// ReduceOnly orders shrink an existing position and can never open or
// flip one.
type OrderRequest struct {
	Symbol     string    `json:"symbol"`
	Side       OrderSide `json:"side"`
	Quantity   float64   `json:"quantity"`
	OrderType  OrderType `json:"order_type"`
	LimitPrice float64   `json:"limit_price,omitempty"`
	ReduceOnly bool      `json:"reduce_only"`
}

// OrderResult is the venue's confirmation of a placed order.
type OrderResult struct {
	OrderID     string    `json:"order_id"`
	Symbol      string    `json:"symbol"`
	Side        OrderSide `json:"side"`
	Quantity    float64   `json:"quantity"`
	AvgPrice    float64   `json:"avg_price"`
	Status      string    `json:"status"`
	CreatedTime time.Time `json:"created_time"`
}

// Position is a live position snapshot. Size is positive for long,
// negative for short, zero when flat.
type Position struct {
	Symbol        string  `json:"symbol"`
	Size          float64 `json:"size"`
	EntryPrice    float64 `json:"entry_price"`
	MarkPrice     float64 `json:"mark_price"`
	Leverage      float64 `json:"leverage"`
	UnrealisedPnl float64 `json:"unrealised_pnl"`
	PositionIM    float64 `json:"position_im"`
}

// Notional returns the absolute position value at the mark price.
func (p *Position) Notional() float64 {
	size := p.Size
	if size < 0 {
		size = -size
	}
	return size * p.MarkPrice
}

// IsFlat reports whether the position is effectively closed. The epsilon
// absorbs dust left by lot-size flooring.
func (p *Position) IsFlat(epsilon float64) bool {
	return p.Size > -epsilon && p.Size < epsilon
}

// InstrumentLimits are the venue sizing constraints for one symbol.
type InstrumentLimits struct {
	Symbol      string  `json:"symbol"`
	LotSize     float64 `json:"lot_size"`
	TickSize    float64 `json:"tick_size"`
	MinQty      float64 `json:"min_qty"`
	MaxQty      float64 `json:"max_qty"`
	MinNotional float64 `json:"min_notional"`
	MaxLeverage float64 `json:"max_leverage"`
}

// GatewayError is a venue failure with a retryability hint for the retry
// layer.
type GatewayError struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Details   string `json:"details,omitempty"`
	Retryable bool   `json:"retryable"`
}

func (e *GatewayError) Error() string {
	if e.Details != "" {
		return e.Message + ": " + e.Details
	}
	return e.Message
}

var (
	ErrInsufficientBalance = &GatewayError{
		Code:      "INSUFFICIENT_BALANCE",
		Message:   "insufficient balance for order",
		Retryable: false,
	}

	ErrInvalidSymbol = &GatewayError{
		Code:      "INVALID_SYMBOL",
		Message:   "unknown trading symbol",
		Retryable: false,
	}

	ErrOrderTooSmall = &GatewayError{
		Code:      "ORDER_TOO_SMALL",
		Message:   "order size below venue minimum",
		Retryable: false,
	}

	ErrRateLimited = &GatewayError{
		Code:      "RATE_LIMITED",
		Message:   "API rate limit exceeded",
		Retryable: true,
	}

	ErrConnection = &GatewayError{
		Code:      "CONNECTION_FAILED",
		Message:   "exchange connection failed",
		Retryable: true,
	}

	ErrAuthentication = &GatewayError{
		Code:      "AUTHENTICATION_FAILED",
		Message:   "API authentication failed",
		Retryable: false,
	}
)
