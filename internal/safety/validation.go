package safety

import (
	"fmt"
	"math"
	"strings"
)

// ValidationResult represents the result of a validation check
type ValidationResult struct {
	Valid   bool
	Message string
	Code    string
}

// Validator checks order inputs before they reach the exchange.
type Validator struct{}

// NewValidator creates a new validator instance
func NewValidator() *Validator {
	return &Validator{}
}

// ValidatePrice validates a price value for trading
func (v *Validator) ValidatePrice(price float64, symbol string) ValidationResult {
	if math.IsNaN(price) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid price for %s: price is NaN", symbol),
			Code:    "INVALID_PRICE_NAN",
		}
	}

	if math.IsInf(price, 0) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid price for %s: price is infinite", symbol),
			Code:    "INVALID_PRICE_INF",
		}
	}

	if price <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid price %.8f for %s: price must be positive", price, symbol),
			Code:    "INVALID_PRICE_NEGATIVE",
		}
	}

	// Bounds catch obvious feed corruption
	if price > 1e10 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("suspicious price %.8f for %s: exceeds reasonable bounds", price, symbol),
			Code:    "PRICE_OUT_OF_BOUNDS",
		}
	}

	if price < 1e-8 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("suspicious price %.8f for %s: below reasonable bounds", price, symbol),
			Code:    "PRICE_TOO_SMALL",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateQuantity validates a quantity value for trading
func (v *Validator) ValidateQuantity(quantity float64, symbol string) ValidationResult {
	if math.IsNaN(quantity) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid quantity for %s: quantity is NaN", symbol),
			Code:    "INVALID_QUANTITY_NAN",
		}
	}

	if math.IsInf(quantity, 0) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid quantity for %s: quantity is infinite", symbol),
			Code:    "INVALID_QUANTITY_INF",
		}
	}

	if quantity <= 0 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("invalid quantity %.8f for %s: quantity must be positive", quantity, symbol),
			Code:    "INVALID_QUANTITY_NEGATIVE",
		}
	}

	if quantity > 1e12 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("suspicious quantity %.8f for %s: exceeds reasonable bounds", quantity, symbol),
			Code:    "QUANTITY_OUT_OF_BOUNDS",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateOrderAgainstLimits checks an order against the venue's
// instrument constraints.
func (v *Validator) ValidateOrderAgainstLimits(price, quantity, minQty, maxQty, minNotional float64, symbol string) ValidationResult {
	if priceResult := v.ValidatePrice(price, symbol); !priceResult.Valid {
		return priceResult
	}
	if quantityResult := v.ValidateQuantity(quantity, symbol); !quantityResult.Valid {
		return quantityResult
	}

	if minQty > 0 && quantity < minQty {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("quantity %.8f for %s below instrument minimum %.8f", quantity, symbol, minQty),
			Code:    "QUANTITY_BELOW_MIN",
		}
	}

	if maxQty > 0 && quantity > maxQty {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("quantity %.8f for %s above instrument maximum %.8f", quantity, symbol, maxQty),
			Code:    "QUANTITY_ABOVE_MAX",
		}
	}

	if minNotional > 0 && price*quantity < minNotional {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("order value $%.2f for %s below minimum notional $%.2f", price*quantity, symbol, minNotional),
			Code:    "NOTIONAL_BELOW_MIN",
		}
	}

	return ValidationResult{Valid: true}
}

// ValidateSymbol validates a trading symbol format
func (v *Validator) ValidateSymbol(symbol string) ValidationResult {
	trimmed := strings.TrimSpace(symbol)
	if trimmed == "" {
		return ValidationResult{
			Valid:   false,
			Message: "symbol is empty",
			Code:    "INVALID_SYMBOL_EMPTY",
		}
	}

	if trimmed != strings.ToUpper(trimmed) {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("symbol %q must be uppercase", symbol),
			Code:    "INVALID_SYMBOL_CASE",
		}
	}

	if len(trimmed) > 20 {
		return ValidationResult{
			Valid:   false,
			Message: fmt.Sprintf("symbol %q exceeds maximum length", symbol),
			Code:    "INVALID_SYMBOL_LENGTH",
		}
	}

	return ValidationResult{Valid: true}
}
