package errors

import (
	"errors"
	"fmt"
)

// Category classifies a trading error so callers can decide between
// dropping a signal, aborting processing, or deferring to reconciliation.
type Category string

const (
	// CategoryValidation covers bad inputs: size below minimum, zero or
	// negative price, malformed signals. Signals carrying these are dropped.
	CategoryValidation Category = "VALIDATION"

	// CategoryExposure marks a buy that would breach the account exposure
	// cap. Dropped like a validation failure, state untouched.
	CategoryExposure Category = "EXPOSURE"

	// CategoryExchange covers order rejections, network failures and
	// timeouts. Aborts the current signal without mutating state.
	CategoryExchange Category = "EXCHANGE"

	// CategoryState marks a local/exchange position mismatch detected
	// outside a scheduled reconciliation. The next reconcile pass resolves
	// it; the exchange always wins.
	CategoryState Category = "STATE"

	// CategoryConfig covers malformed percentage ladders, unknown presets
	// and similar construction-time failures. Fatal.
	CategoryConfig Category = "CONFIG"
)

// TradeError is a categorized error with component/operation context.
type TradeError struct {
	Category   Category
	Component  string
	Operation  string
	Message    string
	Underlying error
	Retryable  bool
}

func (e *TradeError) Error() string {
	if e.Underlying != nil {
		return fmt.Sprintf("[%s:%s] %s: %s: %v", e.Category, e.Component, e.Operation, e.Message, e.Underlying)
	}
	return fmt.Sprintf("[%s:%s] %s: %s", e.Category, e.Component, e.Operation, e.Message)
}

func (e *TradeError) Unwrap() error {
	return e.Underlying
}

// IsFatal reports whether the error should stop the process rather than the
// current signal. Only configuration errors qualify.
func (e *TradeError) IsFatal() bool {
	return e.Category == CategoryConfig
}

// IsRetryable reports whether the failed operation may be retried.
func (e *TradeError) IsRetryable() bool {
	return e.Retryable
}

// New creates a categorized error without an underlying cause.
func New(category Category, component, operation, message string) *TradeError {
	return &TradeError{
		Category:  category,
		Component: component,
		Operation: operation,
		Message:   message,
		Retryable: category == CategoryExchange,
	}
}

// Wrap attaches category and context to an existing error. Returns nil for a
// nil cause so call sites can wrap unconditionally.
func Wrap(err error, category Category, component, operation string) *TradeError {
	if err == nil {
		return nil
	}
	return &TradeError{
		Category:   category,
		Component:  component,
		Operation:  operation,
		Message:    "operation failed",
		Underlying: err,
		Retryable:  category == CategoryExchange,
	}
}

// WithRetryable overrides the default retryable flag.
func (e *TradeError) WithRetryable(retryable bool) *TradeError {
	e.Retryable = retryable
	return e
}

// NewValidationError reports a dropped-signal validation failure.
func NewValidationError(component, operation, format string, args ...interface{}) *TradeError {
	return New(CategoryValidation, component, operation, fmt.Sprintf(format, args...))
}

// NewExposureError reports a buy rejected by the account exposure cap.
func NewExposureError(component string, requiredMargin, existingMargin, limit float64) *TradeError {
	return New(CategoryExposure, component, "sizing",
		fmt.Sprintf("margin $%.2f + existing $%.2f would exceed exposure limit $%.2f",
			requiredMargin, existingMargin, limit))
}

// NewExchangeError wraps a gateway failure.
func NewExchangeError(component, operation string, err error) *TradeError {
	return Wrap(err, CategoryExchange, component, operation)
}

// NewStateError reports a local/exchange position mismatch.
func NewStateError(component, operation, message string) *TradeError {
	return New(CategoryState, component, operation, message)
}

// NewConfigError reports an invalid configuration value.
func NewConfigError(component, format string, args ...interface{}) *TradeError {
	return New(CategoryConfig, component, "load", fmt.Sprintf(format, args...))
}

// CategoryOf extracts the category from an error chain, or empty when the
// chain carries no TradeError.
func CategoryOf(err error) Category {
	var te *TradeError
	if errors.As(err, &te) {
		return te.Category
	}
	return ""
}

// IsValidation reports whether the error chain is a validation failure.
func IsValidation(err error) bool { return CategoryOf(err) == CategoryValidation }

// IsExposure reports whether the error chain is an exposure rejection.
func IsExposure(err error) bool { return CategoryOf(err) == CategoryExposure }

// IsExchange reports whether the error chain is an exchange failure.
func IsExchange(err error) bool { return CategoryOf(err) == CategoryExchange }

// IsDroppable reports whether a signal carrying this error is silently
// dropped (logged, state untouched) rather than treated as a failure.
func IsDroppable(err error) bool {
	switch CategoryOf(err) {
	case CategoryValidation, CategoryExposure:
		return true
	}
	return false
}
