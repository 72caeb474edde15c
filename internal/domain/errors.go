package domain

import (
	"errors"
	"fmt"

	"twamm_go/pkg/fixed"
)

// RetriableError defines an interface for errors that can be retried
type RetriableError interface {
	error
	IsRetriable() bool
}

// IsRetriable checks if an error is retriable.
// No engine error is: a failed operation is re-submitted by the caller, never retried here.
func IsRetriable(err error) bool {
	var re RetriableError
	if errors.As(err, &re) {
		return re.IsRetriable()
	}
	return false
}

var (
	// ErrInvalidAmount covers zero/negative quantities and degenerate sale rates.
	ErrInvalidAmount = errors.New("invalid amount")

	// ErrInvalidAsset is returned for an asset that is not one of the pool's two tokens.
	ErrInvalidAsset = errors.New("invalid asset")

	// ErrNotFound is returned for an unknown order or one with no remaining claim.
	ErrNotFound = errors.New("order not found")

	// ErrUnauthorized is returned when the caller does not own the order.
	ErrUnauthorized = errors.New("caller is not order owner")

	// ErrNoProceeds is returned when a cancel or withdraw would pay out nothing.
	ErrNoProceeds = errors.New("no proceeds to pay out")

	// ErrInsufficientBalance is returned by custody and share ledgers.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrAlreadyInitialized is returned when initial liquidity is provided twice.
	ErrAlreadyInitialized = errors.New("liquidity already provided")

	// ErrNotInitialized is returned when the pool has no liquidity yet.
	ErrNotInitialized = errors.New("no liquidity provided yet")

	// ErrDomain and ErrOverflow are the fixed-point math failures.
	ErrDomain   = fixed.ErrDomain
	ErrOverflow = fixed.ErrOverflow

	// ErrConfigNotFound is returned when configuration file is missing
	ErrConfigNotFound = errors.New("configuration not found")
)

// ConfigError represents a configuration error (never retriable)
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return "config error [" + e.Field + "]: " + e.Err.Error()
}

func (e *ConfigError) IsRetriable() bool {
	return false
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// OrderError ties a failure to the long-term order it concerns.
type OrderError struct {
	Op      string // "create", "cancel", "withdraw"
	OrderID uint64
	Err     error
}

func (e *OrderError) Error() string {
	return fmt.Sprintf("%s order %d: %v", e.Op, e.OrderID, e.Err)
}

func (e *OrderError) IsRetriable() bool {
	return false
}

func (e *OrderError) Unwrap() error {
	return e.Err
}

// NewOrderError wraps err for order id.
func NewOrderError(op string, id uint64, err error) *OrderError {
	return &OrderError{Op: op, OrderID: id, Err: err}
}
