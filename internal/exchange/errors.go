package exchange

import "errors"

// Validation errors
var (
	ErrInvalidAsset   = errors.New("invalid asset")
	ErrDuplicateAsset = errors.New("offered and requested asset are the same")
	ErrInvalidAmount  = errors.New("amount must be positive")
	ErrInvalidAddress = errors.New("invalid address")
)

// State errors
var (
	ErrNotFound         = errors.New("order not found")
	ErrAlreadyFilled    = errors.New("order already filled")
	ErrCancelled        = errors.New("order is cancelled")
	ErrAlreadyCancelled = errors.New("order already cancelled")
	ErrSelfFill         = errors.New("maker cannot fill own order")
	ErrUnauthorized     = errors.New("unauthorized")
)

// Resource errors
var (
	ErrCapacityExceeded = errors.New("active order limit reached")
	ErrQueryTooLarge    = errors.New("query count exceeds limit")
)

// Custody errors
var (
	ErrInsufficientBalance   = errors.New("insufficient balance")
	ErrInsufficientAllowance = errors.New("insufficient allowance")
	ErrTransferFailed        = errors.New("transfer failed")
)

// Concurrency errors
var (
	ErrPaused     = errors.New("exchange is paused")
	ErrReentrancy = errors.New("reentrant call")
)
