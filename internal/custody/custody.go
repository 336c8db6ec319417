// Package custody defines the asset-transfer backend the exchange moves escrowed funds through.
package custody

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

var (
	ErrUnknownAsset          = errors.New("unknown asset")
	ErrInsufficientBalance   = errors.New("transfer amount exceeds balance")
	ErrInsufficientAllowance = errors.New("transfer amount exceeds allowance")
	ErrInvalidAmount         = errors.New("invalid transfer amount")
	ErrRejected              = errors.New("transfer rejected by asset")
)

// Ledger is the value-transfer service holding every account's asset balances.
//
// Implementations must pass the ctx they receive on to any code they call back into
// (asset hooks, remote handlers), since the exchange uses it to detect reentrant calls.
type Ledger interface {
	// IsAsset reports whether asset is a deployed, transfer-capable asset
	IsAsset(ctx context.Context, asset common.Address) (bool, error)
	BalanceOf(ctx context.Context, asset, account common.Address) (decimal.Decimal, error)
	Allowance(ctx context.Context, asset, owner, spender common.Address) (decimal.Decimal, error)
	// Transfer moves amount of asset from `from` to `to` out of from's own balance
	Transfer(ctx context.Context, asset, from, to common.Address, amount decimal.Decimal) error
	// TransferFrom moves amount on behalf of `from`, consuming spender's allowance
	TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount decimal.Decimal) error
	// Atomic runs fn against a view of the ledger whose transfers are all undone if fn fails
	Atomic(ctx context.Context, fn func(Ledger) error) error
}
