package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// Owner returns the account allowed to run administrative operations
func (e *Exchange) Owner(ctx context.Context) common.Address {
	e.adminMu.RLock()
	defer e.adminMu.RUnlock()
	return e.owner
}

// PendingOwner returns the nominated owner, or the zero address if there is none
func (e *Exchange) PendingOwner(ctx context.Context) common.Address {
	e.adminMu.RLock()
	defer e.adminMu.RUnlock()
	return e.pendingOwner
}

// Paused reports whether create and fill are currently blocked
func (e *Exchange) Paused(ctx context.Context) bool {
	e.adminMu.RLock()
	defer e.adminMu.RUnlock()
	return e.paused
}

// setAdmin changes administrative state. The caller holds the guard.
func (e *Exchange) setAdmin(fn func()) {
	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	fn()
}

// admin runs fn under the guard after checking caller is the owner
func (e *Exchange) admin(ctx context.Context, caller common.Address, fn func(ctx context.Context) error) error {
	opCtx, _, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()
	if caller == (common.Address{}) || caller != e.owner {
		return ErrUnauthorized
	}
	return fn(opCtx)
}

// Pause blocks CreateOrder and FillOrder. Pausing a paused exchange is a no-op.
func (e *Exchange) Pause(ctx context.Context, caller common.Address) error {
	err := e.admin(ctx, caller, func(context.Context) error {
		e.setAdmin(func() { e.paused = true })
		return nil
	})
	if err == nil {
		e.log.Info("exchange paused", zap.String("by", caller.Hex()))
	}
	return err
}

// Unpause lifts a pause
func (e *Exchange) Unpause(ctx context.Context, caller common.Address) error {
	err := e.admin(ctx, caller, func(context.Context) error {
		e.setAdmin(func() { e.paused = false })
		return nil
	})
	if err == nil {
		e.log.Info("exchange unpaused", zap.String("by", caller.Hex()))
	}
	return err
}

// TransferOwnership nominates newOwner; ownership moves only once they accept
func (e *Exchange) TransferOwnership(ctx context.Context, caller, newOwner common.Address) error {
	err := e.admin(ctx, caller, func(context.Context) error {
		if newOwner == (common.Address{}) {
			return ErrInvalidAddress
		}
		e.setAdmin(func() { e.pendingOwner = newOwner })
		return nil
	})
	if err == nil {
		e.log.Info("ownership transfer started",
			zap.String("owner", caller.Hex()),
			zap.String("pending_owner", newOwner.Hex()))
	}
	return err
}

// AcceptOwnership completes a transfer started by TransferOwnership
func (e *Exchange) AcceptOwnership(ctx context.Context, caller common.Address) error {
	_, _, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	defer release()

	if caller == (common.Address{}) || caller != e.pendingOwner {
		return ErrUnauthorized
	}
	previous := e.owner
	e.setAdmin(func() {
		e.owner = caller
		e.pendingOwner = common.Address{}
	})
	e.log.Info("ownership transferred",
		zap.String("previous_owner", previous.Hex()),
		zap.String("owner", caller.Hex()))
	return nil
}

// EmergencyWithdraw moves amount of asset out of custody to `to`. It can drain funds backing
// open orders, so it is restricted to the owner.
func (e *Exchange) EmergencyWithdraw(ctx context.Context, caller, asset, to common.Address, amount decimal.Decimal) error {
	err := e.admin(ctx, caller, func(ctx context.Context) error {
		if asset == (common.Address{}) {
			return ErrInvalidAsset
		}
		if to == (common.Address{}) {
			return ErrInvalidAddress
		}
		if !amount.IsPositive() {
			return ErrInvalidAmount
		}
		return e.external(func() error {
			held, err := e.ledger.BalanceOf(ctx, asset, e.custody)
			if err != nil {
				return fmt.Errorf("failed to read custody balance: %w", err)
			}
			if held.LessThan(amount) {
				return ErrInsufficientBalance
			}
			if err := e.ledger.Transfer(ctx, asset, e.custody, to, amount); err != nil {
				return fmt.Errorf("%w: %w", ErrTransferFailed, err)
			}
			return nil
		})
	})
	if err == nil {
		e.log.Warn("emergency withdraw",
			zap.String("asset", asset.Hex()),
			zap.String("to", to.Hex()),
			zap.String("amount", amount.String()))
	}
	return err
}
