package exchange

import (
	"context"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/custody"
	"github.com/xtrntr/escrow/internal/models"
	"github.com/xtrntr/escrow/internal/store"
	"go.uber.org/zap"
)

// CreateOrder escrows offeredAmount of offeredAsset from caller and records an open order
// asking requestedAmount of requestedAsset in return
func (e *Exchange) CreateOrder(ctx context.Context, caller, offeredAsset common.Address, offeredAmount decimal.Decimal, requestedAsset common.Address, requestedAmount decimal.Decimal) (uint64, error) {
	opCtx, op, release, err := e.enter(ctx)
	if err != nil {
		return 0, err
	}
	order, err := e.createOrder(opCtx, op, caller, offeredAsset, offeredAmount, requestedAsset, requestedAmount)
	if err != nil {
		release()
		e.log.Debug("create order rejected", zap.String("maker", caller.Hex()), zap.Error(err))
		return 0, err
	}

	e.log.Info("order created",
		zap.Uint64("order_id", order.ID),
		zap.String("maker", order.Maker.Hex()),
		zap.String("offered_amount", order.OfferedAmount.String()),
		zap.String("requested_amount", order.RequestedAmount.String()))
	e.commit(ctx, release, models.NewOrderCreated(order))
	return order.ID, nil
}

func (e *Exchange) createOrder(ctx context.Context, op *operation, caller, offeredAsset common.Address, offeredAmount decimal.Decimal, requestedAsset common.Address, requestedAmount decimal.Decimal) (models.Order, error) {
	if e.paused {
		return models.Order{}, ErrPaused
	}
	if err := e.checkCaller(caller); err != nil {
		return models.Order{}, err
	}
	for _, asset := range []common.Address{offeredAsset, requestedAsset} {
		if err := e.checkAsset(ctx, asset); err != nil {
			return models.Order{}, err
		}
	}
	if offeredAsset == requestedAsset {
		return models.Order{}, ErrDuplicateAsset
	}
	if !offeredAmount.IsPositive() || !requestedAmount.IsPositive() {
		return models.Order{}, ErrInvalidAmount
	}

	order := models.Order{
		Maker:           caller,
		OfferedAsset:    offeredAsset,
		OfferedAmount:   offeredAmount,
		RequestedAsset:  requestedAsset,
		RequestedAmount: requestedAmount,
		CreatedAt:       time.Now().UTC(),
	}
	err := e.transact(ctx, op, func(tx store.Tx, l custody.Ledger) error {
		active, err := e.activeCount(ctx, tx, caller)
		if err != nil {
			return err
		}
		if active >= e.maxActive {
			return ErrCapacityExceeded
		}

		if err := l.TransferFrom(ctx, offeredAsset, e.custody, caller, e.custody, offeredAmount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}

		id, err := tx.Insert(ctx, order)
		if err != nil {
			return fmt.Errorf("failed to create order: %w", err)
		}
		order.ID = id
		if err := tx.AppendToAccountIndex(ctx, caller, id); err != nil {
			return fmt.Errorf("failed to index order: %w", err)
		}
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// checkCaller rejects the zero address and the custody account. Custody escrowing to
// itself adds nothing, so its orders would be paid out of other makers' funds.
func (e *Exchange) checkCaller(caller common.Address) error {
	if caller == (common.Address{}) || caller == e.custody {
		return ErrUnauthorized
	}
	return nil
}

func (e *Exchange) checkAsset(ctx context.Context, asset common.Address) error {
	if asset == (common.Address{}) {
		return ErrInvalidAsset
	}
	ok, err := e.ledger.IsAsset(ctx, asset)
	if err != nil {
		return fmt.Errorf("failed to check asset %s: %w", asset.Hex(), err)
	}
	if !ok {
		return ErrInvalidAsset
	}
	return nil
}

// FillOrder swaps an open order: the requested amount goes from caller to the maker and the
// escrowed amount goes from custody to caller
func (e *Exchange) FillOrder(ctx context.Context, caller common.Address, id uint64) error {
	opCtx, op, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	order, err := e.fillOrder(opCtx, op, caller, id)
	if err != nil {
		release()
		e.log.Debug("fill order rejected", zap.Uint64("order_id", id), zap.String("filler", caller.Hex()), zap.Error(err))
		return err
	}

	e.log.Info("order filled",
		zap.Uint64("order_id", id),
		zap.String("maker", order.Maker.Hex()),
		zap.String("filler", caller.Hex()))
	e.commit(ctx, release, models.NewOrderFilled(order, caller))
	return nil
}

func (e *Exchange) fillOrder(ctx context.Context, op *operation, caller common.Address, id uint64) (models.Order, error) {
	if e.paused {
		return models.Order{}, ErrPaused
	}
	if err := e.checkCaller(caller); err != nil {
		return models.Order{}, err
	}

	var order models.Order
	err := e.transact(ctx, op, func(tx store.Tx, l custody.Ledger) error {
		var err error
		order, err = e.lookup(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Filled {
			return ErrAlreadyFilled
		}
		if order.Cancelled {
			return ErrCancelled
		}
		if order.Maker == caller {
			return ErrSelfFill
		}

		balance, err := l.BalanceOf(ctx, order.RequestedAsset, caller)
		if err != nil {
			return fmt.Errorf("failed to read balance: %w", err)
		}
		if balance.LessThan(order.RequestedAmount) {
			return ErrInsufficientBalance
		}
		allowance, err := l.Allowance(ctx, order.RequestedAsset, caller, e.custody)
		if err != nil {
			return fmt.Errorf("failed to read allowance: %w", err)
		}
		if allowance.LessThan(order.RequestedAmount) {
			return ErrInsufficientAllowance
		}

		// the order is terminal before any funds move
		if err := tx.MarkFilled(ctx, id); err != nil {
			return fmt.Errorf("failed to mark order filled: %w", err)
		}
		order.Filled = true

		if err := l.TransferFrom(ctx, order.RequestedAsset, e.custody, caller, order.Maker, order.RequestedAmount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		if err := l.Transfer(ctx, order.OfferedAsset, e.custody, caller, order.OfferedAmount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

// CancelOrder closes the maker's open order and refunds the escrowed amount.
// Cancelling is allowed while the exchange is paused.
func (e *Exchange) CancelOrder(ctx context.Context, caller common.Address, id uint64) error {
	opCtx, op, release, err := e.enter(ctx)
	if err != nil {
		return err
	}
	order, err := e.cancelOrder(opCtx, op, caller, id)
	if err != nil {
		release()
		e.log.Debug("cancel order rejected", zap.Uint64("order_id", id), zap.String("caller", caller.Hex()), zap.Error(err))
		return err
	}

	e.log.Info("order cancelled", zap.Uint64("order_id", id), zap.String("maker", order.Maker.Hex()))
	e.commit(ctx, release, models.NewOrderCancelled(order))
	return nil
}

func (e *Exchange) cancelOrder(ctx context.Context, op *operation, caller common.Address, id uint64) (models.Order, error) {
	if err := e.checkCaller(caller); err != nil {
		return models.Order{}, err
	}

	var order models.Order
	err := e.transact(ctx, op, func(tx store.Tx, l custody.Ledger) error {
		var err error
		order, err = e.lookup(ctx, tx, id)
		if err != nil {
			return err
		}
		if order.Maker != caller {
			return ErrUnauthorized
		}
		if order.Filled {
			return ErrAlreadyFilled
		}
		if order.Cancelled {
			return ErrAlreadyCancelled
		}

		if err := tx.MarkCancelled(ctx, id); err != nil {
			return fmt.Errorf("failed to mark order cancelled: %w", err)
		}
		order.Cancelled = true

		if err := l.Transfer(ctx, order.OfferedAsset, e.custody, order.Maker, order.OfferedAmount); err != nil {
			return fmt.Errorf("%w: %w", ErrTransferFailed, err)
		}
		return nil
	})
	if err != nil {
		return models.Order{}, err
	}
	return order, nil
}

func (e *Exchange) lookup(ctx context.Context, r store.Reader, id uint64) (models.Order, error) {
	order, ok, err := r.Get(ctx, id)
	if err != nil {
		return models.Order{}, fmt.Errorf("failed to get order: %w", err)
	}
	if !ok {
		return models.Order{}, ErrNotFound
	}
	return order, nil
}
