package exchange

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/escrow/internal/models"
	"github.com/xtrntr/escrow/internal/store"
)

// GetOrder returns a copy of the order with the given id
func (e *Exchange) GetOrder(ctx context.Context, id uint64) (models.Order, error) {
	r, release, err := e.reader(ctx)
	if err != nil {
		return models.Order{}, err
	}
	defer release()
	return e.lookup(ctx, r, id)
}

// GetUserOrders returns every order id account created, oldest first, including closed orders
func (e *Exchange) GetUserOrders(ctx context.Context, account common.Address) ([]uint64, error) {
	r, release, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()
	ids, err := r.AccountIndex(ctx, account)
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	if ids == nil {
		ids = []uint64{}
	}
	return ids, nil
}

// GetActiveOrders scans ids [startID, startID+count) and returns the active orders among them,
// in ascending id order. Ids past the last allocated one are not scanned, so fewer than count
// results is normal.
func (e *Exchange) GetActiveOrders(ctx context.Context, startID, count uint64) ([]models.Order, error) {
	if count > e.maxQuery {
		return nil, ErrQueryTooLarge
	}

	r, release, err := e.reader(ctx)
	if err != nil {
		return nil, err
	}
	defer release()

	next, err := r.NextID(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to get next order id: %w", err)
	}
	end := next
	if startID+count < end && startID+count >= startID {
		end = startID + count
	}

	orders := []models.Order{}
	for id := startID; id < end; id++ {
		order, ok, err := r.Get(ctx, id)
		if err != nil {
			return nil, fmt.Errorf("failed to get order %d: %w", id, err)
		}
		if ok && order.Active() {
			orders = append(orders, order)
		}
	}
	return orders, nil
}

// GetActiveOrderCount counts account's orders that are neither filled nor cancelled
func (e *Exchange) GetActiveOrderCount(ctx context.Context, account common.Address) (int, error) {
	r, release, err := e.reader(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	return e.activeCount(ctx, r, account)
}

// NextOrderID returns the id the next created order will receive
func (e *Exchange) NextOrderID(ctx context.Context) (uint64, error) {
	r, release, err := e.reader(ctx)
	if err != nil {
		return 0, err
	}
	defer release()
	next, err := r.NextID(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to get next order id: %w", err)
	}
	return next, nil
}

// activeCount is derived from the account index on every call; nothing caches it
func (e *Exchange) activeCount(ctx context.Context, r store.Reader, account common.Address) (int, error) {
	ids, err := r.AccountIndex(ctx, account)
	if err != nil {
		return 0, fmt.Errorf("failed to get user orders: %w", err)
	}
	count := 0
	for _, id := range ids {
		order, ok, err := r.Get(ctx, id)
		if err != nil {
			return 0, fmt.Errorf("failed to get order %d: %w", id, err)
		}
		if ok && order.Active() {
			count++
		}
	}
	return count, nil
}
