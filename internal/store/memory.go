package store

import (
	"context"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/escrow/internal/models"
)

// Memory is an in-memory Store.
// It does no locking of its own; callers serialize access (the exchange engine does).
type Memory struct {
	orders   map[uint64]models.Order
	accounts map[common.Address][]uint64
	nextID   uint64
}

// NewMemory creates an empty in-memory store
func NewMemory() *Memory {
	return &Memory{
		orders:   make(map[uint64]models.Order),
		accounts: make(map[common.Address][]uint64),
		nextID:   FirstID,
	}
}

// Get returns the order and whether it exists
func (m *Memory) Get(ctx context.Context, id uint64) (models.Order, bool, error) {
	o, ok := m.orders[id]
	return o, ok, nil
}

// AccountIndex returns a copy of account's id sequence
func (m *Memory) AccountIndex(ctx context.Context, account common.Address) ([]uint64, error) {
	ids := m.accounts[account]
	out := make([]uint64, len(ids))
	copy(out, ids)
	return out, nil
}

// NextID returns the id the next inserted order will receive
func (m *Memory) NextID(ctx context.Context) (uint64, error) {
	return m.nextID, nil
}

// Update runs fn and undoes its writes in reverse order if it fails
func (m *Memory) Update(ctx context.Context, fn func(Tx) error) error {
	tx := &memoryTx{Memory: m}
	if err := fn(tx); err != nil {
		for i := len(tx.undo) - 1; i >= 0; i-- {
			tx.undo[i]()
		}
		return err
	}
	return nil
}

// Close is a no-op
func (m *Memory) Close() error {
	return nil
}

type memoryTx struct {
	*Memory
	undo []func()
}

func (tx *memoryTx) Insert(ctx context.Context, order models.Order) (uint64, error) {
	id := tx.nextID
	order.ID = id
	tx.orders[id] = order
	tx.nextID++
	tx.undo = append(tx.undo, func() {
		delete(tx.orders, id)
		tx.nextID = id
	})
	return id, nil
}

func (tx *memoryTx) MarkFilled(ctx context.Context, id uint64) error {
	return tx.mutate(id, func(o *models.Order) { o.Filled = true })
}

func (tx *memoryTx) MarkCancelled(ctx context.Context, id uint64) error {
	return tx.mutate(id, func(o *models.Order) { o.Cancelled = true })
}

func (tx *memoryTx) mutate(id uint64, fn func(*models.Order)) error {
	prev, ok := tx.orders[id]
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrNoOrder)
	}
	next := prev
	fn(&next)
	tx.orders[id] = next
	tx.undo = append(tx.undo, func() { tx.orders[id] = prev })
	return nil
}

func (tx *memoryTx) AppendToAccountIndex(ctx context.Context, account common.Address, id uint64) error {
	n := len(tx.accounts[account])
	tx.accounts[account] = append(tx.accounts[account], id)
	tx.undo = append(tx.undo, func() {
		if n == 0 {
			delete(tx.accounts, account)
			return
		}
		tx.accounts[account] = tx.accounts[account][:n]
	})
	return nil
}
