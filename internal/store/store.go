// Package store holds the authoritative record of every order and the per-account order index.
//
// A store is mechanical: it never re-validates lifecycle rules. Only the exchange engine writes to it.
package store

import (
	"context"
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/escrow/internal/models"
)

// FirstID is the id assigned to the first order ever created
const FirstID uint64 = 1

// ErrNoOrder is returned by writers addressing an order that was never inserted
var ErrNoOrder = errors.New("order does not exist")

// Reader exposes read access to orders and account indices
type Reader interface {
	// Get returns the order and whether it exists
	Get(ctx context.Context, id uint64) (models.Order, bool, error)
	// AccountIndex returns the ids created by account, in creation order
	AccountIndex(ctx context.Context, account common.Address) ([]uint64, error)
	// NextID returns the id the next inserted order will receive
	NextID(ctx context.Context) (uint64, error)
}

// Tx is a read-write view whose writes commit together
type Tx interface {
	Reader
	// Insert stores order under the next id and returns that id
	Insert(ctx context.Context, order models.Order) (uint64, error)
	MarkFilled(ctx context.Context, id uint64) error
	MarkCancelled(ctx context.Context, id uint64) error
	AppendToAccountIndex(ctx context.Context, account common.Address, id uint64) error
}

// Store is an order store with transactional updates
type Store interface {
	Reader
	// Update runs fn in a transaction; nothing fn wrote is kept if it returns an error
	Update(ctx context.Context, fn func(Tx) error) error
	Close() error
}
