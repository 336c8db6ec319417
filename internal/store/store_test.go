package store

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xtrntr/escrow/internal/models"
)

var (
	maker  = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	other  = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	tokenA = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
)

func newOrder(account common.Address) models.Order {
	return models.Order{
		Maker:           account,
		OfferedAsset:    tokenA,
		OfferedAmount:   decimal.RequireFromString("100.5"),
		RequestedAsset:  tokenB,
		RequestedAmount: decimal.NewFromInt(200),
		CreatedAt:       time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
	}
}

// create inserts an order and indexes it the way the exchange does
func create(t *testing.T, s Store, account common.Address) uint64 {
	t.Helper()
	var id uint64
	err := s.Update(context.Background(), func(tx Tx) error {
		var err error
		id, err = tx.Insert(context.Background(), newOrder(account))
		if err != nil {
			return err
		}
		return tx.AppendToAccountIndex(context.Background(), account, id)
	})
	require.NoError(t, err)
	return id
}

func backends(t *testing.T) map[string]func(t *testing.T) Store {
	return map[string]func(t *testing.T) Store{
		"Memory": func(t *testing.T) Store { return NewMemory() },
		"Pebble": func(t *testing.T) Store {
			p, err := OpenPebble(t.TempDir())
			require.NoError(t, err)
			t.Cleanup(func() { p.Close() })
			return p
		},
	}
}

func TestStore_InsertAndGet(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			next, err := s.NextID(ctx)
			require.NoError(t, err)
			assert.Equal(t, FirstID, next)

			_, ok, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.False(t, ok)

			assert.Equal(t, uint64(1), create(t, s, maker))
			assert.Equal(t, uint64(2), create(t, s, other))
			assert.Equal(t, uint64(3), create(t, s, maker))

			next, err = s.NextID(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(4), next)

			o, ok, err := s.Get(ctx, 1)
			require.NoError(t, err)
			require.True(t, ok)
			want := newOrder(maker)
			assert.Equal(t, uint64(1), o.ID)
			assert.Equal(t, maker, o.Maker)
			assert.Equal(t, tokenA, o.OfferedAsset)
			assert.Equal(t, tokenB, o.RequestedAsset)
			assert.True(t, want.OfferedAmount.Equal(o.OfferedAmount))
			assert.True(t, want.RequestedAmount.Equal(o.RequestedAmount))
			assert.True(t, want.CreatedAt.Equal(o.CreatedAt))
			assert.True(t, o.Active())

			ids, err := s.AccountIndex(ctx, maker)
			require.NoError(t, err)
			assert.Equal(t, []uint64{1, 3}, ids)

			ids, err = s.AccountIndex(ctx, common.HexToAddress("0x1234"))
			require.NoError(t, err)
			assert.Empty(t, ids)
		})
	}
}

func TestStore_MarkFlags(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			create(t, s, maker)
			create(t, s, maker)

			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				if err := tx.MarkFilled(ctx, 1); err != nil {
					return err
				}
				return tx.MarkCancelled(ctx, 2)
			}))

			o, _, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.True(t, o.Filled)
			assert.False(t, o.Cancelled)

			o, _, err = s.Get(ctx, 2)
			require.NoError(t, err)
			assert.False(t, o.Filled)
			assert.True(t, o.Cancelled)

			err = s.Update(ctx, func(tx Tx) error {
				return tx.MarkFilled(ctx, 99)
			})
			assert.ErrorIs(t, err, ErrNoOrder)
		})
	}
}

func TestStore_UpdateRollback(t *testing.T) {
	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)
			create(t, s, maker)

			boom := errors.New("boom")
			err := s.Update(ctx, func(tx Tx) error {
				id, err := tx.Insert(ctx, newOrder(maker))
				if err != nil {
					return err
				}
				if err := tx.AppendToAccountIndex(ctx, maker, id); err != nil {
					return err
				}
				if err := tx.MarkFilled(ctx, 1); err != nil {
					return err
				}

				// writes are visible inside the transaction
				o, ok, err := tx.Get(ctx, 1)
				require.NoError(t, err)
				assert.True(t, ok)
				assert.True(t, o.Filled)
				ids, err := tx.AccountIndex(ctx, maker)
				require.NoError(t, err)
				assert.Equal(t, []uint64{1, 2}, ids)
				return boom
			})
			assert.ErrorIs(t, err, boom)

			next, err := s.NextID(ctx)
			require.NoError(t, err)
			assert.Equal(t, uint64(2), next, "rolled back insert must not consume an id")

			_, ok, err := s.Get(ctx, 2)
			require.NoError(t, err)
			assert.False(t, ok)

			o, _, err := s.Get(ctx, 1)
			require.NoError(t, err)
			assert.False(t, o.Filled)

			ids, err := s.AccountIndex(ctx, maker)
			require.NoError(t, err)
			assert.Equal(t, []uint64{1}, ids)

			assert.Equal(t, uint64(2), create(t, s, maker))
		})
	}
}

func TestPebble_Reopen(t *testing.T) {
	dir := t.TempDir()
	p, err := OpenPebble(dir)
	require.NoError(t, err)
	create(t, p, maker)
	create(t, p, other)
	require.NoError(t, p.Close())

	p, err = OpenPebble(dir)
	require.NoError(t, err)
	defer p.Close()

	next, err := p.NextID(context.Background())
	require.NoError(t, err)
	assert.Equal(t, uint64(3), next)

	ids, err := p.AccountIndex(context.Background(), other)
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, ids)
}

func TestStore_LongAmounts(t *testing.T) {
	order := newOrder(maker)
	order.OfferedAmount = decimal.RequireFromString("0." + strings.Repeat("7", 300))
	order.RequestedAmount = decimal.New(1, 70000)

	for name, open := range backends(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			s := open(t)

			var id uint64
			require.NoError(t, s.Update(ctx, func(tx Tx) error {
				var err error
				id, err = tx.Insert(ctx, order)
				return err
			}))

			o, ok, err := s.Get(ctx, id)
			require.NoError(t, err)
			require.True(t, ok)
			assert.True(t, order.OfferedAmount.Equal(o.OfferedAmount))
			assert.True(t, order.RequestedAmount.Equal(o.RequestedAmount))
			assert.Len(t, o.RequestedAmount.String(), 70001)
		})
	}
}
