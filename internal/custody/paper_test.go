package custody

import (
	"context"
	"errors"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	tokenA  = common.HexToAddress("0x000000000000000000000000000000000000aaaa")
	tokenB  = common.HexToAddress("0x000000000000000000000000000000000000bbbb")
	alice   = common.HexToAddress("0x00000000000000000000000000000000000a11ce")
	bob     = common.HexToAddress("0x0000000000000000000000000000000000000b0b")
	spender = common.HexToAddress("0x000000000000000000000000000000000000e5c0")
)

func d(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func balance(t *testing.T, p *Paper, asset, account common.Address) decimal.Decimal {
	t.Helper()
	b, err := p.BalanceOf(context.Background(), asset, account)
	require.NoError(t, err)
	return b
}

func TestPaper_Transfer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		asset       common.Address
		amount      decimal.Decimal
		expectError error
	}{
		{name: "Success", asset: tokenA, amount: d(40)},
		{name: "ExceedsBalance", asset: tokenA, amount: d(101), expectError: ErrInsufficientBalance},
		{name: "UnknownAsset", asset: common.HexToAddress("0xdead"), amount: d(1), expectError: ErrUnknownAsset},
		{name: "NegativeAmount", asset: tokenA, amount: d(-1), expectError: ErrInvalidAmount},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := NewPaper(tokenA)
			require.NoError(t, p.Mint(tokenA, alice, d(100)))

			err := p.Transfer(ctx, tt.asset, alice, bob, tt.amount)
			if tt.expectError != nil {
				assert.ErrorIs(t, err, tt.expectError)
				assert.True(t, balance(t, p, tokenA, alice).Equal(d(100)))
				return
			}
			require.NoError(t, err)
			assert.True(t, balance(t, p, tokenA, alice).Equal(d(60)))
			assert.True(t, balance(t, p, tokenA, bob).Equal(tt.amount))
		})
	}
}

func TestPaper_TransferFrom(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(tokenA)
	require.NoError(t, p.Mint(tokenA, alice, d(100)))

	err := p.TransferFrom(ctx, tokenA, spender, alice, bob, d(10))
	assert.ErrorIs(t, err, ErrInsufficientAllowance)

	require.NoError(t, p.Approve(tokenA, alice, spender, d(150)))
	err = p.TransferFrom(ctx, tokenA, spender, alice, bob, d(120))
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	allowance, err := p.Allowance(ctx, tokenA, alice, spender)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(d(150)), "failed transfer must not consume allowance")

	require.NoError(t, p.TransferFrom(ctx, tokenA, spender, alice, bob, d(100)))
	allowance, err = p.Allowance(ctx, tokenA, alice, spender)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(d(50)))
	assert.True(t, balance(t, p, tokenA, bob).Equal(d(100)))
}

func TestPaper_HookRejects(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(tokenA)
	require.NoError(t, p.Mint(tokenA, alice, d(100)))
	require.NoError(t, p.Approve(tokenA, alice, spender, d(100)))

	var seen Movement
	require.NoError(t, p.SetHook(tokenA, func(ctx context.Context, m Movement) error {
		seen = m
		return errors.New("blocked")
	}))

	err := p.TransferFrom(ctx, tokenA, spender, alice, bob, d(30))
	assert.ErrorIs(t, err, ErrRejected)
	assert.Equal(t, bob, seen.To)
	assert.True(t, balance(t, p, tokenA, alice).Equal(d(100)))
	assert.True(t, balance(t, p, tokenA, bob).IsZero())

	allowance, err := p.Allowance(ctx, tokenA, alice, spender)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(d(100)))
}

func TestPaper_AtomicRollback(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(tokenA, tokenB)
	require.NoError(t, p.Mint(tokenA, alice, d(100)))
	require.NoError(t, p.Mint(tokenB, bob, d(200)))
	require.NoError(t, p.Approve(tokenB, bob, spender, d(200)))

	err := p.Atomic(ctx, func(l Ledger) error {
		if err := l.TransferFrom(ctx, tokenB, spender, bob, alice, d(200)); err != nil {
			return err
		}
		// alice only holds 100 of tokenA
		return l.Transfer(ctx, tokenA, alice, bob, d(150))
	})
	assert.ErrorIs(t, err, ErrInsufficientBalance)

	assert.True(t, balance(t, p, tokenB, bob).Equal(d(200)))
	assert.True(t, balance(t, p, tokenB, alice).IsZero())
	allowance, err := p.Allowance(ctx, tokenB, bob, spender)
	require.NoError(t, err)
	assert.True(t, allowance.Equal(d(200)))

	err = p.Atomic(ctx, func(l Ledger) error {
		return l.Transfer(ctx, tokenA, alice, bob, d(100))
	})
	require.NoError(t, err)
	assert.True(t, balance(t, p, tokenA, bob).Equal(d(100)))
}

func TestPaper_NestedAtomic(t *testing.T) {
	ctx := context.Background()
	p := NewPaper(tokenA)
	require.NoError(t, p.Mint(tokenA, alice, d(100)))

	err := p.Atomic(ctx, func(l Ledger) error {
		if err := l.Transfer(ctx, tokenA, alice, bob, d(10)); err != nil {
			return err
		}
		inner := l.Atomic(ctx, func(l Ledger) error {
			if err := l.Transfer(ctx, tokenA, alice, bob, d(20)); err != nil {
				return err
			}
			return errors.New("inner failure")
		})
		assert.Error(t, inner)
		return nil
	})
	require.NoError(t, err)
	assert.True(t, balance(t, p, tokenA, bob).Equal(d(10)))
	assert.True(t, balance(t, p, tokenA, alice).Equal(d(90)))
}

func TestPaper_Assets(t *testing.T) {
	p := NewPaper(tokenB, tokenA, tokenA)
	assert.Equal(t, []common.Address{tokenA, tokenB}, p.Assets())

	ok, err := p.IsAsset(context.Background(), tokenA)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = p.IsAsset(context.Background(), common.Address{})
	require.NoError(t, err)
	assert.False(t, ok)
}
