package custody

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
)

// Movement is a single completed balance change
type Movement struct {
	Asset  common.Address
	From   common.Address
	To     common.Address
	Amount decimal.Decimal
}

// Hook runs after an asset's balances moved. Returning an error rejects the transfer,
// which is then undone. Hooks may call back into the caller through ctx.
type Hook func(ctx context.Context, m Movement) error

type allowanceKey struct {
	owner   common.Address
	spender common.Address
}

type paperAsset struct {
	balances   map[common.Address]decimal.Decimal
	allowances map[allowanceKey]decimal.Decimal
	hook       Hook
}

// Paper is an in-process ledger used for development and tests
type Paper struct {
	mu     sync.Mutex
	assets map[common.Address]*paperAsset
}

// NewPaper creates a paper ledger with the given assets registered
func NewPaper(assets ...common.Address) *Paper {
	p := &Paper{assets: make(map[common.Address]*paperAsset)}
	for _, a := range assets {
		p.RegisterAsset(a)
	}
	return p
}

// RegisterAsset makes asset known to the ledger; registering twice is a no-op
func (p *Paper) RegisterAsset(asset common.Address) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.assets[asset]; ok {
		return
	}
	p.assets[asset] = &paperAsset{
		balances:   make(map[common.Address]decimal.Decimal),
		allowances: make(map[allowanceKey]decimal.Decimal),
	}
}

// Assets lists registered assets in ascending byte order
func (p *Paper) Assets() []common.Address {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]common.Address, 0, len(p.assets))
	for a := range p.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		return out[i].Cmp(out[j]) < 0
	})
	return out
}

// SetHook installs a hook invoked after every transfer of asset
func (p *Paper) SetHook(asset common.Address, hook Hook) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[asset]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	a.hook = hook
	return nil
}

// Mint credits amount of asset to account
func (p *Paper) Mint(asset, to common.Address, amount decimal.Decimal) error {
	if !amount.IsPositive() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[asset]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	a.balances[to] = a.balances[to].Add(amount)
	return nil
}

// Approve sets spender's allowance over owner's balance of asset
func (p *Paper) Approve(asset, owner, spender common.Address, amount decimal.Decimal) error {
	if amount.IsNegative() {
		return ErrInvalidAmount
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[asset]
	if !ok {
		return fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	a.allowances[allowanceKey{owner: owner, spender: spender}] = amount
	return nil
}

// IsAsset reports whether asset was registered
func (p *Paper) IsAsset(ctx context.Context, asset common.Address) (bool, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	_, ok := p.assets[asset]
	return ok, nil
}

// BalanceOf returns account's balance of asset
func (p *Paper) BalanceOf(ctx context.Context, asset, account common.Address) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	return a.balances[account], nil
}

// Allowance returns how much spender may still move out of owner's balance
func (p *Paper) Allowance(ctx context.Context, asset, owner, spender common.Address) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a, ok := p.assets[asset]
	if !ok {
		return decimal.Zero, fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	return a.allowances[allowanceKey{owner: owner, spender: spender}], nil
}

// Transfer moves amount out of from's own balance
func (p *Paper) Transfer(ctx context.Context, asset, from, to common.Address, amount decimal.Decimal) error {
	_, err := p.move(ctx, asset, nil, from, to, amount)
	return err
}

// TransferFrom moves amount out of from's balance, consuming spender's allowance
func (p *Paper) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount decimal.Decimal) error {
	_, err := p.move(ctx, asset, &spender, from, to, amount)
	return err
}

// Atomic runs fn against a journaled view; every transfer made through it is reversed if fn fails
func (p *Paper) Atomic(ctx context.Context, fn func(Ledger) error) error {
	tx := &paperTx{Paper: p}
	if err := fn(tx); err != nil {
		tx.rollback()
		return err
	}
	return nil
}

// applied records what move changed so it can be reverted
type applied struct {
	Movement
	spender *common.Address
}

func (p *Paper) move(ctx context.Context, asset common.Address, spender *common.Address, from, to common.Address, amount decimal.Decimal) (applied, error) {
	if amount.IsNegative() {
		return applied{}, ErrInvalidAmount
	}

	p.mu.Lock()
	a, ok := p.assets[asset]
	if !ok {
		p.mu.Unlock()
		return applied{}, fmt.Errorf("%s: %w", asset.Hex(), ErrUnknownAsset)
	}
	if spender != nil {
		key := allowanceKey{owner: from, spender: *spender}
		if a.allowances[key].LessThan(amount) {
			p.mu.Unlock()
			return applied{}, ErrInsufficientAllowance
		}
		a.allowances[key] = a.allowances[key].Sub(amount)
	}
	if a.balances[from].LessThan(amount) {
		if spender != nil {
			key := allowanceKey{owner: from, spender: *spender}
			a.allowances[key] = a.allowances[key].Add(amount)
		}
		p.mu.Unlock()
		return applied{}, ErrInsufficientBalance
	}
	a.balances[from] = a.balances[from].Sub(amount)
	a.balances[to] = a.balances[to].Add(amount)
	hook := a.hook
	p.mu.Unlock()

	done := applied{
		Movement: Movement{Asset: asset, From: from, To: to, Amount: amount},
		spender:  spender,
	}
	if hook != nil {
		if err := hook(ctx, done.Movement); err != nil {
			p.revert(done)
			return applied{}, fmt.Errorf("%w: %w", ErrRejected, err)
		}
	}
	return done, nil
}

func (p *Paper) revert(m applied) {
	p.mu.Lock()
	defer p.mu.Unlock()
	a := p.assets[m.Asset]
	a.balances[m.To] = a.balances[m.To].Sub(m.Amount)
	a.balances[m.From] = a.balances[m.From].Add(m.Amount)
	if m.spender != nil {
		key := allowanceKey{owner: m.From, spender: *m.spender}
		a.allowances[key] = a.allowances[key].Add(m.Amount)
	}
}

type paperTx struct {
	*Paper
	journal []applied
}

func (tx *paperTx) Transfer(ctx context.Context, asset, from, to common.Address, amount decimal.Decimal) error {
	m, err := tx.move(ctx, asset, nil, from, to, amount)
	if err != nil {
		return err
	}
	tx.journal = append(tx.journal, m)
	return nil
}

func (tx *paperTx) TransferFrom(ctx context.Context, asset, spender, from, to common.Address, amount decimal.Decimal) error {
	m, err := tx.move(ctx, asset, &spender, from, to, amount)
	if err != nil {
		return err
	}
	tx.journal = append(tx.journal, m)
	return nil
}

// Atomic nests into the enclosing journal
func (tx *paperTx) Atomic(ctx context.Context, fn func(Ledger) error) error {
	mark := len(tx.journal)
	if err := fn(tx); err != nil {
		for i := len(tx.journal) - 1; i >= mark; i-- {
			tx.revert(tx.journal[i])
		}
		tx.journal = tx.journal[:mark]
		return err
	}
	return nil
}

func (tx *paperTx) rollback() {
	for i := len(tx.journal) - 1; i >= 0; i-- {
		tx.revert(tx.journal[i])
	}
	tx.journal = nil
}
