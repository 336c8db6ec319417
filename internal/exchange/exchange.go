package exchange

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/escrow/internal/custody"
	"github.com/xtrntr/escrow/internal/models"
	"github.com/xtrntr/escrow/internal/store"
	"go.uber.org/zap"
)

const (
	// DefaultMaxActiveOrders is the per-account ceiling on simultaneously active orders.
	// Options may lower it but never raise it.
	DefaultMaxActiveOrders = 100
	// DefaultMaxQueryCount is the largest count GetActiveOrders accepts. Options may lower it.
	DefaultMaxQueryCount = 100
)

// Publisher receives notifications about committed order transitions
type Publisher interface {
	Publish(ctx context.Context, event models.Event) error
}

// Options represents configuration options for the Exchange
type Options struct {
	MaxActiveOrders int
	MaxQueryCount   uint64
	Publisher       Publisher
	Logger          *zap.Logger
}

// DefaultOptions returns the default exchange options
func DefaultOptions() *Options {
	return &Options{
		MaxActiveOrders: DefaultMaxActiveOrders,
		MaxQueryCount:   DefaultMaxQueryCount,
	}
}

// Exchange is the escrow engine: it owns the order store and moves escrowed funds
// through the custody ledger. Mutations run one at a time, each as a single transaction.
type Exchange struct {
	mu sync.RWMutex
	// set while control is inside the custody ledger
	transferring atomic.Bool
	// held from commit until the transition's event is published
	publishMu sync.Mutex

	store   store.Store
	ledger  custody.Ledger
	custody common.Address

	// adminMu guards the fields below for readers; writers also hold mu
	adminMu      sync.RWMutex
	owner        common.Address
	pendingOwner common.Address
	paused       bool

	maxActive int
	maxQuery  uint64
	publisher Publisher
	log       *zap.Logger
}

// NewExchange creates an exchange holding escrowed funds in the custody account
func NewExchange(s store.Store, ledger custody.Ledger, custodyAccount, owner common.Address, opts *Options) *Exchange {
	if opts == nil {
		opts = DefaultOptions()
	}
	e := &Exchange{
		store:     s,
		ledger:    ledger,
		custody:   custodyAccount,
		owner:     owner,
		maxActive: opts.MaxActiveOrders,
		maxQuery:  opts.MaxQueryCount,
		publisher: opts.Publisher,
		log:       opts.Logger,
	}
	if e.maxActive <= 0 || e.maxActive > DefaultMaxActiveOrders {
		e.maxActive = DefaultMaxActiveOrders
	}
	if e.maxQuery == 0 || e.maxQuery > DefaultMaxQueryCount {
		e.maxQuery = DefaultMaxQueryCount
	}
	if e.log == nil {
		e.log = zap.NewNop()
	}
	return e
}

// CustodyAccount returns the account escrowed funds are held in
func (e *Exchange) CustodyAccount() common.Address {
	return e.custody
}

// operation marks a context as belonging to a guarded call in progress
type operation struct {
	engine *Exchange
	tx     store.Tx
}

type operationKey struct{}

func (e *Exchange) inflight(ctx context.Context) *operation {
	op, ok := ctx.Value(operationKey{}).(*operation)
	if !ok || op.engine != e {
		return nil
	}
	return op
}

// enter is the non-reentrant guard. Calls arriving with a context derived from a guarded
// operation fail with ErrReentrancy. So does any call made while control is inside the
// custody ledger, since asset code calling back on a fresh context looks like any other
// caller. Everything else waits for the write lock.
func (e *Exchange) enter(ctx context.Context) (context.Context, *operation, func(), error) {
	if e.inflight(ctx) != nil || e.transferring.Load() {
		return nil, nil, nil, ErrReentrancy
	}
	e.mu.Lock()
	op := &operation{engine: e}
	return context.WithValue(ctx, operationKey{}, op), op, e.mu.Unlock, nil
}

// reader returns a consistent view for queries. Reentrant queries read the in-flight
// transaction without locking, so they observe flags it already set.
func (e *Exchange) reader(ctx context.Context) (store.Reader, func(), error) {
	if op := e.inflight(ctx); op != nil {
		if op.tx != nil {
			return op.tx, func() {}, nil
		}
		return e.store, func() {}, nil
	}
	if e.transferring.Load() {
		return nil, nil, ErrReentrancy
	}
	e.mu.RLock()
	return e.store, e.mu.RUnlock, nil
}

// external runs fn, which may hand control to asset code
func (e *Exchange) external(fn func() error) error {
	e.transferring.Store(true)
	defer e.transferring.Store(false)
	return fn()
}

// transact runs fn with every store write and ledger transfer committed together or not at all.
// The store commits inside the ledger scope so a failed commit also reverses the transfers.
func (e *Exchange) transact(ctx context.Context, op *operation, fn func(store.Tx, custody.Ledger) error) error {
	return e.external(func() error {
		return e.ledger.Atomic(ctx, func(l custody.Ledger) error {
			return e.store.Update(ctx, func(tx store.Tx) error {
				op.tx = tx
				defer func() { op.tx = nil }()
				return fn(tx, l)
			})
		})
	})
}

// commit releases the guard and publishes event. The publish lock is taken before the guard
// is released, so events go out in the order their transitions committed.
func (e *Exchange) commit(ctx context.Context, release func(), event models.Event) {
	e.publishMu.Lock()
	defer e.publishMu.Unlock()
	release()
	e.publish(ctx, event)
}

func (e *Exchange) publish(ctx context.Context, event models.Event) {
	if e.publisher == nil {
		return
	}
	if err := e.publisher.Publish(ctx, event); err != nil {
		e.log.Warn("failed to publish event",
			zap.String("type", event.Type),
			zap.Uint64("order_id", event.OrderID),
			zap.Error(err))
	}
}
