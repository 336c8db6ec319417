package store

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ethereum/go-ethereum/common"
	"github.com/shopspring/decimal"
	"github.com/xtrntr/escrow/internal/models"
)

// Key layout:
//
//	order/<id:%020d>                 -> encoded order
//	account/<hex address>/<id:%020d> -> empty; iteration order is creation order
//	meta/next_id                     -> uint64 big endian
var keyNextID = []byte("meta/next_id")

// Pebble is a Store persisted in a pebble database
type Pebble struct {
	db *pebble.DB
}

// OpenPebble opens (or creates) a pebble store in dir
func OpenPebble(dir string) (*Pebble, error) {
	db, err := pebble.Open(dir, &pebble.Options{})
	if err != nil {
		return nil, fmt.Errorf("failed to open pebble store: %w", err)
	}
	return &Pebble{db: db}, nil
}

// Close closes the underlying database
func (p *Pebble) Close() error {
	return p.db.Close()
}

// Get returns the order and whether it exists
func (p *Pebble) Get(ctx context.Context, id uint64) (models.Order, bool, error) {
	return getOrder(p.db, id)
}

// AccountIndex returns the ids created by account, in creation order
func (p *Pebble) AccountIndex(ctx context.Context, account common.Address) ([]uint64, error) {
	return accountIndex(p.db, account)
}

// NextID returns the id the next inserted order will receive
func (p *Pebble) NextID(ctx context.Context) (uint64, error) {
	return nextID(p.db)
}

// Update runs fn on an indexed batch and commits it synchronously if fn succeeds
func (p *Pebble) Update(ctx context.Context, fn func(Tx) error) error {
	batch := p.db.NewIndexedBatch()
	defer batch.Close()

	if err := fn(&pebbleTx{batch: batch}); err != nil {
		return err
	}
	if err := batch.Commit(pebble.Sync); err != nil {
		return fmt.Errorf("failed to commit batch: %w", err)
	}
	return nil
}

type pebbleTx struct {
	batch *pebble.Batch
}

func (tx *pebbleTx) Get(ctx context.Context, id uint64) (models.Order, bool, error) {
	return getOrder(tx.batch, id)
}

func (tx *pebbleTx) AccountIndex(ctx context.Context, account common.Address) ([]uint64, error) {
	return accountIndex(tx.batch, account)
}

func (tx *pebbleTx) NextID(ctx context.Context) (uint64, error) {
	return nextID(tx.batch)
}

func (tx *pebbleTx) Insert(ctx context.Context, order models.Order) (uint64, error) {
	id, err := nextID(tx.batch)
	if err != nil {
		return 0, err
	}
	order.ID = id
	if err := tx.batch.Set(orderKey(id), encodeOrder(order), nil); err != nil {
		return 0, fmt.Errorf("failed to write order: %w", err)
	}
	next := make([]byte, 8)
	binary.BigEndian.PutUint64(next, id+1)
	if err := tx.batch.Set(keyNextID, next, nil); err != nil {
		return 0, fmt.Errorf("failed to advance next id: %w", err)
	}
	return id, nil
}

func (tx *pebbleTx) MarkFilled(ctx context.Context, id uint64) error {
	return tx.mutate(id, func(o *models.Order) { o.Filled = true })
}

func (tx *pebbleTx) MarkCancelled(ctx context.Context, id uint64) error {
	return tx.mutate(id, func(o *models.Order) { o.Cancelled = true })
}

func (tx *pebbleTx) mutate(id uint64, fn func(*models.Order)) error {
	o, ok, err := getOrder(tx.batch, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("order %d: %w", id, ErrNoOrder)
	}
	fn(&o)
	return tx.batch.Set(orderKey(id), encodeOrder(o), nil)
}

func (tx *pebbleTx) AppendToAccountIndex(ctx context.Context, account common.Address, id uint64) error {
	return tx.batch.Set(accountKey(account, id), nil, nil)
}

// -------------------- Helpers --------------------

func orderKey(id uint64) []byte {
	return []byte(fmt.Sprintf("order/%020d", id))
}

func accountPrefix(account common.Address) string {
	return "account/" + strings.ToLower(account.Hex()) + "/"
}

func accountKey(account common.Address, id uint64) []byte {
	return []byte(fmt.Sprintf("%s%020d", accountPrefix(account), id))
}

func getOrder(r pebble.Reader, id uint64) (models.Order, bool, error) {
	val, closer, err := r.Get(orderKey(id))
	if errors.Is(err, pebble.ErrNotFound) {
		return models.Order{}, false, nil
	}
	if err != nil {
		return models.Order{}, false, fmt.Errorf("failed to get order %d: %w", id, err)
	}
	defer closer.Close()

	o, err := decodeOrder(val)
	if err != nil {
		return models.Order{}, false, fmt.Errorf("order %d: %w", id, err)
	}
	o.ID = id
	return o, true, nil
}

func nextID(r pebble.Reader) (uint64, error) {
	val, closer, err := r.Get(keyNextID)
	if errors.Is(err, pebble.ErrNotFound) {
		return FirstID, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to read next id: %w", err)
	}
	defer closer.Close()
	if len(val) != 8 {
		return 0, errors.New("invalid next id record")
	}
	return binary.BigEndian.Uint64(val), nil
}

func accountIndex(r pebble.Reader, account common.Address) ([]uint64, error) {
	prefix := accountPrefix(account)
	iter, err := r.NewIter(&pebble.IterOptions{
		LowerBound: []byte(prefix),
		UpperBound: []byte(prefix + "~"),
	})
	if err != nil {
		return nil, err
	}
	defer iter.Close()

	ids := []uint64{}
	for iter.First(); iter.Valid(); iter.Next() {
		var id uint64
		if _, err := fmt.Sscanf(strings.TrimPrefix(string(iter.Key()), prefix), "%d", &id); err != nil {
			return nil, fmt.Errorf("invalid account index key %q: %w", iter.Key(), err)
		}
		ids = append(ids, id)
	}
	return ids, iter.Error()
}

// binary encoding:
// [maker:20][offered asset:20][requested asset:20][flags:1][created unix nano:8]
// [offered amount len:uvarint][offered amount][requested amount len:uvarint][requested amount]
const (
	flagFilled    = 1 << 0
	flagCancelled = 1 << 1
	fixedLen      = 20*3 + 1 + 8
)

func encodeOrder(o models.Order) []byte {
	offered := o.OfferedAmount.String()
	requested := o.RequestedAmount.String()
	buf := make([]byte, fixedLen, fixedLen+2*binary.MaxVarintLen64+len(offered)+len(requested))
	copy(buf[0:20], o.Maker[:])
	copy(buf[20:40], o.OfferedAsset[:])
	copy(buf[40:60], o.RequestedAsset[:])
	var flags byte
	if o.Filled {
		flags |= flagFilled
	}
	if o.Cancelled {
		flags |= flagCancelled
	}
	buf[60] = flags
	binary.BigEndian.PutUint64(buf[61:69], uint64(o.CreatedAt.UnixNano()))
	buf = binary.AppendUvarint(buf, uint64(len(offered)))
	buf = append(buf, offered...)
	buf = binary.AppendUvarint(buf, uint64(len(requested)))
	buf = append(buf, requested...)
	return buf
}

func decodeOrder(b []byte) (models.Order, error) {
	if len(b) < fixedLen+2 {
		return models.Order{}, errors.New("invalid order record length")
	}
	var o models.Order
	copy(o.Maker[:], b[0:20])
	copy(o.OfferedAsset[:], b[20:40])
	copy(o.RequestedAsset[:], b[40:60])
	o.Filled = b[60]&flagFilled != 0
	o.Cancelled = b[60]&flagCancelled != 0
	o.CreatedAt = time.Unix(0, int64(binary.BigEndian.Uint64(b[61:69]))).UTC()

	rest := b[fixedLen:]
	offered, rest, err := readAmount(rest)
	if err != nil {
		return models.Order{}, err
	}
	requested, _, err := readAmount(rest)
	if err != nil {
		return models.Order{}, err
	}
	o.OfferedAmount = offered
	o.RequestedAmount = requested
	return o, nil
}

func readAmount(b []byte) (decimal.Decimal, []byte, error) {
	n, size := binary.Uvarint(b)
	if size <= 0 || uint64(len(b)-size) < n {
		return decimal.Zero, nil, errors.New("truncated amount")
	}
	end := size + int(n)
	amount, err := decimal.NewFromString(string(b[size:end]))
	if err != nil {
		return decimal.Zero, nil, fmt.Errorf("invalid amount: %w", err)
	}
	return amount, b[end:], nil
}
