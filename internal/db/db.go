package db

import (
	"context"
	"embed"
	"errors"
	"fmt"
	"sort"

	"github.com/ethereum/go-ethereum/common"
	"github.com/xtrntr/escrow/internal/auth"
	"github.com/xtrntr/escrow/internal/models"
	"github.com/xtrntr/escrow/internal/store"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"
)

//go:embed migrations/*.sql
var migrations embed.FS

const uniqueViolation = "23505"

// DB wraps a PostgreSQL connection pool
type DB struct {
	Pool *pgxpool.Pool
}

// querier is satisfied by both the pool and a transaction
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// NewDB initializes a new database connection pool
func NewDB(ctx context.Context, connString string) (*DB, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	return &DB{Pool: pool}, nil
}

// Close closes the database connection pool
func (db *DB) Close() error {
	db.Pool.Close()
	return nil
}

// Migrate applies the embedded schema migrations in file name order
func (db *DB) Migrate(ctx context.Context) error {
	entries, err := migrations.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("failed to list migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		sql, err := migrations.ReadFile("migrations/" + entry.Name())
		if err != nil {
			return fmt.Errorf("failed to read migration %s: %w", entry.Name(), err)
		}
		if _, err := db.Pool.Exec(ctx, string(sql)); err != nil {
			return fmt.Errorf("failed to apply migration %s: %w", entry.Name(), err)
		}
	}
	return nil
}

// CreateUser inserts a new user
func (db *DB) CreateUser(ctx context.Context, username, passwordHash string, address common.Address) (*models.User, error) {
	user := &models.User{}
	var addr []byte
	err := db.Pool.QueryRow(ctx,
		"INSERT INTO users (username, password_hash, address) VALUES ($1, $2, $3) RETURNING id, username, password_hash, address, created_at",
		username, passwordHash, address.Bytes()).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &user.CreatedAt)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
		switch pgErr.ConstraintName {
		case "users_username_key":
			return nil, auth.ErrUserExists
		case "users_address_key":
			return nil, auth.ErrAddressTaken
		}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to create user: %w", err)
	}
	user.Address = common.BytesToAddress(addr)
	return user, nil
}

// GetUserByUsername retrieves a user by username
func (db *DB) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	user := &models.User{}
	var addr []byte
	err := db.Pool.QueryRow(ctx,
		"SELECT id, username, password_hash, address, created_at FROM users WHERE username = $1",
		username).Scan(&user.ID, &user.Username, &user.PasswordHash, &addr, &user.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	user.Address = common.BytesToAddress(addr)
	return user, nil
}

// Get returns the order and whether it exists
func (db *DB) Get(ctx context.Context, id uint64) (models.Order, bool, error) {
	return getOrder(ctx, db.Pool, id)
}

// AccountIndex returns the ids created by account, in creation order
func (db *DB) AccountIndex(ctx context.Context, account common.Address) ([]uint64, error) {
	return accountIndex(ctx, db.Pool, account)
}

// NextID returns the id the next inserted order will receive
func (db *DB) NextID(ctx context.Context) (uint64, error) {
	return nextID(ctx, db.Pool, false)
}

// Update runs fn inside a transaction and commits only if fn succeeds
func (db *DB) Update(ctx context.Context, fn func(store.Tx) error) error {
	tx, err := db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(&orderTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

type orderTx struct {
	tx pgx.Tx
}

func (t *orderTx) Get(ctx context.Context, id uint64) (models.Order, bool, error) {
	return getOrder(ctx, t.tx, id)
}

func (t *orderTx) AccountIndex(ctx context.Context, account common.Address) ([]uint64, error) {
	return accountIndex(ctx, t.tx, account)
}

func (t *orderTx) NextID(ctx context.Context) (uint64, error) {
	return nextID(ctx, t.tx, false)
}

// Insert allocates the next id from the counter row, locked for the rest of the transaction
func (t *orderTx) Insert(ctx context.Context, order models.Order) (uint64, error) {
	id, err := nextID(ctx, t.tx, true)
	if err != nil {
		return 0, err
	}

	_, err = t.tx.Exec(ctx,
		"INSERT INTO orders (id, maker, offered_asset, offered_amount, requested_asset, requested_amount, filled, cancelled, created_at) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		int64(id), order.Maker.Bytes(), order.OfferedAsset.Bytes(), order.OfferedAmount.String(),
		order.RequestedAsset.Bytes(), order.RequestedAmount.String(), order.Filled, order.Cancelled, order.CreatedAt)
	if err != nil {
		return 0, fmt.Errorf("failed to create order: %w", err)
	}

	if _, err := t.tx.Exec(ctx, "UPDATE order_counter SET next_id = $1", int64(id+1)); err != nil {
		return 0, fmt.Errorf("failed to advance order counter: %w", err)
	}
	return id, nil
}

func (t *orderTx) MarkFilled(ctx context.Context, id uint64) error {
	return t.mark(ctx, id, "UPDATE orders SET filled = TRUE WHERE id = $1")
}

func (t *orderTx) MarkCancelled(ctx context.Context, id uint64) error {
	return t.mark(ctx, id, "UPDATE orders SET cancelled = TRUE WHERE id = $1")
}

func (t *orderTx) mark(ctx context.Context, id uint64, sql string) error {
	tag, err := t.tx.Exec(ctx, sql, int64(id))
	if err != nil {
		return fmt.Errorf("failed to update order status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("order %d: %w", id, store.ErrNoOrder)
	}
	return nil
}

func (t *orderTx) AppendToAccountIndex(ctx context.Context, account common.Address, id uint64) error {
	_, err := t.tx.Exec(ctx,
		"INSERT INTO account_orders (account, order_id) VALUES ($1, $2)",
		account.Bytes(), int64(id))
	if err != nil {
		return fmt.Errorf("failed to index order: %w", err)
	}
	return nil
}

func getOrder(ctx context.Context, q querier, id uint64) (models.Order, bool, error) {
	var (
		order                       models.Order
		rowID                       int64
		maker, offered, requested   []byte
		offeredAmount, requestedAmt string
	)
	err := q.QueryRow(ctx,
		"SELECT id, maker, offered_asset, offered_amount::text, requested_asset, requested_amount::text, filled, cancelled, created_at FROM orders WHERE id = $1",
		int64(id)).Scan(&rowID, &maker, &offered, &offeredAmount, &requested, &requestedAmt, &order.Filled, &order.Cancelled, &order.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return models.Order{}, false, nil
		}
		return models.Order{}, false, fmt.Errorf("failed to get order: %w", err)
	}

	order.ID = uint64(rowID)
	order.Maker = common.BytesToAddress(maker)
	order.OfferedAsset = common.BytesToAddress(offered)
	order.RequestedAsset = common.BytesToAddress(requested)
	if order.OfferedAmount, err = parseAmount(offeredAmount); err != nil {
		return models.Order{}, false, err
	}
	if order.RequestedAmount, err = parseAmount(requestedAmt); err != nil {
		return models.Order{}, false, err
	}
	return order, true, nil
}

func accountIndex(ctx context.Context, q querier, account common.Address) ([]uint64, error) {
	rows, err := q.Query(ctx,
		"SELECT order_id FROM account_orders WHERE account = $1 ORDER BY order_id ASC",
		account.Bytes())
	if err != nil {
		return nil, fmt.Errorf("failed to get user orders: %w", err)
	}
	defer rows.Close()

	ids := []uint64{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan order id: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return ids, nil
}

func nextID(ctx context.Context, q querier, forUpdate bool) (uint64, error) {
	sql := "SELECT next_id FROM order_counter"
	if forUpdate {
		sql += " FOR UPDATE"
	}
	var id int64
	if err := q.QueryRow(ctx, sql).Scan(&id); err != nil {
		return 0, fmt.Errorf("failed to read order counter: %w", err)
	}
	return uint64(id), nil
}

func parseAmount(s string) (decimal.Decimal, error) {
	amount, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero, fmt.Errorf("parse amount: %w", err)
	}
	return amount, nil
}
