package ledger

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

// NotifyChannel carries "shop:<id>" payloads for committed account changes.
const NotifyChannel = "credit_accounts_changed"

type PGRepo struct {
	db       *pgxpool.Pool
	listener *watch.Listener
	log      *slog.Logger
}

// NewPGRepo needs a listener running on NotifyChannel for its watches.
func NewPGRepo(db *pgxpool.Pool, listener *watch.Listener, log *slog.Logger) *PGRepo {
	return &PGRepo{db: db, listener: listener, log: log}
}

type querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func scanAccount(row pgx.Row) (*Account, error) {
	var (
		a              Account
		limit, balance string
	)
	if err := row.Scan(&a.CustomerID, &a.ShopID, &limit, &balance, &a.CreatedAt, &a.UpdatedAt); err != nil {
		return nil, err
	}
	var err error
	if a.CreditLimit, err = decimal.NewFromString(limit); err != nil {
		return nil, fmt.Errorf("credit_limit: %w", err)
	}
	if a.CurrentBalance, err = decimal.NewFromString(balance); err != nil {
		return nil, fmt.Errorf("current_balance: %w", err)
	}
	return &a, nil
}

const accountCols = `customer_id, shop_id, credit_limit::text, current_balance::text, created_at, updated_at`

func getAccount(ctx context.Context, q querier, key Key) (*Account, error) {
	a, err := scanAccount(q.QueryRow(ctx, `
		SELECT `+accountCols+`
		FROM credit_accounts WHERE customer_id = $1 AND shop_id = $2
	`, key.CustomerID, key.ShopID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	rows, err := q.Query(ctx, `
		SELECT id, created_at, type, amount::text, applied::text, order_id, ref, reverses, reversed, description
		FROM credit_entries WHERE customer_id = $1 AND shop_id = $2
		ORDER BY seq
	`, key.CustomerID, key.ShopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	for rows.Next() {
		var (
			e               Entry
			amount, applied string
		)
		if err := rows.Scan(&e.ID, &e.Date, &e.Type, &amount, &applied, &e.OrderID, &e.Ref, &e.Reverses, &e.Reversed, &e.Description); err != nil {
			return nil, err
		}
		if e.Amount, err = decimal.NewFromString(amount); err != nil {
			return nil, fmt.Errorf("entry %s amount: %w", e.ID, err)
		}
		if e.Applied, err = decimal.NewFromString(applied); err != nil {
			return nil, fmt.Errorf("entry %s applied: %w", e.ID, err)
		}
		a.History = append(a.History, e)
	}
	return a, rows.Err()
}

// lockAccount takes the row lock every balance change serializes on and
// returns the balance and limit it guards.
func lockAccount(ctx context.Context, tx pgx.Tx, key Key) (balance, limit decimal.Decimal, err error) {
	var b, l string
	err = tx.QueryRow(ctx, `
		SELECT current_balance::text, credit_limit::text
		FROM credit_accounts WHERE customer_id = $1 AND shop_id = $2 FOR UPDATE
	`, key.CustomerID, key.ShopID).Scan(&b, &l)
	if errors.Is(err, pgx.ErrNoRows) {
		return balance, limit, ErrNotFound
	}
	if err != nil {
		return balance, limit, err
	}
	if balance, err = decimal.NewFromString(b); err != nil {
		return balance, limit, fmt.Errorf("current_balance: %w", err)
	}
	if limit, err = decimal.NewFromString(l); err != nil {
		return balance, limit, fmt.Errorf("credit_limit: %w", err)
	}
	return balance, limit, nil
}

// addBalance moves the locked balance by delta, refusing to leave the
// [0, limit] range on an increase.
func addBalance(ctx context.Context, tx pgx.Tx, key Key, delta decimal.Decimal, at time.Time) error {
	tag, err := tx.Exec(ctx, `
		UPDATE credit_accounts SET current_balance = current_balance + $3::numeric, updated_at = $4
		WHERE customer_id = $1 AND shop_id = $2
		  AND current_balance + $3::numeric >= 0
		  AND ($3::numeric <= 0 OR current_balance + $3::numeric <= credit_limit)
	`, key.CustomerID, key.ShopID, delta.String(), at)
	if err != nil {
		return fmt.Errorf("update balance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrLimitExceeded
	}
	return nil
}

func (r *PGRepo) Get(ctx context.Context, key Key) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return getAccount(ctx, r.db, key)
}

func (r *PGRepo) Ensure(ctx context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		INSERT INTO credit_accounts (customer_id, shop_id, credit_limit, current_balance, created_at, updated_at)
		VALUES ($1, $2, $3::numeric, 0, $4, $4)
		ON CONFLICT (customer_id, shop_id) DO NOTHING
	`, key.CustomerID, key.ShopID, limit.String(), at)
	if err != nil {
		return nil, fmt.Errorf("ensure account: %w", err)
	}
	if tag.RowsAffected() == 1 {
		if err := watch.Notify(ctx, tx, NotifyChannel, watch.ShopTopic(key.ShopID)); err != nil {
			return nil, err
		}
	}
	a, err := getAccount(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	return a, tx.Commit(ctx)
}

func (r *PGRepo) Post(ctx context.Context, p Posting, at time.Time) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, limit, err := lockAccount(ctx, tx, p.Key)
	if err != nil {
		return nil, false, err
	}
	var dup bool
	if err := tx.QueryRow(ctx, `
		SELECT EXISTS(SELECT 1 FROM credit_entries
			WHERE customer_id = $1 AND shop_id = $2 AND ref = $3 AND NOT reversed)
	`, p.CustomerID, p.ShopID, p.Ref).Scan(&dup); err != nil {
		return nil, false, fmt.Errorf("check ref: %w", err)
	}
	if dup {
		a, err := getAccount(ctx, tx, p.Key)
		return a, false, err
	}
	next, err := nextBalance(balance, limit, p.Amount, ruleFor(p.Type, p.Amount))
	if err != nil {
		return nil, false, err
	}
	applied := next.Sub(balance)
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_entries (id, customer_id, shop_id, type, amount, applied, order_id, ref, description, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10)
	`, uuid.NewString(), p.CustomerID, p.ShopID, string(p.Type), p.Amount.String(), applied.String(),
		p.OrderID, p.Ref, p.Description, at); err != nil {
		return nil, false, fmt.Errorf("insert entry: %w", err)
	}
	if err := addBalance(ctx, tx, p.Key, applied, at); err != nil {
		return nil, false, err
	}
	if err := watch.Notify(ctx, tx, NotifyChannel, watch.ShopTopic(p.ShopID)); err != nil {
		return nil, false, err
	}
	a, err := getAccount(ctx, tx, p.Key)
	if err != nil {
		return nil, false, err
	}
	return a, true, tx.Commit(ctx)
}

func (r *PGRepo) Reverse(ctx context.Context, key Key, ref, description string, at time.Time) (*Account, bool, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, false, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	balance, limit, err := lockAccount(ctx, tx, key)
	if err != nil {
		return nil, false, err
	}
	var origApplied, orderID string
	err = tx.QueryRow(ctx, `
		UPDATE credit_entries SET reversed = TRUE
		WHERE customer_id = $1 AND shop_id = $2 AND ref = $3 AND NOT reversed
		RETURNING applied::text, order_id
	`, key.CustomerID, key.ShopID, ref).Scan(&origApplied, &orderID)
	if errors.Is(err, pgx.ErrNoRows) {
		a, err := getAccount(ctx, tx, key)
		return a, false, err
	}
	if err != nil {
		return nil, false, fmt.Errorf("mark reversed: %w", err)
	}
	orig, err := decimal.NewFromString(origApplied)
	if err != nil {
		return nil, false, err
	}
	amount := orig.Neg()
	next, _ := nextBalance(balance, limit, amount, ruleRestore)
	applied := next.Sub(balance)
	id := uuid.NewString()
	if _, err := tx.Exec(ctx, `
		INSERT INTO credit_entries (id, customer_id, shop_id, type, amount, applied, order_id, ref, reverses, description, created_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6::numeric, $7, $8, $9, $10, $11)
	`, id, key.CustomerID, key.ShopID, string(EntryReversal), amount.String(), applied.String(), orderID,
		reversalRef(ref, id), ref, description, at); err != nil {
		return nil, false, fmt.Errorf("insert reversal: %w", err)
	}
	if err := addBalance(ctx, tx, key, applied, at); err != nil {
		return nil, false, err
	}
	if err := watch.Notify(ctx, tx, NotifyChannel, watch.ShopTopic(key.ShopID)); err != nil {
		return nil, false, err
	}
	a, err := getAccount(ctx, tx, key)
	if err != nil {
		return nil, false, err
	}
	return a, true, tx.Commit(ctx)
}

func (r *PGRepo) SetLimit(ctx context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, _, err := lockAccount(ctx, tx, key); err != nil {
		return nil, err
	}
	tag, err := tx.Exec(ctx, `
		UPDATE credit_accounts SET credit_limit = $3::numeric, updated_at = $4
		WHERE customer_id = $1 AND shop_id = $2 AND current_balance <= $3::numeric
	`, key.CustomerID, key.ShopID, limit.String(), at)
	if err != nil {
		return nil, fmt.Errorf("set limit: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return nil, ErrLimitBelowBalance
	}
	if err := watch.Notify(ctx, tx, NotifyChannel, watch.ShopTopic(key.ShopID)); err != nil {
		return nil, err
	}
	a, err := getAccount(ctx, tx, key)
	if err != nil {
		return nil, err
	}
	return a, tx.Commit(ctx)
}

func (r *PGRepo) ListByShop(ctx context.Context, shopID string) ([]Account, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	rows, err := r.db.Query(ctx, `
		SELECT `+accountCols+`
		FROM credit_accounts WHERE shop_id = $1
		ORDER BY customer_id
	`, shopID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Account{}
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *a)
	}
	return out, rows.Err()
}

func (r *PGRepo) WatchShop(ctx context.Context, shopID string) (<-chan []Account, error) {
	signals := r.listener.Subscribe(ctx, NotifyChannel, watch.ShopTopic(shopID))
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Account, error) {
		return r.ListByShop(ctx, shopID)
	}, r.log), nil
}
