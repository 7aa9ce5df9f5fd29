package order

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/MikeMC777/ordenes-credito/internal/watch"
)

var (
	ErrNotFound = errors.New("order not found")
	ErrConflict = errors.New("order version changed")
)

type Repository interface {
	Create(ctx context.Context, o *Order) error
	Get(ctx context.Context, id string) (*Order, error)
	// Update replaces the stored order only if its version still equals
	// expected; otherwise it returns ErrConflict.
	Update(ctx context.Context, o *Order, expected int64) error
	ListByShop(ctx context.Context, shopID string, q ListQuery) ([]Order, error)
	ListByCustomer(ctx context.Context, customerID string, q ListQuery) ([]Order, error)
	WatchShop(ctx context.Context, shopID string, q ListQuery) (<-chan []Order, error)
	WatchCustomer(ctx context.Context, customerID string, q ListQuery) (<-chan []Order, error)
}

// NotifyChannel carries "shop:<id>" and "customer:<id>" payloads for
// committed order writes.
const NotifyChannel = "orders_changed"

type PGRepo struct {
	db       *pgxpool.Pool
	listener *watch.Listener
	log      *slog.Logger
}

// NewPGRepo needs a listener running on NotifyChannel for its watches.
func NewPGRepo(db *pgxpool.Pool, listener *watch.Listener, log *slog.Logger) *PGRepo {
	return &PGRepo{db: db, listener: listener, log: log}
}

func topics(o *Order) []watch.Topic {
	return []watch.Topic{watch.ShopTopic(o.ShopID), watch.CustomerTopic(o.CustomerID)}
}

func (r *PGRepo) Create(ctx context.Context, o *Order) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc, err := json.Marshal(o)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO orders (id, shop_id, customer_id, status, total, version, doc, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5::numeric, $6, $7, $8, $9)
	`, o.ID, o.ShopID, o.CustomerID, string(o.Status), o.TotalAmount.String(), o.Version, doc, o.CreatedAt, o.UpdatedAt); err != nil {
		return fmt.Errorf("insert order: %w", err)
	}
	if err := watch.Notify(ctx, tx, NotifyChannel, topics(o)...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func decodeDoc(doc []byte) (*Order, error) {
	var o Order
	if err := json.Unmarshal(doc, &o); err != nil {
		return nil, fmt.Errorf("decode order: %w", err)
	}
	return &o, nil
}

func (r *PGRepo) Get(ctx context.Context, id string) (*Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var doc []byte
	if err := r.db.QueryRow(ctx, `SELECT doc FROM orders WHERE id = $1`, id).Scan(&doc); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return decodeDoc(doc)
}

func (r *PGRepo) Update(ctx context.Context, o *Order, expected int64) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	doc, err := json.Marshal(o)
	if err != nil {
		return err
	}
	tx, err := r.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	tag, err := tx.Exec(ctx, `
		UPDATE orders
		SET status = $2, total = $3::numeric, version = $4, doc = $5, updated_at = $6
		WHERE id = $1 AND version = $7
	`, o.ID, string(o.Status), o.TotalAmount.String(), o.Version, doc, o.UpdatedAt, expected)
	if err != nil {
		return fmt.Errorf("update order: %w", err)
	}
	if tag.RowsAffected() == 0 {
		var one int
		if err := tx.QueryRow(ctx, `SELECT 1 FROM orders WHERE id = $1`, o.ID).Scan(&one); errors.Is(err, pgx.ErrNoRows) {
			return ErrNotFound
		}
		return ErrConflict
	}
	if err := watch.Notify(ctx, tx, NotifyChannel, topics(o)...); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

func (r *PGRepo) list(ctx context.Context, column, value string, q ListQuery) ([]Order, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	q = q.Normalized()
	rows, err := r.db.Query(ctx, `
		SELECT doc FROM orders
		WHERE `+column+` = $1 AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC LIMIT $3 OFFSET $4
	`, value, string(q.Status), q.Limit, q.Offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []Order{}
	for rows.Next() {
		var doc []byte
		if err := rows.Scan(&doc); err != nil {
			return nil, err
		}
		o, err := decodeDoc(doc)
		if err != nil {
			return nil, err
		}
		out = append(out, *o)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListByShop(ctx context.Context, shopID string, q ListQuery) ([]Order, error) {
	return r.list(ctx, "shop_id", shopID, q)
}

func (r *PGRepo) ListByCustomer(ctx context.Context, customerID string, q ListQuery) ([]Order, error) {
	return r.list(ctx, "customer_id", customerID, q)
}

func (r *PGRepo) WatchShop(ctx context.Context, shopID string, q ListQuery) (<-chan []Order, error) {
	signals := r.listener.Subscribe(ctx, NotifyChannel, watch.ShopTopic(shopID))
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Order, error) {
		return r.ListByShop(ctx, shopID, q)
	}, r.log), nil
}

func (r *PGRepo) WatchCustomer(ctx context.Context, customerID string, q ListQuery) (<-chan []Order, error) {
	signals := r.listener.Subscribe(ctx, NotifyChannel, watch.CustomerTopic(customerID))
	return watch.Feed(ctx, signals, func(ctx context.Context) ([]Order, error) {
		return r.ListByCustomer(ctx, customerID, q)
	}, r.log), nil
}
