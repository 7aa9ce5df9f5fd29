package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/identity"
)

type PGRepo struct{ db *pgxpool.Pool }

func NewPGRepo(db *pgxpool.Pool) *PGRepo { return &PGRepo{db: db} }

const cols = `id, customer_id, shop_id, amount::text, note, recorded_by, recorded_at, expires_at,
	status, current_balance::text, new_balance::text, resolved_at, resolved_by, reason`

func scan(row pgx.Row) (*PendingPayment, error) {
	var (
		p                       PendingPayment
		amount, current, newBal string
	)
	if err := row.Scan(&p.ID, &p.CustomerID, &p.ShopID, &amount, &p.Note, &p.RecordedBy, &p.RecordedAt,
		&p.ExpiresAt, &p.Status, &current, &newBal, &p.ResolvedAt, &p.ResolvedBy, &p.Reason); err != nil {
		return nil, err
	}
	var err error
	if p.Amount, err = decimal.NewFromString(amount); err != nil {
		return nil, fmt.Errorf("amount: %w", err)
	}
	if p.CurrentBalance, err = decimal.NewFromString(current); err != nil {
		return nil, fmt.Errorf("current_balance: %w", err)
	}
	if p.NewBalance, err = decimal.NewFromString(newBal); err != nil {
		return nil, fmt.Errorf("new_balance: %w", err)
	}
	return &p, nil
}

func (r *PGRepo) Create(ctx context.Context, p *PendingPayment) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	_, err := r.db.Exec(ctx, `
		INSERT INTO pending_payments (id, customer_id, shop_id, amount, note, recorded_by, recorded_at,
			expires_at, status, current_balance, new_balance)
		VALUES ($1, $2, $3, $4::numeric, $5, $6, $7, $8, $9, $10::numeric, $11::numeric)
	`, p.ID, p.CustomerID, p.ShopID, p.Amount.String(), p.Note, p.RecordedBy, p.RecordedAt,
		p.ExpiresAt, string(p.Status), p.CurrentBalance.String(), p.NewBalance.String())
	if err != nil {
		return fmt.Errorf("create pending payment: %w", err)
	}
	return nil
}

func (r *PGRepo) Get(ctx context.Context, id string) (*PendingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p, err := scan(r.db.QueryRow(ctx, `SELECT `+cols+` FROM pending_payments WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	return p, err
}

func (r *PGRepo) Transition(ctx context.Context, id string, from, to Status, at time.Time, by, reason string) (*PendingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	p, err := scan(r.db.QueryRow(ctx, `
		UPDATE pending_payments SET status = $3, resolved_at = $4, resolved_by = $5, reason = $6
		WHERE id = $1 AND status = $2
		RETURNING `+cols, id, string(from), string(to), at, by, reason))
	if errors.Is(err, pgx.ErrNoRows) {
		if _, gerr := r.Get(ctx, id); gerr != nil {
			return nil, gerr
		}
		return nil, ErrStatusChanged
	}
	return p, err
}

func (r *PGRepo) list(ctx context.Context, column, value string, status Status) ([]PendingPayment, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	rows, err := r.db.Query(ctx, `
		SELECT `+cols+` FROM pending_payments
		WHERE `+column+` = $1 AND ($2 = '' OR status = $2)
		ORDER BY recorded_at DESC
	`, value, string(status))
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := []PendingPayment{}
	for rows.Next() {
		p, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, *p)
	}
	return out, rows.Err()
}

func (r *PGRepo) ListByShop(ctx context.Context, shopID string, status Status) ([]PendingPayment, error) {
	return r.list(ctx, "shop_id", shopID, status)
}

func (r *PGRepo) ListByCustomer(ctx context.Context, customerID string, status Status) ([]PendingPayment, error) {
	return r.list(ctx, "customer_id", customerID, status)
}

func (r *PGRepo) ExpireDue(ctx context.Context, now time.Time) (int64, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	tag, err := r.db.Exec(ctx, `
		UPDATE pending_payments SET status = $1, resolved_at = $3, resolved_by = $4
		WHERE status = $2 AND expires_at <= $3
	`, string(StatusExpired), string(StatusPending), now, identity.System.Label())
	if err != nil {
		return 0, fmt.Errorf("expire pending payments: %w", err)
	}
	return tag.RowsAffected(), nil
}
