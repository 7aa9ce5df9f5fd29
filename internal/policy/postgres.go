package policy

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type PGSource struct{ db *pgxpool.Pool }

func NewPGSource(db *pgxpool.Pool) *PGSource { return &PGSource{db: db} }

func (s *PGSource) ReturnPolicy(ctx context.Context, shopID string) (ReturnPolicy, error) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var st Stored
	err := s.db.QueryRow(ctx, `
		SELECT return_window_hours, allow_returns, perishable_window_hours, allowed_reasons
		FROM shop_return_policies WHERE shop_id = $1
	`, shopID).Scan(&st.ReturnWindowHours, &st.AllowReturns, &st.PerishableWindowHours, &st.AllowedReasons)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return Default(), nil
		}
		return ReturnPolicy{}, fmt.Errorf("get return policy %s: %w", shopID, err)
	}
	return st.Resolve(), nil
}
