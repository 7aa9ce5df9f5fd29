package ledger

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

type Repository interface {
	Get(ctx context.Context, key Key) (*Account, error)
	// Ensure creates the account with limit if it does not exist yet.
	Ensure(ctx context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error)
	// Post applies p atomically. applied is false when an active entry with
	// p.Ref already exists; the balance is then left untouched.
	Post(ctx context.Context, p Posting, at time.Time) (acc *Account, applied bool, err error)
	// Reverse undoes the active entry carrying ref and releases the ref.
	Reverse(ctx context.Context, key Key, ref, description string, at time.Time) (acc *Account, applied bool, err error)
	SetLimit(ctx context.Context, key Key, limit decimal.Decimal, at time.Time) (*Account, error)
	// ListByShop returns the shop's accounts without their history.
	ListByShop(ctx context.Context, shopID string) ([]Account, error)
	WatchShop(ctx context.Context, shopID string) (<-chan []Account, error)
}
