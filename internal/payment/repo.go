package payment

import (
	"context"
	"time"
)

type Repository interface {
	Create(ctx context.Context, p *PendingPayment) error
	Get(ctx context.Context, id string) (*PendingPayment, error)
	// Transition moves id from one status to another and fails with
	// ErrStatusChanged when the record is no longer in from.
	Transition(ctx context.Context, id string, from, to Status, at time.Time, by, reason string) (*PendingPayment, error)
	ListByShop(ctx context.Context, shopID string, status Status) ([]PendingPayment, error)
	ListByCustomer(ctx context.Context, customerID string, status Status) ([]PendingPayment, error)
	// ExpireDue marks every pending record whose expiry has passed.
	ExpireDue(ctx context.Context, now time.Time) (int64, error)
}
