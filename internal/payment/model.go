// Package payment runs the pending-payment workflow: the shop records a
// payment it received, and the customer's balance only drops once the
// customer confirms it before it expires.
package payment

import (
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/ledger"
)

var (
	ErrNotFound      = errors.New("pending payment not found")
	ErrStatusChanged = errors.New("pending payment is no longer in the expected status")
)

type Status string

const (
	StatusPending   Status = "pending_approval"
	StatusCancelled Status = "cancelled"
	StatusApproved  Status = "approved"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusCancelled, StatusApproved, StatusExpired:
		return true
	}
	return false
}

type PendingPayment struct {
	ID             string          `json:"id" bson:"_id"`
	CustomerID     string          `json:"customerId" bson:"customerId"`
	ShopID         string          `json:"shopId" bson:"shopId"`
	Amount         decimal.Decimal `json:"amount" bson:"amount"`
	Note           string          `json:"note,omitempty" bson:"note"`
	RecordedBy     string          `json:"recordedBy" bson:"recordedBy"`
	RecordedAt     time.Time       `json:"recordedAt" bson:"recordedAt"`
	ExpiresAt      time.Time       `json:"expiresAt" bson:"expiresAt"`
	Status         Status          `json:"status" bson:"status"`
	CurrentBalance decimal.Decimal `json:"currentBalance" bson:"currentBalance"`
	NewBalance     decimal.Decimal `json:"newBalance" bson:"newBalance"`
	ResolvedAt     *time.Time      `json:"resolvedAt,omitempty" bson:"resolvedAt,omitempty"`
	ResolvedBy     string          `json:"resolvedBy,omitempty" bson:"resolvedBy,omitempty"`
	Reason         string          `json:"reason,omitempty" bson:"reason,omitempty"`
}

func (p PendingPayment) Key() ledger.Key {
	return ledger.Key{CustomerID: p.CustomerID, ShopID: p.ShopID}
}

// Ref is the ledger ref of the payment posting; it makes confirmation
// apply at most once.
func (p PendingPayment) Ref() string { return "payment:" + p.ID }

// Due reports whether a still-pending record has passed its expiry.
func (p PendingPayment) Due(now time.Time) bool {
	return p.Status == StatusPending && !now.Before(p.ExpiresAt)
}
