package payment

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/metrics"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

// Ledger is the slice of the credit ledger the workflow needs.
type Ledger interface {
	Account(ctx context.Context, actor identity.Actor, key ledger.Key) (*ledger.Account, error)
	Post(ctx context.Context, p ledger.Posting) (*ledger.Account, bool, error)
	Reverse(ctx context.Context, key ledger.Key, ref, description string) (bool, error)
}

type Service struct {
	repo    Repository
	ledger  Ledger
	ttl     time.Duration
	metrics *metrics.Metrics
	log     *slog.Logger
	now     func() time.Time
}

func NewService(repo Repository, l Ledger, ttl time.Duration, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{repo: repo, ledger: l, ttl: ttl, metrics: m, log: log, now: time.Now}
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

type RecordInput struct {
	CustomerID string
	ShopID     string
	Amount     decimal.Decimal
	Note       string
}

// Record stores a payment the shop says it received. The balance is not
// touched until the customer confirms.
func (s *Service) Record(ctx context.Context, actor identity.Actor, in RecordInput) (*PendingPayment, error) {
	const op = "payment.Record"
	if !actor.IsStaffOf(in.ShopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can record payments", in.ShopID)
	}
	if in.CustomerID == "" {
		return nil, apperr.Validation(op, "customer is required")
	}
	amount := money.Round(in.Amount)
	if !amount.IsPositive() {
		return nil, apperr.Validation(op, "amount must be greater than zero")
	}
	key := ledger.Key{CustomerID: in.CustomerID, ShopID: in.ShopID}
	acc, err := s.ledger.Account(ctx, identity.System, key)
	if apperr.Is(err, apperr.KindNotFound) {
		return nil, apperr.Validation(op, "customer %s has no credit balance at this shop", in.CustomerID)
	}
	if err != nil {
		return nil, err
	}
	if amount.GreaterThan(acc.CurrentBalance) {
		return nil, apperr.Validation(op, "payment of %s exceeds the current balance of %s",
			amount.StringFixed(money.AmountPlaces), acc.CurrentBalance.StringFixed(money.AmountPlaces))
	}

	now := s.now()
	p := &PendingPayment{
		ID:             uuid.NewString(),
		CustomerID:     in.CustomerID,
		ShopID:         in.ShopID,
		Amount:         amount,
		Note:           in.Note,
		RecordedBy:     actor.Label(),
		RecordedAt:     now,
		ExpiresAt:      now.Add(s.ttl),
		Status:         StatusPending,
		CurrentBalance: acc.CurrentBalance,
		NewBalance:     acc.CurrentBalance.Sub(amount),
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.metrics.PendingPayment(string(StatusPending))
	s.log.Info("payment_recorded", "payment_id", p.ID, "customer_id", p.CustomerID, "shop_id", p.ShopID,
		"amount", amount.String(), "expires_at", p.ExpiresAt)
	return p, nil
}

func (s *Service) load(ctx context.Context, op, id string) (*PendingPayment, error) {
	p, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(op, "pending payment %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return p, nil
}

// requirePending rejects records that are resolved, expiring a due record
// on the way.
func (s *Service) requirePending(ctx context.Context, op string, p *PendingPayment) error {
	now := s.now()
	if p.Due(now) {
		if _, err := s.repo.Transition(ctx, p.ID, StatusPending, StatusExpired, now, identity.System.Label(), ""); err == nil {
			s.metrics.PendingPayment(string(StatusExpired))
		}
		return apperr.Validation(op, "pending payment expired at %s", p.ExpiresAt.Format(time.RFC3339))
	}
	if p.Status != StatusPending {
		return apperr.Validation(op, "pending payment is %s", p.Status)
	}
	return nil
}

func (s *Service) resolve(ctx context.Context, op string, p *PendingPayment, to Status, actor identity.Actor, reason string) (*PendingPayment, error) {
	out, err := s.repo.Transition(ctx, p.ID, StatusPending, to, s.now(), actor.Label(), reason)
	if errors.Is(err, ErrStatusChanged) {
		return nil, apperr.Conflict(op, err)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.metrics.PendingPayment(string(to))
	return out, nil
}

// Cancel withdraws a record the shop entered by mistake.
func (s *Service) Cancel(ctx context.Context, actor identity.Actor, id, reason string) (*PendingPayment, error) {
	const op = "payment.Cancel"
	p, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaffOf(p.ShopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can cancel this payment", p.ShopID)
	}
	if err := s.requirePending(ctx, op, p); err != nil {
		return nil, err
	}
	return s.resolve(ctx, op, p, StatusCancelled, actor, reason)
}

// Decline is the customer rejecting a payment they do not recognise.
func (s *Service) Decline(ctx context.Context, actor identity.Actor, id, reason string) (*PendingPayment, error) {
	const op = "payment.Decline"
	p, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != identity.RoleCustomer || actor.ID != p.CustomerID {
		return nil, apperr.Forbidden(op, "only the customer can decline this payment")
	}
	if err := s.requirePending(ctx, op, p); err != nil {
		return nil, err
	}
	return s.resolve(ctx, op, p, StatusCancelled, actor, reason)
}

// Confirm applies the payment to the ledger exactly once, then marks the
// record approved. A failed status write undoes the posting unless the
// record turns out to be approved already.
func (s *Service) Confirm(ctx context.Context, actor identity.Actor, id string) (*PendingPayment, error) {
	const op = "payment.Confirm"
	p, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if actor.Role != identity.RoleCustomer || actor.ID != p.CustomerID {
		return nil, apperr.Forbidden(op, "only the customer can confirm this payment")
	}
	if p.Status == StatusApproved {
		return p, nil
	}
	if err := s.requirePending(ctx, op, p); err != nil {
		return nil, err
	}

	desc := "payment confirmed by customer"
	if p.Note != "" {
		desc = fmt.Sprintf("%s: %s", desc, p.Note)
	}
	_, applied, err := s.ledger.Post(ctx, ledger.Posting{
		Key:         p.Key(),
		Type:        ledger.EntryPayment,
		Amount:      p.Amount.Neg(),
		Ref:         p.Ref(),
		Description: desc,
	})
	if err != nil {
		return nil, err
	}

	out, err := s.repo.Transition(ctx, p.ID, StatusPending, StatusApproved, s.now(), actor.Label(), "")
	if err == nil {
		s.metrics.PendingPayment(string(StatusApproved))
		s.log.Info("payment_confirmed", "payment_id", p.ID, "customer_id", p.CustomerID, "amount", p.Amount.String())
		return out, nil
	}

	if cur, gerr := s.repo.Get(ctx, p.ID); gerr == nil && cur.Status == StatusApproved {
		return cur, nil
	}
	if applied {
		s.compensate(ctx, p)
	}
	if errors.Is(err, ErrStatusChanged) {
		return nil, apperr.Conflict(op, err)
	}
	return nil, apperr.Internal(op, err)
}

func (s *Service) compensate(ctx context.Context, p *PendingPayment) {
	// the request may be gone; the reversal must still run
	ctx = context.WithoutCancel(ctx)
	if _, err := s.ledger.Reverse(ctx, p.Key(), p.Ref(), "payment confirmation not recorded"); err != nil {
		s.metrics.Compensation("failed")
		s.log.Error("payment_compensation_failed", "payment_id", p.ID, "ref", p.Ref(), "err", err)
		return
	}
	s.metrics.Compensation("reversed")
}

func (s *Service) ListForShop(ctx context.Context, actor identity.Actor, shopID string, status Status) ([]PendingPayment, error) {
	const op = "payment.ListForShop"
	if !actor.IsStaffOf(shopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can list payments", shopID)
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", status)
	}
	out, err := s.repo.ListByShop(ctx, shopID, status)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}

func (s *Service) ListForCustomer(ctx context.Context, actor identity.Actor, status Status) ([]PendingPayment, error) {
	const op = "payment.ListForCustomer"
	if actor.Role != identity.RoleCustomer {
		return nil, apperr.Forbidden(op, "only customers have pending payments")
	}
	if status != "" && !status.Valid() {
		return nil, apperr.Validation(op, "unknown status %q", status)
	}
	out, err := s.repo.ListByCustomer(ctx, actor.ID, status)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}

// Sweep expires every pending record past its deadline.
func (s *Service) Sweep(ctx context.Context) (int64, error) {
	n, err := s.repo.ExpireDue(ctx, s.now())
	if err != nil {
		return 0, err
	}
	for i := int64(0); i < n; i++ {
		s.metrics.PendingPayment(string(StatusExpired))
	}
	if n > 0 {
		s.log.Info("payments_expired", "count", n)
	}
	return n, nil
}

// RunSweeper calls Sweep every interval until ctx ends.
func (s *Service) RunSweeper(ctx context.Context, interval time.Duration) {
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.log.Warn("payment_sweep_failed", "err", err)
			}
		}
	}
}
