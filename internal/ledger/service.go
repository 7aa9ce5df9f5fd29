package ledger

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/metrics"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

type Service struct {
	repo         Repository
	defaultLimit decimal.Decimal
	metrics      *metrics.Metrics
	log          *slog.Logger
	now          func() time.Time
}

func NewService(repo Repository, defaultLimit decimal.Decimal, m *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{repo: repo, defaultLimit: defaultLimit, metrics: m, log: log, now: time.Now}
}

// SetClock replaces the time source; tests use it to pin timestamps.
func (s *Service) SetClock(now func() time.Time) { s.now = now }

func canView(actor identity.Actor, key Key) bool {
	return actor.Role == identity.RoleSystem || actor.IsStaffOf(key.ShopID) ||
		(actor.Role == identity.RoleCustomer && actor.ID == key.CustomerID)
}

func (s *Service) Account(ctx context.Context, actor identity.Actor, key Key) (*Account, error) {
	const op = "ledger.Account"
	if !canView(actor, key) {
		return nil, apperr.Forbidden(op, "not allowed to view this credit account")
	}
	a, err := s.repo.Get(ctx, key)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(op, "no credit account for customer %s at shop %s", key.CustomerID, key.ShopID)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return a, nil
}

// Post applies a posting, creating the account with the default limit when
// a charge arrives for a customer without one. applied is false when the
// posting's ref was already recorded.
func (s *Service) Post(ctx context.Context, p Posting) (*Account, bool, error) {
	const op = "ledger.Post"
	if err := p.validate(); err != nil {
		return nil, false, apperr.Validation(op, "%v", err)
	}
	p.Amount = money.Round(p.Amount)
	at := s.now()
	if ruleFor(p.Type, p.Amount) == ruleLimit {
		if _, err := s.repo.Ensure(ctx, p.Key, s.defaultLimit, at); err != nil {
			return nil, false, apperr.Internal(op, err)
		}
	}
	a, applied, err := s.repo.Post(ctx, p, at)
	switch {
	case errors.Is(err, ErrLimitExceeded):
		s.metrics.Posting(string(p.Type), "rejected")
		if cur, gerr := s.repo.Get(ctx, p.Key); gerr == nil {
			return nil, false, apperr.Validation(op, "credit limit exceeded: balance %s plus %s is over the limit of %s",
				cur.CurrentBalance.StringFixed(money.AmountPlaces), p.Amount.StringFixed(money.AmountPlaces),
				cur.CreditLimit.StringFixed(money.AmountPlaces))
		}
		return nil, false, apperr.Validation(op, "credit limit exceeded")
	case errors.Is(err, ErrExceedsBalance):
		s.metrics.Posting(string(p.Type), "rejected")
		return nil, false, apperr.Validation(op, "payment of %s exceeds the current balance",
			p.Amount.Neg().StringFixed(money.AmountPlaces))
	case errors.Is(err, ErrNotFound):
		return nil, false, apperr.NotFound(op, "no credit account for customer %s at shop %s", p.CustomerID, p.ShopID)
	case err != nil:
		return nil, false, apperr.Dependency(op, "credit ledger unavailable", err)
	}
	if applied {
		s.metrics.Posting(string(p.Type), "applied")
		s.log.Info("ledger_posted", "customer_id", p.CustomerID, "shop_id", p.ShopID,
			"type", p.Type, "amount", p.Amount.String(), "ref", p.Ref, "balance", a.CurrentBalance.String())
	} else {
		s.metrics.Posting(string(p.Type), "duplicate")
	}
	return a, applied, nil
}

// Reverse undoes the posting recorded under ref, if any.
func (s *Service) Reverse(ctx context.Context, key Key, ref, description string) (bool, error) {
	const op = "ledger.Reverse"
	a, applied, err := s.repo.Reverse(ctx, key, ref, description, s.now())
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, apperr.Dependency(op, "credit ledger unavailable", err)
	}
	if !applied {
		return false, nil
	}
	s.log.Warn("ledger_reversed", "customer_id", key.CustomerID, "shop_id", key.ShopID, "ref", ref)
	if n := len(a.History); n > 0 {
		if rev := a.History[n-1]; rev.Reverses == ref && !rev.Applied.Equal(rev.Amount) {
			s.log.Warn("ledger_reversal_clamped", "customer_id", key.CustomerID, "shop_id", key.ShopID,
				"ref", ref, "requested", rev.Amount.String(), "applied", rev.Applied.String())
		}
	}
	return true, nil
}

// SetCreditLimit changes a customer's limit at the actor's shop, opening the
// account if needed. The limit may never drop below what is owed.
func (s *Service) SetCreditLimit(ctx context.Context, actor identity.Actor, key Key, limit decimal.Decimal) (*Account, error) {
	const op = "ledger.SetCreditLimit"
	if !actor.IsStaffOf(key.ShopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can change credit limits", key.ShopID)
	}
	if key.CustomerID == "" {
		return nil, apperr.Validation(op, "customer is required")
	}
	if limit.IsNegative() {
		return nil, apperr.Validation(op, "credit limit must not be negative")
	}
	limit = money.Round(limit)
	at := s.now()
	if _, err := s.repo.Ensure(ctx, key, limit, at); err != nil {
		return nil, apperr.Internal(op, err)
	}
	a, err := s.repo.SetLimit(ctx, key, limit, at)
	if errors.Is(err, ErrLimitBelowBalance) {
		cur, gerr := s.repo.Get(ctx, key)
		if gerr != nil {
			return nil, apperr.Validation(op, "credit limit cannot be below the current balance")
		}
		return nil, apperr.Validation(op, "credit limit %s is below the current balance of %s",
			limit.StringFixed(money.AmountPlaces), cur.CurrentBalance.StringFixed(money.AmountPlaces))
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.log.Info("credit_limit_set", "customer_id", key.CustomerID, "shop_id", key.ShopID,
		"limit", limit.String(), "by", actor.Label())
	return a, nil
}

func (s *Service) AccountsByShop(ctx context.Context, actor identity.Actor, shopID string) ([]Account, error) {
	const op = "ledger.AccountsByShop"
	if !actor.IsStaffOf(shopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can list credit accounts", shopID)
	}
	out, err := s.repo.ListByShop(ctx, shopID)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}

func (s *Service) WatchShop(ctx context.Context, actor identity.Actor, shopID string) (<-chan []Account, error) {
	const op = "ledger.WatchShop"
	if !actor.IsStaffOf(shopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can watch credit accounts", shopID)
	}
	ch, err := s.repo.WatchShop(ctx, shopID)
	if err != nil {
		return nil, apperr.Dependency(op, "subscription unavailable", err)
	}
	return ch, nil
}
