package order

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
	"github.com/MikeMC777/ordenes-credito/internal/policy"
)

// Ledger is the slice of the credit ledger orders post to.
type Ledger interface {
	Post(ctx context.Context, p ledger.Posting) (*ledger.Account, bool, error)
	Reverse(ctx context.Context, key ledger.Key, ref, description string) (bool, error)
}

type Deps struct {
	Ledger     Ledger
	Fees       FeeCalculator
	Commission CommissionRecorder
	Policies   policy.Source
	Prepared   PreparedTracker
	Metrics    *metrics.Metrics
	Log        *slog.Logger
}

type Service struct {
	repo       Repository
	ledger     Ledger
	fees       FeeCalculator
	commission CommissionRecorder
	policies   policy.Source
	prepared   PreparedTracker
	metrics    *metrics.Metrics
	log        *slog.Logger
	now        func() time.Time
}

func NewService(repo Repository, d Deps) *Service {
	s := &Service{
		repo:       repo,
		ledger:     d.Ledger,
		fees:       d.Fees,
		commission: d.Commission,
		policies:   d.Policies,
		prepared:   d.Prepared,
		metrics:    d.Metrics,
		log:        d.Log,
		now:        time.Now,
	}
	if s.fees == nil {
		s.fees = FlatFee{}
	}
	if s.commission == nil {
		s.commission = NoopCommission{}
	}
	if s.policies == nil {
		s.policies = policy.NewStaticSource()
	}
	if s.prepared == nil {
		s.prepared = NewMemoryTracker(12 * time.Hour)
	}
	if s.log == nil {
		s.log = slog.Default()
	}
	return s
}

func (s *Service) SetClock(now func() time.Time) { s.now = now }

// Result is an updated order plus warnings about secondary effects that
// failed without undoing the change.
type Result struct {
	Order    *Order   `json:"order"`
	Warnings []string `json:"warnings,omitempty"`
}

func accountKey(o *Order) ledger.Key {
	return ledger.Key{CustomerID: o.CustomerID, ShopID: o.ShopID}
}

func canView(actor identity.Actor, o *Order) bool {
	return actor.Role == identity.RoleSystem || actor.IsStaffOf(o.ShopID) ||
		(actor.Role == identity.RoleCustomer && actor.ID == o.CustomerID)
}

func isOwner(actor identity.Actor, o *Order) bool {
	return actor.Role == identity.RoleCustomer && actor.ID == o.CustomerID
}

func (s *Service) load(ctx context.Context, op, id string) (*Order, error) {
	o, err := s.repo.Get(ctx, id)
	if errors.Is(err, ErrNotFound) {
		return nil, apperr.NotFound(op, "order %s not found", id)
	}
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return o, nil
}

func (s *Service) loadAsStaff(ctx context.Context, op string, actor identity.Actor, id string) (*Order, error) {
	o, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !actor.IsStaffOf(o.ShopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can do this", o.ShopID)
	}
	return o, nil
}

func (o *Order) addChange(c Change) {
	c.ID = uuid.NewString()
	o.History = append(o.History, c)
}

// adjustmentRef names a post-approval posting. The write id keeps two
// concurrent edits of the same version from sharing a ref.
func adjustmentRef(kind string, o *Order) string {
	return fmt.Sprintf("%s:%s:v%d:%s", kind, o.ID, o.Version+1, uuid.NewString()[:8])
}

// creditPosting builds the ledger follow-up for a change of the credit
// portion of an approved order; nil when nothing is owed or refunded.
func creditPosting(o *Order, delta decimal.Decimal, refund ledger.EntryType, kind, desc string) *ledger.Posting {
	if !o.CreditApproved || delta.IsZero() {
		return nil
	}
	typ := refund
	if delta.IsPositive() {
		typ = ledger.EntryAdjustment
	}
	return &ledger.Posting{
		Key:         accountKey(o),
		Type:        typ,
		Amount:      delta,
		OrderID:     o.ID,
		Ref:         adjustmentRef(kind, o),
		Description: desc,
	}
}

// commit writes o over before. A posting, if any, is applied to the ledger
// first; should the order write then fail, the posting is reversed unless
// the stored order already records it.
func (s *Service) commit(ctx context.Context, op string, before, o *Order, posting *ledger.Posting) (*Order, error) {
	if err := o.checkTotals(op); err != nil {
		return nil, err
	}
	applied := false
	if posting != nil {
		var err error
		if _, applied, err = s.ledger.Post(ctx, *posting); err != nil {
			return nil, err
		}
	}
	o.UpdatedAt = s.now()
	o.Version = before.Version + 1
	if err := s.repo.Update(ctx, o, before.Version); err != nil {
		if applied {
			s.compensate(ctx, o.ID, *posting)
		}
		if errors.Is(err, ErrConflict) || errors.Is(err, ErrNotFound) {
			return nil, apperr.Conflict(op, err)
		}
		return nil, apperr.Internal(op, err)
	}
	if before.Status != o.Status {
		s.metrics.Transition(string(before.Status), string(o.Status))
		s.log.Info("order_status_changed", "order_id", o.ID, "from", before.Status, "to", o.Status, "version", o.Version)
	}
	return o, nil
}

func (s *Service) compensate(ctx context.Context, orderID string, p ledger.Posting) {
	ctx = context.WithoutCancel(ctx)
	if cur, err := s.repo.Get(ctx, orderID); err == nil && cur.RecordsLedgerRef(p.Ref) {
		s.metrics.Compensation("kept")
		return
	}
	if _, err := s.ledger.Reverse(ctx, p.Key, p.Ref, "order update not recorded"); err != nil {
		s.metrics.Compensation("failed")
		s.log.Error("ledger_compensation_failed", "order_id", orderID, "ref", p.Ref, "err", err)
		return
	}
	s.metrics.Compensation("reversed")
	s.log.Warn("ledger_compensated", "order_id", orderID, "ref", p.Ref)
}

// recordCommission runs the commission side effect. Failure never undoes
// the order change; it comes back as a warning.
func (s *Service) recordCommission(ctx context.Context, o *Order, event string) []string {
	if _, err := s.commission.RecordCommission(ctx, o, event); err != nil {
		s.metrics.CommissionFailed()
		s.log.Warn("commission_failed", "order_id", o.ID, "event", event, "err", err)
		return []string{apperr.Dependency("order.commission", "commission could not be recorded", err).Error()}
	}
	return nil
}

// Place creates an order for the calling customer.
func (s *Service) Place(ctx context.Context, actor identity.Actor, in PlaceInput) (*Result, error) {
	const op = "order.Place"
	if actor.Role != identity.RoleCustomer {
		return nil, apperr.Forbidden(op, "only customers can place orders")
	}
	if err := check(op, in); err != nil {
		return nil, err
	}
	if in.DeliveryType == DeliveryDelivery && in.DeliveryAddress == nil {
		return nil, apperr.Validation(op, "delivery address is required for delivery orders")
	}

	now := s.now()
	o := &Order{
		ID:            uuid.NewString(),
		ShopID:        in.ShopID,
		CustomerID:    actor.ID,
		CustomerEmail: actor.Email,
		PaymentMethod: in.PaymentMethod,
		DeliveryType:  in.DeliveryType,
		Notes:         in.Notes,
		History:       []Change{},
		CreatedAt:     now,
		UpdatedAt:     now,
		Version:       1,
	}
	if in.DeliveryType == DeliveryDelivery {
		addr := *in.DeliveryAddress
		o.DeliveryAddress = &addr
	}
	for i, it := range in.Items {
		if !it.Price.IsPositive() {
			return nil, apperr.Validation(op, "item %d: price must be greater than zero", i+1)
		}
		qty := it.Quantity.Round(money.QuantityPlaces)
		if !qty.IsPositive() {
			return nil, apperr.Validation(op, "item %d: quantity must be greater than zero", i+1)
		}
		price := money.Round(it.Price)
		o.Items = append(o.Items, Item{
			ID:         uuid.NewString(),
			ProductID:  it.ProductID,
			Name:       it.Name,
			Price:      price,
			Quantity:   qty,
			Unit:       it.Unit,
			Total:      money.Line(price, qty),
			Perishable: it.Perishable,
		})
	}
	o.recompute()
	fee, err := s.fees.DeliveryFee(ctx, o.ShopID, o.DeliveryType, o.Subtotal)
	if err != nil {
		return nil, apperr.Dependency(op, "delivery fee unavailable", err)
	}
	o.DeliveryFee = money.Round(fee)
	o.recompute()

	switch o.PaymentMethod {
	case PayCash:
		o.CashAmount, o.CreditAmount = o.TotalAmount, decimal.Zero
	case PayCredit:
		o.CreditAmount, o.CashAmount = o.TotalAmount, decimal.Zero
	case PaySplit:
		if in.CreditAmount == nil || in.CashAmount == nil {
			return nil, apperr.Validation(op, "split payment needs both creditAmount and cashAmount")
		}
		credit, cash := money.Round(*in.CreditAmount), money.Round(*in.CashAmount)
		if credit.IsNegative() || cash.IsNegative() {
			return nil, apperr.Validation(op, "split amounts must not be negative")
		}
		if !credit.Add(cash).Equal(o.TotalAmount) {
			return nil, apperr.Integrity(op, "credit %s plus cash %s does not equal order total %s",
				credit.StringFixed(money.AmountPlaces), cash.StringFixed(money.AmountPlaces),
				o.TotalAmount.StringFixed(money.AmountPlaces))
		}
		o.CreditAmount, o.CashAmount = credit, cash
	}
	if err := o.checkTotals(op); err != nil {
		return nil, err
	}

	if o.PaymentMethod.UsesCredit() && o.CreditAmount.IsPositive() {
		o.Status = StatusPendingApproval
	} else {
		o.Status = StatusConfirmed
		o.ConfirmedAt = &now
	}
	if err := s.repo.Create(ctx, o); err != nil {
		return nil, apperr.Internal(op, err)
	}
	s.metrics.Transition("", string(o.Status))
	s.log.Info("order_placed", "order_id", o.ID, "shop_id", o.ShopID, "customer_id", o.CustomerID,
		"status", o.Status, "total", o.TotalAmount.String(), "payment_method", o.PaymentMethod)
	return &Result{Order: o}, nil
}

func (s *Service) Get(ctx context.Context, actor identity.Actor, id string) (*Order, error) {
	const op = "order.Get"
	o, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, apperr.Forbidden(op, "not allowed to view order %s", id)
	}
	return o, nil
}

func validQuery(op string, q ListQuery) error {
	if q.Status != "" && !q.Status.Valid() {
		return apperr.Validation(op, "unknown status %q", q.Status)
	}
	return nil
}

func (s *Service) ListForShop(ctx context.Context, actor identity.Actor, shopID string, q ListQuery) ([]Order, error) {
	const op = "order.ListForShop"
	if !actor.IsStaffOf(shopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can list its orders", shopID)
	}
	if err := validQuery(op, q); err != nil {
		return nil, err
	}
	out, err := s.repo.ListByShop(ctx, shopID, q)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}

func (s *Service) ListForCustomer(ctx context.Context, actor identity.Actor, q ListQuery) ([]Order, error) {
	const op = "order.ListForCustomer"
	if actor.Role != identity.RoleCustomer {
		return nil, apperr.Forbidden(op, "only customers have their own orders")
	}
	if err := validQuery(op, q); err != nil {
		return nil, err
	}
	out, err := s.repo.ListByCustomer(ctx, actor.ID, q)
	if err != nil {
		return nil, apperr.Internal(op, err)
	}
	return out, nil
}

// WatchShop streams the shop's order list, re-sent in full on every change.
func (s *Service) WatchShop(ctx context.Context, actor identity.Actor, shopID string, q ListQuery) (<-chan []Order, error) {
	const op = "order.WatchShop"
	if !actor.IsStaffOf(shopID) {
		return nil, apperr.Forbidden(op, "only staff of shop %s can watch its orders", shopID)
	}
	if err := validQuery(op, q); err != nil {
		return nil, err
	}
	ch, err := s.repo.WatchShop(ctx, shopID, q)
	if err != nil {
		return nil, apperr.Dependency(op, "subscription unavailable", err)
	}
	return ch, nil
}

func (s *Service) WatchCustomer(ctx context.Context, actor identity.Actor, q ListQuery) (<-chan []Order, error) {
	const op = "order.WatchCustomer"
	if actor.Role != identity.RoleCustomer {
		return nil, apperr.Forbidden(op, "only customers have their own orders")
	}
	if err := validQuery(op, q); err != nil {
		return nil, err
	}
	ch, err := s.repo.WatchCustomer(ctx, actor.ID, q)
	if err != nil {
		return nil, apperr.Dependency(op, "subscription unavailable", err)
	}
	return ch, nil
}
