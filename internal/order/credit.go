package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

const (
	ReasonAllItemsUnavailable = "all_items_unavailable"
	ReasonCancelledByCustomer = "cancelled_by_customer"
	ReasonCancelledByShop     = "cancelled_by_shop"
)

func approvalRef(orderID string) string { return "credit:" + orderID }

// creditPortion is what approval charges to the customer's account.
func creditPortion(op string, o *Order) (decimal.Decimal, error) {
	var amount decimal.Decimal
	switch o.PaymentMethod {
	case PayCredit:
		amount = o.TotalAmount
	case PaySplit:
		if o.CreditAmount.IsZero() {
			return decimal.Zero, apperr.Validation(op, "split order has no credit portion")
		}
		amount = o.CreditAmount
	default:
		return decimal.Zero, apperr.Validation(op, "order is paid in %s, no credit to approve", o.PaymentMethod)
	}
	if !amount.IsPositive() {
		return decimal.Zero, apperr.Validation(op, "credit amount must be greater than zero")
	}
	return amount, nil
}

// ApproveCredit charges the order's credit portion to the customer's
// account and confirms the order. Approving an approved order is a no-op,
// including for the loser of two concurrent approvals.
func (s *Service) ApproveCredit(ctx context.Context, actor identity.Actor, id string) (*Result, error) {
	const op = "order.ApproveCredit"
	cur, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if cur.CreditApproved {
		return &Result{Order: cur}, nil
	}
	if cur.Status != StatusPendingApproval {
		return nil, apperr.Validation(op, "order is %s, only %s orders can be approved", cur.Status, StatusPendingApproval)
	}
	amount, err := creditPortion(op, cur)
	if err != nil {
		return nil, err
	}

	now := s.now()
	o := cur.Clone()
	ref := approvalRef(o.ID)
	o.CreditApproved = true
	o.CreditApprovedAt = &now
	if err := o.transition(op, StatusConfirmed, now); err != nil {
		return nil, err
	}
	o.addChange(Change{
		Type:        ChangeCreditApproved,
		At:          now,
		Actor:       actor.Label(),
		Description: fmt.Sprintf("credit of %s approved", amount.StringFixed(money.AmountPlaces)),
		AmountDelta: decimal.Zero,
		TotalBefore: o.TotalAmount,
		TotalAfter:  o.TotalAmount,
		LedgerRef:   ref,
	})
	posting := &ledger.Posting{
		Key:         accountKey(o),
		Type:        ledger.EntryCreditPurchase,
		Amount:      amount,
		OrderID:     o.ID,
		Ref:         ref,
		Description: "credit purchase for order " + o.ID,
	}
	out, err := s.commit(ctx, op, cur, o, posting)
	if apperr.Is(err, apperr.KindConflict) {
		if again, gerr := s.repo.Get(ctx, id); gerr == nil && again.CreditApproved {
			return &Result{Order: again}, nil
		}
	}
	if err != nil {
		return nil, err
	}
	return &Result{Order: out, Warnings: s.recordCommission(ctx, out, CommissionCreditApproved)}, nil
}

// CancelOrder cancels the whole order, keeping its lines for the record.
// Customers may cancel until the shop starts preparing; staff until the
// order is ready. Approved credit is refunded.
func (s *Service) CancelOrder(ctx context.Context, actor identity.Actor, id, reason string) (*Result, error) {
	const op = "order.CancelOrder"
	cur, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	switch {
	case actor.IsStaffOf(cur.ShopID):
		if !cur.Status.Editable() {
			return nil, apperr.Validation(op, "order is %s and can no longer be cancelled", cur.Status)
		}
		if reason == "" {
			reason = ReasonCancelledByShop
		}
	case isOwner(actor, cur):
		if cur.Status != StatusPendingApproval && cur.Status != StatusConfirmed {
			return nil, apperr.Validation(op, "order is %s; ask the shop to cancel it", cur.Status)
		}
		if reason == "" {
			reason = ReasonCancelledByCustomer
		}
	default:
		return nil, apperr.Forbidden(op, "not allowed to cancel order %s", id)
	}

	now := s.now()
	o := cur.Clone()
	if err := o.transition(op, StatusCancelled, now); err != nil {
		return nil, err
	}
	o.CancelReason = reason
	var posting *ledger.Posting
	desc := "order cancelled"
	if o.CreditApproved && o.CreditAmount.IsPositive() {
		posting = creditPosting(o, o.CreditAmount.Neg(), ledger.EntryCancellationRefund, "cancellation",
			"refund for cancelled order "+o.ID)
		desc = fmt.Sprintf("order cancelled, credit of %s refunded", o.CreditAmount.StringFixed(money.AmountPlaces))
	}
	c := Change{
		Type:        ChangeCancellation,
		At:          now,
		Actor:       actor.Label(),
		Reason:      reason,
		Description: desc,
		AmountDelta: decimal.Zero,
		TotalBefore: o.TotalAmount,
		TotalAfter:  o.TotalAmount,
	}
	if posting != nil {
		c.LedgerRef = posting.Ref
	}
	o.addChange(c)

	out, err := s.commit(ctx, op, cur, o, posting)
	if err != nil {
		return nil, err
	}
	s.clearPrepared(ctx, out.ID)
	return &Result{Order: out}, nil
}
