package order

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/money"
	"github.com/MikeMC777/ordenes-credito/internal/policy"
)

type Eligibility struct {
	Eligible       bool                `json:"eligible"`
	Reason         string              `json:"reason,omitempty"`
	HoursElapsed   float64             `json:"hoursElapsed"`
	HoursRemaining float64             `json:"hoursRemaining"`
	Policy         policy.ReturnPolicy `json:"policy"`
}

func roundHours(h float64) float64 { return math.Round(h*10) / 10 }

// eligibility applies the shop's return policy to o at now.
func eligibility(o *Order, p policy.ReturnPolicy, now time.Time) Eligibility {
	e := Eligibility{Policy: p}
	switch {
	case o.Status != StatusCompleted && o.Status != StatusAcknowledged:
		e.Reason = fmt.Sprintf("order is %s", o.Status)
		return e
	case !p.AllowReturns:
		e.Reason = "shop does not accept returns"
		return e
	case o.CompletedAt == nil:
		e.Reason = "order has no completion time"
		return e
	}
	elapsed := now.Sub(*o.CompletedAt).Hours()
	e.HoursElapsed = roundHours(elapsed)
	window := float64(p.ReturnWindowHours)
	if elapsed > window {
		e.Reason = fmt.Sprintf("return window of %d hours exceeded by %.1f hours", p.ReturnWindowHours, elapsed-window)
		return e
	}
	e.Eligible = true
	e.HoursRemaining = roundHours(window - elapsed)
	return e
}

// ReturnEligibility tells staff or the customer whether the order can still
// be returned and for how long.
func (s *Service) ReturnEligibility(ctx context.Context, actor identity.Actor, id string) (*Eligibility, error) {
	const op = "order.ReturnEligibility"
	o, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !canView(actor, o) {
		return nil, apperr.Forbidden(op, "not allowed to view order %s", id)
	}
	p, err := s.policies.ReturnPolicy(ctx, o.ShopID)
	if err != nil {
		return nil, apperr.Dependency(op, "return policy unavailable", err)
	}
	e := eligibility(o, p, s.now())
	return &e, nil
}

func refundMethod(credit, cash decimal.Decimal) RefundMethod {
	switch {
	case credit.IsPositive() && cash.IsPositive():
		return RefundSplit
	case credit.IsPositive():
		return RefundCreditBalance
	default:
		return RefundCash
	}
}

// ProcessReturn takes lines (or parts of lines) back. Refunds are what the
// customer was charged for those lines, never a re-price.
func (s *Service) ProcessReturn(ctx context.Context, actor identity.Actor, id string, in ReturnInput) (*Result, error) {
	const op = "order.ProcessReturn"
	cur, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if err := check(op, in); err != nil {
		return nil, err
	}
	p, err := s.policies.ReturnPolicy(ctx, cur.ShopID)
	if err != nil {
		return nil, apperr.Dependency(op, "return policy unavailable", err)
	}
	now := s.now()
	elig := eligibility(cur, p, now)
	if !elig.Eligible {
		return nil, apperr.Validation(op, "order cannot be returned: %s", elig.Reason)
	}
	elapsed := now.Sub(*cur.CompletedAt).Hours()
	if !p.Allows(in.Reason) {
		return nil, apperr.Validation(op, "reason %q is not accepted; allowed: %s", in.Reason, strings.Join(p.AllowedReasons, ", "))
	}

	o := cur.Clone()
	before := o.TotalAmount
	seen := make(map[string]bool, len(in.Items))
	returned := make([]ReturnedItem, 0, len(in.Items))
	refunds := make([]decimal.Decimal, 0, len(in.Items))
	for _, line := range in.Items {
		if seen[line.ItemID] {
			return nil, apperr.Validation(op, "item %s listed twice", line.ItemID)
		}
		seen[line.ItemID] = true
		idx := o.ItemIndex(line.ItemID)
		if idx < 0 {
			return nil, apperr.NotFound(op, "item %s not found in order %s", line.ItemID, id)
		}
		it := o.Items[idx]
		if it.Perishable && elapsed > float64(p.PerishableWindowHours) {
			return nil, apperr.Validation(op, "%s is perishable and its %d hour return window has passed",
				it.Name, p.PerishableWindowHours)
		}
		qty := it.Quantity
		if line.Quantity != nil {
			qty = line.Quantity.Round(money.QuantityPlaces)
		}
		if !qty.IsPositive() || qty.GreaterThan(it.Quantity) {
			return nil, apperr.Validation(op, "return quantity for %s must be between 0 and %s", it.Name, it.Quantity.String())
		}
		refund := it.Total
		if qty.LessThan(it.Quantity) {
			refund = money.ProRata(it.Total, qty, it.Quantity)
			o.Items[idx].Quantity = it.Quantity.Sub(qty)
			o.Items[idx].Total = it.Total.Sub(refund)
		} else {
			o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
		}
		refunds = append(refunds, refund)
		returned = append(returned, ReturnedItem{
			ItemID:    it.ID,
			ProductID: it.ProductID,
			Name:      it.Name,
			Quantity:  qty,
			Refund:    refund,
		})
	}
	refundTotal := money.Sum(refunds...)
	if in.RefundAmount != nil && !money.Round(*in.RefundAmount).Equal(refundTotal) {
		return nil, apperr.Validation(op, "refund amount %s does not match the returned items total %s",
			money.Round(*in.RefundAmount).StringFixed(money.AmountPlaces), refundTotal.StringFixed(money.AmountPlaces))
	}

	original := PaymentSnapshot{
		Method:       o.PaymentMethod,
		TotalAmount:  o.TotalAmount,
		CreditAmount: o.CreditAmount,
		CashAmount:   o.CashAmount,
	}
	o.recompute()
	creditDelta := o.settle(before)
	status := StatusPartiallyReturned
	if len(o.Items) == 0 {
		status = StatusReturned
	}
	if err := o.transition(op, status, now); err != nil {
		return nil, err
	}

	creditRefund := creditDelta.Neg()
	if !o.CreditApproved {
		creditRefund = decimal.Zero
	}
	cashRefund := refundTotal.Sub(creditRefund)
	o.Return = &ReturnRecord{
		ReturnDate:      now,
		ReturnedItems:   returned,
		Reason:          in.Reason,
		Notes:           in.Notes,
		RefundAmount:    refundTotal,
		CreditRefund:    creditRefund,
		CashRefund:      cashRefund,
		RefundMethod:    refundMethod(creditRefund, cashRefund),
		ProcessedBy:     actor.Label(),
		ProcessedAt:     now,
		OriginalPayment: original,
	}
	posting := creditPosting(o, creditDelta, ledger.EntryReturnRefund, "return",
		fmt.Sprintf("return refund on order %s (%s)", o.ID, in.Reason))
	c := Change{
		Type:        ChangeReturnProcessed,
		At:          now,
		Actor:       actor.Label(),
		Reason:      in.Reason,
		Description: fmt.Sprintf("%d item(s) returned, %s refunded", len(returned), refundTotal.StringFixed(money.AmountPlaces)),
		AmountDelta: o.TotalAmount.Sub(before),
		TotalBefore: before,
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
	s.log.Info("return_processed", "order_id", out.ID, "status", out.Status,
		"refund", refundTotal.String(), "credit_refund", creditRefund.String())
	return &Result{Order: out}, nil
}
