package order

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

// Advance moves the order one step along confirmed, preparing, ready,
// completed. Moving to ready needs every current line marked prepared.
func (s *Service) Advance(ctx context.Context, actor identity.Actor, id string, to Status) (*Result, error) {
	const op = "order.Advance"
	cur, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if want, ok := next[cur.Status]; !ok || want != to {
		return nil, apperr.Validation(op, "order is %s and cannot move to %s", cur.Status, to)
	}
	if to == StatusReady {
		prepared, err := s.prepared.Reconcile(ctx, cur.ID, cur.ItemIDs())
		if err != nil {
			return nil, apperr.Dependency(op, "prepared items unavailable", err)
		}
		if len(prepared) < len(cur.Items) {
			return nil, apperr.Validation(op, "%d of %d items prepared", len(prepared), len(cur.Items))
		}
	}

	o := cur.Clone()
	if err := o.transition(op, to, s.now()); err != nil {
		return nil, err
	}
	out, err := s.commit(ctx, op, cur, o, nil)
	if err != nil {
		return nil, err
	}
	res := &Result{Order: out}
	switch to {
	case StatusReady:
		s.clearPrepared(ctx, out.ID)
	case StatusCompleted:
		res.Warnings = s.recordCommission(ctx, out, CommissionCompleted)
	}
	return res, nil
}

func (s *Service) requireEditable(op string, o *Order) error {
	if !o.Status.Editable() {
		return apperr.Validation(op, "items cannot change once the order is %s", o.Status)
	}
	return nil
}

// confirmIfCreditGone confirms a pending split order whose credit portion
// dropped to zero; there is nothing left to approve.
func confirmIfCreditGone(op string, o *Order, at time.Time) error {
	if o.Status == StatusPendingApproval && !o.CreditApproved && o.CreditAmount.IsZero() {
		return o.transition(op, StatusConfirmed, at)
	}
	return nil
}

// Substitute replaces a line with another product. When that product is
// already a plain line of the order the quantities are merged into it.
func (s *Service) Substitute(ctx context.Context, actor identity.Actor, id, itemID string, in SubstituteInput) (*Result, error) {
	const op = "order.Substitute"
	cur, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireEditable(op, cur); err != nil {
		return nil, err
	}
	if err := check(op, in); err != nil {
		return nil, err
	}
	idx := cur.ItemIndex(itemID)
	if idx < 0 {
		return nil, apperr.NotFound(op, "item %s not found in order %s", itemID, id)
	}
	qty := in.Quantity.Round(money.QuantityPlaces)
	if !qty.IsPositive() {
		return nil, apperr.Validation(op, "quantity must be greater than zero")
	}
	if !in.Price.IsPositive() {
		return nil, apperr.Validation(op, "price must be greater than zero")
	}
	if cur.Items[idx].ProductID == in.ProductID {
		return nil, apperr.Validation(op, "replacement is the same product")
	}

	now := s.now()
	o := cur.Clone()
	orig := o.Items[idx]
	before := o.TotalAmount
	c := Change{At: now, Actor: actor.Label(), Reason: in.Reason, TotalBefore: before}
	merged := ""

	target := -1
	for i, it := range o.Items {
		if i != idx && it.ProductID == in.ProductID && !it.Substituted() {
			target = i
			break
		}
	}
	if target >= 0 {
		t := &o.Items[target]
		t.Quantity = t.Quantity.Add(qty)
		t.Total = money.Line(t.Price, t.Quantity)
		merged = t.ID
		c.Type = ChangeQuantityMerge
		c.ItemID = orig.ID
		c.RelatedItemID = t.ID
		c.Description = fmt.Sprintf("%s replaced by %s %s of %s, merged into existing line (now %s)",
			orig.Name, qty.String(), t.Unit, t.Name, t.Quantity.String())
		o.Items = append(o.Items[:idx], o.Items[idx+1:]...)
	} else {
		price := money.Round(in.Price)
		repl := Item{
			ID:         uuid.NewString(),
			ProductID:  in.ProductID,
			Name:       in.Name,
			Price:      price,
			Quantity:   qty,
			Unit:       in.Unit,
			Total:      money.Line(price, qty),
			Perishable: in.Perishable,
			Substitution: &Substitution{
				OriginalItemID:    orig.ID,
				OriginalProductID: orig.ProductID,
				OriginalName:      orig.Name,
				OriginalPrice:     orig.Price,
				OriginalQuantity:  orig.Quantity,
				OriginalTotal:     orig.Total,
				At:                now,
				By:                actor.Label(),
			},
		}
		o.Items[idx] = repl
		c.Type = ChangeSubstitution
		c.ItemID = repl.ID
		c.RelatedItemID = orig.ID
		c.Description = fmt.Sprintf("%s replaced by %s %s of %s", orig.Name, qty.String(), repl.Unit, repl.Name)
	}

	o.recompute()
	creditDelta := o.settle(before)
	if err := confirmIfCreditGone(op, o, now); err != nil {
		return nil, err
	}
	c.AmountDelta = o.TotalAmount.Sub(before)
	c.TotalAfter = o.TotalAmount
	posting := creditPosting(o, creditDelta, ledger.EntryAdjustment, "substitution",
		"substitution on order "+o.ID)
	if posting != nil {
		c.LedgerRef = posting.Ref
	}
	o.addChange(c)

	out, err := s.commit(ctx, op, cur, o, posting)
	if err != nil {
		return nil, err
	}
	if merged != "" {
		// the merged line changed size and has to be prepared again
		if err := s.prepared.Unmark(ctx, out.ID, merged); err != nil {
			s.log.Warn("prepared_unmark_failed", "order_id", out.ID, "item_id", merged, "err", err)
		}
	}
	s.reconcilePrepared(ctx, out)
	return &Result{Order: out}, nil
}

// CancelItem removes a line. Removing the last line cancels the order.
func (s *Service) CancelItem(ctx context.Context, actor identity.Actor, id, itemID, reason string) (*Result, error) {
	const op = "order.CancelItem"
	cur, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if err := s.requireEditable(op, cur); err != nil {
		return nil, err
	}
	idx := cur.ItemIndex(itemID)
	if idx < 0 {
		return nil, apperr.NotFound(op, "item %s not found in order %s", itemID, id)
	}

	now := s.now()
	o := cur.Clone()
	removed := o.Items[idx]
	before := o.TotalAmount
	o.Items = append(o.Items[:idx], o.Items[idx+1:]...)

	c := Change{At: now, Actor: actor.Label(), ItemID: removed.ID, Reason: reason, TotalBefore: before}
	if len(o.Items) == 0 {
		o.DeliveryFee = decimal.Zero
		o.recompute()
		if err := o.transition(op, StatusCancelled, now); err != nil {
			return nil, err
		}
		o.CancelReason = ReasonAllItemsUnavailable
		c.Type = ChangeCancellation
		c.Reason = ReasonAllItemsUnavailable
		c.Description = fmt.Sprintf("last item %s unavailable, order cancelled", removed.Name)
	} else {
		o.recompute()
		c.Type = ChangeItemCancelled
		c.Description = fmt.Sprintf("%s cancelled, %s refunded", removed.Name, removed.Total.StringFixed(money.AmountPlaces))
	}
	creditDelta := o.settle(before)
	if o.Status != StatusCancelled {
		if err := confirmIfCreditGone(op, o, now); err != nil {
			return nil, err
		}
	}
	c.AmountDelta = o.TotalAmount.Sub(before)
	c.TotalAfter = o.TotalAmount
	posting := creditPosting(o, creditDelta, ledger.EntryCancellationRefund, "item_cancellation",
		fmt.Sprintf("refund for %s on order %s", removed.Name, o.ID))
	if posting != nil {
		c.LedgerRef = posting.Ref
	}
	o.addChange(c)

	out, err := s.commit(ctx, op, cur, o, posting)
	if err != nil {
		return nil, err
	}
	if out.Status == StatusCancelled {
		s.clearPrepared(ctx, out.ID)
	} else {
		s.reconcilePrepared(ctx, out)
	}
	return &Result{Order: out}, nil
}

func (s *Service) loadPreparing(ctx context.Context, op string, actor identity.Actor, id, itemID string) (*Order, error) {
	o, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	if o.Status != StatusPreparing {
		return nil, apperr.Validation(op, "items can only be marked while the order is %s", StatusPreparing)
	}
	if itemID != "" && o.ItemIndex(itemID) < 0 {
		return nil, apperr.NotFound(op, "item %s not found in order %s", itemID, id)
	}
	return o, nil
}

func (s *Service) MarkPrepared(ctx context.Context, actor identity.Actor, id, itemID string) ([]string, error) {
	const op = "order.MarkPrepared"
	o, err := s.loadPreparing(ctx, op, actor, id, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.prepared.Mark(ctx, id, itemID); err != nil {
		return nil, apperr.Dependency(op, "prepared items unavailable", err)
	}
	return s.preparedFor(ctx, op, o)
}

func (s *Service) UnmarkPrepared(ctx context.Context, actor identity.Actor, id, itemID string) ([]string, error) {
	const op = "order.UnmarkPrepared"
	o, err := s.loadPreparing(ctx, op, actor, id, itemID)
	if err != nil {
		return nil, err
	}
	if err := s.prepared.Unmark(ctx, id, itemID); err != nil {
		return nil, apperr.Dependency(op, "prepared items unavailable", err)
	}
	return s.preparedFor(ctx, op, o)
}

// Prepared lists the order's prepared lines, dropping ids of lines that no
// longer exist.
func (s *Service) Prepared(ctx context.Context, actor identity.Actor, id string) ([]string, error) {
	const op = "order.Prepared"
	o, err := s.loadAsStaff(ctx, op, actor, id)
	if err != nil {
		return nil, err
	}
	return s.preparedFor(ctx, op, o)
}

func (s *Service) preparedFor(ctx context.Context, op string, o *Order) ([]string, error) {
	ids, err := s.prepared.Reconcile(ctx, o.ID, o.ItemIDs())
	if err != nil {
		return nil, apperr.Dependency(op, "prepared items unavailable", err)
	}
	return ids, nil
}

func (s *Service) reconcilePrepared(ctx context.Context, o *Order) {
	if _, err := s.prepared.Reconcile(ctx, o.ID, o.ItemIDs()); err != nil {
		s.log.Warn("prepared_reconcile_failed", "order_id", o.ID, "err", err)
	}
}

func (s *Service) clearPrepared(ctx context.Context, orderID string) {
	if err := s.prepared.Clear(ctx, orderID); err != nil {
		s.log.Warn("prepared_clear_failed", "order_id", orderID, "err", err)
	}
}
