package order

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
)

// Acknowledge records the customer's receipt of a completed order. The
// delivery proof is written once; later attempts are rejected.
func (s *Service) Acknowledge(ctx context.Context, actor identity.Actor, id string, in AcknowledgeInput) (*Result, error) {
	const op = "order.Acknowledge"
	cur, err := s.load(ctx, op, id)
	if err != nil {
		return nil, err
	}
	if !isOwner(actor, cur) {
		return nil, apperr.Forbidden(op, "only the customer can acknowledge order %s", id)
	}
	if cur.Acknowledged() {
		return nil, apperr.Validation(op, "order was already acknowledged")
	}
	if cur.Status != StatusCompleted {
		return nil, apperr.Validation(op, "order is %s, only completed orders can be acknowledged", cur.Status)
	}
	if err := check(op, in); err != nil {
		return nil, err
	}

	now := s.now()
	o := cur.Clone()
	o.DeliveryProof = &DeliveryProof{
		Acknowledged:   true,
		AcknowledgedAt: now,
		AcknowledgedBy: actor.Label(),
		Rating:         in.Rating,
		CustomerNotes:  in.Notes,
	}
	if err := o.transition(op, StatusAcknowledged, now); err != nil {
		return nil, err
	}
	o.addChange(Change{
		Type:        ChangeAcknowledged,
		At:          now,
		Actor:       actor.Label(),
		Description: fmt.Sprintf("received, rated %d/5", in.Rating),
		AmountDelta: decimal.Zero,
		TotalBefore: o.TotalAmount,
		TotalAfter:  o.TotalAmount,
	})
	out, err := s.commit(ctx, op, cur, o, nil)
	if err != nil {
		return nil, err
	}
	return &Result{Order: out}, nil
}
