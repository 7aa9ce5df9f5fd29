package order

import (
	"time"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
)

type Status string

const (
	StatusPendingApproval   Status = "pending_approval"
	StatusConfirmed         Status = "confirmed"
	StatusPreparing         Status = "preparing"
	StatusReady             Status = "ready"
	StatusCompleted         Status = "completed"
	StatusAcknowledged      Status = "acknowledged"
	StatusCancelled         Status = "cancelled"
	StatusReturned          Status = "returned"
	StatusPartiallyReturned Status = "partially_returned"
)

var transitions = map[Status][]Status{
	StatusPendingApproval: {StatusConfirmed, StatusCancelled},
	StatusConfirmed:       {StatusPreparing, StatusCancelled},
	StatusPreparing:       {StatusReady, StatusCancelled},
	StatusReady:           {StatusCompleted},
	StatusCompleted:       {StatusAcknowledged, StatusReturned, StatusPartiallyReturned},
	StatusAcknowledged:    {StatusReturned, StatusPartiallyReturned},
}

func (s Status) Valid() bool {
	if _, ok := transitions[s]; ok {
		return true
	}
	return s.Terminal()
}

// Editable reports whether items may still be substituted or cancelled.
func (s Status) Editable() bool {
	return s == StatusPendingApproval || s == StatusConfirmed || s == StatusPreparing
}

func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusReturned || s == StatusPartiallyReturned
}

func (s Status) CanTransition(to Status) bool {
	for _, t := range transitions[s] {
		if t == to {
			return true
		}
	}
	return false
}

// next is the single forward step staff drive through fulfillment.
var next = map[Status]Status{
	StatusConfirmed: StatusPreparing,
	StatusPreparing: StatusReady,
	StatusReady:     StatusCompleted,
}

// transition moves o to status and stamps the matching timestamp. It never
// writes a status the table does not allow from the current one.
func (o *Order) transition(op string, to Status, at time.Time) error {
	if !o.Status.CanTransition(to) {
		return apperr.Validation(op, "cannot move order from %s to %s", o.Status, to)
	}
	o.Status = to
	t := at
	switch to {
	case StatusConfirmed:
		o.ConfirmedAt = &t
	case StatusPreparing:
		o.PreparingAt = &t
	case StatusReady:
		o.ReadyAt = &t
	case StatusCompleted:
		o.CompletedAt = &t
	case StatusAcknowledged:
		o.AcknowledgedAt = &t
	case StatusCancelled:
		o.CancelledAt = &t
	case StatusReturned, StatusPartiallyReturned:
		o.ReturnedAt = &t
	}
	return nil
}
