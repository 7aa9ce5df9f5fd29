package order

import (
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

// recompute derives subtotal and total from the current lines. Line totals
// are set when a line is created or resized and are never re-priced here.
func (o *Order) recompute() {
	totals := make([]decimal.Decimal, len(o.Items))
	for i, it := range o.Items {
		totals[i] = it.Total
	}
	o.Subtotal = money.Sum(totals...)
	o.TotalAmount = money.Round(o.Subtotal.Add(o.DeliveryFee))
}

// settle re-splits the payment after the total moved away from before and
// returns the change of the credit portion. Increases land on cash for
// split orders; decreases consume credit first, then cash.
func (o *Order) settle(before decimal.Decimal) decimal.Decimal {
	oldCredit := o.CreditAmount
	switch o.PaymentMethod {
	case PayCredit:
		o.CreditAmount = o.TotalAmount
		o.CashAmount = decimal.Zero
	case PaySplit:
		delta := o.TotalAmount.Sub(before)
		if delta.IsPositive() {
			o.CashAmount = o.CashAmount.Add(delta)
			break
		}
		dec := delta.Neg()
		fromCredit := money.Min(dec, o.CreditAmount)
		o.CreditAmount = o.CreditAmount.Sub(fromCredit)
		o.CashAmount = money.FloorZero(o.CashAmount.Sub(dec.Sub(fromCredit)))
	default:
		o.CashAmount = o.TotalAmount
		o.CreditAmount = decimal.Zero
	}
	return o.CreditAmount.Sub(oldCredit)
}

// checkTotals enforces the money invariants; nothing violating them may be
// written.
func (o *Order) checkTotals(op string) error {
	totals := make([]decimal.Decimal, len(o.Items))
	for i, it := range o.Items {
		totals[i] = it.Total
	}
	want := money.Round(money.Sum(totals...).Add(o.DeliveryFee))
	if !o.TotalAmount.Equal(want) {
		return apperr.Integrity(op, "total %s does not match items plus delivery fee %s",
			o.TotalAmount.StringFixed(money.AmountPlaces), want.StringFixed(money.AmountPlaces))
	}
	if o.CreditAmount.IsNegative() || o.CashAmount.IsNegative() {
		return apperr.Integrity(op, "payment portions must not be negative")
	}
	if !o.CreditAmount.Add(o.CashAmount).Equal(o.TotalAmount) {
		return apperr.Integrity(op, "credit %s plus cash %s does not equal total %s",
			o.CreditAmount.StringFixed(money.AmountPlaces), o.CashAmount.StringFixed(money.AmountPlaces),
			o.TotalAmount.StringFixed(money.AmountPlaces))
	}
	return nil
}
