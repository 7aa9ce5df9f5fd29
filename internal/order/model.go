package order

import (
	"time"

	"github.com/shopspring/decimal"
)

type PaymentMethod string

const (
	PayCash   PaymentMethod = "cash"
	PayCredit PaymentMethod = "credit"
	PaySplit  PaymentMethod = "split"
)

// UsesCredit reports whether some part of the order is charged to the
// customer's credit account.
func (m PaymentMethod) UsesCredit() bool { return m == PayCredit || m == PaySplit }

type DeliveryType string

const (
	DeliveryPickup   DeliveryType = "pickup"
	DeliveryDelivery DeliveryType = "delivery"
)

type Address struct {
	Street     string `json:"street" bson:"street" validate:"required"`
	City       string `json:"city" bson:"city" validate:"required"`
	PostalCode string `json:"postalCode,omitempty" bson:"postalCode,omitempty"`
	Reference  string `json:"reference,omitempty" bson:"reference,omitempty"`
	Phone      string `json:"phone" bson:"phone" validate:"required"`
}

// Substitution points back at the line an item replaced.
type Substitution struct {
	OriginalItemID    string          `json:"originalItemId" bson:"originalItemId"`
	OriginalProductID string          `json:"originalProductId" bson:"originalProductId"`
	OriginalName      string          `json:"originalName" bson:"originalName"`
	OriginalPrice     decimal.Decimal `json:"originalPrice" bson:"originalPrice"`
	OriginalQuantity  decimal.Decimal `json:"originalQuantity" bson:"originalQuantity"`
	OriginalTotal     decimal.Decimal `json:"originalTotal" bson:"originalTotal"`
	At                time.Time       `json:"at" bson:"at"`
	By                string          `json:"by" bson:"by"`
}

type Item struct {
	ID           string          `json:"id" bson:"id"`
	ProductID    string          `json:"productId" bson:"productId"`
	Name         string          `json:"name" bson:"name"`
	Price        decimal.Decimal `json:"price" bson:"price"`
	Quantity     decimal.Decimal `json:"quantity" bson:"quantity"`
	Unit         string          `json:"unit,omitempty" bson:"unit,omitempty"`
	Total        decimal.Decimal `json:"total" bson:"total"`
	Perishable   bool            `json:"perishable,omitempty" bson:"perishable,omitempty"`
	Substitution *Substitution   `json:"substitution,omitempty" bson:"substitution,omitempty"`
}

func (it Item) Substituted() bool { return it.Substitution != nil }

type ChangeType string

const (
	ChangeSubstitution    ChangeType = "substitution"
	ChangeQuantityMerge   ChangeType = "quantity_merge"
	ChangeItemCancelled   ChangeType = "item_cancellation"
	ChangeCancellation    ChangeType = "cancellation"
	ChangeCreditApproved  ChangeType = "credit_approved"
	ChangeReturnProcessed ChangeType = "return_processed"
	ChangeAcknowledged    ChangeType = "customer_acknowledgment"
)

// Change is one entry of the append-only modification history.
type Change struct {
	ID            string          `json:"id" bson:"id"`
	Type          ChangeType      `json:"type" bson:"type"`
	At            time.Time       `json:"at" bson:"at"`
	Actor         string          `json:"actor" bson:"actor"`
	ItemID        string          `json:"itemId,omitempty" bson:"itemId,omitempty"`
	RelatedItemID string          `json:"relatedItemId,omitempty" bson:"relatedItemId,omitempty"`
	Reason        string          `json:"reason,omitempty" bson:"reason,omitempty"`
	Description   string          `json:"description" bson:"description"`
	AmountDelta   decimal.Decimal `json:"amountDelta" bson:"amountDelta"`
	TotalBefore   decimal.Decimal `json:"totalBefore" bson:"totalBefore"`
	TotalAfter    decimal.Decimal `json:"totalAfter" bson:"totalAfter"`
	LedgerRef     string          `json:"ledgerRef,omitempty" bson:"ledgerRef,omitempty"`
}

type DeliveryProof struct {
	Acknowledged   bool      `json:"acknowledged" bson:"acknowledged"`
	AcknowledgedAt time.Time `json:"acknowledgedAt" bson:"acknowledgedAt"`
	AcknowledgedBy string    `json:"acknowledgedBy" bson:"acknowledgedBy"`
	Rating         int       `json:"rating" bson:"rating"`
	CustomerNotes  string    `json:"customerNotes,omitempty" bson:"customerNotes,omitempty"`
}

type ReturnedItem struct {
	ItemID    string          `json:"itemId" bson:"itemId"`
	ProductID string          `json:"productId" bson:"productId"`
	Name      string          `json:"name" bson:"name"`
	Quantity  decimal.Decimal `json:"quantity" bson:"quantity"`
	Refund    decimal.Decimal `json:"refund" bson:"refund"`
}

type PaymentSnapshot struct {
	Method       PaymentMethod   `json:"paymentMethod" bson:"paymentMethod"`
	TotalAmount  decimal.Decimal `json:"totalAmount" bson:"totalAmount"`
	CreditAmount decimal.Decimal `json:"creditAmount" bson:"creditAmount"`
	CashAmount   decimal.Decimal `json:"cashAmount" bson:"cashAmount"`
}

type RefundMethod string

const (
	RefundCreditBalance RefundMethod = "credit_balance"
	RefundCash          RefundMethod = "cash"
	RefundSplit         RefundMethod = "split"
)

type ReturnRecord struct {
	ReturnDate      time.Time       `json:"returnDate" bson:"returnDate"`
	ReturnedItems   []ReturnedItem  `json:"returnedItems" bson:"returnedItems"`
	Reason          string          `json:"reason" bson:"reason"`
	Notes           string          `json:"notes,omitempty" bson:"notes,omitempty"`
	RefundAmount    decimal.Decimal `json:"refundAmount" bson:"refundAmount"`
	CreditRefund    decimal.Decimal `json:"creditRefund" bson:"creditRefund"`
	CashRefund      decimal.Decimal `json:"cashRefund" bson:"cashRefund"`
	RefundMethod    RefundMethod    `json:"refundMethod" bson:"refundMethod"`
	ProcessedBy     string          `json:"processedBy" bson:"processedBy"`
	ProcessedAt     time.Time       `json:"processedAt" bson:"processedAt"`
	OriginalPayment PaymentSnapshot `json:"originalPayment" bson:"originalPayment"`
}

type Order struct {
	ID            string `json:"id" bson:"_id"`
	ShopID        string `json:"shopId" bson:"shopId"`
	CustomerID    string `json:"customerId" bson:"customerId"`
	CustomerEmail string `json:"customerEmail" bson:"customerEmail"`

	Items []Item `json:"items" bson:"items"`

	Subtotal       decimal.Decimal `json:"subtotal" bson:"subtotal"`
	DeliveryFee    decimal.Decimal `json:"deliveryFee" bson:"deliveryFee"`
	TotalAmount    decimal.Decimal `json:"totalAmount" bson:"totalAmount"`
	PaymentMethod  PaymentMethod   `json:"paymentMethod" bson:"paymentMethod"`
	CreditAmount   decimal.Decimal `json:"creditAmount" bson:"creditAmount"`
	CashAmount     decimal.Decimal `json:"cashAmount" bson:"cashAmount"`
	CreditApproved bool            `json:"creditApproved" bson:"creditApproved"`

	Status          Status       `json:"status" bson:"status"`
	DeliveryType    DeliveryType `json:"deliveryType" bson:"deliveryType"`
	DeliveryAddress *Address     `json:"deliveryAddress,omitempty" bson:"deliveryAddress,omitempty"`
	Notes           string       `json:"notes,omitempty" bson:"notes,omitempty"`
	CancelReason    string       `json:"cancelReason,omitempty" bson:"cancelReason,omitempty"`

	History       []Change       `json:"modificationHistory" bson:"modificationHistory"`
	DeliveryProof *DeliveryProof `json:"deliveryProof,omitempty" bson:"deliveryProof,omitempty"`
	Return        *ReturnRecord  `json:"returnDetails,omitempty" bson:"returnDetails,omitempty"`

	CreatedAt        time.Time  `json:"createdAt" bson:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt" bson:"updatedAt"`
	ConfirmedAt      *time.Time `json:"confirmedAt,omitempty" bson:"confirmedAt,omitempty"`
	CreditApprovedAt *time.Time `json:"creditApprovedAt,omitempty" bson:"creditApprovedAt,omitempty"`
	PreparingAt      *time.Time `json:"preparingAt,omitempty" bson:"preparingAt,omitempty"`
	ReadyAt          *time.Time `json:"readyAt,omitempty" bson:"readyAt,omitempty"`
	CompletedAt      *time.Time `json:"completedAt,omitempty" bson:"completedAt,omitempty"`
	AcknowledgedAt   *time.Time `json:"acknowledgedAt,omitempty" bson:"acknowledgedAt,omitempty"`
	CancelledAt      *time.Time `json:"cancelledAt,omitempty" bson:"cancelledAt,omitempty"`
	ReturnedAt       *time.Time `json:"returnedAt,omitempty" bson:"returnedAt,omitempty"`

	// Version increases by one on every write and guards compare-and-swap
	// updates.
	Version int64 `json:"version" bson:"version"`
}

// Clone returns a copy that shares no slices or pointers with o.
func (o *Order) Clone() *Order {
	cp := *o
	cp.Items = make([]Item, len(o.Items))
	for i, it := range o.Items {
		if it.Substitution != nil {
			s := *it.Substitution
			it.Substitution = &s
		}
		cp.Items[i] = it
	}
	cp.History = append([]Change(nil), o.History...)
	if o.DeliveryAddress != nil {
		a := *o.DeliveryAddress
		cp.DeliveryAddress = &a
	}
	if o.DeliveryProof != nil {
		p := *o.DeliveryProof
		cp.DeliveryProof = &p
	}
	if o.Return != nil {
		r := *o.Return
		r.ReturnedItems = append([]ReturnedItem(nil), o.Return.ReturnedItems...)
		cp.Return = &r
	}
	return &cp
}

func (o *Order) ItemIndex(id string) int {
	for i := range o.Items {
		if o.Items[i].ID == id {
			return i
		}
	}
	return -1
}

func (o *Order) ItemIDs() []string {
	ids := make([]string, len(o.Items))
	for i, it := range o.Items {
		ids[i] = it.ID
	}
	return ids
}

// RecordsLedgerRef reports whether a history entry already carries ref,
// i.e. the posting made under ref is reflected in this document.
func (o *Order) RecordsLedgerRef(ref string) bool {
	for _, c := range o.History {
		if c.LedgerRef == ref {
			return true
		}
	}
	return false
}

// Acknowledged reports whether delivery proof was already written.
func (o *Order) Acknowledged() bool {
	return o.DeliveryProof != nil && o.DeliveryProof.Acknowledged
}
