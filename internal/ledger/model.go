package ledger

import (
	"encoding/json"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/money"
)

var (
	ErrNotFound          = errors.New("credit account not found")
	ErrLimitExceeded     = errors.New("credit limit exceeded")
	ErrExceedsBalance    = errors.New("amount exceeds current balance")
	ErrLimitBelowBalance = errors.New("credit limit below current balance")
	ErrInvalidPosting    = errors.New("invalid posting")
)

type EntryType string

const (
	EntryCreditPurchase     EntryType = "credit_purchase"
	EntryPayment            EntryType = "payment"
	EntryReturnRefund       EntryType = "return_refund"
	EntryCancellationRefund EntryType = "cancellation_refund"
	EntryAdjustment         EntryType = "adjustment"
	EntryReversal           EntryType = "reversal"
)

// Key identifies the single account a customer holds at a shop.
type Key struct {
	CustomerID string `json:"customerId" bson:"customerId"`
	ShopID     string `json:"shopId" bson:"shopId"`
}

func (k Key) ID() string { return k.CustomerID + ":" + k.ShopID }

// Entry is one line of an account's payment history. Amount is positive
// when the customer owes more, negative for payments and refunds. Applied
// is the change the balance actually took, which differs from Amount when
// the balance was clamped.
type Entry struct {
	ID          string          `json:"id" bson:"id"`
	Date        time.Time       `json:"date" bson:"date"`
	Type        EntryType       `json:"type" bson:"type"`
	Amount      decimal.Decimal `json:"amount" bson:"amount"`
	Applied     decimal.Decimal `json:"applied" bson:"applied"`
	OrderID     string          `json:"orderId,omitempty" bson:"orderId,omitempty"`
	Ref         string          `json:"ref" bson:"ref"`
	Reverses    string          `json:"reverses,omitempty" bson:"reverses,omitempty"`
	Reversed    bool            `json:"reversed,omitempty" bson:"reversed,omitempty"`
	Description string          `json:"description,omitempty" bson:"description,omitempty"`
}

type Account struct {
	CustomerID     string          `json:"customerId"`
	ShopID         string          `json:"shopId"`
	CreditLimit    decimal.Decimal `json:"creditLimit"`
	CurrentBalance decimal.Decimal `json:"currentBalance"`
	History        []Entry         `json:"paymentHistory,omitempty"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func (a Account) Key() Key { return Key{CustomerID: a.CustomerID, ShopID: a.ShopID} }

func (a Account) AvailableCredit() decimal.Decimal {
	return money.FloorZero(a.CreditLimit.Sub(a.CurrentBalance))
}

func (a Account) MarshalJSON() ([]byte, error) {
	type plain Account
	return json.Marshal(struct {
		plain
		AvailableCredit decimal.Decimal `json:"availableCredit"`
	}{plain(a), a.AvailableCredit()})
}

// HasActiveRef reports whether a non-reversed entry carries ref.
func (a Account) HasActiveRef(ref string) bool { return a.activeEntry(ref) >= 0 }

func (a *Account) clone() *Account {
	cp := *a
	cp.History = append([]Entry(nil), a.History...)
	return &cp
}

// Posting is a requested balance change. Ref makes it idempotent: an account
// never holds two active entries with the same ref.
type Posting struct {
	Key
	Type        EntryType
	Amount      decimal.Decimal
	OrderID     string
	Ref         string
	Description string
}

func (p Posting) validate() error {
	switch {
	case p.CustomerID == "" || p.ShopID == "":
		return errors.Join(ErrInvalidPosting, errors.New("account key is required"))
	case p.Ref == "":
		return errors.Join(ErrInvalidPosting, errors.New("ref is required"))
	case p.Amount.IsZero():
		return errors.Join(ErrInvalidPosting, errors.New("amount must not be zero"))
	case p.Type == EntryCreditPurchase && p.Amount.IsNegative():
		return errors.Join(ErrInvalidPosting, errors.New("purchase must be positive"))
	case p.Type == EntryReversal:
		return errors.Join(ErrInvalidPosting, errors.New("reversals are created by Reverse"))
	case p.Type != EntryAdjustment && p.Type != EntryCreditPurchase && p.Amount.IsPositive():
		return errors.Join(ErrInvalidPosting, errors.New("payments and refunds must be negative"))
	}
	return nil
}

// rule says how a posting may move the balance.
type rule int

const (
	ruleLimit   rule = iota // increase, must stay within the limit
	rulePayment             // decrease, must not exceed what is owed
	ruleFloor               // decrease clamped at zero
	ruleRestore             // reversal, clamped at zero and at the limit
)

func ruleFor(typ EntryType, amount decimal.Decimal) rule {
	switch {
	case typ == EntryReversal:
		return ruleRestore
	case amount.IsPositive():
		return ruleLimit
	case typ == EntryPayment:
		return rulePayment
	default:
		return ruleFloor
	}
}

// nextBalance is the single place the balance rules live; every store
// expresses the same rules in its own update language.
func nextBalance(balance, limit, amount decimal.Decimal, r rule) (decimal.Decimal, error) {
	next := balance.Add(amount)
	switch r {
	case ruleLimit:
		if next.GreaterThan(limit) {
			return balance, ErrLimitExceeded
		}
	case rulePayment:
		if next.IsNegative() {
			return balance, ErrExceedsBalance
		}
	case ruleRestore:
		if amount.IsPositive() && next.GreaterThan(limit) {
			next = decimal.Max(balance, limit)
		}
		next = money.FloorZero(next)
	default:
		next = money.FloorZero(next)
	}
	return next, nil
}

// activeEntry returns the index of the non-reversed entry carrying ref, or -1.
func (a Account) activeEntry(ref string) int {
	for i, e := range a.History {
		if e.Ref == ref && !e.Reversed {
			return i
		}
	}
	return -1
}

func reversalRef(ref, entryID string) string { return ref + ":reversal:" + entryID }
