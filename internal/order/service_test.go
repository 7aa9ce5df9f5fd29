package order

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/money"
	"github.com/MikeMC777/ordenes-credito/internal/policy"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	customer = identity.Actor{ID: "c1", Email: "ana@example.com", Role: identity.RoleCustomer}
	staff    = identity.Actor{ID: "u1", Email: "clerk@shop", Role: identity.RoleStaff, ShopID: "s1"}
	stranger = identity.Actor{ID: "u2", Role: identity.RoleStaff, ShopID: "s2"}
	acctKey  = ledger.Key{CustomerID: "c1", ShopID: "s1"}
)

type fakeCommission struct {
	mu     sync.Mutex
	err    error
	events []string
}

func (f *fakeCommission) RecordCommission(_ context.Context, o *Order, event string) (*CommissionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, event)
	if f.err != nil {
		return nil, f.err
	}
	return &CommissionResult{ID: "cm-" + o.ID}, nil
}

type fixture struct {
	svc        *Service
	repo       *MemoryRepo
	ledger     *ledger.Service
	policies   *policy.StaticSource
	prepared   *MemoryTracker
	commission *fakeCommission
	now        time.Time
}

func newFixture(t *testing.T, limit string) *fixture {
	t.Helper()
	f := &fixture{
		repo:       NewMemoryRepo(nil),
		ledger:     ledger.NewService(ledger.NewMemoryRepo(nil), money.Must(limit), nil, discard),
		policies:   policy.NewStaticSource(),
		prepared:   NewMemoryTracker(time.Hour),
		commission: &fakeCommission{},
		now:        time.Date(2024, 6, 1, 9, 0, 0, 0, time.UTC),
	}
	f.svc = NewService(f.repo, Deps{
		Ledger:     f.ledger,
		Fees:       FlatFee{Fee: money.Must("30")},
		Commission: f.commission,
		Policies:   f.policies,
		Prepared:   f.prepared,
		Log:        discard,
	})
	f.svc.SetClock(func() time.Time { return f.now })
	return f
}

func item(product, price, qty string) PlaceItem {
	return PlaceItem{ProductID: product, Name: product, Price: money.Must(price), Quantity: money.Must(qty), Unit: "u"}
}

func (f *fixture) place(t *testing.T, method PaymentMethod, items ...PlaceItem) *Order {
	t.Helper()
	res, err := f.svc.Place(context.Background(), customer, PlaceInput{
		ShopID: "s1", Items: items, PaymentMethod: method, DeliveryType: DeliveryPickup,
	})
	require.NoError(t, err)
	assertTotals(t, res.Order)
	return res.Order
}

func (f *fixture) approve(t *testing.T, id string) *Order {
	t.Helper()
	res, err := f.svc.ApproveCredit(context.Background(), staff, id)
	require.NoError(t, err)
	return res.Order
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	a, err := f.ledger.Account(context.Background(), identity.System, acctKey)
	require.NoError(t, err)
	assert.False(t, a.CurrentBalance.IsNegative())
	assert.True(t, a.CurrentBalance.LessThanOrEqual(a.CreditLimit))
	return a.CurrentBalance.StringFixed(2)
}

// completed drives a new credit order of 350 + 150 to completed.
func (f *fixture) completed(t *testing.T) *Order {
	t.Helper()
	o := f.place(t, PayCredit, item("rice", "35", "10"), item("oil", "75", "2"))
	f.approve(t, o.ID)
	ctx := context.Background()
	_, err := f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)
	for _, it := range o.Items {
		_, err := f.svc.MarkPrepared(ctx, staff, o.ID, it.ID)
		require.NoError(t, err)
	}
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusReady)
	require.NoError(t, err)
	res, err := f.svc.Advance(ctx, staff, o.ID, StatusCompleted)
	require.NoError(t, err)
	return res.Order
}

func assertTotals(t *testing.T, o *Order) {
	t.Helper()
	sum := decimal.Zero
	for _, it := range o.Items {
		sum = sum.Add(it.Total)
	}
	assert.True(t, o.TotalAmount.Equal(sum.Add(o.DeliveryFee)), "total %s != items %s + fee %s", o.TotalAmount, sum, o.DeliveryFee)
	assert.True(t, o.CreditAmount.Add(o.CashAmount).Equal(o.TotalAmount), "credit %s + cash %s != total %s", o.CreditAmount, o.CashAmount, o.TotalAmount)
}

func TestPlaceStatusDependsOnPaymentMethod(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")

	cash := f.place(t, PayCash, item("rice", "10", "2"))
	assert.Equal(t, StatusConfirmed, cash.Status)
	assert.NotNil(t, cash.ConfirmedAt)
	assert.Equal(t, "20.00", cash.CashAmount.StringFixed(2))

	credit := f.place(t, PayCredit, item("rice", "10", "2"))
	assert.Equal(t, StatusPendingApproval, credit.Status)
	assert.Equal(t, "20.00", credit.CreditAmount.StringFixed(2))
	assert.Len(t, credit.Items[0].ID, 36)
}

func TestPlaceDeliveryAddsFeeAndNeedsAddress(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	in := PlaceInput{
		ShopID: "s1", Items: []PlaceItem{item("rice", "10", "1.5")},
		PaymentMethod: PayCash, DeliveryType: DeliveryDelivery,
	}
	_, err := f.svc.Place(context.Background(), customer, in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	in.DeliveryAddress = &Address{Street: "Main 1", City: "Lima", Phone: "555"}
	res, err := f.svc.Place(context.Background(), customer, in)
	require.NoError(t, err)
	assert.Equal(t, "15.00", res.Order.Subtotal.StringFixed(2))
	assert.Equal(t, "45.00", res.Order.TotalAmount.StringFixed(2))

	in.DeliveryAddress = &Address{Street: "Main 1"}
	_, err = f.svc.Place(context.Background(), customer, in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestPlaceSplitMustSumToTotal(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	credit, cash := money.Must("60"), money.Must("39.99")
	in := PlaceInput{
		ShopID: "s1", Items: []PlaceItem{item("rice", "10", "10")},
		PaymentMethod: PaySplit, DeliveryType: DeliveryPickup,
		CreditAmount: &credit, CashAmount: &cash,
	}
	_, err := f.svc.Place(context.Background(), customer, in)
	assert.True(t, apperr.Is(err, apperr.KindIntegrity))

	cash = money.Must("40")
	res, err := f.svc.Place(context.Background(), customer, in)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, res.Order.Status)

	zero := money.Zero
	all := money.Must("100")
	in.CreditAmount, in.CashAmount = &zero, &all
	res, err = f.svc.Place(context.Background(), customer, in)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Order.Status)
}

func TestPlaceRejectsStaffAndBadItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	in := PlaceInput{ShopID: "s1", Items: []PlaceItem{item("rice", "10", "1")}, PaymentMethod: PayCash, DeliveryType: DeliveryPickup}

	_, err := f.svc.Place(context.Background(), staff, in)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	in.Items = []PlaceItem{item("rice", "10", "0")}
	_, err = f.svc.Place(context.Background(), customer, in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	in.Items = nil
	_, err = f.svc.Place(context.Background(), customer, in)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestApproveCreditIsIdempotent(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCredit, item("rice", "100", "2"))

	first := f.approve(t, o.ID)
	assert.Equal(t, StatusConfirmed, first.Status)
	assert.True(t, first.CreditApproved)
	assert.Equal(t, "200.00", f.balance(t))

	second := f.approve(t, o.ID)
	assert.Equal(t, first.Version, second.Version)
	assert.Equal(t, "200.00", f.balance(t))

	require.Len(t, first.History, 1)
	assert.Equal(t, ChangeCreditApproved, first.History[0].Type)
	assert.Equal(t, []string{CommissionCreditApproved}, f.commission.events)
}

func TestApproveCreditConcurrentChargesOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCredit, item("rice", "100", "2"))

	var wg sync.WaitGroup
	errs := make([]error, 8)
	for i := range errs {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = f.svc.ApproveCredit(context.Background(), staff, o.ID)
		}(i)
	}
	wg.Wait()
	for _, err := range errs {
		assert.NoError(t, err)
	}
	assert.Equal(t, "200.00", f.balance(t))
	got, err := f.svc.Get(context.Background(), staff, o.ID)
	require.NoError(t, err)
	assert.True(t, got.CreditApproved)
}

func TestApproveCreditRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "150")
	o := f.place(t, PayCredit, item("rice", "100", "2"))

	_, err := f.svc.ApproveCredit(context.Background(), stranger, o.ID)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	_, err = f.svc.ApproveCredit(context.Background(), staff, o.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	got, err := f.svc.Get(context.Background(), customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPendingApproval, got.Status)

	cash := f.place(t, PayCash, item("rice", "1", "1"))
	_, err = f.svc.ApproveCredit(context.Background(), staff, cash.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestCommissionFailureIsAWarning(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	f.commission.err = errors.New("commission service down")
	o := f.place(t, PayCredit, item("rice", "10", "1"))

	res, err := f.svc.ApproveCredit(context.Background(), staff, o.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Order.Status)
	require.Len(t, res.Warnings, 1)
	assert.Contains(t, res.Warnings[0], "commission")
}

func TestAdvanceIsStepwiseAndNeedsPreparedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	ctx := context.Background()
	o := f.place(t, PayCash, item("rice", "10", "1"), item("oil", "20", "1"))

	_, err := f.svc.Advance(ctx, staff, o.ID, StatusReady)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)

	_, err = f.svc.MarkPrepared(ctx, staff, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusReady)
	require.Error(t, err)
	assert.Contains(t, apperr.Message(err), "1 of 2 items prepared")

	ids, err := f.svc.MarkPrepared(ctx, staff, o.ID, o.Items[1].ID)
	require.NoError(t, err)
	assert.Len(t, ids, 2)

	res, err := f.svc.Advance(ctx, staff, o.ID, StatusReady)
	require.NoError(t, err)
	assert.NotNil(t, res.Order.ReadyAt)

	_, err = f.svc.CancelItem(ctx, staff, o.ID, o.Items[0].ID, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestAdvanceIgnoresExpiredPreparedMarks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	f.prepared.now = func() time.Time { return f.now }
	ctx := context.Background()
	o := f.place(t, PayCash, item("rice", "10", "1"), item("oil", "20", "1"))
	_, err := f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)

	_, err = f.svc.MarkPrepared(ctx, staff, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	f.now = f.now.Add(59 * time.Minute)
	_, err = f.svc.MarkPrepared(ctx, staff, o.ID, o.Items[1].ID)
	require.NoError(t, err)

	f.now = f.now.Add(61 * time.Minute)
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusReady)
	require.Error(t, err)
	assert.Contains(t, apperr.Message(err), "0 of 2 items prepared")

	ids, err := f.svc.Prepared(ctx, staff, o.ID)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestCancelLastItemCancelsOrder(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCredit, item("rice", "100", "1"))
	f.approve(t, o.ID)
	assert.Equal(t, "100.00", f.balance(t))

	res, err := f.svc.CancelItem(context.Background(), staff, o.ID, o.Items[0].ID, "out of stock")
	require.NoError(t, err)
	got := res.Order
	assert.Equal(t, StatusCancelled, got.Status)
	assert.Equal(t, ReasonAllItemsUnavailable, got.CancelReason)
	assert.Empty(t, got.Items)
	assert.True(t, got.TotalAmount.IsZero())
	assertTotals(t, got)
	assert.Equal(t, "0.00", f.balance(t))
	last := got.History[len(got.History)-1]
	assert.Equal(t, ChangeCancellation, last.Type)
	assert.NotEmpty(t, last.LedgerRef)
}

func TestCancelItemRefundsLine(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCredit, item("rice", "100", "1"), item("oil", "40", "2"))
	f.approve(t, o.ID)

	res, err := f.svc.CancelItem(context.Background(), staff, o.ID, o.Items[1].ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusConfirmed, res.Order.Status)
	assert.Len(t, res.Order.Items, 1)
	assertTotals(t, res.Order)
	assert.Equal(t, "100.00", f.balance(t))
	last := res.Order.History[len(res.Order.History)-1]
	assert.Equal(t, ChangeItemCancelled, last.Type)
	assert.Equal(t, "-80.00", last.AmountDelta.StringFixed(2))
}

func TestCancelItemOnPendingSplitWithoutCreditConfirms(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	credit, cash := money.Must("10"), money.Must("90")
	res, err := f.svc.Place(context.Background(), customer, PlaceInput{
		ShopID: "s1", Items: []PlaceItem{item("rice", "50", "1"), item("oil", "50", "1")},
		PaymentMethod: PaySplit, DeliveryType: DeliveryPickup, CreditAmount: &credit, CashAmount: &cash,
	})
	require.NoError(t, err)

	out, err := f.svc.CancelItem(context.Background(), staff, res.Order.ID, res.Order.Items[0].ID, "")
	require.NoError(t, err)
	assert.True(t, out.Order.CreditAmount.IsZero())
	assert.Equal(t, "50.00", out.Order.CashAmount.StringFixed(2))
	assert.Equal(t, StatusConfirmed, out.Order.Status)
}

func TestSubstituteMergesIntoExistingLine(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCash, item("A", "10", "2"), item("B", "10", "3"))

	res, err := f.svc.Substitute(context.Background(), staff, o.ID, o.Items[0].ID, SubstituteInput{
		ProductID: "B", Name: "B", Price: money.Must("10"), Quantity: money.Must("2"),
	})
	require.NoError(t, err)
	got := res.Order
	require.Len(t, got.Items, 1)
	assert.Equal(t, "B", got.Items[0].ProductID)
	assert.Equal(t, "5", got.Items[0].Quantity.String())
	assert.Equal(t, "50.00", got.Items[0].Total.StringFixed(2))
	assertTotals(t, got)
	assert.Equal(t, ChangeQuantityMerge, got.History[len(got.History)-1].Type)
}

func TestSubstituteInPlaceKeepsBackReference(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCredit, item("A", "10", "2"), item("B", "10", "3"))
	f.approve(t, o.ID)

	res, err := f.svc.Substitute(context.Background(), staff, o.ID, o.Items[0].ID, SubstituteInput{
		ProductID: "C", Name: "C", Price: money.Must("15"), Quantity: money.Must("2"), Reason: "A out of stock",
	})
	require.NoError(t, err)
	got := res.Order
	require.Len(t, got.Items, 2)
	assert.Equal(t, "C", got.Items[0].ProductID)
	require.True(t, got.Items[0].Substituted())
	assert.Equal(t, o.Items[0].ID, got.Items[0].Substitution.OriginalItemID)
	assert.NotEqual(t, o.Items[0].ID, got.Items[0].ID)
	assert.Equal(t, "60.00", got.TotalAmount.StringFixed(2))
	assertTotals(t, got)
	assert.Equal(t, "60.00", f.balance(t))
}

func TestSubstitutePastLimitIsRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "50")
	o := f.place(t, PayCredit, item("A", "10", "2"))
	f.approve(t, o.ID)

	_, err := f.svc.Substitute(context.Background(), staff, o.ID, o.Items[0].ID, SubstituteInput{
		ProductID: "C", Name: "C", Price: money.Must("40"), Quantity: money.Must("2"),
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	got, err := f.svc.Get(context.Background(), staff, o.ID)
	require.NoError(t, err)
	assert.Equal(t, "A", got.Items[0].ProductID)
	assert.Equal(t, "20.00", f.balance(t))
}

func TestSubstitutionReconcilesPreparedItems(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	ctx := context.Background()
	o := f.place(t, PayCash, item("A", "10", "1"), item("B", "10", "1"))
	_, err := f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)
	_, err = f.svc.MarkPrepared(ctx, staff, o.ID, o.Items[0].ID)
	require.NoError(t, err)
	_, err = f.svc.MarkPrepared(ctx, staff, o.ID, o.Items[1].ID)
	require.NoError(t, err)

	res, err := f.svc.Substitute(ctx, staff, o.ID, o.Items[0].ID, SubstituteInput{
		ProductID: "C", Name: "C", Price: money.Must("10"), Quantity: money.Must("1"),
	})
	require.NoError(t, err)

	ids, err := f.svc.Prepared(ctx, staff, o.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{o.Items[1].ID}, ids)
	for _, id := range ids {
		assert.GreaterOrEqual(t, res.Order.ItemIndex(id), 0)
	}
}

func TestCancelOrderRules(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	ctx := context.Background()
	o := f.place(t, PayCredit, item("A", "10", "3"))
	f.approve(t, o.ID)
	_, err := f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)

	_, err = f.svc.CancelOrder(ctx, customer, o.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	res, err := f.svc.CancelOrder(ctx, staff, o.ID, "")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, res.Order.Status)
	assert.Equal(t, ReasonCancelledByShop, res.Order.CancelReason)
	assert.Len(t, res.Order.Items, 1)
	assert.Equal(t, "0.00", f.balance(t))
}

func TestReturnRefundsCreditAndPartiallyReturns(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.completed(t)
	assert.Equal(t, "500.00", o.TotalAmount.StringFixed(2))
	assert.Equal(t, "500.00", f.balance(t))
	f.now = f.now.Add(2 * time.Hour)

	refund := money.Must("150")
	res, err := f.svc.ProcessReturn(context.Background(), staff, o.ID, ReturnInput{
		Items:        []ReturnLine{{ItemID: o.Items[1].ID}},
		Reason:       policy.ReasonDamaged,
		RefundAmount: &refund,
	})
	require.NoError(t, err)
	got := res.Order
	assert.Equal(t, StatusPartiallyReturned, got.Status)
	assert.Equal(t, "350.00", got.TotalAmount.StringFixed(2))
	assertTotals(t, got)
	assert.Equal(t, "350.00", f.balance(t))
	require.NotNil(t, got.Return)
	assert.Equal(t, RefundCreditBalance, got.Return.RefundMethod)
	assert.Equal(t, "500.00", got.Return.OriginalPayment.TotalAmount.StringFixed(2))
	assert.Equal(t, ChangeReturnProcessed, got.History[len(got.History)-1].Type)
}

func TestReturnPartialQuantityIsProRated(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.completed(t)
	qty := money.Must("4")

	res, err := f.svc.ProcessReturn(context.Background(), staff, o.ID, ReturnInput{
		Items:  []ReturnLine{{ItemID: o.Items[0].ID, Quantity: &qty}},
		Reason: policy.ReasonQualityIssues,
	})
	require.NoError(t, err)
	got := res.Order
	require.Len(t, got.Items, 2)
	assert.Equal(t, "6", got.Items[0].Quantity.String())
	assert.Equal(t, "210.00", got.Items[0].Total.StringFixed(2))
	assert.Equal(t, "140.00", got.Return.RefundAmount.StringFixed(2))
	assertTotals(t, got)
	assert.Equal(t, "360.00", f.balance(t))
}

func TestReturnAllItemsMarksReturned(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.completed(t)

	res, err := f.svc.ProcessReturn(context.Background(), staff, o.ID, ReturnInput{
		Items:  []ReturnLine{{ItemID: o.Items[0].ID}, {ItemID: o.Items[1].ID}},
		Reason: policy.ReasonWrongItem,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusReturned, res.Order.Status)
	assert.Empty(t, res.Order.Items)
	assert.Equal(t, "0.00", f.balance(t))
}

func TestReturnOutsideWindowRejected(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.completed(t)
	f.now = f.now.Add(30 * time.Hour)

	elig, err := f.svc.ReturnEligibility(context.Background(), staff, o.ID)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
	assert.Contains(t, elig.Reason, "exceeded by 6.0 hours")

	_, err = f.svc.ProcessReturn(context.Background(), staff, o.ID, ReturnInput{
		Items: []ReturnLine{{ItemID: o.Items[0].ID}}, Reason: policy.ReasonDamaged,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, apperr.Message(err), "24 hours exceeded by 6.0 hours")
	assert.Equal(t, "500.00", f.balance(t))
}

func TestPerishableWindowUsesExactElapsedTime(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	ctx := context.Background()
	milk := item("milk", "20", "2")
	milk.Perishable = true
	o := f.place(t, PayCash, milk, item("rice", "10", "1"))
	_, err := f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)
	for _, it := range o.Items {
		_, err := f.svc.MarkPrepared(ctx, staff, o.ID, it.ID)
		require.NoError(t, err)
	}
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusReady)
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusCompleted)
	require.NoError(t, err)

	// 6.04 hours shows as 6.0 but is past the 6 hour perishable window
	f.now = f.now.Add(6*time.Hour + 144*time.Second)
	_, err = f.svc.ProcessReturn(ctx, staff, o.ID, ReturnInput{
		Items: []ReturnLine{{ItemID: o.Items[0].ID}}, Reason: policy.ReasonDamaged,
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, apperr.Message(err), "perishable")

	res, err := f.svc.ProcessReturn(ctx, staff, o.ID, ReturnInput{
		Items: []ReturnLine{{ItemID: o.Items[1].ID}}, Reason: policy.ReasonDamaged,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusPartiallyReturned, res.Order.Status)
}

func TestSplitReturnRefundsCreditPortionFirst(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	ctx := context.Background()
	credit, cash := money.Must("100"), money.Must("100")
	placed, err := f.svc.Place(ctx, customer, PlaceInput{
		ShopID: "s1", Items: []PlaceItem{item("rice", "150", "1"), item("oil", "50", "1")},
		PaymentMethod: PaySplit, DeliveryType: DeliveryPickup, CreditAmount: &credit, CashAmount: &cash,
	})
	require.NoError(t, err)
	o := placed.Order
	f.approve(t, o.ID)
	assert.Equal(t, "100.00", f.balance(t))
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusPreparing)
	require.NoError(t, err)
	for _, it := range o.Items {
		_, err := f.svc.MarkPrepared(ctx, staff, o.ID, it.ID)
		require.NoError(t, err)
	}
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusReady)
	require.NoError(t, err)
	_, err = f.svc.Advance(ctx, staff, o.ID, StatusCompleted)
	require.NoError(t, err)

	res, err := f.svc.ProcessReturn(ctx, staff, o.ID, ReturnInput{
		Items: []ReturnLine{{ItemID: o.Items[0].ID}}, Reason: policy.ReasonDamaged,
	})
	require.NoError(t, err)
	got := res.Order
	assertTotals(t, got)
	assert.Equal(t, "0.00", f.balance(t))
	assert.Equal(t, "100.00", got.Return.CreditRefund.StringFixed(2))
	assert.Equal(t, "50.00", got.Return.CashRefund.StringFixed(2))
	assert.Equal(t, RefundSplit, got.Return.RefundMethod)
	assert.True(t, got.CreditAmount.IsZero())
	assert.Equal(t, "50.00", got.CashAmount.StringFixed(2))
}

func TestReturnPolicyChecks(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.completed(t)
	f.now = f.now.Add(time.Hour)

	elig, err := f.svc.ReturnEligibility(context.Background(), customer, o.ID)
	require.NoError(t, err)
	assert.True(t, elig.Eligible)
	assert.Equal(t, 23.0, elig.HoursRemaining)

	_, err = f.svc.ProcessReturn(context.Background(), staff, o.ID, ReturnInput{
		Items: []ReturnLine{{ItemID: o.Items[0].ID}}, Reason: "changed_mind",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	wrong := money.Must("1")
	_, err = f.svc.ProcessReturn(context.Background(), staff, o.ID, ReturnInput{
		Items: []ReturnLine{{ItemID: o.Items[0].ID}}, Reason: policy.ReasonDamaged, RefundAmount: &wrong,
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	no := false
	f.policies.Set("s1", policy.Stored{AllowReturns: &no})
	elig, err = f.svc.ReturnEligibility(context.Background(), staff, o.ID)
	require.NoError(t, err)
	assert.False(t, elig.Eligible)
}

func TestAcknowledgeOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.completed(t)
	ctx := context.Background()

	_, err := f.svc.Acknowledge(ctx, customer, o.ID, AcknowledgeInput{Rating: 0})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Acknowledge(ctx, staff, o.ID, AcknowledgeInput{Rating: 5})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	res, err := f.svc.Acknowledge(ctx, customer, o.ID, AcknowledgeInput{Rating: 4, Notes: "fresh"})
	require.NoError(t, err)
	assert.Equal(t, StatusAcknowledged, res.Order.Status)
	require.NotNil(t, res.Order.DeliveryProof)
	assert.Equal(t, 4, res.Order.DeliveryProof.Rating)

	_, err = f.svc.Acknowledge(ctx, customer, o.ID, AcknowledgeInput{Rating: 1})
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	got, err := f.svc.Get(ctx, customer, o.ID)
	require.NoError(t, err)
	assert.Equal(t, 4, got.DeliveryProof.Rating)
}

type failingUpdateRepo struct {
	*MemoryRepo
}

func (r failingUpdateRepo) Update(context.Context, *Order, int64) error {
	return errors.New("disk full")
}

func TestFailedWriteReversesPosting(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	o := f.place(t, PayCredit, item("rice", "100", "1"))

	svc := NewService(failingUpdateRepo{f.repo}, Deps{Ledger: f.ledger, Log: discard})
	_, err := svc.ApproveCredit(context.Background(), staff, o.ID)
	require.Error(t, err)
	assert.Equal(t, "0.00", f.balance(t))

	// the ref was released, so a later approval charges normally
	f.approve(t, o.ID)
	assert.Equal(t, "100.00", f.balance(t))
}

func TestListAndWatch(t *testing.T) {
	t.Parallel()
	f := newFixture(t, "1000")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := f.svc.WatchShop(ctx, staff, "s1", ListQuery{})
	require.NoError(t, err)
	assert.Empty(t, <-ch)

	f.place(t, PayCash, item("A", "1", "1"))
	f.place(t, PayCredit, item("A", "1", "1"))

	select {
	case orders := <-ch:
		assert.NotEmpty(t, orders)
	case <-time.After(2 * time.Second):
		t.Fatal("no update")
	}

	pending, err := f.svc.ListForShop(context.Background(), staff, "s1", ListQuery{Status: StatusPendingApproval})
	require.NoError(t, err)
	assert.Len(t, pending, 1)

	mine, err := f.svc.ListForCustomer(context.Background(), customer, ListQuery{Limit: 1})
	require.NoError(t, err)
	assert.Len(t, mine, 1)

	_, err = f.svc.ListForShop(context.Background(), stranger, "s1", ListQuery{})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}
