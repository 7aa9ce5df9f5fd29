package payment

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/ledger"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	staff    = identity.Actor{ID: "u1", Email: "cashier@shop", Role: identity.RoleStaff, ShopID: "s1"}
	customer = identity.Actor{ID: "c1", Email: "ana@example.com", Role: identity.RoleCustomer}
	key      = ledger.Key{CustomerID: "c1", ShopID: "s1"}
)

type fixture struct {
	svc    *Service
	ledger *ledger.Service
	repo   *MemoryRepo
	now    time.Time
}

// newFixture returns a workflow over a customer who owes 300.
func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{now: time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC)}
	f.ledger = ledger.NewService(ledger.NewMemoryRepo(nil), money.Must("1000"), nil, discard)
	f.repo = NewMemoryRepo()
	f.svc = NewService(f.repo, f.ledger, 24*time.Hour, nil, discard)
	f.svc.SetClock(func() time.Time { return f.now })
	_, _, err := f.ledger.Post(context.Background(), ledger.Posting{
		Key: key, Type: ledger.EntryCreditPurchase, Amount: money.Must("300"), OrderID: "o1", Ref: "credit:o1",
	})
	require.NoError(t, err)
	return f
}

func (f *fixture) balance(t *testing.T) string {
	t.Helper()
	a, err := f.ledger.Account(context.Background(), identity.System, key)
	require.NoError(t, err)
	return a.CurrentBalance.StringFixed(2)
}

func (f *fixture) record(t *testing.T, amount string) *PendingPayment {
	t.Helper()
	p, err := f.svc.Record(context.Background(), staff, RecordInput{
		CustomerID: "c1", ShopID: "s1", Amount: money.Must(amount), Note: "cash at counter",
	})
	require.NoError(t, err)
	return p
}

func TestRecordDoesNotTouchLedger(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	p := f.record(t, "120")

	assert.Equal(t, StatusPending, p.Status)
	assert.Equal(t, "300.00", p.CurrentBalance.StringFixed(2))
	assert.Equal(t, "180.00", p.NewBalance.StringFixed(2))
	assert.Equal(t, f.now.Add(24*time.Hour), p.ExpiresAt)
	assert.Equal(t, "300.00", f.balance(t))
}

func TestRecordRejections(t *testing.T) {
	t.Parallel()
	f := newFixture(t)

	_, err := f.svc.Record(context.Background(), staff, RecordInput{CustomerID: "c1", ShopID: "s1", Amount: money.Must("300.01")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Record(context.Background(), staff, RecordInput{CustomerID: "c1", ShopID: "s1", Amount: money.Zero})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Record(context.Background(), staff, RecordInput{CustomerID: "c9", ShopID: "s1", Amount: money.Must("1")})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Record(context.Background(), customer, RecordInput{CustomerID: "c1", ShopID: "s1", Amount: money.Must("1")})
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestConfirmAppliesPaymentOnce(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.record(t, "120")

	out, err := f.svc.Confirm(context.Background(), customer, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, "180.00", f.balance(t))

	again, err := f.svc.Confirm(context.Background(), customer, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, again.Status)
	assert.Equal(t, "180.00", f.balance(t))

	a, err := f.ledger.Account(context.Background(), identity.System, key)
	require.NoError(t, err)
	last := a.History[len(a.History)-1]
	assert.Equal(t, ledger.EntryPayment, last.Type)
	assert.Equal(t, "-120.00", last.Amount.StringFixed(2))
	assert.Equal(t, "payment:"+p.ID, last.Ref)
}

func TestConfirmRejectsAmountAboveCurrentBalance(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p1 := f.record(t, "200")
	p2 := f.record(t, "200")

	_, err := f.svc.Confirm(context.Background(), customer, p1.ID)
	require.NoError(t, err)

	_, err = f.svc.Confirm(context.Background(), customer, p2.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "100.00", f.balance(t))

	cur, err := f.repo.Get(context.Background(), p2.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cur.Status)
}

func TestConfirmAfterExpiry(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.record(t, "50")
	f.now = f.now.Add(25 * time.Hour)

	_, err := f.svc.Confirm(context.Background(), customer, p.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Equal(t, "300.00", f.balance(t))

	cur, err := f.repo.Get(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusExpired, cur.Status)
}

func TestCancelAndDecline(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p1 := f.record(t, "10")
	p2 := f.record(t, "20")

	out, err := f.svc.Cancel(context.Background(), staff, p1.ID, "typo")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, "typo", out.Reason)

	_, err = f.svc.Cancel(context.Background(), staff, p1.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	_, err = f.svc.Decline(context.Background(), staff, p2.ID, "")
	assert.True(t, apperr.Is(err, apperr.KindForbidden))

	out, err = f.svc.Decline(context.Background(), customer, p2.ID, "never paid this")
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, out.Status)
	assert.Equal(t, "300.00", f.balance(t))

	_, err = f.svc.Confirm(context.Background(), customer, p2.ID)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

func TestSweepExpiresDueRecords(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	old := f.record(t, "10")
	f.now = f.now.Add(20 * time.Hour)
	fresh := f.record(t, "10")
	f.now = f.now.Add(5 * time.Hour)

	n, err := f.svc.Sweep(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)

	list, err := f.svc.ListForCustomer(context.Background(), customer, StatusPending)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, fresh.ID, list[0].ID)

	expired, err := f.svc.ListForShop(context.Background(), staff, "s1", StatusExpired)
	require.NoError(t, err)
	require.Len(t, expired, 1)
	assert.Equal(t, old.ID, expired[0].ID)

	_, err = f.svc.ListForShop(context.Background(), staff, "s1", Status("bogus"))
	assert.True(t, apperr.Is(err, apperr.KindValidation))
}

type failingRepo struct {
	*MemoryRepo
}

func (r failingRepo) Transition(ctx context.Context, id string, from, to Status, at time.Time, by, reason string) (*PendingPayment, error) {
	if to == StatusApproved {
		return nil, assert.AnError
	}
	return r.MemoryRepo.Transition(ctx, id, from, to, at, by, reason)
}

func TestConfirmCompensatesWhenStatusWriteFails(t *testing.T) {
	t.Parallel()
	f := newFixture(t)
	p := f.record(t, "100")
	svc := NewService(failingRepo{f.repo}, f.ledger, 24*time.Hour, nil, discard)
	svc.SetClock(func() time.Time { return f.now })

	_, err := svc.Confirm(context.Background(), customer, p.ID)
	require.Error(t, err)
	assert.Equal(t, "300.00", f.balance(t))

	// the released ref lets a later confirmation go through
	out, err := f.svc.Confirm(context.Background(), customer, p.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusApproved, out.Status)
	assert.Equal(t, "200.00", f.balance(t))
}
