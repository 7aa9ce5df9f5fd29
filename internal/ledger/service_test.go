package ledger

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
	"github.com/MikeMC777/ordenes-credito/internal/identity"
	"github.com/MikeMC777/ordenes-credito/internal/money"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

var (
	key   = Key{CustomerID: "c1", ShopID: "s1"}
	staff = identity.Actor{ID: "u9", Email: "staff@shop", Role: identity.RoleStaff, ShopID: "s1"}
)

func newService(limit string) *Service {
	return NewService(NewMemoryRepo(nil), money.Must(limit), nil, discard)
}

func charge(t *testing.T, s *Service, amount, ref string) *Account {
	t.Helper()
	a, applied, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryCreditPurchase, Amount: money.Must(amount), OrderID: "o1", Ref: ref,
	})
	require.NoError(t, err)
	require.True(t, applied)
	return a
}

func TestChargeCreatesAccountWithDefaultLimit(t *testing.T) {
	t.Parallel()
	s := newService("1000")

	a := charge(t, s, "250", "credit:o1")

	assert.True(t, a.CreditLimit.Equal(money.Must("1000")))
	assert.True(t, a.CurrentBalance.Equal(money.Must("250")))
	assert.True(t, a.AvailableCredit().Equal(money.Must("750")))
	require.Len(t, a.History, 1)
	assert.Equal(t, EntryCreditPurchase, a.History[0].Type)
}

func TestChargeOverLimitRejected(t *testing.T) {
	t.Parallel()
	s := newService("300")
	charge(t, s, "200", "credit:o1")

	_, _, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryCreditPurchase, Amount: money.Must("100.01"), Ref: "credit:o2",
	})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))
	assert.Contains(t, apperr.Message(err), "credit limit exceeded")

	a, err := s.Account(context.Background(), staff, key)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(money.Must("200")))
}

func TestPostSameRefIsIdempotent(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "100", "credit:o1")

	a, applied, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryCreditPurchase, Amount: money.Must("100"), Ref: "credit:o1",
	})
	require.NoError(t, err)
	assert.False(t, applied)
	assert.True(t, a.CurrentBalance.Equal(money.Must("100")))
	assert.Len(t, a.History, 1)
}

func TestRefundFloorsAtZero(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "100", "credit:o1")

	a, applied, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryCancellationRefund, Amount: money.Must("-150"), Ref: "cancel:o1",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, a.CurrentBalance.IsZero())
}

func TestPaymentAboveBalanceRejected(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "100", "credit:o1")

	_, _, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryPayment, Amount: money.Must("-100.50"), Ref: "payment:p1",
	})
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	a, applied, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryPayment, Amount: money.Must("-100"), Ref: "payment:p2",
	})
	require.NoError(t, err)
	assert.True(t, applied)
	assert.True(t, a.CurrentBalance.IsZero())
}

func TestPaymentWithoutAccountIsNotFound(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	_, _, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryPayment, Amount: money.Must("-10"), Ref: "payment:p1",
	})
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestInvalidPostings(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	for name, p := range map[string]Posting{
		"no ref":            {Key: key, Type: EntryCreditPurchase, Amount: money.Must("1")},
		"zero":              {Key: key, Type: EntryCreditPurchase, Amount: money.Zero, Ref: "r"},
		"negative purchase": {Key: key, Type: EntryCreditPurchase, Amount: money.Must("-1"), Ref: "r"},
		"positive refund":   {Key: key, Type: EntryReturnRefund, Amount: money.Must("1"), Ref: "r"},
		"no key":            {Type: EntryAdjustment, Amount: money.Must("1"), Ref: "r"},
	} {
		_, _, err := s.Post(context.Background(), p)
		assert.True(t, apperr.Is(err, apperr.KindValidation), name)
	}
}

func TestReverseRestoresBalanceAndReleasesRef(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "400", "credit:o1")

	applied, err := s.Reverse(context.Background(), key, "credit:o1", "order write failed")
	require.NoError(t, err)
	assert.True(t, applied)

	a, err := s.Account(context.Background(), staff, key)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.IsZero())
	require.Len(t, a.History, 2)
	assert.True(t, a.History[0].Reversed)
	assert.Equal(t, EntryReversal, a.History[1].Type)
	assert.Equal(t, "credit:o1", a.History[1].Reverses)
	assert.False(t, a.HasActiveRef("credit:o1"))

	// the released ref can be posted again
	a = charge(t, s, "400", "credit:o1")
	assert.True(t, a.CurrentBalance.Equal(money.Must("400")))

	applied, err = s.Reverse(context.Background(), key, "credit:missing", "noop")
	require.NoError(t, err)
	assert.False(t, applied)
}

func TestPurchaseRecordsAppliedAmount(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	a := charge(t, s, "250.50", "credit:o1")

	require.Len(t, a.History, 1)
	assert.Equal(t, EntryCreditPurchase, a.History[0].Type)
	assert.True(t, a.History[0].Amount.Equal(money.Must("250.50")))
	assert.True(t, a.History[0].Applied.Equal(money.Must("250.50")))
}

func TestReverseFlooredRefundRestoresOnlyWhatItRemoved(t *testing.T) {
	t.Parallel()
	s := newService("100")
	charge(t, s, "50", "credit:o1")

	a, applied, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryReturnRefund, Amount: money.Must("-150"), OrderID: "o1", Ref: "return:o1",
	})
	require.NoError(t, err)
	require.True(t, applied)
	assert.True(t, a.CurrentBalance.IsZero())
	assert.True(t, a.History[1].Amount.Equal(money.Must("-150")))
	assert.True(t, a.History[1].Applied.Equal(money.Must("-50")))

	ok, err := s.Reverse(context.Background(), key, "return:o1", "order write failed")
	require.NoError(t, err)
	require.True(t, ok)

	a, err = s.Account(context.Background(), staff, key)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(money.Must("50")), "balance %s", a.CurrentBalance)
	assert.False(t, a.CurrentBalance.GreaterThan(a.CreditLimit))
}

func TestReverseStaysWithinLoweredLimit(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "400", "credit:o1")
	_, _, err := s.Post(context.Background(), Posting{
		Key: key, Type: EntryCancellationRefund, Amount: money.Must("-300"), OrderID: "o1", Ref: "cancel:o1",
	})
	require.NoError(t, err)
	_, err = s.SetCreditLimit(context.Background(), staff, key, money.Must("150"))
	require.NoError(t, err)

	ok, err := s.Reverse(context.Background(), key, "cancel:o1", "order write failed")
	require.NoError(t, err)
	require.True(t, ok)

	a, err := s.Account(context.Background(), staff, key)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(money.Must("150")), "balance %s", a.CurrentBalance)
	rev := a.History[len(a.History)-1]
	assert.Equal(t, EntryReversal, rev.Type)
	assert.True(t, rev.Amount.Equal(money.Must("300")))
	assert.True(t, rev.Applied.Equal(money.Must("50")))
}

func TestSetCreditLimit(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "600", "credit:o1")

	_, err := s.SetCreditLimit(context.Background(), staff, key, money.Must("500"))
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindValidation))

	a, err := s.SetCreditLimit(context.Background(), staff, key, money.Must("600"))
	require.NoError(t, err)
	assert.True(t, a.CreditLimit.Equal(money.Must("600")))
	assert.True(t, a.AvailableCredit().IsZero())

	other := identity.Actor{ID: "u2", Role: identity.RoleStaff, ShopID: "s2"}
	_, err = s.SetCreditLimit(context.Background(), other, key, money.Must("700"))
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestSetCreditLimitOpensAccount(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	a, err := s.SetCreditLimit(context.Background(), staff, Key{CustomerID: "c7", ShopID: "s1"}, money.Must("250"))
	require.NoError(t, err)
	assert.True(t, a.CreditLimit.Equal(money.Must("250")))
	assert.True(t, a.CurrentBalance.IsZero())
}

func TestAccountVisibility(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	charge(t, s, "10", "credit:o1")

	_, err := s.Account(context.Background(), identity.Actor{ID: "c1", Role: identity.RoleCustomer}, key)
	assert.NoError(t, err)
	_, err = s.Account(context.Background(), identity.Actor{ID: "c2", Role: identity.RoleCustomer}, key)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
}

func TestConcurrentChargesNeverExceedLimit(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	var wg sync.WaitGroup
	for i := 0; i < 30; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, _ = s.Post(context.Background(), Posting{
				Key: key, Type: EntryCreditPurchase, Amount: money.Must("100"), Ref: "credit:o" + string(rune('a'+i)),
			})
		}(i)
	}
	wg.Wait()

	a, err := s.Account(context.Background(), staff, key)
	require.NoError(t, err)
	assert.True(t, a.CurrentBalance.Equal(money.Must("1000")))
	assert.Len(t, a.History, 10)
}

func TestWatchShopEmitsOnChange(t *testing.T) {
	t.Parallel()
	s := newService("1000")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	ch, err := s.WatchShop(ctx, staff, "s1")
	require.NoError(t, err)

	first := <-ch
	assert.Empty(t, first)

	charge(t, s, "50", "credit:o1")
	deadline := time.After(2 * time.Second)
	for {
		select {
		case accs := <-ch:
			require.Len(t, accs, 1)
			if accs[0].CurrentBalance.Equal(money.Must("50")) {
				return
			}
		case <-deadline:
			t.Fatal("no update with the new balance")
		}
	}
}
