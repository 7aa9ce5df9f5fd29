package order

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MikeMC777/ordenes-credito/internal/money"
)

func TestCommissionClientPostsEvent(t *testing.T) {
	t.Parallel()
	var got commissionRequest
	var key string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/commissions", r.URL.Path)
		key = r.Header.Get("Idempotency-Key")
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
		_, _ = w.Write([]byte(`{"id":"cm-1","amount":"12.50"}`))
	}))
	defer srv.Close()

	c := NewCommissionClient(srv.URL, time.Second)
	o := &Order{ID: "o1", ShopID: "s1", CustomerID: "c1", PaymentMethod: PayCredit,
		TotalAmount: money.Must("250"), CreditAmount: money.Must("250")}
	res, err := c.RecordCommission(context.Background(), o, CommissionCompleted)
	require.NoError(t, err)
	assert.Equal(t, "cm-1", res.ID)
	assert.Equal(t, "12.5", res.Amount.String())
	assert.Equal(t, "o1:completed", key)
	assert.Equal(t, CommissionCompleted, got.Event)
	assert.Equal(t, "250", got.TotalAmount.String())
}

func TestCommissionClientStatuses(t *testing.T) {
	t.Parallel()
	var code atomic.Int32
	code.Store(http.StatusConflict)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(int(code.Load()))
	}))
	defer srv.Close()
	c := NewCommissionClient(srv.URL, time.Second)
	o := &Order{ID: "o1"}

	_, err := c.RecordCommission(context.Background(), o, CommissionCreditApproved)
	assert.NoError(t, err)

	code.Store(http.StatusBadGateway)
	_, err = c.RecordCommission(context.Background(), o, CommissionCreditApproved)
	assert.ErrorContains(t, err, "502")
}

func TestFlatFee(t *testing.T) {
	t.Parallel()
	f := FlatFee{Fee: money.Must("30"), FreeAbove: money.Must("200")}
	ctx := context.Background()

	fee, err := f.DeliveryFee(ctx, "s1", DeliveryPickup, money.Must("10"))
	require.NoError(t, err)
	assert.True(t, fee.IsZero())

	fee, _ = f.DeliveryFee(ctx, "s1", DeliveryDelivery, money.Must("199.99"))
	assert.Equal(t, "30", fee.String())

	fee, _ = f.DeliveryFee(ctx, "s1", DeliveryDelivery, money.Must("200"))
	assert.True(t, fee.IsZero())
}
