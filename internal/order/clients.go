package order

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/shopspring/decimal"
)

// CommissionRecorder is the platform's commission collaborator. It is told
// about every credit approval and every completed order; calling it twice
// for the same order and event is safe on its side.
type CommissionRecorder interface {
	RecordCommission(ctx context.Context, o *Order, event string) (*CommissionResult, error)
}

const (
	CommissionCreditApproved = "credit_approved"
	CommissionCompleted      = "completed"
)

type CommissionResult struct {
	ID     string          `json:"id"`
	Amount decimal.Decimal `json:"amount"`
}

// CommissionClient talks to the commission service over HTTP.
type CommissionClient struct {
	HTTP    *http.Client
	BaseURL string
}

func NewCommissionClient(baseURL string, timeout time.Duration) *CommissionClient {
	return &CommissionClient{HTTP: &http.Client{Timeout: timeout}, BaseURL: baseURL}
}

type commissionRequest struct {
	OrderID       string          `json:"orderId"`
	ShopID        string          `json:"shopId"`
	CustomerID    string          `json:"customerId"`
	Event         string          `json:"event"`
	PaymentMethod PaymentMethod   `json:"paymentMethod"`
	TotalAmount   decimal.Decimal `json:"totalAmount"`
	CreditAmount  decimal.Decimal `json:"creditAmount"`
}

func (c *CommissionClient) RecordCommission(ctx context.Context, o *Order, event string) (*CommissionResult, error) {
	body, err := json.Marshal(commissionRequest{
		OrderID:       o.ID,
		ShopID:        o.ShopID,
		CustomerID:    o.CustomerID,
		Event:         event,
		PaymentMethod: o.PaymentMethod,
		TotalAmount:   o.TotalAmount,
		CreditAmount:  o.CreditAmount,
	})
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+"/commissions", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", o.ID+":"+event)
	res, err := c.HTTP.Do(req)
	if err != nil {
		return nil, err
	}
	defer res.Body.Close()

	switch res.StatusCode {
	case http.StatusOK, http.StatusCreated:
	case http.StatusConflict:
		// already recorded for this order and event
		return &CommissionResult{}, nil
	default:
		return nil, fmt.Errorf("record commission: %s", res.Status)
	}
	var out CommissionResult
	if err := json.NewDecoder(res.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("decode commission: %w", err)
	}
	return &out, nil
}

// NoopCommission is used when no commission service is configured.
type NoopCommission struct{}

func (NoopCommission) RecordCommission(context.Context, *Order, string) (*CommissionResult, error) {
	return &CommissionResult{}, nil
}

// FeeCalculator prices delivery for a new order.
type FeeCalculator interface {
	DeliveryFee(ctx context.Context, shopID string, t DeliveryType, subtotal decimal.Decimal) (decimal.Decimal, error)
}

// FlatFee charges Fee for deliveries and nothing for pickups. A positive
// FreeAbove waives the fee once the subtotal reaches it.
type FlatFee struct {
	Fee       decimal.Decimal
	FreeAbove decimal.Decimal
}

func (f FlatFee) DeliveryFee(_ context.Context, _ string, t DeliveryType, subtotal decimal.Decimal) (decimal.Decimal, error) {
	if t != DeliveryDelivery {
		return decimal.Zero, nil
	}
	if f.FreeAbove.IsPositive() && subtotal.GreaterThanOrEqual(f.FreeAbove) {
		return decimal.Zero, nil
	}
	return f.Fee, nil
}
