package order

import (
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"

	"github.com/MikeMC777/ordenes-credito/internal/apperr"
)

// PlaceItem is one requested line.
// swagger:model PlaceItem
type PlaceItem struct {
	ProductID  string          `json:"productId" validate:"required" example:"prod-tomato"`
	Name       string          `json:"name" validate:"required,max=200" example:"Tomato"`
	Price      decimal.Decimal `json:"price" swaggertype:"string" example:"42.50"`
	Quantity   decimal.Decimal `json:"quantity" swaggertype:"string" example:"1.5"`
	Unit       string          `json:"unit,omitempty" example:"kg"`
	Perishable bool            `json:"perishable,omitempty"`
}

// PlaceInput is the customer's order request.
// swagger:model PlaceInput
type PlaceInput struct {
	ShopID          string           `json:"shopId" validate:"required" example:"shop-1"`
	Items           []PlaceItem      `json:"items" validate:"required,min=1,dive"`
	PaymentMethod   PaymentMethod    `json:"paymentMethod" validate:"required,oneof=cash credit split" example:"credit"`
	CreditAmount    *decimal.Decimal `json:"creditAmount,omitempty" swaggertype:"string"`
	CashAmount      *decimal.Decimal `json:"cashAmount,omitempty" swaggertype:"string"`
	DeliveryType    DeliveryType     `json:"deliveryType" validate:"required,oneof=pickup delivery" example:"delivery"`
	DeliveryAddress *Address         `json:"deliveryAddress,omitempty"`
	Notes           string           `json:"notes,omitempty" validate:"max=500"`
}

// SubstituteInput replaces a line with another product.
// swagger:model SubstituteInput
type SubstituteInput struct {
	ProductID  string          `json:"productId" validate:"required"`
	Name       string          `json:"name" validate:"required,max=200"`
	Price      decimal.Decimal `json:"price" swaggertype:"string"`
	Quantity   decimal.Decimal `json:"quantity" swaggertype:"string"`
	Unit       string          `json:"unit,omitempty"`
	Perishable bool            `json:"perishable,omitempty"`
	Reason     string          `json:"reason,omitempty" validate:"max=300"`
}

// ReturnLine names a returned line; Quantity defaults to the whole line.
type ReturnLine struct {
	ItemID   string           `json:"itemId" validate:"required"`
	Quantity *decimal.Decimal `json:"quantity,omitempty" swaggertype:"string"`
}

// ReturnInput is a staff-processed return.
// swagger:model ReturnInput
type ReturnInput struct {
	Items        []ReturnLine     `json:"items" validate:"required,min=1,dive"`
	Reason       string           `json:"reason" validate:"required" example:"damaged"`
	Notes        string           `json:"notes,omitempty" validate:"max=500"`
	RefundAmount *decimal.Decimal `json:"refundAmount,omitempty" swaggertype:"string"`
}

// AcknowledgeInput is the customer's receipt confirmation.
// swagger:model AcknowledgeInput
type AcknowledgeInput struct {
	Rating int    `json:"rating" validate:"required,min=1,max=5" example:"5"`
	Notes  string `json:"notes,omitempty" validate:"max=1000"`
}

// ListQuery filters and pages order listings.
type ListQuery struct {
	Status Status
	Limit  int
	Offset int
}

// Normalized applies the default page size of 20 to limits outside 1..100.
func (q ListQuery) Normalized() ListQuery {
	if q.Limit <= 0 || q.Limit > 100 {
		q.Limit = 20
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

func (q ListQuery) matches(o *Order) bool { return q.Status == "" || o.Status == q.Status }

var validate = validator.New(validator.WithRequiredStructEnabled())

// check runs struct validation and turns the first failures into a
// validation error naming the offending fields.
func check(op string, v any) error {
	err := validate.Struct(v)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Validation(op, "%v", err)
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
	}
	return apperr.Validation(op, "invalid input: %s", strings.Join(msgs, "; "))
}
