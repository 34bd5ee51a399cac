package domain

import (
	"errors"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

// OrderRequest is the payload for placing or amending an order.
// A zero Price means a market order.
type OrderRequest struct {
	Symbol    string          `json:"symbol" validate:"required"`
	Side      string          `json:"side" validate:"required,oneof=BUY SELL buy sell"`
	Quantity  decimal.Decimal `json:"quantity" validate:"gt=0"`
	Price     decimal.Decimal `json:"price" validate:"gte=0"`
	OrderType string          `json:"order_type,omitempty" validate:"omitempty,oneof=LIMIT MARKET limit market"`
}

// RegisterRequest is the payload for account registration.
type RegisterRequest struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Username string `json:"username,omitempty"`
}

var (
	validateOnce sync.Once
	validate     *validator.Validate
)

// validatorInstance lazily builds the shared validator.
// Decimals are compared as float64, which is exact enough for sign checks.
func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New()
		validate.RegisterCustomTypeFunc(func(v reflect.Value) interface{} {
			if d, ok := v.Interface().(decimal.Decimal); ok {
				return d.InexactFloat64()
			}
			return nil
		}, decimal.Decimal{})
		validate.RegisterTagNameFunc(func(f reflect.StructField) string {
			name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
			if name == "-" {
				return ""
			}
			return name
		})
	})
	return validate
}

// Validate runs the pre-flight checks that prevent obviously invalid requests
// from reaching the backend.
func (r *OrderRequest) Validate() error {
	return validationError("validate order", validatorInstance().Struct(r))
}

// Normalized returns a copy with symbol, side and order type upper-cased.
func (r OrderRequest) Normalized() OrderRequest {
	r.Symbol = strings.ToUpper(strings.TrimSpace(r.Symbol))
	r.Side = strings.ToUpper(strings.TrimSpace(r.Side))
	r.OrderType = strings.ToUpper(strings.TrimSpace(r.OrderType))
	return r
}

// Validate checks the registration payload.
func (r *RegisterRequest) Validate() error {
	return validationError("validate registration", validatorInstance().Struct(r))
}

// ParseOrderRequest builds an OrderRequest from user-supplied strings.
// An empty price means a market order; a non-numeric price or quantity is a
// validation failure.
func ParseOrderRequest(symbol, side, quantity, price string) (OrderRequest, error) {
	req := OrderRequest{Symbol: symbol, Side: side}

	qty, err := decimal.NewFromString(strings.TrimSpace(quantity))
	if err != nil {
		return req, NewValidationError("parse order", "quantity must be a valid number")
	}
	req.Quantity = qty

	if p := strings.TrimSpace(price); p != "" {
		px, err := decimal.NewFromString(p)
		if err != nil {
			return req, NewValidationError("parse order", "price must be a valid number")
		}
		req.Price = px
	}

	if err := req.Validate(); err != nil {
		return req, err
	}
	return req, nil
}

func validationError(op string, err error) error {
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if errors.As(err, &verrs) && len(verrs) > 0 {
		return NewValidationError(op, describeFieldError(verrs[0]))
	}
	return &APIError{Kind: KindValidation, Op: op, Message: err.Error(), Err: err}
}

func describeFieldError(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return "missing required field: " + field
	case "oneof":
		if field == "side" {
			return "side must be BUY or SELL"
		}
		return field + " must be one of " + fe.Param()
	case "gt":
		return field + " must be positive"
	case "gte":
		return field + " must not be negative"
	case "email":
		return field + " must be a valid email"
	default:
		return field + " is invalid"
	}
}
