package domain

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
)

type PaymentMethod string

const (
	PaymentMethodCard           PaymentMethod = "card"
	PaymentMethodPaypal         PaymentMethod = "paypal"
	PaymentMethodCashOnDelivery PaymentMethod = "cash_on_delivery"
)

func ParsePaymentMethod(raw string) (PaymentMethod, error) {
	switch PaymentMethod(strings.ToLower(raw)) {
	case PaymentMethodCard, PaymentMethodPaypal, PaymentMethodCashOnDelivery:
		return PaymentMethod(strings.ToLower(raw)), nil
	}
	return "", fmt.Errorf("%w: invalid payment method %q", ErrValidation, raw)
}

// OrderItem is a line item snapshotted at checkout time. Title and UnitPrice
// come from the catalog at the moment the order is created, not from the cart.
type OrderItem struct {
	BookID       string  `json:"book_id"`
	Title        string  `json:"title"`
	Quantity     int     `json:"quantity"`
	UnitPrice    float64 `json:"unit_price"`
	LineSubtotal float64 `json:"line_subtotal"`
}

type ShippingAddress struct {
	FullName    string `json:"full_name"`
	AddressLine string `json:"address_line"`
	City        string `json:"city"`
	PostalCode  string `json:"postal_code"`
	Country     string `json:"country"`
	Phone       string `json:"phone,omitempty"`
}

// Validate checks that every required field is non-empty. Phone is optional.
func (a ShippingAddress) Validate() error {
	required := []struct {
		name  string
		value string
	}{
		{"full_name", a.FullName},
		{"address_line", a.AddressLine},
		{"city", a.City},
		{"postal_code", a.PostalCode},
		{"country", a.Country},
	}
	for _, f := range required {
		if strings.TrimSpace(f.value) == "" {
			return fmt.Errorf("%w: shipping address field %s is required", ErrValidation, f.name)
		}
	}
	return nil
}

// Order is the immutable snapshot produced from a cart at checkout. Items is
// never empty, and GrandTotal = ItemsSubtotal + ShippingCost + Tax is always
// recomputed as a whole, never edited piecemeal.
type Order struct {
	ID             uuid.UUID       `json:"id"`
	OrderNumber    string          `json:"order_number"`
	OwnerID        string          `json:"owner_id"`
	Items          []OrderItem     `json:"items"`
	ItemsSubtotal  float64         `json:"items_subtotal"`
	ShippingCost   float64         `json:"shipping_cost"`
	Tax            float64         `json:"tax"`
	GrandTotal     float64         `json:"grand_total"`
	Status         OrderStatus     `json:"status"`
	PaymentMethod  PaymentMethod   `json:"payment_method"`
	Shipping       ShippingAddress `json:"shipping_address"`
	IsPaid         bool            `json:"is_paid"`
	IsDelivered    bool            `json:"is_delivered"`
	PaidAt         *time.Time      `json:"paid_at,omitempty"`
	DeliveredAt    *time.Time      `json:"delivered_at,omitempty"`
	CancelledAt    *time.Time      `json:"cancelled_at,omitempty"`
	IdempotencyKey string          `json:"-"`
	CreatedAt      time.Time       `json:"created_at"`
	UpdatedAt      time.Time       `json:"updated_at"`
}
