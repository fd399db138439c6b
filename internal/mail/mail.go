package mail

import (
	"context"
	"fmt"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

// Sender delivers a single email. Implemented by the SendGrid client; tests
// swap in a recorder.
type Sender interface {
	Send(ctx context.Context, to, subject, htmlBody string) error
}

// OrderConfirmation renders the post-checkout confirmation message.
func OrderConfirmation(order *domain.Order) (subject, htmlBody string) {
	subject = fmt.Sprintf("Order confirmation %s", order.OrderNumber)

	body := fmt.Sprintf(
		"<strong>Thank you for your order!</strong><br><br>Order number: <strong>%s</strong><br><br><ul>",
		order.OrderNumber,
	)
	for _, item := range order.Items {
		body += fmt.Sprintf("<li>%s &times; %d — $%.2f</li>", item.Title, item.Quantity, item.LineSubtotal)
	}
	body += fmt.Sprintf(
		"</ul>Subtotal: $%.2f<br>Shipping: $%.2f<br>Tax: $%.2f<br><strong>Total: $%.2f</strong><br><br>Payment method: %s",
		order.ItemsSubtotal,
		order.ShippingCost,
		order.Tax,
		order.GrandTotal,
		order.PaymentMethod,
	)

	return subject, body
}
