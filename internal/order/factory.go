package order

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/ArtemMasharipov/go-bookstore/internal/catalog"
	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
	"github.com/ArtemMasharipov/go-bookstore/internal/repository"
)

const (
	freeShippingThreshold = 50.0
	flatShippingCost      = 10.0
	taxRate               = 0.10

	// numberAttempts bounds retries when two same-day checkouts race the
	// daily sequence; the unique index on order_number is the arbiter.
	numberAttempts = 3
)

// CartStore is the slice of the cart service checkout needs: an authoritative
// (uncached) read and the compensating post-checkout clear.
type CartStore interface {
	GetCartForCheckout(ctx context.Context, ownerID string) (*domain.Cart, error)
	ClearAfterCheckout(ctx context.Context, ownerID string, version int64) error
}

// OrderStore is defined here, consumer-side; implemented by the Postgres
// repository.
type OrderStore interface {
	CreateOrder(ctx context.Context, order *domain.Order) error
	GetOrderByID(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	GetOrderByIdempotencyKey(ctx context.Context, key string) (*domain.Order, error)
	ListOrdersByOwner(ctx context.Context, ownerID string) ([]*domain.Order, error)
	UpdateOrderStatus(ctx context.Context, order *domain.Order, from domain.OrderStatus) error
	CountOrdersCreatedBetween(ctx context.Context, from, to time.Time) (int, error)
}

type CreateOrderInput struct {
	OwnerID        string
	Shipping       domain.ShippingAddress
	PaymentMethod  string
	IdempotencyKey string
}

// Factory converts a validated, non-empty cart into an immutable order
// snapshot and clears the source cart as part of the same logical operation.
type Factory struct {
	carts   CartStore
	orders  OrderStore
	catalog catalog.Lookup
	locks   *ownerLocks
	now     func() time.Time
}

func NewFactory(carts CartStore, orders OrderStore, catalog catalog.Lookup) *Factory {
	return &Factory{
		carts:   carts,
		orders:  orders,
		catalog: catalog,
		locks:   newOwnerLocks(),
		now:     time.Now,
	}
}

// CreateOrder runs the whole checkout: validate input, re-verify every cart
// item against the catalog (aborting on the first violation rather than
// dropping it), snapshot items at current catalog prices, compute totals,
// allocate the daily order number, persist, and clear the cart.
//
// The cart read and clear are a per-owner critical section: of two concurrent
// checkouts the second finds an emptied cart and fails. A retried call with
// the same idempotency key returns the already-created order.
func (f *Factory) CreateOrder(ctx context.Context, in CreateOrderInput) (*domain.Order, error) {
	if err := in.Shipping.Validate(); err != nil {
		return nil, err
	}
	payment, err := domain.ParsePaymentMethod(in.PaymentMethod)
	if err != nil {
		return nil, err
	}
	idemKey := in.IdempotencyKey
	if idemKey == "" {
		idemKey = uuid.NewString()
	}

	unlock := f.locks.lock(in.OwnerID)
	defer unlock()

	existing, err := f.orders.GetOrderByIdempotencyKey(ctx, idemKey)
	if err != nil && !errors.Is(err, repository.ErrOrderNotFound) {
		return nil, fmt.Errorf("failed to check idempotency: %w", err)
	}
	if existing != nil {
		log.Printf("duplicate checkout detected idempotency_key=%s order=%s", idemKey, existing.OrderNumber)
		// A prior attempt may have persisted the order but failed the clear.
		// An order must never coexist with its populated source cart, so the
		// retry finishes the clear before returning.
		f.clearLeftoverCart(ctx, in.OwnerID, existing.OrderNumber)
		return existing, nil
	}

	cart, err := f.carts.GetCartForCheckout(ctx, in.OwnerID)
	if err != nil {
		return nil, err
	}
	if len(cart.Items) == 0 {
		return nil, fmt.Errorf("%w: cart is empty", domain.ErrValidation)
	}

	items, err := f.snapshotItems(ctx, cart)
	if err != nil {
		return nil, err
	}

	now := f.now()
	order := &domain.Order{
		ID:             uuid.New(),
		OwnerID:        in.OwnerID,
		Items:          items,
		Status:         domain.OrderStatusPending,
		PaymentMethod:  payment,
		Shipping:       in.Shipping,
		IdempotencyKey: idemKey,
		CreatedAt:      now,
		UpdatedAt:      now,
	}
	computeTotals(order)

	if err := f.persistWithNumber(ctx, order, now); err != nil {
		return nil, err
	}

	if err := f.carts.ClearAfterCheckout(ctx, in.OwnerID, cart.Version); err != nil {
		// The order exists; the clear must not be dropped silently.
		log.Printf("CART-CLEAR FAILED after order %s for owner %s: %v", order.OrderNumber, in.OwnerID, err)
	}

	return order, nil
}

// clearLeftoverCart re-reads the cart and retries the post-checkout clear if
// items survived an earlier failed attempt.
func (f *Factory) clearLeftoverCart(ctx context.Context, ownerID, orderNumber string) {
	cart, err := f.carts.GetCartForCheckout(ctx, ownerID)
	if err != nil {
		log.Printf("CART-CLEAR FAILED after order %s for owner %s: %v", orderNumber, ownerID, err)
		return
	}
	if len(cart.Items) == 0 {
		return
	}
	if err := f.carts.ClearAfterCheckout(ctx, ownerID, cart.Version); err != nil {
		log.Printf("CART-CLEAR FAILED after order %s for owner %s: %v", orderNumber, ownerID, err)
	}
}

// snapshotItems re-verifies every cart item and captures title and price from
// the catalog at this instant, not from the cart's possibly-stale snapshot.
func (f *Factory) snapshotItems(ctx context.Context, cart *domain.Cart) ([]domain.OrderItem, error) {
	items := make([]domain.OrderItem, 0, len(cart.Items))
	for _, ci := range cart.Items {
		book, err := f.catalog.GetBook(ctx, ci.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %q is no longer available", domain.ErrValidation, ci.Title)
		}
		if err != nil {
			return nil, err
		}
		if !book.InStock {
			return nil, fmt.Errorf("%w: %q is out of stock", domain.ErrValidation, book.Title)
		}

		items = append(items, domain.OrderItem{
			BookID:       ci.BookID,
			Title:        book.Title,
			Quantity:     ci.Quantity,
			UnitPrice:    book.Price,
			LineSubtotal: domain.Round2(book.Price * float64(ci.Quantity)),
		})
	}
	return items, nil
}

// computeTotals fills ItemsSubtotal, ShippingCost, Tax and GrandTotal as a
// unit; they are never edited piecemeal.
func computeTotals(order *domain.Order) {
	var subtotal float64
	for _, item := range order.Items {
		subtotal += item.LineSubtotal
	}
	order.ItemsSubtotal = domain.Round2(subtotal)

	if order.ItemsSubtotal >= freeShippingThreshold {
		order.ShippingCost = 0
	} else {
		order.ShippingCost = flatShippingCost
	}
	order.Tax = domain.Round2(order.ItemsSubtotal * taxRate)
	order.GrandTotal = domain.Round2(order.ItemsSubtotal + order.ShippingCost + order.Tax)
}

// persistWithNumber allocates the next ORD-YYYYMMDD-NNNN number and inserts
// the order, re-counting on an order-number collision.
func (f *Factory) persistWithNumber(ctx context.Context, order *domain.Order, now time.Time) error {
	from, to := dayBounds(now)

	for attempt := 0; attempt < numberAttempts; attempt++ {
		count, err := f.orders.CountOrdersCreatedBetween(ctx, from, to)
		if err != nil {
			return fmt.Errorf("failed to count today's orders: %w", err)
		}
		order.OrderNumber = formatOrderNumber(now, count+1)

		err = f.orders.CreateOrder(ctx, order)
		if err == nil {
			return nil
		}
		if errors.Is(err, repository.ErrOrderNumberTaken) {
			continue
		}
		return err
	}
	return fmt.Errorf("could not allocate a unique order number")
}

// GetOrder loads an order and checks ownership.
func (f *Factory) GetOrder(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Order, error) {
	order, err := f.orders.GetOrderByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if order.OwnerID != ownerID {
		return nil, repository.ErrOrderNotFound
	}
	return order, nil
}

func (f *Factory) ListOrders(ctx context.Context, ownerID string) ([]*domain.Order, error) {
	return f.orders.ListOrdersByOwner(ctx, ownerID)
}
