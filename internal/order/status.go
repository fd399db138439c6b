package order

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
	"github.com/ArtemMasharipov/go-bookstore/internal/repository"
)

// statusAttempts bounds retries when two writers race on the same order; the
// guarded UPDATE in the repository is the arbiter.
const statusAttempts = 3

// StatusService drives an order through the allowed transition graph. Any
// edge not in the table is rejected.
type StatusService struct {
	orders OrderStore
	now    func() time.Time
}

func NewStatusService(orders OrderStore) *StatusService {
	return &StatusService{
		orders: orders,
		now:    time.Now,
	}
}

// Transition applies status = target if the edge is allowed, setting the
// delivered/cancelled side effects on the way.
func (s *StatusService) Transition(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error) {
	return s.update(ctx, id, func(order *domain.Order) error {
		return s.applyStatus(order, target)
	})
}

// MarkPaid records payment. A pending order is bumped to processing; a
// processing or shipped order only gets its paid flags set. Terminal orders
// and double payments are rejected.
func (s *StatusService) MarkPaid(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, id, func(order *domain.Order) error {
		if order.Status.IsTerminal() {
			return fmt.Errorf("%w: cannot record payment on a %s order", domain.ErrValidation, order.Status)
		}
		if order.IsPaid {
			return fmt.Errorf("%w: order %s is already paid", domain.ErrValidation, order.OrderNumber)
		}

		now := s.now()
		order.IsPaid = true
		order.PaidAt = &now

		if order.Status == domain.OrderStatusPending {
			return s.applyStatus(order, domain.OrderStatusProcessing)
		}

		order.UpdatedAt = now
		return nil
	})
}

// Cancel is a guarded shortcut for Transition(cancelled). Cancelling a
// delivered order, or one already cancelled, is rejected loudly rather than
// absorbed, so double-cancel bugs surface at the caller.
func (s *StatusService) Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error) {
	return s.update(ctx, id, func(order *domain.Order) error {
		switch order.Status {
		case domain.OrderStatusDelivered:
			return fmt.Errorf("%w: cannot cancel a delivered order", domain.ErrValidation)
		case domain.OrderStatusCancelled:
			return fmt.Errorf("%w: order %s is already cancelled", domain.ErrValidation, order.OrderNumber)
		}
		return s.applyStatus(order, domain.OrderStatusCancelled)
	})
}

// update is the read-mutate-write loop every status change goes through. The
// write is guarded on the status the order was read with; if a concurrent
// writer moved the order in between, the change is re-decided against the
// fresh state instead of clobbering it.
func (s *StatusService) update(ctx context.Context, id uuid.UUID, fn func(order *domain.Order) error) (*domain.Order, error) {
	for attempt := 0; attempt < statusAttempts; attempt++ {
		order, err := s.orders.GetOrderByID(ctx, id)
		if err != nil {
			return nil, err
		}
		from := order.Status

		if err := fn(order); err != nil {
			return nil, err
		}

		err = s.orders.UpdateOrderStatus(ctx, order, from)
		if err == nil {
			return order, nil
		}
		if errors.Is(err, repository.ErrOrderConflict) {
			continue
		}
		return nil, err
	}
	return nil, fmt.Errorf("failed to update order %s: %w", id, repository.ErrOrderConflict)
}

// applyStatus validates the edge and mutates the order in memory; persisting
// is the update loop's job.
func (s *StatusService) applyStatus(order *domain.Order, target domain.OrderStatus) error {
	if !domain.CanTransitionTo(order.Status, target) {
		return fmt.Errorf("%w: %s -> %s", domain.ErrInvalidTransition, order.Status, target)
	}

	now := s.now()
	order.Status = target
	order.UpdatedAt = now

	switch target {
	case domain.OrderStatusDelivered:
		order.IsDelivered = true
		order.DeliveredAt = &now
	case domain.OrderStatusCancelled:
		order.CancelledAt = &now
	}

	return nil
}
