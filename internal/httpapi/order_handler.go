package httpapi

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
	"github.com/ArtemMasharipov/go-bookstore/internal/mail"
	"github.com/ArtemMasharipov/go-bookstore/internal/order"

	"github.com/go-chi/chi/v5"
)

type OrderService interface {
	CreateOrder(ctx context.Context, in order.CreateOrderInput) (*domain.Order, error)
	GetOrder(ctx context.Context, ownerID string, id uuid.UUID) (*domain.Order, error)
	ListOrders(ctx context.Context, ownerID string) ([]*domain.Order, error)
}

type OrderStatusService interface {
	Transition(ctx context.Context, id uuid.UUID, target domain.OrderStatus) (*domain.Order, error)
	MarkPaid(ctx context.Context, id uuid.UUID) (*domain.Order, error)
	Cancel(ctx context.Context, id uuid.UUID) (*domain.Order, error)
}

type OrderHandler struct {
	orders  OrderService
	status  OrderStatusService
	mailer  mail.Sender
	timeout time.Duration
}

func NewOrderHandler(orders OrderService, status OrderStatusService, mailer mail.Sender, timeout time.Duration) *OrderHandler {
	return &OrderHandler{
		orders:  orders,
		status:  status,
		mailer:  mailer,
		timeout: timeout,
	}
}

type createOrderRequest struct {
	Shipping      domain.ShippingAddress `json:"shipping_address"`
	PaymentMethod string                 `json:"payment_method"`
}

type transitionRequest struct {
	Status string `json:"status"`
}

func (h *OrderHandler) CreateOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req createOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	created, err := h.orders.CreateOrder(ctx, order.CreateOrderInput{
		OwnerID:        ownerID,
		Shipping:       req.Shipping,
		PaymentMethod:  req.PaymentMethod,
		IdempotencyKey: r.Header.Get("Idempotency-Key"),
	})
	if err != nil {
		respondDomainError(w, err)
		return
	}

	h.sendConfirmation(r.Context(), created)

	respondJSON(w, http.StatusCreated, created)
}

// sendConfirmation is best-effort: a mail failure never fails the checkout.
func (h *OrderHandler) sendConfirmation(ctx context.Context, created *domain.Order) {
	if h.mailer == nil {
		return
	}
	email := ownerMailFromContext(ctx)
	if email == "" {
		return
	}

	subject, body := mail.OrderConfirmation(created)
	go func() {
		sendCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := h.mailer.Send(sendCtx, email, subject, body); err != nil {
			log.Printf("order confirmation mail failed for %s: %v", created.OrderNumber, err)
		}
	}()
}

func (h *OrderHandler) GetOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "order_id must be a UUID")
		return
	}

	found, err := h.orders.GetOrder(ctx, ownerID, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, found)
}

func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	orders, err := h.orders.ListOrders(ctx, ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}
	if orders == nil {
		orders = []*domain.Order{}
	}

	respondJSON(w, http.StatusOK, orders)
}

// authorizeOrder resolves the order id from the URL and verifies the caller
// owns it before any status change is attempted. Writes the error response
// and returns ok=false when the caller may not touch the order.
func (h *OrderHandler) authorizeOrder(ctx context.Context, w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return uuid.Nil, false
	}

	id, err := uuid.Parse(chi.URLParam(r, "order_id"))
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "order_id must be a UUID")
		return uuid.Nil, false
	}

	if _, err := h.orders.GetOrder(ctx, ownerID, id); err != nil {
		respondDomainError(w, err)
		return uuid.Nil, false
	}
	return id, true
}

func (h *OrderHandler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := h.authorizeOrder(ctx, w, r)
	if !ok {
		return
	}

	var req transitionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	target, err := domain.ParseOrderStatus(req.Status)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	updated, err := h.status.Transition(ctx, id, target)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) MarkPaid(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := h.authorizeOrder(ctx, w, r)
	if !ok {
		return
	}

	updated, err := h.status.MarkPaid(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}

func (h *OrderHandler) Cancel(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	id, ok := h.authorizeOrder(ctx, w, r)
	if !ok {
		return
	}

	updated, err := h.status.Cancel(ctx, id)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, updated)
}
