package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/ArtemMasharipov/go-bookstore/internal/cart"
	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
	"github.com/ArtemMasharipov/go-bookstore/internal/pricing"
)

// CartService is the slice of the cart store the handlers call.
type CartService interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	AddItem(ctx context.Context, ownerID, bookID string, quantity int) (*domain.Cart, error)
	UpdateItemQuantity(ctx context.Context, ownerID, bookID string, quantity int) (*domain.Cart, error)
	RemoveItem(ctx context.Context, ownerID, bookID string) (*domain.Cart, error)
	Clear(ctx context.Context, ownerID string) (*domain.Cart, error)
	MergeGuestCart(ctx context.Context, ownerID string, guestItems []domain.CartItem) (*domain.Cart, error)
	SyncCart(ctx context.Context, ownerID string, entries []cart.SyncEntry) (*domain.Cart, error)
}

type PriceSynchronizer interface {
	Reconcile(ctx context.Context, ownerID string) (*pricing.Report, *domain.Cart, error)
	ValidateForCheckout(ctx context.Context, ownerID string) (*pricing.Verdict, error)
}

type CartHandler struct {
	carts   CartService
	pricing PriceSynchronizer
	timeout time.Duration
}

func NewCartHandler(carts CartService, pricing PriceSynchronizer, timeout time.Duration) *CartHandler {
	return &CartHandler{
		carts:   carts,
		pricing: pricing,
		timeout: timeout,
	}
}

type addItemRequest struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

type updateQuantityRequest struct {
	Quantity int `json:"quantity"`
}

type guestItemRequest struct {
	BookID    string  `json:"book_id"`
	Title     string  `json:"title"`
	Quantity  int     `json:"quantity"`
	UnitPrice float64 `json:"unit_price"`
}

func (h *CartHandler) GetCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := h.carts.GetCart(ctx, ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) AddItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req addItemRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}
	if req.BookID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "book_id is required")
		return
	}

	cart, err := h.carts.AddItem(ctx, ownerID, req.BookID, req.Quantity)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusCreated, cart)
}

func (h *CartHandler) UpdateQuantity(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	bookID := chi.URLParam(r, "book_id")
	if bookID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "book_id is required")
		return
	}

	var req updateQuantityRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := h.carts.UpdateItemQuantity(ctx, ownerID, bookID, req.Quantity)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) RemoveItem(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	bookID := chi.URLParam(r, "book_id")
	if bookID == "" {
		respondError(w, http.StatusBadRequest, "invalid_request", "book_id is required")
		return
	}

	cart, err := h.carts.RemoveItem(ctx, ownerID, bookID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) ClearCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	cart, err := h.carts.Clear(ctx, ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

// MergeGuestCart reconciles the items a client accumulated before logging in.
// The client clears its local copy after a successful merge.
func (h *CartHandler) MergeGuestCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req struct {
		Items []guestItemRequest `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	guestItems := make([]domain.CartItem, 0, len(req.Items))
	for _, item := range req.Items {
		guestItems = append(guestItems, domain.CartItem{
			BookID:    item.BookID,
			Title:     item.Title,
			Quantity:  item.Quantity,
			UnitPrice: item.UnitPrice,
		})
	}

	cart, err := h.carts.MergeGuestCart(ctx, ownerID, guestItems)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

// SyncCart replaces the server cart with a re-validated offline-accumulated
// item list.
func (h *CartHandler) SyncCart(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	var req struct {
		Items []cart.SyncEntry `json:"items"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		respondError(w, http.StatusBadRequest, "invalid_request", "invalid JSON body")
		return
	}

	cart, err := h.carts.SyncCart(ctx, ownerID, req.Items)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, cart)
}

func (h *CartHandler) Reconcile(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	report, cart, err := h.pricing.Reconcile(ctx, ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"report": report,
		"cart":   cart,
	})
}

func (h *CartHandler) ValidateCheckout(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), h.timeout)
	defer cancel()

	ownerID := ownerIDFromContext(r.Context())
	if ownerID == "" {
		respondError(w, http.StatusUnauthorized, "unauthorized", "missing user authentication")
		return
	}

	verdict, err := h.pricing.ValidateForCheckout(ctx, ownerID)
	if err != nil {
		respondDomainError(w, err)
		return
	}

	respondJSON(w, http.StatusOK, verdict)
}
