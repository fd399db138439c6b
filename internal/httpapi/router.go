package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// NewRouter wires the API surface: six cart operations, the two price
// synchronizer operations, checkout, and the order status operations.
func NewRouter(cartHandler *CartHandler, orderHandler *OrderHandler, jwtSecret []byte, requestTimeout time.Duration) chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(middleware.RequestID)
	r.Use(RequestIDMiddleware)
	r.Use(middleware.Timeout(requestTimeout))
	r.Use(middleware.Compress(5))

	// Health check
	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(AuthMiddleware(jwtSecret))

		r.Route("/cart", func(r chi.Router) {
			r.Get("/", cartHandler.GetCart)
			r.Delete("/", cartHandler.ClearCart)
			r.Post("/items", cartHandler.AddItem)
			r.Put("/items/{book_id}", cartHandler.UpdateQuantity)
			r.Delete("/items/{book_id}", cartHandler.RemoveItem)
			r.Post("/merge", cartHandler.MergeGuestCart)
			r.Put("/sync", cartHandler.SyncCart)
			r.Post("/reconcile", cartHandler.Reconcile)
			r.Get("/validate", cartHandler.ValidateCheckout)
		})

		r.Route("/orders", func(r chi.Router) {
			r.Post("/", orderHandler.CreateOrder)
			r.Get("/", orderHandler.ListOrders)
			r.Get("/{order_id}", orderHandler.GetOrder)
			r.Post("/{order_id}/status", orderHandler.UpdateStatus)
			r.Post("/{order_id}/pay", orderHandler.MarkPaid)
			r.Post("/{order_id}/cancel", orderHandler.Cancel)
		})
	})

	return r
}
