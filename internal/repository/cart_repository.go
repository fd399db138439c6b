package repository

import (
	"context"
	"errors"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

var (
	ErrCartNotFound    = errors.New("cart not found")
	ErrVersionConflict = errors.New("cart version conflict")
)

// CartRepository defines the interface for cart data operations.
// Consumers define this interface, not the MongoDB implementation.
//
// Writes are guarded by the cart's Version field: ReplaceCart and ClearCart
// only apply when the stored version still matches, so two racing
// read-modify-write cycles cannot lose an update.
type CartRepository interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	ReplaceCart(ctx context.Context, cart *domain.Cart) error
	ClearCart(ctx context.Context, ownerID string, version int64) error
}
