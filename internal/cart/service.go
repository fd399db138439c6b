package cart

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/ArtemMasharipov/go-bookstore/internal/cache"
	"github.com/ArtemMasharipov/go-bookstore/internal/catalog"
	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
	"github.com/ArtemMasharipov/go-bookstore/internal/repository"
)

// casAttempts bounds the optimistic-concurrency retry loop. Conflicts only
// happen when two writers race the same owner's cart, so a handful of
// attempts is plenty.
const casAttempts = 5

// clearAttempts bounds the compensating cart-clear after checkout.
const clearAttempts = 5

type Service struct {
	repo    repository.CartRepository
	cache   cache.CartCache
	catalog catalog.Lookup
	sfg     singleflight.Group // collapses concurrent reads per owner
}

func NewService(repo repository.CartRepository, cache cache.CartCache, catalog catalog.Lookup) *Service {
	return &Service{
		repo:    repo,
		cache:   cache,
		catalog: catalog,
	}
}

// GetCart returns the owner's cart, cache-aside. A missing cart is not an
// error: carts are created lazily, so the owner gets an empty one.
func (s *Service) GetCart(ctx context.Context, ownerID string) (*domain.Cart, error) {
	// A miss stampede would hit Mongo once per waiting reader; one flight
	// per owner key serves them all.
	v, err, _ := s.sfg.Do(ownerID, func() (interface{}, error) {
		cart, err := s.cache.Get(ctx, ownerID)
		if err == nil {
			return cart, nil
		}

		// a broken cache degrades reads to the repository, it does not fail them
		if !errors.Is(err, cache.ErrCacheMiss) {
			log.Printf("cache get error: %v", err)
		}

		cart, errGet := s.repo.GetCart(ctx, ownerID)
		if errGet != nil && errors.Is(errGet, repository.ErrCartNotFound) {
			return domain.NewCart(ownerID), nil
		}
		if errGet != nil {
			return nil, errGet
		}

		go func() {
			if errSet := s.cache.Set(context.Background(), ownerID, cart); errSet != nil {
				log.Printf("cache set error: %v", errSet)
			}
		}()

		return cart, nil
	})

	if err != nil {
		return nil, err
	}

	return v.(*domain.Cart), nil
}

// AddItem resolves the book against the catalog, then folds it into the cart:
// an existing line item gets its quantity summed (capped at 99) and its price
// refreshed, a new book is appended.
func (s *Service) AddItem(ctx context.Context, ownerID, bookID string, quantity int) (*domain.Cart, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	book, err := s.catalog.GetBook(ctx, bookID)
	if err != nil {
		return nil, err
	}
	if !book.InStock {
		return nil, fmt.Errorf("%q: %w", book.Title, domain.ErrOutOfStock)
	}

	return s.mutate(ctx, ownerID, func(cart *domain.Cart) error {
		if item := cart.Item(bookID); item != nil {
			if item.Quantity+quantity > domain.MaxItemQuantity {
				return fmt.Errorf("%w: at most %d of %q per cart",
					domain.ErrQuantityLimit, domain.MaxItemQuantity, book.Title)
			}
			item.Quantity += quantity
			item.UnitPrice = book.Price
			item.Title = book.Title
			return nil
		}
		cart.Items = append(cart.Items, domain.CartItem{
			BookID:    bookID,
			Title:     book.Title,
			Quantity:  quantity,
			UnitPrice: book.Price,
			AddedAt:   time.Now(),
		})
		return nil
	})
}

// UpdateItemQuantity is a quantity-only operation; it does not re-fetch the
// price.
func (s *Service) UpdateItemQuantity(ctx context.Context, ownerID, bookID string, quantity int) (*domain.Cart, error) {
	if err := validateQuantity(quantity); err != nil {
		return nil, err
	}

	return s.mutate(ctx, ownerID, func(cart *domain.Cart) error {
		item := cart.Item(bookID)
		if item == nil {
			return fmt.Errorf("cart item %s: %w", bookID, domain.ErrNotFound)
		}
		item.Quantity = quantity
		return nil
	})
}

func (s *Service) RemoveItem(ctx context.Context, ownerID, bookID string) (*domain.Cart, error) {
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) error {
		if !cart.RemoveItem(bookID) {
			return fmt.Errorf("cart item %s: %w", bookID, domain.ErrNotFound)
		}
		return nil
	})
}

// Clear empties the cart. Idempotent: clearing an empty or never-created cart
// succeeds.
func (s *Service) Clear(ctx context.Context, ownerID string) (*domain.Cart, error) {
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) error {
		cart.Items = []domain.CartItem{}
		return nil
	})
}

// MergeGuestCart folds a client-held guest item list into the server cart on
// login. Quantities for the same book are summed and capped; guest prices are
// provisional until the next sync. The merge is a pure reducer over the two
// lists, so retrying with the same guest list after the client cleared it
// cannot double-count.
func (s *Service) MergeGuestCart(ctx context.Context, ownerID string, guestItems []domain.CartItem) (*domain.Cart, error) {
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) error {
		cart.Items = MergeItems(cart.Items, guestItems)
		return nil
	})
}

// MergeItems merges guest line items into existing ones by book: matching
// books sum quantities (capped at 99), unknown books are inserted with their
// carried price. Guest entries with a non-positive quantity are ignored.
func MergeItems(existing, guest []domain.CartItem) []domain.CartItem {
	merged := make([]domain.CartItem, len(existing))
	copy(merged, existing)

	index := make(map[string]int, len(merged))
	for i, item := range merged {
		index[item.BookID] = i
	}

	for _, g := range guest {
		if g.Quantity < domain.MinItemQuantity {
			continue
		}
		if g.Quantity > domain.MaxItemQuantity {
			g.Quantity = domain.MaxItemQuantity
		}
		if i, ok := index[g.BookID]; ok {
			q := merged[i].Quantity + g.Quantity
			if q > domain.MaxItemQuantity {
				q = domain.MaxItemQuantity
			}
			merged[i].Quantity = q
			continue
		}
		if g.AddedAt.IsZero() {
			g.AddedAt = time.Now()
		}
		index[g.BookID] = len(merged)
		merged = append(merged, g)
	}

	return merged
}

// SyncEntry is one {book, quantity} pair from an offline-accumulated cart.
type SyncEntry struct {
	BookID   string `json:"book_id"`
	Quantity int    `json:"quantity"`
}

// SyncCart replaces the cart wholesale with the client's entries, re-validated
// against the catalog: entries whose book is gone or out of stock are dropped
// (the caller reports the delta to the user), the rest get current prices
// stamped.
func (s *Service) SyncCart(ctx context.Context, ownerID string, entries []SyncEntry) (*domain.Cart, error) {
	items := make([]domain.CartItem, 0, len(entries))
	seen := make(map[string]int, len(entries))

	for _, e := range entries {
		if e.Quantity < domain.MinItemQuantity {
			continue
		}
		if e.Quantity > domain.MaxItemQuantity {
			e.Quantity = domain.MaxItemQuantity
		}

		if i, ok := seen[e.BookID]; ok {
			q := items[i].Quantity + e.Quantity
			if q > domain.MaxItemQuantity {
				q = domain.MaxItemQuantity
			}
			items[i].Quantity = q
			continue
		}

		book, err := s.catalog.GetBook(ctx, e.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if !book.InStock {
			continue
		}

		seen[e.BookID] = len(items)
		items = append(items, domain.CartItem{
			BookID:    e.BookID,
			Title:     book.Title,
			Quantity:  e.Quantity,
			UnitPrice: book.Price,
			AddedAt:   time.Now(),
		})
	}

	return s.ReplaceItems(ctx, ownerID, items)
}

// ReplaceItems swaps the cart's item list wholesale. Used by SyncCart and by
// the price synchronizer after a reconcile pass.
func (s *Service) ReplaceItems(ctx context.Context, ownerID string, items []domain.CartItem) (*domain.Cart, error) {
	return s.mutate(ctx, ownerID, func(cart *domain.Cart) error {
		cart.Items = items
		return nil
	})
}

// GetCartForCheckout reads the cart straight from the repository, bypassing
// the cache: checkout must see the authoritative items and version.
func (s *Service) GetCartForCheckout(ctx context.Context, ownerID string) (*domain.Cart, error) {
	return s.loadForWrite(ctx, ownerID)
}

// ClearAfterCheckout is the compensating step of order creation: the order
// already exists, so the clear is retried until it lands. The version guard
// makes the first attempt cheap; on conflict the cart is re-read and cleared
// at its current version.
func (s *Service) ClearAfterCheckout(ctx context.Context, ownerID string, version int64) error {
	var lastErr error
	for attempt := 0; attempt < clearAttempts; attempt++ {
		err := s.repo.ClearCart(ctx, ownerID, version)
		if err == nil {
			s.invalidate(ownerID)
			return nil
		}
		lastErr = err

		if errors.Is(err, repository.ErrVersionConflict) {
			cart, getErr := s.repo.GetCart(ctx, ownerID)
			if errors.Is(getErr, repository.ErrCartNotFound) {
				return nil
			}
			if getErr != nil {
				lastErr = getErr
				continue
			}
			if len(cart.Items) == 0 {
				return nil
			}
			version = cart.Version
			continue
		}
	}
	return fmt.Errorf("failed to clear cart after checkout: %w", lastErr)
}

// mutate runs a read-modify-write cycle under the repository's optimistic
// version check, retrying on conflict, and recomputes the derived totals
// before every write.
func (s *Service) mutate(ctx context.Context, ownerID string, fn func(*domain.Cart) error) (*domain.Cart, error) {
	for attempt := 0; attempt < casAttempts; attempt++ {
		cart, err := s.loadForWrite(ctx, ownerID)
		if err != nil {
			return nil, err
		}

		if err := fn(cart); err != nil {
			return nil, err
		}
		cart.Recompute()

		err = s.repo.ReplaceCart(ctx, cart)
		if errors.Is(err, repository.ErrVersionConflict) {
			continue
		}
		if err != nil {
			return nil, err
		}

		s.invalidate(ownerID)
		return cart, nil
	}
	return nil, fmt.Errorf("cart update contention for owner %s", ownerID)
}

// loadForWrite always reads the repository, never the cache: a stale cached
// copy must not feed a write cycle.
func (s *Service) loadForWrite(ctx context.Context, ownerID string) (*domain.Cart, error) {
	cart, err := s.repo.GetCart(ctx, ownerID)
	if errors.Is(err, repository.ErrCartNotFound) {
		return domain.NewCart(ownerID), nil
	}
	if err != nil {
		return nil, err
	}
	return cart, nil
}

func (s *Service) invalidate(ownerID string) {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := s.cache.Delete(ctx, ownerID); err != nil {
		log.Printf("cache invalidate error: %v", err)
	}
}

func validateQuantity(quantity int) error {
	if quantity < domain.MinItemQuantity || quantity > domain.MaxItemQuantity {
		return fmt.Errorf("%w: quantity must be between %d and %d",
			domain.ErrValidation, domain.MinItemQuantity, domain.MaxItemQuantity)
	}
	return nil
}
