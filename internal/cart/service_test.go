package cart

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ArtemMasharipov/go-bookstore/internal/cache"
	"github.com/ArtemMasharipov/go-bookstore/internal/catalog"
	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
	"github.com/ArtemMasharipov/go-bookstore/internal/repository"
)

// mockCartRepo keeps the same version-check contract as the MongoDB
// implementation so concurrency tests exercise the real retry paths.
type mockCartRepo struct {
	mu       sync.Mutex
	carts    map[string]*domain.Cart
	getCalls int
	err      error
}

func newMockCartRepo() *mockCartRepo {
	return &mockCartRepo{carts: make(map[string]*domain.Cart)}
}

func copyCart(cart *domain.Cart) *domain.Cart {
	cp := *cart
	cp.Items = make([]domain.CartItem, len(cart.Items))
	copy(cp.Items, cart.Items)
	return &cp
}

func (m *mockCartRepo) GetCart(_ context.Context, ownerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getCalls++
	if m.err != nil {
		return nil, m.err
	}
	cart, ok := m.carts[ownerID]
	if !ok {
		return nil, repository.ErrCartNotFound
	}
	return copyCart(cart), nil
}

func (m *mockCartRepo) ReplaceCart(_ context.Context, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}

	stored, exists := m.carts[cart.OwnerID]
	if cart.Version == 0 {
		if exists {
			return repository.ErrVersionConflict
		}
		cart.Version = 1
		m.carts[cart.OwnerID] = copyCart(cart)
		return nil
	}
	if !exists || stored.Version != cart.Version {
		return repository.ErrVersionConflict
	}
	cart.Version++
	m.carts[cart.OwnerID] = copyCart(cart)
	return nil
}

func (m *mockCartRepo) ClearCart(_ context.Context, ownerID string, version int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return m.err
	}
	stored, exists := m.carts[ownerID]
	if !exists || stored.Version != version {
		return repository.ErrVersionConflict
	}
	stored.Items = []domain.CartItem{}
	stored.TotalQuantity = 0
	stored.TotalPrice = 0
	stored.Version++
	return nil
}

func (m *mockCartRepo) seed(cart *domain.Cart) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if cart.Version == 0 {
		cart.Version = 1
	}
	m.carts[cart.OwnerID] = copyCart(cart)
}

func (m *mockCartRepo) stored(ownerID string) *domain.Cart {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.carts[ownerID]
	if !ok {
		return nil
	}
	return copyCart(cart)
}

type mockCache struct {
	mu      sync.Mutex
	entries map[string]*domain.Cart
	deletes int
	sets    int
}

func newMockCache() *mockCache {
	return &mockCache{entries: make(map[string]*domain.Cart)}
}

func (m *mockCache) Get(_ context.Context, ownerID string) (*domain.Cart, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cart, ok := m.entries[ownerID]
	if !ok {
		return nil, cache.ErrCacheMiss
	}
	return copyCart(cart), nil
}

func (m *mockCache) Set(_ context.Context, ownerID string, cart *domain.Cart) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sets++
	m.entries[ownerID] = copyCart(cart)
	return nil
}

func (m *mockCache) Delete(_ context.Context, ownerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deletes++
	delete(m.entries, ownerID)
	return nil
}

func (m *mockCache) setCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sets
}

type mockCatalog struct {
	mu    sync.Mutex
	books map[string]*catalog.Book
	err   error
}

func newMockCatalog(books ...*catalog.Book) *mockCatalog {
	m := &mockCatalog{books: make(map[string]*catalog.Book)}
	for _, b := range books {
		m.books[b.ID] = b
	}
	return m
}

func (m *mockCatalog) GetBook(_ context.Context, bookID string) (*catalog.Book, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.err != nil {
		return nil, m.err
	}
	book, ok := m.books[bookID]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *book
	return &cp, nil
}

func newTestService(repo *mockCartRepo, cch *mockCache, cat *mockCatalog) *Service {
	return NewService(repo, cch, cat)
}

func TestAddItem_NewBook(t *testing.T) {
	repo := newMockCartRepo()
	cat := newMockCatalog(&catalog.Book{ID: "b1", Title: "Dune", Price: 15.99, InStock: true})
	svc := newTestService(repo, newMockCache(), cat)

	cart, err := svc.AddItem(context.Background(), "owner-1", "b1", 2)

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "Dune", cart.Items[0].Title)
	assert.Equal(t, 2, cart.Items[0].Quantity)
	assert.Equal(t, 15.99, cart.Items[0].UnitPrice)
	assert.Equal(t, 2, cart.TotalQuantity)
	assert.Equal(t, 31.98, cart.TotalPrice)
	assert.False(t, cart.Items[0].AddedAt.IsZero())

	stored := repo.stored("owner-1")
	require.NotNil(t, stored)
	assert.Equal(t, int64(1), stored.Version)
}

func TestAddItem_ExistingSumsQuantityAndRefreshesPrice(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Title: "Dune", Quantity: 2, UnitPrice: 10.00}}
	existing.Recompute()
	repo.seed(existing)

	cat := newMockCatalog(&catalog.Book{ID: "b1", Title: "Dune", Price: 12.00, InStock: true})
	svc := newTestService(repo, newMockCache(), cat)

	cart, err := svc.AddItem(context.Background(), "owner-1", "b1", 3)

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, 12.00, cart.Items[0].UnitPrice)
	assert.Equal(t, 60.00, cart.TotalPrice)
}

func TestAddItem_QuantityLimit(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Title: "Dune", Quantity: 98, UnitPrice: 10.00}}
	existing.Recompute()
	repo.seed(existing)

	cat := newMockCatalog(&catalog.Book{ID: "b1", Title: "Dune", Price: 10.00, InStock: true})
	svc := newTestService(repo, newMockCache(), cat)

	_, err := svc.AddItem(context.Background(), "owner-1", "b1", 2)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrQuantityLimit)

	// cart untouched
	stored := repo.stored("owner-1")
	assert.Equal(t, 98, stored.Items[0].Quantity)
}

func TestAddItem_QuantityBounds(t *testing.T) {
	svc := newTestService(newMockCartRepo(), newMockCache(), newMockCatalog())

	_, err := svc.AddItem(context.Background(), "owner-1", "b1", 0)
	assert.ErrorIs(t, err, domain.ErrValidation)

	_, err = svc.AddItem(context.Background(), "owner-1", "b1", 100)
	assert.ErrorIs(t, err, domain.ErrValidation)
}

func TestAddItem_OutOfStock(t *testing.T) {
	cat := newMockCatalog(&catalog.Book{ID: "b1", Title: "Dune", Price: 10.00, InStock: false})
	svc := newTestService(newMockCartRepo(), newMockCache(), cat)

	_, err := svc.AddItem(context.Background(), "owner-1", "b1", 1)

	require.Error(t, err)
	assert.ErrorIs(t, err, domain.ErrOutOfStock)
	assert.Contains(t, err.Error(), "Dune")
}

func TestAddItem_UnknownBook(t *testing.T) {
	svc := newTestService(newMockCartRepo(), newMockCache(), newMockCatalog())

	_, err := svc.AddItem(context.Background(), "owner-1", "missing", 1)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

// Two concurrent adds of the same book must both land: the version check
// forces the loser to re-read and retry instead of overwriting.
func TestAddItem_ConcurrentAddsAreNotLost(t *testing.T) {
	repo := newMockCartRepo()
	cat := newMockCatalog(&catalog.Book{ID: "b1", Title: "Dune", Price: 10.00, InStock: true})
	svc := newTestService(repo, newMockCache(), cat)

	var wg sync.WaitGroup
	for i := 0; i < 2; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := svc.AddItem(context.Background(), "owner-1", "b1", 1)
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	stored := repo.stored("owner-1")
	require.NotNil(t, stored)
	require.Len(t, stored.Items, 1)
	assert.Equal(t, 2, stored.Items[0].Quantity)
	assert.Equal(t, 2, stored.TotalQuantity)
	assert.Equal(t, 20.00, stored.TotalPrice)
}

func TestUpdateItemQuantity(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Title: "Dune", Quantity: 2, UnitPrice: 10.00}}
	existing.Recompute()
	repo.seed(existing)

	svc := newTestService(repo, newMockCache(), newMockCatalog())

	cart, err := svc.UpdateItemQuantity(context.Background(), "owner-1", "b1", 7)

	require.NoError(t, err)
	assert.Equal(t, 7, cart.Items[0].Quantity)
	// quantity-only update keeps the stored price
	assert.Equal(t, 10.00, cart.Items[0].UnitPrice)
	assert.Equal(t, 70.00, cart.TotalPrice)
}

func TestUpdateItemQuantity_MissingItem(t *testing.T) {
	repo := newMockCartRepo()
	repo.seed(domain.NewCart("owner-1"))
	svc := newTestService(repo, newMockCache(), newMockCatalog())

	_, err := svc.UpdateItemQuantity(context.Background(), "owner-1", "b1", 2)

	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestRemoveItem(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{
		{BookID: "b1", Quantity: 1, UnitPrice: 5},
		{BookID: "b2", Quantity: 1, UnitPrice: 6},
	}
	existing.Recompute()
	repo.seed(existing)

	svc := newTestService(repo, newMockCache(), newMockCatalog())

	cart, err := svc.RemoveItem(context.Background(), "owner-1", "b1")
	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "b2", cart.Items[0].BookID)
	assert.Equal(t, 6.00, cart.TotalPrice)

	_, err = svc.RemoveItem(context.Background(), "owner-1", "b1")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestClear_IsIdempotent(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Quantity: 2, UnitPrice: 5}}
	existing.Recompute()
	repo.seed(existing)

	svc := newTestService(repo, newMockCache(), newMockCatalog())

	cart, err := svc.Clear(context.Background(), "owner-1")
	require.NoError(t, err)
	assert.Empty(t, cart.Items)
	assert.Equal(t, 0, cart.TotalQuantity)
	assert.Equal(t, 0.0, cart.TotalPrice)

	// clearing again, and clearing a cart that never existed, both succeed
	_, err = svc.Clear(context.Background(), "owner-1")
	require.NoError(t, err)
	_, err = svc.Clear(context.Background(), "owner-2")
	require.NoError(t, err)
}

func TestGetCart_CacheHit(t *testing.T) {
	repo := newMockCartRepo()
	cch := newMockCache()
	cached := domain.NewCart("owner-1")
	cached.Items = []domain.CartItem{{BookID: "b1", Quantity: 1, UnitPrice: 9}}
	cached.Recompute()
	require.NoError(t, cch.Set(context.Background(), "owner-1", cached))

	svc := newTestService(repo, cch, newMockCatalog())

	cart, err := svc.GetCart(context.Background(), "owner-1")

	require.NoError(t, err)
	assert.Equal(t, 9.00, cart.TotalPrice)
	repo.mu.Lock()
	assert.Equal(t, 0, repo.getCalls)
	repo.mu.Unlock()
}

func TestGetCart_MissingCartIsEmptyNotError(t *testing.T) {
	svc := newTestService(newMockCartRepo(), newMockCache(), newMockCatalog())

	cart, err := svc.GetCart(context.Background(), "owner-1")

	require.NoError(t, err)
	assert.Equal(t, "owner-1", cart.OwnerID)
	assert.Empty(t, cart.Items)
}

func TestGetCart_PopulatesCacheAfterMiss(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Quantity: 1, UnitPrice: 9}}
	existing.Recompute()
	repo.seed(existing)

	cch := newMockCache()
	svc := newTestService(repo, cch, newMockCatalog())

	_, err := svc.GetCart(context.Background(), "owner-1")
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return cch.setCount() == 1
	}, time.Second, 10*time.Millisecond, "cache should be populated asynchronously")
}

func TestMutate_InvalidatesCache(t *testing.T) {
	repo := newMockCartRepo()
	cch := newMockCache()
	stale := domain.NewCart("owner-1")
	require.NoError(t, cch.Set(context.Background(), "owner-1", stale))

	cat := newMockCatalog(&catalog.Book{ID: "b1", Title: "Dune", Price: 10, InStock: true})
	svc := newTestService(repo, cch, cat)

	_, err := svc.AddItem(context.Background(), "owner-1", "b1", 1)
	require.NoError(t, err)

	_, err = cch.Get(context.Background(), "owner-1")
	assert.ErrorIs(t, err, cache.ErrCacheMiss)
}

func TestMergeItems(t *testing.T) {
	existing := []domain.CartItem{
		{BookID: "b1", Title: "Dune", Quantity: 2, UnitPrice: 10},
	}
	guest := []domain.CartItem{
		{BookID: "b1", Quantity: 3, UnitPrice: 8},
		{BookID: "b2", Title: "Solaris", Quantity: 1, UnitPrice: 7},
		{BookID: "b3", Quantity: 0, UnitPrice: 5},
	}

	merged := MergeItems(existing, guest)

	require.Len(t, merged, 2)
	assert.Equal(t, 5, merged[0].Quantity)
	// server price wins for books already in the cart
	assert.Equal(t, 10.00, merged[0].UnitPrice)
	// unknown books carry the guest price until the next sync
	assert.Equal(t, "b2", merged[1].BookID)
	assert.Equal(t, 7.00, merged[1].UnitPrice)
}

func TestMergeItems_SumIsOrderIndependent(t *testing.T) {
	a := []domain.CartItem{{BookID: "b1", Quantity: 2, UnitPrice: 10}}
	b := []domain.CartItem{{BookID: "b1", Quantity: 3, UnitPrice: 10}}

	ab := MergeItems(a, b)
	ba := MergeItems(b, a)

	require.Len(t, ab, 1)
	require.Len(t, ba, 1)
	assert.Equal(t, ab[0].Quantity, ba[0].Quantity)
	assert.Equal(t, 5, ab[0].Quantity)
}

func TestMergeItems_CapsAtMaximum(t *testing.T) {
	existing := []domain.CartItem{{BookID: "b1", Quantity: 90, UnitPrice: 10}}
	guest := []domain.CartItem{{BookID: "b1", Quantity: 50, UnitPrice: 10}}

	merged := MergeItems(existing, guest)

	require.Len(t, merged, 1)
	assert.Equal(t, domain.MaxItemQuantity, merged[0].Quantity)
}

func TestMergeGuestCart_Persists(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Title: "Dune", Quantity: 1, UnitPrice: 10}}
	existing.Recompute()
	repo.seed(existing)

	svc := newTestService(repo, newMockCache(), newMockCatalog())

	cart, err := svc.MergeGuestCart(context.Background(), "owner-1", []domain.CartItem{
		{BookID: "b1", Quantity: 2, UnitPrice: 10},
		{BookID: "b2", Title: "Solaris", Quantity: 1, UnitPrice: 7},
	})

	require.NoError(t, err)
	require.Len(t, cart.Items, 2)
	assert.Equal(t, 3, cart.Items[0].Quantity)
	assert.Equal(t, 37.00, cart.TotalPrice)

	stored := repo.stored("owner-1")
	assert.Equal(t, 37.00, stored.TotalPrice)
}

func TestSyncCart(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "old", Title: "Stale", Quantity: 1, UnitPrice: 3}}
	existing.Recompute()
	repo.seed(existing)

	cat := newMockCatalog(
		&catalog.Book{ID: "b1", Title: "Dune", Price: 12.00, InStock: true},
		&catalog.Book{ID: "b2", Title: "Solaris", Price: 7.00, InStock: false},
	)
	svc := newTestService(repo, newMockCache(), cat)

	cart, err := svc.SyncCart(context.Background(), "owner-1", []SyncEntry{
		{BookID: "b1", Quantity: 2},
		{BookID: "b2", Quantity: 1}, // out of stock, dropped
		{BookID: "gone", Quantity: 1},
		{BookID: "b1", Quantity: 3}, // duplicate, summed
		{BookID: "b1", Quantity: 0}, // ignored
	})

	require.NoError(t, err)
	require.Len(t, cart.Items, 1)
	assert.Equal(t, "b1", cart.Items[0].BookID)
	assert.Equal(t, 5, cart.Items[0].Quantity)
	assert.Equal(t, 12.00, cart.Items[0].UnitPrice)
	assert.Equal(t, 60.00, cart.TotalPrice)
}

func TestClearAfterCheckout_StaleVersionRetries(t *testing.T) {
	repo := newMockCartRepo()
	existing := domain.NewCart("owner-1")
	existing.Items = []domain.CartItem{{BookID: "b1", Quantity: 1, UnitPrice: 10}}
	existing.Recompute()
	existing.Version = 3
	repo.seed(existing)

	svc := newTestService(repo, newMockCache(), newMockCatalog())

	// caller holds version 2, store moved on to 3
	err := svc.ClearAfterCheckout(context.Background(), "owner-1", 2)

	require.NoError(t, err)
	stored := repo.stored("owner-1")
	assert.Empty(t, stored.Items)
}

func TestClearAfterCheckout_MissingCartIsCleared(t *testing.T) {
	svc := newTestService(newMockCartRepo(), newMockCache(), newMockCatalog())

	err := svc.ClearAfterCheckout(context.Background(), "owner-1", 1)

	require.NoError(t, err)
}

func TestClearAfterCheckout_GivesUpAfterRepoFailure(t *testing.T) {
	repo := newMockCartRepo()
	repo.err = errors.New("mongo down")
	svc := newTestService(repo, newMockCache(), newMockCatalog())

	err := svc.ClearAfterCheckout(context.Background(), "owner-1", 1)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to clear cart after checkout")
}

// TotalPrice must always equal the sum of line subtotals after any mutation.
func TestTotalsInvariant(t *testing.T) {
	repo := newMockCartRepo()
	cat := newMockCatalog(
		&catalog.Book{ID: "b1", Title: "Dune", Price: 12.49, InStock: true},
		&catalog.Book{ID: "b2", Title: "Solaris", Price: 7.99, InStock: true},
	)
	svc := newTestService(repo, newMockCache(), cat)

	ctx := context.Background()
	_, err := svc.AddItem(ctx, "owner-1", "b1", 3)
	require.NoError(t, err)
	_, err = svc.AddItem(ctx, "owner-1", "b2", 2)
	require.NoError(t, err)
	cart, err := svc.UpdateItemQuantity(ctx, "owner-1", "b1", 1)
	require.NoError(t, err)

	var want float64
	var wantQty int
	for _, item := range cart.Items {
		want += item.UnitPrice * float64(item.Quantity)
		wantQty += item.Quantity
	}
	assert.Equal(t, domain.Round2(want), cart.TotalPrice)
	assert.Equal(t, wantQty, cart.TotalQuantity)
}
