package pricing

import (
	"context"
	"errors"

	"github.com/ArtemMasharipov/go-bookstore/internal/catalog"
	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

// Carts is the slice of the cart store the synchronizer needs. Satisfied by
// *cart.Service.
type Carts interface {
	GetCart(ctx context.Context, ownerID string) (*domain.Cart, error)
	GetCartForCheckout(ctx context.Context, ownerID string) (*domain.Cart, error)
	ReplaceItems(ctx context.Context, ownerID string, items []domain.CartItem) (*domain.Cart, error)
}

type PriceChange struct {
	BookID   string  `json:"book_id"`
	Title    string  `json:"title"`
	OldPrice float64 `json:"old_price"`
	NewPrice float64 `json:"new_price"`
}

type RemovedItem struct {
	BookID string `json:"book_id"`
	Title  string `json:"title"`
}

// Report is the diff a reconcile pass produces. Callers surface it to the
// user before checkout; the reconcile itself is not silent.
type Report struct {
	PriceChanges      []PriceChange `json:"price_changes"`
	RemovedOutOfStock []RemovedItem `json:"removed_out_of_stock"`
}

func (r *Report) Clean() bool {
	return len(r.PriceChanges) == 0 && len(r.RemovedOutOfStock) == 0
}

const (
	IssueCartEmpty    = "cart_empty"
	IssueBookMissing  = "book_missing"
	IssueOutOfStock   = "out_of_stock"
	IssuePriceChanged = "price_changed"
)

type Issue struct {
	Kind     string  `json:"kind"`
	BookID   string  `json:"book_id,omitempty"`
	Title    string  `json:"title,omitempty"`
	OldPrice float64 `json:"old_price,omitempty"`
	NewPrice float64 `json:"new_price,omitempty"`
}

// Verdict is the non-destructive checkout pre-check result.
type Verdict struct {
	OK     bool    `json:"ok"`
	Issues []Issue `json:"issues"`
}

type Synchronizer struct {
	carts   Carts
	catalog catalog.Lookup
}

func NewSynchronizer(carts Carts, catalog catalog.Lookup) *Synchronizer {
	return &Synchronizer{
		carts:   carts,
		catalog: catalog,
	}
}

// Reconcile re-reads the catalog for every line item, removes items whose
// book is gone or out of stock, refreshes stale prices, and persists the
// result. The returned report describes exactly what changed.
//
// The cart is read straight from the store, not the cache; rewriting from a
// stale cached copy would drop writes that landed after the cache entry.
func (s *Synchronizer) Reconcile(ctx context.Context, ownerID string) (*Report, *domain.Cart, error) {
	cart, err := s.carts.GetCartForCheckout(ctx, ownerID)
	if err != nil {
		return nil, nil, err
	}

	report := &Report{
		PriceChanges:      []PriceChange{},
		RemovedOutOfStock: []RemovedItem{},
	}
	kept := make([]domain.CartItem, 0, len(cart.Items))

	for _, item := range cart.Items {
		book, err := s.catalog.GetBook(ctx, item.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			report.RemovedOutOfStock = append(report.RemovedOutOfStock, RemovedItem{
				BookID: item.BookID,
				Title:  item.Title,
			})
			continue
		}
		if err != nil {
			return nil, nil, err
		}
		if !book.InStock {
			report.RemovedOutOfStock = append(report.RemovedOutOfStock, RemovedItem{
				BookID: item.BookID,
				Title:  book.Title,
			})
			continue
		}

		if book.Price != item.UnitPrice {
			report.PriceChanges = append(report.PriceChanges, PriceChange{
				BookID:   item.BookID,
				Title:    book.Title,
				OldPrice: item.UnitPrice,
				NewPrice: book.Price,
			})
			item.UnitPrice = book.Price
		}
		item.Title = book.Title
		kept = append(kept, item)
	}

	if report.Clean() {
		return report, cart, nil
	}

	updated, err := s.carts.ReplaceItems(ctx, ownerID, kept)
	if err != nil {
		return nil, nil, err
	}
	return report, updated, nil
}

// ValidateForCheckout reports every discrepancy between the cart and the
// catalog without touching the cart, so the user sees what would change
// before committing.
func (s *Synchronizer) ValidateForCheckout(ctx context.Context, ownerID string) (*Verdict, error) {
	cart, err := s.carts.GetCart(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	verdict := &Verdict{Issues: []Issue{}}
	if len(cart.Items) == 0 {
		verdict.Issues = append(verdict.Issues, Issue{Kind: IssueCartEmpty})
		return verdict, nil
	}

	for _, item := range cart.Items {
		book, err := s.catalog.GetBook(ctx, item.BookID)
		if errors.Is(err, domain.ErrNotFound) {
			verdict.Issues = append(verdict.Issues, Issue{
				Kind:   IssueBookMissing,
				BookID: item.BookID,
				Title:  item.Title,
			})
			continue
		}
		if err != nil {
			return nil, err
		}
		if !book.InStock {
			verdict.Issues = append(verdict.Issues, Issue{
				Kind:   IssueOutOfStock,
				BookID: item.BookID,
				Title:  book.Title,
			})
			continue
		}
		if book.Price != item.UnitPrice {
			verdict.Issues = append(verdict.Issues, Issue{
				Kind:     IssuePriceChanged,
				BookID:   item.BookID,
				Title:    book.Title,
				OldPrice: item.UnitPrice,
				NewPrice: book.Price,
			})
		}
	}

	verdict.OK = len(verdict.Issues) == 0
	return verdict, nil
}
