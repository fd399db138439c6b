package catalog

import "context"

// Book is the slice of catalog data the cart and checkout paths care about.
// The catalog owns price and stock truth; everything downstream holds
// snapshots only.
type Book struct {
	ID      string
	Title   string
	Price   float64
	InStock bool
}

// Lookup resolves current price and stock for a book. Consumers define this
// interface, not the MongoDB implementation.
type Lookup interface {
	GetBook(ctx context.Context, bookID string) (*Book, error)
}
