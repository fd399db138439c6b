package domain

import "time"

const (
	MinItemQuantity = 1
	MaxItemQuantity = 99
)

type CartItem struct {
	BookID    string    `bson:"book_id" json:"book_id"`
	Title     string    `bson:"title" json:"title"`
	Quantity  int       `bson:"quantity" json:"quantity"`
	UnitPrice float64   `bson:"unit_price" json:"unit_price"`
	AddedAt   time.Time `bson:"added_at" json:"added_at"`
}

// Cart is the per-owner mutable collection of line items. TotalQuantity and
// TotalPrice are derived from Items; Recompute must run after every mutation.
// Version backs the optimistic concurrency check in the repository.
type Cart struct {
	ID            string     `bson:"_id,omitempty" json:"-"`
	OwnerID       string     `bson:"owner_id" json:"owner_id"`
	Items         []CartItem `bson:"items" json:"items"`
	TotalQuantity int        `bson:"total_quantity" json:"total_quantity"`
	TotalPrice    float64    `bson:"total_price" json:"total_price"`
	Version       int64      `bson:"version" json:"-"`
	CreatedAt     time.Time  `bson:"created_at" json:"created_at"`
	UpdatedAt     time.Time  `bson:"updated_at" json:"updated_at"`
}

// NewCart returns the lazily-created empty cart for an owner.
func NewCart(ownerID string) *Cart {
	now := time.Now()
	return &Cart{
		OwnerID:   ownerID,
		Items:     []CartItem{},
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// Recompute rebuilds the derived totals from the item list.
func (c *Cart) Recompute() {
	var qty int
	var price float64
	for _, item := range c.Items {
		qty += item.Quantity
		price += item.UnitPrice * float64(item.Quantity)
	}
	c.TotalQuantity = qty
	c.TotalPrice = Round2(price)
}

// Item returns a pointer into the item list for the given book, or nil.
func (c *Cart) Item(bookID string) *CartItem {
	for i := range c.Items {
		if c.Items[i].BookID == bookID {
			return &c.Items[i]
		}
	}
	return nil
}

// RemoveItem drops the line item for the given book. Reports whether the
// item was present.
func (c *Cart) RemoveItem(bookID string) bool {
	for i, item := range c.Items {
		if item.BookID == bookID {
			c.Items = append(c.Items[:i], c.Items[i+1:]...)
			return true
		}
	}
	return false
}
