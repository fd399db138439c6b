package catalog

import (
	"context"
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/ArtemMasharipov/go-bookstore/internal/domain"
)

// BreakerLookup wraps a Lookup with a circuit breaker so a struggling catalog
// backend fails fast instead of stalling every cart mutation. A missing book
// is a domain outcome, not a backend failure, and does not trip the breaker.
type BreakerLookup struct {
	inner Lookup
	cb    *gobreaker.CircuitBreaker[*Book]
}

func NewBreakerLookup(inner Lookup) *BreakerLookup {
	settings := gobreaker.Settings{
		Name:        "catalog-lookup",
		MaxRequests: 3,
		Interval:    30 * time.Second,
		Timeout:     10 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, domain.ErrNotFound)
		},
	}
	return &BreakerLookup{
		inner: inner,
		cb:    gobreaker.NewCircuitBreaker[*Book](settings),
	}
}

func (b *BreakerLookup) GetBook(ctx context.Context, bookID string) (*Book, error) {
	return b.cb.Execute(func() (*Book, error) {
		return b.inner.GetBook(ctx, bookID)
	})
}
