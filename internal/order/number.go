package order

import (
	"fmt"
	"time"
)

// formatOrderNumber renders the human-facing order number: date plus a
// 4-digit daily sequence, e.g. ORD-20260115-0007.
func formatOrderNumber(t time.Time, seq int) string {
	return fmt.Sprintf("ORD-%s-%04d", t.Format("20060102"), seq)
}

// dayBounds returns the [start, end) of the calendar day containing t.
func dayBounds(t time.Time) (time.Time, time.Time) {
	start := time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, t.Location())
	return start, start.AddDate(0, 0, 1)
}
