package domain

import "time"

// PriceLevel is one level of an order book: a price and the volume resting
// at that price.
type PriceLevel struct {
	Price  float64
	Volume float64
}

// Quote is a snapshot of one venue's market: top of book plus the depth
// levels it was derived from. Bids are expected best-first (descending
// price) and asks best-first (ascending price); consumers that walk the
// book re-sort before walking.
type Quote struct {
	Bid       float64
	Ask       float64
	Bids      []PriceLevel
	Asks      []PriceLevel
	Timestamp time.Time
}

// HasPrices reports whether the quote carries a usable two-sided top of
// book. A zero on either side means the venue data is unusable for spread
// computation.
func (q *Quote) HasPrices() bool {
	return q != nil && q.Bid > 0 && q.Ask > 0
}
