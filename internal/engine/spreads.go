package engine

import (
	"spreadarb/internal/domain"
)

// SpreadData is one direction's fully-priced entry candidate: the gross
// spread in percent and the slippage-adjusted leg prices it was computed
// from.
type SpreadData struct {
	Direction    domain.Direction
	SpreadPct    float64
	BuyVenue     string
	SellVenue    string
	BuySymbol    string
	SellSymbol   string
	BuyPrice     float64
	SellPrice    float64
	BuySlippage  float64
	SellSlippage float64
}

// bookState is one venue's quote plus the slippage estimate to price
// market orders with.
type bookState struct {
	quote *domain.Quote
	slip  domain.SlippagePair
	ok    bool
}

// snapshotBooks reads both feeds once. A feed with no slippage estimate
// falls back to the configured market slippage on both sides.
func (e *Engine) snapshotBooks() (a, b bookState) {
	e.mu.Lock()
	fallback := e.params.MarketSlippage
	e.mu.Unlock()

	read := func(f MarketFeed) bookState {
		q, ok := f.Quote()
		if !ok || !q.HasPrices() {
			return bookState{}
		}
		slip, ok := f.Slippage()
		if !ok {
			slip = domain.SlippagePair{Buy: fallback, Sell: fallback}
		}
		return bookState{quote: q, slip: slip, ok: true}
	}
	return read(e.feedA), read(e.feedB)
}

// legVenues resolves which venue each entry leg executes on for a
// direction. A_TO_B buys on venue A and sells on venue B; the exit pair
// is always the mirror image.
func (e *Engine) legVenues(d domain.Direction) (buy, sell Venue) {
	e.mu.Lock()
	venueA, venueB := e.params.VenueA, e.params.VenueB
	e.mu.Unlock()
	if d == domain.AToB {
		return venueA, venueB
	}
	return venueB, venueA
}

// ComputeEntrySpreads prices both directions from the two books. The buy
// price is the ask inflated by buy-side slippage, the sell price the bid
// deflated by sell-side slippage, and the spread (sell/buy - 1) x 100.
// Missing or zero-priced data yields an empty map, never a partial one.
func (e *Engine) ComputeEntrySpreads(a, b bookState) map[domain.Direction]SpreadData {
	out := make(map[domain.Direction]SpreadData, len(domain.Directions))
	if !a.ok || !b.ok {
		return out
	}

	price := func(buyBook, sellBook bookState) (buyPrice, sellPrice float64) {
		return buyBook.quote.Ask * (1 + buyBook.slip.Buy), sellBook.quote.Bid * (1 - sellBook.slip.Sell)
	}

	for _, d := range domain.Directions {
		buyBook, sellBook := a, b
		buySlip, sellSlip := a.slip.Buy, b.slip.Sell
		if d == domain.BToA {
			buyBook, sellBook = b, a
			buySlip, sellSlip = b.slip.Buy, a.slip.Sell
		}
		buyPrice, sellPrice := price(buyBook, sellBook)
		if buyPrice <= 0 || sellPrice <= 0 {
			return map[domain.Direction]SpreadData{}
		}
		buyVenue, sellVenue := e.legVenues(d)
		out[d] = SpreadData{
			Direction:    d,
			SpreadPct:    (sellPrice/buyPrice - 1) * 100,
			BuyVenue:     buyVenue.Name,
			SellVenue:    sellVenue.Name,
			BuySymbol:    buyVenue.Symbol,
			SellSymbol:   sellVenue.Symbol,
			BuyPrice:     buyPrice,
			SellPrice:    sellPrice,
			BuySlippage:  buySlip,
			SellSlippage: sellSlip,
		}
	}
	return out
}

// ComputeExitSpread prices the unwind of one position: the same spread
// formula with the legs reversed relative to the entry direction. Missing
// data returns the position's previous exit spread unchanged, so stale
// books can never produce a false close signal.
func (e *Engine) ComputeExitSpread(pos *domain.Position, a, b bookState) float64 {
	if !a.ok || !b.ok {
		return pos.CurrentExitSpread
	}

	// Exit of A_TO_B buys back on B and sells on A.
	buyBook, sellBook := b, a
	if pos.Direction == domain.BToA {
		buyBook, sellBook = a, b
	}
	buyPrice := buyBook.quote.Ask * (1 + buyBook.slip.Buy)
	sellPrice := sellBook.quote.Bid * (1 - sellBook.slip.Sell)
	if buyPrice <= 0 || sellPrice <= 0 {
		return pos.CurrentExitSpread
	}
	return (sellPrice/buyPrice - 1) * 100
}

// updateMarketExitSpreads keeps the exit signal warm for both directions
// even with no open position, so a freshly-opened position sees a
// meaningful exit spread immediately. Missing data keeps the previous
// value.
func (e *Engine) updateMarketExitSpreads(a, b bookState) {
	if !a.ok || !b.ok {
		return
	}
	now := e.now()

	for _, d := range domain.Directions {
		// Exit of direction d prices the mirror legs.
		buyBook, sellBook := b, a
		if d == domain.BToA {
			buyBook, sellBook = a, b
		}
		buyPrice := buyBook.quote.Ask * (1 + buyBook.slip.Buy)
		sellPrice := sellBook.quote.Bid * (1 - sellBook.slip.Sell)
		if buyPrice <= 0 || sellPrice <= 0 {
			continue
		}
		spread := (sellPrice/buyPrice - 1) * 100

		e.mu.Lock()
		e.marketExitSpreads[d] = spread
		e.mu.Unlock()

		e.publish(domain.Event{
			Type:      domain.EventSpreadSample,
			Time:      now,
			Direction: d,
			Spread:    spread,
			Entry:     false,
		})
	}
}
