// Package orderbook provides pure functions over order-book snapshots:
// volume-weighted slippage for a given order size and transactable depth
// within a price band. Estimation must never block or fail the caller, so
// malformed input yields a fixed conservative default instead of an error.
package orderbook

import (
	"sort"

	"spreadarb/internal/domain"
)

// DefaultSlippage is returned when the book is empty or malformed: 0.1%.
const DefaultSlippage = 0.001

// slippageFloor absorbs float rounding from the weighted-average division.
// A clip filled entirely at the best level must report exactly zero.
const slippageFloor = 1e-12

// CalculateSlippage walks the liquidity-taking side of the book (asks for a
// buy, bids for a sell), fills amount level by level and compares the
// volume-weighted average fill price to the best price on that side. The
// result is a fraction, never negative. When the book holds less depth than
// amount, the remainder is priced at the worst available level.
func CalculateSlippage(q *domain.Quote, side domain.OrderSide, amount float64) float64 {
	if q == nil || (len(q.Bids) == 0 && len(q.Asks) == 0) {
		return DefaultSlippage
	}

	if side == domain.Buy {
		if len(q.Asks) == 0 {
			return DefaultSlippage
		}
		levels := sortedLevels(q.Asks, false)
		best := levels[0].Price
		avg := averageFillPrice(levels, amount)
		if avg > 0 && best > 0 {
			s := avg/best - 1
			if s < slippageFloor {
				return 0
			}
			return s
		}
		return DefaultSlippage
	}

	if len(q.Bids) == 0 {
		return DefaultSlippage
	}
	levels := sortedLevels(q.Bids, true)
	best := levels[0].Price
	avg := averageFillPrice(levels, amount)
	if avg > 0 && best > 0 {
		s := 1 - avg/best
		if s < slippageFloor {
			return 0
		}
		return s
	}
	return DefaultSlippage
}

// averageFillPrice consumes levels in order until amount is filled and
// returns the volume-weighted price. Any unfilled remainder is priced at
// the last level.
func averageFillPrice(levels []domain.PriceLevel, amount float64) float64 {
	if len(levels) == 0 || amount <= 0 {
		return 0
	}

	remaining := amount
	totalCost := 0.0
	for _, lvl := range levels {
		if remaining <= 0 {
			break
		}
		take := lvl.Volume
		if take > remaining {
			take = remaining
		}
		totalCost += lvl.Price * take
		remaining -= take
	}
	if remaining > 0 {
		totalCost += levels[len(levels)-1].Price * remaining
	}
	return totalCost / amount
}

// sortedLevels returns a copy of levels sorted best-first: ascending price
// for asks, descending for bids.
func sortedLevels(levels []domain.PriceLevel, descending bool) []domain.PriceLevel {
	out := make([]domain.PriceLevel, len(levels))
	copy(out, levels)
	sort.Slice(out, func(i, j int) bool {
		if descending {
			return out[i].Price > out[j].Price
		}
		return out[i].Price < out[j].Price
	})
	return out
}

// DepthEstimate reports how much volume is transactable on each side
// without moving price beyond a band. Diagnostics only; never used for
// gating.
type DepthEstimate struct {
	BuyVolume  float64
	SellVolume float64
	// Volume transactable within a fixed 0.1% band, kept separately so the
	// status display can show both the requested band and the tight one.
	BuyVolumeTight  float64
	SellVolumeTight float64
}

// EstimateMarketDepth sums volume on each side while price stays within
// priceMovePercent of the best level.
func EstimateMarketDepth(q *domain.Quote, priceMovePercent float64) DepthEstimate {
	var est DepthEstimate
	if q == nil {
		return est
	}

	if len(q.Asks) > 0 {
		asks := sortedLevels(q.Asks, false)
		best := asks[0].Price
		est.BuyVolume = volumeWithin(asks, best*(1+priceMovePercent/100), false)
		est.BuyVolumeTight = volumeWithin(asks, best*(1+0.1/100), false)
	}
	if len(q.Bids) > 0 {
		bids := sortedLevels(q.Bids, true)
		best := bids[0].Price
		est.SellVolume = volumeWithin(bids, best*(1-priceMovePercent/100), true)
		est.SellVolumeTight = volumeWithin(bids, best*(1-0.1/100), true)
	}
	return est
}

func volumeWithin(levels []domain.PriceLevel, limit float64, descending bool) float64 {
	total := 0.0
	for _, lvl := range levels {
		if descending {
			if lvl.Price < limit {
				break
			}
		} else if lvl.Price > limit {
			break
		}
		total += lvl.Volume
	}
	return total
}
