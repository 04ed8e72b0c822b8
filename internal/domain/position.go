package domain

import (
	"fmt"
	"time"
)

// maxSpreadHistory bounds the per-position spread history kept for
// diagnostics. The history is never used for trading decisions.
const maxSpreadHistory = 100

// ShouldCloseEpsilon absorbs floating-point rounding when comparing the
// current exit spread against the exit target, in percentage points.
const ShouldCloseEpsilon = 0.001

// FeeBreakdown itemizes the taker fee charged on each of the four legs of a
// completed round trip.
type FeeBreakdown struct {
	EntryBuy  float64 `json:"entry_buy"`
	EntrySell float64 `json:"entry_sell"`
	ExitBuy   float64 `json:"exit_buy"`
	ExitSell  float64 `json:"exit_sell"`
}

// PnLBreakdown is the final accounting of a closed position. Gross excludes
// fees; Net is gross minus the four-leg fee total. Fees are applied only
// here; spread computation everywhere else stays gross.
type PnLBreakdown struct {
	Gross         float64      `json:"gross"`
	Fees          float64      `json:"fees"`
	Net           float64      `json:"net"`
	ReturnPercent float64      `json:"return_percent"`
	FeeBreakdown  FeeBreakdown `json:"fee_breakdown"`
}

// Position represents one open hedge: equal and opposite exposure on the
// two venues. All spreads stored here are gross percentages without fees.
type Position struct {
	ID            string       `json:"id"`
	Direction     Direction    `json:"direction"`
	EntryTime     time.Time    `json:"entry_time"`
	Contracts     float64      `json:"contracts"`
	EntryPrices   LegPrices    `json:"entry_prices"`
	EntrySpread   float64      `json:"entry_spread"`
	EntrySlippage SlippagePair `json:"entry_slippage"`

	// ExitTarget is the gross exit spread at or above which the position
	// should close. Fixed from configuration at creation; rewritten in
	// place (and re-persisted) if configuration changes while open.
	ExitTarget float64 `json:"exit_target"`

	Status            PositionStatus `json:"status"`
	CurrentExitSpread float64        `json:"current_exit_spread"`
	LastUpdateTime    time.Time      `json:"last_update_time"`
	SpreadHistory     []float64      `json:"spread_history"`
	UpdateCount       int            `json:"update_count"`

	// Terminal fields, set exactly once on close.
	ExitTime   *time.Time    `json:"exit_time,omitempty"`
	ExitReason string        `json:"exit_reason,omitempty"`
	ExitPrices *LegPrices    `json:"exit_prices,omitempty"`
	FinalPnL   *PnLBreakdown `json:"final_pnl,omitempty"`
}

// FormatPositionID renders a sequence number as the fixed-width position
// identifier used in the ledger and logs, e.g. pos_000123.
func FormatPositionID(seq int) string {
	return fmt.Sprintf("pos_%06d", seq)
}

// NewPosition creates an open position. The spread history is seeded with
// the entry spread so an open position always has at least one sample.
// CurrentExitSpread starts a full point below the exit target: only the
// monitoring step writes it, and until the first real observation arrives
// the position must never look closeable.
func NewPosition(seq int, direction Direction, contracts float64, entryPrices LegPrices, entrySpread float64, entrySlippage SlippagePair, exitTarget float64, now time.Time) *Position {
	return &Position{
		ID:                FormatPositionID(seq),
		Direction:         direction,
		EntryTime:         now,
		Contracts:         contracts,
		EntryPrices:       entryPrices,
		EntrySpread:       entrySpread,
		EntrySlippage:     entrySlippage,
		ExitTarget:        exitTarget,
		Status:            StatusOpen,
		CurrentExitSpread: exitTarget - 1.0,
		LastUpdateTime:    now,
		SpreadHistory:     []float64{entrySpread},
	}
}

// IsOpen checks if the position status is open.
func (p *Position) IsOpen() bool {
	return p.Status == StatusOpen
}

// UpdateExitSpread records a new gross exit spread observation. Only the
// monitoring step calls this; entry never touches the exit spread.
func (p *Position) UpdateExitSpread(spread float64, now time.Time) {
	p.CurrentExitSpread = spread
	p.LastUpdateTime = now
	p.SpreadHistory = append(p.SpreadHistory, spread)
	if len(p.SpreadHistory) > maxSpreadHistory {
		p.SpreadHistory = p.SpreadHistory[len(p.SpreadHistory)-maxSpreadHistory:]
	}
	p.UpdateCount++
}

// ShouldClose reports whether the current exit spread has reached the exit
// target. The boundary case CurrentExitSpread == ExitTarget closes.
func (p *Position) ShouldClose() bool {
	return p.CurrentExitSpread >= p.ExitTarget-ShouldCloseEpsilon
}

// Age returns how long the position has been (or was) held.
func (p *Position) Age(now time.Time) time.Duration {
	if p.ExitTime != nil {
		return p.ExitTime.Sub(p.EntryTime)
	}
	return now.Sub(p.EntryTime)
}
