package ports

import (
	"context"

	"spreadarb/internal/domain"
)

// MarketDataFeed is the per-venue market-data port. Implementations own the
// wire protocol for one venue and expose the latest order-book snapshot,
// a precomputed slippage estimate for the configured clip size, and a
// message-recency health signal.
type MarketDataFeed interface {
	// Name returns the venue name this feed serves (e.g. "bitget").
	Name() string

	// Connect establishes the market-data connection. It returns once the
	// connection is up or fails; it does not retry. Reconnection policy is
	// owned by the feed health manager.
	Connect(ctx context.Context) error

	// Disconnect tears the connection down. Safe to call when not connected.
	Disconnect() error

	// LatestQuote returns the most recent order-book snapshot, or false if
	// no quote has been received yet.
	LatestQuote() (*domain.Quote, bool)

	// EstimatedSlippage returns the slippage pair computed from the latest
	// book, or false if no estimate is available (callers fall back to the
	// configured market slippage).
	EstimatedSlippage() (domain.SlippagePair, bool)

	// IsHealthy reports whether the connection is up and data has arrived
	// within twice the heartbeat interval.
	IsHealthy() bool

	// OnDisconnect registers a callback invoked whenever the connection
	// drops. At most one callback is kept.
	OnDisconnect(fn func())
}
