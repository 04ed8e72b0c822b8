package ports

import (
	"context"

	"spreadarb/internal/domain"
)

// LedgerStore persists the position ledger. A failed save degrades the
// system to unpersisted operation; in-memory state stays authoritative.
type LedgerStore interface {
	// Load reads the persisted ledger. A missing file returns an empty
	// snapshot, not an error. Corrupt fields are resolved with documented
	// defaults rather than surfaced.
	Load(ctx context.Context) (*domain.LedgerSnapshot, error)
	// Save atomically replaces the persisted ledger.
	Save(ctx context.Context, snap *domain.LedgerSnapshot) error
}

// RiskStatsStore persists daily risk records, one per calendar date,
// overwritten in place.
type RiskStatsStore interface {
	// LoadDaily retrieves the record for a date. Returns nil, nil when no
	// record exists for that date.
	LoadDaily(ctx context.Context, date string) (*domain.DailyRiskStats, error)
	// SaveDaily inserts or replaces the record for its date.
	SaveDaily(ctx context.Context, stats *domain.DailyRiskStats) error
}

// TradeRepository records closed positions in the append-only trade
// history.
type TradeRepository interface {
	// RecordTrade appends a closed position to the history.
	RecordTrade(ctx context.Context, pos *domain.Position) error
	// FindRecent retrieves the most recent closed trades, newest first.
	FindRecent(ctx context.Context, limit int) ([]*domain.Position, error)
	// TotalNetPnL sums the net PnL over all recorded trades.
	TotalNetPnL(ctx context.Context) (float64, error)
}
