package domain

import "time"

// EventType identifies an engine event published to consumers.
type EventType string

const (
	EventPositionOpened EventType = "position_opened"
	EventPositionClosed EventType = "position_closed"
	EventSpreadSample   EventType = "spread_sample"
)

// Event is one item on the engine's outbound event channel. Spread samples
// carry either an entry or exit observation; position events additionally
// carry the position id and, on close, the final PnL.
type Event struct {
	Type       EventType
	Time       time.Time
	Direction  Direction
	Spread     float64
	Entry      bool
	PositionID string
	PnL        *PnLBreakdown
}
