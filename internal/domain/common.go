package domain

// OrderSide represents the side of an order (BUY or SELL).
type OrderSide string

const (
	Buy  OrderSide = "BUY"
	Sell OrderSide = "SELL"
)

// PositionStatus represents the status of an arbitrage position.
type PositionStatus string

const (
	StatusOpen   PositionStatus = "open"
	StatusClosed PositionStatus = "closed"
)

// SlippagePair holds the estimated fractional slippage for a marketable
// order of the configured clip size on each side of one venue's book.
type SlippagePair struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
}

// LegPrices holds the realized (or estimated) prices of the two legs of a
// hedge, always from the perspective of this system: the price paid on the
// buying venue and the price received on the selling venue.
type LegPrices struct {
	Buy  float64 `json:"buy"`
	Sell float64 `json:"sell"`
}
