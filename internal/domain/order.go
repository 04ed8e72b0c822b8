package domain

import "time"

// Order is a marketable order to be submitted to one venue's execution
// port. Contracts is the unit size; both legs of a pair carry the same
// size.
type Order struct {
	Venue             string
	Symbol            string
	Side              OrderSide
	Contracts         float64
	EstimatedSlippage float64
}

// OrderFill is the realized result of one executed leg.
type OrderFill struct {
	OrderID   string
	Venue     string
	Symbol    string
	Side      OrderSide
	Contracts float64
	Price     float64
	Fee       float64
	Timestamp time.Time
}

// PairResult classifies the joint outcome of a matched buy+sell
// submission. The system cannot make the pair atomic across two
// independent venues; RequiresManualIntervention marks the one severe
// case where the buy leg filled and the sell leg did not.
type PairResult struct {
	Success                    bool
	Tag                        string
	Buy                        *OrderFill
	Sell                       *OrderFill
	Error                      string
	RequiresManualIntervention bool
}
