package domain

import "time"

// LedgerSnapshot is the persisted representation of the position ledger:
// the open positions, the running sequence counter, and the save
// timestamp. Restarts restore the counter so position ids never repeat
// within the life of the data directory.
type LedgerSnapshot struct {
	Positions       []*Position `json:"positions"`
	PositionCounter int         `json:"positionCounter"`
	LastSaved       time.Time   `json:"lastSaved"`
}

// DailyRiskStats is one calendar day's running risk record, persisted
// after every trade so a restart within the same day preserves the loss
// already accrued.
type DailyRiskStats struct {
	Date               string  `json:"date"`
	TotalLoss          float64 `json:"totalLoss"`
	TotalTrades        int     `json:"totalTrades"`
	MaxLossTrade       float64 `json:"maxLossTrade"`
	ConsecutiveLosses  int     `json:"consecutiveLosses"`
	RiskLevel          string  `json:"riskLevel"`
	DailyLimitExceeded bool    `json:"dailyLimitExceeded"`
}
