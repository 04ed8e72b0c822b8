package utils

import (
	"encoding/csv"
	"os"
	"strconv"
	"time"

	"spreadarb/internal/domain"
)

// WriteTradesToCSV exports closed positions to a CSV file for offline
// analysis. Open positions in the input are skipped.
func WriteTradesToCSV(trades []*domain.Position, filename string) error {
	file, err := os.Create(filename)
	if err != nil {
		return err
	}
	defer file.Close()

	writer := csv.NewWriter(file)
	defer writer.Flush()

	writer.Write([]string{
		"position_id", "direction", "contracts",
		"entry_time", "exit_time", "exit_reason",
		"entry_buy_price", "entry_sell_price", "exit_buy_price", "exit_sell_price",
		"entry_spread_pct", "exit_spread_pct",
		"gross_pnl", "fees", "net_pnl", "return_pct",
	})

	for _, t := range trades {
		if t.ExitTime == nil || t.ExitPrices == nil || t.FinalPnL == nil {
			continue
		}
		writer.Write([]string{
			t.ID,
			string(t.Direction),
			formatFloat(t.Contracts),
			t.EntryTime.Format(time.RFC3339),
			t.ExitTime.Format(time.RFC3339),
			t.ExitReason,
			formatFloat(t.EntryPrices.Buy),
			formatFloat(t.EntryPrices.Sell),
			formatFloat(t.ExitPrices.Buy),
			formatFloat(t.ExitPrices.Sell),
			formatFloat(t.EntrySpread),
			formatFloat(t.CurrentExitSpread),
			formatFloat(t.FinalPnL.Gross),
			formatFloat(t.FinalPnL.Fees),
			formatFloat(t.FinalPnL.Net),
			formatFloat(t.FinalPnL.ReturnPercent),
		})
	}
	return writer.Error()
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
