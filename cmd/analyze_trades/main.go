// Command analyze_trades prints a performance summary of the recorded
// trade history and optionally exports it to CSV.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"

	"spreadarb/internal/adapters/logger"
	"spreadarb/internal/adapters/sqlite"
	"spreadarb/internal/analytics"
	"spreadarb/internal/utils"
)

func main() {
	dbPath := flag.String("db", "./data/spreadarb.db", "Path to the trade history database")
	limit := flag.Int("limit", 1000, "Maximum number of recent trades to analyze")
	csvPath := flag.String("csv", "", "Optional path to export the analyzed trades as CSV")
	flag.Parse()

	ctx := context.Background()
	appLogger := logger.NewStdLogger(logger.LevelWarn)

	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: *dbPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("opening database: %v", err)
	}
	defer repo.Close()

	trades, err := repo.FindRecent(ctx, *limit)
	if err != nil {
		log.Fatalf("reading trade history: %v", err)
	}
	if len(trades) == 0 {
		fmt.Println("No trades recorded.")
		return
	}

	m := analytics.AnalyzeTrades(trades)
	fmt.Printf("Trades analyzed:      %d\n", m.TotalTrades)
	fmt.Printf("Winners / losers:     %d / %d (win rate %.1f%%)\n", m.WinningTrades, m.LosingTrades, m.WinRate)
	fmt.Printf("Gross PnL:            %.4f\n", m.GrossPnL)
	fmt.Printf("Total fees:           %.4f\n", m.TotalFees)
	fmt.Printf("Net PnL:              %.4f\n", m.NetPnL)
	fmt.Printf("Average win / loss:   %.4f / %.4f\n", m.AverageWin, m.AverageLoss)
	fmt.Printf("Profit factor:        %.2f\n", m.ProfitFactor)
	fmt.Printf("Best / worst trade:   %.4f / %.4f\n", m.BestTrade, m.WorstTrade)
	fmt.Printf("Max consec win/loss:  %d / %d\n", m.MaxConsecutiveWins, m.MaxConsecutiveLosses)
	fmt.Printf("Max drawdown:         %.4f\n", m.MaxDrawdown)
	fmt.Printf("Average hold time:    %s\n", m.AverageHoldTime)
	for dir, count := range m.TradesByDirection {
		fmt.Printf("  %s: %d trades, net %.4f\n", dir, count, m.PnLByDirection[dir])
	}

	totalNet, err := repo.TotalNetPnL(ctx)
	if err == nil {
		fmt.Printf("All-time net PnL:     %.4f\n", totalNet)
	}

	if *csvPath != "" {
		if err := utils.WriteTradesToCSV(trades, *csvPath); err != nil {
			log.Fatalf("exporting CSV: %v", err)
		}
		fmt.Printf("Exported %d trades to %s\n", len(trades), *csvPath)
	}
}
