// Package analytics summarizes closed-trade performance.
package analytics

import (
	"sort"
	"time"

	"spreadarb/internal/domain"
)

// PerformanceMetrics holds performance metrics over a set of closed
// trades.
type PerformanceMetrics struct {
	TotalTrades   int
	WinningTrades int
	LosingTrades  int
	WinRate       float64

	GrossPnL  float64
	TotalFees float64
	NetPnL    float64

	AverageWin   float64
	AverageLoss  float64
	ProfitFactor float64
	BestTrade    float64
	WorstTrade   float64

	MaxConsecutiveWins   int
	MaxConsecutiveLosses int
	// MaxDrawdown is the largest peak-to-trough drop of the cumulative
	// net PnL curve in entry-time order, reported as a positive number.
	MaxDrawdown     float64
	AverageHoldTime time.Duration

	TradesByDirection map[domain.Direction]int
	PnLByDirection    map[domain.Direction]float64
}

// AnalyzeTrades computes metrics from closed positions. Positions without
// final PnL are skipped.
func AnalyzeTrades(trades []*domain.Position) *PerformanceMetrics {
	m := &PerformanceMetrics{
		TradesByDirection: make(map[domain.Direction]int),
		PnLByDirection:    make(map[domain.Direction]float64),
	}
	if len(trades) == 0 {
		return m
	}

	sorted := make([]*domain.Position, 0, len(trades))
	for _, t := range trades {
		if t.FinalPnL != nil {
			sorted = append(sorted, t)
		}
	}
	sort.Slice(sorted, func(i, j int) bool {
		return sorted[i].EntryTime.Before(sorted[j].EntryTime)
	})

	var (
		sumWins, sumLosses       float64
		consecWins, consecLosses int
		totalHold                time.Duration
		cumulative, peak         float64
	)

	for i, t := range sorted {
		net := t.FinalPnL.Net
		m.TotalTrades++
		m.GrossPnL += t.FinalPnL.Gross
		m.TotalFees += t.FinalPnL.Fees
		m.NetPnL += net
		m.TradesByDirection[t.Direction]++
		m.PnLByDirection[t.Direction] += net

		if t.ExitTime != nil {
			totalHold += t.ExitTime.Sub(t.EntryTime)
		}
		if i == 0 || net > m.BestTrade {
			m.BestTrade = net
		}
		if i == 0 || net < m.WorstTrade {
			m.WorstTrade = net
		}

		if net > 0 {
			m.WinningTrades++
			sumWins += net
			consecWins++
			consecLosses = 0
		} else {
			m.LosingTrades++
			sumLosses += -net
			consecLosses++
			consecWins = 0
		}
		if consecWins > m.MaxConsecutiveWins {
			m.MaxConsecutiveWins = consecWins
		}
		if consecLosses > m.MaxConsecutiveLosses {
			m.MaxConsecutiveLosses = consecLosses
		}

		cumulative += net
		if cumulative > peak {
			peak = cumulative
		}
		if dd := peak - cumulative; dd > m.MaxDrawdown {
			m.MaxDrawdown = dd
		}
	}

	if m.TotalTrades > 0 {
		m.WinRate = float64(m.WinningTrades) / float64(m.TotalTrades) * 100
		m.AverageHoldTime = totalHold / time.Duration(m.TotalTrades)
	}
	if m.WinningTrades > 0 {
		m.AverageWin = sumWins / float64(m.WinningTrades)
	}
	if m.LosingTrades > 0 {
		m.AverageLoss = sumLosses / float64(m.LosingTrades)
	}
	if sumLosses > 0 {
		m.ProfitFactor = sumWins / sumLosses
	}
	return m
}
