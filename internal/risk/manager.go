// Package risk gates position entries against daily-loss and sizing
// limits, and tracks per-day trading results.
package risk

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// capacityEpsilon absorbs float accumulation when summing clip sizes
// toward the position cap.
const capacityEpsilon = 1e-9

// Risk levels reported in the daily stats record.
const (
	LevelLow      = "LOW"
	LevelMedium   = "MEDIUM"
	LevelHigh     = "HIGH"
	LevelCritical = "CRITICAL"
)

// Limits holds the risk parameters. Spread values are percentages to
// match the engine's spread computation.
type Limits struct {
	MinEntrySpreadPct    float64
	MaxPositionContracts float64
	MinOrderContracts    float64
	MaxDailyLoss         float64
	MaxSlippage          float64
	SafetyMultiplier     float64
}

// Manager decides whether new entries are admitted and how large each
// incremental clip may be. Daily counters are mutated only through
// RecordResult and roll over at the calendar-date boundary.
type Manager struct {
	limits Limits
	store  ports.RiskStatsStore
	logger ports.Logger
	now    func() time.Time

	mu    sync.Mutex
	stats domain.DailyRiskStats
}

// New creates a risk manager and restores today's stats record if one
// exists. A nil store disables persistence but keeps limits enforced.
func New(ctx context.Context, limits Limits, store ports.RiskStatsStore, logger ports.Logger) (*Manager, error) {
	if logger == nil {
		return nil, ports.ErrConfigurationError
	}
	m := &Manager{
		limits: limits,
		store:  store,
		logger: logger,
		now:    time.Now,
	}
	m.stats = domain.DailyRiskStats{Date: m.today(), RiskLevel: LevelLow}

	if store != nil {
		rec, err := store.LoadDaily(ctx, m.stats.Date)
		if err != nil {
			// Persistence problems degrade to in-memory tracking.
			logger.Warn(ctx, "Failed to load daily risk stats, starting fresh", map[string]interface{}{"error": err.Error()})
		} else if rec != nil {
			m.stats = *rec
			logger.Info(ctx, "Restored daily risk stats", map[string]interface{}{
				"date": rec.Date, "totalLoss": rec.TotalLoss, "totalTrades": rec.TotalTrades,
				"dailyLimitExceeded": rec.DailyLimitExceeded,
			})
		}
	}
	return m, nil
}

func (m *Manager) today() string { return m.now().Format("2006-01-02") }

// rollover resets the counters when the calendar date changes.
// Caller must hold m.mu.
func (m *Manager) rollover(ctx context.Context) {
	today := m.today()
	if m.stats.Date == today {
		return
	}
	m.logger.Info(ctx, "Daily risk stats rollover", map[string]interface{}{
		"previousDate": m.stats.Date, "date": today,
	})
	m.stats = domain.DailyRiskStats{Date: today, RiskLevel: LevelLow}
}

// CanOpen runs the admission checks in fixed order and returns the first
// failing reason, or "OK". The daily-limit latch (check 2) persists for
// the rest of the day once tripped.
func (m *Manager) CanOpen(ctx context.Context, direction domain.Direction, spreadPct, price, currentContracts, slippage float64) (bool, string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(ctx)

	if m.stats.DailyLimitExceeded {
		return false, "Daily loss limit exceeded"
	}
	if m.stats.TotalLoss >= m.limits.MaxDailyLoss {
		m.stats.DailyLimitExceeded = true
		m.stats.RiskLevel = LevelCritical
		m.persistLocked(ctx)
		return false, "Daily loss limit reached"
	}
	if spreadPct < m.limits.MinEntrySpreadPct {
		return false, fmt.Sprintf("Spread too low: %.4f%% < %.4f%%", spreadPct, m.limits.MinEntrySpreadPct)
	}
	if m.limits.MaxPositionContracts <= 0 {
		return false, "Max position size is not configured"
	}
	if currentContracts >= m.limits.MaxPositionContracts {
		return false, fmt.Sprintf("Position full: %.4f >= %.4f contracts", currentContracts, m.limits.MaxPositionContracts)
	}
	if currentContracts+m.limits.MinOrderContracts > m.limits.MaxPositionContracts+capacityEpsilon {
		return false, fmt.Sprintf("Minimum order would exceed position capacity: %.4f + %.4f > %.4f",
			currentContracts, m.limits.MinOrderContracts, m.limits.MaxPositionContracts)
	}
	if slippage > m.limits.MaxSlippage {
		return false, fmt.Sprintf("Slippage too high: %.6f > %.6f", slippage, m.limits.MaxSlippage)
	}
	return true, "OK"
}

// SizeEntry returns the next incremental clip. Entries build up in
// minOrderContracts-sized steps toward maxPositionContracts; the safety
// multiplier shrinks a clip only when less than a full minimum order of
// capacity remains.
func (m *Manager) SizeEntry(price, spreadPct, currentContracts float64) float64 {
	m.mu.Lock()
	defer m.mu.Unlock()

	remaining := m.limits.MaxPositionContracts - currentContracts
	if remaining <= capacityEpsilon {
		return 0
	}

	clip := math.Min(m.limits.MinOrderContracts, remaining)
	clip *= m.limits.SafetyMultiplier
	if remaining >= m.limits.MinOrderContracts && clip < m.limits.MinOrderContracts {
		clip = m.limits.MinOrderContracts
	}
	if clip > remaining {
		clip = remaining
	}
	if clip < 0 {
		clip = 0
	}
	return clip
}

// RecordResult folds one closed trade into the daily counters and
// persists the updated record.
func (m *Manager) RecordResult(ctx context.Context, pnl, volume float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rollover(ctx)

	m.stats.TotalTrades++
	if pnl < 0 {
		loss := -pnl
		m.stats.TotalLoss += loss
		m.stats.ConsecutiveLosses++
		if loss > m.stats.MaxLossTrade {
			m.stats.MaxLossTrade = loss
		}
	} else {
		m.stats.ConsecutiveLosses = 0
	}

	m.stats.DailyLimitExceeded = m.stats.TotalLoss >= m.limits.MaxDailyLoss
	m.stats.RiskLevel = m.riskLevelLocked()

	if m.stats.DailyLimitExceeded {
		m.logger.Warn(ctx, "Daily loss limit exceeded, entries blocked for the rest of the day", map[string]interface{}{
			"totalLoss": m.stats.TotalLoss, "maxDailyLoss": m.limits.MaxDailyLoss,
		})
	}
	m.persistLocked(ctx)
}

// riskLevelLocked grades the day by how much of the loss budget is used.
// Caller must hold m.mu.
func (m *Manager) riskLevelLocked() string {
	if m.limits.MaxDailyLoss <= 0 {
		return LevelLow
	}
	ratio := m.stats.TotalLoss / m.limits.MaxDailyLoss
	switch {
	case ratio >= 1.0:
		return LevelCritical
	case ratio >= 0.75:
		return LevelHigh
	case ratio >= 0.5:
		return LevelMedium
	default:
		return LevelLow
	}
}

// persistLocked saves the daily record. Failures are logged and the
// in-memory counters stay authoritative. Caller must hold m.mu.
func (m *Manager) persistLocked(ctx context.Context) {
	if m.store == nil {
		return
	}
	snapshot := m.stats
	if err := m.store.SaveDaily(ctx, &snapshot); err != nil {
		m.logger.Error(ctx, err, "Failed to persist daily risk stats", map[string]interface{}{"date": snapshot.Date})
	}
}

// DailyLimitExceeded reports whether entries are latched off for today.
func (m *Manager) DailyLimitExceeded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats.DailyLimitExceeded
}

// Stats returns a copy of today's counters.
func (m *Manager) Stats() domain.DailyRiskStats {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.stats
}
