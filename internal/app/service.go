// Package app wires the feeds, engine, and statistics into a running
// service with a mode-aware trading loop.
package app

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"spreadarb/internal/engine"
	"spreadarb/internal/feed"
	"spreadarb/internal/ports"
	"spreadarb/internal/stats"
	"spreadarb/internal/utils"
)

// TradingMode reflects how much of the strategy is allowed to run given
// current feed health.
type TradingMode string

const (
	// ModeActive trades normally: entries and exits.
	ModeActive TradingMode = "ACTIVE"
	// ModePartial monitors and exits only; one venue is degraded so new
	// entries are unsafe.
	ModePartial TradingMode = "PARTIAL"
	// ModeStopped holds everything; both venues are down.
	ModeStopped TradingMode = "STOPPED"
)

// Config holds the service loop timings and export paths.
type Config struct {
	MainLoopInterval    time.Duration
	HealthCheckInterval time.Duration
	DiagnosisInterval   time.Duration
	TradesCSVPath       string
	TradeExportLimit    int
}

// Service runs the trading system: it owns the loop goroutines and the
// shutdown sequence.
type Service struct {
	cfg     Config
	logger  ports.Logger
	engine  *engine.Engine
	feedA   *feed.HealthManager
	feedB   *feed.HealthManager
	tracker *stats.SessionTracker
	trades  ports.TradeRepository

	mu   sync.Mutex
	mode TradingMode
}

// New assembles a service.
func New(cfg Config, logger ports.Logger, eng *engine.Engine, feedA, feedB *feed.HealthManager, tracker *stats.SessionTracker, trades ports.TradeRepository) (*Service, error) {
	if logger == nil || eng == nil || feedA == nil || feedB == nil || tracker == nil {
		return nil, ports.ErrConfigurationError
	}
	if cfg.MainLoopInterval <= 0 {
		cfg.MainLoopInterval = 100 * time.Millisecond
	}
	if cfg.HealthCheckInterval <= 0 {
		cfg.HealthCheckInterval = 3 * time.Second
	}
	if cfg.DiagnosisInterval <= 0 {
		cfg.DiagnosisInterval = 30 * time.Second
	}
	if cfg.TradeExportLimit <= 0 {
		cfg.TradeExportLimit = 1000
	}
	return &Service{
		cfg:     cfg,
		logger:  logger,
		engine:  eng,
		feedA:   feedA,
		feedB:   feedB,
		tracker: tracker,
		trades:  trades,
		mode:    ModeStopped,
	}, nil
}

// Mode returns the current trading mode.
func (s *Service) Mode() TradingMode {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// currentMode derives the mode from feed health: both healthy trades,
// one healthy only monitors, none holds everything.
func (s *Service) currentMode() TradingMode {
	healthyA := s.feedA.IsHealthy()
	healthyB := s.feedB.IsHealthy()
	switch {
	case healthyA && healthyB:
		return ModeActive
	case healthyA || healthyB:
		return ModePartial
	default:
		return ModeStopped
	}
}

// Run starts the feeds and loops and blocks until ctx is cancelled, then
// performs the shutdown sequence. Total feed loss never stops the
// service; it degrades to monitoring until health returns.
func (s *Service) Run(ctx context.Context) error {
	s.logger.Info(ctx, "Starting service", map[string]interface{}{
		"loopInterval": s.cfg.MainLoopInterval.String(),
		"feedA":        s.feedA.Name(),
		"feedB":        s.feedB.Name(),
	})

	s.feedA.Start(ctx)
	s.feedB.Start(ctx)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		s.tracker.Run(gctx, s.engine.Events())
		return nil
	})
	g.Go(func() error { return s.tradingLoop(gctx) })
	g.Go(func() error { return s.healthLoop(gctx) })
	g.Go(func() error { return s.diagnosisLoop(gctx) })

	err := g.Wait()
	s.shutdown()
	if err != nil && err != context.Canceled {
		return err
	}
	return nil
}

// tradingLoop runs one decision cycle per tick. ACTIVE runs the full
// entry+monitor cycle, PARTIAL monitors exits only, STOPPED waits.
func (s *Service) tradingLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.MainLoopInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			switch s.currentMode() {
			case ModeActive:
				s.engine.Tick(ctx)
			case ModePartial:
				s.engine.MonitorPositions(ctx)
			case ModeStopped:
			}
		}
	}
}

// healthLoop tracks mode transitions and logs them.
func (s *Service) healthLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.HealthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			mode := s.currentMode()
			s.mu.Lock()
			prev := s.mode
			s.mode = mode
			s.mu.Unlock()

			if mode != prev {
				s.logger.Warn(ctx, "Trading mode changed", map[string]interface{}{
					"from": string(prev), "to": string(mode),
					"feedAState": string(s.feedA.State()), "feedAHealthy": s.feedA.IsHealthy(),
					"feedBState": string(s.feedB.State()), "feedBHealthy": s.feedB.IsHealthy(),
				})
			}
		}
	}
}

// diagnosisLoop periodically logs position diagnostics and the session
// summary, and persists the ledger so exit-spread history survives a
// crash between closes.
func (s *Service) diagnosisLoop(ctx context.Context) error {
	ticker := time.NewTicker(s.cfg.DiagnosisInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			s.engine.Diagnose(ctx)
			s.tracker.Log(ctx)
			s.engine.SaveLedger(ctx)

			snap := s.engine.Snapshot()
			s.logger.Info(ctx, "Engine status", map[string]interface{}{
				"mode":          string(s.Mode()),
				"openPositions": snap.OpenPositions,
				"totalTrades":   snap.TotalTrades,
				"totalNetPnL":   snap.TotalNetPnL,
			})
		}
	}
}

// shutdown stops reconnection tasks, persists state, and exports the
// trade history. Runs with a fresh context; the run context is already
// cancelled.
func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	s.logger.Info(ctx, "Shutting down service", nil)

	// Positions are unwound before the feeds stop so exits still price
	// against the last live books. Anything that fails to close stays in
	// the ledger and is restored on the next start.
	if err := s.engine.CloseAllPositions(ctx, "System shutdown"); err != nil {
		s.logger.Error(ctx, err, "Failed to close all positions on shutdown", nil)
	}

	s.feedA.Stop()
	s.feedB.Stop()
	s.engine.SaveLedger(ctx)
	s.tracker.Log(ctx)

	if s.trades != nil && s.cfg.TradesCSVPath != "" {
		trades, err := s.trades.FindRecent(ctx, s.cfg.TradeExportLimit)
		if err != nil {
			s.logger.Error(ctx, err, "Failed to read trade history for export", nil)
		} else if len(trades) > 0 {
			if err := utils.WriteTradesToCSV(trades, s.cfg.TradesCSVPath); err != nil {
				s.logger.Error(ctx, err, "Failed to export trades CSV", map[string]interface{}{"path": s.cfg.TradesCSVPath})
			} else {
				s.logger.Info(ctx, "Exported trade history", map[string]interface{}{
					"path": s.cfg.TradesCSVPath, "trades": len(trades),
				})
			}
		}
	}
	s.logger.Info(ctx, "Service stopped", nil)
}
