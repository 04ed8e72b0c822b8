// Package engine implements the arbitrage decision core: spread
// computation over two venues, opportunity selection, position lifecycle,
// and PnL accounting.
package engine

import (
	"context"
	"sync"
	"time"

	"golang.org/x/time/rate"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

const eventBufferSize = 256

// MarketFeed is the engine's view of one venue's managed market-data
// connection.
type MarketFeed interface {
	Name() string
	IsHealthy() bool
	Quote() (*domain.Quote, bool)
	Slippage() (domain.SlippagePair, bool)
}

// PairExecutor executes a matched buy+sell order pair.
type PairExecutor interface {
	ExecutePair(ctx context.Context, buy, sell domain.Order, tag string) *domain.PairResult
}

// RiskGate admits and sizes entries, and tracks daily results.
type RiskGate interface {
	CanOpen(ctx context.Context, direction domain.Direction, spreadPct, price, currentContracts, slippage float64) (bool, string)
	SizeEntry(price, spreadPct, currentContracts float64) float64
	RecordResult(ctx context.Context, pnl, volume float64)
}

// Venue identifies one side of the pair.
type Venue struct {
	Name   string
	Symbol string
}

// Params is the engine's configuration snapshot. Spread thresholds are
// percentages; ApplyConfig swaps the whole snapshot atomically.
type Params struct {
	VenueA Venue
	VenueB Venue

	EntryThresholdPct float64
	ExitTargetPct     float64
	MarketSlippage    float64

	// Fees maps venue name to taker fee fraction.
	Fees map[string]float64

	MinOrderInterval time.Duration
}

// Engine owns the open-position set and all trading decisions. Public
// methods lock internally; the expected caller is a single decision loop,
// with occasional cross-goroutine reads (status, diagnostics).
type Engine struct {
	feedA  MarketFeed
	feedB  MarketFeed
	exec   PairExecutor
	risk   RiskGate
	ledger ports.LedgerStore
	trades ports.TradeRepository
	logger ports.Logger
	now    func() time.Time

	// limiter enforces the minimum interval between submitted orders
	// across both entry and exit paths.
	limiter *rate.Limiter

	events chan domain.Event

	mu                sync.Mutex
	params            Params
	open              []*domain.Position
	counter           int
	lastOrderTime     time.Time
	marketExitSpreads map[domain.Direction]float64
	totalNetPnL       float64
	totalTrades       int
}

// Deps collects the engine's collaborators.
type Deps struct {
	FeedA  MarketFeed
	FeedB  MarketFeed
	Exec   PairExecutor
	Risk   RiskGate
	Ledger ports.LedgerStore
	Trades ports.TradeRepository
	Logger ports.Logger
}

// New creates an engine and restores the open-position set from the
// persisted ledger. Closed entries in a legacy ledger are skipped.
func New(ctx context.Context, params Params, deps Deps) (*Engine, error) {
	if deps.FeedA == nil || deps.FeedB == nil || deps.Exec == nil || deps.Risk == nil || deps.Logger == nil {
		return nil, ports.ErrConfigurationError
	}
	e := &Engine{
		feedA:             deps.FeedA,
		feedB:             deps.FeedB,
		exec:              deps.Exec,
		risk:              deps.Risk,
		ledger:            deps.Ledger,
		trades:            deps.Trades,
		logger:            deps.Logger,
		now:               time.Now,
		params:            params,
		limiter:           rate.NewLimiter(rate.Every(params.MinOrderInterval), 1),
		events:            make(chan domain.Event, eventBufferSize),
		marketExitSpreads: make(map[domain.Direction]float64, len(domain.Directions)),
	}

	if e.ledger != nil {
		snap, err := e.ledger.Load(ctx)
		if err != nil {
			e.logger.Warn(ctx, "Failed to load position ledger, starting empty", map[string]interface{}{"error": err.Error()})
		} else if snap != nil {
			for _, pos := range snap.Positions {
				if pos.IsOpen() {
					e.open = append(e.open, pos)
				}
			}
			e.counter = snap.PositionCounter
			e.logger.Info(ctx, "Restored position ledger", map[string]interface{}{
				"openPositions": len(e.open), "positionCounter": e.counter, "lastSaved": snap.LastSaved,
			})
		}
	}
	return e, nil
}

// Events returns the outbound event channel. Events are dropped, not
// blocked on, when no consumer keeps up.
func (e *Engine) Events() <-chan domain.Event { return e.events }

func (e *Engine) publish(ev domain.Event) {
	select {
	case e.events <- ev:
	default:
	}
}

// Tick runs one decision cycle: refresh market exit spreads, monitor open
// positions, then search for a new entry. Monitoring runs first so a
// position opened this tick is not exit-evaluated until the next tick.
func (e *Engine) Tick(ctx context.Context) {
	a, b := e.snapshotBooks()
	e.updateMarketExitSpreads(a, b)

	e.MonitorPositions(ctx)

	if sd, ok := e.FindOpportunity(ctx); ok {
		if err := e.ExecuteOpportunity(ctx, sd); err != nil {
			e.logger.Warn(ctx, "Opportunity execution failed", map[string]interface{}{
				"direction": string(sd.Direction), "spreadPct": sd.SpreadPct, "error": err.Error(),
			})
		}
	}
}

// ApplyConfig swaps in a new parameter snapshot. A changed exit target is
// rewritten onto every open position and re-persisted, so positions track
// configuration rather than their creation-time value.
func (e *Engine) ApplyConfig(ctx context.Context, params Params) {
	e.mu.Lock()
	old := e.params
	e.params = params
	if params.MinOrderInterval != old.MinOrderInterval && params.MinOrderInterval > 0 {
		e.limiter.SetLimit(rate.Every(params.MinOrderInterval))
	}

	retargeted := 0
	if params.ExitTargetPct != old.ExitTargetPct {
		for _, pos := range e.open {
			pos.ExitTarget = params.ExitTargetPct
			retargeted++
		}
	}
	e.mu.Unlock()

	if retargeted > 0 {
		e.logger.Info(ctx, "Rewrote exit target on open positions after config change", map[string]interface{}{
			"positions": retargeted, "exitTargetPct": params.ExitTargetPct,
		})
		e.SaveLedger(ctx)
	}
}

// OpenPositions returns a copy of the open set for read-only consumers.
func (e *Engine) OpenPositions() []*domain.Position {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]*domain.Position, len(e.open))
	copy(out, e.open)
	return out
}

// Status is a point-in-time summary for logs and presentation.
type Status struct {
	OpenPositions     int
	PositionCounter   int
	TotalTrades       int
	TotalNetPnL       float64
	LastOrderTime     time.Time
	MarketExitSpreads map[domain.Direction]float64
}

// Snapshot returns the engine's aggregate state.
func (e *Engine) Snapshot() Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	spreads := make(map[domain.Direction]float64, len(e.marketExitSpreads))
	for d, s := range e.marketExitSpreads {
		spreads[d] = s
	}
	return Status{
		OpenPositions:     len(e.open),
		PositionCounter:   e.counter,
		TotalTrades:       e.totalTrades,
		TotalNetPnL:       e.totalNetPnL,
		LastOrderTime:     e.lastOrderTime,
		MarketExitSpreads: spreads,
	}
}

// SaveLedger persists the current open set and counter. Failures degrade
// to unpersisted operation.
func (e *Engine) SaveLedger(ctx context.Context) {
	if e.ledger == nil {
		return
	}
	e.mu.Lock()
	snap := &domain.LedgerSnapshot{
		Positions:       make([]*domain.Position, len(e.open)),
		PositionCounter: e.counter,
		LastSaved:       e.now().UTC(),
	}
	copy(snap.Positions, e.open)
	e.mu.Unlock()

	if err := e.ledger.Save(ctx, snap); err != nil {
		e.logger.Error(ctx, err, "Failed to persist position ledger, continuing unpersisted", nil)
	}
}

// Diagnose logs the state of every open position. Runs on a slow timer,
// separate from the trading loop.
func (e *Engine) Diagnose(ctx context.Context) {
	now := e.now()
	positions := e.OpenPositions()
	if len(positions) == 0 {
		return
	}
	for _, pos := range positions {
		minS, maxS := historyBounds(pos.SpreadHistory)
		e.logger.Info(ctx, "Position diagnostics", map[string]interface{}{
			"id":                pos.ID,
			"direction":         string(pos.Direction),
			"ageSeconds":        pos.Age(now).Seconds(),
			"contracts":         pos.Contracts,
			"entrySpreadPct":    pos.EntrySpread,
			"currentExitSpread": pos.CurrentExitSpread,
			"exitTargetPct":     pos.ExitTarget,
			"distanceToClose":   pos.ExitTarget - pos.CurrentExitSpread,
			"updateCount":       pos.UpdateCount,
			"historyMinPct":     minS,
			"historyMaxPct":     maxS,
		})
	}
}

func historyBounds(history []float64) (min, max float64) {
	if len(history) == 0 {
		return 0, 0
	}
	min, max = history[0], history[0]
	for _, s := range history[1:] {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
	}
	return min, max
}
