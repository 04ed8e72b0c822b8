package engine

import (
	"context"
	"errors"
	"fmt"
	"sort"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// contractsFor sums the open exposure in one direction. Incremental clips
// accumulate as separate positions toward the shared capacity cap.
func (e *Engine) contractsFor(d domain.Direction) float64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	var total float64
	for _, pos := range e.open {
		if pos.Direction == d {
			total += pos.Contracts
		}
	}
	return total
}

// FindOpportunity returns the best admissible entry candidate, or false.
// Directions are evaluated highest spread first, so when both qualify the
// wider one wins. Nothing is returned while the minimum inter-order
// interval has not elapsed; the interval is only consumed on execution.
func (e *Engine) FindOpportunity(ctx context.Context) (*SpreadData, bool) {
	if e.limiter.Tokens() < 1 {
		return nil, false
	}

	a, b := e.snapshotBooks()
	spreads := e.ComputeEntrySpreads(a, b)
	if len(spreads) == 0 {
		return nil, false
	}

	now := e.now()
	candidates := make([]SpreadData, 0, len(spreads))
	for _, d := range domain.Directions {
		sd, ok := spreads[d]
		if !ok {
			continue
		}
		candidates = append(candidates, sd)
		e.publish(domain.Event{
			Type:      domain.EventSpreadSample,
			Time:      now,
			Direction: d,
			Spread:    sd.SpreadPct,
			Entry:     true,
		})
	}
	sort.Slice(candidates, func(i, j int) bool { return candidates[i].SpreadPct > candidates[j].SpreadPct })

	e.mu.Lock()
	threshold := e.params.EntryThresholdPct
	e.mu.Unlock()

	for i := range candidates {
		sd := candidates[i]
		if sd.SpreadPct < threshold {
			continue
		}
		current := e.contractsFor(sd.Direction)
		legSlippage := sd.BuySlippage
		if sd.SellSlippage > legSlippage {
			legSlippage = sd.SellSlippage
		}
		allowed, reason := e.risk.CanOpen(ctx, sd.Direction, sd.SpreadPct, sd.BuyPrice, current, legSlippage)
		if !allowed {
			e.logger.Debug(ctx, "Entry rejected by risk gate", map[string]interface{}{
				"direction": string(sd.Direction), "spreadPct": sd.SpreadPct, "reason": reason,
			})
			continue
		}
		return &sd, true
	}
	return nil, false
}

// ExecuteOpportunity sizes and executes one entry clip, creates the
// position, and persists the ledger. The buy leg runs first; a sell-leg
// failure after a buy fill is surfaced as manual intervention and no
// position is created.
func (e *Engine) ExecuteOpportunity(ctx context.Context, sd *SpreadData) error {
	current := e.contractsFor(sd.Direction)
	contracts := e.risk.SizeEntry(sd.BuyPrice, sd.SpreadPct, current)
	if contracts <= 0 {
		return fmt.Errorf("%w: no capacity for %s", ports.ErrRiskRejected, sd.Direction)
	}
	if !e.limiter.Allow() {
		return nil
	}

	e.mu.Lock()
	seq := e.counter + 1
	e.mu.Unlock()
	tag := domain.FormatPositionID(seq)

	buy := domain.Order{
		Venue: sd.BuyVenue, Symbol: sd.BuySymbol, Side: domain.Buy,
		Contracts: contracts, EstimatedSlippage: sd.BuySlippage,
	}
	sell := domain.Order{
		Venue: sd.SellVenue, Symbol: sd.SellSymbol, Side: domain.Sell,
		Contracts: contracts, EstimatedSlippage: sd.SellSlippage,
	}

	res := e.exec.ExecutePair(ctx, buy, sell, tag)
	if !res.Success {
		if res.RequiresManualIntervention {
			return fmt.Errorf("%w: %s buy filled without hedge: %s", ports.ErrManualInterventionRequired, tag, res.Error)
		}
		return fmt.Errorf("%w: %s: %s", ports.ErrOrderPlacementFailed, tag, res.Error)
	}

	now := e.now()
	e.mu.Lock()
	e.counter = seq
	exitTarget := e.params.ExitTargetPct
	pos := domain.NewPosition(seq, sd.Direction, contracts,
		domain.LegPrices{Buy: res.Buy.Price, Sell: res.Sell.Price},
		sd.SpreadPct,
		domain.SlippagePair{Buy: sd.BuySlippage, Sell: sd.SellSlippage},
		exitTarget, now)
	e.open = append(e.open, pos)
	e.lastOrderTime = now
	e.mu.Unlock()

	e.logger.Info(ctx, "Position opened", map[string]interface{}{
		"id": pos.ID, "direction": string(pos.Direction), "contracts": contracts,
		"entrySpreadPct": sd.SpreadPct, "buyPrice": res.Buy.Price, "sellPrice": res.Sell.Price,
		"exitTargetPct": exitTarget,
	})
	e.publish(domain.Event{
		Type: domain.EventPositionOpened, Time: now,
		Direction: pos.Direction, Spread: sd.SpreadPct, Entry: true, PositionID: pos.ID,
	})

	e.SaveLedger(ctx)
	return nil
}

// MonitorPositions recomputes every open position's exit spread against a
// snapshot of the open set taken now, and closes those that reach their
// target. Positions opened after the snapshot wait for the next tick.
func (e *Engine) MonitorPositions(ctx context.Context) {
	a, b := e.snapshotBooks()
	positions := e.OpenPositions()
	now := e.now()

	for _, pos := range positions {
		if !pos.IsOpen() {
			continue
		}
		spread := e.ComputeExitSpread(pos, a, b)
		pos.UpdateExitSpread(spread, now)

		if pos.ShouldClose() {
			if err := e.ClosePosition(ctx, pos, spread, "Exit target reached"); err != nil {
				e.logger.Warn(ctx, "Close failed, position stays open for retry", map[string]interface{}{
					"id": pos.ID, "error": err.Error(),
				})
			}
		}
	}
}

// ClosePosition unwinds one position: the mirror pair of its entry legs.
// Already-closed positions are a no-op, which guards against double-close
// when two triggers fire in the same tick. On execution failure the
// position stays open and a later tick retries.
func (e *Engine) ClosePosition(ctx context.Context, pos *domain.Position, exitSpread float64, reason string) error {
	e.mu.Lock()
	if !pos.IsOpen() {
		e.mu.Unlock()
		return nil
	}
	e.mu.Unlock()

	// Unwind legs mirror the entry: A_TO_B exits by buying on B and
	// selling on A.
	sellVenue, buyVenue := e.legVenues(pos.Direction)
	tag := pos.ID + "_exit"

	buy := domain.Order{Venue: buyVenue.Name, Symbol: buyVenue.Symbol, Side: domain.Buy, Contracts: pos.Contracts}
	sell := domain.Order{Venue: sellVenue.Name, Symbol: sellVenue.Symbol, Side: domain.Sell, Contracts: pos.Contracts}

	res := e.exec.ExecutePair(ctx, buy, sell, tag)
	if !res.Success {
		if res.RequiresManualIntervention {
			return fmt.Errorf("%w: %s exit buy filled without hedge: %s", ports.ErrManualInterventionRequired, pos.ID, res.Error)
		}
		return fmt.Errorf("%w: %s: %s", ports.ErrOrderPlacementFailed, pos.ID, res.Error)
	}

	// An exit counts as a submitted order for the inter-order interval.
	e.limiter.Allow()

	now := e.now()
	exitPrices := domain.LegPrices{Buy: res.Buy.Price, Sell: res.Sell.Price}
	pnl := e.CalculateTradePnL(pos, exitPrices)

	e.mu.Lock()
	pos.Status = domain.StatusClosed
	pos.ExitTime = &now
	pos.ExitReason = reason
	pos.ExitPrices = &exitPrices
	pos.FinalPnL = &pnl
	pos.CurrentExitSpread = exitSpread
	e.removeOpenLocked(pos)
	e.lastOrderTime = now
	e.totalTrades++
	e.totalNetPnL += pnl.Net
	e.mu.Unlock()

	e.risk.RecordResult(ctx, pnl.Net, pos.Contracts*pos.EntryPrices.Buy)

	if e.trades != nil {
		if err := e.trades.RecordTrade(ctx, pos); err != nil {
			e.logger.Error(ctx, err, "Failed to record closed trade in history", map[string]interface{}{"id": pos.ID})
		}
	}

	e.logger.Info(ctx, "Position closed", map[string]interface{}{
		"id": pos.ID, "direction": string(pos.Direction), "reason": reason,
		"exitSpreadPct": exitSpread, "grossPnL": pnl.Gross, "fees": pnl.Fees,
		"netPnL": pnl.Net, "returnPct": pnl.ReturnPercent, "holdSeconds": pos.Age(now).Seconds(),
	})
	e.publish(domain.Event{
		Type: domain.EventPositionClosed, Time: now,
		Direction: pos.Direction, Spread: exitSpread, PositionID: pos.ID, PnL: &pnl,
	})

	e.SaveLedger(ctx)
	return nil
}

// removeOpenLocked drops a position from the open set.
// Caller must hold e.mu.
func (e *Engine) removeOpenLocked(pos *domain.Position) {
	for i, p := range e.open {
		if p.ID == pos.ID {
			e.open = append(e.open[:i], e.open[i+1:]...)
			return
		}
	}
}

// ForceClosePosition closes one position by id with an external reason,
// at whatever the current exit spread is.
func (e *Engine) ForceClosePosition(ctx context.Context, id, reason string) error {
	e.mu.Lock()
	var target *domain.Position
	for _, pos := range e.open {
		if pos.ID == id {
			target = pos
			break
		}
	}
	e.mu.Unlock()
	if target == nil {
		return fmt.Errorf("%w: position %s", ports.ErrNotFound, id)
	}

	a, b := e.snapshotBooks()
	return e.ClosePosition(ctx, target, e.ComputeExitSpread(target, a, b), reason)
}

// CloseAllPositions unwinds every open position, used on shutdown or
// manual intervention. Failures are collected; surviving positions stay
// open.
func (e *Engine) CloseAllPositions(ctx context.Context, reason string) error {
	positions := e.OpenPositions()
	a, b := e.snapshotBooks()

	var errs []error
	for _, pos := range positions {
		if err := e.ClosePosition(ctx, pos, e.ComputeExitSpread(pos, a, b), reason); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// CalculateTradePnL accounts a completed round trip. Fees are charged on
// all four legs at the rate of the venue each leg executed on; this is
// the only place fees enter, spreads everywhere else stay gross.
func (e *Engine) CalculateTradePnL(pos *domain.Position, exitPrices domain.LegPrices) domain.PnLBreakdown {
	e.mu.Lock()
	fees := e.params.Fees
	e.mu.Unlock()

	entryBuyVenue, entrySellVenue := e.legVenues(pos.Direction)
	// The exit reverses the venue mapping.
	exitBuyVenue, exitSellVenue := entrySellVenue, entryBuyVenue

	c := pos.Contracts
	gross := (pos.EntryPrices.Sell-pos.EntryPrices.Buy)*c + (exitPrices.Sell-exitPrices.Buy)*c

	fb := domain.FeeBreakdown{
		EntryBuy:  pos.EntryPrices.Buy * c * fees[entryBuyVenue.Name],
		EntrySell: pos.EntryPrices.Sell * c * fees[entrySellVenue.Name],
		ExitBuy:   exitPrices.Buy * c * fees[exitBuyVenue.Name],
		ExitSell:  exitPrices.Sell * c * fees[exitSellVenue.Name],
	}
	totalFees := fb.EntryBuy + fb.EntrySell + fb.ExitBuy + fb.ExitSell
	net := gross - totalFees

	var returnPct float64
	if denom := pos.EntryPrices.Buy * c; denom != 0 {
		returnPct = net / denom * 100
	}

	return domain.PnLBreakdown{
		Gross:         gross,
		Fees:          totalFees,
		Net:           net,
		ReturnPercent: returnPct,
		FeeBreakdown:  fb,
	}
}
