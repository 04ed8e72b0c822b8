// Package executor coordinates the two legs of a venue-pair trade.
package executor

import (
	"context"
	"errors"
	"sync"
	"time"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

const defaultLegTimeout = 10 * time.Second

// Coordinator submits the buy leg and sell leg of a pair trade against
// their venues' executors, buy leg first. A sell-leg failure after a buy
// fill is the one unrecoverable case: the buy fill is real and cannot be
// undone here, so the result carries RequiresManualIntervention.
type Coordinator struct {
	logger     ports.Logger
	legTimeout time.Duration

	mu        sync.RWMutex
	executors map[string]ports.OrderExecutor

	// compensate simulates a reversal of the buy fill when the sell leg
	// fails. Only safe in paper mode where fills are simulated; a live
	// venue owns its fills.
	compensate bool
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithLegTimeout overrides the per-leg execution timeout.
func WithLegTimeout(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.legTimeout = d
		}
	}
}

// WithSimulatedCompensation enables the simulated unwind of a filled buy
// leg after a sell-leg failure. The pair result still reports failure and
// manual intervention so the caller treats it the same as live.
func WithSimulatedCompensation() Option {
	return func(c *Coordinator) { c.compensate = true }
}

// New creates a coordinator over per-venue executors keyed by venue name.
func New(logger ports.Logger, executors map[string]ports.OrderExecutor, opts ...Option) (*Coordinator, error) {
	if logger == nil || len(executors) == 0 {
		return nil, ports.ErrConfigurationError
	}
	c := &Coordinator{
		logger:     logger,
		legTimeout: defaultLegTimeout,
		executors:  executors,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// ExecutePair runs the buy leg, then the sell leg. The tag is carried
// into the result and logs so entry and exit pairs of the same position
// can be correlated.
func (c *Coordinator) ExecutePair(ctx context.Context, buy, sell domain.Order, tag string) *domain.PairResult {
	res := &domain.PairResult{Tag: tag}

	buyFill, err := c.executeLeg(ctx, buy)
	if err != nil {
		c.logger.Warn(ctx, "Buy leg failed, no position created", map[string]interface{}{
			"tag": tag, "venue": buy.Venue, "symbol": buy.Symbol, "contracts": buy.Contracts, "error": err.Error(),
		})
		res.Error = err.Error()
		return res
	}
	res.Buy = buyFill

	sellFill, err := c.executeLeg(ctx, sell)
	if err != nil {
		res.Error = err.Error()
		res.RequiresManualIntervention = true
		c.logger.Error(ctx, ports.ErrManualInterventionRequired, "Sell leg failed after buy fill, unhedged position on buy venue", map[string]interface{}{
			"tag": tag, "buyVenue": buy.Venue, "sellVenue": sell.Venue,
			"contracts": buy.Contracts, "buyPrice": buyFill.Price, "error": err.Error(),
		})
		if c.compensate {
			c.compensateBuyLeg(ctx, buy, tag)
		}
		return res
	}
	res.Sell = sellFill
	res.Success = true

	c.logger.Info(ctx, "Pair executed", map[string]interface{}{
		"tag": tag, "buyVenue": buy.Venue, "sellVenue": sell.Venue,
		"buyPrice": buyFill.Price, "sellPrice": sellFill.Price, "contracts": buy.Contracts,
	})
	return res
}

// executeLeg runs one order against its venue's executor under the leg
// timeout. Once submitted the order is not cancellable: a timeout only
// stops the wait, which still counts as leg failure.
func (c *Coordinator) executeLeg(ctx context.Context, order domain.Order) (*domain.OrderFill, error) {
	c.mu.RLock()
	exec, ok := c.executors[order.Venue]
	c.mu.RUnlock()
	if !ok {
		return nil, ports.ErrExecutorNotConfigured
	}

	legCtx, cancel := context.WithTimeout(ctx, c.legTimeout)
	defer cancel()

	fill, err := exec.ExecuteOrder(legCtx, order)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, ports.ErrTimeout
		}
		return nil, err
	}
	return fill, nil
}

// compensateBuyLeg simulates reversing a filled buy by submitting the
// opposite order. This models nothing a live venue guarantees and exists
// only to keep a simulated portfolio balanced.
func (c *Coordinator) compensateBuyLeg(ctx context.Context, buy domain.Order, tag string) {
	reversal := buy
	reversal.Side = domain.Sell

	if _, err := c.executeLeg(ctx, reversal); err != nil {
		c.logger.Error(ctx, err, "Simulated compensation of buy leg failed", map[string]interface{}{
			"tag": tag, "venue": buy.Venue, "contracts": buy.Contracts,
		})
		return
	}
	c.logger.Warn(ctx, "Simulated compensation reversed the buy fill", map[string]interface{}{
		"tag": tag, "venue": buy.Venue, "contracts": buy.Contracts,
	})
}
