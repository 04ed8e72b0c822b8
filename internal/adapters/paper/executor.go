// Package paper simulates order execution against live quotes with a
// persisted portfolio, so strategies can run end to end with no exchange
// account.
package paper

import (
	"context"
	"time"

	"github.com/google/uuid"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// QuoteSource supplies the live quote a simulated fill prices against.
type QuoteSource interface {
	Quote() (*domain.Quote, bool)
}

// Executor fills orders for one venue at the current top of book plus an
// assumed market slippage, charging that venue's taker fee.
type Executor struct {
	venue     string
	quotes    QuoteSource
	portfolio *Portfolio
	logger    ports.Logger
	feeRate   float64
	slippage  float64
	now       func() time.Time
}

// NewExecutor creates a paper executor for one venue.
func NewExecutor(venue string, quotes QuoteSource, portfolio *Portfolio, feeRate, slippage float64, logger ports.Logger) (*Executor, error) {
	if venue == "" || quotes == nil || portfolio == nil || logger == nil {
		return nil, ports.ErrConfigurationError
	}
	return &Executor{
		venue:     venue,
		quotes:    quotes,
		portfolio: portfolio,
		logger:    logger,
		feeRate:   feeRate,
		slippage:  slippage,
		now:       time.Now,
	}, nil
}

// Name returns the venue this executor simulates.
func (e *Executor) Name() string { return e.venue }

// ExecuteOrder simulates a fill at the current quote. Buys fill at the
// ask inflated by the assumed slippage, sells at the bid deflated by it.
// No quote means no fill.
func (e *Executor) ExecuteOrder(ctx context.Context, order domain.Order) (*domain.OrderFill, error) {
	if order.Contracts <= 0 {
		return nil, ports.ErrInvalidRequest
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	quote, ok := e.quotes.Quote()
	if !ok || quote == nil || !quote.HasPrices() {
		e.logger.Warn(ctx, "Paper fill rejected, no quote available", map[string]interface{}{
			"venue": e.venue, "symbol": order.Symbol,
		})
		return nil, ports.ErrDataUnavailable
	}

	var price float64
	switch order.Side {
	case domain.Buy:
		price = quote.Ask * (1 + e.slippage)
	case domain.Sell:
		price = quote.Bid * (1 - e.slippage)
	default:
		return nil, ports.ErrInvalidRequest
	}

	fill := &domain.OrderFill{
		OrderID:   uuid.NewString(),
		Venue:     e.venue,
		Symbol:    order.Symbol,
		Side:      order.Side,
		Contracts: order.Contracts,
		Price:     price,
		Fee:       price * order.Contracts * e.feeRate,
		Timestamp: e.now(),
	}
	if err := e.portfolio.applyFill(ctx, fill); err != nil {
		e.logger.Warn(ctx, "Paper fill rejected by portfolio", map[string]interface{}{
			"venue": e.venue, "side": string(order.Side), "contracts": order.Contracts, "error": err.Error(),
		})
		return nil, err
	}

	e.logger.Debug(ctx, "Paper fill", map[string]interface{}{
		"venue": e.venue, "orderId": fill.OrderID, "side": string(order.Side),
		"contracts": fill.Contracts, "price": fill.Price, "fee": fill.Fee,
	})
	return fill, nil
}
