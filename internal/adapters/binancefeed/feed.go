// Package binancefeed serves venue A market data from a Binance-style
// partial depth websocket stream.
package binancefeed

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/adshao/go-binance/v2"

	"spreadarb/internal/domain"
	"spreadarb/internal/orderbook"
	"spreadarb/internal/ports"
)

const depthLevels = "20"

// Config holds configuration for the feed.
type Config struct {
	VenueName         string
	Symbol            string
	ClipContracts     float64 // order size the slippage estimate is computed for
	HeartbeatInterval time.Duration
	Logger            ports.Logger
	UseTestnet        bool
}

// Feed implements ports.MarketDataFeed over the exchange's combined
// partial-depth stream. Each depth event refreshes the quote and the
// slippage estimate for the configured clip size.
type Feed struct {
	cfg    Config
	logger ports.Logger

	mu              sync.RWMutex
	connected       bool
	quote           *domain.Quote
	slippage        domain.SlippagePair
	haveSlippage    bool
	lastMessageTime time.Time
	onDisconnect    func()
	stopC           chan struct{}
}

// New creates a feed. Connect must be called before quotes are served.
func New(cfg Config) (*Feed, error) {
	if cfg.VenueName == "" || cfg.Symbol == "" || cfg.Logger == nil {
		return nil, ports.ErrConfigurationError
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	binance.UseTestnet = cfg.UseTestnet
	return &Feed{cfg: cfg, logger: cfg.Logger}, nil
}

// Name returns the venue name.
func (f *Feed) Name() string { return f.cfg.VenueName }

// Connect subscribes to the partial-depth stream. It does not retry;
// reconnection policy belongs to the health manager.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	doneC, stopC, err := binance.WsPartialDepthServe100Ms(f.cfg.Symbol, depthLevels, f.handleDepth, f.handleStreamError)
	if err != nil {
		return err
	}

	f.mu.Lock()
	f.connected = true
	f.stopC = stopC
	f.lastMessageTime = time.Now()
	f.mu.Unlock()

	f.logger.Info(ctx, "Depth stream subscribed", map[string]interface{}{
		"venue": f.cfg.VenueName, "symbol": f.cfg.Symbol, "levels": depthLevels,
	})

	go func() {
		<-doneC
		f.mu.Lock()
		wasConnected := f.connected
		f.connected = false
		f.stopC = nil
		cb := f.onDisconnect
		f.mu.Unlock()
		if wasConnected && cb != nil {
			cb()
		}
	}()
	return nil
}

// Disconnect stops the stream. Safe to call when not connected.
func (f *Feed) Disconnect() error {
	f.mu.Lock()
	stopC := f.stopC
	f.connected = false
	f.stopC = nil
	f.mu.Unlock()

	if stopC != nil {
		close(stopC)
	}
	return nil
}

func (f *Feed) handleStreamError(err error) {
	f.logger.Warn(context.Background(), "Depth stream error", map[string]interface{}{
		"venue": f.cfg.VenueName, "symbol": f.cfg.Symbol, "error": err.Error(),
	})
}

func (f *Feed) handleDepth(event *binance.WsPartialDepthEvent) {
	if event == nil {
		return
	}
	quote := &domain.Quote{Timestamp: time.Now()}
	quote.Bids = parseLevels(event.Bids)
	quote.Asks = parseLevels(event.Asks)
	if len(quote.Bids) > 0 {
		quote.Bid = quote.Bids[0].Price
	}
	if len(quote.Asks) > 0 {
		quote.Ask = quote.Asks[0].Price
	}

	slip := domain.SlippagePair{
		Buy:  orderbook.CalculateSlippage(quote, domain.Buy, f.cfg.ClipContracts),
		Sell: orderbook.CalculateSlippage(quote, domain.Sell, f.cfg.ClipContracts),
	}

	f.mu.Lock()
	f.quote = quote
	f.slippage = slip
	f.haveSlippage = true
	f.lastMessageTime = quote.Timestamp
	f.mu.Unlock()
}

func parseLevels(raw []binance.Bid) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err1 := strconv.ParseFloat(lvl.Price, 64)
		volume, err2 := strconv.ParseFloat(lvl.Quantity, 64)
		if err1 != nil || err2 != nil || price <= 0 {
			continue
		}
		levels = append(levels, domain.PriceLevel{Price: price, Volume: volume})
	}
	return levels
}

// LatestQuote returns the most recent book snapshot.
func (f *Feed) LatestQuote() (*domain.Quote, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if f.quote == nil {
		return nil, false
	}
	return f.quote, true
}

// EstimatedSlippage returns the slippage pair from the latest book.
func (f *Feed) EstimatedSlippage() (domain.SlippagePair, bool) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return f.slippage, f.haveSlippage
}

// IsHealthy reports a live connection with data younger than twice the
// heartbeat interval.
func (f *Feed) IsHealthy() bool {
	f.mu.RLock()
	defer f.mu.RUnlock()
	if !f.connected {
		return false
	}
	return time.Since(f.lastMessageTime) < 2*f.cfg.HeartbeatInterval
}

// OnDisconnect registers the disconnect callback. At most one is kept.
func (f *Feed) OnDisconnect(fn func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.onDisconnect = fn
}

var _ ports.MarketDataFeed = (*Feed)(nil)
