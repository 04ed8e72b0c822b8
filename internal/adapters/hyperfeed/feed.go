// Package hyperfeed serves venue B market data from a Hyperliquid-style
// l2Book websocket subscription.
package hyperfeed

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/websocket"

	"spreadarb/internal/domain"
	"spreadarb/internal/orderbook"
	"spreadarb/internal/ports"
)

const (
	writeTimeout = 5 * time.Second
	pingInterval = 50 * time.Second
)

// Config holds configuration for the feed.
type Config struct {
	VenueName         string
	Endpoint          string
	Coin              string
	ClipContracts     float64
	HeartbeatInterval time.Duration
	ConnectionTimeout time.Duration
	Logger            ports.Logger
}

// Feed implements ports.MarketDataFeed over a raw websocket carrying
// l2Book snapshots: one frame per book update with both sides' levels.
type Feed struct {
	cfg    Config
	logger ports.Logger

	mu              sync.RWMutex
	conn            *websocket.Conn
	connected       bool
	quote           *domain.Quote
	slippage        domain.SlippagePair
	haveSlippage    bool
	lastMessageTime time.Time
	onDisconnect    func()
	closing         chan struct{}
	wg              sync.WaitGroup
}

// New creates a feed. Connect must be called before quotes are served.
func New(cfg Config) (*Feed, error) {
	if cfg.VenueName == "" || cfg.Endpoint == "" || cfg.Coin == "" || cfg.Logger == nil {
		return nil, ports.ErrConfigurationError
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 30 * time.Second
	}
	if cfg.ConnectionTimeout <= 0 {
		cfg.ConnectionTimeout = 10 * time.Second
	}
	return &Feed{cfg: cfg, logger: cfg.Logger}, nil
}

// Name returns the venue name.
func (f *Feed) Name() string { return f.cfg.VenueName }

type subscribeRequest struct {
	Method       string `json:"method"`
	Subscription struct {
		Type string `json:"type"`
		Coin string `json:"coin"`
	} `json:"subscription"`
}

type wireLevel struct {
	Px string `json:"px"`
	Sz string `json:"sz"`
	N  int    `json:"n"`
}

type wireMessage struct {
	Channel string `json:"channel"`
	Data    struct {
		Coin   string         `json:"coin"`
		Time   int64          `json:"time"`
		Levels [2][]wireLevel `json:"levels"`
	} `json:"data"`
}

// Connect dials the endpoint and subscribes to the book channel. It does
// not retry; reconnection policy belongs to the health manager.
func (f *Feed) Connect(ctx context.Context) error {
	f.mu.Lock()
	if f.connected {
		f.mu.Unlock()
		return nil
	}
	f.mu.Unlock()

	dialCtx, cancel := context.WithTimeout(ctx, f.cfg.ConnectionTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, f.cfg.Endpoint, nil)
	if err != nil {
		return fmt.Errorf("dialing %s: %w", f.cfg.Endpoint, err)
	}

	sub := subscribeRequest{Method: "subscribe"}
	sub.Subscription.Type = "l2Book"
	sub.Subscription.Coin = f.cfg.Coin
	payload, err := json.Marshal(sub)
	if err != nil {
		conn.Close()
		return fmt.Errorf("encoding subscription: %w", err)
	}
	conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		conn.Close()
		return fmt.Errorf("subscribing to l2Book: %w", err)
	}

	f.mu.Lock()
	f.conn = conn
	f.connected = true
	f.closing = make(chan struct{})
	f.lastMessageTime = time.Now()
	f.mu.Unlock()

	f.logger.Info(ctx, "Book stream subscribed", map[string]interface{}{
		"venue": f.cfg.VenueName, "coin": f.cfg.Coin, "endpoint": f.cfg.Endpoint,
	})

	f.wg.Add(2)
	go f.readLoop(conn)
	go f.pingLoop(conn)
	return nil
}

// Disconnect closes the connection and stops the loops. Safe to call
// when not connected.
func (f *Feed) Disconnect() error {
	f.mu.Lock()
	conn := f.conn
	closing := f.closing
	f.conn = nil
	f.connected = false
	f.closing = nil
	f.mu.Unlock()

	if closing != nil {
		close(closing)
	}
	if conn != nil {
		conn.Close()
	}
	f.wg.Wait()
	return nil
}

func (f *Feed) readLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			f.handleReadError(err)
			return
		}

		var msg wireMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			f.logger.Debug(context.Background(), "Unparseable frame on book stream", map[string]interface{}{
				"venue": f.cfg.VenueName, "error": err.Error(),
			})
			continue
		}

		f.mu.Lock()
		f.lastMessageTime = time.Now()
		f.mu.Unlock()

		if msg.Channel != "l2Book" || msg.Data.Coin != f.cfg.Coin {
			continue
		}
		f.applyBook(&msg)
	}
}

// handleReadError marks the feed disconnected and fires the callback,
// unless Disconnect initiated the close.
func (f *Feed) handleReadError(err error) {
	f.mu.Lock()
	closing := f.closing
	wasConnected := f.connected
	f.connected = false
	cb := f.onDisconnect
	f.mu.Unlock()

	select {
	case <-closing:
		return
	default:
	}

	f.logger.Warn(context.Background(), "Book stream read failed", map[string]interface{}{
		"venue": f.cfg.VenueName, "error": err.Error(),
	})
	if wasConnected && cb != nil {
		cb()
	}
}

func (f *Feed) pingLoop(conn *websocket.Conn) {
	defer f.wg.Done()
	f.mu.RLock()
	closing := f.closing
	f.mu.RUnlock()
	if closing == nil {
		return
	}

	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	ping := []byte(`{"method":"ping"}`)

	for {
		select {
		case <-closing:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, ping); err != nil {
				return
			}
		}
	}
}

// applyBook converts one l2Book frame into the quote and slippage
// estimate. Levels arrive as [bids, asks], each best-first.
func (f *Feed) applyBook(msg *wireMessage) {
	quote := &domain.Quote{Timestamp: time.UnixMilli(msg.Data.Time)}
	if quote.Timestamp.IsZero() || msg.Data.Time == 0 {
		quote.Timestamp = time.Now()
	}
	quote.Bids = parseLevels(msg.Data.Levels[0])
	quote.Asks = parseLevels(msg.Data.Levels[1])
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
	f.mu.Unlock()
}

func parseLevels(raw []wireLevel) []domain.PriceLevel {
	levels := make([]domain.PriceLevel, 0, len(raw))
	for _, lvl := range raw {
		price, err1 := strconv.ParseFloat(lvl.Px, 64)
		volume, err2 := strconv.ParseFloat(lvl.Sz, 64)
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
