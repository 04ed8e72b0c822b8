// Package feed wraps one market-data connection with a connection-state
// machine and a bounded exponential-backoff reconnection policy.
package feed

import (
	"context"
	"sync"
	"time"

	"github.com/jpillora/backoff"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// State is the connection state of a managed feed.
type State string

const (
	StateConnecting   State = "CONNECTING"
	StateConnected    State = "CONNECTED"
	StateDisconnected State = "DISCONNECTED"
	// StateError is terminal: reached only after the maximum reconnection
	// attempts are exhausted. Health is then restored by an external
	// restart, never by the manager itself.
	StateError State = "ERROR"
)

const (
	defaultMaxReconnectAttempts = 10
	defaultReconnectBase        = 1 * time.Second
	defaultReconnectMax         = 30 * time.Second
	defaultHeartbeatInterval    = 30 * time.Second
)

// Config holds configuration for a feed health manager.
type Config struct {
	Client               ports.MarketDataFeed
	Logger               ports.Logger
	MaxReconnectAttempts int           // attempts before the terminal ERROR state (default 10)
	ReconnectBase        time.Duration // initial backoff delay (default 1s)
	ReconnectMax         time.Duration // backoff delay cap (default 30s)
	HeartbeatInterval    time.Duration // informational; the client enforces the 2x silence rule
}

// HealthManager owns the lifecycle of one market-data connection. It never
// blocks its caller: reconnection runs in its own goroutine and waits on a
// timer that shutdown can cancel.
type HealthManager struct {
	client  ports.MarketDataFeed
	logger  ports.Logger
	maxAtt  int
	backoff *backoff.Backoff

	mu                sync.Mutex
	state             State
	reconnectAttempts int
	lastHealthyTime   time.Time
	reconnecting      bool
	cancelReconnect   context.CancelFunc
	wg                sync.WaitGroup
}

// NewHealthManager creates a manager around a market-data client. Start
// must be called before quotes are served.
func NewHealthManager(cfg Config) (*HealthManager, error) {
	if cfg.Client == nil || cfg.Logger == nil {
		return nil, ports.ErrConfigurationError
	}
	if cfg.MaxReconnectAttempts <= 0 {
		cfg.MaxReconnectAttempts = defaultMaxReconnectAttempts
	}
	if cfg.ReconnectBase <= 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax <= 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}

	m := &HealthManager{
		client: cfg.Client,
		logger: cfg.Logger,
		maxAtt: cfg.MaxReconnectAttempts,
		backoff: &backoff.Backoff{
			Min:    cfg.ReconnectBase,
			Max:    cfg.ReconnectMax,
			Factor: 2,
		},
		state: StateDisconnected,
	}
	m.client.OnDisconnect(m.onDisconnect)
	return m, nil
}

// Name returns the managed venue's name.
func (m *HealthManager) Name() string { return m.client.Name() }

// Start performs the initial connect. A failed initial connect enters the
// reconnection loop rather than returning an error, so a venue that is
// briefly down at startup recovers on its own.
func (m *HealthManager) Start(ctx context.Context) {
	m.mu.Lock()
	m.state = StateConnecting
	m.mu.Unlock()

	if err := m.client.Connect(ctx); err != nil {
		m.logger.Warn(ctx, "Initial feed connect failed, entering reconnect loop", map[string]interface{}{
			"feed": m.client.Name(), "error": err.Error(),
		})
		m.mu.Lock()
		m.state = StateDisconnected
		m.mu.Unlock()
		m.startReconnect(ctx)
		return
	}

	m.mu.Lock()
	m.state = StateConnected
	m.lastHealthyTime = time.Now()
	m.mu.Unlock()
	m.logger.Info(ctx, "Feed connected", map[string]interface{}{"feed": m.client.Name()})
}

// Stop cancels any reconnection in flight and disconnects the client.
// Reconnection tasks must be stopped before process exit.
func (m *HealthManager) Stop() {
	m.mu.Lock()
	if m.cancelReconnect != nil {
		m.cancelReconnect()
		m.cancelReconnect = nil
	}
	m.state = StateDisconnected
	m.mu.Unlock()

	m.wg.Wait()
	_ = m.client.Disconnect()
}

// State returns the current connection state.
func (m *HealthManager) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.state
}

// ReconnectAttempts returns the current consecutive failed attempt count.
func (m *HealthManager) ReconnectAttempts() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reconnectAttempts
}

// LastHealthyTime returns when the feed last passed a health check.
func (m *HealthManager) LastHealthyTime() time.Time {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.lastHealthyTime
}

// IsHealthy requires both a CONNECTED state and fresh data on the wire:
// the client reports unhealthy once silence exceeds twice its heartbeat
// interval, so health lapses even while nominally connected.
func (m *HealthManager) IsHealthy() bool {
	m.mu.Lock()
	state := m.state
	m.mu.Unlock()

	if state != StateConnected {
		return false
	}
	healthy := m.client.IsHealthy()
	if healthy {
		m.mu.Lock()
		m.lastHealthyTime = time.Now()
		m.mu.Unlock()
	}
	return healthy
}

// Quote returns the latest order-book snapshot from the underlying client.
func (m *HealthManager) Quote() (*domain.Quote, bool) {
	return m.client.LatestQuote()
}

// Slippage returns the latest slippage estimate, or false when none is
// available yet.
func (m *HealthManager) Slippage() (domain.SlippagePair, bool) {
	return m.client.EstimatedSlippage()
}

func (m *HealthManager) onDisconnect() {
	ctx := context.Background()
	m.mu.Lock()
	if m.state == StateError {
		m.mu.Unlock()
		return
	}
	m.state = StateDisconnected
	alreadyReconnecting := m.reconnecting
	m.mu.Unlock()

	m.logger.Warn(ctx, "Feed disconnected", map[string]interface{}{"feed": m.client.Name()})
	if !alreadyReconnecting {
		m.startReconnect(ctx)
	}
}

func (m *HealthManager) startReconnect(ctx context.Context) {
	m.mu.Lock()
	if m.reconnecting {
		m.mu.Unlock()
		return
	}
	m.reconnecting = true
	rctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	m.cancelReconnect = cancel
	m.mu.Unlock()

	m.wg.Add(1)
	go m.reconnectLoop(rctx)
}

// reconnectLoop retries the connection with delay min(max, base*2^n),
// capped at maxAtt attempts. Exhausting the cap transitions to ERROR and
// the loop stops for good.
func (m *HealthManager) reconnectLoop(ctx context.Context) {
	defer m.wg.Done()
	defer func() {
		m.mu.Lock()
		m.reconnecting = false
		m.mu.Unlock()
	}()

	m.backoff.Reset()
	for {
		m.mu.Lock()
		m.reconnectAttempts++
		attempt := m.reconnectAttempts
		m.state = StateConnecting
		m.mu.Unlock()

		m.logger.Info(ctx, "Reconnecting feed", map[string]interface{}{
			"feed": m.client.Name(), "attempt": attempt, "maxAttempts": m.maxAtt,
		})

		_ = m.client.Disconnect()
		err := m.client.Connect(ctx)
		if err == nil {
			m.mu.Lock()
			m.state = StateConnected
			m.reconnectAttempts = 0
			m.lastHealthyTime = time.Now()
			m.mu.Unlock()
			m.backoff.Reset()
			m.logger.Info(ctx, "Feed reconnected", map[string]interface{}{"feed": m.client.Name()})
			return
		}
		m.logger.Warn(ctx, "Feed reconnect attempt failed", map[string]interface{}{
			"feed": m.client.Name(), "attempt": attempt, "error": err.Error(),
		})

		if attempt >= m.maxAtt {
			m.mu.Lock()
			m.state = StateError
			m.mu.Unlock()
			m.logger.Error(ctx, ports.ErrConnectionFailed, "Max reconnection attempts exhausted, feed requires external restart", map[string]interface{}{
				"feed": m.client.Name(), "attempts": attempt,
			})
			return
		}

		delay := m.backoff.Duration()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			m.mu.Lock()
			m.state = StateDisconnected
			m.mu.Unlock()
			m.logger.Info(ctx, "Reconnect loop cancelled", map[string]interface{}{"feed": m.client.Name()})
			return
		}
	}
}
