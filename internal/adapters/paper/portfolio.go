package paper

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/goccy/go-json"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"
)

// VenueBalance tracks simulated holdings on one venue. Base may go
// negative: a sell without inventory models a short, which is how the
// second leg of every pair executes.
type VenueBalance struct {
	Quote float64 `json:"quote"`
	Base  float64 `json:"base"`
}

type portfolioState struct {
	Balances  map[string]VenueBalance `json:"balances"`
	LastSaved time.Time               `json:"lastSaved"`
}

// Portfolio is the simulated account shared by all paper executors. It
// persists to a JSON file after every fill so paper sessions survive
// restarts.
type Portfolio struct {
	path   string
	logger ports.Logger

	mu       sync.Mutex
	balances map[string]VenueBalance
}

// NewPortfolio loads the portfolio file or seeds each venue with
// initialQuote when no file exists.
func NewPortfolio(ctx context.Context, path string, venues []string, initialQuote float64, logger ports.Logger) (*Portfolio, error) {
	if logger == nil {
		return nil, ports.ErrConfigurationError
	}
	p := &Portfolio{
		path:     path,
		logger:   logger,
		balances: make(map[string]VenueBalance, len(venues)),
	}
	for _, v := range venues {
		p.balances[v] = VenueBalance{Quote: initialQuote}
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			logger.Info(ctx, "No paper portfolio file, starting with initial balances", map[string]interface{}{
				"path": path, "initialQuote": initialQuote,
			})
			return p, nil
		}
		return nil, fmt.Errorf("reading paper portfolio %s: %w", path, err)
	}

	var state portfolioState
	if err := json.Unmarshal(data, &state); err != nil {
		logger.Warn(ctx, "Paper portfolio file unreadable, starting with initial balances", map[string]interface{}{
			"path": path, "error": err.Error(),
		})
		return p, nil
	}
	for venue, bal := range state.Balances {
		p.balances[venue] = bal
	}
	logger.Info(ctx, "Restored paper portfolio", map[string]interface{}{"path": path, "venues": len(state.Balances)})
	return p, nil
}

// Balance returns the simulated holdings for a venue.
func (p *Portfolio) Balance(venue string) VenueBalance {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.balances[venue]
}

// applyFill mutates the balances for one simulated fill. Buys must be
// covered by the venue's quote balance; sells may open a short.
func (p *Portfolio) applyFill(ctx context.Context, fill *domain.OrderFill) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	bal := p.balances[fill.Venue]
	cost := fill.Price * fill.Contracts

	switch fill.Side {
	case domain.Buy:
		if bal.Quote < cost+fill.Fee {
			return ports.ErrInsufficientFunds
		}
		bal.Quote -= cost + fill.Fee
		bal.Base += fill.Contracts
	case domain.Sell:
		bal.Quote += cost - fill.Fee
		bal.Base -= fill.Contracts
	default:
		return ports.ErrInvalidRequest
	}
	p.balances[fill.Venue] = bal
	p.saveLocked(ctx)
	return nil
}

// saveLocked writes the portfolio atomically. Persistence failures are
// logged and the in-memory balances stay authoritative.
// Caller must hold p.mu.
func (p *Portfolio) saveLocked(ctx context.Context) {
	if p.path == "" {
		return
	}
	state := portfolioState{Balances: p.balances, LastSaved: time.Now().UTC()}
	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		p.logger.Error(ctx, err, "Failed to encode paper portfolio", nil)
		return
	}
	if err := os.MkdirAll(filepath.Dir(p.path), 0o755); err != nil {
		p.logger.Error(ctx, err, "Failed to create paper portfolio directory", map[string]interface{}{"path": p.path})
		return
	}
	tmp := p.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		p.logger.Error(ctx, err, "Failed to write paper portfolio", map[string]interface{}{"path": tmp})
		return
	}
	if err := os.Rename(tmp, p.path); err != nil {
		p.logger.Error(ctx, err, "Failed to replace paper portfolio file", map[string]interface{}{"path": p.path})
	}
}
