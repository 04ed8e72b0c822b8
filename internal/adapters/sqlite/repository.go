// Package sqlite implements the daily risk-stats store and the closed
// trade history on SQLite.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"spreadarb/internal/domain"
	"spreadarb/internal/ports"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Repository implements ports.RiskStatsStore and ports.TradeRepository.
type Repository struct {
	db     *sql.DB
	logger ports.Logger
}

// Config holds configuration for the SQLite repository.
type Config struct {
	DBPath string
	Logger ports.Logger
}

// NewRepository opens (creating if necessary) the database and ensures
// the schema exists.
func NewRepository(cfg Config) (*Repository, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for SQLite repository")
	}
	dbPath := cfg.DBPath
	if dbPath == "" {
		dbPath = "./data/spreadarb.db"
	}

	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		err = fmt.Errorf("failed to create data directory '%s': %w", filepath.Dir(dbPath), err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		err = fmt.Errorf("failed to open database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	if err := db.Ping(); err != nil {
		db.Close()
		err = fmt.Errorf("failed to ping database at '%s': %w", dbPath, err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}

	// The sqlite3 driver serializes writes; one connection avoids busy
	// errors under WAL.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(time.Hour)

	repo := &Repository{db: db, logger: cfg.Logger}
	if err := repo.initializeSchema(context.Background()); err != nil {
		db.Close()
		err = fmt.Errorf("failed to initialize database schema: %w", err)
		cfg.Logger.Error(context.Background(), err, "SQLite repository initialization failed")
		return nil, err
	}
	cfg.Logger.Info(context.Background(), "SQLite database ready", map[string]interface{}{"path": dbPath})
	return repo, nil
}

func (r *Repository) initializeSchema(ctx context.Context) error {
	const schema = `
	CREATE TABLE IF NOT EXISTS trade_history (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		position_id TEXT NOT NULL,
		direction TEXT NOT NULL,
		contracts REAL NOT NULL,
		entry_buy_price REAL NOT NULL,
		entry_sell_price REAL NOT NULL,
		exit_buy_price REAL NOT NULL,
		exit_sell_price REAL NOT NULL,
		entry_spread REAL NOT NULL,
		exit_spread REAL NOT NULL,
		exit_target REAL NOT NULL,
		gross_pnl REAL NOT NULL,
		fees REAL NOT NULL,
		net_pnl REAL NOT NULL,
		return_percent REAL NOT NULL,
		entry_time TIMESTAMP NOT NULL,
		exit_time TIMESTAMP NOT NULL,
		exit_reason TEXT NULL
	);

	CREATE TABLE IF NOT EXISTS daily_risk_stats (
		date TEXT PRIMARY KEY,
		total_loss REAL NOT NULL,
		total_trades INTEGER NOT NULL,
		max_loss_trade REAL NOT NULL,
		consecutive_losses INTEGER NOT NULL,
		risk_level TEXT NOT NULL,
		daily_limit_exceeded INTEGER NOT NULL
	);

	CREATE INDEX IF NOT EXISTS idx_trade_history_exit_time ON trade_history (exit_time);
	`
	if _, err := r.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to execute schema initialization: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (r *Repository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// --- TradeRepository Implementation ---

// RecordTrade appends a closed position to the trade history. Positions
// without terminal fields are rejected.
func (r *Repository) RecordTrade(ctx context.Context, pos *domain.Position) error {
	if pos.ExitTime == nil || pos.ExitPrices == nil || pos.FinalPnL == nil {
		return fmt.Errorf("position %s is not closed: %w", pos.ID, ports.ErrInvalidRequest)
	}

	const query = `
	INSERT INTO trade_history (
		position_id, direction, contracts,
		entry_buy_price, entry_sell_price, exit_buy_price, exit_sell_price,
		entry_spread, exit_spread, exit_target,
		gross_pnl, fees, net_pnl, return_percent,
		entry_time, exit_time, exit_reason
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	_, err := r.db.ExecContext(ctx, query,
		pos.ID, string(pos.Direction), pos.Contracts,
		pos.EntryPrices.Buy, pos.EntryPrices.Sell, pos.ExitPrices.Buy, pos.ExitPrices.Sell,
		pos.EntrySpread, pos.CurrentExitSpread, pos.ExitTarget,
		pos.FinalPnL.Gross, pos.FinalPnL.Fees, pos.FinalPnL.Net, pos.FinalPnL.ReturnPercent,
		pos.EntryTime, *pos.ExitTime, pos.ExitReason)
	if err != nil {
		return fmt.Errorf("failed to insert trade for position %s: %w", pos.ID, err)
	}
	r.logger.Debug(ctx, "Trade recorded", map[string]interface{}{"positionID": pos.ID, "netPnL": pos.FinalPnL.Net})
	return nil
}

// FindRecent retrieves the most recently closed trades, newest first.
func (r *Repository) FindRecent(ctx context.Context, limit int) ([]*domain.Position, error) {
	const query = `
	SELECT position_id, direction, contracts,
	       entry_buy_price, entry_sell_price, exit_buy_price, exit_sell_price,
	       entry_spread, exit_spread, exit_target,
	       gross_pnl, fees, net_pnl, return_percent,
	       entry_time, exit_time, COALESCE(exit_reason, '')
	FROM trade_history
	ORDER BY exit_time DESC
	LIMIT ?`

	rows, err := r.db.QueryContext(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent trades: %w", err)
	}
	defer rows.Close()

	trades := make([]*domain.Position, 0, limit)
	for rows.Next() {
		pos, err := scanTrade(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan trade row: %w", err)
		}
		trades = append(trades, pos)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating trade rows: %w", err)
	}
	return trades, nil
}

func scanTrade(rows *sql.Rows) (*domain.Position, error) {
	var (
		pos        domain.Position
		direction  string
		exitPrices domain.LegPrices
		pnl        domain.PnLBreakdown
		exitTime   time.Time
	)
	err := rows.Scan(
		&pos.ID, &direction, &pos.Contracts,
		&pos.EntryPrices.Buy, &pos.EntryPrices.Sell, &exitPrices.Buy, &exitPrices.Sell,
		&pos.EntrySpread, &pos.CurrentExitSpread, &pos.ExitTarget,
		&pnl.Gross, &pnl.Fees, &pnl.Net, &pnl.ReturnPercent,
		&pos.EntryTime, &exitTime, &pos.ExitReason)
	if err != nil {
		return nil, err
	}
	dir, _ := domain.ParseDirection(direction)
	pos.Direction = dir
	pos.Status = domain.StatusClosed
	pos.ExitTime = &exitTime
	pos.ExitPrices = &exitPrices
	pos.FinalPnL = &pnl
	return &pos, nil
}

// TotalNetPnL sums net PnL over the full trade history.
func (r *Repository) TotalNetPnL(ctx context.Context) (float64, error) {
	const query = `SELECT COALESCE(SUM(net_pnl), 0) FROM trade_history`
	var total float64
	if err := r.db.QueryRowContext(ctx, query).Scan(&total); err != nil {
		return 0, fmt.Errorf("failed to sum net pnl: %w", err)
	}
	return total, nil
}

// --- RiskStatsStore Implementation ---

// LoadDaily retrieves the risk record for a date, or nil when absent.
func (r *Repository) LoadDaily(ctx context.Context, date string) (*domain.DailyRiskStats, error) {
	const query = `
	SELECT date, total_loss, total_trades, max_loss_trade, consecutive_losses, risk_level, daily_limit_exceeded
	FROM daily_risk_stats
	WHERE date = ?`

	var (
		stats    domain.DailyRiskStats
		exceeded int
	)
	err := r.db.QueryRowContext(ctx, query, date).Scan(
		&stats.Date, &stats.TotalLoss, &stats.TotalTrades, &stats.MaxLossTrade,
		&stats.ConsecutiveLosses, &stats.RiskLevel, &exceeded)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query daily risk stats for %s: %w", date, err)
	}
	stats.DailyLimitExceeded = exceeded != 0
	return &stats, nil
}

// SaveDaily inserts or replaces the record for its date.
func (r *Repository) SaveDaily(ctx context.Context, stats *domain.DailyRiskStats) error {
	const query = `
	INSERT INTO daily_risk_stats (date, total_loss, total_trades, max_loss_trade, consecutive_losses, risk_level, daily_limit_exceeded)
	VALUES (?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT(date) DO UPDATE SET
		total_loss = excluded.total_loss,
		total_trades = excluded.total_trades,
		max_loss_trade = excluded.max_loss_trade,
		consecutive_losses = excluded.consecutive_losses,
		risk_level = excluded.risk_level,
		daily_limit_exceeded = excluded.daily_limit_exceeded`

	exceeded := 0
	if stats.DailyLimitExceeded {
		exceeded = 1
	}
	if _, err := r.db.ExecContext(ctx, query,
		stats.Date, stats.TotalLoss, stats.TotalTrades, stats.MaxLossTrade,
		stats.ConsecutiveLosses, stats.RiskLevel, exceeded); err != nil {
		return fmt.Errorf("failed to upsert daily risk stats for %s: %w", stats.Date, err)
	}
	return nil
}
