package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"
	"os/signal"
	"syscall"

	"spreadarb/config"
	"spreadarb/internal/adapters/binancefeed"
	"spreadarb/internal/adapters/hyperfeed"
	"spreadarb/internal/adapters/ledgerjson"
	"spreadarb/internal/adapters/logger"
	"spreadarb/internal/adapters/paper"
	"spreadarb/internal/adapters/sqlite"
	"spreadarb/internal/app"
	"spreadarb/internal/engine"
	"spreadarb/internal/executor"
	"spreadarb/internal/feed"
	"spreadarb/internal/ports"
	"spreadarb/internal/risk"
	"spreadarb/internal/stats"
)

func main() {
	// 1. Load Configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("FATAL: Failed to load configuration: %v", err)
	}

	// 2. Initialize Logger
	level := logger.ParseLevel(cfg.LogLevel)
	var appLogger ports.Logger
	if cfg.LogFormat == config.LogFormatJSON {
		appLogger = logger.NewZeroLogger(os.Stderr, level)
	} else {
		appLogger = logger.NewStdLogger(level)
	}
	ctx := context.Background()
	appLogger.Info(ctx, "Logger initialized", map[string]interface{}{"level": level.String(), "format": cfg.LogFormat})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{DBPath: cfg.DBPath, Logger: appLogger})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize database repository: %v", err)
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()

	// 4. Initialize Market-Data Feeds
	clientA, err := binancefeed.New(binancefeed.Config{
		VenueName:         cfg.VenueA.Name,
		Symbol:            cfg.VenueA.Symbol,
		ClipContracts:     cfg.MinOrderContracts,
		HeartbeatInterval: cfg.HeartbeatInterval,
		Logger:            appLogger,
		UseTestnet:        cfg.IsTestnet,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize venue A feed: %v", err)
	}
	clientB, err := hyperfeed.New(hyperfeed.Config{
		VenueName:         cfg.VenueB.Name,
		Endpoint:          cfg.VenueB.WSEndpoint,
		Coin:              cfg.VenueB.Symbol,
		ClipContracts:     cfg.MinOrderContracts,
		HeartbeatInterval: cfg.HeartbeatInterval,
		ConnectionTimeout: cfg.ConnectionTimeout,
		Logger:            appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize venue B feed: %v", err)
	}

	feedA, err := feed.NewHealthManager(feed.Config{
		Client:               clientA,
		Logger:               appLogger,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBase:        cfg.ReconnectDelay,
		HeartbeatInterval:    cfg.HeartbeatInterval,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize venue A health manager: %v", err)
	}
	feedB, err := feed.NewHealthManager(feed.Config{
		Client:               clientB,
		Logger:               appLogger,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
		ReconnectBase:        cfg.ReconnectDelay,
		HeartbeatInterval:    cfg.HeartbeatInterval,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize venue B health manager: %v", err)
	}

	// 5. Initialize Execution (paper mode; live is rejected at config load)
	portfolio, err := paper.NewPortfolio(ctx, cfg.PaperPortfolioPath,
		[]string{cfg.VenueA.Name, cfg.VenueB.Name}, cfg.PaperInitialBalance, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize paper portfolio: %v", err)
	}
	execA, err := paper.NewExecutor(cfg.VenueA.Name, feedA, portfolio, cfg.VenueA.TakerFee, cfg.MarketSlippage, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize venue A executor: %v", err)
	}
	execB, err := paper.NewExecutor(cfg.VenueB.Name, feedB, portfolio, cfg.VenueB.TakerFee, cfg.MarketSlippage, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize venue B executor: %v", err)
	}
	coordinator, err := executor.New(appLogger, map[string]ports.OrderExecutor{
		cfg.VenueA.Name: execA,
		cfg.VenueB.Name: execB,
	}, executor.WithLegTimeout(cfg.ExecutionTimeout), executor.WithSimulatedCompensation())
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize execution coordinator: %v", err)
	}

	// 6. Initialize Risk Manager
	riskManager, err := risk.New(ctx, risk.Limits{
		MinEntrySpreadPct:    cfg.MinSpreadEnter * 100,
		MaxPositionContracts: cfg.MaxPositionContracts,
		MinOrderContracts:    cfg.MinOrderContracts,
		MaxDailyLoss:         cfg.MaxDailyLoss,
		MaxSlippage:          cfg.MaxSlippage,
		SafetyMultiplier:     cfg.SafetyMultiplier,
	}, repo, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize risk manager: %v", err)
	}

	// 7. Initialize Engine
	ledger, err := ledgerjson.New(cfg.LedgerPath, appLogger)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize ledger store: %v", err)
	}
	eng, err := engine.New(ctx, engine.Params{
		VenueA:            engine.Venue{Name: cfg.VenueA.Name, Symbol: cfg.VenueA.Symbol},
		VenueB:            engine.Venue{Name: cfg.VenueB.Name, Symbol: cfg.VenueB.Symbol},
		EntryThresholdPct: cfg.MinSpreadEnter * 100,
		ExitTargetPct:     cfg.MinSpreadExit * 100,
		MarketSlippage:    cfg.MarketSlippage,
		Fees: map[string]float64{
			cfg.VenueA.Name: cfg.VenueA.TakerFee,
			cfg.VenueB.Name: cfg.VenueB.TakerFee,
		},
		MinOrderInterval: cfg.MinOrderInterval,
	}, engine.Deps{
		FeedA:  feedA,
		FeedB:  feedB,
		Exec:   coordinator,
		Risk:   riskManager,
		Ledger: ledger,
		Trades: repo,
		Logger: appLogger,
	})
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize engine: %v", err)
	}

	// 8. Assemble and run the Service
	tracker := stats.NewSessionTracker(appLogger)
	service, err := app.New(app.Config{
		MainLoopInterval:    cfg.MainLoopInterval,
		HealthCheckInterval: cfg.HealthCheckInterval,
		DiagnosisInterval:   cfg.DiagnosisInterval,
		TradesCSVPath:       cfg.TradesCSVPath,
	}, appLogger, eng, feedA, feedB, tracker, repo)
	if err != nil {
		log.Fatalf("FATAL: Failed to initialize service: %v", err)
	}

	runCtx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := service.Run(runCtx); err != nil {
		appLogger.Error(ctx, err, "Service exited with error")
		os.Exit(1)
	}
	appLogger.Info(ctx, "Application finished gracefully.")
}
