package main

import (
	"context"
	"log" // Use standard log only for initial fatal errors before logger is set up
	"os"

	"golang.org/x/sync/errgroup"

	"tradingEngine/config"
	"tradingEngine/internal/adapters/binanceclient"
	"tradingEngine/internal/adapters/logger"
	"tradingEngine/internal/adapters/metrics"
	"tradingEngine/internal/adapters/sqlite"
	"tradingEngine/internal/app"
	"tradingEngine/internal/execution"
	"tradingEngine/internal/ports"
	"tradingEngine/internal/risk"
	"tradingEngine/internal/strategy"
	"tradingEngine/internal/transport/httpapi"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("FATAL: %v", err)
	}
}

func run() error {
	ctx := context.Background()

	// 1. Load Configuration
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	// 2. Initialize Logger
	appLogger := logger.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)
	appLogger.Info(ctx, "Logger initialized", ports.Fields{"level": cfg.LogLevel.String(), "format": string(cfg.LogFormat)})

	// 3. Initialize Repository (Database Adapter)
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: cfg.DBPath,
		Logger: appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize database repository")
		return err
	}
	defer func() {
		if err := repo.Close(); err != nil {
			appLogger.Error(ctx, err, "Error closing database repository")
		}
	}()
	appLogger.Info(ctx, "Database repository initialized", ports.Fields{"path": cfg.DBPath, "run_id": repo.RunID()})

	// 4. Initialize Exchange Client (Binance Adapter)
	binanceClient, err := binanceclient.New(binanceclient.Config{
		APIKey:               cfg.APIKey,
		SecretKey:            cfg.SecretKey,
		UseTestnet:           cfg.IsTestnet,
		Logger:               appLogger,
		KlineInterval:        cfg.StreamInterval,
		QuantityPrecision:    cfg.QuantityPrecision,
		PricePrecision:       cfg.PricePrecision,
		ReconnectDelay:       cfg.ReconnectDelay,
		MaxReconnectAttempts: cfg.MaxReconnectAttempts,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize Binance client")
		return err
	}
	if !cfg.DryRun {
		if err := binanceClient.Ping(ctx); err != nil {
			appLogger.Error(ctx, err, "Binance connectivity check failed")
			return err
		}
	}
	appLogger.Info(ctx, "Binance client initialized", ports.Fields{"testnet": cfg.IsTestnet})

	// 5. Initialize Strategy
	strat, err := strategy.New(strategy.Config{
		ShortTermMAPeriod: cfg.StrategyShortMAPeriod,
		LongTermMAPeriod:  cfg.StrategyLongMAPeriod,
		RSIPeriod:         cfg.StrategyRSIPeriod,
		RSIOverbought:     cfg.StrategyRSIOverbought,
		RSIOversold:       cfg.StrategyRSIOversold,
		MaxHistory:        cfg.StrategyMaxHistory,
	}, appLogger)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize trading strategy")
		return err
	}

	// 6. Initialize Execution and Risk
	var placer ports.OrderPlacer = binanceClient
	if cfg.DryRun {
		placer = execution.NewPaperPlacer()
	}
	executor, err := execution.NewExecutor(execution.Config{
		QueueSize: cfg.ExecutionQueueSize,
		Placer:    placer,
		Logger:    appLogger,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize executor")
		return err
	}

	riskManager, err := risk.NewManager(cfg.RiskLimits)
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize risk manager")
		return err
	}

	recorder := metrics.NewRecorder()

	// 7. Initialize Trading Engine
	engineCfg := app.EngineConfig{
		Symbols:              cfg.Symbols,
		PositionSizeFraction: cfg.PositionSizeFraction,
		InitialCapital:       cfg.InitialCapital,
		PollInterval:         cfg.PollInterval,
		StreamPrices:         cfg.StreamPrices,
	}
	engine, err := app.NewTradingEngine(engineCfg, app.Dependencies{
		Logger:     appLogger,
		MarketData: binanceClient,
		Strategy:   strat,
		Executor:   executor,
		Risk:       riskManager,
		Repository: repo,
		Metrics:    recorder,
	})
	if err != nil {
		appLogger.Error(ctx, err, "Failed to initialize trading engine")
		return err
	}

	var server *httpapi.Server
	if cfg.HTTPAddr != "" {
		server, err = httpapi.NewServer(httpapi.ServerConfig{
			Addr:    cfg.HTTPAddr,
			Engine:  engine,
			Orders:  repo,
			Metrics: recorder.Handler(),
			Logger:  appLogger,
		})
		if err != nil {
			appLogger.Error(ctx, err, "Failed to initialize status server")
			return err
		}
	}

	app.WriteStartupSummary(os.Stdout, engineCfg, cfg.RiskLimits, cfg.Mode())

	// 8. Run the engine and the status API until either stops
	runCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	g, gctx := errgroup.WithContext(runCtx)

	g.Go(func() error {
		defer cancel() // The API has nothing to serve once the engine is done
		return engine.Run(gctx)
	})
	if server != nil {
		g.Go(func() error {
			return server.Start(gctx)
		})
	}

	err = g.Wait()
	app.WritePortfolioSummary(os.Stdout, engine.PortfolioSummary())
	if err != nil {
		appLogger.Error(ctx, err, "Trading engine exited with error")
		return err
	}

	appLogger.Info(ctx, "Application finished gracefully.", ports.Fields{"iterations": engine.Stats().Iterations})
	return nil
}
