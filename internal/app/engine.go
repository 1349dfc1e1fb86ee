package app

import (
	"context"
	"errors"
	"fmt"
	"math"
	"os"
	"os/signal"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
	"tradingEngine/internal/risk"
)

const defaultPollInterval = 100 * time.Millisecond

// Phase names used in logs and metrics.
const (
	phaseFills      = "fills"
	phaseMarketData = "market_data"
	phaseSignals    = "signals"
	phaseMetrics    = "metrics"
)

// ErrLoopFailure wraps a panic that escaped the control loop.
var ErrLoopFailure = errors.New("trading loop failed")

// SignalSource installs delivery of external interrupt requests. stop undoes the
// installation.
type SignalSource func() (signals <-chan os.Signal, stop func())

// OSSignals delivers SIGINT and SIGTERM.
func OSSignals() (<-chan os.Signal, func()) {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
	return ch, func() { signal.Stop(ch) }
}

// EngineConfig holds the immutable engine settings.
type EngineConfig struct {
	Symbols              []string
	PositionSizeFraction float64       // Fraction of portfolio value committed per signal at full strength
	InitialCapital       float64       // Starting cash
	PollInterval         time.Duration // Fixed loop cadence
	StreamPrices         bool          // Subscribe to ticks in addition to polling
}

// Dependencies are the collaborators of a TradingEngine. Metrics, Signals and Clock
// are optional.
type Dependencies struct {
	Logger     ports.Logger
	MarketData ports.MarketDataSource
	Strategy   ports.Strategy
	Executor   ports.OrderExecutor
	Risk       *risk.Manager
	Repository ports.OrderRepository
	Metrics    ports.Metrics
	Signals    SignalSource
	Clock      func() time.Time
}

// Stats are counters describing engine activity so far.
type Stats struct {
	Iterations     int64 `json:"iterations"`
	OrdersAccepted int64 `json:"orders_accepted"`
	OrdersRejected int64 `json:"orders_rejected"`
	FillsApplied   int64 `json:"fills_applied"`
	OpenOrders     int64 `json:"open_orders"`
}

// TradingEngine runs the polling control loop: it feeds market data to the strategy,
// turns signals into orders, gates them through the risk manager and forwards
// accepted orders to the executor.
//
// The portfolio, the open orders and the last-known prices belong to the goroutine
// running Run. Other goroutines observe the engine only through State, Stats,
// RiskMetrics and PortfolioSummary.
type TradingEngine struct {
	cfg      EngineConfig
	logger   ports.Logger
	market   ports.MarketDataSource
	strategy ports.Strategy
	executor ports.OrderExecutor
	risk     *risk.Manager
	repo     ports.OrderRepository
	metrics  ports.Metrics
	signals  SignalSource
	now      func() time.Time

	state        atomic.Int32
	running      atomic.Bool
	started      atomic.Bool
	stopOnce     sync.Once
	stopCh       chan struct{}
	shutdownOnce sync.Once

	portfolio  *domain.Portfolio
	openOrders map[string]*domain.Order
	lastPrices map[string]float64

	summary    atomic.Pointer[domain.PortfolioSummary]
	iterations atomic.Int64
	accepted   atomic.Int64
	rejected   atomic.Int64
	fills      atomic.Int64
	open       atomic.Int64
}

// NewTradingEngine validates cfg and deps and creates an engine in StateInitializing.
func NewTradingEngine(cfg EngineConfig, deps Dependencies) (*TradingEngine, error) {
	if deps.Logger == nil || deps.MarketData == nil || deps.Strategy == nil ||
		deps.Executor == nil || deps.Risk == nil || deps.Repository == nil {
		return nil, fmt.Errorf("%w: missing required dependencies for TradingEngine", ports.ErrConfigurationError)
	}
	if len(cfg.Symbols) == 0 {
		return nil, fmt.Errorf("%w: at least one symbol is required", ports.ErrConfigurationError)
	}
	for _, s := range cfg.Symbols {
		if s == "" {
			return nil, fmt.Errorf("%w: empty symbol", ports.ErrConfigurationError)
		}
	}
	if !(cfg.PositionSizeFraction > 0 && cfg.PositionSizeFraction <= 1) {
		return nil, fmt.Errorf("%w: position size fraction must be in (0, 1], got %v", ports.ErrConfigurationError, cfg.PositionSizeFraction)
	}
	if !(cfg.InitialCapital > 0) || math.IsInf(cfg.InitialCapital, 0) {
		return nil, fmt.Errorf("%w: initial capital must be positive, got %v", ports.ErrConfigurationError, cfg.InitialCapital)
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaultPollInterval
	}
	cfg.Symbols = append([]string(nil), cfg.Symbols...)

	e := &TradingEngine{
		cfg:        cfg,
		logger:     deps.Logger,
		market:     deps.MarketData,
		strategy:   deps.Strategy,
		executor:   deps.Executor,
		risk:       deps.Risk,
		repo:       deps.Repository,
		metrics:    deps.Metrics,
		signals:    deps.Signals,
		now:        deps.Clock,
		stopCh:     make(chan struct{}),
		portfolio:  domain.NewPortfolio(cfg.InitialCapital),
		openOrders: make(map[string]*domain.Order),
		lastPrices: make(map[string]float64),
	}
	if e.metrics == nil {
		e.metrics = noopMetrics{}
	}
	if e.signals == nil {
		e.signals = OSSignals
	}
	if e.now == nil {
		e.now = time.Now
	}
	e.setState(StateInitializing)
	e.publishSummary()
	return e, nil
}

// Run starts the executor and drives the control loop until an interrupt signal
// arrives, ctx is cancelled or Stop is called. An iteration in flight when the stop
// request lands runs to completion. Run returns nil after a graceful shutdown and a
// non-nil error when initialization fails or the loop panics.
func (e *TradingEngine) Run(ctx context.Context) error {
	if !e.started.CompareAndSwap(false, true) {
		return fmt.Errorf("trading engine already started")
	}
	e.logger.Info(ctx, "Starting trading engine...", ports.Fields{
		"symbols":      e.cfg.Symbols,
		"pollInterval": e.cfg.PollInterval.String(),
		"streaming":    e.cfg.StreamPrices,
	})

	sigCh, stopSignals := e.signals()
	defer stopSignals()
	watchDone := make(chan struct{})
	defer close(watchDone)
	go func() {
		select {
		case sig := <-sigCh:
			e.logger.Info(ctx, "Received shutdown signal", ports.Fields{"signal": sig.String()})
			e.Stop()
		case <-ctx.Done():
			e.logger.Info(ctx, "Context cancelled, requesting shutdown")
			e.Stop()
		case <-watchDone:
		}
	}()

	if err := e.executor.Start(ctx); err != nil {
		e.logger.Error(ctx, err, "Failed to start executor")
		e.setState(StateStopped)
		return fmt.Errorf("failed to start executor: %w", err)
	}

	// Collaborator calls inside an iteration must not be cut short by cancellation.
	loopCtx := context.WithoutCancel(ctx)

	if e.cfg.StreamPrices {
		unsubscribe, err := e.subscribe(ctx)
		if err != nil {
			e.logger.Error(ctx, err, "Failed to subscribe to price stream")
			e.shutdown(loopCtx)
			return fmt.Errorf("failed to subscribe to price stream: %w", err)
		}
		defer unsubscribe()
	}

	var loopErr error
	e.running.Store(true)
	select {
	case <-e.stopCh:
		// Stop arrived while initializing; the engine never reports Running.
		e.running.Store(false)
		e.logger.Info(ctx, "Stop requested before start, skipping trading loop")
	default:
		e.setState(StateRunning)
		e.logger.Info(ctx, "Trading engine running")

		loopErr = e.loop(loopCtx)
		if loopErr != nil {
			e.logger.Error(ctx, loopErr, "Trading loop terminated abnormally")
		}
	}
	e.shutdown(loopCtx)
	e.logger.Info(ctx, "Trading engine stopped.", ports.Fields{"iterations": e.iterations.Load()})
	return loopErr
}

// Stop requests a graceful shutdown. The loop notices it at the top of its next
// iteration. Stop is safe to call from any goroutine, any number of times.
func (e *TradingEngine) Stop() {
	e.stopOnce.Do(func() {
		e.running.Store(false)
		close(e.stopCh)
	})
}

func (e *TradingEngine) loop(ctx context.Context) (err error) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error(ctx, fmt.Errorf("%v", r), "Panic escaped trading loop", ports.Fields{"stack": string(debug.Stack())})
			err = fmt.Errorf("%w: %v", ErrLoopFailure, r)
		}
	}()

	ticker := time.NewTicker(e.cfg.PollInterval)
	defer ticker.Stop()

	for e.running.Load() {
		start := time.Now()
		e.runIteration(ctx)
		e.iterations.Add(1)
		e.metrics.ObserveIteration(time.Since(start).Seconds())

		select {
		case <-ticker.C:
		case <-e.stopCh:
		}
	}
	return nil
}

func (e *TradingEngine) runIteration(ctx context.Context) {
	e.runPhase(ctx, phaseFills, e.applyPendingFills)
	e.runPhase(ctx, phaseMarketData, e.processMarketData)
	e.runPhase(ctx, phaseSignals, e.processSignals)
	e.runPhase(ctx, phaseMetrics, e.refreshMetrics)
}

// runPhase isolates a phase: errors and panics are logged and counted, never propagated.
func (e *TradingEngine) runPhase(ctx context.Context, name string, fn func(context.Context) error) {
	defer func() {
		if r := recover(); r != nil {
			e.metrics.ObservePhaseError(name)
			e.logger.Error(ctx, fmt.Errorf("%v", r), "Panic recovered in phase", ports.Fields{
				"phase": name,
				"stack": string(debug.Stack()),
			})
		}
	}()
	if err := fn(ctx); err != nil {
		e.metrics.ObservePhaseError(name)
		e.logger.Error(ctx, err, "Phase failed", ports.Fields{"phase": name})
	}
}

// processMarketData fetches every symbol, feeds the strategy and pushes the merged
// price snapshot to the risk manager. A failing symbol is skipped.
func (e *TradingEngine) processMarketData(ctx context.Context) error {
	var errs []error
	fetched := make(map[string]float64, len(e.cfg.Symbols))
	for _, symbol := range e.cfg.Symbols {
		md, err := e.market.FetchLatest(ctx, symbol)
		if err != nil {
			errs = append(errs, fmt.Errorf("fetch %s: %w", symbol, err))
			continue
		}
		if md == nil || !isPositive(md.LastPrice) {
			errs = append(errs, fmt.Errorf("fetch %s: %w", symbol, ports.ErrNoMarketData))
			continue
		}
		data := *md
		if data.Symbol == "" {
			data.Symbol = symbol
		}
		e.strategy.OnMarketData(data)
		fetched[symbol] = data.LastPrice
	}

	// Merged under the manager's lock so streamed ticks for symbols that failed
	// this round are kept.
	e.lastPrices = e.risk.MergePrices(fetched)

	return errors.Join(errs...)
}

// processSignals drains the strategy and turns each signal into a risk-checked order.
func (e *TradingEngine) processSignals(ctx context.Context) error {
	signals := e.strategy.GetSignals()
	if len(signals) == 0 {
		return nil
	}
	value := e.portfolio.TotalValue(e.lastPrices)

	var errs []error
	for _, sig := range signals {
		if err := e.handleSignal(ctx, sig, value); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (e *TradingEngine) handleSignal(ctx context.Context, sig domain.Signal, portfolioValue float64) error {
	fields := ports.Fields{"symbol": sig.Symbol, "side": sig.Side, "strength": sig.Strength}

	price, ok := e.lastPrices[sig.Symbol]
	if !ok || !isPositive(price) {
		return fmt.Errorf("signal for %s: %w", sig.Symbol, ports.ErrNoMarketData)
	}
	strength := sig.Strength
	if math.IsNaN(strength) || strength <= 0 {
		e.logger.Debug(ctx, "Ignoring signal without strength", fields)
		return nil
	}
	if strength > 1 {
		strength = 1
	}

	notional := portfolioValue * e.cfg.PositionSizeFraction * strength
	order, err := domain.NewOrder(sig.Symbol, sig.Side, domain.Market, notional/price)
	if err != nil {
		return fmt.Errorf("build order for %s: %w", sig.Symbol, err)
	}
	if err := order.SetPrice(price); err != nil {
		return fmt.Errorf("price order for %s: %w", sig.Symbol, err)
	}

	fields["orderID"] = order.ID
	fields["quantity"] = order.Quantity
	fields["price"] = order.Price

	decision := e.risk.CheckOrderRisk(order, e.portfolio)
	e.metrics.ObserveDecision(order.Symbol, decision.Approved, decision.Check.String())

	if !decision.Approved {
		_ = order.Reject(e.now())
		e.rejected.Add(1)
		fields["check"] = decision.Check.String()
		fields["reason"] = decision.Reason
		e.logger.Warn(ctx, "Order rejected by risk manager", fields)
		e.persistNew(ctx, order)
		return nil
	}

	e.persistNew(ctx, order)
	if err := e.executor.SubmitOrder(order); err != nil {
		_ = order.Reject(e.now())
		e.persistUpdate(ctx, order)
		return fmt.Errorf("submit order %s: %w", order.ID, err)
	}
	e.openOrders[order.ID] = order
	e.open.Store(int64(len(e.openOrders)))
	e.accepted.Add(1)
	e.logger.Info(ctx, "Order submitted", fields)
	return nil
}

// applyPendingFills applies every fill already waiting on the executor channel.
// When any arrived the risk metrics are refreshed at once, so the signal phase of
// the same iteration checks orders against exposure that includes them.
func (e *TradingEngine) applyPendingFills(ctx context.Context) error {
	fills := e.executor.Fills()
	applied := 0
drain:
	for {
		select {
		case f, ok := <-fills:
			if !ok {
				break drain
			}
			e.applyFill(ctx, f)
			applied++
		default:
			break drain
		}
	}
	if applied == 0 {
		return nil
	}
	if err := e.risk.UpdateRiskMetrics(e.portfolio); err != nil {
		return fmt.Errorf("update risk metrics after fills: %w", err)
	}
	return nil
}

func (e *TradingEngine) applyFill(ctx context.Context, f domain.Fill) {
	fields := ports.Fields{
		"orderID": f.OrderID,
		"symbol":  f.Symbol,
		"status":  f.Status,
		"qty":     f.Quantity,
		"price":   f.Price,
	}
	if _, err := e.repo.CreateFill(ctx, &f); err != nil {
		e.logger.Error(ctx, err, "Failed to persist fill", fields)
	}
	e.metrics.ObserveFill(f.Symbol, string(f.Status))
	e.fills.Add(1)

	order, ok := e.openOrders[f.OrderID]
	if !ok {
		e.logger.Warn(ctx, "Fill for unknown order", fields)
		return
	}

	at := f.Timestamp
	if at.IsZero() {
		at = e.now()
	}

	var err error
	switch f.Status {
	case domain.StatusFilled, domain.StatusPartiallyFilled:
		if err = order.ApplyFill(f.Quantity, f.Price, at); err == nil {
			signed := order.Side.Sign() * f.Quantity
			e.portfolio.UpdatePosition(order.Symbol, signed, f.Price)
			e.portfolio.UpdateCash(-signed * f.Price)
		}
	case domain.StatusCancelled:
		err = order.Cancel(at)
	case domain.StatusRejected:
		err = order.Reject(at)
		fields["reason"] = f.Reason
	default:
		err = fmt.Errorf("unexpected fill status %q", f.Status)
	}
	if err != nil {
		e.logger.Error(ctx, err, "Failed to apply fill", fields)
		return
	}

	if order.Status.IsTerminal() {
		delete(e.openOrders, order.ID)
		e.open.Store(int64(len(e.openOrders)))
	}
	e.persistUpdate(ctx, order)

	if f.Status == domain.StatusRejected {
		e.logger.Warn(ctx, "Order rejected by venue", fields)
		return
	}
	e.logger.Info(ctx, "Fill applied", fields)
}

// refreshMetrics recomputes the risk metrics and publishes them with a fresh
// portfolio snapshot. It runs every iteration regardless of order flow.
func (e *TradingEngine) refreshMetrics(ctx context.Context) error {
	if err := e.risk.UpdateRiskMetrics(e.portfolio); err != nil {
		return fmt.Errorf("update risk metrics: %w", err)
	}
	metrics := e.risk.GetRiskMetrics()
	e.metrics.SetRiskMetrics(metrics)
	summary := e.publishSummary()
	e.metrics.SetPortfolio(summary.TotalValue, summary.Cash)
	e.logger.Debug(ctx, "Risk metrics refreshed", ports.Fields{
		"drawdown":      metrics[risk.MetricDrawdown],
		"leverage":      metrics[risk.MetricLeverage],
		"dailyPnL":      metrics[risk.MetricDailyPnL],
		"concentration": metrics[risk.MetricConcentration],
		"totalValue":    summary.TotalValue,
	})
	return nil
}

func (e *TradingEngine) publishSummary() domain.PortfolioSummary {
	s := e.portfolio.Summary(e.lastPrices, e.now())
	e.summary.Store(&s)
	return s
}

// shutdown stops the executor exactly once, applies the fills it flushed and moves
// the engine to StateStopped.
func (e *TradingEngine) shutdown(ctx context.Context) {
	e.shutdownOnce.Do(func() {
		e.Stop()
		e.setState(StateShuttingDown)
		e.logger.Info(ctx, "Shutting down trading engine...", ports.Fields{"openOrders": len(e.openOrders)})

		// Stop blocks until the worker has flushed, and the worker blocks on a full
		// fill channel, so drain concurrently.
		var flushed []domain.Fill
		drained := make(chan struct{})
		go func() {
			defer close(drained)
			for f := range e.executor.Fills() {
				flushed = append(flushed, f)
			}
		}()
		e.executor.Stop()
		<-drained

		e.runPhase(ctx, phaseFills, func(ctx context.Context) error {
			for _, f := range flushed {
				e.applyFill(ctx, f)
			}
			return nil
		})
		e.runPhase(ctx, phaseMetrics, e.refreshMetrics)

		e.setState(StateStopped)
		e.logger.Info(ctx, "Shutdown complete", ports.Fields{"flushedFills": len(flushed), "openOrders": len(e.openOrders)})
	})
}

func (e *TradingEngine) subscribe(ctx context.Context) (func(), error) {
	var stops []func()
	unsubscribe := func() {
		for _, stop := range stops {
			stop()
		}
	}
	for _, symbol := range e.cfg.Symbols {
		stop, err := e.market.Subscribe(ctx, symbol, e.onTick)
		if err != nil {
			unsubscribe()
			return nil, fmt.Errorf("subscribe %s: %w", symbol, err)
		}
		stops = append(stops, stop)
	}
	return unsubscribe, nil
}

// onTick runs on a stream goroutine; it only touches the risk manager.
func (e *TradingEngine) onTick(md domain.MarketData) {
	e.risk.UpdatePrice(md.Symbol, md.LastPrice)
}

func (e *TradingEngine) setState(s State) {
	e.state.Store(int32(s))
	e.metrics.SetEngineState(int(s))
}

// State returns the current lifecycle state.
func (e *TradingEngine) State() State {
	return State(e.state.Load())
}

// Stats returns activity counters.
func (e *TradingEngine) Stats() Stats {
	return Stats{
		Iterations:     e.iterations.Load(),
		OrdersAccepted: e.accepted.Load(),
		OrdersRejected: e.rejected.Load(),
		FillsApplied:   e.fills.Load(),
		OpenOrders:     e.open.Load(),
	}
}

// Symbols returns the traded symbols.
func (e *TradingEngine) Symbols() []string {
	return append([]string(nil), e.cfg.Symbols...)
}

// RiskMetrics returns a copy of the latest risk metrics.
func (e *TradingEngine) RiskMetrics() map[string]float64 {
	return e.risk.GetRiskMetrics()
}

// PortfolioSummary returns the snapshot published by the last metrics refresh.
func (e *TradingEngine) PortfolioSummary() domain.PortfolioSummary {
	s := *e.summary.Load()
	s.Positions = append([]domain.PositionSummary(nil), s.Positions...)
	return s
}

func (e *TradingEngine) persistNew(ctx context.Context, order *domain.Order) {
	if err := e.repo.CreateOrder(ctx, order); err != nil {
		e.logger.Error(ctx, err, "Failed to persist order", ports.Fields{"orderID": order.ID})
	}
}

func (e *TradingEngine) persistUpdate(ctx context.Context, order *domain.Order) {
	if err := e.repo.UpdateOrder(ctx, order); err != nil {
		e.logger.Error(ctx, err, "Failed to update order", ports.Fields{"orderID": order.ID, "status": order.Status})
	}
}

func isPositive(v float64) bool {
	return v > 0 && !math.IsInf(v, 0)
}

type noopMetrics struct{}

func (noopMetrics) ObserveDecision(string, bool, string) {}
func (noopMetrics) ObservePhaseError(string)             {}
func (noopMetrics) ObserveFill(string, string)           {}
func (noopMetrics) SetRiskMetrics(map[string]float64)    {}
func (noopMetrics) SetPortfolio(float64, float64)        {}
func (noopMetrics) SetEngineState(int)                   {}
func (noopMetrics) ObserveIteration(float64)             {}
