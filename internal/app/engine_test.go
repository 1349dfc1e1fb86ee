package app

import (
	"bytes"
	"context"
	"errors"
	"os"
	"sync"
	"sync/atomic"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
	"tradingEngine/internal/risk"
)

// Mock implementations
type mockLogger struct {
	mu        sync.Mutex
	infoMsgs  []string
	warnMsgs  []string
	errorMsgs []string
}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields) {}

func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infoMsgs = append(m.infoMsgs, msg)
}

func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.warnMsgs = append(m.warnMsgs, msg)
}

func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errorMsgs = append(m.errorMsgs, msg)
}

func (m *mockLogger) has(level, msg string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	var msgs []string
	switch level {
	case "info":
		msgs = m.infoMsgs
	case "warn":
		msgs = m.warnMsgs
	case "error":
		msgs = m.errorMsgs
	}
	for _, s := range msgs {
		if s == msg {
			return true
		}
	}
	return false
}

type mockMarket struct {
	mu           sync.Mutex
	prices       map[string]float64
	errs         map[string]error
	fetches      int
	onFetch      func(n int)
	ticks        map[string]func(domain.MarketData)
	unsubscribed atomic.Int32
}

func newMockMarket(prices map[string]float64) *mockMarket {
	return &mockMarket{prices: prices, errs: map[string]error{}, ticks: map[string]func(domain.MarketData){}}
}

func (m *mockMarket) FetchLatest(ctx context.Context, symbol string) (*domain.MarketData, error) {
	m.mu.Lock()
	m.fetches++
	n := m.fetches
	hook := m.onFetch
	price, ok := m.prices[symbol]
	err := m.errs[symbol]
	m.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ports.ErrNoMarketData
	}
	return &domain.MarketData{Symbol: symbol, LastPrice: price, Timestamp: time.Now()}, nil
}

func (m *mockMarket) Subscribe(ctx context.Context, symbol string, onTick func(domain.MarketData)) (func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ticks[symbol] = onTick
	return func() { m.unsubscribed.Add(1) }, nil
}

func (m *mockMarket) fetchCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.fetches
}

type mockStrategy struct {
	mu         sync.Mutex
	pending    []domain.Signal
	fed        int
	drains     int
	panicOnGet bool
}

func (m *mockStrategy) OnMarketData(data domain.MarketData) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fed++
}

func (m *mockStrategy) GetSignals() []domain.Signal {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.drains++
	if m.panicOnGet {
		panic("strategy exploded")
	}
	out := m.pending
	m.pending = nil
	return out
}

func (m *mockStrategy) push(sig domain.Signal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pending = append(m.pending, sig)
}

func (m *mockStrategy) drainCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.drains
}

type mockExecutor struct {
	mu          sync.Mutex
	startErr    error
	respond     func(o domain.Order) *domain.Fill // nil posts nothing
	flushOnStop bool                              // hold fills until Stop
	submitted   []domain.Order
	held        []domain.Fill
	fills       chan domain.Fill
	stops       atomic.Int32
	stopOnce    sync.Once
}

func newMockExecutor() *mockExecutor {
	return &mockExecutor{fills: make(chan domain.Fill, 64)}
}

func (m *mockExecutor) Start(ctx context.Context) error { return m.startErr }

func (m *mockExecutor) Stop() {
	m.stops.Add(1)
	m.stopOnce.Do(func() {
		m.mu.Lock()
		held := m.held
		m.mu.Unlock()
		for _, f := range held {
			m.fills <- f
		}
		close(m.fills)
	})
}

func (m *mockExecutor) SubmitOrder(order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.submitted = append(m.submitted, *order)
	if m.respond == nil {
		return nil
	}
	if f := m.respond(*order); f != nil {
		if m.flushOnStop {
			m.held = append(m.held, *f)
		} else {
			m.fills <- *f
		}
	}
	return nil
}

func (m *mockExecutor) Fills() <-chan domain.Fill { return m.fills }

func (m *mockExecutor) submittedOrders() []domain.Order {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]domain.Order(nil), m.submitted...)
}

func fullFill(o domain.Order) *domain.Fill {
	return &domain.Fill{
		OrderID:   o.ID,
		Symbol:    o.Symbol,
		Side:      o.Side,
		Status:    domain.StatusFilled,
		Quantity:  o.Quantity,
		Price:     o.Price,
		Timestamp: time.Now(),
	}
}

type mockRepo struct {
	mu     sync.Mutex
	orders map[string]domain.Order
	fills  []domain.Fill
}

func newMockRepo() *mockRepo { return &mockRepo{orders: map[string]domain.Order{}} }

func (m *mockRepo) CreateOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; ok {
		return ports.ErrDuplicateEntry
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *mockRepo) UpdateOrder(ctx context.Context, order *domain.Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.orders[order.ID]; !ok {
		return ports.ErrNotFound
	}
	m.orders[order.ID] = *order
	return nil
}

func (m *mockRepo) FindOrderByID(ctx context.Context, id string) (*domain.Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.orders[id]
	if !ok {
		return nil, nil
	}
	return &o, nil
}

func (m *mockRepo) FindOrdersBySymbol(ctx context.Context, symbol string, limit int) ([]*domain.Order, error) {
	return nil, nil
}

func (m *mockRepo) CreateFill(ctx context.Context, fill *domain.Fill) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.fills = append(m.fills, *fill)
	return int64(len(m.fills)), nil
}

func (m *mockRepo) CountOrdersByStatus(ctx context.Context) (map[domain.OrderStatus]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	counts := map[domain.OrderStatus]int{}
	for _, o := range m.orders {
		counts[o.Status]++
	}
	return counts, nil
}

func (m *mockRepo) statuses() []domain.OrderStatus {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []domain.OrderStatus
	for _, o := range m.orders {
		out = append(out, o.Status)
	}
	return out
}

type mockMetrics struct {
	noopMetrics
	mu               sync.Mutex
	phaseErrors      map[string]int
	decisions        []string
	states           []State
	panicOnIteration bool
}

func (m *mockMetrics) SetEngineState(state int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states = append(m.states, State(state))
}

func (m *mockMetrics) exportedStates() []State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]State(nil), m.states...)
}

func (m *mockMetrics) ObservePhaseError(phase string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.phaseErrors == nil {
		m.phaseErrors = map[string]int{}
	}
	m.phaseErrors[phase]++
}

func (m *mockMetrics) ObserveDecision(symbol string, approved bool, check string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.decisions = append(m.decisions, check)
}

func (m *mockMetrics) ObserveIteration(float64) {
	if m.panicOnIteration {
		panic("metrics sink failed")
	}
}

func (m *mockMetrics) phaseErrorCount(phase string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.phaseErrors[phase]
}

// Test harness
type harness struct {
	engine   *TradingEngine
	logger   *mockLogger
	market   *mockMarket
	strategy *mockStrategy
	executor *mockExecutor
	repo     *mockRepo
	metrics  *mockMetrics
	risk     *risk.Manager
	sigCh    chan os.Signal
}

func defaultLimits() domain.RiskLimits {
	return domain.RiskLimits{
		MaxPositionSize:       0.1,
		MaxLeverage:           2.0,
		MaxDrawdown:           0.2,
		DailyLossLimit:        50_000,
		PositionConcentration: 0.15,
	}
}

func newHarness(t *testing.T, cfg EngineConfig, limits domain.RiskLimits) *harness {
	t.Helper()
	rm, err := risk.NewManager(limits)
	require.NoError(t, err)

	h := &harness{
		logger:   &mockLogger{},
		market:   newMockMarket(map[string]float64{"BTCUSDT": 100}),
		strategy: &mockStrategy{},
		executor: newMockExecutor(),
		repo:     newMockRepo(),
		metrics:  &mockMetrics{},
		risk:     rm,
		sigCh:    make(chan os.Signal, 1),
	}
	if len(cfg.Symbols) == 0 {
		cfg.Symbols = []string{"BTCUSDT"}
	}
	if cfg.PositionSizeFraction == 0 {
		cfg.PositionSizeFraction = 0.1
	}
	if cfg.InitialCapital == 0 {
		cfg.InitialCapital = 1_000_000
	}
	if cfg.PollInterval == 0 {
		cfg.PollInterval = 5 * time.Millisecond
	}
	return h.build(t, cfg)
}

func (h *harness) build(t *testing.T, cfg EngineConfig) *harness {
	t.Helper()
	e, err := NewTradingEngine(cfg, Dependencies{
		Logger:     h.logger,
		MarketData: h.market,
		Strategy:   h.strategy,
		Executor:   h.executor,
		Risk:       h.risk,
		Repository: h.repo,
		Metrics:    h.metrics,
		Signals: func() (<-chan os.Signal, func()) {
			return h.sigCh, func() {}
		},
	})
	require.NoError(t, err)
	h.engine = e
	return h
}

func (h *harness) run(ctx context.Context) <-chan error {
	errCh := make(chan error, 1)
	go func() { errCh <- h.engine.Run(ctx) }()
	return errCh
}

func waitRun(t *testing.T, errCh <-chan error) error {
	t.Helper()
	select {
	case err := <-errCh:
		return err
	case <-time.After(3 * time.Second):
		t.Fatal("engine did not stop")
		return nil
	}
}

func TestNewTradingEngine_Validation(t *testing.T) {
	rm, err := risk.NewManager(defaultLimits())
	require.NoError(t, err)
	deps := Dependencies{
		Logger:     &mockLogger{},
		MarketData: newMockMarket(nil),
		Strategy:   &mockStrategy{},
		Executor:   newMockExecutor(),
		Risk:       rm,
		Repository: newMockRepo(),
	}
	valid := EngineConfig{Symbols: []string{"BTCUSDT"}, PositionSizeFraction: 0.1, InitialCapital: 1000}

	tests := []struct {
		name   string
		cfg    func(c EngineConfig) EngineConfig
		deps   func(d Dependencies) Dependencies
		wantOK bool
	}{
		{name: "valid", wantOK: true},
		{name: "no symbols", cfg: func(c EngineConfig) EngineConfig { c.Symbols = nil; return c }},
		{name: "empty symbol", cfg: func(c EngineConfig) EngineConfig { c.Symbols = []string{""}; return c }},
		{name: "zero fraction", cfg: func(c EngineConfig) EngineConfig { c.PositionSizeFraction = 0; return c }},
		{name: "fraction above one", cfg: func(c EngineConfig) EngineConfig { c.PositionSizeFraction = 1.5; return c }},
		{name: "no capital", cfg: func(c EngineConfig) EngineConfig { c.InitialCapital = 0; return c }},
		{name: "missing executor", deps: func(d Dependencies) Dependencies { d.Executor = nil; return d }},
		{name: "missing risk manager", deps: func(d Dependencies) Dependencies { d.Risk = nil; return d }},
		{name: "missing repository", deps: func(d Dependencies) Dependencies { d.Repository = nil; return d }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg, d := valid, deps
			if tt.cfg != nil {
				cfg = tt.cfg(cfg)
			}
			if tt.deps != nil {
				d = tt.deps(d)
			}
			e, err := NewTradingEngine(cfg, d)
			if tt.wantOK {
				require.NoError(t, err)
				assert.Equal(t, StateInitializing, e.State())
				assert.Equal(t, defaultPollInterval, e.cfg.PollInterval)
				assert.Equal(t, 1000.0, e.PortfolioSummary().TotalValue)
				return
			}
			assert.ErrorIs(t, err, ports.ErrConfigurationError)
		})
	}
}

func TestTradingEngine_SignalBecomesFilledPosition(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.executor.respond = fullFill
	h.strategy.push(domain.Signal{Symbol: "BTCUSDT", Side: domain.Buy, Strength: 1})

	errCh := h.run(context.Background())
	require.Eventually(t, func() bool { return h.engine.Stats().FillsApplied == 1 }, 2*time.Second, 5*time.Millisecond)
	require.Eventually(t, func() bool { return h.engine.PortfolioSummary().Cash < 1_000_000 }, 2*time.Second, 5*time.Millisecond)
	h.sigCh <- syscall.SIGTERM
	require.NoError(t, waitRun(t, errCh))

	submitted := h.executor.submittedOrders()
	require.Len(t, submitted, 1)
	// 1,000,000 x 0.1 x 1.0 at 100
	assert.InDelta(t, 1000.0, submitted[0].Quantity, 1e-9)
	assert.Equal(t, 100.0, submitted[0].Price)
	assert.Equal(t, domain.Market, submitted[0].Type)

	summary := h.engine.PortfolioSummary()
	assert.InDelta(t, 900_000.0, summary.Cash, 1e-6)
	assert.InDelta(t, 1_000_000.0, summary.TotalValue, 1e-6)
	require.Len(t, summary.Positions, 1)
	assert.InDelta(t, 1000.0, summary.Positions[0].Quantity, 1e-9)

	assert.Equal(t, []domain.OrderStatus{domain.StatusFilled}, h.repo.statuses())
	stats := h.engine.Stats()
	assert.Equal(t, int64(1), stats.OrdersAccepted)
	assert.Zero(t, stats.OpenOrders)
	assert.InDelta(t, 0.1, h.engine.RiskMetrics()[risk.MetricConcentration], 1e-9)
}

func TestTradingEngine_RejectedOrderIsDroppedAndRecorded(t *testing.T) {
	limits := defaultLimits()
	limits.MaxPositionSize = 0.05
	h := newHarness(t, EngineConfig{}, limits)
	h.strategy.push(domain.Signal{Symbol: "BTCUSDT", Side: domain.Buy, Strength: 1})

	errCh := h.run(context.Background())
	require.Eventually(t, func() bool { return h.engine.Stats().OrdersRejected == 1 }, 2*time.Second, 5*time.Millisecond)
	h.engine.Stop()
	require.NoError(t, waitRun(t, errCh))

	assert.Empty(t, h.executor.submittedOrders())
	assert.Equal(t, []domain.OrderStatus{domain.StatusRejected}, h.repo.statuses())
	assert.True(t, h.logger.has("warn", "Order rejected by risk manager"))
	h.metrics.mu.Lock()
	assert.Equal(t, []string{"position_size"}, h.metrics.decisions)
	h.metrics.mu.Unlock()
}

func TestTradingEngine_InterruptFinishesIterationAndStopsOnce(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.market.onFetch = func(n int) {
		if n != 3 {
			return
		}
		h.sigCh <- os.Interrupt
		// Hold the iteration until the stop request has landed.
		select {
		case <-h.engine.stopCh:
		case <-time.After(2 * time.Second):
		}
	}

	errCh := h.run(context.Background())
	require.NoError(t, waitRun(t, errCh))

	assert.Equal(t, int32(1), h.executor.stops.Load())
	assert.Equal(t, 3, h.market.fetchCount(), "no iteration may start after the interrupt")
	assert.Equal(t, 3, h.strategy.drainCount(), "the interrupted iteration runs to completion")
	assert.Equal(t, int64(3), h.engine.Stats().Iterations)
	assert.Equal(t, StateStopped, h.engine.State())
	assert.True(t, h.logger.has("info", "Received shutdown signal"))
}

func TestTradingEngine_ContextCancelStops(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	ctx, cancel := context.WithCancel(context.Background())

	errCh := h.run(ctx)
	require.Eventually(t, func() bool { return h.engine.State() == StateRunning }, time.Second, time.Millisecond)
	cancel()
	require.NoError(t, waitRun(t, errCh))

	assert.Equal(t, int32(1), h.executor.stops.Load())
	assert.Equal(t, StateStopped, h.engine.State())

	// A second Run is refused.
	assert.Error(t, h.engine.Run(context.Background()))
}

func TestTradingEngine_StopBeforeRunSkipsRunningState(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.engine.Stop()

	require.NoError(t, h.engine.Run(context.Background()))

	assert.Zero(t, h.engine.Stats().Iterations)
	assert.Zero(t, h.market.fetchCount())
	assert.Equal(t, int32(1), h.executor.stops.Load())
	assert.Equal(t, StateStopped, h.engine.State())
	states := h.metrics.exportedStates()
	assert.NotContains(t, states, StateRunning)
	assert.Equal(t, StateStopped, states[len(states)-1])
}

func TestTradingEngine_FillsRefreshRiskBeforeSignals(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	e := h.engine
	h.risk.UpdateCurrentPrices(map[string]float64{"BTCUSDT": 100})

	order, err := domain.NewOrder("BTCUSDT", domain.Buy, domain.Market, 1000)
	require.NoError(t, err)
	require.NoError(t, order.SetPrice(100))
	e.openOrders[order.ID] = order
	h.executor.fills <- *fullFill(*order)

	assert.Zero(t, h.risk.GetRiskMetrics()[risk.MetricLeverage])
	require.NoError(t, e.applyPendingFills(context.Background()))

	// 1000 x 100 of exposure on a 1,000,000 portfolio is visible to the next risk check.
	assert.InDelta(t, 0.1, h.risk.GetRiskMetrics()[risk.MetricLeverage], 1e-9)
	assert.InDelta(t, 0.1, h.risk.GetRiskMetrics()[risk.MetricConcentration], 1e-9)
	assert.Empty(t, e.openOrders)
}

func TestTradingEngine_NoFillsLeavesRiskUntouched(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.risk.UpdateCurrentPrices(map[string]float64{"BTCUSDT": 100})
	h.engine.portfolio.UpdatePosition("BTCUSDT", 1000, 100)
	h.engine.portfolio.UpdateCash(-100_000)

	require.NoError(t, h.engine.applyPendingFills(context.Background()))

	// Without fills the refresh is left to the metrics phase.
	assert.Zero(t, h.risk.GetRiskMetrics()[risk.MetricLeverage])
}

func TestTradingEngine_PhaseFailuresAreIsolated(t *testing.T) {
	h := newHarness(t, EngineConfig{Symbols: []string{"ETHUSDT", "BTCUSDT"}}, defaultLimits())
	h.market.errs["ETHUSDT"] = ports.ErrConnectionFailed
	h.strategy.panicOnGet = true

	errCh := h.run(context.Background())
	require.Eventually(t, func() bool { return h.engine.Stats().Iterations >= 3 }, 2*time.Second, 5*time.Millisecond)
	h.engine.Stop()
	require.NoError(t, waitRun(t, errCh))

	assert.GreaterOrEqual(t, h.metrics.phaseErrorCount(phaseMarketData), 3)
	assert.GreaterOrEqual(t, h.metrics.phaseErrorCount(phaseSignals), 3)
	assert.Zero(t, h.metrics.phaseErrorCount(phaseMetrics))
	assert.True(t, h.logger.has("error", "Phase failed"))
	assert.True(t, h.logger.has("error", "Panic recovered in phase"))

	// The healthy symbol still reaches the strategy and the risk manager.
	assert.Equal(t, 100.0, h.risk.CurrentPrices()["BTCUSDT"])
	_, ok := h.risk.CurrentPrices()["ETHUSDT"]
	assert.False(t, ok)
}

func TestTradingEngine_LoopPanicShutsDownAndSurfaces(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.metrics.panicOnIteration = true

	err := waitRun(t, h.run(context.Background()))
	assert.ErrorIs(t, err, ErrLoopFailure)
	assert.Equal(t, int32(1), h.executor.stops.Load())
	assert.Equal(t, StateStopped, h.engine.State())
}

func TestTradingEngine_ExecutorStartFailureIsFatal(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.executor.startErr = errors.New("no venue")

	err := waitRun(t, h.run(context.Background()))
	assert.Error(t, err)
	assert.Zero(t, h.market.fetchCount())
	assert.Equal(t, StateStopped, h.engine.State())
}

func TestTradingEngine_AppliesFillsFlushedOnShutdown(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.executor.respond = fullFill
	h.executor.flushOnStop = true
	h.strategy.push(domain.Signal{Symbol: "BTCUSDT", Side: domain.Sell, Strength: 0.5})

	errCh := h.run(context.Background())
	require.Eventually(t, func() bool { return h.engine.Stats().OrdersAccepted == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, int64(1), h.engine.Stats().OpenOrders)
	h.engine.Stop()
	require.NoError(t, waitRun(t, errCh))

	stats := h.engine.Stats()
	assert.Equal(t, int64(1), stats.FillsApplied)
	assert.Zero(t, stats.OpenOrders)

	summary := h.engine.PortfolioSummary()
	require.Len(t, summary.Positions, 1)
	assert.InDelta(t, -500.0, summary.Positions[0].Quantity, 1e-9)
	assert.InDelta(t, 1_050_000.0, summary.Cash, 1e-6)
}

func TestTradingEngine_VenueRejectionLeavesPortfolioUntouched(t *testing.T) {
	h := newHarness(t, EngineConfig{}, defaultLimits())
	h.executor.respond = func(o domain.Order) *domain.Fill {
		return &domain.Fill{OrderID: o.ID, Symbol: o.Symbol, Side: o.Side, Status: domain.StatusRejected, Reason: "margin"}
	}
	h.strategy.push(domain.Signal{Symbol: "BTCUSDT", Side: domain.Buy, Strength: 1})

	errCh := h.run(context.Background())
	require.Eventually(t, func() bool { return h.engine.Stats().FillsApplied == 1 }, 2*time.Second, 5*time.Millisecond)
	h.engine.Stop()
	require.NoError(t, waitRun(t, errCh))

	assert.Equal(t, []domain.OrderStatus{domain.StatusRejected}, h.repo.statuses())
	assert.Empty(t, h.engine.PortfolioSummary().Positions)
	assert.True(t, h.logger.has("warn", "Order rejected by venue"))
}

func TestTradingEngine_StreamingTicksReachRiskManager(t *testing.T) {
	h := newHarness(t, EngineConfig{StreamPrices: true}, defaultLimits())

	errCh := h.run(context.Background())
	require.Eventually(t, func() bool {
		h.market.mu.Lock()
		defer h.market.mu.Unlock()
		return h.market.ticks["BTCUSDT"] != nil
	}, time.Second, time.Millisecond)

	h.market.mu.Lock()
	onTick := h.market.ticks["BTCUSDT"]
	h.market.mu.Unlock()
	onTick(domain.MarketData{Symbol: "SOLUSDT", LastPrice: 25})

	// Streamed prices survive the merge from the polling phase.
	require.Eventually(t, func() bool { return h.engine.Stats().Iterations >= 2 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, 25.0, h.risk.CurrentPrices()["SOLUSDT"])

	h.engine.Stop()
	require.NoError(t, waitRun(t, errCh))
	assert.Equal(t, int32(1), h.market.unsubscribed.Load())
}

func TestWriteSummaries(t *testing.T) {
	var buf bytes.Buffer
	cfg := EngineConfig{Symbols: []string{"BTCUSDT", "ETHUSDT"}, PositionSizeFraction: 0.1, InitialCapital: 1_000_000, PollInterval: 100 * time.Millisecond}
	WriteStartupSummary(&buf, cfg, defaultLimits(), "paper")
	out := buf.String()
	assert.Contains(t, out, "TRADING ENGINE")
	assert.Contains(t, out, "BTCUSDT, ETHUSDT")
	assert.Contains(t, out, "15.00%")

	buf.Reset()
	p := domain.NewPortfolio(1000)
	p.UpdatePosition("BTCUSDT", 1, 100)
	p.UpdateCash(-100)
	WritePortfolioSummary(&buf, p.Summary(map[string]float64{"BTCUSDT": 110}, time.Now()))
	out = buf.String()
	assert.Contains(t, out, "PORTFOLIO")
	assert.Contains(t, out, "BTCUSDT")
	assert.Contains(t, out, "1010.00")
}

func TestState_String(t *testing.T) {
	assert.Equal(t, "initializing", StateInitializing.String())
	assert.Equal(t, "running", StateRunning.String())
	assert.Equal(t, "shutting_down", StateShuttingDown.String())
	assert.Equal(t, "stopped", StateStopped.String())
	assert.Equal(t, "state(9)", State(9).String())
}
