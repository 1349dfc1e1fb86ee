package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tradingEngine/internal/adapters/metrics"
	"tradingEngine/internal/adapters/sqlite"
	"tradingEngine/internal/app"
	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
)

type mockLogger struct{}

func (m *mockLogger) Debug(ctx context.Context, msg string, fields ...ports.Fields)            {}
func (m *mockLogger) Info(ctx context.Context, msg string, fields ...ports.Fields)             {}
func (m *mockLogger) Warn(ctx context.Context, msg string, fields ...ports.Fields)             {}
func (m *mockLogger) Error(ctx context.Context, err error, msg string, fields ...ports.Fields) {}

type fakeEngine struct {
	state   app.State
	summary domain.PortfolioSummary
}

func (f *fakeEngine) State() app.State  { return f.state }
func (f *fakeEngine) Stats() app.Stats  { return app.Stats{Iterations: 12, OrdersAccepted: 2, OrdersRejected: 1} }
func (f *fakeEngine) Symbols() []string { return []string{"BTCUSDT"} }
func (f *fakeEngine) RiskMetrics() map[string]float64 {
	return map[string]float64{"drawdown": 0.01, "leverage": 0.5, "daily_pnl": -120, "concentration": 0.09}
}
func (f *fakeEngine) PortfolioSummary() domain.PortfolioSummary { return f.summary }

func setup(t *testing.T) (*Server, *sqlite.Repository, *fakeEngine) {
	t.Helper()
	repo, err := sqlite.NewRepository(sqlite.Config{
		DBPath: filepath.Join(t.TempDir(), "api.db"),
		Logger: &mockLogger{},
	})
	require.NoError(t, err)
	t.Cleanup(func() { repo.Close() })

	engine := &fakeEngine{
		state: app.StateRunning,
		summary: domain.PortfolioSummary{
			TotalValue: 1_000_500,
			Cash:       910_000,
			Positions:  []domain.PositionSummary{{Symbol: "BTCUSDT", Quantity: 1000, Priced: true}},
			Timestamp:  time.Now(),
		},
	}
	srv, err := NewServer(ServerConfig{
		Engine:  engine,
		Orders:  repo,
		Metrics: metrics.NewRecorder().Handler(),
		Logger:  &mockLogger{},
	})
	require.NoError(t, err)
	return srv, repo, engine
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	rec := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func decode(t *testing.T, rec *httptest.ResponseRecorder, v interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), v))
}

func TestNewServer_RequiresDependencies(t *testing.T) {
	_, err := NewServer(ServerConfig{})
	assert.Error(t, err)
}

func TestServer_Status(t *testing.T) {
	srv, repo, engine := setup(t)
	ctx := context.Background()

	o, err := domain.NewOrder("BTCUSDT", domain.Buy, domain.Market, 1)
	require.NoError(t, err)
	require.NoError(t, repo.CreateOrder(ctx, o))

	rec := get(t, srv, "/status")
	require.Equal(t, http.StatusOK, rec.Code)

	var body statusResponse
	decode(t, rec, &body)
	assert.Equal(t, "running", body.State)
	assert.True(t, body.Running)
	assert.Equal(t, []string{"BTCUSDT"}, body.Symbols)
	assert.Equal(t, int64(12), body.Stats.Iterations)
	assert.Equal(t, 1, body.OrderCounts["PENDING"])

	engine.state = app.StateStopped
	decode(t, get(t, srv, "/status"), &body)
	assert.Equal(t, "stopped", body.State)
	assert.False(t, body.Running)
}

func TestServer_PortfolioAndRisk(t *testing.T) {
	srv, _, _ := setup(t)

	rec := get(t, srv, "/portfolio")
	require.Equal(t, http.StatusOK, rec.Code)
	var summary domain.PortfolioSummary
	decode(t, rec, &summary)
	assert.Equal(t, 910_000.0, summary.Cash)
	require.Len(t, summary.Positions, 1)
	assert.Equal(t, "BTCUSDT", summary.Positions[0].Symbol)

	rec = get(t, srv, "/risk/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	var metrics map[string]float64
	decode(t, rec, &metrics)
	assert.Equal(t, 0.5, metrics["leverage"])
	assert.Equal(t, -120.0, metrics["daily_pnl"])
}

func TestServer_Orders(t *testing.T) {
	srv, repo, _ := setup(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 3; i++ {
		o, err := domain.NewOrder("ETHUSDT", domain.Sell, domain.Market, float64(i+1))
		require.NoError(t, err)
		require.NoError(t, repo.CreateOrder(ctx, o))
		ids = append(ids, o.ID)
	}

	rec := get(t, srv, "/orders?symbol=ETHUSDT&limit=2")
	require.Equal(t, http.StatusOK, rec.Code)
	var list struct {
		Orders []orderView `json:"orders"`
	}
	decode(t, rec, &list)
	assert.Len(t, list.Orders, 2)

	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/orders").Code)
	assert.Equal(t, http.StatusBadRequest, get(t, srv, "/orders?symbol=ETHUSDT&limit=x").Code)

	rec = get(t, srv, "/orders/"+ids[0])
	require.Equal(t, http.StatusOK, rec.Code)
	var view orderView
	decode(t, rec, &view)
	assert.Equal(t, ids[0], view.ID)
	assert.Equal(t, "SELL", view.Side)
	assert.Equal(t, "PENDING", view.Status)

	assert.Equal(t, http.StatusNotFound, get(t, srv, "/orders/ORD-missing").Code)
}

func TestServer_MetricsAndHealth(t *testing.T) {
	srv, _, _ := setup(t)

	rec := get(t, srv, "/metrics")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "trading_engine_engine_state")

	rec = get(t, srv, "/healthz")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())
}
