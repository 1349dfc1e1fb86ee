package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"tradingEngine/internal/app"
	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
)

const (
	defaultAddr       = ":8080"
	defaultOrderLimit = 50
	maxOrderLimit     = 500
)

// EngineView is the read side of the trading engine served to dashboards.
type EngineView interface {
	State() app.State
	Stats() app.Stats
	Symbols() []string
	RiskMetrics() map[string]float64
	PortfolioSummary() domain.PortfolioSummary
}

// ServerConfig describes the dependencies of the status API.
type ServerConfig struct {
	Addr    string
	Engine  EngineView
	Orders  ports.OrderRepository
	Metrics http.Handler // Served on /metrics when set
	Logger  ports.Logger
}

// Server is a read-only HTTP API over engine state.
type Server struct {
	addr   string
	router *gin.Engine
	engine EngineView
	orders ports.OrderRepository
	logger ports.Logger
}

// NewServer builds the router.
func NewServer(cfg ServerConfig) (*Server, error) {
	if cfg.Engine == nil || cfg.Orders == nil || cfg.Logger == nil {
		return nil, errors.New("status server requires engine, order repository and logger")
	}
	if cfg.Addr == "" {
		cfg.Addr = defaultAddr
	}

	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	s := &Server{
		addr:   cfg.Addr,
		router: router,
		engine: cfg.Engine,
		orders: cfg.Orders,
		logger: cfg.Logger,
	}
	router.Use(gin.Recovery(), s.requestLogger())

	router.GET("/healthz", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	})
	router.GET("/status", s.handleStatus)
	router.GET("/portfolio", s.handlePortfolio)
	router.GET("/risk/metrics", s.handleRiskMetrics)
	router.GET("/orders", s.handleOrders)
	router.GET("/orders/:id", s.handleOrderByID)
	if cfg.Metrics != nil {
		router.GET("/metrics", gin.WrapH(cfg.Metrics))
	}
	return s, nil
}

// Handler exposes the router, mainly for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Addr returns the listen address.
func (s *Server) Addr() string {
	return s.addr
}

// Start serves until ctx is cancelled or the listener fails.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{Addr: s.addr, Handler: s.router, ReadHeaderTimeout: 5 * time.Second}
	errCh := make(chan error, 1)
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()
	s.logger.Info(ctx, "Status server listening", ports.Fields{"addr": s.addr})

	select {
	case <-ctx.Done():
		shCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shCtx)
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) requestLogger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		s.logger.Debug(c.Request.Context(), "HTTP request", ports.Fields{
			"method":   c.Request.Method,
			"path":     c.Request.URL.Path,
			"status":   c.Writer.Status(),
			"ip":       c.ClientIP(),
			"duration": time.Since(start).String(),
		})
	}
}

type statusResponse struct {
	State       string         `json:"state"`
	Running     bool           `json:"running"`
	Symbols     []string       `json:"symbols"`
	Stats       app.Stats      `json:"stats"`
	OrderCounts map[string]int `json:"order_counts,omitempty"`
}

func (s *Server) handleStatus(c *gin.Context) {
	state := s.engine.State()
	resp := statusResponse{
		State:   state.String(),
		Running: state == app.StateRunning,
		Symbols: s.engine.Symbols(),
		Stats:   s.engine.Stats(),
	}
	counts, err := s.orders.CountOrdersByStatus(c.Request.Context())
	if err != nil {
		s.logger.Warn(c.Request.Context(), "Failed to count orders for status", ports.Fields{"error": err.Error()})
	} else {
		resp.OrderCounts = make(map[string]int, len(counts))
		for status, n := range counts {
			resp.OrderCounts[string(status)] = n
		}
	}
	c.JSON(http.StatusOK, resp)
}

func (s *Server) handlePortfolio(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.PortfolioSummary())
}

func (s *Server) handleRiskMetrics(c *gin.Context) {
	c.JSON(http.StatusOK, s.engine.RiskMetrics())
}

type orderView struct {
	ID             string    `json:"id"`
	Symbol         string    `json:"symbol"`
	Side           string    `json:"side"`
	Type           string    `json:"type"`
	Quantity       float64   `json:"quantity"`
	Price          float64   `json:"price"`
	Status         string    `json:"status"`
	FilledQuantity float64   `json:"filled_quantity"`
	AvgFillPrice   float64   `json:"avg_fill_price"`
	CreatedAt      time.Time `json:"created_at"`
	UpdatedAt      time.Time `json:"updated_at"`
}

func toOrderView(o *domain.Order) orderView {
	return orderView{
		ID:             o.ID,
		Symbol:         o.Symbol,
		Side:           string(o.Side),
		Type:           string(o.Type),
		Quantity:       o.Quantity,
		Price:          o.Price,
		Status:         string(o.Status),
		FilledQuantity: o.FilledQuantity,
		AvgFillPrice:   o.AvgFillPrice,
		CreatedAt:      o.CreatedAt,
		UpdatedAt:      o.UpdatedAt,
	}
}

func (s *Server) handleOrders(c *gin.Context) {
	symbol := c.Query("symbol")
	if symbol == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "symbol is required"})
		return
	}
	limit := defaultOrderLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		limit = min(n, maxOrderLimit)
	}

	orders, err := s.orders.FindOrdersBySymbol(c.Request.Context(), symbol, limit)
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to list orders", ports.Fields{"symbol": symbol})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to list orders"})
		return
	}
	views := make([]orderView, 0, len(orders))
	for _, o := range orders {
		views = append(views, toOrderView(o))
	}
	c.JSON(http.StatusOK, gin.H{"orders": views})
}

func (s *Server) handleOrderByID(c *gin.Context) {
	id := c.Param("id")
	order, err := s.orders.FindOrderByID(c.Request.Context(), id)
	if err != nil {
		s.logger.Error(c.Request.Context(), err, "Failed to find order", ports.Fields{"orderID": id})
		c.JSON(http.StatusInternalServerError, gin.H{"error": "failed to find order"})
		return
	}
	if order == nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "order not found"})
		return
	}
	c.JSON(http.StatusOK, toOrderView(order))
}
