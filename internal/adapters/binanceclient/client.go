package binanceclient

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"

	"github.com/adshao/go-binance/v2/common"
	"github.com/adshao/go-binance/v2/futures"
	"github.com/shopspring/decimal"
)

const (
	// Base URLs
	baseURLProduction = "https://fapi.binance.com"
	baseURLTestnet    = "https://testnet.binancefuture.com"

	defaultKlineInterval = "1m"
)

// Client implements ports.MarketDataSource and ports.OrderPlacer using the go-binance library.
type Client struct {
	futuresClient        *futures.Client
	logger               ports.Logger
	klineInterval        string
	quantityPrecision    int32
	pricePrecision       int32
	reconnectDelay       time.Duration
	maxReconnectAttempts int
	wsServe              wsServeFunc
}

var (
	_ ports.MarketDataSource = (*Client)(nil)
	_ ports.OrderPlacer      = (*Client)(nil)
)

// wsServeFunc matches futures.WsKlineServe so streams can be faked in tests.
type wsServeFunc func(symbol, interval string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) (chan struct{}, chan struct{}, error)

// Config holds configuration specific to the Binance client adapter.
type Config struct {
	APIKey               string
	SecretKey            string
	UseTestnet           bool
	BaseURL              string // Overrides the production/testnet URL when set
	Logger               ports.Logger
	KlineInterval        string        // Stream interval, e.g. "1m"
	QuantityPrecision    int           // Decimal places kept when sending quantities
	PricePrecision       int           // Decimal places kept when sending prices
	ReconnectDelay       time.Duration // Reconnect delay (e.g., 1 * time.Second)
	MaxReconnectAttempts int           // Max attempts before giving up
}

// New creates a new Binance client adapter.
func New(cfg Config) (*Client, error) {
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger is required for Binance client")
	}
	if cfg.QuantityPrecision < 0 || cfg.PricePrecision < 0 {
		return nil, fmt.Errorf("%w: negative precision", ports.ErrConfigurationError)
	}
	if cfg.APIKey == "" || cfg.SecretKey == "" {
		// Public endpoints still work; order placement will fail authentication.
		cfg.Logger.Warn(context.Background(), "APIKey or SecretKey is empty. Client will only work for public endpoints.")
	}

	client := futures.NewClient(cfg.APIKey, cfg.SecretKey)

	switch {
	case cfg.BaseURL != "":
		client.BaseURL = cfg.BaseURL
	case cfg.UseTestnet:
		client.BaseURL = baseURLTestnet
		cfg.Logger.Info(context.Background(), "Binance client configured for Testnet", ports.Fields{"baseURL": client.BaseURL})
	default:
		client.BaseURL = baseURLProduction
		cfg.Logger.Info(context.Background(), "Binance client configured for Production", ports.Fields{"baseURL": client.BaseURL})
	}

	reconnectDelay := cfg.ReconnectDelay
	if reconnectDelay <= 0 {
		reconnectDelay = 1 * time.Second
	}
	maxAttempts := cfg.MaxReconnectAttempts
	if maxAttempts <= 0 {
		maxAttempts = 10
	}
	interval := cfg.KlineInterval
	if interval == "" {
		interval = defaultKlineInterval
	}

	return &Client{
		futuresClient:        client,
		logger:               cfg.Logger,
		klineInterval:        interval,
		quantityPrecision:    int32(cfg.QuantityPrecision),
		pricePrecision:       int32(cfg.PricePrecision),
		reconnectDelay:       reconnectDelay,
		maxReconnectAttempts: maxAttempts,
		wsServe:              futures.WsKlineServe,
	}, nil
}

// handleError translates common Binance API errors into standardized ports errors.
func (c *Client) handleError(ctx context.Context, err error, operation string) error {
	if err == nil {
		return nil
	}

	fields := ports.Fields{"operation": operation}

	var apiErr *common.APIError
	if errors.As(err, &apiErr) {
		fields["apiErrorCode"] = apiErr.Code
		fields["apiErrorMessage"] = apiErr.Message
		finalErr := fmt.Errorf("%s failed: %w: %w", operation, mapAPIErrorCode(apiErr.Code), err)
		c.logger.Error(ctx, err, operation+" failed with API error", fields)
		return finalErr
	}

	var finalErr error
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrTimeout, err)
	case errors.Is(err, context.Canceled):
		finalErr = fmt.Errorf("%s operation canceled: %w: %w", operation, ports.ErrContextCanceled, err)
	case isConnectionError(err):
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrConnectionFailed, err)
	default:
		finalErr = fmt.Errorf("%s failed: %w: %w", operation, ports.ErrUnknown, err)
	}

	c.logger.Error(ctx, err, operation+" failed", fields)
	return finalErr
}

func mapAPIErrorCode(code int64) error {
	switch code {
	case 0, -1001, -1008: // Unparsable error body (gateway 5xx), internal error, server overloaded
		return ports.ErrExchangeUnavailable
	case -1003: // Too many requests
		return ports.ErrRateLimited
	case -1007, -1021: // Backend timeout, timestamp outside of the recvWindow
		return ports.ErrTimeout
	case -1022: // Signature not valid
		return ports.ErrAuthenticationFailed
	case -1101, -1102, -1103, -1104, -1105, -1106, -1111, -1115, -1116, -1117, -1120, -1121, -1125, -1127, -1128, -1130:
		return ports.ErrInvalidRequest
	case -2010, -2022: // New order rejected, ReduceOnly rejected
		return ports.ErrOrderPlacementFailed
	case -2014, -2015: // API-key format invalid; invalid key, IP or permissions
		return ports.ErrInvalidAPIKeys
	case -2019, -3005, -3041, -4047: // Margin, balance or position limit insufficient
		return ports.ErrInsufficientFunds
	case -4003, -4014, -4015: // Quantity, price or leverage out of range
		return ports.ErrInvalidRequest
	default:
		return ports.ErrUnknown
	}
}

func isConnectionError(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "use of closed network connection") ||
		strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "connection reset by peer")
}

// Ping checks the connectivity to the exchange API.
func (c *Client) Ping(ctx context.Context) error {
	op := "Ping"
	if err := c.futuresClient.NewPingService().Do(ctx); err != nil {
		return c.handleError(ctx, fmt.Errorf("ping failed: %w", err), op)
	}
	c.logger.Debug(ctx, op+" successful")
	return nil
}

// FetchLatest returns the 24h ticker snapshot for symbol.
func (c *Client) FetchLatest(ctx context.Context, symbol string) (*domain.MarketData, error) {
	op := "FetchLatest"
	stats, err := c.futuresClient.NewListPriceChangeStatsService().Symbol(symbol).Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if len(stats) == 0 || stats[0] == nil {
		return nil, fmt.Errorf("%s: %w: %s", op, ports.ErrNoMarketData, symbol)
	}

	md, err := translateTicker(stats[0])
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}
	if md.Symbol == "" {
		md.Symbol = symbol
	}
	return md, nil
}

// PlaceOrder sends order to the venue. Quantity and price are truncated to the
// configured precision; an order that truncates to zero is refused locally.
func (c *Client) PlaceOrder(ctx context.Context, order domain.Order, clientOrderID string) (*ports.OrderResponse, error) {
	op := "PlaceOrder"

	quantity, err := formatDecimal(order.Quantity, c.quantityPrecision)
	if err != nil {
		return nil, fmt.Errorf("%s: %w: quantity %v: %v", op, ports.ErrInvalidRequest, order.Quantity, err)
	}

	svc := c.futuresClient.NewCreateOrderService().
		Symbol(order.Symbol).
		Side(futures.SideType(order.Side)).
		Quantity(quantity).
		NewOrderResponseType(futures.NewOrderRespTypeRESULT)
	if clientOrderID != "" {
		svc = svc.NewClientOrderID(clientOrderID)
	}

	switch order.Type {
	case domain.Market:
		svc = svc.Type(futures.OrderTypeMarket)
	case domain.Limit:
		price, err := formatDecimal(order.Price, c.pricePrecision)
		if err != nil {
			return nil, fmt.Errorf("%s: %w: price %v: %v", op, ports.ErrInvalidRequest, order.Price, err)
		}
		svc = svc.Type(futures.OrderTypeLimit).TimeInForce(futures.TimeInForceTypeGTC).Price(price)
	default:
		return nil, fmt.Errorf("%s: %w: unsupported order type %s", op, ports.ErrInvalidRequest, order.Type)
	}

	res, err := svc.Do(ctx)
	if err != nil {
		return nil, c.handleError(ctx, err, op)
	}

	resp := translateOrderResponse(res)
	c.logger.Info(ctx, op+" successful", ports.Fields{
		"symbol":   order.Symbol,
		"side":     order.Side,
		"quantity": quantity,
		"orderID":  resp.OrderID,
		"status":   resp.Status,
		"avgPrice": resp.AvgPrice,
	})
	return resp, nil
}

// Subscribe streams kline updates for symbol and forwards each one to onTick as a
// MarketData snapshot. Dropped connections are re-established with exponential
// backoff until MaxReconnectAttempts consecutive failures.
func (c *Client) Subscribe(ctx context.Context, symbol string, onTick func(domain.MarketData)) (func(), error) {
	if onTick == nil {
		return nil, fmt.Errorf("%w: nil tick handler", ports.ErrInvalidRequest)
	}
	op := "Subscribe"
	wsCtx, cancelWs := context.WithCancel(ctx)
	fields := ports.Fields{"symbol": symbol, "interval": c.klineInterval}

	handler := func(event *futures.WsKlineEvent) {
		md, err := translateWsKline(event)
		if err != nil {
			c.logger.Error(wsCtx, err, op+": Failed to translate WebSocket kline event", fields)
			return
		}
		onTick(*md)
	}
	errHandler := func(err error) {
		c.logger.Warn(wsCtx, op+": WebSocket error reported", ports.Fields{"symbol": symbol, "error": err.Error()})
	}

	done := make(chan struct{})
	go func() {
		defer close(done)
		defer cancelWs()
		c.streamLoop(wsCtx, symbol, handler, errHandler)
	}()

	var once sync.Once
	stop := func() {
		once.Do(func() {
			cancelWs()
			<-done
		})
	}
	return stop, nil
}

func (c *Client) streamLoop(ctx context.Context, symbol string, handler futures.WsKlineHandler, errHandler futures.ErrHandler) {
	op := "Subscribe"
	fields := ports.Fields{"symbol": symbol, "interval": c.klineInterval}
	attempt := 0
	for {
		if ctx.Err() != nil {
			c.logger.Info(ctx, op+": Context cancelled, stopping connection attempts.", fields)
			return
		}

		innerDone, innerStop, err := c.wsServe(symbol, c.klineInterval, handler, errHandler)
		if err == nil {
			c.logger.Info(ctx, op+": WebSocket connection established.", fields)
			attempt = 0
			select {
			case <-innerDone:
				c.logger.Warn(ctx, op+": WebSocket connection closed unexpectedly. Reconnecting...", fields)
				err = errors.New("websocket closed")
			case <-ctx.Done():
				select {
				case innerStop <- struct{}{}:
				default:
				}
				c.logger.Info(ctx, op+": Context cancelled, stopping WebSocket.", fields)
				return
			}
		}

		attempt++
		if attempt > c.maxReconnectAttempts {
			c.logger.Error(ctx, ports.ErrStreamExhausted, op+": Max reconnection attempts exceeded, giving up.", ports.Fields{
				"symbol":      symbol,
				"maxAttempts": c.maxReconnectAttempts,
				"lastError":   err.Error(),
			})
			return
		}

		delay := backoffDelay(c.reconnectDelay, attempt)
		c.logger.Info(ctx, op+": Connection failed, retrying...", ports.Fields{"symbol": symbol, "attempt": attempt, "delay": delay.String()})
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			c.logger.Info(ctx, op+": Context cancelled during backoff.", fields)
			return
		}
	}
}

// backoffDelay doubles base for each attempt after the first, capped at one minute.
func backoffDelay(base time.Duration, attempt int) time.Duration {
	const maxDelay = time.Minute
	if attempt < 1 {
		attempt = 1
	}
	delay := base
	for i := 1; i < attempt; i++ {
		delay *= 2
		if delay >= maxDelay {
			return maxDelay
		}
	}
	return delay
}

// --- Translation Helpers ---

// formatDecimal truncates v to places decimal places. Values that are not positive
// after truncation are refused.
func formatDecimal(v float64, places int32) (string, error) {
	d := decimal.NewFromFloat(v).Truncate(places)
	if !d.IsPositive() {
		return "", fmt.Errorf("%v truncates to %s at %d decimal places", v, d.String(), places)
	}
	return d.String(), nil
}

func translateOrderStatus(s futures.OrderStatusType) domain.OrderStatus {
	switch s {
	case futures.OrderStatusTypeFilled:
		return domain.StatusFilled
	case futures.OrderStatusTypePartiallyFilled:
		return domain.StatusPartiallyFilled
	case futures.OrderStatusTypeCanceled, futures.OrderStatusTypeExpired:
		return domain.StatusCancelled
	case futures.OrderStatusTypeRejected:
		return domain.StatusRejected
	default:
		// NEW and any status the venue adds later rest on the book.
		return domain.StatusPending
	}
}

func translateOrderResponse(order *futures.CreateOrderResponse) *ports.OrderResponse {
	if order == nil {
		return nil
	}
	avgPrice, _ := strconv.ParseFloat(order.AvgPrice, 64)
	origQty, _ := strconv.ParseFloat(order.OrigQuantity, 64)
	execQty, _ := strconv.ParseFloat(order.ExecutedQuantity, 64)

	ts := time.Now()
	if order.UpdateTime > 0 {
		ts = time.UnixMilli(order.UpdateTime)
	}

	return &ports.OrderResponse{
		OrderID:       order.OrderID,
		Symbol:        order.Symbol,
		ClientOrderID: order.ClientOrderID,
		Side:          domain.OrderSide(order.Side),
		Status:        translateOrderStatus(order.Status),
		OrigQuantity:  origQty,
		ExecutedQty:   execQty,
		AvgPrice:      avgPrice,
		Timestamp:     ts,
	}
}

func translateTicker(s *futures.PriceChangeStats) (*domain.MarketData, error) {
	parse := func(name, v string) (float64, error) {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return 0, fmt.Errorf("parsing %s '%s': %w", name, v, err)
		}
		return f, nil
	}

	last, err := parse("last price", s.LastPrice)
	if err != nil {
		return nil, err
	}
	open, err := parse("open price", s.OpenPrice)
	if err != nil {
		return nil, err
	}
	high, err := parse("high price", s.HighPrice)
	if err != nil {
		return nil, err
	}
	low, err := parse("low price", s.LowPrice)
	if err != nil {
		return nil, err
	}
	vol, err := parse("volume", s.Volume)
	if err != nil {
		return nil, err
	}

	ts := time.Now()
	if s.CloseTime > 0 {
		ts = time.UnixMilli(s.CloseTime)
	}
	return &domain.MarketData{
		Symbol:    s.Symbol,
		LastPrice: last,
		Open:      open,
		High:      high,
		Low:       low,
		Volume:    vol,
		Timestamp: ts,
	}, nil
}

func translateWsKline(event *futures.WsKlineEvent) (*domain.MarketData, error) {
	if event == nil {
		return nil, errors.New("received nil kline event")
	}
	k := event.Kline
	open, err := strconv.ParseFloat(k.Open, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing open price '%s': %w", k.Open, err)
	}
	high, err := strconv.ParseFloat(k.High, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing high price '%s': %w", k.High, err)
	}
	low, err := strconv.ParseFloat(k.Low, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing low price '%s': %w", k.Low, err)
	}
	cls, err := strconv.ParseFloat(k.Close, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing close price '%s': %w", k.Close, err)
	}
	vol, err := strconv.ParseFloat(k.Volume, 64)
	if err != nil {
		return nil, fmt.Errorf("parsing volume '%s': %w", k.Volume, err)
	}

	return &domain.MarketData{
		Symbol:    k.Symbol,
		LastPrice: cls,
		Open:      open,
		High:      high,
		Low:       low,
		Volume:    vol,
		Timestamp: time.UnixMilli(event.Time),
	}, nil
}
