package ports

import (
	"context"
	"time"

	"tradingEngine/internal/domain"
)

// MarketDataSource supplies market snapshots for the symbols the engine trades.
type MarketDataSource interface {
	// FetchLatest returns the latest snapshot for symbol.
	FetchLatest(ctx context.Context, symbol string) (*domain.MarketData, error)

	// Subscribe delivers asynchronous ticks for symbol to onTick until stop is called
	// or ctx is done. onTick runs on a goroutine owned by the source.
	Subscribe(ctx context.Context, symbol string, onTick func(domain.MarketData)) (stop func(), err error)
}

// OrderResponse represents the essential details returned after placing an order.
type OrderResponse struct {
	OrderID       int64              // Venue order ID (0 for paper fills)
	Symbol        string             // Symbol for the order
	ClientOrderID string             // Engine-assigned client order ID
	Side          domain.OrderSide   // Order side
	Status        domain.OrderStatus // Status translated to the engine's closed set
	OrigQuantity  float64            // Quantity requested
	ExecutedQty   float64            // Quantity filled
	AvgPrice      float64            // Average filled price
	Timestamp     time.Time          // Time the response was generated
}

// OrderPlacer sends a single order to a venue.
type OrderPlacer interface {
	PlaceOrder(ctx context.Context, order domain.Order, clientOrderID string) (*OrderResponse, error)
}
