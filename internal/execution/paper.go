package execution

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"tradingEngine/internal/domain"
	"tradingEngine/internal/ports"
)

// PaperPlacer fills every order in full at its reference price without contacting a venue.
type PaperPlacer struct {
	seq atomic.Int64
	now func() time.Time
}

// NewPaperPlacer creates a PaperPlacer.
func NewPaperPlacer() *PaperPlacer {
	return &PaperPlacer{now: time.Now}
}

var _ ports.OrderPlacer = (*PaperPlacer)(nil)

// PlaceOrder implements ports.OrderPlacer.
func (p *PaperPlacer) PlaceOrder(ctx context.Context, order domain.Order, clientOrderID string) (*ports.OrderResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", ports.ErrContextCanceled, err)
	}
	if order.Price <= 0 {
		return nil, fmt.Errorf("%w: order %s has no reference price", ports.ErrOrderPlacementFailed, order.ID)
	}
	return &ports.OrderResponse{
		OrderID:       p.seq.Add(1),
		Symbol:        order.Symbol,
		ClientOrderID: clientOrderID,
		Side:          order.Side,
		Status:        domain.StatusFilled,
		OrigQuantity:  order.Quantity,
		ExecutedQty:   order.Quantity,
		AvgPrice:      order.Price,
		Timestamp:     p.now().UTC(),
	}, nil
}
