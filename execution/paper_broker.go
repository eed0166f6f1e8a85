package execution

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
)

// PaperBroker fills every order immediately and keeps a record of it.
type PaperBroker struct {
	orders map[string]*Order
	seq    []string
	mu     sync.RWMutex
	logger *zap.Logger
}

func NewPaperBroker(logger *zap.Logger) *PaperBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &PaperBroker{
		orders: make(map[string]*Order),
		logger: logger,
	}
}

func (b *PaperBroker) record(account string, instrument InstrumentType, legs []LegOrder) {
	id := uuid.NewString()
	order := &Order{
		ID:             id,
		ClientOrderID:  id,
		Account:        account,
		InstrumentType: instrument,
		Legs:           append([]LegOrder(nil), legs...),
		Status:         OrderStatusFilled,
		CreatedAt:      time.Now(),
	}

	b.mu.Lock()
	b.orders[id] = order
	b.seq = append(b.seq, id)
	b.mu.Unlock()

	b.logger.Info("Paper order filled",
		zap.String("id", id),
		zap.String("instrument", string(instrument)),
		zap.Int("legs", len(legs)))
}

func (b *PaperBroker) PlaceMarketOrder(_ context.Context, account string, instrument InstrumentType, symbol string, direction Direction, quantity int64) error {
	b.record(account, instrument, []LegOrder{{Symbol: symbol, Direction: direction, Quantity: quantity}})
	return nil
}

func (b *PaperBroker) PlaceMultiLegMarketOrder(_ context.Context, account string, instrument InstrumentType, legs []LegOrder) error {
	b.record(account, instrument, legs)
	return nil
}

// GetOrder returns a recorded order, nil when unknown.
func (b *PaperBroker) GetOrder(id string) *Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.orders[id]
}

// Orders returns the recorded orders in submission order.
func (b *PaperBroker) Orders() []Order {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]Order, 0, len(b.seq))
	for _, id := range b.seq {
		out = append(out, *b.orders[id])
	}
	return out
}
