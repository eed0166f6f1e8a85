package execution

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
)

// Broker submits market orders. A nil error means the order was filled.
type Broker interface {
	PlaceMarketOrder(ctx context.Context, account string, instrument InstrumentType, symbol string, direction Direction, quantity int64) error
	PlaceMultiLegMarketOrder(ctx context.Context, account string, instrument InstrumentType, legs []LegOrder) error
}

// SessionBroker refuses every order while the session predicate does not hold.
type SessionBroker struct {
	inner  Broker
	open   func(time.Time) bool
	now    func() time.Time
	logger *zap.Logger
}

func NewSessionBroker(inner Broker, open func(time.Time) bool, logger *zap.Logger) *SessionBroker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SessionBroker{inner: inner, open: open, now: time.Now, logger: logger}
}

// SetClock replaces the time source used for the session check.
func (b *SessionBroker) SetClock(now func() time.Time) { b.now = now }

func (b *SessionBroker) check(what string) error {
	if t := b.now(); !b.open(t) {
		b.logger.Warn("Order refused outside market session", zap.String("order", what), zap.Time("at", t))
		return fmt.Errorf("%s at %s: %w", what, t.Format(time.RFC3339), ErrMarketClosed)
	}
	return nil
}

func (b *SessionBroker) PlaceMarketOrder(ctx context.Context, account string, instrument InstrumentType, symbol string, direction Direction, quantity int64) error {
	if err := b.check(symbol); err != nil {
		return err
	}
	return b.inner.PlaceMarketOrder(ctx, account, instrument, symbol, direction, quantity)
}

func (b *SessionBroker) PlaceMultiLegMarketOrder(ctx context.Context, account string, instrument InstrumentType, legs []LegOrder) error {
	if err := b.check(fmt.Sprintf("%d-leg order", len(legs))); err != nil {
		return err
	}
	return b.inner.PlaceMultiLegMarketOrder(ctx, account, instrument, legs)
}
