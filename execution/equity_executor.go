package execution

import (
	"context"
	"time"

	"asset-trader/asset"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// =============================================================================
// EQUITY EXECUTOR
// =============================================================================

// EquityExecutor trades the single equity position of an accumulative asset.
type EquityExecutor struct {
	executor
}

func NewEquityExecutor(broker Broker, settings Settings, logger *zap.Logger) *EquityExecutor {
	return &EquityExecutor{executor: newExecutor(broker, settings, logger)}
}

func (e *EquityExecutor) SetObserver(o OrderObserver)   { e.observer = o }
func (e *EquityExecutor) SetClock(now func() time.Time) { e.now = now }

// PlaceStock buys (qty > 0) or sells (qty < 0) shares of the asset ticker at price.
// Buys add to cost and move the acquisition time forward by the bought fraction; sells
// realize profit against the average cost. Returning to zero clears the position.
func (e *EquityExecutor) PlaceStock(ctx context.Context, a *asset.Asset, qty int64, price decimal.Decimal) (bool, error) {
	if qty == 0 {
		return false, nil
	}
	direction := DirectionBuy
	if qty < 0 {
		direction = DirectionSell
	}

	if e.settings.EnableTrades {
		if err := e.broker.PlaceMarketOrder(ctx, e.settings.Account, InstrumentEquity, a.Ticker, direction, abs(qty)); err != nil {
			return false, e.reject(a, direction, a.Ticker, err)
		}
	}

	now := e.now()
	if a.Position == nil {
		a.Position = &asset.Position{Cost: decimal.Zero}
	}
	p := a.Position
	q := decimal.NewFromInt(qty)

	realized := decimal.Zero
	if qty < 0 && p.Quantity > 0 {
		cpu := p.Cost.Div(decimal.NewFromInt(p.Quantity))
		cost := p.Cost.Add(cpu.Mul(q))
		realized = cost.Sub(p.Cost.Add(price.Mul(q)))
		p.Cost = cost
		a.Profit = a.Profit.Add(realized)
	} else {
		p.Cost = p.Cost.Add(price.Mul(q))
		if p.AcquiredAt.IsZero() || p.Quantity <= 0 {
			p.AcquiredAt = now
		} else {
			held := now.Sub(p.AcquiredAt)
			shift := time.Duration(float64(held) * float64(qty) / float64(qty+p.Quantity))
			p.AcquiredAt = p.AcquiredAt.Add(shift)
		}
	}

	p.Quantity += qty
	if p.Quantity == 0 {
		a.Position = nil
	}
	a.SetLastTradePrice(price)

	e.report(a, direction, e.settings.EnableTrades,
		zap.String("ticker", a.Ticker),
		zap.Int64("quantity", qty),
		zap.Stringer("price", price),
		zap.Stringer("profit", realized))
	return true, nil
}
