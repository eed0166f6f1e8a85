package execution

import (
	"context"
	"fmt"
	"time"

	"asset-trader/asset"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

var (
	one     = decimal.NewFromInt(1)
	two     = decimal.NewFromInt(2)
	hundred = decimal.NewFromInt(100)
)

// executor holds what option and equity executors share: the broker, the per-asset
// settings and the reporting hooks.
type executor struct {
	broker   Broker
	settings Settings
	logger   *zap.Logger
	observer OrderObserver
	now      func() time.Time
}

func newExecutor(broker Broker, settings Settings, logger *zap.Logger) executor {
	if logger == nil {
		logger = zap.NewNop()
	}
	if settings.Multiplier <= 0 {
		settings.Multiplier = asset.DefaultMultiplier
	}
	return executor{broker: broker, settings: settings, logger: logger, now: time.Now}
}

func (e *executor) Settings() Settings { return e.settings }

func (e *executor) observe(a *asset.Asset, d Direction, o Outcome) {
	if e.observer != nil {
		e.observer.ObserveOrder(a.DisplayName(), d, o)
	}
}

func (e *executor) reject(a *asset.Asset, d Direction, what string, err error) error {
	e.logger.Warn("Order rejected",
		zap.String("asset", a.DisplayName()),
		zap.String("order", what),
		zap.Error(err))
	e.observe(a, d, OutcomeRejected)
	return fmt.Errorf("%w: %s: %w", ErrOrderRejected, what, err)
}

// =============================================================================
// OPTION EXECUTOR
// =============================================================================

// OptionExecutor places single-leg and two-leg option orders and keeps the leg ledger of
// the asset in step with every fill. It applies no business guards of its own.
type OptionExecutor struct {
	executor
}

func NewOptionExecutor(broker Broker, settings Settings, logger *zap.Logger) *OptionExecutor {
	return &OptionExecutor{executor: newExecutor(broker, settings, logger)}
}

func (e *OptionExecutor) SetObserver(o OrderObserver)   { e.observer = o }
func (e *OptionExecutor) SetClock(now func() time.Time) { e.now = now }

// singleDirection picks open or close from the held leg: a trade in the same direction as
// the holding (or with nothing held) opens.
func singleDirection(leg *asset.Leg, held bool, qty int64) Direction {
	if qty > 0 {
		if !held || leg.Quantity > 0 {
			return DirectionBuyToOpen
		}
		return DirectionBuyToClose
	}
	if !held || leg.Quantity < 0 {
		return DirectionSellToOpen
	}
	return DirectionSellToClose
}

// PlaceSingle buys (qty > 0) or sells (qty < 0) the contract at market. When hedgedSymbol
// names a held leg, that leg is marked as hedged by this contract. The ledger is only
// changed after the broker accepted the order, or when trading is disabled.
func (e *OptionExecutor) PlaceSingle(ctx context.Context, a *asset.Asset, qty int64, c *marketdata.Contract, hedgedSymbol string) (bool, error) {
	if qty == 0 {
		return false, nil
	}
	if c.Type != marketdata.Call && c.Type != marketdata.Put {
		e.logger.Error("Refusing order on unsupported contract", zap.String("symbol", c.Symbol))
		return false, fmt.Errorf("%w: %s", ErrUnsupportedContract, c.Symbol)
	}

	leg, held := a.Leg(c.Symbol)
	direction := singleDirection(leg, held, qty)

	premium, other := c.Ask, c.Bid
	if qty < 0 {
		premium, other = c.Bid, c.Ask
	}

	submit := e.settings.EnableTrades && (qty > 0 || premium.GreaterThanOrEqual(e.settings.MinSellPremium))
	if submit {
		err := e.broker.PlaceMarketOrder(ctx, e.settings.Account, InstrumentOption, c.Symbol, direction, abs(qty))
		if err != nil {
			return false, e.reject(a, direction, c.Symbol, err)
		}
	}

	profit := e.fill(a, c, qty, premium)
	a.Profit = a.Profit.Add(profit)

	spread := premium.Mul(one.Add(e.settings.NonIdeal)).Sub(other).Abs().Div(two)
	slip := spread.Mul(hundred).Add(e.settings.Commission).Mul(decimal.NewFromInt(abs(qty)))
	a.Slippage = a.Slippage.Add(slip)

	if hedgedSymbol != "" {
		if hedged, ok := a.Leg(hedgedSymbol); ok {
			hedged.HedgeSymbol = c.Symbol
		}
	}

	e.report(a, direction, submit, zap.String("symbol", c.Symbol),
		zap.Int64("quantity", qty),
		zap.Stringer("premium", premium),
		zap.Stringer("profit", profit))
	return true, nil
}

// PlaceSpread buys qty of the buy contract and sells qty of the sell contract as one
// multi-leg order. Both legs are ledgered, or neither is.
func (e *OptionExecutor) PlaceSpread(ctx context.Context, a *asset.Asset, qty int64, buy, sell *marketdata.Contract) (bool, error) {
	if qty <= 0 {
		return false, nil
	}
	if buy.Symbol == sell.Symbol {
		return false, fmt.Errorf("%w: both legs are %s", ErrInvalidSpread, buy.Symbol)
	}
	if buy.Type != sell.Type {
		return false, fmt.Errorf("%w: %s is %s but %s is %s", ErrInvalidSpread, buy.Symbol, buy.Type, sell.Symbol, sell.Type)
	}
	if buy.Type != marketdata.Call && buy.Type != marketdata.Put {
		e.logger.Error("Refusing spread on unsupported contracts",
			zap.String("buy", buy.Symbol), zap.String("sell", sell.Symbol))
		return false, fmt.Errorf("%w: %s/%s", ErrUnsupportedContract, buy.Symbol, sell.Symbol)
	}

	longLeg, longHeld := a.Leg(buy.Symbol)
	shortLeg, shortHeld := a.Leg(sell.Symbol)
	longDir := singleDirection(longLeg, longHeld, qty)
	shortDir := singleDirection(shortLeg, shortHeld, -qty)

	longPremium, shortPremium := buy.Ask, sell.Bid
	legs := []LegOrder{
		{Symbol: buy.Symbol, Direction: longDir, Quantity: qty},
		{Symbol: sell.Symbol, Direction: shortDir, Quantity: qty},
	}

	submit := e.settings.EnableTrades && shortPremium.GreaterThanOrEqual(e.settings.MinSellPremium)
	if submit {
		if err := e.broker.PlaceMultiLegMarketOrder(ctx, e.settings.Account, InstrumentOption, legs); err != nil {
			return false, e.reject(a, longDir, buy.Symbol+"/"+sell.Symbol, err)
		}
	}

	profit := e.fill(a, buy, qty, longPremium).Add(e.fill(a, sell, -qty, shortPremium))
	a.Profit = a.Profit.Add(profit)

	drag := one.Add(e.settings.NonIdeal)
	longSpread := longPremium.Mul(drag).Sub(buy.Bid).Abs().Div(two)
	shortSpread := shortPremium.Mul(drag).Sub(sell.Ask).Abs().Div(two)
	slip := longSpread.Add(shortSpread).Mul(hundred).
		Add(e.settings.Commission.Mul(two)).
		Mul(decimal.NewFromInt(qty))
	a.Slippage = a.Slippage.Add(slip)

	e.report(a, longDir, submit,
		zap.String("buy", buy.Symbol),
		zap.String("sell", sell.Symbol),
		zap.Int64("quantity", qty),
		zap.Stringer("debit", longPremium.Sub(shortPremium)),
		zap.Stringer("profit", profit))
	return true, nil
}

// fill applies a signed quantity at the given premium to the contract's leg and returns
// the profit realized by the closing portion, computed against the average cost of the
// held quantity. A leg reaching zero quantity is removed.
func (e *OptionExecutor) fill(a *asset.Asset, c *marketdata.Contract, qty int64, premium decimal.Decimal) decimal.Decimal {
	leg, held := a.Leg(c.Symbol)
	direction := singleDirection(leg, held, qty)
	if !held {
		leg = a.OpenLeg(c, e.settings.Multiplier, e.now())
	}

	sign := decimal.NewFromInt(1)
	if qty < 0 {
		sign = decimal.NewFromInt(-1)
	}
	mult := decimal.NewFromInt(leg.Multiplier)
	q := decimal.NewFromInt(qty)
	comm := e.settings.Commission
	priced := premium.Mul(one.Add(sign.Mul(e.settings.NonIdeal)))

	profit := decimal.Zero
	if direction.Closes() {
		closing := decimal.NewFromInt(min(abs(qty), abs(leg.Quantity)))
		perUnit := sign.Mul(leg.CostPerUnit().Sub(priced)).Sub(comm.Div(mult))
		profit = mult.Mul(closing).Mul(perUnit)
	}

	leg.Quantity += qty
	if leg.Quantity == 0 {
		a.DropLeg(c.Symbol)
		return profit
	}
	leg.LastTradePrice = &premium
	leg.Cost = leg.Cost.Add(profit).Add(q.Mul(mult.Mul(priced).Add(sign.Mul(comm))))
	return profit
}

func (e *executor) report(a *asset.Asset, d Direction, submitted bool, fields ...zap.Field) {
	fields = append([]zap.Field{
		zap.String("asset", a.DisplayName()),
		zap.String("direction", string(d)),
	}, fields...)
	if submitted {
		e.logger.Info("Order filled", fields...)
		e.observe(a, d, OutcomeFilled)
		return
	}
	e.logger.Debug("Order simulated", fields...)
	e.observe(a, d, OutcomeSimulated)
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
}
