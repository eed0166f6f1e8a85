package positioning

import (
	"context"
	"fmt"
	"math"
	"time"

	"asset-trader/asset"
	"asset-trader/budget"
	"asset-trader/execution"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

const secondsPerYear = 86400 * 365.25

// AccumulativeConfig parameterizes equity accumulation.
type AccumulativeConfig struct {
	ExpectedRate         float64         `yaml:"expected_rate"` // annual growth the cost basis must beat before selling
	FollowLastTrade      bool            `yaml:"follow_last_trade"`
	FollowLastTradeAlpha decimal.Decimal `yaml:"follow_last_trade_alpha"`
}

func DefaultAccumulativeConfig() AccumulativeConfig {
	return AccumulativeConfig{
		ExpectedRate:         0,
		FollowLastTrade:      true,
		FollowLastTradeAlpha: decimal.RequireFromString("0.001"),
	}
}

// Accumulative dollar-cost averages into one equity, one share per trade, buying more
// as the price draws down from its all-time high and only selling above the compounded
// cost basis.
type Accumulative struct {
	config AccumulativeConfig
	exec   *execution.EquityExecutor
	logger *zap.Logger
	now    func() time.Time
}

func NewAccumulative(config AccumulativeConfig, exec *execution.EquityExecutor, logger *zap.Logger) *Accumulative {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Accumulative{config: config, exec: exec, logger: logger, now: time.Now}
}

func (s *Accumulative) SetClock(now func() time.Time) { s.now = now }

func (s *Accumulative) Name() string { return "accumulative" }

func (s *Accumulative) Config() AccumulativeConfig { return s.config }

func (s *Accumulative) Instruments(a *asset.Asset) []Instrument {
	return []Instrument{{Ticker: a.Ticker}}
}

// Availability counts whole shares the long budget (plus realized profit) still buys at
// the ask, and the shares held. It also raises the all-time high to the ask.
func (s *Accumulative) Availability(a *asset.Asset, book *marketdata.Book) (Availability, error) {
	b, err := budget.Resolve(a.Budget)
	if err != nil {
		return Availability{}, err
	}
	if !b.Short.IsZero() {
		return Availability{}, fmt.Errorf("%w: %s short budget must be 0", budget.ErrInvalidBudget, a.DisplayName())
	}
	if b.Unit != budget.UnitDollar {
		return Availability{}, fmt.Errorf("%w: %s budget must be in dollars", budget.ErrInvalidBudget, a.DisplayName())
	}
	quote, err := book.Quote(a.Ticker)
	if err != nil {
		return Availability{}, err
	}

	ask := quote.Ask
	if a.ATH == nil || ask.GreaterThan(*a.ATH) {
		a.ATH = &ask
	}

	long := b.Long.Add(a.Profit)
	position := a.Quantity()
	var bull float64
	if ask.IsPositive() {
		bull = long.Div(ask).InexactFloat64() - float64(position)
	}
	bull = math.Max(0, bull)
	bear := float64(position)
	total := bull + bear

	return Availability{
		BudgetLong:     long,
		BullishTrades:  int64(bull),
		BearishTrades:  int64(bear),
		BullishVacancy: ratio(bull, total),
		BearishVacancy: ratio(bear, total),
		Denomination:   1,
	}, nil
}

func (s *Accumulative) CostWithMargin(a *asset.Asset) Margin { return Defined(a.PositionCost()) }

func (s *Accumulative) CostPerUnit(a *asset.Asset, _ *marketdata.Book) (decimal.Decimal, error) {
	return costPerShare(a), nil
}

func costPerShare(a *asset.Asset) decimal.Decimal {
	if a.Quantity() == 0 {
		return decimal.Zero
	}
	return a.PositionCost().Div(decimal.NewFromInt(a.Quantity()))
}

func (s *Accumulative) Delta(a *asset.Asset, _ *marketdata.Book) (int64, error) {
	return a.Quantity(), nil
}

func (s *Accumulative) MarketValue(a *asset.Asset, book *marketdata.Book) (decimal.Decimal, decimal.Decimal, error) {
	if a.Quantity() == 0 {
		return decimal.Zero, decimal.Zero, nil
	}
	quote, err := book.Quote(a.Ticker)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	value := quote.Mark.Mul(decimal.NewFromInt(a.Quantity()))
	return value, value.Sub(a.PositionCost()), nil
}

// CompoundedCostPerUnit grows the average cost at ExpectedRate since the averaged
// acquisition time.
func (s *Accumulative) CompoundedCostPerUnit(a *asset.Asset) decimal.Decimal {
	cpu := costPerShare(a)
	if a.Position == nil || a.Position.AcquiredAt.IsZero() {
		return cpu
	}
	years := s.now().Sub(a.Position.AcquiredAt).Seconds() / secondsPerYear
	return cpu.Mul(decimal.NewFromFloat(math.Pow(1+s.config.ExpectedRate, years)))
}

func (s *Accumulative) PlaceBullishTrade(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	av, err := s.Availability(a, book)
	if err != nil {
		return false, err
	}
	if av.BullishTrades <= 0 {
		s.logger.Debug("Abort trade: no bullish trades available", zap.String("asset", a.DisplayName()))
		return false, nil
	}
	return s.placeStockOrder(ctx, a, book, av.Denomination, s.config.FollowLastTrade)
}

func (s *Accumulative) PlaceBearishTrade(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	av, err := s.Availability(a, book)
	if err != nil {
		return false, err
	}
	if av.BearishTrades <= 0 {
		s.logger.Debug("Abort trade: no bearish trades available", zap.String("asset", a.DisplayName()))
		return false, nil
	}
	return s.placeStockOrder(ctx, a, book, -min(a.Quantity(), av.Denomination), s.config.FollowLastTrade)
}

// Probe buys enough shares to bring the held fraction of the budget up to the current
// drawdown from the all-time high.
func (s *Accumulative) Probe(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	av, err := s.Availability(a, book)
	if err != nil {
		return false, err
	}
	quote, err := book.Quote(a.Ticker)
	if err != nil {
		return false, err
	}
	if a.ATH == nil || !a.ATH.IsPositive() || !quote.Ask.IsPositive() {
		return false, nil
	}

	drawdown := 1 - quote.Ask.Div(*a.ATH).InexactFloat64()
	occupancy := av.BearishVacancy
	if drawdown <= occupancy {
		return false, nil
	}
	adjustment := drawdown - occupancy
	qty := int64(adjustment * av.BudgetLong.InexactFloat64() / quote.Ask.InexactFloat64())
	qty = min(qty, av.BullishTrades)
	if qty <= 0 {
		return false, nil
	}

	s.logger.Info("Buying into drawdown",
		zap.String("asset", a.DisplayName()),
		zap.Int64("quantity", qty),
		zap.Float64("drawdown", drawdown),
		zap.Float64("occupancy", occupancy))
	return s.placeStockOrder(ctx, a, book, qty, false)
}

// Neutralize sells the whole position, still subject to the sell guards.
func (s *Accumulative) Neutralize(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	if a.Quantity() == 0 {
		return true, nil
	}
	ok, err := s.placeStockOrder(ctx, a, book, -a.Quantity(), false)
	if ok {
		s.logger.Info("Neutralized", zap.String("asset", a.DisplayName()))
	}
	return ok, err
}

// placeStockOrder applies the price guards and trades qty shares at the touch.
func (s *Accumulative) placeStockOrder(ctx context.Context, a *asset.Asset, book *marketdata.Book, qty int64, followLastTrade bool) (bool, error) {
	if qty == 0 {
		return false, nil
	}
	av, err := s.Availability(a, book)
	if err != nil {
		return false, err
	}
	quote, err := book.Quote(a.Ticker)
	if err != nil {
		return false, err
	}

	price, vacancy, sign := quote.Ask, av.BullishVacancy, decimal.NewFromInt(1)
	if qty < 0 {
		price, vacancy, sign = quote.Bid, av.BearishVacancy, decimal.NewFromInt(-1)
	}
	offset := s.config.FollowLastTradeAlpha.Mul(price).Mul(decimal.NewFromFloat(vacancy))
	log := s.logger.With(
		zap.String("asset", a.DisplayName()),
		zap.Int64("quantity", qty),
		zap.Stringer("price", price))

	if followLastTrade && a.Quantity() != 0 && a.LastTradePrice != nil {
		target := a.LastTradePrice.Sub(sign.Mul(offset))
		if sign.Mul(price).GreaterThan(sign.Mul(target)) {
			log.Debug("Abort trade: price worse than last trade", zap.Stringer("target", target))
			return false, nil
		}
	}

	if qty < 0 {
		cdca := s.CompoundedCostPerUnit(a)
		minSell := offset
		if a.ATH != nil {
			minSell = a.ATH.Mul(decimal.NewFromFloat(vacancy)).Add(offset)
		}
		if price.LessThan(cdca) || price.LessThan(minSell) {
			log.Debug("Abort trade: price below compounded cost or minimum sell",
				zap.Stringer("cdca", cdca),
				zap.Stringer("min_sell", minSell))
			return false, nil
		}
	}

	return placed(s.exec.PlaceStock(ctx, a, qty, price))
}
