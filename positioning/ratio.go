package positioning

import (
	"context"
	"fmt"
	"time"

	"asset-trader/asset"
	"asset-trader/budget"
	"asset-trader/execution"
	"asset-trader/marketdata"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// RatioConfig parameterizes the put back-ratio structure.
type RatioConfig struct {
	Denomination        int64           `yaml:"denomination"` // spreads per trade
	TargetPremiumPerDay decimal.Decimal `yaml:"target_premium_per_day"`
	MaxDTE              int             `yaml:"max_dte"`
	StrikeCount         int             `yaml:"strike_count"`

	LongPutDelta        float64         `yaml:"long_put_delta"` // entry long put, at or above
	MinLongDelta        float64         `yaml:"min_long_delta"` // roll replacement, absolute
	MaxBuyMarginPremium decimal.Decimal `yaml:"max_buy_margin_premium"`
	LongProfitTarget    decimal.Decimal `yaml:"long_profit_target"`
	ShortProfitTarget   decimal.Decimal `yaml:"short_profit_target"`
	ShortLossLimit      decimal.Decimal `yaml:"short_loss_limit"`

	// Probe rules, run in this order.
	RollLongs     bool `yaml:"roll_longs"`
	CloseShorts   bool `yaml:"close_shorts"`
	CloseLongs    bool `yaml:"close_longs"`
	BuybackShorts bool `yaml:"buyback_shorts"`
}

func DefaultRatioConfig() RatioConfig {
	return RatioConfig{
		Denomination:        1,
		TargetPremiumPerDay: decimal.Zero,
		MaxDTE:              3,
		StrikeCount:         200,
		LongPutDelta:        -0.16,
		MinLongDelta:        0.03,
		MaxBuyMarginPremium: decimal.RequireFromString("0.15"),
		LongProfitTarget:    decimal.RequireFromString("0.5"),
		ShortProfitTarget:   decimal.RequireFromString("0.5"),
		ShortLossLimit:      decimal.RequireFromString("1.5"),
		RollLongs:           true,
		CloseShorts:         true,
		CloseLongs:          false,
		BuybackShorts:       true,
	}
}

// RatioSpread opens put back-ratios (one long put financed by two short puts, capped by
// a cheap far put) and manages the legs with close, cover and roll scans.
type RatioSpread struct {
	config RatioConfig
	exec   *execution.OptionExecutor
	logger *zap.Logger
	now    func() time.Time
}

func NewRatioSpread(config RatioConfig, exec *execution.OptionExecutor, logger *zap.Logger) *RatioSpread {
	if logger == nil {
		logger = zap.NewNop()
	}
	if config.Denomination <= 0 {
		config.Denomination = 1
	}
	return &RatioSpread{config: config, exec: exec, logger: logger, now: time.Now}
}

func (r *RatioSpread) SetClock(now func() time.Time) { r.now = now }

func (r *RatioSpread) Name() string { return "ratio" }

func (r *RatioSpread) Config() RatioConfig { return r.config }

func (r *RatioSpread) Instruments(a *asset.Asset) []Instrument {
	return []Instrument{{
		Ticker:      a.Ticker,
		Options:     true,
		MaxDTE:      r.config.MaxDTE,
		StrikeCount: r.config.StrikeCount,
	}}
}

// Availability is the budget left after cost with margin, in spreads of Denomination
// contracts. Both directions share the same count and vacancy.
func (r *RatioSpread) Availability(a *asset.Asset, _ *marketdata.Book) (Availability, error) {
	b, err := budget.Resolve(a.Budget)
	if err != nil {
		return Availability{}, err
	}
	if !b.Short.IsZero() {
		return Availability{}, fmt.Errorf("%w: %s short budget must be 0", budget.ErrInvalidBudget, a.DisplayName())
	}
	if b.Unit == budget.UnitShare {
		return Availability{}, fmt.Errorf("%w: %s budget must be in dollars", budget.ErrInvalidBudget, a.DisplayName())
	}

	margin := TotalCost(a.Legs)
	if margin.Undefined {
		r.logger.Error("Asset has undefined risk",
			zap.String("asset", a.DisplayName()),
			zap.Error(ErrUndefinedRisk))
	}
	room := margin.Headroom(b.Long)
	trades := room.Div(decimal.NewFromInt(r.config.Denomination)).IntPart()
	vacancy := ratio(room.InexactFloat64(), b.Long.InexactFloat64())

	return Availability{
		BudgetLong:     b.Long,
		BullishTrades:  trades,
		BearishTrades:  trades,
		BullishVacancy: vacancy,
		BearishVacancy: vacancy,
		Denomination:   r.config.Denomination,
	}, nil
}

func (r *RatioSpread) CostWithMargin(a *asset.Asset) Margin { return TotalCost(a.Legs) }

// CostPerUnit is the cost with margin per unit of net delta, 0 when delta is 0.
func (r *RatioSpread) CostPerUnit(a *asset.Asset, book *marketdata.Book) (decimal.Decimal, error) {
	if len(a.Legs) == 0 {
		return decimal.Zero, nil
	}
	delta, err := r.Delta(a, book)
	if err != nil || delta == 0 {
		return decimal.Zero, err
	}
	margin := TotalCost(a.Legs)
	if margin.Undefined {
		return decimal.Zero, fmt.Errorf("%w: %s", ErrUndefinedRisk, a.DisplayName())
	}
	return margin.Amount.Div(decimal.NewFromInt(delta)), nil
}

func (r *RatioSpread) Delta(a *asset.Asset, book *marketdata.Book) (int64, error) {
	if len(a.Legs) == 0 {
		return 0, nil
	}
	chain, err := book.Chain(a.Ticker)
	if err != nil {
		return 0, err
	}
	return LedgerDelta(a.Legs, chain)
}

func (r *RatioSpread) MarketValue(a *asset.Asset, book *marketdata.Book) (decimal.Decimal, decimal.Decimal, error) {
	if len(a.Legs) == 0 {
		return decimal.Zero, a.Profit, nil
	}
	chain, err := book.Chain(a.Ticker)
	if err != nil {
		return decimal.Zero, decimal.Zero, err
	}
	s := r.exec.Settings()
	return LedgerMarketValue(a, chain, s.Commission, s.NonIdeal)
}

// PlaceBearishTrade never trades: the structure only opens bullish and exits via scans.
func (r *RatioSpread) PlaceBearishTrade(context.Context, *asset.Asset, *marketdata.Book) (bool, error) {
	return false, nil
}

// PlaceBullishTrade opens Denomination back-ratios in the nearest expiration from tomorrow
// on: long put / short put, then margin put / short put.
func (r *RatioSpread) PlaceBullishTrade(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	quote, err := book.Quote(a.Ticker)
	if err != nil {
		return false, err
	}
	chain, err := book.Chain(a.Ticker)
	if err != nil {
		return false, err
	}
	av, err := r.Availability(a, book)
	if err != nil {
		return false, err
	}
	log := r.logger.With(zap.String("asset", a.DisplayName()))
	if av.BullishTrades <= 0 {
		log.Debug("Abort trade: zero bullish trades available")
		return false, nil
	}

	now := r.now()
	tomorrow := now.Add(24 * time.Hour)
	for _, leg := range a.Legs.Side(marketdata.Put) {
		if !leg.Expiration.Before(tomorrow) {
			log.Debug("Abort trade: already holding a duration position", zap.String("symbol", leg.Symbol))
			return false, nil
		}
	}
	opex, ok := chain.NearestExpiration(tomorrow)
	if !ok {
		log.Debug("Abort trade: no expiration from tomorrow on")
		return false, nil
	}
	dte := int64(opex.Sub(now).Hours() / 24)
	puts := func(pred func(*marketdata.Contract) bool) []*marketdata.Contract {
		return chain.Filter(func(c *marketdata.Contract) bool {
			return c.Type == marketdata.Put && c.Expiration.Equal(opex) && pred(c)
		})
	}

	long := byStrike(puts(func(c *marketdata.Contract) bool { return c.Delta >= r.config.LongPutDelta }), true)
	if long == nil {
		log.Debug("Abort trade: no long put within delta", zap.Float64("delta", r.config.LongPutDelta))
		return false, nil
	}

	minSell := r.exec.Settings().MinSellPremium
	target := long.Ask.Add(decimal.NewFromInt(dte).Mul(r.config.TargetPremiumPerDay)).
		Div(decimal.NewFromInt(2)).
		Add(r.config.MaxBuyMarginPremium.Mul(decimal.NewFromInt(2)))
	if target.LessThan(minSell) {
		log.Debug("Abort trade: target premium too low", zap.Stringer("target", target), zap.Int64("dte", dte))
		return false, nil
	}

	short := byStrike(puts(func(c *marketdata.Contract) bool { return c.Bid.GreaterThanOrEqual(target) }), false)
	if short == nil {
		log.Debug("Abort trade: no short put at target premium", zap.Stringer("target", target))
		return false, nil
	}
	if short.Symbol == long.Symbol {
		log.Debug("Abort trade: short put conflicts with long put", zap.String("symbol", short.Symbol))
		return false, nil
	}

	margin := byStrike(puts(func(c *marketdata.Contract) bool {
		return c.Ask.LessThanOrEqual(r.config.MaxBuyMarginPremium)
	}), true)
	if margin == nil {
		log.Debug("Abort trade: no margin put", zap.Stringer("max_ask", r.config.MaxBuyMarginPremium))
		return false, nil
	}

	if ok, err := placed(r.exec.PlaceSpread(ctx, a, av.Denomination, long, short)); !ok || err != nil {
		return false, err
	}
	if ok, err := placed(r.exec.PlaceSpread(ctx, a, av.Denomination, margin, short)); !ok || err != nil {
		return false, err
	}
	a.SetLastTradePrice(quote.Mark)

	credit := short.Bid.Mul(decimal.NewFromInt(2)).Sub(long.Ask).Sub(margin.Ask)
	log.Info("Placed bullish trade",
		zap.String("long", long.Symbol),
		zap.String("short", short.Symbol),
		zap.String("margin", margin.Symbol),
		zap.Stringer("credit", credit))
	return true, nil
}

// Probe runs the enabled maintenance scans. It reports whether any of them traded.
func (r *RatioSpread) Probe(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	if len(a.Legs) == 0 {
		return false, nil
	}
	chain, err := book.Chain(a.Ticker)
	if err != nil {
		return false, err
	}

	type rule struct {
		enabled bool
		less    Less
		adjust  Adjuster
	}
	rules := []rule{
		{r.config.RollLongs, ByQuantity, r.rollProfitableLongs(a, chain)},
		{r.config.CloseShorts, ByStrikeDesc, r.closeProfitableOrUncoveredShorts(a)},
		{r.config.CloseLongs, ByStrikeDesc, r.closeProfitableLongs(a, chain)},
		{r.config.BuybackShorts, ByQuantity, r.buybackCheapShorts(a)},
	}

	adjusted := false
	for _, rl := range rules {
		if !rl.enabled {
			continue
		}
		adjust := rl.adjust
		counting := func(ctx context.Context, l asset.Ledger, side []Row, row Row) (bool, error) {
			ok, err := adjust(ctx, l, side, row)
			adjusted = adjusted || ok
			return ok, err
		}
		if err := Scan(ctx, a, chain, rl.less, counting); err != nil {
			return adjusted, err
		}
	}
	return adjusted, nil
}

// Neutralize closes every leg whose expiration has passed. It returns true once the
// ledger is empty, which may take several calls.
func (r *RatioSpread) Neutralize(ctx context.Context, a *asset.Asset, book *marketdata.Book) (bool, error) {
	if len(a.Legs) == 0 {
		return true, nil
	}
	chain, err := book.Chain(a.Ticker)
	if err != nil {
		return false, err
	}
	now := r.now()
	err = Scan(ctx, a, chain, ByQuantity, func(ctx context.Context, _ asset.Ledger, _ []Row, row Row) (bool, error) {
		if now.Before(row.Leg.Expiration) {
			return false, nil
		}
		return placed(r.exec.PlaceSingle(ctx, a, -row.Leg.Quantity, row.Contract, ""))
	})
	if err != nil {
		return false, err
	}
	return len(a.Legs) == 0, nil
}

// byStrike picks the contract with the highest (or lowest) strike, nil when empty.
func byStrike(cs []*marketdata.Contract, highest bool) *marketdata.Contract {
	var pick *marketdata.Contract
	for _, c := range cs {
		if pick == nil ||
			(highest && c.Strike.GreaterThan(pick.Strike)) ||
			(!highest && c.Strike.LessThan(pick.Strike)) {
			pick = c
		}
	}
	return pick
}
